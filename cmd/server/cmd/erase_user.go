package cmd

import (
	"errors"
	"fmt"

	"github.com/corkboard/server/internal/config"
	"github.com/corkboard/server/internal/domain/ids"
	"github.com/corkboard/server/internal/domain/users"
	"github.com/spf13/cobra"
)

func newEraseUserCommand(root *rootOptions) *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "erase-user",
		Short: "Delete every record and stored photo belonging to a user",
		Long: `Erase a user's queue jobs, tastings, scans, preferences and label photos.
The erasure is written to the audit log with actor "cli".

Example:
  server erase-user --user-id 6f1c3b4e-8d2a-4f5b-9c1d-2e3f4a5b6c7d`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ids.ValidateUUID(userID); err != nil {
				return fmt.Errorf("--user-id: %w", err)
			}
			cfg, err := loadConfig(root)
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			logger := config.NewLogger(cfg.Logging)
			ctx := cmd.Context()

			a, err := newApp(ctx, cfg, logger, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()
			a.connectObjectStore(ctx)

			counts, err := a.erasure().EraseUser(ctx, userID, "cli", "")
			if errors.Is(err, users.ErrUserNotFound) {
				fmt.Fprintf(cmd.OutOrStdout(), "no data stored for user %s\n", userID)
				return nil
			}
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "erased user %s\n", userID)
			fmt.Fprintf(out, "  queue jobs:  %d\n", counts.QueueJobs)
			fmt.Fprintf(out, "  tastings:    %d\n", counts.Tastings)
			fmt.Fprintf(out, "  scans:       %d\n", counts.Scans)
			fmt.Fprintf(out, "  preferences: %d\n", counts.Preferences)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "id of the user to erase (required)")
	_ = cmd.MarkFlagRequired("user-id")
	return cmd
}
