package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/corkboard/server/internal/config"
	"github.com/spf13/cobra"
)

func newProcessCommand(root *rootOptions) *cobra.Command {
	var batchSize int
	var recoverStale bool

	cmd := &cobra.Command{
		Use:   "process",
		Short: "Process one batch of pending label scans and exit",
		Long: `Claim up to --batch-size pending scans, process them and print the batch
result as JSON. Useful for cron-style deployments and for draining the queue
by hand.

Examples:
  server process
  server process --batch-size 50
  server process --recover-stale`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root)
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			if batchSize <= 0 {
				batchSize = cfg.Pipeline.BatchSize
			}
			logger := config.NewLogger(cfg.Logging)
			ctx := cmd.Context()

			a, err := newApp(ctx, cfg, logger, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			if recoverStale {
				released, err := a.processor.RecoverStale(ctx, cfg.Pipeline.StaleClaimAfter, batchSize)
				if err != nil {
					return fmt.Errorf("recover stale claims: %w", err)
				}
				logger.Info().Int("released", released).Msg("stale claims released")
			}

			result, err := a.processor.RunOnce(ctx, batchSize)
			if err != nil {
				return fmt.Errorf("process batch: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "maximum scans to claim (default: PIPELINE_BATCH_SIZE)")
	cmd.Flags().BoolVar(&recoverStale, "recover-stale", false, "release stale claims before processing")
	return cmd
}
