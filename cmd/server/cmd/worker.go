package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/corkboard/server/internal/config"
	"github.com/corkboard/server/internal/metrics"
	"github.com/spf13/cobra"
)

func newWorkerCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the label scan pipeline workers without the HTTP API",
		Long: `Run River workers that claim pending label scans, extract label details
and resolve them against the catalog. Periodic jobs poll for pending scans
and release claims held by workers that died.

Runs until SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root)
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			logger := config.NewLogger(cfg.Logging)
			metrics.Init(Version, GitCommit, BuildDate)

			parent := cmd.Context()
			if parent == nil {
				parent = context.Background()
			}
			ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger, appOptions{river: true, riverWorkers: true})
			if err != nil {
				return err
			}
			defer a.Close()

			stopCollector := a.startDBCollector(ctx)
			defer stopCollector()

			stopRiver, err := a.startRiver(context.WithoutCancel(ctx))
			if err != nil {
				return err
			}
			defer stopRiver()

			logger.Info().Int("concurrency", cfg.Pipeline.Concurrency).Msg("worker running")
			<-ctx.Done()
			logger.Info().Msg("worker shutting down")
			return nil
		},
	}
}
