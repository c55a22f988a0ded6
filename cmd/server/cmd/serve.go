package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/corkboard/server/internal/config"
	"github.com/corkboard/server/internal/metrics"
	"github.com/corkboard/server/internal/telemetry"
	"github.com/spf13/cobra"
)

type serveOptions struct {
	host      string
	port      int
	noWorkers bool
}

func newServeCommand(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Corkboard HTTP server",
		Long: `Start the Corkboard HTTP server and begin accepting API requests.

The server will:
- Load configuration from environment variables (and --config if provided)
- Connect to PostgreSQL, object storage and, when configured, Redis
- Start the River workers that process pending label scans
- Handle graceful shutdown on SIGINT/SIGTERM

Examples:
  # Start with default configuration (from env vars)
  server serve

  # Start on a specific host and port
  server serve --host 127.0.0.1 --port 9090

  # Serve the API only and leave processing to "server worker"
  server serve --no-workers`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), root, opts)
		},
	}
	cmd.Flags().StringVar(&opts.host, "host", "", "server host address (default: 0.0.0.0)")
	cmd.Flags().IntVar(&opts.port, "port", 0, "server port (default: 8080)")
	cmd.Flags().BoolVar(&opts.noWorkers, "no-workers", false, "do not run pipeline workers in this process")
	return cmd
}

func runServer(parent context.Context, root *rootOptions, opts *serveOptions) error {
	cfg, err := loadConfig(root)
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if opts.host != "" {
		cfg.Server.Host = opts.host
	}
	if opts.port != 0 {
		cfg.Server.Port = opts.port
	}

	logger := config.NewLogger(cfg.Logging)
	logger.Info().Str("version", Version).Msg("starting corkboard server")
	metrics.Init(Version, GitCommit, BuildDate)

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.Tracing, Version)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn().Err(err).Msg("tracing shutdown error")
		}
	}()

	a, err := newApp(ctx, cfg, logger, appOptions{objectStore: true, river: true, riverWorkers: !opts.noWorkers})
	if err != nil {
		return err
	}
	defer a.Close()

	stopCollector := a.startDBCollector(ctx)
	defer stopCollector()

	router := a.router()
	defer router.Close()

	if !opts.noWorkers {
		stopRiver, err := a.startRiver(context.WithoutCancel(ctx))
		if err != nil {
			return err
		}
		defer stopRiver()
	}

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router.Handler,
		ReadTimeout:       30 * time.Second, // uploads can be large
		WriteTimeout:      30 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
