package cmd

import (
	"fmt"
	"os"

	"github.com/corkboard/server/internal/config"
	"github.com/spf13/cobra"
)

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	serve := newServeCommand(opts)
	root := &cobra.Command{
		Use:   "server",
		Short: "Corkboard server - wine label scanning and similarity backend",
		Long: `Corkboard server accepts wine label photos, extracts producer, wine and
vintage details with a vision model, resolves them against the wine catalog
and recommends visually similar wines from a user's tasting history.

The server supports:
- Label scan submission and status lookup
- Background extraction with bounded retries
- Catalog entity resolution for producers, wines and vintages
- Similar wine recommendations backed by pgvector
- Tasting import and account erasure`,
		SilenceUsage: true,
		// Run serve when no subcommand is given.
		RunE: serve.RunE,
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "YAML config file overlaid on environment variables")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error) (default: info)")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "log format (json, console) (default: json)")

	root.AddCommand(
		serve,
		newWorkerCommand(opts),
		newProcessCommand(opts),
		newMigrateCommand(opts),
		newEraseUserCommand(opts),
		newHealthcheckCommand(),
		newVersionCommand(),
	)
	return root
}

// Execute runs the root command. It is called by main.main.
func Execute() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the environment, overlays the --config file and applies
// the logging flags.
func loadConfig(opts *rootOptions) (config.Config, error) {
	cfg, err := config.LoadFile(opts.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if opts.logFormat != "" {
		cfg.Logging.Format = opts.logFormat
	}
	return cfg, nil
}
