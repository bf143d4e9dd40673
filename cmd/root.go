// Package cmd defines the CLI commands for the blockindexer executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chainsync-io/blockindexer/internal/config"
	"github.com/chainsync-io/blockindexer/internal/logging"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blockindexer",
		Short: "Batch indexer for chain blocks",
		Long: `blockindexer collects blocks from a chain REST API in bounded batches,
backfills gaps in previously indexed ranges, and persists every block to
Postgres and/or per-height JSON files.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (environment variables with the INDEXER_ prefix override it)")

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newCleanupCmd())

	return cmd
}

// bootstrap loads configuration and builds the logger shared by all commands.
func bootstrap() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load configuration: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
