package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	filestore "github.com/chainsync-io/blockindexer/internal/storage/file"
)

// newCleanupCmd creates the 'cleanup' subcommand, which sweeps the file
// backend for corrupted block files.
func newCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete corrupted block files so they can be re-indexed",
		Long: `Verifies every file in the block data directory and deletes files whose
payload does not parse or whose embedded height disagrees with the filename.
Deleted heights reappear as gaps on the next index run and are re-fetched.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			if !cfg.Storage.FileEnabled {
				return fmt.Errorf("cleanup requires the file backend (storage.file_enabled)")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			fs, err := filestore.New(filestore.Config{
				DataDir:       cfg.Storage.DataDir,
				JSONExtension: cfg.Storage.JSONExtension,
				PrettyJSON:    cfg.Storage.PrettyJSON,
			}, logger)
			if err != nil {
				return fmt.Errorf("init file backend: %w", err)
			}
			defer fs.Close()

			deleted, err := fs.Cleanup(ctx)
			if err != nil {
				return fmt.Errorf("cleanup sweep: %w", err)
			}
			logger.Info("cleanup finished",
				zap.String("data_dir", cfg.Storage.DataDir),
				zap.Int("deleted", deleted),
			)
			return nil
		},
	}
}
