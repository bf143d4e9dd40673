package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chainsync-io/blockindexer/internal/api"
	"github.com/chainsync-io/blockindexer/internal/config"
	"github.com/chainsync-io/blockindexer/internal/health"
	"github.com/chainsync-io/blockindexer/internal/metrics"
	"github.com/chainsync-io/blockindexer/internal/pipeline"
	"github.com/chainsync-io/blockindexer/internal/publisher"
	memorypublisher "github.com/chainsync-io/blockindexer/internal/publisher/memory"
	pubsubpublisher "github.com/chainsync-io/blockindexer/internal/publisher/pubsub"
	"github.com/chainsync-io/blockindexer/internal/source"
	"github.com/chainsync-io/blockindexer/internal/storage"
	filestore "github.com/chainsync-io/blockindexer/internal/storage/file"
	pgstore "github.com/chainsync-io/blockindexer/internal/storage/postgres"
)

// newIndexCmd creates the 'index' subcommand, which runs one batch.
func newIndexCmd() *cobra.Command {
	var (
		batchSize int
		workers   int
		skipGaps  bool
	)

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Collect and persist one batch of blocks",
		Long: `Runs one batch: checks dependency health, backfills gaps detected in the
already-indexed range, then follows the chain head until the batch target is
reached. An interrupt stops collection and drains in-flight work within the
shutdown budget.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			if batchSize > 0 {
				cfg.Batch.Size = batchSize
			}
			if workers > 0 {
				cfg.Batch.Workers = workers
			}
			if skipGaps {
				cfg.Gaps.Enabled = false
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return runIndex(ctx, cfg, logger)
		},
	}

	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "override batch.size")
	cmd.Flags().IntVar(&workers, "workers", 0, "override batch.workers")
	cmd.Flags().BoolVar(&skipGaps, "skip-gaps", false, "skip the gap-detection phase")

	return cmd
}

func runIndex(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	runID := uuid.NewString()
	logger = logger.With(zap.String("run_id", runID))
	registry := metrics.NewRegistry()

	facade, err := buildStorage(ctx, cfg, registry, logger)
	if err != nil {
		return err
	}

	client := source.New(source.Config{
		LatestURL:        cfg.Source.LatestURL,
		BlockURLTemplate: cfg.Source.BlockURLTemplate,
		Timeout:          cfg.SourceTimeout(),
		MaxRetries:       cfg.Batch.MaxRetries,
		RetryBackoff:     cfg.Batch.RetryBackoff,
	}, registry, logger)

	events, err := buildPublisher(ctx, cfg, logger)
	if err != nil {
		facade.Close()
		return err
	}

	queue := pipeline.NewTaskQueue()
	pool := pipeline.NewPool(queue, facade, client, events, registry, pipeline.PoolConfig{
		Workers:     cfg.Batch.Workers,
		DequeueWait: cfg.DequeueWait(),
	}, runID, logger)
	collector := pipeline.NewCollector(client, queue, registry, pipeline.CollectorConfig{
		Target:        cfg.Batch.Size,
		FetchDelay:    cfg.FetchDelay(),
		MaxDuplicates: cfg.Batch.MaxDuplicates,
	}, logger)

	var detector *pipeline.GapDetector
	if cfg.Gaps.Enabled {
		detector = pipeline.NewGapDetector(facade, queue, registry, cfg.Gaps.MaxToFix, logger)
	}

	checker := health.NewChecker(healthTargets(client, facade), cfg.SourceTimeout(), logger)

	if cfg.API.Enabled {
		server := api.New(cfg.API.Port, registry, logger)
		server.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Warn("metrics listener shutdown failed", zap.Error(err))
			}
		}()
	}

	orch := pipeline.NewOrchestrator(
		checker, detector, collector, pool, queue, facade, events, registry,
		pipeline.OrchestratorConfig{
			Workers:        cfg.Batch.Workers,
			ShutdownBudget: cfg.ShutdownBudget(),
		}, runID, logger,
	)
	return orch.Run(ctx)
}

// buildStorage assembles the enabled backends behind the facade.
func buildStorage(ctx context.Context, cfg config.Config, registry *metrics.Registry, logger *zap.Logger) (*storage.Facade, error) {
	var backends []storage.Backend

	if cfg.Storage.DBEnabled {
		pg, err := pgstore.New(ctx, pgstore.Config{
			DSN:      cfg.DB.DSN,
			MaxConns: cfg.PoolSize(),
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("init postgres backend: %w", err)
		}
		backends = append(backends, pg)
	}

	if cfg.Storage.FileEnabled {
		fs, err := filestore.New(filestore.Config{
			DataDir:       cfg.Storage.DataDir,
			JSONExtension: cfg.Storage.JSONExtension,
			PrettyJSON:    cfg.Storage.PrettyJSON,
		}, logger)
		if err != nil {
			for _, b := range backends {
				b.Close()
			}
			return nil, fmt.Errorf("init file backend: %w", err)
		}
		backends = append(backends, fs)
	}

	return storage.NewFacade(backends, registry, logger)
}

// buildPublisher selects the event publisher by provider name.
func buildPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (publisher.Publisher, error) {
	switch cfg.Publisher.Provider {
	case "memory":
		return memorypublisher.New(), nil
	case "pubsub":
		p, err := pubsubpublisher.New(ctx, cfg.Publisher.ProjectID, cfg.Publisher.Topic, logger)
		if err != nil {
			return nil, fmt.Errorf("init pubsub publisher: %w", err)
		}
		return p, nil
	default:
		return publisher.NewNoop(), nil
	}
}

func healthTargets(client *source.Client, facade *storage.Facade) []health.Target {
	targets := []health.Target{{Name: "source", Probe: client.Health}}
	for _, b := range facade.Backends() {
		targets = append(targets, health.Target{Name: b.Name(), Probe: b.Health})
	}
	return targets
}
