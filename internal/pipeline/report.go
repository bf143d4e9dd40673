package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/chainsync-io/blockindexer/internal/metrics"
)

// report logs the end-of-run summary: counters, derived rates, and per-backend
// storage stats. It uses a fresh context so a cancelled run still reports.
func (o *Orchestrator) report(collected int) {
	snap := o.registry.Snapshot()
	elapsed := o.registry.Elapsed()

	o.logger.Info("batch run summary",
		zap.String("run_id", o.runID),
		zap.Duration("elapsed", elapsed.Round(time.Millisecond)),
		zap.Int("collected", collected),
		zap.Int64("blocks_fetched", snap[metrics.BlocksFetched]),
		zap.Int64("blocks_processed", snap[metrics.BlocksProcessed]),
		zap.Int64("blocks_failed", snap[metrics.BlocksFailed]),
		zap.Int64("gaps_detected", snap[metrics.GapsDetected]),
		zap.Int64("gaps_fixed", snap[metrics.GapsFixed]),
		zap.Int64("api_requests", snap[metrics.APIRequests]),
		zap.Int64("api_failures", snap[metrics.APIFailures]),
		zap.Int64("db_writes", snap[metrics.DBWrites]),
		zap.Int64("db_failures", snap[metrics.DBFailures]),
		zap.Int64("file_writes", snap[metrics.FileWrites]),
		zap.Int64("file_failures", snap[metrics.FileFailures]),
		zap.Float64("api_success_pct", o.registry.SuccessRate(metrics.APIRequests, metrics.APIFailures)),
		zap.Float64("blocks_per_second", o.registry.BlocksPerSecond()),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, backend := range o.store.Backends() {
		stats, err := backend.Stats(ctx)
		if err != nil {
			o.logger.Warn("backend stats unavailable",
				zap.String("backend", backend.Name()),
				zap.Error(err),
			)
			continue
		}
		o.logger.Info("backend stats",
			zap.String("backend", backend.Name()),
			zap.Int64("total_blocks", stats.Total),
			zap.Int64("earliest", stats.Earliest),
			zap.Int64("latest", stats.Latest),
		)
	}
}
