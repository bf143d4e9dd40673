package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/chainsync-io/blockindexer/internal/block"
	"github.com/chainsync-io/blockindexer/internal/metrics"
)

// HeadFetcher fetches the current chain head.
type HeadFetcher interface {
	Latest(ctx context.Context) (block.Block, error)
}

// CollectorConfig tunes the live-head collection loop.
type CollectorConfig struct {
	// Target is how many distinct new heights to collect before stopping.
	Target int

	// FetchDelay is the pause between head polls. Fetch failures back off
	// at twice this delay.
	FetchDelay time.Duration

	// MaxDuplicates stops collection after this many consecutive polls
	// returned an already-seen height, which means the head has stalled.
	MaxDuplicates int
}

// Collector polls the chain head and queues each new height exactly once as a
// NewRecordTask. It runs the orchestrator's COLLECT phase to completion
// before the worker pool starts draining the queue.
type Collector struct {
	source   HeadFetcher
	queue    *TaskQueue
	registry *metrics.Registry
	logger   *zap.Logger
	cfg      CollectorConfig
}

// NewCollector constructs a Collector.
func NewCollector(
	source HeadFetcher,
	queue *TaskQueue,
	registry *metrics.Registry,
	cfg CollectorConfig,
	logger *zap.Logger,
) *Collector {
	return &Collector{
		source:   source,
		queue:    queue,
		registry: registry,
		logger:   logger,
		cfg:      cfg,
	}
}

// Run collects until the target is reached, the duplicate threshold trips, or
// ctx is cancelled. It returns the number of blocks queued; cancellation is a
// normal exit, not an error.
func (c *Collector) Run(ctx context.Context) int {
	var (
		collected  int
		lastHeight int64
		duplicates int
	)

	c.logger.Info("collecting blocks",
		zap.Int("target", c.cfg.Target),
		zap.Duration("fetch_delay", c.cfg.FetchDelay),
	)

	// Cancellation is observed between polls; a poll already in flight
	// finishes on a detached context.
	fetchCtx := context.WithoutCancel(ctx)

	for collected < c.cfg.Target {
		if ctx.Err() != nil {
			c.logger.Info("collection cancelled", zap.Int("collected", collected))
			return collected
		}

		b, err := c.source.Latest(fetchCtx)
		if err != nil {
			c.registry.Inc(metrics.BlocksFailed)
			c.logger.Warn("head fetch failed", zap.Error(err))
			if !c.sleep(ctx, 2*c.cfg.FetchDelay) {
				return collected
			}
			continue
		}
		c.registry.Inc(metrics.BlocksFetched)

		if b.Height == lastHeight {
			duplicates++
			if duplicates >= c.cfg.MaxDuplicates {
				c.logger.Warn("head stalled, stopping collection",
					zap.Int64("height", b.Height),
					zap.Int("consecutive_duplicates", duplicates),
					zap.Int("collected", collected),
				)
				return collected
			}
			if !c.sleep(ctx, c.cfg.FetchDelay) {
				return collected
			}
			continue
		}

		duplicates = 0
		lastHeight = b.Height
		if err := c.queue.Enqueue(NewRecordTask{Block: b}); err != nil {
			c.logger.Error("queueing collected block failed",
				zap.Int64("height", b.Height),
				zap.Error(err),
			)
			return collected
		}
		collected++
		c.logger.Debug("collected block",
			zap.Int64("height", b.Height),
			zap.Int("collected", collected),
		)

		if collected < c.cfg.Target && !c.sleep(ctx, c.cfg.FetchDelay) {
			return collected
		}
	}

	c.logger.Info("collection target reached", zap.Int("collected", collected))
	return collected
}

// sleep waits d or until cancellation, reporting whether the loop should
// continue.
func (c *Collector) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
