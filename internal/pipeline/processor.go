package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chainsync-io/blockindexer/internal/block"
	"github.com/chainsync-io/blockindexer/internal/metrics"
	"github.com/chainsync-io/blockindexer/internal/publisher"
)

// BlockStore persists a block. fresh reports a new write on some backend;
// stored reports the block is durable somewhere afterwards.
type BlockStore interface {
	Store(ctx context.Context, b block.Block) (fresh bool, stored bool)
}

// HeightFetcher fetches a specific block, used to resolve gap requests.
type HeightFetcher interface {
	ByHeight(ctx context.Context, height int64) (block.Block, error)
}

// PoolConfig tunes the worker pool.
type PoolConfig struct {
	Workers int

	// DequeueWait bounds how long an idle worker blocks before re-checking
	// cancellation.
	DequeueWait time.Duration
}

// Pool drains the task queue with N workers. Each worker validates, stores,
// and publishes blocks; duplicate deliveries of a height collapse into
// storage-level no-ops.
type Pool struct {
	queue    *TaskQueue
	store    BlockStore
	source   HeightFetcher
	events   publisher.Publisher
	registry *metrics.Registry
	logger   *zap.Logger
	cfg      PoolConfig
	runID    string

	wg sync.WaitGroup
}

// NewPool constructs a Pool.
func NewPool(
	queue *TaskQueue,
	store BlockStore,
	source HeightFetcher,
	events publisher.Publisher,
	registry *metrics.Registry,
	cfg PoolConfig,
	runID string,
	logger *zap.Logger,
) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.DequeueWait <= 0 {
		cfg.DequeueWait = time.Second
	}
	return &Pool{
		queue:    queue,
		store:    store,
		source:   source,
		events:   events,
		registry: registry,
		logger:   logger,
		cfg:      cfg,
		runID:    runID,
	}
}

// Start launches the workers. They run until a StopTask arrives, the queue is
// closed and drained, or ctx is cancelled with the queue empty.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Wait blocks until every worker has exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	logger := p.logger.With(zap.Int("worker", id))
	logger.Debug("worker started")

	// Cancellation is observed only between tasks, at the dequeue. A task
	// already picked up runs its fetch and store calls to completion on a
	// detached context, so an interrupt never aborts work in flight.
	taskCtx := context.WithoutCancel(ctx)

	for {
		task, err := p.queue.Dequeue(ctx, p.cfg.DequeueWait)
		if err != nil {
			if errors.Is(err, ErrEmpty) {
				continue
			}
			if errors.Is(err, ErrClosed) {
				logger.Debug("worker exiting, queue closed")
			} else {
				logger.Debug("worker exiting", zap.Error(err))
			}
			return
		}

		p.registry.IncActiveWorkers()
		stop := p.handle(taskCtx, logger, task)
		p.registry.DecActiveWorkers()
		if stop {
			logger.Debug("worker exiting, stop received")
			return
		}
	}
}

// handle dispatches one task and reports whether the worker should exit.
func (p *Pool) handle(ctx context.Context, logger *zap.Logger, task Task) bool {
	switch t := task.(type) {
	case NewRecordTask:
		p.process(ctx, logger, t.Block, false)
	case GapRequestTask:
		b, err := p.source.ByHeight(ctx, t.Height)
		if err != nil {
			p.registry.Inc(metrics.BlocksFailed)
			logger.Warn("gap fetch failed",
				zap.Int64("height", t.Height),
				zap.Error(err),
			)
			return false
		}
		p.process(ctx, logger, b, true)
	case StopTask:
		return true
	default:
		logger.Error("unknown task type dropped")
	}
	return false
}

func (p *Pool) process(ctx context.Context, logger *zap.Logger, b block.Block, fromGap bool) {
	if err := b.Validate(); err != nil {
		p.registry.Inc(metrics.BlocksFailed)
		logger.Warn("invalid block dropped",
			zap.Int64("height", b.Height),
			zap.Error(err),
		)
		return
	}

	fresh, stored := p.store.Store(ctx, b)
	if !stored {
		p.registry.Inc(metrics.BlocksFailed)
		logger.Error("block not persisted on any backend", zap.Int64("height", b.Height))
		return
	}
	if !fresh {
		logger.Debug("block already persisted", zap.Int64("height", b.Height))
		return
	}

	p.registry.Inc(metrics.BlocksProcessed)
	if fromGap {
		p.registry.Inc(metrics.GapsFixed)
	}

	if err := p.events.Publish(ctx, publisher.Event{
		RunID:     p.runID,
		Height:    b.Height,
		Hash:      b.Hash,
		Timestamp: b.Timestamp,
	}); err != nil {
		logger.Warn("publishing block event failed",
			zap.Int64("height", b.Height),
			zap.Error(err),
		)
	}

	logger.Debug("processed block",
		zap.Int64("height", b.Height),
		zap.Bool("gap_fill", fromGap),
	)
}
