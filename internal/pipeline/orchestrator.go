package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/chainsync-io/blockindexer/internal/health"
	"github.com/chainsync-io/blockindexer/internal/metrics"
	"github.com/chainsync-io/blockindexer/internal/publisher"
	"github.com/chainsync-io/blockindexer/internal/storage"
)

// OrchestratorConfig tunes phase sequencing.
type OrchestratorConfig struct {
	Workers int

	// ShutdownBudget bounds how long the orchestrator waits for the worker
	// pool to drain after collection ends. An overrun abandons the join
	// and proceeds to the report.
	ShutdownBudget time.Duration
}

// Orchestrator sequences one batch run: health checks, gap detection,
// head collection, queue processing, the final report, and teardown.
type Orchestrator struct {
	checker   *health.Checker
	detector  *GapDetector
	collector *Collector
	pool      *Pool
	queue     *TaskQueue
	store     *storage.Facade
	events    publisher.Publisher
	registry  *metrics.Registry
	logger    *zap.Logger
	cfg       OrchestratorConfig
	runID     string
}

// NewOrchestrator wires the phases together. detector may be nil when gap
// detection is disabled.
func NewOrchestrator(
	checker *health.Checker,
	detector *GapDetector,
	collector *Collector,
	pool *Pool,
	queue *TaskQueue,
	store *storage.Facade,
	events publisher.Publisher,
	registry *metrics.Registry,
	cfg OrchestratorConfig,
	runID string,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		checker:   checker,
		detector:  detector,
		collector: collector,
		pool:      pool,
		queue:     queue,
		store:     store,
		events:    events,
		registry:  registry,
		logger:    logger,
		cfg:       cfg,
		runID:     runID,
	}
}

// Run executes one batch end to end. Only a failed health check is fatal;
// everything after that point degrades and still reaches the report and
// teardown phases.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("starting batch run",
		zap.String("run_id", o.runID),
		zap.Int("workers", o.cfg.Workers),
	)
	defer o.teardown()

	if err := o.checker.Run(ctx); err != nil {
		return fmt.Errorf("aborting run: %w", err)
	}

	if o.detector != nil {
		if _, err := o.detector.Run(ctx); err != nil {
			// Gaps are re-detected next run from the same persisted
			// heights, so a failed scan only delays the backfill.
			o.logger.Warn("gap detection failed, continuing without backfill", zap.Error(err))
		}
	} else {
		o.logger.Info("gap detection disabled")
	}

	// COLLECT runs to completion before PROCESS: the queue is unbounded,
	// so the collector fills it first and the pool drains it afterwards.
	collected := o.collector.Run(ctx)
	o.pool.Start(ctx)

	// Let each worker drain the queue and then exit: one stop per worker,
	// then no further enqueues.
	for i := 0; i < o.cfg.Workers; i++ {
		if err := o.queue.Enqueue(StopTask{}); err != nil {
			break
		}
	}
	o.queue.Close()

	if !o.join() {
		o.logger.Warn("worker pool did not drain within shutdown budget",
			zap.Duration("budget", o.cfg.ShutdownBudget),
			zap.Int("tasks_left", o.queue.Len()),
		)
	}

	o.report(collected)
	return nil
}

// join waits for the pool within the shutdown budget, reporting whether the
// drain completed.
func (o *Orchestrator) join() bool {
	done := make(chan struct{})
	go func() {
		o.pool.Wait()
		close(done)
	}()

	budget := o.cfg.ShutdownBudget
	if budget <= 0 {
		<-done
		return true
	}
	select {
	case <-done:
		return true
	case <-time.After(budget):
		return false
	}
}

func (o *Orchestrator) teardown() {
	if err := o.events.Close(); err != nil {
		o.logger.Warn("closing publisher failed", zap.Error(err))
	}
	o.store.Close()
	o.logger.Info("run finished", zap.String("run_id", o.runID))
}
