package storage

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/chainsync-io/blockindexer/internal/block"
	"github.com/chainsync-io/blockindexer/internal/metrics"
)

// Facade fans block writes out to every enabled backend and answers
// existence/union queries across them. Partial backend failure is logged and
// counted, never escalated: a store succeeds when any backend holds the block.
type Facade struct {
	backends []Backend
	registry *metrics.Registry
	logger   *zap.Logger
}

// NewFacade constructs a Facade over the enabled backends.
func NewFacade(backends []Backend, registry *metrics.Registry, logger *zap.Logger) (*Facade, error) {
	if len(backends) == 0 {
		return nil, fmt.Errorf("at least one storage backend is required")
	}
	return &Facade{
		backends: backends,
		registry: registry,
		logger:   logger,
	}, nil
}

// Backends exposes the underlying backends, primarily for health checks and
// the final report.
func (f *Facade) Backends() []Backend {
	return f.backends
}

// Exists reports whether any enabled backend holds the height.
func (f *Facade) Exists(ctx context.Context, height int64) (bool, error) {
	var lastErr error
	for _, b := range f.backends {
		ok, err := b.Exists(ctx, height)
		if err != nil {
			lastErr = err
			f.logger.Warn("existence check failed",
				zap.String("backend", b.Name()),
				zap.Int64("height", height),
				zap.Error(err),
			)
			continue
		}
		if ok {
			return true, nil
		}
	}
	return false, lastErr
}

// Store attempts the write on every enabled backend independently.
// It returns stored=true when at least one backend holds the block afterwards
// and fresh=true when at least one backend performed a new write. A height
// already present everywhere yields (false, true): a safe no-op.
func (f *Facade) Store(ctx context.Context, b block.Block) (fresh bool, stored bool) {
	for _, backend := range f.backends {
		wrote, err := backend.Store(ctx, b)
		if err != nil {
			f.registry.Inc(failCounter(backend.Name()))
			f.logger.Error("backend store failed",
				zap.String("backend", backend.Name()),
				zap.Int64("height", b.Height),
				zap.Error(err),
			)
			continue
		}
		stored = true
		if wrote {
			fresh = true
			f.registry.Inc(writeCounter(backend.Name()))
		} else {
			f.logger.Debug("block already present",
				zap.String("backend", backend.Name()),
				zap.Int64("height", b.Height),
			)
		}
	}
	return fresh, stored
}

// KnownHeights returns the sorted deduplicated union of heights across all
// enabled backends. A failing backend contributes nothing; the union of the
// rest is still returned so gap detection can proceed.
func (f *Facade) KnownHeights(ctx context.Context) ([]int64, error) {
	seen := make(map[int64]struct{})
	var lastErr error
	for _, b := range f.backends {
		heights, err := b.KnownHeights(ctx)
		if err != nil {
			lastErr = err
			f.logger.Warn("listing heights failed",
				zap.String("backend", b.Name()),
				zap.Error(err),
			)
			continue
		}
		for _, h := range heights {
			seen[h] = struct{}{}
		}
	}
	if len(seen) == 0 && lastErr != nil {
		return nil, fmt.Errorf("list known heights: %w", lastErr)
	}
	out := make([]int64, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// Close releases every backend.
func (f *Facade) Close() {
	for _, b := range f.backends {
		b.Close()
	}
}

func writeCounter(backend string) string {
	if backend == "postgres" {
		return metrics.DBWrites
	}
	return metrics.FileWrites
}

func failCounter(backend string) string {
	if backend == "postgres" {
		return metrics.DBFailures
	}
	return metrics.FileFailures
}
