// Package storage defines the persistence contract shared by the indexer's
// backends and the facade that fans writes out across them.
package storage

import (
	"context"
	"errors"

	"github.com/chainsync-io/blockindexer/internal/block"
)

// ErrNotFound reports a height absent from a backend.
var ErrNotFound = errors.New("block not found")

// Stats summarizes a backend's holdings for the end-of-run report.
type Stats struct {
	Total    int64
	Earliest int64
	Latest   int64
}

// Backend is a storage destination that may independently hold a copy of a
// block. Implementations must make Store safe to repeat for the same height.
type Backend interface {
	// Name identifies the backend in logs and metrics ("postgres", "file").
	Name() string

	// Exists reports whether the height is present.
	Exists(ctx context.Context, height int64) (bool, error)

	// Store persists the block. It returns true when a new copy was
	// written and false when the height was already present; repeating a
	// store is never an error.
	Store(ctx context.Context, b block.Block) (bool, error)

	// KnownHeights returns the sorted unique heights held by the backend.
	KnownHeights(ctx context.Context) ([]int64, error)

	// Stats reports totals for the final report.
	Stats(ctx context.Context) (Stats, error)

	// Health runs a trivial reachability probe.
	Health(ctx context.Context) error

	// Close releases backend resources.
	Close()
}
