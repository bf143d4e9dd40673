// Package pipeline implements the batch ingestion pipeline: gap detection,
// head collection, the worker pool draining the shared task queue, and the
// orchestrator sequencing those phases.
package pipeline

import "github.com/chainsync-io/blockindexer/internal/block"

// Task is the closed set of messages carried by the TaskQueue. Workers
// dispatch on the concrete type; there is no ordering guarantee across
// variants, and the same height may arrive via both a NewRecordTask and a
// GapRequestTask.
type Task interface {
	isTask()
}

// NewRecordTask carries a freshly collected block payload.
type NewRecordTask struct {
	Block block.Block
}

// GapRequestTask asks a worker to fetch and store a missing height.
type GapRequestTask struct {
	Height int64
}

// StopTask tells the receiving worker to exit its loop.
type StopTask struct{}

func (NewRecordTask) isTask()  {}
func (GapRequestTask) isTask() {}
func (StopTask) isTask()       {}
