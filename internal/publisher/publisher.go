// Package publisher emits block-stored events to downstream consumers.
package publisher

import "context"

// Event describes a block newly persisted by this run.
type Event struct {
	RunID     string `json:"run_id"`
	Height    int64  `json:"height"`
	Hash      string `json:"hash"`
	Timestamp string `json:"timestamp"`
}

// Publisher delivers block-stored events. Implementations must be safe for
// concurrent use by the worker pool.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Noop discards every event. It is the default provider.
type Noop struct{}

// NewNoop constructs a Noop publisher.
func NewNoop() Noop { return Noop{} }

// Publish discards the event.
func (Noop) Publish(context.Context, Event) error { return nil }

// Close is a no-op.
func (Noop) Close() error { return nil }
