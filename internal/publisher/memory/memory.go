// Package memory provides an in-process publisher used in tests and local
// runs where no broker is available.
package memory

import (
	"context"
	"sync"

	"github.com/chainsync-io/blockindexer/internal/publisher"
)

// Publisher records published events in memory.
type Publisher struct {
	mu     sync.Mutex
	events []publisher.Event
	closed bool
}

// New constructs an empty in-memory publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish appends the event.
func (p *Publisher) Publish(_ context.Context, e publisher.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

// Events returns a copy of everything published so far.
func (p *Publisher) Events() []publisher.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]publisher.Event, len(p.events))
	copy(out, p.events)
	return out
}

// Close marks the publisher closed.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
