package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrEmpty reports that no task arrived within the dequeue wait.
	ErrEmpty = errors.New("queue empty")

	// ErrClosed reports that the queue was closed and fully drained.
	ErrClosed = errors.New("queue closed")
)

// TaskQueue is the unbounded queue between producers (gap detector,
// collector) and the worker pool. Enqueue never blocks; Dequeue waits a
// bounded interval so idle workers can re-check cancellation.
type TaskQueue struct {
	mu     sync.Mutex
	items  []Task
	wake   chan struct{}
	closed bool
}

// NewTaskQueue constructs an empty queue.
func NewTaskQueue() *TaskQueue {
	return &TaskQueue{wake: make(chan struct{}, 1)}
}

// Enqueue appends a task. It never blocks; enqueueing on a closed queue is
// an error.
func (q *TaskQueue) Enqueue(t Task) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return fmt.Errorf("enqueue: %w", ErrClosed)
	}
	q.items = append(q.items, t)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Dequeue pops the next task, waiting up to wait for one to arrive. A
// pending task is delivered even when ctx is already cancelled, so a worker
// drains what it has observed before exiting.
func (q *TaskQueue) Dequeue(ctx context.Context, wait time.Duration) (Task, error) {
	deadline := time.Now().Add(wait)
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			t := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return t, nil
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return nil, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("dequeue canceled: %w", err)
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrEmpty
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-q.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Len reports the number of queued tasks.
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close marks the queue as finished. Queued tasks remain dequeueable; once
// drained, Dequeue returns ErrClosed.
func (q *TaskQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}
