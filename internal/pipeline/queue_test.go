package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueueFIFO(t *testing.T) {
	t.Parallel()

	q := NewTaskQueue()
	require.NoError(t, q.Enqueue(GapRequestTask{Height: 1}))
	require.NoError(t, q.Enqueue(GapRequestTask{Height: 2}))
	require.Equal(t, 2, q.Len())

	ctx := context.Background()
	first, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, GapRequestTask{Height: 1}, first)

	second, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, GapRequestTask{Height: 2}, second)
	require.Zero(t, q.Len())
}

func TestDequeueEmptyTimesOut(t *testing.T) {
	t.Parallel()

	q := NewTaskQueue()
	start := time.Now()
	_, err := q.Dequeue(context.Background(), 20*time.Millisecond)
	require.ErrorIs(t, err, ErrEmpty)
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestDequeueWakesOnEnqueue(t *testing.T) {
	t.Parallel()

	q := NewTaskQueue()
	done := make(chan Task, 1)
	go func() {
		task, err := q.Dequeue(context.Background(), 5*time.Second)
		if err == nil {
			done <- task
		}
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, q.Enqueue(StopTask{}))

	select {
	case task := <-done:
		require.Equal(t, StopTask{}, task)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not wake on enqueue")
	}
}

func TestDequeueDrainsUnderCancelledContext(t *testing.T) {
	t.Parallel()

	q := NewTaskQueue()
	require.NoError(t, q.Enqueue(GapRequestTask{Height: 9}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// A queued task is still delivered; only an empty queue surfaces the
	// cancellation.
	task, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, GapRequestTask{Height: 9}, task)

	_, err = q.Dequeue(ctx, time.Second)
	require.ErrorIs(t, err, context.Canceled)
}

func TestCloseKeepsTasksDrainable(t *testing.T) {
	t.Parallel()

	q := NewTaskQueue()
	require.NoError(t, q.Enqueue(GapRequestTask{Height: 3}))
	q.Close()

	require.ErrorIs(t, q.Enqueue(StopTask{}), ErrClosed)

	task, err := q.Dequeue(context.Background(), time.Second)
	require.NoError(t, err)
	require.Equal(t, GapRequestTask{Height: 3}, task)

	_, err = q.Dequeue(context.Background(), time.Second)
	require.ErrorIs(t, err, ErrClosed)
}
