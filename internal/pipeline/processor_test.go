package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chainsync-io/blockindexer/internal/block"
	"github.com/chainsync-io/blockindexer/internal/metrics"
	"github.com/chainsync-io/blockindexer/internal/publisher/memory"
)

// memoryStore is a thread-safe BlockStore fake with first-write-wins
// semantics, mirroring the storage facade contract.
type memoryStore struct {
	mu       sync.Mutex
	blocks   map[int64]block.Block
	failWith error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{blocks: make(map[int64]block.Block)}
}

func (m *memoryStore) Store(_ context.Context, b block.Block) (bool, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return false, false
	}
	if _, ok := m.blocks[b.Height]; ok {
		return false, true
	}
	m.blocks[b.Height] = b
	return true, true
}

type heightSource struct {
	mu   sync.Mutex
	errs map[int64]error
}

func (h *heightSource) ByHeight(_ context.Context, height int64) (block.Block, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.errs[height]; err != nil {
		return block.Block{}, err
	}
	return block.Block{Height: height, Hash: fmt.Sprintf("h%d", height), Timestamp: "t"}, nil
}

type poolFixture struct {
	queue  *TaskQueue
	store  *memoryStore
	source *heightSource
	events *memory.Publisher
	reg    *metrics.Registry
	pool   *Pool
}

func newPoolFixture(workers int) *poolFixture {
	f := &poolFixture{
		queue:  NewTaskQueue(),
		store:  newMemoryStore(),
		source: &heightSource{errs: make(map[int64]error)},
		events: memory.New(),
		reg:    metrics.NewRegistry(),
	}
	f.pool = NewPool(
		f.queue, f.store, f.source, f.events, f.reg,
		PoolConfig{Workers: workers, DequeueWait: 10 * time.Millisecond},
		"run-test", zap.NewNop(),
	)
	return f
}

// stopAll queues one stop per worker and closes the queue, then waits.
func (f *poolFixture) stopAll(t *testing.T, workers int) {
	t.Helper()
	for i := 0; i < workers; i++ {
		require.NoError(t, f.queue.Enqueue(StopTask{}))
	}
	f.queue.Close()
	f.pool.Wait()
}

func TestPoolProcessesNewRecords(t *testing.T) {
	t.Parallel()

	f := newPoolFixture(2)
	for h := int64(1); h <= 5; h++ {
		require.NoError(t, f.queue.Enqueue(NewRecordTask{
			Block: block.Block{Height: h, Hash: "x", Timestamp: "t"},
		}))
	}

	f.pool.Start(context.Background())
	f.stopAll(t, 2)

	require.Equal(t, int64(5), f.reg.Get(metrics.BlocksProcessed))
	require.Len(t, f.store.blocks, 5)
	require.Len(t, f.events.Events(), 5)
}

func TestPoolFixesGaps(t *testing.T) {
	t.Parallel()

	f := newPoolFixture(2)
	for _, h := range []int64{12, 15, 16} {
		require.NoError(t, f.queue.Enqueue(GapRequestTask{Height: h}))
	}

	f.pool.Start(context.Background())
	f.stopAll(t, 2)

	require.Equal(t, int64(3), f.reg.Get(metrics.GapsFixed))
	require.Equal(t, int64(3), f.reg.Get(metrics.BlocksProcessed))
	require.Len(t, f.store.blocks, 3)
}

func TestPoolGapFetchFailure(t *testing.T) {
	t.Parallel()

	f := newPoolFixture(1)
	f.source.errs[7] = errors.New("unreachable")
	require.NoError(t, f.queue.Enqueue(GapRequestTask{Height: 7}))

	f.pool.Start(context.Background())
	f.stopAll(t, 1)

	require.Equal(t, int64(1), f.reg.Get(metrics.BlocksFailed))
	require.Zero(t, f.reg.Get(metrics.GapsFixed))
	require.Empty(t, f.store.blocks)
}

func TestPoolDuplicateDeliveryIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newPoolFixture(4)
	b := block.Block{Height: 99, Hash: "x", Timestamp: "t"}
	// The same height arrives via both paths, several times.
	for i := 0; i < 4; i++ {
		require.NoError(t, f.queue.Enqueue(NewRecordTask{Block: b}))
		require.NoError(t, f.queue.Enqueue(GapRequestTask{Height: 99}))
	}

	f.pool.Start(context.Background())
	f.stopAll(t, 4)

	// Exactly one write happened; the duplicates were storage no-ops and
	// were not counted as processed.
	require.Len(t, f.store.blocks, 1)
	require.Equal(t, int64(1), f.reg.Get(metrics.BlocksProcessed))
	require.Len(t, f.events.Events(), 1)
}

func TestPoolInvalidBlockDropped(t *testing.T) {
	t.Parallel()

	f := newPoolFixture(1)
	require.NoError(t, f.queue.Enqueue(NewRecordTask{
		Block: block.Block{Height: -1, Hash: "", Timestamp: ""},
	}))

	f.pool.Start(context.Background())
	f.stopAll(t, 1)

	require.Equal(t, int64(1), f.reg.Get(metrics.BlocksFailed))
	require.Empty(t, f.store.blocks)
}

func TestPoolStoreFailureCounted(t *testing.T) {
	t.Parallel()

	f := newPoolFixture(1)
	f.store.failWith = errors.New("all backends down")
	require.NoError(t, f.queue.Enqueue(NewRecordTask{
		Block: block.Block{Height: 1, Hash: "x", Timestamp: "t"},
	}))

	f.pool.Start(context.Background())
	f.stopAll(t, 1)

	require.Equal(t, int64(1), f.reg.Get(metrics.BlocksFailed))
	require.Empty(t, f.events.Events())
}

func TestPoolDrainsQueueBeforeExitOnClose(t *testing.T) {
	t.Parallel()

	f := newPoolFixture(2)
	for h := int64(1); h <= 20; h++ {
		require.NoError(t, f.queue.Enqueue(GapRequestTask{Height: h}))
	}
	f.queue.Close()

	f.pool.Start(context.Background())
	f.pool.Wait()

	require.Len(t, f.store.blocks, 20)
}

// slowSource blocks the fetch until released, failing early if the passed
// context is cancelled first.
type slowSource struct {
	started chan struct{}
	release chan struct{}
}

func (s *slowSource) ByHeight(ctx context.Context, height int64) (block.Block, error) {
	close(s.started)
	select {
	case <-ctx.Done():
		return block.Block{}, ctx.Err()
	case <-s.release:
		return block.Block{Height: height, Hash: "h", Timestamp: "t"}, nil
	}
}

func TestPoolFinishesInFlightTaskOnCancel(t *testing.T) {
	t.Parallel()

	queue := NewTaskQueue()
	store := newMemoryStore()
	src := &slowSource{started: make(chan struct{}), release: make(chan struct{})}
	events := memory.New()
	reg := metrics.NewRegistry()
	pool := NewPool(queue, store, src, events, reg,
		PoolConfig{Workers: 1, DequeueWait: 10 * time.Millisecond}, "run-test", zap.NewNop())

	require.NoError(t, queue.Enqueue(GapRequestTask{Height: 7}))

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)

	// Cancel while the gap fetch is in flight, then let it complete.
	<-src.started
	cancel()
	close(src.release)
	pool.Wait()

	require.Len(t, store.blocks, 1)
	require.Zero(t, reg.Get(metrics.BlocksFailed))
	require.Equal(t, int64(1), reg.Get(metrics.GapsFixed))
	require.Len(t, events.Events(), 1)
}

func TestPoolExitsOnCancelWhenIdle(t *testing.T) {
	t.Parallel()

	f := newPoolFixture(2)
	ctx, cancel := context.WithCancel(context.Background())
	f.pool.Start(ctx)

	cancel()
	done := make(chan struct{})
	go func() {
		f.pool.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("workers did not exit on cancellation")
	}
}
