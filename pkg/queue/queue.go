// Package queue provides the bounded blocking queue connecting pipeline stages
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/jzx17/pagepipeline/pkg/types"
)

// NoTimeout makes Put and GetBatch wait until they can proceed or the queue closes
const NoTimeout time.Duration = -1

// BoundedQueue is a FIFO queue with a capacity limit, blocking put, batched
// blocking get and one-shot close.
//
// Waiters block on broadcast channels that are closed and replaced on every
// state change, which gives condition-variable semantics with timeouts and
// context cancellation. Once the queue is closed both channels stay closed.
type BoundedQueue[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	closed   bool

	notEmpty chan struct{} // closed when items arrive or the queue closes
	notFull  chan struct{} // closed when items leave or the queue closes

	clock types.Clock
}

// New creates a queue holding at most capacity items
func New[T any](capacity int) *BoundedQueue[T] {
	return NewWithClock[T](capacity, types.NewRealClock())
}

// NewWithClock creates a queue whose timeouts are measured with clock
func NewWithClock[T any](capacity int, clock types.Clock) *BoundedQueue[T] {
	if capacity <= 0 {
		panic("queue capacity must be positive")
	}

	return &BoundedQueue[T]{
		items:    make([]T, 0, capacity),
		capacity: capacity,
		notEmpty: make(chan struct{}),
		notFull:  make(chan struct{}),
		clock:    types.ClockOrReal(clock),
	}
}

// Put inserts item at the tail, waiting up to timeout for room.
// A zero timeout tries once; NoTimeout waits until room is available.
// It returns false if the queue was or became closed, or the timeout expired.
func (q *BoundedQueue[T]) Put(item T, timeout time.Duration) bool {
	return q.put(context.Background(), item, timeout) == nil
}

// PutContext inserts item, waiting for room until ctx is done.
// It returns types.ErrQueueClosed if the queue is closed.
func (q *BoundedQueue[T]) PutContext(ctx context.Context, item T) error {
	return q.put(ctx, item, NoTimeout)
}

// GetBatch removes up to maxItems from the head, waiting up to timeout for
// at least one item. It returns an empty slice on timeout or when the queue
// is closed and drained.
func (q *BoundedQueue[T]) GetBatch(maxItems int, timeout time.Duration) []T {
	batch, _ := q.getBatch(context.Background(), maxItems, timeout)
	return batch
}

// GetBatchContext removes up to maxItems, waiting until at least one item is
// available or ctx is done. It returns types.ErrQueueClosed once the queue is
// closed and drained.
func (q *BoundedQueue[T]) GetBatchContext(ctx context.Context, maxItems int) ([]T, error) {
	return q.getBatch(ctx, maxItems, NoTimeout)
}

// Close marks the queue closed and wakes every blocked producer and consumer.
// Buffered items can still be drained. Close is idempotent.
func (q *BoundedQueue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.notEmpty)
	close(q.notFull)
}

// Closed reports whether Close has been called
func (q *BoundedQueue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Drained reports whether the queue is closed and holds no items.
// Once true it stays true, since a closed queue refuses puts.
func (q *BoundedQueue[T]) Drained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.items) == 0
}

// Len returns the number of buffered items
func (q *BoundedQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Cap returns the queue capacity
func (q *BoundedQueue[T]) Cap() int {
	return q.capacity
}

// SpaceAvailable returns a channel that is closed on the next removal or on close.
// Callers must re-check the queue after it fires.
func (q *BoundedQueue[T]) SpaceAvailable() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.notFull
}

// ItemsAvailable returns a channel that is closed on the next insertion or on close.
// Callers must re-check the queue after it fires.
func (q *BoundedQueue[T]) ItemsAvailable() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.notEmpty
}

func (q *BoundedQueue[T]) put(ctx context.Context, item T, timeout time.Duration) error {
	var deadline <-chan time.Time

	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return types.ErrQueueClosed
		}
		if len(q.items) < q.capacity {
			q.items = append(q.items, item)
			q.broadcast(&q.notEmpty)
			q.mu.Unlock()
			return nil
		}
		if timeout == 0 {
			q.mu.Unlock()
			return types.ErrTimeout
		}
		wait := q.notFull
		q.mu.Unlock()

		if timeout > 0 && deadline == nil {
			timer := q.clock.NewTimer(timeout)
			defer timer.Stop()
			deadline = timer.C()
		}

		select {
		case <-wait:
		case <-deadline:
			return types.ErrTimeout
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (q *BoundedQueue[T]) getBatch(ctx context.Context, maxItems int, timeout time.Duration) ([]T, error) {
	if maxItems <= 0 {
		return nil, nil
	}

	var deadline <-chan time.Time

	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			n := min(maxItems, len(q.items))
			batch := make([]T, n)
			copy(batch, q.items[:n])
			clear(q.items[:n])
			q.items = q.items[n:]
			q.broadcast(&q.notFull)
			q.mu.Unlock()
			return batch, nil
		}
		if q.closed {
			q.mu.Unlock()
			return nil, types.ErrQueueClosed
		}
		if timeout == 0 {
			q.mu.Unlock()
			return nil, types.ErrTimeout
		}
		wait := q.notEmpty
		q.mu.Unlock()

		if timeout > 0 && deadline == nil {
			timer := q.clock.NewTimer(timeout)
			defer timer.Stop()
			deadline = timer.C()
		}

		select {
		case <-wait:
		case <-deadline:
			return nil, types.ErrTimeout
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// broadcast wakes every waiter on ch; the caller must hold mu
func (q *BoundedQueue[T]) broadcast(ch *chan struct{}) {
	if q.closed {
		return
	}
	close(*ch)
	*ch = make(chan struct{})
}
