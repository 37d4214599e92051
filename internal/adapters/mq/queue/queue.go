// Package queue buffers committed mutation events between the trigger call
// site and the recompute workers.
package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/okian/expertrank/internal/domain/model"
	"github.com/okian/expertrank/pkg/metrics"
)

const defaultQueueCapacity = 10000

// Queue provides non-blocking enqueue and blocking dequeue.
type Queue interface {
	// Enqueue adds ev without waiting. It returns ErrFull or ErrClosed when
	// the event cannot be accepted.
	Enqueue(ctx context.Context, ev model.MutationEvent) error
	// Next blocks until an event is available. ok is false once the queue is
	// closed and drained or ctx is done.
	Next(ctx context.Context) (ev model.MutationEvent, ok bool)
	// Len returns the number of pending events.
	Len() int
	// Close stops intake. Pending events can still be drained.
	Close() error
	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	events   chan model.MutationEvent
	capacity int

	mu     sync.RWMutex
	closed bool
}

// NewInMemoryQueue creates a bounded in-memory queue.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{capacity: defaultQueueCapacity}
	for _, opt := range opts {
		opt(q)
	}
	q.events = make(chan model.MutationEvent, q.capacity)

	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueSize(0)
	metrics.UpdateQueueUtilization(0)
	return q
}

// Enqueue adds an event to the queue.
func (q *InMemoryQueue) Enqueue(ctx context.Context, ev model.MutationEvent) error { //nolint:gocritic // hugeParam: events travel by value through the channel
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueEnqueueError("closed")
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		metrics.RecordQueueEnqueueError("context_cancelled")
		return fmt.Errorf("enqueue %s: %w", ev.ID, err)
	}

	select {
	case q.events <- ev:
		metrics.RecordQueueEnqueue()
		q.observe()
		return nil
	default:
		metrics.RecordQueueEnqueueError("queue_full")
		return ErrFull
	}
}

// Next returns the next pending event.
func (q *InMemoryQueue) Next(ctx context.Context) (model.MutationEvent, bool) {
	select {
	case ev, ok := <-q.events:
		if !ok {
			return model.MutationEvent{}, false
		}
		metrics.RecordQueueDequeue()
		q.observe()
		return ev, true
	case <-ctx.Done():
		return model.MutationEvent{}, false
	}
}

// Len returns the current number of queued events.
func (q *InMemoryQueue) Len() int {
	return len(q.events)
}

// Close stops intake and lets consumers drain what is left.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	close(q.events)
	q.closed = true
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}

func (q *InMemoryQueue) observe() {
	size := len(q.events)
	metrics.UpdateQueueSize(size)
	metrics.UpdateQueueUtilization(float64(size) / float64(q.capacity))
}
