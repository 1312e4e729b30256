// Package queue buffers experience events accepted from external sources
// until a worker applies them.
package queue

import (
	"context"
	"sync"

	"github.com/okian/beerduel/internal/domain/model"
	"github.com/okian/beerduel/pkg/metrics"
)

const defaultQueueCapacity = 10000

// Event is an experience award waiting to be applied.
type Event = model.XPEvent

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds an event. It never blocks; ErrFull or ErrClosed is
	// returned when the event was not accepted.
	Enqueue(ctx context.Context, e Event) error

	// Dequeue returns a channel that yields events until the queue is
	// closed and drained, or ctx is done.
	Dequeue(ctx context.Context) <-chan Event

	Len() int
	Capacity() int

	// Close stops accepting events. Already queued events stay readable.
	Close() error
	IsClosed() bool
}

// InMemoryQueue implements Queue on a buffered channel.
type InMemoryQueue struct {
	events   chan Event
	capacity int

	mu     sync.RWMutex
	closed bool
}

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{capacity: defaultQueueCapacity}
	for _, opt := range opts {
		opt(q)
	}
	q.events = make(chan Event, q.capacity)

	metrics.UpdateQueueCapacity(q.capacity)
	q.publishSize()
	return q
}

// Enqueue implements Queue.Enqueue.
func (q *InMemoryQueue) Enqueue(ctx context.Context, e Event) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueEnqueueError()
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		metrics.RecordQueueEnqueueError()
		return err
	}

	select {
	case q.events <- e:
		metrics.RecordQueueEnqueue()
		q.publishSize()
		return nil
	default:
		metrics.RecordQueueEnqueueError()
		metrics.RecordErrorByComponent("queue", "queue_full")
		return ErrFull
	}
}

// Dequeue implements Queue.Dequeue.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan Event {
	out := make(chan Event)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-q.events:
				if !ok {
					return
				}
				select {
				case out <- e:
					metrics.RecordQueueDequeue()
					q.publishSize()
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Drain removes and returns every event still buffered. It does not block.
func (q *InMemoryQueue) Drain() []Event {
	var out []Event
	for {
		select {
		case e, ok := <-q.events:
			if !ok {
				q.publishSize()
				return out
			}
			out = append(out, e)
		default:
			q.publishSize()
			return out
		}
	}
}

// Len returns the number of queued events.
func (q *InMemoryQueue) Len() int { return len(q.events) }

// Capacity returns the maximum number of queued events.
func (q *InMemoryQueue) Capacity() int { return q.capacity }

// Close implements Queue.Close.
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

// IsClosed implements Queue.IsClosed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}

func (q *InMemoryQueue) publishSize() {
	n := len(q.events)
	metrics.UpdateQueueSize(n)
	metrics.UpdateQueueUtilization(float64(n) / float64(q.capacity))
}
