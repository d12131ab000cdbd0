// Package memory provides the in-process job queue used by the local job service.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/pagewatch/internal/tracker"
)

// ErrClosed is returned once the queue has been closed and, for Dequeue, drained.
var ErrClosed = tracker.ErrQueueClosed

// Queue is a bounded FIFO of queued jobs. Items buffered before Close can still
// be dequeued afterwards.
type Queue struct {
	items chan tracker.QueueItem
	done  chan struct{}
	// mu is read-held by senders so Close never closes items under a send.
	mu   sync.RWMutex
	once sync.Once
}

// NewQueue returns a queue holding at most capacity pending jobs.
func NewQueue(capacity int) *Queue {
	return &Queue{
		items: make(chan tracker.QueueItem, max(capacity, 0)),
		done:  make(chan struct{}),
	}
}

// Enqueue adds item, waiting for room until ctx ends or the queue closes.
func (q *Queue) Enqueue(ctx context.Context, item tracker.QueueItem) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case q.items <- item:
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	}
}

// Dequeue removes the oldest item, waiting until one arrives, ctx ends, or the
// queue is closed and empty.
func (q *Queue) Dequeue(ctx context.Context) (tracker.QueueItem, error) {
	select {
	case item, ok := <-q.items:
		if !ok {
			return tracker.QueueItem{}, ErrClosed
		}
		return item, nil
	case <-ctx.Done():
		return tracker.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	}
}

// Len reports how many items are waiting.
func (q *Queue) Len() int {
	return len(q.items)
}

// Close rejects further enqueues and wakes blocked senders. It is idempotent.
func (q *Queue) Close() {
	q.once.Do(func() {
		close(q.done)
		q.mu.Lock()
		close(q.items)
		q.mu.Unlock()
	})
}
