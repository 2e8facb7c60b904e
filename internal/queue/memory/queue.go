// Package memory provides the bounded in-process work queue that connects the
// navigator to the worker pool.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/cne-results-crawler/internal/crawler"
	"github.com/JakeFAU/cne-results-crawler/internal/metrics"
)

// Queue is a bounded FIFO with context-aware operations. Every enqueued item
// stays pending until a consumer calls Done, and Join waits for the pending
// count to reach zero.
type Queue struct {
	ch chan crawler.WorkItem

	mu      sync.Mutex
	pending int
	idle    chan struct{}
	closed  bool
	done    chan struct{}
}

var _ crawler.Queue = (*Queue)(nil)

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	idle := make(chan struct{})
	close(idle)
	return &Queue{
		ch:   make(chan crawler.WorkItem, capacity),
		idle: idle,
		done: make(chan struct{}),
	}
}

// Enqueue blocks until the item fits, the context ends, or the queue closes.
func (q *Queue) Enqueue(ctx context.Context, item crawler.WorkItem) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return crawler.ErrQueueClosed
	}
	if q.pending == 0 {
		q.idle = make(chan struct{})
	}
	q.pending++
	q.mu.Unlock()

	select {
	case q.ch <- item:
		metrics.SetQueueDepth(len(q.ch))
		return nil
	case <-ctx.Done():
		q.release()
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-q.done:
		q.release()
		return crawler.ErrQueueClosed
	}
}

// Dequeue pops the next item, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (crawler.WorkItem, error) {
	select {
	case <-ctx.Done():
		return crawler.WorkItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item := <-q.ch:
		metrics.SetQueueDepth(len(q.ch))
		return item, nil
	case <-q.done:
		return crawler.WorkItem{}, crawler.ErrQueueClosed
	}
}

// Done marks one dequeued item as finished.
func (q *Queue) Done() {
	q.release()
}

// Join blocks until every enqueued item has been marked Done.
func (q *Queue) Join(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("join canceled: %w", ctx.Err())
	}
}

// Len reports the number of items waiting to be dequeued.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Pending reports items enqueued but not yet marked Done.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}

// Close wakes every blocked caller with ErrQueueClosed. Items still buffered
// are abandoned.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

func (q *Queue) release() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending == 0 {
		return
	}
	q.pending--
	if q.pending == 0 {
		close(q.idle)
	}
}
