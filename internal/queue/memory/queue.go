// Package memory provides the in-process work queue used by the crawler.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/searchcrawler/internal/crawler"
)

var (
	// ErrClosed is returned by Put after Close, and by Get once a closed queue is empty.
	ErrClosed = errors.New("queue closed")
	// ErrTooManyDone is returned when Done is called more times than Get succeeded.
	ErrTooManyDone = errors.New("done called more times than items were dequeued")
)

// Queue is an unbounded multi-producer multi-consumer queue with a drain
// barrier. Every Put increments the unfinished count and every Done
// decrements it; Join waits for the count to reach zero. All state lives
// under one mutex, so an acknowledgment can never be observed out of order.
type Queue struct {
	mu         sync.Mutex
	items      []crawler.WorkItem
	unfinished int
	closed     bool
	changed    chan struct{}
}

// NewQueue constructs an empty queue.
func NewQueue() *Queue {
	return &Queue{changed: make(chan struct{})}
}

// Put appends an item. It never blocks.
func (q *Queue) Put(item crawler.WorkItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.items = append(q.items, item)
	q.unfinished++
	q.broadcastLocked()
	return nil
}

// Get removes the next item, waiting until one is available, the context
// ends, or the queue is closed and empty.
func (q *Queue) Get(ctx context.Context) (crawler.WorkItem, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			if len(q.items) == 0 {
				q.items = nil
			}
			q.mu.Unlock()
			return item, nil
		}
		if q.closed {
			q.mu.Unlock()
			return nil, ErrClosed
		}
		wait := q.changed
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("dequeue canceled: %w", ctx.Err())
		case <-wait:
		}
	}
}

// Done acknowledges that one dequeued item has been fully processed.
func (q *Queue) Done() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.unfinished == 0 {
		return ErrTooManyDone
	}
	q.unfinished--
	if q.unfinished == 0 {
		q.broadcastLocked()
	}
	return nil
}

// Join blocks until every item ever put has been acknowledged.
func (q *Queue) Join(ctx context.Context) error {
	for {
		q.mu.Lock()
		if q.unfinished == 0 {
			q.mu.Unlock()
			return nil
		}
		wait := q.changed
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return fmt.Errorf("join canceled: %w", ctx.Err())
		case <-wait:
		}
	}
}

// Len reports how many items are waiting to be dequeued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Unfinished reports how many puts have not yet been acknowledged.
func (q *Queue) Unfinished() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.unfinished
}

// Close rejects further puts and wakes blocked getters. Items already queued
// can still be drained. Closing twice is safe.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.broadcastLocked()
}

func (q *Queue) broadcastLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}
