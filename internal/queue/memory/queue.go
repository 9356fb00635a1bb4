// Package memory provides the bounded in-process run queue.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/site-cloner/internal/cloner"
)

// ErrClosed is returned by Dequeue once the queue is closed and drained, and
// by Enqueue after Close.
var ErrClosed = errors.New("queue closed")

// ErrFull is returned by TryEnqueue when no slot is free.
var ErrFull = errors.New("queue full")

// Queue is a bounded FIFO of runs awaiting a worker.
type Queue struct {
	ch      chan cloner.QueueItem
	closeMu sync.RWMutex
	closed  bool
}

// NewQueue constructs a queue holding at most capacity pending items.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{ch: make(chan cloner.QueueItem, capacity)}
}

// Enqueue blocks until a slot is free or ctx ends.
func (q *Queue) Enqueue(ctx context.Context, item cloner.QueueItem) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- item:
		return nil
	}
}

// TryEnqueue adds item without waiting.
func (q *Queue) TryEnqueue(item cloner.QueueItem) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.ch <- item:
		return nil
	default:
		return ErrFull
	}
}

// Dequeue pops the next item, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (cloner.QueueItem, error) {
	select {
	case <-ctx.Done():
		return cloner.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item, ok := <-q.ch:
		if !ok {
			return cloner.QueueItem{}, ErrClosed
		}
		return item, nil
	}
}

// Len reports the number of pending items.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops intake. Items already queued can still be dequeued.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
