// Package queue provides the unbounded FIFO that feeds the worker pool.
//
// A queue carries two kinds of items: tasks, which are opaque payloads handed to
// exactly one worker, and shutdown signals, which tell the worker that pops them
// to exit. Shutdown signals are a separate item kind, so no task value can ever be
// mistaken for one.
package queue

import (
	"context"
	"fmt"
	"sync"
)

// Item is a single queue entry: either a task or a shutdown signal.
type Item[T any] struct {
	task     T
	shutdown bool
}

// Task returns the payload carried by the item. It is the zero value for
// shutdown signals.
func (i Item[T]) Task() T {
	return i.task
}

// Shutdown reports whether the item asks the consuming worker to stop.
func (i Item[T]) Shutdown() bool {
	return i.shutdown
}

// Queue is a thread-safe, unbounded FIFO with context-aware blocking pops.
type Queue[T any] struct {
	mu      sync.Mutex
	items   []Item[T]
	head    int
	pending int
	// ready holds at most one wake-up token for blocked consumers.
	ready chan struct{}
}

// New constructs an empty queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{ready: make(chan struct{}, 1)}
}

// Push appends a task to the tail of the queue.
func (q *Queue[T]) Push(task T) {
	q.push(Item[T]{task: task})
}

// PushShutdown appends n shutdown signals to the tail of the queue.
func (q *Queue[T]) PushShutdown(n int) {
	for i := 0; i < n; i++ {
		q.push(Item[T]{shutdown: true})
	}
}

func (q *Queue[T]) push(item Item[T]) {
	q.mu.Lock()
	q.items = append(q.items, item)
	if !item.shutdown {
		q.pending++
	}
	q.mu.Unlock()
	q.signal()
}

func (q *Queue[T]) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Pop removes the head item, blocking while the queue is empty. It returns an
// error only when ctx ends before an item becomes available.
func (q *Queue[T]) Pop(ctx context.Context) (Item[T], error) {
	for {
		if item, ok := q.tryPop(); ok {
			return item, nil
		}
		select {
		case <-ctx.Done():
			return Item[T]{}, fmt.Errorf("pop canceled: %w", ctx.Err())
		case <-q.ready:
		}
	}
}

func (q *Queue[T]) tryPop() (Item[T], bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.head == len(q.items) {
		return Item[T]{}, false
	}
	item := q.items[q.head]
	q.items[q.head] = Item[T]{}
	q.head++
	if !item.shutdown {
		q.pending--
	}
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	} else {
		// Pass the token on so another blocked consumer sees the remaining items.
		q.signal()
	}
	return item, true
}

// Len returns the number of queued items, shutdown signals included.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// Pending returns the number of queued tasks, shutdown signals excluded.
func (q *Queue[T]) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}

// Drain discards every queued item and returns the tasks that were still
// waiting. Use it before reusing a queue left non-empty by a canceled run.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	var tasks []T
	for _, item := range q.items[q.head:] {
		if !item.shutdown {
			tasks = append(tasks, item.task)
		}
	}
	clear(q.items)
	q.items = q.items[:0]
	q.head = 0
	q.pending = 0
	return tasks
}
