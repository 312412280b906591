package engine

import (
	"context"
	"slices"
	"sync"
)

// mutationQueue serializes a controller's mutations in arrival order.
//
// sync.Mutex makes no ordering promise, but each mutation carries its own
// snapshot and rollback, so a second call must wait behind the first
// rather than interleave or overtake it. Waiters queue FIFO and are woken
// one at a time.
type mutationQueue struct {
	mu      sync.Mutex
	busy    bool
	waiting []chan struct{}
}

// newMutationQueue creates an idle queue.
func newMutationQueue() *mutationQueue {
	return &mutationQueue{
		waiting: make([]chan struct{}, 0, 4),
	}
}

// Acquire blocks until it is the caller's turn or ctx is done.
// A caller that gives up while waiting leaves the queue without
// having run.
func (q *mutationQueue) Acquire(ctx context.Context) error {
	q.mu.Lock()
	if !q.busy {
		q.busy = true
		q.mu.Unlock()
		return nil
	}
	ready := make(chan struct{})
	q.waiting = append(q.waiting, ready)
	q.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		q.mu.Lock()
		defer q.mu.Unlock()
		if i := slices.Index(q.waiting, ready); i >= 0 {
			q.waiting = slices.Delete(q.waiting, i, i+1)
			return ctx.Err()
		}
		// The turn was handed over while giving up; pass it on.
		q.releaseLocked()
		return ctx.Err()
	}
}

// Release hands the turn to the next waiter, or marks the queue idle.
func (q *mutationQueue) Release() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.releaseLocked()
}

func (q *mutationQueue) releaseLocked() {
	if len(q.waiting) == 0 {
		q.busy = false
		return
	}
	next := q.waiting[0]

	// Nil out the slot so the backing array does not retain the channel.
	q.waiting[0] = nil
	if len(q.waiting) == 1 {
		q.waiting = q.waiting[:0]
	} else {
		q.waiting = q.waiting[1:]
	}
	close(next)
}

// Len returns the number of waiting callers.
func (q *mutationQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiting)
}
