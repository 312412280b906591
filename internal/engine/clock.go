package engine

import "sync/atomic"

// Clock is a monotonic logical clock ordering a controller's loads and
// mutations.
//
// A load stamps the generation it started at. Every local mutation and
// every commit outcome advances the clock, so a load that started earlier
// can tell its result no longer reflects the optimistic state and drop it.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next sequence number and increments the clock.
// Calls are linearizable - each call returns a unique, increasing value.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
