// Package pool provides the bounded slot pool that guards payment attempts.
package pool

import "golang.org/x/sync/semaphore"

// Pool limits concurrent payment attempts.
type Pool struct {
	sem *semaphore.Weighted
}

// New creates a pool with at least one slot
// and at most 128 slots.
// The checkout session uses a single slot: one payment in flight.
func New(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	if size > 128 {
		size = 128
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size))}
}

// TryAcquire reserves one slot without blocking.
// It reports false when every slot is taken; callers reject instead of queueing.
func (p *Pool) TryAcquire() bool {
	return p.sem.TryAcquire(1)
}

// Release frees a previously acquired slot.
func (p *Pool) Release() {
	p.sem.Release(1)
}
