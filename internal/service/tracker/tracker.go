// Package tracker exposes what the session is doing right now to lock-free
// readers.
package tracker

import (
	"sync"
	"sync/atomic"
)

// Tracker counts running payment steps and remembers the current one.
// Enter and Leave nest: Leave restores the step that was current before the
// matching Enter.
type Tracker struct {
	running atomic.Int64
	step    atomic.Pointer[string]

	mu    sync.Mutex
	stack []string
}

// Enter marks step as running.
func (t *Tracker) Enter(step string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stack = append(t.stack, step)
	t.step.Store(&step)
	t.running.Add(1)
}

// Leave marks the current step as finished.
func (t *Tracker) Leave() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n := len(t.stack); n > 0 {
		t.stack = t.stack[:n-1]
	}
	if n := len(t.stack); n > 0 {
		prev := t.stack[n-1]
		t.step.Store(&prev)
	} else {
		t.step.Store(nil)
	}
	t.running.Add(-1)
}

// Running returns the current running count.
func (t *Tracker) Running() int64 { return t.running.Load() }

// Step returns the name of the running step, or "" when idle.
func (t *Tracker) Step() string {
	if s := t.step.Load(); s != nil {
		return *s
	}
	return ""
}
