// Package status holds the single human-readable status line shown by the
// presentation layer. Reads are lock-free; only the latest value is kept.
package status

import (
	"sync"
	"sync/atomic"
	"time"
)

// Kind tells the presentation layer how to style an update.
type Kind string

const (
	KindIdle    Kind = "idle"
	KindBusy    Kind = "busy"
	KindReady   Kind = "ready"
	KindSuccess Kind = "success"
	KindError   Kind = "error"
)

// Texts shared by more than one writer.
const (
	TextIdle          = "Not connected"
	TextReady         = "Ready"
	TextNoReaderFound = "No compatible reader found"
)

// Update is one status value.
type Update struct {
	Kind Kind      `json:"kind"`
	Text string    `json:"text"`
	Seq  uint64    `json:"seq"`
	At   time.Time `json:"at"`
}

// Reporter publishes status updates.
type Reporter struct {
	current atomic.Pointer[Update]
	seq     atomic.Uint64

	mu     sync.Mutex
	nextID int
	subs   map[int]chan Update
}

// New returns a Reporter whose current status is idle.
func New() *Reporter {
	r := &Reporter{subs: make(map[int]chan Update)}
	r.current.Store(&Update{Kind: KindIdle, Text: TextIdle, At: time.Now()})
	return r
}

// Set replaces the current status and notifies subscribers.
func (r *Reporter) Set(kind Kind, text string) Update {
	u := Update{Kind: kind, Text: text, Seq: r.seq.Add(1), At: time.Now()}
	r.current.Store(&u)

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ch := range r.subs {
		offer(ch, u)
	}
	return u
}

// Current returns the latest update.
func (r *Reporter) Current() Update {
	return *r.current.Load()
}

// Subscribe returns a channel that receives every update published after the
// call, starting with the current one. A subscriber that falls behind only
// sees the most recent update. The returned func unsubscribes and closes the
// channel.
func (r *Reporter) Subscribe() (<-chan Update, func()) {
	ch := make(chan Update, 1)

	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[id] = ch
	offer(ch, r.Current())
	r.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			close(ch)
			r.mu.Unlock()
		})
	}
}

// offer replaces whatever is buffered in ch with u. Callers hold r.mu, so
// there is exactly one sender per channel at a time.
func offer(ch chan Update, u Update) {
	select {
	case <-ch:
	default:
	}
	ch <- u
}
