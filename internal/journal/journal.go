// Package journal records finished payment attempts. Sinks are an outer
// layer: a failing sink is logged by the caller and never changes the
// outcome of an attempt.
package journal

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/iliamunaev/tap-checkout/internal/model"
)

// Attempt is one finished payment attempt.
type Attempt struct {
	ID          string             `json:"id"`
	Outcome     string             `json:"outcome"`
	AmountCents int64              `json:"amount_cents"`
	Currency    string             `json:"currency"`
	IntentID    string             `json:"intent_id,omitempty"`
	ErrorKind   string             `json:"error_kind,omitempty"`
	Error       string             `json:"error,omitempty"`
	Steps       []model.StepResult `json:"steps,omitempty"`
	StartedAt   time.Time          `json:"started_at"`
	FinishedAt  time.Time          `json:"finished_at"`
}

// Sink stores or forwards attempts.
type Sink interface {
	Record(ctx context.Context, a Attempt) error
}

// Multi fans an attempt out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Record(ctx context.Context, a Attempt) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Memory keeps the most recent attempts in process.
type Memory struct {
	mu       sync.RWMutex
	limit    int
	attempts []Attempt
}

// NewMemory returns a Memory that keeps at most limit attempts. A
// non-positive limit keeps everything.
func NewMemory(limit int) *Memory {
	return &Memory{limit: limit}
}

func (m *Memory) Record(_ context.Context, a Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, a)
	if m.limit > 0 && len(m.attempts) > m.limit {
		m.attempts = append([]Attempt(nil), m.attempts[len(m.attempts)-m.limit:]...)
	}
	return nil
}

// Attempts returns a copy of the stored attempts, oldest first.
func (m *Memory) Attempts() []Attempt {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Attempt(nil), m.attempts...)
}

// Get returns the attempt with the given id.
func (m *Memory) Get(id string) (Attempt, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.attempts) - 1; i >= 0; i-- {
		if m.attempts[i].ID == id {
			return m.attempts[i], true
		}
	}
	return Attempt{}, false
}

var (
	_ Sink = Multi(nil)
	_ Sink = (*Memory)(nil)
)
