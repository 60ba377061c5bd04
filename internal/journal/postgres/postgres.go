// Package postgres stores finished payment attempts in PostgreSQL.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iliamunaev/tap-checkout/internal/journal"
)

// execer is the part of *pgxpool.Pool the journal needs.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Journal is a journal.Sink backed by a payment_attempts table.
type Journal struct {
	db execer
}

// New wraps an open pool.
func New(pool *pgxpool.Pool) *Journal {
	return &Journal{db: pool}
}

// Open connects to dsn, verifies the connection and creates the schema.
func Open(ctx context.Context, dsn string) (*Journal, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres journal: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres journal: ping: %w", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return New(pool), pool, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS payment_attempts (
  attempt_id   text PRIMARY KEY,
  outcome      text NOT NULL,
  amount_cents bigint NOT NULL,
  currency     text NOT NULL,
  intent_id    text,
  error_kind   text,
  error        text,
  steps        jsonb NOT NULL,
  started_at   timestamptz NOT NULL,
  finished_at  timestamptz NOT NULL
);`

// EnsureSchema creates the attempts table if it does not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	return ensureSchema(ctx, pool)
}

func ensureSchema(ctx context.Context, db execer) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres journal: ensure schema: %w", err)
	}
	return nil
}

const insertAttempt = `INSERT INTO payment_attempts(
  attempt_id, outcome, amount_cents, currency, intent_id, error_kind, error, steps, started_at, finished_at
) VALUES($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), $8, $9, $10)
ON CONFLICT (attempt_id) DO NOTHING`

// Record inserts a. Recording the same attempt twice is a no-op.
func (j *Journal) Record(ctx context.Context, a journal.Attempt) error {
	steps, err := json.Marshal(a.Steps)
	if err != nil {
		return fmt.Errorf("postgres journal: marshal steps: %w", err)
	}
	if a.Steps == nil {
		steps = []byte("[]")
	}

	_, err = j.db.Exec(ctx, insertAttempt,
		a.ID, a.Outcome, a.AmountCents, a.Currency, a.IntentID, a.ErrorKind, a.Error,
		steps, a.StartedAt, a.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres journal: insert %s: %w", a.ID, err)
	}
	return nil
}

var _ journal.Sink = (*Journal)(nil)
