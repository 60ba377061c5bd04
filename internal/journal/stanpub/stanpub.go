// Package stanpub publishes finished payment attempts to NATS Streaming.
package stanpub

import (
	"context"
	"encoding/json"
	"fmt"

	stan "github.com/nats-io/stan.go"

	"github.com/iliamunaev/tap-checkout/internal/journal"
)

// DefaultSubject is used when no subject is configured.
const DefaultSubject = "payment.attempts"

// publisher is the part of stan.Conn the sink needs.
type publisher interface {
	Publish(subject string, data []byte) error
}

// Publisher is a journal.Sink that publishes each attempt as JSON.
type Publisher struct {
	conn    publisher
	subject string
}

// New wraps an open streaming connection.
func New(conn stan.Conn, subject string) *Publisher {
	return newPublisher(conn, subject)
}

func newPublisher(conn publisher, subject string) *Publisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Publisher{conn: conn, subject: subject}
}

// Connect opens a streaming connection and returns a Publisher on it. The
// caller closes the returned connection.
func Connect(clusterID, clientID, natsURL, subject string) (*Publisher, stan.Conn, error) {
	sc, err := stan.Connect(clusterID, clientID, stan.NatsURL(natsURL))
	if err != nil {
		return nil, nil, fmt.Errorf("stan journal: connect: %w", err)
	}
	return New(sc, subject), sc, nil
}

// Subject returns the subject attempts are published on.
func (p *Publisher) Subject() string { return p.subject }

// Record publishes a synchronously. The streaming client has no context
// support, so ctx is only checked before publishing.
func (p *Publisher) Record(ctx context.Context, a journal.Attempt) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("stan journal: marshal %s: %w", a.ID, err)
	}
	if err := p.conn.Publish(p.subject, b); err != nil {
		return fmt.Errorf("stan journal: publish %s: %w", a.ID, err)
	}
	return nil
}

var _ journal.Sink = (*Publisher)(nil)
