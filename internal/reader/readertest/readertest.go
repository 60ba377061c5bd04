// Package readertest provides a programmable reader.Gateway for tests.
package readertest

import (
	"context"
	"sync"

	"github.com/iliamunaev/tap-checkout/internal/reader"
)

// Gateway is a reader.Gateway whose behaviour is set per call through the
// function fields. A nil field succeeds with a canned value.
type Gateway struct {
	DiscoverFunc func(ctx context.Context, attempt int) ([]reader.Reader, error)
	ConnectFunc  func(ctx context.Context, r reader.Reader, attempt int) (reader.Reader, error)
	CreateFunc   func(ctx context.Context, amountCents int64, currency string) (reader.PaymentIntent, error)
	CollectFunc  func(ctx context.Context, intent reader.PaymentIntent) (reader.PaymentIntent, error)
	ConfirmFunc  func(ctx context.Context, intent reader.PaymentIntent) (reader.PaymentIntent, error)

	disconnects chan error

	mu    sync.Mutex
	calls []string
}

// New returns a Gateway with a buffered disconnect channel.
func New() *Gateway {
	return &Gateway{disconnects: make(chan error, 4)}
}

// DefaultReader is returned by Discover when DiscoverFunc is nil.
var DefaultReader = reader.Reader{ID: "tmr_test", Label: "Test reader"}

func (g *Gateway) record(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, op)
	n := 0
	for _, c := range g.calls {
		if c == op {
			n++
		}
	}
	return n
}

// Calls returns every gateway operation in call order.
func (g *Gateway) Calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

// Count returns how many times op was called.
func (g *Gateway) Count(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		if c == op {
			n++
		}
	}
	return n
}

// Disconnect injects an unsolicited disconnect notification.
func (g *Gateway) Disconnect(err error) {
	g.disconnects <- err
}

func (g *Gateway) Discover(ctx context.Context) ([]reader.Reader, error) {
	n := g.record("discover")
	if g.DiscoverFunc != nil {
		return g.DiscoverFunc(ctx, n)
	}
	return []reader.Reader{DefaultReader}, nil
}

func (g *Gateway) Connect(ctx context.Context, r reader.Reader) (reader.Reader, error) {
	n := g.record("connect")
	if g.ConnectFunc != nil {
		return g.ConnectFunc(ctx, r, n)
	}
	return r, nil
}

func (g *Gateway) CreatePaymentIntent(ctx context.Context, amountCents int64, currency string) (reader.PaymentIntent, error) {
	g.record("create")
	if g.CreateFunc != nil {
		return g.CreateFunc(ctx, amountCents, currency)
	}
	return reader.PaymentIntent{
		ID:          "pi_test",
		AmountCents: amountCents,
		Currency:    currency,
		Status:      reader.IntentRequiresPaymentMethod,
	}, nil
}

func (g *Gateway) CollectPaymentMethod(ctx context.Context, intent reader.PaymentIntent) (reader.PaymentIntent, error) {
	g.record("collect")
	if g.CollectFunc != nil {
		return g.CollectFunc(ctx, intent)
	}
	intent.Status = reader.IntentRequiresConfirmation
	return intent, nil
}

func (g *Gateway) ConfirmPaymentIntent(ctx context.Context, intent reader.PaymentIntent) (reader.PaymentIntent, error) {
	g.record("confirm")
	if g.ConfirmFunc != nil {
		return g.ConfirmFunc(ctx, intent)
	}
	intent.Status = reader.IntentSucceeded
	return intent, nil
}

func (g *Gateway) Disconnects() <-chan error { return g.disconnects }

var _ reader.Gateway = (*Gateway)(nil)
