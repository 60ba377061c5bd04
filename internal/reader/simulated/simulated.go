// Package simulated provides an in-process reader.Gateway that behaves like a
// phone acting as a contactless terminal. Failures and latency are scripted
// through Config, which makes the service usable without a vendor SDK.
package simulated

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iliamunaev/tap-checkout/internal/reader"
	"github.com/iliamunaev/tap-checkout/internal/service/shared"
)

// Fail steps understood by Config.FailStep.
const (
	FailCreate  = "create"
	FailCollect = "collect"
	FailCancel  = "cancel"
	FailConfirm = "confirm"
)

// ErrTransient is the error returned for scripted discovery and connect
// failures.
var ErrTransient = errors.New("simulated transient failure")

// Config scripts the simulated reader.
type Config struct {
	// Readers lists the labels returned by discovery. Empty means no
	// compatible reader is found.
	Readers []string
	// DiscoveryFailures and ConnectFailures fail the first N calls.
	DiscoveryFailures int
	ConnectFailures   int
	// FailStep makes one payment step fail; FailCancel makes collect report
	// a user cancellation.
	FailStep string
	// Latency is applied to every call unless StepLatency overrides it for
	// that operation ("discover", "connect", "create", "collect", "confirm").
	Latency     time.Duration
	StepLatency map[string]time.Duration
}

// Gateway is the simulated reader.
type Gateway struct {
	cfg Config
	log *zap.Logger

	mu          sync.Mutex
	discoveries int
	connects    int
	connected   *reader.Reader

	disconnects chan error
}

// New returns a simulated gateway. A nil logger disables logging.
func New(cfg Config, log *zap.Logger) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{
		cfg:         cfg,
		log:         log.Named("simulated_reader"),
		disconnects: make(chan error, 1),
	}
}

func (g *Gateway) Discover(ctx context.Context) ([]reader.Reader, error) {
	if err := g.wait(ctx, "discover"); err != nil {
		return nil, err
	}

	g.mu.Lock()
	g.discoveries++
	n := g.discoveries
	g.mu.Unlock()

	if n <= g.cfg.DiscoveryFailures {
		g.log.Debug("discovery failing", zap.Int("attempt", n))
		return nil, &reader.Error{Op: "discover", Code: "bluetooth_error", Err: ErrTransient}
	}

	out := make([]reader.Reader, 0, len(g.cfg.Readers))
	for i, label := range g.cfg.Readers {
		out = append(out, reader.Reader{
			ID:           "tmr_" + uuid.NewString()[:8],
			Label:        label,
			SerialNumber: fmt.Sprintf("SIM-%04d", i+1),
		})
	}
	return out, nil
}

func (g *Gateway) Connect(ctx context.Context, r reader.Reader) (reader.Reader, error) {
	if err := g.wait(ctx, "connect"); err != nil {
		return reader.Reader{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.connects++
	if g.connects <= g.cfg.ConnectFailures {
		g.log.Debug("connect failing", zap.Int("attempt", g.connects), zap.String("reader_id", r.ID))
		return reader.Reader{}, &reader.Error{Op: "connect", Code: "connection_token_error", Err: ErrTransient}
	}
	g.connected = &r
	return r, nil
}

func (g *Gateway) CreatePaymentIntent(ctx context.Context, amountCents int64, currency string) (reader.PaymentIntent, error) {
	if err := g.step(ctx, "create", FailCreate); err != nil {
		return reader.PaymentIntent{}, err
	}
	return reader.PaymentIntent{
		ID:          "pi_" + uuid.NewString(),
		AmountCents: amountCents,
		Currency:    currency,
		Status:      reader.IntentRequiresPaymentMethod,
	}, nil
}

func (g *Gateway) CollectPaymentMethod(ctx context.Context, intent reader.PaymentIntent) (reader.PaymentIntent, error) {
	if g.cfg.FailStep == FailCancel {
		if err := g.wait(ctx, "collect"); err != nil {
			return reader.PaymentIntent{}, err
		}
		return reader.PaymentIntent{}, &reader.Error{Op: "collect", Code: "canceled", Err: reader.ErrUserCancelled}
	}
	if err := g.step(ctx, "collect", FailCollect); err != nil {
		return reader.PaymentIntent{}, err
	}
	intent.Status = reader.IntentRequiresConfirmation
	return intent, nil
}

func (g *Gateway) ConfirmPaymentIntent(ctx context.Context, intent reader.PaymentIntent) (reader.PaymentIntent, error) {
	if err := g.step(ctx, "confirm", FailConfirm); err != nil {
		return reader.PaymentIntent{}, err
	}
	intent.Status = reader.IntentSucceeded
	return intent, nil
}

func (g *Gateway) Disconnects() <-chan error { return g.disconnects }

// Disconnect simulates the reader dropping off. It is a no-op when nothing
// is connected.
func (g *Gateway) Disconnect(cause error) {
	g.mu.Lock()
	if g.connected == nil {
		g.mu.Unlock()
		return
	}
	g.connected = nil
	g.mu.Unlock()

	select {
	case g.disconnects <- cause:
	default:
	}
}

// step applies latency, requires a connected reader and fails when the
// scripted fail step matches.
func (g *Gateway) step(ctx context.Context, op, failOn string) error {
	if err := g.wait(ctx, op); err != nil {
		return err
	}

	g.mu.Lock()
	connected := g.connected != nil
	g.mu.Unlock()
	if !connected {
		return &reader.Error{Op: op, Code: "not_connected", Err: reader.ErrReaderUnavailable}
	}

	if g.cfg.FailStep == failOn {
		return &reader.Error{Op: op, Code: "card_declined", Err: errors.New("simulated decline")}
	}
	return nil
}

func (g *Gateway) wait(ctx context.Context, op string) error {
	return shared.Wait(ctx, shared.DelayFor(g.cfg.StepLatency, op, g.cfg.Latency))
}

var _ reader.Gateway = (*Gateway)(nil)
