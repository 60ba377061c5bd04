// Package checkout turns an amount into a completed card payment.
//
// An Orchestrator admits at most one payment attempt at a time and runs the
// reader sub-protocol create → collect → confirm strictly in order. Every
// transition is pushed to the status reporter; finished attempts are handed
// to the journal after the in-flight slot has been released.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iliamunaev/tap-checkout/internal/apperr"
	"github.com/iliamunaev/tap-checkout/internal/connection"
	"github.com/iliamunaev/tap-checkout/internal/journal"
	"github.com/iliamunaev/tap-checkout/internal/model"
	"github.com/iliamunaev/tap-checkout/internal/money"
	"github.com/iliamunaev/tap-checkout/internal/reader"
	"github.com/iliamunaev/tap-checkout/internal/service/payment"
	"github.com/iliamunaev/tap-checkout/internal/service/pool"
	"github.com/iliamunaev/tap-checkout/internal/service/tracker"
	"github.com/iliamunaev/tap-checkout/internal/status"
)

// Outcome is the result class of a checkout call.
type Outcome string

const (
	Succeeded            Outcome = "succeeded"
	Failed               Outcome = "failed"
	Canceled             Outcome = "canceled"
	AlreadyProcessing    Outcome = "already_processing"
	ConnectionInProgress Outcome = "connection_in_progress"
	NotConnectedYet      Outcome = "not_connected"
	AmountTooSmall       Outcome = "amount_too_small"
)

// Rejected reports whether the call was turned away before the sub-protocol
// started.
func (o Outcome) Rejected() bool {
	switch o {
	case AlreadyProcessing, ConnectionInProgress, NotConnectedYet, AmountTooSmall:
		return true
	}
	return false
}

// DefaultCurrency is used when none is configured.
const DefaultCurrency = "usd"

// Status texts set by the orchestrator.
const (
	TextCreating   = "Creating payment"
	TextCollecting = "Waiting for card"
	TextConfirming = "Confirming payment"
	TextSucceeded  = "Payment succeeded"
)

// Connector is the part of the connection manager the orchestrator uses.
type Connector interface {
	State() connection.State
	EnsureConnected() <-chan struct{}
	OnDisconnect(fn func(error))
}

// Result describes one checkout call.
type Result struct {
	Outcome   Outcome
	AttemptID string
	Amount    money.Cents
	Intent    reader.PaymentIntent
	Steps     []model.StepResult
	Err       error
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.log = l
		}
	}
}

// WithCurrency sets the ISO currency code intents are created in.
func WithCurrency(code string) Option {
	return func(o *Orchestrator) {
		if code != "" {
			o.currency = code
		}
	}
}

// WithJournal adds a sink for finished attempts.
func WithJournal(s journal.Sink) Option {
	return func(o *Orchestrator) {
		if s != nil {
			o.sinks = append(o.sinks, s)
		}
	}
}

// Orchestrator runs checkouts for one session.
type Orchestrator struct {
	conn     Connector
	gw       reader.Gateway
	status   *status.Reporter
	log      *zap.Logger
	currency string
	sinks    journal.Multi

	slot *pool.Pool
	tr   *tracker.Tracker

	mu     sync.Mutex
	cancel context.CancelCauseFunc
}

// New creates an Orchestrator and subscribes it to reader disconnects.
// It panics if conn or gw is nil.
func New(conn Connector, gw reader.Gateway, rep *status.Reporter, opts ...Option) *Orchestrator {
	if conn == nil {
		panic("checkout.New: nil connector")
	}
	if gw == nil {
		panic("checkout.New: nil gateway")
	}
	if rep == nil {
		rep = status.New()
	}
	o := &Orchestrator{
		conn:     conn,
		gw:       gw,
		status:   rep,
		log:      zap.NewNop(),
		currency: DefaultCurrency,
		slot:     pool.New(1),
		tr:       &tracker.Tracker{},
	}
	for _, opt := range opts {
		opt(o)
	}
	o.log = o.log.Named("checkout")
	conn.OnDisconnect(o.abandon)
	return o
}

// InFlight reports whether a payment attempt is running.
func (o *Orchestrator) InFlight() bool { return o.tr.Running() > 0 }

// Step returns the payment step currently running, or "".
func (o *Orchestrator) Step() string { return o.tr.Step() }

// Currency returns the currency intents are created in.
func (o *Orchestrator) Currency() string { return o.currency }

// Checkout charges amount. It blocks until the attempt ends or is rejected.
func (o *Orchestrator) Checkout(ctx context.Context, amount money.Cents) Result {
	if res, ok := o.admit(amount); !ok {
		o.log.Info("checkout rejected", zap.String("outcome", string(res.Outcome)), zap.Int64("amount_cents", amount.Int64()))
		return res
	}

	res, started := o.attempt(ctx, amount)
	o.record(ctx, res, started)
	return res
}

// admit runs the guard clauses in order and takes the in-flight slot when
// they all pass. A rejected call never holds the slot.
func (o *Orchestrator) admit(amount money.Cents) (Result, bool) {
	res := Result{Amount: amount}

	if o.InFlight() {
		res.Outcome, res.Err = AlreadyProcessing, apperr.ErrAlreadyProcessing
		return res, false
	}
	if err := money.CheckMinimum(amount); err != nil {
		res.Outcome, res.Err = AmountTooSmall, err
		return res, false
	}
	if o.rejectOnConnection(&res) {
		return res, false
	}

	if !o.slot.TryAcquire() {
		res.Outcome, res.Err = AlreadyProcessing, apperr.ErrAlreadyProcessing
		return res, false
	}
	// The reader may have dropped while the guards ran.
	if o.rejectOnConnection(&res) {
		o.slot.Release()
		return res, false
	}
	return res, true
}

func (o *Orchestrator) rejectOnConnection(res *Result) bool {
	switch st := o.conn.State(); {
	case st.Busy():
		res.Outcome, res.Err = ConnectionInProgress, apperr.ErrConnectionInProgress
		return true
	case st != connection.Connected:
		o.conn.EnsureConnected()
		res.Outcome, res.Err = NotConnectedYet, apperr.ErrNotConnected
		return true
	}
	return false
}

// attempt runs the sub-protocol. The caller holds the in-flight slot.
func (o *Orchestrator) attempt(ctx context.Context, amount money.Cents) (Result, time.Time) {
	defer o.slot.Release()

	// The tracker makes the slot observable to lock-free readers.
	o.tr.Enter("")
	defer o.tr.Leave()

	res := Result{Amount: amount}

	started := time.Now()
	res.AttemptID = uuid.NewString()
	log := o.log.With(zap.String("attempt_id", res.AttemptID), zap.Int64("amount_cents", amount.Int64()))

	ctx, cancel := context.WithCancelCause(ctx)
	o.mu.Lock()
	o.cancel = cancel
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.cancel = nil
		o.mu.Unlock()
		cancel(nil)
	}()

	log.Info("payment attempt started", zap.String("currency", o.currency))

	// The steps share one recorder; each appends in protocol order.
	record := func(name string, fn func() error) error {
		start := time.Now()
		err := fn()
		sr := model.StepResult{Name: name, Status: "ok", DurationMS: time.Since(start).Milliseconds()}
		if err != nil {
			err = causeOf(ctx, err)
			switch {
			case reader.IsUserCancelled(err):
				sr.Status = "canceled"
			case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
				sr.Status = "canceled"
				sr.Detail = apperr.Kind(err)
			default:
				sr.Status = "error"
				sr.Detail = apperr.Kind(err)
			}
		}
		res.Steps = append(res.Steps, sr)
		return err
	}

	var intent reader.PaymentIntent

	o.status.Set(status.KindBusy, TextCreating)
	err := record(payment.StepCreate, func() error {
		var err error
		intent, err = payment.Create(ctx, o.gw, amount, o.currency, o.tr)
		return err
	})
	if err != nil {
		return o.fail(log, res, intent, err), started
	}

	o.status.Set(status.KindBusy, TextCollecting)
	err = record(payment.StepCollect, func() error {
		collected, err := payment.Collect(ctx, o.gw, intent, o.tr)
		if err == nil {
			intent = collected
		}
		return err
	})
	if err != nil {
		if reader.IsUserCancelled(err) {
			o.status.Set(status.KindReady, status.TextReady)
			res.Outcome, res.Intent, res.Err = Canceled, intent, err
			log.Info("payment canceled by user", zap.String("intent_id", intent.ID))
			return res, started
		}
		return o.fail(log, res, intent, err), started
	}

	o.status.Set(status.KindBusy, TextConfirming)
	err = record(payment.StepConfirm, func() error {
		confirmed, err := payment.Confirm(ctx, o.gw, intent, o.tr)
		if err == nil {
			intent = confirmed
		}
		return err
	})
	if err != nil {
		return o.fail(log, res, intent, err), started
	}

	o.status.Set(status.KindSuccess, TextSucceeded)
	res.Outcome, res.Intent = Succeeded, intent
	log.Info("payment succeeded", zap.String("intent_id", intent.ID), zap.Duration("elapsed", time.Since(started)))
	return res, started
}

func (o *Orchestrator) fail(log *zap.Logger, res Result, intent reader.PaymentIntent, err error) Result {
	o.status.Set(status.KindError, "Payment failed: "+err.Error())
	res.Outcome, res.Intent, res.Err = Failed, intent, err
	log.Warn("payment failed", zap.String("intent_id", intent.ID), zap.String("kind", apperr.Kind(err)), zap.Error(err))
	return res
}

// abandon cancels the running attempt, if any, after an unexpected
// disconnect. The attempt is not resumed.
func (o *Orchestrator) abandon(cause error) {
	o.mu.Lock()
	cancel := o.cancel
	o.mu.Unlock()
	if cancel == nil {
		return
	}
	if cause == nil {
		cause = apperr.ErrReaderDisconnected
	}
	o.log.Warn("abandoning payment attempt", zap.Error(cause))
	cancel(cause)
}

func (o *Orchestrator) record(ctx context.Context, res Result, started time.Time) {
	if len(o.sinks) == 0 {
		return
	}
	a := journal.Attempt{
		ID:          res.AttemptID,
		Outcome:     string(res.Outcome),
		AmountCents: res.Amount.Int64(),
		Currency:    o.currency,
		IntentID:    res.Intent.ID,
		Steps:       res.Steps,
		StartedAt:   started,
		FinishedAt:  time.Now(),
	}
	if res.Err != nil {
		a.ErrorKind = apperr.Kind(res.Err)
		a.Error = res.Err.Error()
	}

	// The caller's context may already be done; the journal still gets a
	// bounded chance to write.
	jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := o.sinks.Record(jctx, a); err != nil {
		o.log.Warn("journal record failed", zap.String("attempt_id", a.ID), zap.Error(err))
	}
}

// causeOf attaches the attempt's cancellation cause to err, so an attempt
// abandoned after a disconnect reports ErrReaderDisconnected whatever the
// gateway returned.
func causeOf(ctx context.Context, err error) error {
	if ctx.Err() == nil {
		return err
	}
	cause := context.Cause(ctx)
	if cause == nil || errors.Is(err, cause) {
		return err
	}
	var se *payment.StepError
	if errors.As(err, &se) {
		return &payment.StepError{Step: se.Step, Err: fmt.Errorf("%w: %w", cause, se.Err)}
	}
	return fmt.Errorf("%w: %w", cause, err)
}
