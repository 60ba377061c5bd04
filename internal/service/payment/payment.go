// Package payment provides the three reader payment steps: create an intent,
// collect a payment method against it, confirm it.
//
// Each step blocks until the gateway answers or ctx is done, and returns a
// *StepError that names the step and wraps the gateway error.
package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/iliamunaev/tap-checkout/internal/apperr"
	"github.com/iliamunaev/tap-checkout/internal/money"
	"github.com/iliamunaev/tap-checkout/internal/reader"
	"github.com/iliamunaev/tap-checkout/internal/service/tracker"
)

// Step names, in protocol order.
const (
	StepCreate  = "create"
	StepCollect = "collect"
	StepConfirm = "confirm"
)

var (
	ErrCreateFailed  = errors.New("create payment intent failed")
	ErrCollectFailed = errors.New("collect payment method failed")
	ErrConfirmFailed = errors.New("confirm payment intent failed")

	// ErrInvalidIntent is returned when a step is handed an intent that did
	// not come out of the previous step.
	ErrInvalidIntent = errors.New("invalid payment intent")
)

var stepSentinels = map[string]error{
	StepCreate:  ErrCreateFailed,
	StepCollect: ErrCollectFailed,
	StepConfirm: ErrConfirmFailed,
}

// StepError is a failed payment step.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", stepSentinels[e.Step], e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Is matches the sentinel of the failed step.
func (e *StepError) Is(target error) bool {
	return target != nil && stepSentinels[e.Step] == target
}

// Kind classifies the failure. A collect cancelled by the user is not a
// payment failure, and neither is an attempt cut short by its context.
func (e *StepError) Kind() string {
	switch {
	case reader.IsUserCancelled(e.Err):
		return "user_canceled"
	case errors.Is(e.Err, apperr.ErrReaderDisconnected):
		return "reader_disconnected"
	case errors.Is(e.Err, money.ErrAmountTooSmall):
		return "amount_too_small"
	case errors.Is(e.Err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(e.Err, context.Canceled):
		return "canceled"
	}
	return "payment_failed"
}

// Create asks the reader to create a payment intent for amount.
func Create(ctx context.Context, gw reader.Gateway, amount money.Cents, currency string, tr *tracker.Tracker) (reader.PaymentIntent, error) {
	if tr != nil {
		tr.Enter(StepCreate)
		defer tr.Leave()
	}

	if err := money.CheckMinimum(amount); err != nil {
		return reader.PaymentIntent{}, &StepError{Step: StepCreate, Err: err}
	}

	pi, err := gw.CreatePaymentIntent(ctx, amount.Int64(), currency)
	if err != nil {
		return reader.PaymentIntent{}, &StepError{Step: StepCreate, Err: err}
	}
	return pi, nil
}

// Collect waits for the customer to tap a card against intent.
func Collect(ctx context.Context, gw reader.Gateway, intent reader.PaymentIntent, tr *tracker.Tracker) (reader.PaymentIntent, error) {
	if tr != nil {
		tr.Enter(StepCollect)
		defer tr.Leave()
	}

	if intent.ID == "" {
		return reader.PaymentIntent{}, &StepError{Step: StepCollect, Err: ErrInvalidIntent}
	}

	pi, err := gw.CollectPaymentMethod(ctx, intent)
	if err != nil {
		return reader.PaymentIntent{}, &StepError{Step: StepCollect, Err: err}
	}
	return pi, nil
}

// Confirm finalizes a collected intent.
func Confirm(ctx context.Context, gw reader.Gateway, intent reader.PaymentIntent, tr *tracker.Tracker) (reader.PaymentIntent, error) {
	if tr != nil {
		tr.Enter(StepConfirm)
		defer tr.Leave()
	}

	if intent.ID == "" {
		return reader.PaymentIntent{}, &StepError{Step: StepConfirm, Err: ErrInvalidIntent}
	}

	pi, err := gw.ConfirmPaymentIntent(ctx, intent)
	if err != nil {
		return reader.PaymentIntent{}, &StepError{Step: StepConfirm, Err: err}
	}
	return pi, nil
}
