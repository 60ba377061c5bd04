// Package reader defines the boundary to the vendor reader SDK.
//
// The SDK exposes callback-driven primitives; Gateway expresses each of them
// as a blocking, context-aware call that returns once the SDK callback fires.
package reader

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUserCancelled marks a collect that ended because the customer or the
	// operator cancelled before a card was presented.
	ErrUserCancelled = errors.New("cancelled by user")

	// ErrReaderUnavailable is returned by Connect when the discovered handle
	// is no longer usable and a fresh discovery is needed.
	ErrReaderUnavailable = errors.New("reader unavailable")
)

// Reader is an opaque handle returned by discovery.
type Reader struct {
	ID           string `json:"id"`
	Label        string `json:"label"`
	SerialNumber string `json:"serial_number,omitempty"`
}

// IntentStatus mirrors the SDK's payment intent lifecycle.
type IntentStatus string

const (
	IntentRequiresPaymentMethod IntentStatus = "requires_payment_method"
	IntentRequiresConfirmation  IntentStatus = "requires_confirmation"
	IntentSucceeded             IntentStatus = "succeeded"
)

// PaymentIntent is the server-side record of an amount to be charged.
type PaymentIntent struct {
	ID          string       `json:"id"`
	AmountCents int64        `json:"amount_cents"`
	Currency    string       `json:"currency"`
	Status      IntentStatus `json:"status"`
}

// Gateway is the reader SDK as seen by the session.
type Gateway interface {
	Discover(ctx context.Context) ([]Reader, error)
	Connect(ctx context.Context, r Reader) (Reader, error)
	CreatePaymentIntent(ctx context.Context, amountCents int64, currency string) (PaymentIntent, error)
	CollectPaymentMethod(ctx context.Context, intent PaymentIntent) (PaymentIntent, error)
	ConfirmPaymentIntent(ctx context.Context, intent PaymentIntent) (PaymentIntent, error)

	// Disconnects delivers unsolicited disconnect notifications for the
	// connected reader. The channel is never closed while the gateway lives.
	Disconnects() <-chan error
}

// Error is a classified SDK failure.
type Error struct {
	Op   string // "discover", "connect", "create", "collect", "confirm"
	Code string // SDK error code, if any
	Err  error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Op, e.Err, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Kind classifies SDK errors for transport mapping.
func (e *Error) Kind() string {
	if errors.Is(e.Err, ErrUserCancelled) {
		return "user_canceled"
	}
	return "reader_error"
}

// IsUserCancelled reports whether err carries the user-cancelled marker.
func IsUserCancelled(err error) bool {
	return errors.Is(err, ErrUserCancelled)
}
