// Package apperr holds the session's error taxonomy and maps any error to a
// stable kind string used by logs, the journal and the HTTP transport.
package apperr

import (
	"context"
	"errors"
)

// kindError is a sentinel that carries its own classification.
type kindError struct {
	msg  string
	kind string
}

func (e kindError) Error() string { return e.msg }
func (e kindError) Kind() string  { return e.kind }

var (
	// Guard rejections. Cheap, synchronous, no gateway traffic.
	ErrAlreadyProcessing    = kindError{msg: "a payment is already in flight", kind: "already_processing"}
	ErrConnectionInProgress = kindError{msg: "reader connection in progress", kind: "connection_in_progress"}
	ErrNotConnected         = kindError{msg: "reader not connected yet", kind: "not_connected"}

	// Connection outcomes.
	ErrNoReaderFound      = kindError{msg: "no compatible reader found", kind: "no_reader"}
	ErrReaderDisconnected = kindError{msg: "reader disconnected", kind: "reader_disconnected"}
)

// kinder is satisfied by errors that classify themselves.
type kinder interface {
	Kind() string
}

// Kind returns the classification of err. Self-classifying errors win over
// context errors so a wrapped cancellation keeps its domain meaning.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	var k kinder
	if errors.As(err, &k) {
		return k.Kind()
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "internal"
	}
}
