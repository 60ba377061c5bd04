// Package model defines the request and response payloads shared by the
// transport, the journal and the CLI.
package model

// CheckoutRequest is the input payload for a checkout. Either AmountCents or
// Items must be set, not both.
type CheckoutRequest struct {
	AmountCents *int64     `json:"amount_cents,omitempty"`
	Items       []CartItem `json:"items,omitempty"`
	TaxRateBP   int        `json:"tax_rate_bp,omitempty"`
	TipCents    int64      `json:"tip_cents,omitempty"`
}

// CartItem is one cart line in a checkout request.
type CartItem struct {
	Name           string `json:"name"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	Quantity       int    `json:"quantity"`
}

// CheckoutResponse is the output payload of a checkout.
type CheckoutResponse struct {
	Status      string        `json:"status"` // "ok" | "canceled" | "error"
	Outcome     string        `json:"outcome"`
	AttemptID   string        `json:"attempt_id,omitempty"`
	AmountCents int64         `json:"amount_cents"`
	Amount      string        `json:"amount,omitempty"` // display string, e.g. "USD 12.50"
	IntentID    string        `json:"intent_id,omitempty"`
	Steps       []StepResult  `json:"steps,omitempty"`
	Error       *ErrorPayload `json:"error,omitempty"`
}

// StepResult captures the outcome of one payment step.
type StepResult struct {
	Name       string `json:"name"`
	Status     string `json:"status"` // "ok" | "error" | "canceled"
	DurationMS int64  `json:"duration_ms"`
	Detail     string `json:"detail,omitempty"`
}

// ErrorPayload describes an error response.
type ErrorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message,omitempty"`
}

// StatusResponse is the output payload of the status endpoint.
type StatusResponse struct {
	Kind       string `json:"kind"`
	Text       string `json:"text"`
	Seq        uint64 `json:"seq"`
	Connection string `json:"connection"`
	Reader     string `json:"reader,omitempty"`
	InFlight   bool   `json:"in_flight"`
	Step       string `json:"step,omitempty"`
}
