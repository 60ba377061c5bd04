// Package httptransport implements the HTTP transport layer
// for the checkout session.
package httptransport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/iliamunaev/tap-checkout/internal/checkout"
	"github.com/iliamunaev/tap-checkout/internal/connection"
	"github.com/iliamunaev/tap-checkout/internal/middleware"
	"github.com/iliamunaev/tap-checkout/internal/model"
	"github.com/iliamunaev/tap-checkout/internal/money"
	"github.com/iliamunaev/tap-checkout/internal/reader"
	"github.com/iliamunaev/tap-checkout/internal/status"
)

type checkoutService interface {
	Checkout(ctx context.Context, amount money.Cents) checkout.Result
	InFlight() bool
	Step() string
	Currency() string
}

type connector interface {
	State() connection.State
	Reader() (reader.Reader, bool)
	EnsureConnected() <-chan struct{}
}

// Handler handles HTTP requests to the checkout session.
type Handler struct {
	checkout       checkoutService
	conn           connector
	status         *status.Reporter
	requestTimeout time.Duration
	log            *zap.Logger
}

// New returns a Handler configured with the given session parts
// and request timeout.
//
// It panics if checkout or conn is nil. If requestTimeout is non-positive,
// a default timeout is applied.
func New(co checkoutService, conn connector, rep *status.Reporter, requestTimeout time.Duration, log *zap.Logger) *Handler {
	if co == nil {
		panic("httptransport.New: nil checkout service")
	}
	if conn == nil {
		panic("httptransport.New: nil connector")
	}
	if rep == nil {
		rep = status.New()
	}
	if requestTimeout <= 0 {
		requestTimeout = 60 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		checkout:       co,
		conn:           conn,
		status:         rep,
		requestTimeout: requestTimeout,
		log:            log,
	}
}

// Routes returns the router with every endpoint and request logging.
func (h *Handler) Routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.Logging(h.log))
	r.HandleFunc("/checkout", h.HandleCheckout).Methods(http.MethodPost)
	r.HandleFunc("/status", h.HandleStatus).Methods(http.MethodGet)
	r.HandleFunc("/reader/connect", h.HandleConnect).Methods(http.MethodPost)
	r.HandleFunc("/health", h.HandleHealth).Methods(http.MethodGet)
	return r
}

// HandleCheckout charges an amount or a cart.
//
// The request must be a POST with a JSON body holding either amount_cents
// or items. The call blocks until the attempt ends or the request timeout
// fires; the response always contains a CheckoutResponse.
func (h *Handler) HandleCheckout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req model.CheckoutRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		badRequest(w, "invalid JSON")
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		badRequest(w, "invalid JSON")
		return
	}

	amount, msg := requestAmount(req)
	if msg != "" {
		badRequest(w, msg)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	res := h.checkout.Checkout(ctx, amount)

	resp := model.CheckoutResponse{
		Status:      "ok",
		Outcome:     string(res.Outcome),
		AttemptID:   res.AttemptID,
		AmountCents: amount.Int64(),
		Amount:      money.Format(amount, h.checkout.Currency()),
		IntentID:    res.Intent.ID,
		Steps:       res.Steps,
	}
	switch {
	case res.Outcome == checkout.Canceled:
		resp.Status = "canceled"
	case res.Err != nil:
		resp.Status = "error"
		resp.Error = &model.ErrorPayload{
			Kind:    errorKind(res.Err),
			Message: outcomeMessage(res),
		}
	}

	writeJSON(w, httpStatus(res.Err), resp)
}

// requestAmount returns the amount to charge, or a message describing why
// the request is unusable.
func requestAmount(req model.CheckoutRequest) (money.Cents, string) {
	switch {
	case req.AmountCents != nil && len(req.Items) > 0:
		return 0, "amount_cents and items are mutually exclusive"
	case req.AmountCents != nil:
		if req.TaxRateBP != 0 || req.TipCents != 0 {
			return 0, "tax_rate_bp and tip_cents require items"
		}
		return money.Cents(*req.AmountCents), ""
	case len(req.Items) == 0:
		return 0, "amount_cents or items is required"
	}

	cart := money.Cart{TaxRate: req.TaxRateBP, Tip: money.Cents(req.TipCents)}
	for _, it := range req.Items {
		cart.Items = append(cart.Items, money.LineItem{
			Name:      it.Name,
			UnitPrice: money.Cents(it.UnitPriceCents),
			Quantity:  it.Quantity,
		})
	}
	if err := cart.Validate(); err != nil {
		return 0, err.Error()
	}
	return cart.GrandTotal(), ""
}

var outcomeMessages = map[checkout.Outcome]string{
	checkout.AlreadyProcessing:    "a payment is already in flight",
	checkout.ConnectionInProgress: "reader connection in progress, retry when ready",
	checkout.NotConnectedYet:      "reader not connected, connection started",
	checkout.AmountTooSmall:       "amount is below the minimum charge",
}

func outcomeMessage(res checkout.Result) string {
	if m, ok := outcomeMessages[res.Outcome]; ok {
		return m
	}
	return "payment failed"
}

// HandleStatus returns the current status line and session state.
func (h *Handler) HandleStatus(w http.ResponseWriter, _ *http.Request) {
	cur := h.status.Current()
	resp := model.StatusResponse{
		Kind:       string(cur.Kind),
		Text:       cur.Text,
		Seq:        cur.Seq,
		Connection: h.conn.State().String(),
		InFlight:   h.checkout.InFlight(),
		Step:       h.checkout.Step(),
	}
	if rd, ok := h.conn.Reader(); ok {
		resp.Reader = rd.Label
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleConnect starts a connection cycle if none is running and returns
// without waiting for it.
func (h *Handler) HandleConnect(w http.ResponseWriter, _ *http.Request) {
	h.conn.EnsureConnected()
	cur := h.status.Current()
	writeJSON(w, http.StatusAccepted, model.StatusResponse{
		Kind:       string(cur.Kind),
		Text:       cur.Text,
		Seq:        cur.Seq,
		Connection: h.conn.State().String(),
		InFlight:   h.checkout.InFlight(),
	})
}

// HandleHealth reports liveness.
func (h *Handler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "ok")
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, model.CheckoutResponse{
		Status: "error",
		Error:  &model.ErrorPayload{Kind: "bad_request", Message: msg},
	})
}

// writeJSON writes v as a JSON response with the given status code.
// The Content-Type is set to application/json.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
