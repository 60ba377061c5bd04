package httptransport

import (
	"net/http"

	"github.com/iliamunaev/tap-checkout/internal/apperr"
)

// kindToStatus maps error classification kinds
// to HTTP status codes.
var kindToStatus = map[string]int{
	"bad_request":            http.StatusBadRequest,
	"already_processing":     http.StatusConflict,
	"connection_in_progress": http.StatusConflict,
	"not_connected":          http.StatusServiceUnavailable,
	"no_reader":              http.StatusServiceUnavailable,
	"amount_too_small":       http.StatusUnprocessableEntity,
	"payment_failed":         http.StatusPaymentRequired,
	"reader_error":           http.StatusPaymentRequired,
	"user_canceled":          http.StatusOK,
	"reader_disconnected":    http.StatusBadGateway,
	"timeout":                http.StatusGatewayTimeout,
	"canceled":               http.StatusRequestTimeout,
}

// errorKind returns the kind of an error.
func errorKind(err error) string {
	return apperr.Kind(err)
}

func httpStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if s, ok := kindToStatus[errorKind(err)]; ok {
		return s
	}
	return http.StatusInternalServerError
}
