package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hassdash/dashboard/internal/connection"
	"github.com/hassdash/dashboard/internal/outbound"
	"github.com/hassdash/dashboard/internal/state"
	"github.com/hassdash/dashboard/internal/store"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, ErrorResponse{Error: message, Details: details})
}

// writeErr replies with the status mapped from err.
func writeErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	writeError(w, status, http.StatusText(status), err.Error())
}

// statusFor maps domain errors to HTTP status codes. Timeouts are checked
// before transport errors because an exhausted update wraps both.
func statusFor(err error) int {
	var hubErr *connection.HubError
	switch {
	case errors.Is(err, state.ErrInvalidEntityID),
		errors.Is(err, state.ErrInvalidState),
		errors.Is(err, store.ErrInvalidDocument),
		errors.Is(err, store.ErrMissingID):
		return http.StatusBadRequest
	case errors.Is(err, state.ErrEntityNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrVersionConflict):
		return http.StatusConflict
	case errors.Is(err, outbound.ErrRateLimitExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, state.ErrUpdateTimeout),
		errors.Is(err, connection.ErrMessageTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, connection.ErrNotConnected),
		errors.Is(err, connection.ErrTransport),
		errors.Is(err, connection.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.As(err, &hubErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody reads a JSON request body of at most limit bytes.
func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	return dec.Decode(v)
}
