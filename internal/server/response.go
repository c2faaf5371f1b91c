package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	routex "github.com/dctx/routex/internal"
)

// envelope is the admin-surface response shape: { success, data?, error? }.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   *apiError `json:"error,omitempty"`
}

type apiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func errorResponse(msg string) envelope {
	return envelope{Success: false, Error: &apiError{Type: "error", Message: msg}}
}

func dataResponse(v any) envelope {
	return envelope{Success: true, Data: v}
}

// jsonCT is a pre-allocated header value slice. Direct map assignment
// avoids the []string{v} alloc that Header.Set creates on every call.
var jsonCT = []string{"application/json"}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to encode response", "error", err)
		return
	}
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	w.Write(data)
}

// errorStatus maps a sentinel domain error to its surface-stable HTTP
// status per spec §7.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, routex.ErrUnauthorized), errors.Is(err, routex.ErrKeyExpired), errors.Is(err, routex.ErrKeyBlocked),
		errors.Is(err, routex.ErrSignatureInvalid), errors.Is(err, routex.ErrTimestampOutOfWindow):
		return http.StatusUnauthorized
	case errors.Is(err, routex.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, routex.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, routex.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, routex.ErrRateLimited), errors.Is(err, routex.ErrQuotaExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, routex.ErrBadRequest), errors.Is(err, routex.ErrTransformError), errors.Is(err, routex.ErrTokenLimitExceeded):
		return http.StatusBadRequest
	case errors.Is(err, routex.ErrNoChannelAvailable), errors.Is(err, routex.ErrRoutedChannelUnavail):
		return http.StatusServiceUnavailable
	case errors.Is(err, routex.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, routex.ErrUpstreamError):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeAdminError logs the full error server-side and returns a sanitized
// envelope to the client, avoiding leaking backing-store internals.
func writeAdminError(w http.ResponseWriter, err error) {
	status := errorStatus(err)
	switch {
	case errors.Is(err, routex.ErrNotFound):
		writeJSON(w, status, errorResponse("not found"))
	case errors.Is(err, routex.ErrConflict):
		writeJSON(w, status, errorResponse("conflict"))
	default:
		slog.Error("admin error", "error", err)
		writeJSON(w, status, errorResponse("internal error"))
	}
}
