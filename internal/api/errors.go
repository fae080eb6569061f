package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pimonitor/pimonitor-core/internal/action"
	"github.com/pimonitor/pimonitor-core/internal/device"
)

// Error is the body of every non-2xx response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeForbidden    = "forbidden"
	ErrCodeInternal     = "internal_error"
	ErrCodeValidation   = "validation_error"
	ErrCodeRateLimited  = "rate_limited"
	ErrCodeUnavailable  = "unavailable"
	ErrCodeDeviceError  = "device_error"
	ErrCodeTimeout      = "device_timeout"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Client may already be gone
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

func writeValidationError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnprocessableEntity, ErrCodeValidation, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeActionError answers a failed action. An *action.Error carries the
// same text the device's notification shows, and that text is returned
// as the message.
func (s *Server) writeActionError(w http.ResponseWriter, err error) {
	if errors.Is(err, device.ErrDeviceNotFound) {
		writeNotFound(w, "device not found")
		return
	}

	var actErr *action.Error
	if !errors.As(err, &actErr) {
		s.logger.Error("action failed", "error", err)
		writeInternalError(w, "action failed")
		return
	}

	switch {
	case action.IsValidation(err):
		writeValidationError(w, actErr.Message)
	case errors.Is(err, action.ErrTimedOut):
		writeError(w, http.StatusGatewayTimeout, ErrCodeTimeout, actErr.Message)
	default:
		writeError(w, http.StatusBadGateway, ErrCodeDeviceError, actErr.Message)
	}
}
