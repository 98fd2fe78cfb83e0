package types

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/odoogate/odoogate/pkg/odoo"
)

// ──────────────────────────────────────────────────────────────────────────────
// Validation error (returned during request parsing)
// ──────────────────────────────────────────────────────────────────────────────

type ValidationError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s %s", e.Field, e.Reason)
}

// ──────────────────────────────────────────────────────────────────────────────
// APIError — structured error returned to callers
// ──────────────────────────────────────────────────────────────────────────────

type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	Details   any    `json:"details,omitempty"`
	HTTPCode  int    `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// WriteJSON writes the error as JSON to the response writer.
func (e *APIError) WriteJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.HTTPCode)
	_ = json.NewEncoder(w).Encode(e)
}

// ──────────────────────────────────────────────────────────────────────────────
// Common error constructors
// ──────────────────────────────────────────────────────────────────────────────

func ErrBadRequest(msg string) *APIError {
	return &APIError{Code: "BAD_REQUEST", Message: msg, HTTPCode: http.StatusBadRequest}
}

func ErrValidation(err error) *APIError {
	return &APIError{Code: "VALIDATION_ERROR", Message: err.Error(), HTTPCode: http.StatusUnprocessableEntity}
}

func ErrUnauthorized(msg string) *APIError {
	return &APIError{Code: "UNAUTHORIZED", Message: msg, HTTPCode: http.StatusUnauthorized}
}

func ErrForbidden(msg string) *APIError {
	return &APIError{Code: "FORBIDDEN", Message: msg, HTTPCode: http.StatusForbidden}
}

func ErrNotFound(msg string) *APIError {
	return &APIError{Code: "NOT_FOUND", Message: msg, HTTPCode: http.StatusNotFound}
}

func ErrInternal(msg string) *APIError {
	return &APIError{Code: "INTERNAL_ERROR", Message: msg, Retryable: true, HTTPCode: http.StatusInternalServerError}
}

func ErrRateLimited() *APIError {
	return &APIError{Code: "RATE_LIMITED", Message: "too many requests", Retryable: true, HTTPCode: http.StatusTooManyRequests}
}

// ErrUpstream reports an Odoo-side failure the gateway merely relays.
// Transport failures are retryable; genuine server errors are not.
func ErrUpstream(msg string, retryable bool) *APIError {
	return &APIError{Code: "UPSTREAM_ERROR", Message: msg, Retryable: retryable, HTTPCode: http.StatusBadGateway}
}

// FromConnError maps the connection-layer error taxonomy onto the API error
// surface: auth → 401, denied → 403, not found → 404, invalid → 422,
// config → 400, connection/server → 502.
func FromConnError(err error) *APIError {
	oe, ok := odoo.AsError(err)
	if !ok {
		return ErrInternal(err.Error())
	}
	switch oe.Kind {
	case odoo.KindConfig:
		return ErrBadRequest(oe.Message)
	case odoo.KindAuth:
		return ErrUnauthorized(oe.Message)
	case odoo.KindAccessDenied:
		return ErrForbidden(oe.Message)
	case odoo.KindNotFound:
		return ErrNotFound(oe.Message)
	case odoo.KindInvalidRequest:
		return &APIError{Code: "INVALID_REQUEST", Message: oe.Message, HTTPCode: http.StatusUnprocessableEntity}
	case odoo.KindConnection:
		return ErrUpstream(oe.Message, true)
	default:
		return ErrUpstream(oe.Message, false)
	}
}
