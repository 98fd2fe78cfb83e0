package odoo

import (
	"errors"
	"fmt"
)

// Kind classifies connection-layer failures so callers can react without
// parsing messages.
type Kind int

const (
	// KindConfig marks missing or invalid local configuration.
	KindConfig Kind = iota + 1
	// KindConnection marks transport failures: unreachable host, timeout,
	// malformed response. Never produced for errors the server reported.
	KindConnection
	// KindAuth marks rejected credentials (HTTP 401 or a failed login).
	KindAuth
	// KindAccessDenied marks insufficient permissions (HTTP 403).
	KindAccessDenied
	// KindNotFound marks a missing model, record, or route (HTTP 404).
	KindNotFound
	// KindInvalidRequest marks arguments the server refused (HTTP 422).
	KindInvalidRequest
	// KindServer marks any other server-side failure.
	KindServer
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindConnection:
		return "connection"
	case KindAuth:
		return "auth"
	case KindAccessDenied:
		return "access_denied"
	case KindNotFound:
		return "not_found"
	case KindInvalidRequest:
		return "invalid_request"
	case KindServer:
		return "server"
	default:
		return "unknown"
	}
}

// Error is the single error type returned by both backends. Message is
// already sanitized; Status carries the HTTP status when the server sent one.
type Error struct {
	Kind    Kind
	Message string
	Status  int
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds an Error of the given kind with a formatted message.
func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError builds an Error that keeps err reachable through Unwrap.
func WrapError(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// AsError extracts an *Error from an error chain.
func AsError(err error) (*Error, bool) {
	var oe *Error
	if errors.As(err, &oe) {
		return oe, true
	}
	return nil, false
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	oe, ok := AsError(err)
	return ok && oe.Kind == kind
}

// statusError maps an HTTP status from the server onto the error taxonomy.
// The message is the server's own (sanitized) explanation.
func statusError(status int, message string) *Error {
	switch status {
	case 401:
		return &Error{Kind: KindAuth, Message: "Authentication failed: " + message, Status: status}
	case 403:
		return &Error{Kind: KindAccessDenied, Message: "Access denied: " + message, Status: status}
	case 404:
		return &Error{Kind: KindNotFound, Message: "Not found: " + message, Status: status}
	case 422:
		return &Error{Kind: KindInvalidRequest, Message: "Invalid request: " + message, Status: status}
	default:
		return &Error{Kind: KindServer, Message: fmt.Sprintf("Server error (%d): %s", status, message), Status: status}
	}
}
