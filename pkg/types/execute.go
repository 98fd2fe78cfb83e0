// Package types defines the request and response schema of the gateway API.
package types

import (
	"fmt"
	"strings"
)

// ──────────────────────────────────────────────────────────────────────────────
// Limits
// ──────────────────────────────────────────────────────────────────────────────

const (
	MaxModelBytes  = 256
	MaxIDsCount    = 1000
	MaxFieldsCount = 500
)

// ──────────────────────────────────────────────────────────────────────────────
// ExecuteRequest — one ORM operation for the connected Odoo server.
// ──────────────────────────────────────────────────────────────────────────────

type ExecuteRequest struct {
	Model  string `json:"model"`
	Method string `json:"method"`

	// Search arguments.
	Domain []any    `json:"domain,omitempty"`
	Fields []string `json:"fields,omitempty"`
	Limit  int      `json:"limit,omitempty"`
	Offset int      `json:"offset,omitempty"`
	Order  string   `json:"order,omitempty"`

	// Record arguments.
	IDs        []int64        `json:"ids,omitempty"`
	Values     map[string]any `json:"values,omitempty"`
	Attributes []string       `json:"attributes,omitempty"`
}

// supportedMethods is the ORM surface the gateway passes through.
var supportedMethods = map[string]bool{
	"search":       true,
	"search_count": true,
	"search_read":  true,
	"read":         true,
	"fields_get":   true,
	"create":       true,
	"write":        true,
	"unlink":       true,
}

// Normalize trims the model and lowercases the method.
func (r *ExecuteRequest) Normalize() {
	r.Model = strings.TrimSpace(r.Model)
	r.Method = strings.ToLower(strings.TrimSpace(r.Method))
}

// Validate enforces all invariants on the request. Also normalizes it.
func (r *ExecuteRequest) Validate() error {
	r.Normalize()

	if r.Model == "" {
		return &ValidationError{Field: "model", Reason: "required"}
	}
	if len(r.Model) > MaxModelBytes {
		return &ValidationError{Field: "model", Reason: fmt.Sprintf("exceeds %d bytes", MaxModelBytes)}
	}
	if r.Method == "" {
		return &ValidationError{Field: "method", Reason: "required"}
	}
	if !supportedMethods[r.Method] {
		return &ValidationError{Field: "method", Reason: fmt.Sprintf("unsupported method %q", r.Method)}
	}
	if r.Limit < 0 {
		return &ValidationError{Field: "limit", Reason: "must not be negative"}
	}
	if r.Offset < 0 {
		return &ValidationError{Field: "offset", Reason: "must not be negative"}
	}
	if len(r.IDs) > MaxIDsCount {
		return &ValidationError{Field: "ids", Reason: fmt.Sprintf("exceeds %d entries", MaxIDsCount)}
	}
	if len(r.Fields) > MaxFieldsCount {
		return &ValidationError{Field: "fields", Reason: fmt.Sprintf("exceeds %d entries", MaxFieldsCount)}
	}

	switch r.Method {
	case "read", "write", "unlink":
		if len(r.IDs) == 0 {
			return &ValidationError{Field: "ids", Reason: "required for " + r.Method}
		}
	}
	switch r.Method {
	case "create", "write":
		if len(r.Values) == 0 {
			return &ValidationError{Field: "values", Reason: "required for " + r.Method}
		}
	}
	return nil
}

// IsWrite reports whether the method mutates records.
func (r *ExecuteRequest) IsWrite() bool {
	switch r.Method {
	case "create", "write", "unlink":
		return true
	}
	return false
}

// ──────────────────────────────────────────────────────────────────────────────
// Responses
// ──────────────────────────────────────────────────────────────────────────────

type ExecuteResponse struct {
	Model      string `json:"model"`
	Method     string `json:"method"`
	Result     any    `json:"result"`
	DurationMS int64  `json:"duration_ms"`
}

// StatusResponse is the health payload of GET /v1/status.
type StatusResponse struct {
	Status     string           `json:"status"`
	Version    string           `json:"version"`
	Connection ConnectionStatus `json:"connection"`
	// Performance carries field-cache and RPC-pool counters when the
	// default backend tracks them.
	Performance any  `json:"performance,omitempty"`
	Tenants     int  `json:"tenants"`
	Audit       bool `json:"audit"`
}

// ConnectionStatus describes the process-default backend, zero-valued in
// pure multi-tenant mode.
type ConnectionStatus struct {
	Connected     bool   `json:"connected"`
	Authenticated bool   `json:"authenticated"`
	URL           string `json:"url,omitempty"`
	Database      string `json:"database,omitempty"`
	UID           int64  `json:"uid,omitempty"`
	ServerVersion string `json:"server_version,omitempty"`
}
