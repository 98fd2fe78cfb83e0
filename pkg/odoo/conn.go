// Package odoo implements the connection layer for Odoo servers: one
// capability interface with a JSON/2 backend and an XML-RPC backend behind
// it, plus the field-metadata cache and client pooling the XML-RPC protocol
// needs to stay usable.
package odoo

import (
	"context"
	"log/slog"
)

// Conn is the capability surface both backends implement. Callers hold a
// Conn and never branch on the protocol underneath.
type Conn interface {
	// Connect verifies the server is reachable and prepares the transport.
	// Calling Connect on a connected instance logs a warning and returns nil.
	Connect(ctx context.Context) error
	// Disconnect releases the transport and clears all session state,
	// including cached field metadata.
	Disconnect() error
	// Authenticate resolves the caller's identity. database overrides the
	// configured one; empty means "use the configured default".
	Authenticate(ctx context.Context, database string) error

	IsConnected() bool
	IsAuthenticated() bool
	// UID returns the authenticated user id, 0 before authentication.
	UID() int64
	Database() string
	// ServerVersion returns the version payload captured during Connect,
	// nil before it.
	ServerVersion() map[string]any

	Search(ctx context.Context, model string, domain []any, opts *SearchOptions) ([]int64, error)
	SearchCount(ctx context.Context, model string, domain []any) (int64, error)
	Read(ctx context.Context, model string, ids []int64, fields []string) ([]map[string]any, error)
	SearchRead(ctx context.Context, model string, domain []any, fields []string, opts *SearchOptions) ([]map[string]any, error)
	FieldsGet(ctx context.Context, model string, attributes []string) (map[string]map[string]any, error)
	Create(ctx context.Context, model string, values map[string]any) (int64, error)
	Write(ctx context.Context, model string, ids []int64, values map[string]any) (bool, error)
	Unlink(ctx context.Context, model string, ids []int64) (bool, error)
}

// SearchOptions carries the optional arguments of search and search_read.
// Zero values are unset and never serialized.
type SearchOptions struct {
	Limit  int
	Offset int
	Order  string
}

// StatsReporter is implemented by backends that track cache and pool
// statistics. The JSON/2 backend does not need them.
type StatsReporter interface {
	PerfStats() PerfStats
}

// New returns the backend selected by cfg.Protocol. The connection is not
// yet connected. A nil log falls back to slog.Default.
func New(cfg Config, log *slog.Logger) (Conn, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	switch cfg.Protocol {
	case ProtocolXMLRPC:
		return NewXMLRPC(cfg, log), nil
	default:
		return NewJSON2(cfg, log), nil
	}
}
