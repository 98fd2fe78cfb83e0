// Package tenant pools authenticated Odoo connections per (endpoint,
// credential) pair and resolves which connection each inbound request uses.
package tenant

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync"

	"github.com/odoogate/odoogate/pkg/odoo"
)

// Key identifies one tenant: a server endpoint plus the credential used
// against it.
type Key struct {
	Endpoint   string
	Credential string
}

// Fingerprint is a log-safe digest of the key. The raw credential never
// reaches logs or API responses.
func (k Key) Fingerprint() string {
	sum := sha256.Sum256([]byte(k.Endpoint + "|" + k.Credential))
	return hex.EncodeToString(sum[:])[:12]
}

// Pool maps tenant keys to live, authenticated connections. The mutex spans
// the whole create-or-fetch, so concurrent first requests for an unseen
// tenant trigger exactly one connect/authenticate sequence and at most one
// connection ever exists per key.
type Pool struct {
	base odoo.Config
	log  *slog.Logger

	mu    sync.Mutex
	conns map[Key]odoo.Conn
}

// NewPool builds a pool. base supplies timeout and result-limit settings for
// tenant connections; its URL and credential fields are overridden per key.
func NewPool(base odoo.Config, log *slog.Logger) *Pool {
	if log == nil {
		log = slog.Default()
	}
	return &Pool{
		base:  base,
		log:   log,
		conns: make(map[Key]odoo.Conn),
	}
}

// GetOrCreate returns the connection for key, creating and authenticating it
// on first use. Tenant connections always speak JSON/2 with the credential as
// API key; the server resolves the database. A creation failure leaves no
// entry behind, so the next call retries from scratch.
func (p *Pool) GetOrCreate(ctx context.Context, key Key) (odoo.Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if conn, ok := p.conns[key]; ok {
		return conn, nil
	}

	cfg := p.base
	cfg.URL = key.Endpoint
	cfg.APIKey = key.Credential
	cfg.Username = ""
	cfg.Password = ""
	cfg.Database = ""
	cfg.Protocol = odoo.ProtocolJSON2

	conn, err := odoo.New(cfg, p.log)
	if err != nil {
		return nil, err
	}
	if err := conn.Connect(ctx); err != nil {
		return nil, err
	}
	if err := conn.Authenticate(ctx, ""); err != nil {
		_ = conn.Disconnect()
		return nil, err
	}

	p.conns[key] = conn
	p.log.Info("created tenant connection", "tenant", key.Fingerprint(), "endpoint", key.Endpoint)
	return conn, nil
}

// Len reports how many tenant connections are live.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

// Shutdown disconnects every pooled connection. The pool stays usable;
// subsequent GetOrCreate calls start fresh.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, conn := range p.conns {
		if err := conn.Disconnect(); err != nil {
			p.log.Warn("tenant disconnect failed", "tenant", key.Fingerprint(), "error", err)
		}
	}
	p.conns = make(map[Key]odoo.Conn)
}
