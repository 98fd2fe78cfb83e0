package odoo

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/kolo/xmlrpc"
)

// maxClientsPerEndpoint bounds how many XML-RPC clients exist per logical
// endpoint (db, common, object).
const maxClientsPerEndpoint = 2

// Perf is the performance layer of the XML-RPC backend: a field-metadata
// cache and a bounded pool of reusable RPC clients. One Perf may be shared
// by several connections against the same server so they reuse clients
// instead of duplicating them.
type Perf struct {
	Cache *FieldCache
	Pool  *RPCPool
}

// NewPerf builds a performance layer whose pooled clients use the given
// per-call timeout.
func NewPerf(timeout time.Duration) *Perf {
	return &Perf{Cache: NewFieldCache(), Pool: NewRPCPool(timeout)}
}

// Stats snapshots cache and pool counters for health reporting.
func (p *Perf) Stats() PerfStats {
	return PerfStats{FieldCache: p.Cache.Stats(), Pool: p.Pool.Stats()}
}

// ─── Field cache ─────────────────────────────────────────────────────────────

// FieldCache holds unfiltered fields_get results per model and counts
// lookups. Attribute-filtered metadata never goes through it.
type FieldCache struct {
	mu      sync.Mutex
	entries map[string]map[string]map[string]any
	hits    int64
	misses  int64
}

// CacheStats is a point-in-time snapshot of the field cache counters.
type CacheStats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
	Entries int     `json:"entries"`
}

func NewFieldCache() *FieldCache {
	return &FieldCache{entries: make(map[string]map[string]map[string]any)}
}

// Get returns the cached metadata for model, recording a hit or a miss.
func (fc *FieldCache) Get(model string) (map[string]map[string]any, bool) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fields, ok := fc.entries[model]
	if ok {
		fc.hits++
	} else {
		fc.misses++
	}
	return fields, ok
}

// Put stores the full metadata for model.
func (fc *FieldCache) Put(model string, fields map[string]map[string]any) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.entries[model] = fields
}

// Invalidate drops the entry for model, if any.
func (fc *FieldCache) Invalidate(model string) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	delete(fc.entries, model)
}

// Clear drops every entry. Counters survive so post-mortem stats stay
// meaningful.
func (fc *FieldCache) Clear() {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.entries = make(map[string]map[string]map[string]any)
}

func (fc *FieldCache) Stats() CacheStats {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	s := CacheStats{Hits: fc.hits, Misses: fc.misses, Entries: len(fc.entries)}
	if total := fc.hits + fc.misses; total > 0 {
		s.HitRate = float64(fc.hits) / float64(total)
	}
	return s
}

// ─── XML-RPC client pool ─────────────────────────────────────────────────────

// RPCPool reuses XML-RPC clients per logical endpoint, creating at most
// maxClientsPerEndpoint each. Callers must Release (or Discard) every
// acquired client.
type RPCPool struct {
	mu      sync.Mutex
	max     int
	timeout time.Duration
	eps     map[string]*endpointPool
	reused  int64
}

type endpointPool struct {
	idle    chan *xmlrpc.Client
	created int
}

// PoolStats is a point-in-time snapshot of the pool counters.
type PoolStats struct {
	ConnectionsReused int64 `json:"connections_reused"`
	ActiveConnections int   `json:"active_connections"`
	Endpoints         int   `json:"endpoints"`
}

// NewRPCPool builds a pool whose clients use the given per-call timeout.
func NewRPCPool(timeout time.Duration) *RPCPool {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &RPCPool{
		max:     maxClientsPerEndpoint,
		timeout: timeout,
		eps:     make(map[string]*endpointPool),
	}
}

// Acquire returns a client for the endpoint, reusing an idle one when
// possible. When every client is checked out it blocks until one is
// released or ctx is done.
func (p *RPCPool) Acquire(ctx context.Context, endpoint, url string) (*xmlrpc.Client, error) {
	p.mu.Lock()
	ep, ok := p.eps[endpoint]
	if !ok {
		ep = &endpointPool{idle: make(chan *xmlrpc.Client, p.max)}
		p.eps[endpoint] = ep
	}

	select {
	case cl := <-ep.idle:
		p.reused++
		p.mu.Unlock()
		return cl, nil
	default:
	}

	if ep.created < p.max {
		ep.created++
		p.mu.Unlock()
		cl, err := xmlrpc.NewClient(url, newRPCTransport(p.timeout))
		if err != nil {
			p.mu.Lock()
			ep.created--
			p.mu.Unlock()
			return nil, WrapError(KindConnection, err, "create XML-RPC client for %s", url)
		}
		return cl, nil
	}
	p.mu.Unlock()

	select {
	case cl := <-ep.idle:
		p.mu.Lock()
		p.reused++
		p.mu.Unlock()
		return cl, nil
	case <-ctx.Done():
		return nil, WrapError(KindConnection, ctx.Err(), "waiting for XML-RPC client for %s", endpoint)
	}
}

// Release returns a healthy client to the pool.
func (p *RPCPool) Release(endpoint string, cl *xmlrpc.Client) {
	if cl == nil {
		return
	}
	p.mu.Lock()
	ep := p.eps[endpoint]
	p.mu.Unlock()
	if ep == nil {
		_ = cl.Close()
		return
	}
	select {
	case ep.idle <- cl:
	default:
		// Pool already full for this endpoint; drop the extra client.
		p.mu.Lock()
		ep.created--
		p.mu.Unlock()
		_ = cl.Close()
	}
}

// Discard closes a client whose transport failed instead of re-pooling it.
func (p *RPCPool) Discard(endpoint string, cl *xmlrpc.Client) {
	if cl == nil {
		return
	}
	p.mu.Lock()
	if ep := p.eps[endpoint]; ep != nil {
		ep.created--
	}
	p.mu.Unlock()
	_ = cl.Close()
}

// Close drops every idle client. Reuse counters survive for post-mortem
// stats.
func (p *RPCPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ep := range p.eps {
		for len(ep.idle) > 0 {
			cl := <-ep.idle
			_ = cl.Close()
			ep.created--
		}
	}
	p.eps = make(map[string]*endpointPool)
}

func (p *RPCPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := PoolStats{ConnectionsReused: p.reused, Endpoints: len(p.eps)}
	for _, ep := range p.eps {
		s.ActiveConnections += ep.created
	}
	return s
}

// PerfStats bundles cache and pool statistics for health reporting.
type PerfStats struct {
	FieldCache CacheStats `json:"field_cache"`
	Pool       PoolStats  `json:"connection_pool"`
}

// newRPCTransport bounds dial, TLS, and response-header waits so XML-RPC
// calls cannot hang past the configured timeout.
func newRPCTransport(timeout time.Duration) http.RoundTripper {
	return &http.Transport{
		DialContext:           (&net.Dialer{Timeout: timeout}).DialContext,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
	}
}
