package odoo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/rpc"
	"strings"
	"sync"

	"github.com/kolo/xmlrpc"
)

// Logical XML-RPC endpoints under {base}/xmlrpc/2/.
const (
	endpointCommon = "common"
	endpointObject = "object"
	endpointDB     = "db"
)

// XMLRPCConn speaks the classic external API. ORM calls go through
// object.execute_kw with the session uid and secret; clients are checked out
// of a bounded per-endpoint pool and field metadata is cached with hit/miss
// accounting.
type XMLRPCConn struct {
	cfg  Config
	log  *slog.Logger
	perf *Perf

	mu            sync.Mutex
	connected     bool
	authenticated bool
	uid           int64
	database      string
	secret        string
	serverVersion map[string]any
}

// NewXMLRPC builds an XML-RPC connection with its own performance layer.
// It does not touch the network.
func NewXMLRPC(cfg Config, log *slog.Logger) *XMLRPCConn {
	return NewXMLRPCWithPerf(cfg, nil, log)
}

// NewXMLRPCWithPerf builds an XML-RPC connection on a shared performance
// layer, so several connections against the same server reuse one client
// pool and one field cache. A nil perf gets a private layer.
func NewXMLRPCWithPerf(cfg Config, perf *Perf, log *slog.Logger) *XMLRPCConn {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()
	if perf == nil {
		perf = NewPerf(cfg.Timeout)
	}
	return &XMLRPCConn{
		cfg:  cfg,
		log:  log,
		perf: perf,
	}
}

// ─── Lifecycle ────────────────────────────────────────────────────────────────

// Connect verifies reachability with common.version.
func (c *XMLRPCConn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		c.log.Warn("connect called on connected instance", "url", c.cfg.URL)
		return nil
	}
	c.mu.Unlock()

	var version any
	if err := c.callEndpoint(ctx, endpointCommon, "version", nil, &version); err != nil {
		return err
	}
	vmap, _ := version.(map[string]any)

	c.mu.Lock()
	c.connected = true
	c.serverVersion = vmap
	c.mu.Unlock()

	c.log.Info("connected to Odoo server", "url", c.cfg.URL, "protocol", "xmlrpc", "server_version", versionString(vmap))
	return nil
}

// Disconnect closes pooled clients and clears session state and the field
// cache.
func (c *XMLRPCConn) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		c.log.Warn("disconnect called on disconnected instance", "url", c.cfg.URL)
		return nil
	}
	c.perf.Pool.Close()
	c.perf.Cache.Clear()
	c.connected = false
	c.authenticated = false
	c.uid = 0
	c.database = ""
	c.secret = ""
	c.serverVersion = nil
	c.log.Info("disconnected from Odoo server", "url", c.cfg.URL)
	return nil
}

// Authenticate logs in through common.authenticate. The password may be an
// API key; the database is taken from the argument, the config, or, as a
// last resort, auto-detected when the server hosts exactly one.
func (c *XMLRPCConn) Authenticate(ctx context.Context, database string) error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return NewError(KindConnection, "not connected to Odoo server")
	}
	c.mu.Unlock()

	username := c.cfg.Username
	secret := c.cfg.Password
	if secret == "" {
		secret = c.cfg.APIKey
	}
	if username == "" || secret == "" {
		return NewError(KindConfig, "username and password (or API key) required for XML-RPC authentication")
	}

	db, err := c.resolveDatabase(ctx, database)
	if err != nil {
		return err
	}

	var result any
	err = c.callEndpoint(ctx, endpointCommon, "authenticate", []any{db, username, secret, map[string]any{}}, &result)
	if err == nil {
		uid, convErr := toInt64(result)
		if convErr != nil || uid == 0 {
			// The server answers false for bad credentials.
			err = NewError(KindAuth, "Authentication failed for user %q on database %q", username, db)
		} else {
			c.mu.Lock()
			c.database = db
			c.secret = secret
			c.uid = uid
			c.authenticated = true
			c.mu.Unlock()
			c.log.Info("authenticated with Odoo server", "url", c.cfg.URL, "database", db, "uid", uid)
			return nil
		}
	}

	c.mu.Lock()
	c.authenticated = false
	c.uid = 0
	c.mu.Unlock()
	return err
}

func (c *XMLRPCConn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *XMLRPCConn) IsAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

func (c *XMLRPCConn) UID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uid
}

func (c *XMLRPCConn) Database() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.database
}

func (c *XMLRPCConn) ServerVersion() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverVersion
}

// PerfStats reports field-cache and client-pool counters.
func (c *XMLRPCConn) PerfStats() PerfStats {
	return c.perf.Stats()
}

// ─── ORM operations ──────────────────────────────────────────────────────────

func (c *XMLRPCConn) Search(ctx context.Context, model string, domain []any, opts *SearchOptions) ([]int64, error) {
	kw := map[string]any{}
	applySearchOptions(kw, opts)
	res, err := c.executeKw(ctx, model, "search", []any{orEmptyDomain(domain)}, kw)
	if err != nil {
		return nil, err
	}
	ids, err := toInt64Slice(res)
	if err != nil {
		return nil, WrapError(KindServer, err, "unexpected search result for %s", model)
	}
	return ids, nil
}

func (c *XMLRPCConn) SearchCount(ctx context.Context, model string, domain []any) (int64, error) {
	res, err := c.executeKw(ctx, model, "search_count", []any{orEmptyDomain(domain)}, nil)
	if err != nil {
		return 0, err
	}
	count, err := toInt64(res)
	if err != nil {
		return 0, WrapError(KindServer, err, "unexpected search_count result for %s", model)
	}
	return count, nil
}

func (c *XMLRPCConn) Read(ctx context.Context, model string, ids []int64, fields []string) ([]map[string]any, error) {
	kw := map[string]any{}
	if len(fields) > 0 {
		kw["fields"] = fields
	}
	res, err := c.executeKw(ctx, model, "read", []any{ids}, kw)
	if err != nil {
		return nil, err
	}
	records, err := toRecords(res)
	if err != nil {
		return nil, WrapError(KindServer, err, "unexpected read result for %s", model)
	}
	return records, nil
}

func (c *XMLRPCConn) SearchRead(ctx context.Context, model string, domain []any, fields []string, opts *SearchOptions) ([]map[string]any, error) {
	kw := map[string]any{}
	if len(fields) > 0 {
		kw["fields"] = fields
	}
	applySearchOptions(kw, opts)
	res, err := c.executeKw(ctx, model, "search_read", []any{orEmptyDomain(domain)}, kw)
	if err != nil {
		return nil, err
	}
	records, err := toRecords(res)
	if err != nil {
		return nil, WrapError(KindServer, err, "unexpected search_read result for %s", model)
	}
	return records, nil
}

// FieldsGet mirrors the JSON/2 caching contract: unfiltered calls go through
// the shared cache (recording hits and misses), filtered calls bypass it.
func (c *XMLRPCConn) FieldsGet(ctx context.Context, model string, attributes []string) (map[string]map[string]any, error) {
	if len(attributes) == 0 {
		if cached, ok := c.perf.Cache.Get(model); ok {
			return cached, nil
		}
	}

	kw := map[string]any{}
	if len(attributes) > 0 {
		kw["attributes"] = attributes
	}
	res, err := c.executeKw(ctx, model, "fields_get", []any{}, kw)
	if err != nil {
		return nil, err
	}
	fields, err := toFieldsMap(res)
	if err != nil {
		return nil, WrapError(KindServer, err, "unexpected fields_get result for %s", model)
	}

	if len(attributes) == 0 {
		c.perf.Cache.Put(model, fields)
	}
	return fields, nil
}

func (c *XMLRPCConn) Create(ctx context.Context, model string, values map[string]any) (int64, error) {
	res, err := c.executeKw(ctx, model, "create", []any{values}, nil)
	if err != nil {
		return 0, err
	}
	c.perf.Cache.Invalidate(model)

	if list, ok := res.([]any); ok {
		if len(list) == 0 {
			return 0, NewError(KindServer, "unexpected create result for %s: empty id list", model)
		}
		res = list[0]
	}
	id, err := toInt64(res)
	if err != nil {
		return 0, WrapError(KindServer, err, "unexpected create result for %s", model)
	}
	return id, nil
}

func (c *XMLRPCConn) Write(ctx context.Context, model string, ids []int64, values map[string]any) (bool, error) {
	res, err := c.executeKw(ctx, model, "write", []any{ids, values}, nil)
	if err != nil {
		return false, err
	}
	return toBool(res), nil
}

func (c *XMLRPCConn) Unlink(ctx context.Context, model string, ids []int64) (bool, error) {
	res, err := c.executeKw(ctx, model, "unlink", []any{ids}, nil)
	if err != nil {
		return false, err
	}
	return toBool(res), nil
}

// ─── Wire helpers ─────────────────────────────────────────────────────────────

// executeKw runs object.execute_kw(db, uid, secret, model, method, args, kw).
func (c *XMLRPCConn) executeKw(ctx context.Context, model, method string, args []any, kw map[string]any) (any, error) {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil, NewError(KindConnection, "not connected to Odoo server")
	}
	if !c.authenticated {
		c.mu.Unlock()
		return nil, NewError(KindAuth, "not authenticated with Odoo server")
	}
	db, uid, secret := c.database, c.uid, c.secret
	c.mu.Unlock()

	if kw == nil {
		kw = map[string]any{}
	}
	var result any
	params := []any{db, uid, secret, model, method, args, kw}
	if err := c.callEndpoint(ctx, endpointObject, "execute_kw", params, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// callEndpoint checks a client out of the pool, performs one call, and
// returns the client. Clients whose transport failed are discarded; a server
// fault leaves the transport healthy, so those are re-pooled.
func (c *XMLRPCConn) callEndpoint(ctx context.Context, endpoint, method string, params []any, out any) error {
	if err := ctx.Err(); err != nil {
		return WrapError(KindConnection, err, "request cancelled before %s.%s", endpoint, method)
	}
	cl, err := c.perf.Pool.Acquire(ctx, endpoint, c.endpointURL(endpoint))
	if err != nil {
		return err
	}

	err = cl.Call(method, anySlice(params), out)
	if err != nil {
		if msg, ok := faultMessage(err); ok {
			c.perf.Pool.Release(endpoint, cl)
			return classifyFault(msg)
		}
		c.perf.Pool.Discard(endpoint, cl)
		if isTimeout(err) {
			return WrapError(KindConnection, err, "Request timeout after %s: %s.%s", c.cfg.Timeout, endpoint, method)
		}
		return WrapError(KindConnection, err, "XML-RPC call %s.%s failed", endpoint, method)
	}
	c.perf.Pool.Release(endpoint, cl)
	return nil
}

// faultMessage extracts the fault text from a server-reported fault.
// kolo/xmlrpc surfaces faults either as a typed FaultError or, flattened by
// net/rpc, as a ServerError string; both mean the server answered and the
// transport is still healthy.
func faultMessage(err error) (string, bool) {
	var fault xmlrpc.FaultError
	if errors.As(err, &fault) {
		return fault.String, true
	}
	var se rpc.ServerError
	if errors.As(err, &se) {
		return string(se), true
	}
	return "", false
}

func (c *XMLRPCConn) endpointURL(name string) string {
	return c.cfg.URL + "/xmlrpc/2/" + name
}

// resolveDatabase picks the database for authentication. Without a
// configured name it asks the db endpoint and accepts a single-database
// server.
func (c *XMLRPCConn) resolveDatabase(ctx context.Context, database string) (string, error) {
	if database != "" {
		return database, nil
	}
	if c.cfg.Database != "" {
		return c.cfg.Database, nil
	}

	var result any
	if err := c.callEndpoint(ctx, endpointDB, "list", nil, &result); err != nil {
		return "", WrapError(KindConfig, err, "database not configured and auto-detection failed")
	}
	names, err := toStringSlice(result)
	if err != nil {
		return "", WrapError(KindConfig, err, "database not configured and the database list was unreadable")
	}
	switch len(names) {
	case 0:
		return "", NewError(KindConfig, "database not configured and the server lists none")
	case 1:
		c.log.Info("auto-detected database", "url", c.cfg.URL, "database", names[0])
		return names[0], nil
	default:
		return "", NewError(KindConfig, "database not configured and the server lists %d; set one explicitly", len(names))
	}
}

// classifyFault maps Odoo fault strings onto the error taxonomy. The server
// reports exceptions by name inside the fault text.
func classifyFault(fault string) *Error {
	msg := SanitizeMessage(fault)
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "accessdenied") || strings.Contains(lower, "access denied"):
		return NewError(KindAuth, "Authentication failed: %s", msg)
	case strings.Contains(lower, "accesserror"):
		return NewError(KindAccessDenied, "Access denied: %s", msg)
	case strings.Contains(lower, "does not exist") || strings.Contains(lower, "doesn't exist") || strings.Contains(lower, "keyerror"):
		return NewError(KindNotFound, "Not found: %s", msg)
	case strings.Contains(lower, "validationerror") || strings.Contains(lower, "valueerror") || strings.Contains(lower, "usererror"):
		return NewError(KindInvalidRequest, "Invalid request: %s", msg)
	default:
		return NewError(KindServer, "Server error: %s", msg)
	}
}

// anySlice keeps a nil parameter list nil so the call carries zero params.
func anySlice(params []any) any {
	if params == nil {
		return nil
	}
	return params
}

// ─── Result coercion ─────────────────────────────────────────────────────────
// The XML-RPC decoder hands back any-typed values: int64 for integers,
// []any for arrays, map[string]any for structs.

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("unexpected numeric type %T", v)
	}
}

func toInt64Slice(v any) ([]int64, error) {
	if v == nil {
		return nil, nil
	}
	raw, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("unexpected list type %T", v)
	}
	out := make([]int64, 0, len(raw))
	for _, item := range raw {
		n, err := toInt64(item)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func toStringSlice(v any) ([]string, error) {
	if v == nil {
		return nil, nil
	}
	raw, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("unexpected list type %T", v)
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected element type %T", item)
		}
		out = append(out, s)
	}
	return out, nil
}

func toRecords(v any) ([]map[string]any, error) {
	if v == nil {
		return nil, nil
	}
	raw, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("unexpected record list type %T", v)
	}
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		rec, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("unexpected record type %T", item)
		}
		out = append(out, rec)
	}
	return out, nil
}

func toFieldsMap(v any) (map[string]map[string]any, error) {
	raw, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("unexpected fields type %T", v)
	}
	out := make(map[string]map[string]any, len(raw))
	for name, item := range raw {
		meta, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("unexpected metadata type %T for field %s", item, name)
		}
		out[name] = meta
	}
	return out, nil
}

func toBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case int64:
		return b != 0
	default:
		return false
	}
}
