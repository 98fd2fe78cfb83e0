package odoo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
)

// maxResponseBytes caps how much of a server response is read into memory.
const maxResponseBytes = 64 << 20

// JSON2Conn speaks the JSON/2 external API: one POST per ORM call to
// /json/2/{model}/{method}, authenticated with a bearer API key.
//
// Instances are safe for concurrent use. The mutex guards session state and
// the field cache, never an in-flight request.
type JSON2Conn struct {
	cfg Config
	log *slog.Logger

	mu            sync.Mutex
	client        *http.Client
	connected     bool
	authenticated bool
	uid           int64
	database      string
	serverVersion map[string]any
	fieldsCache   map[string]map[string]map[string]any
}

// NewJSON2 builds a JSON/2 connection. It does not touch the network.
func NewJSON2(cfg Config, log *slog.Logger) *JSON2Conn {
	if log == nil {
		log = slog.Default()
	}
	return &JSON2Conn{
		cfg:         cfg.withDefaults(),
		log:         log,
		fieldsCache: make(map[string]map[string]map[string]any),
	}
}

// ─── Lifecycle ────────────────────────────────────────────────────────────────

// Connect probes GET /web/version and keeps the HTTP client on success.
func (c *JSON2Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		c.log.Warn("connect called on connected instance", "url", c.cfg.URL)
		return nil
	}
	c.mu.Unlock()

	client := &http.Client{Timeout: c.cfg.Timeout}
	version, err := c.fetchVersion(ctx, client)
	if err != nil {
		client.CloseIdleConnections()
		return err
	}

	c.mu.Lock()
	c.client = client
	c.connected = true
	c.serverVersion = version
	c.mu.Unlock()

	c.log.Info("connected to Odoo server", "url", c.cfg.URL, "server_version", versionString(version))
	return nil
}

// Disconnect drops the client and clears session state and the field cache.
func (c *JSON2Conn) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		c.log.Warn("disconnect called on disconnected instance", "url", c.cfg.URL)
		return nil
	}
	if c.client != nil {
		c.client.CloseIdleConnections()
	}
	c.client = nil
	c.connected = false
	c.authenticated = false
	c.uid = 0
	c.database = ""
	c.serverVersion = nil
	c.fieldsCache = make(map[string]map[string]map[string]any)
	c.log.Info("disconnected from Odoo server", "url", c.cfg.URL)
	return nil
}

// Authenticate resolves the caller's uid via res.users/context_get. The API
// key itself is the credential; this call proves it works and pins the
// database for subsequent requests.
func (c *JSON2Conn) Authenticate(ctx context.Context, database string) error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return NewError(KindConnection, "not connected to Odoo server")
	}
	if c.cfg.APIKey == "" {
		c.mu.Unlock()
		return NewError(KindConfig, "API key required for JSON/2 authentication")
	}
	db := database
	if db == "" {
		db = c.cfg.Database
	}
	c.database = db
	c.mu.Unlock()

	var userCtx struct {
		UID int64 `json:"uid"`
	}
	err := c.call(ctx, "res.users", "context_get", nil, &userCtx)
	if err == nil && userCtx.UID == 0 {
		err = NewError(KindAuth, "Authentication failed: could not retrieve user ID")
	}

	c.mu.Lock()
	if err != nil {
		c.authenticated = false
		c.uid = 0
		c.mu.Unlock()
		return err
	}
	c.uid = userCtx.UID
	c.authenticated = true
	c.mu.Unlock()

	c.log.Info("authenticated with Odoo server", "url", c.cfg.URL, "database", db, "uid", userCtx.UID)
	return nil
}

func (c *JSON2Conn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *JSON2Conn) IsAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

func (c *JSON2Conn) UID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uid
}

func (c *JSON2Conn) Database() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.database
}

func (c *JSON2Conn) ServerVersion() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverVersion
}

// ─── ORM operations ──────────────────────────────────────────────────────────

func (c *JSON2Conn) Search(ctx context.Context, model string, domain []any, opts *SearchOptions) ([]int64, error) {
	params := map[string]any{"domain": orEmptyDomain(domain)}
	applySearchOptions(params, opts)
	var ids []int64
	if err := c.call(ctx, model, "search", params, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (c *JSON2Conn) SearchCount(ctx context.Context, model string, domain []any) (int64, error) {
	params := map[string]any{"domain": orEmptyDomain(domain)}
	var count int64
	if err := c.call(ctx, model, "search_count", params, &count); err != nil {
		return 0, err
	}
	return count, nil
}

// Read fetches records by id. Results are never cached: record data must
// stay fresh.
func (c *JSON2Conn) Read(ctx context.Context, model string, ids []int64, fields []string) ([]map[string]any, error) {
	params := map[string]any{"ids": ids}
	if len(fields) > 0 {
		params["fields"] = fields
	}
	var records []map[string]any
	if err := c.call(ctx, model, "read", params, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (c *JSON2Conn) SearchRead(ctx context.Context, model string, domain []any, fields []string, opts *SearchOptions) ([]map[string]any, error) {
	params := map[string]any{"domain": orEmptyDomain(domain)}
	if len(fields) > 0 {
		params["fields"] = fields
	}
	applySearchOptions(params, opts)
	var records []map[string]any
	if err := c.call(ctx, model, "search_read", params, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// FieldsGet returns field metadata for a model. Unfiltered results are
// served from and stored in the per-connection cache; attribute-filtered
// calls always go to the server and leave the cache alone.
func (c *JSON2Conn) FieldsGet(ctx context.Context, model string, attributes []string) (map[string]map[string]any, error) {
	if len(attributes) == 0 {
		c.mu.Lock()
		if cached, ok := c.fieldsCache[model]; ok {
			c.mu.Unlock()
			return cached, nil
		}
		c.mu.Unlock()
	}

	params := map[string]any{}
	if len(attributes) > 0 {
		params["attributes"] = attributes
	}
	var fields map[string]map[string]any
	if err := c.call(ctx, model, "fields_get", params, &fields); err != nil {
		return nil, err
	}

	if len(attributes) == 0 {
		c.mu.Lock()
		c.fieldsCache[model] = fields
		c.mu.Unlock()
	}
	return fields, nil
}

// Create inserts one record and returns its id. The model's cached field
// metadata is dropped because creation can materialize studio/computed
// fields.
func (c *JSON2Conn) Create(ctx context.Context, model string, values map[string]any) (int64, error) {
	var raw json.RawMessage
	if err := c.call(ctx, model, "create", map[string]any{"vals_list": []map[string]any{values}}, &raw); err != nil {
		return 0, err
	}

	c.mu.Lock()
	delete(c.fieldsCache, model)
	c.mu.Unlock()

	id, err := decodeCreateResult(raw)
	if err != nil {
		return 0, WrapError(KindServer, err, "unexpected create result for %s", model)
	}
	return id, nil
}

func (c *JSON2Conn) Write(ctx context.Context, model string, ids []int64, values map[string]any) (bool, error) {
	params := map[string]any{"ids": ids, "vals": values}
	var ok bool
	if err := c.call(ctx, model, "write", params, &ok); err != nil {
		return false, err
	}
	return ok, nil
}

func (c *JSON2Conn) Unlink(ctx context.Context, model string, ids []int64) (bool, error) {
	params := map[string]any{"ids": ids}
	var ok bool
	if err := c.call(ctx, model, "unlink", params, &ok); err != nil {
		return false, err
	}
	return ok, nil
}

// ─── Wire helpers ─────────────────────────────────────────────────────────────

// call performs one POST /json/2/{model}/{method} and decodes the 200 body
// into out (out may be nil). Non-200 statuses become taxonomy errors with
// the server's sanitized message.
func (c *JSON2Conn) call(ctx context.Context, model, method string, params map[string]any, out any) error {
	c.mu.Lock()
	if !c.connected || c.client == nil {
		c.mu.Unlock()
		return NewError(KindConnection, "not connected to Odoo server")
	}
	client, database := c.client, c.database
	c.mu.Unlock()

	if params == nil {
		params = map[string]any{}
	}
	body, err := json.Marshal(params)
	if err != nil {
		return WrapError(KindInvalidRequest, err, "invalid arguments for %s/%s", model, method)
	}

	url := fmt.Sprintf("%s/json/2/%s/%s", c.cfg.URL, model, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return WrapError(KindConnection, err, "build request for %s/%s", model, method)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	if database != "" {
		req.Header.Set("X-Odoo-Database", database)
	}

	resp, err := client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return WrapError(KindConnection, err, "Request timeout after %s: %s/%s", c.cfg.Timeout, model, method)
		}
		return WrapError(KindConnection, err, "Request failed for %s/%s", model, method)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return WrapError(KindConnection, err, "read response for %s/%s", model, method)
	}
	if resp.StatusCode != http.StatusOK {
		return statusError(resp.StatusCode, SanitizeMessage(extractServerMessage(resp.StatusCode, raw)))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return WrapError(KindConnection, err, "invalid JSON response from %s/%s", model, method)
	}
	return nil
}

func (c *JSON2Conn) fetchVersion(ctx context.Context, client *http.Client) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL+"/web/version", nil)
	if err != nil {
		return nil, WrapError(KindConnection, err, "build version request for %s", c.cfg.URL)
	}
	resp, err := client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, WrapError(KindConnection, err, "Request timeout after %s: %s/web/version", c.cfg.Timeout, c.cfg.URL)
		}
		return nil, WrapError(KindConnection, err, "Failed to connect to Odoo server at %s", c.cfg.URL)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, NewError(KindConnection, "Failed to connect to Odoo server at %s: HTTP %d", c.cfg.URL, resp.StatusCode)
	}

	var version map[string]any
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&version); err != nil {
		// Reachability is proven; an odd version payload is not fatal.
		c.log.Warn("could not parse server version payload", "url", c.cfg.URL, "error", err)
		return map[string]any{}, nil
	}
	return version, nil
}

// extractServerMessage pulls a human-readable message out of an error body.
// JSON/2 errors carry "message" at the top level; some proxies return plain
// text or an "error" object instead.
func extractServerMessage(status int, body []byte) string {
	var payload map[string]any
	if json.Unmarshal(body, &payload) == nil {
		if m, ok := payload["message"].(string); ok && m != "" {
			return m
		}
		switch e := payload["error"].(type) {
		case string:
			if e != "" {
				return e
			}
		case map[string]any:
			if m, ok := e["message"].(string); ok && m != "" {
				return m
			}
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		return text
	}
	return fmt.Sprintf("HTTP %d", status)
}

func decodeCreateResult(raw json.RawMessage) (int64, error) {
	// The server returns either a bare id or a one-element id list.
	var id int64
	if err := json.Unmarshal(raw, &id); err == nil {
		return id, nil
	}
	var ids []int64
	if err := json.Unmarshal(raw, &ids); err == nil {
		if len(ids) == 0 {
			return 0, fmt.Errorf("empty id list")
		}
		return ids[0], nil
	}
	return 0, fmt.Errorf("neither id nor id list: %s", string(raw))
}

func applySearchOptions(params map[string]any, opts *SearchOptions) {
	if opts == nil {
		return
	}
	if opts.Limit > 0 {
		params["limit"] = opts.Limit
	}
	if opts.Offset > 0 {
		params["offset"] = opts.Offset
	}
	if opts.Order != "" {
		params["order"] = opts.Order
	}
}

func orEmptyDomain(domain []any) []any {
	if domain == nil {
		return []any{}
	}
	return domain
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func versionString(v map[string]any) string {
	if s, ok := v["server_version"].(string); ok {
		return s
	}
	return "unknown"
}
