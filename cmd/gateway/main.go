// Gateway is the HTTP front door for LLM tool calls against Odoo. It binds
// each request to a backend connection (the process default or a pooled
// per-tenant one), verifies bearer tokens, enforces per-tenant rate limits,
// and records write operations to the audit trail.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/odoogate/odoogate/pkg/audit"
	"github.com/odoogate/odoogate/pkg/auth"
	"github.com/odoogate/odoogate/pkg/config"
	"github.com/odoogate/odoogate/pkg/odoo"
	gwotel "github.com/odoogate/odoogate/pkg/otel"
	"github.com/odoogate/odoogate/pkg/tenant"
	"github.com/odoogate/odoogate/pkg/types"
)

const (
	serverVersion   = "0.5.0"
	maxBodyBytes    = 1 << 20 // 1 MB
	maxRateLimiters = 10_000
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// ── OpenTelemetry ────────────────────────────────────────────────────
	otelShutdown, err := gwotel.Setup(ctx, gwotel.Config{
		ServiceName:    config.EnvOr("OTEL_SERVICE_NAME", "odoo-gateway"),
		ServiceVersion: serverVersion,
		OTLPEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		MetricsEnabled: true,
	})
	if err != nil {
		log.Error("otel setup failed", "error", err)
	} else {
		defer otelShutdown(context.Background()) //nolint:errcheck // best-effort shutdown
	}

	// ── Default Odoo backend ─────────────────────────────────────────────
	odooTimeout := time.Duration(config.EnvOrInt("ODOO_TIMEOUT_SECONDS", 30)) * time.Second
	baseCfg := odoo.Config{
		URL:      os.Getenv("ODOO_URL"),
		Database: os.Getenv("ODOO_DB"),
		APIKey:   os.Getenv("ODOO_API_KEY"),
		Username: os.Getenv("ODOO_USER"),
		Password: os.Getenv("ODOO_PASSWORD"),
		Protocol: odoo.Protocol(config.EnvOr("ODOO_API_VERSION", string(odoo.ProtocolJSON2))),
		Timeout:  odooTimeout,
	}
	multiTenant := config.EnvOrBool("GATEWAY_MULTI_TENANT", false)

	var defaultConn odoo.Conn
	if baseCfg.URL != "" {
		conn, err := odoo.New(baseCfg, log)
		if err != nil {
			log.Error("odoo config invalid", "error", err)
			os.Exit(1)
		}
		if err := conn.Connect(ctx); err != nil {
			log.Error("odoo connect failed", "error", err)
			os.Exit(1)
		}
		if err := conn.Authenticate(ctx, ""); err != nil {
			log.Error("odoo authenticate failed", "error", err)
			os.Exit(1)
		}
		defaultConn = conn
		log.Info("connected to odoo",
			"url", baseCfg.URL,
			"protocol", string(baseCfg.Protocol),
			"database", conn.Database(),
			"uid", conn.UID(),
		)
	} else if !multiTenant {
		log.Error("ODOO_URL is required unless GATEWAY_MULTI_TENANT=true")
		os.Exit(1)
	}

	var pool *tenant.Pool
	if multiTenant {
		pool = tenant.NewPool(baseCfg, log)
	}

	// ── Audit trail (optional) ───────────────────────────────────────────
	// The gateway serves reads and writes either way; a missing or broken
	// audit database only disables the trail.
	var recorder *audit.Recorder
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		pgPool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			log.Error("audit database unavailable, continuing without audit trail", "error", err)
		} else {
			store := audit.NewStore(pgPool)
			if err := store.EnsureSchema(ctx); err != nil {
				log.Error("audit schema setup failed, continuing without audit trail", "error", err)
				pgPool.Close()
			} else {
				recorder = audit.NewRecorder(store, log)
				defer pgPool.Close()
			}
		}
	}

	// ── OAuth token verification (optional) ──────────────────────────────
	issuerURL := os.Getenv("OAUTH_ISSUER_URL")
	var verifier *auth.Verifier
	if introspectionURL := os.Getenv("OAUTH_INTROSPECTION_URL"); introspectionURL != "" {
		clientID := os.Getenv("OAUTH_CLIENT_ID")
		clientSecret := os.Getenv("OAUTH_CLIENT_SECRET")
		if clientID == "" || clientSecret == "" {
			log.Error("OAUTH_INTROSPECTION_URL is set but OAUTH_CLIENT_ID or OAUTH_CLIENT_SECRET is missing")
			os.Exit(1)
		}
		verifier = auth.NewVerifier(auth.VerifierConfig{
			IntrospectionURL: introspectionURL,
			ClientID:         clientID,
			ClientSecret:     clientSecret,
			ExpectedAudience: os.Getenv("OAUTH_AUDIENCE"),
			RequiredScopes:   strings.Fields(os.Getenv("OAUTH_REQUIRED_SCOPES")),
		}, log)
	}

	gw := &Gateway{
		log:            log,
		defaultConn:    defaultConn,
		pool:           pool,
		odooURL:        baseCfg.URL,
		defaultLimit:   config.EnvOrInt("ODOO_DEFAULT_LIMIT", odoo.DefaultLimit),
		maxLimit:       config.EnvOrInt("ODOO_MAX_LIMIT", odoo.DefaultMaxLimit),
		rateLimiters:   make(map[string]*rate.Limiter),
		perTenantLimit: config.EnvOrInt("RATE_LIMIT_PER_TENANT", 100),
	}
	if recorder != nil {
		gw.audit = recorder
	}

	// ── Router ───────────────────────────────────────────────────────────
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(odooTimeout + 5*time.Second))
	r.Use(middleware.Logger)
	if verifier != nil {
		r.Use(auth.BearerAuth(verifier))
	}
	if multiTenant {
		r.Use(tenant.Resolver(pool, defaultConn, log))
	} else {
		r.Use(tenant.Bind(defaultConn))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Get("/readyz", gw.HandleReadyz)
	r.Get("/v1/status", gw.HandleStatus)
	r.Post("/v1/execute", gw.HandleExecute)
	if issuerURL != "" {
		r.Get("/.well-known/oauth-authorization-server", oauthMetadataHandler(issuerURL))
	}

	// ── Metrics (internal) ───────────────────────────────────────────────
	metricsAddr := config.EnvOr("METRICS_ADDR", "127.0.0.1:9090")
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:              metricsAddr,
		Handler:           metricsMux,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       30 * time.Second,
	}
	go func() {
		log.Info("metrics server starting", "addr", metricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server error", "error", err)
		}
	}()

	// ── Server ───────────────────────────────────────────────────────────
	addr := config.EnvOr("GATEWAY_ADDR", ":8080")
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      odooTimeout + 10*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("gateway starting", "addr", addr, "multi_tenant", multiTenant)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down gateway")
	shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutCancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		log.Error("server shutdown error", "error", err)
	}
	if err := metricsSrv.Shutdown(shutCtx); err != nil {
		log.Error("metrics server shutdown error", "error", err)
	}
	if pool != nil {
		pool.Shutdown()
	}
	if defaultConn != nil {
		if err := defaultConn.Disconnect(); err != nil {
			log.Error("odoo disconnect error", "error", err)
		}
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Gateway handler
// ──────────────────────────────────────────────────────────────────────────────

type Gateway struct {
	log         *slog.Logger
	defaultConn odoo.Conn    // nil in pure multi-tenant mode
	pool        *tenant.Pool // nil in single-tenant mode
	audit       auditRecorder
	odooURL     string

	defaultLimit int
	maxLimit     int

	rateLimiters   map[string]*rate.Limiter
	rlOrder        []string
	rlMu           sync.Mutex
	perTenantLimit int
}

type auditRecorder interface {
	Record(context.Context, *audit.Entry) error
}

// HandleExecute is POST /v1/execute.
func (gw *Gateway) HandleExecute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	conn := tenant.FromContext(ctx)
	if conn == nil {
		types.ErrUnauthorized("no backend connection; supply endpoint and credential").WriteJSON(w)
		return
	}

	label := tenant.FromContextLabel(ctx)
	if label == "" {
		label = tenant.DefaultTenant
	}
	if !gw.allowRate(label) {
		types.ErrRateLimited().WriteJSON(w)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req types.ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		types.ErrBadRequest("invalid JSON body").WriteJSON(w)
		return
	}
	if err := req.Validate(); err != nil {
		types.ErrValidation(err).WriteJSON(w)
		return
	}

	// Search limits are resolved here so every backend sees explicit values.
	switch req.Method {
	case "search", "search_read":
		if req.Limit == 0 {
			req.Limit = gw.defaultLimit
		}
		if req.Limit > gw.maxLimit {
			req.Limit = gw.maxLimit
		}
	}

	start := time.Now()
	result, err := dispatch(ctx, conn, &req)
	duration := time.Since(start)

	if req.IsWrite() && gw.audit != nil {
		gw.recordWrite(ctx, label, &req, result, err, duration)
	}

	if err != nil {
		gw.log.ErrorContext(ctx, "execute failed",
			"model", req.Model,
			"method", req.Method,
			"tenant", label,
			"error", err,
		)
		types.FromConnError(err).WriteJSON(w)
		return
	}

	resp := types.ExecuteResponse{
		Model:      req.Model,
		Method:     req.Method,
		Result:     result,
		DurationMS: duration.Milliseconds(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		gw.log.ErrorContext(ctx, "response encode failed", "error", err)
	}
}

// dispatch maps a validated request onto the connection capability surface.
func dispatch(ctx context.Context, conn odoo.Conn, req *types.ExecuteRequest) (any, error) {
	opts := &odoo.SearchOptions{Limit: req.Limit, Offset: req.Offset, Order: req.Order}
	switch req.Method {
	case "search":
		return conn.Search(ctx, req.Model, req.Domain, opts)
	case "search_count":
		return conn.SearchCount(ctx, req.Model, req.Domain)
	case "search_read":
		return conn.SearchRead(ctx, req.Model, req.Domain, req.Fields, opts)
	case "read":
		return conn.Read(ctx, req.Model, req.IDs, req.Fields)
	case "fields_get":
		return conn.FieldsGet(ctx, req.Model, req.Attributes)
	case "create":
		return conn.Create(ctx, req.Model, req.Values)
	case "write":
		return conn.Write(ctx, req.Model, req.IDs, req.Values)
	case "unlink":
		return conn.Unlink(ctx, req.Model, req.IDs)
	default:
		// Validate rejects unknown methods before we get here.
		return nil, odoo.NewError(odoo.KindInvalidRequest, "unsupported method %q", req.Method)
	}
}

// recordWrite appends a write operation to the audit trail. Failures are
// logged, never surfaced: the write already happened upstream.
func (gw *Gateway) recordWrite(ctx context.Context, label string, req *types.ExecuteRequest, result any, execErr error, duration time.Duration) {
	entry := &audit.Entry{
		Tenant:     label,
		Model:      req.Model,
		Method:     req.Method,
		RecordIDs:  req.IDs,
		Values:     req.Values,
		Status:     audit.StatusOK,
		DurationMS: duration.Milliseconds(),
	}
	if req.Method == "create" && execErr == nil {
		if id, ok := result.(int64); ok {
			entry.RecordIDs = []int64{id}
		}
	}
	if execErr != nil {
		entry.Status = audit.StatusError
		entry.Error = execErr.Error()
	}
	if err := gw.audit.Record(ctx, entry); err != nil {
		gw.log.ErrorContext(ctx, "audit record failed",
			"model", req.Model,
			"method", req.Method,
			"tenant", label,
			"error", err,
		)
	}
}

// HandleStatus is GET /v1/status.
func (gw *Gateway) HandleStatus(w http.ResponseWriter, r *http.Request) {
	resp := types.StatusResponse{
		Status:  "ok",
		Version: serverVersion,
		Audit:   gw.audit != nil,
	}
	if gw.pool != nil {
		resp.Tenants = gw.pool.Len()
	}
	if gw.defaultConn != nil {
		resp.Connection = types.ConnectionStatus{
			Connected:     gw.defaultConn.IsConnected(),
			Authenticated: gw.defaultConn.IsAuthenticated(),
			URL:           gw.odooURL,
			Database:      gw.defaultConn.Database(),
			UID:           gw.defaultConn.UID(),
		}
		if v := gw.defaultConn.ServerVersion(); v != nil {
			if s, ok := v["server_version"].(string); ok {
				resp.Connection.ServerVersion = s
			}
		}
		if !gw.defaultConn.IsAuthenticated() {
			resp.Status = "degraded"
		}
		if reporter, ok := gw.defaultConn.(odoo.StatsReporter); ok {
			resp.Performance = reporter.PerfStats()
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		gw.log.ErrorContext(r.Context(), "response encode failed", "error", err)
	}
}

// HandleReadyz is GET /readyz. Ready means requests have somewhere to go:
// an authenticated default backend, or multi-tenant mode where connections
// are created on demand.
func (gw *Gateway) HandleReadyz(w http.ResponseWriter, _ *http.Request) {
	ready := gw.pool != nil
	if gw.defaultConn != nil {
		ready = gw.defaultConn.IsAuthenticated()
	}
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("NOT READY"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// oauthMetadataHandler serves RFC 8414 authorization server metadata so MCP
// clients can discover the issuer's endpoints through the gateway.
func oauthMetadataHandler(issuer string) http.HandlerFunc {
	issuer = strings.TrimRight(issuer, "/")
	body, _ := json.Marshal(map[string]any{
		"issuer":                                issuer,
		"authorization_endpoint":                issuer + "/oauth/v2/authorize",
		"token_endpoint":                        issuer + "/oauth/v2/token",
		"registration_endpoint":                 nil,
		"scopes_supported":                      []string{"openid", "profile", "email"},
		"response_types_supported":              []string{"code"},
		"grant_types_supported":                 []string{"authorization_code", "refresh_token"},
		"token_endpoint_auth_methods_supported": []string{"none"},
		"code_challenge_methods_supported":      []string{"S256"},
	})
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Rate limiting (bounded map with eviction)
// ──────────────────────────────────────────────────────────────────────────────

func (gw *Gateway) allowRate(tenantLabel string) bool {
	gw.rlMu.Lock()
	defer gw.rlMu.Unlock()

	lim, ok := gw.rateLimiters[tenantLabel]
	if ok {
		// Move to end of LRU order.
		for i, k := range gw.rlOrder {
			if k == tenantLabel {
				gw.rlOrder = append(gw.rlOrder[:i], gw.rlOrder[i+1:]...)
				break
			}
		}
		gw.rlOrder = append(gw.rlOrder, tenantLabel)
		return lim.Allow()
	}

	if len(gw.rateLimiters) >= maxRateLimiters {
		oldest := gw.rlOrder[0]
		gw.rlOrder = gw.rlOrder[1:]
		delete(gw.rateLimiters, oldest)
	}

	lim = rate.NewLimiter(rate.Limit(gw.perTenantLimit), gw.perTenantLimit*2)
	gw.rateLimiters[tenantLabel] = lim
	gw.rlOrder = append(gw.rlOrder, tenantLabel)
	return lim.Allow()
}
