package tenant

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/odoogate/odoogate/pkg/odoo"
)

type contextKey string

const bindingKey contextKey = "tenant_binding"

// DefaultTenant labels requests served by the process-default connection.
const DefaultTenant = "default"

// binding is the backend resolved for one request. It lives on the request
// context only, so it disappears with the request on every exit path and
// concurrent requests never observe each other's connection.
type binding struct {
	conn   odoo.Conn
	tenant string
}

// FromContext returns the connection bound to the request, nil when none.
func FromContext(ctx context.Context) odoo.Conn {
	b, _ := ctx.Value(bindingKey).(*binding)
	if b == nil {
		return nil
	}
	return b.conn
}

// FromContextLabel returns the log-safe tenant label bound to the request:
// DefaultTenant for the process default, a key fingerprint for pooled
// tenants, "" when nothing is bound.
func FromContextLabel(ctx context.Context) string {
	b, _ := ctx.Value(bindingKey).(*binding)
	if b == nil {
		return ""
	}
	return b.tenant
}

// Bind returns middleware that attaches the process-default connection to
// every request. Used in single-tenant mode, where no per-request routing
// happens.
func Bind(conn odoo.Conn) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), bindingKey, &binding{conn: conn, tenant: DefaultTenant})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Resolver returns middleware that routes each request to the backend its
// credentials select. Credentials arrive as the query parameters `endpoint`
// and `credential`; both must be present to route. When they are absent, or
// when pool creation fails, the request falls back to the process-default
// connection. With no default either, the request proceeds unbound and
// downstream handlers reject ORM calls.
func Resolver(pool *Pool, fallback odoo.Conn, log *slog.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			b := &binding{conn: fallback}
			if fallback != nil {
				b.tenant = DefaultTenant
			}

			q := r.URL.Query()
			if endpoint, credential := q.Get("endpoint"), q.Get("credential"); endpoint != "" && credential != "" {
				key := Key{Endpoint: endpoint, Credential: credential}
				conn, err := pool.GetOrCreate(r.Context(), key)
				if err != nil {
					log.Error("tenant resolution failed, falling back to default connection",
						"tenant", key.Fingerprint(), "error", err)
				} else {
					b = &binding{conn: conn, tenant: key.Fingerprint()}
				}
			}

			if b.conn == nil {
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), bindingKey, b)))
		})
	}
}
