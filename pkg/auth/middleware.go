// Package auth verifies bearer tokens via OAuth 2.0 token introspection and
// provides the HTTP middleware that enforces them.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/odoogate/odoogate/pkg/types"
)

type contextKey string

const tokenKey contextKey = "access_token"

// TokenFromContext extracts the verified access token, nil when the request
// was not authenticated (public path, or auth disabled).
func TokenFromContext(ctx context.Context) *AccessToken {
	v, _ := ctx.Value(tokenKey).(*AccessToken)
	return v
}

// TokenVerifier validates a bearer token, returning nil to reject it.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) *AccessToken
}

// BearerAuth returns middleware that requires a valid bearer token and sets
// the verified identity on the request context. Health, metrics, and OAuth
// discovery stay public.
func BearerAuth(verifier TokenVerifier) func(http.Handler) http.Handler {
	skipPaths := map[string]bool{
		"/healthz": true,
		"/readyz":  true,
		"/metrics": true,
		"/.well-known/oauth-authorization-server": true,
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skipPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				types.ErrUnauthorized("missing bearer token").WriteJSON(w)
				return
			}
			token := strings.TrimPrefix(auth, "Bearer ")

			at := verifier.Verify(r.Context(), token)
			if at == nil {
				types.ErrUnauthorized("invalid token").WriteJSON(w)
				return
			}

			ctx := context.WithValue(r.Context(), tokenKey, at)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
