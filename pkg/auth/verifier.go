package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// defaultIntrospectionTimeout bounds one introspection round trip.
const defaultIntrospectionTimeout = 10 * time.Second

// VerifierConfig configures RFC 7662 token introspection.
type VerifierConfig struct {
	IntrospectionURL string
	ClientID         string
	ClientSecret     string
	// ExpectedAudience, when set, must appear in the token's aud claim.
	ExpectedAudience string
	// RequiredScopes must all be granted by the token.
	RequiredScopes []string
	Timeout        time.Duration
}

// AccessToken is the identity extracted from a verified bearer token.
type AccessToken struct {
	Token     string
	ClientID  string
	Scopes    []string
	ExpiresAt int64
}

// Verifier validates bearer tokens against an OAuth 2.0 introspection
// endpoint. It fails closed: transport errors, undecodable responses,
// inactive tokens, and audience or scope mismatches all yield nil — Verify
// never returns an error, so a broken authorization server can only ever
// deny access.
type Verifier struct {
	cfg        VerifierConfig
	log        *slog.Logger
	httpClient *http.Client
}

// NewVerifier creates a verifier for the given introspection endpoint.
func NewVerifier(cfg VerifierConfig, log *slog.Logger) *Verifier {
	if log == nil {
		log = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultIntrospectionTimeout
	}
	return &Verifier{
		cfg: cfg,
		log: log,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// introspection is the RFC 7662 response shape. The aud claim arrives as a
// bare string or a list, so it stays raw until checked.
type introspection struct {
	Active   bool            `json:"active"`
	Scope    string          `json:"scope"`
	ClientID string          `json:"client_id"`
	Audience json.RawMessage `json:"aud"`
	Exp      int64           `json:"exp"`
}

// Verify introspects token and returns the identity it carries, or nil when
// the token must be rejected.
func (v *Verifier) Verify(ctx context.Context, token string) *AccessToken {
	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.cfg.IntrospectionURL, strings.NewReader(form.Encode()))
	if err != nil {
		v.log.Error("introspection request build failed", "error", err)
		return nil
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(v.cfg.ClientID, v.cfg.ClientSecret)

	resp, err := v.httpClient.Do(req)
	if err != nil {
		v.log.Error("token introspection failed", "error", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		v.log.Warn("introspection endpoint rejected request", "status", resp.StatusCode)
		return nil
	}

	var intro introspection
	if err := json.NewDecoder(resp.Body).Decode(&intro); err != nil {
		v.log.Error("introspection response undecodable", "error", err)
		return nil
	}

	if !intro.Active {
		v.log.Info("rejected inactive token")
		return nil
	}
	if !v.audienceAllowed(intro.Audience) {
		v.log.Warn("rejected token for wrong audience", "expected", v.cfg.ExpectedAudience)
		return nil
	}

	scopes := strings.Fields(intro.Scope)
	if missing := missingScopes(v.cfg.RequiredScopes, scopes); len(missing) > 0 {
		v.log.Warn("rejected token missing scopes", "missing", missing)
		return nil
	}

	clientID := intro.ClientID
	if clientID == "" {
		clientID = "unknown"
	}
	return &AccessToken{
		Token:     token,
		ClientID:  clientID,
		Scopes:    scopes,
		ExpiresAt: intro.Exp,
	}
}

// audienceAllowed checks the aud claim against the expected audience. RFC
// 7662 allows aud as a single string or a list of strings.
func (v *Verifier) audienceAllowed(raw json.RawMessage) bool {
	if v.cfg.ExpectedAudience == "" {
		return true
	}
	if len(raw) == 0 {
		return false
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		return one == v.cfg.ExpectedAudience
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		for _, aud := range many {
			if aud == v.cfg.ExpectedAudience {
				return true
			}
		}
	}
	return false
}

func missingScopes(required, granted []string) []string {
	have := make(map[string]bool, len(granted))
	for _, s := range granted {
		have[s] = true
	}
	var missing []string
	for _, s := range required {
		if !have[s] {
			missing = append(missing, s)
		}
	}
	return missing
}
