package auth

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"
)

// MetricsRecorder counts token verifications by outcome.
type MetricsRecorder interface {
	RecordVerification(ctx context.Context, kind string, success bool, reason string, duration time.Duration)
}

// MetricsRecorderFunc adapts a function to MetricsRecorder.
type MetricsRecorderFunc func(context.Context, string, bool, string, time.Duration)

func (f MetricsRecorderFunc) RecordVerification(ctx context.Context, kind string, success bool, reason string, duration time.Duration) {
	if f != nil {
		f(ctx, kind, success, reason, duration)
	}
}

// DefaultOIDCIssuers are the issuers of Google service account identity tokens.
var DefaultOIDCIssuers = []string{"https://accounts.google.com", "accounts.google.com"}

// OIDCPolicy lists what a push token must carry. Audiences is required; Issuers defaults
// to DefaultOIDCIssuers; an empty Emails accepts any service account.
type OIDCPolicy struct {
	Audiences []string
	Issuers   []string
	Emails    []string
}

// googleClaims are the claims of a Google-signed identity token.
type googleClaims struct {
	jwt.RegisteredClaims
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
}

// OIDCValidator authenticates the Pub/Sub push endpoint with Google-signed bearer tokens.
type OIDCValidator struct {
	cache   *JWKSCache
	logger  *zap.Logger
	metrics MetricsRecorder
	now     func() time.Time
}

// OIDCOption configures an OIDCValidator.
type OIDCOption func(*OIDCValidator)

func WithOIDCLogger(logger *zap.Logger) OIDCOption {
	return func(v *OIDCValidator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

func WithOIDCMetrics(recorder MetricsRecorder) OIDCOption {
	return func(v *OIDCValidator) { v.metrics = recorder }
}

func WithOIDCClock(now func() time.Time) OIDCOption {
	return func(v *OIDCValidator) {
		if now != nil {
			v.now = now
		}
	}
}

// NewOIDCValidator verifies signatures with keys from cache.
func NewOIDCValidator(cache *JWKSCache, opts ...OIDCOption) *OIDCValidator {
	v := &OIDCValidator{cache: cache, logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// rejection explains why a request was refused.
type rejection struct {
	status int
	code   string
	reason string
	err    error
}

// RequireOIDC admits requests whose bearer token satisfies policy and stores the service
// account principal on the request context.
func (v *OIDCValidator) RequireOIDC(policy OIDCPolicy) func(http.Handler) http.Handler {
	accepted := normalisedPolicy(policy)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := v.now()
			principal, rej := v.verify(r, accepted)
			if rej != nil {
				v.logger.Warn("oidc token rejected", zap.String("reason", rej.reason), zap.Error(rej.err))
				v.record(r.Context(), false, rej.reason, started)
				respondAuthError(w, r, rej.status, rej.code, "oidc token verification failed")
				return
			}
			v.record(r.Context(), true, "ok", started)
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

func (v *OIDCValidator) verify(r *http.Request, policy OIDCPolicy) (*Principal, *rejection) {
	unavailable := func(reason string, err error) *rejection {
		return &rejection{status: http.StatusServiceUnavailable, code: "verification_unavailable", reason: reason, err: err}
	}
	invalid := func(reason string, err error) *rejection {
		return &rejection{status: http.StatusUnauthorized, code: "invalid_token", reason: reason, err: err}
	}

	if len(policy.Audiences) == 0 {
		return nil, unavailable("audience_not_configured", nil)
	}
	raw, ok := extractBearerToken(r.Header.Get("Authorization"))
	if !ok {
		return nil, &rejection{status: http.StatusUnauthorized, code: "unauthenticated", reason: "token_missing"}
	}
	if v.cache == nil {
		return nil, unavailable("cache_unavailable", nil)
	}

	var claims googleClaims
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
	if _, err := parser.ParseWithClaims(raw, &claims, v.cache.Keyfunc(r.Context())); err != nil {
		if errors.Is(err, ErrJWKSFetchFailed) {
			return nil, unavailable("jwks_unavailable", err)
		}
		return nil, invalid("token_invalid", err)
	}

	if !slices.Contains(policy.Issuers, claims.Issuer) {
		return nil, invalid("issuer_mismatch", errors.New("issuer "+claims.Issuer))
	}
	if !slices.ContainsFunc(claims.Audience, func(aud string) bool {
		return slices.Contains(policy.Audiences, strings.TrimSpace(aud))
	}) {
		return nil, invalid("audience_mismatch", nil)
	}
	if len(policy.Emails) > 0 && (!claims.EmailVerified || !slices.Contains(policy.Emails, claims.Email)) {
		return nil, invalid("email_not_allowed", errors.New("email "+claims.Email))
	}

	return &Principal{
		Kind:    PrincipalServiceAccount,
		Subject: claims.Subject,
		Email:   claims.Email,
		Issuer:  claims.Issuer,
	}, nil
}

func (v *OIDCValidator) record(ctx context.Context, success bool, reason string, started time.Time) {
	if v.metrics != nil {
		v.metrics.RecordVerification(ctx, "oidc", success, reason, v.now().Sub(started))
	}
}

func normalisedPolicy(p OIDCPolicy) OIDCPolicy {
	out := OIDCPolicy{
		Audiences: trimmed(p.Audiences),
		Issuers:   trimmed(p.Issuers),
		Emails:    trimmed(p.Emails),
	}
	if len(out.Issuers) == 0 {
		out.Issuers = DefaultOIDCIssuers
	}
	return out
}

func trimmed(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
