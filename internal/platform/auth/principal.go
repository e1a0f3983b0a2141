package auth

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/certified-builder/api/internal/platform/httpx"
	"github.com/certified-builder/api/internal/platform/observability"
	"github.com/certified-builder/api/internal/platform/requestctx"
)

// Principal kinds.
const (
	PrincipalAPIKey         = "api_key"
	PrincipalServiceAccount = "service_account"
)

// Principal is the authenticated caller of a request.
type Principal struct {
	Kind    string
	Subject string
	Email   string
	Issuer  string
	// KeyID identifies the matched API key by position, never by value.
	KeyID string
}

type principalContextKey struct{}

// WithPrincipal stores the principal on the context and tags the request logger with it.
func WithPrincipal(ctx context.Context, principal *Principal) context.Context {
	if principal == nil {
		return ctx
	}
	subject := principal.Email
	if subject == "" {
		subject = principal.Subject
	}
	if logger := requestctx.Logger(ctx); logger != requestctx.NoopLogger() {
		ctx = requestctx.WithLogger(ctx, logger.With(zap.String("principal", observability.SanitizePrincipal(subject))))
	}
	return context.WithValue(ctx, principalContextKey{}, principal)
}

// PrincipalFromContext returns the principal stored by the auth middleware.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	principal, ok := ctx.Value(principalContextKey{}).(*Principal)
	if !ok || principal == nil {
		return nil, false
	}
	return principal, true
}

func extractBearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", false
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func respondAuthError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	httpx.WriteError(r.Context(), w, httpx.NewError(code, message, status))
}
