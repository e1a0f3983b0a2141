package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"
)

// DefaultAPIKeyHeader is the header carrying the client API key.
const DefaultAPIKeyHeader = "X-API-KEY"

// APIKeyAuthenticator checks a static set of API keys.
type APIKeyAuthenticator struct {
	header  string
	digests [][sha256.Size]byte
}

// NewAPIKeyAuthenticator constructs an authenticator for the configured keys. Blank keys are
// ignored; at least one key is required.
func NewAPIKeyAuthenticator(header string, keys []string) (*APIKeyAuthenticator, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		header = DefaultAPIKeyHeader
	}
	digests := make([][sha256.Size]byte, 0, len(keys))
	for _, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		digests = append(digests, sha256.Sum256([]byte(key)))
	}
	if len(digests) == 0 {
		return nil, errors.New("auth: at least one api key is required")
	}
	return &APIKeyAuthenticator{header: header, digests: digests}, nil
}

// match compares digests in constant time and returns the index of the matching key.
func (a *APIKeyAuthenticator) match(candidate string) (int, bool) {
	sum := sha256.Sum256([]byte(candidate))
	found := -1
	for i := range a.digests {
		if subtle.ConstantTimeCompare(sum[:], a.digests[i][:]) == 1 && found < 0 {
			found = i
		}
	}
	return found, found >= 0
}

// RequireAPIKey rejects requests without a known API key.
func (a *APIKeyAuthenticator) RequireAPIKey() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if a == nil {
				respondAuthError(w, r, http.StatusServiceUnavailable, "auth_unavailable", "api key authentication not configured")
				return
			}
			candidate := strings.TrimSpace(r.Header.Get(a.header))
			if candidate == "" {
				respondAuthError(w, r, http.StatusUnauthorized, "unauthenticated", "api key missing")
				return
			}
			idx, ok := a.match(candidate)
			if !ok {
				respondAuthError(w, r, http.StatusUnauthorized, "invalid_api_key", "api key not recognised")
				return
			}
			principal := &Principal{Kind: PrincipalAPIKey, Subject: "api-key-" + strconv.Itoa(idx), KeyID: strconv.Itoa(idx)}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}
