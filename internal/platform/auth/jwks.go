package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrJWKSKeyNotFound means the key set, even freshly fetched, has no key with the kid.
	ErrJWKSKeyNotFound = errors.New("auth: jwks key not found")
	// ErrJWKSFetchFailed means the key set could not be downloaded or decoded.
	ErrJWKSFetchFailed = errors.New("auth: jwks fetch failed")
)

// GoogleJWKSURL serves the keys Google signs OIDC tokens with, Pub/Sub push tokens included.
const GoogleJWKSURL = "https://www.googleapis.com/oauth2/v3/certs"

const (
	fallbackKeyTTL = 15 * time.Minute
	fetchTimeout   = 10 * time.Second
)

// JWKSCache holds the public keys of one JWKS endpoint until the Cache-Control max-age of
// the last response runs out.
type JWKSCache struct {
	url    string
	http   *retryablehttp.Client
	logger *zap.Logger
	now    func() time.Time
	ttl    time.Duration

	refreshes singleflight.Group

	mu      sync.RWMutex
	keys    map[string]any
	expires time.Time
}

// JWKSOption configures a JWKSCache.
type JWKSOption func(*JWKSCache)

func WithJWKSLogger(logger *zap.Logger) JWKSOption {
	return func(c *JWKSCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithJWKSValidity sets how long keys live when the response carries no max-age.
func WithJWKSValidity(d time.Duration) JWKSOption {
	return func(c *JWKSCache) {
		if d > 0 {
			c.ttl = d
		}
	}
}

func WithJWKSClock(now func() time.Time) JWKSOption {
	return func(c *JWKSCache) {
		if now != nil {
			c.now = now
		}
	}
}

// NewJWKSCache caches the keys published at url, Google's endpoint when url is blank. Fetches
// retry twice on connection errors and 5xx answers.
func NewJWKSCache(url string, opts ...JWKSOption) *JWKSCache {
	if url = strings.TrimSpace(url); url == "" {
		url = GoogleJWKSURL
	}
	rc := retryablehttp.NewClient()
	rc.Logger = nil
	rc.RetryMax = 2
	rc.RetryWaitMin = 100 * time.Millisecond
	rc.RetryWaitMax = time.Second
	rc.HTTPClient.Timeout = fetchTimeout

	c := &JWKSCache{
		url:    url,
		http:   rc,
		logger: zap.NewNop(),
		now:    time.Now,
		ttl:    fallbackKeyTTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Keyfunc resolves the verification key of an RS256 token by its kid header.
func (c *JWKSCache) Keyfunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		if token.Method == nil || token.Method.Alg() != jwt.SigningMethodRS256.Alg() {
			return nil, fmt.Errorf("auth: unexpected signing method %v", token.Method)
		}
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("auth: token missing kid header")
		}
		return c.Key(ctx, kid)
	}
}

// Key returns the public key for kid. A stale set, or a kid the set does not know, triggers
// one refresh so rotated keys are picked up.
func (c *JWKSCache) Key(ctx context.Context, kid string) (any, error) {
	key, fresh := c.cached(kid)
	if key != nil && fresh {
		return key, nil
	}
	if _, err, _ := c.refreshes.Do("refresh", func() (any, error) { return nil, c.refresh(ctx) }); err != nil {
		return nil, err
	}
	if key, _ = c.cached(kid); key == nil {
		return nil, fmt.Errorf("%w: %s", ErrJWKSKeyNotFound, kid)
	}
	return key, nil
}

func (c *JWKSCache) cached(kid string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.keys[kid], c.now().Before(c.expires)
}

func (c *JWKSCache) refresh(ctx context.Context) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrJWKSFetchFailed, resp.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrJWKSFetchFailed, err)
	}
	keys := make(map[string]any, len(set.Keys))
	for _, jwk := range set.Keys {
		if jwk.KeyID != "" && jwk.Valid() {
			keys[jwk.KeyID] = jwk.Key
		}
	}
	if len(keys) == 0 {
		return fmt.Errorf("%w: no usable keys", ErrJWKSFetchFailed)
	}

	ttl := maxAgeFrom(resp.Header.Get("Cache-Control"))
	if ttl <= 0 {
		ttl = c.ttl
	}
	c.mu.Lock()
	c.keys, c.expires = keys, c.now().Add(ttl)
	c.mu.Unlock()

	c.logger.Debug("jwks refreshed", zap.String("url", c.url), zap.Int("keys", len(keys)), zap.Duration("ttl", ttl))
	return nil
}

// maxAgeFrom reads max-age from a Cache-Control header; zero when absent.
func maxAgeFrom(header string) time.Duration {
	for _, directive := range strings.Split(header, ",") {
		name, value, found := strings.Cut(strings.TrimSpace(directive), "=")
		if !found || !strings.EqualFold(name, "max-age") {
			continue
		}
		if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return 0
}
