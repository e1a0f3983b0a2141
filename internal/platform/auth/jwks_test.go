package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
)

func TestJWKSCachePicksUpRotatedKey(t *testing.T) {
	first, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	second, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	var fetches atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		keys := []jose.JSONWebKey{{Key: &first.PublicKey, KeyID: "k1", Algorithm: "RS256", Use: "sig"}}
		if fetches.Add(1) > 1 {
			keys = append(keys, jose.JSONWebKey{Key: &second.PublicKey, KeyID: "k2", Algorithm: "RS256", Use: "sig"})
		}
		w.Header().Set("Cache-Control", "max-age=3600")
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: keys})
	}))
	t.Cleanup(server.Close)

	now := time.Unix(1_700_000_000, 0)
	cache := NewJWKSCache(server.URL, WithJWKSClock(func() time.Time { return now }))
	ctx := context.Background()

	if _, err := cache.Key(ctx, "k1"); err != nil {
		t.Fatalf("k1: %v", err)
	}
	if _, err := cache.Key(ctx, "k1"); err != nil {
		t.Fatalf("k1 cached: %v", err)
	}
	if got := fetches.Load(); got != 1 {
		t.Fatalf("expected one fetch while fresh, got %d", got)
	}

	key, err := cache.Key(ctx, "k2")
	if err != nil {
		t.Fatalf("k2 after rotation: %v", err)
	}
	if pub, ok := key.(*rsa.PublicKey); !ok || pub.N.Cmp(second.PublicKey.N) != 0 {
		t.Fatalf("unexpected key %T", key)
	}

	if _, err := cache.Key(ctx, "k3"); !errors.Is(err, ErrJWKSKeyNotFound) {
		t.Fatalf("expected ErrJWKSKeyNotFound, got %v", err)
	}
}

func TestJWKSCacheRejectsEmptySet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"keys":[]}`))
	}))
	t.Cleanup(server.Close)

	if _, err := NewJWKSCache(server.URL).Key(context.Background(), "k1"); !errors.Is(err, ErrJWKSFetchFailed) {
		t.Fatalf("expected ErrJWKSFetchFailed, got %v", err)
	}
}
