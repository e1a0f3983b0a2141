package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// State is the lifecycle of a stored key.
type State string

const (
	StatePending   State = "pending"
	StateCompleted State = "completed"
)

// Outcome tells the middleware what to do with a request after reserving its key.
type Outcome int

const (
	// OutcomeProceed means the caller owns the key and must run the handler.
	OutcomeProceed Outcome = iota
	// OutcomeReplay means a stored response exists for the key.
	OutcomeReplay
	// OutcomeInFlight means another request holds the key.
	OutcomeInFlight
)

// Response is a captured HTTP response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Entry is the stored state of one key.
type Entry struct {
	Key         string
	Fingerprint string
	State       State
	Response    Response
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

func (e Entry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// Store keeps idempotency entries. Implementations must make Reserve atomic per key.
type Store interface {
	Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Outcome, Entry, error)
	Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error
	Release(ctx context.Context, key, fingerprint string) error
}

// ErrKeyReused is returned when a key arrives with a different request fingerprint.
var ErrKeyReused = errors.New("idempotency: key reused for a different request")

func pendingEntry(key, fingerprint string, now time.Time, ttl time.Duration) Entry {
	return Entry{
		Key:         key,
		Fingerprint: fingerprint,
		State:       StatePending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
}

// classify decides the outcome for an existing entry.
func classify(existing Entry, fingerprint string) (Outcome, error) {
	if existing.Fingerprint != fingerprint {
		return OutcomeInFlight, ErrKeyReused
	}
	if existing.State == StateCompleted {
		return OutcomeReplay, nil
	}
	return OutcomeInFlight, nil
}

func documentID(key string) string {
	return sha256Hex([]byte(key))
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// storableHeader drops hop-by-hop and per-delivery headers.
func storableHeader(header http.Header) map[string][]string {
	out := make(map[string][]string, len(header))
	for name, values := range header {
		canonical := http.CanonicalHeaderKey(name)
		switch strings.ToLower(canonical) {
		case "content-length", "date", "connection", "keep-alive", "transfer-encoding", "upgrade", "trailer",
			strings.ToLower(ReplayHeader), "x-request-id":
			continue
		}
		out[canonical] = append([]string(nil), values...)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
