package idempotency

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// MemoryStore keeps entries in process. It suits single-instance local runs and tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

// Reserve claims key for fingerprint unless a live entry already holds it.
func (s *MemoryStore) Reserve(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Outcome, Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[key]; ok && !existing.expired(now) {
		outcome, err := classify(existing, fingerprint)
		return outcome, existing, err
	}
	entry := pendingEntry(key, fingerprint, now, ttl)
	s.entries[key] = entry
	return OutcomeProceed, entry, nil
}

// Complete stores the response for a reserved key.
func (s *MemoryStore) Complete(_ context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if ok && entry.Fingerprint != fingerprint {
		return ErrKeyReused
	}
	if !ok {
		entry = pendingEntry(key, fingerprint, now, ttl)
	}
	entry.State = StateCompleted
	entry.Response = Response{
		Status: resp.Status,
		Header: http.Header(storableHeader(resp.Header)),
		Body:   append([]byte(nil), resp.Body...),
	}
	entry.ExpiresAt = now.Add(ttl)
	s.entries[key] = entry
	return nil
}

// Release forgets a pending key so the request can be retried.
func (s *MemoryStore) Release(_ context.Context, key, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.entries[key]; ok && entry.Fingerprint == fingerprint {
		delete(s.entries, key)
	}
	return nil
}
