package idempotency

import (
	"context"
	"net/http"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/certified-builder/api/internal/platform/firestore"
)

// FirestoreCollection holds idempotency entries. A TTL policy on expires_at reclaims them.
const FirestoreCollection = "idempotency_keys"

// FirestoreStore keeps entries in Firestore, reserving keys inside a transaction.
type FirestoreStore struct {
	provider *pfirestore.Provider
	entries  *pfirestore.Collection[firestoreEntry]
}

// NewFirestoreStore binds the store to the provider's client.
func NewFirestoreStore(provider *pfirestore.Provider) *FirestoreStore {
	return &FirestoreStore{
		provider: provider,
		entries:  pfirestore.NewCollection[firestoreEntry](provider, FirestoreCollection),
	}
}

type firestoreEntry struct {
	Key            string              `firestore:"key"`
	Fingerprint    string              `firestore:"fingerprint"`
	State          string              `firestore:"state"`
	ResponseStatus int                 `firestore:"response_status"`
	ResponseHeader map[string][]string `firestore:"response_header,omitempty"`
	ResponseBody   []byte              `firestore:"response_body,omitempty"`
	CreatedAt      time.Time           `firestore:"created_at"`
	ExpiresAt      time.Time           `firestore:"expires_at"`
}

func toFirestoreEntry(e Entry) firestoreEntry {
	return firestoreEntry{
		Key:            e.Key,
		Fingerprint:    e.Fingerprint,
		State:          string(e.State),
		ResponseStatus: e.Response.Status,
		ResponseHeader: storableHeader(e.Response.Header),
		ResponseBody:   e.Response.Body,
		CreatedAt:      e.CreatedAt,
		ExpiresAt:      e.ExpiresAt,
	}
}

func (d firestoreEntry) entry() Entry {
	return Entry{
		Key:         d.Key,
		Fingerprint: d.Fingerprint,
		State:       State(d.State),
		Response: Response{
			Status: d.ResponseStatus,
			Header: http.Header(d.ResponseHeader),
			Body:   d.ResponseBody,
		},
		CreatedAt: d.CreatedAt,
		ExpiresAt: d.ExpiresAt,
	}
}

func (s *FirestoreStore) doc(ctx context.Context, key string) (*firestore.DocumentRef, error) {
	return s.entries.Ref(ctx, documentID(key))
}

func (s *FirestoreStore) load(snap *firestore.DocumentSnapshot) (firestoreEntry, error) {
	return s.entries.Decode(snap)
}

// Reserve claims key unless a live entry holds it.
func (s *FirestoreStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Outcome, Entry, error) {
	ref, err := s.doc(ctx, key)
	if err != nil {
		return OutcomeInFlight, Entry{}, err
	}

	var (
		outcome Outcome
		entry   Entry
	)
	err = s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if err == nil {
			stored, err := s.load(snap)
			if err != nil {
				return err
			}
			if existing := stored.entry(); !existing.expired(now) {
				entry = existing
				outcome, err = classify(existing, fingerprint)
				return err
			}
		}
		entry = pendingEntry(key, fingerprint, now, ttl)
		outcome = OutcomeProceed
		return tx.Set(ref, toFirestoreEntry(entry))
	})
	return outcome, entry, err
}

// Complete stores the response for a reserved key.
func (s *FirestoreStore) Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	ref, err := s.doc(ctx, key)
	if err != nil {
		return err
	}
	return s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		entry := pendingEntry(key, fingerprint, now, ttl)
		snap, err := tx.Get(ref)
		switch {
		case err == nil:
			stored, err := s.load(snap)
			if err != nil {
				return err
			}
			if stored.Fingerprint != fingerprint {
				return ErrKeyReused
			}
			entry.CreatedAt = stored.CreatedAt
		case status.Code(err) != codes.NotFound:
			return err
		}
		entry.State = StateCompleted
		entry.Response = resp
		entry.ExpiresAt = now.Add(ttl)
		return tx.Set(ref, toFirestoreEntry(entry))
	})
}

// Release deletes the entry when it still belongs to fingerprint.
func (s *FirestoreStore) Release(ctx context.Context, key, fingerprint string) error {
	ref, err := s.doc(ctx, key)
	if err != nil {
		return err
	}
	return s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return nil
		}
		if err != nil {
			return err
		}
		stored, err := s.load(snap)
		if err != nil {
			return err
		}
		if stored.Fingerprint != fingerprint {
			return nil
		}
		return tx.Delete(ref)
	})
}
