package idempotency

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoCollection holds idempotency entries.
const MongoCollection = "idempotency_keys"

// MongoStore keeps entries in MongoDB. The unique _id makes reservation atomic and a TTL
// index on expires_at reclaims old entries.
type MongoStore struct {
	coll *mongo.Collection
}

// NewMongoStore binds the store to db.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{coll: db.Collection(MongoCollection)}
}

// EnsureTTLIndex creates the expiry index. It is safe to call on every start.
func (s *MongoStore) EnsureTTLIndex(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	})
	if err != nil {
		return fmt.Errorf("idempotency: ensure ttl index: %w", err)
	}
	return nil
}

type mongoEntry struct {
	ID             string              `bson:"_id"`
	Key            string              `bson:"key"`
	Fingerprint    string              `bson:"fingerprint"`
	State          string              `bson:"state"`
	ResponseStatus int                 `bson:"response_status,omitempty"`
	ResponseHeader map[string][]string `bson:"response_header,omitempty"`
	ResponseBody   []byte              `bson:"response_body,omitempty"`
	CreatedAt      time.Time           `bson:"created_at"`
	ExpiresAt      time.Time           `bson:"expires_at"`
}

func toMongoEntry(e Entry) mongoEntry {
	return mongoEntry{
		ID:             documentID(e.Key),
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

func (d mongoEntry) entry() Entry {
	return Entry{
		Key:         d.Key,
		Fingerprint: d.Fingerprint,
		State:       State(d.State),
		Response: Response{
			Status: d.ResponseStatus,
			Header: http.Header(d.ResponseHeader),
			Body:   d.ResponseBody,
		},
		CreatedAt: d.CreatedAt.UTC(),
		ExpiresAt: d.ExpiresAt.UTC(),
	}
}

// Reserve inserts a pending entry, falling back to the stored one when the key exists.
func (s *MongoStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Outcome, Entry, error) {
	entry := pendingEntry(key, fingerprint, now, ttl)
	doc := toMongoEntry(entry)

	_, err := s.coll.InsertOne(ctx, doc)
	if err == nil {
		return OutcomeProceed, entry, nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return OutcomeInFlight, Entry{}, err
	}

	var stored mongoEntry
	if err := s.coll.FindOne(ctx, bson.M{"_id": doc.ID}).Decode(&stored); err != nil {
		return OutcomeInFlight, Entry{}, err
	}
	existing := stored.entry()
	if !existing.expired(now) {
		outcome, err := classify(existing, fingerprint)
		return outcome, existing, err
	}

	// The TTL monitor has not reclaimed the entry yet; take it over unless someone else did.
	res, err := s.coll.ReplaceOne(ctx, bson.M{"_id": doc.ID, "expires_at": bson.M{"$lte": now}}, doc)
	if err != nil {
		return OutcomeInFlight, Entry{}, err
	}
	if res.MatchedCount == 0 {
		return OutcomeInFlight, existing, nil
	}
	return OutcomeProceed, entry, nil
}

// Complete stores the response. A key held by another fingerprint yields ErrKeyReused.
func (s *MongoStore) Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	entry := pendingEntry(key, fingerprint, now, ttl)
	entry.State = StateCompleted
	entry.Response = resp
	doc := toMongoEntry(entry)

	_, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": doc.ID, "fingerprint": fingerprint},
		bson.M{
			"$set": bson.M{
				"key":             doc.Key,
				"state":           doc.State,
				"response_status": doc.ResponseStatus,
				"response_header": doc.ResponseHeader,
				"response_body":   doc.ResponseBody,
				"expires_at":      doc.ExpiresAt,
			},
			"$setOnInsert": bson.M{"created_at": doc.CreatedAt},
		},
		options.Update().SetUpsert(true),
	)
	if mongo.IsDuplicateKeyError(err) {
		return ErrKeyReused
	}
	return err
}

// Release removes the entry when it still belongs to fingerprint.
func (s *MongoStore) Release(ctx context.Context, key, fingerprint string) error {
	_, err := s.coll.DeleteOne(ctx, bson.M{"_id": documentID(key), "fingerprint": fingerprint})
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil
	}
	return err
}
