package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"google.golang.org/api/iterator"
)

// Filter narrows a collection query.
type Filter func(firestore.Query) firestore.Query

// Where matches documents whose field at path compares to value with op.
func Where(path, op string, value any) Filter {
	return func(q firestore.Query) firestore.Query {
		return q.Where(path, op, value)
	}
}

// Collection reads and writes documents of one collection, decoding them into T with the
// client's native struct mapping.
type Collection[T any] struct {
	provider *Provider
	name     string
}

// NewCollection binds a typed collection to the provider.
func NewCollection[T any](provider *Provider, name string) *Collection[T] {
	return &Collection[T]{provider: provider, name: strings.TrimSpace(name)}
}

// Name returns the collection path.
func (c *Collection[T]) Name() string { return c.name }

// Ref resolves the reference of document id, for use inside transactions.
func (c *Collection[T]) Ref(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	if strings.TrimSpace(id) == "" {
		return nil, WrapError(c.op("ref"), errors.New("firestore: document id is required"))
	}
	coll, err := c.collection(ctx)
	if err != nil {
		return nil, err
	}
	return coll.Doc(id), nil
}

// Create writes value under id and fails with a conflict when the document exists.
func (c *Collection[T]) Create(ctx context.Context, id string, value T) error {
	ref, err := c.Ref(ctx, id)
	if err != nil {
		return err
	}
	_, err = ref.Create(ctx, value)
	return WrapError(c.op("create"), err)
}

// Get loads document id.
func (c *Collection[T]) Get(ctx context.Context, id string) (T, error) {
	var value T
	ref, err := c.Ref(ctx, id)
	if err != nil {
		return value, err
	}
	snap, err := ref.Get(ctx)
	if err != nil {
		return value, WrapError(c.op("get"), err)
	}
	return c.Decode(snap)
}

// Delete removes document id. A missing document is not an error.
func (c *Collection[T]) Delete(ctx context.Context, id string) error {
	ref, err := c.Ref(ctx, id)
	if err != nil {
		return err
	}
	_, err = ref.Delete(ctx)
	return WrapError(c.op("delete"), err)
}

// Decode maps a snapshot onto T.
func (c *Collection[T]) Decode(snap *firestore.DocumentSnapshot) (T, error) {
	var value T
	if err := snap.DataTo(&value); err != nil {
		return value, fmt.Errorf("%s: decode %s: %w", c.name, snap.Ref.ID, err)
	}
	return value, nil
}

// Find returns every document matching the filters.
func (c *Collection[T]) Find(ctx context.Context, filters ...Filter) ([]T, error) {
	q, err := c.query(ctx, filters)
	if err != nil {
		return nil, err
	}
	docs := q.Documents(ctx)
	defer docs.Stop()

	var out []T
	for {
		snap, err := docs.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, WrapError(c.op("find"), err)
		}
		value, err := c.Decode(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, value)
	}
}

// Count asks the server to count matching documents.
func (c *Collection[T]) Count(ctx context.Context, filters ...Filter) (int, error) {
	q, err := c.query(ctx, filters)
	if err != nil {
		return 0, err
	}
	const alias = "n"
	res, err := q.NewAggregationQuery().WithCount(alias).Get(ctx)
	if err != nil {
		return 0, WrapError(c.op("count"), err)
	}
	switch n := res[alias].(type) {
	case *firestorepb.Value:
		return int(n.GetIntegerValue()), nil
	case int64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("%s: unexpected count result %T", c.name, n)
	}
}

// DeleteMatching removes matching documents through a bulk writer and reports how many
// deletes succeeded. The first failed delete is returned alongside the count.
func (c *Collection[T]) DeleteMatching(ctx context.Context, filters ...Filter) (int, error) {
	q, err := c.query(ctx, filters)
	if err != nil {
		return 0, err
	}
	snaps, err := q.Select().Documents(ctx).GetAll()
	if err != nil {
		return 0, WrapError(c.op("delete_matching"), err)
	}
	if len(snaps) == 0 {
		return 0, nil
	}
	client, err := c.provider.Client(ctx)
	if err != nil {
		return 0, err
	}

	bw := client.BulkWriter(ctx)
	pending := make([]*firestore.BulkWriterJob, 0, len(snaps))
	for _, snap := range snaps {
		job, err := bw.Delete(snap.Ref)
		if err != nil {
			bw.End()
			return 0, WrapError(c.op("delete_matching"), err)
		}
		pending = append(pending, job)
	}
	bw.End()

	var (
		deleted  int
		firstErr error
	)
	for _, job := range pending {
		if _, err := job.Results(); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		deleted++
	}
	return deleted, WrapError(c.op("delete_matching"), firstErr)
}

func (c *Collection[T]) query(ctx context.Context, filters []Filter) (firestore.Query, error) {
	coll, err := c.collection(ctx)
	if err != nil {
		return firestore.Query{}, err
	}
	q := coll.Query
	for _, f := range filters {
		if f != nil {
			q = f(q)
		}
	}
	return q, nil
}

func (c *Collection[T]) collection(ctx context.Context) (*firestore.CollectionRef, error) {
	switch {
	case c == nil || c.provider == nil:
		return nil, errors.New("firestore: provider is nil")
	case c.name == "":
		return nil, errors.New("firestore: collection name is required")
	}
	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(c.name), nil
}

func (c *Collection[T]) op(action string) string {
	return c.name + "." + action
}
