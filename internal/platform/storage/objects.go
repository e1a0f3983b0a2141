package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// ObjectStore performs object maintenance on Cloud Storage.
type ObjectStore struct {
	client *gcs.Client
}

// NewObjectStore constructs an ObjectStore backed by the provided Cloud Storage client.
func NewObjectStore(client *gcs.Client) (*ObjectStore, error) {
	if client == nil {
		return nil, errors.New("storage objects: client is required")
	}
	return &ObjectStore{client: client}, nil
}

// Delete removes a single object. A missing object is not an error.
func (s *ObjectStore) Delete(ctx context.Context, bucket, object string) error {
	bucket, object = strings.TrimSpace(bucket), strings.TrimSpace(object)
	if bucket == "" || object == "" {
		return errors.New("storage objects: bucket and object are required")
	}
	err := s.client.Bucket(bucket).Object(object).Delete(ctx)
	if err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return fmt.Errorf("storage objects: delete %s/%s: %w", bucket, object, err)
	}
	return nil
}

// DeletePrefix removes every object under prefix and reports how many were deleted. It keeps
// going after individual failures and returns the first one.
func (s *ObjectStore) DeletePrefix(ctx context.Context, bucket, prefix string) (int, error) {
	if strings.TrimSpace(prefix) == "" {
		return 0, errors.New("storage objects: refusing to delete with an empty prefix")
	}
	handle := s.client.Bucket(bucket)
	query := &gcs.Query{Prefix: prefix}
	if err := query.SetAttrSelection([]string{"Name"}); err != nil {
		return 0, err
	}

	it := handle.Objects(ctx, query)
	deleted := 0
	var firstErr error
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return deleted, fmt.Errorf("storage objects: list %s/%s: %w", bucket, prefix, err)
		}
		if err := handle.Object(attrs.Name).Delete(ctx); err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
			if firstErr == nil {
				firstErr = fmt.Errorf("storage objects: delete %s/%s: %w", bucket, attrs.Name, err)
			}
			continue
		}
		deleted++
	}
	return deleted, firstErr
}

// Ping verifies that the bucket is reachable.
func (s *ObjectStore) Ping(ctx context.Context, bucket string) error {
	if _, err := s.client.Bucket(bucket).Attrs(ctx); err != nil {
		return fmt.Errorf("storage objects: bucket %s: %w", bucket, err)
	}
	return nil
}
