package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type linkIssuer interface {
	DownloadLink(ctx context.Context, bucket, object string) (SignedLink, error)
}

type objectRemover interface {
	Delete(ctx context.Context, bucket, object string) error
	DeletePrefix(ctx context.Context, bucket, prefix string) (int, error)
	Ping(ctx context.Context, bucket string) error
}

// CertificateArtifacts manages the generated certificate files of a single bucket.
type CertificateArtifacts struct {
	bucket  string
	root    string
	links   linkIssuer
	objects objectRemover
}

// NewCertificateArtifacts binds link signing and object maintenance to the certificates bucket.
func NewCertificateArtifacts(bucket, root string, links linkIssuer, objects objectRemover) (*CertificateArtifacts, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errInvalidBucket
	}
	if links == nil {
		return nil, errors.New("storage artifacts: link signer is required")
	}
	if objects == nil {
		return nil, errors.New("storage artifacts: object store is required")
	}
	return &CertificateArtifacts{
		bucket:  bucket,
		root:    strings.Trim(strings.TrimSpace(root), "/"),
		links:   links,
		objects: objects,
	}, nil
}

// SignedLink returns a fresh download link for the artifact stored at key.
func (a *CertificateArtifacts) SignedLink(ctx context.Context, key string) (string, error) {
	link, err := a.links.DownloadLink(ctx, a.bucket, key)
	if err != nil {
		return "", err
	}
	return link.URL, nil
}

// DeleteArtifact removes the artifact stored at key.
func (a *CertificateArtifacts) DeleteArtifact(ctx context.Context, key string) error {
	key, err := ValidateObjectKey(key)
	if err != nil {
		return err
	}
	return a.objects.Delete(ctx, a.bucket, key)
}

// DeleteProductArtifacts removes every artifact under the product prefix.
func (a *CertificateArtifacts) DeleteProductArtifacts(ctx context.Context, productID int) (int, error) {
	prefix, err := ProductPrefix(a.root, productID)
	if err != nil {
		return 0, err
	}
	deleted, err := a.objects.DeletePrefix(ctx, a.bucket, prefix)
	if err != nil {
		return deleted, fmt.Errorf("storage artifacts: product %d: %w", productID, err)
	}
	return deleted, nil
}

// Ping checks the certificates bucket.
func (a *CertificateArtifacts) Ping(ctx context.Context) error {
	return a.objects.Ping(ctx, a.bucket)
}
