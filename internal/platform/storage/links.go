package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
)

const (
	// MaxLinkTTL is the longest validity V4 signatures accept.
	MaxLinkTTL     = 7 * 24 * time.Hour
	defaultLinkTTL = MaxLinkTTL
)

var (
	errNoSigner      = errors.New("storage: signer is required")
	errInvalidBucket = errors.New("storage: bucket name is required")
	errInvalidObject = errors.New("storage: object name is required")
	errExpiryTooLong = errors.New("storage: expiry exceeds permitted maximum")
)

// LinkSigner issues time-limited V4 download links.
type LinkSigner struct {
	signer Signer
	scheme gcs.SigningScheme
	ttl    time.Duration
	now    func() time.Time
}

// LinkOption customises link signing.
type LinkOption func(*LinkSigner)

// WithLinkTTL overrides the link validity (capped at MaxLinkTTL).
func WithLinkTTL(ttl time.Duration) LinkOption {
	return func(l *LinkSigner) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithClock injects a custom clock.
func WithClock(clock func() time.Time) LinkOption {
	return func(l *LinkSigner) {
		if clock != nil {
			l.now = clock
		}
	}
}

// NewLinkSigner constructs a download link signer.
func NewLinkSigner(signer Signer, opts ...LinkOption) (*LinkSigner, error) {
	if signer == nil || strings.TrimSpace(signer.Email()) == "" {
		return nil, errNoSigner
	}
	l := &LinkSigner{
		signer: signer,
		scheme: gcs.SigningSchemeV4,
		ttl:    defaultLinkTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	if l.ttl > MaxLinkTTL {
		return nil, errExpiryTooLong
	}
	return l, nil
}

// SignedLink describes a generated download link.
type SignedLink struct {
	URL       string
	ExpiresAt time.Time
}

// DownloadLink signs a GET link for bucket/object valid for the configured TTL.
func (l *LinkSigner) DownloadLink(ctx context.Context, bucket, object string) (SignedLink, error) {
	if l == nil {
		return SignedLink{}, errNoSigner
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return SignedLink{}, errInvalidBucket
	}
	object, err := ValidateObjectKey(object)
	if err != nil {
		return SignedLink{}, err
	}

	expires := l.now().Add(l.ttl)
	opts := &gcs.SignedURLOptions{
		GoogleAccessID: l.signer.Email(),
		Scheme:         l.scheme,
		Method:         "GET",
		Expires:        expires,
		SignBytes: func(payload []byte) ([]byte, error) {
			return l.signer.SignBytes(ctx, payload)
		},
	}
	if name := fileName(object); name != "" {
		opts.QueryParameters = url.Values{
			"response-content-disposition": {fmt.Sprintf("inline; filename=%q", name)},
		}
	}

	signed, err := gcs.SignedURL(bucket, object, opts)
	if err != nil {
		return SignedLink{}, fmt.Errorf("storage: sign download url: %w", err)
	}
	return SignedLink{URL: signed, ExpiresAt: expires}, nil
}

func fileName(object string) string {
	if idx := strings.LastIndex(object, "/"); idx >= 0 {
		return object[idx+1:]
	}
	return object
}
