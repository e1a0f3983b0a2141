package secrets

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const meterName = "github.com/certified-builder/api/internal/platform/secrets"

// newClient is replaced in tests.
var newClient = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

var retryTransient = gax.WithRetry(func() gax.Retryer {
	return gax.OnCodes([]codes.Code{codes.Unavailable, codes.ResourceExhausted}, gax.Backoff{
		Initial:    100 * time.Millisecond,
		Max:        2 * time.Second,
		Multiplier: 2,
	})
})

// AccessClient is the subset of the Secret Manager client the fetcher calls.
type AccessClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves secret references through Secret Manager and keeps every value for the
// life of the process. When Secret Manager refuses or cannot be reached, values come from a
// local dotenv file instead.
type Fetcher struct {
	client    AccessClient
	closeable bool
	project   string
	fallback  *fallbackFile
	logger    *zap.Logger

	inflight singleflight.Group
	mu       sync.RWMutex
	cache    map[string]string

	latency metric.Float64Histogram
	hits    metric.Int64Counter
}

// Option configures a Fetcher.
type Option func(*Fetcher)

func WithLogger(logger *zap.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithProject sets the default project. A reference may name another with ?project=.
func WithProject(project string) Option {
	return func(f *Fetcher) { f.project = strings.TrimSpace(project) }
}

// WithFallbackFile sets the dotenv file consulted when Secret Manager is unavailable.
func WithFallbackFile(path string) Option {
	return func(f *Fetcher) { f.fallback = &fallbackFile{path: strings.TrimSpace(path)} }
}

// WithClient supplies the Secret Manager client. The fetcher does not close it.
func WithClient(client AccessClient) Option {
	return func(f *Fetcher) { f.client = client }
}

// NewFetcher creates a Fetcher. Without credentials for Secret Manager the fetcher still
// works from the fallback file.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	f := &Fetcher{
		logger:   zap.NewNop(),
		fallback: &fallbackFile{path: ".secrets.local"},
		cache:    map[string]string{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	f.instrument(otel.GetMeterProvider().Meter(meterName))

	if f.client == nil {
		client, err := newClient(ctx)
		if err != nil {
			f.logger.Warn("secrets: secret manager unavailable, serving fallback file only", zap.Error(err))
			return f, nil
		}
		f.client, f.closeable = client, true
	}
	return f, nil
}

func (f *Fetcher) instrument(meter metric.Meter) {
	var err error
	f.latency, err = meter.Float64Histogram("secrets.fetch.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Secret resolution latency by source"),
	)
	if err != nil {
		f.logger.Warn("secrets: latency histogram unavailable", zap.Error(err))
	}
	f.hits, err = meter.Int64Counter("secrets.fetch.cache_hits",
		metric.WithDescription("Secret resolutions served from memory"),
	)
	if err != nil {
		f.logger.Warn("secrets: cache hit counter unavailable", zap.Error(err))
	}
}

// Close closes the Secret Manager client if the fetcher opened it.
func (f *Fetcher) Close() error {
	if !f.closeable || f.client == nil {
		return nil
	}
	return f.client.Close()
}

// ResolveSecret satisfies config.SecretResolver.
func (f *Fetcher) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f.Resolve(ctx, ref)
}

// Resolve returns the value behind ref. Concurrent lookups of the same reference share one
// remote call.
func (f *Fetcher) Resolve(ctx context.Context, raw string) (string, error) {
	started := time.Now()
	ref, err := parseReference(raw)
	if err != nil {
		return "", err
	}
	key := ref.cacheKey()

	f.mu.RLock()
	value, cached := f.cache[key]
	f.mu.RUnlock()
	if cached {
		if f.hits != nil {
			f.hits.Add(ctx, 1, metric.WithAttributes(attribute.String("secret", ref.masked())))
		}
		f.observe(ctx, started, "cache")
		return value, nil
	}

	v, err, _ := f.inflight.Do(key, func() (any, error) {
		value, source, err := f.fetch(ctx, ref)
		if err != nil {
			return nil, err
		}
		f.mu.Lock()
		f.cache[key] = value
		f.mu.Unlock()
		f.observe(ctx, started, source)
		return value, nil
	})
	if err != nil {
		f.observe(ctx, started, "error")
		return "", err
	}
	return v.(string), nil
}

// fetch asks Secret Manager first. Only refusals and outages fall through to the file: a
// missing secret is an error even if the file has a value.
func (f *Fetcher) fetch(ctx context.Context, ref reference) (string, string, error) {
	project := ref.project
	if project == "" {
		project = f.project
	}
	if f.client != nil && project != "" {
		resp, err := f.client.AccessSecretVersion(ctx,
			&secretmanagerpb.AccessSecretVersionRequest{Name: ref.resource(project)}, retryTransient)
		if err == nil {
			if resp.GetPayload() == nil {
				return "", "", fmt.Errorf("secrets: empty payload for %s", ref)
			}
			return string(resp.GetPayload().GetData()), "remote", nil
		}
		if !usesFallback(err) {
			return "", "", fmt.Errorf("secrets: fetch %s: %w", ref, err)
		}
		f.logger.Debug("secrets: using fallback file", zap.Stringer("ref", ref), zap.Error(err))
	}

	if f.fallback != nil {
		value, ok, err := f.fallback.lookup(ref.envKey())
		if err != nil {
			f.logger.Debug("secrets: fallback file unreadable", zap.Error(err))
		}
		if ok {
			return value, "fallback", nil
		}
	}
	return "", "", fmt.Errorf("secrets: no value for %s", ref)
}

func (f *Fetcher) observe(ctx context.Context, started time.Time, source string) {
	if f.latency == nil {
		return
	}
	ms := float64(time.Since(started).Microseconds()) / 1000
	f.latency.Record(ctx, ms, metric.WithAttributes(attribute.String("source", source)))
}

func usesFallback(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	}
	return false
}
