package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/certified-builder/api/internal/di"
	"github.com/certified-builder/api/internal/platform/config"
	"github.com/certified-builder/api/internal/platform/idempotency"
	"github.com/certified-builder/api/internal/platform/jobs"
	"github.com/certified-builder/api/internal/platform/observability"
	"github.com/certified-builder/api/internal/platform/ordersource"
	"github.com/certified-builder/api/internal/platform/secrets"
	"github.com/certified-builder/api/internal/services"
)

// Runtime holds the configured clients and services shared by the API server and the CLI.
type Runtime struct {
	Config      config.Config
	Build       services.BuildInfo
	Metrics     *observability.Metrics
	Services    di.Services
	Idempotency idempotency.Store

	logger  *zap.Logger
	pubsub  *pubsub.Client
	closers []func(context.Context) error
}

// Bootstrap resolves configuration and connects every external dependency. Close must be
// called even when Bootstrap fails part way; it releases whatever was opened.
func Bootstrap(ctx context.Context, logger *zap.Logger, startedAt time.Time) (*Runtime, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	rt := &Runtime{logger: logger, Metrics: observability.NewMetrics()}

	envValues, err := config.EnvironmentValues()
	if err != nil {
		return rt, fmt.Errorf("read environment values: %w", err)
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		return rt, fmt.Errorf("secret fetcher: %w", err)
	}
	rt.onClose(func(context.Context) error { return fetcher.Close() })

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Error("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		return rt, fmt.Errorf("load configuration: %w", err)
	}
	rt.Config = cfg
	rt.Build = buildInfoFromEnv(envValues, cfg, startedAt)

	storageClient, err := cloudstorage.NewClient(ctx)
	if err != nil {
		return rt, fmt.Errorf("storage client: %w", err)
	}
	rt.onClose(func(context.Context) error { return storageClient.Close() })
	artifacts, err := newCertificateArtifacts(cfg, storageClient)
	if err != nil {
		return rt, fmt.Errorf("certificate storage: %w", err)
	}

	if host := strings.TrimSpace(cfg.PubSub.EmulatorHost); host != "" {
		_ = os.Setenv("PUBSUB_EMULATOR_HOST", host)
	}
	pubsubClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return rt, fmt.Errorf("pubsub client: %w", err)
	}
	rt.pubsub = pubsubClient
	rt.onClose(func(context.Context) error { return pubsubClient.Close() })
	buildTopic := pubsubClient.Topic(cfg.PubSub.BuildTopic)
	rt.onClose(func(context.Context) error {
		buildTopic.Stop()
		return nil
	})
	publisher, err := jobs.NewPubSubOrderPublisher(buildTopic)
	if err != nil {
		return rt, fmt.Errorf("order publisher: %w", err)
	}

	source, err := ordersource.New(cfg.OrderSource.BaseURL, cfg.OrderSource.Token, cfg.OrderSource.Timeout, cfg.OrderSource.RetryMax,
		ordersource.WithLogger(logger.Named("ordersource")),
	)
	if err != nil {
		return rt, fmt.Errorf("order source client: %w", err)
	}

	registry, replay, err := openRegistry(ctx, cfg, []dependencyProbe{
		{name: "storage", check: artifacts.Ping},
		{name: "orderSource", check: source.Ping},
		{name: "secretManager", check: secretManagerProbe(fetcher)},
	})
	if err != nil {
		return rt, fmt.Errorf("document store %s: %w", cfg.Store.Driver, err)
	}
	rt.Idempotency = replay

	container, err := di.NewContainer(ctx, cfg, registry, di.Collaborators{
		Source:    source,
		Publisher: publisher,
		Storage:   artifacts,
		Metrics:   rt.Metrics,
		Logger:    observability.EventLogger(logger.Named("services")),
		Build:     rt.Build,
	})
	if err != nil {
		_ = registry.Close(context.Background())
		return rt, fmt.Errorf("services: %w", err)
	}
	rt.onClose(container.Close)
	rt.Services = container.Services

	return rt, nil
}

// CompletionSubscriber builds the pull consumer for certificate completion messages.
func (r *Runtime) CompletionSubscriber() (*jobs.CompletionSubscriber, error) {
	if r == nil || r.pubsub == nil || r.Services.Events == nil {
		return nil, errors.New("runtime: pubsub and event processor are required")
	}
	name := strings.TrimSpace(r.Config.PubSub.CompletionSubscription)
	if name == "" {
		return nil, errors.New("runtime: completion subscription is not configured")
	}
	return jobs.NewCompletionSubscriber(
		r.pubsub.Subscription(name),
		r.Services.Events,
		jobs.WithSubscriberLogger(observability.EventLogger(r.logger.Named("subscriber"))),
		jobs.WithMaxOutstandingMessages(r.Config.PubSub.MaxOutstandingMessages),
	)
}

// Close releases resources in reverse acquisition order.
func (r *Runtime) Close(ctx context.Context) {
	if r == nil {
		return
	}
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](ctx); err != nil {
			r.logger.Warn("runtime close error", zap.Error(err))
		}
	}
	r.closers = nil
}

func (r *Runtime) onClose(fn func(context.Context) error) {
	r.closers = append(r.closers, fn)
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	project := lookup("API_SECRET_PROJECT_ID")
	if project == "" {
		project = lookup("API_GCP_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if project != "" {
		opts = append(opts, secrets.WithProject(project))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the secret-backed fields that must resolve to a value.
func requiredSecretNames(env map[string]string) []string {
	required := []string{"OrderSource.Token"}
	if strings.EqualFold(strings.TrimSpace(env["API_STORE_DRIVER"]), config.StoreDriverMongo) {
		required = append(required, "Mongo.URI")
	}
	return required
}
