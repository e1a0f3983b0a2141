package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultStoreDriver          = StoreDriverFirestore
	defaultMongoDatabase        = "certified_builder"
	defaultMongoConnectTimeout  = 10 * time.Second
	defaultCertificatesPrefix   = "certificates"
	defaultLinkTTL              = 7 * 24 * time.Hour
	defaultBuildTopic           = "certificate-build"
	defaultCompletionSub        = "certificate-completed"
	defaultMaxOutstanding       = 10
	defaultOrderSourceTimeout   = 15 * time.Second
	defaultOrderSourceRetryMax  = 3
	defaultIntakeConcurrency    = 8
	defaultConflictRetries      = 3
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultAPIKeyHeader         = "X-API-KEY"
	defaultMetricsPath          = "/metrics"
	defaultSecurityEnvironment  = "local"
	defaultOIDCJWKSURL          = "https://www.googleapis.com/oauth2/v3/certs"
	defaultSecurityIssuer       = "https://accounts.google.com"
	defaultSecurityIssuerNoHTTP = "accounts.google.com"
	maxSignedLinkTTL            = 7 * 24 * time.Hour
)

const (
	// StoreDriverFirestore persists documents in Cloud Firestore.
	StoreDriverFirestore = "firestore"
	// StoreDriverMongo persists documents in MongoDB.
	StoreDriverMongo = "mongo"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server        ServerConfig
	Store         StoreConfig
	Firestore     FirestoreConfig
	Mongo         MongoConfig
	Storage       StorageConfig
	PubSub        PubSubConfig
	OrderSource   OrderSourceConfig
	Intake        IntakeConfig
	Certificates  CertificateConfig
	Idempotency   IdempotencyConfig
	Security      SecurityConfig
	Observability ObservabilityConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// StoreConfig selects the document store backing the repositories.
type StoreConfig struct {
	Driver string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// MongoConfig stores MongoDB connection parameters.
type MongoConfig struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
}

// StorageConfig describes the bucket holding generated certificate artifacts.
type StorageConfig struct {
	CertificatesBucket string
	CertificatesPrefix string
	LinkTTL            time.Duration
	// SignerServiceAccountJSON holds service account credentials used to sign links.
	// Ambient credentials are used when empty.
	SignerServiceAccountJSON string
}

// PubSubConfig configures the build topic and the completion subscription.
type PubSubConfig struct {
	ProjectID              string
	EmulatorHost           string
	BuildTopic             string
	CompletionSubscription string
	MaxOutstandingMessages int
	SubscriberEnabled      bool
}

// OrderSourceConfig configures the upstream order source HTTP API.
type OrderSourceConfig struct {
	BaseURL  string
	Token    string
	Timeout  time.Duration
	RetryMax int
}

// IntakeConfig tunes batch ingestion.
type IntakeConfig struct {
	Concurrency int
}

// CertificateConfig tunes completion event processing.
type CertificateConfig struct {
	ConflictRetries int
}

// IdempotencyConfig controls replay of mutating API requests carrying an idempotency key.
type IdempotencyConfig struct {
	Enabled bool
	Header  string
	TTL     time.Duration
}

// SecurityConfig groups caller authentication settings.
type SecurityConfig struct {
	Environment  string
	APIKeyHeader string
	APIKeys      []string
	OIDC         OIDCConfig
}

// OIDCConfig controls Google-signed token verification for push deliveries.
type OIDCConfig struct {
	JWKSURL   string
	Audience  string
	Audiences map[string]string
	Issuers   []string
}

// ObservabilityConfig controls metrics exposition.
type ObservabilityConfig struct {
	MetricsEnabled bool
	MetricsPath    string
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets failed to resolve.
type MissingSecretsError struct {
	names []string
}

// Error implements the error interface.
func (e *MissingSecretsError) Error() string {
	if e == nil || len(e.names) == 0 {
		return "missing required secrets"
	}
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// RedactedNames returns hashed identifiers safe for logs.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil {
		return nil
	}
	out := make([]string, 0, len(e.names))
	for _, name := range e.names {
		out = append(out, redactSecretName(name))
	}
	sort.Strings(out)
	return out
}

// Names returns the underlying secret identifiers.
func (e *MissingSecretsError) Names() []string {
	if e == nil {
		return nil
	}
	out := append([]string(nil), e.names...)
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile               string
	envMap                map[string]string
	useSystemEnv          bool
	secret                SecretResolver
	requiredSecrets       []string
	panicOnMissingSecrets bool
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets a custom secret resolver used for sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks the provided secret identifiers as mandatory.
// Identifiers match the config field names recorded by the loader
// (e.g. "OrderSource.Token" or "Security.APIKeys[0]").
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// WithPanicOnMissingSecrets causes Load to panic when required secrets are missing.
func WithPanicOnMissingSecrets() Option {
	return func(o *loaderOptions) {
		o.panicOnMissingSecrets = true
	}
}

// EnvironmentValues returns the effective key/value environment map after applying the same
// precedence rules as Load (dotenv < OS env < explicit env map).
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := newLoaderOptions(opts...)
	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}

	values := make(map[string]string, len(dotEnvValues))
	for key, value := range dotEnvValues {
		values[key] = value
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if !ok || strings.TrimSpace(key) == "" {
				continue
			}
			values[strings.TrimSpace(key)] = value
		}
	}
	for key, value := range options.envMap {
		values[key] = value
	}
	return values, nil
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts...)

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := env(func(key string) (string, bool) {
		if value, ok := options.envMap[key]; ok {
			return value, true
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		value, ok := dotEnvValues[key]
		return value, ok
	})

	projectID := lookup.str("API_GCP_PROJECT_ID", "")

	cfg := Config{
		Server: ServerConfig{
			Port:         lookup.str("API_SERVER_PORT", defaultPort),
			ReadTimeout:  lookup.duration("API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: lookup.duration("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  lookup.duration("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Store: StoreConfig{
			Driver: strings.ToLower(lookup.str("API_STORE_DRIVER", defaultStoreDriver)),
		},
		Firestore: FirestoreConfig{
			ProjectID:    lookup.str("API_FIRESTORE_PROJECT_ID", projectID),
			EmulatorHost: lookup.str("API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Mongo: MongoConfig{
			URI:            lookup.str("API_MONGO_URI", ""),
			Database:       lookup.str("API_MONGO_DATABASE", defaultMongoDatabase),
			ConnectTimeout: lookup.duration("API_MONGO_CONNECT_TIMEOUT", defaultMongoConnectTimeout),
		},
		Storage: StorageConfig{
			CertificatesBucket:       lookup.str("API_STORAGE_CERTIFICATES_BUCKET", ""),
			CertificatesPrefix:       strings.Trim(lookup.str("API_STORAGE_CERTIFICATES_PREFIX", defaultCertificatesPrefix), "/"),
			LinkTTL:                  lookup.duration("API_STORAGE_LINK_TTL", defaultLinkTTL),
			SignerServiceAccountJSON: lookup.str("API_STORAGE_SIGNER_CREDENTIALS", ""),
		},
		PubSub: PubSubConfig{
			ProjectID:              lookup.str("API_PUBSUB_PROJECT_ID", projectID),
			EmulatorHost:           lookup.str("API_PUBSUB_EMULATOR_HOST", ""),
			BuildTopic:             lookup.str("API_PUBSUB_BUILD_TOPIC", defaultBuildTopic),
			CompletionSubscription: lookup.str("API_PUBSUB_COMPLETION_SUBSCRIPTION", defaultCompletionSub),
			MaxOutstandingMessages: lookup.integer("API_PUBSUB_MAX_CONCURRENCY", defaultMaxOutstanding),
			SubscriberEnabled:      lookup.flag("API_PUBSUB_SUBSCRIBER_ENABLED", true),
		},
		OrderSource: OrderSourceConfig{
			BaseURL:  strings.TrimRight(lookup.str("API_ORDER_SOURCE_BASE_URL", ""), "/"),
			Token:    lookup.str("API_ORDER_SOURCE_TOKEN", ""),
			Timeout:  lookup.duration("API_ORDER_SOURCE_TIMEOUT", defaultOrderSourceTimeout),
			RetryMax: lookup.integer("API_ORDER_SOURCE_RETRY_MAX", defaultOrderSourceRetryMax),
		},
		Intake: IntakeConfig{
			Concurrency: lookup.integer("API_INTAKE_CONCURRENCY", defaultIntakeConcurrency),
		},
		Certificates: CertificateConfig{
			ConflictRetries: lookup.integer("API_CERTIFICATES_CONFLICT_RETRIES", defaultConflictRetries),
		},
		Idempotency: IdempotencyConfig{
			Enabled: lookup.flag("API_IDEMPOTENCY_ENABLED", true),
			Header:  lookup.str("API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:     lookup.duration("API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
		},
		Security: SecurityConfig{
			Environment:  strings.ToLower(lookup.str("API_SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
			APIKeyHeader: lookup.str("API_SECURITY_API_KEY_HEADER", defaultAPIKeyHeader),
			APIKeys:      lookup.list("API_SECURITY_API_KEYS"),
			OIDC: OIDCConfig{
				JWKSURL:   lookup.str("API_SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience:  lookup.str("API_SECURITY_OIDC_AUDIENCE", ""),
				Audiences: lookup.pairs("API_SECURITY_OIDC_AUDIENCES"),
				Issuers:   lookup.list("API_SECURITY_OIDC_ISSUERS"),
			},
		},
		Observability: ObservabilityConfig{
			MetricsEnabled: lookup.flag("API_METRICS_ENABLED", true),
			MetricsPath:    lookup.str("API_METRICS_PATH", defaultMetricsPath),
		},
	}

	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}
	if len(cfg.Security.OIDC.Issuers) == 0 {
		cfg.Security.OIDC.Issuers = []string{defaultSecurityIssuer, defaultSecurityIssuerNoHTTP}
	}
	if cfg.Security.OIDC.Audience == "" {
		if audience, ok := cfg.Security.OIDC.Audiences[cfg.Security.Environment]; ok {
			cfg.Security.OIDC.Audience = audience
		}
	}

	resolvedSecrets := make(map[string]string)
	resolveField := func(name string, field *string) error {
		resolved, err := resolveSecret(ctx, *field, options.secret)
		if err != nil {
			return err
		}
		*field = resolved
		resolvedSecrets[name] = strings.TrimSpace(resolved)
		return nil
	}

	secretFields := []struct {
		name  string
		field *string
	}{
		{"Mongo.URI", &cfg.Mongo.URI},
		{"Storage.SignerServiceAccountJSON", &cfg.Storage.SignerServiceAccountJSON},
		{"OrderSource.Token", &cfg.OrderSource.Token},
	}
	for i := range cfg.Security.APIKeys {
		secretFields = append(secretFields, struct {
			name  string
			field *string
		}{fmt.Sprintf("Security.APIKeys[%d]", i), &cfg.Security.APIKeys[i]})
	}
	for _, target := range secretFields {
		if err := resolveField(target.name, target.field); err != nil {
			return Config{}, err
		}
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	if missing := findMissingSecrets(options.requiredSecrets, resolvedSecrets); missing != nil {
		if options.panicOnMissingSecrets {
			fmt.Fprintf(os.Stderr, "config: %s\n", missing.Error())
			panic(missing)
		}
		return Config{}, missing
	}

	return cfg, nil
}

func newLoaderOptions(opts ...Option) loaderOptions {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		secret: SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
			return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
		}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	switch cfg.Store.Driver {
	case StoreDriverFirestore:
		if cfg.Firestore.ProjectID == "" {
			missing = append(missing, "Firestore.ProjectID")
		}
	case StoreDriverMongo:
		if strings.TrimSpace(cfg.Mongo.URI) == "" {
			missing = append(missing, "Mongo.URI")
		}
		if strings.TrimSpace(cfg.Mongo.Database) == "" {
			missing = append(missing, "Mongo.Database")
		}
	default:
		missing = append(missing, "Store.Driver")
	}
	if cfg.Storage.CertificatesBucket == "" {
		missing = append(missing, "Storage.CertificatesBucket")
	}
	if cfg.Storage.LinkTTL <= 0 || cfg.Storage.LinkTTL > maxSignedLinkTTL {
		missing = append(missing, "Storage.LinkTTL")
	}
	if cfg.PubSub.ProjectID == "" {
		missing = append(missing, "PubSub.ProjectID")
	}
	if strings.TrimSpace(cfg.PubSub.BuildTopic) == "" {
		missing = append(missing, "PubSub.BuildTopic")
	}
	if cfg.PubSub.SubscriberEnabled && strings.TrimSpace(cfg.PubSub.CompletionSubscription) == "" {
		missing = append(missing, "PubSub.CompletionSubscription")
	}
	if cfg.PubSub.MaxOutstandingMessages <= 0 {
		missing = append(missing, "PubSub.MaxOutstandingMessages")
	}
	if cfg.OrderSource.BaseURL == "" {
		missing = append(missing, "OrderSource.BaseURL")
	}
	if cfg.OrderSource.RetryMax < 0 {
		missing = append(missing, "OrderSource.RetryMax")
	}
	if cfg.Intake.Concurrency <= 0 {
		missing = append(missing, "Intake.Concurrency")
	}
	if cfg.Certificates.ConflictRetries <= 0 {
		missing = append(missing, "Certificates.ConflictRetries")
	}
	if cfg.Idempotency.Enabled && (strings.TrimSpace(cfg.Idempotency.Header) == "" || cfg.Idempotency.TTL <= 0) {
		missing = append(missing, "Idempotency")
	}
	if strings.TrimSpace(cfg.Security.APIKeyHeader) == "" {
		missing = append(missing, "Security.APIKeyHeader")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	seen := make(map[string]struct{}, len(required))
	var names []string
	for _, name := range required {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		if resolved[trimmed] != "" {
			continue
		}
		names = append(names, trimmed)
	}
	if len(names) == 0 {
		return nil
	}
	return &MissingSecretsError{names: names}
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}
