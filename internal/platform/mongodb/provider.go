package mongodb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/certified-builder/api/internal/platform/config"
)

const defaultConnectTimeout = 10 * time.Second

// Provider owns a connected MongoDB client bound to one database.
type Provider struct {
	client   *mongo.Client
	database *mongo.Database
}

// Connect dials MongoDB using the configured URI and verifies the primary is reachable.
func Connect(ctx context.Context, cfg config.MongoConfig) (*Provider, error) {
	uri := strings.TrimSpace(cfg.URI)
	if uri == "" {
		return nil, errors.New("mongodb: uri is required")
	}
	name := strings.TrimSpace(cfg.Database)
	if name == "" {
		return nil, errors.New("mongodb: database is required")
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri).SetConnectTimeout(timeout))
	if err != nil {
		return nil, fmt.Errorf("mongodb: connect: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongodb: ping: %w", err)
	}
	return &Provider{client: client, database: client.Database(name)}, nil
}

// Database returns the configured database handle.
func (p *Provider) Database() *mongo.Database {
	return p.database
}

// Ping verifies connectivity to the primary.
func (p *Provider) Ping(ctx context.Context) error {
	return p.client.Ping(ctx, readpref.Primary())
}

// EnsureIndexes creates ascending single-field indexes, ignoring ones that already exist.
func (p *Provider) EnsureIndexes(ctx context.Context, indexes map[string][]string) error {
	for collection, fields := range indexes {
		models := make([]mongo.IndexModel, 0, len(fields))
		for _, field := range fields {
			models = append(models, mongo.IndexModel{Keys: bson.D{{Key: field, Value: 1}}})
		}
		if len(models) == 0 {
			continue
		}
		if _, err := p.database.Collection(collection).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("mongodb: ensure indexes on %s: %w", collection, err)
		}
	}
	return nil
}

// Close disconnects the client.
func (p *Provider) Close(ctx context.Context) error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Disconnect(ctx)
}
