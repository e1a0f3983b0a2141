package app

import (
	"context"
	"fmt"
	"os"

	cloudstorage "cloud.google.com/go/storage"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/certified-builder/api/internal/platform/config"
	pfirestore "github.com/certified-builder/api/internal/platform/firestore"
	"github.com/certified-builder/api/internal/platform/idempotency"
	"github.com/certified-builder/api/internal/platform/mongodb"
	"github.com/certified-builder/api/internal/platform/secrets"
	platformstorage "github.com/certified-builder/api/internal/platform/storage"
	"github.com/certified-builder/api/internal/repositories"
	firestoreRepo "github.com/certified-builder/api/internal/repositories/firestore"
	mongoRepo "github.com/certified-builder/api/internal/repositories/mongo"
)

type dependencyProbe struct {
	name  string
	check func(context.Context) error
}

// openRegistry connects the configured document store and wires its repositories together
// with a health repository probing the store plus the extra probes. The idempotency store
// lives in the same database.
func openRegistry(ctx context.Context, cfg config.Config, probes []dependencyProbe) (repositories.Registry, idempotency.Store, error) {
	switch cfg.Store.Driver {
	case config.StoreDriverFirestore:
		provider := pfirestore.NewProvider(cfg.Firestore)
		if _, err := provider.Client(ctx); err != nil {
			return nil, nil, fmt.Errorf("firestore client: %w", err)
		}
		health, err := newHealthRepository(append([]dependencyProbe{{name: "firestore", check: provider.Ping}}, probes...))
		if err != nil {
			_ = provider.Close(context.Background())
			return nil, nil, err
		}
		registry, err := firestoreRepo.NewRegistry(provider, health)
		if err != nil {
			_ = provider.Close(context.Background())
			return nil, nil, err
		}
		return registry, idempotency.NewFirestoreStore(provider), nil
	case config.StoreDriverMongo:
		provider, err := mongodb.Connect(ctx, cfg.Mongo)
		if err != nil {
			return nil, nil, err
		}
		replay := idempotency.NewMongoStore(provider.Database())
		if err := provider.EnsureIndexes(ctx, mongoRepo.Indexes); err != nil {
			_ = provider.Close(context.Background())
			return nil, nil, err
		}
		if err := replay.EnsureTTLIndex(ctx); err != nil {
			_ = provider.Close(context.Background())
			return nil, nil, err
		}
		health, err := newHealthRepository(append([]dependencyProbe{{name: "mongo", check: provider.Ping}}, probes...))
		if err != nil {
			_ = provider.Close(context.Background())
			return nil, nil, err
		}
		registry, err := mongoRepo.NewRegistry(provider.Database(), health, provider.Close)
		if err != nil {
			_ = provider.Close(context.Background())
			return nil, nil, err
		}
		return registry, replay, nil
	default:
		return nil, nil, fmt.Errorf("unsupported store driver %q", cfg.Store.Driver)
	}
}

func newHealthRepository(deps []dependencyProbe) (repositories.HealthRepository, error) {
	probes := make([]repositories.Probe, 0, len(deps))
	for _, dep := range deps {
		if dep.check != nil {
			probes = append(probes, repositories.Probe{Name: dep.name, Run: dep.check})
		}
	}
	repo, err := repositories.NewProbeHealthRepository(probes, nil)
	if err != nil {
		return nil, err
	}
	return repo, nil
}

// secretManagerProbe treats a missing probe secret as healthy: only reachability matters.
func secretManagerProbe(fetcher *secrets.Fetcher) func(context.Context) error {
	if fetcher == nil {
		return nil
	}
	const secretHealthReference = "secret://system/healthz?version=latest"
	return func(ctx context.Context) error {
		_, err := fetcher.Resolve(ctx, secretHealthReference)
		if err == nil {
			return nil
		}
		if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
			return nil
		}
		return err
	}
}

// newCertificateArtifacts binds link signing and object deletion to the certificates bucket.
// The signing credential falls back to GOOGLE_APPLICATION_CREDENTIALS.
func newCertificateArtifacts(cfg config.Config, client *cloudstorage.Client) (*platformstorage.CertificateArtifacts, error) {
	signer, err := platformstorage.LoadSigner(cfg.Storage.SignerServiceAccountJSON, os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	if err != nil {
		return nil, err
	}
	links, err := platformstorage.NewLinkSigner(signer, platformstorage.WithLinkTTL(cfg.Storage.LinkTTL))
	if err != nil {
		return nil, err
	}
	objects, err := platformstorage.NewObjectStore(client)
	if err != nil {
		return nil, err
	}
	return platformstorage.NewCertificateArtifacts(cfg.Storage.CertificatesBucket, cfg.Storage.CertificatesPrefix, links, objects)
}
