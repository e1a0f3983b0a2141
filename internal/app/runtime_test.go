package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	domain "github.com/certified-builder/api/internal/domain"
	"github.com/certified-builder/api/internal/platform/config"
)

func TestRequiredSecretNames(t *testing.T) {
	if got := requiredSecretNames(map[string]string{}); len(got) != 1 || got[0] != "OrderSource.Token" {
		t.Fatalf("unexpected firestore secrets %v", got)
	}
	got := requiredSecretNames(map[string]string{"API_STORE_DRIVER": " Mongo "})
	if len(got) != 2 || got[1] != "Mongo.URI" {
		t.Fatalf("expected mongo uri to be required, got %v", got)
	}
}

func TestBuildInfoFromEnv(t *testing.T) {
	started := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	info := buildInfoFromEnv(map[string]string{}, config.Config{}, started)
	if info.Version != "dev" || info.CommitSHA != "unknown" || info.Environment != "local" || !info.StartedAt.Equal(started) {
		t.Fatalf("unexpected defaults %+v", info)
	}

	cfg := config.Config{Security: config.SecurityConfig{Environment: "prod"}}
	info = buildInfoFromEnv(map[string]string{"API_BUILD_VERSION": "1.4.0", "API_BUILD_COMMIT_SHA": "abc"}, cfg, started)
	if info.Version != "1.4.0" || info.CommitSHA != "abc" || info.Environment != "prod" {
		t.Fatalf("unexpected build info %+v", info)
	}
}

func TestNewHealthRepositoryCollectsProbes(t *testing.T) {
	repo, err := newHealthRepository([]dependencyProbe{
		{name: "firestore", check: func(context.Context) error { return nil }},
		{name: "orderSource", check: func(context.Context) error { return errors.New("502 bad gateway") }},
		{name: "secretManager"},
	})
	if err != nil {
		t.Fatalf("newHealthRepository: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(report.Checks) != 2 {
		t.Fatalf("expected probes without a check to be dropped, got %v", report.Checks)
	}
	if report.Checks["orderSource"].Status == domain.HealthStatusOK {
		t.Fatalf("expected failing probe to be reported, got %+v", report.Checks["orderSource"])
	}
	if report.Status == domain.HealthStatusOK {
		t.Fatalf("expected overall status to degrade")
	}

	if _, err := newHealthRepository(nil); err == nil {
		t.Fatalf("expected error without probes")
	}
}

func TestOpenRegistryRejectsUnknownDriver(t *testing.T) {
	_, _, err := openRegistry(context.Background(), config.Config{Store: config.StoreConfig{Driver: "sqlite"}}, nil)
	if err == nil {
		t.Fatalf("expected unsupported driver error")
	}
}

func TestRuntimeCloseRunsInReverseOrder(t *testing.T) {
	var order []int
	rt := &Runtime{logger: zap.NewNop()}
	rt.onClose(func(context.Context) error { order = append(order, 1); return nil })
	rt.onClose(func(context.Context) error { order = append(order, 2); return errors.New("ignored") })

	rt.Close(context.Background())
	rt.Close(context.Background())

	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Fatalf("unexpected close order %v", order)
	}
}
