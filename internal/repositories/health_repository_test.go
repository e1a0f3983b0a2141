package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/certified-builder/api/internal/domain"
)

func TestProbeHealthRepositoryCollect(t *testing.T) {
	fixed := time.Date(2025, time.May, 4, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return fixed }
	healthy := func(context.Context) error { return nil }
	hangs := func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}

	cases := map[string]struct {
		probes     []Probe
		status     string
		inspect    string
		wantDetail string
	}{
		"all answer": {
			probes:     []Probe{{Name: "firestore", Run: healthy}, {Name: "storage", Run: healthy}},
			status:     domain.HealthStatusOK,
			inspect:    "storage",
			wantDetail: "ok",
		},
		"order source refuses": {
			probes: []Probe{
				{Name: "orderSource", Run: func(context.Context) error { return errors.New("502 bad gateway") }},
				{Name: "firestore", Run: healthy},
			},
			status:     domain.HealthStatusDegraded,
			inspect:    "orderSource",
			wantDetail: "502 bad gateway",
		},
		"bucket hangs": {
			probes:     []Probe{{Name: "storage", Timeout: 5 * time.Millisecond, Run: hangs}, {Name: "firestore", Run: healthy}},
			status:     domain.HealthStatusError,
			inspect:    "storage",
			wantDetail: "timeout",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			repo, err := NewProbeHealthRepository(tc.probes, clock)
			if err != nil {
				t.Fatalf("NewProbeHealthRepository: %v", err)
			}
			report, err := repo.Collect(context.Background())
			if err != nil {
				t.Fatalf("Collect: %v", err)
			}
			if report.Status != tc.status {
				t.Fatalf("status = %s, want %s", report.Status, tc.status)
			}
			if len(report.Checks) != len(tc.probes) {
				t.Fatalf("got %d checks for %d probes", len(report.Checks), len(tc.probes))
			}
			check := report.Checks[tc.inspect]
			if check.Detail != tc.wantDetail {
				t.Fatalf("detail = %q, want %q", check.Detail, tc.wantDetail)
			}
			if tc.wantDetail != "ok" && check.Error == "" {
				t.Fatalf("expected error text on failed probe")
			}
			if !report.GeneratedAt.Equal(fixed) || !check.CheckedAt.Equal(fixed) {
				t.Fatalf("expected injected clock to stamp report and check")
			}
		})
	}
}

func TestProbeHealthRepositoryCancelledContext(t *testing.T) {
	repo, err := NewProbeHealthRepository([]Probe{{Name: "mongo", Run: func(context.Context) error { return nil }}}, nil)
	if err != nil {
		t.Fatalf("NewProbeHealthRepository: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := repo.Collect(ctx)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if got := report.Checks["mongo"]; got.Status != domain.HealthStatusError || got.Detail != "cancelled" {
		t.Fatalf("expected cancelled probe to be an error, got %+v", got)
	}
}

func TestNewProbeHealthRepositoryRejectsBadProbes(t *testing.T) {
	ok := func(context.Context) error { return nil }
	for name, probes := range map[string][]Probe{
		"none":      nil,
		"no check":  {{Name: "firestore"}},
		"no name":   {{Run: ok}},
		"duplicate": {{Name: "storage", Run: ok}, {Name: "storage", Run: ok}},
	} {
		if _, err := NewProbeHealthRepository(probes, nil); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestStoreErrorClassification(t *testing.T) {
	cause := errors.New("duplicate key")
	err := errors.Join(errors.New("orders"), NewStoreError("orders.create", ErrorKindConflict, cause))

	if !IsConflict(err) {
		t.Fatalf("expected conflict classification for %v", err)
	}
	if IsNotFound(err) || IsUnavailable(err) {
		t.Fatalf("unexpected classification for %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped error to unwrap to cause")
	}
	if IsNotFound(errors.New("plain")) {
		t.Fatal("plain errors must not classify as not found")
	}
}
