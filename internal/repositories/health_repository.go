package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	domain "github.com/certified-builder/api/internal/domain"
)

// DefaultProbeTimeout bounds a probe that does not set its own timeout.
const DefaultProbeTimeout = 1500 * time.Millisecond

// Probe checks one dependency: the document store, the bucket, the order source.
type Probe struct {
	Name    string
	Timeout time.Duration
	Run     func(context.Context) error
}

// ProbeHealthRepository runs every probe concurrently on Collect.
type ProbeHealthRepository struct {
	probes []Probe
	now    func() time.Time
}

var _ HealthRepository = (*ProbeHealthRepository)(nil)

// NewProbeHealthRepository validates the probes. clock may be nil.
func NewProbeHealthRepository(probes []Probe, clock func() time.Time) (*ProbeHealthRepository, error) {
	if len(probes) == 0 {
		return nil, errors.New("health repository: no probes configured")
	}
	seen := make(map[string]bool, len(probes))
	for _, p := range probes {
		name := strings.TrimSpace(p.Name)
		switch {
		case name == "":
			return nil, errors.New("health repository: probe without a name")
		case p.Run == nil:
			return nil, fmt.Errorf("health repository: probe %s has no check", name)
		case seen[name]:
			return nil, fmt.Errorf("health repository: duplicate probe %s", name)
		}
		seen[name] = true
	}
	if clock == nil {
		clock = time.Now
	}
	return &ProbeHealthRepository{probes: append([]Probe(nil), probes...), now: clock}, nil
}

// Collect never fails on a probe error; failures are reported per check. A failing probe
// degrades the report, and a probe that times out or is cancelled marks it as error.
func (r *ProbeHealthRepository) Collect(ctx context.Context) (domain.SystemHealthReport, error) {
	results := make([]domain.SystemHealthCheck, len(r.probes))
	var g errgroup.Group
	for i, p := range r.probes {
		g.Go(func() error {
			results[i] = r.run(ctx, p)
			return nil
		})
	}
	_ = g.Wait()

	report := domain.SystemHealthReport{
		Status:      domain.HealthStatusOK,
		Checks:      make(map[string]domain.SystemHealthCheck, len(results)),
		GeneratedAt: r.now(),
	}
	for i, res := range results {
		report.Checks[r.probes[i].Name] = res
		switch {
		case res.Status == domain.HealthStatusError:
			report.Status = domain.HealthStatusError
		case res.Status == domain.HealthStatusDegraded && report.Status == domain.HealthStatusOK:
			report.Status = domain.HealthStatusDegraded
		}
	}
	return report, nil
}

func (r *ProbeHealthRepository) run(ctx context.Context, p Probe) domain.SystemHealthCheck {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := r.now()
	err := p.Run(ctx)
	if err == nil {
		err = ctx.Err()
	}
	finished := r.now()

	check := domain.SystemHealthCheck{
		Status:    domain.HealthStatusOK,
		Detail:    "ok",
		Latency:   finished.Sub(started),
		CheckedAt: finished,
	}
	if err == nil {
		return check
	}
	check.Error = err.Error()
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		check.Status, check.Detail = domain.HealthStatusError, "timeout"
	case errors.Is(err, context.Canceled):
		check.Status, check.Detail = domain.HealthStatusError, "cancelled"
	default:
		check.Status, check.Detail = domain.HealthStatusDegraded, err.Error()
	}
	return check
}
