package services

import (
	"context"
	"errors"
	"time"

	domain "github.com/certified-builder/api/internal/domain"
	"github.com/certified-builder/api/internal/repositories"
)

// BuildInfo identifies the running binary in health reports.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// SystemServiceDeps bundles collaborators required to construct a system service.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Clock            func() time.Time
	Build            BuildInfo
}

type systemService struct {
	probes repositories.HealthRepository
	now    func() time.Time
	build  BuildInfo
}

var _ SystemService = (*systemService)(nil)

// NewSystemService assembles the service behind the liveness and readiness endpoints.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	svc := &systemService{
		probes: deps.HealthRepository,
		now:    func() time.Time { return clock().UTC() },
		build:  deps.Build,
	}
	if svc.build.StartedAt.IsZero() {
		svc.build.StartedAt = svc.now()
	}
	return svc, nil
}

// Liveness answers without touching the store, bucket or order source.
func (s *systemService) Liveness(context.Context) SystemHealthReport {
	return s.stamp(domain.SystemHealthReport{Status: domain.HealthStatusOK})
}

// HealthReport runs the dependency probes. A report without an overall status takes the
// worst status among its checks.
func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	report, err := s.probes.Collect(ctx)
	if err != nil {
		return SystemHealthReport{}, err
	}
	if report.Status == "" {
		report.Status = worstStatus(report.Checks)
	}
	return s.stamp(report), nil
}

// stamp fills build metadata and timing the probes did not set.
func (s *systemService) stamp(report SystemHealthReport) SystemHealthReport {
	now := s.now()
	if report.Checks == nil {
		report.Checks = map[string]domain.SystemHealthCheck{}
	}
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	}
	if report.Version == "" {
		report.Version = s.build.Version
	}
	if report.CommitSHA == "" {
		report.CommitSHA = s.build.CommitSHA
	}
	if report.Environment == "" {
		report.Environment = s.build.Environment
	}
	if report.Uptime <= 0 {
		report.Uptime = now.Sub(s.build.StartedAt)
	}
	return report
}

// worstStatus ranks error above degraded above ok. Unknown statuses count as degraded.
func worstStatus(checks map[string]domain.SystemHealthCheck) string {
	worst := domain.HealthStatusOK
	for _, check := range checks {
		switch check.Status {
		case "", domain.HealthStatusOK:
		case domain.HealthStatusError:
			return domain.HealthStatusError
		default:
			worst = domain.HealthStatusDegraded
		}
	}
	return worst
}
