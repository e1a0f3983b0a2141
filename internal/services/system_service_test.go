package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/certified-builder/api/internal/domain"
)

type probeRecorder struct {
	report domain.SystemHealthReport
	err    error
	runs   int
}

func (p *probeRecorder) Collect(context.Context) (domain.SystemHealthReport, error) {
	p.runs++
	return p.report, p.err
}

func newSystemForTest(t *testing.T, probes *probeRecorder, at time.Time, build BuildInfo) SystemService {
	t.Helper()
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: probes,
		Clock:            func() time.Time { return at },
		Build:            build,
	})
	require.NoError(t, err)
	return svc
}

func TestHealthReportStampsBuildAndTiming(t *testing.T) {
	boot := time.Date(2025, 2, 3, 8, 0, 0, 0, time.UTC)
	at := boot.Add(42 * time.Minute)
	probes := &probeRecorder{report: domain.SystemHealthReport{
		Checks: map[string]domain.SystemHealthCheck{"mongo": {Status: domain.HealthStatusOK}},
	}}
	svc := newSystemForTest(t, probes, at, BuildInfo{Version: "0.9.1", CommitSHA: "f00d", Environment: "staging", StartedAt: boot})

	report, err := svc.HealthReport(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.HealthStatusOK, report.Status)
	assert.Equal(t, "0.9.1", report.Version)
	assert.Equal(t, "f00d", report.CommitSHA)
	assert.Equal(t, "staging", report.Environment)
	assert.Equal(t, 42*time.Minute, report.Uptime)
	assert.True(t, report.GeneratedAt.Equal(at))
	assert.Equal(t, 1, probes.runs)
}

func TestHealthReportKeepsStatusFromProbes(t *testing.T) {
	probes := &probeRecorder{report: domain.SystemHealthReport{
		Status: domain.HealthStatusDegraded,
		Checks: map[string]domain.SystemHealthCheck{"storage": {Status: domain.HealthStatusOK}},
	}}
	svc := newSystemForTest(t, probes, time.Now(), BuildInfo{})

	report, err := svc.HealthReport(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.HealthStatusDegraded, report.Status)
}

func TestHealthReportWorstCheckWins(t *testing.T) {
	cases := map[string]struct {
		checks map[string]domain.SystemHealthCheck
		want   string
	}{
		"slow bucket": {
			checks: map[string]domain.SystemHealthCheck{
				"storage":   {Status: domain.HealthStatusDegraded},
				"firestore": {Status: domain.HealthStatusOK},
			},
			want: domain.HealthStatusDegraded,
		},
		"order source down": {
			checks: map[string]domain.SystemHealthCheck{
				"orderSource": {Status: domain.HealthStatusError},
				"storage":     {Status: domain.HealthStatusDegraded},
			},
			want: domain.HealthStatusError,
		},
		"unknown status": {
			checks: map[string]domain.SystemHealthCheck{"pubsub": {Status: "flapping"}},
			want:   domain.HealthStatusDegraded,
		},
		"nothing probed": {want: domain.HealthStatusOK},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			svc := newSystemForTest(t, &probeRecorder{report: domain.SystemHealthReport{Checks: tc.checks}}, time.Now(), BuildInfo{})
			report, err := svc.HealthReport(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tc.want, report.Status)
			assert.NotNil(t, report.Checks)
		})
	}
}

func TestHealthReportPropagatesProbeFailure(t *testing.T) {
	boom := errors.New("collect failed")
	svc := newSystemForTest(t, &probeRecorder{err: boom}, time.Now(), BuildInfo{})

	_, err := svc.HealthReport(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestLivenessDoesNotProbe(t *testing.T) {
	boot := time.Date(2025, 2, 3, 8, 0, 0, 0, time.UTC)
	probes := &probeRecorder{err: errors.New("must not run")}
	svc := newSystemForTest(t, probes, boot.Add(time.Hour), BuildInfo{Version: "dev", StartedAt: boot})

	report := svc.Liveness(context.Background())

	assert.Zero(t, probes.runs)
	assert.Equal(t, domain.HealthStatusOK, report.Status)
	assert.Equal(t, "dev", report.Version)
	assert.Equal(t, time.Hour, report.Uptime)
}

func TestNewSystemServiceNeedsProbes(t *testing.T) {
	_, err := NewSystemService(SystemServiceDeps{})
	assert.Error(t, err)
}
