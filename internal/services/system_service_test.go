package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/NagabhushanAdiga/shop-e/internal/domain"
)

type stubHealthRepository struct {
	report domain.SystemHealthReport
	err    error
}

func (s *stubHealthRepository) Collect(context.Context) (domain.SystemHealthReport, error) {
	return s.report, s.err
}

func TestSystemServiceHealthReportEnrichesMetadata(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start.Add(5 * time.Minute)
	repo := &stubHealthRepository{report: domain.SystemHealthReport{
		Checks: map[string]domain.SystemHealthCheck{
			"firestore": {Status: domain.HealthStatusOK},
			"postgres":  {Status: domain.HealthStatusDegraded, Detail: "slow"},
		},
	}}

	svc, err := NewSystemService(SystemServiceDeps{
		Health: repo,
		Clock:  func() time.Time { return now },
		Build:  BuildInfo{Version: "1.4.0", CommitSHA: "abc123", Environment: "staging", StartedAt: start},
	})
	if err != nil {
		t.Fatalf("system service: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("health report: %v", err)
	}
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected degraded, got %s", report.Status)
	}
	if report.Version != "1.4.0" || report.CommitSHA != "abc123" || report.Environment != "staging" {
		t.Fatalf("build metadata missing: %+v", report)
	}
	if report.Uptime != 5*time.Minute {
		t.Fatalf("expected 5m uptime, got %s", report.Uptime)
	}
	if !report.GeneratedAt.Equal(now) {
		t.Fatalf("expected generatedAt %s, got %s", now, report.GeneratedAt)
	}
}

func TestSystemServicePropagatesErrors(t *testing.T) {
	boom := errors.New("probe failed")
	svc, err := NewSystemService(SystemServiceDeps{Health: &stubHealthRepository{err: boom}})
	if err != nil {
		t.Fatalf("system service: %v", err)
	}
	if _, err := svc.HealthReport(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected probe error, got %v", err)
	}
	if _, err := NewSystemService(SystemServiceDeps{}); err == nil {
		t.Fatalf("expected missing health repository to be rejected")
	}
}

func TestDeriveStatus(t *testing.T) {
	cases := map[string]struct {
		checks map[string]domain.SystemHealthCheck
		want   domain.HealthStatus
	}{
		"empty":    {want: domain.HealthStatusOK},
		"degraded": {checks: map[string]domain.SystemHealthCheck{"a": {Status: domain.HealthStatusOK}, "b": {Status: domain.HealthStatusDegraded}}, want: domain.HealthStatusDegraded},
		"error":    {checks: map[string]domain.SystemHealthCheck{"a": {Status: domain.HealthStatusDegraded}, "b": {Status: domain.HealthStatusError}}, want: domain.HealthStatusError},
	}
	for name, tc := range cases {
		if got := deriveStatus(tc.checks); got != tc.want {
			t.Fatalf("%s: want %s got %s", name, tc.want, got)
		}
	}
}
