package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/repairdesk/api/internal/domain"
)

func ok(context.Context) error { return nil }

func blockUntilDone(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestNewDependencyHealthRepositoryValidatesChecks(t *testing.T) {
	cases := map[string][]DependencyCheck{
		"empty":     nil,
		"no name":   {{Name: " ", Check: ok}},
		"no func":   {{Name: "firestore"}},
		"duplicate": {{Name: "firestore", Check: ok}, {Name: "firestore", Check: ok}},
	}
	for name, checks := range cases {
		if _, err := NewDependencyHealthRepository(checks); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestCollectAllHealthy(t *testing.T) {
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	repo, err := NewDependencyHealthRepository(
		[]DependencyCheck{{Name: "firestore", Check: ok}, {Name: "pubsub", Check: ok}},
		WithDependencyClock(func() time.Time { return now }),
	)
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthStatusOK || len(report.Checks) != 2 {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.Checks["pubsub"].CheckedAt != now || report.GeneratedAt != now {
		t.Fatalf("expected injected clock to stamp the report, got %+v", report)
	}
}

func TestCollectFailingDependencyDegrades(t *testing.T) {
	boom := errors.New("bucket unreachable")
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{Name: "firestore", Check: ok},
		{Name: "storage", Check: func(context.Context) error { return boom }},
	})
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected degraded, got %s", report.Status)
	}
	if check := report.Checks["storage"]; check.Status != domain.HealthStatusDegraded || check.Error != boom.Error() {
		t.Fatalf("unexpected storage check %+v", check)
	}
}

func TestCollectTimeoutMarksError(t *testing.T) {
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{Name: "firestore", Timeout: 5 * time.Millisecond, Check: blockUntilDone},
	})
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthStatusError || report.Checks["firestore"].Detail != "timeout" {
		t.Fatalf("expected timeout error, got %+v", report)
	}
}

func TestCollectOptionalTimeoutOnlyDegrades(t *testing.T) {
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{Name: "firestore", Check: ok},
		{Name: "secretmanager", Optional: true, Check: blockUntilDone},
	}, WithDependencyTimeout(5*time.Millisecond))
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected degraded, got %s", report.Status)
	}
	if report.Checks["secretmanager"].Status != domain.HealthStatusError {
		t.Fatalf("expected the check itself to record the timeout, got %+v", report.Checks["secretmanager"])
	}
}
