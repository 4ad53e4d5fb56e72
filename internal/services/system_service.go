package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/repairdesk/api/internal/domain"
	"github.com/repairdesk/api/internal/repositories"
)

// BuildInfo is the release metadata echoed by the probe endpoints.
type BuildInfo struct {
	Version     string
	Environment string
	StartedAt   time.Time
}

// SystemServiceDeps wires the dependency probes and the audit trail.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Audit            AuditLogService
	Clock            func() time.Time
	Build            BuildInfo
}

type systemService struct {
	probes repositories.HealthRepository
	audit  AuditLogService
	now    func() time.Time
	build  BuildInfo
}

var _ SystemService = (*systemService)(nil)

var errAuditNotConfigured = errors.New("system service: audit service not configured")

// NewSystemService builds the service behind /readyz and the ticket history endpoint.
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
		audit:  deps.Audit,
		now:    func() time.Time { return clock().UTC() },
		build:  deps.Build,
	}
	if svc.build.StartedAt.IsZero() {
		svc.build.StartedAt = svc.now()
	}
	return svc, nil
}

func (s *systemService) HealthReport(ctx context.Context) (domain.SystemHealthReport, error) {
	report, err := s.probes.Collect(ctx)
	if err != nil {
		return domain.SystemHealthReport{}, fmt.Errorf("system service: collect health: %w", err)
	}
	s.stamp(&report, s.now())
	return report, nil
}

// stamp fills the fields a repository leaves blank.
func (s *systemService) stamp(report *domain.SystemHealthReport, now time.Time) {
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	}
	if report.Uptime <= 0 {
		report.Uptime = now.Sub(s.build.StartedAt)
	}
	report.Version = firstNonBlank(report.Version, s.build.Version)
	report.Environment = firstNonBlank(report.Environment, s.build.Environment)
	if report.Checks == nil {
		report.Checks = make(map[string]domain.SystemHealthCheck)
	}
	if strings.TrimSpace(report.Status) == "" {
		report.Status = worstCheckStatus(report.Checks)
	}
}

// TicketHistory pages through the audit entries written against one ticket.
func (s *systemService) TicketHistory(ctx context.Context, ticketID string, pager Pagination) (domain.CursorPage[AuditLogEntry], error) {
	if s.audit == nil {
		return domain.CursorPage[AuditLogEntry]{}, errAuditNotConfigured
	}
	ticketID = strings.TrimSpace(ticketID)
	if ticketID == "" {
		return domain.CursorPage[AuditLogEntry]{}, fmt.Errorf("%w: ticket id is required", ErrTicketInvalidInput)
	}
	return s.audit.List(ctx, AuditLogFilter{
		TargetRef:  ticketTargetRef(ticketID),
		Pagination: pager,
	})
}

func ticketTargetRef(ticketID string) string {
	return "/tickets/" + ticketID
}

var checkSeverity = map[string]int{
	"":                          0,
	domain.HealthStatusOK:       0,
	domain.HealthStatusDegraded: 1,
	domain.HealthStatusError:    2,
}

// worstCheckStatus folds the individual checks into one status. Unknown values count as degraded.
func worstCheckStatus(checks map[string]domain.SystemHealthCheck) string {
	worst := 0
	for _, check := range checks {
		rank, known := checkSeverity[check.Status]
		if !known {
			rank = 1
		}
		worst = max(worst, rank)
	}
	switch worst {
	case 2:
		return domain.HealthStatusError
	case 1:
		return domain.HealthStatusDegraded
	default:
		return domain.HealthStatusOK
	}
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
