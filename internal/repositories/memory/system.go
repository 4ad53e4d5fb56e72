package memory

import (
	"context"
	"slices"
	"strings"
	"time"

	domain "github.com/repairdesk/api/internal/domain"
	"github.com/repairdesk/api/internal/repositories"
)

type auditRepository struct{ s *Store }

func (r auditRepository) Append(ctx context.Context, entry domain.AuditLogEntry) error {
	return r.s.with(ctx, func(data *state) error {
		data.audit = append(data.audit, entry)
		return nil
	})
}

func (r auditRepository) List(ctx context.Context, filter repositories.AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error) {
	var page domain.CursorPage[domain.AuditLogEntry]
	err := r.s.with(ctx, func(data *state) error {
		items := make([]domain.AuditLogEntry, 0, len(data.audit))
		for _, entry := range data.audit {
			if filter.TargetRef != "" && entry.TargetRef != filter.TargetRef {
				continue
			}
			if filter.Actor != "" && entry.Actor != filter.Actor {
				continue
			}
			if filter.Action != "" && entry.Action != filter.Action {
				continue
			}
			if !inRange(entry.CreatedAt, filter.DateRange) {
				continue
			}
			items = append(items, entry)
		}
		slices.SortFunc(items, func(a, b domain.AuditLogEntry) int { return strings.Compare(a.ID, b.ID) })
		var err error
		page, err = paginate(items, func(e domain.AuditLogEntry) string { return e.ID }, filter.Pagination)
		return err
	})
	return page, err
}

type counterRepository struct{ s *Store }

func (r counterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	id, err := repositories.ValidateCounterRequest(counterID, step)
	if err != nil {
		return 0, err
	}
	var next int64
	err = r.s.with(ctx, func(data *state) error {
		value, err := repositories.AdvanceCounter(id, data.counters[id], step, nil)
		if err != nil {
			return err
		}
		data.counters[id], next = value, value
		return nil
	})
	return next, err
}

type healthRepository struct{ s *Store }

func (r healthRepository) Collect(ctx context.Context) (domain.SystemHealthReport, error) {
	now := r.s.clock().UTC()
	check := domain.SystemHealthCheck{Status: domain.HealthStatusOK, Detail: "in-memory store", CheckedAt: now}
	if err := ctxErr(ctx); err != nil {
		check.Status = domain.HealthStatusError
		check.Error = err.Error()
	}
	return domain.SystemHealthReport{
		Status:      check.Status,
		Checks:      map[string]domain.SystemHealthCheck{"store": check},
		Environment: "memory",
		Uptime:      now.Sub(r.s.started.UTC()).Truncate(time.Second),
		GeneratedAt: now,
	}, nil
}
