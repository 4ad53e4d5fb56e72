package firestore

import (
	"context"
	"strings"
	"time"

	domain "github.com/repairdesk/api/internal/domain"
	pfirestore "github.com/repairdesk/api/internal/platform/firestore"
	"github.com/repairdesk/api/internal/repositories"
)

const auditLogsCollection = "auditLogs"

type auditLogDocument struct {
	Actor     string                       `firestore:"actor"`
	ActorType string                       `firestore:"actorType"`
	Action    string                       `firestore:"action"`
	TargetRef string                       `firestore:"targetRef"`
	Severity  string                       `firestore:"severity"`
	RequestID string                       `firestore:"requestId,omitempty"`
	Metadata  map[string]any               `firestore:"metadata,omitempty"`
	Diff      map[string]auditDiffDocument `firestore:"diff,omitempty"`
	CreatedAt time.Time                    `firestore:"createdAt"`
}

type auditDiffDocument struct {
	Before any `firestore:"before"`
	After  any `firestore:"after"`
}

func newAuditLogDocument(entry domain.AuditLogEntry) auditLogDocument {
	var diff map[string]auditDiffDocument
	if len(entry.Diff) > 0 {
		diff = make(map[string]auditDiffDocument, len(entry.Diff))
		for key, change := range entry.Diff {
			diff[key] = auditDiffDocument{Before: change.Before, After: change.After}
		}
	}
	return auditLogDocument{
		Actor:     entry.Actor,
		ActorType: entry.ActorType,
		Action:    entry.Action,
		TargetRef: entry.TargetRef,
		Severity:  entry.Severity,
		RequestID: entry.RequestID,
		Metadata:  entry.Metadata,
		Diff:      diff,
		CreatedAt: entry.CreatedAt.UTC(),
	}
}

func (d auditLogDocument) toDomain(id string) domain.AuditLogEntry {
	var diff map[string]domain.AuditLogDiff
	if len(d.Diff) > 0 {
		diff = make(map[string]domain.AuditLogDiff, len(d.Diff))
		for key, change := range d.Diff {
			diff[key] = domain.AuditLogDiff{Before: change.Before, After: change.After}
		}
	}
	return domain.AuditLogEntry{
		ID:        id,
		Actor:     d.Actor,
		ActorType: d.ActorType,
		Action:    d.Action,
		TargetRef: d.TargetRef,
		Severity:  d.Severity,
		RequestID: d.RequestID,
		Metadata:  d.Metadata,
		Diff:      diff,
		CreatedAt: d.CreatedAt,
	}
}

// AuditLogRepository appends audit entries to the "auditLogs" collection.
type AuditLogRepository struct {
	entries *pfirestore.Collection[auditLogDocument]
}

// NewAuditLogRepository constructs a Firestore-backed audit log repository.
func NewAuditLogRepository(provider *pfirestore.Provider) (*AuditLogRepository, error) {
	if provider == nil {
		return nil, errNotInitialised
	}
	return &AuditLogRepository{entries: pfirestore.NewCollection[auditLogDocument](provider, auditLogsCollection)}, nil
}

func (r *AuditLogRepository) Append(ctx context.Context, entry domain.AuditLogEntry) error {
	return r.entries.Create(ctx, entry.ID, newAuditLogDocument(entry))
}

func (r *AuditLogRepository) List(ctx context.Context, filter repositories.AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error) {
	query, err := r.entries.Query(ctx)
	if err != nil {
		return domain.CursorPage[domain.AuditLogEntry]{}, err
	}
	if target := strings.TrimSpace(filter.TargetRef); target != "" {
		query = query.Where("targetRef", "==", target)
	}
	if actor := strings.TrimSpace(filter.Actor); actor != "" {
		query = query.Where("actor", "==", actor)
	}
	if action := strings.TrimSpace(filter.Action); action != "" {
		query = query.Where("action", "==", action)
	}
	page, err := queryPage(ctx, query, filter.Pagination, auditLogDocument.toDomain)
	if err != nil {
		return domain.CursorPage[domain.AuditLogEntry]{}, pfirestore.WrapError("auditLogs.list", err)
	}
	// The date range narrows the fetched page; paging itself follows document ids.
	if filter.DateRange.From != nil || filter.DateRange.To != nil {
		kept := page.Items[:0]
		for _, entry := range page.Items {
			if filter.DateRange.From != nil && entry.CreatedAt.Before(*filter.DateRange.From) {
				continue
			}
			if filter.DateRange.To != nil && entry.CreatedAt.After(*filter.DateRange.To) {
				continue
			}
			kept = append(kept, entry)
		}
		page.Items = kept
	}
	return page, nil
}

var _ repositories.AuditLogRepository = (*AuditLogRepository)(nil)
