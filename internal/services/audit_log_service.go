package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/repairdesk/api/internal/domain"
	"github.com/repairdesk/api/internal/platform/requestctx"
	"github.com/repairdesk/api/internal/platform/textutil"
	"github.com/repairdesk/api/internal/repositories"
)

const (
	auditIDPrefix  = "aud_"
	redactedPrefix = "sha256:"
	unknownActor   = "unknown"
)

// Field limits applied to audit entries.
const (
	auditActorLimit  = 160
	auditActionLimit = 120
	auditTargetLimit = 200
	auditReqIDLimit  = 128
	auditValueLimit  = 512
)

// AuditLogServiceDeps bundles constructor inputs for the audit writer service.
type AuditLogServiceDeps struct {
	Repository  repositories.AuditLogRepository
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
	// HashSalt is mixed into the digest of redacted fields such as payment references.
	HashSalt string
}

type auditLogService struct {
	repo   repositories.AuditLogRepository
	now    func() time.Time
	newID  func() string
	logger func(context.Context, string, map[string]any)
	redact redactor
}

// NewAuditLogService creates the audit trail writer.
func NewAuditLogService(deps AuditLogServiceDeps) (AuditLogService, error) {
	if deps.Repository == nil {
		return nil, errors.New("audit log service: repository is required")
	}
	svc := &auditLogService{
		repo:   deps.Repository,
		now:    time.Now,
		newID:  func() string { return ulid.Make().String() },
		logger: func(context.Context, string, map[string]any) {},
		redact: redactor{salt: deps.HashSalt, keys: map[string]bool{"reference": true, "customerref": true}},
	}
	if deps.Clock != nil {
		svc.now = deps.Clock
	}
	if deps.IDGenerator != nil {
		svc.newID = deps.IDGenerator
	}
	if deps.Logger != nil {
		svc.logger = deps.Logger
	}
	return svc, nil
}

// Record appends one entry. Append failures are logged, never returned: the audited mutation is
// already committed by the time the entry is written.
func (s *auditLogService) Record(ctx context.Context, record AuditLogRecord) {
	if strings.TrimSpace(record.Actor) == "" {
		if actor, ok := requestctx.ActorFrom(ctx); ok {
			record.Actor, record.ActorType = actor.ID, actor.Kind
		}
	}
	entry := s.entry(record)
	if err := s.repo.Append(ctx, entry); err != nil {
		s.logger(ctx, "audit.append.failed", map[string]any{
			"action":    entry.Action,
			"targetRef": entry.TargetRef,
			"error":     err.Error(),
		})
	}
}

func (s *auditLogService) List(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[AuditLogEntry], error) {
	return s.repo.List(ctx, repositories.AuditLogFilter{
		TargetRef:  strings.TrimSpace(filter.TargetRef),
		Actor:      strings.TrimSpace(filter.Actor),
		Action:     strings.TrimSpace(filter.Action),
		Pagination: normalizePage(filter.Pagination),
	})
}

func (s *auditLogService) entry(record AuditLogRecord) domain.AuditLogEntry {
	at := record.OccurredAt
	if at.IsZero() {
		at = s.now()
	}
	entry := domain.AuditLogEntry{
		ID:        auditIDPrefix + s.newID(),
		Actor:     textutil.SanitizePlain(record.Actor, auditActorLimit),
		ActorType: auditActorType(record.ActorType),
		Action:    textutil.SanitizePlain(record.Action, auditActionLimit),
		TargetRef: textutil.SanitizePlain(record.TargetRef, auditTargetLimit),
		Severity:  auditSeverity(record.Severity),
		RequestID: textutil.SanitizePlain(record.RequestID, auditReqIDLimit),
		CreatedAt: at.UTC(),
	}
	entry.Metadata = cleanFields(record.Metadata, func(key string, value any) any {
		return s.redact.value(key, value)
	})
	entry.Diff = cleanFields(record.Diff, func(key string, change AuditLogDiff) domain.AuditLogDiff {
		return domain.AuditLogDiff{Before: s.redact.value(key, change.Before), After: s.redact.value(key, change.After)}
	})
	return entry
}

// cleanFields maps every entry of in through fn, dropping blank keys. Empty input gives nil.
func cleanFields[V, W any](in map[string]V, fn func(key string, v V) W) map[string]W {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]W, len(in))
	for key, v := range in {
		if key = strings.TrimSpace(key); key != "" {
			out[key] = fn(key, v)
		}
	}
	return out
}

// redactor replaces values of sensitive keys with a salted digest and scrubs free text elsewhere.
type redactor struct {
	salt string
	keys map[string]bool
}

func (r redactor) value(key string, value any) any {
	if r.keys[strings.ToLower(key)] {
		return redactedPrefix + r.digest(value)
	}
	switch v := value.(type) {
	case string:
		return textutil.SanitizePlain(v, auditValueLimit)
	case fmt.Stringer:
		return textutil.SanitizePlain(v.String(), auditValueLimit)
	default:
		return v
	}
}

// digest is stable for equal values; maps are hashed through their sorted JSON encoding.
func (r redactor) digest(value any) string {
	var raw string
	switch v := value.(type) {
	case string:
		raw = strings.TrimSpace(v)
	case *string:
		if v != nil {
			raw = strings.TrimSpace(*v)
		}
	case fmt.Stringer:
		raw = v.String()
	default:
		if b, err := json.Marshal(v); err == nil {
			raw = string(b)
		} else {
			raw = fmt.Sprintf("%T", value)
		}
	}
	sum := sha256.Sum256([]byte(r.salt + raw))
	return hex.EncodeToString(sum[:])
}

func auditActorType(kind string) string {
	switch kind = strings.ToLower(strings.TrimSpace(kind)); kind {
	case requestctx.ActorStaff, requestctx.ActorService, "system":
		return kind
	default:
		return unknownActor
	}
}

func auditSeverity(severity string) string {
	switch strings.ToLower(strings.TrimSpace(severity)) {
	case "warn", "warning":
		return "warn"
	case "error":
		return "error"
	default:
		return "info"
	}
}
