package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/repairdesk/api/internal/platform/auth"
	"github.com/repairdesk/api/internal/platform/httpx"
	"github.com/repairdesk/api/internal/services"
)

const (
	defaultExportWindow   = 24 * time.Hour
	defaultCleanupBatch   = 500
	maxCleanupBatch       = 5000
	internalActorFallback = "svc:scheduler"
)

type idempotencyCleaner interface {
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

type exportMovementsRequest struct {
	From *time.Time `json:"from"`
	To   *time.Time `json:"to"`
}

type cleanupRequest struct {
	Limit int `json:"limit" validate:"omitempty,gt=0"`
}

type exportResponse struct {
	Bucket      string     `json:"bucket"`
	Object      string     `json:"object"`
	Movements   int        `json:"movements"`
	DownloadURL string     `json:"downloadUrl,omitempty"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

// InternalHandlers serves scheduler-triggered maintenance endpoints guarded by OIDC.
type InternalHandlers struct {
	exports services.InventoryExportService
	cleaner idempotencyCleaner
	clock   func() time.Time
}

// NewInternalHandlers constructs internal endpoints. Either collaborator may be nil.
func NewInternalHandlers(exports services.InventoryExportService, cleaner idempotencyCleaner, clock func() time.Time) *InternalHandlers {
	if clock == nil {
		clock = time.Now
	}
	return &InternalHandlers{exports: exports, cleaner: cleaner, clock: clock}
}

// Routes registers the /internal endpoints.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/inventory/exports", h.exportMovements)
	r.Post("/idempotency:cleanup", h.cleanupIdempotency)
}

func (h *InternalHandlers) exportMovements(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.exports == nil {
		writeUnavailable(ctx, w, "export")
		return
	}
	var req exportMovementsRequest
	if apiErr, ok := decodeOptionalJSON(r, &req); !ok {
		httpx.WriteError(ctx, w, apiErr)
		return
	}

	to := h.clock().UTC()
	if req.To != nil {
		to = req.To.UTC()
	}
	from := to.Add(-defaultExportWindow)
	if req.From != nil {
		from = req.From.UTC()
	}

	result, err := h.exports.ExportMovements(ctx, services.ExportMovementsCommand{
		From:    from,
		To:      to,
		ActorID: serviceActor(ctx),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, exportResponse{
		Bucket:      result.Bucket,
		Object:      result.Object,
		Movements:   result.Movements,
		DownloadURL: result.DownloadURL,
		ExpiresAt:   result.ExpiresAt,
	})
}

func (h *InternalHandlers) cleanupIdempotency(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.cleaner == nil {
		writeUnavailable(ctx, w, "idempotency")
		return
	}
	var req cleanupRequest
	if apiErr, ok := decodeOptionalJSON(r, &req); !ok {
		httpx.WriteError(ctx, w, apiErr)
		return
	}
	limit := req.Limit
	switch {
	case limit <= 0:
		limit = defaultCleanupBatch
	case limit > maxCleanupBatch:
		limit = maxCleanupBatch
	}
	removed, err := h.cleaner.CleanupExpired(ctx, h.clock().UTC(), limit)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"removed": removed})
}

func serviceActor(ctx context.Context) string {
	if identity, ok := auth.ServiceIdentityFromContext(ctx); ok && identity.Subject != "" {
		return "svc:" + identity.Subject
	}
	return internalActorFallback
}
