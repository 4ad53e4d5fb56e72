package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/repairdesk/api/internal/platform/auth"
	"github.com/repairdesk/api/internal/platform/httpx"
	"github.com/repairdesk/api/internal/platform/pagination"
	"github.com/repairdesk/api/internal/services"
)

var movementListOptions = pagination.Options{
	DefaultPageSize: 50,
	MaxPageSize:     200,
	Filters:         []string{"productId", "reference", "from", "to"},
}

type stockEntryRequest struct {
	Quantity  int64  `json:"quantity" validate:"gt=0"`
	Reference string `json:"reference" validate:"max=120"`
}

type stockAdjustmentRequest struct {
	Delta     int64  `json:"delta" validate:"ne=0"`
	Reference string `json:"reference" validate:"max=120"`
}

// InventoryHandlers exposes the inventory ledger.
type InventoryHandlers struct {
	inventory  services.InventoryService
	idempotent func(http.Handler) http.Handler
}

// NewInventoryHandlers constructs inventory endpoints. idempotent may be nil.
func NewInventoryHandlers(inventory services.InventoryService, idempotent func(http.Handler) http.Handler) *InventoryHandlers {
	return &InventoryHandlers{inventory: inventory, idempotent: idempotent}
}

// Routes registers the /inventory endpoints.
func (h *InventoryHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	admin := auth.RequireRole(auth.RoleAdmin)
	writes := []func(http.Handler) http.Handler{admin}
	if h.idempotent != nil {
		writes = append(writes, h.idempotent)
	}

	r.Get("/products/{productID}", h.getProduct)
	r.With(pagination.Middleware(pagination.Options{})).Get("/low-stock", h.listLowStock)
	r.With(pagination.Middleware(movementListOptions)).Get("/movements", h.listMovements)
	r.With(writes...).Post("/products/{productID}/entries", h.recordEntry)
	r.With(writes...).Post("/products/{productID}/adjustments", h.recordAdjustment)
}

func (h *InventoryHandlers) ready(w http.ResponseWriter, r *http.Request) bool {
	if h.inventory == nil {
		writeUnavailable(r.Context(), w, "inventory")
		return false
	}
	return true
}

func (h *InventoryHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w, r) {
		return
	}
	product, err := h.inventory.GetProduct(r.Context(), strings.TrimSpace(chi.URLParam(r, "productID")))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"product": buildProductPayload(product)})
}

func (h *InventoryHandlers) listLowStock(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w, r) {
		return
	}
	page, err := h.inventory.ListLowStock(r.Context(), pagerFromRequest(r))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newListResponse(page, buildProductPayload))
}

func (h *InventoryHandlers) listMovements(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(w, r) {
		return
	}
	params := pagination.FromContextOrDefault(ctx)
	filter := services.MovementListFilter{
		ProductID:  params.Filter("productId"),
		Reference:  params.Filter("reference"),
		Pagination: pagerFromRequest(r),
	}
	for name, target := range map[string]**time.Time{"from": &filter.From, "to": &filter.To} {
		raw := params.Filter(name)
		if raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_query", name+" must be an RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		ts = ts.UTC()
		*target = &ts
	}

	page, err := h.inventory.ListMovements(ctx, filter)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newListResponse(page, buildMovementPayload))
}

func (h *InventoryHandlers) recordEntry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(w, r) {
		return
	}
	actorID, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req stockEntryRequest
	if apiErr, ok := httpx.DecodeJSON(r, &req); !ok {
		httpx.WriteError(ctx, w, apiErr)
		return
	}
	movement, err := h.inventory.RecordEntry(ctx, services.StockEntryCommand{
		ProductID: strings.TrimSpace(chi.URLParam(r, "productID")),
		Quantity:  req.Quantity,
		Reference: req.Reference,
		ActorID:   actorID,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, map[string]any{"movement": buildMovementPayload(movement)})
}

func (h *InventoryHandlers) recordAdjustment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(w, r) {
		return
	}
	actorID, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req stockAdjustmentRequest
	if apiErr, ok := httpx.DecodeJSON(r, &req); !ok {
		httpx.WriteError(ctx, w, apiErr)
		return
	}
	movement, err := h.inventory.RecordAdjustment(ctx, services.StockAdjustmentCommand{
		ProductID: strings.TrimSpace(chi.URLParam(r, "productID")),
		Delta:     req.Delta,
		Reference: req.Reference,
		ActorID:   actorID,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, map[string]any{"movement": buildMovementPayload(movement)})
}
