package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/repairdesk/api/internal/domain"
	"github.com/repairdesk/api/internal/platform/auth"
	"github.com/repairdesk/api/internal/platform/httpx"
	"github.com/repairdesk/api/internal/platform/pagination"
	"github.com/repairdesk/api/internal/services"
)

type createCouponRequest struct {
	Code          string     `json:"code" validate:"required,max=64"`
	Description   string     `json:"description" validate:"max=240"`
	DiscountType  string     `json:"discountType" validate:"required,oneof=percentage fixed_amount"`
	Value         int64      `json:"value" validate:"gt=0"`
	MinimumAmount int64      `json:"minimumAmount" validate:"gte=0"`
	StartsAt      *time.Time `json:"startsAt"`
	ExpiresAt     *time.Time `json:"expiresAt"`
	UsageLimit    *int64     `json:"usageLimit" validate:"omitempty,gt=0"`
}

// CouponHandlers exposes coupon administration.
type CouponHandlers struct {
	coupons services.CouponService
}

// NewCouponHandlers constructs coupon endpoints.
func NewCouponHandlers(coupons services.CouponService) *CouponHandlers {
	return &CouponHandlers{coupons: coupons}
}

// Routes registers the /coupons endpoints.
func (h *CouponHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	admin := auth.RequireRole(auth.RoleAdmin)
	r.With(admin).Post("/", h.createCoupon)
	r.Get("/{code}", h.getCoupon)
	r.With(admin).Post("/{code}:deactivate", h.deactivateCoupon)
	r.With(pagination.Middleware(pagination.Options{})).Get("/{code}/usages", h.listUsage)
}

func (h *CouponHandlers) ready(w http.ResponseWriter, r *http.Request) bool {
	if h.coupons == nil {
		writeUnavailable(r.Context(), w, "coupon")
		return false
	}
	return true
}

func (h *CouponHandlers) createCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(w, r) {
		return
	}
	actorID, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req createCouponRequest
	if apiErr, ok := httpx.DecodeJSON(r, &req); !ok {
		httpx.WriteError(ctx, w, apiErr)
		return
	}
	coupon, err := h.coupons.CreateCoupon(ctx, services.CreateCouponCommand{
		Code:          req.Code,
		Description:   req.Description,
		DiscountType:  domain.CouponDiscountType(req.DiscountType),
		Value:         req.Value,
		MinimumAmount: req.MinimumAmount,
		StartsAt:      req.StartsAt,
		ExpiresAt:     req.ExpiresAt,
		UsageLimit:    req.UsageLimit,
		ActorID:       actorID,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, map[string]any{"coupon": buildCouponPayload(coupon)})
}

func (h *CouponHandlers) getCoupon(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w, r) {
		return
	}
	coupon, err := h.coupons.GetCoupon(r.Context(), strings.TrimSpace(chi.URLParam(r, "code")))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"coupon": buildCouponPayload(coupon)})
}

func (h *CouponHandlers) deactivateCoupon(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w, r) {
		return
	}
	actorID, ok := requireActor(w, r)
	if !ok {
		return
	}
	coupon, err := h.coupons.DeactivateCoupon(r.Context(), strings.TrimSpace(chi.URLParam(r, "code")), actorID)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"coupon": buildCouponPayload(coupon)})
}

func (h *CouponHandlers) listUsage(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w, r) {
		return
	}
	page, err := h.coupons.ListUsage(r.Context(), strings.TrimSpace(chi.URLParam(r, "code")), pagerFromRequest(r))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newListResponse(page, buildCouponUsagePayload))
}
