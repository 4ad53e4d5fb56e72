package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/repairdesk/api/internal/platform/httpx"
	"github.com/repairdesk/api/internal/platform/observability"
	"github.com/repairdesk/api/internal/platform/pagination"
	"github.com/repairdesk/api/internal/platform/requestctx"
	"github.com/repairdesk/api/internal/services"
)

// serviceErrorRules maps service sentinels onto the HTTP envelope. The first matching rule wins.
var serviceErrorRules = []httpx.ErrorRule{
	{Target: services.ErrInvalidLineItem, Code: "invalid_line_item", Status: http.StatusUnprocessableEntity},
	{Target: services.ErrTicketInvalidInput, Code: "invalid_request", Status: http.StatusBadRequest},
	{Target: services.ErrInventoryInvalidInput, Code: "invalid_request", Status: http.StatusBadRequest},
	{Target: services.ErrCouponInvalidInput, Code: "invalid_request", Status: http.StatusBadRequest},
	{Target: services.ErrTicketNotFound, Code: "ticket_not_found", Status: http.StatusNotFound},
	{Target: services.ErrProductNotFound, Code: "product_not_found", Status: http.StatusNotFound},
	{Target: services.ErrRefundNotFound, Code: "refund_not_found", Status: http.StatusNotFound},
	{Target: services.ErrCouponNotFound, Code: "coupon_not_found", Status: http.StatusNotFound},
	{Target: services.ErrTicketInvalidTransition, Code: "invalid_transition", Status: http.StatusConflict},
	{Target: services.ErrBudgetLocked, Code: "budget_locked", Status: http.StatusConflict},
	{Target: services.ErrBudgetMissing, Code: "budget_missing", Status: http.StatusConflict},
	{Target: services.ErrPaymentSettled, Code: "payment_settled", Status: http.StatusConflict},
	{Target: services.ErrPaymentPending, Code: "payment_pending", Status: http.StatusConflict},
	{Target: services.ErrPaymentVerification, Code: "payment_verification_failed", Status: http.StatusUnprocessableEntity},
	{Target: services.ErrInsufficientStock, Code: "insufficient_stock", Status: http.StatusConflict},
	{Target: services.ErrRefundInvalidState, Code: "refund_invalid_state", Status: http.StatusConflict},
	{Target: services.ErrTicketConflict, Code: "ticket_conflict", Status: http.StatusConflict},
	{Target: services.ErrCouponConflict, Code: "coupon_conflict", Status: http.StatusConflict},
}

func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	mapped := httpx.MapError(err, serviceErrorRules...)
	if details := serviceErrorDetails(err); len(details) > 0 {
		mapped = mapped.WithDetails(details)
	}
	if mapped.Status >= http.StatusInternalServerError {
		observability.FromContext(ctx).Error("request failed", zap.Error(err))
	}
	httpx.WriteError(ctx, w, mapped)
}

func serviceErrorDetails(err error) map[string]any {
	var lineErr *services.LineItemError
	if errors.As(err, &lineErr) {
		return map[string]any{"position": lineErr.Position, "reason": lineErr.Reason}
	}
	var stockErr *services.InsufficientStockError
	if errors.As(err, &stockErr) {
		return map[string]any{
			"productId": stockErr.ProductID,
			"needed":    stockErr.Needed,
			"available": stockErr.Available,
		}
	}
	var transitionErr *services.TransitionError
	if errors.As(err, &transitionErr) {
		return map[string]any{"from": string(transitionErr.From), "action": string(transitionErr.Action)}
	}
	return nil
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	httpx.WriteJSON(w, status, payload)
}

func writeUnavailable(ctx context.Context, w http.ResponseWriter, name string) {
	httpx.WriteError(ctx, w, httpx.NewError(name+"_service_unavailable", name+" service unavailable", http.StatusServiceUnavailable))
}

// requireActor returns the acting staff member recorded by the authentication middleware.
func requireActor(w http.ResponseWriter, r *http.Request) (string, bool) {
	actor, ok := requestctx.ActorFrom(r.Context())
	if !ok {
		httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return "", false
	}
	return actor.ID, true
}

// decodeOptionalJSON behaves like httpx.DecodeJSON but accepts an empty body.
func decodeOptionalJSON(r *http.Request, dst any) (httpx.Error, bool) {
	if r.Body == nil || r.ContentLength == 0 {
		return httpx.Error{}, true
	}
	return httpx.DecodeJSON(r, dst)
}

func pagerFromRequest(r *http.Request) services.Pagination {
	params := pagination.FromContextOrDefault(r.Context())
	return services.Pagination{
		PageSize:  params.PageSize,
		PageToken: params.PageToken,
	}
}

func trimmedPointer(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
