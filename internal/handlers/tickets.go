package handlers

import (
	"context"
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

const (
	defaultTicketPageSize = 25
	maxTicketPageSize     = 100
)

var ticketListOptions = pagination.Options{
	DefaultPageSize: defaultTicketPageSize,
	MaxPageSize:     maxTicketPageSize,
	Filters:         []string{"status", "locationId"},
}

var validRepairStatuses = map[domain.RepairStatus]struct{}{
	domain.RepairStatusReceived:           {},
	domain.RepairStatusInDiagnosis:        {},
	domain.RepairStatusDiagnosisCompleted: {},
	domain.RepairStatusBudgetGenerated:    {},
	domain.RepairStatusBudgetApproved:     {},
	domain.RepairStatusInRepair:           {},
	domain.RepairStatusRepairCompleted:    {},
	domain.RepairStatusReadyForDelivery:   {},
	domain.RepairStatusDelivered:          {},
	domain.RepairStatusCancelled:          {},
}

type createTicketRequest struct {
	CustomerRef  string  `json:"customerRef" validate:"required,max=120"`
	DeviceRef    string  `json:"deviceRef" validate:"required,max=120"`
	LocationID   string  `json:"locationId" validate:"max=64"`
	TechnicianID *string `json:"technicianId" validate:"omitempty,max=128"`
}

type budgetLineRequest struct {
	ProductID   *string `json:"productId" validate:"omitempty,max=64"`
	Description string  `json:"description" validate:"max=240"`
	Quantity    int64   `json:"quantity" validate:"gt=0"`
	UnitPrice   *int64  `json:"unitPrice" validate:"omitempty,gte=0"`
}

type generateBudgetRequest struct {
	Lines []budgetLineRequest `json:"lines" validate:"required,min=1,max=200,dive"`
}

type applyCouponRequest struct {
	Code string `json:"code" validate:"required,max=64"`
}

type paymentRequest struct {
	Amount    int64      `json:"amount" validate:"gt=0"`
	Method    string     `json:"method" validate:"required,oneof=cash card transfer mercadopago"`
	Reference *string    `json:"reference" validate:"omitempty,max=120"`
	PaidAt    *time.Time `json:"paidAt"`
}

type startRepairRequest struct {
	TechnicianID *string `json:"technicianId" validate:"omitempty,max=128"`
}

type repairNoteRequest struct {
	Text string `json:"text" validate:"required,max=2000"`
}

type cancelTicketRequest struct {
	Reason       string `json:"reason" validate:"required,max=500"`
	RestockParts bool   `json:"restockParts"`
}

type resolveRefundRequest struct {
	Status string `json:"status" validate:"required,oneof=completed cancelled"`
}

type ticketResponse struct {
	Ticket ticketPayload `json:"ticket"`
}

type budgetResponse struct {
	Ticket *ticketPayload `json:"ticket,omitempty"`
	Budget budgetPayload  `json:"budget"`
}

type couponApplicationResponse struct {
	Discount int64         `json:"discount"`
	Ticket   ticketPayload `json:"ticket"`
	Budget   budgetPayload `json:"budget"`
}

type paymentResponse struct {
	Ticket  ticketPayload   `json:"ticket"`
	Budget  budgetPayload   `json:"budget"`
	Payment *paymentPayload `json:"payment,omitempty"`
}

type repairResponse struct {
	Ticket    ticketPayload    `json:"ticket"`
	Execution executionPayload `json:"execution"`
}

type repairCompletionResponse struct {
	Ticket         ticketPayload         `json:"ticket"`
	ConsumedParts  []consumedPartPayload `json:"consumedParts"`
	StockMovements []movementPayload     `json:"stockMovements"`
	Replayed       bool                  `json:"replayed"`
}

type cancellationResponse struct {
	Ticket         ticketPayload     `json:"ticket"`
	Refunds        []refundPayload   `json:"refunds"`
	StockMovements []movementPayload `json:"stockMovements"`
}

// TicketHandlers exposes the ticket lifecycle to shop staff.
type TicketHandlers struct {
	tickets    services.TicketService
	system     services.SystemService
	idempotent func(http.Handler) http.Handler
	limiter    rateLimiter
}

// TicketHandlerOption customises TicketHandlers.
type TicketHandlerOption func(*TicketHandlers)

// WithTicketIdempotency guards intake, payment and refund writes with the idempotency middleware.
func WithTicketIdempotency(mw func(http.Handler) http.Handler) TicketHandlerOption {
	return func(h *TicketHandlers) {
		h.idempotent = mw
	}
}

// WithTicketSystemService enables the ticket history endpoint.
func WithTicketSystemService(system services.SystemService) TicketHandlerOption {
	return func(h *TicketHandlers) {
		h.system = system
	}
}

// WithTicketIntakeRateLimit caps ticket creation per actor.
func WithTicketIntakeRateLimit(limit int, window time.Duration) TicketHandlerOption {
	return func(h *TicketHandlers) {
		h.limiter = newActorRateLimiter(limit, window, nil)
	}
}

// NewTicketHandlers constructs the ticket endpoints.
func NewTicketHandlers(tickets services.TicketService, opts ...TicketHandlerOption) *TicketHandlers {
	h := &TicketHandlers{tickets: tickets}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes registers the /tickets endpoints.
func (h *TicketHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	technician := auth.RequireRole(auth.RoleTechnician)
	cashier := auth.RequireRole(auth.RoleCashier)

	r.With(pagination.Middleware(ticketListOptions)).Get("/", h.listTickets)
	r.With(rateLimitByActor(h.limiter), h.guard).Post("/", h.createTicket)
	r.Get("/{ticketID}", h.getTicket)
	r.Get("/{ticketID}/budget", h.getBudget)
	r.With(technician).Put("/{ticketID}/budget", h.generateBudget)
	r.With(pagination.Middleware(pagination.Options{})).Get("/{ticketID}/history", h.ticketHistory)

	r.With(technician).Post("/{ticketID}:start-diagnosis", h.transition(services.ActionStartDiagnosis))
	r.With(technician).Post("/{ticketID}:complete-diagnosis", h.transition(services.ActionCompleteDiagnosis))
	r.Post("/{ticketID}:approve-budget", h.transition(services.ActionApproveBudget))
	r.With(cashier).Post("/{ticketID}:mark-ready", h.transition(services.ActionMarkReady))
	r.With(cashier).Post("/{ticketID}:deliver", h.transition(services.ActionDeliver))

	r.With(technician).Post("/{ticketID}:start-repair", h.startRepair)
	r.With(technician).Post("/{ticketID}:pause-repair", h.pauseRepair)
	r.With(technician).Post("/{ticketID}:resume-repair", h.resumeRepair)
	r.With(technician, h.guard).Post("/{ticketID}:complete-repair", h.completeRepair)
	r.With(technician).Post("/{ticketID}/notes", h.addRepairNote)

	r.Post("/{ticketID}:cancel", h.cancelTicket)
	r.Post("/{ticketID}/coupons", h.applyCoupon)

	r.Get("/{ticketID}/payments", h.listPayments)
	r.With(cashier, h.guard).Post("/{ticketID}/payments", h.recordPayment)
	r.With(cashier).Patch("/{ticketID}/payments/{paymentID}", h.editPayment)
	r.With(cashier).Delete("/{ticketID}/payments/{paymentID}", h.deletePayment)
	r.Get("/{ticketID}/refunds", h.listRefunds)
}

// RefundRoutes registers the /refunds endpoints.
func (h *TicketHandlers) RefundRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.With(auth.RequireRole(auth.RoleCashier), h.guard).Post("/{refundID}:resolve", h.resolveRefund)
}

// guard applies the idempotency middleware when configured.
func (h *TicketHandlers) guard(next http.Handler) http.Handler {
	if h.idempotent == nil {
		return next
	}
	return h.idempotent(next)
}

func (h *TicketHandlers) ready(w http.ResponseWriter, r *http.Request) bool {
	if h.tickets == nil {
		writeUnavailable(r.Context(), w, "ticket")
		return false
	}
	return true
}

func ticketIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	ticketID := strings.TrimSpace(chi.URLParam(r, "ticketID"))
	if ticketID == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "ticket id is required", http.StatusBadRequest))
		return "", false
	}
	return ticketID, true
}

func (h *TicketHandlers) listTickets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(w, r) {
		return
	}
	params := pagination.FromContextOrDefault(ctx)

	var statuses []domain.RepairStatus
	for _, raw := range strings.Split(params.Filter("status"), ",") {
		value := domain.RepairStatus(strings.ToLower(strings.TrimSpace(raw)))
		if value == "" {
			continue
		}
		if _, ok := validRepairStatuses[value]; !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_query", "unknown status filter "+string(value), http.StatusBadRequest))
			return
		}
		statuses = append(statuses, value)
	}

	page, err := h.tickets.ListTickets(ctx, services.TicketListFilter{
		Status:     statuses,
		LocationID: params.Filter("locationId"),
		Pagination: pagerFromRequest(r),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newListResponse(page, buildTicketPayload))
}

func (h *TicketHandlers) createTicket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(w, r) {
		return
	}
	actorID, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req createTicketRequest
	if apiErr, ok := httpx.DecodeJSON(r, &req); !ok {
		httpx.WriteError(ctx, w, apiErr)
		return
	}
	ticket, err := h.tickets.CreateTicket(ctx, services.CreateTicketCommand{
		CustomerRef:  req.CustomerRef,
		DeviceRef:    req.DeviceRef,
		LocationID:   req.LocationID,
		TechnicianID: trimmedPointer(req.TechnicianID),
		ActorID:      actorID,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/tickets/"+ticket.ID)
	writeJSONResponse(w, http.StatusCreated, ticketResponse{Ticket: buildTicketPayload(ticket)})
}

func (h *TicketHandlers) getTicket(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w, r) {
		return
	}
	ticketID, ok := ticketIDParam(w, r)
	if !ok {
		return
	}
	ticket, err := h.tickets.GetTicket(r.Context(), ticketID)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, ticketResponse{Ticket: buildTicketPayload(ticket)})
}

func (h *TicketHandlers) getBudget(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w, r) {
		return
	}
	ticketID, ok := ticketIDParam(w, r)
	if !ok {
		return
	}
	budget, err := h.tickets.GetBudget(r.Context(), ticketID)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, budgetResponse{Budget: buildBudgetPayload(budget)})
}

func (h *TicketHandlers) generateBudget(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(w, r) {
		return
	}
	ticketID, ok := ticketIDParam(w, r)
	if !ok {
		return
	}
	actorID, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req generateBudgetRequest
	if apiErr, ok := httpx.DecodeJSON(r, &req); !ok {
		httpx.WriteError(ctx, w, apiErr)
		return
	}
	lines := make([]services.BudgetLineInput, 0, len(req.Lines))
	for _, line := range req.Lines {
		lines = append(lines, services.BudgetLineInput{
			ProductID:   trimmedPointer(line.ProductID),
			Description: line.Description,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
		})
	}
	result, err := h.tickets.GenerateBudget(ctx, services.GenerateBudgetCommand{
		TicketID: ticketID,
		Lines:    lines,
		ActorID:  actorID,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	ticket := buildTicketPayload(result.Ticket)
	writeJSONResponse(w, http.StatusOK, budgetResponse{Ticket: &ticket, Budget: buildBudgetPayload(result.Budget)})
}

func (h *TicketHandlers) transition(action services.TicketAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.ready(w, r) {
			return
		}
		ticketID, ok := ticketIDParam(w, r)
		if !ok {
			return
		}
		actorID, ok := requireActor(w, r)
		if !ok {
			return
		}
		ticket, err := h.tickets.Transition(r.Context(), services.TransitionCommand{
			TicketID: ticketID,
			Action:   action,
			ActorID:  actorID,
		})
		if err != nil {
			writeServiceError(r.Context(), w, err)
			return
		}
		writeJSONResponse(w, http.StatusOK, ticketResponse{Ticket: buildTicketPayload(ticket)})
	}
}

func (h *TicketHandlers) startRepair(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(w, r) {
		return
	}
	ticketID, ok := ticketIDParam(w, r)
	if !ok {
		return
	}
	actorID, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req startRepairRequest
	if apiErr, ok := decodeOptionalJSON(r, &req); !ok {
		httpx.WriteError(ctx, w, apiErr)
		return
	}
	result, err := h.tickets.StartRepair(ctx, services.StartRepairCommand{
		TicketID:     ticketID,
		TechnicianID: trimmedPointer(req.TechnicianID),
		ActorID:      actorID,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildRepairResponse(result))
}

func (h *TicketHandlers) pauseRepair(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w, r) {
		return
	}
	h.repairAction(w, r, h.tickets.PauseRepair)
}

func (h *TicketHandlers) resumeRepair(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w, r) {
		return
	}
	h.repairAction(w, r, h.tickets.ResumeRepair)
}

func (h *TicketHandlers) repairAction(w http.ResponseWriter, r *http.Request, run func(context.Context, services.TicketActionCommand) (services.RepairResult, error)) {
	ticketID, ok := ticketIDParam(w, r)
	if !ok {
		return
	}
	actorID, ok := requireActor(w, r)
	if !ok {
		return
	}
	result, err := run(r.Context(), services.TicketActionCommand{TicketID: ticketID, ActorID: actorID})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildRepairResponse(result))
}

func (h *TicketHandlers) addRepairNote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(w, r) {
		return
	}
	ticketID, ok := ticketIDParam(w, r)
	if !ok {
		return
	}
	actorID, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req repairNoteRequest
	if apiErr, ok := httpx.DecodeJSON(r, &req); !ok {
		httpx.WriteError(ctx, w, apiErr)
		return
	}
	result, err := h.tickets.AddRepairNote(ctx, services.RepairNoteCommand{
		TicketID: ticketID,
		Text:     req.Text,
		ActorID:  actorID,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildRepairResponse(result))
}

func (h *TicketHandlers) completeRepair(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w, r) {
		return
	}
	ticketID, ok := ticketIDParam(w, r)
	if !ok {
		return
	}
	actorID, ok := requireActor(w, r)
	if !ok {
		return
	}
	result, err := h.tickets.CompleteRepair(r.Context(), services.TicketActionCommand{TicketID: ticketID, ActorID: actorID})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, repairCompletionResponse{
		Ticket:         buildTicketPayload(result.Ticket),
		ConsumedParts:  mapSlice(result.ConsumedParts, buildConsumedPartPayload),
		StockMovements: mapSlice(result.StockMovements, buildMovementPayload),
		Replayed:       result.Replayed,
	})
}

func (h *TicketHandlers) cancelTicket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(w, r) {
		return
	}
	ticketID, ok := ticketIDParam(w, r)
	if !ok {
		return
	}
	actorID, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req cancelTicketRequest
	if apiErr, ok := httpx.DecodeJSON(r, &req); !ok {
		httpx.WriteError(ctx, w, apiErr)
		return
	}
	result, err := h.tickets.Cancel(ctx, services.CancelTicketCommand{
		TicketID:     ticketID,
		Reason:       req.Reason,
		RestockParts: req.RestockParts,
		ActorID:      actorID,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cancellationResponse{
		Ticket:         buildTicketPayload(result.Ticket),
		Refunds:        mapSlice(result.Refunds, buildRefundPayload),
		StockMovements: mapSlice(result.StockMovements, buildMovementPayload),
	})
}

func (h *TicketHandlers) applyCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(w, r) {
		return
	}
	ticketID, ok := ticketIDParam(w, r)
	if !ok {
		return
	}
	actorID, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req applyCouponRequest
	if apiErr, ok := httpx.DecodeJSON(r, &req); !ok {
		httpx.WriteError(ctx, w, apiErr)
		return
	}
	result, err := h.tickets.ApplyCoupon(ctx, services.ApplyCouponCommand{
		TicketID: ticketID,
		Code:     req.Code,
		ActorID:  actorID,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	if !result.Applied {
		httpx.WriteError(ctx, w, httpx.NewError("coupon_rejected", "coupon could not be applied", http.StatusUnprocessableEntity).
			WithDetails(map[string]any{"reason": string(result.Rejection)}))
		return
	}
	writeJSONResponse(w, http.StatusOK, couponApplicationResponse{
		Discount: result.Discount,
		Ticket:   buildTicketPayload(result.Ticket),
		Budget:   buildBudgetPayload(result.Budget),
	})
}

func (h *TicketHandlers) listPayments(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w, r) {
		return
	}
	ticketID, ok := ticketIDParam(w, r)
	if !ok {
		return
	}
	payments, err := h.tickets.ListPayments(r.Context(), ticketID)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, listResponse[paymentPayload]{Items: mapSlice(payments, buildPaymentPayload)})
}

func (h *TicketHandlers) recordPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(w, r) {
		return
	}
	ticketID, ok := ticketIDParam(w, r)
	if !ok {
		return
	}
	actorID, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req paymentRequest
	if apiErr, ok := httpx.DecodeJSON(r, &req); !ok {
		httpx.WriteError(ctx, w, apiErr)
		return
	}
	result, err := h.tickets.RecordPayment(ctx, services.RecordPaymentCommand{
		TicketID:  ticketID,
		Amount:    req.Amount,
		Method:    domain.PaymentMethod(req.Method),
		Reference: trimmedPointer(req.Reference),
		PaidAt:    req.PaidAt,
		ActorID:   actorID,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildPaymentResponse(result))
}

func (h *TicketHandlers) editPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(w, r) {
		return
	}
	ticketID, ok := ticketIDParam(w, r)
	if !ok {
		return
	}
	actorID, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req paymentRequest
	if apiErr, ok := httpx.DecodeJSON(r, &req); !ok {
		httpx.WriteError(ctx, w, apiErr)
		return
	}
	result, err := h.tickets.EditPayment(ctx, services.EditPaymentCommand{
		TicketID:  ticketID,
		PaymentID: strings.TrimSpace(chi.URLParam(r, "paymentID")),
		Amount:    req.Amount,
		Method:    domain.PaymentMethod(req.Method),
		Reference: trimmedPointer(req.Reference),
		ActorID:   actorID,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildPaymentResponse(result))
}

func (h *TicketHandlers) deletePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(w, r) {
		return
	}
	ticketID, ok := ticketIDParam(w, r)
	if !ok {
		return
	}
	actorID, ok := requireActor(w, r)
	if !ok {
		return
	}
	result, err := h.tickets.DeletePayment(ctx, services.DeletePaymentCommand{
		TicketID:  ticketID,
		PaymentID: strings.TrimSpace(chi.URLParam(r, "paymentID")),
		ActorID:   actorID,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildPaymentResponse(result))
}

func (h *TicketHandlers) listRefunds(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w, r) {
		return
	}
	ticketID, ok := ticketIDParam(w, r)
	if !ok {
		return
	}
	refunds, err := h.tickets.ListRefunds(r.Context(), ticketID)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, listResponse[refundPayload]{Items: mapSlice(refunds, buildRefundPayload)})
}

func (h *TicketHandlers) resolveRefund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(w, r) {
		return
	}
	refundID := strings.TrimSpace(chi.URLParam(r, "refundID"))
	if refundID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "refund id is required", http.StatusBadRequest))
		return
	}
	actorID, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req resolveRefundRequest
	if apiErr, ok := httpx.DecodeJSON(r, &req); !ok {
		httpx.WriteError(ctx, w, apiErr)
		return
	}
	refund, err := h.tickets.ResolveRefund(ctx, services.ResolveRefundCommand{
		RefundID: refundID,
		Status:   domain.RefundStatus(req.Status),
		ActorID:  actorID,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"refund": buildRefundPayload(refund)})
}

func (h *TicketHandlers) ticketHistory(w http.ResponseWriter, r *http.Request) {
	if h.system == nil {
		writeUnavailable(r.Context(), w, "history")
		return
	}
	ticketID, ok := ticketIDParam(w, r)
	if !ok {
		return
	}
	page, err := h.system.TicketHistory(r.Context(), ticketID, pagerFromRequest(r))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newListResponse(page, buildAuditEntryPayload))
}

func buildRepairResponse(result services.RepairResult) repairResponse {
	return repairResponse{
		Ticket:    buildTicketPayload(result.Ticket),
		Execution: buildExecutionPayload(result.Execution),
	}
}

func buildPaymentResponse(result services.PaymentResult) paymentResponse {
	resp := paymentResponse{
		Ticket: buildTicketPayload(result.Ticket),
		Budget: buildBudgetPayload(result.Budget),
	}
	if result.Payment != nil {
		payment := buildPaymentPayload(*result.Payment)
		resp.Payment = &payment
	}
	return resp
}
