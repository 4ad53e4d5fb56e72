package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	domain "github.com/repairdesk/api/internal/domain"
	"github.com/repairdesk/api/internal/platform/auth"
	"github.com/repairdesk/api/internal/services"
)

type stubTicketService struct {
	createFn         func(context.Context, services.CreateTicketCommand) (services.Ticket, error)
	getFn            func(context.Context, string) (services.Ticket, error)
	listFn           func(context.Context, services.TicketListFilter) (domain.CursorPage[services.Ticket], error)
	transitionFn     func(context.Context, services.TransitionCommand) (services.Ticket, error)
	generateBudgetFn func(context.Context, services.GenerateBudgetCommand) (services.BudgetResult, error)
	applyCouponFn    func(context.Context, services.ApplyCouponCommand) (services.CouponResult, error)
	recordPaymentFn  func(context.Context, services.RecordPaymentCommand) (services.PaymentResult, error)
	completeRepairFn func(context.Context, services.TicketActionCommand) (services.RepairCompletion, error)
	cancelFn         func(context.Context, services.CancelTicketCommand) (services.CancellationResult, error)
	resolveRefundFn  func(context.Context, services.ResolveRefundCommand) (services.Refund, error)
}

func (s *stubTicketService) CreateTicket(ctx context.Context, cmd services.CreateTicketCommand) (services.Ticket, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.Ticket{}, nil
}

func (s *stubTicketService) GetTicket(ctx context.Context, ticketID string) (services.Ticket, error) {
	if s.getFn != nil {
		return s.getFn(ctx, ticketID)
	}
	return services.Ticket{ID: ticketID}, nil
}

func (s *stubTicketService) ListTickets(ctx context.Context, filter services.TicketListFilter) (domain.CursorPage[services.Ticket], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[services.Ticket]{}, nil
}

func (s *stubTicketService) GetBudget(context.Context, string) (services.Budget, error) {
	return services.Budget{}, nil
}

func (s *stubTicketService) Transition(ctx context.Context, cmd services.TransitionCommand) (services.Ticket, error) {
	if s.transitionFn != nil {
		return s.transitionFn(ctx, cmd)
	}
	return services.Ticket{ID: cmd.TicketID}, nil
}

func (s *stubTicketService) GenerateBudget(ctx context.Context, cmd services.GenerateBudgetCommand) (services.BudgetResult, error) {
	if s.generateBudgetFn != nil {
		return s.generateBudgetFn(ctx, cmd)
	}
	return services.BudgetResult{}, nil
}

func (s *stubTicketService) ApplyCoupon(ctx context.Context, cmd services.ApplyCouponCommand) (services.CouponResult, error) {
	if s.applyCouponFn != nil {
		return s.applyCouponFn(ctx, cmd)
	}
	return services.CouponResult{}, nil
}

func (s *stubTicketService) RecordPayment(ctx context.Context, cmd services.RecordPaymentCommand) (services.PaymentResult, error) {
	if s.recordPaymentFn != nil {
		return s.recordPaymentFn(ctx, cmd)
	}
	return services.PaymentResult{}, nil
}

func (s *stubTicketService) EditPayment(context.Context, services.EditPaymentCommand) (services.PaymentResult, error) {
	return services.PaymentResult{}, nil
}

func (s *stubTicketService) DeletePayment(context.Context, services.DeletePaymentCommand) (services.PaymentResult, error) {
	return services.PaymentResult{}, nil
}

func (s *stubTicketService) ListPayments(context.Context, string) ([]services.Payment, error) {
	return nil, nil
}

func (s *stubTicketService) StartRepair(context.Context, services.StartRepairCommand) (services.RepairResult, error) {
	return services.RepairResult{}, nil
}

func (s *stubTicketService) PauseRepair(context.Context, services.TicketActionCommand) (services.RepairResult, error) {
	return services.RepairResult{}, nil
}

func (s *stubTicketService) ResumeRepair(context.Context, services.TicketActionCommand) (services.RepairResult, error) {
	return services.RepairResult{}, nil
}

func (s *stubTicketService) AddRepairNote(context.Context, services.RepairNoteCommand) (services.RepairResult, error) {
	return services.RepairResult{}, nil
}

func (s *stubTicketService) CompleteRepair(ctx context.Context, cmd services.TicketActionCommand) (services.RepairCompletion, error) {
	if s.completeRepairFn != nil {
		return s.completeRepairFn(ctx, cmd)
	}
	return services.RepairCompletion{}, nil
}

func (s *stubTicketService) Cancel(ctx context.Context, cmd services.CancelTicketCommand) (services.CancellationResult, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, cmd)
	}
	return services.CancellationResult{}, nil
}

func (s *stubTicketService) ListRefunds(context.Context, string) ([]services.Refund, error) {
	return nil, nil
}

func (s *stubTicketService) ResolveRefund(ctx context.Context, cmd services.ResolveRefundCommand) (services.Refund, error) {
	if s.resolveRefundFn != nil {
		return s.resolveRefundFn(ctx, cmd)
	}
	return services.Refund{}, nil
}

var _ services.TicketService = (*stubTicketService)(nil)

// withStaff injects an authenticated identity the way auth.RequireStaff does.
func withStaff(uid string, roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := auth.WithIdentity(r.Context(), auth.NewIdentity(uid, "", roles...))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func newTicketRouter(h *TicketHandlers, uid string, roles ...string) http.Handler {
	return NewRouter(
		WithTicketRoutes(h.Routes),
		WithRefundRoutes(h.RefundRoutes),
		WithStaffMiddlewares(withStaff(uid, roles...)),
	)
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body %q: %v", rr.Body.String(), err)
	}
	return body
}

func TestTicketHandlersCreateTicket(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	var captured services.CreateTicketCommand
	svc := &stubTicketService{
		createFn: func(_ context.Context, cmd services.CreateTicketCommand) (services.Ticket, error) {
			captured = cmd
			return services.Ticket{
				ID:          "tkt_1",
				Number:      "RD-2024-000001",
				CustomerRef: cmd.CustomerRef,
				DeviceRef:   cmd.DeviceRef,
				Status:      domain.RepairStatusReceived,
				CreatedAt:   now,
				UpdatedAt:   now,
			}, nil
		},
	}
	router := newTicketRouter(NewTicketHandlers(svc), "staff-1", auth.RoleTechnician)

	body := `{"customerRef":"cust-9","deviceRef":"iphone-13","technicianId":"  tech-2  "}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tickets", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if loc := rr.Header().Get("Location"); loc != "/api/v1/tickets/tkt_1" {
		t.Fatalf("unexpected location %q", loc)
	}
	if captured.ActorID != "staff-1" {
		t.Fatalf("expected actor staff-1, got %q", captured.ActorID)
	}
	if captured.TechnicianID == nil || *captured.TechnicianID != "tech-2" {
		t.Fatalf("expected trimmed technician id, got %v", captured.TechnicianID)
	}
	ticket, _ := decodeBody(t, rr)["ticket"].(map[string]any)
	if ticket["number"] != "RD-2024-000001" || ticket["status"] != "received" {
		t.Fatalf("unexpected ticket payload %v", ticket)
	}
}

func TestTicketHandlersCreateTicketValidation(t *testing.T) {
	called := false
	svc := &stubTicketService{
		createFn: func(context.Context, services.CreateTicketCommand) (services.Ticket, error) {
			called = true
			return services.Ticket{}, nil
		},
	}
	router := newTicketRouter(NewTicketHandlers(svc), "staff-1", auth.RoleCashier)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tickets", strings.NewReader(`{"customerRef":"cust-9"}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if called {
		t.Fatalf("service must not be called for invalid payloads")
	}
}

func TestTicketHandlersCreateTicketRateLimited(t *testing.T) {
	router := newTicketRouter(NewTicketHandlers(&stubTicketService{}, WithTicketIntakeRateLimit(1, time.Minute)), "staff-1", auth.RoleTechnician)

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/tickets", strings.NewReader(`{"customerRef":"c","deviceRef":"d"}`))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}

	if codes[0] != http.StatusCreated || codes[1] != http.StatusTooManyRequests {
		t.Fatalf("expected [201 429], got %v", codes)
	}
}

func TestTicketHandlersListTicketsFilters(t *testing.T) {
	var captured services.TicketListFilter
	svc := &stubTicketService{
		listFn: func(_ context.Context, filter services.TicketListFilter) (domain.CursorPage[services.Ticket], error) {
			captured = filter
			return domain.CursorPage[services.Ticket]{
				Items:         []services.Ticket{{ID: "tkt_1", Status: domain.RepairStatusInRepair}},
				NextPageToken: "next",
			}, nil
		},
	}
	router := newTicketRouter(NewTicketHandlers(svc), "staff-1", auth.RoleCashier)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tickets?status=in_repair,Received&locationId=front&pageSize=10", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(captured.Status) != 2 || captured.Status[0] != domain.RepairStatusInRepair || captured.Status[1] != domain.RepairStatusReceived {
		t.Fatalf("unexpected status filter %v", captured.Status)
	}
	if captured.LocationID != "front" || captured.Pagination.PageSize != 10 {
		t.Fatalf("unexpected filter %+v", captured)
	}
	body := decodeBody(t, rr)
	if body["nextPageToken"] != "next" {
		t.Fatalf("expected next page token, got %v", body["nextPageToken"])
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/tickets?status=lost", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", rr.Code)
	}
}

func TestTicketHandlersTransitionMapsErrors(t *testing.T) {
	svc := &stubTicketService{
		transitionFn: func(_ context.Context, cmd services.TransitionCommand) (services.Ticket, error) {
			if cmd.Action != services.ActionStartDiagnosis {
				t.Fatalf("unexpected action %s", cmd.Action)
			}
			return services.Ticket{}, &services.TransitionError{From: domain.RepairStatusDelivered, Action: cmd.Action}
		},
	}
	router := newTicketRouter(NewTicketHandlers(svc), "tech-1", auth.RoleTechnician)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tickets/tkt_1:start-diagnosis", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["error"] != "invalid_transition" {
		t.Fatalf("expected invalid_transition, got %v", body["error"])
	}
	if body["from"] != "delivered" || body["action"] != "start_diagnosis" {
		t.Fatalf("expected transition details, got %v", body)
	}
}

func TestTicketHandlersRoleGating(t *testing.T) {
	svc := &stubTicketService{}
	cases := []struct {
		name   string
		roles  []string
		method string
		path   string
		body   string
		want   int
	}{
		{name: "cashier cannot diagnose", roles: []string{auth.RoleCashier}, method: http.MethodPost, path: "/api/v1/tickets/tkt_1:start-diagnosis", want: http.StatusForbidden},
		{name: "technician cannot deliver", roles: []string{auth.RoleTechnician}, method: http.MethodPost, path: "/api/v1/tickets/tkt_1:deliver", want: http.StatusForbidden},
		{name: "technician cannot take payments", roles: []string{auth.RoleTechnician}, method: http.MethodPost, path: "/api/v1/tickets/tkt_1/payments", body: `{"amount":100,"method":"cash"}`, want: http.StatusForbidden},
		{name: "cashier delivers", roles: []string{auth.RoleCashier}, method: http.MethodPost, path: "/api/v1/tickets/tkt_1:deliver", want: http.StatusOK},
		{name: "admin diagnoses", roles: []string{auth.RoleAdmin}, method: http.MethodPost, path: "/api/v1/tickets/tkt_1:start-diagnosis", want: http.StatusOK},
		{name: "anyone approves", roles: []string{auth.RoleCashier}, method: http.MethodPost, path: "/api/v1/tickets/tkt_1:approve-budget", want: http.StatusOK},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newTicketRouter(NewTicketHandlers(svc), "staff-1", tc.roles...)
			req := httptest.NewRequest(tc.method, tc.path, strings.NewReader(tc.body))
			req.Header.Set("Content-Type", "application/json")
			rr := httptest.NewRecorder()

			router.ServeHTTP(rr, req)

			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestTicketHandlersGenerateBudgetLineItemError(t *testing.T) {
	var captured services.GenerateBudgetCommand
	svc := &stubTicketService{
		generateBudgetFn: func(_ context.Context, cmd services.GenerateBudgetCommand) (services.BudgetResult, error) {
			captured = cmd
			return services.BudgetResult{}, &services.LineItemError{Position: 2, Reason: "unit price required"}
		},
	}
	router := newTicketRouter(NewTicketHandlers(svc), "tech-1", auth.RoleTechnician)

	body := `{"lines":[{"productId":"prd_screen","quantity":1},{"description":"Labor","quantity":1}]}`
	req := httptest.NewRequest(http.MethodPut, "/api/v1/tickets/tkt_1/budget", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
	if len(captured.Lines) != 2 || captured.Lines[0].ProductID == nil || *captured.Lines[0].ProductID != "prd_screen" {
		t.Fatalf("unexpected lines %+v", captured.Lines)
	}
	resp := decodeBody(t, rr)
	if resp["error"] != "invalid_line_item" || resp["position"] != float64(2) {
		t.Fatalf("unexpected error body %v", resp)
	}
}

func TestTicketHandlersApplyCouponRejected(t *testing.T) {
	svc := &stubTicketService{
		applyCouponFn: func(_ context.Context, cmd services.ApplyCouponCommand) (services.CouponResult, error) {
			if cmd.Code != "SPRING10" {
				t.Fatalf("unexpected code %q", cmd.Code)
			}
			return services.CouponResult{Rejection: services.CouponRejectionExpired}, nil
		},
	}
	router := newTicketRouter(NewTicketHandlers(svc), "cashier-1", auth.RoleCashier)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tickets/tkt_1/coupons", strings.NewReader(`{"code":"SPRING10"}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["error"] != "coupon_rejected" || body["reason"] != "expired" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestTicketHandlersApplyCouponApplied(t *testing.T) {
	svc := &stubTicketService{
		applyCouponFn: func(context.Context, services.ApplyCouponCommand) (services.CouponResult, error) {
			return services.CouponResult{
				Applied:  true,
				Discount: 1160,
				Budget:   services.Budget{TicketID: "tkt_1", Subtotal: 10000, Tax: 1600, Discount: 1160, TotalFinal: 10440},
				Ticket:   services.Ticket{ID: "tkt_1", Status: domain.RepairStatusBudgetGenerated},
			}, nil
		},
	}
	router := newTicketRouter(NewTicketHandlers(svc), "cashier-1", auth.RoleCashier)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tickets/tkt_1/coupons", strings.NewReader(`{"code":"TEN"}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	budget, _ := body["budget"].(map[string]any)
	if body["discount"] != float64(1160) || budget["totalFinal"] != float64(10440) || budget["outstanding"] != float64(10440) {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestTicketHandlersRecordPayment(t *testing.T) {
	var captured services.RecordPaymentCommand
	svc := &stubTicketService{
		recordPaymentFn: func(_ context.Context, cmd services.RecordPaymentCommand) (services.PaymentResult, error) {
			captured = cmd
			payment := services.Payment{ID: "pay_1", TicketID: cmd.TicketID, Amount: cmd.Amount, Method: cmd.Method, Reference: cmd.Reference, RecordedBy: cmd.ActorID}
			return services.PaymentResult{
				Ticket:  services.Ticket{ID: cmd.TicketID, Status: domain.RepairStatusReadyForDelivery},
				Budget:  services.Budget{TicketID: cmd.TicketID, TotalFinal: 5000, TotalPaid: 5000, Paid: true},
				Payment: &payment,
			}, nil
		},
	}
	router := newTicketRouter(NewTicketHandlers(svc), "cashier-1", auth.RoleCashier)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tickets/tkt_1/payments", strings.NewReader(`{"amount":5000,"method":"card","reference":"pi_123"}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Method != domain.PaymentMethodCard || captured.Reference == nil || *captured.Reference != "pi_123" {
		t.Fatalf("unexpected command %+v", captured)
	}
	body := decodeBody(t, rr)
	budget, _ := body["budget"].(map[string]any)
	if budget["paid"] != true || budget["outstanding"] != float64(0) {
		t.Fatalf("unexpected budget %v", budget)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/tickets/tkt_1/payments", strings.NewReader(`{"amount":5000,"method":"barter"}`))
	req.Header.Set("Content-Type", "application/json")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown method, got %d", rr.Code)
	}
}

func TestTicketHandlersRecordPaymentErrors(t *testing.T) {
	cases := map[error]int{
		services.ErrPaymentSettled:      http.StatusConflict,
		services.ErrPaymentVerification: http.StatusUnprocessableEntity,
		services.ErrTicketNotFound:      http.StatusNotFound,
	}
	for serviceErr, want := range cases {
		svc := &stubTicketService{
			recordPaymentFn: func(context.Context, services.RecordPaymentCommand) (services.PaymentResult, error) {
				return services.PaymentResult{}, serviceErr
			},
		}
		router := newTicketRouter(NewTicketHandlers(svc), "cashier-1", auth.RoleCashier)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/tickets/tkt_1/payments", strings.NewReader(`{"amount":100,"method":"cash"}`))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		if rr.Code != want {
			t.Fatalf("%v: expected %d, got %d", serviceErr, want, rr.Code)
		}
	}
}

func TestTicketHandlersCompleteRepair(t *testing.T) {
	svc := &stubTicketService{
		completeRepairFn: func(_ context.Context, cmd services.TicketActionCommand) (services.RepairCompletion, error) {
			reference := "Ticket-" + cmd.TicketID
			return services.RepairCompletion{
				Ticket: services.Ticket{ID: cmd.TicketID, Status: domain.RepairStatusRepairCompleted},
				StockMovements: []services.StockMovement{
					{ID: "mov_1", ProductID: "prd_screen", Type: domain.StockMovementExit, Quantity: 1, Reference: &reference},
				},
				Replayed: true,
			}, nil
		},
	}
	router := newTicketRouter(NewTicketHandlers(svc), "tech-1", auth.RoleTechnician)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tickets/tkt_1:complete-repair", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	movements, _ := body["stockMovements"].([]any)
	if body["replayed"] != true || len(movements) != 1 {
		t.Fatalf("unexpected body %v", body)
	}
	first, _ := movements[0].(map[string]any)
	if first["reference"] != "Ticket-tkt_1" {
		t.Fatalf("unexpected movement %v", first)
	}
}

func TestTicketHandlersCompleteRepairInsufficientStock(t *testing.T) {
	svc := &stubTicketService{
		completeRepairFn: func(context.Context, services.TicketActionCommand) (services.RepairCompletion, error) {
			return services.RepairCompletion{}, &services.InsufficientStockError{ProductID: "prd_screen", Needed: 2, Available: 1}
		},
	}
	router := newTicketRouter(NewTicketHandlers(svc), "tech-1", auth.RoleTechnician)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tickets/tkt_1:complete-repair", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["error"] != "insufficient_stock" || body["productId"] != "prd_screen" || body["available"] != float64(1) {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestTicketHandlersCancel(t *testing.T) {
	var captured services.CancelTicketCommand
	svc := &stubTicketService{
		cancelFn: func(_ context.Context, cmd services.CancelTicketCommand) (services.CancellationResult, error) {
			captured = cmd
			return services.CancellationResult{
				Ticket:  services.Ticket{ID: cmd.TicketID, Status: domain.RepairStatusCancelled},
				Refunds: []services.Refund{{ID: "rfd_1", PaymentID: "pay_1", Amount: 2000, Status: domain.RefundStatusPending}},
			}, nil
		},
	}
	router := newTicketRouter(NewTicketHandlers(svc), "cashier-1", auth.RoleCashier)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tickets/tkt_1:cancel", strings.NewReader(`{"reason":"customer withdrew","restockParts":true}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Reason != "customer withdrew" || !captured.RestockParts || captured.ActorID != "cashier-1" {
		t.Fatalf("unexpected command %+v", captured)
	}
	refunds, _ := decodeBody(t, rr)["refunds"].([]any)
	if len(refunds) != 1 {
		t.Fatalf("expected one refund, got %v", refunds)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/tickets/tkt_1:cancel", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without reason, got %d", rr.Code)
	}
}

func TestTicketHandlersResolveRefund(t *testing.T) {
	var captured services.ResolveRefundCommand
	svc := &stubTicketService{
		resolveRefundFn: func(_ context.Context, cmd services.ResolveRefundCommand) (services.Refund, error) {
			captured = cmd
			return services.Refund{ID: cmd.RefundID, Status: cmd.Status}, nil
		},
	}
	router := newTicketRouter(NewTicketHandlers(svc), "cashier-1", auth.RoleCashier)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/refunds/rfd_1:resolve", strings.NewReader(`{"status":"completed"}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.RefundID != "rfd_1" || captured.Status != domain.RefundStatusCompleted {
		t.Fatalf("unexpected command %+v", captured)
	}
}

func TestTicketHandlersGuardWrapsWrites(t *testing.T) {
	guarded := 0
	guard := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			guarded++
			next.ServeHTTP(w, r)
		})
	}
	h := NewTicketHandlers(&stubTicketService{}, WithTicketIdempotency(guard))
	router := newTicketRouter(h, "admin-1", auth.RoleAdmin)

	requests := []*http.Request{
		httptest.NewRequest(http.MethodPost, "/api/v1/tickets/tkt_1:complete-repair", nil),
		httptest.NewRequest(http.MethodGet, "/api/v1/tickets/tkt_1", nil),
		httptest.NewRequest(http.MethodPost, "/api/v1/tickets/tkt_1:approve-budget", nil),
	}
	for _, req := range requests {
		router.ServeHTTP(httptest.NewRecorder(), req)
	}
	if guarded != 1 {
		t.Fatalf("expected only complete-repair to be guarded, got %d", guarded)
	}
}

func TestTicketHandlersUnavailable(t *testing.T) {
	router := NewRouter(
		WithTicketRoutes(NewTicketHandlers(nil).Routes),
		WithStaffMiddlewares(withStaff("tech-1", auth.RoleTechnician)),
	)

	for _, path := range []string{"/api/v1/tickets/tkt_1", "/api/v1/tickets/tkt_1:pause-repair"} {
		method := http.MethodGet
		if strings.Contains(path, ":") {
			method = http.MethodPost
		}
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(method, path, nil))
		if rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("%s: expected 503, got %d", path, rr.Code)
		}
	}
}
