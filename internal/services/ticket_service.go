package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/repairdesk/api/internal/domain"
	"github.com/repairdesk/api/internal/platform/textutil"
	"github.com/repairdesk/api/internal/repositories"
)

const (
	ticketIDPrefix = "tkt_"
	refundIDPrefix = "rfd_"

	ticketEventCreated         = "ticket.created"
	ticketEventStatusChanged   = "ticket.status.changed"
	ticketEventCancelled       = "ticket.cancelled"
	ticketEventPaymentRecorded = "ticket.payment.recorded"
	ticketEventRepairCompleted = "ticket.repair.completed"

	maxTicketRefLength    = 120
	maxCancelReasonLength = 500
	defaultTicketPageSize = 20
	maxTicketPageSize     = 100
)

var paymentActions = []TicketAction{ActionRecordPayment, ActionEditPayment, ActionDeletePayment}

// ticketTransitions lists the actions accepted in each status. Terminal statuses accept nothing.
var ticketTransitions = map[RepairStatus][]TicketAction{
	domain.RepairStatusReceived:           {ActionStartDiagnosis, ActionCancel},
	domain.RepairStatusInDiagnosis:        {ActionCompleteDiagnosis, ActionCancel},
	domain.RepairStatusDiagnosisCompleted: {ActionGenerateBudget, ActionCancel},
	domain.RepairStatusBudgetGenerated:    {ActionGenerateBudget, ActionApproveBudget, ActionApplyCoupon, ActionCancel},
	domain.RepairStatusBudgetApproved: append([]TicketAction{
		ActionStartRepair, ActionApplyCoupon, ActionCancel,
	}, paymentActions...),
	domain.RepairStatusInRepair: append([]TicketAction{
		ActionCompleteRepair, ActionPauseRepair, ActionResumeRepair, ActionAddRepairNote, ActionApplyCoupon, ActionCancel,
	}, paymentActions...),
	domain.RepairStatusRepairCompleted: append([]TicketAction{
		ActionMarkReady, ActionApplyCoupon, ActionCancel,
	}, paymentActions...),
	domain.RepairStatusReadyForDelivery: append([]TicketAction{
		ActionDeliver, ActionApplyCoupon, ActionCancel,
	}, paymentActions...),
}

// actionTargets maps status-changing actions to the status they produce.
var actionTargets = map[TicketAction]RepairStatus{
	ActionStartDiagnosis:    domain.RepairStatusInDiagnosis,
	ActionCompleteDiagnosis: domain.RepairStatusDiagnosisCompleted,
	ActionGenerateBudget:    domain.RepairStatusBudgetGenerated,
	ActionApproveBudget:     domain.RepairStatusBudgetApproved,
	ActionStartRepair:       domain.RepairStatusInRepair,
	ActionCompleteRepair:    domain.RepairStatusRepairCompleted,
	ActionMarkReady:         domain.RepairStatusReadyForDelivery,
	ActionDeliver:           domain.RepairStatusDelivered,
	ActionCancel:            domain.RepairStatusCancelled,
}

var budgetLockedStatuses = []RepairStatus{
	domain.RepairStatusBudgetApproved,
	domain.RepairStatusInRepair,
	domain.RepairStatusRepairCompleted,
	domain.RepairStatusReadyForDelivery,
}

var completedRepairStatuses = []RepairStatus{
	domain.RepairStatusRepairCompleted,
	domain.RepairStatusReadyForDelivery,
	domain.RepairStatusDelivered,
}

// TicketServiceDeps bundles collaborators required to construct the ticket state machine.
type TicketServiceDeps struct {
	Tickets     repositories.TicketRepository
	Budgets     repositories.BudgetRepository
	Refunds     repositories.RefundRepository
	Inventory   InventoryService
	Coupons     CouponService
	Payments    PaymentLedger
	Repairs     RepairService
	Counters    CounterService
	Audit       AuditLogService
	UnitOfWork  repositories.UnitOfWork
	TaxRateBps  int64
	Clock       func() time.Time
	IDGenerator func() string
	Events      TicketEventPublisher
	Metrics     Metrics
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type ticketService struct {
	tickets    repositories.TicketRepository
	budgets    repositories.BudgetRepository
	refunds    repositories.RefundRepository
	inventory  InventoryService
	coupons    CouponService
	payments   PaymentLedger
	repairs    RepairService
	counters   CounterService
	audit      AuditLogService
	unitOfWork repositories.UnitOfWork
	taxRateBps int64
	clock      func() time.Time
	newID      func() string
	events     TicketEventPublisher
	metrics    Metrics
	logger     func(context.Context, string, map[string]any)
}

// NewTicketService wires dependencies into the ticket state machine.
func NewTicketService(deps TicketServiceDeps) (TicketService, error) {
	switch {
	case deps.Tickets == nil:
		return nil, errors.New("ticket service: ticket repository is required")
	case deps.Budgets == nil:
		return nil, errors.New("ticket service: budget repository is required")
	case deps.Refunds == nil:
		return nil, errors.New("ticket service: refund repository is required")
	case deps.Inventory == nil:
		return nil, errors.New("ticket service: inventory service is required")
	case deps.Coupons == nil:
		return nil, errors.New("ticket service: coupon service is required")
	case deps.Payments == nil:
		return nil, errors.New("ticket service: payment ledger is required")
	case deps.Repairs == nil:
		return nil, errors.New("ticket service: repair service is required")
	case deps.Counters == nil:
		return nil, errors.New("ticket service: counter service is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	taxRate := deps.TaxRateBps
	if taxRate <= 0 {
		taxRate = DefaultTaxRateBps
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &ticketService{
		tickets:    deps.Tickets,
		budgets:    deps.Budgets,
		refunds:    deps.Refunds,
		inventory:  deps.Inventory,
		coupons:    deps.Coupons,
		payments:   deps.Payments,
		repairs:    deps.Repairs,
		counters:   deps.Counters,
		audit:      deps.Audit,
		unitOfWork: unit,
		taxRateBps: taxRate,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:   idGen,
		events:  deps.Events,
		metrics: deps.Metrics,
		logger:  logger,
	}, nil
}

// statusChange describes a committed mutation for metrics, audit and events.
type statusChange struct {
	action    TicketAction
	eventType string
	ticket    Ticket
	previous  RepairStatus
	actor     string
	at        time.Time
	metadata  map[string]any
}

func (s *ticketService) CreateTicket(ctx context.Context, cmd CreateTicketCommand) (Ticket, error) {
	customer := textutil.SanitizePlain(cmd.CustomerRef, maxTicketRefLength)
	device := textutil.SanitizePlain(cmd.DeviceRef, maxTicketRefLength)
	actor := strings.TrimSpace(cmd.ActorID)
	switch {
	case customer == "":
		return Ticket{}, fmt.Errorf("%w: customer reference is required", ErrTicketInvalidInput)
	case device == "":
		return Ticket{}, fmt.Errorf("%w: device reference is required", ErrTicketInvalidInput)
	case actor == "":
		return Ticket{}, fmt.Errorf("%w: actor id is required", ErrTicketInvalidInput)
	}

	number, err := s.counters.NextTicketNumber(ctx)
	if err != nil {
		return Ticket{}, err
	}

	now := s.clock()
	ticket := Ticket{
		ID:           ticketIDPrefix + s.newID(),
		Number:       number,
		CustomerRef:  customer,
		DeviceRef:    device,
		LocationID:   strings.TrimSpace(cmd.LocationID),
		Status:       domain.RepairStatusReceived,
		TechnicianID: trimmedPtr(cmd.TechnicianID),
		Audit: domain.Audit{
			CreatedBy: valuePtr(actor),
			UpdatedBy: valuePtr(actor),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.tickets.Insert(txCtx, ticket); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Ticket{}, err
	}

	s.afterCommit(ctx, statusChange{
		eventType: ticketEventCreated,
		ticket:    ticket,
		actor:     actor,
		at:        now,
		metadata:  map[string]any{"customerRef": customer, "deviceRef": device},
	})
	return ticket, nil
}

func (s *ticketService) GetTicket(ctx context.Context, ticketID string) (Ticket, error) {
	ticketID = strings.TrimSpace(ticketID)
	if ticketID == "" {
		return Ticket{}, fmt.Errorf("%w: ticket id is required", ErrTicketInvalidInput)
	}
	ticket, err := s.tickets.FindByID(ctx, ticketID)
	if err != nil {
		return Ticket{}, s.mapRepositoryError(err)
	}
	return ticket, nil
}

func (s *ticketService) ListTickets(ctx context.Context, filter TicketListFilter) (domain.CursorPage[Ticket], error) {
	pager := filter.Pagination
	switch {
	case pager.PageSize <= 0:
		pager.PageSize = defaultTicketPageSize
	case pager.PageSize > maxTicketPageSize:
		pager.PageSize = maxTicketPageSize
	}
	page, err := s.tickets.List(ctx, repositories.TicketListFilter{
		Status:     slices.Clone(filter.Status),
		LocationID: strings.TrimSpace(filter.LocationID),
		Pagination: pager,
	})
	if err != nil {
		return domain.CursorPage[Ticket]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *ticketService) GetBudget(ctx context.Context, ticketID string) (Budget, error) {
	ticketID = strings.TrimSpace(ticketID)
	if ticketID == "" {
		return Budget{}, fmt.Errorf("%w: ticket id is required", ErrTicketInvalidInput)
	}
	if _, err := s.tickets.FindByID(ctx, ticketID); err != nil {
		return Budget{}, s.mapRepositoryError(err)
	}
	return s.loadBudget(ctx, ticketID)
}

// Transition runs the payload-free actions: diagnosis steps, budget approval and delivery. Other
// actions have dedicated methods.
func (s *ticketService) Transition(ctx context.Context, cmd TransitionCommand) (Ticket, error) {
	ticketID, actor, err := requireTicketAndActor(cmd.TicketID, cmd.ActorID)
	if err != nil {
		return Ticket{}, err
	}
	switch cmd.Action {
	case ActionStartDiagnosis, ActionCompleteDiagnosis, ActionApproveBudget, ActionMarkReady, ActionDeliver:
	case "":
		return Ticket{}, fmt.Errorf("%w: action is required", ErrTicketInvalidInput)
	default:
		return Ticket{}, fmt.Errorf("%w: action %q requires a dedicated operation", ErrTicketInvalidInput, cmd.Action)
	}

	var (
		ticket   Ticket
		previous RepairStatus
		now      = s.clock()
		metadata map[string]any
	)
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		var err error
		ticket, err = s.loadTicket(txCtx, ticketID)
		if err != nil {
			return err
		}
		if err := checkAction(ticket, cmd.Action); err != nil {
			return err
		}
		previous = ticket.Status

		switch cmd.Action {
		case ActionApproveBudget:
			budget, err := s.loadBudget(txCtx, ticketID)
			if err != nil {
				return err
			}
			payments, err := s.payments.List(txCtx, ticketID)
			if err != nil {
				return err
			}
			budget = DerivePayments(budget, payments)
			budget.Approved = true
			budget.ApprovedAt = valuePtr(now)
			budget.UpdatedAt = now
			budget.Audit.UpdatedBy = valuePtr(actor)
			if err := s.budgets.Save(txCtx, budget); err != nil {
				return s.mapRepositoryError(err)
			}
			metadata = map[string]any{"totalFinal": budget.TotalFinal}
		case ActionMarkReady, ActionDeliver:
			budget, err := s.loadBudget(txCtx, ticketID)
			if err != nil {
				return err
			}
			if !budget.Paid {
				return fmt.Errorf("%w: outstanding balance %d", ErrPaymentPending, budget.Outstanding())
			}
		}

		s.applyStatusTransition(&ticket, actionTargets[cmd.Action], actor, now)
		if err := s.tickets.Update(txCtx, ticket); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Ticket{}, err
	}

	s.afterCommit(ctx, statusChange{
		action:   cmd.Action,
		ticket:   ticket,
		previous: previous,
		actor:    actor,
		at:       now,
		metadata: metadata,
	})
	return ticket, nil
}

func (s *ticketService) GenerateBudget(ctx context.Context, cmd GenerateBudgetCommand) (BudgetResult, error) {
	ticketID, actor, err := requireTicketAndActor(cmd.TicketID, cmd.ActorID)
	if err != nil {
		return BudgetResult{}, err
	}

	var (
		ticket   Ticket
		budget   Budget
		previous RepairStatus
		now      = s.clock()
	)
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		var err error
		ticket, err = s.loadTicket(txCtx, ticketID)
		if err != nil {
			return err
		}
		if slices.Contains(budgetLockedStatuses, ticket.Status) {
			return fmt.Errorf("%w: budget approved while ticket is %s", ErrBudgetLocked, ticket.Status)
		}
		if err := checkAction(ticket, ActionGenerateBudget); err != nil {
			return err
		}
		previous = ticket.Status

		existing, found, err := s.findBudget(txCtx, ticketID)
		if err != nil {
			return err
		}
		if found && existing.Approved {
			return fmt.Errorf("%w: budget already approved", ErrBudgetLocked)
		}

		catalog, err := s.inventory.FindProducts(txCtx, productIDsFromInputs(cmd.Lines))
		if err != nil {
			return err
		}

		var discount int64
		if found {
			discount = existing.Discount
		}
		budget, err = CalculateBudget(ticketID, cmd.Lines, catalog, s.taxRateBps, discount)
		if err != nil {
			return err
		}
		budget.CreatedAt = now
		budget.Audit.CreatedBy = valuePtr(actor)
		if found {
			budget.CreatedAt = existing.CreatedAt
			budget.Audit.CreatedBy = existing.Audit.CreatedBy
		}
		budget.UpdatedAt = now
		budget.Audit.UpdatedBy = valuePtr(actor)

		if err := s.budgets.Save(txCtx, budget); err != nil {
			return s.mapRepositoryError(err)
		}
		s.applyStatusTransition(&ticket, domain.RepairStatusBudgetGenerated, actor, now)
		if err := s.tickets.Update(txCtx, ticket); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return BudgetResult{}, err
	}

	s.afterCommit(ctx, statusChange{
		action:   ActionGenerateBudget,
		ticket:   ticket,
		previous: previous,
		actor:    actor,
		at:       now,
		metadata: map[string]any{
			"lines":      len(budget.Lines),
			"subtotal":   budget.Subtotal,
			"tax":        budget.Tax,
			"totalFinal": budget.TotalFinal,
		},
	})
	return BudgetResult{Ticket: ticket, Budget: budget}, nil
}

func (s *ticketService) ApplyCoupon(ctx context.Context, cmd ApplyCouponCommand) (CouponResult, error) {
	ticketID, actor, err := requireTicketAndActor(cmd.TicketID, cmd.ActorID)
	if err != nil {
		return CouponResult{}, err
	}
	if strings.TrimSpace(cmd.Code) == "" {
		return CouponResult{}, fmt.Errorf("%w: coupon code is required", ErrTicketInvalidInput)
	}

	var (
		result   CouponResult
		previous RepairStatus
		now      = s.clock()
	)
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		ticket, err := s.loadTicket(txCtx, ticketID)
		if err != nil {
			return err
		}
		if err := checkAction(ticket, ActionApplyCoupon); err != nil {
			return err
		}
		previous = ticket.Status

		budget, err := s.loadBudget(txCtx, ticketID)
		if err != nil {
			return err
		}

		redemption, err := s.coupons.Redeem(txCtx, CouponRedeemCommand{Code: cmd.Code, Budget: budget, ActorID: actor})
		if err != nil {
			return err
		}
		if redemption.Rejection != "" {
			result = CouponResult{Rejection: redemption.Rejection, Budget: budget, Ticket: ticket}
			return nil
		}

		updated := redemption.Budget
		updated.Audit.UpdatedBy = valuePtr(actor)
		if err := s.budgets.Save(txCtx, updated); err != nil {
			return s.mapRepositoryError(err)
		}
		s.advanceWhenPaid(&ticket, !budget.Paid && updated.Paid, actor, now)
		if err := s.tickets.Update(txCtx, ticket); err != nil {
			return s.mapRepositoryError(err)
		}

		result = CouponResult{
			Applied:  true,
			Discount: redemption.Usage.DiscountAmount,
			Budget:   updated,
			Ticket:   ticket,
		}
		return nil
	})
	if isRepoDuplicate(err) {
		// A concurrent apply of the same coupon won the usage row at commit.
		result, err = s.alreadyApplied(ctx, ticketID)
	}
	if err != nil {
		return CouponResult{}, err
	}

	if s.metrics != nil {
		s.metrics.CouponEvaluated(ctx, result.Rejection)
	}
	if !result.Applied {
		s.logger(ctx, "coupon.rejected", map[string]any{
			"ticketId": ticketID,
			"code":     textutil.NormalizeCode(cmd.Code),
			"reason":   string(result.Rejection),
		})
	} else {
		s.afterCommit(ctx, statusChange{
			action:   ActionApplyCoupon,
			ticket:   result.Ticket,
			previous: previous,
			actor:    actor,
			at:       now,
			metadata: map[string]any{
				"code":       textutil.NormalizeCode(cmd.Code),
				"discount":   result.Discount,
				"totalFinal": result.Budget.TotalFinal,
			},
		})
	}
	return result, nil
}

// alreadyApplied reports the committed state of a ticket whose coupon usage was taken by another
// request.
func (s *ticketService) alreadyApplied(ctx context.Context, ticketID string) (CouponResult, error) {
	ticket, err := s.loadTicket(ctx, ticketID)
	if err != nil {
		return CouponResult{}, err
	}
	budget, err := s.loadBudget(ctx, ticketID)
	if err != nil {
		return CouponResult{}, err
	}
	return CouponResult{Rejection: CouponRejectionAlreadyApplied, Budget: budget, Ticket: ticket}, nil
}

func (s *ticketService) RecordPayment(ctx context.Context, cmd RecordPaymentCommand) (PaymentResult, error) {
	ticketID, actor, err := requireTicketAndActor(cmd.TicketID, cmd.ActorID)
	if err != nil {
		return PaymentResult{}, err
	}
	payment := Payment{
		TicketID:   ticketID,
		Amount:     cmd.Amount,
		Method:     cmd.Method,
		Reference:  trimmedPtr(cmd.Reference),
		RecordedBy: actor,
	}
	if cmd.PaidAt != nil {
		payment.PaidAt = cmd.PaidAt.UTC()
	}
	return s.mutatePayments(ctx, ActionRecordPayment, ticketID, actor, payment, func(txCtx context.Context, budget Budget) (LedgerResult, error) {
		return s.payments.Record(txCtx, budget, payment)
	})
}

func (s *ticketService) EditPayment(ctx context.Context, cmd EditPaymentCommand) (PaymentResult, error) {
	ticketID, actor, err := requireTicketAndActor(cmd.TicketID, cmd.ActorID)
	if err != nil {
		return PaymentResult{}, err
	}
	paymentID := strings.TrimSpace(cmd.PaymentID)
	if paymentID == "" {
		return PaymentResult{}, fmt.Errorf("%w: payment id is required", ErrTicketInvalidInput)
	}
	payment := Payment{
		ID:         paymentID,
		TicketID:   ticketID,
		Amount:     cmd.Amount,
		Method:     cmd.Method,
		Reference:  trimmedPtr(cmd.Reference),
		RecordedBy: actor,
	}
	return s.mutatePayments(ctx, ActionEditPayment, ticketID, actor, payment, func(txCtx context.Context, budget Budget) (LedgerResult, error) {
		return s.payments.Edit(txCtx, budget, payment)
	})
}

func (s *ticketService) DeletePayment(ctx context.Context, cmd DeletePaymentCommand) (PaymentResult, error) {
	ticketID, actor, err := requireTicketAndActor(cmd.TicketID, cmd.ActorID)
	if err != nil {
		return PaymentResult{}, err
	}
	paymentID := strings.TrimSpace(cmd.PaymentID)
	if paymentID == "" {
		return PaymentResult{}, fmt.Errorf("%w: payment id is required", ErrTicketInvalidInput)
	}
	return s.mutatePayments(ctx, ActionDeletePayment, ticketID, actor, Payment{}, func(txCtx context.Context, budget Budget) (LedgerResult, error) {
		return s.payments.Delete(txCtx, budget, paymentID)
	})
}

// mutatePayments verifies the provider reference outside the transaction, then runs the ledger
// change, persists the re-derived budget and advances a completed repair once it becomes paid.
// Status never regresses when a change leaves the budget unpaid.
func (s *ticketService) mutatePayments(ctx context.Context, action TicketAction, ticketID, actor string, payment Payment, mutate func(context.Context, Budget) (LedgerResult, error)) (PaymentResult, error) {
	if payment.Reference != nil {
		ticket, err := s.loadTicket(ctx, ticketID)
		if err != nil {
			return PaymentResult{}, err
		}
		if _, err := s.payableBudget(ctx, ticket, action); err != nil {
			return PaymentResult{}, err
		}
		if err := s.payments.Verify(ctx, payment); err != nil {
			return PaymentResult{}, err
		}
	}

	var (
		result   PaymentResult
		previous RepairStatus
		now      = s.clock()
	)
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		ticket, err := s.loadTicket(txCtx, ticketID)
		if err != nil {
			return err
		}
		previous = ticket.Status

		budget, err := s.payableBudget(txCtx, ticket, action)
		if err != nil {
			return err
		}

		ledger, err := mutate(txCtx, budget)
		if err != nil {
			return err
		}
		updated := ledger.Budget
		updated.Audit.UpdatedBy = valuePtr(actor)
		if err := s.budgets.Save(txCtx, updated); err != nil {
			return s.mapRepositoryError(err)
		}
		s.advanceWhenPaid(&ticket, ledger.PaidFlipped, actor, now)
		if err := s.tickets.Update(txCtx, ticket); err != nil {
			return s.mapRepositoryError(err)
		}

		result = PaymentResult{Ticket: ticket, Budget: updated, Payment: ledger.Payment}
		return nil
	})
	if err != nil {
		return PaymentResult{}, err
	}

	metadata := map[string]any{
		"totalPaid":  result.Budget.TotalPaid,
		"totalFinal": result.Budget.TotalFinal,
		"paid":       result.Budget.Paid,
	}
	if result.Payment != nil {
		metadata["paymentId"] = result.Payment.ID
		metadata["amount"] = result.Payment.Amount
		metadata["method"] = string(result.Payment.Method)
	}
	change := statusChange{
		action:   action,
		ticket:   result.Ticket,
		previous: previous,
		actor:    actor,
		at:       now,
		metadata: metadata,
	}
	if action == ActionRecordPayment {
		change.eventType = ticketEventPaymentRecorded
	}
	s.afterCommit(ctx, change)
	return result, nil
}

// payableBudget checks the action against the ticket status and loads the budget the payment
// change applies to. Recording on a fully paid budget fails with ErrPaymentSettled.
func (s *ticketService) payableBudget(ctx context.Context, ticket Ticket, action TicketAction) (Budget, error) {
	if err := checkAction(ticket, action); err != nil {
		return Budget{}, err
	}
	budget, err := s.loadBudget(ctx, ticket.ID)
	if err != nil {
		return Budget{}, err
	}
	if !budget.Approved {
		return Budget{}, fmt.Errorf("%w: budget is not approved", ErrBudgetMissing)
	}
	if action == ActionRecordPayment && budget.Paid {
		return Budget{}, fmt.Errorf("%w: outstanding balance is zero", ErrPaymentSettled)
	}
	return budget, nil
}

func (s *ticketService) ListPayments(ctx context.Context, ticketID string) ([]Payment, error) {
	ticket, err := s.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	return s.payments.List(ctx, ticket.ID)
}

func (s *ticketService) StartRepair(ctx context.Context, cmd StartRepairCommand) (RepairResult, error) {
	ticketID, actor, err := requireTicketAndActor(cmd.TicketID, cmd.ActorID)
	if err != nil {
		return RepairResult{}, err
	}

	var (
		result   RepairResult
		previous RepairStatus
		now      = s.clock()
	)
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		ticket, err := s.loadTicket(txCtx, ticketID)
		if err != nil {
			return err
		}
		if err := checkAction(ticket, ActionStartRepair); err != nil {
			return err
		}
		previous = ticket.Status

		budget, err := s.loadBudget(txCtx, ticketID)
		if err != nil {
			return err
		}
		if !budget.Approved {
			return fmt.Errorf("%w: budget is not approved", ErrBudgetMissing)
		}

		execution, err := s.repairs.Start(txCtx, ticket, cmd.TechnicianID, actor)
		if err != nil {
			return err
		}
		if execution.TechnicianID != nil {
			ticket.TechnicianID = cloneStringPtr(execution.TechnicianID)
		}
		s.applyStatusTransition(&ticket, domain.RepairStatusInRepair, actor, now)
		if err := s.tickets.Update(txCtx, ticket); err != nil {
			return s.mapRepositoryError(err)
		}
		result = RepairResult{Ticket: ticket, Execution: execution}
		return nil
	})
	if err != nil {
		return RepairResult{}, err
	}

	s.afterCommit(ctx, statusChange{
		action:   ActionStartRepair,
		ticket:   result.Ticket,
		previous: previous,
		actor:    actor,
		at:       now,
	})
	return result, nil
}

func (s *ticketService) PauseRepair(ctx context.Context, cmd TicketActionCommand) (RepairResult, error) {
	return s.executionAction(ctx, ActionPauseRepair, cmd.TicketID, cmd.ActorID, func(txCtx context.Context, ticketID, _ string) (RepairExecution, error) {
		return s.repairs.Pause(txCtx, ticketID)
	})
}

func (s *ticketService) ResumeRepair(ctx context.Context, cmd TicketActionCommand) (RepairResult, error) {
	return s.executionAction(ctx, ActionResumeRepair, cmd.TicketID, cmd.ActorID, func(txCtx context.Context, ticketID, _ string) (RepairExecution, error) {
		return s.repairs.Resume(txCtx, ticketID)
	})
}

func (s *ticketService) AddRepairNote(ctx context.Context, cmd RepairNoteCommand) (RepairResult, error) {
	return s.executionAction(ctx, ActionAddRepairNote, cmd.TicketID, cmd.ActorID, func(txCtx context.Context, ticketID, actor string) (RepairExecution, error) {
		return s.repairs.AddNote(txCtx, ticketID, cmd.Text, actor)
	})
}

// executionAction runs bookkeeping on the repair execution that leaves the ticket status alone.
func (s *ticketService) executionAction(ctx context.Context, action TicketAction, rawTicketID, rawActor string, fn func(context.Context, string, string) (RepairExecution, error)) (RepairResult, error) {
	ticketID, actor, err := requireTicketAndActor(rawTicketID, rawActor)
	if err != nil {
		return RepairResult{}, err
	}

	var result RepairResult
	now := s.clock()
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		ticket, err := s.loadTicket(txCtx, ticketID)
		if err != nil {
			return err
		}
		if err := checkAction(ticket, action); err != nil {
			return err
		}
		execution, err := fn(txCtx, ticketID, actor)
		if err != nil {
			return err
		}
		result = RepairResult{Ticket: ticket, Execution: execution}
		return nil
	})
	if err != nil {
		return RepairResult{}, err
	}

	s.afterCommit(ctx, statusChange{
		action:   action,
		ticket:   result.Ticket,
		previous: result.Ticket.Status,
		actor:    actor,
		at:       now,
	})
	return result, nil
}

// CompleteRepair deducts the approved parts from stock and moves the ticket to repair_completed.
// Retries after a successful completion return the stored result without touching stock.
func (s *ticketService) CompleteRepair(ctx context.Context, cmd TicketActionCommand) (RepairCompletion, error) {
	ticketID, actor, err := requireTicketAndActor(cmd.TicketID, cmd.ActorID)
	if err != nil {
		return RepairCompletion{}, err
	}

	var (
		completion RepairCompletion
		previous   RepairStatus
		now        = s.clock()
	)
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		ticket, err := s.loadTicket(txCtx, ticketID)
		if err != nil {
			return err
		}
		previous = ticket.Status

		if slices.Contains(completedRepairStatuses, ticket.Status) {
			prior, found, err := s.repairs.PriorCompletion(txCtx, ticketID)
			if err != nil {
				return err
			}
			if !found {
				return &TransitionError{From: ticket.Status, Action: ActionCompleteRepair}
			}
			prior.Ticket = ticket
			completion = prior
			return nil
		}
		if err := checkAction(ticket, ActionCompleteRepair); err != nil {
			return err
		}

		budget, err := s.loadBudget(txCtx, ticketID)
		if err != nil {
			return err
		}

		completion, err = s.repairs.Complete(txCtx, ticket, budget, actor)
		if err != nil {
			return err
		}

		s.applyStatusTransition(&ticket, domain.RepairStatusRepairCompleted, actor, now)
		if err := s.tickets.Update(txCtx, ticket); err != nil {
			return s.mapRepositoryError(err)
		}
		completion.Ticket = ticket
		return nil
	})
	if err != nil {
		var stockErr *InsufficientStockError
		if errors.As(err, &stockErr) {
			s.logger(ctx, "ticket.repair.insufficient_stock", map[string]any{
				"ticketId":  ticketID,
				"productId": stockErr.ProductID,
				"needed":    stockErr.Needed,
				"available": stockErr.Available,
			})
		}
		return RepairCompletion{}, err
	}

	if previous != completion.Ticket.Status {
		s.afterCommit(ctx, statusChange{
			action:    ActionCompleteRepair,
			eventType: ticketEventRepairCompleted,
			ticket:    completion.Ticket,
			previous:  previous,
			actor:     actor,
			at:        now,
			metadata: map[string]any{
				"consumedParts":  len(completion.ConsumedParts),
				"stockMovements": len(completion.StockMovements),
			},
		})
	}
	return completion, nil
}

// Cancel moves a non-terminal ticket to cancelled, opening one pending refund per recorded payment.
// Consumed parts are returned to stock only when RestockParts is set.
func (s *ticketService) Cancel(ctx context.Context, cmd CancelTicketCommand) (CancellationResult, error) {
	ticketID, actor, err := requireTicketAndActor(cmd.TicketID, cmd.ActorID)
	if err != nil {
		return CancellationResult{}, err
	}
	reason := textutil.SanitizePlain(cmd.Reason, maxCancelReasonLength)
	if reason == "" {
		return CancellationResult{}, fmt.Errorf("%w: cancellation reason is required", ErrTicketInvalidInput)
	}

	var (
		result   CancellationResult
		previous RepairStatus
		now      = s.clock()
	)
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		ticket, err := s.loadTicket(txCtx, ticketID)
		if err != nil {
			return err
		}
		if err := checkAction(ticket, ActionCancel); err != nil {
			return err
		}
		previous = ticket.Status

		payments, err := s.payments.List(txCtx, ticketID)
		if err != nil {
			return err
		}

		var restock []MovementLine
		if cmd.RestockParts {
			consumed, err := s.inventory.MovementsByReference(txCtx, TicketReference(ticketID))
			if err != nil {
				return err
			}
			restock = restockLines(consumed)
		}

		var movements []StockMovement
		if len(restock) > 0 {
			movements, err = s.inventory.ApplyMovements(txCtx, StockMovementCommand{
				Type:      domain.StockMovementEntry,
				Reason:    domain.StockReasonReturn,
				Reference: CancellationReference(ticketID),
				Lines:     restock,
				ActorID:   actor,
			})
			if err != nil {
				return err
			}
		}

		refunds := make([]Refund, 0, len(payments))
		for _, payment := range payments {
			refund := Refund{
				ID:        refundIDPrefix + s.newID(),
				TicketID:  ticketID,
				PaymentID: payment.ID,
				Amount:    payment.Amount,
				Reason:    reason,
				Status:    domain.RefundStatusPending,
				HandledBy: actor,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := s.refunds.Insert(txCtx, refund); err != nil {
				return s.mapRepositoryError(err)
			}
			refunds = append(refunds, refund)
		}

		ticket.CancelReason = valuePtr(reason)
		s.applyStatusTransition(&ticket, domain.RepairStatusCancelled, actor, now)
		if err := s.tickets.Update(txCtx, ticket); err != nil {
			return s.mapRepositoryError(err)
		}

		result = CancellationResult{Ticket: ticket, Refunds: refunds, StockMovements: movements}
		return nil
	})
	if err != nil {
		return CancellationResult{}, err
	}

	s.afterCommit(ctx, statusChange{
		action:    ActionCancel,
		eventType: ticketEventCancelled,
		ticket:    result.Ticket,
		previous:  previous,
		actor:     actor,
		at:        now,
		metadata: map[string]any{
			"reason":    reason,
			"refunds":   len(result.Refunds),
			"restocked": len(result.StockMovements),
		},
	})
	return result, nil
}

func (s *ticketService) ListRefunds(ctx context.Context, ticketID string) ([]Refund, error) {
	ticket, err := s.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	refunds, err := s.refunds.ListByTicket(ctx, ticket.ID)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return refunds, nil
}

// ResolveRefund closes a pending refund as completed or cancelled.
func (s *ticketService) ResolveRefund(ctx context.Context, cmd ResolveRefundCommand) (Refund, error) {
	refundID := strings.TrimSpace(cmd.RefundID)
	actor := strings.TrimSpace(cmd.ActorID)
	switch {
	case refundID == "":
		return Refund{}, fmt.Errorf("%w: refund id is required", ErrTicketInvalidInput)
	case actor == "":
		return Refund{}, fmt.Errorf("%w: actor id is required", ErrTicketInvalidInput)
	case cmd.Status != domain.RefundStatusCompleted && cmd.Status != domain.RefundStatusCancelled:
		return Refund{}, fmt.Errorf("%w: refund status must be completed or cancelled", ErrTicketInvalidInput)
	}

	var refund Refund
	now := s.clock()
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		var err error
		refund, err = s.refunds.FindByID(txCtx, refundID)
		if err != nil {
			if isRepoNotFound(err) {
				return fmt.Errorf("%w: %s", ErrRefundNotFound, refundID)
			}
			return s.mapRepositoryError(err)
		}
		if refund.Status != domain.RefundStatusPending {
			return fmt.Errorf("%w: refund is %s", ErrRefundInvalidState, refund.Status)
		}
		refund.Status = cmd.Status
		refund.HandledBy = actor
		refund.ResolvedAt = valuePtr(now)
		refund.UpdatedAt = now
		if err := s.refunds.Update(txCtx, refund); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Refund{}, err
	}

	if s.audit != nil {
		s.audit.Record(ctx, AuditLogRecord{
			Actor:      actor,
			ActorType:  "staff",
			Action:     "refund.resolve",
			TargetRef:  "/refunds/" + refund.ID,
			Severity:   "info",
			OccurredAt: now,
			Metadata:   map[string]any{"ticketId": refund.TicketID, "amount": refund.Amount},
			Diff: map[string]AuditLogDiff{
				"status": {Before: string(domain.RefundStatusPending), After: string(refund.Status)},
			},
		})
	}
	return refund, nil
}

// restockLines aggregates consumption exits per product into entry lines.
func restockLines(movements []StockMovement) []MovementLine {
	index := make(map[string]int, len(movements))
	lines := make([]MovementLine, 0, len(movements))
	for _, movement := range movements {
		if movement.Type != domain.StockMovementExit || movement.Reason != domain.StockReasonConsumption {
			continue
		}
		if i, ok := index[movement.ProductID]; ok {
			lines[i].Quantity += movement.Quantity
			continue
		}
		index[movement.ProductID] = len(lines)
		lines = append(lines, MovementLine{ProductID: movement.ProductID, Quantity: movement.Quantity})
	}
	return lines
}

func checkAction(ticket Ticket, action TicketAction) error {
	if ticket.Status.IsTerminal() || !slices.Contains(ticketTransitions[ticket.Status], action) {
		return &TransitionError{From: ticket.Status, Action: action}
	}
	return nil
}

// advanceWhenPaid moves a completed repair to ready_for_delivery once the budget becomes paid.
func (s *ticketService) advanceWhenPaid(ticket *Ticket, paidFlipped bool, actor string, now time.Time) {
	if paidFlipped && ticket.Status == domain.RepairStatusRepairCompleted {
		s.applyStatusTransition(ticket, domain.RepairStatusReadyForDelivery, actor, now)
		return
	}
	ticket.UpdatedAt = now
	ticket.Audit.UpdatedBy = valuePtr(actor)
}

func (s *ticketService) applyStatusTransition(ticket *Ticket, target RepairStatus, actor string, now time.Time) {
	ticket.UpdatedAt = now
	if actor != "" {
		ticket.Audit.UpdatedBy = valuePtr(actor)
	}
	if ticket.Status == target {
		return
	}
	ticket.Status = target
	s.updateTimestamps(ticket, target, now)
}

func (s *ticketService) updateTimestamps(ticket *Ticket, status RepairStatus, now time.Time) {
	switch status {
	case domain.RepairStatusRepairCompleted:
		ticket.RepairCompletedAt = valuePtr(now)
	case domain.RepairStatusDelivered:
		ticket.DeliveredAt = valuePtr(now)
	case domain.RepairStatusCancelled:
		if ticket.CancelledAt == nil {
			ticket.CancelledAt = valuePtr(now)
		}
	}
}

func (s *ticketService) loadTicket(ctx context.Context, ticketID string) (Ticket, error) {
	ticket, err := s.tickets.FindByID(ctx, ticketID)
	if err != nil {
		return Ticket{}, s.mapRepositoryError(err)
	}
	return ticket, nil
}

func (s *ticketService) loadBudget(ctx context.Context, ticketID string) (Budget, error) {
	budget, found, err := s.findBudget(ctx, ticketID)
	if err != nil {
		return Budget{}, err
	}
	if !found {
		return Budget{}, fmt.Errorf("%w: ticket %s has no budget", ErrBudgetMissing, ticketID)
	}
	return budget, nil
}

func (s *ticketService) findBudget(ctx context.Context, ticketID string) (Budget, bool, error) {
	budget, err := s.budgets.FindByTicket(ctx, ticketID)
	if err != nil {
		if isRepoNotFound(err) {
			return Budget{}, false, nil
		}
		return Budget{}, false, s.mapRepositoryError(err)
	}
	return budget, true, nil
}

func (s *ticketService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrTicketNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrTicketConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("ticket: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *ticketService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

// afterCommit records metrics, the audit trail and the domain event for a committed change.
func (s *ticketService) afterCommit(ctx context.Context, change statusChange) {
	if s.metrics != nil && change.action != "" {
		s.metrics.TicketTransition(ctx, change.action, change.previous, change.ticket.Status)
	}

	action := string(change.action)
	if action == "" {
		action = change.eventType
	}
	if s.audit != nil {
		record := AuditLogRecord{
			Actor:      change.actor,
			ActorType:  "staff",
			Action:     "ticket." + strings.TrimPrefix(action, "ticket."),
			TargetRef:  ticketTargetRef(change.ticket.ID),
			Severity:   "info",
			OccurredAt: change.at,
			Metadata:   maps.Clone(change.metadata),
		}
		if change.previous != "" && change.previous != change.ticket.Status {
			record.Diff = map[string]AuditLogDiff{
				"status": {Before: string(change.previous), After: string(change.ticket.Status)},
			}
		}
		s.audit.Record(ctx, record)
	}

	eventType := change.eventType
	if eventType == "" {
		if change.previous == change.ticket.Status {
			return
		}
		eventType = ticketEventStatusChanged
	}
	s.publishEvent(ctx, TicketEvent{
		Type:           eventType,
		TicketID:       change.ticket.ID,
		TicketNumber:   change.ticket.Number,
		PreviousStatus: string(change.previous),
		CurrentStatus:  string(change.ticket.Status),
		ActorID:        change.actor,
		OccurredAt:     change.at,
		Metadata:       change.metadata,
	})
}

func (s *ticketService) publishEvent(ctx context.Context, event TicketEvent) {
	if s.events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := s.events.PublishTicketEvent(ctx, event); err != nil {
		s.logger(ctx, "ticket.event.publish.failed", map[string]any{
			"type":   event.Type,
			"ticket": event.TicketID,
			"error":  err.Error(),
			"status": event.CurrentStatus,
		})
	}
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func requireTicketAndActor(ticketID, actorID string) (string, string, error) {
	ticketID = strings.TrimSpace(ticketID)
	actorID = strings.TrimSpace(actorID)
	if ticketID == "" {
		return "", "", fmt.Errorf("%w: ticket id is required", ErrTicketInvalidInput)
	}
	if actorID == "" {
		return "", "", fmt.Errorf("%w: actor id is required", ErrTicketInvalidInput)
	}
	return ticketID, actorID, nil
}

func trimmedPtr(value *string) *string {
	if value == nil {
		return nil
	}
	return optionalString(strings.TrimSpace(*value))
}
