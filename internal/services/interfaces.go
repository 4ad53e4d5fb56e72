package services

import (
	"context"
	"time"

	domain "github.com/repairdesk/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination      = domain.Pagination
	Ticket          = domain.Ticket
	RepairStatus    = domain.RepairStatus
	Budget          = domain.Budget
	BudgetLine      = domain.BudgetLine
	Coupon          = domain.Coupon
	CouponUsage     = domain.CouponUsage
	Payment         = domain.Payment
	PaymentMethod   = domain.PaymentMethod
	Refund          = domain.Refund
	RepairExecution = domain.RepairExecution
	ConsumedPart    = domain.ConsumedPart
	Product         = domain.Product
	StockMovement   = domain.StockMovement
	AuditLogEntry   = domain.AuditLogEntry
	AuditLogDiff    = domain.AuditLogDiff
)

// TicketService is the ticket state machine. Every mutating call validates the action against the
// transition table and persists the status together with its component side effects atomically.
type TicketService interface {
	CreateTicket(ctx context.Context, cmd CreateTicketCommand) (Ticket, error)
	GetTicket(ctx context.Context, ticketID string) (Ticket, error)
	ListTickets(ctx context.Context, filter TicketListFilter) (domain.CursorPage[Ticket], error)
	GetBudget(ctx context.Context, ticketID string) (Budget, error)

	Transition(ctx context.Context, cmd TransitionCommand) (Ticket, error)
	GenerateBudget(ctx context.Context, cmd GenerateBudgetCommand) (BudgetResult, error)
	ApplyCoupon(ctx context.Context, cmd ApplyCouponCommand) (CouponResult, error)

	RecordPayment(ctx context.Context, cmd RecordPaymentCommand) (PaymentResult, error)
	EditPayment(ctx context.Context, cmd EditPaymentCommand) (PaymentResult, error)
	DeletePayment(ctx context.Context, cmd DeletePaymentCommand) (PaymentResult, error)
	ListPayments(ctx context.Context, ticketID string) ([]Payment, error)

	StartRepair(ctx context.Context, cmd StartRepairCommand) (RepairResult, error)
	PauseRepair(ctx context.Context, cmd TicketActionCommand) (RepairResult, error)
	ResumeRepair(ctx context.Context, cmd TicketActionCommand) (RepairResult, error)
	AddRepairNote(ctx context.Context, cmd RepairNoteCommand) (RepairResult, error)
	CompleteRepair(ctx context.Context, cmd TicketActionCommand) (RepairCompletion, error)

	Cancel(ctx context.Context, cmd CancelTicketCommand) (CancellationResult, error)
	ListRefunds(ctx context.Context, ticketID string) ([]Refund, error)
	ResolveRefund(ctx context.Context, cmd ResolveRefundCommand) (Refund, error)
}

// InventoryService is the inventory ledger. It is the only writer of Product.Stock.
type InventoryService interface {
	ApplyMovements(ctx context.Context, cmd StockMovementCommand) ([]StockMovement, error)
	RecordEntry(ctx context.Context, cmd StockEntryCommand) (StockMovement, error)
	RecordAdjustment(ctx context.Context, cmd StockAdjustmentCommand) (StockMovement, error)
	GetProduct(ctx context.Context, productID string) (Product, error)
	FindProducts(ctx context.Context, productIDs []string) (map[string]Product, error)
	ListLowStock(ctx context.Context, pager Pagination) (domain.CursorPage[Product], error)
	ListMovements(ctx context.Context, filter MovementListFilter) (domain.CursorPage[StockMovement], error)
	MovementsByReference(ctx context.Context, reference string) ([]StockMovement, error)
}

// CouponService validates and redeems coupons and exposes coupon administration.
type CouponService interface {
	Redeem(ctx context.Context, cmd CouponRedeemCommand) (CouponRedemption, error)
	CreateCoupon(ctx context.Context, cmd CreateCouponCommand) (Coupon, error)
	GetCoupon(ctx context.Context, code string) (Coupon, error)
	DeactivateCoupon(ctx context.Context, code string, actorID string) (Coupon, error)
	ListUsage(ctx context.Context, code string, pager Pagination) (domain.CursorPage[CouponUsage], error)
}

// PaymentLedger records payments and re-derives the budget paid flag after every change.
type PaymentLedger interface {
	// Verify confirms provider references. It performs network calls and must run outside a transaction.
	Verify(ctx context.Context, payment Payment) error
	Record(ctx context.Context, budget Budget, payment Payment) (LedgerResult, error)
	Edit(ctx context.Context, budget Budget, payment Payment) (LedgerResult, error)
	Delete(ctx context.Context, budget Budget, paymentID string) (LedgerResult, error)
	List(ctx context.Context, ticketID string) ([]Payment, error)
}

// RepairService runs repair execution bookkeeping and the one-time stock deduction.
type RepairService interface {
	Start(ctx context.Context, ticket Ticket, technicianID *string, actorID string) (RepairExecution, error)
	Pause(ctx context.Context, ticketID string) (RepairExecution, error)
	Resume(ctx context.Context, ticketID string) (RepairExecution, error)
	AddNote(ctx context.Context, ticketID, text, actorID string) (RepairExecution, error)
	Complete(ctx context.Context, ticket Ticket, budget Budget, actorID string) (RepairCompletion, error)
	PriorCompletion(ctx context.Context, ticketID string) (RepairCompletion, bool, error)
}

// CounterService issues human readable ticket numbers.
type CounterService interface {
	NextTicketNumber(ctx context.Context) (string, error)
}

// AuditLogService records audit trail entries for mutating operations.
type AuditLogService interface {
	Record(ctx context.Context, record AuditLogRecord)
	List(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[AuditLogEntry], error)
}

// SystemService reports dependency health and exposes audit history.
type SystemService interface {
	HealthReport(ctx context.Context) (domain.SystemHealthReport, error)
	TicketHistory(ctx context.Context, ticketID string, pager Pagination) (domain.CursorPage[AuditLogEntry], error)
}

// InventoryExportService writes stock-movement ledgers to object storage.
type InventoryExportService interface {
	ExportMovements(ctx context.Context, cmd ExportMovementsCommand) (ExportResult, error)
}

// TicketAction names an operation gated by the transition table.
type TicketAction string

const (
	ActionStartDiagnosis    TicketAction = "start_diagnosis"
	ActionCompleteDiagnosis TicketAction = "complete_diagnosis"
	ActionGenerateBudget    TicketAction = "generate_budget"
	ActionApproveBudget     TicketAction = "approve_budget"
	ActionApplyCoupon       TicketAction = "apply_coupon"
	ActionRecordPayment     TicketAction = "record_payment"
	ActionEditPayment       TicketAction = "edit_payment"
	ActionDeletePayment     TicketAction = "delete_payment"
	ActionStartRepair       TicketAction = "start_repair"
	ActionPauseRepair       TicketAction = "pause_repair"
	ActionResumeRepair      TicketAction = "resume_repair"
	ActionAddRepairNote     TicketAction = "add_repair_note"
	ActionCompleteRepair    TicketAction = "complete_repair"
	ActionMarkReady         TicketAction = "mark_ready"
	ActionDeliver           TicketAction = "deliver"
	ActionCancel            TicketAction = "cancel"
)

// CreateTicketCommand registers a device at intake.
type CreateTicketCommand struct {
	CustomerRef  string
	DeviceRef    string
	LocationID   string
	TechnicianID *string
	ActorID      string
}

// TicketListFilter narrows ticket listings.
type TicketListFilter struct {
	Status     []RepairStatus
	LocationID string
	Pagination Pagination
}

// TransitionCommand runs a payload-free status action (diagnosis, approval, delivery prep).
type TransitionCommand struct {
	TicketID string
	Action   TicketAction
	ActorID  string
}

// TicketActionCommand identifies a ticket and the acting user.
type TicketActionCommand struct {
	TicketID string
	ActorID  string
}

// BudgetLineInput is one requested budget row. ProductID marks a stock-relevant part; lines without
// it are free-text extras such as labor.
type BudgetLineInput struct {
	ProductID   *string
	Description string
	Quantity    int64
	UnitPrice   *int64
}

// GenerateBudgetCommand (re)generates the budget of a ticket.
type GenerateBudgetCommand struct {
	TicketID string
	Lines    []BudgetLineInput
	ActorID  string
}

// BudgetResult returns the ticket and its budget after a budget mutation.
type BudgetResult struct {
	Ticket Ticket
	Budget Budget
}

// ApplyCouponCommand applies a promotional code to a ticket budget.
type ApplyCouponCommand struct {
	TicketID string
	Code     string
	ActorID  string
}

// CouponRejection is the user-facing reason a coupon could not be applied.
type CouponRejection string

const (
	CouponRejectionNotFound             CouponRejection = "not_found"
	CouponRejectionInactive             CouponRejection = "inactive"
	CouponRejectionNotYetValid          CouponRejection = "not_yet_valid"
	CouponRejectionExpired              CouponRejection = "expired"
	CouponRejectionBelowMinimum         CouponRejection = "below_minimum"
	CouponRejectionExhausted            CouponRejection = "exhausted"
	CouponRejectionAlreadyApplied       CouponRejection = "already_applied"
	CouponRejectionAnotherCouponApplied CouponRejection = "another_coupon_applied"
)

// CouponResult reports either the granted discount or a rejection reason.
type CouponResult struct {
	Applied   bool
	Rejection CouponRejection
	Discount  int64
	Budget    Budget
	Ticket    Ticket
}

// CouponRedeemCommand asks the coupon engine to evaluate and redeem a code against a budget.
type CouponRedeemCommand struct {
	Code    string
	Budget  Budget
	ActorID string
}

// CouponRedemption is the engine's outcome. On success the usage row and counter are already
// written and the caller must persist Budget.
type CouponRedemption struct {
	Rejection CouponRejection
	Usage     *CouponUsage
	Budget    Budget
}

// CreateCouponCommand registers a new coupon.
type CreateCouponCommand struct {
	Code          string
	Description   string
	DiscountType  domain.CouponDiscountType
	Value         int64
	MinimumAmount int64
	StartsAt      *time.Time
	ExpiresAt     *time.Time
	UsageLimit    *int64
	ActorID       string
}

// RecordPaymentCommand records money received for a ticket.
type RecordPaymentCommand struct {
	TicketID  string
	Amount    int64
	Method    PaymentMethod
	Reference *string
	PaidAt    *time.Time
	ActorID   string
}

// EditPaymentCommand replaces mutable fields of a recorded payment.
type EditPaymentCommand struct {
	TicketID  string
	PaymentID string
	Amount    int64
	Method    PaymentMethod
	Reference *string
	ActorID   string
}

// DeletePaymentCommand removes a recorded payment.
type DeletePaymentCommand struct {
	TicketID  string
	PaymentID string
	ActorID   string
}

// PaymentResult returns the ticket, re-derived budget and affected payment.
type PaymentResult struct {
	Ticket  Ticket
	Budget  Budget
	Payment *Payment
}

// LedgerResult is the payment ledger outcome inside a transaction.
type LedgerResult struct {
	Budget   Budget
	Payment  *Payment
	Payments []Payment
	// PaidFlipped is true when the change moved Budget.Paid from false to true.
	PaidFlipped bool
}

// StartRepairCommand moves an approved ticket into repair.
type StartRepairCommand struct {
	TicketID     string
	TechnicianID *string
	ActorID      string
}

// RepairNoteCommand attaches an observation to a running repair.
type RepairNoteCommand struct {
	TicketID string
	Text     string
	ActorID  string
}

// RepairResult returns the ticket and its execution record.
type RepairResult struct {
	Ticket    Ticket
	Execution RepairExecution
}

// RepairCompletion is the outcome of completing a repair.
type RepairCompletion struct {
	Ticket         Ticket
	ConsumedParts  []ConsumedPart
	StockMovements []StockMovement
	// Replayed is true when the call returned a prior completion without touching stock.
	Replayed bool
}

// CancelTicketCommand aborts a ticket.
type CancelTicketCommand struct {
	TicketID string
	Reason   string
	// RestockParts appends compensating entry movements for parts consumed by a completed repair.
	RestockParts bool
	ActorID      string
}

// CancellationResult returns the cancelled ticket and the side effects created.
type CancellationResult struct {
	Ticket         Ticket
	Refunds        []Refund
	StockMovements []StockMovement
}

// ResolveRefundCommand closes a pending refund.
type ResolveRefundCommand struct {
	RefundID string
	Status   domain.RefundStatus
	ActorID  string
}

// MovementLine is one product quantity in a stock movement request.
type MovementLine struct {
	ProductID string
	Quantity  int64
}

// StockMovementCommand applies several movements of the same type atomically.
type StockMovementCommand struct {
	Type      domain.StockMovementType
	Reason    domain.StockMovementReason
	Reference string
	Lines     []MovementLine
	ActorID   string
}

// StockEntryCommand records a purchase.
type StockEntryCommand struct {
	ProductID string
	Quantity  int64
	Reference string
	ActorID   string
}

// StockAdjustmentCommand corrects stock in either direction. A negative Delta is an exit.
type StockAdjustmentCommand struct {
	ProductID string
	Delta     int64
	Reference string
	ActorID   string
}

// MovementListFilter narrows movement listings.
type MovementListFilter struct {
	ProductID  string
	Reference  string
	From       *time.Time
	To         *time.Time
	Pagination Pagination
}

// AuditLogRecord defines the payload accepted by the audit writer service.
type AuditLogRecord struct {
	Actor      string
	ActorType  string
	Action     string
	TargetRef  string
	Severity   string
	RequestID  string
	OccurredAt time.Time
	Metadata   map[string]any
	Diff       map[string]AuditLogDiff
}

// AuditLogFilter narrows audit log listings.
type AuditLogFilter struct {
	TargetRef  string
	Actor      string
	Action     string
	Pagination Pagination
}

// ExportMovementsCommand selects the movements to export.
type ExportMovementsCommand struct {
	From    time.Time
	To      time.Time
	ActorID string
}

// ExportResult describes a written export object.
type ExportResult struct {
	Bucket      string
	Object      string
	Movements   int
	DownloadURL string
	ExpiresAt   *time.Time
}

// TicketEventPublisher publishes ticket domain events for downstream consumers.
type TicketEventPublisher interface {
	PublishTicketEvent(ctx context.Context, event TicketEvent) error
}

// TicketEvent captures metadata for emitted ticket domain events.
type TicketEvent struct {
	Type           string
	TicketID       string
	TicketNumber   string
	PreviousStatus string
	CurrentStatus  string
	ActorID        string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// Metrics records engine counters. Implementations must be safe for concurrent use.
type Metrics interface {
	TicketTransition(ctx context.Context, action TicketAction, from, to RepairStatus)
	StockMoved(ctx context.Context, movementType domain.StockMovementType, units int64)
	CouponEvaluated(ctx context.Context, rejection CouponRejection)
}
