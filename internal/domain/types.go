package domain

import "time"

// Pagination captures cursor-based pagination inputs shared across list queries.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage wraps a page of results alongside the cursor for the next page.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// RangeQuery bounds list queries by an optional inclusive range.
type RangeQuery[T any] struct {
	From *T
	To   *T
}

// Audit tracks the actors responsible for creating and updating an entity.
type Audit struct {
	CreatedBy *string
	UpdatedBy *string
}

// RepairStatus enumerates the lifecycle states of a repair ticket.
type RepairStatus string

const (
	// RepairStatusReceived is the initial status assigned at intake.
	RepairStatusReceived RepairStatus = "received"
	// RepairStatusInDiagnosis marks a device being inspected by a technician.
	RepairStatusInDiagnosis RepairStatus = "in_diagnosis"
	// RepairStatusDiagnosisCompleted indicates the diagnosis is done and a budget can be drafted.
	RepairStatusDiagnosisCompleted RepairStatus = "diagnosis_completed"
	// RepairStatusBudgetGenerated indicates a priced budget awaits customer approval.
	RepairStatusBudgetGenerated RepairStatus = "budget_generated"
	// RepairStatusBudgetApproved locks the budget; payments and repair may start.
	RepairStatusBudgetApproved RepairStatus = "budget_approved"
	// RepairStatusInRepair marks an active repair.
	RepairStatusInRepair RepairStatus = "in_repair"
	// RepairStatusRepairCompleted indicates parts were consumed and the repair finished.
	RepairStatusRepairCompleted RepairStatus = "repair_completed"
	// RepairStatusReadyForDelivery indicates a paid, repaired device awaiting pickup.
	RepairStatusReadyForDelivery RepairStatus = "ready_for_delivery"
	// RepairStatusDelivered is terminal.
	RepairStatusDelivered RepairStatus = "delivered"
	// RepairStatusCancelled is terminal.
	RepairStatusCancelled RepairStatus = "cancelled"
)

// IsTerminal reports whether no transition may leave the status.
func (s RepairStatus) IsTerminal() bool {
	return s == RepairStatusDelivered || s == RepairStatusCancelled
}

// Ticket is a single repair job tracked from intake to delivery.
type Ticket struct {
	ID                string
	Number            string
	CustomerRef       string
	DeviceRef         string
	LocationID        string
	Status            RepairStatus
	TechnicianID      *string
	CancelReason      *string
	CancelledAt       *time.Time
	RepairCompletedAt *time.Time
	DeliveredAt       *time.Time
	Audit             Audit
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// BudgetLineKind distinguishes catalog parts from free-text concepts such as labor.
type BudgetLineKind string

const (
	// BudgetLineKindPart references a catalog product and affects stock on repair completion.
	BudgetLineKindPart BudgetLineKind = "part"
	// BudgetLineKindExtra is a free-text concept (labor, shipping, ...) with no stock effect.
	BudgetLineKindExtra BudgetLineKind = "extra"
)

// BudgetLine is one priced row of a budget.
type BudgetLine struct {
	Position    int
	Kind        BudgetLineKind
	ProductID   *string
	Description string
	Quantity    int64
	UnitPrice   int64
	LineTotal   int64
}

// Budget is the priced quote owned by a ticket. Amounts are in minor units.
type Budget struct {
	TicketID   string
	Lines      []BudgetLine
	Subtotal   int64
	TaxRateBps int64
	Tax        int64
	Discount   int64
	TotalFinal int64
	TotalPaid  int64
	Approved   bool
	Paid       bool
	ApprovedAt *time.Time
	Audit      Audit
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Outstanding returns the unpaid balance, never negative.
func (b Budget) Outstanding() int64 {
	if b.TotalPaid >= b.TotalFinal {
		return 0
	}
	return b.TotalFinal - b.TotalPaid
}

// CouponDiscountType enumerates how a coupon value is interpreted.
type CouponDiscountType string

const (
	// CouponDiscountPercentage interprets Value as basis points of the budget total.
	CouponDiscountPercentage CouponDiscountType = "percentage"
	// CouponDiscountFixedAmount interprets Value as minor units.
	CouponDiscountFixedAmount CouponDiscountType = "fixed_amount"
)

// Coupon is a promotional code granting a discount on a ticket budget.
type Coupon struct {
	ID            string
	Code          string
	Description   string
	DiscountType  CouponDiscountType
	Value         int64
	MinimumAmount int64
	Active        bool
	StartsAt      *time.Time
	ExpiresAt     *time.Time
	UsageLimit    *int64
	UsageCount    int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CouponUsage records a coupon granted to a ticket. Rows are immutable once written.
type CouponUsage struct {
	ID             string
	CouponID       string
	CouponCode     string
	TicketID       string
	DiscountAmount int64
	AppliedBy      string
	AppliedAt      time.Time
}

// CouponUsageID derives the unique identifier for a (coupon, ticket) pair.
func CouponUsageID(couponID, ticketID string) string {
	return couponID + "_" + ticketID
}

// PaymentMethod enumerates accepted payment instruments.
type PaymentMethod string

const (
	PaymentMethodCash        PaymentMethod = "cash"
	PaymentMethodCard        PaymentMethod = "card"
	PaymentMethodTransfer    PaymentMethod = "transfer"
	PaymentMethodMercadoPago PaymentMethod = "mercadopago"
)

// Payment is money received against a ticket budget.
type Payment struct {
	ID         string
	TicketID   string
	Amount     int64
	Method     PaymentMethod
	Reference  *string
	RecordedBy string
	PaidAt     time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// RefundStatus enumerates refund lifecycle states.
type RefundStatus string

const (
	RefundStatusPending   RefundStatus = "pending"
	RefundStatusCompleted RefundStatus = "completed"
	RefundStatusCancelled RefundStatus = "cancelled"
)

// Refund compensates a payment on a cancelled ticket.
type Refund struct {
	ID         string
	TicketID   string
	PaymentID  string
	Amount     int64
	Reason     string
	Status     RefundStatus
	HandledBy  string
	ResolvedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ConsumedPart is a product actually used by a completed repair.
type ConsumedPart struct {
	ProductID string
	Quantity  int64
	UnitPrice int64
	LineTotal int64
}

// RepairExecution holds the working record of a repair once it starts.
type RepairExecution struct {
	TicketID      string
	TechnicianID  *string
	Notes         []RepairNote
	StartedAt     *time.Time
	PausedAt      *time.Time
	ResumedAt     *time.Time
	CompletedAt   *time.Time
	ConsumedParts []ConsumedPart
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Paused reports whether the execution is currently on hold.
func (e RepairExecution) Paused() bool {
	if e.PausedAt == nil {
		return false
	}
	return e.ResumedAt == nil || e.ResumedAt.Before(*e.PausedAt)
}

// RepairNote is a timestamped observation attached to a repair.
type RepairNote struct {
	Text      string
	AuthorID  string
	CreatedAt time.Time
}

// Product is a catalog entry with a stock counter.
type Product struct {
	ID        string
	SKU       string
	Name      string
	Price     int64
	Stock     int64
	MinStock  int64
	MaxStock  int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// StockMovementType enumerates the direction of a stock movement.
type StockMovementType string

const (
	StockMovementEntry StockMovementType = "entry"
	StockMovementExit  StockMovementType = "exit"
)

// StockMovementReason tags why a movement happened.
type StockMovementReason string

const (
	StockReasonPurchase    StockMovementReason = "purchase"
	StockReasonConsumption StockMovementReason = "consumption"
	StockReasonAdjustment  StockMovementReason = "adjustment"
	StockReasonReturn      StockMovementReason = "return"
)

// StockMovement is an append-only inventory ledger row.
type StockMovement struct {
	ID         string
	ProductID  string
	Type       StockMovementType
	Reason     StockMovementReason
	Quantity   int64
	Reference  *string
	StockAfter int64
	ActorID    string
	CreatedAt  time.Time
}

// AuditLogEntry stores immutable audit records for mutating actions.
type AuditLogEntry struct {
	ID        string
	Actor     string
	ActorType string
	Action    string
	TargetRef string
	Severity  string
	RequestID string
	Metadata  map[string]any
	Diff      map[string]AuditLogDiff
	CreatedAt time.Time
}

// AuditLogDiff records the before/after values for a changed field.
type AuditLogDiff struct {
	Before any
	After  any
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
