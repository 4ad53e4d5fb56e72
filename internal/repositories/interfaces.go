package repositories

import (
	"context"
	"time"

	domain "github.com/repairdesk/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Tickets() TicketRepository
	Budgets() BudgetRepository
	Coupons() CouponRepository
	CouponUsages() CouponUsageRepository
	Payments() PaymentRepository
	Refunds() RefundRepository
	RepairExecutions() RepairExecutionRepository
	Inventory() InventoryRepository
	Counters() CounterRepository
	AuditLogs() AuditLogRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// DuplicateError is implemented by repository errors that can single out a create which hit an
// existing document, as opposed to other conflicts such as exhausted transaction retries.
type DuplicateError interface {
	error
	IsDuplicate() bool
}

// UnitOfWork groups repository operations in a transactional boundary. Implementations must be
// re-entrant: a RunInTx call made with a context that already carries a transaction joins it.
//
// Backends with read-before-write transactions (Firestore) require callers to issue every read
// before the first write inside fn.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// TicketRepository persists repair tickets.
type TicketRepository interface {
	Insert(ctx context.Context, ticket domain.Ticket) error
	Update(ctx context.Context, ticket domain.Ticket) error
	FindByID(ctx context.Context, ticketID string) (domain.Ticket, error)
	List(ctx context.Context, filter TicketListFilter) (domain.CursorPage[domain.Ticket], error)
}

// BudgetRepository persists the budget owned by a ticket. Save replaces the whole document
// including its line items.
type BudgetRepository interface {
	Save(ctx context.Context, budget domain.Budget) error
	FindByTicket(ctx context.Context, ticketID string) (domain.Budget, error)
}

// CouponRepository stores promotional codes.
type CouponRepository interface {
	Insert(ctx context.Context, coupon domain.Coupon) error
	Update(ctx context.Context, coupon domain.Coupon) error
	FindByCode(ctx context.Context, code string) (domain.Coupon, error)
}

// CouponUsageRepository stores immutable (coupon, ticket) application records. Insert must fail
// with a conflict when the pair already exists.
type CouponUsageRepository interface {
	Insert(ctx context.Context, usage domain.CouponUsage) error
	Find(ctx context.Context, couponID, ticketID string) (domain.CouponUsage, error)
	ListByTicket(ctx context.Context, ticketID string) ([]domain.CouponUsage, error)
	ListByCoupon(ctx context.Context, couponID string, pager domain.Pagination) (domain.CursorPage[domain.CouponUsage], error)
}

// PaymentRepository stores payments recorded against a ticket.
type PaymentRepository interface {
	Insert(ctx context.Context, payment domain.Payment) error
	Update(ctx context.Context, payment domain.Payment) error
	Delete(ctx context.Context, ticketID, paymentID string) error
	FindByID(ctx context.Context, ticketID, paymentID string) (domain.Payment, error)
	ListByTicket(ctx context.Context, ticketID string) ([]domain.Payment, error)
}

// RefundRepository stores refunds created by ticket cancellation.
type RefundRepository interface {
	Insert(ctx context.Context, refund domain.Refund) error
	Update(ctx context.Context, refund domain.Refund) error
	FindByID(ctx context.Context, refundID string) (domain.Refund, error)
	ListByTicket(ctx context.Context, ticketID string) ([]domain.Refund, error)
}

// RepairExecutionRepository persists the 1:1 repair execution record of a ticket.
type RepairExecutionRepository interface {
	Save(ctx context.Context, execution domain.RepairExecution) error
	FindByTicket(ctx context.Context, ticketID string) (domain.RepairExecution, error)
}

// InventoryRepository owns product stock counters and the append-only movement ledger.
type InventoryRepository interface {
	// ApplyMovements checks availability for every exit and, only when all lines can be served,
	// writes the updated products and appends the movements. Check and write are atomic as a pair.
	ApplyMovements(ctx context.Context, req InventoryMovementRequest) (InventoryMovementResult, error)
	FindProduct(ctx context.Context, productID string) (domain.Product, error)
	FindProducts(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
	UpsertProduct(ctx context.Context, product domain.Product) error
	ListLowStock(ctx context.Context, filter LowStockFilter) (domain.CursorPage[domain.Product], error)
	ListMovements(ctx context.Context, filter MovementListFilter) (domain.CursorPage[domain.StockMovement], error)
	MovementsByReference(ctx context.Context, reference string) ([]domain.StockMovement, error)
}

// AuditLogRepository persists immutable audit trail entries.
type AuditLogRepository interface {
	Append(ctx context.Context, entry domain.AuditLogEntry) error
	List(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// Filter DTOs shared across repositories ------------------------------------

type TicketListFilter struct {
	Status     []domain.RepairStatus
	LocationID string
	Pagination domain.Pagination
}

type LowStockFilter struct {
	Pagination domain.Pagination
}

type MovementListFilter struct {
	ProductID  string
	Reference  string
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

type AuditLogFilter struct {
	TargetRef  string
	Actor      string
	Action     string
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

// InventoryMovementRequest carries the movements to apply in one atomic unit. Movements already
// carry IDs, types, reasons and references; StockAfter is filled by the repository.
type InventoryMovementRequest struct {
	Movements []domain.StockMovement
	Now       time.Time
}

// InventoryMovementResult returns the persisted movements and the resulting product rows.
type InventoryMovementResult struct {
	Movements []domain.StockMovement
	Products  map[string]domain.Product
}
