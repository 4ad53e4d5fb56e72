package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	pfirestore "github.com/repairdesk/api/internal/platform/firestore"
	"github.com/repairdesk/api/internal/repositories"
)

// Registry exposes every Firestore repository behind repositories.Registry. RunInTx opens a
// Firestore transaction that all repositories join through the context.
type Registry struct {
	*pfirestore.UnitOfWork

	provider   *pfirestore.Provider
	tickets    *TicketRepository
	budgets    *BudgetRepository
	coupons    *CouponRepository
	usages     *CouponUsageRepository
	payments   *PaymentRepository
	refunds    *RefundRepository
	executions *RepairExecutionRepository
	inventory  *InventoryRepository
	counters   *CounterRepository
	audit      *AuditLogRepository
	health     repositories.HealthRepository
}

// NewRegistry builds all repositories on top of provider. When health is nil a Firestore-only
// dependency check is used.
func NewRegistry(provider *pfirestore.Provider, health repositories.HealthRepository) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}

	reg := &Registry{UnitOfWork: pfirestore.NewUnitOfWork(provider), provider: provider}
	var err error
	if reg.tickets, err = NewTicketRepository(provider); err != nil {
		return nil, fmt.Errorf("tickets: %w", err)
	}
	if reg.budgets, err = NewBudgetRepository(provider); err != nil {
		return nil, fmt.Errorf("budgets: %w", err)
	}
	if reg.coupons, err = NewCouponRepository(provider); err != nil {
		return nil, fmt.Errorf("coupons: %w", err)
	}
	if reg.usages, err = NewCouponUsageRepository(provider); err != nil {
		return nil, fmt.Errorf("coupon usages: %w", err)
	}
	if reg.payments, err = NewPaymentRepository(provider); err != nil {
		return nil, fmt.Errorf("payments: %w", err)
	}
	if reg.refunds, err = NewRefundRepository(provider); err != nil {
		return nil, fmt.Errorf("refunds: %w", err)
	}
	if reg.executions, err = NewRepairExecutionRepository(provider); err != nil {
		return nil, fmt.Errorf("repair executions: %w", err)
	}
	if reg.inventory, err = NewInventoryRepository(provider); err != nil {
		return nil, fmt.Errorf("inventory: %w", err)
	}
	if reg.counters, err = NewCounterRepository(provider); err != nil {
		return nil, fmt.Errorf("counters: %w", err)
	}
	if reg.audit, err = NewAuditLogRepository(provider); err != nil {
		return nil, fmt.Errorf("audit logs: %w", err)
	}

	if health == nil {
		health, err = repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{HealthCheck(provider)})
		if err != nil {
			return nil, fmt.Errorf("health: %w", err)
		}
	}
	reg.health = health
	return reg, nil
}

// HealthCheck probes Firestore through the provider's ping read.
func HealthCheck(provider *pfirestore.Provider) repositories.DependencyCheck {
	return repositories.DependencyCheck{
		Name:    "firestore",
		Timeout: 1500 * time.Millisecond,
		Check:   provider.Ping,
	}
}

func (r *Registry) Close(ctx context.Context) error { return r.provider.Close(ctx) }

func (r *Registry) Tickets() repositories.TicketRepository                   { return r.tickets }
func (r *Registry) Budgets() repositories.BudgetRepository                   { return r.budgets }
func (r *Registry) Coupons() repositories.CouponRepository                   { return r.coupons }
func (r *Registry) CouponUsages() repositories.CouponUsageRepository         { return r.usages }
func (r *Registry) Payments() repositories.PaymentRepository                 { return r.payments }
func (r *Registry) Refunds() repositories.RefundRepository                   { return r.refunds }
func (r *Registry) RepairExecutions() repositories.RepairExecutionRepository { return r.executions }
func (r *Registry) Inventory() repositories.InventoryRepository              { return r.inventory }
func (r *Registry) Counters() repositories.CounterRepository                 { return r.counters }
func (r *Registry) AuditLogs() repositories.AuditLogRepository               { return r.audit }
func (r *Registry) Health() repositories.HealthRepository                    { return r.health }

var _ repositories.Registry = (*Registry)(nil)
