// Package memory provides process-local repository implementations used for local development and
// service scenario tests. All repositories share one Store so RunInTx can roll every write back.
package memory

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	domain "github.com/repairdesk/api/internal/domain"
	"github.com/repairdesk/api/internal/platform/pagination"
	"github.com/repairdesk/api/internal/repositories"
)

// Error implements repositories.RepositoryError for the in-memory backend.
type Error struct {
	op       string
	msg      string
	notFound bool
	conflict bool
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.op, e.msg)
}

func (e *Error) IsNotFound() bool    { return e != nil && e.notFound }
func (e *Error) IsConflict() bool    { return e != nil && e.conflict }
func (e *Error) IsUnavailable() bool { return false }

// IsDuplicate is true for every memory conflict: the store only reports conflicts on inserts.
func (e *Error) IsDuplicate() bool { return e != nil && e.conflict }

func notFound(op, format string, args ...any) error {
	return &Error{op: op, msg: fmt.Sprintf(format, args...), notFound: true}
}

func conflict(op, format string, args ...any) error {
	return &Error{op: op, msg: fmt.Sprintf(format, args...), conflict: true}
}

type state struct {
	tickets    map[string]domain.Ticket
	budgets    map[string]domain.Budget
	coupons    map[string]domain.Coupon
	usages     map[string]domain.CouponUsage
	payments   map[string]domain.Payment
	refunds    map[string]domain.Refund
	executions map[string]domain.RepairExecution
	products   map[string]domain.Product
	movements  []domain.StockMovement
	audit      []domain.AuditLogEntry
	counters   map[string]int64
}

func newState() state {
	return state{
		tickets:    map[string]domain.Ticket{},
		budgets:    map[string]domain.Budget{},
		coupons:    map[string]domain.Coupon{},
		usages:     map[string]domain.CouponUsage{},
		payments:   map[string]domain.Payment{},
		refunds:    map[string]domain.Refund{},
		executions: map[string]domain.RepairExecution{},
		products:   map[string]domain.Product{},
		counters:   map[string]int64{},
	}
}

// clone copies the containers. Stored values are replaced wholesale on update, never mutated in
// place, so a shallow copy of each container is enough to roll back.
func (s state) clone() state {
	return state{
		tickets:    maps.Clone(s.tickets),
		budgets:    maps.Clone(s.budgets),
		coupons:    maps.Clone(s.coupons),
		usages:     maps.Clone(s.usages),
		payments:   maps.Clone(s.payments),
		refunds:    maps.Clone(s.refunds),
		executions: maps.Clone(s.executions),
		products:   maps.Clone(s.products),
		movements:  slices.Clone(s.movements),
		audit:      slices.Clone(s.audit),
		counters:   maps.Clone(s.counters),
	}
}

type txKey struct{ store *Store }

// Store holds every entity behind a single mutex and implements repositories.Registry.
type Store struct {
	mu      sync.Mutex
	data    state
	started time.Time
	clock   func() time.Time
}

// Option customises the Store.
type Option func(*Store)

// WithClock overrides the clock used for health reports.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewStore constructs an empty Store.
func NewStore(opts ...Option) *Store {
	s := &Store{data: newState(), clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.started = s.clock()
	return s
}

var _ repositories.Registry = (*Store)(nil)

// RunInTx serialises fn against every other store access and restores the previous state when fn
// fails or panics. Calls made with a context already inside the transaction join it.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if fn == nil {
		return errors.New("memory: transaction function is nil")
	}
	if s.inTx(ctx) {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	defer func() {
		if r := recover(); r != nil {
			s.data = snapshot
			panic(r)
		}
	}()
	if err = fn(context.WithValue(ctx, txKey{store: s}, true)); err != nil {
		s.data = snapshot
	}
	return err
}

func (s *Store) inTx(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	joined, _ := ctx.Value(txKey{store: s}).(bool)
	return joined
}

// with runs fn under the store lock unless ctx already holds it through RunInTx.
func (s *Store) with(ctx context.Context, fn func(data *state) error) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	if s.inTx(ctx) {
		return fn(&s.data)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&s.data)
}

func ctxErr(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	return ctx.Err()
}

// Close is a no-op.
func (s *Store) Close(context.Context) error { return nil }

func (s *Store) Tickets() repositories.TicketRepository                   { return ticketRepository{s} }
func (s *Store) Budgets() repositories.BudgetRepository                   { return budgetRepository{s} }
func (s *Store) Coupons() repositories.CouponRepository                   { return couponRepository{s} }
func (s *Store) CouponUsages() repositories.CouponUsageRepository         { return couponUsageRepository{s} }
func (s *Store) Payments() repositories.PaymentRepository                 { return paymentRepository{s} }
func (s *Store) Refunds() repositories.RefundRepository                   { return refundRepository{s} }
func (s *Store) RepairExecutions() repositories.RepairExecutionRepository { return executionRepository{s} }
func (s *Store) Inventory() repositories.InventoryRepository              { return inventoryRepository{s} }
func (s *Store) Counters() repositories.CounterRepository                 { return counterRepository{s} }
func (s *Store) AuditLogs() repositories.AuditLogRepository               { return auditRepository{s} }
func (s *Store) Health() repositories.HealthRepository                    { return healthRepository{s} }

// paginate slices items, already sorted by ascending key, into one cursor page. Tokens carry the
// last key returned.
func paginate[T any](items []T, key func(T) string, pager domain.Pagination) (domain.CursorPage[T], error) {
	cursor, err := pagination.DecodeToken(pager.PageToken)
	if err != nil {
		return domain.CursorPage[T]{}, err
	}
	size := pager.PageSize
	if size <= 0 {
		size = pagination.DefaultPageSize
	}

	start := 0
	if cursor.Len() > 0 {
		after, err := cursor.StringAt(0)
		if err != nil {
			return domain.CursorPage[T]{}, err
		}
		start = sort.Search(len(items), func(i int) bool { return key(items[i]) > after })
	}

	end := min(start+size, len(items))
	page := domain.CursorPage[T]{Items: slices.Clone(items[start:end])}
	if end < len(items) && end > start {
		token, err := pagination.EncodeToken(pagination.Cursor{StartAfter: []any{key(items[end-1])}})
		if err != nil {
			return domain.CursorPage[T]{}, err
		}
		page.NextPageToken = token
	}
	return page, nil
}

func sortedValues[T any](m map[string]T, keep func(T) bool) []T {
	keys := slices.Sorted(maps.Keys(m))
	out := make([]T, 0, len(keys))
	for _, k := range keys {
		if keep == nil || keep(m[k]) {
			out = append(out, m[k])
		}
	}
	return out
}

func inRange(at time.Time, r domain.RangeQuery[time.Time]) bool {
	if r.From != nil && at.Before(*r.From) {
		return false
	}
	if r.To != nil && at.After(*r.To) {
		return false
	}
	return true
}
