package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/repairdesk/api/internal/domain"
	"github.com/repairdesk/api/internal/platform/textutil"
	"github.com/repairdesk/api/internal/repositories"
)

const (
	paymentIDPrefix        = "pay_"
	maxPaymentReferenceLen = 120
)

// PaymentVerifier confirms a payment reference against an external provider. Implementations return
// nil for references they do not handle.
type PaymentVerifier interface {
	VerifyPayment(ctx context.Context, verification PaymentVerification) error
}

// PaymentVerification describes the payment to confirm with the provider.
type PaymentVerification struct {
	Method    PaymentMethod
	Reference string
	Amount    int64
}

// PaymentLedgerDeps bundles the dependencies required by the payment ledger.
type PaymentLedgerDeps struct {
	Payments    repositories.PaymentRepository
	Verifier    PaymentVerifier
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type paymentLedger struct {
	repo     repositories.PaymentRepository
	verifier PaymentVerifier
	clock    func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
}

// NewPaymentLedger constructs the payment ledger.
func NewPaymentLedger(deps PaymentLedgerDeps) (PaymentLedger, error) {
	if deps.Payments == nil {
		return nil, errors.New("payment ledger: payment repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &paymentLedger{
		repo:     deps.Payments,
		verifier: deps.Verifier,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// DerivePayments recomputes TotalPaid and Paid from the full payment set. The result does not depend
// on the order payments were inserted, edited or deleted.
func DerivePayments(budget Budget, payments []Payment) Budget {
	var total int64
	for _, payment := range payments {
		if payment.Amount > 0 && total > math.MaxInt64-payment.Amount {
			total = math.MaxInt64
			continue
		}
		total += payment.Amount
	}
	budget.TotalPaid = total
	budget.Paid = derivePaid(budget)
	return budget
}

func (l *paymentLedger) Verify(ctx context.Context, payment Payment) error {
	if l.verifier == nil || payment.Reference == nil {
		return nil
	}
	err := l.verifier.VerifyPayment(ctx, PaymentVerification{
		Method:    payment.Method,
		Reference: *payment.Reference,
		Amount:    payment.Amount,
	})
	if err != nil {
		l.logger(ctx, "payment.verification.failed", map[string]any{
			"ticketId": payment.TicketID,
			"method":   string(payment.Method),
			"error":    err.Error(),
		})
		if errors.Is(err, ErrPaymentVerification) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrPaymentVerification, err)
	}
	return nil
}

func (l *paymentLedger) Record(ctx context.Context, budget Budget, payment Payment) (LedgerResult, error) {
	if budget.Paid {
		return LedgerResult{}, fmt.Errorf("%w: outstanding balance is zero", ErrPaymentSettled)
	}
	payment, err := l.normalizePayment(budget.TicketID, payment)
	if err != nil {
		return LedgerResult{}, err
	}

	payments, err := l.repo.ListByTicket(ctx, budget.TicketID)
	if err != nil {
		return LedgerResult{}, l.mapRepositoryError(err)
	}

	now := l.clock()
	if strings.TrimSpace(payment.ID) == "" {
		payment.ID = paymentIDPrefix + l.newID()
	}
	if payment.PaidAt.IsZero() {
		payment.PaidAt = now
	}
	payment.CreatedAt = now
	payment.UpdatedAt = now

	if err := l.repo.Insert(ctx, payment); err != nil {
		return LedgerResult{}, l.mapRepositoryError(err)
	}

	payments = append(payments, payment)
	return l.result(budget, &payment, payments, now), nil
}

func (l *paymentLedger) Edit(ctx context.Context, budget Budget, payment Payment) (LedgerResult, error) {
	paymentID := strings.TrimSpace(payment.ID)
	if paymentID == "" {
		return LedgerResult{}, fmt.Errorf("%w: payment id is required", ErrTicketInvalidInput)
	}
	payment, err := l.normalizePayment(budget.TicketID, payment)
	if err != nil {
		return LedgerResult{}, err
	}

	current, err := l.repo.FindByID(ctx, budget.TicketID, paymentID)
	if err != nil {
		return LedgerResult{}, l.mapRepositoryError(err)
	}
	payments, err := l.repo.ListByTicket(ctx, budget.TicketID)
	if err != nil {
		return LedgerResult{}, l.mapRepositoryError(err)
	}

	now := l.clock()
	payment.ID = current.ID
	payment.CreatedAt = current.CreatedAt
	if payment.PaidAt.IsZero() {
		payment.PaidAt = current.PaidAt
	}
	payment.UpdatedAt = now

	if err := l.repo.Update(ctx, payment); err != nil {
		return LedgerResult{}, l.mapRepositoryError(err)
	}

	for i := range payments {
		if payments[i].ID == payment.ID {
			payments[i] = payment
		}
	}
	return l.result(budget, &payment, payments, now), nil
}

func (l *paymentLedger) Delete(ctx context.Context, budget Budget, paymentID string) (LedgerResult, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return LedgerResult{}, fmt.Errorf("%w: payment id is required", ErrTicketInvalidInput)
	}

	current, err := l.repo.FindByID(ctx, budget.TicketID, paymentID)
	if err != nil {
		return LedgerResult{}, l.mapRepositoryError(err)
	}
	payments, err := l.repo.ListByTicket(ctx, budget.TicketID)
	if err != nil {
		return LedgerResult{}, l.mapRepositoryError(err)
	}

	if err := l.repo.Delete(ctx, budget.TicketID, paymentID); err != nil {
		return LedgerResult{}, l.mapRepositoryError(err)
	}

	remaining := make([]Payment, 0, len(payments))
	for _, payment := range payments {
		if payment.ID != paymentID {
			remaining = append(remaining, payment)
		}
	}
	return l.result(budget, &current, remaining, l.clock()), nil
}

func (l *paymentLedger) List(ctx context.Context, ticketID string) ([]Payment, error) {
	ticketID = strings.TrimSpace(ticketID)
	if ticketID == "" {
		return nil, fmt.Errorf("%w: ticket id is required", ErrTicketInvalidInput)
	}
	payments, err := l.repo.ListByTicket(ctx, ticketID)
	if err != nil {
		return nil, l.mapRepositoryError(err)
	}
	return payments, nil
}

func (l *paymentLedger) result(before Budget, payment *Payment, payments []Payment, now time.Time) LedgerResult {
	after := DerivePayments(before, payments)
	after.UpdatedAt = now
	return LedgerResult{
		Budget:      after,
		Payment:     payment,
		Payments:    payments,
		PaidFlipped: !before.Paid && after.Paid,
	}
}

func (l *paymentLedger) normalizePayment(ticketID string, payment Payment) (Payment, error) {
	if strings.TrimSpace(ticketID) == "" {
		return Payment{}, fmt.Errorf("%w: ticket id is required", ErrTicketInvalidInput)
	}
	if payment.Amount <= 0 {
		return Payment{}, fmt.Errorf("%w: amount must be greater than zero", ErrTicketInvalidInput)
	}
	if !validPaymentMethod(payment.Method) {
		return Payment{}, fmt.Errorf("%w: unsupported payment method %q", ErrTicketInvalidInput, payment.Method)
	}
	if strings.TrimSpace(payment.RecordedBy) == "" {
		return Payment{}, fmt.Errorf("%w: actor id is required", ErrTicketInvalidInput)
	}
	if payment.Reference != nil {
		payment.Reference = optionalString(textutil.SanitizePlain(*payment.Reference, maxPaymentReferenceLen))
	}
	payment.TicketID = ticketID
	if !payment.PaidAt.IsZero() {
		payment.PaidAt = payment.PaidAt.UTC()
	}
	return payment, nil
}

func validPaymentMethod(method PaymentMethod) bool {
	switch method {
	case domain.PaymentMethodCash, domain.PaymentMethodCard, domain.PaymentMethodTransfer, domain.PaymentMethodMercadoPago:
		return true
	default:
		return false
	}
}

func (l *paymentLedger) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: payment: %v", ErrTicketNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrTicketConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("payment: repository unavailable: %w", err)
		}
	}
	return err
}
