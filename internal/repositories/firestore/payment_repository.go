package firestore

import (
	"context"
	"fmt"
	"time"

	domain "github.com/repairdesk/api/internal/domain"
	pfirestore "github.com/repairdesk/api/internal/platform/firestore"
	"github.com/repairdesk/api/internal/repositories"
)

const (
	paymentsCollection = "payments"
	refundsCollection  = "refunds"
)

type paymentDocument struct {
	TicketID   string    `firestore:"ticketId"`
	Amount     int64     `firestore:"amount"`
	Method     string    `firestore:"method"`
	Reference  *string   `firestore:"reference,omitempty"`
	RecordedBy string    `firestore:"recordedBy"`
	PaidAt     time.Time `firestore:"paidAt"`
	CreatedAt  time.Time `firestore:"createdAt"`
	UpdatedAt  time.Time `firestore:"updatedAt"`
}

func newPaymentDocument(p domain.Payment) paymentDocument {
	return paymentDocument{
		TicketID:   p.TicketID,
		Amount:     p.Amount,
		Method:     string(p.Method),
		Reference:  p.Reference,
		RecordedBy: p.RecordedBy,
		PaidAt:     p.PaidAt.UTC(),
		CreatedAt:  p.CreatedAt.UTC(),
		UpdatedAt:  p.UpdatedAt.UTC(),
	}
}

func (d paymentDocument) toDomain(id string) domain.Payment {
	return domain.Payment{
		ID:         id,
		TicketID:   d.TicketID,
		Amount:     d.Amount,
		Method:     domain.PaymentMethod(d.Method),
		Reference:  d.Reference,
		RecordedBy: d.RecordedBy,
		PaidAt:     d.PaidAt,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
}

// PaymentRepository stores payments in a top-level collection indexed by ticketId.
type PaymentRepository struct {
	payments *pfirestore.Collection[paymentDocument]
}

// NewPaymentRepository constructs a Firestore-backed payment repository.
func NewPaymentRepository(provider *pfirestore.Provider) (*PaymentRepository, error) {
	if provider == nil {
		return nil, errNotInitialised
	}
	return &PaymentRepository{payments: pfirestore.NewCollection[paymentDocument](provider, paymentsCollection)}, nil
}

func (r *PaymentRepository) Insert(ctx context.Context, payment domain.Payment) error {
	return r.payments.Create(ctx, payment.ID, newPaymentDocument(payment))
}

// Update and Delete trust the caller to have loaded the payment through FindByID, which checks the
// ticket ownership.
func (r *PaymentRepository) Update(ctx context.Context, payment domain.Payment) error {
	return r.payments.Replace(ctx, payment.ID, newPaymentDocument(payment))
}

func (r *PaymentRepository) Delete(ctx context.Context, ticketID, paymentID string) error {
	return r.payments.Delete(ctx, paymentID)
}

func (r *PaymentRepository) FindByID(ctx context.Context, ticketID, paymentID string) (domain.Payment, error) {
	snap, err := r.payments.Get(ctx, paymentID)
	if err != nil {
		return domain.Payment{}, err
	}
	if snap.Data.TicketID != ticketID {
		return domain.Payment{}, pfirestore.WrapError("payments.get", notFoundStatus(fmt.Sprintf("payment %s not found on ticket %s", paymentID, ticketID)))
	}
	return snap.Data.toDomain(snap.ID), nil
}

func (r *PaymentRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.Payment, error) {
	return findWhere(ctx, r.payments, "ticketId", ticketID, paymentDocument.toDomain)
}

type refundDocument struct {
	TicketID   string     `firestore:"ticketId"`
	PaymentID  string     `firestore:"paymentId"`
	Amount     int64      `firestore:"amount"`
	Reason     string     `firestore:"reason"`
	Status     string     `firestore:"status"`
	HandledBy  string     `firestore:"handledBy,omitempty"`
	ResolvedAt *time.Time `firestore:"resolvedAt,omitempty"`
	CreatedAt  time.Time  `firestore:"createdAt"`
	UpdatedAt  time.Time  `firestore:"updatedAt"`
}

func newRefundDocument(rf domain.Refund) refundDocument {
	return refundDocument{
		TicketID:   rf.TicketID,
		PaymentID:  rf.PaymentID,
		Amount:     rf.Amount,
		Reason:     rf.Reason,
		Status:     string(rf.Status),
		HandledBy:  rf.HandledBy,
		ResolvedAt: rf.ResolvedAt,
		CreatedAt:  rf.CreatedAt.UTC(),
		UpdatedAt:  rf.UpdatedAt.UTC(),
	}
}

func (d refundDocument) toDomain(id string) domain.Refund {
	return domain.Refund{
		ID:         id,
		TicketID:   d.TicketID,
		PaymentID:  d.PaymentID,
		Amount:     d.Amount,
		Reason:     d.Reason,
		Status:     domain.RefundStatus(d.Status),
		HandledBy:  d.HandledBy,
		ResolvedAt: d.ResolvedAt,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
}

// RefundRepository stores refunds created when tickets are cancelled.
type RefundRepository struct {
	refunds *pfirestore.Collection[refundDocument]
}

// NewRefundRepository constructs a Firestore-backed refund repository.
func NewRefundRepository(provider *pfirestore.Provider) (*RefundRepository, error) {
	if provider == nil {
		return nil, errNotInitialised
	}
	return &RefundRepository{refunds: pfirestore.NewCollection[refundDocument](provider, refundsCollection)}, nil
}

func (r *RefundRepository) Insert(ctx context.Context, refund domain.Refund) error {
	return r.refunds.Create(ctx, refund.ID, newRefundDocument(refund))
}

func (r *RefundRepository) Update(ctx context.Context, refund domain.Refund) error {
	return r.refunds.Replace(ctx, refund.ID, newRefundDocument(refund))
}

func (r *RefundRepository) FindByID(ctx context.Context, refundID string) (domain.Refund, error) {
	snap, err := r.refunds.Get(ctx, refundID)
	if err != nil {
		return domain.Refund{}, err
	}
	return snap.Data.toDomain(snap.ID), nil
}

func (r *RefundRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.Refund, error) {
	return findWhere(ctx, r.refunds, "ticketId", ticketID, refundDocument.toDomain)
}

var (
	_ repositories.PaymentRepository = (*PaymentRepository)(nil)
	_ repositories.RefundRepository  = (*RefundRepository)(nil)
)
