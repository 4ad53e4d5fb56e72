package memory

import (
	"context"

	domain "github.com/repairdesk/api/internal/domain"
)

type paymentRepository struct{ s *Store }

func (r paymentRepository) Insert(ctx context.Context, payment domain.Payment) error {
	return r.s.with(ctx, func(data *state) error {
		if _, exists := data.payments[payment.ID]; exists {
			return conflict("payments.insert", "payment %s already exists", payment.ID)
		}
		data.payments[payment.ID] = payment
		return nil
	})
}

func (r paymentRepository) Update(ctx context.Context, payment domain.Payment) error {
	return r.s.with(ctx, func(data *state) error {
		existing, ok := data.payments[payment.ID]
		if !ok || existing.TicketID != payment.TicketID {
			return notFound("payments.update", "payment %s not found", payment.ID)
		}
		data.payments[payment.ID] = payment
		return nil
	})
}

func (r paymentRepository) Delete(ctx context.Context, ticketID, paymentID string) error {
	return r.s.with(ctx, func(data *state) error {
		existing, ok := data.payments[paymentID]
		if !ok || existing.TicketID != ticketID {
			return notFound("payments.delete", "payment %s not found", paymentID)
		}
		delete(data.payments, paymentID)
		return nil
	})
}

func (r paymentRepository) FindByID(ctx context.Context, ticketID, paymentID string) (domain.Payment, error) {
	var out domain.Payment
	err := r.s.with(ctx, func(data *state) error {
		payment, ok := data.payments[paymentID]
		if !ok || payment.TicketID != ticketID {
			return notFound("payments.get", "payment %s not found", paymentID)
		}
		out = payment
		return nil
	})
	return out, err
}

func (r paymentRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.Payment, error) {
	var out []domain.Payment
	err := r.s.with(ctx, func(data *state) error {
		out = sortedValues(data.payments, func(p domain.Payment) bool { return p.TicketID == ticketID })
		return nil
	})
	return out, err
}

type refundRepository struct{ s *Store }

func (r refundRepository) Insert(ctx context.Context, refund domain.Refund) error {
	return r.s.with(ctx, func(data *state) error {
		if _, exists := data.refunds[refund.ID]; exists {
			return conflict("refunds.insert", "refund %s already exists", refund.ID)
		}
		data.refunds[refund.ID] = refund
		return nil
	})
}

func (r refundRepository) Update(ctx context.Context, refund domain.Refund) error {
	return r.s.with(ctx, func(data *state) error {
		if _, exists := data.refunds[refund.ID]; !exists {
			return notFound("refunds.update", "refund %s not found", refund.ID)
		}
		data.refunds[refund.ID] = refund
		return nil
	})
}

func (r refundRepository) FindByID(ctx context.Context, refundID string) (domain.Refund, error) {
	var out domain.Refund
	err := r.s.with(ctx, func(data *state) error {
		refund, ok := data.refunds[refundID]
		if !ok {
			return notFound("refunds.get", "refund %s not found", refundID)
		}
		out = refund
		return nil
	})
	return out, err
}

func (r refundRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.Refund, error) {
	var out []domain.Refund
	err := r.s.with(ctx, func(data *state) error {
		out = sortedValues(data.refunds, func(rf domain.Refund) bool { return rf.TicketID == ticketID })
		return nil
	})
	return out, err
}
