package firestore

import (
	"context"
	"strings"
	"time"

	domain "github.com/repairdesk/api/internal/domain"
	pfirestore "github.com/repairdesk/api/internal/platform/firestore"
	"github.com/repairdesk/api/internal/repositories"
)

const ticketsCollection = "tickets"

type ticketDocument struct {
	Number            string     `firestore:"number"`
	CustomerRef       string     `firestore:"customerRef"`
	DeviceRef         string     `firestore:"deviceRef"`
	LocationID        string     `firestore:"locationId,omitempty"`
	Status            string     `firestore:"status"`
	TechnicianID      *string    `firestore:"technicianId,omitempty"`
	CancelReason      *string    `firestore:"cancelReason,omitempty"`
	CancelledAt       *time.Time `firestore:"cancelledAt,omitempty"`
	RepairCompletedAt *time.Time `firestore:"repairCompletedAt,omitempty"`
	DeliveredAt       *time.Time `firestore:"deliveredAt,omitempty"`
	CreatedBy         *string    `firestore:"createdBy,omitempty"`
	UpdatedBy         *string    `firestore:"updatedBy,omitempty"`
	CreatedAt         time.Time  `firestore:"createdAt"`
	UpdatedAt         time.Time  `firestore:"updatedAt"`
}

func newTicketDocument(t domain.Ticket) ticketDocument {
	return ticketDocument{
		Number:            t.Number,
		CustomerRef:       t.CustomerRef,
		DeviceRef:         t.DeviceRef,
		LocationID:        t.LocationID,
		Status:            string(t.Status),
		TechnicianID:      t.TechnicianID,
		CancelReason:      t.CancelReason,
		CancelledAt:       t.CancelledAt,
		RepairCompletedAt: t.RepairCompletedAt,
		DeliveredAt:       t.DeliveredAt,
		CreatedBy:         t.Audit.CreatedBy,
		UpdatedBy:         t.Audit.UpdatedBy,
		CreatedAt:         t.CreatedAt.UTC(),
		UpdatedAt:         t.UpdatedAt.UTC(),
	}
}

func (d ticketDocument) toDomain(id string) domain.Ticket {
	return domain.Ticket{
		ID:                id,
		Number:            d.Number,
		CustomerRef:       d.CustomerRef,
		DeviceRef:         d.DeviceRef,
		LocationID:        d.LocationID,
		Status:            domain.RepairStatus(d.Status),
		TechnicianID:      d.TechnicianID,
		CancelReason:      d.CancelReason,
		CancelledAt:       d.CancelledAt,
		RepairCompletedAt: d.RepairCompletedAt,
		DeliveredAt:       d.DeliveredAt,
		Audit:             domain.Audit{CreatedBy: d.CreatedBy, UpdatedBy: d.UpdatedBy},
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}
}

// TicketRepository persists tickets in the "tickets" collection.
type TicketRepository struct {
	tickets *pfirestore.Collection[ticketDocument]
}

// NewTicketRepository constructs a Firestore-backed ticket repository.
func NewTicketRepository(provider *pfirestore.Provider) (*TicketRepository, error) {
	if provider == nil {
		return nil, errNotInitialised
	}
	return &TicketRepository{tickets: pfirestore.NewCollection[ticketDocument](provider, ticketsCollection)}, nil
}

func (r *TicketRepository) Insert(ctx context.Context, ticket domain.Ticket) error {
	return r.tickets.Create(ctx, ticket.ID, newTicketDocument(ticket))
}

func (r *TicketRepository) Update(ctx context.Context, ticket domain.Ticket) error {
	return r.tickets.Replace(ctx, ticket.ID, newTicketDocument(ticket))
}

func (r *TicketRepository) FindByID(ctx context.Context, ticketID string) (domain.Ticket, error) {
	snap, err := r.tickets.Get(ctx, ticketID)
	if err != nil {
		return domain.Ticket{}, err
	}
	return snap.Data.toDomain(snap.ID), nil
}

func (r *TicketRepository) List(ctx context.Context, filter repositories.TicketListFilter) (domain.CursorPage[domain.Ticket], error) {
	query, err := r.tickets.Query(ctx)
	if err != nil {
		return domain.CursorPage[domain.Ticket]{}, err
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, 0, len(filter.Status))
		for _, status := range filter.Status {
			statuses = append(statuses, string(status))
		}
		query = query.Where("status", "in", statuses)
	}
	if location := strings.TrimSpace(filter.LocationID); location != "" {
		query = query.Where("locationId", "==", location)
	}
	page, err := queryPage(ctx, query, filter.Pagination, ticketDocument.toDomain)
	if err != nil {
		return domain.CursorPage[domain.Ticket]{}, pfirestore.WrapError("tickets.list", err)
	}
	return page, nil
}

var _ repositories.TicketRepository = (*TicketRepository)(nil)
