package handlers

import (
	"time"

	domain "github.com/repairdesk/api/internal/domain"
	"github.com/repairdesk/api/internal/services"
)

type ticketPayload struct {
	ID                string     `json:"id"`
	Number            string     `json:"number"`
	CustomerRef       string     `json:"customerRef"`
	DeviceRef         string     `json:"deviceRef"`
	LocationID        string     `json:"locationId,omitempty"`
	Status            string     `json:"status"`
	TechnicianID      *string    `json:"technicianId,omitempty"`
	CancelReason      *string    `json:"cancelReason,omitempty"`
	CancelledAt       *time.Time `json:"cancelledAt,omitempty"`
	RepairCompletedAt *time.Time `json:"repairCompletedAt,omitempty"`
	DeliveredAt       *time.Time `json:"deliveredAt,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

type budgetLinePayload struct {
	Position    int     `json:"position"`
	Kind        string  `json:"kind"`
	ProductID   *string `json:"productId,omitempty"`
	Description string  `json:"description"`
	Quantity    int64   `json:"quantity"`
	UnitPrice   int64   `json:"unitPrice"`
	LineTotal   int64   `json:"lineTotal"`
}

type budgetPayload struct {
	TicketID    string              `json:"ticketId"`
	Lines       []budgetLinePayload `json:"lines"`
	Subtotal    int64               `json:"subtotal"`
	TaxRateBps  int64               `json:"taxRateBps"`
	Tax         int64               `json:"tax"`
	Discount    int64               `json:"discount"`
	TotalFinal  int64               `json:"totalFinal"`
	TotalPaid   int64               `json:"totalPaid"`
	Outstanding int64               `json:"outstanding"`
	Approved    bool                `json:"approved"`
	Paid        bool                `json:"paid"`
	ApprovedAt  *time.Time          `json:"approvedAt,omitempty"`
	UpdatedAt   time.Time           `json:"updatedAt"`
}

type paymentPayload struct {
	ID         string    `json:"id"`
	TicketID   string    `json:"ticketId"`
	Amount     int64     `json:"amount"`
	Method     string    `json:"method"`
	Reference  *string   `json:"reference,omitempty"`
	RecordedBy string    `json:"recordedBy"`
	PaidAt     time.Time `json:"paidAt"`
}

type refundPayload struct {
	ID         string     `json:"id"`
	TicketID   string     `json:"ticketId"`
	PaymentID  string     `json:"paymentId"`
	Amount     int64      `json:"amount"`
	Reason     string     `json:"reason"`
	Status     string     `json:"status"`
	HandledBy  string     `json:"handledBy,omitempty"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

type consumedPartPayload struct {
	ProductID string `json:"productId"`
	Quantity  int64  `json:"quantity"`
	UnitPrice int64  `json:"unitPrice"`
	LineTotal int64  `json:"lineTotal"`
}

type repairNotePayload struct {
	Text      string    `json:"text"`
	AuthorID  string    `json:"authorId"`
	CreatedAt time.Time `json:"createdAt"`
}

type executionPayload struct {
	TechnicianID  *string               `json:"technicianId,omitempty"`
	Paused        bool                  `json:"paused"`
	Notes         []repairNotePayload   `json:"notes"`
	StartedAt     *time.Time            `json:"startedAt,omitempty"`
	PausedAt      *time.Time            `json:"pausedAt,omitempty"`
	ResumedAt     *time.Time            `json:"resumedAt,omitempty"`
	CompletedAt   *time.Time            `json:"completedAt,omitempty"`
	ConsumedParts []consumedPartPayload `json:"consumedParts"`
}

type productPayload struct {
	ID       string `json:"id"`
	SKU      string `json:"sku"`
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Stock    int64  `json:"stock"`
	MinStock int64  `json:"minStock"`
	MaxStock int64  `json:"maxStock"`
}

type movementPayload struct {
	ID         string    `json:"id"`
	ProductID  string    `json:"productId"`
	Type       string    `json:"type"`
	Reason     string    `json:"reason"`
	Quantity   int64     `json:"quantity"`
	Reference  *string   `json:"reference,omitempty"`
	StockAfter int64     `json:"stockAfter"`
	ActorID    string    `json:"actorId"`
	CreatedAt  time.Time `json:"createdAt"`
}

type couponPayload struct {
	ID            string     `json:"id"`
	Code          string     `json:"code"`
	Description   string     `json:"description,omitempty"`
	DiscountType  string     `json:"discountType"`
	Value         int64      `json:"value"`
	MinimumAmount int64      `json:"minimumAmount"`
	Active        bool       `json:"active"`
	StartsAt      *time.Time `json:"startsAt,omitempty"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	UsageLimit    *int64     `json:"usageLimit,omitempty"`
	UsageCount    int64      `json:"usageCount"`
}

type couponUsagePayload struct {
	TicketID       string    `json:"ticketId"`
	DiscountAmount int64     `json:"discountAmount"`
	AppliedBy      string    `json:"appliedBy"`
	AppliedAt      time.Time `json:"appliedAt"`
}

type auditEntryPayload struct {
	ID        string         `json:"id"`
	Actor     string         `json:"actor"`
	Action    string         `json:"action"`
	Severity  string         `json:"severity,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

type listResponse[T any] struct {
	Items         []T    `json:"items"`
	NextPageToken string `json:"nextPageToken,omitempty"`
}

func newListResponse[S, T any](page domain.CursorPage[S], build func(S) T) listResponse[T] {
	items := make([]T, 0, len(page.Items))
	for _, item := range page.Items {
		items = append(items, build(item))
	}
	return listResponse[T]{Items: items, NextPageToken: page.NextPageToken}
}

func mapSlice[S, T any](values []S, build func(S) T) []T {
	out := make([]T, 0, len(values))
	for _, v := range values {
		out = append(out, build(v))
	}
	return out
}

func buildTicketPayload(t services.Ticket) ticketPayload {
	return ticketPayload{
		ID:                t.ID,
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
		CreatedAt:         t.CreatedAt,
		UpdatedAt:         t.UpdatedAt,
	}
}

func buildBudgetPayload(b services.Budget) budgetPayload {
	return budgetPayload{
		TicketID: b.TicketID,
		Lines: mapSlice(b.Lines, func(l services.BudgetLine) budgetLinePayload {
			return budgetLinePayload{
				Position:    l.Position,
				Kind:        string(l.Kind),
				ProductID:   l.ProductID,
				Description: l.Description,
				Quantity:    l.Quantity,
				UnitPrice:   l.UnitPrice,
				LineTotal:   l.LineTotal,
			}
		}),
		Subtotal:    b.Subtotal,
		TaxRateBps:  b.TaxRateBps,
		Tax:         b.Tax,
		Discount:    b.Discount,
		TotalFinal:  b.TotalFinal,
		TotalPaid:   b.TotalPaid,
		Outstanding: b.Outstanding(),
		Approved:    b.Approved,
		Paid:        b.Paid,
		ApprovedAt:  b.ApprovedAt,
		UpdatedAt:   b.UpdatedAt,
	}
}

func buildPaymentPayload(p services.Payment) paymentPayload {
	return paymentPayload{
		ID:         p.ID,
		TicketID:   p.TicketID,
		Amount:     p.Amount,
		Method:     string(p.Method),
		Reference:  p.Reference,
		RecordedBy: p.RecordedBy,
		PaidAt:     p.PaidAt,
	}
}

func buildRefundPayload(r services.Refund) refundPayload {
	return refundPayload{
		ID:         r.ID,
		TicketID:   r.TicketID,
		PaymentID:  r.PaymentID,
		Amount:     r.Amount,
		Reason:     r.Reason,
		Status:     string(r.Status),
		HandledBy:  r.HandledBy,
		ResolvedAt: r.ResolvedAt,
		CreatedAt:  r.CreatedAt,
	}
}

func buildConsumedPartPayload(p services.ConsumedPart) consumedPartPayload {
	return consumedPartPayload{
		ProductID: p.ProductID,
		Quantity:  p.Quantity,
		UnitPrice: p.UnitPrice,
		LineTotal: p.LineTotal,
	}
}

func buildExecutionPayload(e services.RepairExecution) executionPayload {
	return executionPayload{
		TechnicianID: e.TechnicianID,
		Paused:       e.Paused(),
		Notes: mapSlice(e.Notes, func(n domain.RepairNote) repairNotePayload {
			return repairNotePayload{Text: n.Text, AuthorID: n.AuthorID, CreatedAt: n.CreatedAt}
		}),
		StartedAt:     e.StartedAt,
		PausedAt:      e.PausedAt,
		ResumedAt:     e.ResumedAt,
		CompletedAt:   e.CompletedAt,
		ConsumedParts: mapSlice(e.ConsumedParts, buildConsumedPartPayload),
	}
}

func buildProductPayload(p services.Product) productPayload {
	return productPayload{
		ID:       p.ID,
		SKU:      p.SKU,
		Name:     p.Name,
		Price:    p.Price,
		Stock:    p.Stock,
		MinStock: p.MinStock,
		MaxStock: p.MaxStock,
	}
}

func buildMovementPayload(m services.StockMovement) movementPayload {
	return movementPayload{
		ID:         m.ID,
		ProductID:  m.ProductID,
		Type:       string(m.Type),
		Reason:     string(m.Reason),
		Quantity:   m.Quantity,
		Reference:  m.Reference,
		StockAfter: m.StockAfter,
		ActorID:    m.ActorID,
		CreatedAt:  m.CreatedAt,
	}
}

func buildCouponPayload(c services.Coupon) couponPayload {
	return couponPayload{
		ID:            c.ID,
		Code:          c.Code,
		Description:   c.Description,
		DiscountType:  string(c.DiscountType),
		Value:         c.Value,
		MinimumAmount: c.MinimumAmount,
		Active:        c.Active,
		StartsAt:      c.StartsAt,
		ExpiresAt:     c.ExpiresAt,
		UsageLimit:    c.UsageLimit,
		UsageCount:    c.UsageCount,
	}
}

func buildCouponUsagePayload(u services.CouponUsage) couponUsagePayload {
	return couponUsagePayload{
		TicketID:       u.TicketID,
		DiscountAmount: u.DiscountAmount,
		AppliedBy:      u.AppliedBy,
		AppliedAt:      u.AppliedAt,
	}
}

func buildAuditEntryPayload(e services.AuditLogEntry) auditEntryPayload {
	return auditEntryPayload{
		ID:        e.ID,
		Actor:     e.Actor,
		Action:    e.Action,
		Severity:  e.Severity,
		Metadata:  e.Metadata,
		CreatedAt: e.CreatedAt,
	}
}
