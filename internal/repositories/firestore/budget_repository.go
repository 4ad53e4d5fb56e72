package firestore

import (
	"context"
	"time"

	domain "github.com/repairdesk/api/internal/domain"
	pfirestore "github.com/repairdesk/api/internal/platform/firestore"
	"github.com/repairdesk/api/internal/repositories"
)

const (
	budgetsCollection          = "budgets"
	repairExecutionsCollection = "repairExecutions"
)

type budgetDocument struct {
	Lines      []budgetLineDocument `firestore:"lines"`
	Subtotal   int64                `firestore:"subtotal"`
	TaxRateBps int64                `firestore:"taxRateBps"`
	Tax        int64                `firestore:"tax"`
	Discount   int64                `firestore:"discount"`
	TotalFinal int64                `firestore:"totalFinal"`
	TotalPaid  int64                `firestore:"totalPaid"`
	Approved   bool                 `firestore:"approved"`
	Paid       bool                 `firestore:"paid"`
	ApprovedAt *time.Time           `firestore:"approvedAt,omitempty"`
	CreatedBy  *string              `firestore:"createdBy,omitempty"`
	UpdatedBy  *string              `firestore:"updatedBy,omitempty"`
	CreatedAt  time.Time            `firestore:"createdAt"`
	UpdatedAt  time.Time            `firestore:"updatedAt"`
}

type budgetLineDocument struct {
	Position    int     `firestore:"position"`
	Kind        string  `firestore:"kind"`
	ProductID   *string `firestore:"productId,omitempty"`
	Description string  `firestore:"description"`
	Quantity    int64   `firestore:"qty"`
	UnitPrice   int64   `firestore:"unitPrice"`
	LineTotal   int64   `firestore:"lineTotal"`
}

func newBudgetDocument(b domain.Budget) budgetDocument {
	lines := make([]budgetLineDocument, len(b.Lines))
	for i, line := range b.Lines {
		lines[i] = budgetLineDocument{
			Position:    line.Position,
			Kind:        string(line.Kind),
			ProductID:   line.ProductID,
			Description: line.Description,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			LineTotal:   line.LineTotal,
		}
	}
	return budgetDocument{
		Lines:      lines,
		Subtotal:   b.Subtotal,
		TaxRateBps: b.TaxRateBps,
		Tax:        b.Tax,
		Discount:   b.Discount,
		TotalFinal: b.TotalFinal,
		TotalPaid:  b.TotalPaid,
		Approved:   b.Approved,
		Paid:       b.Paid,
		ApprovedAt: b.ApprovedAt,
		CreatedBy:  b.Audit.CreatedBy,
		UpdatedBy:  b.Audit.UpdatedBy,
		CreatedAt:  b.CreatedAt.UTC(),
		UpdatedAt:  b.UpdatedAt.UTC(),
	}
}

func (d budgetDocument) toDomain(ticketID string) domain.Budget {
	lines := make([]domain.BudgetLine, len(d.Lines))
	for i, line := range d.Lines {
		lines[i] = domain.BudgetLine{
			Position:    line.Position,
			Kind:        domain.BudgetLineKind(line.Kind),
			ProductID:   line.ProductID,
			Description: line.Description,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			LineTotal:   line.LineTotal,
		}
	}
	return domain.Budget{
		TicketID:   ticketID,
		Lines:      lines,
		Subtotal:   d.Subtotal,
		TaxRateBps: d.TaxRateBps,
		Tax:        d.Tax,
		Discount:   d.Discount,
		TotalFinal: d.TotalFinal,
		TotalPaid:  d.TotalPaid,
		Approved:   d.Approved,
		Paid:       d.Paid,
		ApprovedAt: d.ApprovedAt,
		Audit:      domain.Audit{CreatedBy: d.CreatedBy, UpdatedBy: d.UpdatedBy},
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
}

// BudgetRepository stores one budget document per ticket, keyed by ticket id. Lines are embedded so
// a regeneration is a single document write.
type BudgetRepository struct {
	budgets *pfirestore.Collection[budgetDocument]
}

// NewBudgetRepository constructs a Firestore-backed budget repository.
func NewBudgetRepository(provider *pfirestore.Provider) (*BudgetRepository, error) {
	if provider == nil {
		return nil, errNotInitialised
	}
	return &BudgetRepository{budgets: pfirestore.NewCollection[budgetDocument](provider, budgetsCollection)}, nil
}

func (r *BudgetRepository) Save(ctx context.Context, budget domain.Budget) error {
	return r.budgets.Set(ctx, budget.TicketID, newBudgetDocument(budget))
}

func (r *BudgetRepository) FindByTicket(ctx context.Context, ticketID string) (domain.Budget, error) {
	snap, err := r.budgets.Get(ctx, ticketID)
	if err != nil {
		return domain.Budget{}, err
	}
	return snap.Data.toDomain(snap.ID), nil
}

type repairExecutionDocument struct {
	TechnicianID  *string                `firestore:"technicianId,omitempty"`
	Notes         []repairNoteDocument   `firestore:"notes"`
	StartedAt     *time.Time             `firestore:"startedAt,omitempty"`
	PausedAt      *time.Time             `firestore:"pausedAt,omitempty"`
	ResumedAt     *time.Time             `firestore:"resumedAt,omitempty"`
	CompletedAt   *time.Time             `firestore:"completedAt,omitempty"`
	ConsumedParts []consumedPartDocument `firestore:"consumedParts"`
	CreatedAt     time.Time              `firestore:"createdAt"`
	UpdatedAt     time.Time              `firestore:"updatedAt"`
}

type repairNoteDocument struct {
	Text      string    `firestore:"text"`
	AuthorID  string    `firestore:"authorId"`
	CreatedAt time.Time `firestore:"createdAt"`
}

type consumedPartDocument struct {
	ProductID string `firestore:"productId"`
	Quantity  int64  `firestore:"qty"`
	UnitPrice int64  `firestore:"unitPrice"`
	LineTotal int64  `firestore:"lineTotal"`
}

func newRepairExecutionDocument(e domain.RepairExecution) repairExecutionDocument {
	notes := make([]repairNoteDocument, len(e.Notes))
	for i, note := range e.Notes {
		notes[i] = repairNoteDocument{Text: note.Text, AuthorID: note.AuthorID, CreatedAt: note.CreatedAt.UTC()}
	}
	parts := make([]consumedPartDocument, len(e.ConsumedParts))
	for i, part := range e.ConsumedParts {
		parts[i] = consumedPartDocument{ProductID: part.ProductID, Quantity: part.Quantity, UnitPrice: part.UnitPrice, LineTotal: part.LineTotal}
	}
	return repairExecutionDocument{
		TechnicianID:  e.TechnicianID,
		Notes:         notes,
		StartedAt:     e.StartedAt,
		PausedAt:      e.PausedAt,
		ResumedAt:     e.ResumedAt,
		CompletedAt:   e.CompletedAt,
		ConsumedParts: parts,
		CreatedAt:     e.CreatedAt.UTC(),
		UpdatedAt:     e.UpdatedAt.UTC(),
	}
}

func (d repairExecutionDocument) toDomain(ticketID string) domain.RepairExecution {
	var notes []domain.RepairNote
	for _, note := range d.Notes {
		notes = append(notes, domain.RepairNote{Text: note.Text, AuthorID: note.AuthorID, CreatedAt: note.CreatedAt})
	}
	var parts []domain.ConsumedPart
	for _, part := range d.ConsumedParts {
		parts = append(parts, domain.ConsumedPart{ProductID: part.ProductID, Quantity: part.Quantity, UnitPrice: part.UnitPrice, LineTotal: part.LineTotal})
	}
	return domain.RepairExecution{
		TicketID:      ticketID,
		TechnicianID:  d.TechnicianID,
		Notes:         notes,
		StartedAt:     d.StartedAt,
		PausedAt:      d.PausedAt,
		ResumedAt:     d.ResumedAt,
		CompletedAt:   d.CompletedAt,
		ConsumedParts: parts,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

// RepairExecutionRepository stores the repair execution of a ticket keyed by ticket id.
type RepairExecutionRepository struct {
	executions *pfirestore.Collection[repairExecutionDocument]
}

// NewRepairExecutionRepository constructs a Firestore-backed repair execution repository.
func NewRepairExecutionRepository(provider *pfirestore.Provider) (*RepairExecutionRepository, error) {
	if provider == nil {
		return nil, errNotInitialised
	}
	return &RepairExecutionRepository{executions: pfirestore.NewCollection[repairExecutionDocument](provider, repairExecutionsCollection)}, nil
}

func (r *RepairExecutionRepository) Save(ctx context.Context, execution domain.RepairExecution) error {
	return r.executions.Set(ctx, execution.TicketID, newRepairExecutionDocument(execution))
}

func (r *RepairExecutionRepository) FindByTicket(ctx context.Context, ticketID string) (domain.RepairExecution, error) {
	snap, err := r.executions.Get(ctx, ticketID)
	if err != nil {
		return domain.RepairExecution{}, err
	}
	return snap.Data.toDomain(snap.ID), nil
}

var (
	_ repositories.BudgetRepository          = (*BudgetRepository)(nil)
	_ repositories.RepairExecutionRepository = (*RepairExecutionRepository)(nil)
)
