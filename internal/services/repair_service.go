package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/repairdesk/api/internal/domain"
	"github.com/repairdesk/api/internal/platform/textutil"
	"github.com/repairdesk/api/internal/repositories"
)

const maxRepairNoteRune = 2000

// RepairServiceDeps bundles the dependencies required by repair execution.
type RepairServiceDeps struct {
	Executions repositories.RepairExecutionRepository
	Inventory  InventoryService
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type repairService struct {
	executions repositories.RepairExecutionRepository
	inventory  InventoryService
	clock      func() time.Time
	logger     func(context.Context, string, map[string]any)
}

// NewRepairService constructs the repair execution component.
func NewRepairService(deps RepairServiceDeps) (RepairService, error) {
	if deps.Executions == nil {
		return nil, errors.New("repair service: execution repository is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("repair service: inventory service is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &repairService{
		executions: deps.Executions,
		inventory:  deps.Inventory,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *repairService) Start(ctx context.Context, ticket Ticket, technicianID *string, actorID string) (RepairExecution, error) {
	if strings.TrimSpace(actorID) == "" {
		return RepairExecution{}, fmt.Errorf("%w: actor id is required", ErrTicketInvalidInput)
	}
	execution, found, err := s.find(ctx, ticket.ID)
	if err != nil {
		return RepairExecution{}, err
	}

	now := s.clock()
	if !found {
		execution = RepairExecution{
			TicketID:  ticket.ID,
			CreatedAt: now,
		}
	}
	if execution.CompletedAt != nil {
		return RepairExecution{}, fmt.Errorf("%w: repair already completed", ErrTicketInvalidTransition)
	}

	tech := ticket.TechnicianID
	if technicianID != nil && strings.TrimSpace(*technicianID) != "" {
		tech = optionalString(strings.TrimSpace(*technicianID))
	}
	execution.TechnicianID = cloneStringPtr(tech)
	if execution.StartedAt == nil {
		execution.StartedAt = valuePtr(now)
	}
	execution.UpdatedAt = now

	if err := s.executions.Save(ctx, execution); err != nil {
		return RepairExecution{}, s.mapRepositoryError(err)
	}
	return execution, nil
}

func (s *repairService) Pause(ctx context.Context, ticketID string) (RepairExecution, error) {
	execution, err := s.mustFind(ctx, ticketID)
	if err != nil {
		return RepairExecution{}, err
	}
	if execution.CompletedAt != nil {
		return RepairExecution{}, fmt.Errorf("%w: repair already completed", ErrTicketInvalidTransition)
	}
	if execution.Paused() {
		return RepairExecution{}, fmt.Errorf("%w: repair already paused", ErrTicketInvalidTransition)
	}
	now := s.clock()
	execution.PausedAt = valuePtr(now)
	execution.UpdatedAt = now
	if err := s.executions.Save(ctx, execution); err != nil {
		return RepairExecution{}, s.mapRepositoryError(err)
	}
	return execution, nil
}

func (s *repairService) Resume(ctx context.Context, ticketID string) (RepairExecution, error) {
	execution, err := s.mustFind(ctx, ticketID)
	if err != nil {
		return RepairExecution{}, err
	}
	if !execution.Paused() {
		return RepairExecution{}, fmt.Errorf("%w: repair is not paused", ErrTicketInvalidTransition)
	}
	now := s.clock()
	execution.ResumedAt = valuePtr(now)
	execution.UpdatedAt = now
	if err := s.executions.Save(ctx, execution); err != nil {
		return RepairExecution{}, s.mapRepositoryError(err)
	}
	return execution, nil
}

func (s *repairService) AddNote(ctx context.Context, ticketID, text, actorID string) (RepairExecution, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return RepairExecution{}, fmt.Errorf("%w: actor id is required", ErrTicketInvalidInput)
	}
	text = textutil.SanitizePlain(text, maxRepairNoteRune)
	if text == "" {
		return RepairExecution{}, fmt.Errorf("%w: note text is required", ErrTicketInvalidInput)
	}
	execution, err := s.mustFind(ctx, ticketID)
	if err != nil {
		return RepairExecution{}, err
	}
	now := s.clock()
	execution.Notes = append(execution.Notes, domain.RepairNote{Text: text, AuthorID: actorID, CreatedAt: now})
	execution.UpdatedAt = now
	if err := s.executions.Save(ctx, execution); err != nil {
		return RepairExecution{}, s.mapRepositoryError(err)
	}
	return execution, nil
}

// Complete converts the approved budget's part lines into consumed parts and decrements stock once.
// When exits referencing the ticket already exist, the stored result is returned and stock is left
// alone.
func (s *repairService) Complete(ctx context.Context, ticket Ticket, budget Budget, actorID string) (RepairCompletion, error) {
	if strings.TrimSpace(actorID) == "" {
		return RepairCompletion{}, fmt.Errorf("%w: actor id is required", ErrTicketInvalidInput)
	}
	if !budget.Approved {
		return RepairCompletion{}, fmt.Errorf("%w: budget is not approved", ErrBudgetMissing)
	}

	prior, done, err := s.PriorCompletion(ctx, ticket.ID)
	if err != nil {
		return RepairCompletion{}, err
	}
	if done {
		prior.Ticket = ticket
		s.logger(ctx, "repair.complete.replayed", map[string]any{
			"ticketId":  ticket.ID,
			"movements": len(prior.StockMovements),
		})
		return prior, nil
	}

	execution, found, err := s.find(ctx, ticket.ID)
	if err != nil {
		return RepairCompletion{}, err
	}
	now := s.clock()
	if !found {
		execution = RepairExecution{TicketID: ticket.ID, StartedAt: valuePtr(now), CreatedAt: now}
	}

	parts := consumedPartsFromLines(budget.Lines)
	var movements []StockMovement
	if len(parts) > 0 {
		lines := make([]MovementLine, 0, len(parts))
		for _, part := range parts {
			lines = append(lines, MovementLine{ProductID: part.ProductID, Quantity: part.Quantity})
		}
		movements, err = s.inventory.ApplyMovements(ctx, StockMovementCommand{
			Type:      domain.StockMovementExit,
			Reason:    domain.StockReasonConsumption,
			Reference: TicketReference(ticket.ID),
			Lines:     lines,
			ActorID:   actorID,
		})
		if err != nil {
			return RepairCompletion{}, err
		}
	}

	execution.ConsumedParts = parts
	execution.CompletedAt = valuePtr(now)
	execution.UpdatedAt = now
	if err := s.executions.Save(ctx, execution); err != nil {
		return RepairCompletion{}, s.mapRepositoryError(err)
	}

	return RepairCompletion{
		Ticket:         ticket,
		ConsumedParts:  parts,
		StockMovements: movements,
	}, nil
}

// PriorCompletion loads a previously committed completion. The boolean is false when the repair
// was never completed.
func (s *repairService) PriorCompletion(ctx context.Context, ticketID string) (RepairCompletion, bool, error) {
	ticketID = strings.TrimSpace(ticketID)
	if ticketID == "" {
		return RepairCompletion{}, false, fmt.Errorf("%w: ticket id is required", ErrTicketInvalidInput)
	}

	all, err := s.inventory.MovementsByReference(ctx, TicketReference(ticketID))
	if err != nil {
		return RepairCompletion{}, false, err
	}
	movements := make([]StockMovement, 0, len(all))
	for _, movement := range all {
		if movement.Type == domain.StockMovementExit && movement.Reason == domain.StockReasonConsumption {
			movements = append(movements, movement)
		}
	}

	execution, found, err := s.find(ctx, ticketID)
	if err != nil {
		return RepairCompletion{}, false, err
	}
	completed := found && execution.CompletedAt != nil
	if !completed && len(movements) == 0 {
		return RepairCompletion{}, false, nil
	}

	parts := execution.ConsumedParts
	if len(parts) == 0 && len(movements) > 0 {
		parts = partsFromMovements(movements)
	}
	return RepairCompletion{
		ConsumedParts:  parts,
		StockMovements: movements,
		Replayed:       true,
	}, true, nil
}

func partsFromMovements(movements []StockMovement) []ConsumedPart {
	index := make(map[string]int, len(movements))
	parts := make([]ConsumedPart, 0, len(movements))
	for _, movement := range movements {
		if i, ok := index[movement.ProductID]; ok {
			parts[i].Quantity += movement.Quantity
			continue
		}
		index[movement.ProductID] = len(parts)
		parts = append(parts, ConsumedPart{ProductID: movement.ProductID, Quantity: movement.Quantity})
	}
	return parts
}

func (s *repairService) find(ctx context.Context, ticketID string) (RepairExecution, bool, error) {
	execution, err := s.executions.FindByTicket(ctx, ticketID)
	if err != nil {
		if isRepoNotFound(err) {
			return RepairExecution{}, false, nil
		}
		return RepairExecution{}, false, s.mapRepositoryError(err)
	}
	return execution, true, nil
}

func (s *repairService) mustFind(ctx context.Context, ticketID string) (RepairExecution, error) {
	execution, found, err := s.find(ctx, strings.TrimSpace(ticketID))
	if err != nil {
		return RepairExecution{}, err
	}
	if !found || execution.StartedAt == nil {
		return RepairExecution{}, fmt.Errorf("%w: repair has not started", ErrTicketInvalidTransition)
	}
	return execution, nil
}

func (s *repairService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: repair execution: %v", ErrTicketNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrTicketConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("repair: repository unavailable: %w", err)
		}
	}
	return err
}
