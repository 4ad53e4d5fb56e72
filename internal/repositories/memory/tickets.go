package memory

import (
	"context"
	"slices"
	"strings"

	domain "github.com/repairdesk/api/internal/domain"
	"github.com/repairdesk/api/internal/repositories"
)

type ticketRepository struct{ s *Store }

func (r ticketRepository) Insert(ctx context.Context, ticket domain.Ticket) error {
	return r.s.with(ctx, func(data *state) error {
		if _, exists := data.tickets[ticket.ID]; exists {
			return conflict("tickets.insert", "ticket %s already exists", ticket.ID)
		}
		data.tickets[ticket.ID] = ticket
		return nil
	})
}

func (r ticketRepository) Update(ctx context.Context, ticket domain.Ticket) error {
	return r.s.with(ctx, func(data *state) error {
		if _, exists := data.tickets[ticket.ID]; !exists {
			return notFound("tickets.update", "ticket %s not found", ticket.ID)
		}
		data.tickets[ticket.ID] = ticket
		return nil
	})
}

func (r ticketRepository) FindByID(ctx context.Context, ticketID string) (domain.Ticket, error) {
	var out domain.Ticket
	err := r.s.with(ctx, func(data *state) error {
		ticket, ok := data.tickets[ticketID]
		if !ok {
			return notFound("tickets.get", "ticket %s not found", ticketID)
		}
		out = ticket
		return nil
	})
	return out, err
}

func (r ticketRepository) List(ctx context.Context, filter repositories.TicketListFilter) (domain.CursorPage[domain.Ticket], error) {
	var page domain.CursorPage[domain.Ticket]
	err := r.s.with(ctx, func(data *state) error {
		location := strings.TrimSpace(filter.LocationID)
		items := sortedValues(data.tickets, func(t domain.Ticket) bool {
			if len(filter.Status) > 0 && !slices.Contains(filter.Status, t.Status) {
				return false
			}
			return location == "" || t.LocationID == location
		})
		var err error
		page, err = paginate(items, func(t domain.Ticket) string { return t.ID }, filter.Pagination)
		return err
	})
	return page, err
}

type budgetRepository struct{ s *Store }

func (r budgetRepository) Save(ctx context.Context, budget domain.Budget) error {
	return r.s.with(ctx, func(data *state) error {
		budget.Lines = slices.Clone(budget.Lines)
		data.budgets[budget.TicketID] = budget
		return nil
	})
}

func (r budgetRepository) FindByTicket(ctx context.Context, ticketID string) (domain.Budget, error) {
	var out domain.Budget
	err := r.s.with(ctx, func(data *state) error {
		budget, ok := data.budgets[ticketID]
		if !ok {
			return notFound("budgets.get", "budget for ticket %s not found", ticketID)
		}
		budget.Lines = slices.Clone(budget.Lines)
		out = budget
		return nil
	})
	return out, err
}

type executionRepository struct{ s *Store }

func (r executionRepository) Save(ctx context.Context, execution domain.RepairExecution) error {
	return r.s.with(ctx, func(data *state) error {
		execution.Notes = slices.Clone(execution.Notes)
		execution.ConsumedParts = slices.Clone(execution.ConsumedParts)
		data.executions[execution.TicketID] = execution
		return nil
	})
}

func (r executionRepository) FindByTicket(ctx context.Context, ticketID string) (domain.RepairExecution, error) {
	var out domain.RepairExecution
	err := r.s.with(ctx, func(data *state) error {
		execution, ok := data.executions[ticketID]
		if !ok {
			return notFound("repair_executions.get", "repair execution for ticket %s not found", ticketID)
		}
		execution.Notes = slices.Clone(execution.Notes)
		execution.ConsumedParts = slices.Clone(execution.ConsumedParts)
		out = execution
		return nil
	})
	return out, err
}
