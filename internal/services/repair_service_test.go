package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/repairdesk/api/internal/domain"
	"github.com/repairdesk/api/internal/repositories/memory"
)

func newTestRepairService(t *testing.T, store *memory.Store) (RepairService, InventoryService) {
	t.Helper()
	inventory := newTestInventory(t, store, nil)
	svc, err := NewRepairService(RepairServiceDeps{
		Executions: store.RepairExecutions(),
		Inventory:  inventory,
		Clock:      func() time.Time { return time.Date(2025, 5, 2, 15, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("new repair service: %v", err)
	}
	return svc, inventory
}

func approvedBudget(ticketID string, lines ...BudgetLine) Budget {
	return Budget{TicketID: ticketID, Lines: lines, Approved: true}
}

func partLine(productID string, qty, price int64) BudgetLine {
	return BudgetLine{Kind: domain.BudgetLineKindPart, ProductID: valuePtr(productID), Quantity: qty, UnitPrice: price, LineTotal: qty * price}
}

func TestRepairServiceCompleteDeductsOnce(t *testing.T) {
	store := memory.NewStore()
	seedProducts(t, store, domain.Product{ID: "p-screen", Price: 30000, Stock: 5})
	svc, inventory := newTestRepairService(t, store)

	ticket := Ticket{ID: "tkt_1", Status: domain.RepairStatusInRepair}
	budget := approvedBudget("tkt_1",
		partLine("p-screen", 2, 30000),
		BudgetLine{Kind: domain.BudgetLineKindExtra, Description: "Labor", Quantity: 1, UnitPrice: 20000, LineTotal: 20000},
	)

	if _, err := svc.Start(context.Background(), ticket, valuePtr("tech-1"), "staff-1"); err != nil {
		t.Fatalf("start: %v", err)
	}

	first, err := svc.Complete(context.Background(), ticket, budget, "tech-1")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if first.Replayed {
		t.Fatalf("first completion must not be a replay")
	}
	if len(first.ConsumedParts) != 1 || first.ConsumedParts[0].Quantity != 2 {
		t.Fatalf("unexpected consumed parts: %+v", first.ConsumedParts)
	}
	if len(first.StockMovements) != 1 || first.StockMovements[0].StockAfter != 3 {
		t.Fatalf("unexpected movements: %+v", first.StockMovements)
	}
	if ref := first.StockMovements[0].Reference; ref == nil || *ref != "Ticket-tkt_1" {
		t.Fatalf("expected Ticket-tkt_1 reference, got %v", ref)
	}

	second, err := svc.Complete(context.Background(), ticket, budget, "tech-1")
	if err != nil {
		t.Fatalf("complete retry: %v", err)
	}
	if !second.Replayed || len(second.StockMovements) != 1 || second.StockMovements[0].ID != first.StockMovements[0].ID {
		t.Fatalf("expected replay of the first completion, got %+v", second)
	}

	product, err := inventory.GetProduct(context.Background(), "p-screen")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.Stock != 3 {
		t.Fatalf("expected stock deducted once to 3, got %d", product.Stock)
	}
}

func TestRepairServiceCompleteWithoutPartsLeavesStock(t *testing.T) {
	store := memory.NewStore()
	seedProducts(t, store, domain.Product{ID: "p-screen", Stock: 5})
	svc, _ := newTestRepairService(t, store)

	ticket := Ticket{ID: "tkt_labor", Status: domain.RepairStatusInRepair}
	budget := approvedBudget("tkt_labor", BudgetLine{Kind: domain.BudgetLineKindExtra, Description: "Cleaning", Quantity: 1, UnitPrice: 1000, LineTotal: 1000})

	result, err := svc.Complete(context.Background(), ticket, budget, "tech-1")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if len(result.StockMovements) != 0 || len(result.ConsumedParts) != 0 {
		t.Fatalf("expected no stock effect, got %+v", result)
	}

	_, found, err := svc.PriorCompletion(context.Background(), "tkt_labor")
	if err != nil {
		t.Fatalf("prior completion: %v", err)
	}
	if !found {
		t.Fatalf("expected completion recorded on the execution")
	}
}

func TestRepairServicePauseResumeAndNotes(t *testing.T) {
	store := memory.NewStore()
	svc, _ := newTestRepairService(t, store)
	ticket := Ticket{ID: "tkt_1", TechnicianID: valuePtr("tech-9")}

	if _, err := svc.Pause(context.Background(), "tkt_1"); !errors.Is(err, ErrTicketInvalidTransition) {
		t.Fatalf("expected pause before start to fail, got %v", err)
	}

	execution, err := svc.Start(context.Background(), ticket, nil, "staff-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if execution.TechnicianID == nil || *execution.TechnicianID != "tech-9" {
		t.Fatalf("expected technician from ticket, got %v", execution.TechnicianID)
	}

	execution, err = svc.Pause(context.Background(), "tkt_1")
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if !execution.Paused() {
		t.Fatalf("expected paused execution")
	}
	if _, err := svc.Pause(context.Background(), "tkt_1"); !errors.Is(err, ErrTicketInvalidTransition) {
		t.Fatalf("expected double pause to fail, got %v", err)
	}

	execution, err = svc.Resume(context.Background(), "tkt_1")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if execution.Paused() {
		t.Fatalf("expected running execution after resume")
	}

	execution, err = svc.AddNote(context.Background(), "tkt_1", "  Replaced <i>flex</i> cable ", "tech-9")
	if err != nil {
		t.Fatalf("add note: %v", err)
	}
	if len(execution.Notes) != 1 || execution.Notes[0].Text != "Replaced flex cable" {
		t.Fatalf("unexpected notes: %+v", execution.Notes)
	}
	if _, err := svc.AddNote(context.Background(), "tkt_1", "   ", "tech-9"); !errors.Is(err, ErrTicketInvalidInput) {
		t.Fatalf("expected empty note to fail, got %v", err)
	}
}

func TestRepairServiceCompleteRequiresApprovedBudget(t *testing.T) {
	store := memory.NewStore()
	svc, _ := newTestRepairService(t, store)

	_, err := svc.Complete(context.Background(), Ticket{ID: "tkt_1"}, Budget{TicketID: "tkt_1"}, "tech-1")
	if !errors.Is(err, ErrBudgetMissing) {
		t.Fatalf("expected budget missing, got %v", err)
	}
}
