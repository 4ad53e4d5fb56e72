package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/repairdesk/api/internal/domain"
	"github.com/repairdesk/api/internal/repositories"
)

func TestStoreRunInTxRollsBackOnError(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.RunInTx(ctx, func(txCtx context.Context) error {
		if err := store.Tickets().Insert(txCtx, domain.Ticket{ID: "tkt_1", Status: domain.RepairStatusReceived}); err != nil {
			return err
		}
		if _, err := store.Counters().Next(txCtx, "tickets:2024", 1); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	if _, err := store.Tickets().FindByID(ctx, "tkt_1"); !isNotFound(err) {
		t.Fatalf("expected ticket insert to be rolled back, got %v", err)
	}
	next, err := store.Counters().Next(ctx, "tickets:2024", 1)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if next != 1 {
		t.Fatalf("expected counter rollback, got %d", next)
	}
}

func TestStoreRunInTxJoinsOuterTransaction(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	err := store.RunInTx(ctx, func(txCtx context.Context) error {
		inner := store.RunInTx(txCtx, func(innerCtx context.Context) error {
			return store.Tickets().Insert(innerCtx, domain.Ticket{ID: "tkt_1"})
		})
		if inner != nil {
			return inner
		}
		return errors.New("abort outer")
	})
	if err == nil {
		t.Fatalf("expected outer error")
	}
	if _, err := store.Tickets().FindByID(ctx, "tkt_1"); !isNotFound(err) {
		t.Fatalf("expected nested write to roll back with the outer transaction, got %v", err)
	}
}

func TestInventoryApplyMovementsIsAllOrNothing(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	seedProduct(t, store, domain.Product{ID: "p-screen", Stock: 5})
	seedProduct(t, store, domain.Product{ID: "p-battery", Stock: 1})

	ref := "Ticket-tkt_1"
	_, err := store.Inventory().ApplyMovements(ctx, repositories.InventoryMovementRequest{
		Movements: []domain.StockMovement{
			{ID: "mov_1", ProductID: "p-screen", Type: domain.StockMovementExit, Quantity: 2, Reference: &ref},
			{ID: "mov_2", ProductID: "p-battery", Type: domain.StockMovementExit, Quantity: 3, Reference: &ref},
		},
	})
	var invErr *repositories.InventoryError
	if !errors.As(err, &invErr) || invErr.Code != repositories.InventoryErrorInsufficientStock {
		t.Fatalf("expected insufficient stock error, got %v", err)
	}
	if invErr.ProductID != "p-battery" || invErr.Needed != 3 || invErr.Available != 1 {
		t.Fatalf("unexpected shortfall details: %+v", invErr)
	}

	screen, err := store.Inventory().FindProduct(ctx, "p-screen")
	if err != nil {
		t.Fatalf("FindProduct: %v", err)
	}
	if screen.Stock != 5 {
		t.Fatalf("expected screen stock untouched, got %d", screen.Stock)
	}
	movements, err := store.Inventory().MovementsByReference(ctx, ref)
	if err != nil {
		t.Fatalf("MovementsByReference: %v", err)
	}
	if len(movements) != 0 {
		t.Fatalf("expected no movements, got %d", len(movements))
	}
}

func TestInventoryApplyMovementsFillsStockAfter(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	seedProduct(t, store, domain.Product{ID: "p-screen", Stock: 5})
	now := time.Date(2024, time.May, 2, 9, 0, 0, 0, time.UTC)

	result, err := store.Inventory().ApplyMovements(ctx, repositories.InventoryMovementRequest{
		Now: now,
		Movements: []domain.StockMovement{
			{ID: "mov_1", ProductID: "p-screen", Type: domain.StockMovementExit, Quantity: 2},
			{ID: "mov_2", ProductID: "p-screen", Type: domain.StockMovementEntry, Quantity: 4},
		},
	})
	if err != nil {
		t.Fatalf("ApplyMovements: %v", err)
	}
	if got := result.Movements[0].StockAfter; got != 3 {
		t.Fatalf("expected stock after exit 3, got %d", got)
	}
	if got := result.Movements[1].StockAfter; got != 7 {
		t.Fatalf("expected stock after entry 7, got %d", got)
	}
	if product := result.Products["p-screen"]; product.Stock != 7 || !product.UpdatedAt.Equal(now) {
		t.Fatalf("unexpected product row: %+v", product)
	}
}

func TestCouponUsageInsertRejectsDuplicates(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	usage := domain.CouponUsage{CouponID: "cpn_1", TicketID: "tkt_1", DiscountAmount: 58}

	if err := store.CouponUsages().Insert(ctx, usage); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	err := store.CouponUsages().Insert(ctx, usage)
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected conflict, got %v", err)
	}

	stored, err := store.CouponUsages().Find(ctx, "cpn_1", "tkt_1")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if stored.ID != "cpn_1_tkt_1" {
		t.Fatalf("expected deterministic usage id, got %s", stored.ID)
	}
}

func TestTicketListPaginates(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	for _, id := range []string{"tkt_a", "tkt_b", "tkt_c"} {
		if err := store.Tickets().Insert(ctx, domain.Ticket{ID: id, Status: domain.RepairStatusReceived}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	first, err := store.Tickets().List(ctx, repositories.TicketListFilter{Pagination: domain.Pagination{PageSize: 2}})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(first.Items) != 2 || first.NextPageToken == "" {
		t.Fatalf("unexpected first page: %+v", first)
	}

	second, err := store.Tickets().List(ctx, repositories.TicketListFilter{Pagination: domain.Pagination{PageSize: 2, PageToken: first.NextPageToken}})
	if err != nil {
		t.Fatalf("List page 2: %v", err)
	}
	if len(second.Items) != 1 || second.Items[0].ID != "tkt_c" || second.NextPageToken != "" {
		t.Fatalf("unexpected second page: %+v", second)
	}
}

func seedProduct(t *testing.T, store *Store, product domain.Product) {
	t.Helper()
	if err := store.Inventory().UpsertProduct(context.Background(), product); err != nil {
		t.Fatalf("UpsertProduct: %v", err)
	}
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
