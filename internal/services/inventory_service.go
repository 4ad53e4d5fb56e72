package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/repairdesk/api/internal/domain"
	"github.com/repairdesk/api/internal/repositories"
)

const (
	movementIDPrefix        = "mov_"
	maxMovementLines        = 200
	defaultMovementPageSize = 50
	maxMovementPageSize     = 200
)

// InventoryServiceDeps bundles the dependencies required by the inventory ledger.
type InventoryServiceDeps struct {
	Inventory   repositories.InventoryRepository
	Clock       func() time.Time
	IDGenerator func() string
	Metrics     Metrics
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type inventoryService struct {
	repo    repositories.InventoryRepository
	clock   func() time.Time
	newID   func() string
	metrics Metrics
	logger  func(context.Context, string, map[string]any)
}

// NewInventoryService constructs the inventory ledger.
func NewInventoryService(deps InventoryServiceDeps) (InventoryService, error) {
	if deps.Inventory == nil {
		return nil, errors.New("inventory service: inventory repository is required")
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

	return &inventoryService{
		repo: deps.Inventory,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:   idGen,
		metrics: deps.Metrics,
		logger:  logger,
	}, nil
}

// ApplyMovements validates the request and applies every line in one atomic unit. Exits that cannot
// be served abort the whole request with an *InsufficientStockError.
func (s *inventoryService) ApplyMovements(ctx context.Context, cmd StockMovementCommand) ([]StockMovement, error) {
	if cmd.Type != domain.StockMovementEntry && cmd.Type != domain.StockMovementExit {
		return nil, fmt.Errorf("%w: unsupported movement type %q", ErrInventoryInvalidInput, cmd.Type)
	}
	if strings.TrimSpace(string(cmd.Reason)) == "" {
		return nil, fmt.Errorf("%w: movement reason is required", ErrInventoryInvalidInput)
	}
	actor := strings.TrimSpace(cmd.ActorID)
	if actor == "" {
		return nil, fmt.Errorf("%w: actor id is required", ErrInventoryInvalidInput)
	}
	if len(cmd.Lines) == 0 {
		return nil, fmt.Errorf("%w: at least one line is required", ErrInventoryInvalidInput)
	}
	if len(cmd.Lines) > maxMovementLines {
		return nil, fmt.Errorf("%w: too many lines", ErrInventoryInvalidInput)
	}

	now := s.clock()
	reference := optionalString(strings.TrimSpace(cmd.Reference))
	movements := make([]domain.StockMovement, 0, len(cmd.Lines))
	for _, line := range cmd.Lines {
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" {
			return nil, fmt.Errorf("%w: product id is required", ErrInventoryInvalidInput)
		}
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity for %s must be greater than zero", ErrInventoryInvalidInput, productID)
		}
		movements = append(movements, domain.StockMovement{
			ID:        movementIDPrefix + s.newID(),
			ProductID: productID,
			Type:      cmd.Type,
			Reason:    cmd.Reason,
			Quantity:  line.Quantity,
			Reference: cloneStringPtr(reference),
			ActorID:   actor,
			CreatedAt: now,
		})
	}

	result, err := s.repo.ApplyMovements(ctx, repositories.InventoryMovementRequest{
		Movements: movements,
		Now:       now,
	})
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}

	var units int64
	for _, movement := range result.Movements {
		units += movement.Quantity
		if product, ok := result.Products[movement.ProductID]; ok && product.MinStock > 0 && product.Stock <= product.MinStock {
			s.logger(ctx, "inventory.low_stock", map[string]any{
				"productId": product.ID,
				"stock":     product.Stock,
				"minStock":  product.MinStock,
			})
		}
	}
	if s.metrics != nil {
		s.metrics.StockMoved(ctx, cmd.Type, units)
	}

	return result.Movements, nil
}

func (s *inventoryService) RecordEntry(ctx context.Context, cmd StockEntryCommand) (StockMovement, error) {
	movements, err := s.ApplyMovements(ctx, StockMovementCommand{
		Type:      domain.StockMovementEntry,
		Reason:    domain.StockReasonPurchase,
		Reference: cmd.Reference,
		Lines:     []MovementLine{{ProductID: cmd.ProductID, Quantity: cmd.Quantity}},
		ActorID:   cmd.ActorID,
	})
	if err != nil {
		return StockMovement{}, err
	}
	return movements[0], nil
}

func (s *inventoryService) RecordAdjustment(ctx context.Context, cmd StockAdjustmentCommand) (StockMovement, error) {
	if cmd.Delta == 0 {
		return StockMovement{}, fmt.Errorf("%w: adjustment delta must not be zero", ErrInventoryInvalidInput)
	}
	movementType := domain.StockMovementEntry
	quantity := cmd.Delta
	if cmd.Delta < 0 {
		movementType = domain.StockMovementExit
		quantity = -cmd.Delta
	}
	movements, err := s.ApplyMovements(ctx, StockMovementCommand{
		Type:      movementType,
		Reason:    domain.StockReasonAdjustment,
		Reference: cmd.Reference,
		Lines:     []MovementLine{{ProductID: cmd.ProductID, Quantity: quantity}},
		ActorID:   cmd.ActorID,
	})
	if err != nil {
		return StockMovement{}, err
	}
	return movements[0], nil
}

func (s *inventoryService) GetProduct(ctx context.Context, productID string) (Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrInventoryInvalidInput)
	}
	product, err := s.repo.FindProduct(ctx, productID)
	if err != nil {
		return Product{}, s.mapRepositoryError(err)
	}
	return product, nil
}

func (s *inventoryService) FindProducts(ctx context.Context, productIDs []string) (map[string]Product, error) {
	if len(productIDs) == 0 {
		return map[string]Product{}, nil
	}
	products, err := s.repo.FindProducts(ctx, productIDs)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return products, nil
}

func (s *inventoryService) ListLowStock(ctx context.Context, pager Pagination) (domain.CursorPage[Product], error) {
	page, err := s.repo.ListLowStock(ctx, repositories.LowStockFilter{Pagination: normalizePage(pager)})
	if err != nil {
		return domain.CursorPage[Product]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *inventoryService) ListMovements(ctx context.Context, filter MovementListFilter) (domain.CursorPage[StockMovement], error) {
	page, err := s.repo.ListMovements(ctx, repositories.MovementListFilter{
		ProductID:  strings.TrimSpace(filter.ProductID),
		Reference:  strings.TrimSpace(filter.Reference),
		DateRange:  domain.RangeQuery[time.Time]{From: filter.From, To: filter.To},
		Pagination: normalizePage(filter.Pagination),
	})
	if err != nil {
		return domain.CursorPage[StockMovement]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *inventoryService) MovementsByReference(ctx context.Context, reference string) ([]StockMovement, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, fmt.Errorf("%w: reference is required", ErrInventoryInvalidInput)
	}
	movements, err := s.repo.MovementsByReference(ctx, reference)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return movements, nil
}

func (s *inventoryService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		switch invErr.Code {
		case repositories.InventoryErrorInsufficientStock:
			return &InsufficientStockError{ProductID: invErr.ProductID, Needed: invErr.Needed, Available: invErr.Available}
		case repositories.InventoryErrorProductNotFound:
			return fmt.Errorf("%w: %s", ErrProductNotFound, invErr.Message)
		case repositories.InventoryErrorInvalidMovement:
			return fmt.Errorf("%w: %s", ErrInventoryInvalidInput, invErr.Message)
		}
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrProductNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrTicketConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("inventory: repository unavailable: %w", err)
		}
	}

	return err
}

func normalizePage(pager Pagination) Pagination {
	switch {
	case pager.PageSize <= 0:
		pager.PageSize = defaultMovementPageSize
	case pager.PageSize > maxMovementPageSize:
		pager.PageSize = maxMovementPageSize
	}
	pager.PageToken = strings.TrimSpace(pager.PageToken)
	return pager
}

// TicketReference returns the stock movement reference used for a ticket's consumption.
func TicketReference(ticketID string) string {
	return "Ticket-" + ticketID
}

// CancellationReference returns the stock movement reference used for restocking a cancelled ticket.
func CancellationReference(ticketID string) string {
	return "Cancel-Ticket-" + ticketID
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func cloneStringPtr(value *string) *string {
	if value == nil {
		return nil
	}
	ref := *value
	return &ref
}

func valuePtr[T any](value T) *T {
	return &value
}
