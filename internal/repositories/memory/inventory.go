package memory

import (
	"context"
	"slices"
	"strings"

	domain "github.com/repairdesk/api/internal/domain"
	"github.com/repairdesk/api/internal/repositories"
)

type inventoryRepository struct{ s *Store }

// ApplyMovements works on a copy of the touched products and only publishes it once every line
// fits, so a shortfall leaves stock and the ledger untouched.
func (r inventoryRepository) ApplyMovements(ctx context.Context, req repositories.InventoryMovementRequest) (repositories.InventoryMovementResult, error) {
	var result repositories.InventoryMovementResult
	err := r.s.with(ctx, func(data *state) error {
		working := make(map[string]domain.Product, len(req.Movements))
		applied := make([]domain.StockMovement, 0, len(req.Movements))

		for _, movement := range req.Movements {
			if movement.Quantity <= 0 {
				return repositories.NewInventoryError(repositories.InventoryErrorInvalidMovement, "quantity must be greater than zero", nil)
			}
			product, ok := working[movement.ProductID]
			if !ok {
				product, ok = data.products[movement.ProductID]
				if !ok {
					return repositories.NewInventoryError(repositories.InventoryErrorProductNotFound, "product "+movement.ProductID+" not found", nil)
				}
			}

			switch movement.Type {
			case domain.StockMovementEntry:
				product.Stock += movement.Quantity
			case domain.StockMovementExit:
				if product.Stock < movement.Quantity {
					return repositories.NewInsufficientStockError(product.ID, movement.Quantity, product.Stock)
				}
				product.Stock -= movement.Quantity
			default:
				return repositories.NewInventoryError(repositories.InventoryErrorInvalidMovement, "unsupported movement type "+string(movement.Type), nil)
			}
			product.UpdatedAt = req.Now
			working[product.ID] = product

			movement.StockAfter = product.Stock
			applied = append(applied, movement)
		}

		for id, product := range working {
			data.products[id] = product
		}
		data.movements = append(data.movements, applied...)
		result = repositories.InventoryMovementResult{Movements: applied, Products: working}
		return nil
	})
	return result, err
}

func (r inventoryRepository) FindProduct(ctx context.Context, productID string) (domain.Product, error) {
	var out domain.Product
	err := r.s.with(ctx, func(data *state) error {
		product, ok := data.products[productID]
		if !ok {
			return notFound("products.get", "product %s not found", productID)
		}
		out = product
		return nil
	})
	return out, err
}

// FindProducts returns the products that exist; unknown ids are absent from the map.
func (r inventoryRepository) FindProducts(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	out := make(map[string]domain.Product, len(productIDs))
	err := r.s.with(ctx, func(data *state) error {
		for _, id := range productIDs {
			if product, ok := data.products[id]; ok {
				out[id] = product
			}
		}
		return nil
	})
	return out, err
}

func (r inventoryRepository) UpsertProduct(ctx context.Context, product domain.Product) error {
	return r.s.with(ctx, func(data *state) error {
		if strings.TrimSpace(product.ID) == "" {
			return repositories.NewInventoryError(repositories.InventoryErrorInvalidMovement, "product id is required", nil)
		}
		data.products[product.ID] = product
		return nil
	})
}

func (r inventoryRepository) ListLowStock(ctx context.Context, filter repositories.LowStockFilter) (domain.CursorPage[domain.Product], error) {
	var page domain.CursorPage[domain.Product]
	err := r.s.with(ctx, func(data *state) error {
		items := sortedValues(data.products, func(p domain.Product) bool { return p.Stock <= p.MinStock })
		var err error
		page, err = paginate(items, func(p domain.Product) string { return p.ID }, filter.Pagination)
		return err
	})
	return page, err
}

func (r inventoryRepository) ListMovements(ctx context.Context, filter repositories.MovementListFilter) (domain.CursorPage[domain.StockMovement], error) {
	var page domain.CursorPage[domain.StockMovement]
	err := r.s.with(ctx, func(data *state) error {
		items := make([]domain.StockMovement, 0, len(data.movements))
		for _, movement := range data.movements {
			if filter.ProductID != "" && movement.ProductID != filter.ProductID {
				continue
			}
			if filter.Reference != "" && (movement.Reference == nil || *movement.Reference != filter.Reference) {
				continue
			}
			if !inRange(movement.CreatedAt, filter.DateRange) {
				continue
			}
			items = append(items, movement)
		}
		slices.SortFunc(items, func(a, b domain.StockMovement) int { return strings.Compare(a.ID, b.ID) })
		var err error
		page, err = paginate(items, func(m domain.StockMovement) string { return m.ID }, filter.Pagination)
		return err
	})
	return page, err
}

func (r inventoryRepository) MovementsByReference(ctx context.Context, reference string) ([]domain.StockMovement, error) {
	var out []domain.StockMovement
	err := r.s.with(ctx, func(data *state) error {
		for _, movement := range data.movements {
			if movement.Reference != nil && *movement.Reference == reference {
				out = append(out, movement)
			}
		}
		return nil
	})
	return out, err
}
