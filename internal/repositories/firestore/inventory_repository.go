package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/repairdesk/api/internal/domain"
	pfirestore "github.com/repairdesk/api/internal/platform/firestore"
	"github.com/repairdesk/api/internal/platform/pagination"
	"github.com/repairdesk/api/internal/repositories"
)

const (
	productsCollection       = "products"
	stockMovementsCollection = "stockMovements"
)

// InventoryRepository stores product stock counters and the append-only movement ledger.
type InventoryRepository struct {
	provider  *pfirestore.Provider
	products  *pfirestore.Collection[productDocument]
	movements *pfirestore.Collection[movementDocument]
}

// NewInventoryRepository constructs a Firestore-backed inventory repository.
func NewInventoryRepository(provider *pfirestore.Provider) (*InventoryRepository, error) {
	if provider == nil {
		return nil, errors.New("inventory repository requires firestore provider")
	}
	return &InventoryRepository{
		provider:  provider,
		products:  pfirestore.NewCollection[productDocument](provider, productsCollection),
		movements: pfirestore.NewCollection[movementDocument](provider, stockMovementsCollection),
	}, nil
}

// ApplyMovements reads every touched product first, checks every exit against the running stock,
// and only then writes products and movements. It joins the caller's transaction when ctx carries
// one, otherwise it opens its own.
func (r *InventoryRepository) ApplyMovements(ctx context.Context, req repositories.InventoryMovementRequest) (repositories.InventoryMovementResult, error) {
	if r == nil || r.provider == nil {
		return repositories.InventoryMovementResult{}, errors.New("inventory repository not initialised")
	}
	if len(req.Movements) == 0 {
		return repositories.InventoryMovementResult{}, repositories.NewInventoryError(repositories.InventoryErrorInvalidMovement, "inventory apply: at least one movement is required", nil)
	}

	now := req.Now.UTC()
	var result repositories.InventoryMovementResult
	apply := func(ctx context.Context) error {
		client, err := r.provider.Client(ctx)
		if err != nil {
			return err
		}

		var refs []*firestore.DocumentRef
		seen := make(map[string]struct{})
		for _, movement := range req.Movements {
			productID := strings.TrimSpace(movement.ProductID)
			if productID == "" {
				return repositories.NewInventoryError(repositories.InventoryErrorInvalidMovement, "inventory apply: product id is required", nil)
			}
			if movement.Quantity <= 0 {
				return repositories.NewInventoryError(repositories.InventoryErrorInvalidMovement, fmt.Sprintf("inventory apply: quantity for %s must be > 0", productID), nil)
			}
			if _, ok := seen[productID]; ok {
				continue
			}
			seen[productID] = struct{}{}
			ref, err := r.products.DocumentRef(ctx, productID)
			if err != nil {
				return err
			}
			refs = append(refs, ref)
		}

		snaps, err := pfirestore.GetAll(ctx, client, refs)
		if err != nil {
			return err
		}
		working := make(map[string]productDocument, len(snaps))
		for _, snap := range snaps {
			if !snap.Exists() {
				return repositories.NewInventoryError(repositories.InventoryErrorProductNotFound, fmt.Sprintf("product %s not found", snap.Ref.ID), nil)
			}
			decoded, err := pfirestore.Decode[productDocument](snap)
			if err != nil {
				return err
			}
			working[decoded.ID] = decoded.Data
		}

		applied := make([]domain.StockMovement, 0, len(req.Movements))
		for _, movement := range req.Movements {
			productID := strings.TrimSpace(movement.ProductID)
			doc := working[productID]
			switch movement.Type {
			case domain.StockMovementEntry:
				doc.Stock += movement.Quantity
			case domain.StockMovementExit:
				if doc.Stock < movement.Quantity {
					return repositories.NewInsufficientStockError(productID, movement.Quantity, doc.Stock)
				}
				doc.Stock -= movement.Quantity
			default:
				return repositories.NewInventoryError(repositories.InventoryErrorInvalidMovement, fmt.Sprintf("inventory apply: unsupported movement type %q", movement.Type), nil)
			}
			doc.UpdatedAt = now
			doc.recalculate()
			working[productID] = doc

			movement.ProductID = productID
			movement.StockAfter = doc.Stock
			applied = append(applied, movement)
		}

		products := make(map[string]domain.Product, len(working))
		for _, ref := range refs {
			doc := working[ref.ID]
			if err := pfirestore.Set(ctx, ref, doc); err != nil {
				return err
			}
			products[ref.ID] = doc.toDomain(ref.ID)
		}
		for _, movement := range applied {
			if err := r.movements.Create(ctx, movement.ID, newMovementDocument(movement)); err != nil {
				return err
			}
		}

		result = repositories.InventoryMovementResult{Movements: applied, Products: products}
		return nil
	}

	if err := r.provider.InTx(ctx, apply); err != nil {
		return repositories.InventoryMovementResult{}, wrapInventoryError("inventory.apply", err)
	}
	return result, nil
}

func (r *InventoryRepository) FindProduct(ctx context.Context, productID string) (domain.Product, error) {
	snap, err := r.products.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, wrapInventoryError("inventory.getProduct", err)
	}
	return snap.Data.toDomain(snap.ID), nil
}

// FindProducts returns the products that exist; unknown ids are absent from the map.
func (r *InventoryRepository) FindProducts(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	refs := make([]*firestore.DocumentRef, 0, len(productIDs))
	for _, id := range productIDs {
		ref, err := r.products.DocumentRef(ctx, id)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	snaps, err := pfirestore.GetAll(ctx, client, refs)
	if err != nil {
		return nil, wrapInventoryError("inventory.findProducts", err)
	}
	out := make(map[string]domain.Product, len(snaps))
	for _, snap := range snaps {
		if !snap.Exists() {
			continue
		}
		decoded, err := pfirestore.Decode[productDocument](snap)
		if err != nil {
			return nil, err
		}
		out[decoded.ID] = decoded.Data.toDomain(decoded.ID)
	}
	return out, nil
}

func (r *InventoryRepository) UpsertProduct(ctx context.Context, product domain.Product) error {
	if strings.TrimSpace(product.ID) == "" {
		return repositories.NewInventoryError(repositories.InventoryErrorInvalidMovement, "inventory upsert: product id is required", nil)
	}
	if product.Stock < 0 {
		return repositories.NewInventoryError(repositories.InventoryErrorInvalidMovement, "inventory upsert: stock must be >= 0", nil)
	}
	return wrapInventoryError("inventory.upsertProduct", r.products.Set(ctx, product.ID, newProductDocument(product)))
}

// ListLowStock relies on the denormalised stockDelta (stock - minStock) because Firestore cannot
// compare two fields of the same document.
func (r *InventoryRepository) ListLowStock(ctx context.Context, filter repositories.LowStockFilter) (domain.CursorPage[domain.Product], error) {
	if r == nil || r.products == nil {
		return domain.CursorPage[domain.Product]{}, errors.New("inventory repository not initialised")
	}

	pageSize := clampPageSize(filter.Pagination.PageSize)
	query, err := r.products.Query(ctx)
	if err != nil {
		return domain.CursorPage[domain.Product]{}, wrapInventoryError("inventory.lowStock", err)
	}
	query = query.
		Where("stockDelta", "<=", 0).
		OrderBy("stockDelta", firestore.Asc).
		OrderBy(firestore.DocumentID, firestore.Asc)

	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Product]{}, err
	}
	if cursor.Len() > 0 {
		delta, err := cursor.Int64At(0)
		if err != nil {
			return domain.CursorPage[domain.Product]{}, err
		}
		id, err := cursor.StringAt(1)
		if err != nil {
			return domain.CursorPage[domain.Product]{}, err
		}
		query = query.StartAfter(delta, id)
	}

	snaps, err := r.products.Find(ctx, query.Limit(pageSize+1))
	if err != nil {
		return domain.CursorPage[domain.Product]{}, wrapInventoryError("inventory.lowStock", err)
	}

	page := domain.CursorPage[domain.Product]{}
	if len(snaps) > pageSize {
		snaps = snaps[:pageSize]
		last := snaps[pageSize-1]
		token, err := pagination.EncodeToken(pagination.Cursor{StartAfter: []any{last.Data.StockDelta, last.ID}})
		if err != nil {
			return domain.CursorPage[domain.Product]{}, err
		}
		page.NextPageToken = token
	}
	page.Items = toDomainAll(snaps, productDocument.toDomain)
	return page, nil
}

// ListMovements orders by createdAt so range filters on the same field stay valid Firestore
// queries; the cursor carries (createdAt, id).
func (r *InventoryRepository) ListMovements(ctx context.Context, filter repositories.MovementListFilter) (domain.CursorPage[domain.StockMovement], error) {
	pageSize := clampPageSize(filter.Pagination.PageSize)
	query, err := r.movements.Query(ctx)
	if err != nil {
		return domain.CursorPage[domain.StockMovement]{}, err
	}
	if productID := strings.TrimSpace(filter.ProductID); productID != "" {
		query = query.Where("productId", "==", productID)
	}
	if reference := strings.TrimSpace(filter.Reference); reference != "" {
		query = query.Where("reference", "==", reference)
	}
	if filter.DateRange.From != nil {
		query = query.Where("createdAt", ">=", filter.DateRange.From.UTC())
	}
	if filter.DateRange.To != nil {
		query = query.Where("createdAt", "<=", filter.DateRange.To.UTC())
	}
	query = query.OrderBy("createdAt", firestore.Asc).OrderBy(firestore.DocumentID, firestore.Asc)

	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.StockMovement]{}, err
	}
	if cursor.Len() > 0 {
		at, err := cursor.TimeAt(0)
		if err != nil {
			return domain.CursorPage[domain.StockMovement]{}, err
		}
		id, err := cursor.StringAt(1)
		if err != nil {
			return domain.CursorPage[domain.StockMovement]{}, err
		}
		query = query.StartAfter(at, id)
	}

	snaps, err := r.movements.Find(ctx, query.Limit(pageSize+1))
	if err != nil {
		return domain.CursorPage[domain.StockMovement]{}, wrapInventoryError("inventory.listMovements", err)
	}
	movements := toDomainAll(snaps, movementDocument.toDomain)

	page := domain.CursorPage[domain.StockMovement]{Items: movements}
	if len(movements) > pageSize {
		page.Items = movements[:pageSize]
		last := page.Items[pageSize-1]
		token, err := pagination.EncodeToken(pagination.Cursor{StartAfter: []any{last.CreatedAt.UTC(), last.ID}})
		if err != nil {
			return domain.CursorPage[domain.StockMovement]{}, err
		}
		page.NextPageToken = token
	}
	return page, nil
}

func (r *InventoryRepository) MovementsByReference(ctx context.Context, reference string) ([]domain.StockMovement, error) {
	movements, err := findWhere(ctx, r.movements, "reference", reference, movementDocument.toDomain)
	if err != nil {
		return nil, wrapInventoryError("inventory.movementsByReference", err)
	}
	return movements, nil
}

// Helper structures ---------------------------------------------------------

type productDocument struct {
	SKU        string    `firestore:"sku"`
	Name       string    `firestore:"name"`
	Price      int64     `firestore:"price"`
	Stock      int64     `firestore:"stock"`
	MinStock   int64     `firestore:"minStock"`
	MaxStock   int64     `firestore:"maxStock"`
	StockDelta int64     `firestore:"stockDelta"`
	CreatedAt  time.Time `firestore:"createdAt"`
	UpdatedAt  time.Time `firestore:"updatedAt"`
}

func newProductDocument(p domain.Product) productDocument {
	doc := productDocument{
		SKU:       strings.TrimSpace(p.SKU),
		Name:      strings.TrimSpace(p.Name),
		Price:     p.Price,
		Stock:     p.Stock,
		MinStock:  p.MinStock,
		MaxStock:  p.MaxStock,
		CreatedAt: p.CreatedAt.UTC(),
		UpdatedAt: p.UpdatedAt.UTC(),
	}
	doc.recalculate()
	return doc
}

func (p *productDocument) recalculate() {
	p.StockDelta = p.Stock - p.MinStock
}

func (p productDocument) toDomain(id string) domain.Product {
	return domain.Product{
		ID:        id,
		SKU:       p.SKU,
		Name:      p.Name,
		Price:     p.Price,
		Stock:     p.Stock,
		MinStock:  p.MinStock,
		MaxStock:  p.MaxStock,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

type movementDocument struct {
	ProductID  string    `firestore:"productId"`
	Type       string    `firestore:"type"`
	Reason     string    `firestore:"reason"`
	Quantity   int64     `firestore:"qty"`
	Reference  *string   `firestore:"reference,omitempty"`
	StockAfter int64     `firestore:"stockAfter"`
	ActorID    string    `firestore:"actorId"`
	CreatedAt  time.Time `firestore:"createdAt"`
}

func newMovementDocument(m domain.StockMovement) movementDocument {
	return movementDocument{
		ProductID:  m.ProductID,
		Type:       string(m.Type),
		Reason:     string(m.Reason),
		Quantity:   m.Quantity,
		Reference:  m.Reference,
		StockAfter: m.StockAfter,
		ActorID:    m.ActorID,
		CreatedAt:  m.CreatedAt.UTC(),
	}
}

func (d movementDocument) toDomain(id string) domain.StockMovement {
	return domain.StockMovement{
		ID:         id,
		ProductID:  d.ProductID,
		Type:       domain.StockMovementType(d.Type),
		Reason:     domain.StockMovementReason(d.Reason),
		Quantity:   d.Quantity,
		Reference:  d.Reference,
		StockAfter: d.StockAfter,
		ActorID:    d.ActorID,
		CreatedAt:  d.CreatedAt,
	}
}

func wrapInventoryError(op string, err error) error {
	if err == nil {
		return nil
	}
	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		if invErr.Op == "" {
			invErr.Op = op
		}
		return invErr
	}
	return pfirestore.WrapError(op, err)
}

var _ repositories.InventoryRepository = (*InventoryRepository)(nil)
