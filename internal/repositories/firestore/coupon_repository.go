package firestore

import (
	"context"
	"fmt"
	"strings"
	"time"

	domain "github.com/repairdesk/api/internal/domain"
	pfirestore "github.com/repairdesk/api/internal/platform/firestore"
	"github.com/repairdesk/api/internal/repositories"
)

const (
	couponsCollection      = "coupons"
	couponUsagesCollection = "couponUsages"
)

type couponDocument struct {
	Code          string     `firestore:"code"`
	Description   string     `firestore:"description,omitempty"`
	DiscountType  string     `firestore:"discountType"`
	Value         int64      `firestore:"value"`
	MinimumAmount int64      `firestore:"minimumAmount"`
	Active        bool       `firestore:"active"`
	StartsAt      *time.Time `firestore:"startsAt,omitempty"`
	ExpiresAt     *time.Time `firestore:"expiresAt,omitempty"`
	UsageLimit    *int64     `firestore:"usageLimit,omitempty"`
	UsageCount    int64      `firestore:"usageCount"`
	CreatedAt     time.Time  `firestore:"createdAt"`
	UpdatedAt     time.Time  `firestore:"updatedAt"`
}

func newCouponDocument(c domain.Coupon) couponDocument {
	return couponDocument{
		Code:          strings.TrimSpace(c.Code),
		Description:   c.Description,
		DiscountType:  string(c.DiscountType),
		Value:         c.Value,
		MinimumAmount: c.MinimumAmount,
		Active:        c.Active,
		StartsAt:      c.StartsAt,
		ExpiresAt:     c.ExpiresAt,
		UsageLimit:    c.UsageLimit,
		UsageCount:    c.UsageCount,
		CreatedAt:     c.CreatedAt.UTC(),
		UpdatedAt:     c.UpdatedAt.UTC(),
	}
}

func (d couponDocument) toDomain(id string) domain.Coupon {
	return domain.Coupon{
		ID:            id,
		Code:          d.Code,
		Description:   d.Description,
		DiscountType:  domain.CouponDiscountType(d.DiscountType),
		Value:         d.Value,
		MinimumAmount: d.MinimumAmount,
		Active:        d.Active,
		StartsAt:      d.StartsAt,
		ExpiresAt:     d.ExpiresAt,
		UsageLimit:    d.UsageLimit,
		UsageCount:    d.UsageCount,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
}

// CouponRepository stores coupons keyed by id with a queryable, already normalised code field.
type CouponRepository struct {
	coupons *pfirestore.Collection[couponDocument]
}

// NewCouponRepository constructs a Firestore-backed coupon repository.
func NewCouponRepository(provider *pfirestore.Provider) (*CouponRepository, error) {
	if provider == nil {
		return nil, errNotInitialised
	}
	return &CouponRepository{coupons: pfirestore.NewCollection[couponDocument](provider, couponsCollection)}, nil
}

func (r *CouponRepository) Insert(ctx context.Context, coupon domain.Coupon) error {
	if _, err := r.FindByCode(ctx, coupon.Code); err == nil {
		return pfirestore.WrapError("coupons.insert", alreadyExists(fmt.Sprintf("coupon code %s already exists", coupon.Code)))
	} else if !isNotFound(err) {
		return err
	}
	return r.coupons.Create(ctx, coupon.ID, newCouponDocument(coupon))
}

func (r *CouponRepository) Update(ctx context.Context, coupon domain.Coupon) error {
	return r.coupons.Replace(ctx, coupon.ID, newCouponDocument(coupon))
}

func (r *CouponRepository) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	query, err := r.coupons.Query(ctx)
	if err != nil {
		return domain.Coupon{}, err
	}
	snaps, err := r.coupons.Find(ctx, query.Where("code", "==", strings.TrimSpace(code)).Limit(1))
	if err != nil {
		return domain.Coupon{}, err
	}
	if len(snaps) == 0 {
		return domain.Coupon{}, pfirestore.WrapError("coupons.findByCode", notFoundStatus(fmt.Sprintf("coupon %s not found", code)))
	}
	return snaps[0].Data.toDomain(snaps[0].ID), nil
}

type couponUsageDocument struct {
	CouponID       string    `firestore:"couponId"`
	CouponCode     string    `firestore:"couponCode"`
	TicketID       string    `firestore:"ticketId"`
	DiscountAmount int64     `firestore:"discountAmount"`
	AppliedBy      string    `firestore:"appliedBy"`
	AppliedAt      time.Time `firestore:"appliedAt"`
}

func (d couponUsageDocument) toDomain(id string) domain.CouponUsage {
	return domain.CouponUsage{
		ID:             id,
		CouponID:       d.CouponID,
		CouponCode:     d.CouponCode,
		TicketID:       d.TicketID,
		DiscountAmount: d.DiscountAmount,
		AppliedBy:      d.AppliedBy,
		AppliedAt:      d.AppliedAt,
	}
}

// CouponUsageRepository stores usages under the deterministic {couponID}_{ticketID} id so Create
// rejects a second application of the same pair.
type CouponUsageRepository struct {
	usages *pfirestore.Collection[couponUsageDocument]
}

// NewCouponUsageRepository constructs a Firestore-backed coupon usage repository.
func NewCouponUsageRepository(provider *pfirestore.Provider) (*CouponUsageRepository, error) {
	if provider == nil {
		return nil, errNotInitialised
	}
	return &CouponUsageRepository{usages: pfirestore.NewCollection[couponUsageDocument](provider, couponUsagesCollection)}, nil
}

func (r *CouponUsageRepository) Insert(ctx context.Context, usage domain.CouponUsage) error {
	doc := couponUsageDocument{
		CouponID:       usage.CouponID,
		CouponCode:     usage.CouponCode,
		TicketID:       usage.TicketID,
		DiscountAmount: usage.DiscountAmount,
		AppliedBy:      usage.AppliedBy,
		AppliedAt:      usage.AppliedAt.UTC(),
	}
	return r.usages.Create(ctx, domain.CouponUsageID(usage.CouponID, usage.TicketID), doc)
}

func (r *CouponUsageRepository) Find(ctx context.Context, couponID, ticketID string) (domain.CouponUsage, error) {
	snap, err := r.usages.Get(ctx, domain.CouponUsageID(couponID, ticketID))
	if err != nil {
		return domain.CouponUsage{}, err
	}
	return snap.Data.toDomain(snap.ID), nil
}

func (r *CouponUsageRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.CouponUsage, error) {
	return findWhere(ctx, r.usages, "ticketId", ticketID, couponUsageDocument.toDomain)
}

func (r *CouponUsageRepository) ListByCoupon(ctx context.Context, couponID string, pager domain.Pagination) (domain.CursorPage[domain.CouponUsage], error) {
	query, err := r.usages.Query(ctx)
	if err != nil {
		return domain.CursorPage[domain.CouponUsage]{}, err
	}
	page, err := queryPage(ctx, query.Where("couponId", "==", couponID), pager, couponUsageDocument.toDomain)
	if err != nil {
		return domain.CursorPage[domain.CouponUsage]{}, pfirestore.WrapError("couponUsages.listByCoupon", err)
	}
	return page, nil
}

var (
	_ repositories.CouponRepository      = (*CouponRepository)(nil)
	_ repositories.CouponUsageRepository = (*CouponUsageRepository)(nil)
)
