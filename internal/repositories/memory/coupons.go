package memory

import (
	"context"
	"strings"

	domain "github.com/repairdesk/api/internal/domain"
)

type couponRepository struct{ s *Store }

func (r couponRepository) Insert(ctx context.Context, coupon domain.Coupon) error {
	return r.s.with(ctx, func(data *state) error {
		if _, exists := data.coupons[coupon.ID]; exists {
			return conflict("coupons.insert", "coupon %s already exists", coupon.ID)
		}
		for _, existing := range data.coupons {
			if strings.EqualFold(existing.Code, coupon.Code) {
				return conflict("coupons.insert", "coupon code %s already exists", coupon.Code)
			}
		}
		data.coupons[coupon.ID] = coupon
		return nil
	})
}

func (r couponRepository) Update(ctx context.Context, coupon domain.Coupon) error {
	return r.s.with(ctx, func(data *state) error {
		if _, exists := data.coupons[coupon.ID]; !exists {
			return notFound("coupons.update", "coupon %s not found", coupon.ID)
		}
		data.coupons[coupon.ID] = coupon
		return nil
	})
}

func (r couponRepository) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	var out domain.Coupon
	err := r.s.with(ctx, func(data *state) error {
		code = strings.TrimSpace(code)
		for _, coupon := range data.coupons {
			if strings.EqualFold(coupon.Code, code) {
				out = coupon
				return nil
			}
		}
		return notFound("coupons.get", "coupon %s not found", code)
	})
	return out, err
}

type couponUsageRepository struct{ s *Store }

func (r couponUsageRepository) Insert(ctx context.Context, usage domain.CouponUsage) error {
	return r.s.with(ctx, func(data *state) error {
		id := domain.CouponUsageID(usage.CouponID, usage.TicketID)
		if _, exists := data.usages[id]; exists {
			return conflict("coupon_usages.insert", "coupon %s already applied to ticket %s", usage.CouponID, usage.TicketID)
		}
		usage.ID = id
		data.usages[id] = usage
		return nil
	})
}

func (r couponUsageRepository) Find(ctx context.Context, couponID, ticketID string) (domain.CouponUsage, error) {
	var out domain.CouponUsage
	err := r.s.with(ctx, func(data *state) error {
		usage, ok := data.usages[domain.CouponUsageID(couponID, ticketID)]
		if !ok {
			return notFound("coupon_usages.get", "coupon %s not applied to ticket %s", couponID, ticketID)
		}
		out = usage
		return nil
	})
	return out, err
}

func (r couponUsageRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.CouponUsage, error) {
	var out []domain.CouponUsage
	err := r.s.with(ctx, func(data *state) error {
		out = sortedValues(data.usages, func(u domain.CouponUsage) bool { return u.TicketID == ticketID })
		return nil
	})
	return out, err
}

func (r couponUsageRepository) ListByCoupon(ctx context.Context, couponID string, pager domain.Pagination) (domain.CursorPage[domain.CouponUsage], error) {
	var page domain.CursorPage[domain.CouponUsage]
	err := r.s.with(ctx, func(data *state) error {
		items := sortedValues(data.usages, func(u domain.CouponUsage) bool { return u.CouponID == couponID })
		var err error
		page, err = paginate(items, func(u domain.CouponUsage) string { return u.ID }, pager)
		return err
	})
	return page, err
}
