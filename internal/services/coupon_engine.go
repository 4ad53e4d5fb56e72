package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/repairdesk/api/internal/domain"
	"github.com/repairdesk/api/internal/platform/textutil"
	"github.com/repairdesk/api/internal/repositories"
)

const (
	couponIDPrefix           = "cpn_"
	maxCouponCodeLength      = 32
	maxCouponDescriptionRune = 240
)

// CouponDecision is the outcome of evaluating a coupon against a budget. Rejection is empty when
// the coupon applies.
type CouponDecision struct {
	Rejection CouponRejection
	Discount  int64
}

// Applied reports whether the decision grants a discount.
func (d CouponDecision) Applied() bool {
	return d.Rejection == ""
}

// EvaluateCoupon runs the ordered coupon checks. The first failing check wins. existing holds the
// usages already recorded for ticketID.
func EvaluateCoupon(coupon *Coupon, budget Budget, existing []CouponUsage, ticketID string, now time.Time) CouponDecision {
	if coupon == nil {
		return CouponDecision{Rejection: CouponRejectionNotFound}
	}
	if !coupon.Active {
		return CouponDecision{Rejection: CouponRejectionInactive}
	}
	if coupon.StartsAt != nil && now.Before(*coupon.StartsAt) {
		return CouponDecision{Rejection: CouponRejectionNotYetValid}
	}
	if coupon.ExpiresAt != nil && now.After(*coupon.ExpiresAt) {
		return CouponDecision{Rejection: CouponRejectionExpired}
	}
	total := budget.TotalFinal
	if total < coupon.MinimumAmount {
		return CouponDecision{Rejection: CouponRejectionBelowMinimum}
	}
	if coupon.UsageLimit != nil && coupon.UsageCount >= *coupon.UsageLimit {
		return CouponDecision{Rejection: CouponRejectionExhausted}
	}
	for _, usage := range existing {
		if usage.CouponID == coupon.ID && usage.TicketID == ticketID {
			return CouponDecision{Rejection: CouponRejectionAlreadyApplied}
		}
	}
	for _, usage := range existing {
		if usage.TicketID == ticketID {
			return CouponDecision{Rejection: CouponRejectionAnotherCouponApplied}
		}
	}

	return CouponDecision{Discount: couponDiscount(*coupon, total)}
}

func couponDiscount(coupon Coupon, total int64) int64 {
	if total <= 0 {
		return 0
	}
	var discount int64
	switch coupon.DiscountType {
	case domain.CouponDiscountPercentage:
		amount, ok := applyRate(total, coupon.Value)
		if !ok {
			amount = total
		}
		discount = amount
	case domain.CouponDiscountFixedAmount:
		discount = coupon.Value
	}
	if discount < 0 {
		return 0
	}
	return min(discount, total)
}

// CouponServiceDeps bundles the dependencies required by the coupon engine.
type CouponServiceDeps struct {
	Coupons     repositories.CouponRepository
	Usages      repositories.CouponUsageRepository
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type couponService struct {
	coupons repositories.CouponRepository
	usages  repositories.CouponUsageRepository
	clock   func() time.Time
	newID   func() string
	logger  func(context.Context, string, map[string]any)
}

// NewCouponService constructs the coupon discount engine.
func NewCouponService(deps CouponServiceDeps) (CouponService, error) {
	if deps.Coupons == nil {
		return nil, errors.New("coupon service: coupon repository is required")
	}
	if deps.Usages == nil {
		return nil, errors.New("coupon service: coupon usage repository is required")
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

	return &couponService{
		coupons: deps.Coupons,
		usages:  deps.Usages,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:   idGen,
		logger:  logger,
	}, nil
}

// Redeem evaluates the code against the budget and, when it applies, writes the usage row and bumps
// the coupon counter. The returned budget carries the added discount; persisting it is the caller's
// job so that it lands in the same transaction as the usage row.
func (s *couponService) Redeem(ctx context.Context, cmd CouponRedeemCommand) (CouponRedemption, error) {
	ticketID := strings.TrimSpace(cmd.Budget.TicketID)
	if ticketID == "" {
		return CouponRedemption{}, fmt.Errorf("%w: budget ticket id is required", ErrCouponInvalidInput)
	}
	actor := strings.TrimSpace(cmd.ActorID)
	if actor == "" {
		return CouponRedemption{}, fmt.Errorf("%w: actor id is required", ErrCouponInvalidInput)
	}
	code := textutil.NormalizeCode(cmd.Code)
	if code == "" {
		return CouponRedemption{}, fmt.Errorf("%w: code is required", ErrCouponInvalidInput)
	}

	var coupon *Coupon
	found, err := s.coupons.FindByCode(ctx, code)
	switch {
	case err == nil:
		coupon = &found
	case isRepoNotFound(err):
	default:
		return CouponRedemption{}, s.mapRepositoryError(err)
	}

	var existing []CouponUsage
	if coupon != nil {
		existing, err = s.usages.ListByTicket(ctx, ticketID)
		if err != nil {
			return CouponRedemption{}, s.mapRepositoryError(err)
		}
	}

	now := s.clock()
	decision := EvaluateCoupon(coupon, cmd.Budget, existing, ticketID, now)
	if !decision.Applied() {
		return CouponRedemption{Rejection: decision.Rejection, Budget: cmd.Budget}, nil
	}

	usage := CouponUsage{
		ID:             domain.CouponUsageID(coupon.ID, ticketID),
		CouponID:       coupon.ID,
		CouponCode:     coupon.Code,
		TicketID:       ticketID,
		DiscountAmount: decision.Discount,
		AppliedBy:      actor,
		AppliedAt:      now,
	}
	if err := s.usages.Insert(ctx, usage); err != nil {
		if isRepoConflict(err) {
			return CouponRedemption{Rejection: CouponRejectionAlreadyApplied, Budget: cmd.Budget}, nil
		}
		return CouponRedemption{}, s.mapRepositoryError(err)
	}

	updated := *coupon
	updated.UsageCount++
	updated.UpdatedAt = now
	if err := s.coupons.Update(ctx, updated); err != nil {
		return CouponRedemption{}, s.mapRepositoryError(err)
	}

	budget := cmd.Budget
	discount := budget.Discount + decision.Discount
	if discount < budget.Discount {
		discount = math.MaxInt64
	}
	budget = withDiscount(budget, discount)
	budget.UpdatedAt = now

	return CouponRedemption{Usage: &usage, Budget: budget}, nil
}

func (s *couponService) CreateCoupon(ctx context.Context, cmd CreateCouponCommand) (Coupon, error) {
	code := textutil.NormalizeCode(cmd.Code)
	if code == "" {
		return Coupon{}, fmt.Errorf("%w: code is required", ErrCouponInvalidInput)
	}
	if len(code) > maxCouponCodeLength {
		return Coupon{}, fmt.Errorf("%w: code exceeds %d characters", ErrCouponInvalidInput, maxCouponCodeLength)
	}
	if strings.TrimSpace(cmd.ActorID) == "" {
		return Coupon{}, fmt.Errorf("%w: actor id is required", ErrCouponInvalidInput)
	}
	switch cmd.DiscountType {
	case domain.CouponDiscountPercentage:
		if cmd.Value <= 0 || cmd.Value > bpsDenominator {
			return Coupon{}, fmt.Errorf("%w: percentage must be between 1 and %d basis points", ErrCouponInvalidInput, bpsDenominator)
		}
	case domain.CouponDiscountFixedAmount:
		if cmd.Value <= 0 {
			return Coupon{}, fmt.Errorf("%w: fixed amount must be positive", ErrCouponInvalidInput)
		}
	default:
		return Coupon{}, fmt.Errorf("%w: unsupported discount type %q", ErrCouponInvalidInput, cmd.DiscountType)
	}
	if cmd.MinimumAmount < 0 {
		return Coupon{}, fmt.Errorf("%w: minimum amount must not be negative", ErrCouponInvalidInput)
	}
	if cmd.UsageLimit != nil && *cmd.UsageLimit <= 0 {
		return Coupon{}, fmt.Errorf("%w: usage limit must be positive", ErrCouponInvalidInput)
	}
	if cmd.StartsAt != nil && cmd.ExpiresAt != nil && !cmd.ExpiresAt.After(*cmd.StartsAt) {
		return Coupon{}, fmt.Errorf("%w: expiry must be after start", ErrCouponInvalidInput)
	}

	now := s.clock()
	coupon := Coupon{
		ID:            couponIDPrefix + s.newID(),
		Code:          code,
		Description:   textutil.SanitizePlain(cmd.Description, maxCouponDescriptionRune),
		DiscountType:  cmd.DiscountType,
		Value:         cmd.Value,
		MinimumAmount: cmd.MinimumAmount,
		Active:        true,
		StartsAt:      utcTimePtr(cmd.StartsAt),
		ExpiresAt:     utcTimePtr(cmd.ExpiresAt),
		UsageLimit:    cmd.UsageLimit,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.coupons.Insert(ctx, coupon); err != nil {
		return Coupon{}, s.mapRepositoryError(err)
	}
	s.logger(ctx, "coupon.created", map[string]any{
		"couponId": coupon.ID,
		"code":     coupon.Code,
		"actorId":  cmd.ActorID,
	})
	return coupon, nil
}

func (s *couponService) GetCoupon(ctx context.Context, code string) (Coupon, error) {
	normalized := textutil.NormalizeCode(code)
	if normalized == "" {
		return Coupon{}, fmt.Errorf("%w: code is required", ErrCouponInvalidInput)
	}
	coupon, err := s.coupons.FindByCode(ctx, normalized)
	if err != nil {
		return Coupon{}, s.mapRepositoryError(err)
	}
	return coupon, nil
}

func (s *couponService) DeactivateCoupon(ctx context.Context, code string, actorID string) (Coupon, error) {
	if strings.TrimSpace(actorID) == "" {
		return Coupon{}, fmt.Errorf("%w: actor id is required", ErrCouponInvalidInput)
	}
	coupon, err := s.GetCoupon(ctx, code)
	if err != nil {
		return Coupon{}, err
	}
	if !coupon.Active {
		return coupon, nil
	}
	coupon.Active = false
	coupon.UpdatedAt = s.clock()
	if err := s.coupons.Update(ctx, coupon); err != nil {
		return Coupon{}, s.mapRepositoryError(err)
	}
	s.logger(ctx, "coupon.deactivated", map[string]any{
		"couponId": coupon.ID,
		"actorId":  actorID,
	})
	return coupon, nil
}

func (s *couponService) ListUsage(ctx context.Context, code string, pager Pagination) (domain.CursorPage[CouponUsage], error) {
	coupon, err := s.GetCoupon(ctx, code)
	if err != nil {
		return domain.CursorPage[CouponUsage]{}, err
	}
	page, err := s.usages.ListByCoupon(ctx, coupon.ID, normalizePage(pager))
	if err != nil {
		return domain.CursorPage[CouponUsage]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *couponService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrCouponNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrCouponConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("coupon: repository unavailable: %w", err)
		}
	}
	return err
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func isRepoDuplicate(err error) bool {
	var dupErr repositories.DuplicateError
	return errors.As(err, &dupErr) && dupErr.IsDuplicate()
}

func isRepoConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

func utcTimePtr(value *time.Time) *time.Time {
	if value == nil || value.IsZero() {
		return nil
	}
	t := value.UTC()
	return &t
}
