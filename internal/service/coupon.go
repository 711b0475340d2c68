package service

import (
	"context"
	"time"

	"storefront-service/internal/apperr"
	"storefront-service/internal/pricing"
	"storefront-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// StoreCouponResolver prices a coupon against an order subtotal using the
// same discount rules as products.
type StoreCouponResolver struct {
	coupons CouponStore
	now     func() time.Time
	logger  *zap.Logger
}

func NewCouponResolver(coupons CouponStore) *StoreCouponResolver {
	return &StoreCouponResolver{
		coupons: coupons,
		now:     time.Now,
		logger:  util.Component("coupon"),
	}
}

// Adjustment returns how much the coupon takes off subtotal.
func (r *StoreCouponResolver) Adjustment(ctx context.Context, couponID int64, subtotal decimal.Decimal) (decimal.Decimal, error) {
	coupon, err := r.coupons.GetCoupon(ctx, couponID)
	if err != nil {
		r.logger.Error("Failed to load coupon", zap.Int64("coupon_id", couponID), zap.Error(err))
		return decimal.Zero, apperr.Internal(err, "failed to load coupon")
	}
	if coupon == nil {
		return decimal.Zero, apperr.New(apperr.CodeCouponInvalid, "coupon %d not found", couponID)
	}
	if !coupon.Active {
		return decimal.Zero, apperr.New(apperr.CodeCouponInvalid, "coupon %s is not active", coupon.Code)
	}
	if coupon.ExpiresAt != nil && r.now().After(*coupon.ExpiresAt) {
		return decimal.Zero, apperr.New(apperr.CodeCouponInvalid, "coupon %s has expired", coupon.Code)
	}

	discounted := pricing.EffectivePrice(subtotal, &pricing.Discount{
		Value: coupon.DiscountValue,
		Type:  coupon.DiscountType,
	})
	return subtotal.Sub(discounted), nil
}
