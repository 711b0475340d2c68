// Package pricing computes effective unit prices from a base price and an
// optional discount.
package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

type DiscountType string

const (
	DiscountPercentage DiscountType = "PERCENTAGE"
	DiscountFixedValue DiscountType = "FIXED_VALUE"
)

func (t DiscountType) Valid() bool {
	return t == DiscountPercentage || t == DiscountFixedValue
}

// Discount is a configured price reduction. A nil *Discount means none.
type Discount struct {
	Value decimal.Decimal `json:"value"`
	Type  DiscountType    `json:"type"`
}

var hundred = decimal.NewFromInt(100)

// EffectivePrice applies d to base. The result is rounded to cents and is
// never negative.
func EffectivePrice(base decimal.Decimal, d *Discount) decimal.Decimal {
	if d == nil {
		return base
	}

	price := base
	switch d.Type {
	case DiscountPercentage:
		price = base.Mul(decimal.NewFromInt(1).Sub(d.Value.Div(hundred)))
	case DiscountFixedValue:
		price = base.Sub(d.Value)
	}

	if price.IsNegative() {
		return decimal.Zero
	}
	return price.Round(2)
}

var (
	ErrDiscountNegative   = errors.New("discount must not be negative")
	ErrDiscountTypeNeeded = errors.New("discount type is required when a discount is set")
	ErrDiscountType       = errors.New("unknown discount type")
	ErrPercentageTooLarge = errors.New("percentage discount must not exceed 100")
	ErrFixedExceedsBase   = errors.New("fixed discount must not exceed the base price")
)

// ValidateDiscount enforces the catalog-write invariants for a discount
// configured against base.
func ValidateDiscount(base decimal.Decimal, d *Discount) error {
	if base.IsNegative() {
		return fmt.Errorf("base price %s must not be negative", base)
	}
	if d == nil {
		return nil
	}
	if d.Type == "" {
		return ErrDiscountTypeNeeded
	}
	if !d.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrDiscountType, d.Type)
	}
	if d.Value.IsNegative() {
		return ErrDiscountNegative
	}
	switch d.Type {
	case DiscountPercentage:
		if d.Value.GreaterThan(hundred) {
			return ErrPercentageTooLarge
		}
	case DiscountFixedValue:
		if d.Value.GreaterThan(base) {
			return ErrFixedExceedsBase
		}
	}
	return nil
}

// LineTotal is unit × quantity.
func LineTotal(unit decimal.Decimal, quantity int) decimal.Decimal {
	return unit.Mul(decimal.NewFromInt(int64(quantity)))
}
