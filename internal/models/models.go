package models

import (
	"time"

	"storefront-service/internal/pricing"

	"github.com/shopspring/decimal"
)

// Product represents a product in the catalog
type Product struct {
	ID            int64                 `db:"id" json:"id"`
	Name          string                `db:"name" json:"name"`
	Description   string                `db:"description" json:"description"`
	Price         decimal.Decimal       `db:"price" json:"price"`
	Available     bool                  `db:"available" json:"available"`
	Stock         *int                  `db:"stock" json:"stock,omitempty"`
	CategoryID    *int64                `db:"category_id" json:"category_id,omitempty"`
	DiscountValue decimal.NullDecimal   `db:"discount_value" json:"discount_value"`
	DiscountType  *pricing.DiscountType `db:"discount_type" json:"discount_type,omitempty"`
	CreatedAt     time.Time             `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time             `db:"updated_at" json:"updated_at"`
}

// Discount returns the configured discount, or nil when none is set.
func (p *Product) Discount() *pricing.Discount {
	if !p.DiscountValue.Valid || p.DiscountType == nil {
		return nil
	}
	return &pricing.Discount{Value: p.DiscountValue.Decimal, Type: *p.DiscountType}
}

// EffectivePrice is the current unit price after discount.
func (p *Product) EffectivePrice() decimal.Decimal {
	return pricing.EffectivePrice(p.Price, p.Discount())
}

// StockTracked reports whether stock is counted for this product.
func (p *Product) StockTracked() bool {
	return p.Stock != nil
}

// ProductPatch is a partial catalog update; nil fields are left unchanged.
type ProductPatch struct {
	Name          *string               `json:"name,omitempty"`
	Description   *string               `json:"description,omitempty"`
	Price         *decimal.Decimal      `json:"price,omitempty"`
	Available     *bool                 `json:"available,omitempty"`
	Stock         *int                  `json:"stock,omitempty"`
	ClearStock    bool                  `json:"clear_stock,omitempty"`
	CategoryID    *int64                `json:"category_id,omitempty"`
	DiscountValue *decimal.Decimal      `json:"discount_value,omitempty"`
	DiscountType  *pricing.DiscountType `json:"discount_type,omitempty"`
	ClearDiscount bool                  `json:"clear_discount,omitempty"`
}

// Apply returns a copy of p with the patch applied.
func (pp ProductPatch) Apply(p Product) Product {
	if pp.Name != nil {
		p.Name = *pp.Name
	}
	if pp.Description != nil {
		p.Description = *pp.Description
	}
	if pp.Price != nil {
		p.Price = *pp.Price
	}
	if pp.Available != nil {
		p.Available = *pp.Available
	}
	if pp.ClearStock {
		p.Stock = nil
	} else if pp.Stock != nil {
		stock := *pp.Stock
		p.Stock = &stock
	}
	if pp.CategoryID != nil {
		categoryID := *pp.CategoryID
		p.CategoryID = &categoryID
	}
	if pp.ClearDiscount {
		p.DiscountValue = decimal.NullDecimal{}
		p.DiscountType = nil
	} else {
		if pp.DiscountValue != nil {
			p.DiscountValue = decimal.NewNullDecimal(*pp.DiscountValue)
		}
		if pp.DiscountType != nil {
			typ := *pp.DiscountType
			p.DiscountType = &typ
		}
	}
	return p
}

// CategoryCounters are the derived per-category aggregates kept by the catalog.
type CategoryCounters struct {
	CategoryID     int64 `db:"category_id" json:"category_id"`
	ProductCount   int   `db:"product_count" json:"product_count"`
	AvailableCount int   `db:"available_count" json:"available_count"`
	StockTotal     int   `db:"stock_total" json:"stock_total"`
}

// Cart is a user's in-progress selection. Total and line prices are live
// quotes filled by the cart service, never stored.
type Cart struct {
	ID        int64           `db:"id" json:"id"`
	UserID    int64           `db:"user_id" json:"user_id"`
	Items     []CartItem      `db:"-" json:"items"`
	Total     decimal.Decimal `db:"-" json:"total"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// CartItem represents one product line in a cart
type CartItem struct {
	CartID    int64           `db:"cart_id" json:"-"`
	ProductID int64           `db:"product_id" json:"product_id"`
	Quantity  int             `db:"quantity" json:"quantity"`
	Product   *Product        `db:"-" json:"product,omitempty"`
	UnitPrice decimal.Decimal `db:"-" json:"unit_price"`
	LineTotal decimal.Decimal `db:"-" json:"line_total"`
}

// Item returns the line for productID, or nil.
func (c *Cart) Item(productID int64) *CartItem {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			return &c.Items[i]
		}
	}
	return nil
}

// Order represents a customer order
type Order struct {
	ID             int64                `db:"id" json:"id"`
	UserID         int64                `db:"user_id" json:"user_id"`
	AddressID      *int64               `db:"address_id" json:"address_id,omitempty"`
	CouponID       *int64               `db:"coupon_id" json:"coupon_id,omitempty"`
	Subtotal       decimal.Decimal      `db:"subtotal" json:"subtotal"`
	Discount       decimal.Decimal      `db:"discount" json:"discount"`
	TotalPrice     decimal.Decimal      `db:"total_price" json:"total_price"`
	Status         OrderStatus          `db:"status" json:"status"`
	IdempotencyKey *string              `db:"idempotency_key" json:"-"`
	Items          []OrderItem          `db:"-" json:"items"`
	History        []StatusHistoryEntry `db:"-" json:"history"`
	CreatedAt      time.Time            `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time            `db:"updated_at" json:"updated_at"`
}

// OrderItem represents items in an order. UnitPrice is the effective price
// captured when the order was created.
type OrderItem struct {
	ID        int64           `db:"id" json:"id"`
	OrderID   int64           `db:"order_id" json:"order_id"`
	ProductID int64           `db:"product_id" json:"product_id"`
	Quantity  int             `db:"quantity" json:"quantity"`
	UnitPrice decimal.Decimal `db:"unit_price" json:"unit_price"`
}

func (i OrderItem) LineTotal() decimal.Decimal {
	return pricing.LineTotal(i.UnitPrice, i.Quantity)
}

// StatusHistoryEntry is one immutable row of an order's audit trail.
type StatusHistoryEntry struct {
	ID        int64       `db:"id" json:"id"`
	OrderID   int64       `db:"order_id" json:"order_id"`
	Status    OrderStatus `db:"status" json:"status"`
	ActorID   int64       `db:"actor_id" json:"actor_id"`
	Note      *string     `db:"note" json:"note,omitempty"`
	CreatedAt time.Time   `db:"created_at" json:"created_at"`
}

// TransitionFunc validates a status change against the current (locked)
// order and reports whether the order's items go back to stock.
type TransitionFunc func(current *Order) (restock bool, err error)

// Coupon is read by the coupon resolver; coupon management lives elsewhere.
type Coupon struct {
	ID            int64                `db:"id" json:"id"`
	Code          string               `db:"code" json:"code"`
	DiscountValue decimal.Decimal      `db:"discount_value" json:"discount_value"`
	DiscountType  pricing.DiscountType `db:"discount_type" json:"discount_type"`
	Active        bool                 `db:"active" json:"active"`
	ExpiresAt     *time.Time           `db:"expires_at" json:"expires_at,omitempty"`
}
