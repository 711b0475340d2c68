package service

import (
	"context"

	"storefront-service/internal/models"

	"github.com/shopspring/decimal"
)

// CatalogStore is the product side of the persistent store.
// GetProduct returns nil, nil when the product does not exist.
type CatalogStore interface {
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
	GetProductsByIDs(ctx context.Context, ids []int64) (map[int64]*models.Product, error)
	UpdateProduct(ctx context.Context, product *models.Product) error
	RecomputeCategoryCounters(ctx context.Context, categoryID int64) (*models.CategoryCounters, error)
}

// CartStore persists carts. Carts are keyed by user, one per user.
type CartStore interface {
	GetCartByUser(ctx context.Context, userID int64) (*models.Cart, error)
	GetOrCreateCart(ctx context.Context, userID int64) (*models.Cart, error)
	AddCartItem(ctx context.Context, cartID, productID int64, delta int) (int, error)
	SetCartItem(ctx context.Context, cartID, productID int64, quantity int) error
	RemoveCartItem(ctx context.Context, cartID, productID int64) error
	ClearCart(ctx context.Context, cartID int64) error
	DeleteCart(ctx context.Context, userID int64) error
}

// OrderStore persists orders. CreateOrder must decrement stock and insert the
// order in one atomic unit; ApplyStatus must serialize per order.
type OrderStore interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	ListOrdersByUser(ctx context.Context, userID int64) ([]models.Order, error)
	ListOrders(ctx context.Context) ([]models.Order, error)
	ApplyStatus(ctx context.Context, orderID int64, entry models.StatusHistoryEntry, fn models.TransitionFunc) (*models.Order, error)
}

// CouponStore reads coupons. GetCoupon returns nil, nil when missing.
type CouponStore interface {
	GetCoupon(ctx context.Context, id int64) (*models.Coupon, error)
}

// CouponResolver turns a coupon reference into a precomputed, non-negative
// adjustment against the order subtotal.
type CouponResolver interface {
	Adjustment(ctx context.Context, couponID int64, subtotal decimal.Decimal) (decimal.Decimal, error)
}

// EventPublisher emits domain events after a state change commits.
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
}

// IdempotencyKeys deduplicates order submissions.
type IdempotencyKeys interface {
	Claim(ctx context.Context, key string) (bool, error)
	Lookup(ctx context.Context, key string) (orderID int64, found bool, err error)
	Bind(ctx context.Context, key string, orderID int64) error
	Release(ctx context.Context, key string) error
}
