package service

import (
	"context"
	"fmt"

	"storefront-service/internal/apperr"
	"storefront-service/internal/models"
	"storefront-service/internal/pricing"
	"storefront-service/internal/util"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// CartService manages the per-user cart. Every cart it returns is priced
// against current catalog prices.
type CartService struct {
	carts   CartStore
	catalog CatalogStore
	logger  *zap.Logger
}

// NewCartService creates a new cart service
func NewCartService(carts CartStore, catalog CatalogStore) *CartService {
	return &CartService{
		carts:   carts,
		catalog: catalog,
		logger:  util.Component("cart"),
	}
}

// GetOrCreateCart returns the user's cart, creating an empty one if needed.
func (s *CartService) GetOrCreateCart(ctx context.Context, userID int64) (*models.Cart, error) {
	ctx, span := util.StartSpan(ctx, "CartService.GetOrCreateCart", attribute.Int64("user_id", userID))
	defer span.End()

	if err := validateUser(userID); err != nil {
		return nil, err
	}

	cart, err := s.carts.GetOrCreateCart(ctx, userID)
	if err != nil {
		return nil, s.internal(err, "get or create cart", userID)
	}
	return s.price(ctx, cart)
}

// GetCart returns the user's priced cart or CART_NOT_FOUND.
func (s *CartService) GetCart(ctx context.Context, userID int64) (*models.Cart, error) {
	ctx, span := util.StartSpan(ctx, "CartService.GetCart", attribute.Int64("user_id", userID))
	defer span.End()

	if err := validateUser(userID); err != nil {
		return nil, err
	}

	cart, err := s.loadCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.price(ctx, cart)
}

// AddItem adds quantity units of a product. Repeated adds accumulate and the
// inventory gate runs against the accumulated quantity.
func (s *CartService) AddItem(ctx context.Context, userID, productID int64, quantity int) (*models.Cart, error) {
	ctx, span := util.StartSpan(ctx, "CartService.AddItem",
		attribute.Int64("user_id", userID),
		attribute.Int64("product_id", productID),
		attribute.Int("quantity", quantity))
	defer span.End()

	if err := validateUser(userID); err != nil {
		return nil, err
	}
	if err := validateProductID(productID); err != nil {
		return nil, err
	}
	if quantity <= 0 {
		return nil, apperr.Validation("quantity must be greater than zero")
	}

	cart, err := s.carts.GetOrCreateCart(ctx, userID)
	if err != nil {
		return nil, s.internal(err, "get or create cart", userID)
	}

	merged := quantity
	if existing := cart.Item(productID); existing != nil {
		merged += existing.Quantity
	}

	if err := s.gate(ctx, "cart_add", productID, merged); err != nil {
		s.record("add", err)
		util.RecordError(span, err)
		return nil, err
	}

	newQty, err := s.carts.AddCartItem(ctx, cart.ID, productID, quantity)
	if err != nil {
		return nil, s.internal(err, "add cart item", userID)
	}
	s.record("add", nil)

	s.logger.Debug("Cart item added",
		zap.Int64("user_id", userID),
		zap.Int64("product_id", productID),
		zap.Int("quantity", newQty))

	return s.GetCart(ctx, userID)
}

// UpdateItem sets the absolute quantity of a line; zero removes it.
func (s *CartService) UpdateItem(ctx context.Context, userID, productID int64, quantity int) (*models.Cart, error) {
	ctx, span := util.StartSpan(ctx, "CartService.UpdateItem",
		attribute.Int64("user_id", userID),
		attribute.Int64("product_id", productID),
		attribute.Int("quantity", quantity))
	defer span.End()

	if err := validateUser(userID); err != nil {
		return nil, err
	}
	if err := validateProductID(productID); err != nil {
		return nil, err
	}
	if quantity < 0 {
		return nil, apperr.Validation("quantity must not be negative")
	}

	cart, err := s.loadCart(ctx, userID)
	if err != nil {
		return nil, err
	}

	if quantity == 0 {
		if err := s.carts.RemoveCartItem(ctx, cart.ID, productID); err != nil {
			return nil, s.internal(err, "remove cart item", userID)
		}
		s.record("update", nil)
		return s.GetCart(ctx, userID)
	}

	if err := s.gate(ctx, "cart_update", productID, quantity); err != nil {
		s.record("update", err)
		util.RecordError(span, err)
		return nil, err
	}

	if err := s.carts.SetCartItem(ctx, cart.ID, productID, quantity); err != nil {
		return nil, s.internal(err, "set cart item", userID)
	}
	s.record("update", nil)

	return s.GetCart(ctx, userID)
}

// RemoveItem drops a line. Removing an absent line, or from an absent cart,
// is not an error.
func (s *CartService) RemoveItem(ctx context.Context, userID, productID int64) error {
	ctx, span := util.StartSpan(ctx, "CartService.RemoveItem",
		attribute.Int64("user_id", userID),
		attribute.Int64("product_id", productID))
	defer span.End()

	if err := validateUser(userID); err != nil {
		return err
	}

	cart, err := s.carts.GetCartByUser(ctx, userID)
	if err != nil {
		return s.internal(err, "get cart", userID)
	}
	if cart == nil {
		return nil
	}

	if err := s.carts.RemoveCartItem(ctx, cart.ID, productID); err != nil {
		return s.internal(err, "remove cart item", userID)
	}
	s.record("remove", nil)
	return nil
}

// Clear empties the cart but keeps it.
func (s *CartService) Clear(ctx context.Context, userID int64) error {
	ctx, span := util.StartSpan(ctx, "CartService.Clear", attribute.Int64("user_id", userID))
	defer span.End()

	if err := validateUser(userID); err != nil {
		return err
	}

	cart, err := s.loadCart(ctx, userID)
	if err != nil {
		return err
	}

	if err := s.carts.ClearCart(ctx, cart.ID); err != nil {
		return s.internal(err, "clear cart", userID)
	}
	s.record("clear", nil)
	return nil
}

// Delete removes the cart entity. Deleting a missing cart is not an error.
func (s *CartService) Delete(ctx context.Context, userID int64) error {
	ctx, span := util.StartSpan(ctx, "CartService.Delete", attribute.Int64("user_id", userID))
	defer span.End()

	if err := validateUser(userID); err != nil {
		return err
	}

	if err := s.carts.DeleteCart(ctx, userID); err != nil {
		return s.internal(err, "delete cart", userID)
	}
	s.record("delete", nil)
	return nil
}

// Total prices every line at the product's current effective price.
func (s *CartService) Total(ctx context.Context, cart *models.Cart) (decimal.Decimal, error) {
	priced, err := s.price(ctx, cart)
	if err != nil {
		return decimal.Zero, err
	}
	return priced.Total, nil
}

// price fills unit prices, line totals and the cart total from the catalog.
// Lines whose product has since been deleted are priced at zero.
func (s *CartService) price(ctx context.Context, cart *models.Cart) (*models.Cart, error) {
	ids := make([]int64, 0, len(cart.Items))
	for _, item := range cart.Items {
		ids = append(ids, item.ProductID)
	}

	products, err := s.catalog.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, s.internal(err, "load cart products", cart.UserID)
	}

	total := decimal.Zero
	for i := range cart.Items {
		item := &cart.Items[i]
		product, ok := products[item.ProductID]
		if !ok {
			item.Product = nil
			item.UnitPrice = decimal.Zero
			item.LineTotal = decimal.Zero
			continue
		}
		item.Product = product
		item.UnitPrice = product.EffectivePrice()
		item.LineTotal = pricing.LineTotal(item.UnitPrice, item.Quantity)
		total = total.Add(item.LineTotal)
	}
	cart.Total = total
	return cart, nil
}

func (s *CartService) loadCart(ctx context.Context, userID int64) (*models.Cart, error) {
	cart, err := s.carts.GetCartByUser(ctx, userID)
	if err != nil {
		return nil, s.internal(err, "get cart", userID)
	}
	if cart == nil {
		return nil, apperr.CartNotFound(userID)
	}
	return cart, nil
}

func (s *CartService) gate(ctx context.Context, source string, productID int64, quantity int) error {
	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		return apperr.Internal(err, "failed to load product")
	}
	if err := CheckAvailability(product, productID, quantity); err != nil {
		util.StockRejectionsTotal.WithLabelValues(source, string(apperr.From(err).Code)).Inc()
		return err
	}
	return nil
}

func (s *CartService) internal(err error, op string, userID int64) error {
	s.logger.Error("Cart store failure",
		zap.String("op", op),
		zap.Int64("user_id", userID),
		zap.Error(err))
	return apperr.Internal(fmt.Errorf("%s: %w", op, err), "failed to access cart")
}

func (s *CartService) record(operation string, err error) {
	result := "ok"
	if err != nil {
		result = string(apperr.From(err).Code)
	}
	util.CartOperationsTotal.WithLabelValues(operation, result).Inc()
}

func validateUser(userID int64) error {
	if userID <= 0 {
		return apperr.Validation("a positive user id is required")
	}
	return nil
}

func validateProductID(productID int64) error {
	if productID <= 0 {
		return apperr.Validation("a positive product id is required")
	}
	return nil
}
