package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"storefront-service/internal/apperr"
	"storefront-service/internal/models"
	"storefront-service/internal/pricing"
	"storefront-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// OrderService assembles orders from submitted lines and drives their
// status lifecycle.
type OrderService struct {
	orders      OrderStore
	catalog     CatalogStore
	coupons     CouponResolver
	publisher   EventPublisher
	idempotency IdempotencyKeys
	logger      *zap.Logger
	now         func() time.Time
}

// NewOrderService creates a new order service. idempotency may be nil, in
// which case idempotency keys are ignored.
func NewOrderService(
	orders OrderStore,
	catalog CatalogStore,
	coupons CouponResolver,
	publisher EventPublisher,
	idempotency IdempotencyKeys,
) *OrderService {
	return &OrderService{
		orders:      orders,
		catalog:     catalog,
		coupons:     coupons,
		publisher:   publisher,
		idempotency: idempotency,
		logger:      util.Component("order"),
		now:         time.Now,
	}
}

// CreateOrderRequest represents a request to create an order
type CreateOrderRequest struct {
	UserID         int64
	AddressID      *int64
	CouponID       *int64
	Items          []OrderItemRequest
	ClientTotal    *decimal.Decimal
	IdempotencyKey string
}

// OrderItemRequest represents an item in an order
type OrderItemRequest struct {
	ProductID int64
	Quantity  int
}

// CreateOrder validates every line, snapshots prices and persists the order
// together with the stock decrement. Nothing is written unless every line
// passes.
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (order *models.Order, err error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder", attribute.Int64("user_id", req.UserID))
	defer span.End()

	start := time.Now()
	defer func() {
		util.OrderCreateLatency.Observe(time.Since(start).Seconds())
		if err != nil {
			util.OrdersFailedTotal.WithLabelValues(string(apperr.From(err).Code)).Inc()
			util.RecordError(span, err)
		}
	}()

	lines, err := validateCreateOrder(req)
	if err != nil {
		return nil, err
	}

	scopedKey := idempotencyScope(req.UserID, req.IdempotencyKey)
	if req.IdempotencyKey != "" && s.idempotency != nil {
		var existing *models.Order
		var claimed bool
		existing, claimed, err = s.claimIdempotencyKey(ctx, req.UserID, scopedKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
		if claimed {
			defer func() {
				if err != nil {
					if relErr := s.idempotency.Release(ctx, scopedKey); relErr != nil {
						s.logger.Warn("Failed to release idempotency key",
							zap.String("idempotency_key", req.IdempotencyKey),
							zap.Error(relErr))
					}
				}
			}()
		}
	}

	products, err := s.loadProducts(ctx, lines)
	if err != nil {
		return nil, err
	}

	if err := checkLines(products, lines); err != nil {
		if e := apperr.From(err); e.Code != apperr.CodeInternal {
			util.StockRejectionsTotal.WithLabelValues("order", string(e.Code)).Inc()
		}
		return nil, err
	}

	order = &models.Order{
		UserID:    req.UserID,
		AddressID: req.AddressID,
		CouponID:  req.CouponID,
		Status:    models.OrderStatusReceived,
		Items:     make([]models.OrderItem, 0, len(lines)),
	}
	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		order.IdempotencyKey = &key
	}

	subtotal := decimal.Zero
	for _, line := range lines {
		unit := products[line.ProductID].EffectivePrice()
		order.Items = append(order.Items, models.OrderItem{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: unit,
		})
		subtotal = subtotal.Add(pricing.LineTotal(unit, line.Quantity))
	}

	adjustment := decimal.Zero
	if req.CouponID != nil {
		if s.coupons == nil {
			return nil, apperr.New(apperr.CodeCouponInvalid, "coupons are not supported")
		}
		adjustment, err = s.coupons.Adjustment(ctx, *req.CouponID, subtotal)
		if err != nil {
			return nil, err
		}
	}
	order.Subtotal = subtotal
	order.Discount = adjustment
	order.TotalPrice = applyAdjustment(subtotal, adjustment)

	if req.ClientTotal != nil && !req.ClientTotal.Equal(order.TotalPrice) {
		s.logger.Warn("Client total differs from computed total",
			zap.Int64("user_id", req.UserID),
			zap.String("client_total", req.ClientTotal.String()),
			zap.String("computed_total", order.TotalPrice.String()))
	}

	now := s.now()
	order.History = []models.StatusHistoryEntry{{
		Status:    models.OrderStatusReceived,
		ActorID:   req.UserID,
		CreatedAt: now,
	}}

	if err := s.orders.CreateOrder(ctx, order); err != nil {
		if e := apperr.From(err); e.Code != apperr.CodeInternal {
			return nil, err
		}
		s.logger.Error("Failed to persist order", zap.Int64("user_id", req.UserID), zap.Error(err))
		return nil, apperr.Internal(err, "failed to create order")
	}

	if req.IdempotencyKey != "" && s.idempotency != nil {
		if err := s.idempotency.Bind(ctx, scopedKey, order.ID); err != nil {
			s.logger.Warn("Failed to bind idempotency key",
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.Int64("order_id", order.ID),
				zap.Error(err))
		}
	}

	util.OrdersCreatedTotal.Inc()
	util.OrderValueTotal.Add(order.TotalPrice.InexactFloat64())
	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.Int64("user_id", order.UserID),
		zap.String("total", order.TotalPrice.String()))

	s.publishCreated(ctx, order)
	return order, nil
}

// GetOrder retrieves an order with its items and full status history.
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder", attribute.Int64("order_id", orderID))
	defer span.End()

	if orderID <= 0 {
		return nil, apperr.Validation("a positive order id is required")
	}

	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, s.wrapStoreErr(err, "get order")
	}
	return order, nil
}

// ListOrdersByUser returns a user's orders, newest first.
func (s *OrderService) ListOrdersByUser(ctx context.Context, userID int64) ([]models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListOrdersByUser", attribute.Int64("user_id", userID))
	defer span.End()

	if err := validateUser(userID); err != nil {
		return nil, err
	}

	orders, err := s.orders.ListOrdersByUser(ctx, userID)
	if err != nil {
		return nil, s.wrapStoreErr(err, "list user orders")
	}
	return orders, nil
}

// ListOrders returns every order, newest first.
func (s *OrderService) ListOrders(ctx context.Context) ([]models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListOrders")
	defer span.End()

	orders, err := s.orders.ListOrders(ctx)
	if err != nil {
		return nil, s.wrapStoreErr(err, "list orders")
	}
	return orders, nil
}

// idempotencyScope namespaces a client key by user, so two users sending
// the same Idempotency-Key never share an order.
func idempotencyScope(userID int64, key string) string {
	return fmt.Sprintf("%d:%s", userID, key)
}

// claimIdempotencyKey returns the previously created order when the key is
// already bound, or claimed=true when this request now owns the key.
func (s *OrderService) claimIdempotencyKey(ctx context.Context, userID int64, key string) (*models.Order, bool, error) {
	claimed, err := s.idempotency.Claim(ctx, key)
	if err != nil {
		s.logger.Warn("Idempotency check failed, continuing without it",
			zap.String("idempotency_key", key),
			zap.Error(err))
		return nil, false, nil
	}
	if claimed {
		return nil, true, nil
	}

	orderID, found, err := s.idempotency.Lookup(ctx, key)
	if err != nil {
		return nil, false, apperr.Internal(err, "failed to check idempotency key")
	}
	if !found {
		return nil, false, apperr.New(apperr.CodeDuplicateRequest,
			"an order with idempotency key %q is already being processed", key)
	}

	existing, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, false, s.wrapStoreErr(err, "load idempotent order")
	}
	if existing.UserID != userID {
		s.logger.Warn("Idempotency key bound to another user's order",
			zap.String("idempotency_key", key),
			zap.Int64("user_id", userID))
		return nil, false, apperr.New(apperr.CodeDuplicateRequest,
			"idempotency key %q cannot be reused", key)
	}

	util.OrdersDuplicateTotal.Inc()
	s.logger.Info("Duplicate order request detected",
		zap.String("idempotency_key", key),
		zap.Int64("order_id", existing.ID))
	return existing, false, nil
}

func (s *OrderService) loadProducts(ctx context.Context, lines []OrderItemRequest) (map[int64]*models.Product, error) {
	ids := make([]int64, len(lines))
	for i, line := range lines {
		ids[i] = line.ProductID
	}

	products, err := s.catalog.GetProductsByIDs(ctx, ids)
	if err != nil {
		s.logger.Error("Failed to load order products", zap.Error(err))
		return nil, apperr.Internal(err, "failed to load products")
	}
	return products, nil
}

func (s *OrderService) publishCreated(ctx context.Context, order *models.Order) {
	items := make([]models.OrderItemData, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, models.OrderItemData{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}

	event := &models.OrderCreatedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderCreated,
			Timestamp: s.now(),
		},
		OrderID:    order.ID,
		UserID:     order.UserID,
		TotalPrice: order.TotalPrice,
		Items:      items,
	}

	if err := s.publisher.PublishOrderCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCreated event",
			zap.Int64("order_id", order.ID),
			zap.Error(err))
	}
}

func (s *OrderService) wrapStoreErr(err error, op string) error {
	if e := apperr.From(err); e.Code != apperr.CodeInternal {
		return err
	}
	s.logger.Error("Order store failure", zap.String("op", op), zap.Error(err))
	return apperr.Internal(fmt.Errorf("%s: %w", op, err), "failed to access orders")
}

// validateCreateOrder checks the request shape and merges repeated product
// lines. The result is sorted by product id so stock rows are always locked
// in the same order.
func validateCreateOrder(req *CreateOrderRequest) ([]OrderItemRequest, error) {
	if err := validateUser(req.UserID); err != nil {
		return nil, err
	}
	if len(req.Items) == 0 {
		return nil, apperr.Validation("an order needs at least one item")
	}
	if req.AddressID != nil && *req.AddressID <= 0 {
		return nil, apperr.Validation("address id must be positive")
	}
	if req.CouponID != nil && *req.CouponID <= 0 {
		return nil, apperr.Validation("coupon id must be positive")
	}

	merged := make(map[int64]int, len(req.Items))
	for _, item := range req.Items {
		if err := validateProductID(item.ProductID); err != nil {
			return nil, err
		}
		if item.Quantity <= 0 {
			return nil, apperr.Validation("quantity for product %d must be greater than zero", item.ProductID)
		}
		merged[item.ProductID] += item.Quantity
	}

	lines := make([]OrderItemRequest, 0, len(merged))
	for productID, quantity := range merged {
		lines = append(lines, OrderItemRequest{ProductID: productID, Quantity: quantity})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })
	return lines, nil
}

func applyAdjustment(subtotal, adjustment decimal.Decimal) decimal.Decimal {
	total := subtotal.Sub(adjustment)
	if total.IsNegative() {
		return decimal.Zero
	}
	return total
}
