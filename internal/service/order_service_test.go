package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"storefront-service/internal/apperr"
	"storefront-service/internal/models"
	"storefront-service/internal/pricing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func orderReq(userID int64, items ...OrderItemRequest) *CreateOrderRequest {
	return &CreateOrderRequest{UserID: userID, Items: items}
}

func TestCreateOrderSnapshotsPrices(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.product(t, "100.00", withStock(10), withDiscount("20", pricing.DiscountPercentage))
	b := env.product(t, "50.00", withStock(10))

	order, err := env.orders.CreateOrder(ctx, orderReq(7,
		OrderItemRequest{ProductID: a.ID, Quantity: 2},
		OrderItemRequest{ProductID: b.ID, Quantity: 1},
	))
	require.NoError(t, err)

	assert.True(t, order.TotalPrice.Equal(dec("210")), "total was %s", order.TotalPrice)
	assert.Equal(t, models.OrderStatusReceived, order.Status)
	require.Len(t, order.History, 1)
	assert.Equal(t, models.OrderStatusReceived, order.History[0].Status)
	assert.Equal(t, int64(7), order.History[0].ActorID)
	assert.Equal(t, 8, env.stock(t, a.ID))
	assert.Equal(t, 9, env.stock(t, b.ID))

	price := dec("999.00")
	_, err = env.catalog.UpdateProduct(ctx, a.ID, models.ProductPatch{Price: &price, ClearDiscount: true})
	require.NoError(t, err)

	stored, err := env.orders.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, stored.TotalPrice.Equal(dec("210")), "stored total must not follow catalog changes")
	assert.True(t, stored.Items[0].UnitPrice.Equal(dec("80")))

	require.Len(t, env.publisher.created, 1)
	assert.Equal(t, order.ID, env.publisher.created[0].OrderID)
}

func TestCreateOrderIsAllOrNothing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := env.product(t, "10.00", withStock(10))
	b := env.product(t, "10.00", withStock(5))

	_, err := env.orders.CreateOrder(ctx, orderReq(1,
		OrderItemRequest{ProductID: a.ID, Quantity: 2},
		OrderItemRequest{ProductID: b.ID, Quantity: 1000},
	))
	require.Error(t, err)
	e := apperr.From(err)
	assert.Equal(t, apperr.CodeInsufficientStock, e.Code)
	require.Len(t, e.Shortages, 1)
	assert.Equal(t, b.ID, e.Shortages[0].ProductID)

	assert.Equal(t, 10, env.stock(t, a.ID))
	assert.Equal(t, 5, env.stock(t, b.ID))

	orders, err := env.orders.ListOrders(ctx)
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.Empty(t, env.publisher.created)
}

func TestCreateOrderReportsEveryShortage(t *testing.T) {
	env := newTestEnv(t)
	a := env.product(t, "1.00", withStock(1))
	b := env.product(t, "1.00", withStock(2))

	_, err := env.orders.CreateOrder(context.Background(), orderReq(1,
		OrderItemRequest{ProductID: a.ID, Quantity: 3},
		OrderItemRequest{ProductID: b.ID, Quantity: 4},
	))
	e := apperr.From(err)
	require.NotNil(t, e)
	assert.Equal(t, apperr.CodeInsufficientStock, e.Code)
	assert.Len(t, e.Shortages, 2)
}

func TestCreateOrderValidation(t *testing.T) {
	env := newTestEnv(t)
	p := env.product(t, "1.00")
	off := env.product(t, "1.00", unavailable())
	negative := int64(-1)

	tests := []struct {
		name string
		req  *CreateOrderRequest
		code apperr.Code
	}{
		{"no user", orderReq(0, OrderItemRequest{ProductID: p.ID, Quantity: 1}), apperr.CodeValidation},
		{"no items", orderReq(1), apperr.CodeValidation},
		{"zero quantity", orderReq(1, OrderItemRequest{ProductID: p.ID}), apperr.CodeValidation},
		{"bad product id", orderReq(1, OrderItemRequest{ProductID: 0, Quantity: 1}), apperr.CodeValidation},
		{"bad coupon id", &CreateOrderRequest{UserID: 1, CouponID: &negative,
			Items: []OrderItemRequest{{ProductID: p.ID, Quantity: 1}}}, apperr.CodeValidation},
		{"unknown product", orderReq(1, OrderItemRequest{ProductID: 9999, Quantity: 1}), apperr.CodeProductNotFound},
		{"unavailable product", orderReq(1, OrderItemRequest{ProductID: off.ID, Quantity: 1}), apperr.CodeProductUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.orders.CreateOrder(context.Background(), tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.code, apperr.From(err).Code)
		})
	}
}

func TestCreateOrderMergesDuplicateLines(t *testing.T) {
	env := newTestEnv(t)
	p := env.product(t, "2.00", withStock(5))

	order, err := env.orders.CreateOrder(context.Background(), orderReq(1,
		OrderItemRequest{ProductID: p.ID, Quantity: 2},
		OrderItemRequest{ProductID: p.ID, Quantity: 3},
	))
	require.NoError(t, err)
	require.Len(t, order.Items, 1)
	assert.Equal(t, 5, order.Items[0].Quantity)
	assert.Equal(t, 0, env.stock(t, p.ID))

	_, err = env.orders.CreateOrder(context.Background(), orderReq(1,
		OrderItemRequest{ProductID: p.ID, Quantity: 1},
	))
	assert.True(t, apperr.HasCode(err, apperr.CodeInsufficientStock))
}

func TestConcurrentOrdersNeverOversell(t *testing.T) {
	env := newTestEnv(t)
	p := env.product(t, "5.00", withStock(10))

	const buyers = 25
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			_, err := env.orders.CreateOrder(context.Background(), orderReq(userID,
				OrderItemRequest{ProductID: p.ID, Quantity: 1},
			))
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.True(t, apperr.HasCode(err, apperr.CodeInsufficientStock), "unexpected error: %v", err)
		}(int64(i + 1))
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	assert.Equal(t, 0, env.stock(t, p.ID))
}

func TestCreateOrderAppliesCoupon(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.product(t, "40.00")

	coupon := &models.Coupon{
		Code:          "TEN",
		DiscountValue: dec("10"),
		DiscountType:  pricing.DiscountPercentage,
		Active:        true,
	}
	require.NoError(t, env.store.CreateCoupon(ctx, coupon))

	clientTotal := dec("1.00")
	order, err := env.orders.CreateOrder(ctx, &CreateOrderRequest{
		UserID:      1,
		CouponID:    &coupon.ID,
		ClientTotal: &clientTotal,
		Items:       []OrderItemRequest{{ProductID: p.ID, Quantity: 2}},
	})
	require.NoError(t, err)
	assert.True(t, order.Subtotal.Equal(dec("80")))
	assert.True(t, order.Discount.Equal(dec("8")))
	assert.True(t, order.TotalPrice.Equal(dec("72")), "client total is never trusted")
}

func TestCreateOrderRejectsBadCoupons(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.product(t, "40.00", withStock(3))

	expired := time.Now().Add(-time.Hour)
	inactive := &models.Coupon{Code: "OFF", DiscountValue: dec("5"), DiscountType: pricing.DiscountFixedValue}
	old := &models.Coupon{Code: "OLD", DiscountValue: dec("5"), DiscountType: pricing.DiscountFixedValue,
		Active: true, ExpiresAt: &expired}
	require.NoError(t, env.store.CreateCoupon(ctx, inactive))
	require.NoError(t, env.store.CreateCoupon(ctx, old))
	unknown := int64(9999)

	for _, id := range []int64{inactive.ID, old.ID, unknown} {
		couponID := id
		_, err := env.orders.CreateOrder(ctx, &CreateOrderRequest{
			UserID:   1,
			CouponID: &couponID,
			Items:    []OrderItemRequest{{ProductID: p.ID, Quantity: 1}},
		})
		assert.True(t, apperr.HasCode(err, apperr.CodeCouponInvalid), "coupon %d: %v", couponID, err)
	}
	assert.Equal(t, 3, env.stock(t, p.ID))
}

func TestFixedCouponNeverMakesTotalNegative(t *testing.T) {
	assert.True(t, applyAdjustment(dec("10"), dec("15")).IsZero())
	assert.True(t, applyAdjustment(dec("10"), dec("4")).Equal(dec("6")))
	assert.True(t, applyAdjustment(dec("10"), decimal.Zero).Equal(dec("10")))
}

func TestCreateOrderIdempotencyKey(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.product(t, "3.00", withStock(5))

	req := orderReq(1, OrderItemRequest{ProductID: p.ID, Quantity: 2})
	req.IdempotencyKey = "checkout-123"

	first, err := env.orders.CreateOrder(ctx, req)
	require.NoError(t, err)
	second, err := env.orders.CreateOrder(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 3, env.stock(t, p.ID), "stock is decremented once")
	assert.Len(t, env.publisher.created, 1)
}

func TestCreateOrderReleasesKeyOnFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.product(t, "3.00", withStock(1))

	req := orderReq(1, OrderItemRequest{ProductID: p.ID, Quantity: 2})
	req.IdempotencyKey = "retry-me"

	_, err := env.orders.CreateOrder(ctx, req)
	require.True(t, apperr.HasCode(err, apperr.CodeInsufficientStock))

	req.Items[0].Quantity = 1
	order, err := env.orders.CreateOrder(ctx, req)
	require.NoError(t, err)
	assert.NotZero(t, order.ID)
}

func TestIdempotencyKeysAreScopedPerUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.product(t, "3.00", withStock(10))

	first := orderReq(1, OrderItemRequest{ProductID: p.ID, Quantity: 2})
	first.IdempotencyKey = "checkout-1"
	mine, err := env.orders.CreateOrder(ctx, first)
	require.NoError(t, err)

	second := orderReq(2, OrderItemRequest{ProductID: p.ID, Quantity: 1})
	second.IdempotencyKey = "checkout-1"
	theirs, err := env.orders.CreateOrder(ctx, second)
	require.NoError(t, err)

	assert.NotEqual(t, mine.ID, theirs.ID)
	assert.Equal(t, int64(2), theirs.UserID)
	require.Len(t, theirs.Items, 1)
	assert.Equal(t, 1, theirs.Items[0].Quantity)
	assert.Equal(t, 7, env.stock(t, p.ID))
}

func TestIdempotencyKeyBoundToAnotherUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.product(t, "3.00", withStock(10))

	owner := orderReq(1, OrderItemRequest{ProductID: p.ID, Quantity: 1})
	owner.IdempotencyKey = "shared"
	order, err := env.orders.CreateOrder(ctx, owner)
	require.NoError(t, err)

	// stale binding that points user 2's scope at user 1's order
	require.NoError(t, env.keys.Bind(ctx, idempotencyScope(2, "shared"), order.ID))

	intruder := orderReq(2, OrderItemRequest{ProductID: p.ID, Quantity: 1})
	intruder.IdempotencyKey = "shared"
	got, err := env.orders.CreateOrder(ctx, intruder)
	assert.Nil(t, got)
	assert.True(t, apperr.HasCode(err, apperr.CodeDuplicateRequest))
}

func TestCreateOrderInFlightKey(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.product(t, "3.00")

	claimed, err := env.keys.Claim(ctx, idempotencyScope(1, "busy"))
	require.NoError(t, err)
	require.True(t, claimed)

	req := orderReq(1, OrderItemRequest{ProductID: p.ID, Quantity: 1})
	req.IdempotencyKey = "busy"
	_, err = env.orders.CreateOrder(ctx, req)
	assert.True(t, apperr.HasCode(err, apperr.CodeDuplicateRequest))
}

func TestPublishFailureDoesNotFailOrder(t *testing.T) {
	env := newTestEnv(t)
	env.publisher.err = assert.AnError
	p := env.product(t, "3.00")

	order, err := env.orders.CreateOrder(context.Background(), orderReq(1, OrderItemRequest{ProductID: p.ID, Quantity: 1}))
	require.NoError(t, err)
	assert.NotZero(t, order.ID)
}

func TestOrderReads(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.product(t, "1.00")

	for _, userID := range []int64{1, 1, 2} {
		_, err := env.orders.CreateOrder(ctx, orderReq(userID, OrderItemRequest{ProductID: p.ID, Quantity: 1}))
		require.NoError(t, err)
	}

	mine, err := env.orders.ListOrdersByUser(ctx, 1)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Greater(t, mine[0].ID, mine[1].ID, "newest first")

	all, err := env.orders.ListOrders(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	_, err = env.orders.GetOrder(ctx, 9999)
	assert.True(t, apperr.HasCode(err, apperr.CodeOrderNotFound))

	_, err = env.orders.GetOrder(ctx, 0)
	assert.True(t, apperr.HasCode(err, apperr.CodeValidation))
}
