package store

import (
	"context"
	"os"
	"sync"
	"testing"

	"storefront-service/internal/apperr"
	"storefront-service/internal/db"
	"storefront-service/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// setupTestDB connects to TEST_DATABASE_URL and migrates it. Tests skip
// when no database is configured.
func setupTestDB(t *testing.T) *Store {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	require.NoError(t, db.RunMigrations(dsn, zap.NewNop()))

	s, err := NewStore(dsn)
	if err != nil {
		t.Skipf("Database not available: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func pgProduct(t *testing.T, s *Store, stock *int) *models.Product {
	t.Helper()
	p := &models.Product{
		Name:      "test-" + uuid.New().String(),
		Price:     decimal.RequireFromString("10.00"),
		Available: true,
		Stock:     stock,
	}
	require.NoError(t, s.CreateProduct(context.Background(), p))
	return p
}

func TestCreateOrderDecrementsStock(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	p := pgProduct(t, s, intPtr(5))

	order := &models.Order{
		UserID:     1,
		Subtotal:   decimal.RequireFromString("20.00"),
		TotalPrice: decimal.RequireFromString("20.00"),
		Status:     models.OrderStatusReceived,
		Items:      []models.OrderItem{{ProductID: p.ID, Quantity: 2, UnitPrice: p.Price}},
		History:    []models.StatusHistoryEntry{{Status: models.OrderStatusReceived, ActorID: 1}},
	}
	require.NoError(t, s.CreateOrder(ctx, order))
	assert.NotZero(t, order.ID)

	got, err := s.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, *got.Stock)

	stored, err := s.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, stored.Items, 1)
	require.Len(t, stored.History, 1)
	assert.True(t, stored.TotalPrice.Equal(decimal.RequireFromString("20")))
}

func TestCreateOrderRollsBackOnShortage(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	a := pgProduct(t, s, intPtr(10))
	b := pgProduct(t, s, intPtr(5))

	err := s.CreateOrder(ctx, &models.Order{
		UserID: 1,
		Status: models.OrderStatusReceived,
		Items: []models.OrderItem{
			{ProductID: a.ID, Quantity: 2, UnitPrice: a.Price},
			{ProductID: b.ID, Quantity: 1000, UnitPrice: b.Price},
		},
	})
	e := apperr.From(err)
	require.NotNil(t, e)
	assert.Equal(t, apperr.CodeInsufficientStock, e.Code)
	assert.Equal(t, 5, e.Shortages[0].Available)

	got, err := s.GetProduct(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, *got.Stock)
}

func TestConcurrentCreateOrderNeverOversells(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	p := pgProduct(t, s, intPtr(5))

	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.CreateOrder(ctx, &models.Order{
				UserID: 1,
				Status: models.OrderStatusReceived,
				Items:  []models.OrderItem{{ProductID: p.ID, Quantity: 1, UnitPrice: p.Price}},
			})
			if err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, created)
	got, err := s.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, *got.Stock)
}

func TestApplyStatusRestocks(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	p := pgProduct(t, s, intPtr(4))

	order := &models.Order{
		UserID: 1,
		Status: models.OrderStatusReceived,
		Items:  []models.OrderItem{{ProductID: p.ID, Quantity: 3, UnitPrice: p.Price}},
	}
	require.NoError(t, s.CreateOrder(ctx, order))

	updated, err := s.ApplyStatus(ctx, order.ID,
		models.StatusHistoryEntry{Status: models.OrderStatusCancelled, ActorID: 2},
		func(*models.Order) (bool, error) { return true, nil })
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, updated.Status)

	got, err := s.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, *got.Stock)

	_, err = s.ApplyStatus(ctx, -1, models.StatusHistoryEntry{}, func(*models.Order) (bool, error) { return false, nil })
	assert.True(t, apperr.HasCode(err, apperr.CodeOrderNotFound))
}

func TestDuplicateIdempotencyKey(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	p := pgProduct(t, s, nil)
	key := uuid.New().String()

	newOrder := func(userID int64) *models.Order {
		return &models.Order{
			UserID:         userID,
			Status:         models.OrderStatusReceived,
			IdempotencyKey: &key,
			Items:          []models.OrderItem{{ProductID: p.ID, Quantity: 1, UnitPrice: p.Price}},
		}
	}
	require.NoError(t, s.CreateOrder(ctx, newOrder(1)))
	err := s.CreateOrder(ctx, newOrder(1))
	assert.True(t, apperr.HasCode(err, apperr.CodeDuplicateRequest))

	require.NoError(t, s.CreateOrder(ctx, newOrder(2)), "the same key is free for another user")
}

func TestCartUpsert(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	userID := int64(uuid.New().ID())
	t.Cleanup(func() { s.DeleteCart(ctx, userID) })

	first, err := s.GetOrCreateCart(ctx, userID)
	require.NoError(t, err)
	second, err := s.GetOrCreateCart(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	qty, err := s.AddCartItem(ctx, first.ID, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, qty)
	qty, err = s.AddCartItem(ctx, first.ID, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, 5, qty)

	cart, err := s.GetCartByUser(ctx, userID)
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 5, cart.Items[0].Quantity)
}
