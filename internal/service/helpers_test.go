package service

import (
	"context"
	"strconv"
	"sync"
	"testing"

	"storefront-service/internal/models"
	"storefront-service/internal/pricing"
	"storefront-service/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu       sync.Mutex
	created  []*models.OrderCreatedEvent
	statuses []*models.OrderStatusChangedEvent
	err      error
}

func (p *recordingPublisher) PublishOrderCreated(_ context.Context, e *models.OrderCreatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, e)
	return p.err
}

func (p *recordingPublisher) PublishOrderStatusChanged(_ context.Context, e *models.OrderStatusChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses = append(p.statuses, e)
	return p.err
}

// memoryKeys is an in-process IdempotencyKeys.
type memoryKeys struct {
	mu   sync.Mutex
	keys map[string]string
}

func newMemoryKeys() *memoryKeys {
	return &memoryKeys{keys: make(map[string]string)}
}

func (k *memoryKeys) Claim(_ context.Context, key string) (bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.keys[key]; ok {
		return false, nil
	}
	k.keys[key] = "pending"
	return true, nil
}

func (k *memoryKeys) Lookup(_ context.Context, key string) (int64, bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	val, ok := k.keys[key]
	if !ok || val == "pending" {
		return 0, false, nil
	}
	id, err := strconv.ParseInt(val, 10, 64)
	return id, err == nil, err
}

func (k *memoryKeys) Bind(_ context.Context, key string, orderID int64) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys[key] = strconv.FormatInt(orderID, 10)
	return nil
}

func (k *memoryKeys) Release(_ context.Context, key string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.keys, key)
	return nil
}

type testEnv struct {
	store     *store.MemoryStore
	carts     *CartService
	orders    *OrderService
	catalog   *CatalogService
	publisher *recordingPublisher
	keys      *memoryKeys
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st := store.NewMemoryStore()
	pub := &recordingPublisher{}
	keys := newMemoryKeys()

	return &testEnv{
		store:     st,
		carts:     NewCartService(st, st),
		orders:    NewOrderService(st, st, NewCouponResolver(st), pub, keys),
		catalog:   NewCatalogService(st),
		publisher: pub,
		keys:      keys,
	}
}

type productOpt func(*models.Product)

func withStock(n int) productOpt {
	return func(p *models.Product) { p.Stock = &n }
}

func unavailable() productOpt {
	return func(p *models.Product) { p.Available = false }
}

func withDiscount(value string, typ pricing.DiscountType) productOpt {
	return func(p *models.Product) {
		p.DiscountValue = decimal.NewNullDecimal(decimal.RequireFromString(value))
		p.DiscountType = &typ
	}
}

func withCategory(id int64) productOpt {
	return func(p *models.Product) { p.CategoryID = &id }
}

func (e *testEnv) product(t *testing.T, price string, opts ...productOpt) *models.Product {
	t.Helper()

	p := &models.Product{
		Name:      "product",
		Price:     decimal.RequireFromString(price),
		Available: true,
	}
	for _, opt := range opts {
		opt(p)
	}
	require.NoError(t, e.store.CreateProduct(context.Background(), p))
	return p
}

func (e *testEnv) stock(t *testing.T, productID int64) int {
	t.Helper()

	p, err := e.store.GetProduct(context.Background(), productID)
	require.NoError(t, err)
	require.NotNil(t, p)
	require.NotNil(t, p.Stock)
	return *p.Stock
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
