package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"storefront-service/internal/apperr"
	"storefront-service/internal/models"
)

// MemoryStore keeps everything in process memory behind one mutex. It
// offers the same atomicity as the Postgres store and backs local
// development (STORE_DRIVER=memory) and the service tests.
type MemoryStore struct {
	mu sync.Mutex

	nextID     int64
	products   map[int64]models.Product
	categories map[int64]*models.CategoryCounters
	coupons    map[int64]models.Coupon
	carts      map[int64]*memCart
	orders     map[int64]*models.Order
	orderKeys  map[orderKey]int64
	now        func() time.Time
}

// orderKey mirrors the (user_id, idempotency_key) unique constraint.
type orderKey struct {
	userID int64
	key    string
}

type memCart struct {
	cart  models.Cart
	items map[int64]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products:   make(map[int64]models.Product),
		categories: make(map[int64]*models.CategoryCounters),
		coupons:    make(map[int64]models.Coupon),
		carts:      make(map[int64]*memCart),
		orders:     make(map[int64]*models.Order),
		orderKeys:  make(map[orderKey]int64),
		now:        time.Now,
	}
}

func (m *MemoryStore) id() int64 {
	m.nextID++
	return m.nextID
}

// CreateProduct inserts a catalog product
func (m *MemoryStore) CreateProduct(_ context.Context, p *models.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p.ID = m.id()
	p.CreatedAt = m.now()
	p.UpdatedAt = p.CreatedAt
	m.products[p.ID] = copyProduct(*p)
	return nil
}

func (m *MemoryStore) GetProduct(_ context.Context, id int64) (*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.products[id]
	if !ok {
		return nil, nil
	}
	out := copyProduct(p)
	return &out, nil
}

func (m *MemoryStore) GetProductsByIDs(_ context.Context, ids []int64) (map[int64]*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[int64]*models.Product, len(ids))
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			cp := copyProduct(p)
			out[id] = &cp
		}
	}
	return out, nil
}

func (m *MemoryStore) UpdateProduct(_ context.Context, p *models.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.products[p.ID]; !ok {
		return fmt.Errorf("product not found: %d", p.ID)
	}
	p.UpdatedAt = m.now()
	m.products[p.ID] = copyProduct(*p)
	return nil
}

// CreateCategory registers an empty category and returns its id.
func (m *MemoryStore) CreateCategory(_ context.Context, _ string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.id()
	m.categories[id] = &models.CategoryCounters{CategoryID: id}
	return id, nil
}

func (m *MemoryStore) RecomputeCategoryCounters(_ context.Context, categoryID int64) (*models.CategoryCounters, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counters, ok := m.categories[categoryID]
	if !ok {
		return nil, fmt.Errorf("category not found: %d", categoryID)
	}

	*counters = models.CategoryCounters{CategoryID: categoryID}
	for _, p := range m.products {
		if p.CategoryID == nil || *p.CategoryID != categoryID {
			continue
		}
		counters.ProductCount++
		if p.Available {
			counters.AvailableCount++
		}
		if p.Stock != nil {
			counters.StockTotal += *p.Stock
		}
	}
	out := *counters
	return &out, nil
}

// CreateCoupon inserts a coupon
func (m *MemoryStore) CreateCoupon(_ context.Context, c *models.Coupon) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c.ID = m.id()
	m.coupons[c.ID] = *c
	return nil
}

func (m *MemoryStore) GetCoupon(_ context.Context, id int64) (*models.Coupon, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.coupons[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *MemoryStore) GetCartByUser(_ context.Context, userID int64) (*models.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.carts[userID]
	if !ok {
		return nil, nil
	}
	return c.snapshot(), nil
}

func (m *MemoryStore) GetOrCreateCart(_ context.Context, userID int64) (*models.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.carts[userID]
	if !ok {
		now := m.now()
		c = &memCart{
			cart:  models.Cart{ID: m.id(), UserID: userID, CreatedAt: now, UpdatedAt: now},
			items: make(map[int64]int),
		}
		m.carts[userID] = c
	}
	return c.snapshot(), nil
}

func (m *MemoryStore) AddCartItem(_ context.Context, cartID, productID int64, delta int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.cartByID(cartID)
	if err != nil {
		return 0, err
	}
	c.items[productID] += delta
	c.cart.UpdatedAt = m.now()
	return c.items[productID], nil
}

func (m *MemoryStore) SetCartItem(_ context.Context, cartID, productID int64, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.cartByID(cartID)
	if err != nil {
		return err
	}
	c.items[productID] = quantity
	c.cart.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) RemoveCartItem(_ context.Context, cartID, productID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.cartByID(cartID)
	if err != nil {
		return err
	}
	delete(c.items, productID)
	c.cart.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) ClearCart(_ context.Context, cartID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.cartByID(cartID)
	if err != nil {
		return err
	}
	c.items = make(map[int64]int)
	c.cart.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) DeleteCart(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.carts, userID)
	return nil
}

func (m *MemoryStore) cartByID(cartID int64) (*memCart, error) {
	for _, c := range m.carts {
		if c.cart.ID == cartID {
			return c, nil
		}
	}
	return nil, fmt.Errorf("cart not found: %d", cartID)
}

func (c *memCart) snapshot() *models.Cart {
	out := c.cart
	out.Items = make([]models.CartItem, 0, len(c.items))
	for productID, quantity := range c.items {
		out.Items = append(out.Items, models.CartItem{CartID: c.cart.ID, ProductID: productID, Quantity: quantity})
	}
	sort.Slice(out.Items, func(i, j int) bool { return out.Items[i].ProductID < out.Items[j].ProductID })
	return &out
}

// CreateOrder checks every line first and only then decrements, all under
// the store mutex, so it is all-or-nothing like the SQL transaction.
func (m *MemoryStore) CreateOrder(_ context.Context, order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if order.IdempotencyKey != nil {
		if _, ok := m.orderKeys[orderKey{order.UserID, *order.IdempotencyKey}]; ok {
			return apperr.New(apperr.CodeDuplicateRequest, "an order with this idempotency key already exists")
		}
	}

	for _, item := range order.Items {
		p, ok := m.products[item.ProductID]
		switch {
		case !ok:
			return apperr.ProductNotFound(item.ProductID)
		case !p.Available:
			return apperr.ProductUnavailable(item.ProductID)
		case p.Stock != nil && *p.Stock < item.Quantity:
			return apperr.InsufficientStock(apperr.StockShortage{
				ProductID: item.ProductID,
				Requested: item.Quantity,
				Available: *p.Stock,
			})
		}
	}

	now := m.now()
	for _, item := range order.Items {
		p := m.products[item.ProductID]
		if p.Stock != nil {
			stock := *p.Stock - item.Quantity
			p.Stock = &stock
			p.UpdatedAt = now
			m.products[item.ProductID] = p
		}
	}

	order.ID = m.id()
	order.CreatedAt = now
	order.UpdatedAt = now
	for i := range order.Items {
		order.Items[i].ID = m.id()
		order.Items[i].OrderID = order.ID
	}
	for i := range order.History {
		order.History[i].ID = m.id()
		order.History[i].OrderID = order.ID
	}

	stored := copyOrder(*order)
	m.orders[order.ID] = &stored
	if order.IdempotencyKey != nil {
		m.orderKeys[orderKey{order.UserID, *order.IdempotencyKey}] = order.ID
	}
	return nil
}

func (m *MemoryStore) GetOrderByID(_ context.Context, id int64) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok {
		return nil, apperr.OrderNotFound(id)
	}
	out := copyOrder(*o)
	return &out, nil
}

func (m *MemoryStore) ListOrdersByUser(_ context.Context, userID int64) ([]models.Order, error) {
	return m.listOrders(func(o *models.Order) bool { return o.UserID == userID }), nil
}

func (m *MemoryStore) ListOrders(_ context.Context) ([]models.Order, error) {
	return m.listOrders(func(*models.Order) bool { return true }), nil
}

func (m *MemoryStore) listOrders(keep func(*models.Order) bool) []models.Order {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []models.Order{}
	for _, o := range m.orders {
		if keep(o) {
			out = append(out, copyOrder(*o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (m *MemoryStore) ApplyStatus(_ context.Context, orderID int64, entry models.StatusHistoryEntry, fn models.TransitionFunc) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok {
		return nil, apperr.OrderNotFound(orderID)
	}

	current := copyOrder(*o)
	restock, err := fn(&current)
	if err != nil {
		return nil, err
	}

	now := m.now()
	entry.ID = m.id()
	entry.OrderID = orderID
	o.Status = entry.Status
	o.UpdatedAt = now
	o.History = append(o.History, entry)

	if restock {
		for _, item := range o.Items {
			p, ok := m.products[item.ProductID]
			if !ok || p.Stock == nil {
				continue
			}
			stock := *p.Stock + item.Quantity
			p.Stock = &stock
			p.UpdatedAt = now
			m.products[item.ProductID] = p
		}
	}

	out := copyOrder(*o)
	return &out, nil
}

func copyProduct(p models.Product) models.Product {
	if p.Stock != nil {
		stock := *p.Stock
		p.Stock = &stock
	}
	if p.CategoryID != nil {
		categoryID := *p.CategoryID
		p.CategoryID = &categoryID
	}
	if p.DiscountType != nil {
		typ := *p.DiscountType
		p.DiscountType = &typ
	}
	return p
}

func copyOrder(o models.Order) models.Order {
	o.Items = append([]models.OrderItem(nil), o.Items...)
	o.History = append([]models.StatusHistoryEntry(nil), o.History...)
	return o
}
