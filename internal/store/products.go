package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"storefront-service/internal/models"

	"github.com/jmoiron/sqlx"
)

const productColumns = `id, name, description, price, available, stock, category_id,
	discount_value, discount_type, created_at, updated_at`

// CreateProduct inserts a catalog product
func (s *Store) CreateProduct(ctx context.Context, p *models.Product) error {
	query := `
		INSERT INTO products (name, description, price, available, stock, category_id, discount_value, discount_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`

	return s.db.QueryRowxContext(ctx, query,
		p.Name, p.Description, p.Price, p.Available, p.Stock, p.CategoryID, p.DiscountValue, p.DiscountType,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

// GetProduct retrieves a product by ID. Missing products return nil, nil.
func (s *Store) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product, "SELECT "+productColumns+" FROM products WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get product %d: %w", id, err)
	}
	return &product, nil
}

// GetProductsByIDs retrieves multiple products keyed by id. Unknown ids are
// absent from the map.
func (s *Store) GetProductsByIDs(ctx context.Context, ids []int64) (map[int64]*models.Product, error) {
	out := make(map[int64]*models.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query, args, err := sqlx.In("SELECT "+productColumns+" FROM products WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var products []models.Product
	if err := s.db.SelectContext(ctx, &products, query, args...); err != nil {
		return nil, fmt.Errorf("get products: %w", err)
	}
	for i := range products {
		out[products[i].ID] = &products[i]
	}
	return out, nil
}

// UpdateProduct writes every mutable product column.
func (s *Store) UpdateProduct(ctx context.Context, p *models.Product) error {
	query := `
		UPDATE products
		SET name = $1, description = $2, price = $3, available = $4, stock = $5,
			category_id = $6, discount_value = $7, discount_type = $8, updated_at = NOW()
		WHERE id = $9
		RETURNING updated_at`

	err := s.db.QueryRowxContext(ctx, query,
		p.Name, p.Description, p.Price, p.Available, p.Stock,
		p.CategoryID, p.DiscountValue, p.DiscountType, p.ID,
	).Scan(&p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("product not found: %d", p.ID)
	}
	return err
}

// CreateCategory inserts an empty category and returns its id.
func (s *Store) CreateCategory(ctx context.Context, name string) (int64, error) {
	var id int64
	err := s.db.GetContext(ctx, &id, "INSERT INTO categories (name) VALUES ($1) RETURNING id", name)
	return id, err
}

// RecomputeCategoryCounters rebuilds the derived counters of one category
// from its products.
func (s *Store) RecomputeCategoryCounters(ctx context.Context, categoryID int64) (*models.CategoryCounters, error) {
	query := `
		UPDATE categories c
		SET product_count = agg.product_count,
			available_count = agg.available_count,
			stock_total = agg.stock_total,
			updated_at = NOW()
		FROM (
			SELECT COUNT(*) AS product_count,
				COUNT(*) FILTER (WHERE available) AS available_count,
				COALESCE(SUM(stock), 0) AS stock_total
			FROM products
			WHERE category_id = $1
		) agg
		WHERE c.id = $1
		RETURNING c.id AS category_id, c.product_count, c.available_count, c.stock_total`

	var counters models.CategoryCounters
	err := s.db.GetContext(ctx, &counters, query, categoryID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("category not found: %d", categoryID)
	}
	if err != nil {
		return nil, err
	}
	return &counters, nil
}

// CreateCoupon inserts a coupon
func (s *Store) CreateCoupon(ctx context.Context, c *models.Coupon) error {
	query := `
		INSERT INTO coupons (code, discount_value, discount_type, active, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	return s.db.GetContext(ctx, &c.ID, query, c.Code, c.DiscountValue, c.DiscountType, c.Active, c.ExpiresAt)
}

// GetCoupon retrieves a coupon by ID. Missing coupons return nil, nil.
func (s *Store) GetCoupon(ctx context.Context, id int64) (*models.Coupon, error) {
	var coupon models.Coupon
	err := s.db.GetContext(ctx, &coupon,
		"SELECT id, code, discount_value, discount_type, active, expires_at FROM coupons WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &coupon, nil
}
