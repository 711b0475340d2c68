package store

import (
	"context"
	"database/sql"
	"errors"

	"storefront-service/internal/models"
)

// GetCartByUser loads a user's cart with its lines. Missing carts return
// nil, nil.
func (s *Store) GetCartByUser(ctx context.Context, userID int64) (*models.Cart, error) {
	var cart models.Cart
	err := s.db.GetContext(ctx, &cart,
		"SELECT id, user_id, created_at, updated_at FROM carts WHERE user_id = $1", userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := s.loadCartItems(ctx, &cart); err != nil {
		return nil, err
	}
	return &cart, nil
}

// GetOrCreateCart upserts on the unique user_id so concurrent first adds
// converge on one cart.
func (s *Store) GetOrCreateCart(ctx context.Context, userID int64) (*models.Cart, error) {
	query := `
		INSERT INTO carts (user_id) VALUES ($1)
		ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING id, user_id, created_at, updated_at`

	var cart models.Cart
	if err := s.db.GetContext(ctx, &cart, query, userID); err != nil {
		return nil, err
	}

	if err := s.loadCartItems(ctx, &cart); err != nil {
		return nil, err
	}
	return &cart, nil
}

func (s *Store) loadCartItems(ctx context.Context, cart *models.Cart) error {
	cart.Items = []models.CartItem{}
	return s.db.SelectContext(ctx, &cart.Items,
		"SELECT cart_id, product_id, quantity FROM cart_items WHERE cart_id = $1 ORDER BY product_id", cart.ID)
}

// AddCartItem adds delta to a line, creating it if needed, and returns the
// resulting quantity.
func (s *Store) AddCartItem(ctx context.Context, cartID, productID int64, delta int) (int, error) {
	query := `
		INSERT INTO cart_items (cart_id, product_id, quantity)
		VALUES ($1, $2, $3)
		ON CONFLICT (cart_id, product_id) DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity
		RETURNING quantity`

	var quantity int
	if err := s.db.GetContext(ctx, &quantity, query, cartID, productID, delta); err != nil {
		return 0, err
	}
	return quantity, s.touchCart(ctx, cartID)
}

// SetCartItem sets the absolute quantity of a line.
func (s *Store) SetCartItem(ctx context.Context, cartID, productID int64, quantity int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cart_items (cart_id, product_id, quantity)
		VALUES ($1, $2, $3)
		ON CONFLICT (cart_id, product_id) DO UPDATE SET quantity = EXCLUDED.quantity`,
		cartID, productID, quantity)
	if err != nil {
		return err
	}
	return s.touchCart(ctx, cartID)
}

// RemoveCartItem deletes a line if present
func (s *Store) RemoveCartItem(ctx context.Context, cartID, productID int64) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM cart_items WHERE cart_id = $1 AND product_id = $2", cartID, productID)
	if err != nil {
		return err
	}
	return s.touchCart(ctx, cartID)
}

// ClearCart deletes every line but keeps the cart
func (s *Store) ClearCart(ctx context.Context, cartID int64) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM cart_items WHERE cart_id = $1", cartID); err != nil {
		return err
	}
	return s.touchCart(ctx, cartID)
}

// DeleteCart removes the cart and, by cascade, its lines
func (s *Store) DeleteCart(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM carts WHERE user_id = $1", userID)
	return err
}

func (s *Store) touchCart(ctx context.Context, cartID int64) error {
	_, err := s.db.ExecContext(ctx, "UPDATE carts SET updated_at = NOW() WHERE id = $1", cartID)
	return err
}
