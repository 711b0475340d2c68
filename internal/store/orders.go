package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"storefront-service/internal/apperr"
	"storefront-service/internal/models"

	"github.com/jmoiron/sqlx"
)

const orderColumns = `id, user_id, address_id, coupon_id, subtotal, discount, total_price,
	status, idempotency_key, created_at, updated_at`

// CreateOrder decrements stock for every item and inserts the order, its
// items and its first history entry in one transaction. Each decrement is
// conditional on availability and sufficient stock, so concurrent orders can
// never oversell; if any line fails nothing is written.
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, item := range order.Items {
		if err := decrementStock(ctx, tx, item.ProductID, item.Quantity); err != nil {
			return err
		}
	}

	query := `
		INSERT INTO orders (user_id, address_id, coupon_id, subtotal, discount, total_price, status, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`

	err = tx.QueryRowxContext(ctx, query,
		order.UserID, order.AddressID, order.CouponID, order.Subtotal, order.Discount,
		order.TotalPrice, order.Status, order.IdempotencyKey,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, "orders_user_idempotency_key") {
			return apperr.New(apperr.CodeDuplicateRequest, "an order with this idempotency key already exists")
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for i := range order.Items {
		item := &order.Items[i]
		item.OrderID = order.ID
		err := tx.GetContext(ctx, &item.ID, `
			INSERT INTO order_items (order_id, product_id, quantity, unit_price)
			VALUES ($1, $2, $3, $4)
			RETURNING id`,
			item.OrderID, item.ProductID, item.Quantity, item.UnitPrice)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	for i := range order.History {
		entry := &order.History[i]
		entry.OrderID = order.ID
		if err := insertHistory(ctx, tx, entry); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// decrementStock is the conditional update that makes the stock check and
// the write one statement. Untracked stock (NULL) stays NULL.
func decrementStock(ctx context.Context, tx *sqlx.Tx, productID int64, quantity int) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE products
		SET stock = stock - $1, updated_at = NOW()
		WHERE id = $2 AND available AND (stock IS NULL OR stock >= $1)`,
		quantity, productID)
	if err != nil {
		return fmt.Errorf("decrement stock for product %d: %w", productID, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 1 {
		return nil
	}
	return explainRejection(ctx, tx, productID, quantity)
}

// explainRejection reads the product inside the same transaction to report
// why the conditional decrement matched no row.
func explainRejection(ctx context.Context, tx *sqlx.Tx, productID int64, quantity int) error {
	var row struct {
		Available bool `db:"available"`
		Stock     *int `db:"stock"`
	}
	err := tx.GetContext(ctx, &row, "SELECT available, stock FROM products WHERE id = $1", productID)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.ProductNotFound(productID)
	}
	if err != nil {
		return err
	}
	if !row.Available {
		return apperr.ProductUnavailable(productID)
	}

	available := 0
	if row.Stock != nil {
		available = *row.Stock
	}
	return apperr.InsufficientStock(apperr.StockShortage{
		ProductID: productID,
		Requested: quantity,
		Available: available,
	})
}

func insertHistory(ctx context.Context, tx *sqlx.Tx, entry *models.StatusHistoryEntry) error {
	err := tx.QueryRowxContext(ctx, `
		INSERT INTO order_status_history (order_id, status, actor_id, note, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		entry.OrderID, entry.Status, entry.ActorID, entry.Note, entry.CreatedAt,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("insert status history: %w", err)
	}
	return nil
}

// GetOrderByID retrieves an order with items and history
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.OrderNotFound(id)
	}
	if err != nil {
		return nil, err
	}

	orders := []models.Order{order}
	if err := loadOrderDetails(ctx, s.db, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

// ListOrdersByUser retrieves orders for a user, newest first
func (s *Store) ListOrdersByUser(ctx context.Context, userID int64) ([]models.Order, error) {
	orders := []models.Order{}
	err := s.db.SelectContext(ctx, &orders,
		"SELECT "+orderColumns+" FROM orders WHERE user_id = $1 ORDER BY created_at DESC, id DESC", userID)
	if err != nil {
		return nil, err
	}
	return orders, loadOrderDetails(ctx, s.db, orders)
}

// ListOrders retrieves every order, newest first
func (s *Store) ListOrders(ctx context.Context) ([]models.Order, error) {
	orders := []models.Order{}
	err := s.db.SelectContext(ctx, &orders,
		"SELECT "+orderColumns+" FROM orders ORDER BY created_at DESC, id DESC")
	if err != nil {
		return nil, err
	}
	return orders, loadOrderDetails(ctx, s.db, orders)
}

// loadOrderDetails attaches items and history to orders with one query each.
func loadOrderDetails(ctx context.Context, q sqlx.ExtContext, orders []models.Order) error {
	if len(orders) == 0 {
		return nil
	}

	ids := make([]int64, len(orders))
	index := make(map[int64]int, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
		index[orders[i].ID] = i
		orders[i].Items = []models.OrderItem{}
		orders[i].History = []models.StatusHistoryEntry{}
	}

	query, args, err := sqlx.In(
		"SELECT id, order_id, product_id, quantity, unit_price FROM order_items WHERE order_id IN (?) ORDER BY id", ids)
	if err != nil {
		return err
	}
	var items []models.OrderItem
	if err := sqlx.SelectContext(ctx, q, &items, q.Rebind(query), args...); err != nil {
		return fmt.Errorf("load order items: %w", err)
	}
	for _, item := range items {
		o := &orders[index[item.OrderID]]
		o.Items = append(o.Items, item)
	}

	query, args, err = sqlx.In(
		"SELECT id, order_id, status, actor_id, note, created_at FROM order_status_history WHERE order_id IN (?) ORDER BY id", ids)
	if err != nil {
		return err
	}
	var history []models.StatusHistoryEntry
	if err := sqlx.SelectContext(ctx, q, &history, q.Rebind(query), args...); err != nil {
		return fmt.Errorf("load status history: %w", err)
	}
	for _, entry := range history {
		o := &orders[index[entry.OrderID]]
		o.History = append(o.History, entry)
	}
	return nil
}

// ApplyStatus locks the order row, lets fn validate the transition against
// the locked state, then writes the new status, appends entry and, when fn
// asks for it, returns the order's quantities to tracked stock. Concurrent
// transitions on the same order queue on the row lock.
func (s *Store) ApplyStatus(ctx context.Context, orderID int64, entry models.StatusHistoryEntry, fn models.TransitionFunc) (*models.Order, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var order models.Order
	err = tx.GetContext(ctx, &order, "SELECT "+orderColumns+" FROM orders WHERE id = $1 FOR UPDATE", orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.OrderNotFound(orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("lock order: %w", err)
	}

	orders := []models.Order{order}
	if err := loadOrderDetails(ctx, tx, orders); err != nil {
		return nil, err
	}
	locked := &orders[0]

	restock, err := fn(locked)
	if err != nil {
		return nil, err
	}

	err = tx.QueryRowxContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2 RETURNING updated_at",
		entry.Status, orderID,
	).Scan(&locked.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("update order status: %w", err)
	}
	locked.Status = entry.Status

	entry.OrderID = orderID
	if err := insertHistory(ctx, tx, &entry); err != nil {
		return nil, err
	}
	locked.History = append(locked.History, entry)

	if restock {
		for _, item := range locked.Items {
			_, err := tx.ExecContext(ctx, `
				UPDATE products SET stock = stock + $1, updated_at = NOW()
				WHERE id = $2 AND stock IS NOT NULL`,
				item.Quantity, item.ProductID)
			if err != nil {
				return nil, fmt.Errorf("restock product %d: %w", item.ProductID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return locked, nil
}
