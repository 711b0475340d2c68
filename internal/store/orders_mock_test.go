package store

import (
	"context"
	"testing"
	"time"

	"storefront-service/internal/apperr"
	"storefront-service/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewStoreFromDB(sqlx.NewDb(conn, "postgres")), mock
}

func TestCreateOrderRollsBackWhenDecrementMatchesNoRow(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE products\s+SET stock = stock - \$1`).
		WithArgs(2, int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE products\s+SET stock = stock - \$1`).
		WithArgs(1000, int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT available, stock FROM products WHERE id = \$1`).
		WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"available", "stock"}).AddRow(true, 5))
	mock.ExpectRollback()

	err := s.CreateOrder(context.Background(), &models.Order{
		UserID: 1,
		Status: models.OrderStatusReceived,
		Items: []models.OrderItem{
			{ProductID: 1, Quantity: 2},
			{ProductID: 2, Quantity: 1000},
		},
	})

	e := apperr.From(err)
	require.NotNil(t, e)
	assert.Equal(t, apperr.CodeInsufficientStock, e.Code)
	require.Len(t, e.Shortages, 1)
	assert.Equal(t, apperr.StockShortage{ProductID: 2, Requested: 1000, Available: 5}, e.Shortages[0])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrderReportsUnavailableProduct(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE products`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT available, stock FROM products`).
		WillReturnRows(sqlmock.NewRows([]string{"available", "stock"}).AddRow(false, nil))
	mock.ExpectRollback()

	err := s.CreateOrder(context.Background(), &models.Order{
		Items: []models.OrderItem{{ProductID: 3, Quantity: 1}},
	})
	assert.True(t, apperr.HasCode(err, apperr.CodeProductUnavailable))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateOrderMapsIdempotencyConflict(t *testing.T) {
	s, mock := newMockStore(t)
	key := "dup"

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE products`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO orders`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "orders_user_idempotency_key"})
	mock.ExpectRollback()

	err := s.CreateOrder(context.Background(), &models.Order{
		IdempotencyKey: &key,
		Items:          []models.OrderItem{{ProductID: 1, Quantity: 1, UnitPrice: decimal.NewFromInt(1)}},
	})
	assert.True(t, apperr.HasCode(err, apperr.CodeDuplicateRequest))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyStatusRollsBackRejectedTransition(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM orders WHERE id = \$1 FOR UPDATE`).
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "address_id", "coupon_id", "subtotal", "discount", "total_price",
			"status", "idempotency_key", "created_at", "updated_at",
		}).AddRow(9, 1, nil, nil, "10.00", "0", "10.00", "DELIVERED", nil, now, now))
	mock.ExpectQuery(`FROM order_items WHERE order_id IN`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "order_id", "product_id", "quantity", "unit_price"}).
			AddRow(1, 9, 4, 1, "10.00"))
	mock.ExpectQuery(`FROM order_status_history WHERE order_id IN`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "order_id", "status", "actor_id", "note", "created_at"}).
			AddRow(1, 9, "RECEIVED", 1, nil, now))
	mock.ExpectRollback()

	var seen *models.Order
	_, err := s.ApplyStatus(context.Background(), 9,
		models.StatusHistoryEntry{Status: models.OrderStatusCancelled, ActorID: 1},
		func(current *models.Order) (bool, error) {
			seen = current
			return false, apperr.New(apperr.CodeInvalidTransition, "terminal")
		})

	assert.True(t, apperr.HasCode(err, apperr.CodeInvalidTransition))
	require.NotNil(t, seen)
	assert.Equal(t, models.OrderStatusDelivered, seen.Status)
	assert.Len(t, seen.Items, 1)
	assert.Len(t, seen.History, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrderByIDMissing(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`FROM orders WHERE id = \$1`).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.GetOrderByID(context.Background(), 5)
	assert.True(t, apperr.HasCode(err, apperr.CodeOrderNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}
