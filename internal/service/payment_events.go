package service

import (
	"context"
	"fmt"

	"storefront-service/internal/apperr"
	"storefront-service/internal/models"
	"storefront-service/internal/util"

	"go.uber.org/zap"
)

// PaymentEventHandler maps payment-provider outcomes onto order status
// transitions. Payment processing itself happens elsewhere.
type PaymentEventHandler struct {
	orders  *OrderService
	actorID int64
	logger  *zap.Logger
}

// NewPaymentEventHandler creates a handler that records transitions under
// the given system actor id.
func NewPaymentEventHandler(orders *OrderService, actorID int64) *PaymentEventHandler {
	return &PaymentEventHandler{
		orders:  orders,
		actorID: actorID,
		logger:  util.Component("payment-events"),
	}
}

// maxPaymentAttempts bounds the re-reads after a transition lost a race with
// another writer. Each lost race means the order moved forward, so a few
// attempts always reach a decision.
const maxPaymentAttempts = 4

// HandlePaymentApproved walks a RECEIVED or PENDING_PAYMENT order to
// PAYMENT_APPROVED. Redelivered events for orders already past that point
// are ignored.
func (h *PaymentEventHandler) HandlePaymentApproved(ctx context.Context, event *models.PaymentApprovedEvent) error {
	ctx, span := util.StartSpan(ctx, "PaymentEventHandler.HandlePaymentApproved")
	defer span.End()

	note := fmt.Sprintf("payment approved, tx %s", event.TxID)
	var err error
	for attempt := 0; attempt < maxPaymentAttempts; attempt++ {
		var order *models.Order
		order, err = h.orders.GetOrder(ctx, event.OrderID)
		if err != nil {
			return h.skipMissing(err, event.EventID)
		}

		switch order.Status {
		case models.OrderStatusReceived:
			_, err = h.orders.UpdateStatus(ctx, order.ID, string(models.OrderStatusPendingPayment), h.actorID, "")
		case models.OrderStatusPendingPayment:
			_, err = h.orders.UpdateStatus(ctx, order.ID, string(models.OrderStatusPaymentApproved), h.actorID, note)
			if err == nil {
				return nil
			}
		default:
			h.logger.Info("Payment approval ignored",
				zap.Int64("order_id", order.ID),
				zap.String("status", string(order.Status)),
				zap.String("event_id", event.EventID))
			return nil
		}

		if err != nil && !h.lostRace(err, order, event.EventID) {
			return err
		}
	}
	return err
}

// HandlePaymentDeclined cancels an order that is still waiting for payment.
func (h *PaymentEventHandler) HandlePaymentDeclined(ctx context.Context, event *models.PaymentDeclinedEvent) error {
	ctx, span := util.StartSpan(ctx, "PaymentEventHandler.HandlePaymentDeclined")
	defer span.End()

	var err error
	for attempt := 0; attempt < maxPaymentAttempts; attempt++ {
		var order *models.Order
		order, err = h.orders.GetOrder(ctx, event.OrderID)
		if err != nil {
			return h.skipMissing(err, event.EventID)
		}

		if order.Status != models.OrderStatusReceived && order.Status != models.OrderStatusPendingPayment {
			h.logger.Info("Payment decline ignored",
				zap.Int64("order_id", order.ID),
				zap.String("status", string(order.Status)),
				zap.String("event_id", event.EventID))
			return nil
		}

		h.logger.Warn("Payment declined, cancelling order",
			zap.Int64("order_id", order.ID),
			zap.String("reason", event.Reason))

		_, err = h.orders.UpdateStatus(ctx, order.ID, string(models.OrderStatusCancelled), h.actorID,
			"payment declined: "+event.Reason)
		if err == nil || !h.lostRace(err, order, event.EventID) {
			return err
		}
	}
	return err
}

// lostRace reports whether err is a transition rejected because the order
// changed between the read and the locked write. The caller re-reads and
// decides again.
func (h *PaymentEventHandler) lostRace(err error, read *models.Order, eventID string) bool {
	if !apperr.HasCode(err, apperr.CodeInvalidTransition) {
		return false
	}
	h.logger.Info("Order changed concurrently, re-reading",
		zap.Int64("order_id", read.ID),
		zap.String("read_status", string(read.Status)),
		zap.String("event_id", eventID))
	return true
}

// skipMissing drops events for unknown orders so the consumer can commit
// past them.
func (h *PaymentEventHandler) skipMissing(err error, eventID string) error {
	if apperr.HasCode(err, apperr.CodeOrderNotFound) {
		h.logger.Warn("Payment event for unknown order", zap.String("event_id", eventID), zap.Error(err))
		return nil
	}
	return err
}
