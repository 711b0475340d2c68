package service

import (
	"context"
	"strings"
	"time"

	"storefront-service/internal/apperr"
	"storefront-service/internal/models"
	"storefront-service/internal/util"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// orderTransitions lists the statuses reachable from each non-terminal
// status. DELIVERED and CANCELLED have no entry and accept nothing.
var orderTransitions = map[models.OrderStatus][]models.OrderStatus{
	models.OrderStatusReceived: {
		models.OrderStatusPendingPayment,
		models.OrderStatusCancelled,
		models.OrderStatusDeliveryFailed,
	},
	models.OrderStatusPendingPayment: {
		models.OrderStatusPaymentApproved,
		models.OrderStatusCancelled,
		models.OrderStatusDeliveryFailed,
	},
	models.OrderStatusPaymentApproved: {
		models.OrderStatusPreparing,
		models.OrderStatusCancelled,
		models.OrderStatusDeliveryFailed,
	},
	models.OrderStatusPreparing: {
		models.OrderStatusEnRoute,
		models.OrderStatusCancelled,
		models.OrderStatusDeliveryFailed,
	},
	models.OrderStatusEnRoute: {
		models.OrderStatusDelivered,
		models.OrderStatusCancelled,
		models.OrderStatusDeliveryFailed,
	},
	models.OrderStatusDeliveryFailed: {
		models.OrderStatusEnRoute,
		models.OrderStatusCancelled,
	},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to models.OrderStatus) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// AllowedTransitions returns the statuses reachable from status.
func AllowedTransitions(status models.OrderStatus) []models.OrderStatus {
	next := orderTransitions[status]
	out := make([]models.OrderStatus, len(next))
	copy(out, next)
	return out
}

// UpdateStatus moves an order to newStatus and appends one history entry.
// The check and the write happen under the store's per-order lock.
func (s *OrderService) UpdateStatus(ctx context.Context, orderID int64, newStatus string, actorID int64, note string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.UpdateStatus",
		attribute.Int64("order_id", orderID),
		attribute.String("status", newStatus))
	defer span.End()

	target, ok := models.ParseOrderStatus(newStatus)
	if !ok {
		util.StatusTransitionsRejected.WithLabelValues(string(apperr.CodeInvalidStatus)).Inc()
		return nil, apperr.New(apperr.CodeInvalidStatus, "unknown order status %q", newStatus)
	}
	if orderID <= 0 {
		return nil, apperr.Validation("a positive order id is required")
	}
	if actorID <= 0 {
		return nil, apperr.Validation("a positive actor id is required")
	}

	entry := models.StatusHistoryEntry{
		OrderID:   orderID,
		Status:    target,
		ActorID:   actorID,
		CreatedAt: s.now(),
	}
	if trimmed := strings.TrimSpace(note); trimmed != "" {
		entry.Note = &trimmed
	}

	var previous models.OrderStatus
	order, err := s.orders.ApplyStatus(ctx, orderID, entry, func(current *models.Order) (bool, error) {
		previous = current.Status
		if current.Status.IsTerminal() {
			return false, apperr.New(apperr.CodeInvalidTransition,
				"order %d is %s and accepts no further status changes", current.ID, current.Status)
		}
		if !CanTransition(current.Status, target) {
			return false, apperr.New(apperr.CodeInvalidTransition,
				"order %d cannot move from %s to %s", current.ID, current.Status, target)
		}
		return target == models.OrderStatusCancelled, nil
	})
	if err != nil {
		util.RecordError(span, err)
		if e := apperr.From(err); e.Code != apperr.CodeInternal {
			util.StatusTransitionsRejected.WithLabelValues(string(e.Code)).Inc()
			return nil, err
		}
		s.logger.Error("Failed to apply status", zap.Int64("order_id", orderID), zap.Error(err))
		return nil, apperr.Internal(err, "failed to update order status")
	}

	util.StatusTransitionsTotal.WithLabelValues(string(previous), string(target)).Inc()
	if target == models.OrderStatusCancelled {
		for _, item := range order.Items {
			util.StockRestoredTotal.Add(float64(item.Quantity))
		}
	}

	s.logger.Info("Order status updated",
		zap.Int64("order_id", orderID),
		zap.String("from", string(previous)),
		zap.String("to", string(target)),
		zap.Int64("actor_id", actorID))

	s.publishStatusChanged(ctx, order, previous, entry)
	return order, nil
}

func (s *OrderService) publishStatusChanged(ctx context.Context, order *models.Order, previous models.OrderStatus, entry models.StatusHistoryEntry) {
	event := &models.OrderStatusChangedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderStatusChanged,
			Timestamp: time.Now(),
		},
		OrderID:        order.ID,
		UserID:         order.UserID,
		PreviousStatus: previous,
		Status:         entry.Status,
		ActorID:        entry.ActorID,
	}
	if entry.Note != nil {
		event.Note = *entry.Note
	}

	if err := s.publisher.PublishOrderStatusChanged(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderStatusChanged event",
			zap.Int64("order_id", order.ID),
			zap.Error(err))
	}
}
