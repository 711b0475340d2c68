package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"storefront-service/internal/models"
	"storefront-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// ErrMalformedEvent marks a message that can never be decoded. Retrying it
// cannot succeed.
var ErrMalformedEvent = errors.New("malformed event")

// EventPublisher publishes order domain events to Kafka
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

func orderKey(orderID int64) string {
	return fmt.Sprintf("order-%d", orderID)
}

// PublishOrderCreated publishes OrderCreated event
func (ep *EventPublisher) PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event.EventType, event)
}

// PublishOrderStatusChanged publishes OrderStatusChanged event
func (ep *EventPublisher) PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event.EventType, event)
}

// NopPublisher drops events. Used when Kafka is disabled.
type NopPublisher struct{}

func (NopPublisher) PublishOrderCreated(context.Context, *models.OrderCreatedEvent) error {
	return nil
}

func (NopPublisher) PublishOrderStatusChanged(context.Context, *models.OrderStatusChangedEvent) error {
	return nil
}

// EventHandler routes incoming payment events
type EventHandler struct {
	onPaymentApproved func(context.Context, *models.PaymentApprovedEvent) error
	onPaymentDeclined func(context.Context, *models.PaymentDeclinedEvent) error
	logger            *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.Component("events")}
}

// OnPaymentApproved registers a handler for PaymentApproved events
func (eh *EventHandler) OnPaymentApproved(handler func(context.Context, *models.PaymentApprovedEvent) error) {
	eh.onPaymentApproved = handler
}

// OnPaymentDeclined registers a handler for PaymentDeclined events
func (eh *EventHandler) OnPaymentDeclined(handler func(context.Context, *models.PaymentDeclinedEvent) error) {
	eh.onPaymentDeclined = handler
}

// HandleMessage routes a message by its event-type header, falling back to
// the event_type field of the body for producers that send no headers.
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("%w: base event: %v", ErrMalformedEvent, err)
	}
	eventType := baseEvent.EventType
	for _, h := range msg.Headers {
		if h.Key == eventTypeHeader && len(h.Value) > 0 {
			eventType = string(h.Value)
		}
	}

	eh.logger.Debug("Handling event",
		zap.String("type", eventType),
		zap.String("event_id", baseEvent.EventID))

	switch eventType {
	case models.EventTypePaymentApproved:
		if eh.onPaymentApproved != nil {
			var event models.PaymentApprovedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("%w: PaymentApproved: %v", ErrMalformedEvent, err)
			}
			return eh.onPaymentApproved(ctx, &event)
		}

	case models.EventTypePaymentDeclined:
		if eh.onPaymentDeclined != nil {
			var event models.PaymentDeclinedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("%w: PaymentDeclined: %v", ErrMalformedEvent, err)
			}
			return eh.onPaymentDeclined(ctx, &event)
		}

	default:
		eh.logger.Debug("Unhandled event type", zap.String("type", eventType))
	}

	return nil
}
