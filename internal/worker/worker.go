package worker

import (
	"context"
	"errors"

	"storefront-service/internal/apperr"
	"storefront-service/internal/broker"
	"storefront-service/internal/service"
	"storefront-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Consumer is the subset of *broker.Consumer the worker drives.
type Consumer interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// PaymentWorker applies payment-provider outcomes to orders
type PaymentWorker struct {
	consumer     Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewPaymentWorker creates a new payment worker
func NewPaymentWorker(consumer Consumer, payments *service.PaymentEventHandler) *PaymentWorker {
	eventHandler := broker.NewEventHandler()

	eventHandler.OnPaymentApproved(payments.HandlePaymentApproved)
	eventHandler.OnPaymentDeclined(payments.HandlePaymentDeclined)

	return &PaymentWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       util.Component("payment-worker"),
	}
}

// Start consumes until ctx is cancelled
func (w *PaymentWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting payment worker")
	return w.consumer.StartConsuming(ctx, w.HandleMessage)
}

// HandleMessage routes one message. Malformed payloads and domain
// rejections such as a transition that is no longer allowed are logged and
// acknowledged; infrastructure failures are returned so the consumer retries
// the message.
func (w *PaymentWorker) HandleMessage(ctx context.Context, msg kafka.Message) error {
	err := w.eventHandler.HandleMessage(ctx, msg)
	if err == nil {
		return nil
	}

	if errors.Is(err, broker.ErrMalformedEvent) {
		w.logger.Error("Dropping malformed payment event",
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
		return nil
	}

	if e := apperr.From(err); e.Code != apperr.CodeInternal {
		w.logger.Warn("Payment event rejected",
			zap.String("code", string(e.Code)),
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
		return nil
	}
	return err
}

// Stop stops the payment worker
func (w *PaymentWorker) Stop() error {
	w.logger.Info("Stopping payment worker")
	return w.consumer.Close()
}
