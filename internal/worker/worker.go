package worker

import (
	"context"
	"log"

	"voucher-service/internal/broker"
	"voucher-service/internal/notify"
)

// NotificationWorker consumes voucher domain events and hands them to the
// configured sender.
type NotificationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(consumer *broker.Consumer, sender notify.Sender) *NotificationWorker {
	eventHandler := broker.NewEventHandler()
	eventHandler.OnVoucherIssued(sender.SendVoucherIssued)
	eventHandler.OnPaymentFailed(sender.SendPaymentFailed)

	return &NotificationWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
	}
}

// Start starts the worker
func (w *NotificationWorker) Start(ctx context.Context) error {
	log.Println("Starting notification worker...")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	log.Println("Stopping notification worker...")
	return w.consumer.Close()
}
