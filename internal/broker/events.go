package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"voucher-service/internal/models"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishVoucherIssued publishes a VoucherIssued event keyed by session id,
// so retries for the same session land on the same partition.
func (ep *EventPublisher) PublishVoucherIssued(ctx context.Context, event *models.VoucherIssuedEvent) error {
	if event.EventType == "" {
		event.EventType = models.EventTypeVoucherIssued
	}
	if event.EventID == "" {
		event.EventID = uuid.New().String()
		event.Timestamp = time.Now()
	}
	key := fmt.Sprintf("session-%s", event.SessionID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishPaymentFailed publishes a PaymentFailed event
func (ep *EventPublisher) PublishPaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error {
	if event.EventType == "" {
		event.EventType = models.EventTypePaymentFailed
	}
	if event.EventID == "" {
		event.EventID = uuid.New().String()
		event.Timestamp = time.Now()
	}
	key := fmt.Sprintf("session-%s", event.SessionID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// EventHandler routes consumed events to registered callbacks
type EventHandler struct {
	onVoucherIssued func(context.Context, *models.VoucherIssuedEvent) error
	onPaymentFailed func(context.Context, *models.PaymentFailedEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnVoucherIssued registers a handler for VoucherIssued events
func (eh *EventHandler) OnVoucherIssued(handler func(context.Context, *models.VoucherIssuedEvent) error) {
	eh.onVoucherIssued = handler
}

// OnPaymentFailed registers a handler for PaymentFailed events
func (eh *EventHandler) OnPaymentFailed(handler func(context.Context, *models.PaymentFailedEvent) error) {
	eh.onPaymentFailed = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	log.Printf("Handling event: type=%s, id=%s", baseEvent.EventType, baseEvent.EventID)

	switch baseEvent.EventType {
	case models.EventTypeVoucherIssued, models.EventTypeVoucherResend:
		if eh.onVoucherIssued != nil {
			var event models.VoucherIssuedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal VoucherIssued event: %w", err)
			}
			return eh.onVoucherIssued(ctx, &event)
		}

	case models.EventTypePaymentFailed:
		if eh.onPaymentFailed != nil {
			var event models.PaymentFailedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal PaymentFailed event: %w", err)
			}
			return eh.onPaymentFailed(ctx, &event)
		}

	default:
		log.Printf("Unhandled event type: %s", baseEvent.EventType)
	}

	return nil
}
