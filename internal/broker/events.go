package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"storefront/internal/models"
	"storefront/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher handles publishing domain events
type EventPublisher struct {
	orders        *Producer
	notifications *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(orders, notifications *Producer) *EventPublisher {
	return &EventPublisher{orders: orders, notifications: notifications}
}

// PublishOrderEvent publishes an order lifecycle event
func (ep *EventPublisher) PublishOrderEvent(ctx context.Context, event *models.OrderEvent) error {
	key := fmt.Sprintf("order-%d", event.OrderID)
	return ep.orders.PublishEvent(ctx, key, event.EventType, event)
}

// PublishNotification queues a message for the notification worker
func (ep *EventPublisher) PublishNotification(ctx context.Context, event *models.NotificationEvent) error {
	key := fmt.Sprintf("order-%d", event.OrderID)
	return ep.notifications.PublishEvent(ctx, key, event.EventType, event)
}

// NotificationHandler routes notification messages by event type
type NotificationHandler struct {
	handlers map[string]func(context.Context, *models.NotificationEvent) error
	logger   *zap.Logger
}

// NewNotificationHandler creates a new notification handler
func NewNotificationHandler() *NotificationHandler {
	return &NotificationHandler{
		handlers: make(map[string]func(context.Context, *models.NotificationEvent) error),
		logger:   util.GetLogger(),
	}
}

// On registers handler for eventType, replacing any earlier one.
func (nh *NotificationHandler) On(eventType string, handler func(context.Context, *models.NotificationEvent) error) {
	nh.handlers[eventType] = handler
}

// HandleMessage routes messages to appropriate handlers
func (nh *NotificationHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var event models.NotificationEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		// Poison message: log and let it be committed.
		nh.logger.Error("Dropping unreadable notification", zap.Error(err))
		return nil
	}

	eventType := eventTypeOf(msg)
	if eventType == "" {
		eventType = event.EventType
	}

	handler, ok := nh.handlers[eventType]
	if !ok {
		nh.logger.Warn("Unhandled notification type", zap.String("event_type", eventType))
		return nil
	}

	nh.logger.Debug("Handling notification",
		zap.String("event_type", eventType),
		zap.String("event_id", event.EventID),
		zap.Int64("order_id", event.OrderID))
	return handler(ctx, &event)
}
