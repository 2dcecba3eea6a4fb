package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"storefront/internal/models"
	"storefront/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const notifyTimeout = 10 * time.Second

// KafkaNotifier hands notifications to the notification topic in the
// background. The caller never waits on, or learns about, delivery.
type KafkaNotifier struct {
	publisher     NotificationPublisher
	operatorEmail string
	logger        *zap.Logger
	wg            sync.WaitGroup
}

func NewKafkaNotifier(publisher NotificationPublisher, operatorEmail string) *KafkaNotifier {
	return &KafkaNotifier{
		publisher:     publisher,
		operatorEmail: operatorEmail,
		logger:        util.GetLogger(),
	}
}

// SendOrderConfirmation sends the invoice to the customer and a copy to the
// operator.
func (n *KafkaNotifier) SendOrderConfirmation(ctx context.Context, order *models.Order, recipient string) {
	recipients := make([]string, 0, 2)
	if recipient != "" {
		recipients = append(recipients, recipient)
	}
	if n.operatorEmail != "" && n.operatorEmail != recipient {
		recipients = append(recipients, n.operatorEmail)
	}
	if len(recipients) == 0 {
		n.logger.Warn("Order confirmation has no recipients", zap.Int64("order_id", order.ID))
		return
	}

	n.send(ctx, &models.NotificationEvent{
		BaseEvent:  newNotificationBase(models.EventTypeOrderConfirmation),
		OrderID:    order.ID,
		Recipients: recipients,
		Subject:    fmt.Sprintf("Order Invoice - #%d", order.ID),
		Body: fmt.Sprintf("Thank you for your order #%d. Total: %s. Ship to: %s.",
			order.ID, order.Total.StringFixed(2), order.ShippingAddress),
		Total: order.Total,
	})
}

// SendCancellationAlert tells the operator who cancelled an order.
func (n *KafkaNotifier) SendCancellationAlert(ctx context.Context, order *models.Order, actor string) {
	if n.operatorEmail == "" {
		n.logger.Warn("No operator email configured, cancellation alert skipped", zap.Int64("order_id", order.ID))
		return
	}

	n.send(ctx, &models.NotificationEvent{
		BaseEvent:  newNotificationBase(models.EventTypeCancellationAlert),
		OrderID:    order.ID,
		Recipients: []string{n.operatorEmail},
		Subject:    fmt.Sprintf("Order #%d Cancelled", order.ID),
		Body:       fmt.Sprintf("Order #%d was cancelled by user %s.", order.ID, actor),
		Total:      order.Total,
		Actor:      actor,
	})
}

// Wait blocks until in-flight sends finish. Used on shutdown.
func (n *KafkaNotifier) Wait() {
	n.wg.Wait()
}

func (n *KafkaNotifier) send(ctx context.Context, event *models.NotificationEvent) {
	ctx = context.WithoutCancel(ctx)

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()

		ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
		defer cancel()

		if err := n.publisher.PublishNotification(ctx, event); err != nil {
			util.NotificationsTotal.WithLabelValues(event.EventType, "failed").Inc()
			n.logger.Error("Failed to queue notification",
				zap.String("event_type", event.EventType),
				zap.Int64("order_id", event.OrderID),
				zap.Error(err))
			return
		}
		util.NotificationsTotal.WithLabelValues(event.EventType, "queued").Inc()
	}()
}

func newNotificationBase(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}
