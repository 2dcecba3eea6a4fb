package worker

import (
	"context"
	"fmt"

	"storefront/internal/broker"
	"storefront/internal/models"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// Source feeds messages to a handler until its context ends.
// *broker.Consumer is the production implementation.
type Source interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// Mail is a rendered notification ready for delivery.
type Mail struct {
	To      []string
	Subject string
	Body    string
}

// Mailer delivers mail. SMTP and templating live behind it.
type Mailer interface {
	Send(ctx context.Context, mail Mail) error
}

// LogMailer writes mail to the log instead of sending it.
type LogMailer struct {
	logger *zap.Logger
}

func NewLogMailer() *LogMailer {
	return &LogMailer{logger: util.GetLogger()}
}

func (m *LogMailer) Send(ctx context.Context, mail Mail) error {
	m.logger.Info("Mail",
		zap.Strings("to", mail.To),
		zap.String("subject", mail.Subject),
		zap.String("body", mail.Body))
	return nil
}

// NotificationWorker drains the notification topic into a Mailer
type NotificationWorker struct {
	source  Source
	handler *broker.NotificationHandler
	mailer  Mailer
	logger  *zap.Logger
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(source Source, mailer Mailer) *NotificationWorker {
	w := &NotificationWorker{
		source:  source,
		handler: broker.NewNotificationHandler(),
		mailer:  mailer,
		logger:  util.GetLogger(),
	}

	w.handler.On(models.EventTypeOrderConfirmation, w.deliver)
	w.handler.On(models.EventTypeCancellationAlert, w.deliver)

	return w
}

// Start blocks consuming until ctx is cancelled
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notification worker")
	return w.source.StartConsuming(ctx, w.handler.HandleMessage)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	w.logger.Info("Stopping notification worker")
	return w.source.Close()
}

// deliver returns the mailer's error so the message is retried.
func (w *NotificationWorker) deliver(ctx context.Context, event *models.NotificationEvent) error {
	if len(event.Recipients) == 0 {
		w.logger.Warn("Notification without recipients dropped",
			zap.String("event_type", event.EventType),
			zap.Int64("order_id", event.OrderID))
		return nil
	}

	err := w.mailer.Send(ctx, Mail{
		To:      event.Recipients,
		Subject: event.Subject,
		Body:    event.Body,
	})
	if err != nil {
		util.NotificationsTotal.WithLabelValues(event.EventType, "undelivered").Inc()
		return fmt.Errorf("failed to deliver %s for order %d: %w", event.EventType, event.OrderID, err)
	}

	util.NotificationsTotal.WithLabelValues(event.EventType, "delivered").Inc()
	return nil
}
