package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderPlaced    = "ORDER_PLACED"
	EventTypeOrderPaid      = "ORDER_PAID"
	EventTypeOrderCancelled = "ORDER_CANCELLED"
	EventTypeOrderDiscarded = "ORDER_DISCARDED"
	EventTypeOrderUpdated   = "ORDER_UPDATED"

	EventTypeOrderConfirmation = "NOTIFY_ORDER_CONFIRMATION"
	EventTypeCancellationAlert = "NOTIFY_CANCELLATION_ALERT"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderEvent is published on the order topic for every committed transition.
type OrderEvent struct {
	BaseEvent
	OrderID       int64           `json:"order_id"`
	UserID        int64           `json:"user_id"`
	Total         decimal.Decimal `json:"total"`
	Status        string          `json:"status"`
	PaymentStatus string          `json:"payment_status"`
	PaymentMethod string          `json:"payment_method,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	Items         []OrderItemData `json:"items,omitempty"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

// NotificationEvent asks the notification worker to send a message.
type NotificationEvent struct {
	BaseEvent
	OrderID    int64           `json:"order_id"`
	Recipients []string        `json:"recipients"`
	Subject    string          `json:"subject"`
	Body       string          `json:"body"`
	Total      decimal.Decimal `json:"total"`
	Actor      string          `json:"actor,omitempty"`
}
