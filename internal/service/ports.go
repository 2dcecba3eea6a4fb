package service

import (
	"context"
	"time"

	"storefront/internal/models"

	"github.com/shopspring/decimal"
)

// OrderStore is the persistence the order service needs. Implemented by
// *store.Store.
type OrderStore interface {
	GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error)
	CreateOrderTx(ctx context.Context, order *models.Order, items []models.OrderItem) error
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrderByPaymentReference(ctx context.Context, id int64, reference string) (*models.Order, error)
	GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	SetPaymentReference(ctx context.Context, orderID int64, reference string) error
	ApplyTransition(ctx context.Context, orderID int64, tr models.Transition) (*models.Order, bool, error)
	DeleteUnpaidOrderTx(ctx context.Context, orderID int64) (bool, error)
	ListVisibleOrders(ctx context.Context, userID int64) ([]models.Order, error)
	HideOrders(ctx context.Context, userID int64) (int64, error)
	ListOrdersUpdatedSince(ctx context.Context, since time.Time) ([]models.Order, error)
}

type LedgerStore interface {
	GetOrCreateEntry(ctx context.Context, entry *models.AccountingEntry) (*models.AccountingEntry, bool, error)
	FindEntry(ctx context.Context, orderID int64, entryType string) (*models.AccountingEntry, error)
	UpdateEntryAmount(ctx context.Context, entryID int64, amount decimal.Decimal) error
	ListEntriesForOrder(ctx context.Context, orderID int64) ([]models.AccountingEntry, error)
}

type ProductReader interface {
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
	GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error)
}

// Cart is what checkout needs from a user's cart.
type Cart interface {
	CartLines(ctx context.Context, userID int64) ([]models.CartLine, error)
	ClearCart(ctx context.Context, userID int64) error
}

type CartStore interface {
	Cart
	AddToCart(ctx context.Context, userID, productID int64, quantity int) (int, error)
	SetCartQuantity(ctx context.Context, userID, productID int64, quantity int) error
	RemoveFromCart(ctx context.Context, userID, productID int64) error
}

type Locker interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, bool, error)
	ReleaseLock(ctx context.Context, lockKey, token string) error
}

type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event *models.OrderEvent) error
}

type NotificationPublisher interface {
	PublishNotification(ctx context.Context, event *models.NotificationEvent) error
}

// Notifier delivers customer and operator messages. Calls never block on
// delivery and never report failure to the caller.
type Notifier interface {
	SendOrderConfirmation(ctx context.Context, order *models.Order, recipient string)
	SendCancellationAlert(ctx context.Context, order *models.Order, actor string)
}
