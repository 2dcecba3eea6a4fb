package models

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Product represents a product in the catalog
type Product struct {
	ID                 int64           `db:"id" json:"id"`
	Name               string          `db:"name" json:"name"`
	Price              decimal.Decimal `db:"price" json:"price"`
	DiscountPercentage int             `db:"discount_percentage" json:"discount_percentage"`
	PurchasePrice      decimal.Decimal `db:"purchase_price" json:"-"`
	Stock              int             `db:"stock" json:"stock"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at" json:"updated_at"`
}

// DiscountedPrice is price × (1 − discount/100), rounded to cents.
func (p *Product) DiscountedPrice() decimal.Decimal {
	if p.DiscountPercentage <= 0 {
		return p.Price.Round(2)
	}
	off := p.Price.Mul(decimal.NewFromInt(int64(p.DiscountPercentage))).Div(hundred)
	return p.Price.Sub(off).Round(2)
}

// CartLine is one product/quantity pair from a user's cart.
type CartLine struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

// CartView is a cart resolved against the catalog.
type CartView struct {
	Lines []CartViewLine  `json:"lines"`
	Total decimal.Decimal `json:"total"`
}

type CartViewLine struct {
	Product  Product         `json:"product"`
	Quantity int             `json:"quantity"`
	Subtotal decimal.Decimal `json:"subtotal"`
}

// Order represents a customer order
type Order struct {
	ID                int64           `db:"id" json:"id"`
	UserID            int64           `db:"user_id" json:"user_id"`
	Total             decimal.Decimal `db:"total" json:"total"`
	Status            string          `db:"status" json:"status"`
	PaymentStatus     string          `db:"payment_status" json:"payment_status"`
	PaymentReference  sql.NullString  `db:"payment_reference" json:"-"`
	ShippingAddress   string          `db:"shipping_address" json:"shipping_address"`
	ContactEmail      string          `db:"contact_email" json:"contact_email"`
	VisibleToCustomer bool            `db:"visible_to_customer" json:"-"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

// Reference returns the payment reference or "" when none is stamped yet.
func (o *Order) Reference() string {
	if o.PaymentReference.Valid {
		return o.PaymentReference.String
	}
	return ""
}

// IsCashOnDelivery reports whether the order was placed on the cash path.
func (o *Order) IsCashOnDelivery() bool {
	return o.Reference() == PaymentReferenceCOD
}

// OrderItem represents items in an order. Price and PurchasePrice are frozen
// at placement time.
type OrderItem struct {
	ID            int64           `db:"id" json:"id"`
	OrderID       int64           `db:"order_id" json:"order_id"`
	ProductID     int64           `db:"product_id" json:"product_id"`
	ProductName   string          `db:"product_name" json:"product_name"`
	Quantity      int             `db:"quantity" json:"quantity"`
	Price         decimal.Decimal `db:"price" json:"price"`
	PurchasePrice decimal.Decimal `db:"purchase_price" json:"-"`
}

func (i *OrderItem) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

func (i *OrderItem) Profit() decimal.Decimal {
	return i.Price.Sub(i.PurchasePrice).Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// AccountingEntry is a ledger row derived from an order's financial state.
type AccountingEntry struct {
	ID             int64           `db:"id" json:"id"`
	Date           time.Time       `db:"entry_date" json:"date"`
	Description    string          `db:"description" json:"description"`
	Amount         decimal.Decimal `db:"amount" json:"amount"`
	EntryType      string          `db:"entry_type" json:"entry_type"`
	RelatedOrderID sql.NullInt64   `db:"related_order_id" json:"related_order_id"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
}

// GatewaySettings is the operator-editable singleton that overrides static
// gateway credentials.
type GatewaySettings struct {
	StoreID       string `db:"gateway_store_id"`
	StorePassword string `db:"gateway_store_password"`
	Sandbox       bool   `db:"gateway_sandbox"`
}

// Order statuses
const (
	OrderStatusPending    = "pending"
	OrderStatusProcessing = "processing"
	OrderStatusShipped    = "shipped"
	OrderStatusDelivered  = "delivered"
	OrderStatusCancelled  = "cancelled"
)

// Payment statuses
const (
	PaymentStatusPending  = "pending"
	PaymentStatusPaid     = "paid"
	PaymentStatusFailed   = "failed"
	PaymentStatusRefunded = "refunded"
)

// Ledger entry types
const (
	EntryTypeIncome  = "income"
	EntryTypeExpense = "expense"
)

const PaymentReferenceCOD = "COD"

// Payment methods accepted at checkout
const (
	PaymentMethodCash    = "cash"
	PaymentMethodGateway = "gateway"
)
