package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"storefront/internal/models"

	"github.com/jmoiron/sqlx"
)

// CreateOrderTx inserts the order, decrements stock for every item and
// inserts the items in one transaction. Any failure leaves no trace.
func (s *Store) CreateOrderTx(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO orders (user_id, total, status, payment_status, payment_reference, shipping_address, contact_email)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, visible_to_customer, created_at, updated_at`

	err = tx.GetContext(ctx, order, query,
		order.UserID, order.Total, order.Status, order.PaymentStatus,
		order.PaymentReference, order.ShippingAddress, order.ContactEmail)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	for i := range items {
		if err := decrementStock(ctx, tx, items[i].ProductID, items[i].Quantity); err != nil {
			return err
		}

		items[i].OrderID = order.ID
		err = tx.GetContext(ctx, &items[i].ID, `
			INSERT INTO order_items (order_id, product_id, product_name, quantity, price, purchase_price)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id`,
			items[i].OrderID, items[i].ProductID, items[i].ProductName,
			items[i].Quantity, items[i].Price, items[i].PurchasePrice)
		if err != nil {
			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}

	return tx.Commit()
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", models.ErrOrderNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByPaymentReference returns the order only when both id and
// reference match.
func (s *Store) GetOrderByPaymentReference(ctx context.Context, id int64, reference string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order,
		"SELECT * FROM orders WHERE id = $1 AND payment_reference = $2", id, reference)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d/%s", models.ErrOrderNotFound, id, reference)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderItems retrieves all items for an order
func (s *Store) GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	return items, err
}

// SetPaymentReference stamps the gateway transaction token on an order.
func (s *Store) SetPaymentReference(ctx context.Context, orderID int64, reference string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE orders SET payment_reference = $1, updated_at = NOW() WHERE id = $2",
		reference, orderID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %d", models.ErrOrderNotFound, orderID)
	}
	return nil
}

// ApplyTransition locks the order row and applies tr if the current state
// allows it. When it does not, the locked order is returned unchanged with
// applied=false.
func (s *Store) ApplyTransition(ctx context.Context, orderID int64, tr models.Transition) (*models.Order, bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	order, err := lockOrder(ctx, tx, orderID)
	if err != nil {
		return nil, false, err
	}

	if !tr.Allows(order) {
		return order, false, nil
	}

	err = tx.GetContext(ctx, order, `
		UPDATE orders
		SET status = COALESCE(NULLIF($1, ''), status),
		    payment_status = COALESCE(NULLIF($2, ''), payment_status),
		    updated_at = NOW()
		WHERE id = $3
		RETURNING *`,
		tr.ToStatus, tr.ToPayment, orderID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to update order: %w", err)
	}

	if tr.Restock {
		if err := restockOrderItems(ctx, tx, orderID); err != nil {
			return nil, false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return order, true, nil
}

// DeleteUnpaidOrderTx removes a pending, unpaid order and returns its stock.
// It reports false without touching anything when the order has moved on.
func (s *Store) DeleteUnpaidOrderTx(ctx context.Context, orderID int64) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	order, err := lockOrder(ctx, tx, orderID)
	if err != nil {
		return false, err
	}

	if order.Status != models.OrderStatusPending || order.PaymentStatus == models.PaymentStatusPaid {
		return false, nil
	}

	if err := restockOrderItems(ctx, tx, orderID); err != nil {
		return false, err
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM orders WHERE id = $1", orderID); err != nil {
		return false, fmt.Errorf("failed to delete order: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// ListVisibleOrders retrieves the orders a customer has not hidden
func (s *Store) ListVisibleOrders(ctx context.Context, userID int64) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE user_id = $1 AND visible_to_customer ORDER BY created_at DESC", userID)
	return orders, err
}

// HideOrders soft-deletes a customer's order history.
func (s *Store) HideOrders(ctx context.Context, userID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE orders SET visible_to_customer = FALSE WHERE user_id = $1 AND visible_to_customer",
		userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListOrdersUpdatedSince feeds ledger reconciliation.
func (s *Store) ListOrdersUpdatedSince(ctx context.Context, since time.Time) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE updated_at >= $1 ORDER BY id", since)
	return orders, err
}

func lockOrder(ctx context.Context, tx *sqlx.Tx, orderID int64) (*models.Order, error) {
	var order models.Order
	err := tx.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1 FOR UPDATE", orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", models.ErrOrderNotFound, orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock order: %w", err)
	}
	return &order, nil
}
