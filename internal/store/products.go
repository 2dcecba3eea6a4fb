package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"storefront/internal/models"

	"github.com/jmoiron/sqlx"
)

// GetProductByID retrieves a product by ID
func (s *Store) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product, "SELECT * FROM products WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", models.ErrProductNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// GetProductsByIDs retrieves multiple products by IDs
func (s *Store) GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error) {
	if len(ids) == 0 {
		return []models.Product{}, nil
	}

	query, args, err := sqlx.In("SELECT * FROM products WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var products []models.Product
	err = s.db.SelectContext(ctx, &products, query, args...)
	return products, err
}

// DecrementStock subtracts delta from a product's stock, failing with
// *models.InsufficientStockError when that would go negative.
func (s *Store) DecrementStock(ctx context.Context, productID int64, delta int) error {
	return decrementStock(ctx, s.db, productID, delta)
}

func decrementStock(ctx context.Context, ext sqlx.ExtContext, productID int64, delta int) error {
	if delta <= 0 {
		return models.ErrInvalidQuantity
	}

	res, err := ext.ExecContext(ctx,
		"UPDATE products SET stock = stock - $1, updated_at = NOW() WHERE id = $2 AND stock >= $1",
		delta, productID)
	if err != nil {
		return fmt.Errorf("failed to decrement stock: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var current struct {
		Name  string `db:"name"`
		Stock int    `db:"stock"`
	}
	err = sqlx.GetContext(ctx, ext, &current, "SELECT name, stock FROM products WHERE id = $1", productID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %d", models.ErrProductNotFound, productID)
	}
	if err != nil {
		return fmt.Errorf("failed to read stock: %w", err)
	}

	return &models.InsufficientStockError{
		ProductID:   productID,
		ProductName: current.Name,
		Available:   current.Stock,
		Requested:   delta,
	}
}

// restockOrderItems returns every item of an order to the shelf. Items are
// summed per product since an order may list the same product twice.
func restockOrderItems(ctx context.Context, tx *sqlx.Tx, orderID int64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE products p
		SET stock = p.stock + r.qty, updated_at = NOW()
		FROM (
			SELECT product_id, SUM(quantity) AS qty
			FROM order_items
			WHERE order_id = $1
			GROUP BY product_id
		) r
		WHERE p.id = r.product_id`, orderID)
	if err != nil {
		return fmt.Errorf("failed to restock order %d: %w", orderID, err)
	}
	return nil
}
