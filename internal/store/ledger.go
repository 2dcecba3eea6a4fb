package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"storefront/internal/models"

	"github.com/shopspring/decimal"
)

// GetOrCreateEntry inserts entry unless one already exists for the same
// (related_order_id, entry_type). The unique index makes racing callers
// converge on a single row. created reports whether this call inserted it.
func (s *Store) GetOrCreateEntry(ctx context.Context, entry *models.AccountingEntry) (*models.AccountingEntry, bool, error) {
	var inserted models.AccountingEntry
	err := s.db.GetContext(ctx, &inserted, `
		INSERT INTO accounting_entries (entry_date, description, amount, entry_type, related_order_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (related_order_id, entry_type) DO NOTHING
		RETURNING *`,
		entry.Date, entry.Description, entry.Amount, entry.EntryType, entry.RelatedOrderID)
	if err == nil {
		return &inserted, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to insert accounting entry: %w", err)
	}

	existing, err := s.FindEntry(ctx, entry.RelatedOrderID.Int64, entry.EntryType)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, fmt.Errorf("accounting entry for order %d vanished after conflict", entry.RelatedOrderID.Int64)
	}
	return existing, false, nil
}

// FindEntry returns nil, nil when the order has no entry of that type.
func (s *Store) FindEntry(ctx context.Context, orderID int64, entryType string) (*models.AccountingEntry, error) {
	var entry models.AccountingEntry
	err := s.db.GetContext(ctx, &entry,
		"SELECT * FROM accounting_entries WHERE related_order_id = $1 AND entry_type = $2",
		orderID, entryType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *Store) UpdateEntryAmount(ctx context.Context, entryID int64, amount decimal.Decimal) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE accounting_entries SET amount = $1 WHERE id = $2", amount, entryID)
	return err
}

func (s *Store) ListEntriesForOrder(ctx context.Context, orderID int64) ([]models.AccountingEntry, error) {
	var entries []models.AccountingEntry
	err := s.db.SelectContext(ctx, &entries,
		"SELECT * FROM accounting_entries WHERE related_order_id = $1 ORDER BY id", orderID)
	return entries, err
}
