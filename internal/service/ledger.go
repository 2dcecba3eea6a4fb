package service

import (
	"context"
	"database/sql"
	"fmt"

	"storefront/internal/models"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// LedgerSynchronizer mirrors an order's financial state into at most one
// income and one expense entry.
type LedgerSynchronizer struct {
	store  LedgerStore
	logger *zap.Logger
}

func NewLedgerSynchronizer(store LedgerStore) *LedgerSynchronizer {
	return &LedgerSynchronizer{
		store:  store,
		logger: util.GetLogger(),
	}
}

// Sync brings the ledger in line with order. Running it again on an
// unchanged order changes nothing.
func (l *LedgerSynchronizer) Sync(ctx context.Context, order *models.Order) error {
	ctx, span := util.StartOrderSpan(ctx, "LedgerSynchronizer.Sync", order.ID)
	defer span.End()

	if order.PaymentStatus == models.PaymentStatusPaid {
		if err := l.recognizeRevenue(ctx, order); err != nil {
			util.RecordError(span, err)
			return err
		}
	}

	if order.Status == models.OrderStatusCancelled || order.PaymentStatus == models.PaymentStatusRefunded {
		if err := l.recognizeReversal(ctx, order); err != nil {
			util.RecordError(span, err)
			return err
		}
	}

	return nil
}

func (l *LedgerSynchronizer) recognizeRevenue(ctx context.Context, order *models.Order) error {
	entry, created, err := l.store.GetOrCreateEntry(ctx, &models.AccountingEntry{
		Date:           order.CreatedAt,
		Description:    fmt.Sprintf("Order #%d Revenue", order.ID),
		Amount:         order.Total,
		EntryType:      models.EntryTypeIncome,
		RelatedOrderID: sql.NullInt64{Int64: order.ID, Valid: true},
	})
	if err != nil {
		return fmt.Errorf("failed to record revenue for order %d: %w", order.ID, err)
	}

	if created {
		util.LedgerEntriesTotal.WithLabelValues(models.EntryTypeIncome, "created").Inc()
		l.logger.Info("Revenue recorded",
			zap.Int64("order_id", order.ID),
			zap.String("amount", order.Total.String()))
		return nil
	}

	if !entry.Amount.Equal(order.Total) {
		if err := l.store.UpdateEntryAmount(ctx, entry.ID, order.Total); err != nil {
			return fmt.Errorf("failed to correct revenue for order %d: %w", order.ID, err)
		}
		util.LedgerEntriesTotal.WithLabelValues(models.EntryTypeIncome, "corrected").Inc()
		l.logger.Info("Revenue corrected",
			zap.Int64("order_id", order.ID),
			zap.String("from", entry.Amount.String()),
			zap.String("to", order.Total.String()))
	}
	return nil
}

func (l *LedgerSynchronizer) recognizeReversal(ctx context.Context, order *models.Order) error {
	income, err := l.store.FindEntry(ctx, order.ID, models.EntryTypeIncome)
	if err != nil {
		return fmt.Errorf("failed to look up revenue for order %d: %w", order.ID, err)
	}
	if income == nil {
		return nil
	}

	_, created, err := l.store.GetOrCreateEntry(ctx, &models.AccountingEntry{
		Date:           order.UpdatedAt,
		Description:    fmt.Sprintf("Refund/Cancel Order #%d", order.ID),
		Amount:         order.Total,
		EntryType:      models.EntryTypeExpense,
		RelatedOrderID: sql.NullInt64{Int64: order.ID, Valid: true},
	})
	if err != nil {
		return fmt.Errorf("failed to record reversal for order %d: %w", order.ID, err)
	}

	if created {
		util.LedgerEntriesTotal.WithLabelValues(models.EntryTypeExpense, "created").Inc()
		l.logger.Info("Reversal recorded",
			zap.Int64("order_id", order.ID),
			zap.String("amount", order.Total.String()))
	}
	return nil
}

// Entries lists the ledger entries recorded against an order.
func (l *LedgerSynchronizer) Entries(ctx context.Context, orderID int64) ([]models.AccountingEntry, error) {
	return l.store.ListEntriesForOrder(ctx, orderID)
}
