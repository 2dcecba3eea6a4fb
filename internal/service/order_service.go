package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	"storefront/internal/auth"
	"storefront/internal/models"
	"storefront/internal/payment"
	"storefront/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var ErrUnknownPaymentMethod = errors.New("unknown payment method")

// Gateway callback routes, relative to the public base URL.
const (
	CallbackPathSuccess = "/api/v1/payments/gateway/success"
	CallbackPathFail    = "/api/v1/payments/gateway/fail"
	CallbackPathCancel  = "/api/v1/payments/gateway/cancel"
)

type OrderServiceConfig struct {
	PublicURL       string
	CallbackLockTTL time.Duration
}

// OrderService places orders and drives them through their lifecycle
type OrderService struct {
	store    OrderStore
	cart     Cart
	payments payment.Adapter
	ledger   *LedgerSynchronizer
	notifier Notifier
	events   OrderEventPublisher
	locker   Locker
	cfg      OrderServiceConfig
	logger   *zap.Logger
}

// NewOrderService creates a new order service. locker may be nil, in which
// case duplicate callbacks rely on the store's guarded updates alone.
func NewOrderService(
	store OrderStore,
	cart Cart,
	payments payment.Adapter,
	ledger *LedgerSynchronizer,
	notifier Notifier,
	events OrderEventPublisher,
	locker Locker,
	cfg OrderServiceConfig,
) *OrderService {
	if cfg.CallbackLockTTL <= 0 {
		cfg.CallbackLockTTL = 30 * time.Second
	}
	return &OrderService{
		store:    store,
		cart:     cart,
		payments: payments,
		ledger:   ledger,
		notifier: notifier,
		events:   events,
		locker:   locker,
		cfg:      cfg,
		logger:   util.GetLogger(),
	}
}

// PlaceOrderRequest represents a checkout submission
type PlaceOrderRequest struct {
	ShippingAddress string `json:"shipping_address" binding:"required,max=1000"`
	ContactEmail    string `json:"contact_email" binding:"omitempty,email"`
	PaymentMethod   string `json:"payment_method" binding:"required,oneof=cash gateway"`
}

// PlaceOrderResult is the placed order plus, on the gateway path, where to
// send the browser next.
type PlaceOrderResult struct {
	Order       *models.Order      `json:"order"`
	Items       []models.OrderItem `json:"items"`
	RedirectURL string             `json:"redirect_url,omitempty"`
}

// PlaceOrder turns the caller's cart into an order.
func (s *OrderService) PlaceOrder(ctx context.Context, id auth.Identity, req *PlaceOrderRequest) (*PlaceOrderResult, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.PlaceOrder")
	defer span.End()

	if req.PaymentMethod != models.PaymentMethodCash && req.PaymentMethod != models.PaymentMethodGateway {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPaymentMethod, req.PaymentMethod)
	}

	lines, err := s.cart.CartLines(ctx, id.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	if len(lines) == 0 {
		return nil, models.ErrEmptyCart
	}

	products, err := s.loadProducts(ctx, lines)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("invalid_items").Inc()
		return nil, err
	}

	if err := checkStock(lines, products); err != nil {
		util.OrdersFailedTotal.WithLabelValues("insufficient_stock").Inc()
		util.StockConflictsTotal.Inc()
		return nil, err
	}

	items, total := buildItems(lines, products)

	email := req.ContactEmail
	if email == "" {
		email = id.Email
	}

	order := &models.Order{
		UserID:          id.UserID,
		Total:           total,
		Status:          models.OrderStatusPending,
		PaymentStatus:   models.PaymentStatusPending,
		ShippingAddress: req.ShippingAddress,
		ContactEmail:    email,
	}
	if req.PaymentMethod == models.PaymentMethodCash {
		order.PaymentReference = sql.NullString{String: s.payments.Cash().Reference, Valid: true}
	}

	start := time.Now()
	err = s.store.CreateOrderTx(ctx, order, items)
	util.OrderPlacementLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		var stockErr *models.InsufficientStockError
		if errors.As(err, &stockErr) {
			util.OrdersFailedTotal.WithLabelValues("insufficient_stock").Inc()
			util.StockConflictsTotal.Inc()
			s.logger.Info("Checkout lost stock race",
				zap.Int64("user_id", id.UserID),
				zap.Int64("product_id", stockErr.ProductID))
			return nil, stockErr
		}
		util.OrdersFailedTotal.WithLabelValues("db_error").Inc()
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.Int64("user_id", order.UserID),
		zap.String("total", order.Total.String()),
		zap.String("payment_method", req.PaymentMethod))

	s.syncLedger(ctx, order)

	if req.PaymentMethod == models.PaymentMethodCash {
		return s.completeCashOrder(ctx, order, items)
	}
	return s.openGatewaySession(ctx, id, order, items)
}

func (s *OrderService) completeCashOrder(ctx context.Context, order *models.Order, items []models.OrderItem) (*PlaceOrderResult, error) {
	s.clearCart(ctx, order.UserID)
	s.notifier.SendOrderConfirmation(ctx, order, order.ContactEmail)
	s.publish(ctx, models.EventTypeOrderPlaced, order, models.PaymentMethodCash, "", items)
	util.OrdersPlacedTotal.WithLabelValues(models.PaymentMethodCash).Inc()

	return &PlaceOrderResult{Order: order, Items: items}, nil
}

// openGatewaySession stamps the transaction token before the session is
// requested, so a callback can never arrive for an order without one.
func (s *OrderService) openGatewaySession(ctx context.Context, id auth.Identity, order *models.Order, items []models.OrderItem) (*PlaceOrderResult, error) {
	token := payment.TokenForOrder(order.ID)

	if err := s.store.SetPaymentReference(ctx, order.ID, token); err != nil {
		s.discard(ctx, order.ID, "reference_failed")
		return nil, &models.GatewaySessionError{Reason: "could not record transaction", Err: err}
	}
	order.PaymentReference = sql.NullString{String: token, Valid: true}

	session, err := s.payments.BeginGatewaySession(ctx, payment.SessionRequest{
		Amount: order.Total,
		Token:  token,
		Callbacks: payment.CallbackURLs{
			Success: s.cfg.PublicURL + CallbackPathSuccess,
			Fail:    s.cfg.PublicURL + CallbackPathFail,
			Cancel:  s.cfg.PublicURL + CallbackPathCancel,
		},
		Customer: payment.CustomerInfo{
			Name:    id.Username,
			Email:   order.ContactEmail,
			Address: order.ShippingAddress,
		},
		Description: fmt.Sprintf("Order #%d", order.ID),
	})
	if err != nil {
		s.logger.Warn("Gateway session failed, rolling back order",
			zap.Int64("order_id", order.ID),
			zap.Error(err))
		s.discard(ctx, order.ID, "session_failed")
		util.OrdersFailedTotal.WithLabelValues("gateway_session").Inc()

		var sessErr *models.GatewaySessionError
		if errors.As(err, &sessErr) {
			return nil, sessErr
		}
		return nil, &models.GatewaySessionError{Reason: "gateway error", Err: err}
	}

	s.publish(ctx, models.EventTypeOrderPlaced, order, models.PaymentMethodGateway, "", items)
	util.OrdersPlacedTotal.WithLabelValues(models.PaymentMethodGateway).Inc()

	return &PlaceOrderResult{Order: order, Items: items, RedirectURL: session.RedirectURL}, nil
}

func (s *OrderService) loadProducts(ctx context.Context, lines []models.CartLine) (map[int64]*models.Product, error) {
	ids := make([]int64, len(lines))
	for i, line := range lines {
		ids[i] = line.ProductID
	}

	products, err := s.store.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load products: %w", err)
	}

	productMap := make(map[int64]*models.Product, len(products))
	for i := range products {
		productMap[products[i].ID] = &products[i]
	}

	for _, line := range lines {
		if _, ok := productMap[line.ProductID]; !ok {
			return nil, fmt.Errorf("%w: %d", models.ErrProductNotFound, line.ProductID)
		}
	}
	return productMap, nil
}

func checkStock(lines []models.CartLine, products map[int64]*models.Product) error {
	for _, line := range lines {
		p := products[line.ProductID]
		if line.Quantity > p.Stock {
			return &models.InsufficientStockError{
				ProductID:   p.ID,
				ProductName: p.Name,
				Available:   p.Stock,
				Requested:   line.Quantity,
			}
		}
	}
	return nil
}

// buildItems snapshots live prices into order items and sums the total.
func buildItems(lines []models.CartLine, products map[int64]*models.Product) ([]models.OrderItem, decimal.Decimal) {
	items := make([]models.OrderItem, 0, len(lines))
	total := decimal.Zero
	for _, line := range lines {
		p := products[line.ProductID]
		item := models.OrderItem{
			ProductID:     p.ID,
			ProductName:   p.Name,
			Quantity:      line.Quantity,
			Price:         p.DiscountedPrice(),
			PurchasePrice: p.PurchasePrice,
		}
		total = total.Add(item.Subtotal())
		items = append(items, item)
	}
	return items, total
}

// CallbackOutcome describes what a gateway notification did.
type CallbackOutcome string

const (
	OutcomePaid        CallbackOutcome = "paid"
	OutcomeAlreadyPaid CallbackOutcome = "already_paid"
	OutcomeDeclined    CallbackOutcome = "declined"
	OutcomeDiscarded   CallbackOutcome = "discarded"
	OutcomeIgnored     CallbackOutcome = "ignored"
	OutcomeInProgress  CallbackOutcome = "in_progress"
)

type CallbackResult struct {
	OrderID int64           `json:"order_id"`
	Outcome CallbackOutcome `json:"outcome"`
}

// HandleGatewaySuccess settles the server-to-server success notification.
// Replays of an already applied notification are no-ops.
func (s *OrderService) HandleGatewaySuccess(ctx context.Context, form url.Values) (*CallbackResult, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.HandleGatewaySuccess")
	defer span.End()

	res, order, err := s.resolveCallback(ctx, form)
	if err != nil {
		util.GatewayCallbacksTotal.WithLabelValues("success", "rejected").Inc()
		util.RecordError(span, err)
		return nil, err
	}

	release, ok := s.lockCallback(ctx, order.ID)
	if !ok {
		util.GatewayCallbacksTotal.WithLabelValues("success", string(OutcomeInProgress)).Inc()
		return &CallbackResult{OrderID: order.ID, Outcome: OutcomeInProgress}, nil
	}
	defer release()

	if res.Verdict != payment.VerdictSuccess {
		outcome, err := s.discardUnpaid(ctx, order, OutcomeDeclined, "declined")
		if err != nil {
			return nil, err
		}
		util.GatewayCallbacksTotal.WithLabelValues("success", string(outcome)).Inc()
		return &CallbackResult{OrderID: order.ID, Outcome: outcome}, nil
	}

	updated, applied, err := s.store.ApplyTransition(ctx, order.ID, models.Transition{
		FromStatus:  []string{models.OrderStatusPending, models.OrderStatusProcessing},
		FromPayment: []string{models.PaymentStatusPending},
		ToStatus:    models.OrderStatusProcessing,
		ToPayment:   models.PaymentStatusPaid,
	})
	if err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to mark order paid: %w", err)
	}

	if !applied {
		if updated.PaymentStatus == models.PaymentStatusPaid {
			util.GatewayCallbacksTotal.WithLabelValues("success", string(OutcomeAlreadyPaid)).Inc()
			s.logger.Info("Duplicate payment callback ignored", zap.Int64("order_id", order.ID))
			return &CallbackResult{OrderID: order.ID, Outcome: OutcomeAlreadyPaid}, nil
		}
		util.GatewayCallbacksTotal.WithLabelValues("success", "illegal").Inc()
		return nil, &models.IllegalTransitionError{OrderID: order.ID, From: updated.Status, To: models.OrderStatusProcessing}
	}

	s.logger.Info("Order paid",
		zap.Int64("order_id", updated.ID),
		zap.String("tran_id", res.Token),
		zap.String("val_id", res.ValidationID))

	s.syncLedger(ctx, updated)
	s.clearCart(ctx, updated.UserID)
	s.notifier.SendOrderConfirmation(ctx, updated, updated.ContactEmail)
	s.publish(ctx, models.EventTypeOrderPaid, updated, models.PaymentMethodGateway, "", nil)

	util.OrdersPaidTotal.WithLabelValues("gateway").Inc()
	util.GatewayCallbacksTotal.WithLabelValues("success", string(OutcomePaid)).Inc()
	return &CallbackResult{OrderID: updated.ID, Outcome: OutcomePaid}, nil
}

// HandleGatewayAbort handles the fail and cancel notifications. The unpaid
// order is removed and its stock returned.
func (s *OrderService) HandleGatewayAbort(ctx context.Context, kind string, form url.Values) (*CallbackResult, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.HandleGatewayAbort")
	defer span.End()

	_, order, err := s.resolveCallback(ctx, form)
	if err != nil {
		util.GatewayCallbacksTotal.WithLabelValues(kind, "rejected").Inc()
		util.RecordError(span, err)
		return nil, err
	}

	release, ok := s.lockCallback(ctx, order.ID)
	if !ok {
		util.GatewayCallbacksTotal.WithLabelValues(kind, string(OutcomeInProgress)).Inc()
		return &CallbackResult{OrderID: order.ID, Outcome: OutcomeInProgress}, nil
	}
	defer release()

	outcome, err := s.discardUnpaid(ctx, order, OutcomeDiscarded, kind)
	if err != nil {
		return nil, err
	}
	util.GatewayCallbacksTotal.WithLabelValues(kind, string(outcome)).Inc()
	return &CallbackResult{OrderID: order.ID, Outcome: outcome}, nil
}

func (s *OrderService) resolveCallback(ctx context.Context, form url.Values) (*payment.CallbackResult, *models.Order, error) {
	res, err := s.payments.ResolveCallback(form)
	if err != nil {
		return nil, nil, err
	}

	order, err := s.store.GetOrderByPaymentReference(ctx, res.OrderID, res.Token)
	if err != nil {
		if errors.Is(err, models.ErrOrderNotFound) {
			return nil, nil, &models.OrderNotFoundError{Token: res.Token}
		}
		return nil, nil, fmt.Errorf("failed to resolve transaction %s: %w", res.Token, err)
	}
	return res, order, nil
}

// lockCallback serializes concurrent deliveries for one order. Lock errors
// degrade to running unlocked.
func (s *OrderService) lockCallback(ctx context.Context, orderID int64) (func(), bool) {
	if s.locker == nil {
		return func() {}, true
	}

	key := fmt.Sprintf("order-callback:%d", orderID)
	token, ok, err := s.locker.AcquireLock(ctx, key, s.cfg.CallbackLockTTL)
	if err != nil {
		s.logger.Warn("Callback lock unavailable", zap.Int64("order_id", orderID), zap.Error(err))
		return func() {}, true
	}
	if !ok {
		return nil, false
	}

	return func() {
		if err := s.locker.ReleaseLock(context.WithoutCancel(ctx), key, token); err != nil {
			s.logger.Warn("Failed to release callback lock", zap.Int64("order_id", orderID), zap.Error(err))
		}
	}, true
}

func (s *OrderService) discardUnpaid(ctx context.Context, order *models.Order, outcome CallbackOutcome, reason string) (CallbackOutcome, error) {
	deleted, err := s.store.DeleteUnpaidOrderTx(ctx, order.ID)
	if err != nil {
		if errors.Is(err, models.ErrOrderNotFound) {
			return OutcomeIgnored, nil
		}
		return "", fmt.Errorf("failed to discard order %d: %w", order.ID, err)
	}
	if !deleted {
		s.logger.Info("Order kept, no longer awaiting payment",
			zap.Int64("order_id", order.ID),
			zap.String("reason", reason))
		return OutcomeIgnored, nil
	}

	util.OrdersDiscardedTotal.WithLabelValues(reason).Inc()
	s.logger.Info("Unpaid order discarded",
		zap.Int64("order_id", order.ID),
		zap.String("reason", reason))
	s.publish(ctx, models.EventTypeOrderDiscarded, order, models.PaymentMethodGateway, reason, nil)
	return outcome, nil
}

// discard removes an order that never reached the customer. Failures are
// logged since the caller is already on an error path.
func (s *OrderService) discard(ctx context.Context, orderID int64, reason string) {
	if _, err := s.store.DeleteUnpaidOrderTx(ctx, orderID); err != nil {
		s.logger.Error("Failed to roll back order",
			zap.Int64("order_id", orderID),
			zap.String("reason", reason),
			zap.Error(err))
		return
	}
	util.OrdersDiscardedTotal.WithLabelValues(reason).Inc()
}

// AbandonPayment deletes the caller's own order whose hosted payment they
// walked away from.
func (s *OrderService) AbandonPayment(ctx context.Context, id auth.Identity, orderID int64) error {
	ctx, span := util.StartOrderSpan(ctx, "OrderService.AbandonPayment", orderID)
	defer span.End()

	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return err
	}
	if !id.CanManage(order.UserID) {
		return &models.NotAuthorizedError{OrderID: orderID, UserID: id.UserID}
	}
	if order.IsCashOnDelivery() || order.Status != models.OrderStatusPending || order.PaymentStatus == models.PaymentStatusPaid {
		return &models.IllegalTransitionError{OrderID: orderID, From: order.Status, To: "deleted"}
	}

	outcome, err := s.discardUnpaid(ctx, order, OutcomeDiscarded, "abandoned")
	if err != nil {
		return err
	}
	if outcome != OutcomeDiscarded {
		return &models.IllegalTransitionError{OrderID: orderID, From: order.Status, To: "deleted"}
	}
	return nil
}

// CancelOrder cancels a pending or processing order on behalf of its owner
// or an operator. Items go back to stock.
func (s *OrderService) CancelOrder(ctx context.Context, id auth.Identity, orderID int64) (*models.Order, error) {
	ctx, span := util.StartOrderSpan(ctx, "OrderService.CancelOrder", orderID)
	defer span.End()

	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !id.CanManage(order.UserID) {
		return nil, &models.NotAuthorizedError{OrderID: orderID, UserID: id.UserID}
	}

	updated, applied, err := s.store.ApplyTransition(ctx, orderID, models.Transition{
		FromStatus: models.StatusesLeadingTo(models.OrderStatusCancelled),
		ToStatus:   models.OrderStatusCancelled,
		Restock:    true,
	})
	if err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to cancel order: %w", err)
	}
	if !applied {
		return nil, &models.IllegalTransitionError{OrderID: orderID, From: updated.Status, To: models.OrderStatusCancelled}
	}

	s.logger.Info("Order cancelled",
		zap.Int64("order_id", orderID),
		zap.String("actor", id.Username),
		zap.Bool("operator", id.Operator))

	s.syncLedger(ctx, updated)
	s.notifier.SendCancellationAlert(ctx, updated, id.Username)
	s.publish(ctx, models.EventTypeOrderCancelled, updated, "", "cancelled by "+id.Username, nil)
	util.OrdersCancelledTotal.Inc()

	return updated, nil
}

// AdvanceStatus moves an order along the fulfilment path. Operator only.
func (s *OrderService) AdvanceStatus(ctx context.Context, id auth.Identity, orderID int64, to string) (*models.Order, error) {
	if !id.Operator {
		return nil, &models.NotAuthorizedError{OrderID: orderID, UserID: id.UserID}
	}
	if to == models.OrderStatusCancelled {
		return s.CancelOrder(ctx, id, orderID)
	}

	ctx, span := util.StartOrderSpan(ctx, "OrderService.AdvanceStatus", orderID)
	defer span.End()

	from := models.StatusesLeadingTo(to)
	if len(from) == 0 {
		return nil, &models.IllegalTransitionError{OrderID: orderID, From: "", To: to}
	}

	updated, applied, err := s.store.ApplyTransition(ctx, orderID, models.Transition{FromStatus: from, ToStatus: to})
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, &models.IllegalTransitionError{OrderID: orderID, From: updated.Status, To: to}
	}

	s.logger.Info("Order status advanced", zap.Int64("order_id", orderID), zap.String("status", to))
	s.syncLedger(ctx, updated)
	s.publish(ctx, models.EventTypeOrderUpdated, updated, "", "", nil)
	return updated, nil
}

// SetPaymentStatus records an operator's payment decision, typically cash
// collected on delivery.
func (s *OrderService) SetPaymentStatus(ctx context.Context, id auth.Identity, orderID int64, to string) (*models.Order, error) {
	if !id.Operator {
		return nil, &models.NotAuthorizedError{OrderID: orderID, UserID: id.UserID}
	}

	ctx, span := util.StartOrderSpan(ctx, "OrderService.SetPaymentStatus", orderID)
	defer span.End()

	var from []string
	for _, ps := range []string{models.PaymentStatusPending, models.PaymentStatusPaid, models.PaymentStatusFailed, models.PaymentStatusRefunded} {
		if models.CanTransitionPayment(ps, to) {
			from = append(from, ps)
		}
	}
	if len(from) == 0 {
		return nil, &models.IllegalTransitionError{OrderID: orderID, From: "", To: to}
	}

	updated, applied, err := s.store.ApplyTransition(ctx, orderID, models.Transition{FromPayment: from, ToPayment: to})
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, &models.IllegalTransitionError{OrderID: orderID, From: updated.PaymentStatus, To: to}
	}

	s.logger.Info("Payment status set", zap.Int64("order_id", orderID), zap.String("payment_status", to))
	if to == models.PaymentStatusPaid {
		util.OrdersPaidTotal.WithLabelValues("operator").Inc()
	}
	s.syncLedger(ctx, updated)
	s.publish(ctx, models.EventTypeOrderUpdated, updated, "", "", nil)
	return updated, nil
}

// OrderItemView is an item with its derived amounts. Profit is only filled
// for operators.
type OrderItemView struct {
	models.OrderItem
	Subtotal decimal.Decimal  `json:"subtotal"`
	Profit   *decimal.Decimal `json:"profit,omitempty"`
}

type OrderDetails struct {
	Order         *models.Order            `json:"order"`
	Items         []OrderItemView          `json:"items"`
	LedgerEntries []models.AccountingEntry `json:"ledger_entries,omitempty"`
}

// GetOrder retrieves an order with its items, acting as the invoice view.
func (s *OrderService) GetOrder(ctx context.Context, id auth.Identity, orderID int64) (*OrderDetails, error) {
	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !id.CanManage(order.UserID) {
		return nil, &models.NotAuthorizedError{OrderID: orderID, UserID: id.UserID}
	}

	items, err := s.store.GetOrderItems(ctx, orderID)
	if err != nil {
		return nil, err
	}

	details := &OrderDetails{Order: order, Items: make([]OrderItemView, 0, len(items))}
	for _, item := range items {
		view := OrderItemView{OrderItem: item, Subtotal: item.Subtotal()}
		if id.Operator {
			profit := item.Profit()
			view.Profit = &profit
		}
		details.Items = append(details.Items, view)
	}

	if id.Operator {
		entries, err := s.ledger.Entries(ctx, orderID)
		if err != nil {
			return nil, err
		}
		details.LedgerEntries = entries
	}
	return details, nil
}

// ListOrders returns the caller's order history, newest first.
func (s *OrderService) ListOrders(ctx context.Context, id auth.Identity) ([]models.Order, error) {
	return s.store.ListVisibleOrders(ctx, id.UserID)
}

// ClearHistory hides every order from the caller's history view.
func (s *OrderService) ClearHistory(ctx context.Context, id auth.Identity) (int64, error) {
	n, err := s.store.HideOrders(ctx, id.UserID)
	if err != nil {
		return 0, fmt.Errorf("failed to clear order history: %w", err)
	}
	s.logger.Info("Order history cleared", zap.Int64("user_id", id.UserID), zap.Int64("orders", n))
	return n, nil
}

// ReconcileLedger re-runs ledger sync over recently updated orders to repair
// entries lost to a failure after commit.
func (s *OrderService) ReconcileLedger(ctx context.Context, id auth.Identity, since time.Time) (int, error) {
	if !id.Operator {
		return 0, &models.NotAuthorizedError{UserID: id.UserID}
	}

	ctx, span := util.StartSpan(ctx, "OrderService.ReconcileLedger")
	defer span.End()

	orders, err := s.store.ListOrdersUpdatedSince(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("failed to list orders: %w", err)
	}

	var failed int
	for i := range orders {
		if err := s.ledger.Sync(ctx, &orders[i]); err != nil {
			failed++
			s.logger.Error("Ledger reconcile failed", zap.Int64("order_id", orders[i].ID), zap.Error(err))
		}
	}
	if failed > 0 {
		return len(orders), fmt.Errorf("ledger reconcile failed for %d of %d orders", failed, len(orders))
	}
	return len(orders), nil
}

// syncLedger runs after a transition has committed; a failure here must not
// undo the order, so it is logged and left for ReconcileLedger.
func (s *OrderService) syncLedger(ctx context.Context, order *models.Order) {
	if err := s.ledger.Sync(ctx, order); err != nil {
		util.LedgerSyncFailuresTotal.Inc()
		s.logger.Error("Ledger sync failed", zap.Int64("order_id", order.ID), zap.Error(err))
	}
}

func (s *OrderService) clearCart(ctx context.Context, userID int64) {
	if err := s.cart.ClearCart(ctx, userID); err != nil {
		s.logger.Warn("Failed to clear cart", zap.Int64("user_id", userID), zap.Error(err))
	}
}

func (s *OrderService) publish(ctx context.Context, eventType string, order *models.Order, method, reason string, items []models.OrderItem) {
	event := &models.OrderEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: eventType,
			Timestamp: time.Now(),
		},
		OrderID:       order.ID,
		UserID:        order.UserID,
		Total:         order.Total,
		Status:        order.Status,
		PaymentStatus: order.PaymentStatus,
		PaymentMethod: method,
		Reason:        reason,
	}
	for _, item := range items {
		event.Items = append(event.Items, models.OrderItemData{
			ProductID: item.ProductID,
			Name:      item.ProductName,
			Quantity:  item.Quantity,
			Price:     item.Price,
		})
	}

	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger.Error("Failed to publish order event",
			zap.String("event_type", eventType),
			zap.Int64("order_id", order.ID),
			zap.Error(err))
	}
}
