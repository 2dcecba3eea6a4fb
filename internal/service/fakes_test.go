package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"time"

	"storefront/internal/models"
	"storefront/internal/payment"

	"github.com/shopspring/decimal"
)

// memStore mirrors the guarded semantics of the Postgres store: every
// method runs under one mutex the way each store call runs in one
// transaction.
type memStore struct {
	mu       sync.Mutex
	products map[int64]*models.Product
	orders   map[int64]*models.Order
	items    map[int64][]models.OrderItem
	entries  []models.AccountingEntry

	nextOrderID int64
	nextItemID  int64
	nextEntryID int64

	failCreate error
	failLedger error
}

func newMemStore() *memStore {
	return &memStore{
		products: make(map[int64]*models.Product),
		orders:   make(map[int64]*models.Order),
		items:    make(map[int64][]models.OrderItem),
	}
}

func (m *memStore) addProduct(id int64, name, price string, discount, stock int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[id] = &models.Product{
		ID:                 id,
		Name:               name,
		Price:              decimal.RequireFromString(price),
		PurchasePrice:      decimal.RequireFromString(price).Div(decimal.NewFromInt(2)),
		DiscountPercentage: discount,
		Stock:              stock,
	}
}

func (m *memStore) stock(id int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.products[id].Stock
}

func (m *memStore) order(id int64) *models.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil
	}
	cp := *o
	return &cp
}

func (m *memStore) orderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

func (m *memStore) entriesOf(orderID int64, entryType string) []models.AccountingEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.AccountingEntry
	for _, e := range m.entries {
		if e.RelatedOrderID.Int64 == orderID && e.EntryType == entryType {
			out = append(out, e)
		}
	}
	return out
}

func (m *memStore) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", models.ErrProductNotFound, id)
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Product
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *memStore) CreateOrderTx(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failCreate != nil {
		return m.failCreate
	}

	for _, item := range items {
		p, ok := m.products[item.ProductID]
		if !ok {
			return fmt.Errorf("%w: %d", models.ErrProductNotFound, item.ProductID)
		}
		if p.Stock < item.Quantity {
			return &models.InsufficientStockError{
				ProductID:   p.ID,
				ProductName: p.Name,
				Available:   p.Stock,
				Requested:   item.Quantity,
			}
		}
	}

	m.nextOrderID++
	now := time.Now()
	order.ID = m.nextOrderID
	order.VisibleToCustomer = true
	order.CreatedAt = now
	order.UpdatedAt = now

	for i := range items {
		m.products[items[i].ProductID].Stock -= items[i].Quantity
		m.nextItemID++
		items[i].ID = m.nextItemID
		items[i].OrderID = order.ID
	}

	cp := *order
	m.orders[order.ID] = &cp
	m.items[order.ID] = append([]models.OrderItem(nil), items...)
	return nil
}

func (m *memStore) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	if o := m.order(id); o != nil {
		return o, nil
	}
	return nil, fmt.Errorf("%w: %d", models.ErrOrderNotFound, id)
}

func (m *memStore) GetOrderByPaymentReference(ctx context.Context, id int64, reference string) (*models.Order, error) {
	o := m.order(id)
	if o == nil || o.Reference() != reference {
		return nil, fmt.Errorf("%w: %d/%s", models.ErrOrderNotFound, id, reference)
	}
	return o, nil
}

func (m *memStore) GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.OrderItem(nil), m.items[orderID]...), nil
}

func (m *memStore) SetPaymentReference(ctx context.Context, orderID int64, reference string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return fmt.Errorf("%w: %d", models.ErrOrderNotFound, orderID)
	}
	o.PaymentReference = sql.NullString{String: reference, Valid: true}
	return nil
}

func (m *memStore) ApplyTransition(ctx context.Context, orderID int64, tr models.Transition) (*models.Order, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok {
		return nil, false, fmt.Errorf("%w: %d", models.ErrOrderNotFound, orderID)
	}
	if !tr.Allows(o) {
		cp := *o
		return &cp, false, nil
	}

	if tr.ToStatus != "" {
		o.Status = tr.ToStatus
	}
	if tr.ToPayment != "" {
		o.PaymentStatus = tr.ToPayment
	}
	o.UpdatedAt = time.Now()
	if tr.Restock {
		m.restock(orderID)
	}

	cp := *o
	return &cp, true, nil
}

func (m *memStore) DeleteUnpaidOrderTx(ctx context.Context, orderID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok {
		return false, fmt.Errorf("%w: %d", models.ErrOrderNotFound, orderID)
	}
	if o.Status != models.OrderStatusPending || o.PaymentStatus == models.PaymentStatusPaid {
		return false, nil
	}

	m.restock(orderID)
	delete(m.orders, orderID)
	delete(m.items, orderID)
	for i := range m.entries {
		if m.entries[i].RelatedOrderID.Int64 == orderID {
			m.entries[i].RelatedOrderID = sql.NullInt64{}
		}
	}
	return true, nil
}

func (m *memStore) restock(orderID int64) {
	for _, item := range m.items[orderID] {
		if p, ok := m.products[item.ProductID]; ok {
			p.Stock += item.Quantity
		}
	}
}

func (m *memStore) ListVisibleOrders(ctx context.Context, userID int64) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Order
	for _, o := range m.orders {
		if o.UserID == userID && o.VisibleToCustomer {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *memStore) HideOrders(ctx context.Context, userID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, o := range m.orders {
		if o.UserID == userID && o.VisibleToCustomer {
			o.VisibleToCustomer = false
			n++
		}
	}
	return n, nil
}

func (m *memStore) ListOrdersUpdatedSince(ctx context.Context, since time.Time) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Order
	for _, o := range m.orders {
		if !o.UpdatedAt.Before(since) {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) GetOrCreateEntry(ctx context.Context, entry *models.AccountingEntry) (*models.AccountingEntry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failLedger != nil {
		return nil, false, m.failLedger
	}
	for _, e := range m.entries {
		if e.RelatedOrderID == entry.RelatedOrderID && e.EntryType == entry.EntryType {
			cp := e
			return &cp, false, nil
		}
	}

	m.nextEntryID++
	cp := *entry
	cp.ID = m.nextEntryID
	cp.CreatedAt = time.Now()
	m.entries = append(m.entries, cp)
	return &cp, true, nil
}

func (m *memStore) FindEntry(ctx context.Context, orderID int64, entryType string) (*models.AccountingEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.RelatedOrderID.Valid && e.RelatedOrderID.Int64 == orderID && e.EntryType == entryType {
			cp := e
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) UpdateEntryAmount(ctx context.Context, entryID int64, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.entries {
		if m.entries[i].ID == entryID {
			m.entries[i].Amount = amount
			return nil
		}
	}
	return errors.New("entry not found")
}

func (m *memStore) ListEntriesForOrder(ctx context.Context, orderID int64) ([]models.AccountingEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.AccountingEntry
	for _, e := range m.entries {
		if e.RelatedOrderID.Valid && e.RelatedOrderID.Int64 == orderID {
			out = append(out, e)
		}
	}
	return out, nil
}

type memCart struct {
	mu    sync.Mutex
	lines map[int64]map[int64]int
}

func newMemCart() *memCart {
	return &memCart{lines: make(map[int64]map[int64]int)}
}

func (c *memCart) put(userID, productID int64, qty int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lines[userID] == nil {
		c.lines[userID] = make(map[int64]int)
	}
	c.lines[userID][productID] = qty
}

func (c *memCart) CartLines(ctx context.Context, userID int64) ([]models.CartLine, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []models.CartLine
	for pid, qty := range c.lines[userID] {
		out = append(out, models.CartLine{ProductID: pid, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func (c *memCart) ClearCart(ctx context.Context, userID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.lines, userID)
	return nil
}

func (c *memCart) AddToCart(ctx context.Context, userID, productID int64, quantity int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lines[userID] == nil {
		c.lines[userID] = make(map[int64]int)
	}
	c.lines[userID][productID] += quantity
	return c.lines[userID][productID], nil
}

func (c *memCart) SetCartQuantity(ctx context.Context, userID, productID int64, quantity int) error {
	if quantity <= 0 {
		return c.RemoveFromCart(ctx, userID, productID)
	}
	c.put(userID, productID, quantity)
	return nil
}

func (c *memCart) RemoveFromCart(ctx context.Context, userID, productID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.lines[userID], productID)
	return nil
}

type memLocker struct {
	mu   sync.Mutex
	held map[string]string
	n    int
}

func newMemLocker() *memLocker {
	return &memLocker{held: make(map[string]string)}
}

func (l *memLocker) AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return "", false, nil
	}
	l.n++
	token := fmt.Sprintf("t%d", l.n)
	l.held[key] = token
	return token, true, nil
}

func (l *memLocker) ReleaseLock(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
	}
	return nil
}

type sentNotification struct {
	kind    string
	orderID int64
	target  string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (r *recordingNotifier) SendOrderConfirmation(ctx context.Context, order *models.Order, recipient string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentNotification{kind: "confirmation", orderID: order.ID, target: recipient})
}

func (r *recordingNotifier) SendCancellationAlert(ctx context.Context, order *models.Order, actor string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentNotification{kind: "cancellation", orderID: order.ID, target: actor})
}

func (r *recordingNotifier) count(kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int
	for _, s := range r.sent {
		if s.kind == kind {
			n++
		}
	}
	return n
}

type recordingPublisher struct {
	mu            sync.Mutex
	events        []*models.OrderEvent
	notifications []*models.NotificationEvent
	err           error
}

func (r *recordingPublisher) PublishOrderEvent(ctx context.Context, event *models.OrderEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

func (r *recordingPublisher) PublishNotification(ctx context.Context, event *models.NotificationEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, event)
	return r.err
}

func (r *recordingPublisher) eventTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		out = append(out, e.EventType)
	}
	return out
}

// fakeGateway opens sessions locally and resolves callbacks the way the
// hosted gateway does.
type fakeGateway struct {
	*payment.HostedGateway
	sessionErr error
	requests   []payment.SessionRequest
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{HostedGateway: payment.NewHostedGateway(payment.Credentials{}, "BDT")}
}

func (g *fakeGateway) BeginGatewaySession(ctx context.Context, req payment.SessionRequest) (*payment.Session, error) {
	g.requests = append(g.requests, req)
	if g.sessionErr != nil {
		return nil, g.sessionErr
	}
	return &payment.Session{RedirectURL: "https://pay.example/" + req.Token, SessionKey: "sk-" + req.Token}, nil
}

func callbackForm(orderID int64, status string) url.Values {
	return url.Values{
		"tran_id": {payment.TokenForOrder(orderID)},
		"status":  {status},
		"val_id":  {"val-1"},
	}
}
