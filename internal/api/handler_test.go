package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"storefront/internal/auth"
	"storefront/internal/models"
	"storefront/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubOrders struct {
	placeResult *service.PlaceOrderResult
	err         error
	callback    *service.CallbackResult
	gotForm     url.Values
	gotKind     string
	gotStatus   string
	gotSince    time.Time
}

func (s *stubOrders) PlaceOrder(ctx context.Context, id auth.Identity, req *service.PlaceOrderRequest) (*service.PlaceOrderResult, error) {
	return s.placeResult, s.err
}

func (s *stubOrders) HandleGatewaySuccess(ctx context.Context, form url.Values) (*service.CallbackResult, error) {
	s.gotForm = form
	return s.callback, s.err
}

func (s *stubOrders) HandleGatewayAbort(ctx context.Context, kind string, form url.Values) (*service.CallbackResult, error) {
	s.gotKind = kind
	s.gotForm = form
	return s.callback, s.err
}

func (s *stubOrders) AbandonPayment(ctx context.Context, id auth.Identity, orderID int64) error {
	return s.err
}

func (s *stubOrders) CancelOrder(ctx context.Context, id auth.Identity, orderID int64) (*models.Order, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &models.Order{ID: orderID, UserID: id.UserID, Status: models.OrderStatusCancelled}, nil
}

func (s *stubOrders) AdvanceStatus(ctx context.Context, id auth.Identity, orderID int64, to string) (*models.Order, error) {
	s.gotStatus = to
	return &models.Order{ID: orderID, Status: to}, s.err
}

func (s *stubOrders) SetPaymentStatus(ctx context.Context, id auth.Identity, orderID int64, to string) (*models.Order, error) {
	s.gotStatus = to
	return &models.Order{ID: orderID, PaymentStatus: to}, s.err
}

func (s *stubOrders) GetOrder(ctx context.Context, id auth.Identity, orderID int64) (*service.OrderDetails, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &service.OrderDetails{Order: &models.Order{ID: orderID}}, nil
}

func (s *stubOrders) ListOrders(ctx context.Context, id auth.Identity) ([]models.Order, error) {
	return nil, s.err
}

func (s *stubOrders) ClearHistory(ctx context.Context, id auth.Identity) (int64, error) {
	return 3, s.err
}

func (s *stubOrders) ReconcileLedger(ctx context.Context, id auth.Identity, since time.Time) (int, error) {
	s.gotSince = since
	return 2, s.err
}

type stubCarts struct {
	updated int
}

func (s *stubCarts) View(ctx context.Context, userID int64) (*models.CartView, error) {
	return &models.CartView{Lines: []models.CartViewLine{}, Total: decimal.Zero}, nil
}

func (s *stubCarts) Add(ctx context.Context, userID int64, req *service.AddToCartRequest) (int, error) {
	if req.ProductID == 404 {
		return 0, models.ErrProductNotFound
	}
	return 2, nil
}

func (s *stubCarts) Update(ctx context.Context, userID, productID int64, quantity int) error {
	s.updated = quantity
	return nil
}

func (s *stubCarts) Remove(ctx context.Context, userID, productID int64) error {
	return nil
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(ctx context.Context) error { return p.err }

const testSecret = "test-secret"

func setupRouter(orders OrderAPI, opts ...Option) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	h := NewHandler(orders, &stubCarts{}, auth.NewVerifier(testSecret, "storefront-auth"), opts...)
	h.SetupRoutes(router)
	return router
}

func bearer(t *testing.T, id auth.Identity) string {
	t.Helper()
	token, err := auth.NewVerifier(testSecret, "storefront-auth").Issue(id, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

var (
	customer = auth.Identity{UserID: 7, Username: "alice"}
	operator = auth.Identity{UserID: 1, Username: "admin", Operator: true}
)

func do(t *testing.T, router *gin.Engine, method, path, body string, id *auth.Identity) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if id != nil {
		req.Header.Set("Authorization", bearer(t, *id))
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealthAndReadiness(t *testing.T) {
	router := setupRouter(&stubOrders{},
		WithReadinessCheck("postgres", stubPinger{}),
		WithReadinessCheck("redis", stubPinger{err: errors.New("connection refused")}))

	w := do(t, router, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, router, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	failed := decode(t, w)["failed"].(map[string]interface{})
	assert.Contains(t, failed, "redis")
	assert.NotContains(t, failed, "postgres")
}

func TestAuthenticationRequired(t *testing.T) {
	router := setupRouter(&stubOrders{})

	w := do(t, router, http.MethodGet, "/api/v1/orders", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	w = do(t, router, http.MethodGet, "/api/v1/orders", "", &customer)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []interface{}{}, decode(t, w)["orders"])
}

func TestCheckout(t *testing.T) {
	body := `{"shipping_address":"12 Lake Road","payment_method":"cash"}`

	t.Run("cash order is created", func(t *testing.T) {
		orders := &stubOrders{placeResult: &service.PlaceOrderResult{Order: &models.Order{ID: 1}}}
		w := do(t, setupRouter(orders), http.MethodPost, "/api/v1/checkout", body, &customer)
		assert.Equal(t, http.StatusCreated, w.Code)
	})

	t.Run("gateway order redirects", func(t *testing.T) {
		orders := &stubOrders{placeResult: &service.PlaceOrderResult{
			Order:       &models.Order{ID: 2},
			RedirectURL: "https://pay.example/ORDER-2",
		}}
		w := do(t, setupRouter(orders), http.MethodPost, "/api/v1/checkout",
			`{"shipping_address":"x","payment_method":"gateway"}`, &customer)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "https://pay.example/ORDER-2", decode(t, w)["redirect_url"])
	})

	t.Run("unknown payment method", func(t *testing.T) {
		w := do(t, setupRouter(&stubOrders{}), http.MethodPost, "/api/v1/checkout",
			`{"shipping_address":"x","payment_method":"bitcoin"}`, &customer)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("insufficient stock", func(t *testing.T) {
		orders := &stubOrders{err: &models.InsufficientStockError{ProductID: 3, ProductName: "Tea", Available: 1, Requested: 2}}
		w := do(t, setupRouter(orders), http.MethodPost, "/api/v1/checkout", body, &customer)
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Contains(t, decode(t, w)["error"], "only 1 left")
	})

	t.Run("empty cart", func(t *testing.T) {
		w := do(t, setupRouter(&stubOrders{err: models.ErrEmptyCart}), http.MethodPost, "/api/v1/checkout", body, &customer)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("gateway unavailable", func(t *testing.T) {
		orders := &stubOrders{err: &models.GatewaySessionError{Reason: "store suspended"}}
		w := do(t, setupRouter(orders), http.MethodPost, "/api/v1/checkout", body, &customer)
		assert.Equal(t, http.StatusBadGateway, w.Code)
		assert.NotContains(t, w.Body.String(), "suspended")
	})
}

func TestOrderErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", models.ErrOrderNotFound, http.StatusNotFound},
		{"not authorized", &models.NotAuthorizedError{OrderID: 1, UserID: 7}, http.StatusForbidden},
		{"illegal transition", &models.IllegalTransitionError{OrderID: 1, From: "cancelled", To: "cancelled"}, http.StatusConflict},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, setupRouter(&stubOrders{err: tt.err}), http.MethodPost, "/api/v1/orders/1/cancel", "", &customer)
			assert.Equal(t, tt.want, w.Code)
		})
	}

	w := do(t, setupRouter(&stubOrders{}), http.MethodGet, "/api/v1/orders/abc", "", &customer)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCartRoutes(t *testing.T) {
	router := setupRouter(&stubOrders{})

	w := do(t, router, http.MethodGet, "/api/v1/cart", "", &customer)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, router, http.MethodPost, "/api/v1/cart/items", `{"product_id":5,"quantity":2}`, &customer)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, router, http.MethodPost, "/api/v1/cart/items", `{"product_id":404}`, &customer)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, router, http.MethodPut, "/api/v1/cart/items/5", `{"quantity":0}`, &customer)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, router, http.MethodPut, "/api/v1/cart/items/5", `{}`, &customer)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, http.MethodDelete, "/api/v1/cart/items/5", "", &customer)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestAdminRoutesRequireOperator(t *testing.T) {
	orders := &stubOrders{}
	router := setupRouter(orders, WithReconcileLookback(2*time.Hour))

	w := do(t, router, http.MethodPost, "/api/v1/admin/orders/1/status", `{"status":"shipped"}`, &customer)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(t, router, http.MethodPost, "/api/v1/admin/orders/1/status", `{"status":"shipped"}`, &operator)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.OrderStatusShipped, orders.gotStatus)

	w = do(t, router, http.MethodPost, "/api/v1/admin/orders/1/payment", `{"payment_status":"pending"}`, &operator)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, http.MethodPost, "/api/v1/admin/orders/1/payment", `{"payment_status":"paid"}`, &operator)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.PaymentStatusPaid, orders.gotStatus)

	w = do(t, router, http.MethodPost, "/api/v1/admin/ledger/reconcile", "", &operator)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.WithinDuration(t, time.Now().Add(-2*time.Hour), orders.gotSince, time.Minute)
}

func postForm(router *gin.Engine, path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestGatewayCallbacksAcknowledgeSettledOutcomes(t *testing.T) {
	form := url.Values{"tran_id": {"ORDER-4"}, "status": {"VALID"}}

	orders := &stubOrders{callback: &service.CallbackResult{OrderID: 4, Outcome: service.OutcomePaid}}
	w := postForm(setupRouter(orders), "/api/v1/payments/gateway/success", form)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "paid", decode(t, w)["outcome"])
	assert.Equal(t, "ORDER-4", orders.gotForm.Get("tran_id"))

	orders = &stubOrders{err: &models.OrderNotFoundError{Token: "ORDER-4"}}
	w = postForm(setupRouter(orders), "/api/v1/payments/gateway/success", form)
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "rejected", body["outcome"])
	assert.Equal(t, "unknown transaction", body["error"])

	orders = &stubOrders{callback: &service.CallbackResult{OrderID: 4, Outcome: service.OutcomeDiscarded}}
	w = postForm(setupRouter(orders), "/api/v1/payments/gateway/cancel", form)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cancel", orders.gotKind)
}

func TestGatewayCallbackTransientFailureIsRetried(t *testing.T) {
	form := url.Values{"tran_id": {"ORDER-4"}, "status": {"VALID"}, "val_id": {"v1"}}

	orders := &stubOrders{err: errors.New("failed to mark order paid: connection refused")}
	w := postForm(setupRouter(orders), "/api/v1/payments/gateway/success", form)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decode(t, w)
	assert.Equal(t, "retry", body["outcome"])
	assert.NotContains(t, w.Body.String(), "connection refused")

	w = postForm(setupRouter(orders), "/api/v1/payments/gateway/fail", form)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	for _, final := range []error{
		&models.MalformedCallbackError{Reason: "missing tran_id"},
		&models.OrderNotFoundError{Token: "ORDER-4"},
		&models.IllegalTransitionError{OrderID: 4, From: "cancelled", To: "processing"},
	} {
		w = postForm(setupRouter(&stubOrders{err: final}), "/api/v1/payments/gateway/success", form)
		assert.Equal(t, http.StatusOK, w.Code, "%T", final)
		assert.Equal(t, "rejected", decode(t, w)["outcome"])
	}
}
