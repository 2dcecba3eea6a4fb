package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"storefront/internal/auth"
	"storefront/internal/models"
	"storefront/internal/service"
	"storefront/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// OrderAPI is the order engine as seen from HTTP. Implemented by
// *service.OrderService.
type OrderAPI interface {
	PlaceOrder(ctx context.Context, id auth.Identity, req *service.PlaceOrderRequest) (*service.PlaceOrderResult, error)
	HandleGatewaySuccess(ctx context.Context, form url.Values) (*service.CallbackResult, error)
	HandleGatewayAbort(ctx context.Context, kind string, form url.Values) (*service.CallbackResult, error)
	AbandonPayment(ctx context.Context, id auth.Identity, orderID int64) error
	CancelOrder(ctx context.Context, id auth.Identity, orderID int64) (*models.Order, error)
	AdvanceStatus(ctx context.Context, id auth.Identity, orderID int64, to string) (*models.Order, error)
	SetPaymentStatus(ctx context.Context, id auth.Identity, orderID int64, to string) (*models.Order, error)
	GetOrder(ctx context.Context, id auth.Identity, orderID int64) (*service.OrderDetails, error)
	ListOrders(ctx context.Context, id auth.Identity) ([]models.Order, error)
	ClearHistory(ctx context.Context, id auth.Identity) (int64, error)
	ReconcileLedger(ctx context.Context, id auth.Identity, since time.Time) (int, error)
}

// CartAPI is implemented by *service.CartService.
type CartAPI interface {
	View(ctx context.Context, userID int64) (*models.CartView, error)
	Add(ctx context.Context, userID int64, req *service.AddToCartRequest) (int, error)
	Update(ctx context.Context, userID, productID int64, quantity int) error
	Remove(ctx context.Context, userID, productID int64) error
}

type TokenVerifier interface {
	Verify(token string) (auth.Identity, error)
}

// Pinger is a dependency the readiness probe checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Option func(*Handler)

// WithReadinessCheck adds a dependency to GET /ready.
func WithReadinessCheck(name string, p Pinger) Option {
	return func(h *Handler) { h.checks[name] = p }
}

// WithReconcileLookback sets how far back a reconcile without ?since goes.
func WithReconcileLookback(d time.Duration) Option {
	return func(h *Handler) { h.reconcileLookback = d }
}

// Handler contains HTTP handlers
type Handler struct {
	orders            OrderAPI
	carts             CartAPI
	verifier          TokenVerifier
	checks            map[string]Pinger
	reconcileLookback time.Duration
	logger            *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(orders OrderAPI, carts CartAPI, verifier TokenVerifier, opts ...Option) *Handler {
	h := &Handler{
		orders:            orders,
		carts:             carts,
		verifier:          verifier,
		checks:            make(map[string]Pinger),
		reconcileLookback: 24 * time.Hour,
		logger:            util.GetLogger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(requestLogger(h.logger))

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")

	// Called by the gateway, not the customer.
	gateway := v1.Group("/payments/gateway")
	{
		gateway.POST("/success", h.gatewaySuccess)
		gateway.POST("/fail", h.gatewayAbort("fail"))
		gateway.POST("/cancel", h.gatewayAbort("cancel"))
	}

	authed := v1.Group("", authenticate(h.verifier))
	{
		authed.GET("/cart", h.viewCart)
		authed.POST("/cart/items", h.addToCart)
		authed.PUT("/cart/items/:product_id", h.updateCartItem)
		authed.DELETE("/cart/items/:product_id", h.removeCartItem)

		authed.POST("/checkout", h.checkout)

		authed.GET("/orders", h.listOrders)
		authed.POST("/orders/clear-history", h.clearHistory)
		authed.GET("/orders/:id", h.getOrder)
		authed.POST("/orders/:id/cancel", h.cancelOrder)
		authed.POST("/orders/:id/abandon", h.abandonPayment)
	}

	admin := authed.Group("/admin", requireOperator())
	{
		admin.POST("/orders/:id/status", h.advanceStatus)
		admin.POST("/orders/:id/payment", h.setPaymentStatus)
		admin.POST("/ledger/reconcile", h.reconcileLedger)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports not ready while any dependency fails its ping
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			h.logger.Warn("Readiness check failed", zap.String("dependency", name), zap.Error(err))
			failed[name] = err.Error()
		}
	}

	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"failed": failed,
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

func (h *Handler) viewCart(c *gin.Context) {
	id := identityFrom(c)
	view, err := h.carts.View(c.Request.Context(), id.UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) addToCart(c *gin.Context) {
	var req service.AddToCartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	id := identityFrom(c)
	qty, err := h.carts.Add(c.Request.Context(), id.UserID, &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"product_id": req.ProductID, "quantity": qty})
}

type updateCartRequest struct {
	Quantity *int `json:"quantity" binding:"required"`
}

func (h *Handler) updateCartItem(c *gin.Context) {
	productID, ok := int64Param(c, "product_id")
	if !ok {
		return
	}

	var req updateCartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	id := identityFrom(c)
	if err := h.carts.Update(c.Request.Context(), id.UserID, productID, *req.Quantity); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"product_id": productID, "quantity": max(*req.Quantity, 0)})
}

func (h *Handler) removeCartItem(c *gin.Context) {
	productID, ok := int64Param(c, "product_id")
	if !ok {
		return
	}

	id := identityFrom(c)
	if err := h.carts.Remove(c.Request.Context(), id.UserID, productID); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// checkout places an order from the caller's cart
func (h *Handler) checkout(c *gin.Context) {
	var req service.PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	res, err := h.orders.PlaceOrder(c.Request.Context(), identityFrom(c), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	if res.RedirectURL != "" {
		c.JSON(http.StatusOK, res)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) listOrders(c *gin.Context) {
	orders, err := h.orders.ListOrders(c.Request.Context(), identityFrom(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if orders == nil {
		orders = []models.Order{}
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (h *Handler) clearHistory(c *gin.Context) {
	n, err := h.orders.ClearHistory(c.Request.Context(), identityFrom(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"hidden": n})
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := int64Param(c, "id")
	if !ok {
		return
	}

	details, err := h.orders.GetOrder(c.Request.Context(), identityFrom(c), orderID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, details)
}

func (h *Handler) cancelOrder(c *gin.Context) {
	orderID, ok := int64Param(c, "id")
	if !ok {
		return
	}

	order, err := h.orders.CancelOrder(c.Request.Context(), identityFrom(c), orderID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) abandonPayment(c *gin.Context) {
	orderID, ok := int64Param(c, "id")
	if !ok {
		return
	}

	if err := h.orders.AbandonPayment(c.Request.Context(), identityFrom(c), orderID); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type statusRequest struct {
	Status string `json:"status" binding:"required,oneof=processing shipped delivered cancelled"`
}

func (h *Handler) advanceStatus(c *gin.Context) {
	orderID, ok := int64Param(c, "id")
	if !ok {
		return
	}

	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	order, err := h.orders.AdvanceStatus(c.Request.Context(), identityFrom(c), orderID, req.Status)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

type paymentStatusRequest struct {
	PaymentStatus string `json:"payment_status" binding:"required,oneof=paid failed refunded"`
}

func (h *Handler) setPaymentStatus(c *gin.Context) {
	orderID, ok := int64Param(c, "id")
	if !ok {
		return
	}

	var req paymentStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	order, err := h.orders.SetPaymentStatus(c.Request.Context(), identityFrom(c), orderID, req.PaymentStatus)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) reconcileLedger(c *gin.Context) {
	since := time.Now().Add(-h.reconcileLookback)
	if raw := c.Query("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			badRequest(c, "Invalid since, expected RFC3339", err)
			return
		}
		since = t
	}

	n, err := h.orders.ReconcileLedger(c.Request.Context(), identityFrom(c), since)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": n, "since": since})
}

// gatewaySuccess acknowledges every notification it can settle, including
// ones it rejects for good. Transient failures get a 503 so the gateway
// delivers again.
func (h *Handler) gatewaySuccess(c *gin.Context) {
	form, ok := h.callbackForm(c)
	if !ok {
		return
	}

	res, err := h.orders.HandleGatewaySuccess(c.Request.Context(), form)
	h.ackCallback(c, "success", res, err)
}

func (h *Handler) gatewayAbort(kind string) gin.HandlerFunc {
	return func(c *gin.Context) {
		form, ok := h.callbackForm(c)
		if !ok {
			return
		}

		res, err := h.orders.HandleGatewayAbort(c.Request.Context(), kind, form)
		h.ackCallback(c, kind, res, err)
	}
}

func (h *Handler) callbackForm(c *gin.Context) (url.Values, bool) {
	if err := c.Request.ParseForm(); err != nil {
		h.logger.Warn("Unreadable gateway callback", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"outcome": "rejected", "error": "unreadable form"})
		return nil, false
	}
	return c.Request.Form, true
}

func (h *Handler) ackCallback(c *gin.Context, kind string, res *service.CallbackResult, err error) {
	if err != nil {
		msg, final := callbackRejection(err)
		if !final {
			// Not acknowledged: the gateway retries the notification.
			h.logger.Error("Gateway callback failed",
				zap.String("kind", kind),
				zap.String("tran_id", c.Request.Form.Get("tran_id")),
				zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"outcome": "retry", "error": msg})
			return
		}
		h.logger.Warn("Gateway callback rejected",
			zap.String("kind", kind),
			zap.String("tran_id", c.Request.Form.Get("tran_id")),
			zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"outcome": "rejected", "error": msg})
		return
	}
	c.JSON(http.StatusOK, res)
}

func int64Param(c *gin.Context, name string) (int64, bool) {
	v, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || v <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid " + name,
		})
		return 0, false
	}
	return v, true
}

func badRequest(c *gin.Context, msg string, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   msg,
		"details": err.Error(),
	})
}
