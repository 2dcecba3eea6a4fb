package api

import (
	"errors"
	"net/http"

	"storefront/internal/models"
	"storefront/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// writeError maps domain errors to HTTP responses. Anything unrecognized is
// logged and reported as a 500 without details.
func (h *Handler) writeError(c *gin.Context, err error) {
	var (
		stockErr   *models.InsufficientStockError
		illegal    *models.IllegalTransitionError
		denied     *models.NotAuthorizedError
		gatewayErr *models.GatewaySessionError
	)

	switch {
	case errors.As(err, &stockErr):
		c.JSON(http.StatusConflict, gin.H{
			"error":      stockErr.Error(),
			"product_id": stockErr.ProductID,
			"available":  stockErr.Available,
		})
	case errors.As(err, &illegal):
		c.JSON(http.StatusConflict, gin.H{"error": illegal.Error()})
	case errors.As(err, &denied):
		c.JSON(http.StatusForbidden, gin.H{"error": "Not allowed"})
	case errors.Is(err, models.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
	case errors.Is(err, models.ErrProductNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Product not found"})
	case errors.Is(err, models.ErrEmptyCart),
		errors.Is(err, models.ErrInvalidQuantity),
		errors.Is(err, service.ErrUnknownPaymentMethod):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.As(err, &gatewayErr):
		h.logger.Error("Payment gateway unavailable", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{
			"error": "Payment gateway is unavailable, please try again",
		})
	default:
		h.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

// callbackRejection reports whether a callback error is final. Final errors
// are acknowledged; anything else is left for the gateway to retry.
func callbackRejection(err error) (string, bool) {
	var (
		malformed *models.MalformedCallbackError
		notFound  *models.OrderNotFoundError
		illegal   *models.IllegalTransitionError
	)
	switch {
	case errors.As(err, &malformed):
		return "malformed callback", true
	case errors.As(err, &notFound):
		return "unknown transaction", true
	case errors.As(err, &illegal):
		return "order is no longer awaiting payment", true
	default:
		return "callback could not be processed", false
	}
}
