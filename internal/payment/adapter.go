// Package payment puts cash-on-delivery and the hosted card gateway behind a
// single Adapter the order service drives.
package payment

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"storefront/internal/models"

	"github.com/shopspring/decimal"
)

type Verdict string

const (
	VerdictSuccess Verdict = "success"
	VerdictFailure Verdict = "failure"
)

const tokenPrefix = "ORDER-"

// Adapter is implemented by every payment backend the storefront supports.
type Adapter interface {
	// Cash confirms a cash-on-delivery order. It never fails.
	Cash() Confirmation
	// BeginGatewaySession opens a hosted payment page for the request.
	// Failures are *models.GatewaySessionError.
	BeginGatewaySession(ctx context.Context, req SessionRequest) (*Session, error)
	// ResolveCallback normalizes a gateway notification. Payloads without a
	// usable transaction token are *models.MalformedCallbackError.
	ResolveCallback(form url.Values) (*CallbackResult, error)
}

type Confirmation struct {
	Reference string
	Final     bool
}

type CallbackURLs struct {
	Success string
	Fail    string
	Cancel  string
}

type CustomerInfo struct {
	Name    string
	Email   string
	Address string
}

type SessionRequest struct {
	Amount      decimal.Decimal
	Token       string
	Callbacks   CallbackURLs
	Customer    CustomerInfo
	Description string
}

var (
	ErrInvalidAmount    = errors.New("payment: amount must be positive")
	ErrMissingToken     = errors.New("payment: transaction token is required")
	ErrMissingCallbacks = errors.New("payment: success, fail and cancel URLs are required")
)

func (r *SessionRequest) Validate() error {
	if !r.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if r.Token == "" {
		return ErrMissingToken
	}
	if r.Callbacks.Success == "" || r.Callbacks.Fail == "" || r.Callbacks.Cancel == "" {
		return ErrMissingCallbacks
	}
	return nil
}

type Session struct {
	RedirectURL string
	SessionKey  string
}

// CallbackResult is a gateway notification reduced to what the order service
// acts on.
type CallbackResult struct {
	Token        string
	OrderID      int64
	Verdict      Verdict
	Status       string
	ValidationID string
}

// TokenForOrder derives the transaction token correlating an order with its
// gateway session.
func TokenForOrder(orderID int64) string {
	return tokenPrefix + strconv.FormatInt(orderID, 10)
}

// OrderIDFromToken is the inverse of TokenForOrder.
func OrderIDFromToken(token string) (int64, error) {
	if !strings.HasPrefix(token, tokenPrefix) {
		return 0, &models.MalformedCallbackError{Reason: fmt.Sprintf("transaction token %q has no %s prefix", token, tokenPrefix)}
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(token, tokenPrefix), 10, 64)
	if err != nil || id <= 0 {
		return 0, &models.MalformedCallbackError{Reason: fmt.Sprintf("transaction token %q has no order id", token)}
	}
	return id, nil
}
