package models

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyCart         = errors.New("cart is empty")
	ErrOrderNotFound     = errors.New("order not found")
	ErrProductNotFound   = errors.New("product not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
)

// InsufficientStockError names the product that could not cover the request.
type InsufficientStockError struct {
	ProductID   int64
	ProductName string
	Available   int
	Requested   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("%s is out of stock (only %d left, requested %d)", e.ProductName, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// IllegalTransitionError is returned when an order is not in a state the
// requested change can start from.
type IllegalTransitionError struct {
	OrderID int64
	From    string
	To      string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("order %d cannot move from %s to %s", e.OrderID, e.From, e.To)
}

type NotAuthorizedError struct {
	OrderID int64
	UserID  int64
}

func (e *NotAuthorizedError) Error() string {
	return fmt.Sprintf("user %d is not allowed to modify order %d", e.UserID, e.OrderID)
}

// OrderNotFoundError is a callback token that resolves to no order.
type OrderNotFoundError struct {
	Token string
}

func (e *OrderNotFoundError) Error() string {
	return fmt.Sprintf("no order matches transaction %q", e.Token)
}

func (e *OrderNotFoundError) Unwrap() error { return ErrOrderNotFound }

type MalformedCallbackError struct {
	Reason string
}

func (e *MalformedCallbackError) Error() string {
	return "malformed gateway callback: " + e.Reason
}

// GatewaySessionError wraps a failed attempt to open a hosted payment session.
type GatewaySessionError struct {
	Reason string
	Err    error
}

func (e *GatewaySessionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gateway session failed: %s: %v", e.Reason, e.Err)
	}
	return "gateway session failed: " + e.Reason
}

func (e *GatewaySessionError) Unwrap() error { return e.Err }
