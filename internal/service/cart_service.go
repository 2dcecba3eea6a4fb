package service

import (
	"context"
	"fmt"

	"storefront/internal/models"
	"storefront/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CartService manages the per-user cart in front of the catalog.
type CartService struct {
	cart     CartStore
	products ProductReader
	logger   *zap.Logger
}

func NewCartService(cart CartStore, products ProductReader) *CartService {
	return &CartService{
		cart:     cart,
		products: products,
		logger:   util.GetLogger(),
	}
}

type AddToCartRequest struct {
	ProductID int64 `json:"product_id" binding:"required,gt=0"`
	Quantity  int   `json:"quantity" binding:"omitempty,gt=0"`
}

// View prices the cart at current discounted prices. Lines whose product
// has since been removed from the catalog are dropped from the cart.
func (s *CartService) View(ctx context.Context, userID int64) (*models.CartView, error) {
	lines, err := s.cart.CartLines(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}

	view := &models.CartView{Lines: []models.CartViewLine{}, Total: decimal.Zero}
	if len(lines) == 0 {
		return view, nil
	}

	ids := make([]int64, len(lines))
	for i, line := range lines {
		ids[i] = line.ProductID
	}
	products, err := s.products.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load products: %w", err)
	}
	byID := make(map[int64]models.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	for _, line := range lines {
		p, ok := byID[line.ProductID]
		if !ok {
			if err := s.cart.RemoveFromCart(ctx, userID, line.ProductID); err != nil {
				s.logger.Warn("Failed to drop stale cart line",
					zap.Int64("user_id", userID),
					zap.Int64("product_id", line.ProductID),
					zap.Error(err))
			}
			continue
		}
		subtotal := p.DiscountedPrice().Mul(decimal.NewFromInt(int64(line.Quantity)))
		view.Lines = append(view.Lines, models.CartViewLine{
			Product:  p,
			Quantity: line.Quantity,
			Subtotal: subtotal,
		})
		view.Total = view.Total.Add(subtotal)
	}
	return view, nil
}

// Add increases the product's quantity, defaulting to one unit.
func (s *CartService) Add(ctx context.Context, userID int64, req *AddToCartRequest) (int, error) {
	qty := req.Quantity
	if qty == 0 {
		qty = 1
	}
	if qty < 0 {
		return 0, models.ErrInvalidQuantity
	}

	if _, err := s.products.GetProductByID(ctx, req.ProductID); err != nil {
		return 0, err
	}

	total, err := s.cart.AddToCart(ctx, userID, req.ProductID, qty)
	if err != nil {
		return 0, fmt.Errorf("failed to add to cart: %w", err)
	}
	return total, nil
}

// Update sets the quantity outright; zero or less removes the line.
func (s *CartService) Update(ctx context.Context, userID, productID int64, quantity int) error {
	if quantity > 0 {
		if _, err := s.products.GetProductByID(ctx, productID); err != nil {
			return err
		}
	}
	if err := s.cart.SetCartQuantity(ctx, userID, productID, quantity); err != nil {
		return fmt.Errorf("failed to update cart: %w", err)
	}
	return nil
}

func (s *CartService) Remove(ctx context.Context, userID, productID int64) error {
	if err := s.cart.RemoveFromCart(ctx, userID, productID); err != nil {
		return fmt.Errorf("failed to remove from cart: %w", err)
	}
	return nil
}
