package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/rl1809/order-fulfillment/internal/clock"
	"github.com/rl1809/order-fulfillment/internal/core/domain"
	"github.com/rl1809/order-fulfillment/internal/port"
)

// CartService mutates carts on behalf of customers. Every mutation is
// refused with domain.ErrCartLocked while a checkout other than the
// caller's holds the cart. Callers outside checkout pass an empty
// holderToken.
type CartService struct {
	carts   port.CartRepository
	catalog port.CatalogReader
	locks   *CartLockService
	clock   clock.Clock
	logger  *slog.Logger
}

func NewCartService(carts port.CartRepository, catalog port.CatalogReader, locks *CartLockService, clk clock.Clock, logger *slog.Logger) *CartService {
	return &CartService{
		carts:   carts,
		catalog: catalog,
		locks:   locks,
		clock:   clk,
		logger:  logger.With(slog.String("component", "cart")),
	}
}

// CreateCart opens an empty cart for an account or an anonymous session.
func (s *CartService) CreateCart(ctx context.Context, userID, sessionID string) (*domain.Cart, error) {
	if userID == "" && sessionID == "" {
		return nil, domain.NewValidationError("owner", "user id or session id is required")
	}
	cart := domain.Cart{
		ID:        uuid.NewString(),
		UserID:    userID,
		SessionID: sessionID,
		Items:     []domain.CartItem{},
		UpdatedAt: s.clock.Now(),
	}
	if err := s.carts.CreateCart(ctx, cart); err != nil {
		return nil, fmt.Errorf("create cart: %w", err)
	}
	return &cart, nil
}

func (s *CartService) GetCart(ctx context.Context, cartID string) (*domain.Cart, error) {
	return s.carts.GetCart(ctx, cartID)
}

// AddItem adds quantity of a product, snapshotting its current price.
func (s *CartService) AddItem(ctx context.Context, cartID, holderToken, productID string, quantity int) (*domain.Cart, error) {
	if quantity <= 0 {
		return nil, domain.NewValidationError("quantity", "must be positive")
	}
	if err := s.locks.CheckHolder(ctx, cartID, holderToken); err != nil {
		return nil, err
	}

	cart, err := s.carts.GetCart(ctx, cartID)
	if err != nil {
		return nil, err
	}
	for _, item := range cart.Items {
		if item.ProductID == productID {
			quantity += item.Quantity
			break
		}
	}
	return s.upsert(ctx, cartID, productID, quantity)
}

// UpdateQuantity sets the quantity of a line; zero or less removes it.
func (s *CartService) UpdateQuantity(ctx context.Context, cartID, holderToken, productID string, quantity int) (*domain.Cart, error) {
	if quantity <= 0 {
		return s.RemoveItem(ctx, cartID, holderToken, productID)
	}
	if err := s.locks.CheckHolder(ctx, cartID, holderToken); err != nil {
		return nil, err
	}
	return s.upsert(ctx, cartID, productID, quantity)
}

func (s *CartService) RemoveItem(ctx context.Context, cartID, holderToken, productID string) (*domain.Cart, error) {
	if err := s.locks.CheckHolder(ctx, cartID, holderToken); err != nil {
		return nil, err
	}
	if err := s.carts.RemoveCartItem(ctx, cartID, productID); err != nil {
		return nil, fmt.Errorf("remove cart item: %w", err)
	}
	return s.carts.GetCart(ctx, cartID)
}

func (s *CartService) Clear(ctx context.Context, cartID, holderToken string) error {
	if err := s.locks.CheckHolder(ctx, cartID, holderToken); err != nil {
		return err
	}
	if err := s.carts.ClearCart(ctx, cartID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

func (s *CartService) upsert(ctx context.Context, cartID, productID string, quantity int) (*domain.Cart, error) {
	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if !product.Active {
		return nil, domain.NewValidationError("product_id", "product is not available")
	}

	item := domain.CartItem{
		ProductID: product.ID,
		SKU:       product.SKU,
		Name:      product.Name,
		Quantity:  quantity,
		UnitPrice: product.Price,
	}
	if err := s.carts.UpsertCartItem(ctx, cartID, item); err != nil {
		return nil, fmt.Errorf("upsert cart item: %w", err)
	}
	return s.carts.GetCart(ctx, cartID)
}
