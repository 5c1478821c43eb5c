package port

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/rl1809/order-fulfillment/internal/core/domain"
)

type ProductSnapshot struct {
	ID     string
	SKU    string
	Name   string
	Price  decimal.Decimal
	Active bool
}

type CatalogReader interface {
	GetProduct(ctx context.Context, productID string) (*ProductSnapshot, error)
}

type CustomerDirectory interface {
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	SavedAddresses(ctx context.Context, userID string) ([]domain.SavedAddress, error)
	PaymentMethods(ctx context.Context, userID string) ([]domain.PaymentMethodRef, error)
}

type ShippingQuoter interface {
	Quote(ctx context.Context, address domain.Address, cart domain.Cart) ([]domain.ShippingMethod, error)
}

// DeliveryChannel hands one notification attempt to the outside world
// and returns the channel's message id.
type DeliveryChannel interface {
	Name() string
	Deliver(ctx context.Context, notification domain.Notification, attemptID string) (string, error)
}
