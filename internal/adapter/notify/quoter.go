package notify

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/rl1809/order-fulfillment/internal/core/domain"
)

// FlatRateQuoter offers the same methods for every complete address.
// Standard shipping is free once the cart subtotal reaches FreeOver.
type FlatRateQuoter struct {
	Methods  []domain.ShippingMethod
	FreeOver decimal.Decimal
}

func DefaultQuoter() *FlatRateQuoter {
	return &FlatRateQuoter{
		Methods: []domain.ShippingMethod{
			{ID: "standard", Name: "Standard Shipping", Price: decimal.RequireFromString("5.99"), EstimatedDays: 4},
			{ID: "express", Name: "Express Shipping", Price: decimal.RequireFromString("15.99"), EstimatedDays: 2},
		},
		FreeOver: decimal.NewFromInt(100),
	}
}

func (q *FlatRateQuoter) Quote(ctx context.Context, address domain.Address, cart domain.Cart) ([]domain.ShippingMethod, error) {
	if !address.Complete() {
		return nil, domain.NewValidationError("address", "is incomplete")
	}

	free := q.FreeOver.IsPositive() && cart.Subtotal().GreaterThanOrEqual(q.FreeOver)
	methods := make([]domain.ShippingMethod, 0, len(q.Methods))
	for _, m := range q.Methods {
		if free && m.ID == "standard" {
			m.Price = decimal.Zero
		}
		methods = append(methods, m)
	}
	return methods, nil
}
