package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type CheckoutStep string

const (
	StepShipping     CheckoutStep = "shipping"
	StepPayment      CheckoutStep = "payment"
	StepReview       CheckoutStep = "review"
	StepConfirmation CheckoutStep = "confirmation"
)

var checkoutSteps = []CheckoutStep{StepShipping, StepPayment, StepReview, StepConfirmation}

func (s CheckoutStep) index() int {
	for i, step := range checkoutSteps {
		if step == s {
			return i
		}
	}
	return -1
}

// Next returns the step after s, or false if s is the last step.
func (s CheckoutStep) Next() (CheckoutStep, bool) {
	i := s.index()
	if i < 0 || i == len(checkoutSteps)-1 {
		return s, false
	}
	return checkoutSteps[i+1], true
}

// Previous returns the step before s, or false if s is the first step.
func (s CheckoutStep) Previous() (CheckoutStep, bool) {
	i := s.index()
	if i <= 0 {
		return s, false
	}
	return checkoutSteps[i-1], true
}

type ShippingMethod struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Price         decimal.Decimal `json:"price"`
	EstimatedDays int             `json:"estimated_days"`
}

type SavedAddress struct {
	ID        string  `json:"id"`
	Address   Address `json:"address"`
	IsDefault bool    `json:"is_default"`
}

type PaymentMethodRef struct {
	ID        string `json:"id"`
	Type      string `json:"type"` // credit_card, paypal, bank_transfer
	Last4     string `json:"last4,omitempty"`
	IsDefault bool   `json:"is_default"`
}

type ShippingInfo struct {
	Address        Address         `json:"address"`
	BillingAddress *Address        `json:"billing_address,omitempty"`
	Method         *ShippingMethod `json:"method,omitempty"`
	GuestEmail     string          `json:"guest_email,omitempty"`
	Notes          string          `json:"notes,omitempty"`
}

// Billing returns the billing address, defaulting to the shipping address.
func (s ShippingInfo) Billing() Address {
	if s.BillingAddress != nil {
		return *s.BillingAddress
	}
	return s.Address
}

type Totals struct {
	Subtotal  decimal.Decimal `json:"subtotal"`
	Shipping  decimal.Decimal `json:"shipping"`
	Tax       decimal.Decimal `json:"tax"`
	Total     decimal.Decimal `json:"total"`
	ItemCount int             `json:"item_count"`
}

// ComputeTotals derives the order totals from a cart and an optional
// shipping method. Tax is not charged.
func ComputeTotals(cart Cart, method *ShippingMethod) Totals {
	shipping := decimal.Zero
	if method != nil {
		shipping = method.Price
	}
	subtotal := cart.Subtotal()
	return Totals{
		Subtotal:  subtotal,
		Shipping:  shipping,
		Tax:       decimal.Zero,
		Total:     subtotal.Add(shipping),
		ItemCount: cart.ItemCount(),
	}
}

type CheckoutSession struct {
	ID            string            `json:"id"`
	CartID        string            `json:"cart_id"`
	UserID        string            `json:"user_id,omitempty"`
	CustomerEmail string            `json:"customer_email,omitempty"`
	Step          CheckoutStep      `json:"step"`
	Cart          Cart              `json:"cart"`
	Shipping      ShippingInfo      `json:"shipping"`
	PaymentMethod *PaymentMethodRef `json:"payment_method,omitempty"`
	Totals        Totals            `json:"totals"`
	LockToken     string            `json:"lock_token"`
	OrderID       string            `json:"order_id,omitempty"`
	OrderNumber   string            `json:"order_number,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	ExpiresAt     time.Time         `json:"expires_at"`
}

func (s *CheckoutSession) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

func (s *CheckoutSession) IsGuest() bool {
	return s.UserID == ""
}

// ContactEmail is where order notifications go.
func (s *CheckoutSession) ContactEmail() string {
	if s.CustomerEmail != "" {
		return s.CustomerEmail
	}
	return s.Shipping.GuestEmail
}

// CheckoutDraft is what survives an interrupted session so the next
// initialization can restore it.
type CheckoutDraft struct {
	CartID    string       `json:"cart_id"`
	Shipping  ShippingInfo `json:"shipping"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// CheckoutInit is the assembled result of initializing a session.
type CheckoutInit struct {
	Session         *CheckoutSession
	SavedAddresses  []SavedAddress
	PaymentMethods  []PaymentMethodRef
	ShippingOptions []ShippingMethod
	RestoredDraft   bool
}

// PaymentConfirmed is delivered (at least once) by the payment
// collaborator after the payment has been captured.
type PaymentConfirmed struct {
	SessionID       string
	PaymentIntentID string
	PaymentMethod   string
}
