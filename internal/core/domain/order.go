package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// orderTransitions lists, for every status, the statuses it may move to.
// Statuses with no entry are terminal.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusDelivered},
}

// OrderStatuses returns every known status in lifecycle order.
func OrderStatuses() []OrderStatus {
	return []OrderStatus{
		OrderStatusPending,
		OrderStatusProcessing,
		OrderStatusShipped,
		OrderStatusDelivered,
		OrderStatusCancelled,
	}
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// AllowedTransitions returns a copy of the outgoing edges of s.
func (s OrderStatus) AllowedTransitions() []OrderStatus {
	return append([]OrderStatus(nil), orderTransitions[s]...)
}

func (s OrderStatus) IsTerminal() bool {
	return len(orderTransitions[s]) == 0
}

// PaymentStatus records the payment state of an order. Orders exist only
// once payment is confirmed, so every stored order is paid.
type PaymentStatus string

const PaymentStatusPaid PaymentStatus = "paid"

type Address struct {
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Company    string `json:"company,omitempty"`
	Street     string `json:"street"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Province   string `json:"province,omitempty"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

// Complete reports whether the address carries everything a carrier needs.
func (a Address) Complete() bool {
	return a.FirstName != "" && a.LastName != "" && a.Street != "" &&
		a.City != "" && a.PostalCode != "" && a.Country != ""
}

type Order struct {
	ID                string
	OrderNumber       string
	CheckoutSessionID string
	UserID            string // empty for guest orders
	CustomerEmail     string
	Status            OrderStatus
	PaymentStatus     PaymentStatus
	PaymentMethod     string
	PaymentIntentID   string
	Subtotal          decimal.Decimal
	ShippingCost      decimal.Decimal
	Tax               decimal.Decimal
	Total             decimal.Decimal
	Currency          string
	ShippingAddress   Address
	BillingAddress    Address
	ShippingMethod    string
	TrackingNumber    string
	Carrier           string
	CustomerNotes     string
	Items             []OrderItem
	CreatedAt         time.Time
	UpdatedAt         time.Time
	ShippedAt         *time.Time
	DeliveredAt       *time.Time
	CancelledAt       *time.Time
}

// OrderItem is a snapshot of the product at purchase time. It is never
// updated from the live catalog.
type OrderItem struct {
	ID        string
	OrderID   string
	ProductID string
	SKU       string
	Name      string
	UnitPrice decimal.Decimal
	Quantity  int
	Total     decimal.Decimal
}

// OrderStatusHistory rows are append-only, one per applied transition.
type OrderStatusHistory struct {
	ID         string
	OrderID    string
	FromStatus OrderStatus
	ToStatus   OrderStatus
	ChangedBy  string
	ChangedAt  time.Time
	Automated  bool
	Notes      string
}

type TrackingEvent struct {
	ID             string
	OrderID        string
	Status         OrderStatus
	TrackingNumber string
	Carrier        string
	Description    string
	CreatedAt      time.Time
}

// StatusChange describes one transition to apply to a stored order.
type StatusChange struct {
	OrderID        string
	From           OrderStatus
	To             OrderStatus
	ChangedBy      string
	Automated      bool
	Notes          string
	TrackingNumber string
	Carrier        string
	At             time.Time
}

// TrackingInfo is the customer-facing view returned by the public
// tracking lookup. It deliberately omits addresses and payment data.
type TrackingInfo struct {
	OrderNumber    string
	Status         OrderStatus
	TrackingNumber string
	Carrier        string
	CreatedAt      time.Time
	ShippedAt      *time.Time
	DeliveredAt    *time.Time
	Events         []TrackingEvent
}
