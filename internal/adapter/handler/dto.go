package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/order-fulfillment/internal/core/domain"
)

type CreateCartRequest struct {
	SessionID string `json:"session_id"`
}

type CartItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type StartCheckoutRequest struct {
	CartID string `json:"cart_id"`
	Email  string `json:"email"`
}

type ShippingRequest struct {
	Address        domain.Address  `json:"address"`
	BillingAddress *domain.Address `json:"billing_address"`
	MethodID       string          `json:"method_id"`
	GuestEmail     string          `json:"guest_email"`
	Notes          string          `json:"notes"`
}

type PaymentMethodRequest struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Last4 string `json:"last4"`
}

type PaymentConfirmedRequest struct {
	SessionID       string `json:"session_id"`
	PaymentIntentID string `json:"payment_intent_id"`
	PaymentMethod   string `json:"payment_method"`
}

type StatusUpdateRequest struct {
	Status         domain.OrderStatus `json:"status"`
	Notes          string             `json:"notes"`
	TrackingNumber string             `json:"tracking_number"`
	Carrier        string             `json:"carrier"`
}

type BulkStatusRequest struct {
	OrderIDs []string           `json:"order_ids"`
	Status   domain.OrderStatus `json:"status"`
	Notes    string             `json:"notes"`
}

type TrackingUpdateRequest struct {
	TrackingNumber string             `json:"tracking_number"`
	Carrier        string             `json:"carrier"`
	Status         domain.OrderStatus `json:"status"`
	Description    string             `json:"description"`
}

type StartImpersonationRequest struct {
	TargetUserID    string `json:"target_user_id"`
	Reason          string `json:"reason"`
	DurationMinutes int    `json:"duration_minutes"`
}

type StopImpersonationRequest struct {
	Token string `json:"token"`
}

type StockChangeRequest struct {
	Quantity int    `json:"quantity"`
	Reason   string `json:"reason"`
}

type CheckoutResponse struct {
	Session         *domain.CheckoutSession   `json:"session"`
	SavedAddresses  []domain.SavedAddress     `json:"saved_addresses,omitempty"`
	PaymentMethods  []domain.PaymentMethodRef `json:"payment_methods,omitempty"`
	ShippingOptions []domain.ShippingMethod   `json:"shipping_options,omitempty"`
	RestoredDraft   bool                      `json:"restored_draft"`
	Warnings        []string                  `json:"warnings,omitempty"`
}

type ShippingResponse struct {
	Session         *domain.CheckoutSession `json:"session"`
	ShippingOptions []domain.ShippingMethod `json:"shipping_options"`
}

type OrderItemResponse struct {
	ProductID string          `json:"product_id"`
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	Total     decimal.Decimal `json:"total"`
}

type OrderResponse struct {
	ID              string              `json:"id"`
	OrderNumber     string              `json:"order_number"`
	UserID          string              `json:"user_id,omitempty"`
	CustomerEmail   string              `json:"customer_email"`
	Status          domain.OrderStatus  `json:"status"`
	PaymentStatus   string              `json:"payment_status"`
	PaymentMethod   string              `json:"payment_method,omitempty"`
	Subtotal        decimal.Decimal     `json:"subtotal"`
	ShippingCost    decimal.Decimal     `json:"shipping_cost"`
	Tax             decimal.Decimal     `json:"tax"`
	Total           decimal.Decimal     `json:"total"`
	Currency        string              `json:"currency"`
	ShippingAddress domain.Address      `json:"shipping_address"`
	BillingAddress  domain.Address      `json:"billing_address"`
	ShippingMethod  string              `json:"shipping_method,omitempty"`
	TrackingNumber  string              `json:"tracking_number,omitempty"`
	Carrier         string              `json:"carrier,omitempty"`
	CustomerNotes   string              `json:"customer_notes,omitempty"`
	Items           []OrderItemResponse `json:"items"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
	ShippedAt       *time.Time          `json:"shipped_at,omitempty"`
	DeliveredAt     *time.Time          `json:"delivered_at,omitempty"`
	CancelledAt     *time.Time          `json:"cancelled_at,omitempty"`
}

type HistoryResponse struct {
	FromStatus domain.OrderStatus `json:"from_status"`
	ToStatus   domain.OrderStatus `json:"to_status"`
	ChangedBy  string             `json:"changed_by,omitempty"`
	ChangedAt  time.Time          `json:"changed_at"`
	Automated  bool               `json:"automated"`
	Notes      string             `json:"notes,omitempty"`
}

type TrackingEventResponse struct {
	Status         domain.OrderStatus `json:"status"`
	TrackingNumber string             `json:"tracking_number,omitempty"`
	Carrier        string             `json:"carrier,omitempty"`
	Description    string             `json:"description,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
}

type TrackingResponse struct {
	OrderNumber    string                  `json:"order_number"`
	Status         domain.OrderStatus      `json:"status"`
	TrackingNumber string                  `json:"tracking_number,omitempty"`
	Carrier        string                  `json:"carrier,omitempty"`
	CreatedAt      time.Time               `json:"created_at"`
	ShippedAt      *time.Time              `json:"shipped_at,omitempty"`
	DeliveredAt    *time.Time              `json:"delivered_at,omitempty"`
	Events         []TrackingEventResponse `json:"events"`
}

type ImpersonatedUser struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type ImpersonationResponse struct {
	Token         string           `json:"token"`
	SessionID     string           `json:"session_id"`
	ExpiresAt     time.Time        `json:"expires_at"`
	Impersonating ImpersonatedUser `json:"impersonating"`
}

type AuditEntryResponse struct {
	ID           string         `json:"id"`
	ActorID      string         `json:"user_id"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id,omitempty"`
	OldValues    map[string]any `json:"old_values,omitempty"`
	NewValues    map[string]any `json:"new_values,omitempty"`
	IPAddress    string         `json:"ip_address,omitempty"`
	UserAgent    string         `json:"user_agent,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	Total   int  `json:"total"`
	HasMore bool `json:"has_more"`
}

type AuditPageResponse struct {
	Logs       []AuditEntryResponse `json:"logs"`
	Pagination Pagination           `json:"pagination"`
}

type InventoryLevelResponse struct {
	ProductID         string    `json:"product_id"`
	SKU               string    `json:"sku"`
	Name              string    `json:"name"`
	StockQuantity     int       `json:"stock_quantity"`
	LowStockThreshold int       `json:"low_stock_threshold"`
	LowStock          bool      `json:"low_stock"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type MovementResponse struct {
	ID             string              `json:"id"`
	Type           domain.MovementType `json:"type"`
	Quantity       int                 `json:"quantity"`
	QuantityBefore int                 `json:"quantity_before"`
	QuantityAfter  int                 `json:"quantity_after"`
	Reason         string              `json:"reason,omitempty"`
	ReferenceID    string              `json:"reference_id,omitempty"`
	PerformedBy    string              `json:"performed_by,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
}

type MovementSummaryResponse struct {
	ProductID   string `json:"product_id"`
	TotalIn     int    `json:"total_in"`
	TotalOut    int    `json:"total_out"`
	Adjustments int    `json:"adjustments"`
	Movements   int    `json:"movements"`
}

type ConservationResponse struct {
	ProductID  string `json:"product_id"`
	Consistent bool   `json:"consistent"`
	Detail     string `json:"detail,omitempty"`
}

func toOrderResponse(o *domain.Order) OrderResponse {
	items := make([]OrderItemResponse, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, OrderItemResponse{
			ProductID: item.ProductID,
			SKU:       item.SKU,
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			Total:     item.Total,
		})
	}
	return OrderResponse{
		ID:              o.ID,
		OrderNumber:     o.OrderNumber,
		UserID:          o.UserID,
		CustomerEmail:   o.CustomerEmail,
		Status:          o.Status,
		PaymentStatus:   string(o.PaymentStatus),
		PaymentMethod:   o.PaymentMethod,
		Subtotal:        o.Subtotal,
		ShippingCost:    o.ShippingCost,
		Tax:             o.Tax,
		Total:           o.Total,
		Currency:        o.Currency,
		ShippingAddress: o.ShippingAddress,
		BillingAddress:  o.BillingAddress,
		ShippingMethod:  o.ShippingMethod,
		TrackingNumber:  o.TrackingNumber,
		Carrier:         o.Carrier,
		CustomerNotes:   o.CustomerNotes,
		Items:           items,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
		ShippedAt:       o.ShippedAt,
		DeliveredAt:     o.DeliveredAt,
		CancelledAt:     o.CancelledAt,
	}
}

func toTrackingResponse(info *domain.TrackingInfo) TrackingResponse {
	events := make([]TrackingEventResponse, 0, len(info.Events))
	for _, e := range info.Events {
		events = append(events, TrackingEventResponse{
			Status:         e.Status,
			TrackingNumber: e.TrackingNumber,
			Carrier:        e.Carrier,
			Description:    e.Description,
			CreatedAt:      e.CreatedAt,
		})
	}
	return TrackingResponse{
		OrderNumber:    info.OrderNumber,
		Status:         info.Status,
		TrackingNumber: info.TrackingNumber,
		Carrier:        info.Carrier,
		CreatedAt:      info.CreatedAt,
		ShippedAt:      info.ShippedAt,
		DeliveredAt:    info.DeliveredAt,
		Events:         events,
	}
}

func toInventoryResponse(l domain.InventoryLevel) InventoryLevelResponse {
	return InventoryLevelResponse{
		ProductID:         l.ProductID,
		SKU:               l.SKU,
		Name:              l.Name,
		StockQuantity:     l.StockQuantity,
		LowStockThreshold: l.LowStockThreshold,
		LowStock:          l.LowStock(),
		UpdatedAt:         l.UpdatedAt,
	}
}

func toMovementResponse(m domain.InventoryMovement) MovementResponse {
	return MovementResponse{
		ID:             m.ID,
		Type:           m.Type,
		Quantity:       m.Quantity,
		QuantityBefore: m.QuantityBefore,
		QuantityAfter:  m.QuantityAfter,
		Reason:         m.Reason,
		ReferenceID:    m.ReferenceID,
		PerformedBy:    m.PerformedBy,
		CreatedAt:      m.CreatedAt,
	}
}
