package port

import (
	"context"
	"time"

	"github.com/rl1809/order-fulfillment/internal/core/domain"
)

type OrderRepository interface {
	// PlaceOrder persists the order and its items, takes stock for every
	// item (one "out" movement each) and clears the cart, all in one
	// transaction. When an order already exists for the checkout session
	// it is returned with created=false and nothing is written. A short
	// product yields *domain.InsufficientStockError and no writes; an
	// order-number collision yields domain.ErrDuplicate.
	PlaceOrder(ctx context.Context, order domain.Order, cartID string) (placed *domain.Order, created bool, err error)

	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
	GetOrderBySession(ctx context.Context, sessionID string) (*domain.Order, error)
	GetOrderByNumber(ctx context.Context, orderNumber string) (*domain.Order, error)

	// ApplyStatusChange moves the order from change.From to change.To only
	// if it is still in change.From, appends one history row, and for
	// cancellations restocks every item with an "in" movement. A stale
	// From yields *domain.IllegalTransitionError naming the real status.
	ApplyStatusChange(ctx context.Context, change domain.StatusChange) (*domain.Order, error)

	UpdateTracking(ctx context.Context, orderID, trackingNumber, carrier string, at time.Time) error
	AppendTrackingEvent(ctx context.Context, event domain.TrackingEvent) error
	ListTrackingEvents(ctx context.Context, orderID string) ([]domain.TrackingEvent, error)
	ListStatusHistory(ctx context.Context, orderID string) ([]domain.OrderStatusHistory, error)
}

type InventoryRepository interface {
	// DecrementStock is a compare-and-decrement: it succeeds only when the
	// current quantity covers the request, and appends one movement.
	DecrementStock(ctx context.Context, productID string, quantity int, reason, referenceID, performedBy string) (*domain.InventoryMovement, error)
	IncrementStock(ctx context.Context, productID string, quantity int, reason, referenceID, performedBy string) (*domain.InventoryMovement, error)
	AdjustStock(ctx context.Context, productID string, newQuantity int, reason, performedBy string) (*domain.InventoryMovement, error)

	// CreateInventory registers a product with zero stock and, if level
	// carries a positive quantity, books it as the first "in" movement.
	CreateInventory(ctx context.Context, level domain.InventoryLevel, performedBy string) error
	GetInventory(ctx context.Context, productID string) (*domain.InventoryLevel, error)
	ListInventory(ctx context.Context) ([]domain.InventoryLevel, error)
	ListMovements(ctx context.Context, productID string, filter domain.MovementFilter) ([]domain.InventoryMovement, error)
}

type CartRepository interface {
	GetCart(ctx context.Context, cartID string) (*domain.Cart, error)
	CreateCart(ctx context.Context, cart domain.Cart) error
	UpsertCartItem(ctx context.Context, cartID string, item domain.CartItem) error
	RemoveCartItem(ctx context.Context, cartID, productID string) error
	ClearCart(ctx context.Context, cartID string) error
}

type NotificationLogRepository interface {
	CreateLog(ctx context.Context, log domain.NotificationLog) error
	GetLog(ctx context.Context, logID string) (*domain.NotificationLog, error)

	// RecordAttempt appends the attempt row and stores the log's new state
	// in one unit.
	RecordAttempt(ctx context.Context, attempt domain.NotificationAttempt, log domain.NotificationLog) error
	ListAttempts(ctx context.Context, logID string) ([]domain.NotificationAttempt, error)
	ListPending(ctx context.Context, limit int) ([]domain.NotificationLog, error)
}

type AuditRepository interface {
	AppendAudit(ctx context.Context, entry domain.AuditLogEntry) error
	// QueryAudit returns one page of entries, newest first, and the total
	// number of entries matching the filter.
	QueryAudit(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditLogEntry, int, error)
}

type ImpersonationRepository interface {
	// StartSession ends any active session for the same admin and target
	// and inserts the new one, atomically.
	StartSession(ctx context.Context, session domain.ImpersonationSession) error
	GetSession(ctx context.Context, logID string) (*domain.ImpersonationSession, error)
	// EndSession stamps ended_at on an active session owned by adminID.
	EndSession(ctx context.Context, logID, adminID string, at time.Time) (*domain.ImpersonationSession, error)
	CountSessionsSince(ctx context.Context, adminID string, since time.Time) (int, error)
}
