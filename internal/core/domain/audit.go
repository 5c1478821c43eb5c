package domain

import "time"

const (
	AuditBulkStatusUpdate  = "bulk-status-update"
	AuditOrderStatusUpdate = "order-status-update"
	AuditTrackingUpdate    = "tracking-update"
	AuditImpersonateStart  = "impersonate-start"
	AuditImpersonateEnd    = "impersonate-end"
	AuditCartForceUnlock   = "cart-force-unlock"
	AuditInventoryRestock  = "inventory-restock"
	AuditInventoryAdjust   = "inventory-adjust"
	AuditDebugAccess       = "debug-access"
)

const (
	ResourceOrder         = "order"
	ResourceOrders        = "orders"
	ResourceImpersonation = "user_impersonation"
	ResourceCart          = "cart"
	ResourceProduct       = "product"
	ResourceDebug         = "debug"
)

// AuditLogEntry is immutable once appended.
type AuditLogEntry struct {
	ID           string
	ActorID      string
	Action       string
	ResourceType string
	ResourceID   string
	OldValues    map[string]any
	NewValues    map[string]any
	IPAddress    string
	UserAgent    string
	CreatedAt    time.Time
}

type AuditFilter struct {
	ActorID      string
	Action       string
	ResourceType string
	Start        *time.Time
	End          *time.Time
	Limit        int
	Offset       int
}

type AuditPage struct {
	Logs    []AuditLogEntry
	Limit   int
	Offset  int
	Total   int
	HasMore bool
}
