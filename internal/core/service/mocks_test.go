package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/order-fulfillment/internal/core/domain"
	"github.com/rl1809/order-fulfillment/internal/port"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// Mock store covering orders, inventory and carts so that PlaceOrder can
// touch all three like the SQL store does in one transaction.
type memStore struct {
	mu         sync.Mutex
	orders     map[string]*domain.Order
	history    []domain.OrderStatusHistory
	events     []domain.TrackingEvent
	stock      map[string]*domain.InventoryLevel
	movements  []domain.InventoryMovement
	carts      map[string]*domain.Cart
	seq        int
	duplicates int
	getErr     error
}

func newMemStore() *memStore {
	return &memStore{
		orders: make(map[string]*domain.Order),
		stock:  make(map[string]*domain.InventoryLevel),
		carts:  make(map[string]*domain.Cart),
	}
}

func (m *memStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func cloneOrder(o *domain.Order) *domain.Order {
	c := *o
	c.Items = append([]domain.OrderItem(nil), o.Items...)
	return &c
}

func (m *memStore) seedStock(productID string, quantity int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stock[productID] = &domain.InventoryLevel{ProductID: productID, Name: productID, LowStockThreshold: 5}
	if quantity > 0 {
		m.applyLocked(productID, domain.MovementIn, quantity, "initial stock", "", "seed")
	}
}

func (m *memStore) seedOrder(id string, status domain.OrderStatus) *domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	order := &domain.Order{
		ID:            id,
		OrderNumber:   "ORD-" + id,
		CustomerEmail: id + "@example.com",
		Status:        status,
		PaymentStatus: domain.PaymentStatusPaid,
	}
	m.orders[id] = order
	return cloneOrder(order)
}

func (m *memStore) applyLocked(productID string, t domain.MovementType, delta int, reason, ref, by string) domain.InventoryMovement {
	level := m.stock[productID]
	before := level.StockQuantity
	level.StockQuantity += delta
	quantity := delta
	if quantity < 0 {
		quantity = -quantity
	}
	mv := domain.InventoryMovement{
		ID:             m.nextID("mv"),
		ProductID:      productID,
		Type:           t,
		Quantity:       quantity,
		QuantityBefore: before,
		QuantityAfter:  level.StockQuantity,
		Reason:         reason,
		ReferenceID:    ref,
		PerformedBy:    by,
	}
	m.movements = append(m.movements, mv)
	return mv
}

func (m *memStore) stockOf(productID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stock[productID].StockQuantity
}

func (m *memStore) movementCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.movements)
}

func (m *memStore) orderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

func (m *memStore) historyFor(orderID string) []domain.OrderStatusHistory {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rows []domain.OrderStatusHistory
	for _, h := range m.history {
		if h.OrderID == orderID {
			rows = append(rows, h)
		}
	}
	return rows
}

// OrderRepository

func (m *memStore) PlaceOrder(ctx context.Context, order domain.Order, cartID string) (*domain.Order, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.orders {
		if existing.CheckoutSessionID != "" && existing.CheckoutSessionID == order.CheckoutSessionID {
			return cloneOrder(existing), false, nil
		}
	}
	if m.duplicates > 0 {
		m.duplicates--
		return nil, false, domain.ErrDuplicate
	}

	var shortages []domain.Shortage
	for _, item := range order.Items {
		level, ok := m.stock[item.ProductID]
		available := 0
		if ok {
			available = level.StockQuantity
		}
		if available < item.Quantity {
			shortages = append(shortages, domain.Shortage{
				ProductID: item.ProductID, Name: item.Name, Requested: item.Quantity, Available: available,
			})
		}
	}
	if len(shortages) > 0 {
		return nil, false, &domain.InsufficientStockError{Shortages: shortages}
	}

	for _, item := range order.Items {
		m.applyLocked(item.ProductID, domain.MovementOut, -item.Quantity, "order", order.ID, "checkout")
	}
	stored := cloneOrder(&order)
	m.orders[order.ID] = stored
	if cart, ok := m.carts[cartID]; ok {
		ordered := make(map[string]bool, len(order.Items))
		for _, item := range order.Items {
			ordered[item.ProductID] = true
		}
		var kept []domain.CartItem
		for _, line := range cart.Items {
			if !ordered[line.ProductID] {
				kept = append(kept, line)
			}
		}
		cart.Items = kept
	}
	return cloneOrder(stored), true, nil
}

func (m *memStore) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	order, ok := m.orders[orderID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneOrder(order), nil
}

func (m *memStore) GetOrderBySession(ctx context.Context, sessionID string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, order := range m.orders {
		if order.CheckoutSessionID == sessionID {
			return cloneOrder(order), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memStore) GetOrderByNumber(ctx context.Context, orderNumber string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, order := range m.orders {
		if order.OrderNumber == orderNumber {
			return cloneOrder(order), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memStore) ApplyStatusChange(ctx context.Context, change domain.StatusChange) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[change.OrderID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if order.Status != change.From {
		return nil, &domain.IllegalTransitionError{OrderID: order.ID, From: order.Status, To: change.To}
	}

	at := change.At
	order.Status = change.To
	order.UpdatedAt = at
	if change.TrackingNumber != "" {
		order.TrackingNumber = change.TrackingNumber
	}
	if change.Carrier != "" {
		order.Carrier = change.Carrier
	}
	switch change.To {
	case domain.OrderStatusShipped:
		order.ShippedAt = &at
	case domain.OrderStatusDelivered:
		order.DeliveredAt = &at
	case domain.OrderStatusCancelled:
		order.CancelledAt = &at
		for _, item := range order.Items {
			m.applyLocked(item.ProductID, domain.MovementIn, item.Quantity, "order cancelled", order.ID, change.ChangedBy)
		}
	}

	m.history = append(m.history, domain.OrderStatusHistory{
		ID:         m.nextID("hist"),
		OrderID:    order.ID,
		FromStatus: change.From,
		ToStatus:   change.To,
		ChangedBy:  change.ChangedBy,
		ChangedAt:  at,
		Automated:  change.Automated,
		Notes:      change.Notes,
	})
	return cloneOrder(order), nil
}

func (m *memStore) UpdateTracking(ctx context.Context, orderID, trackingNumber, carrier string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[orderID]
	if !ok {
		return domain.ErrNotFound
	}
	order.TrackingNumber = trackingNumber
	order.Carrier = carrier
	order.UpdatedAt = at
	return nil
}

func (m *memStore) AppendTrackingEvent(ctx context.Context, event domain.TrackingEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	event.ID = m.nextID("evt")
	m.events = append(m.events, event)
	return nil
}

func (m *memStore) ListTrackingEvents(ctx context.Context, orderID string) ([]domain.TrackingEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var events []domain.TrackingEvent
	for _, e := range m.events {
		if e.OrderID == orderID {
			events = append(events, e)
		}
	}
	return events, nil
}

func (m *memStore) ListStatusHistory(ctx context.Context, orderID string) ([]domain.OrderStatusHistory, error) {
	return m.historyFor(orderID), nil
}

// InventoryRepository

func (m *memStore) DecrementStock(ctx context.Context, productID string, quantity int, reason, referenceID, performedBy string) (*domain.InventoryMovement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	level, ok := m.stock[productID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if level.StockQuantity < quantity {
		return nil, &domain.InsufficientStockError{Shortages: []domain.Shortage{{
			ProductID: productID, Name: level.Name, Requested: quantity, Available: level.StockQuantity,
		}}}
	}
	mv := m.applyLocked(productID, domain.MovementOut, -quantity, reason, referenceID, performedBy)
	return &mv, nil
}

func (m *memStore) IncrementStock(ctx context.Context, productID string, quantity int, reason, referenceID, performedBy string) (*domain.InventoryMovement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stock[productID]; !ok {
		return nil, domain.ErrNotFound
	}
	mv := m.applyLocked(productID, domain.MovementIn, quantity, reason, referenceID, performedBy)
	return &mv, nil
}

func (m *memStore) AdjustStock(ctx context.Context, productID string, newQuantity int, reason, performedBy string) (*domain.InventoryMovement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	level, ok := m.stock[productID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	mv := m.applyLocked(productID, domain.MovementAdjustment, newQuantity-level.StockQuantity, reason, "", performedBy)
	return &mv, nil
}

func (m *memStore) CreateInventory(ctx context.Context, level domain.InventoryLevel, performedBy string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stock[level.ProductID]; ok {
		return domain.ErrDuplicate
	}
	quantity := level.StockQuantity
	level.StockQuantity = 0
	m.stock[level.ProductID] = &level
	if quantity > 0 {
		m.applyLocked(level.ProductID, domain.MovementIn, quantity, "initial stock", "", performedBy)
	}
	return nil
}

func (m *memStore) GetInventory(ctx context.Context, productID string) (*domain.InventoryLevel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	level, ok := m.stock[productID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *level
	return &c, nil
}

func (m *memStore) ListInventory(ctx context.Context) ([]domain.InventoryLevel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	levels := make([]domain.InventoryLevel, 0, len(m.stock))
	for _, level := range m.stock {
		levels = append(levels, *level)
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i].ProductID < levels[j].ProductID })
	return levels, nil
}

func (m *memStore) ListMovements(ctx context.Context, productID string, filter domain.MovementFilter) ([]domain.InventoryMovement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.InventoryMovement
	for _, mv := range m.movements {
		if mv.ProductID != productID {
			continue
		}
		if filter.Type != "" && mv.Type != filter.Type {
			continue
		}
		out = append(out, mv)
	}
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// CartRepository

func (m *memStore) seedCart(cart domain.Cart) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := cart
	c.Items = append([]domain.CartItem(nil), cart.Items...)
	m.carts[cart.ID] = &c
}

func (m *memStore) GetCart(ctx context.Context, cartID string) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cart, ok := m.carts[cartID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *cart
	c.Items = append([]domain.CartItem(nil), cart.Items...)
	return &c, nil
}

func (m *memStore) CreateCart(ctx context.Context, cart domain.Cart) error {
	m.seedCart(cart)
	return nil
}

func (m *memStore) UpsertCartItem(ctx context.Context, cartID string, item domain.CartItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cart, ok := m.carts[cartID]
	if !ok {
		return domain.ErrNotFound
	}
	for i := range cart.Items {
		if cart.Items[i].ProductID == item.ProductID {
			cart.Items[i] = item
			return nil
		}
	}
	cart.Items = append(cart.Items, item)
	return nil
}

func (m *memStore) RemoveCartItem(ctx context.Context, cartID, productID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cart, ok := m.carts[cartID]
	if !ok {
		return domain.ErrNotFound
	}
	kept := cart.Items[:0]
	for _, item := range cart.Items {
		if item.ProductID != productID {
			kept = append(kept, item)
		}
	}
	cart.Items = kept
	return nil
}

func (m *memStore) ClearCart(ctx context.Context, cartID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cart, ok := m.carts[cartID]; ok {
		cart.Items = nil
	}
	return nil
}

// Mock CartLockStore
type memLocks struct {
	mu    sync.Mutex
	locks map[string]domain.CartLock
}

func newMemLocks() *memLocks {
	return &memLocks{locks: make(map[string]domain.CartLock)}
}

func (m *memLocks) AcquireLock(ctx context.Context, lock domain.CartLock, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.locks[lock.CartID]; ok && !existing.Expired(now) {
		return false, nil
	}
	m.locks[lock.CartID] = lock
	return true, nil
}

func (m *memLocks) ReleaseLock(ctx context.Context, cartID, holderToken string, now time.Time) (port.LockReleaseResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.locks[cartID]
	if !ok {
		return port.LockAbsent, nil
	}
	if existing.HolderToken != holderToken && !existing.Expired(now) {
		return port.LockHeldByOther, nil
	}
	delete(m.locks, cartID)
	return port.LockReleased, nil
}

func (m *memLocks) ForceReleaseLock(ctx context.Context, cartID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, cartID)
	return nil
}

func (m *memLocks) GetLock(ctx context.Context, cartID string) (*domain.CartLock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[cartID]
	if !ok {
		return nil, nil
	}
	return &lock, nil
}

// Mock CheckoutSessionStore
type memSessions struct {
	mu       sync.Mutex
	sessions map[string]domain.CheckoutSession
	drafts   map[string]domain.CheckoutDraft
	draftErr error
}

func newMemSessions() *memSessions {
	return &memSessions{
		sessions: make(map[string]domain.CheckoutSession),
		drafts:   make(map[string]domain.CheckoutDraft),
	}
}

func (m *memSessions) SaveSession(ctx context.Context, session domain.CheckoutSession, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID] = session
	return nil
}

func (m *memSessions) GetSession(ctx context.Context, sessionID string) (*domain.CheckoutSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[sessionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &session, nil
}

func (m *memSessions) DeleteSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}

func (m *memSessions) SaveDraft(ctx context.Context, draft domain.CheckoutDraft, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drafts[draft.CartID] = draft
	return nil
}

func (m *memSessions) GetDraft(ctx context.Context, cartID string) (*domain.CheckoutDraft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.draftErr != nil {
		return nil, m.draftErr
	}
	draft, ok := m.drafts[cartID]
	if !ok {
		return nil, nil
	}
	return &draft, nil
}

func (m *memSessions) DeleteDraft(ctx context.Context, cartID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.drafts, cartID)
	return nil
}

// Mock NotificationLogRepository
type memNotifications struct {
	mu       sync.Mutex
	logs     map[string]domain.NotificationLog
	attempts []domain.NotificationAttempt
}

func newMemNotifications() *memNotifications {
	return &memNotifications{logs: make(map[string]domain.NotificationLog)}
}

func (m *memNotifications) CreateLog(ctx context.Context, log domain.NotificationLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs[log.ID] = log
	return nil
}

func (m *memNotifications) GetLog(ctx context.Context, logID string) (*domain.NotificationLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	log, ok := m.logs[logID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &log, nil
}

func (m *memNotifications) RecordAttempt(ctx context.Context, attempt domain.NotificationAttempt, log domain.NotificationLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, attempt)
	m.logs[log.ID] = log
	return nil
}

func (m *memNotifications) ListAttempts(ctx context.Context, logID string) ([]domain.NotificationAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.NotificationAttempt
	for _, a := range m.attempts {
		if a.LogID == logID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memNotifications) ListPending(ctx context.Context, limit int) ([]domain.NotificationLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.NotificationLog
	for _, log := range m.logs {
		if log.Status == domain.NotificationPending {
			out = append(out, log)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memNotifications) attemptCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.attempts)
}

func (m *memNotifications) status(logID string) domain.NotificationStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logs[logID].Status
}

// Mock AuditRepository
type memAudit struct {
	mu      sync.Mutex
	entries []domain.AuditLogEntry
	// appendErr, when set, fails every append.
	appendErr error
}

func (m *memAudit) AppendAudit(ctx context.Context, entry domain.AuditLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memAudit) QueryAudit(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditLogEntry, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []domain.AuditLogEntry
	for i := len(m.entries) - 1; i >= 0; i-- {
		e := m.entries[i]
		if filter.ActorID != "" && e.ActorID != filter.ActorID {
			continue
		}
		if filter.Action != "" && e.Action != filter.Action {
			continue
		}
		if filter.ResourceType != "" && e.ResourceType != filter.ResourceType {
			continue
		}
		if filter.Start != nil && e.CreatedAt.Before(*filter.Start) {
			continue
		}
		if filter.End != nil && e.CreatedAt.After(*filter.End) {
			continue
		}
		matched = append(matched, e)
	}
	total := len(matched)
	if filter.Offset >= total {
		return nil, total, nil
	}
	end := filter.Offset + filter.Limit
	if end > total {
		end = total
	}
	return matched[filter.Offset:end], total, nil
}

func (m *memAudit) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.Action)
	}
	return out
}

// Mock ImpersonationRepository
type memImpersonations struct {
	mu       sync.Mutex
	sessions map[string]domain.ImpersonationSession
}

func newMemImpersonations() *memImpersonations {
	return &memImpersonations{sessions: make(map[string]domain.ImpersonationSession)}
}

func (m *memImpersonations) StartSession(ctx context.Context, session domain.ImpersonationSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, existing := range m.sessions {
		if existing.AdminID == session.AdminID && existing.TargetUserID == session.TargetUserID && existing.EndedAt == nil {
			at := session.StartedAt
			existing.EndedAt = &at
			m.sessions[id] = existing
		}
	}
	m.sessions[session.LogID] = session
	return nil
}

func (m *memImpersonations) GetSession(ctx context.Context, logID string) (*domain.ImpersonationSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[logID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &session, nil
}

func (m *memImpersonations) EndSession(ctx context.Context, logID, adminID string, at time.Time) (*domain.ImpersonationSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[logID]
	if !ok || session.AdminID != adminID || session.EndedAt != nil {
		return nil, domain.ErrNotFound
	}
	session.EndedAt = &at
	m.sessions[logID] = session
	return &session, nil
}

func (m *memImpersonations) CountSessionsSince(ctx context.Context, adminID string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, s := range m.sessions {
		if s.AdminID == adminID && !s.StartedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

// Mock CustomerDirectory
type memDirectory struct {
	users       map[string]domain.User
	addresses   map[string][]domain.SavedAddress
	methods     map[string][]domain.PaymentMethodRef
	addressErr  error
	paymentsErr error
}

func newMemDirectory() *memDirectory {
	return &memDirectory{
		users:     make(map[string]domain.User),
		addresses: make(map[string][]domain.SavedAddress),
		methods:   make(map[string][]domain.PaymentMethodRef),
	}
}

func (m *memDirectory) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	user, ok := m.users[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &user, nil
}

func (m *memDirectory) SavedAddresses(ctx context.Context, userID string) ([]domain.SavedAddress, error) {
	if m.addressErr != nil {
		return nil, m.addressErr
	}
	return m.addresses[userID], nil
}

func (m *memDirectory) PaymentMethods(ctx context.Context, userID string) ([]domain.PaymentMethodRef, error) {
	if m.paymentsErr != nil {
		return nil, m.paymentsErr
	}
	return m.methods[userID], nil
}

// Mock CatalogReader
type memCatalog map[string]port.ProductSnapshot

func (m memCatalog) GetProduct(ctx context.Context, productID string) (*port.ProductSnapshot, error) {
	p, ok := m[productID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &p, nil
}

// Mock ShippingQuoter
type stubQuoter struct {
	options []domain.ShippingMethod
	err     error
}

func (q *stubQuoter) Quote(ctx context.Context, address domain.Address, cart domain.Cart) ([]domain.ShippingMethod, error) {
	if q.err != nil {
		return nil, q.err
	}
	return q.options, nil
}

// Mock DeliveryChannel failing its first `failures` deliveries.
type stubChannel struct {
	mu        sync.Mutex
	failures  int
	delivered []domain.Notification
	calls     int
}

func (c *stubChannel) Name() string { return "stub" }

func (c *stubChannel) Deliver(ctx context.Context, n domain.Notification, attemptID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.failures != 0 {
		if c.failures > 0 {
			c.failures--
		}
		return "", errors.New("smtp unavailable")
	}
	c.delivered = append(c.delivered, n)
	return "msg-" + attemptID, nil
}

func (c *stubChannel) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// Mock Notifier
type recordingNotifier struct {
	mu   sync.Mutex
	sent []domain.Notification
	err  error
}

func (n *recordingNotifier) Send(ctx context.Context, notification domain.Notification) (*domain.DispatchOutcome, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return nil, n.err
	}
	n.sent = append(n.sent, notification)
	return &domain.DispatchOutcome{LogID: fmt.Sprintf("log-%d", len(n.sent)), Status: domain.NotificationPending}, nil
}

func (n *recordingNotifier) types() []domain.NotificationType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]domain.NotificationType, 0, len(n.sent))
	for _, s := range n.sent {
		out = append(out, s.Type)
	}
	return out
}

func price(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
