package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rl1809/order-fulfillment/internal/clock"
	"github.com/rl1809/order-fulfillment/internal/core/domain"
	"github.com/rl1809/order-fulfillment/internal/metrics"
	"github.com/rl1809/order-fulfillment/internal/port"
)

const orderNumberAttempts = 3

type CheckoutConfig struct {
	SessionTTL time.Duration
	Currency   string
}

// InitializationError collects the sub-fetches that failed while a
// session was assembled. The session is still usable.
type InitializationError struct {
	Errors []error
}

func (e *InitializationError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		msgs = append(msgs, err.Error())
	}
	return "checkout initialized with errors: " + strings.Join(msgs, "; ")
}

func (e *InitializationError) Unwrap() []error { return e.Errors }

type StartCheckoutRequest struct {
	CartID string
	UserID string
	Email  string
}

// CheckoutService drives one session through shipping, payment, review
// and confirmation, and turns a payment confirmation into exactly one order.
type CheckoutService struct {
	carts     port.CartRepository
	sessions  port.CheckoutSessionStore
	orders    port.OrderRepository
	locks     *CartLockService
	customers port.CustomerDirectory
	shipping  port.ShippingQuoter
	notifier  Notifier
	clock     clock.Clock
	cfg       CheckoutConfig
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func NewCheckoutService(
	carts port.CartRepository,
	sessions port.CheckoutSessionStore,
	orders port.OrderRepository,
	locks *CartLockService,
	customers port.CustomerDirectory,
	shipping port.ShippingQuoter,
	notifier Notifier,
	clk clock.Clock,
	cfg CheckoutConfig,
	m *metrics.Metrics,
	logger *slog.Logger,
) *CheckoutService {
	if cfg.Currency == "" {
		cfg.Currency = "EUR"
	}
	return &CheckoutService{
		carts:     carts,
		sessions:  sessions,
		orders:    orders,
		locks:     locks,
		customers: customers,
		shipping:  shipping,
		notifier:  notifier,
		clock:     clk,
		cfg:       cfg,
		metrics:   m,
		logger:    logger.With(slog.String("component", "checkout")),
	}
}

// Start locks the cart and opens a session on it. When some sub-fetch
// fails the session is still created and returned together with an
// *InitializationError. Any other error means no session exists.
func (s *CheckoutService) Start(ctx context.Context, req StartCheckoutRequest) (*domain.CheckoutInit, error) {
	if req.CartID == "" {
		return nil, domain.NewValidationError("cart_id", "is required")
	}

	lock, err := s.locks.Acquire(ctx, req.CartID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	session := &domain.CheckoutSession{
		ID:            uuid.NewString(),
		CartID:        req.CartID,
		UserID:        req.UserID,
		CustomerEmail: req.Email,
		Step:          domain.StepShipping,
		LockToken:     lock.HolderToken,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.cfg.SessionTTL),
	}

	assembled, initErr := s.assemble(ctx, session)
	if assembled == nil {
		s.releaseLock(ctx, session)
		return nil, initErr
	}

	if err := s.saveSession(ctx, session); err != nil {
		s.releaseLock(ctx, session)
		return nil, err
	}

	s.logger.Info("checkout started",
		slog.String("session_id", session.ID),
		slog.String("cart_id", session.CartID),
		slog.Bool("guest", session.IsGuest()),
	)
	return assembled, initErr
}

// InitializeCheckout reassembles an existing session, e.g. after a page
// reload. Error semantics match Start.
func (s *CheckoutService) InitializeCheckout(ctx context.Context, sessionID string) (*domain.CheckoutInit, error) {
	session, err := s.activeSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	assembled, initErr := s.assemble(ctx, session)
	if assembled == nil {
		return nil, initErr
	}
	if err := s.saveSession(ctx, session); err != nil {
		return nil, err
	}
	return assembled, initErr
}

// assemble loads the cart (fatal on failure), then gathers addresses,
// payment methods, the saved draft and shipping options concurrently.
// Sub-fetch failures are returned as one *InitializationError.
func (s *CheckoutService) assemble(ctx context.Context, session *domain.CheckoutSession) (*domain.CheckoutInit, error) {
	cart, err := s.carts.GetCart(ctx, session.CartID)
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	if len(cart.Items) == 0 {
		return nil, domain.NewValidationError("cart", "cart is empty")
	}
	session.Cart = *cart

	assembled := &domain.CheckoutInit{Session: session}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		errs  []error
		draft *domain.CheckoutDraft
	)
	collect := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	if session.UserID != "" {
		wg.Add(2)
		go func() {
			defer wg.Done()
			addresses, err := s.customers.SavedAddresses(ctx, session.UserID)
			if err != nil {
				collect(fmt.Errorf("load saved addresses: %w", err))
				return
			}
			assembled.SavedAddresses = addresses
		}()
		go func() {
			defer wg.Done()
			methods, err := s.customers.PaymentMethods(ctx, session.UserID)
			if err != nil {
				collect(fmt.Errorf("load payment methods: %w", err))
				return
			}
			assembled.PaymentMethods = methods
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		d, err := s.sessions.GetDraft(ctx, session.CartID)
		if err != nil {
			collect(fmt.Errorf("load checkout draft: %w", err))
			return
		}
		draft = d
	}()

	wg.Wait()

	switch {
	case session.Shipping.Address.Complete():
		// already chosen in this session
	case draft != nil:
		session.Shipping = draft.Shipping
		assembled.RestoredDraft = true
	default:
		for _, saved := range assembled.SavedAddresses {
			if saved.IsDefault {
				session.Shipping.Address = saved.Address
				break
			}
		}
	}

	if session.Shipping.Address.Complete() {
		options, err := s.shipping.Quote(ctx, session.Shipping.Address, session.Cart)
		if err != nil {
			errs = append(errs, fmt.Errorf("quote shipping: %w", err))
		} else {
			assembled.ShippingOptions = options
			if session.Shipping.Method != nil {
				session.Shipping.Method = findShippingMethod(options, session.Shipping.Method.ID)
			}
		}
	}

	session.Totals = domain.ComputeTotals(session.Cart, session.Shipping.Method)

	if len(errs) > 0 {
		s.logger.Warn("checkout initialized with errors",
			slog.String("session_id", session.ID),
			slog.Int("failed_fetches", len(errs)),
		)
		return assembled, &InitializationError{Errors: errs}
	}
	return assembled, nil
}

func (s *CheckoutService) GetSession(ctx context.Context, sessionID string) (*domain.CheckoutSession, error) {
	return s.activeSession(ctx, sessionID)
}

// SetShipping stores the shipping step's data and the draft. The chosen
// method is re-quoted so its price cannot be supplied by the client.
func (s *CheckoutService) SetShipping(ctx context.Context, sessionID string, info domain.ShippingInfo) (*domain.CheckoutSession, []domain.ShippingMethod, error) {
	session, err := s.activeSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if session.OrderID != "" {
		return nil, nil, domain.NewValidationError("step", "order already placed")
	}
	if !info.Address.Complete() {
		return nil, nil, domain.NewValidationError("address", "shipping address is incomplete")
	}
	if info.BillingAddress != nil && !info.BillingAddress.Complete() {
		return nil, nil, domain.NewValidationError("billing_address", "billing address is incomplete")
	}
	if session.IsGuest() && session.CustomerEmail == "" && info.GuestEmail == "" {
		return nil, nil, domain.NewValidationError("guest_email", "is required for guest checkout")
	}

	options, err := s.shipping.Quote(ctx, info.Address, session.Cart)
	if err != nil {
		return nil, nil, &domain.ExternalError{Collaborator: "shipping", Retryable: true, Err: err}
	}
	if info.Method != nil {
		method := findShippingMethod(options, info.Method.ID)
		if method == nil {
			return nil, nil, domain.NewValidationError("shipping_method", fmt.Sprintf("unknown shipping method %q", info.Method.ID))
		}
		info.Method = method
	}

	session.Shipping = info
	session.Totals = domain.ComputeTotals(session.Cart, info.Method)
	if err := s.saveSession(ctx, session); err != nil {
		return nil, nil, err
	}

	draft := domain.CheckoutDraft{CartID: session.CartID, Shipping: info, UpdatedAt: s.clock.Now()}
	if err := s.sessions.SaveDraft(ctx, draft, s.cfg.SessionTTL); err != nil {
		s.logger.Warn("save checkout draft", slog.String("session_id", session.ID), slog.Any("error", err))
	}
	return session, options, nil
}

func (s *CheckoutService) SetPaymentMethod(ctx context.Context, sessionID string, method domain.PaymentMethodRef) (*domain.CheckoutSession, error) {
	session, err := s.activeSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.OrderID != "" {
		return nil, domain.NewValidationError("step", "order already placed")
	}
	if method.Type == "" {
		return nil, domain.NewValidationError("payment_method", "type is required")
	}

	if !session.IsGuest() && method.ID != "" {
		saved, err := s.customers.PaymentMethods(ctx, session.UserID)
		if err != nil {
			return nil, fmt.Errorf("load payment methods: %w", err)
		}
		known := false
		for _, m := range saved {
			if m.ID == method.ID {
				method, known = m, true
				break
			}
		}
		if !known {
			return nil, domain.NewValidationError("payment_method", "unknown payment method")
		}
	}

	session.PaymentMethod = &method
	if err := s.saveSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// Advance moves to the next step once the current one is complete.
// Confirmation is only reached through ConfirmPayment.
func (s *CheckoutService) Advance(ctx context.Context, sessionID string) (*domain.CheckoutSession, error) {
	session, err := s.activeSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	switch session.Step {
	case domain.StepShipping:
		if !session.Shipping.Address.Complete() {
			return nil, domain.NewValidationError("address", "shipping address is incomplete")
		}
		if session.Shipping.Method == nil {
			return nil, domain.NewValidationError("shipping_method", "is required")
		}
	case domain.StepPayment:
		if session.PaymentMethod == nil {
			return nil, domain.NewValidationError("payment_method", "is required")
		}
	case domain.StepReview:
		return nil, domain.NewValidationError("step", "confirmation requires a confirmed payment")
	}

	next, ok := session.Step.Next()
	if !ok {
		return nil, domain.NewValidationError("step", "checkout is already complete")
	}
	session.Step = next
	if err := s.saveSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *CheckoutService) GoToPreviousStep(ctx context.Context, sessionID string) (*domain.CheckoutSession, error) {
	session, err := s.activeSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.OrderID != "" {
		return nil, domain.NewValidationError("step", "order already placed")
	}
	prev, ok := session.Step.Previous()
	if !ok {
		return nil, domain.NewValidationError("step", fmt.Sprintf("no step before %s", session.Step))
	}
	session.Step = prev
	if err := s.saveSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// Abandon releases the cart and drops the session. The draft is kept so
// the next checkout can restore it.
func (s *CheckoutService) Abandon(ctx context.Context, sessionID string) error {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	s.releaseLock(ctx, session)
	if err := s.sessions.DeleteSession(ctx, session.ID); err != nil {
		return fmt.Errorf("delete checkout session: %w", err)
	}
	s.logger.Info("checkout abandoned", slog.String("session_id", session.ID))
	return nil
}

// ConfirmPayment turns a payment confirmation into an order. Delivery is
// at least once: a repeated confirmation returns the order created by
// the first one. Insufficient stock fails the whole placement with a
// *domain.InsufficientStockError and leaves nothing behind.
func (s *CheckoutService) ConfirmPayment(ctx context.Context, evt domain.PaymentConfirmed) (*domain.Order, error) {
	if evt.SessionID == "" {
		return nil, domain.NewValidationError("session_id", "is required")
	}
	if evt.PaymentIntentID == "" {
		return nil, domain.NewValidationError("payment_intent_id", "is required")
	}

	existing, err := s.orders.GetOrderBySession(ctx, evt.SessionID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("look up order for session: %w", err)
	}

	session, err := s.activeSession(ctx, evt.SessionID)
	if err != nil {
		s.metrics.CheckoutFailed("session")
		return nil, err
	}
	if !session.Shipping.Address.Complete() || session.Shipping.Method == nil {
		return nil, domain.NewValidationError("shipping", "shipping address and method are required")
	}
	if session.ContactEmail() == "" {
		return nil, domain.NewValidationError("email", "a contact email is required")
	}
	if err := s.locks.CheckHolder(ctx, session.CartID, session.LockToken); err != nil {
		s.metrics.CheckoutFailed("lock")
		return nil, err
	}

	order := s.buildOrder(session, evt)

	var placed *domain.Order
	var created bool
	for attempt := 1; ; attempt++ {
		placed, created, err = s.orders.PlaceOrder(ctx, order, session.CartID)
		if errors.Is(err, domain.ErrDuplicate) && attempt < orderNumberAttempts {
			order.OrderNumber = NewOrderNumber(s.clock.Now())
			continue
		}
		break
	}
	if err != nil {
		var shortage *domain.InsufficientStockError
		if errors.As(err, &shortage) {
			s.metrics.CheckoutFailed("insufficient_stock")
			s.logger.Warn("checkout failed on stock",
				slog.String("session_id", session.ID),
				slog.String("error", shortage.Error()),
			)
			s.releaseLock(ctx, session)
			if delErr := s.sessions.DeleteSession(ctx, session.ID); delErr != nil {
				s.logger.Warn("delete checkout session", slog.String("session_id", session.ID), slog.Any("error", delErr))
			}
			return nil, err
		}
		s.metrics.CheckoutFailed("persistence")
		return nil, fmt.Errorf("place order: %w", err)
	}

	if !created {
		return placed, nil
	}

	s.metrics.OrderCreated()
	s.logger.Info("order placed",
		slog.String("order_id", placed.ID),
		slog.String("order_number", placed.OrderNumber),
		slog.String("session_id", session.ID),
		slog.String("total", placed.Total.String()),
	)

	s.releaseLock(ctx, session)
	if err := s.sessions.DeleteDraft(ctx, session.CartID); err != nil {
		s.logger.Warn("delete checkout draft", slog.String("cart_id", session.CartID), slog.Any("error", err))
	}

	session.Step = domain.StepConfirmation
	session.OrderID = placed.ID
	session.OrderNumber = placed.OrderNumber
	if err := s.saveSession(ctx, session); err != nil {
		s.logger.Warn("save confirmed session", slog.String("session_id", session.ID), slog.Any("error", err))
	}

	if _, err := s.notifier.Send(ctx, ComposeNotification(*placed, domain.NotificationOrderConfirmation)); err != nil {
		s.logger.Error("schedule order confirmation",
			slog.String("order_id", placed.ID),
			slog.Any("error", err),
		)
	}
	return placed, nil
}

func (s *CheckoutService) buildOrder(session *domain.CheckoutSession, evt domain.PaymentConfirmed) domain.Order {
	now := s.clock.Now()
	orderID := uuid.NewString()

	items := make([]domain.OrderItem, 0, len(session.Cart.Items))
	for _, item := range session.Cart.Items {
		items = append(items, domain.OrderItem{
			ID:        uuid.NewString(),
			OrderID:   orderID,
			ProductID: item.ProductID,
			SKU:       item.SKU,
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			Total:     item.LineTotal(),
		})
	}

	totals := domain.ComputeTotals(session.Cart, session.Shipping.Method)
	paymentMethod := evt.PaymentMethod
	if paymentMethod == "" && session.PaymentMethod != nil {
		paymentMethod = session.PaymentMethod.Type
	}

	return domain.Order{
		ID:                orderID,
		OrderNumber:       NewOrderNumber(now),
		CheckoutSessionID: session.ID,
		UserID:            session.UserID,
		CustomerEmail:     session.ContactEmail(),
		Status:            domain.OrderStatusPending,
		PaymentStatus:     domain.PaymentStatusPaid,
		PaymentMethod:     paymentMethod,
		PaymentIntentID:   evt.PaymentIntentID,
		Subtotal:          totals.Subtotal,
		ShippingCost:      totals.Shipping,
		Tax:               decimal.Zero,
		Total:             totals.Total,
		Currency:          s.cfg.Currency,
		ShippingAddress:   session.Shipping.Address,
		BillingAddress:    session.Shipping.Billing(),
		ShippingMethod:    session.Shipping.Method.ID,
		CustomerNotes:     session.Shipping.Notes,
		Items:             items,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// activeSession loads a session and expires it lazily: an expired
// session releases its lock and is deleted.
func (s *CheckoutService) activeSession(ctx context.Context, sessionID string) (*domain.CheckoutSession, error) {
	if sessionID == "" {
		return nil, domain.NewValidationError("session_id", "is required")
	}
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Expired(s.clock.Now()) {
		s.releaseLock(ctx, session)
		if err := s.sessions.DeleteSession(ctx, session.ID); err != nil {
			s.logger.Warn("delete expired session", slog.String("session_id", session.ID), slog.Any("error", err))
		}
		return nil, domain.ErrSessionExpired
	}
	return session, nil
}

func (s *CheckoutService) saveSession(ctx context.Context, session *domain.CheckoutSession) error {
	ttl := session.ExpiresAt.Sub(s.clock.Now())
	if ttl <= 0 {
		return domain.ErrSessionExpired
	}
	if err := s.sessions.SaveSession(ctx, *session, ttl); err != nil {
		return fmt.Errorf("save checkout session: %w", err)
	}
	return nil
}

func (s *CheckoutService) releaseLock(ctx context.Context, session *domain.CheckoutSession) {
	err := s.locks.Release(ctx, domain.CartLock{CartID: session.CartID, HolderToken: session.LockToken})
	if err != nil && !errors.Is(err, domain.ErrNotLockHolder) {
		s.logger.Warn("release cart lock", slog.String("cart_id", session.CartID), slog.Any("error", err))
	}
}

func findShippingMethod(options []domain.ShippingMethod, id string) *domain.ShippingMethod {
	for i := range options {
		if options[i].ID == id {
			method := options[i]
			return &method
		}
	}
	return nil
}
