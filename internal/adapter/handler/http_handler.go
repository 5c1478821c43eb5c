package handler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rl1809/order-fulfillment/internal/core/domain"
	"github.com/rl1809/order-fulfillment/internal/core/service"
)

const (
	userIDHeader        = "X-User-ID"
	impersonationHeader = "X-Impersonation-Token"
	checkoutLockHeader  = "X-Checkout-Lock"

	actorKey = "actor"
)

type CartAPI interface {
	CreateCart(ctx context.Context, userID, sessionID string) (*domain.Cart, error)
	GetCart(ctx context.Context, cartID string) (*domain.Cart, error)
	AddItem(ctx context.Context, cartID, holderToken, productID string, quantity int) (*domain.Cart, error)
	UpdateQuantity(ctx context.Context, cartID, holderToken, productID string, quantity int) (*domain.Cart, error)
	RemoveItem(ctx context.Context, cartID, holderToken, productID string) (*domain.Cart, error)
	Clear(ctx context.Context, cartID, holderToken string) error
}

type CheckoutAPI interface {
	Start(ctx context.Context, req service.StartCheckoutRequest) (*domain.CheckoutInit, error)
	InitializeCheckout(ctx context.Context, sessionID string) (*domain.CheckoutInit, error)
	SetShipping(ctx context.Context, sessionID string, info domain.ShippingInfo) (*domain.CheckoutSession, []domain.ShippingMethod, error)
	SetPaymentMethod(ctx context.Context, sessionID string, method domain.PaymentMethodRef) (*domain.CheckoutSession, error)
	Advance(ctx context.Context, sessionID string) (*domain.CheckoutSession, error)
	GoToPreviousStep(ctx context.Context, sessionID string) (*domain.CheckoutSession, error)
	Abandon(ctx context.Context, sessionID string) error
	PaymentConfirmer
}

type PaymentConfirmer interface {
	ConfirmPayment(ctx context.Context, evt domain.PaymentConfirmed) (*domain.Order, error)
}

type OrderAPI interface {
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
	History(ctx context.Context, orderID string) ([]domain.OrderStatusHistory, error)
	UpdateStatus(ctx context.Context, req service.TransitionRequest, meta domain.RequestMeta) (*domain.Order, error)
	BulkTransition(ctx context.Context, actorID string, orderIDs []string, to domain.OrderStatus, notes string, meta domain.RequestMeta) (*service.BulkResult, error)
	UpdateTracking(ctx context.Context, actorID string, upd service.TrackingUpdate, meta domain.RequestMeta) (*domain.Order, error)
	Track(ctx context.Context, orderNumber, email string) (*domain.TrackingInfo, error)
}

type InventoryAPI interface {
	StockLevels(ctx context.Context) ([]domain.InventoryLevel, error)
	LowStock(ctx context.Context) ([]domain.InventoryLevel, error)
	ListMovements(ctx context.Context, productID string, filter domain.MovementFilter) ([]domain.InventoryMovement, error)
	Summary(ctx context.Context, productID string, filter domain.MovementFilter) (*domain.MovementSummary, error)
	Restock(ctx context.Context, actorID, productID string, quantity int, reason string, meta domain.RequestMeta) (*domain.InventoryMovement, error)
	Adjust(ctx context.Context, actorID, productID string, newQuantity int, reason string, meta domain.RequestMeta) (*domain.InventoryMovement, error)
	VerifyConservation(ctx context.Context, productID string) error
}

type ImpersonationAPI interface {
	Start(ctx context.Context, adminID, targetUserID string, ttl time.Duration, reason string, meta domain.RequestMeta) (*domain.ImpersonationGrant, error)
	Validate(ctx context.Context, signed string) (*domain.ImpersonationSession, error)
	End(ctx context.Context, signed string, meta domain.RequestMeta) (*domain.ImpersonationSession, error)
}

type AuditAPI interface {
	Query(ctx context.Context, filter domain.AuditFilter) (*domain.AuditPage, error)
}

type LockAPI interface {
	ForceRelease(ctx context.Context, actorID, cartID string, meta domain.RequestMeta) error
}

type UserDirectory interface {
	GetUser(ctx context.Context, userID string) (*domain.User, error)
}

// Services are the use cases the HTTP surface exposes. Gatherer is
// optional; without it /metrics is not mounted. PaymentSecret signs
// payment callbacks; when empty every callback is rejected.
type Services struct {
	Carts         CartAPI
	Checkout      CheckoutAPI
	Orders        OrderAPI
	Inventory     InventoryAPI
	Impersonation ImpersonationAPI
	Audit         AuditAPI
	Locks         LockAPI
	Users         UserDirectory
	Gatherer      prometheus.Gatherer
	PaymentSecret []byte
}

type HTTPHandler struct {
	svc    Services
	logger *slog.Logger
}

func NewHTTPHandler(svc Services, logger *slog.Logger) *HTTPHandler {
	return &HTTPHandler{svc: svc, logger: logger}
}

// Register mounts every route on app.
func (h *HTTPHandler) Register(app *fiber.App) {
	app.Use(h.requestID)

	app.Get("/health", h.HealthCheck)
	if h.svc.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(h.svc.Gatherer, promhttp.HandlerOpts{})))
	}

	api := app.Group("/api/v1")

	carts := api.Group("/carts")
	carts.Post("/", h.CreateCart)
	carts.Get("/:id", h.GetCart)
	carts.Post("/:id/items", h.AddCartItem)
	carts.Put("/:id/items/:productId", h.UpdateCartItem)
	carts.Delete("/:id/items/:productId", h.RemoveCartItem)
	carts.Delete("/:id/items", h.ClearCart)

	checkout := api.Group("/checkout")
	checkout.Post("/", h.StartCheckout)
	checkout.Get("/:id", h.GetCheckout)
	checkout.Put("/:id/shipping", h.SetShipping)
	checkout.Put("/:id/payment", h.SetPaymentMethod)
	checkout.Post("/:id/advance", h.AdvanceCheckout)
	checkout.Post("/:id/back", h.PreviousCheckoutStep)
	checkout.Delete("/:id", h.AbandonCheckout)

	api.Post("/webhooks/payment", h.requirePaymentSignature, h.PaymentConfirmed)
	api.Get("/orders/track", h.TrackOrder)

	admin := api.Group("/admin", h.requireAdmin)
	admin.Get("/orders/:id", h.GetOrder)
	admin.Get("/orders/:id/history", h.OrderHistory)
	admin.Patch("/orders/:id/status", h.UpdateOrderStatus)
	admin.Post("/orders/bulk-status", h.BulkUpdateStatus)
	admin.Patch("/orders/:id/tracking", h.UpdateTracking)

	admin.Post("/impersonate", h.StartImpersonation)
	admin.Post("/impersonate/stop", h.StopImpersonation)
	admin.Get("/audit-logs", h.AuditLogs)

	admin.Get("/inventory", h.StockLevels)
	admin.Get("/inventory/low-stock", h.LowStock)
	admin.Get("/inventory/:productId/movements", h.Movements)
	admin.Get("/inventory/:productId/summary", h.MovementSummary)
	admin.Get("/inventory/:productId/verify", h.VerifyConservation)
	admin.Post("/inventory/:productId/restock", h.Restock)
	admin.Post("/inventory/:productId/adjust", h.Adjust)

	admin.Delete("/carts/:id/lock", h.ForceReleaseLock)
}

func (h *HTTPHandler) HealthCheck(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *HTTPHandler) requestID(c *fiber.Ctx) error {
	requestID := c.Get(requestIDHeader)
	if requestID == "" {
		requestID = uuid.New().String()
	}
	c.Locals(requestIDHeader, requestID)
	c.Set(requestIDHeader, requestID)
	return c.Next()
}

// requireAdmin resolves the caller forwarded by the gateway and rejects
// anyone below admin.
func (h *HTTPHandler) requireAdmin(c *fiber.Ctx) error {
	userID := c.Get(userIDHeader)
	if userID == "" {
		return errorResponse(c, fiber.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
	}

	user, err := h.svc.Users.GetUser(c.UserContext(), userID)
	if errors.Is(err, domain.ErrNotFound) {
		return errorResponse(c, fiber.StatusUnauthorized, "UNAUTHORIZED", "unknown user", nil)
	}
	if err != nil {
		return h.fail(c, err)
	}
	if !user.Role.IsAdmin() {
		return errorResponse(c, fiber.StatusForbidden, "FORBIDDEN", "admin access required", nil)
	}

	c.Locals(actorKey, user)
	return c.Next()
}

// actingUserID is the impersonated customer when a valid impersonation
// token is presented, otherwise the forwarded caller. Empty means guest.
func (h *HTTPHandler) actingUserID(c *fiber.Ctx) (string, error) {
	if signed := c.Get(impersonationHeader); signed != "" {
		session, err := h.svc.Impersonation.Validate(c.UserContext(), signed)
		if err != nil {
			return "", err
		}
		return session.TargetUserID, nil
	}
	return c.Get(userIDHeader), nil
}

func actor(c *fiber.Ctx) *domain.User {
	user, _ := c.Locals(actorKey).(*domain.User)
	return user
}

func requestMeta(c *fiber.Ctx) domain.RequestMeta {
	return domain.RequestMeta{
		IP:        c.IP(),
		UserAgent: c.Get(fiber.HeaderUserAgent),
	}
}

// fail writes the error response and logs anything that surfaced as a
// server error.
func (h *HTTPHandler) fail(c *fiber.Ctx, err error) error {
	if werr := writeError(c, err); werr != nil {
		return werr
	}
	if c.Response().StatusCode() >= fiber.StatusInternalServerError {
		h.logger.Error("request failed",
			slog.String("request_id", getRequestID(c)),
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Any("error", err),
		)
	}
	return nil
}

func parseTimeQuery(c *fiber.Ctx, key string) (*time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, domain.NewValidationError(key, "must be an RFC3339 timestamp")
	}
	return &t, nil
}
