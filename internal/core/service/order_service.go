package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/rl1809/order-fulfillment/internal/clock"
	"github.com/rl1809/order-fulfillment/internal/core/domain"
	"github.com/rl1809/order-fulfillment/internal/metrics"
	"github.com/rl1809/order-fulfillment/internal/port"
)

const MaxBulkOrders = 100

// NewOrderNumber formats ORD-<unix millis>-<4 random digits>.
func NewOrderNumber(now time.Time) string {
	return fmt.Sprintf("ORD-%d-%04d", now.UnixMilli(), rand.IntN(10000))
}

type TransitionRequest struct {
	OrderID        string
	To             domain.OrderStatus
	ChangedBy      string
	Notes          string
	TrackingNumber string
	Carrier        string
	Automated      bool
}

type TrackingUpdate struct {
	OrderID        string
	TrackingNumber string
	Carrier        string
	// Status is optional. When it differs from the current status the
	// transition is applied and a tracking event appended.
	Status      domain.OrderStatus
	Description string
}

type BulkItemError struct {
	OrderID string `json:"order_id"`
	Error   string `json:"error"`
}

// BulkResult reports every order of a bulk transition. Failures on one
// order never stop the others.
type BulkResult struct {
	Updated int             `json:"updated_count"`
	Failed  int             `json:"failed_count"`
	Errors  []BulkItemError `json:"errors"`
}

// OrderService owns the order status lifecycle.
type OrderService struct {
	orders   port.OrderRepository
	notifier Notifier
	audit    *AuditService
	clock    clock.Clock
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewOrderService(orders port.OrderRepository, notifier Notifier, audit *AuditService, clk clock.Clock,
	m *metrics.Metrics, logger *slog.Logger) *OrderService {
	return &OrderService{
		orders:   orders,
		notifier: notifier,
		audit:    audit,
		clock:    clk,
		metrics:  m,
		logger:   logger.With(slog.String("component", "order")),
	}
}

func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	if orderID == "" {
		return nil, domain.NewValidationError("order_id", "is required")
	}
	return s.orders.GetOrder(ctx, orderID)
}

func (s *OrderService) History(ctx context.Context, orderID string) ([]domain.OrderStatusHistory, error) {
	return s.orders.ListStatusHistory(ctx, orderID)
}

// Transition validates req against the status table and applies it.
// An illegal move returns *domain.IllegalTransitionError and leaves the
// order untouched.
func (s *OrderService) Transition(ctx context.Context, req TransitionRequest) (*domain.Order, error) {
	if req.OrderID == "" {
		return nil, domain.NewValidationError("order_id", "is required")
	}
	if !req.To.Valid() {
		return nil, domain.NewValidationError("status", fmt.Sprintf("unknown status %q", req.To))
	}

	order, err := s.orders.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if !order.Status.CanTransitionTo(req.To) {
		return nil, &domain.IllegalTransitionError{OrderID: order.ID, From: order.Status, To: req.To}
	}

	trackingNumber, carrier := req.TrackingNumber, req.Carrier
	if req.To == domain.OrderStatusShipped {
		if trackingNumber == "" {
			trackingNumber = order.TrackingNumber
		}
		if carrier == "" {
			carrier = order.Carrier
		}
		if trackingNumber == "" || carrier == "" {
			return nil, domain.NewValidationError("tracking_number", "tracking number and carrier are required to ship")
		}
	}

	updated, err := s.orders.ApplyStatusChange(ctx, domain.StatusChange{
		OrderID:        order.ID,
		From:           order.Status,
		To:             req.To,
		ChangedBy:      req.ChangedBy,
		Automated:      req.Automated,
		Notes:          req.Notes,
		TrackingNumber: trackingNumber,
		Carrier:        carrier,
		At:             s.clock.Now(),
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Transitioned(string(req.To))
	if req.To == domain.OrderStatusCancelled {
		for range updated.Items {
			s.metrics.StockMoved(string(domain.MovementIn))
		}
		s.logger.Info("cancelled order restocked",
			slog.String("order_id", updated.ID),
			slog.Int("items", len(updated.Items)),
		)
	}

	if notificationType, ok := domain.StatusNotificationType(req.To); ok {
		s.notify(ctx, *updated, notificationType)
	}
	return updated, nil
}

// UpdateStatus is Transition for a single admin request, audited.
func (s *OrderService) UpdateStatus(ctx context.Context, req TransitionRequest, meta domain.RequestMeta) (*domain.Order, error) {
	before, err := s.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	updated, err := s.Transition(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := s.audit.RecordAction(ctx, req.ChangedBy, domain.AuditOrderStatusUpdate, domain.ResourceOrder, updated.ID,
		map[string]any{"status": before.Status},
		map[string]any{"status": updated.Status, "notes": req.Notes}, meta); err != nil {
		s.logger.Error("audit order status update", slog.String("order_id", updated.ID), slog.Any("error", err))
	}
	return updated, nil
}

// BulkTransition moves each order independently. Only invalid input
// fails the call as a whole.
func (s *OrderService) BulkTransition(ctx context.Context, actorID string, orderIDs []string, to domain.OrderStatus,
	notes string, meta domain.RequestMeta) (*BulkResult, error) {
	if len(orderIDs) == 0 || len(orderIDs) > MaxBulkOrders {
		return nil, domain.NewValidationError("order_ids", fmt.Sprintf("must contain between 1 and %d ids", MaxBulkOrders))
	}
	if !to.Valid() {
		return nil, domain.NewValidationError("status", fmt.Sprintf("unknown status %q", to))
	}

	result := &BulkResult{Errors: []BulkItemError{}}
	for _, id := range orderIDs {
		_, err := s.Transition(ctx, TransitionRequest{
			OrderID:   id,
			To:        to,
			ChangedBy: actorID,
			Notes:     notes,
		})
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, BulkItemError{OrderID: id, Error: bulkErrorMessage(err)})
			s.metrics.BulkItem("failed")
			continue
		}
		result.Updated++
		s.metrics.BulkItem("updated")
	}

	if err := s.audit.RecordAction(ctx, actorID, domain.AuditBulkStatusUpdate, domain.ResourceOrders, "", nil,
		map[string]any{
			"status":        to,
			"order_ids":     orderIDs,
			"notes":         notes,
			"updated_count": result.Updated,
			"failed_count":  result.Failed,
		}, meta); err != nil {
		s.logger.Error("audit bulk status update", slog.Any("error", err))
	}

	s.logger.Info("bulk status update",
		slog.String("status", string(to)),
		slog.Int("updated", result.Updated),
		slog.Int("failed", result.Failed),
	)
	return result, nil
}

// bulkErrorMessage keeps store internals out of the per-item result.
func bulkErrorMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return "order not found"
	case errors.Is(err, domain.ErrIllegalTransition), errors.Is(err, domain.ErrValidation):
		return err.Error()
	default:
		return "update failed"
	}
}

// UpdateTracking stores tracking data and, when upd.Status moves the
// order, applies the transition and appends a tracking event.
func (s *OrderService) UpdateTracking(ctx context.Context, actorID string, upd TrackingUpdate, meta domain.RequestMeta) (*domain.Order, error) {
	if upd.OrderID == "" {
		return nil, domain.NewValidationError("order_id", "is required")
	}
	if upd.TrackingNumber == "" && upd.Carrier == "" && upd.Status == "" {
		return nil, domain.NewValidationError("tracking", "tracking number, carrier or status is required")
	}

	before, err := s.orders.GetOrder(ctx, upd.OrderID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if upd.Status != "" && upd.Status != before.Status {
		if _, err := s.Transition(ctx, TransitionRequest{
			OrderID:        before.ID,
			To:             upd.Status,
			ChangedBy:      actorID,
			Notes:          upd.Description,
			TrackingNumber: upd.TrackingNumber,
			Carrier:        upd.Carrier,
		}); err != nil {
			return nil, err
		}

		event := domain.TrackingEvent{
			OrderID:        before.ID,
			Status:         upd.Status,
			TrackingNumber: firstNonEmpty(upd.TrackingNumber, before.TrackingNumber),
			Carrier:        firstNonEmpty(upd.Carrier, before.Carrier),
			Description:    upd.Description,
			CreatedAt:      now,
		}
		if event.Description == "" {
			event.Description = fmt.Sprintf("Order %s", upd.Status)
		}
		if err := s.orders.AppendTrackingEvent(ctx, event); err != nil {
			return nil, fmt.Errorf("append tracking event: %w", err)
		}
	} else {
		trackingNumber := firstNonEmpty(upd.TrackingNumber, before.TrackingNumber)
		carrier := firstNonEmpty(upd.Carrier, before.Carrier)
		if err := s.orders.UpdateTracking(ctx, before.ID, trackingNumber, carrier, now); err != nil {
			return nil, fmt.Errorf("update tracking: %w", err)
		}
	}

	updated, err := s.orders.GetOrder(ctx, before.ID)
	if err != nil {
		return nil, err
	}

	if err := s.audit.RecordAction(ctx, actorID, domain.AuditTrackingUpdate, domain.ResourceOrder, updated.ID,
		map[string]any{"status": before.Status, "tracking_number": before.TrackingNumber, "carrier": before.Carrier},
		map[string]any{"status": updated.Status, "tracking_number": updated.TrackingNumber, "carrier": updated.Carrier},
		meta); err != nil {
		s.logger.Error("audit tracking update", slog.String("order_id", updated.ID), slog.Any("error", err))
	}
	return updated, nil
}

// Track is the public lookup. A wrong email and an unknown order number
// produce the same domain.ErrNotFound.
func (s *OrderService) Track(ctx context.Context, orderNumber, email string) (*domain.TrackingInfo, error) {
	orderNumber = strings.TrimSpace(orderNumber)
	email = strings.TrimSpace(email)
	if orderNumber == "" || email == "" {
		return nil, domain.NewValidationError("tracking", "order number and email are required")
	}

	order, err := s.orders.GetOrderByNumber(ctx, orderNumber)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(order.CustomerEmail, email) {
		return nil, domain.ErrNotFound
	}

	events, err := s.orders.ListTrackingEvents(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("list tracking events: %w", err)
	}

	return &domain.TrackingInfo{
		OrderNumber:    order.OrderNumber,
		Status:         order.Status,
		TrackingNumber: order.TrackingNumber,
		Carrier:        order.Carrier,
		CreatedAt:      order.CreatedAt,
		ShippedAt:      order.ShippedAt,
		DeliveredAt:    order.DeliveredAt,
		Events:         events,
	}, nil
}

// notify is best-effort: the transition has already committed.
func (s *OrderService) notify(ctx context.Context, order domain.Order, notificationType domain.NotificationType) {
	if order.CustomerEmail == "" {
		return
	}
	if _, err := s.notifier.Send(ctx, ComposeNotification(order, notificationType)); err != nil {
		s.logger.Error("schedule status notification",
			slog.String("order_id", order.ID),
			slog.String("type", string(notificationType)),
			slog.Any("error", err),
		)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
