package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rl1809/order-fulfillment/internal/core/domain"
	"github.com/rl1809/order-fulfillment/internal/metrics"
	"github.com/rl1809/order-fulfillment/internal/port"
)

// ErrLedgerDiverged is returned by VerifyConservation when replaying the
// movements does not reproduce the stored stock quantity.
var ErrLedgerDiverged = errors.New("inventory ledger diverged from stock quantity")

// InventoryService is the ledger. Every stock change goes through the
// repository's atomic primitives, each of which appends one movement.
type InventoryService struct {
	repo    port.InventoryRepository
	audit   *AuditService
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewInventoryService(repo port.InventoryRepository, audit *AuditService, m *metrics.Metrics, logger *slog.Logger) *InventoryService {
	return &InventoryService{
		repo:    repo,
		audit:   audit,
		metrics: m,
		logger:  logger.With(slog.String("component", "inventory")),
	}
}

// ReserveAndDecrement takes quantity out of stock and returns the new
// quantity. A short product yields *domain.InsufficientStockError
// carrying the available quantity.
//
// Order placement and cancellation do not come through here: the
// repository takes and returns their stock inside the same transaction
// that writes the order (PlaceOrder, ApplyStatusChange), using the same
// conditional decrement and movement rows. This entry point is for
// stock taken outside an order.
func (s *InventoryService) ReserveAndDecrement(ctx context.Context, productID string, quantity int, referenceID, performedBy string) (int, error) {
	if err := validateStockChange(productID, quantity); err != nil {
		return 0, err
	}

	movement, err := s.repo.DecrementStock(ctx, productID, quantity, "reservation", referenceID, performedBy)
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientStock) {
			s.logger.Warn("insufficient stock", slog.String("product_id", productID), slog.Int("requested", quantity))
			return 0, err
		}
		return 0, fmt.Errorf("decrement stock: %w", err)
	}

	s.metrics.StockMoved(string(domain.MovementOut))
	return movement.QuantityAfter, nil
}

func (s *InventoryService) Restock(ctx context.Context, actorID, productID string, quantity int, reason string, meta domain.RequestMeta) (*domain.InventoryMovement, error) {
	if err := validateStockChange(productID, quantity); err != nil {
		return nil, err
	}
	if reason == "" {
		return nil, domain.NewValidationError("reason", "is required")
	}

	movement, err := s.repo.IncrementStock(ctx, productID, quantity, reason, "", actorID)
	if err != nil {
		return nil, fmt.Errorf("restock: %w", err)
	}
	s.metrics.StockMoved(string(domain.MovementIn))

	if err := s.audit.RecordAction(ctx, actorID, domain.AuditInventoryRestock, domain.ResourceProduct, productID,
		map[string]any{"stock_quantity": movement.QuantityBefore},
		map[string]any{"stock_quantity": movement.QuantityAfter, "reason": reason}, meta); err != nil {
		s.logger.Error("audit restock", slog.String("product_id", productID), slog.String("movement_id", movement.ID), slog.Any("error", err))
	}
	return movement, nil
}

// Adjust sets the stock to an absolute quantity, e.g. after a physical count.
func (s *InventoryService) Adjust(ctx context.Context, actorID, productID string, newQuantity int, reason string, meta domain.RequestMeta) (*domain.InventoryMovement, error) {
	if productID == "" {
		return nil, domain.NewValidationError("product_id", "is required")
	}
	if newQuantity < 0 {
		return nil, domain.NewValidationError("quantity", "must not be negative")
	}
	if reason == "" {
		return nil, domain.NewValidationError("reason", "is required")
	}

	movement, err := s.repo.AdjustStock(ctx, productID, newQuantity, reason, actorID)
	if err != nil {
		return nil, fmt.Errorf("adjust stock: %w", err)
	}
	s.metrics.StockMoved(string(domain.MovementAdjustment))

	if err := s.audit.RecordAction(ctx, actorID, domain.AuditInventoryAdjust, domain.ResourceProduct, productID,
		map[string]any{"stock_quantity": movement.QuantityBefore},
		map[string]any{"stock_quantity": movement.QuantityAfter, "reason": reason}, meta); err != nil {
		s.logger.Error("audit stock adjustment", slog.String("product_id", productID), slog.String("movement_id", movement.ID), slog.Any("error", err))
	}
	return movement, nil
}

func (s *InventoryService) Register(ctx context.Context, level domain.InventoryLevel, performedBy string) error {
	if level.ProductID == "" {
		return domain.NewValidationError("product_id", "is required")
	}
	if level.StockQuantity < 0 {
		return domain.NewValidationError("stock_quantity", "must not be negative")
	}
	if err := s.repo.CreateInventory(ctx, level, performedBy); err != nil {
		return fmt.Errorf("register inventory: %w", err)
	}
	return nil
}

func (s *InventoryService) GetLevel(ctx context.Context, productID string) (*domain.InventoryLevel, error) {
	return s.repo.GetInventory(ctx, productID)
}

func (s *InventoryService) StockLevels(ctx context.Context) ([]domain.InventoryLevel, error) {
	return s.repo.ListInventory(ctx)
}

func (s *InventoryService) LowStock(ctx context.Context) ([]domain.InventoryLevel, error) {
	levels, err := s.repo.ListInventory(ctx)
	if err != nil {
		return nil, err
	}
	var low []domain.InventoryLevel
	for _, level := range levels {
		if level.LowStock() {
			low = append(low, level)
		}
	}
	return low, nil
}

func (s *InventoryService) ListMovements(ctx context.Context, productID string, filter domain.MovementFilter) ([]domain.InventoryMovement, error) {
	if productID == "" {
		return nil, domain.NewValidationError("product_id", "is required")
	}
	if filter.Limit < 0 || filter.Offset < 0 {
		return nil, domain.NewValidationError("pagination", "limit and offset must not be negative")
	}
	if filter.Type != "" && filter.Type != domain.MovementIn && filter.Type != domain.MovementOut && filter.Type != domain.MovementAdjustment {
		return nil, domain.NewValidationError("type", fmt.Sprintf("unknown movement type %q", filter.Type))
	}
	return s.repo.ListMovements(ctx, productID, filter)
}

// Summary aggregates movements of one product inside the filter window.
// Limit and Offset of the filter are ignored.
func (s *InventoryService) Summary(ctx context.Context, productID string, filter domain.MovementFilter) (*domain.MovementSummary, error) {
	filter.Limit, filter.Offset = 0, 0
	movements, err := s.ListMovements(ctx, productID, filter)
	if err != nil {
		return nil, err
	}

	summary := &domain.MovementSummary{ProductID: productID, Movements: len(movements)}
	for _, m := range movements {
		switch m.Type {
		case domain.MovementIn:
			summary.TotalIn += m.Quantity
		case domain.MovementOut:
			summary.TotalOut += m.Quantity
		case domain.MovementAdjustment:
			summary.Adjustments += m.Delta()
		}
	}
	return summary, nil
}

// VerifyConservation replays every movement of the product and compares
// the result with the stored stock quantity.
func (s *InventoryService) VerifyConservation(ctx context.Context, productID string) error {
	level, err := s.repo.GetInventory(ctx, productID)
	if err != nil {
		return err
	}
	movements, err := s.repo.ListMovements(ctx, productID, domain.MovementFilter{})
	if err != nil {
		return fmt.Errorf("list movements: %w", err)
	}

	replayed, err := domain.ReplayMovements(movements)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLedgerDiverged, err)
	}
	if replayed != level.StockQuantity {
		return fmt.Errorf("%w: product %s replays to %d, stock is %d",
			ErrLedgerDiverged, productID, replayed, level.StockQuantity)
	}
	return nil
}

func validateStockChange(productID string, quantity int) error {
	if productID == "" {
		return domain.NewValidationError("product_id", "is required")
	}
	if quantity <= 0 {
		return domain.NewValidationError("quantity", "must be positive")
	}
	return nil
}
