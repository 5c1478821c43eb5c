package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/order-fulfillment/internal/clock"
	"github.com/rl1809/order-fulfillment/internal/core/domain"
	"github.com/rl1809/order-fulfillment/internal/port"
)

// CartLockService guards a cart while a checkout session works on it.
// Acquisition never waits: a held lock is reported as domain.ErrLockBusy.
type CartLockService struct {
	store  port.CartLockStore
	audit  *AuditService
	clock  clock.Clock
	ttl    time.Duration
	logger *slog.Logger
}

func NewCartLockService(store port.CartLockStore, audit *AuditService, clk clock.Clock, ttl time.Duration, logger *slog.Logger) *CartLockService {
	return &CartLockService{
		store:  store,
		audit:  audit,
		clock:  clk,
		ttl:    ttl,
		logger: logger.With(slog.String("component", "cart_lock")),
	}
}

// Acquire returns the lock handle. The HolderToken in it is the only
// credential that can release the lock before it expires.
func (s *CartLockService) Acquire(ctx context.Context, cartID string) (*domain.CartLock, error) {
	if cartID == "" {
		return nil, domain.NewValidationError("cart_id", "is required")
	}

	now := s.clock.Now()
	lock := domain.CartLock{
		CartID:      cartID,
		HolderToken: uuid.NewString(),
		AcquiredAt:  now,
		ExpiresAt:   now.Add(s.ttl),
	}

	ok, err := s.store.AcquireLock(ctx, lock, now)
	if err != nil {
		return nil, fmt.Errorf("acquire cart lock: %w", err)
	}
	if !ok {
		return nil, domain.ErrLockBusy
	}
	return &lock, nil
}

// Release is a no-op for a lock that is already gone.
func (s *CartLockService) Release(ctx context.Context, lock domain.CartLock) error {
	result, err := s.store.ReleaseLock(ctx, lock.CartID, lock.HolderToken, s.clock.Now())
	if err != nil {
		return fmt.Errorf("release cart lock: %w", err)
	}
	if result == port.LockHeldByOther {
		return domain.ErrNotLockHolder
	}
	return nil
}

func (s *CartLockService) IsLocked(ctx context.Context, cartID string) (bool, error) {
	lock, err := s.activeLock(ctx, cartID)
	if err != nil {
		return false, err
	}
	return lock != nil, nil
}

// CheckHolder fails with domain.ErrCartLocked when the cart is locked by
// anyone other than holderToken. An unlocked cart passes.
func (s *CartLockService) CheckHolder(ctx context.Context, cartID, holderToken string) error {
	lock, err := s.activeLock(ctx, cartID)
	if err != nil {
		return err
	}
	if lock != nil && lock.HolderToken != holderToken {
		return domain.ErrCartLocked
	}
	return nil
}

// ForceRelease drops the lock regardless of holder. Operators use it to
// free carts stuck behind abandoned sessions.
func (s *CartLockService) ForceRelease(ctx context.Context, actorID, cartID string, meta domain.RequestMeta) error {
	lock, err := s.activeLock(ctx, cartID)
	if err != nil {
		return err
	}
	if err := s.store.ForceReleaseLock(ctx, cartID); err != nil {
		return fmt.Errorf("force release cart lock: %w", err)
	}

	old := map[string]any{"locked": lock != nil}
	if lock != nil {
		old["expires_at"] = lock.ExpiresAt
	}
	if err := s.audit.RecordAction(ctx, actorID, domain.AuditCartForceUnlock, domain.ResourceCart, cartID,
		old, map[string]any{"locked": false}, meta); err != nil {
		s.logger.Error("audit cart force unlock", slog.String("cart_id", cartID), slog.Any("error", err))
	}

	s.logger.Warn("cart lock force released", slog.String("cart_id", cartID), slog.String("actor_id", actorID))
	return nil
}

func (s *CartLockService) activeLock(ctx context.Context, cartID string) (*domain.CartLock, error) {
	lock, err := s.store.GetLock(ctx, cartID)
	if err != nil {
		return nil, fmt.Errorf("read cart lock: %w", err)
	}
	if lock == nil || lock.Expired(s.clock.Now()) {
		return nil, nil
	}
	return lock, nil
}
