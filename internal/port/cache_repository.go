package port

import (
	"context"
	"time"

	"github.com/rl1809/order-fulfillment/internal/core/domain"
)

type LockReleaseResult int

const (
	LockReleased LockReleaseResult = iota
	LockAbsent
	LockHeldByOther
)

type CartLockStore interface {
	// AcquireLock stores lock unless a lock whose ExpiresAt is after now
	// already exists. The check and the write are one atomic step.
	AcquireLock(ctx context.Context, lock domain.CartLock, now time.Time) (bool, error)

	// ReleaseLock deletes the lock if holderToken holds it or it has
	// expired by now.
	ReleaseLock(ctx context.Context, cartID, holderToken string, now time.Time) (LockReleaseResult, error)

	ForceReleaseLock(ctx context.Context, cartID string) error

	// GetLock returns nil when no lock is stored.
	GetLock(ctx context.Context, cartID string) (*domain.CartLock, error)
}

type CheckoutSessionStore interface {
	SaveSession(ctx context.Context, session domain.CheckoutSession, ttl time.Duration) error
	GetSession(ctx context.Context, sessionID string) (*domain.CheckoutSession, error)
	DeleteSession(ctx context.Context, sessionID string) error

	SaveDraft(ctx context.Context, draft domain.CheckoutDraft, ttl time.Duration) error
	// GetDraft returns nil when there is no draft for the cart.
	GetDraft(ctx context.Context, cartID string) (*domain.CheckoutDraft, error)
	DeleteDraft(ctx context.Context, cartID string) error
}
