package storage

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/rl1809/order-fulfillment/internal/core/domain"
	"github.com/rl1809/order-fulfillment/internal/port"
)

func getRedisClient(t *testing.T) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return client
}

func newLock(cartID string, now time.Time, ttl time.Duration) domain.CartLock {
	return domain.CartLock{
		CartID:      cartID,
		HolderToken: uuid.NewString(),
		AcquiredAt:  now,
		ExpiresAt:   now.Add(ttl),
	}
}

func TestAcquireLock_Exclusive(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)
	cartID := "cart-" + uuid.NewString()
	now := time.Now()

	// Setup
	client.Del(ctx, cartLockKeyPrefix+cartID)

	first := newLock(cartID, now, time.Minute)
	ok, err := adapter.AcquireLock(ctx, first, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected first acquire to succeed")
	}

	ok, err = adapter.AcquireLock(ctx, newLock(cartID, now, time.Minute), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected second acquire to fail while the lock is live")
	}

	// Verify stored holder
	lock, err := adapter.GetLock(ctx, cartID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lock == nil || lock.HolderToken != first.HolderToken {
		t.Errorf("expected holder %s, got %+v", first.HolderToken, lock)
	}
	if !lock.ExpiresAt.Equal(first.ExpiresAt.Truncate(time.Millisecond)) {
		t.Errorf("expected expiry %v, got %v", first.ExpiresAt, lock.ExpiresAt)
	}
}

func TestAcquireLock_ExpiredLockIsReplaced(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)
	cartID := "cart-" + uuid.NewString()
	now := time.Now()

	stale := newLock(cartID, now, time.Minute)
	if ok, _ := adapter.AcquireLock(ctx, stale, now); !ok {
		t.Fatal("expected acquire to succeed")
	}

	// A caller whose clock is past the expiry may take the lock over
	later := now.Add(2 * time.Minute)
	fresh := newLock(cartID, later, time.Minute)
	ok, err := adapter.AcquireLock(ctx, fresh, later)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected expired lock to be replaced")
	}

	result, err := adapter.ReleaseLock(ctx, cartID, stale.HolderToken, later)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != port.LockHeldByOther {
		t.Errorf("expected LockHeldByOther, got %v", result)
	}
}

func TestReleaseLock(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)
	cartID := "cart-" + uuid.NewString()
	now := time.Now()

	lock := newLock(cartID, now, time.Minute)
	adapter.AcquireLock(ctx, lock, now)

	result, err := adapter.ReleaseLock(ctx, cartID, lock.HolderToken, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != port.LockReleased {
		t.Errorf("expected LockReleased, got %v", result)
	}

	result, _ = adapter.ReleaseLock(ctx, cartID, lock.HolderToken, now)
	if result != port.LockAbsent {
		t.Errorf("expected LockAbsent on second release, got %v", result)
	}

	if got, _ := adapter.GetLock(ctx, cartID); got != nil {
		t.Errorf("expected no lock, got %+v", got)
	}
}

func TestForceReleaseLock(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)
	cartID := "cart-" + uuid.NewString()
	now := time.Now()

	adapter.AcquireLock(ctx, newLock(cartID, now, time.Minute), now)

	if err := adapter.ForceReleaseLock(ctx, cartID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ok, _ := adapter.AcquireLock(ctx, newLock(cartID, now, time.Minute), now)
	if !ok {
		t.Error("expected acquire after force release to succeed")
	}
}

func TestAcquireLock_Concurrent(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)
	cartID := "cart-" + uuid.NewString()
	now := time.Now()

	var successCount atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := adapter.AcquireLock(ctx, newLock(cartID, now, time.Minute), now)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if ok {
				successCount.Add(1)
			}
		}()
	}

	wg.Wait()

	if successCount.Load() != 1 {
		t.Errorf("expected exactly 1 holder, got %d", successCount.Load())
	}
}

func TestCheckoutSession_RoundTrip(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)
	now := time.Now().UTC().Truncate(time.Second)

	session := domain.CheckoutSession{
		ID:        uuid.NewString(),
		CartID:    "cart-1",
		Step:      domain.StepPayment,
		LockToken: "token-1",
		CreatedAt: now,
		ExpiresAt: now.Add(30 * time.Minute),
	}
	if err := adapter.SaveSession(ctx, session, time.Minute); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}

	got, err := adapter.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.Step != domain.StepPayment || got.LockToken != "token-1" || !got.ExpiresAt.Equal(session.ExpiresAt) {
		t.Errorf("unexpected session: %+v", got)
	}

	ttl := client.PTTL(ctx, sessionKeyPrefix+session.ID).Val()
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("unexpected ttl %v", ttl)
	}

	adapter.DeleteSession(ctx, session.ID)
	if _, err := adapter.GetSession(ctx, session.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}
}

func TestCheckoutDraft(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client)
	cartID := "cart-" + uuid.NewString()

	draft, err := adapter.GetDraft(ctx, cartID)
	if err != nil || draft != nil {
		t.Fatalf("expected no draft, got %+v, %v", draft, err)
	}

	saved := domain.CheckoutDraft{
		CartID:   cartID,
		Shipping: domain.ShippingInfo{Address: domain.Address{City: "Berlin"}, GuestEmail: "g@example.com"},
	}
	if err := adapter.SaveDraft(ctx, saved, time.Hour); err != nil {
		t.Fatalf("SaveDraft failed: %v", err)
	}

	draft, err = adapter.GetDraft(ctx, cartID)
	if err != nil {
		t.Fatalf("GetDraft failed: %v", err)
	}
	if draft == nil || draft.Shipping.Address.City != "Berlin" || draft.Shipping.GuestEmail != "g@example.com" {
		t.Errorf("unexpected draft: %+v", draft)
	}

	adapter.DeleteDraft(ctx, cartID)
	if draft, _ := adapter.GetDraft(ctx, cartID); draft != nil {
		t.Error("expected draft to be deleted")
	}
}
