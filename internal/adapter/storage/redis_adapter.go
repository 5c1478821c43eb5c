package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/order-fulfillment/internal/core/domain"
	"github.com/rl1809/order-fulfillment/internal/port"
)

const (
	cartLockKeyPrefix = "cart_lock:"
	sessionKeyPrefix  = "checkout_session:"
	draftKeyPrefix    = "checkout_draft:"
)

// Lock hash fields: holder, acquired_at, expires_at (unix millis). Expiry
// is judged against the caller's clock, the key TTL only garbage-collects.
var acquireLockScript = redis.NewScript(`
local key = KEYS[1]
local holder = ARGV[1]
local acquired = tonumber(ARGV[2])
local expires = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local current = redis.call('HGET', key, 'expires_at')
if current and tonumber(current) > now then
	return 0
end

redis.call('DEL', key)
redis.call('HSET', key, 'holder', holder, 'acquired_at', acquired, 'expires_at', expires)
if expires > now then
	redis.call('PEXPIRE', key, expires - now)
end
return 1
`)

// Returns 1 when released, 0 when absent, -1 when another holder's
// lock is still live.
var releaseLockScript = redis.NewScript(`
local key = KEYS[1]
local holder = ARGV[1]
local now = tonumber(ARGV[2])

local current = redis.call('HGET', key, 'holder')
if not current then
	return 0
end

if current == holder then
	redis.call('DEL', key)
	return 1
end

local expires = tonumber(redis.call('HGET', key, 'expires_at'))
if expires and expires <= now then
	redis.call('DEL', key)
	return 1
end

return -1
`)

// RedisAdapter keeps the short-lived checkout state: cart locks,
// checkout sessions and checkout drafts.
type RedisAdapter struct {
	client *redis.Client
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func (r *RedisAdapter) AcquireLock(ctx context.Context, lock domain.CartLock, now time.Time) (bool, error) {
	key := cartLockKeyPrefix + lock.CartID

	result, err := acquireLockScript.Run(ctx, r.client, []string{key},
		lock.HolderToken, lock.AcquiredAt.UnixMilli(), lock.ExpiresAt.UnixMilli(), now.UnixMilli(),
	).Int()
	if err != nil {
		return false, persistErr("acquire cart lock", err)
	}

	return result == 1, nil
}

func (r *RedisAdapter) ReleaseLock(ctx context.Context, cartID, holderToken string, now time.Time) (port.LockReleaseResult, error) {
	key := cartLockKeyPrefix + cartID

	result, err := releaseLockScript.Run(ctx, r.client, []string{key}, holderToken, now.UnixMilli()).Int()
	if err != nil {
		return port.LockAbsent, persistErr("release cart lock", err)
	}

	switch result {
	case 1:
		return port.LockReleased, nil
	case -1:
		return port.LockHeldByOther, nil
	}
	return port.LockAbsent, nil
}

func (r *RedisAdapter) ForceReleaseLock(ctx context.Context, cartID string) error {
	if err := r.client.Del(ctx, cartLockKeyPrefix+cartID).Err(); err != nil {
		return persistErr("force release cart lock", err)
	}
	return nil
}

func (r *RedisAdapter) GetLock(ctx context.Context, cartID string) (*domain.CartLock, error) {
	fields, err := r.client.HGetAll(ctx, cartLockKeyPrefix+cartID).Result()
	if err != nil {
		return nil, persistErr("get cart lock", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	acquired, err := strconv.ParseInt(fields["acquired_at"], 10, 64)
	if err != nil {
		return nil, persistErr("decode cart lock", err)
	}
	expires, err := strconv.ParseInt(fields["expires_at"], 10, 64)
	if err != nil {
		return nil, persistErr("decode cart lock", err)
	}

	return &domain.CartLock{
		CartID:      cartID,
		HolderToken: fields["holder"],
		AcquiredAt:  time.UnixMilli(acquired).UTC(),
		ExpiresAt:   time.UnixMilli(expires).UTC(),
	}, nil
}

func (r *RedisAdapter) SaveSession(ctx context.Context, session domain.CheckoutSession, ttl time.Duration) error {
	return r.setJSON(ctx, sessionKeyPrefix+session.ID, session, ttl)
}

func (r *RedisAdapter) GetSession(ctx context.Context, sessionID string) (*domain.CheckoutSession, error) {
	var session domain.CheckoutSession
	found, err := r.getJSON(ctx, sessionKeyPrefix+sessionID, &session)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, notFound("checkout session", sessionID)
	}
	return &session, nil
}

func (r *RedisAdapter) DeleteSession(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, sessionKeyPrefix+sessionID).Err(); err != nil {
		return persistErr("delete checkout session", err)
	}
	return nil
}

func (r *RedisAdapter) SaveDraft(ctx context.Context, draft domain.CheckoutDraft, ttl time.Duration) error {
	return r.setJSON(ctx, draftKeyPrefix+draft.CartID, draft, ttl)
}

func (r *RedisAdapter) GetDraft(ctx context.Context, cartID string) (*domain.CheckoutDraft, error) {
	var draft domain.CheckoutDraft
	found, err := r.getJSON(ctx, draftKeyPrefix+cartID, &draft)
	if err != nil || !found {
		return nil, err
	}
	return &draft, nil
}

func (r *RedisAdapter) DeleteDraft(ctx context.Context, cartID string) error {
	if err := r.client.Del(ctx, draftKeyPrefix+cartID).Err(); err != nil {
		return persistErr("delete checkout draft", err)
	}
	return nil
}

func (r *RedisAdapter) setJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}
	if err := r.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return persistErr("save "+key, err)
	}
	return nil
}

func (r *RedisAdapter) getJSON(ctx context.Context, key string, dest any) (bool, error) {
	raw, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, persistErr("load "+key, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, persistErr("decode "+key, err)
	}
	return true, nil
}
