package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wakeeper/wakeeper/internal/domain/session"
	"github.com/wakeeper/wakeeper/internal/shared/biztime"
)

const lockKeyPrefix = "wa_session_lock:"

// lockRecord is the JSON value stored under the lease key.
type lockRecord struct {
	HeldBy     string    `json:"held_by"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Operation  string    `json:"operation"`
}

// acquireScript sets the lease if the key is absent or already owned by the
// caller (reentrant renew). SetNX alone cannot renew, so the owner check and
// the write happen atomically in Lua.
var acquireScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if current then
	local record = cjson.decode(current)
	if record.held_by ~= ARGV[1] then
		return 0
	end
end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
return 1
`)

// releaseScript deletes the lease only when owned by the caller, so a stale
// release cannot drop a lock someone else has since acquired.
var releaseScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if current then
	local record = cjson.decode(current)
	if record.held_by == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	end
end
return 0
`)

// RedisSessionLock is a leased, TTL-based try-lock keyed by account. Expiry
// is Redis-native key TTL: a crashed holder's lease disappears on its own,
// with no background sweep.
type RedisSessionLock struct {
	client    *redis.Client
	ownerID   string
	operation string
}

// NewRedisSessionLock creates a lock manager owned by one worker identity.
func NewRedisSessionLock(client *redis.Client, ownerID, operation string) session.LockManager {
	return &RedisSessionLock{
		client:    client,
		ownerID:   ownerID,
		operation: operation,
	}
}

func (l *RedisSessionLock) buildKey(accountID string) string {
	return lockKeyPrefix + accountID
}

// Acquire is a non-blocking try-lock: true means the caller now holds the
// lease (fresh or renewed), false means another live owner has it.
func (l *RedisSessionLock) Acquire(ctx context.Context, accountID string, ttl time.Duration) (bool, error) {
	now := biztime.NowUTC()
	record := lockRecord{
		HeldBy:     l.ownerID,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
		Operation:  l.operation,
	}
	value, err := json.Marshal(record)
	if err != nil {
		return false, fmt.Errorf("failed to marshal lock record: %w", err)
	}

	res, err := acquireScript.Run(ctx, l.client,
		[]string{l.buildKey(accountID)},
		l.ownerID, string(value), ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to acquire session lock: %w", err)
	}
	return res == 1, nil
}

// Release drops the lease if and only if this worker owns it. Releasing a
// lock held by someone else is a silent no-op.
func (l *RedisSessionLock) Release(ctx context.Context, accountID string) error {
	_, err := releaseScript.Run(ctx, l.client,
		[]string{l.buildKey(accountID)},
		l.ownerID,
	).Int()
	if err != nil {
		return fmt.Errorf("failed to release session lock: %w", err)
	}
	return nil
}

// Holder returns the current lease owner, or "" when the lock is free.
func (l *RedisSessionLock) Holder(ctx context.Context, accountID string) (string, error) {
	value, err := l.client.Get(ctx, l.buildKey(accountID)).Result()
	if err != nil {
		if err == redis.Nil {
			return "", nil
		}
		return "", fmt.Errorf("failed to read session lock: %w", err)
	}

	var record lockRecord
	if err := json.Unmarshal([]byte(value), &record); err != nil {
		return "", fmt.Errorf("failed to unmarshal lock record: %w", err)
	}
	return record.HeldBy, nil
}
