package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/giantswarm/tenant-oauth/storage"
)

// releaseLockScript deletes the lock only if it is still held by the caller's token.
// KEYS[1] = lock key, ARGV[1] = owner token
var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LockRefresh makes a single attempt to take the refresh lock for key.
// It returns storage.ErrLockNotAcquired when another process holds it; the
// caller decides whether to poll. The lock expires after ttl even if never released.
func (s *Store) LockRefresh(ctx context.Context, key storage.Key, ttl time.Duration) (func(context.Context) error, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("lock ttl must be positive")
	}

	lockKey := s.lockKey(key)
	owner := uuid.NewString()

	ok, err := s.client.SetNX(ctx, lockKey, owner, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire refresh lock: %w", err)
	}
	if !ok {
		return nil, storage.ErrLockNotAcquired
	}

	release := func(ctx context.Context) error {
		deleted, err := releaseLockScript.Run(ctx, s.client, []string{lockKey}, owner).Int()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("failed to release refresh lock: %w", err)
		}
		if deleted == 0 {
			s.logger.Warn("Refresh lock expired before release",
				"tenant_id", key.TenantID,
				"ttl", ttl)
		}
		return nil
	}
	return release, nil
}
