package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes a lock only if the caller still owns it, so a holder
// whose TTL lapsed cannot free a lock someone else now holds.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LockStore handles distributed locking in Redis.
type LockStore struct {
	client *redis.Client
}

// NewLockStore creates a new LockStore.
func NewLockStore(client *redis.Client) *LockStore {
	return &LockStore{client: client}
}

func rideLockKey(rideID string) string     { return fmt.Sprintf("lock:ride:%s", rideID) }
func driverLockKey(driverID string) string { return fmt.Sprintf("lock:offer:driver:%s", driverID) }

// AcquireRideLock claims the dispatch of rideID for owner.
// Returns true if the lock was acquired, false if already held.
func (s *LockStore) AcquireRideLock(ctx context.Context, rideID, owner string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, rideLockKey(rideID), owner, ttl).Result()
}

// RefreshRideLock extends a held ride lock. Returns false if owner lost it.
func (s *LockStore) RefreshRideLock(ctx context.Context, rideID, owner string, ttl time.Duration) (bool, error) {
	key := rideLockKey(rideID)
	current, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if current != owner {
		return false, nil
	}
	return s.client.Expire(ctx, key, ttl).Result()
}

// ReleaseRideLock releases the ride lock if owner holds it.
func (s *LockStore) ReleaseRideLock(ctx context.Context, rideID, owner string) error {
	return releaseScript.Run(ctx, s.client, []string{rideLockKey(rideID)}, owner).Err()
}

// AcquireDriverLock reserves driverID for a single outstanding offer.
// Returns true if the lock was acquired, false if already held.
func (s *LockStore) AcquireDriverLock(ctx context.Context, driverID, owner string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, driverLockKey(driverID), owner, ttl).Result()
}

// ReleaseDriverLock releases the driver lock if owner holds it.
func (s *LockStore) ReleaseDriverLock(ctx context.Context, driverID, owner string) error {
	return releaseScript.Run(ctx, s.client, []string{driverLockKey(driverID)}, owner).Err()
}
