package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// LockKey is the Redis key holding the cluster-wide reconciliation lease.
const LockKey = "reconcile:lock"

// ErrLockBusy means another instance holds a live lease. The caller
// skips the whole cycle; this is not an error condition.
var ErrLockBusy = errors.New("reconcile: lock held by another instance")

// releaseScript deletes the lease only if this holder still owns it,
// so releasing an expired or reclaimed lock is a harmless no-op.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`

// Lease is a held reconciliation lock.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker hands out time-boxed exclusive leases.
type Locker interface {
	TryAcquire(ctx context.Context) (Lease, error)
}

// LockManager implements the lease on Redis with SET NX PX. Expiry is
// native: if the holder crashes the key simply times out, after which
// any instance may reclaim it. No heartbeat is needed.
type LockManager struct {
	redis    *redis.Client
	ttl      time.Duration
	holderID string
}

func NewLockManager(rdb *redis.Client, ttl time.Duration) *LockManager {
	return &LockManager{
		redis:    rdb,
		ttl:      ttl,
		holderID: uuid.NewString(),
	}
}

// TryAcquire obtains the lease or reports Busy. Storage failures are
// returned as errors so the cycle can abort cleanly.
func (m *LockManager) TryAcquire(ctx context.Context) (Lease, error) {
	ok, err := m.redis.SetNX(ctx, LockKey, m.holderID, m.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("reconcile: acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrLockBusy
	}
	return &redisLease{redis: m.redis, holderID: m.holderID}, nil
}

type redisLease struct {
	redis    *redis.Client
	holderID string
}

// Release is idempotent: a lease that already expired or was reclaimed
// by another holder deletes nothing and returns nil.
func (l *redisLease) Release(ctx context.Context) error {
	if err := l.redis.Eval(ctx, releaseScript, []string{LockKey}, l.holderID).Err(); err != nil {
		return fmt.Errorf("reconcile: release lock: %w", err)
	}
	return nil
}
