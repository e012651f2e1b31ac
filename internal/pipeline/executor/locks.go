package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/harborline/harborline/internal/pipeline/model"
	"github.com/redis/go-redis/v9"
)

// LeaseManager serializes operations per environment: at most one in-flight
// deploy or rollback per tier. A second request against a busy tier is
// rejected, not queued.
type LeaseManager interface {
	Acquire(ctx context.Context, tier model.Tier, ownerID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, tier model.Tier, ownerID string) error
}

// RedisLeaseManager implements LeaseManager with a SETNX lease. The TTL bounds
// the damage of a crashed holder; Release only deletes the lease it owns.
type RedisLeaseManager struct {
	redis *redis.Client
}

func NewRedisLeaseManager(rdb *redis.Client) *RedisLeaseManager {
	return &RedisLeaseManager{redis: rdb}
}

func leaseKey(tier model.Tier) string { return "deploylock:" + string(tier) }

func (m *RedisLeaseManager) Acquire(ctx context.Context, tier model.Tier, ownerID string, ttl time.Duration) (bool, error) {
	if m.redis == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	ok, err := m.redis.SetNX(ctx, leaseKey(tier), ownerID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease for %s: %w", tier, err)
	}
	return ok, nil
}

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

func (m *RedisLeaseManager) Release(ctx context.Context, tier model.Tier, ownerID string) error {
	if m.redis == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := releaseScript.Run(ctx, m.redis, []string{leaseKey(tier)}, ownerID).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("failed to release lease for %s: %w", tier, err)
	}
	return nil
}
