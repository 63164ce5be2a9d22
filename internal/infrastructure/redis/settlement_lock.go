package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisSettlementLock is a per-auction lease. The status filter on the
// candidate query is the primary guard against double settlement; the lease
// covers the window where a status write has not landed yet while an
// overlapping run is already selecting candidates.
type RedisSettlementLock struct {
	client *redis.Client
	owner  string
	ttl    time.Duration
}

func NewRedisSettlementLock(client *redis.Client, owner string, ttl time.Duration) *RedisSettlementLock {
	return &RedisSettlementLock{
		client: client,
		owner:  owner,
		ttl:    ttl,
	}
}

func lockKey(auctionID string) string {
	return fmt.Sprintf("settlement_lock:%s", auctionID)
}

func (r *RedisSettlementLock) Acquire(ctx context.Context, auctionID string) (bool, error) {
	return r.client.SetNX(ctx, lockKey(auctionID), r.owner, r.ttl).Result()
}

func (r *RedisSettlementLock) Release(ctx context.Context, auctionID string) error {
	// Use Lua script to ensure only the owner releases
	luaScript := `
        if redis.call("GET", KEYS[1]) == ARGV[1] then
            return redis.call("DEL", KEYS[1])
        else
            return 0
        end
    `

	_, err := r.client.Eval(ctx, luaScript, []string{lockKey(auctionID)}, r.owner).Result()
	return err
}
