package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
)

const balanceKeyPrefix = "credits:balance:"

// RedisBalanceCache keeps balance snapshots in Redis with a short TTL so that
// a missed invalidation can only serve a stale value for a bounded time.
type RedisBalanceCache struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewRedisBalanceCache(client *redis.Client, ttl time.Duration) *RedisBalanceCache {
	return &RedisBalanceCache{redis: client, ttl: ttl}
}

func balanceKey(accountID string) string {
	return fmt.Sprintf("%s%s", balanceKeyPrefix, accountID)
}

func (c *RedisBalanceCache) Get(ctx context.Context, accountID string) (int64, bool) {
	balance, err := c.redis.Get(ctx, balanceKey(accountID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false
	}
	if err != nil {
		log.Warn().Err(err).Str("account_id", accountID).Msg("balance cache read failed")
		return 0, false
	}
	return balance, true
}

func (c *RedisBalanceCache) Set(ctx context.Context, accountID string, balance int64) {
	if err := c.redis.Set(ctx, balanceKey(accountID), balance, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("account_id", accountID).Msg("balance cache write failed")
	}
}

func (c *RedisBalanceCache) Invalidate(ctx context.Context, accountID string) error {
	return c.redis.Del(ctx, balanceKey(accountID)).Err()
}
