package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"
	balancedomain "github.com/smallbiznis/tally/internal/balance/domain"
	"go.uber.org/zap"
)

const redisCallTimeout = 150 * time.Millisecond

type redisBalanceCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

// NewRedisBalanceCache returns a redis-backed balance cache. Calls carry a
// short timeout and errors degrade to misses so the critical path never
// blocks on the cache.
func NewRedisBalanceCache(client *redis.Client, ttl time.Duration, log *zap.Logger) BalanceCache {
	if client == nil {
		return NewNoopBalanceCache()
	}
	if ttl <= 0 {
		ttl = defaultBalanceTTL
	}
	return &redisBalanceCache{client: client, ttl: ttl, log: log.Named("cache.redis")}
}

func (c *redisBalanceCache) Get(ctx context.Context, key string) (balancedomain.Balance, bool) {
	callCtx, cancel := context.WithTimeout(ctx, redisCallTimeout)
	defer cancel()

	raw, err := c.client.Get(callCtx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Debug("balance cache get failed", zap.String("key", key), zap.Error(err))
		}
		return balancedomain.Balance{}, false
	}

	var balance balancedomain.Balance
	if err := json.Unmarshal(raw, &balance); err != nil {
		return balancedomain.Balance{}, false
	}
	return balance, true
}

func (c *redisBalanceCache) Set(ctx context.Context, key string, balance balancedomain.Balance) {
	raw, err := json.Marshal(balance)
	if err != nil {
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, redisCallTimeout)
	defer cancel()

	if err := c.client.Set(callCtx, key, raw, c.ttl).Err(); err != nil {
		c.log.Debug("balance cache set failed", zap.String("key", key), zap.Error(err))
	}
}

func (c *redisBalanceCache) Invalidate(ctx context.Context, key string) {
	callCtx, cancel := context.WithTimeout(ctx, redisCallTimeout)
	defer cancel()

	if err := c.client.Del(callCtx, key).Err(); err != nil {
		c.log.Debug("balance cache invalidate failed", zap.String("key", key), zap.Error(err))
	}
}
