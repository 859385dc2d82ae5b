package cache

import (
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/tally/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("cache",
	fx.Provide(NewRedisClient),
	fx.Provide(NewBalanceCache),
)

// NewRedisClient builds the shared redis client, or nil when redis is not
// configured.
func NewRedisClient(cfg config.Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

// NewBalanceCache selects the cache backend from configuration.
func NewBalanceCache(cfg config.Config, client *redis.Client, log *zap.Logger) BalanceCache {
	switch cfg.CacheBackend {
	case "redis":
		return NewRedisBalanceCache(client, cfg.CacheTTL, log)
	case "none":
		return NewNoopBalanceCache()
	default:
		return NewMemoryBalanceCache(cfg.CacheTTL)
	}
}
