package cache

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	balancedomain "github.com/smallbiznis/tally/internal/balance/domain"
)

const defaultBalanceTTL = 30 * time.Second

// BalanceCache absorbs read-heavy balance traffic. It is strictly an
// optimization layer: implementations must treat every failure as a miss so
// the balance store stays the source of truth.
type BalanceCache interface {
	Get(ctx context.Context, key string) (balancedomain.Balance, bool)
	Set(ctx context.Context, key string, balance balancedomain.Balance)
	Invalidate(ctx context.Context, key string)
}

// BalanceKey builds the cache key for one entity's balance.
func BalanceKey(orgID snowflake.ID, entityType string, entityID snowflake.ID) string {
	return strings.Join([]string{
		"balance",
		strconv.FormatInt(int64(orgID), 10),
		strings.ToLower(strings.TrimSpace(entityType)),
		strconv.FormatInt(int64(entityID), 10),
	}, "|")
}

type memoryBalanceCache struct {
	store Cache[string, balancedomain.Balance]
	ttl   time.Duration
}

// NewMemoryBalanceCache returns the in-process default cache.
func NewMemoryBalanceCache(ttl time.Duration) BalanceCache {
	if ttl <= 0 {
		ttl = defaultBalanceTTL
	}
	return &memoryBalanceCache{
		store: NewTTLCache[string, balancedomain.Balance](),
		ttl:   ttl,
	}
}

func (c *memoryBalanceCache) Get(_ context.Context, key string) (balancedomain.Balance, bool) {
	return c.store.Get(key)
}

func (c *memoryBalanceCache) Set(_ context.Context, key string, balance balancedomain.Balance) {
	c.store.Set(key, balance, c.ttl)
}

func (c *memoryBalanceCache) Invalidate(_ context.Context, key string) {
	c.store.Delete(key)
}

type noopBalanceCache struct{}

// NewNoopBalanceCache returns a cache that never hits. The system must
// function correctly, only slower, with this implementation.
func NewNoopBalanceCache() BalanceCache { return noopBalanceCache{} }

func (noopBalanceCache) Get(context.Context, string) (balancedomain.Balance, bool) {
	return balancedomain.Balance{}, false
}
func (noopBalanceCache) Set(context.Context, string, balancedomain.Balance) {}
func (noopBalanceCache) Invalidate(context.Context, string)                 {}
