package cache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultLRUSize = 10000

type lruEntry struct {
	balance   int64
	expiresAt time.Time
}

// LRUBalanceCache is the in-process fallback used when Redis is not reachable.
// It only helps a single replica; multi-replica deployments should run Redis.
type LRUBalanceCache struct {
	cache *lru.Cache[string, lruEntry]
	ttl   time.Duration
	now   func() time.Time
}

func NewLRUBalanceCache(size int, ttl time.Duration) *LRUBalanceCache {
	if size <= 0 {
		size = defaultLRUSize
	}
	// lru.New only errors on non-positive size which we guard above.
	c, _ := lru.New[string, lruEntry](size)
	return &LRUBalanceCache{cache: c, ttl: ttl, now: time.Now}
}

func (c *LRUBalanceCache) Get(_ context.Context, accountID string) (int64, bool) {
	entry, ok := c.cache.Get(accountID)
	if !ok {
		return 0, false
	}
	if c.now().After(entry.expiresAt) {
		c.cache.Remove(accountID)
		return 0, false
	}
	return entry.balance, true
}

func (c *LRUBalanceCache) Set(_ context.Context, accountID string, balance int64) {
	c.cache.Add(accountID, lruEntry{balance: balance, expiresAt: c.now().Add(c.ttl)})
}

func (c *LRUBalanceCache) Invalidate(_ context.Context, accountID string) error {
	c.cache.Remove(accountID)
	return nil
}
