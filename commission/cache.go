/*
cache.go - TTL cache for tier lookups

PURPOSE:
  Tier standings only change when a new lead is recorded for a broker and
  month, so the API layer caches ResolveTiers results by
  (broker, month, commission type) for a couple of hours and invalidates
  explicitly on lead creation. This is a plain expiring key/value store
  owned by the calling layer, not ambient global state.
*/
package commission

import (
	"strings"
	"sync"
	"time"
)

// DefaultTierCacheTTL matches the upstream cache horizon.
const DefaultTierCacheTTL = 2 * time.Hour

type cacheEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTLCache is a concurrency-safe expiring key/value store.
type TTLCache[V any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry[V]
	now     func() time.Time
}

func NewTTLCache[V any](ttl time.Duration) *TTLCache[V] {
	return &TTLCache[V]{
		ttl:     ttl,
		entries: make(map[string]cacheEntry[V]),
		now:     time.Now,
	}
}

// TierCacheKey builds the cache key for a broker's monthly tier data.
// Empty typeID keys the "all commission types" entry.
func TierCacheKey(brokerID BrokerID, m Month, typeID CommissionTypeID) string {
	if typeID != "" {
		return "broker:" + string(brokerID) + ":month:" + m.String() + ":commission:" + string(typeID)
	}
	return "broker:" + string(brokerID) + ":month:" + m.String() + ":all"
}

// TierCachePrefix is the key prefix shared by every entry for one broker
// and month; InvalidatePrefix with it drops them all.
func TierCachePrefix(brokerID BrokerID, m Month) string {
	return "broker:" + string(brokerID) + ":month:" + m.String()
}

// Get returns the cached value if present and not expired.
func (c *TTLCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores a value with the cache's TTL.
func (c *TTLCache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry[V]{value: value, expiresAt: c.now().Add(c.ttl)}
}

// InvalidatePrefix removes every entry whose key starts with prefix.
// Called when a new lead is created for a broker/month.
func (c *TTLCache[V]) InvalidatePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Clear drops all entries.
func (c *TTLCache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry[V])
}

// PurgeExpired removes expired entries and returns how many were dropped.
func (c *TTLCache[V]) PurgeExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Stats reports total and expired entry counts.
func (c *TTLCache[V]) Stats() (total, expired int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for _, e := range c.entries {
		if now.After(e.expiresAt) {
			expired++
		}
	}
	return len(c.entries), expired
}
