package ipns

import (
	"sync"
	"time"
)

// resolveCache holds resolved records keyed by routing key with a
// per-entry expiry taken from each record's own ttl field (spec.md
// §4.13: "Cache TTL from the record's ttl field"). golang-lru/v2 (whose
// plain LRU this module uses elsewhere) offers expirable.LRU, which
// only supports one global TTL for the whole cache, not a
// per-entry value — so this is a small hand-rolled map guarded by a
// mutex instead of importing another cache library for one shape that
// doesn't fit the problem.
type resolveCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	value   cachedResolution
	expires time.Time
}

type cachedResolution struct {
	cid  string
	path string
	raw  []byte
}

func newResolveCache() *resolveCache {
	return &resolveCache{entries: map[string]cacheEntry{}}
}

func (c *resolveCache) get(routingKey string, now time.Time) (cachedResolution, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[routingKey]
	if !ok || now.After(e.expires) {
		return cachedResolution{}, false
	}
	return e.value, true
}

func (c *resolveCache) put(routingKey string, value cachedResolution, ttl time.Duration, now time.Time) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[routingKey] = cacheEntry{value: value, expires: now.Add(ttl)}
}
