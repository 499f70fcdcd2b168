// Package quota implements the Quota & Usage Engine (§4.3): tiered usage
// computation with short in-process TTL caches, a provider-quota probe
// bounded by a 6s timeout, a bounded local-disk-usage scanner, and the
// upload admission guard. Grounded on the teacher's general approach to
// bounding slow filesystem walks (fs package's capacity/usage checks) and
// on golang.org/x/sync/singleflight for the per-root in-flight dedup the
// teacher already depends on via golang.org/x/sync.
package quota

import (
	"sync"
	"time"
)

// ttlCache is a small in-process cache with per-key expiry, used for both
// the computeUsage snapshot cache (10s) and the provider-quota/local-du
// caches (60s). Correctness of the engine must never depend on these —
// they exist only to suppress duplicate work within bursty flows.
type ttlCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
}

type cacheEntry struct {
	value   interface{}
	expires time.Time
}

func newTTLCache(ttl time.Duration) *ttlCache {
	return &ttlCache{ttl: ttl, entries: map[string]cacheEntry{}}
}

func (c *ttlCache) get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || time.Now().After(e.expires) {
		return nil, false
	}
	return e.value, true
}

func (c *ttlCache) set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{value: value, expires: time.Now().Add(c.ttl)}
}
