package status

import (
	"sync/atomic"
	"time"
)

// DefaultCacheTTL is how long a built payload stays valid.
const DefaultCacheTTL = time.Second

type cacheEntry struct {
	payload     string
	playerCount int
	builtAt     time.Time
}

// Cache memoizes the most recent status payload. An entry is served while it
// is younger than the TTL and was built for the current player count.
//
// Concurrent callers that all observe a stale entry each rebuild; the last
// one to store wins. Builders are never serialized.
type Cache struct {
	ttl   time.Duration
	now   func() time.Time
	entry atomic.Pointer[cacheEntry]

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewCache creates a cache with the given TTL (DefaultCacheTTL if <= 0).
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{ttl: ttl, now: time.Now}
}

// GetOrBuild returns the cached payload if it is still valid for
// playerCount, otherwise it calls build and stores the result. A failed
// build stores nothing.
func (c *Cache) GetOrBuild(playerCount int, build func() (string, error)) (string, error) {
	now := c.now()
	if e := c.entry.Load(); e != nil && e.playerCount == playerCount && now.Sub(e.builtAt) < c.ttl {
		c.hits.Add(1)
		return e.payload, nil
	}

	c.misses.Add(1)
	payload, err := build()
	if err != nil {
		return "", err
	}

	c.entry.Store(&cacheEntry{
		payload:     payload,
		playerCount: playerCount,
		builtAt:     c.now(),
	})
	return payload, nil
}

// Invalidate drops the stored entry.
func (c *Cache) Invalidate() {
	c.entry.Store(nil)
}

// CacheStats is a point-in-time view of cache counters.
type CacheStats struct {
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
	Cached  bool   `json:"cached"`
	AgeMS   int64  `json:"age_ms"`
	Players int    `json:"player_count"`
}

// Stats returns hit/miss counters and the state of the current entry.
func (c *Cache) Stats() CacheStats {
	stats := CacheStats{Hits: c.hits.Load(), Misses: c.misses.Load()}
	if e := c.entry.Load(); e != nil {
		stats.Cached = true
		stats.AgeMS = c.now().Sub(e.builtAt).Milliseconds()
		stats.Players = e.playerCount
	}
	return stats
}
