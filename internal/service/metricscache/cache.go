package metricscache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"trendwatch/internal/domain/metric"
)

// Cache is a write-through TTL cache of the latest computed summary
// per keyword. It is purely an optimization: every miss falls back to
// the persisted Metric rows, never to live recomputation.
type Cache struct {
	store *gocache.Cache
	ttl   time.Duration
}

// New creates a metrics cache. Entries expire after ttl; the janitor
// sweeps expired entries at cleanupInterval.
func New(ttl, cleanupInterval time.Duration) *Cache {
	return &Cache{
		store: gocache.New(ttl, cleanupInterval),
		ttl:   ttl,
	}
}

// Get returns the cached summary for a keyword if present and unexpired
func (c *Cache) Get(keywordID string) (*metric.Summary, bool) {
	value, found := c.store.Get(keywordID)
	if !found {
		return nil, false
	}

	s, ok := value.(metric.Summary)
	if !ok {
		c.store.Delete(keywordID)
		return nil, false
	}

	return &s, true
}

// Put stores a summary, overwriting any prior entry for the keyword
func (c *Cache) Put(keywordID string, s metric.Summary) {
	c.store.Set(keywordID, s, c.ttl)
}

// Invalidate removes a keyword's entry. Used when its posts are
// modified outside the normal crawl flow.
func (c *Cache) Invalidate(keywordID string) {
	c.store.Delete(keywordID)
}
