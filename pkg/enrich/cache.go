package enrich

import (
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"mini-siem/pkg/events"
)

const (
	DefaultTTL      = 24 * time.Hour
	DefaultCapacity = 10000
)

// Cache maps an address to its last successful lookup. Entries older than the
// TTL are dropped when read rather than swept in the background. Capacity is
// bounded; the least recently used address goes first.
type Cache struct {
	entries *lru.Cache[string, events.GeoRecord]
	ttl     time.Duration
	now     func() time.Time

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCache returns a cache. Non-positive arguments fall back to the defaults.
func NewCache(capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c, _ := lru.New[string, events.GeoRecord](capacity)
	return &Cache{entries: c, ttl: ttl, now: time.Now}
}

// Get returns a fresh entry for ip, evicting it if it has aged past the TTL.
func (c *Cache) Get(ip string) (events.GeoRecord, bool) {
	rec, ok := c.entries.Get(ip)
	if !ok {
		c.misses.Add(1)
		return events.GeoRecord{}, false
	}
	if c.now().Sub(rec.CachedAt) >= c.ttl {
		c.entries.Remove(ip)
		c.misses.Add(1)
		return events.GeoRecord{}, false
	}
	c.hits.Add(1)
	return rec, true
}

// Put stamps rec with the current time and stores it.
func (c *Cache) Put(ip string, rec events.GeoRecord) events.GeoRecord {
	rec.CachedAt = c.now()
	c.entries.Add(ip, rec)
	return rec
}

// Len returns the number of entries, including ones not yet evicted for age.
func (c *Cache) Len() int { return c.entries.Len() }

// Purge empties the cache.
func (c *Cache) Purge() { c.entries.Purge() }

// Counters returns cumulative hits and misses.
func (c *Cache) Counters() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
