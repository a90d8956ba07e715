package point

import (
	"context"
	"sync"

	"github.com/couchcryptid/geotrigger-bridge/internal/domain"
	"github.com/couchcryptid/geotrigger-bridge/internal/observability"
)

// CachedResolver wraps a ZoneResolver with an in-memory LRU cache.
type CachedResolver struct {
	inner   domain.ZoneResolver
	cache   *lruCache
	metrics *observability.Metrics
}

// NewCachedResolver creates a cache decorator around a resolver.
func NewCachedResolver(inner domain.ZoneResolver, maxEntries int, metrics *observability.Metrics) *CachedResolver {
	return &CachedResolver{
		inner:   inner,
		cache:   newLRUCache(maxEntries),
		metrics: metrics,
	}
}

func (c *CachedResolver) ResolveZone(ctx context.Context, zoneID string) (domain.Zone, error) {
	if zone, ok := c.cache.get(zoneID); ok {
		c.metrics.ZoneCache.WithLabelValues("hit").Inc()
		return zone, nil
	}
	c.metrics.ZoneCache.WithLabelValues("miss").Inc()

	zone, err := c.inner.ResolveZone(ctx, zoneID)
	if err != nil {
		return zone, err
	}
	c.cache.put(zoneID, zone)
	return zone, nil
}

// Purge drops every cached zone, e.g. after the session changes.
func (c *CachedResolver) Purge() {
	c.cache.clear()
}

// lruCache is a thread-safe LRU cache of zones keyed by zone ID.
type lruCache struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*entry
	head       *entry // most recently used
	tail       *entry // least recently used
}

type entry struct {
	key        string
	value      domain.Zone
	prev, next *entry
}

func newLRUCache(maxEntries int) *lruCache {
	return &lruCache{
		maxEntries: max(1, maxEntries),
		entries:    make(map[string]*entry),
	}
}

func (c *lruCache) get(key string) (domain.Zone, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return domain.Zone{}, false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *lruCache) put(key string, value domain.Zone) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		c.moveToFront(e)
		return
	}

	e := &entry{key: key, value: value}
	c.entries[key] = e
	c.pushFront(e)

	if len(c.entries) > c.maxEntries {
		delete(c.entries, c.tail.key)
		c.unlink(c.tail)
	}
}

func (c *lruCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
	c.head, c.tail = nil, nil
}

func (c *lruCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *lruCache) moveToFront(e *entry) {
	if e == c.head {
		return
	}
	c.unlink(e)
	c.pushFront(e)
}

func (c *lruCache) pushFront(e *entry) {
	e.prev, e.next = nil, c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *lruCache) unlink(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}
