package openaq

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/air-quality-etl/internal/domain"
	"github.com/couchcryptid/air-quality-etl/internal/observability"
)

// CachedSource wraps a Source with an in-memory LRU cache whose entries expire
// after a TTL. Errors are never cached.
type CachedSource struct {
	inner   domain.Source
	ttl     time.Duration
	cache   *lruCache
	clock   clockwork.Clock
	metrics *observability.Metrics
}

// NewCachedSource creates a cache decorator around a source. A zero ttl
// disables caching.
func NewCachedSource(inner domain.Source, ttl time.Duration, maxEntries int, metrics *observability.Metrics) *CachedSource {
	return &CachedSource{
		inner:   inner,
		ttl:     ttl,
		cache:   newLRUCache(maxEntries),
		clock:   clockwork.NewRealClock(),
		metrics: metrics,
	}
}

// Fetch returns a cached copy of q's records while fresh, otherwise fetches
// from the inner source.
func (c *CachedSource) Fetch(ctx context.Context, q domain.Query) ([]domain.RawMeasurement, error) {
	if c.ttl <= 0 {
		return c.inner.Fetch(ctx, q)
	}

	now := c.clock.Now()
	if records, ok := c.cache.get(q, now); ok {
		c.metrics.FetchCache.WithLabelValues("hit").Inc()
		return slices.Clone(records), nil
	}
	c.metrics.FetchCache.WithLabelValues("miss").Inc()

	records, err := c.inner.Fetch(ctx, q)
	if err != nil {
		return nil, err
	}
	c.cache.put(q, slices.Clone(records), now.Add(c.ttl))
	return records, nil
}

// lruCache is a thread-safe LRU cache of fetched records keyed by query.
type lruCache struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[domain.Query]*entry
	head       *entry // most recently used
	tail       *entry // least recently used
}

type entry struct {
	key     domain.Query
	value   []domain.RawMeasurement
	expires time.Time
	prev    *entry
	next    *entry
}

func newLRUCache(maxEntries int) *lruCache {
	return &lruCache{
		maxEntries: maxEntries,
		entries:    make(map[domain.Query]*entry),
	}
}

func (c *lruCache) get(key domain.Query, now time.Time) ([]domain.RawMeasurement, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !now.Before(e.expires) {
		delete(c.entries, key)
		c.remove(e)
		return nil, false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *lruCache) put(key domain.Query, value []domain.RawMeasurement, expires time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		e.expires = expires
		c.moveToFront(e)
		return
	}

	e := &entry{key: key, value: value, expires: expires}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
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
	c.remove(e)
	c.addToFront(e)
}

func (c *lruCache) addToFront(e *entry) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *lruCache) remove(e *entry) {
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
	e.prev, e.next = nil, nil
}

func (c *lruCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}
