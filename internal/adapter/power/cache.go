package power

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/couchcryptid/aqua-risk/internal/domain"
	"github.com/couchcryptid/aqua-risk/internal/observability"
)

// CachedSource wraps a ClimateSource with an in-memory LRU cache.
type CachedSource struct {
	inner   domain.ClimateSource
	cache   *lruCache[[]domain.ClimateReading]
	metrics *observability.Metrics
}

// NewCachedSource creates a cache decorator around a climate source.
func NewCachedSource(inner domain.ClimateSource, maxEntries int, metrics *observability.Metrics) *CachedSource {
	return &CachedSource{
		inner:   inner,
		cache:   newLRUCache[[]domain.ClimateReading](maxEntries),
		metrics: metrics,
	}
}

// DailySeries implements domain.ClimateSource. Callers must not modify the
// returned slice.
func (c *CachedSource) DailySeries(ctx context.Context, lat, lon float64, start, end time.Time) ([]domain.ClimateReading, error) {
	key := fmt.Sprintf("%.4f,%.4f|%s|%s", lat, lon, domain.FormatDate(start), domain.FormatDate(end))
	if series, ok := c.cache.get(key); ok {
		c.metrics.ClimateCache.WithLabelValues("hit").Inc()
		return series, nil
	}
	c.metrics.ClimateCache.WithLabelValues("miss").Inc()

	series, err := c.inner.DailySeries(ctx, lat, lon, start, end)
	if err != nil {
		return nil, err
	}
	// Only cache non-empty series so a transient empty response can be retried.
	if len(series) > 0 {
		c.cache.put(key, series)
	}
	return series, nil
}

// lruCache is a simple thread-safe LRU cache.
type lruCache[V any] struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*entry[V]
	head       *entry[V] // most recently used
	tail       *entry[V] // least recently used
}

type entry[V any] struct {
	key   string
	value V
	prev  *entry[V]
	next  *entry[V]
}

func newLRUCache[V any](maxEntries int) *lruCache[V] {
	return &lruCache[V]{
		maxEntries: maxEntries,
		entries:    make(map[string]*entry[V]),
	}
}

func (c *lruCache[V]) get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *lruCache[V]) put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		c.moveToFront(e)
		return
	}

	e := &entry[V]{key: key, value: value}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *lruCache[V]) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *lruCache[V]) moveToFront(e *entry[V]) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *lruCache[V]) addToFront(e *entry[V]) {
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

func (c *lruCache[V]) remove(e *entry[V]) {
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

func (c *lruCache[V]) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}
