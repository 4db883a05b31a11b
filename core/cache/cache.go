// Package cache holds parser results in memory. A Cache is bounded both by
// entry count and by the summed size of its values, so a few very large
// outputs cannot pin an unbounded amount of memory.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// Config bounds a Cache. A zero or negative limit disables it.
type Config struct {
	MaxEntries int
	MaxBytes   int64
	TTL        time.Duration
}

// SizeFunc weighs a value against Config.MaxBytes.
type SizeFunc[V any] func(V) int64

// Stats is a snapshot of cache activity.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Rejected  int64 // values heavier than MaxBytes on their own
	Entries   int
	Bytes     int64
}

type item[K comparable, V any] struct {
	key     K
	value   V
	size    int64
	expires time.Time
}

// Cache is a least-recently-used map safe for concurrent use.
type Cache[K comparable, V any] struct {
	mu    sync.Mutex
	cfg   Config
	size  SizeFunc[V]
	items map[K]*list.Element
	order *list.List // front is most recently used
	bytes int64
	stats Stats
	now   func() time.Time
}

// New returns an empty Cache. A nil size weighs every value as zero, which
// leaves only the entry bound in effect.
func New[K comparable, V any](cfg Config, size SizeFunc[V]) *Cache[K, V] {
	if size == nil {
		size = func(V) int64 { return 0 }
	}
	return &Cache[K, V]{
		cfg:   cfg,
		size:  size,
		items: make(map[K]*list.Element),
		order: list.New(),
		now:   time.Now,
	}
}

// Get returns the value for key and marks it recently used. Expired
// entries are dropped on lookup.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		return zero, false
	}
	it := el.Value.(*item[K, V])
	if !it.expires.IsZero() && c.now().After(it.expires) {
		c.drop(el)
		c.stats.Misses++
		return zero, false
	}

	c.order.MoveToFront(el)
	c.stats.Hits++
	return it.value, true
}

// Put stores value under key and evicts least recently used entries until
// both bounds hold again. It reports false, storing nothing, when value
// alone is heavier than MaxBytes.
func (c *Cache[K, V]) Put(key K, value V) bool {
	weight := c.size(value)

	c.mu.Lock()
	defer c.mu.Unlock()

	old, exists := c.items[key]
	if c.cfg.MaxBytes > 0 && weight > c.cfg.MaxBytes {
		if exists {
			c.drop(old)
		}
		c.stats.Rejected++
		return false
	}

	if exists {
		it := old.Value.(*item[K, V])
		c.bytes += weight - it.size
		it.value, it.size, it.expires = value, weight, c.expiry()
		c.order.MoveToFront(old)
	} else {
		c.items[key] = c.order.PushFront(&item[K, V]{
			key:     key,
			value:   value,
			size:    weight,
			expires: c.expiry(),
		})
		c.bytes += weight
	}

	for c.overLimit() {
		c.drop(c.order.Back())
		c.stats.Evictions++
	}
	return true
}

// Len returns the number of entries, including expired ones not yet looked up.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns a snapshot of the counters.
func (c *Cache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats
	s.Entries = c.order.Len()
	s.Bytes = c.bytes
	return s
}

// overLimit reports whether a bound is exceeded. Caller holds c.mu.
func (c *Cache[K, V]) overLimit() bool {
	if c.order.Len() == 0 {
		return false
	}
	if c.cfg.MaxEntries > 0 && c.order.Len() > c.cfg.MaxEntries {
		return true
	}
	return c.cfg.MaxBytes > 0 && c.bytes > c.cfg.MaxBytes
}

func (c *Cache[K, V]) expiry() time.Time {
	if c.cfg.TTL <= 0 {
		return time.Time{}
	}
	return c.now().Add(c.cfg.TTL)
}

// drop unlinks el. Caller holds c.mu.
func (c *Cache[K, V]) drop(el *list.Element) {
	it := c.order.Remove(el).(*item[K, V])
	delete(c.items, it.key)
	c.bytes -= it.size
}
