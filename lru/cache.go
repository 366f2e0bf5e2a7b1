// Package lru implements a generic, thread-safe LRU cache with optional
// per-entry expiry, eviction callbacks, and hit/miss metrics.
//
// Get, Put, Delete and Len are O(1). The cache combines a hash map for
// key lookup with a doubly linked list for eviction ordering; expired
// entries are dropped lazily on access.
package lru

import (
	"sync"
	"time"
)

// entry is a doubly linked list node holding a key-value pair and its
// expiry deadline (zero means no expiry).
type entry[K comparable, V any] struct {
	key       K
	val       V
	expiresAt time.Time
	prev      *entry[K, V]
	next      *entry[K, V]
}

func (e *entry[K, V]) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Metrics holds cumulative cache counters.
type Metrics struct {
	Hits        int64
	Misses      int64
	Evictions   int64
	Expirations int64
}

// HitRate returns hits / (hits + misses), or 0 when the cache has not
// been read yet.
func (m Metrics) HitRate() float64 {
	total := m.Hits + m.Misses
	if total == 0 {
		return 0
	}
	return float64(m.Hits) / float64(total)
}

// Option configures a Cache at construction time.
type Option[K comparable, V any] func(*Cache[K, V])

// WithTTL sets a default expiry applied to every Put. A zero duration
// leaves entries permanent.
func WithTTL[K comparable, V any](ttl time.Duration) Option[K, V] {
	return func(c *Cache[K, V]) { c.defaultTTL = ttl }
}

// WithOnEvict registers a callback invoked whenever an entry leaves the
// cache through capacity eviction or TTL expiry (not explicit Delete).
// The callback runs with the cache lock held, so it must not call back
// into the cache.
func WithOnEvict[K comparable, V any](fn func(key K, val V)) Option[K, V] {
	return func(c *Cache[K, V]) { c.onEvict = fn }
}

// Cache is a generic, thread-safe LRU cache. K must be comparable (map key
// constraint), V can be any type.
type Cache[K comparable, V any] struct {
	mu         sync.Mutex
	capacity   int
	defaultTTL time.Duration
	onEvict    func(K, V)
	metrics    Metrics
	items      map[K]*entry[K, V]
	head       *entry[K, V] // most recently used (sentinel)
	tail       *entry[K, V] // least recently used (sentinel)

	now func() time.Time // injectable clock for tests
}

// New creates an LRU cache with the given capacity.
// Panics if capacity < 1.
func New[K comparable, V any](capacity int, opts ...Option[K, V]) *Cache[K, V] {
	if capacity < 1 {
		panic("lru: capacity must be >= 1")
	}

	head := &entry[K, V]{}
	tail := &entry[K, V]{}
	head.next = tail
	tail.prev = head

	c := &Cache[K, V]{
		capacity: capacity,
		items:    make(map[K]*entry[K, V], capacity),
		head:     head,
		tail:     tail,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get retrieves a value by key. Returns the value and true if found and not
// expired, or the zero value and false otherwise. Expired entries are
// removed on the way out.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		c.metrics.Misses++
		var zero V
		return zero, false
	}
	if e.expired(c.now()) {
		c.expire(e)
		c.metrics.Misses++
		var zero V
		return zero, false
	}

	c.metrics.Hits++
	c.moveToFront(e)
	return e.val, true
}

// Put inserts or updates a key-value pair using the cache's default TTL.
// If the cache is at capacity, the least recently used entry is evicted.
// Returns the evicted key, its value, and true if an eviction occurred.
func (c *Cache[K, V]) Put(key K, val V) (K, V, bool) {
	return c.PutWithTTL(key, val, c.defaultTTL)
}

// PutWithTTL inserts or updates a key-value pair with an explicit expiry,
// overriding the cache default. Updating an existing key resets its
// deadline.
func (c *Cache[K, V]) PutWithTTL(key K, val V, ttl time.Duration) (K, V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var deadline time.Time
	if ttl > 0 {
		deadline = c.now().Add(ttl)
	}

	// Update existing
	if e, ok := c.items[key]; ok {
		e.val = val
		e.expiresAt = deadline
		c.moveToFront(e)
		var zeroK K
		var zeroV V
		return zeroK, zeroV, false
	}

	// Evict if at capacity
	var evictedKey K
	var evictedVal V
	evicted := false
	if len(c.items) >= c.capacity {
		victim := c.tail.prev
		c.unlink(victim)
		delete(c.items, victim.key)
		evictedKey = victim.key
		evictedVal = victim.val
		evicted = true
		c.metrics.Evictions++
		if c.onEvict != nil {
			c.onEvict(victim.key, victim.val)
		}
	}

	// Insert new
	e := &entry[K, V]{key: key, val: val, expiresAt: deadline}
	c.items[key] = e
	c.pushFront(e)

	return evictedKey, evictedVal, evicted
}

// Delete removes a key from the cache. Returns true if the key existed.
// The eviction callback is not invoked for explicit deletes.
func (c *Cache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		return false
	}

	c.unlink(e)
	delete(c.items, key)
	return true
}

// Len returns the current number of entries, including any not yet reaped
// expired ones.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Peek retrieves a value without updating access order. Expired entries
// are treated as absent and removed.
func (c *Cache[K, V]) Peek(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	if e.expired(c.now()) {
		c.expire(e)
		var zero V
		return zero, false
	}
	return e.val, true
}

// Keys returns live keys in order from most to least recently used.
// Expired entries are skipped and reaped.
func (c *Cache[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	keys := make([]K, 0, len(c.items))
	for cur := c.head.next; cur != c.tail; {
		next := cur.next
		if cur.expired(now) {
			c.expire(cur)
		} else {
			keys = append(keys, cur.key)
		}
		cur = next
	}
	return keys
}

// Metrics returns a snapshot of the cumulative counters.
func (c *Cache[K, V]) Metrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

// Clear removes all entries from the cache. Counters are preserved.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.head.next = c.tail
	c.tail.prev = c.head
	c.items = make(map[K]*entry[K, V], c.capacity)
}

// --- internal operations (caller must hold lock) ---

// expire unlinks an expired entry and fires the eviction callback.
func (c *Cache[K, V]) expire(e *entry[K, V]) {
	c.unlink(e)
	delete(c.items, e.key)
	c.metrics.Expirations++
	if c.onEvict != nil {
		c.onEvict(e.key, e.val)
	}
}

func (c *Cache[K, V]) unlink(e *entry[K, V]) {
	e.prev.next = e.next
	e.next.prev = e.prev
	e.prev = nil
	e.next = nil
}

func (c *Cache[K, V]) pushFront(e *entry[K, V]) {
	e.next = c.head.next
	e.prev = c.head
	c.head.next.prev = e
	c.head.next = e
}

func (c *Cache[K, V]) moveToFront(e *entry[K, V]) {
	c.unlink(e)
	c.pushFront(e)
}
