// Package memory provides the in-process (L1) cache tier: a mutex-guarded
// map with per-entry TTL and LRU eviction at a fixed capacity.
package memory

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// Cache is a bounded TTL+LRU byte cache, safe for concurrent use.
type Cache struct {
	maxEntries int
	now        func() time.Time

	mu    sync.Mutex
	order *list.List // front = most recently used
	items map[string]*list.Element
}

// New creates a Cache holding at most maxEntries values. maxEntries <= 0
// defaults to 1024.
func New(maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	return &Cache{
		maxEntries: maxEntries,
		now:        time.Now,
		order:      list.New(),
		items:      make(map[string]*list.Element),
	}
}

// Get returns the cached value for key, or ok=false on a miss or an expired
// entry. Expired entries are removed on access.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	ent := el.Value.(*entry)
	if c.now().After(ent.expiresAt) {
		c.order.Remove(el)
		delete(c.items, key)
		return nil, false
	}
	c.order.MoveToFront(el)
	return ent.value, true
}

// Set stores value under key for ttl. A non-positive ttl is a no-op. When
// the cache is full, the least recently used entry is evicted.
func (c *Cache) Set(key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	expires := c.now().Add(ttl)
	if el, ok := c.items[key]; ok {
		ent := el.Value.(*entry)
		ent.value = value
		ent.expiresAt = expires
		c.order.MoveToFront(el)
		return
	}

	c.items[key] = c.order.PushFront(&entry{key: key, value: value, expiresAt: expires})

	if c.order.Len() > c.maxEntries {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.items, oldest.Value.(*entry).key)
		}
	}
}

// Delete removes key if present.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.order.Remove(el)
		delete(c.items, key)
	}
}

// Len reports the number of live entries, counting expired-but-unswept ones.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
