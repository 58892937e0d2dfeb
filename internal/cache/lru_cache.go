// Package cache provides the capacity-bounded LRU block cache.
//
// One cache may be shared by several open databases. Every user obtains a
// distinct ID from NewID and puts it in each Key, so blocks from different
// databases that happen to share a file number never collide.
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
)

var lastID atomic.Uint64

// NewID returns a process-unique cache namespace.
func NewID() uint64 { return lastID.Add(1) }

// Key identifies a cached block.
type Key struct {
	ID         uint64
	FileNumber uint64
	Offset     uint64
}

// Handle pins a cached value until it is released.
type Handle struct {
	key    Key
	value  any
	charge uint64
	refs   int32
}

// Value returns the cached value.
func (h *Handle) Value() any { return h.value }

// Charge returns the bytes accounted for this entry.
func (h *Handle) Charge() uint64 { return h.charge }

// LRUCache is a thread-safe LRU cache bounded by the total charge of its
// entries. Pinned entries are never evicted, so usage may briefly exceed
// capacity while many handles are outstanding.
type LRUCache struct {
	mu       sync.Mutex
	capacity uint64
	usage    uint64
	table    map[Key]*list.Element
	lru      *list.List // front is most recently used

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewLRUCache creates a cache holding up to capacity bytes.
func NewLRUCache(capacity uint64) *LRUCache {
	return &LRUCache{
		capacity: capacity,
		table:    make(map[Key]*list.Element),
		lru:      list.New(),
	}
}

func handleOf(e *list.Element) *Handle {
	h, _ := e.Value.(*Handle)
	return h
}

// Insert adds value under key and returns a pinned handle to it. An existing
// entry for key is detached; holders of its handles keep their value.
func (c *LRUCache) Insert(key Key, value any, charge uint64) *Handle {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.table[key]; ok {
		c.detach(e)
	}
	h := &Handle{key: key, value: value, charge: charge, refs: 1}
	c.table[key] = c.lru.PushFront(h)
	c.usage += charge
	c.evict()
	return h
}

// Lookup returns a pinned handle for key, or nil.
func (c *LRUCache) Lookup(key Key) *Handle {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.table[key]
	if !ok {
		c.misses.Add(1)
		return nil
	}
	c.hits.Add(1)
	c.lru.MoveToFront(e)
	h := handleOf(e)
	h.refs++
	return h
}

// Release unpins a handle returned by Insert or Lookup.
func (c *LRUCache) Release(h *Handle) {
	if h == nil {
		return
	}
	c.mu.Lock()
	h.refs--
	c.evict()
	c.mu.Unlock()
}

// Erase removes key from the cache.
func (c *LRUCache) Erase(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.table[key]; ok {
		c.detach(e)
	}
}

// SetCapacity changes the capacity, evicting as needed.
func (c *LRUCache) SetCapacity(capacity uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.capacity = capacity
	c.evict()
}

// Capacity returns the configured capacity in bytes.
func (c *LRUCache) Capacity() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capacity
}

// Usage returns the total charge of resident entries.
func (c *LRUCache) Usage() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usage
}

// Len returns the number of resident entries.
func (c *LRUCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.table)
}

// Hits returns the number of successful lookups.
func (c *LRUCache) Hits() uint64 { return c.hits.Load() }

// Misses returns the number of failed lookups.
func (c *LRUCache) Misses() uint64 { return c.misses.Load() }

// Purge drops every resident entry. Outstanding handles stay usable.
func (c *LRUCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.table = make(map[Key]*list.Element)
	c.lru.Init()
	c.usage = 0
}

// evict drops unpinned entries from the cold end until usage fits.
// REQUIRES: c.mu held.
func (c *LRUCache) evict() {
	for e := c.lru.Back(); e != nil && c.usage > c.capacity; {
		prev := e.Prev()
		if handleOf(e).refs == 0 {
			c.detach(e)
		}
		e = prev
	}
}

// REQUIRES: c.mu held.
func (c *LRUCache) detach(e *list.Element) {
	h := handleOf(e)
	delete(c.table, h.key)
	c.lru.Remove(e)
	c.usage -= h.charge
}
