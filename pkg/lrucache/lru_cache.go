package lrucache

import (
	"sync"
)

type cacheEntry[K comparable, V any] struct {
	value V
	prev  *cacheEntry[K, V]
	next  *cacheEntry[K, V]
	key   K
}

// Cache is a fixed size least recently used cache. Get promotes the entry,
// Peek does not.
type Cache[K comparable, V any] struct {
	entries map[K]*cacheEntry[K, V]
	head    *cacheEntry[K, V]
	tail    *cacheEntry[K, V]
	maxSize int
	mu      sync.Mutex
}

func New[K comparable, V any](maxSize int) *Cache[K, V] {
	if maxSize < 1 {
		maxSize = 1
	}
	return &Cache[K, V]{
		entries: make(map[K]*cacheEntry[K, V], maxSize),
		maxSize: maxSize,
	}
}

func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.moveToFront(entry)

	return entry.value, true
}

func (c *Cache[K, V]) Peek(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	return entry.value, true
}

// Put adds or replaces a value and returns true if another entry was evicted.
func (c *Cache[K, V]) Put(key K, value V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[key]; ok {
		entry.value = value
		c.moveToFront(entry)
		return false
	}

	entry := &cacheEntry[K, V]{
		value: value,
		key:   key,
	}
	c.entries[key] = entry
	c.addToFront(entry)

	if len(c.entries) > c.maxSize {
		c.evictLRU()
		return true
	}
	return false
}

func (c *Cache[K, V]) Remove(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return false
	}
	c.unlink(entry)
	delete(c.entries, key)
	return true
}

// Purge drops every entry.
func (c *Cache[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[K]*cacheEntry[K, V], c.maxSize)
	c.head = nil
	c.tail = nil
}

func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache[K, V]) moveToFront(entry *cacheEntry[K, V]) {
	if entry == c.head {
		return
	}
	c.unlink(entry)
	c.addToFront(entry)
}

func (c *Cache[K, V]) unlink(entry *cacheEntry[K, V]) {
	if entry.prev != nil {
		entry.prev.next = entry.next
	} else if c.head == entry {
		c.head = entry.next
	}
	if entry.next != nil {
		entry.next.prev = entry.prev
	} else if c.tail == entry {
		c.tail = entry.prev
	}
	entry.prev = nil
	entry.next = nil
}

func (c *Cache[K, V]) addToFront(entry *cacheEntry[K, V]) {
	entry.next = c.head
	entry.prev = nil

	if c.head != nil {
		c.head.prev = entry
	}
	c.head = entry

	if c.tail == nil {
		c.tail = entry
	}
}

func (c *Cache[K, V]) evictLRU() {
	if c.tail == nil {
		return
	}
	oldTail := c.tail
	c.unlink(oldTail)
	delete(c.entries, oldTail.key)
}
