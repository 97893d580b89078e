/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package lrucache

import (
	"container/list"
	"fmt"
	"sync"
)

type cacheEntry[K comparable, V any] struct {
	key   K
	value V
}

// LRUCache is a fixed-capacity cache that evicts the least recently used entry on overflow.
type LRUCache[K comparable, V any] struct {
	maxEntries int

	mu      sync.Mutex
	lruList *list.List          // front is the most recently used entry
	entries map[K]*list.Element // value is a lruList element

	metrics MetricsCollector
}

// New creates a new LRUCache. The metrics collector may be nil, in this case metrics are disabled.
func New[K comparable, V any](maxEntries int, metrics MetricsCollector) (*LRUCache[K, V], error) {
	if maxEntries <= 0 {
		return nil, fmt.Errorf("maxEntries must be greater than 0")
	}
	if metrics == nil {
		metrics = disabledMetrics{}
	}
	return &LRUCache[K, V]{
		maxEntries: maxEntries,
		lruList:    list.New(),
		entries:    make(map[K]*list.Element),
		metrics:    metrics,
	}, nil
}

// Get returns the value stored under the key and marks it as recently used.
func (c *LRUCache[K, V]) Get(key K) (value V, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.get(key)
}

// Add stores the value under the key, evicting the oldest entry if the cache is full.
func (c *LRUCache[K, V]) Add(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[key]; ok {
		elem.Value.(*cacheEntry[K, V]).value = value
		c.lruList.MoveToFront(elem)
		return
	}
	c.addNew(key, value)
}

// GetOrAdd returns the value stored under the key.
// If there is none, newValue is called under the cache lock and its result is stored.
func (c *LRUCache[K, V]) GetOrAdd(key K, newValue func() V) (value V, exists bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if value, exists = c.get(key); exists {
		return value, true
	}
	value = newValue()
	c.addNew(key, value)
	return value, false
}

// Remove deletes the entry of the key and reports whether it existed.
func (c *LRUCache[K, V]) Remove(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.entries[key]
	if !ok {
		return false
	}
	c.lruList.Remove(elem)
	delete(c.entries, key)
	c.metrics.SetAmount(len(c.entries))
	return true
}

// Purge removes all entries. Removed entries are not counted as evictions.
func (c *LRUCache[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[K]*list.Element)
	c.lruList.Init()
	c.metrics.SetAmount(0)
}

// Len returns the number of entries in the cache.
func (c *LRUCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *LRUCache[K, V]) get(key K) (value V, ok bool) {
	elem, hit := c.entries[key]
	if !hit {
		c.metrics.IncMisses()
		return value, false
	}
	c.lruList.MoveToFront(elem)
	c.metrics.IncHits()
	return elem.Value.(*cacheEntry[K, V]).value, true
}

func (c *LRUCache[K, V]) addNew(key K, value V) {
	c.entries[key] = c.lruList.PushFront(&cacheEntry[K, V]{key: key, value: value})
	if len(c.entries) > c.maxEntries {
		oldest := c.lruList.Back()
		c.lruList.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry[K, V]).key)
		c.metrics.AddEvictions(1)
	}
	c.metrics.SetAmount(len(c.entries))
}
