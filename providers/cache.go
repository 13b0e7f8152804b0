package providers

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"
)

// cacheEntry holds one cached response with its stored timestamp.
type cacheEntry struct {
	key      string
	value    string
	storedAt time.Time
	element  *list.Element
}

func (e *cacheEntry) isExpired(ttl time.Duration) bool {
	return time.Since(e.storedAt) > ttl
}

// ResponseCache is an in-memory TTL cache for final chat responses.
// Each adapter owns its own instance so responses never leak across
// vendors. Eviction removes expired entries first, then the oldest by
// stored timestamp. Thread-safe.
type ResponseCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	order   *list.List // front = newest stored, back = oldest
	maxSize int
	ttl     time.Duration
	hits    uint64
	misses  uint64
}

// NewResponseCache creates a ResponseCache with the given capacity and TTL.
func NewResponseCache(maxSize int, ttl time.Duration) *ResponseCache {
	return &ResponseCache{
		entries: make(map[string]*cacheEntry),
		order:   list.New(),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

// Get returns the cached value for key, or ok=false on miss or expiry.
// Expired entries are removed on access.
func (c *ResponseCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[key]
	if !exists || entry.isExpired(c.ttl) {
		c.misses++
		if exists {
			c.removeEntry(entry)
		}
		return "", false
	}

	c.hits++
	return entry.value, true
}

// Put stores a value under key, refreshing the stored timestamp if the
// key already exists.
func (c *ResponseCache) Put(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, exists := c.entries[key]; exists {
		entry.value = value
		entry.storedAt = time.Now()
		c.order.MoveToFront(entry.element)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evict()
	}

	entry := &cacheEntry{
		key:      key,
		value:    value,
		storedAt: time.Now(),
	}
	entry.element = c.order.PushFront(entry)
	c.entries[key] = entry
}

// Len returns the number of entries currently stored.
func (c *ResponseCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear removes all entries.
func (c *ResponseCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry)
	c.order.Init()
}

// Stats returns hit/miss counters and the current size.
func (c *ResponseCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{
		Size:    len(c.entries),
		MaxSize: c.maxSize,
		Hits:    c.hits,
		Misses:  c.misses,
	}
}

// CacheStats reports cache usage counters.
type CacheStats struct {
	Size    int
	MaxSize int
	Hits    uint64
	Misses  uint64
}

// SweepExpired removes all expired entries and returns the count removed.
// Called opportunistically and by background maintenance.
func (c *ResponseCache) SweepExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sweepExpiredLocked()
}

func (c *ResponseCache) sweepExpiredLocked() int {
	removed := 0
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		entry := el.Value.(*cacheEntry)
		if entry.isExpired(c.ttl) {
			c.removeEntry(entry)
			removed++
		}
		el = prev
	}
	return removed
}

// evict frees one slot: expired entries first, else the oldest stored
// entry. Must be called with the lock held.
func (c *ResponseCache) evict() {
	if c.sweepExpiredLocked() > 0 {
		return
	}
	if back := c.order.Back(); back != nil {
		c.removeEntry(back.Value.(*cacheEntry))
	}
}

// removeEntry must be called with the lock held.
func (c *ResponseCache) removeEntry(entry *cacheEntry) {
	c.order.Remove(entry.element)
	delete(c.entries, entry.key)
}

// CacheKey derives the cache key for a call from provider identity,
// prompts, and the request context. Context options are serialized in
// sorted key order so equal contexts always hash identically.
func CacheKey(provider, systemPrompt, userMessage string, rc *RequestContext) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00", provider, systemPrompt, userMessage)
	if rc != nil {
		fmt.Fprintf(h, "%s\x00%s\x00%s\x00%t\x00", rc.TaskType, rc.Urgency, rc.Budget, rc.NeedsVision)
		keys := make([]string, 0, len(rc.Options))
		for k := range rc.Options {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(h, "%s=%v\x00", k, rc.Options[k])
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}
