// Package speech implements the synthesis gateway: the single entry point
// that turns text into playable audio. It combines a bounded TTL cache of
// previously synthesised utterances, the engine-wide circuit breaker, and the
// streaming synthesis provider behind one Generate call.
package speech

import (
	"sort"
	"sync"
	"time"
)

// Key is the cache fingerprint of a synthesis request: the exact parameter
// tuple. Two requests with equal keys produce identical audio.
type Key struct {
	Text     string
	Voice    string
	Speed    float64
	Language string
}

// cacheEntry is one cached utterance.
type cacheEntry struct {
	value       []byte
	expiry      time.Time
	accessCount int
}

// CacheStats is a point-in-time snapshot of cache performance.
type CacheStats struct {
	Size    int
	MaxSize int
	Hits    uint64
	Misses  uint64
	HitRate float64
}

// Cache is a bounded TTL cache of synthesised audio keyed by [Key].
//
// Eviction is access-count-first: when the cache is full, the entries with
// the fewest reads are evicted, ties broken by soonest expiry. This
// approximates LRU while preferring to keep frequently repeated utterances.
// All operations execute under one exclusive lock, so no partial eviction is
// ever observable. Safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries map[Key]*cacheEntry
	maxSize int
	ttl     time.Duration
	hits    uint64
	misses  uint64
}

// NewCache creates a Cache holding at most maxSize entries, each living for
// ttl after insertion. Non-positive arguments fall back to 1000 entries and
// one hour.
func NewCache(maxSize int, ttl time.Duration) *Cache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{
		entries: make(map[Key]*cacheEntry),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

// Get returns the cached audio for key, if present and fresh. An expired
// entry is removed and reported as a miss.
func (c *Cache) Get(key Key) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		if time.Now().Before(e.expiry) {
			e.accessCount++
			c.hits++
			return e.value, true
		}
		delete(c.entries, key)
	}
	c.misses++
	return nil, false
}

// Put stores audio under key. Expired entries are swept eagerly; if the cache
// is still full afterwards, the least-accessed (then soonest-to-expire)
// entries are evicted until there is room for the new one.
func (c *Cache) Put(key Key, audio []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for k, e := range c.entries {
		if !now.Before(e.expiry) {
			delete(c.entries, k)
		}
	}

	if len(c.entries) >= c.maxSize {
		c.evictLocked(len(c.entries) - c.maxSize + 1)
	}

	c.entries[key] = &cacheEntry{
		value:  audio,
		expiry: now.Add(c.ttl),
	}
}

// evictLocked removes n entries ordered by ascending (accessCount, expiry).
// Must be called with c.mu held.
func (c *Cache) evictLocked(n int) {
	type victim struct {
		key Key
		e   *cacheEntry
	}
	victims := make([]victim, 0, len(c.entries))
	for k, e := range c.entries {
		victims = append(victims, victim{key: k, e: e})
	}
	sort.Slice(victims, func(i, j int) bool {
		if victims[i].e.accessCount != victims[j].e.accessCount {
			return victims[i].e.accessCount < victims[j].e.accessCount
		}
		return victims[i].e.expiry.Before(victims[j].e.expiry)
	})
	for i := 0; i < n && i < len(victims); i++ {
		delete(c.entries, victims[i].key)
	}
}

// Stats returns a snapshot of cache performance. The hit rate is 0 when no
// requests have been made yet.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := CacheStats{
		Size:    len(c.entries),
		MaxSize: c.maxSize,
		Hits:    c.hits,
		Misses:  c.misses,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}
