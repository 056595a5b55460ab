package cache

import (
	"container/list"
	"sync"

	"github.com/wasmrunner/host/engine"
)

// MemoryEntry is one bounded-cache entry: a shared, immutable compiled
// component handle plus its accounting fields.
type MemoryEntry struct {
	Component     engine.Component
	BytesEstimate int64
	HitCount      uint64
	Pinned        bool
}

// MemoryStats is a point-in-time {hits, misses, evictions, entries,
// total_bytes} snapshot of the memory cache's counters.
type MemoryStats struct {
	Hits       uint64
	Misses     uint64
	Evictions  uint64
	Entries    int
	TotalBytes int64
}

// MemoryCache is the bounded in-process tier: LRU ordering with an
// LFU-protection pass and pinned entries that are never evicted.
type MemoryCache struct {
	mu             sync.Mutex
	maxBytes       int64
	lfuProtectHits uint64

	entries    map[engine.ArtifactKey]*list.Element
	lru        *list.List // front = most recently used
	totalBytes int64
	hits       uint64
	misses     uint64
	evictions  uint64
}

type lruNode struct {
	key   engine.ArtifactKey
	entry *MemoryEntry
}

// NewMemoryCache constructs a cache bounded by maxBytes, with entries whose
// hit_count reaches lfuProtectHits protected from the first eviction pass.
func NewMemoryCache(maxBytes int64, lfuProtectHits uint64) *MemoryCache {
	return &MemoryCache{
		maxBytes:       maxBytes,
		lfuProtectHits: lfuProtectHits,
		entries:        map[engine.ArtifactKey]*list.Element{},
		lru:            list.New(),
	}
}

// Get returns the shared component for key, bumping its hit_count and LRU
// position on a hit.
func (c *MemoryCache) Get(key engine.ArtifactKey) (engine.Component, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	node := el.Value.(*lruNode)
	node.entry.HitCount++
	c.lru.MoveToFront(el)
	return node.entry.Component, true
}

// Insert adds or replaces the entry for key, then runs the two-pass
// eviction algorithm.
func (c *MemoryCache) Insert(key engine.ArtifactKey, component engine.Component, bytesEstimate int64, pinned bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		old := el.Value.(*lruNode)
		c.totalBytes -= old.entry.BytesEstimate
		c.lru.Remove(el)
		delete(c.entries, key)
	}

	entry := &MemoryEntry{Component: component, BytesEstimate: bytesEstimate, Pinned: pinned}
	el := c.lru.PushFront(&lruNode{key: key, entry: entry})
	c.entries[key] = el
	c.totalBytes += bytesEstimate

	c.evict()
}

// evict runs the two-pass eviction algorithm. Must be called with mu held.
func (c *MemoryCache) evict() {
	if c.totalBytes <= c.maxBytes {
		return
	}

	protectedEvictions := c.evictPass(func(entry *MemoryEntry) bool {
		return entry.Pinned || entry.HitCount >= c.lfuProtectHits
	})

	if c.totalBytes <= c.maxBytes {
		return
	}
	if protectedEvictions == 0 {
		// Everything remaining is pinned or LFU-protected; avoid spinning.
		return
	}

	c.evictPass(func(entry *MemoryEntry) bool {
		return entry.Pinned
	})
}

// evictPass pops from the LRU back, skipping (rotating to front) any
// candidate for which skip returns true, evicting otherwise. The bound on
// attempts is the LRU's length captured before the pass starts, so a full
// rotation with nothing evicted terminates the pass instead of spinning
// forever when every remaining entry is skipped.
func (c *MemoryCache) evictPass(skip func(*MemoryEntry) bool) int {
	attempts := c.lru.Len()
	evicted := 0

	for i := 0; i < attempts && c.totalBytes > c.maxBytes; i++ {
		back := c.lru.Back()
		if back == nil {
			break
		}
		node := back.Value.(*lruNode)
		if skip(node.entry) {
			c.lru.MoveToFront(back)
			continue
		}
		c.lru.Remove(back)
		delete(c.entries, node.key)
		c.totalBytes -= node.entry.BytesEstimate
		c.evictions++
		evicted++
	}
	return evicted
}

// Stats returns a snapshot of the cache's counters.
func (c *MemoryCache) Stats() MemoryStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return MemoryStats{
		Hits:       c.hits,
		Misses:     c.misses,
		Evictions:  c.evictions,
		Entries:    len(c.entries),
		TotalBytes: c.totalBytes,
	}
}
