package cache

import (
	"container/list"
	"fmt"
	"sync"
)

// ContractSnapshot is the retained, memoized resolution record for one
// (digest, component, operation, validation flags) composite key.
type ContractSnapshot struct {
	ResolvedDigest  string
	ComponentID     string
	OperationID     string
	ValidateOutput  bool
	Strict          bool
	DescribeHash    string
	SchemaHash      string
	InputSchema     interface{}
	OutputSchema    interface{}
	ConfigSchema    interface{}
}

// ContractCacheKey formats the composite key exactly as specified:
// "{resolved_digest}::{component_ref}::{op_id}::validate_output={bool}::strict={bool}".
func ContractCacheKey(resolvedDigest, componentRef, opID string, validateOutput, strict bool) string {
	return fmt.Sprintf("%s::%s::%s::validate_output=%t::strict=%t", resolvedDigest, componentRef, opID, validateOutput, strict)
}

// DefaultContractCacheMaxBytes is the default contract cache budget, 256 MiB.
const DefaultContractCacheMaxBytes = 256 * 1024 * 1024

// contractEstimatedBytes is a rough accounting unit for a snapshot: the
// fixed-size fields plus the length of its encoded schema material. Good
// enough for relative LRU pressure; it does not need to be exact.
func contractEstimatedBytes(s ContractSnapshot) int64 {
	base := int64(len(s.ResolvedDigest) + len(s.ComponentID) + len(s.OperationID) + len(s.DescribeHash) + len(s.SchemaHash) + 64)
	return base + estimateValueBytes(s.InputSchema) + estimateValueBytes(s.OutputSchema) + estimateValueBytes(s.ConfigSchema)
}

func estimateValueBytes(v interface{}) int64 {
	switch t := v.(type) {
	case nil:
		return 0
	case string:
		return int64(len(t))
	case map[string]interface{}:
		var total int64
		for k, val := range t {
			total += int64(len(k)) + estimateValueBytes(val)
		}
		return total
	case []interface{}:
		var total int64
		for _, item := range t {
			total += estimateValueBytes(item)
		}
		return total
	default:
		return 32
	}
}

// ContractCacheStats is a point-in-time {hits, misses, evictions, entries,
// total_bytes} snapshot of the contract cache's counters.
type ContractCacheStats struct {
	Hits       uint64
	Misses     uint64
	Evictions  uint64
	Entries    int
	TotalBytes int64
}

// ContractCache memoizes ContractSnapshots under the same LRU + byte-budget
// discipline as MemoryCache, but single-pass and without LFU protection or
// pinning.
type ContractCache struct {
	mu         sync.Mutex
	maxBytes   int64
	entries    map[string]*list.Element
	lru        *list.List
	totalBytes int64
	hits       uint64
	misses     uint64
	evictions  uint64
}

type contractNode struct {
	key      string
	snapshot ContractSnapshot
	bytes    int64
}

// NewContractCache builds a cache bounded by maxBytes (pass
// DefaultContractCacheMaxBytes, or a configured override, as the caller's
// default).
func NewContractCache(maxBytes int64) *ContractCache {
	return &ContractCache{maxBytes: maxBytes, entries: map[string]*list.Element{}, lru: list.New()}
}

// Get returns the cached snapshot, if any, bumping its LRU position.
func (c *ContractCache) Get(key string) (ContractSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		c.misses++
		return ContractSnapshot{}, false
	}
	c.hits++
	c.lru.MoveToFront(el)
	return el.Value.(*contractNode).snapshot, true
}

// Insert stores snapshot under key and evicts single-pass from the LRU
// back until the cache is at or under its byte budget.
func (c *ContractCache) Insert(key string, snapshot ContractSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		c.totalBytes -= el.Value.(*contractNode).bytes
		c.lru.Remove(el)
		delete(c.entries, key)
	}

	bytes := contractEstimatedBytes(snapshot)
	el := c.lru.PushFront(&contractNode{key: key, snapshot: snapshot, bytes: bytes})
	c.entries[key] = el
	c.totalBytes += bytes

	for c.totalBytes > c.maxBytes {
		back := c.lru.Back()
		if back == nil {
			break
		}
		node := back.Value.(*contractNode)
		c.lru.Remove(back)
		delete(c.entries, node.key)
		c.totalBytes -= node.bytes
		c.evictions++
	}
}

// Stats returns a snapshot of the cache's counters.
func (c *ContractCache) Stats() ContractCacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ContractCacheStats{
		Hits:       c.hits,
		Misses:     c.misses,
		Evictions:  c.evictions,
		Entries:    len(c.entries),
		TotalBytes: c.totalBytes,
	}
}
