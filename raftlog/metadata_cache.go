package raftlog

import (
	"encoding/binary"
	"sync"

	"github.com/VictoriaMetrics/fastcache"
)

const metadataValueSize = 24

// LogPosition locates an entry of a durable log.
type LogPosition struct {
	// The term of the entry.
	Term int64

	// The segment the entry is stored in.
	Segment int64

	// The byte offset of the entry within its segment.
	Offset int64
}

// MetadataCache is a bounded cache of log index to entry term and position.
// Entries may be evicted at any time, a miss only means the caller has to look
// the entry up itself.
//
// This implementation is concurrent safe.
type MetadataCache struct {
	cache *fastcache.Cache

	// The range of indices that may be cached, low > high when empty.
	low  int64
	high int64

	mu sync.Mutex
}

// NewMetadataCache creates a cache that holds up to roughly maxBytes of metadata.
// Sizes below the minimum of the underlying cache are rounded up to it.
func NewMetadataCache(maxBytes int) *MetadataCache {
	if maxBytes < 1 {
		maxBytes = 1
	}
	return &MetadataCache{cache: fastcache.New(maxBytes), low: 0, high: -1}
}

// Put caches the position of the entry at index.
func (c *MetadataCache) Put(index int64, position LogPosition) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var key [8]byte
	var value [metadataValueSize]byte
	binary.BigEndian.PutUint64(key[:], uint64(index))
	binary.BigEndian.PutUint64(value[0:8], uint64(position.Term))
	binary.BigEndian.PutUint64(value[8:16], uint64(position.Segment))
	binary.BigEndian.PutUint64(value[16:24], uint64(position.Offset))
	c.cache.Set(key[:], value[:])

	if c.low > c.high {
		c.low, c.high = index, index
		return
	}
	if index < c.low {
		c.low = index
	}
	if index > c.high {
		c.high = index
	}
}

// Get returns the cached position of the entry at index.
func (c *MetadataCache) Get(index int64) (LogPosition, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if index < c.low || index > c.high {
		return LogPosition{}, false
	}
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], uint64(index))
	value, ok := c.cache.HasGet(nil, key[:])
	if !ok || len(value) != metadataValueSize {
		return LogPosition{}, false
	}
	return LogPosition{
		Term:    int64(binary.BigEndian.Uint64(value[0:8])),
		Segment: int64(binary.BigEndian.Uint64(value[8:16])),
		Offset:  int64(binary.BigEndian.Uint64(value[16:24])),
	}, true
}

// RemoveUpTo removes the entries at or before index.
func (c *MetadataCache) RemoveUpTo(index int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	end := index
	if end > c.high {
		end = c.high
	}
	c.removeRange(c.low, end)
	if index >= c.low {
		c.low = index + 1
	}
}

// RemoveUpwardsFrom removes the entries at or after index.
func (c *MetadataCache) RemoveUpwardsFrom(index int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := index
	if start < c.low {
		start = c.low
	}
	c.removeRange(start, c.high)
	if index <= c.high {
		c.high = index - 1
	}
}

// Clear removes every entry.
func (c *MetadataCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Reset()
	c.low, c.high = 0, -1
}

// Close releases the memory held by the cache.
func (c *MetadataCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Reset()
}

func (c *MetadataCache) removeRange(from, to int64) {
	var key [8]byte
	for i := from; i <= to; i++ {
		binary.BigEndian.PutUint64(key[:], uint64(i))
		c.cache.Del(key[:])
	}
}
