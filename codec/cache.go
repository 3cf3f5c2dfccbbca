package codec

import (
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/gammazero/deque"

	"github.com/spooky-finn/go-marketfeed/domain"
)

// resultCache memoizes decode results for byte-identical frames, keyed by
// a content hash of the raw bytes. Bounded by capacity with LRU-style
// eviction: a hit re-pushes its key and the stale queue entry is skipped
// lazily at eviction time.
//
// Cached messages are owned by the cache; lookups return a shallow copy so
// pooled scratch recycling can never corrupt a cached result.
type resultCache struct {
	mu       sync.Mutex
	capacity int
	maxFrame int

	entries map[uint64]cacheEntry
	order   deque.Deque[orderEntry]
}

type cacheEntry struct {
	msg *domain.ParsedMessage
	gen uint64
}

type orderEntry struct {
	key uint64
	gen uint64
}

func newResultCache(capacity, maxFrame int) *resultCache {
	return &resultCache{
		capacity: capacity,
		maxFrame: maxFrame,
		entries:  make(map[uint64]cacheEntry, capacity),
	}
}

// cacheable reports whether a frame is small enough to memoize.
func (c *resultCache) cacheable(frame []byte) bool {
	return c.capacity > 0 && len(frame) <= c.maxFrame
}

func (c *resultCache) key(frame []byte) uint64 {
	return xxhash.Sum64(frame)
}

func (c *resultCache) get(key uint64) (*domain.ParsedMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}

	entry.gen++
	c.entries[key] = entry
	c.order.PushBack(orderEntry{key: key, gen: entry.gen})

	copied := *entry.msg
	return &copied, true
}

func (c *resultCache) put(key uint64, msg *domain.ParsedMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; exists {
		return
	}

	for len(c.entries) >= c.capacity {
		c.evictOldest()
	}

	c.entries[key] = cacheEntry{msg: msg, gen: 0}
	c.order.PushBack(orderEntry{key: key, gen: 0})
}

func (c *resultCache) evictOldest() {
	for c.order.Len() > 0 {
		oldest := c.order.PopFront()
		entry, ok := c.entries[oldest.key]
		if !ok || entry.gen != oldest.gen {
			// stale queue record from a later hit, skip
			continue
		}
		delete(c.entries, oldest.key)
		return
	}
}

func (c *resultCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
