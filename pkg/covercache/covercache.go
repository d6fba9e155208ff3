// Package covercache implements the Cover-Art Cache (component E): a bounded
// cache keyed by image URL with a two-dimensional bound — aggregate byte size
// and a per-entry TTL — neither of which a plain count-based LRU expresses on
// its own. Grounded on the teacher's objstore/store bound-resource idioms in
// spirit only; the actual eviction order comes from
// github.com/hashicorp/golang-lru/v2, wrapped here with the byte-sum
// accumulator and timestamp bound the spec (§4.E) requires.
package covercache

import (
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	lru "github.com/hashicorp/golang-lru/v2"
)

// MaxBytes is the aggregate size bound across all cached entries (§3).
const MaxBytes = 50 * 1024 * 1024

// MaxAge is how long an entry survives after insertion (§3).
const MaxAge = 5 * time.Minute

// entry is a Cover-Art Cache Entry (§3).
type entry struct {
	buffer     []byte
	insertedAt time.Time
}

// Cache is a byte-capped, TTL-bound cache of cover art buffers keyed by
// image URL. Safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	order    *lru.Cache[string, *entry]
	sizeSum  int64
}

// New returns an empty Cache. The underlying LRU is sized generously on
// entry count (1024) since the real bound enforced here is bytes, not count.
func New() *Cache {
	order, _ := lru.New[string, *entry](1024)
	return &Cache{order: order}
}

// Get returns the cached buffer for url, refreshing its LRU position. A miss
// (absent, or present but expired) returns ok=false; an expired entry found
// on lookup is evicted immediately.
func (c *Cache) Get(url string) (buf []byte, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, found := c.order.Get(url)
	if !found {
		return nil, false
	}
	if time.Since(e.insertedAt) > MaxAge {
		c.order.Remove(url)
		c.sizeSum -= int64(len(e.buffer))
		return nil, false
	}
	return e.buffer, true
}

// Put inserts buf under url. A buffer larger than MaxBytes is rejected
// outright (never cached). Otherwise the oldest entries are evicted (by
// insertion time, oldest first) until the new entry fits within MaxBytes.
func (c *Cache) Put(url string, buf []byte) {
	size := int64(len(buf))
	if size > MaxBytes {
		slog.Warn("cover too large to cache", "url", url, "size", humanize.Bytes(uint64(size)))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, found := c.order.Peek(url); found {
		c.sizeSum -= int64(len(old.buffer))
		c.order.Remove(url)
	}

	for c.sizeSum+size > MaxBytes {
		oldestKey, oldest, found := c.oldestLocked()
		if !found {
			break
		}
		c.order.Remove(oldestKey)
		c.sizeSum -= int64(len(oldest.buffer))
	}

	c.order.Add(url, &entry{buffer: buf, insertedAt: time.Now()})
	c.sizeSum += size
	slog.Info("cover cached", "url", url, "size", humanize.Bytes(uint64(size)), "cache_total", humanize.Bytes(uint64(c.sizeSum)))
}

// oldestLocked finds the entry with the earliest insertedAt. Caller must
// hold c.mu. The hashicorp LRU doesn't expose insertion order directly once
// Get has reshuffled recency, so eviction here is by timestamp, matching the
// spec's "evict oldest" wording literally rather than by access recency.
func (c *Cache) oldestLocked() (string, *entry, bool) {
	var (
		oldestKey string
		oldest    *entry
		found     bool
	)
	for _, k := range c.order.Keys() {
		e, ok := c.order.Peek(k)
		if !ok {
			continue
		}
		if !found || e.insertedAt.Before(oldest.insertedAt) {
			oldestKey, oldest, found = k, e, true
		}
	}
	return oldestKey, oldest, found
}

// Cleanup drops every expired entry and returns the number removed.
func (c *Cache) Cleanup(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, k := range c.order.Keys() {
		e, ok := c.order.Peek(k)
		if !ok {
			continue
		}
		if now.Sub(e.insertedAt) > MaxAge {
			c.order.Remove(k)
			c.sizeSum -= int64(len(e.buffer))
			removed++
		}
	}
	return removed
}

// Size returns the current aggregate byte size across all entries.
func (c *Cache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sizeSum
}

// Len returns the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
