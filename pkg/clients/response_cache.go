// Package clients provides time-boxed response memoization for API clients
package clients

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// CacheEntry holds one memoized response body.
type CacheEntry struct {
	Key       string
	Value     []byte
	StoredAt  time.Time
	ExpiresAt time.Time
}

// ResponseCache memoizes idempotent responses for a bounded time. Entries
// past their TTL are treated as absent and dropped on read. When the cache is
// at capacity the oldest-inserted entry is evicted first; insertion-order
// eviction keeps the behavior deterministic under test.
type ResponseCache struct {
	maxEntries int

	entries map[string]*list.Element
	order   *list.List // front = oldest inserted

	hits   int64
	misses int64

	mu sync.Mutex
}

// NewResponseCache creates a cache bounded to maxEntries.
func NewResponseCache(maxEntries int) *ResponseCache {
	return &ResponseCache{
		maxEntries: maxEntries,
		entries:    make(map[string]*list.Element),
		order:      list.New(),
	}
}

// Get returns the cached value for key, or nil and false when the key is
// absent or expired. Expired entries are removed lazily here.
func (c *ResponseCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}

	entry := elem.Value.(*CacheEntry)
	if time.Now().After(entry.ExpiresAt) {
		c.order.Remove(elem)
		delete(c.entries, key)
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}

	atomic.AddInt64(&c.hits, 1)
	return entry.Value, true
}

// Put stores value under key with the given ttl, evicting the oldest-inserted
// entry when at capacity. Re-putting an existing key refreshes its value and
// TTL without changing its insertion position.
func (c *ResponseCache) Put(key string, value []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()

	if elem, ok := c.entries[key]; ok {
		entry := elem.Value.(*CacheEntry)
		entry.Value = value
		entry.StoredAt = now
		entry.ExpiresAt = now.Add(ttl)
		return
	}

	if c.order.Len() >= c.maxEntries {
		oldest := c.order.Front()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*CacheEntry).Key)
		}
	}

	entry := &CacheEntry{
		Key:       key,
		Value:     value,
		StoredAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	c.entries[key] = c.order.PushBack(entry)
}

// Len returns the number of entries currently held, including any not yet
// lazily expired.
func (c *ResponseCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// GetStats returns cache hit/miss counters.
func (c *ResponseCache) GetStats() CacheStats {
	return CacheStats{
		Hits:   atomic.LoadInt64(&c.hits),
		Misses: atomic.LoadInt64(&c.misses),
	}
}

// CacheStats represents cache effectiveness counters
type CacheStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// CacheKey derives a deterministic key from the request's method, URL, and
// sorted query parameters. Header values that vary run to run (auth tokens,
// contact headers) are deliberately excluded so identical logical requests
// share one entry.
func CacheKey(method, url string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(method)
	b.WriteByte('\n')
	b.WriteString(url)
	for _, k := range keys {
		b.WriteByte('\n')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
