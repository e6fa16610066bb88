// Package cache provides a bounded query-embedding cache.
//
// Repeated or near-identical queries within a session window skip the
// embedding provider entirely. The cache is owned by the engine instance that
// creates it, not process-global, so sessions stay isolated and tests stay
// clean. Entries are derived state: dropping the whole cache is always safe.
package cache

import (
	"context"
	"strings"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// maxKeyRunes caps the normalized key length so key size stays constant
// regardless of query length.
const maxKeyRunes = 256

// ComputeFunc produces an embedding on cache miss.
type ComputeFunc func(ctx context.Context, text string) ([]float32, error)

// QueryCache is a bounded LRU cache of normalized query text to embedding.
// Safe for concurrent use by multiple in-flight searches.
type QueryCache struct {
	entries *lru.Cache[string, []float32]
	hits    atomic.Uint64
	misses  atomic.Uint64
}

// New creates a QueryCache holding at most size entries. Size must be
// positive.
func New(size int) (*QueryCache, error) {
	entries, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, err
	}
	return &QueryCache{entries: entries}, nil
}

// GetOrCompute returns the cached embedding for text, or computes and caches
// it. The oldest entry is evicted when the cache is at capacity.
func (c *QueryCache) GetOrCompute(ctx context.Context, text string, compute ComputeFunc) ([]float32, error) {
	key := Normalize(text)

	if embedding, ok := c.entries.Get(key); ok {
		c.hits.Add(1)
		return embedding, nil
	}
	c.misses.Add(1)

	embedding, err := compute(ctx, text)
	if err != nil {
		return nil, err
	}

	c.entries.Add(key, embedding)
	return embedding, nil
}

// Hits returns the number of cache hits.
func (c *QueryCache) Hits() uint64 {
	return c.hits.Load()
}

// Misses returns the number of cache misses.
func (c *QueryCache) Misses() uint64 {
	return c.misses.Load()
}

// Len returns the number of cached entries.
func (c *QueryCache) Len() int {
	return c.entries.Len()
}

// Purge drops all entries.
func (c *QueryCache) Purge() {
	c.entries.Purge()
}

// Normalize produces the cache key for a query: trimmed, case-folded, and
// truncated to a bounded prefix.
func Normalize(text string) string {
	key := strings.ToLower(strings.TrimSpace(text))
	runes := []rune(key)
	if len(runes) > maxKeyRunes {
		key = string(runes[:maxKeyRunes])
	}
	return key
}
