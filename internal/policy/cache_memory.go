package policy

import (
	"context"
	"sync"
	"time"

	"tutela/pkg/platform/sentinel"
)

const defaultCacheSize = 1024

// MemoryCache is the in-process DecisionCache: TTL per entry, bounded size,
// oldest entries evicted first.
type MemoryCache struct {
	mu      sync.Mutex
	maxSize int
	seq     uint64
	entries map[string]memoryCacheEntry
	order   []cacheRef
}

type memoryCacheEntry struct {
	decision  Decision
	expiresAt time.Time
	seq       uint64
}

// cacheRef pins an order slot to the entry generation it was created for,
// so overwritten keys do not evict their replacements.
type cacheRef struct {
	key string
	seq uint64
}

func NewMemoryCache(maxSize int) *MemoryCache {
	if maxSize <= 0 {
		maxSize = defaultCacheSize
	}
	return &MemoryCache{
		maxSize: maxSize,
		entries: make(map[string]memoryCacheEntry),
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) (Decision, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return Decision{}, sentinel.ErrNotFound
	}
	if time.Now().After(entry.expiresAt) {
		delete(c.entries, key)
		return Decision{}, sentinel.ErrNotFound
	}
	return entry.decision, nil
}

func (c *MemoryCache) Put(_ context.Context, key string, d Decision, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	c.entries[key] = memoryCacheEntry{
		decision:  d,
		expiresAt: time.Now().Add(ttl),
		seq:       c.seq,
	}
	c.order = append(c.order, cacheRef{key: key, seq: c.seq})

	for len(c.entries) > c.maxSize && len(c.order) > 0 {
		ref := c.order[0]
		c.order = c.order[1:]
		if entry, ok := c.entries[ref.key]; ok && entry.seq == ref.seq {
			delete(c.entries, ref.key)
		}
	}
	return nil
}
