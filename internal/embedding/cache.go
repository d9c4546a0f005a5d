package embedding

import (
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// EmbeddingCache holds recent embeddings keyed by text. Safe for concurrent use.
type EmbeddingCache struct {
	cache *ristretto.Cache
}

// NewEmbeddingCache creates a cache admitting roughly capacity entries.
func NewEmbeddingCache(capacity int) (*EmbeddingCache, error) {
	if capacity <= 0 {
		capacity = 1000
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: int64(capacity) * 10,
		MaxCost:     int64(capacity),
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}
	return &EmbeddingCache{cache: c}, nil
}

// Get returns a copy of the cached embedding for key if present.
func (c *EmbeddingCache) Get(key string) ([]float32, bool) {
	v, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}
	values, ok := v.([]float32)
	if !ok {
		return nil, false
	}
	out := make([]float32, len(values))
	copy(out, values)
	return out, true
}

// Set stores a copy of value for key. Each entry costs 1.
func (c *EmbeddingCache) Set(key string, value []float32) {
	stored := make([]float32, len(value))
	copy(stored, value)
	c.cache.Set(key, stored, 1)
	c.cache.Wait()
}

// Close releases the cache's background goroutines.
func (c *EmbeddingCache) Close() {
	c.cache.Close()
}
