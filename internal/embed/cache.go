package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache keeps recent embeddings keyed by content hash.
type Cache struct {
	cache *lru.Cache[string, []float32]
}

// NewCache creates an embedding cache with LRU eviction.
func NewCache(maxLen int) *Cache {
	if maxLen <= 0 {
		maxLen = 4096
	}
	cache, err := lru.New[string, []float32](maxLen)
	if err != nil {
		cache, _ = lru.New[string, []float32](4096)
	}
	return &Cache{cache: cache}
}

// Wrap returns fn with lookups served from the cache. Errors are not cached.
func (c *Cache) Wrap(fn Func) Func {
	return func(ctx context.Context, text string) ([]float32, error) {
		key := hashText(text)
		if v, ok := c.cache.Get(key); ok {
			return append([]float32(nil), v...), nil
		}
		v, err := fn(ctx, text)
		if err != nil {
			return nil, err
		}
		c.cache.Add(key, append([]float32(nil), v...))
		return v, nil
	}
}

// Len returns the number of cached embeddings.
func (c *Cache) Len() int {
	return c.cache.Len()
}

func hashText(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}
