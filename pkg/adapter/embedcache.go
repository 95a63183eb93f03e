package adapter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memoria/pkg/interfaces"
)

const (
	defaultEmbeddingCacheTTL     = 24 * time.Hour
	defaultEmbeddingCacheEntries = 10000
)

// EmbeddingCache memoizes an Embedder by content hash. Recall and plan paths
// embed the same query text repeatedly within a session.
type EmbeddingCache struct {
	next  interfaces.Embedder
	cache *ristretto.Cache
	ttl   time.Duration
}

var _ interfaces.Embedder = (*EmbeddingCache)(nil)

type EmbeddingCacheOption func(*embeddingCacheConfig)

type embeddingCacheConfig struct {
	ttl        time.Duration
	maxEntries int64
}

func WithCacheTTL(ttl time.Duration) EmbeddingCacheOption {
	return func(c *embeddingCacheConfig) {
		c.ttl = ttl
	}
}

func WithCacheEntries(n int64) EmbeddingCacheOption {
	return func(c *embeddingCacheConfig) {
		c.maxEntries = n
	}
}

func NewEmbeddingCache(next interfaces.Embedder, opts ...EmbeddingCacheOption) (*EmbeddingCache, error) {
	cfg := embeddingCacheConfig{
		ttl:        defaultEmbeddingCacheTTL,
		maxEntries: defaultEmbeddingCacheEntries,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	// Each entry costs 1, so MaxCost bounds the number of vectors
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.maxEntries * 10,
		MaxCost:     cfg.maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create embedding cache")
	}

	return &EmbeddingCache{
		next:  next,
		cache: cache,
		ttl:   cfg.ttl,
	}, nil
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func (x *EmbeddingCache) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(text)
	if v, ok := x.cache.Get(key); ok {
		if vector, ok := v.([]float32); ok {
			return slices.Clone(vector), nil
		}
	}

	vector, err := x.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	x.cache.SetWithTTL(key, slices.Clone(vector), 1, x.ttl)
	return vector, nil
}

// Wait blocks until pending writes are visible to Get
func (x *EmbeddingCache) Wait() {
	x.cache.Wait()
}

func (x *EmbeddingCache) Close() {
	x.cache.Close()
}
