// Package cached wraps an embedder with a ristretto-backed memoization
// layer. Embedding is the expensive step of every lookup; repeated task
// descriptions skip the model entirely.
package cached

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/dgraph-io/ristretto"

	"github.com/becomeliminal/knowledge-go-sdk/knowledge"
)

// Embedder memoizes another Embedder's results. Safe for concurrent use.
type Embedder struct {
	inner knowledge.Embedder
	cache *ristretto.Cache
}

var _ knowledge.Embedder = (*Embedder)(nil)

// New wraps inner with a cache holding up to maxEntries embeddings.
func New(inner knowledge.Embedder, maxEntries int64) (*Embedder, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("cached: create cache: %w", err)
	}
	return &Embedder{inner: inner, cache: cache}, nil
}

// Embed returns the cached vector for text, embedding through the inner
// embedder on a miss. Errors are never cached. Returned slices are copies;
// callers may mutate them.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(text)
	if v, ok := e.cache.Get(key); ok {
		if vec, ok := v.([]float32); ok {
			out := make([]float32, len(vec))
			copy(out, vec)
			return out, nil
		}
	}

	vec, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	stored := make([]float32, len(vec))
	copy(stored, vec)
	e.cache.Set(key, stored, 1)
	return vec, nil
}

// Dimensions returns the inner embedder's dimension.
func (e *Embedder) Dimensions() int {
	return e.inner.Dimensions()
}

// Wait blocks until pending cache writes are visible. Intended for tests;
// ristretto applies Set calls asynchronously.
func (e *Embedder) Wait() {
	e.cache.Wait()
}

// Close releases the cache's resources.
func (e *Embedder) Close() {
	e.cache.Close()
}

func cacheKey(text string) string {
	h := fnv.New64a()
	h.Write([]byte(text))
	return fmt.Sprintf("%016x", h.Sum64())
}
