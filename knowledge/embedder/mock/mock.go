// Package mock provides a deterministic embedder for tests: identical text
// always yields the identical unit vector, with no model or network behind it.
package mock

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/becomeliminal/knowledge-go-sdk/knowledge"
)

// Embedder generates hash-seeded pseudo-random embeddings.
type Embedder struct {
	dimensions int

	// Err, when set, is returned by every Embed call. Lets tests exercise
	// embedder-failure paths.
	Err error
}

var _ knowledge.Embedder = (*Embedder)(nil)

// New returns a mock embedder with the default 384 dimensions, matching
// all-MiniLM-L6-v2.
func New() *Embedder {
	return NewWithDimensions(384)
}

// NewWithDimensions returns a mock embedder producing vectors of the given size.
func NewWithDimensions(dim int) *Embedder {
	return &Embedder{dimensions: dim}
}

// Embed derives a unit vector from an FNV-1a hash of the text, expanded
// with an LCG. Deterministic per input.
func (m *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if m.Err != nil {
		return nil, m.Err
	}

	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	embedding := make([]float32, m.dimensions)
	for i := range embedding {
		seed = seed*6364136223846793005 + 1442695040888963407
		embedding[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}
	return normalize(embedding), nil
}

// Dimensions returns the embedding size.
func (m *Embedder) Dimensions() int {
	return m.dimensions
}

func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}

	norm = float32(math.Sqrt(float64(norm)))
	for i, v := range vec {
		vec[i] = v / norm
	}
	return vec
}
