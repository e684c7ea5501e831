// Package vectorindex provides exact nearest-neighbor search over
// unit-normalized embedding vectors.
package vectorindex

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
)

var (
	// ErrDimensionMismatch is returned when a vector doesn't match the index dimension.
	ErrDimensionMismatch = errors.New("vectorindex: dimension mismatch")

	// ErrInvalidVector is returned for vectors with zero norm, which have no direction.
	ErrInvalidVector = errors.New("vectorindex: zero-norm vector")
)

// Result pairs a stored ID with its cosine similarity score.
type Result struct {
	ID    string
	Score float64 // cosine similarity in [-1, 1], higher = more similar
}

// Index is a brute-force cosine similarity index.
//
// All stored vectors are unit-normalized on insert, so similarity reduces to
// a dot product. Removal tombstones an entry: it disappears from Search
// results immediately but its slot is reclaimed only when the index is
// rebuilt. Safe for concurrent use from multiple goroutines.
type Index struct {
	mu         sync.RWMutex
	dim        int
	vectors    map[string][]float32
	tombstones map[string]struct{}
}

// New creates an empty index for vectors of the given dimension.
func New(dim int) (*Index, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("vectorindex: invalid dimension %d", dim)
	}
	return &Index{
		dim:        dim,
		vectors:    make(map[string][]float32),
		tombstones: make(map[string]struct{}),
	}, nil
}

// Add inserts or replaces the vector for the given ID.
// The vector is copied and unit-normalized before storing. Re-adding a
// tombstoned ID revives it.
func (x *Index) Add(id string, vec []float32) error {
	if len(vec) != x.dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), x.dim)
	}
	normalized, err := Normalize(vec)
	if err != nil {
		return err
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	x.vectors[id] = normalized
	delete(x.tombstones, id)
	return nil
}

// Search returns up to k results ordered by descending similarity to query.
// Ties are broken by lower ID so results are deterministic. Tombstoned
// entries are excluded. An empty index yields an empty slice, not an error.
func (x *Index) Search(query []float32, k int) ([]Result, error) {
	if len(query) != x.dim {
		return nil, fmt.Errorf("%w: query has %d, want %d", ErrDimensionMismatch, len(query), x.dim)
	}
	q, err := Normalize(query)
	if err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	results := make([]Result, 0, len(x.vectors))
	for id, vec := range x.vectors {
		if _, dead := x.tombstones[id]; dead {
			continue
		}
		results = append(results, Result{ID: id, Score: dot(q, vec)})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})

	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Remove tombstones the entry for the given ID. Removing an unknown or
// already-tombstoned ID is a no-op.
func (x *Index) Remove(id string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, ok := x.vectors[id]; ok {
		x.tombstones[id] = struct{}{}
	}
}

// Len returns the number of live (non-tombstoned) entries.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.vectors) - len(x.tombstones)
}

// Dimension returns the vector dimension this index accepts.
func (x *Index) Dimension() int {
	return x.dim
}

// IDs returns the sorted IDs of all live entries.
func (x *Index) IDs() []string {
	x.mu.RLock()
	defer x.mu.RUnlock()

	ids := make([]string, 0, len(x.vectors))
	for id := range x.vectors {
		if _, dead := x.tombstones[id]; dead {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Vector returns a copy of the stored (normalized) vector for the given ID,
// or false if the ID is absent or tombstoned.
func (x *Index) Vector(id string) ([]float32, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if _, dead := x.tombstones[id]; dead {
		return nil, false
	}
	vec, ok := x.vectors[id]
	if !ok {
		return nil, false
	}
	out := make([]float32, len(vec))
	copy(out, vec)
	return out, true
}

// Normalize returns a unit-length copy of vec.
// Returns ErrInvalidVector for a zero-norm input.
func Normalize(vec []float32) ([]float32, error) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return nil, ErrInvalidVector
	}

	norm := float32(math.Sqrt(sum))
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = v / norm
	}
	return out, nil
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
