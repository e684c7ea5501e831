package vectorindex_test

import (
	"errors"
	"math"
	"testing"

	"github.com/becomeliminal/knowledge-go-sdk/knowledge/vectorindex"
)

func TestIndex_SelfSimilarity(t *testing.T) {
	idx, err := vectorindex.New(3)
	if err != nil {
		t.Fatalf("Failed to create index: %v", err)
	}

	vec := []float32{3, 4, 0} // not unit length; Add normalizes
	if err := idx.Add("a", vec); err != nil {
		t.Fatalf("Failed to add vector: %v", err)
	}

	results, err := idx.Search(vec, 1)
	if err != nil {
		t.Fatalf("Failed to search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Expected 1 result, got %d", len(results))
	}
	if math.Abs(results[0].Score-1.0) > 1e-6 {
		t.Errorf("Self-similarity should be ~1.0, got %f", results[0].Score)
	}
}

func TestIndex_Ordering(t *testing.T) {
	idx, err := vectorindex.New(2)
	if err != nil {
		t.Fatalf("Failed to create index: %v", err)
	}

	idx.Add("east", []float32{1, 0})
	idx.Add("north", []float32{0, 1})
	idx.Add("northeast", []float32{1, 1})

	results, err := idx.Search([]float32{1, 0.1}, 3)
	if err != nil {
		t.Fatalf("Failed to search: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(results))
	}
	if results[0].ID != "east" {
		t.Errorf("Expected east first, got %s", results[0].ID)
	}
	if results[2].ID != "north" {
		t.Errorf("Expected north last, got %s", results[2].ID)
	}
}

func TestIndex_KCapsResults(t *testing.T) {
	idx, _ := vectorindex.New(2)
	idx.Add("a", []float32{1, 0})
	idx.Add("b", []float32{0, 1})
	idx.Add("c", []float32{1, 1})

	results, err := idx.Search([]float32{1, 0}, 2)
	if err != nil {
		t.Fatalf("Failed to search: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("Expected 2 results with k=2, got %d", len(results))
	}

	results, err = idx.Search([]float32{1, 0}, 0)
	if err != nil {
		t.Fatalf("Failed to search with k=0: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("Expected no results with k=0, got %d", len(results))
	}
}

func TestIndex_TieBreakByID(t *testing.T) {
	idx, _ := vectorindex.New(2)
	// Identical vectors, identical scores
	idx.Add("zebra", []float32{1, 0})
	idx.Add("apple", []float32{1, 0})

	results, err := idx.Search([]float32{1, 0}, 2)
	if err != nil {
		t.Fatalf("Failed to search: %v", err)
	}
	if results[0].ID != "apple" || results[1].ID != "zebra" {
		t.Errorf("Expected ties broken by lower ID, got %s then %s", results[0].ID, results[1].ID)
	}
}

func TestIndex_TombstoneExcludesFromSearch(t *testing.T) {
	idx, _ := vectorindex.New(2)
	idx.Add("a", []float32{1, 0})
	idx.Add("b", []float32{0, 1})

	idx.Remove("a")

	results, err := idx.Search([]float32{1, 0}, 10)
	if err != nil {
		t.Fatalf("Failed to search: %v", err)
	}
	for _, r := range results {
		if r.ID == "a" {
			t.Error("Tombstoned entry should not appear in results")
		}
	}
	if idx.Len() != 1 {
		t.Errorf("Expected Len 1 after tombstone, got %d", idx.Len())
	}

	// Removing again is a no-op
	idx.Remove("a")
	idx.Remove("missing")
	if idx.Len() != 1 {
		t.Errorf("Expected Len unchanged after repeat removes, got %d", idx.Len())
	}
}

func TestIndex_ReviveTombstone(t *testing.T) {
	idx, _ := vectorindex.New(2)
	idx.Add("a", []float32{1, 0})
	idx.Remove("a")
	idx.Add("a", []float32{0, 1})

	if idx.Len() != 1 {
		t.Fatalf("Expected Len 1 after revive, got %d", idx.Len())
	}
	results, _ := idx.Search([]float32{0, 1}, 1)
	if len(results) != 1 || results[0].ID != "a" {
		t.Error("Re-added entry should be searchable again")
	}
}

func TestIndex_DimensionMismatch(t *testing.T) {
	idx, _ := vectorindex.New(3)

	if err := idx.Add("a", []float32{1, 0}); !errors.Is(err, vectorindex.ErrDimensionMismatch) {
		t.Errorf("Expected ErrDimensionMismatch on add, got %v", err)
	}
	if _, err := idx.Search([]float32{1, 0}, 1); !errors.Is(err, vectorindex.ErrDimensionMismatch) {
		t.Errorf("Expected ErrDimensionMismatch on search, got %v", err)
	}
}

func TestIndex_ZeroVectorRejected(t *testing.T) {
	idx, _ := vectorindex.New(2)

	if err := idx.Add("a", []float32{0, 0}); !errors.Is(err, vectorindex.ErrInvalidVector) {
		t.Errorf("Expected ErrInvalidVector on add, got %v", err)
	}
	idx.Add("b", []float32{1, 0})
	if _, err := idx.Search([]float32{0, 0}, 1); !errors.Is(err, vectorindex.ErrInvalidVector) {
		t.Errorf("Expected ErrInvalidVector on search, got %v", err)
	}
}

func TestIndex_EmptySearch(t *testing.T) {
	idx, _ := vectorindex.New(2)

	results, err := idx.Search([]float32{1, 0}, 5)
	if err != nil {
		t.Fatalf("Empty index search should not error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("Expected no results from empty index, got %d", len(results))
	}
}

func TestIndex_IDsAndVectorCopy(t *testing.T) {
	idx, _ := vectorindex.New(2)
	idx.Add("b", []float32{1, 0})
	idx.Add("a", []float32{0, 1})
	idx.Remove("b")

	ids := idx.IDs()
	if len(ids) != 1 || ids[0] != "a" {
		t.Errorf("Expected live IDs [a], got %v", ids)
	}

	vec, ok := idx.Vector("a")
	if !ok {
		t.Fatal("Expected vector for live entry")
	}
	vec[0] = 99 // mutating the copy must not affect the index
	vec2, _ := idx.Vector("a")
	if vec2[0] == 99 {
		t.Error("Vector should return a copy, not the stored slice")
	}

	if _, ok := idx.Vector("b"); ok {
		t.Error("Tombstoned entry should not be readable")
	}
}

func TestNormalize(t *testing.T) {
	out, err := vectorindex.Normalize([]float32{3, 4})
	if err != nil {
		t.Fatalf("Failed to normalize: %v", err)
	}
	var norm float64
	for _, v := range out {
		norm += float64(v) * float64(v)
	}
	if math.Abs(norm-1.0) > 1e-6 {
		t.Errorf("Expected unit norm, got %f", norm)
	}

	if _, err := vectorindex.Normalize([]float32{0, 0}); !errors.Is(err, vectorindex.ErrInvalidVector) {
		t.Errorf("Expected ErrInvalidVector for zero vector, got %v", err)
	}
}
