package knowledge

import (
	"context"
	"errors"
)

// ErrLessonNotFound is returned by Store implementations for feedback or
// supersession against an unknown lesson ID.
var ErrLessonNotFound = errors.New("knowledge: lesson not found")

// Embedder converts text to vector embeddings.
// Implementations: mock (testing), onnx (local SDK), cached (memoizing decorator).
//
// Embedding calls may be slow or hit the network; Manager and Store issue
// them outside any held lock. Failures are propagated, not retried; retry
// policy belongs to the caller.
type Embedder interface {
	// Embed converts a single text to an embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int
}

// Store is the durable lesson tier behind Manager.
// Implementations: store.Cache (disk-backed with lazy index rebuild),
// chromem.Store (in-memory, chromem-go backed).
type Store interface {
	// Ingest records a new lesson, computing its embedding via the
	// configured Embedder, and returns the stored record.
	Ingest(ctx context.Context, content string) (*Lesson, error)

	// Query returns up to k lessons ordered by descending similarity to
	// queryVector. An empty or cold store yields an empty slice, not an error.
	Query(ctx context.Context, queryVector []float32, k int) ([]*Lesson, error)

	// RecordFeedback updates the usage statistics of a lesson.
	// Statistics are persisted for future ranking refinements; current
	// ranking is similarity-only.
	RecordFeedback(lessonID string, success bool) error

	// Supersede marks oldID as logically replaced by newID. The old lesson
	// is excluded from future queries but its record is retained.
	Supersede(oldID, newID string) error

	// Close releases resources, persisting state where applicable.
	Close() error
}
