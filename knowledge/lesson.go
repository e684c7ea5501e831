package knowledge

import (
	"time"
)

// Lesson is a single cached knowledge snippet.
//
// Embeddings are derived data and are not serialized with the lesson; they
// are stored separately by the index and recomputed on rebuild.
type Lesson struct {
	ID      string `json:"id"`
	Content string `json:"content"`

	Embedding []float32 `json:"-"`

	CreatedAt    time.Time `json:"created_at"`
	UsageCount   int       `json:"usage_count"`
	SuccessRate  float64   `json:"success_rate"`
	SupersededBy string    `json:"superseded_by,omitempty"`
}

// Superseded reports whether this lesson has been replaced by a newer one.
func (l *Lesson) Superseded() bool {
	return l.SupersededBy != ""
}
