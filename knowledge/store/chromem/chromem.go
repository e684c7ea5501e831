// Package chromem implements the lesson store on chromem-go, a pure Go
// embedded vector database. State is in-memory only; it suits processes
// that rebuild their knowledge per run or persist it elsewhere.
package chromem

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"

	"github.com/becomeliminal/knowledge-go-sdk/knowledge"
)

// Store keeps lessons in a single chromem collection. chromem-go has no
// document delete or update, so lesson stats and supersession live in a
// side map and superseded lessons are filtered out at query time.
type Store struct {
	mu       sync.RWMutex
	col      *chromem.Collection
	lessons  map[string]*knowledge.Lesson
	embedder knowledge.Embedder
}

var _ knowledge.Store = (*Store)(nil)

// New creates an empty chromem-backed store.
func New(embedder knowledge.Embedder) (*Store, error) {
	if embedder == nil {
		return nil, fmt.Errorf("chromem: embedder is required")
	}

	db := chromem.NewDB()
	// We supply embeddings ourselves and keep the default cosine distance.
	col, err := db.CreateCollection("lessons", nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem: create collection: %w", err)
	}

	return &Store{
		col:      col,
		lessons:  make(map[string]*knowledge.Lesson),
		embedder: embedder,
	}, nil
}

// Ingest embeds the content and adds it as a new lesson document.
func (s *Store) Ingest(ctx context.Context, content string) (*knowledge.Lesson, error) {
	vec, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("chromem: embed lesson: %w", err)
	}

	lesson := &knowledge.Lesson{
		ID:        uuid.New().String(),
		Content:   content,
		Embedding: vec,
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc := chromem.Document{
		ID:        lesson.ID,
		Content:   content,
		Embedding: vec,
		Metadata: map[string]string{
			"created_at": lesson.CreatedAt.Format(time.RFC3339),
		},
	}
	if err := s.col.AddDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("chromem: add document: %w", err)
	}

	s.lessons[lesson.ID] = lesson
	return lesson, nil
}

// Query returns up to k live lessons by similarity. Over-fetches to leave
// room for superseded documents, which chromem can't remove.
func (s *Store) Query(ctx context.Context, queryVector []float32, k int) ([]*knowledge.Lesson, error) {
	if k <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	superseded := 0
	for _, l := range s.lessons {
		if l.Superseded() {
			superseded++
		}
	}

	// chromem-go requires nResults <= collection size; retry with smaller
	// limits until one fits.
	var results []chromem.Result
	for limit := k + superseded; limit >= 1; limit-- {
		var err error
		results, err = s.col.QueryEmbedding(ctx, queryVector, limit, nil, nil)
		if err == nil {
			break
		}
		if isInsufficientDocsError(err) {
			if limit == 1 {
				return nil, nil
			}
			continue
		}
		return nil, fmt.Errorf("chromem: query: %w", err)
	}

	lessons := make([]*knowledge.Lesson, 0, k)
	for _, r := range results {
		l, ok := s.lessons[r.ID]
		if !ok {
			log.Printf("[CHROMEM] skipping unknown document %s", r.ID)
			continue
		}
		if l.Superseded() {
			continue
		}
		lessons = append(lessons, l)
		if len(lessons) == k {
			break
		}
	}
	return lessons, nil
}

// RecordFeedback updates a lesson's usage count and running success rate.
func (s *Store) RecordFeedback(lessonID string, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.lessons[lessonID]
	if !ok {
		return fmt.Errorf("chromem: feedback for %s: %w", lessonID, knowledge.ErrLessonNotFound)
	}

	outcome := 0.0
	if success {
		outcome = 1.0
	}
	l.SuccessRate = (l.SuccessRate*float64(l.UsageCount) + outcome) / float64(l.UsageCount+1)
	l.UsageCount++
	return nil
}

// Supersede marks oldID as replaced by newID. The document stays in the
// collection but queries skip it.
func (s *Store) Supersede(oldID, newID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.lessons[oldID]
	if !ok {
		return fmt.Errorf("chromem: supersede %s: %w", oldID, knowledge.ErrLessonNotFound)
	}
	if _, ok := s.lessons[newID]; !ok {
		return fmt.Errorf("chromem: supersede by %s: %w", newID, knowledge.ErrLessonNotFound)
	}
	old.SupersededBy = newID
	return nil
}

// Len returns the number of live lessons.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, l := range s.lessons {
		if !l.Superseded() {
			n++
		}
	}
	return n
}

// Close releases resources. chromem keeps everything in memory; nothing to
// flush.
func (s *Store) Close() error {
	return nil
}

func isInsufficientDocsError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "nResults must be") || strings.Contains(msg, "number of documents")
}
