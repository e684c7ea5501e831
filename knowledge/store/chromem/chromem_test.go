package chromem_test

import (
	"context"
	"errors"
	"testing"

	"github.com/becomeliminal/knowledge-go-sdk/knowledge"
	"github.com/becomeliminal/knowledge-go-sdk/knowledge/embedder/mock"
	"github.com/becomeliminal/knowledge-go-sdk/knowledge/store/chromem"
)

const testDims = 16

func newTestStore(t *testing.T) (*chromem.Store, knowledge.Embedder) {
	t.Helper()

	embedder := mock.NewWithDimensions(testDims)
	s, err := chromem.New(embedder)
	if err != nil {
		t.Fatalf("Failed to create chromem store: %v", err)
	}
	return s, embedder
}

func embed(t *testing.T, e knowledge.Embedder, text string) []float32 {
	t.Helper()

	vec, err := e.Embed(context.Background(), text)
	if err != nil {
		t.Fatalf("Failed to embed: %v", err)
	}
	return vec
}

func TestChromem_IngestAndQuery(t *testing.T) {
	ctx := context.Background()
	s, e := newTestStore(t)

	lesson, err := s.Ingest(ctx, "prefer context timeouts over manual timers")
	if err != nil {
		t.Fatalf("Failed to ingest: %v", err)
	}
	s.Ingest(ctx, "unrelated advice about naming")

	results, err := s.Query(ctx, embed(t, e, "prefer context timeouts over manual timers"), 1)
	if err != nil {
		t.Fatalf("Failed to query: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Expected 1 result, got %d", len(results))
	}
	if results[0].ID != lesson.ID {
		t.Errorf("Expected exact-match lesson, got %s", results[0].ID)
	}
}

func TestChromem_EmptyQuery(t *testing.T) {
	s, e := newTestStore(t)

	results, err := s.Query(context.Background(), embed(t, e, "anything"), 5)
	if err != nil {
		t.Fatalf("Empty store query should not error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("Expected no results, got %d", len(results))
	}
}

func TestChromem_KLargerThanCollection(t *testing.T) {
	ctx := context.Background()
	s, e := newTestStore(t)

	s.Ingest(ctx, "only lesson")

	// chromem rejects nResults > collection size; the store retries smaller.
	results, err := s.Query(ctx, embed(t, e, "only lesson"), 10)
	if err != nil {
		t.Fatalf("Failed to query with large k: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("Expected 1 result, got %d", len(results))
	}
}

func TestChromem_Feedback(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	lesson, _ := s.Ingest(ctx, "a lesson")
	s.RecordFeedback(lesson.ID, true)
	s.RecordFeedback(lesson.ID, false)

	if lesson.UsageCount != 2 {
		t.Errorf("Expected usage count 2, got %d", lesson.UsageCount)
	}
	if lesson.SuccessRate != 0.5 {
		t.Errorf("Expected success rate 0.5, got %f", lesson.SuccessRate)
	}

	if err := s.RecordFeedback("missing", true); !errors.Is(err, knowledge.ErrLessonNotFound) {
		t.Errorf("Expected ErrLessonNotFound, got %v", err)
	}
}

func TestChromem_SupersedeExcludesFromQuery(t *testing.T) {
	ctx := context.Background()
	s, e := newTestStore(t)

	old, _ := s.Ingest(ctx, "buffer writes in memory")
	newer, _ := s.Ingest(ctx, "stream writes to disk")

	if err := s.Supersede(old.ID, newer.ID); err != nil {
		t.Fatalf("Failed to supersede: %v", err)
	}
	if s.Len() != 1 {
		t.Errorf("Expected 1 live lesson, got %d", s.Len())
	}

	results, err := s.Query(ctx, embed(t, e, "buffer writes in memory"), 5)
	if err != nil {
		t.Fatalf("Failed to query: %v", err)
	}
	for _, l := range results {
		if l.ID == old.ID {
			t.Error("Superseded lesson should not appear in query results")
		}
	}
}

func TestChromem_EmbedderFailurePropagates(t *testing.T) {
	embedder := mock.NewWithDimensions(testDims)
	s, err := chromem.New(embedder)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	embedErr := errors.New("model offline")
	embedder.Err = embedErr
	if _, err := s.Ingest(context.Background(), "doomed"); !errors.Is(err, embedErr) {
		t.Errorf("Expected embedder error propagated, got %v", err)
	}
}
