package knowledge

import (
	"context"
	"fmt"
	"hash/fnv"
	"log"
	"strings"
	"time"

	"github.com/becomeliminal/knowledge-go-sdk/knowledge/session"
)

// InstrumentFunc receives the outcome of a Manager operation: the operation
// name ("lookup.session", "lookup.store", "lookup.miss", "feedback") and
// how long it took. Callbacks run synchronously on the calling goroutine.
type InstrumentFunc func(op string, d time.Duration)

// Option configures a Manager.
type Option func(*Manager)

// WithInstrumentation installs a callback invoked after each operation.
func WithInstrumentation(fn InstrumentFunc) Option {
	return func(m *Manager) {
		m.instrument = fn
	}
}

// WithSessionCache replaces the default session cache, for custom capacity
// or TTL settings.
func WithSessionCache(c *session.Cache) Option {
	return func(m *Manager) {
		m.session = c
	}
}

// Manager routes lookups between the session cache and the durable store.
//
// A lookup first consults the session cache by task signature; on a miss it
// queries the store and caches the result, empty results as negative
// entries with a TTL. Feedback goes straight to the store.
type Manager struct {
	store      Store
	session    *session.Cache
	instrument InstrumentFunc
}

// NewManager wraps a Store with session caching.
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		session: session.New(nil),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Signature derives the session cache key for a task description:
// lowercased, whitespace-collapsed, then FNV-1a hashed. Descriptions that
// differ only in case or spacing share a key.
func Signature(taskText string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(taskText)), " ")
	h := fnv.New64a()
	h.Write([]byte(normalized))
	return fmt.Sprintf("%016x", h.Sum64())
}

// Lookup returns up to k lessons relevant to the task, cheapest tier first.
// The caller supplies the query embedding so the Manager never blocks on an
// embedder; PackStore handles embedding for callers that don't.
func (m *Manager) Lookup(ctx context.Context, taskText string, queryVector []float32, k int) ([]session.LessonRef, error) {
	start := time.Now()
	sig := Signature(taskText)

	if refs, ok := m.session.Get(sig); ok {
		m.report("lookup.session", start)
		return refs, nil
	}

	lessons, err := m.store.Query(ctx, queryVector, k)
	if err != nil {
		return nil, fmt.Errorf("knowledge: store query: %w", err)
	}

	if len(lessons) == 0 {
		m.session.PutNegative(sig)
		m.report("lookup.miss", start)
		return nil, nil
	}

	refs := make([]session.LessonRef, len(lessons))
	for i, l := range lessons {
		refs[i] = session.LessonRef{ID: l.ID, Content: l.Content}
	}
	m.session.Put(sig, refs)
	m.report("lookup.store", start)
	return refs, nil
}

// RecordFeedback forwards a success or failure signal to the store.
func (m *Manager) RecordFeedback(lessonID string, success bool) error {
	start := time.Now()
	if err := m.store.RecordFeedback(lessonID, success); err != nil {
		return err
	}
	m.report("feedback", start)
	return nil
}

// Invalidate drops the session entry for a task, forcing the next lookup
// for it back to the store. Ingesting a lesson for a known task should be
// followed by this so the new lesson is visible immediately.
func (m *Manager) Invalidate(taskText string) {
	m.session.Invalidate(Signature(taskText))
}

func (m *Manager) report(op string, start time.Time) {
	if m.instrument == nil {
		return
	}
	m.instrument(op, time.Since(start))
}

// LogInstrumentation is an InstrumentFunc that writes each operation to the
// standard logger.
func LogInstrumentation(op string, d time.Duration) {
	log.Printf("[KNOWLEDGE] %s took %s", op, d.Round(time.Microsecond))
}
