// Package store implements the durable lesson tier: lesson records and a
// vector index persisted through a storage backend, with checksum-based
// staleness detection and automatic index rebuild from lesson content.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/becomeliminal/knowledge-go-sdk/knowledge"
	"github.com/becomeliminal/knowledge-go-sdk/knowledge/storage"
	"github.com/becomeliminal/knowledge-go-sdk/knowledge/vectorindex"
)

const (
	lessonsKey = "lessons.json"
	indexKey   = "index.json"

	lessonsTmpKey = "lessons.json.tmp"
	indexTmpKey   = "index.json.tmp"
)

// Config configures a persistent lesson store.
type Config struct {
	// Backend is the durable medium. Required.
	Backend storage.Backend

	// Embedder computes lesson embeddings on ingest and rebuild. Required.
	Embedder knowledge.Embedder

	// NonBlockingQueries makes Query return an empty result instead of
	// waiting while an index rebuild is in progress.
	NonBlockingQueries bool
}

// lessonsFile is the serialized form of the lesson records.
type lessonsFile struct {
	Lessons []*knowledge.Lesson `json:"lessons"`
}

// indexFile is the serialized form of the vector index plus the checksum
// tying it to the lesson records it was built from.
type indexFile struct {
	Dimension int                  `json:"dimension"`
	Checksum  string               `json:"checksum"`
	Vectors   map[string][]float32 `json:"vectors"`
}

// Cache is a disk-backed lesson store.
//
// Lesson records are authoritative; the vector index is derived and is
// rebuilt from lesson content whenever it is missing, unreadable, or its
// checksum doesn't match the records. A rebuild holds the store lock for
// its full duration, so queries either wait or, with NonBlockingQueries,
// return empty.
type Cache struct {
	mu       sync.RWMutex
	cfg      Config
	lessons  map[string]*knowledge.Lesson
	index    *vectorindex.Index
	embedder knowledge.Embedder

	rebuilding atomic.Bool
}

var _ knowledge.Store = (*Cache)(nil)

// Open loads the persisted state from the backend and returns a ready
// store. A missing, unreadable, or corrupt persisted state degrades to a
// cold start or a rebuild; Open fails only on invalid configuration.
func Open(cfg Config) (*Cache, error) {
	if cfg.Backend == nil {
		return nil, errors.New("store: Config.Backend is required")
	}
	if cfg.Embedder == nil {
		return nil, errors.New("store: Config.Embedder is required")
	}
	if cfg.Embedder.Dimensions() <= 0 {
		return nil, fmt.Errorf("store: embedder reports invalid dimension %d", cfg.Embedder.Dimensions())
	}

	c := &Cache{
		cfg:      cfg,
		lessons:  make(map[string]*knowledge.Lesson),
		embedder: cfg.Embedder,
	}
	c.load()
	return c, nil
}

// load reads persisted state into memory. Never fails: any problem with
// the persisted data is logged and handled by cold start or rebuild.
func (c *Cache) load() {
	c.mu.Lock()
	defer c.mu.Unlock()

	dim := c.embedder.Dimensions()

	data, err := c.cfg.Backend.Read(lessonsKey)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		log.Printf("[STORE] no persisted lessons, starting cold")
		c.index, _ = vectorindex.New(dim)
		return
	case err != nil:
		log.Printf("[STORE] failed to read lessons (%v), starting cold", err)
		c.index, _ = vectorindex.New(dim)
		return
	}

	var lf lessonsFile
	if err := json.Unmarshal(data, &lf); err != nil {
		log.Printf("[STORE] corrupt lesson records (%v), starting cold", err)
		c.index, _ = vectorindex.New(dim)
		return
	}
	for _, l := range lf.Lessons {
		c.lessons[l.ID] = l
	}

	if idx := c.loadIndex(dim); idx != nil {
		c.index = idx
		log.Printf("[STORE] loaded %d lessons, index has %d entries", len(c.lessons), idx.Len())
		return
	}
	c.rebuildLocked(dim)
}

// loadIndex reads and validates the persisted index. Returns nil when the
// index is absent, unreadable, dimensionally wrong, or stale relative to
// the lesson records; the caller rebuilds in that case.
func (c *Cache) loadIndex(dim int) *vectorindex.Index {
	data, err := c.cfg.Backend.Read(indexKey)
	if err != nil {
		log.Printf("[STORE] index unavailable (%v), rebuilding", err)
		return nil
	}

	var f indexFile
	if err := json.Unmarshal(data, &f); err != nil {
		log.Printf("[STORE] corrupt index (%v), rebuilding", err)
		return nil
	}
	if f.Dimension != dim {
		log.Printf("[STORE] index dimension %d doesn't match embedder %d, rebuilding", f.Dimension, dim)
		return nil
	}
	if got, want := f.Checksum, c.checksumLocked(); got != want {
		log.Printf("[STORE] index checksum %s doesn't match records %s, rebuilding", got, want)
		return nil
	}

	idx, err := vectorindex.New(dim)
	if err != nil {
		return nil
	}
	for id, vec := range f.Vectors {
		if _, ok := c.lessons[id]; !ok {
			continue
		}
		if err := idx.Add(id, vec); err != nil {
			log.Printf("[STORE] bad persisted vector for %s (%v), rebuilding", id, err)
			return nil
		}
	}
	return idx
}

// rebuildLocked re-embeds every live lesson into a fresh index and persists
// the result. Lessons whose embedding fails are logged and skipped; they
// stay in the records and are picked up by the next rebuild. Caller holds
// c.mu for writing.
func (c *Cache) rebuildLocked(dim int) {
	c.rebuilding.Store(true)
	defer c.rebuilding.Store(false)

	start := time.Now()
	idx, err := vectorindex.New(dim)
	if err != nil {
		return
	}

	skipped := 0
	for _, l := range c.lessons {
		if l.Superseded() {
			continue
		}
		vec, err := c.embedder.Embed(context.Background(), l.Content)
		if err != nil {
			log.Printf("[STORE] rebuild: embed lesson %s failed: %v", l.ID, err)
			skipped++
			continue
		}
		if err := idx.Add(l.ID, vec); err != nil {
			log.Printf("[STORE] rebuild: index lesson %s failed: %v", l.ID, err)
			skipped++
			continue
		}
	}
	c.index = idx

	if err := c.saveLocked(); err != nil {
		log.Printf("[STORE] rebuild: persist failed: %v", err)
	}
	log.Printf("[STORE] rebuilt index with %d entries (%d skipped) in %s",
		idx.Len(), skipped, time.Since(start).Round(time.Millisecond))
}

// checksumLocked computes the staleness checksum over the current lesson
// records: live lesson count plus an FNV-1a hash of the sorted live IDs.
// Caller holds c.mu.
func (c *Cache) checksumLocked() string {
	ids := make([]string, 0, len(c.lessons))
	for id, l := range c.lessons {
		if l.Superseded() {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	h := fnv.New64a()
	for _, id := range ids {
		h.Write([]byte(id))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%d-%016x", len(ids), h.Sum64())
}

// Ingest records a new lesson. The embedding is computed before taking the
// store lock; an embedder failure leaves the store unchanged.
func (c *Cache) Ingest(ctx context.Context, content string) (*knowledge.Lesson, error) {
	vec, err := c.embedder.Embed(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("store: embed lesson: %w", err)
	}

	lesson := &knowledge.Lesson{
		ID:        uuid.New().String(),
		Content:   content,
		Embedding: vec,
		CreatedAt: time.Now().UTC(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.index.Add(lesson.ID, vec); err != nil {
		return nil, fmt.Errorf("store: index lesson: %w", err)
	}
	c.lessons[lesson.ID] = lesson

	if err := c.saveLocked(); err != nil {
		log.Printf("[STORE] persist after ingest failed: %v", err)
	}
	return lesson, nil
}

// Query returns up to k lessons by descending similarity to queryVector.
// With NonBlockingQueries set, a query arriving during a rebuild returns
// empty instead of waiting for the lock.
func (c *Cache) Query(ctx context.Context, queryVector []float32, k int) ([]*knowledge.Lesson, error) {
	if c.cfg.NonBlockingQueries && c.rebuilding.Load() {
		return nil, nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	results, err := c.index.Search(queryVector, k)
	if err != nil {
		return nil, fmt.Errorf("store: search: %w", err)
	}

	lessons := make([]*knowledge.Lesson, 0, len(results))
	for _, r := range results {
		if l, ok := c.lessons[r.ID]; ok {
			lessons = append(lessons, l)
		}
	}
	return lessons, nil
}

// RecordFeedback updates a lesson's usage count and running success rate,
// then persists.
func (c *Cache) RecordFeedback(lessonID string, success bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.lessons[lessonID]
	if !ok {
		return fmt.Errorf("store: feedback for %s: %w", lessonID, knowledge.ErrLessonNotFound)
	}

	outcome := 0.0
	if success {
		outcome = 1.0
	}
	l.SuccessRate = (l.SuccessRate*float64(l.UsageCount) + outcome) / float64(l.UsageCount+1)
	l.UsageCount++

	if err := c.saveLocked(); err != nil {
		log.Printf("[STORE] persist after feedback failed: %v", err)
	}
	return nil
}

// Supersede marks oldID as replaced by newID and removes it from the index.
// The record is kept with a back-reference to its replacement.
func (c *Cache) Supersede(oldID, newID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	old, ok := c.lessons[oldID]
	if !ok {
		return fmt.Errorf("store: supersede %s: %w", oldID, knowledge.ErrLessonNotFound)
	}
	if _, ok := c.lessons[newID]; !ok {
		return fmt.Errorf("store: supersede by %s: %w", newID, knowledge.ErrLessonNotFound)
	}

	old.SupersededBy = newID
	c.index.Remove(oldID)

	if err := c.saveLocked(); err != nil {
		log.Printf("[STORE] persist after supersede failed: %v", err)
	}
	return nil
}

// Get returns the lesson record for id, superseded or not.
func (c *Cache) Get(id string) (*knowledge.Lesson, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	l, ok := c.lessons[id]
	return l, ok
}

// Len returns the number of live (non-superseded) lessons.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := 0
	for _, l := range c.lessons {
		if !l.Superseded() {
			n++
		}
	}
	return n
}

// Save persists the current state to the backend.
func (c *Cache) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveLocked()
}

// saveLocked writes lesson records and index to temp keys, then renames the
// index before the records. A crash between the renames leaves a checksum
// mismatch, which the next load resolves by rebuilding. Caller holds c.mu.
func (c *Cache) saveLocked() error {
	lessons := make([]*knowledge.Lesson, 0, len(c.lessons))
	for _, l := range c.lessons {
		lessons = append(lessons, l)
	}
	sort.Slice(lessons, func(i, j int) bool { return lessons[i].ID < lessons[j].ID })

	lessonData, err := json.MarshalIndent(lessonsFile{Lessons: lessons}, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal lessons: %w", err)
	}

	vectors := make(map[string][]float32, c.index.Len())
	for _, id := range c.index.IDs() {
		if vec, ok := c.index.Vector(id); ok {
			vectors[id] = vec
		}
	}
	indexData, err := json.Marshal(indexFile{
		Dimension: c.index.Dimension(),
		Checksum:  c.checksumLocked(),
		Vectors:   vectors,
	})
	if err != nil {
		return fmt.Errorf("store: marshal index: %w", err)
	}

	if err := c.cfg.Backend.Write(lessonsTmpKey, lessonData); err != nil {
		return fmt.Errorf("store: write lessons: %w", err)
	}
	if err := c.cfg.Backend.Write(indexTmpKey, indexData); err != nil {
		return fmt.Errorf("store: write index: %w", err)
	}
	if err := c.cfg.Backend.AtomicRename(indexTmpKey, indexKey); err != nil {
		return fmt.Errorf("store: commit index: %w", err)
	}
	if err := c.cfg.Backend.AtomicRename(lessonsTmpKey, lessonsKey); err != nil {
		return fmt.Errorf("store: commit lessons: %w", err)
	}
	return nil
}

// Close persists the current state.
func (c *Cache) Close() error {
	return c.Save()
}
