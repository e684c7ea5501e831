// Package session implements a bounded in-memory cache of lookup results,
// keyed by task signature. Eviction blends frequency and recency: the entry
// with the lowest hit_count/(age_seconds+epsilon) score goes first.
package session

import (
	"fmt"
	"sync"
	"time"
)

// LessonRef is a lightweight view of a cached lesson, enough to assemble
// context without going back to the durable store.
type LessonRef struct {
	ID      string
	Content string
}

// Format renders the lesson as a numbered context entry.
func (r LessonRef) Format(n int) string {
	return fmt.Sprintf("%d. [%s]\n%s", n, r.ID, r.Content)
}

// Config controls session cache behavior. The zero value is not usable;
// call DefaultConfig or fill every field.
type Config struct {
	// Capacity is the maximum number of cached signatures.
	Capacity int

	// Epsilon is added to an entry's age in seconds when computing its
	// eviction score, so very fresh entries don't divide by near-zero.
	Epsilon float64

	// NegativeTTL bounds how long an empty lookup result is trusted.
	// Expired negative entries behave as misses.
	NegativeTTL time.Duration
}

// DefaultConfig returns the standard session cache configuration.
func DefaultConfig() *Config {
	return &Config{
		Capacity:    128,
		Epsilon:     1.0,
		NegativeTTL: 30 * time.Second,
	}
}

type entry struct {
	refs       []LessonRef
	negative   bool
	hitCount   int
	insertedAt time.Time
	lastAccess time.Time
}

// Cache is a capacity-bounded map from task signature to lookup result.
// Safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	cfg     Config
	entries map[string]*entry

	now func() time.Time // clock, swapped in tests
}

// New returns an empty session cache. A nil cfg uses DefaultConfig.
func New(cfg *Config) *Cache {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Cache{
		cfg:     *cfg,
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// Get returns the cached result for signature. The second return
// distinguishes a miss (false) from a cached empty result (true, nil).
// A hit bumps the entry's hit count and last-access time. Expired negative
// entries are dropped and reported as misses.
func (c *Cache) Get(signature string) ([]LessonRef, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[signature]
	if !ok {
		return nil, false
	}
	now := c.now()
	if e.negative && now.Sub(e.insertedAt) > c.cfg.NegativeTTL {
		delete(c.entries, signature)
		return nil, false
	}

	e.hitCount++
	e.lastAccess = now

	refs := make([]LessonRef, len(e.refs))
	copy(refs, e.refs)
	return refs, true
}

// Put caches a non-empty lookup result under signature, evicting one entry
// if the cache is full. Overwriting an existing signature resets its stats.
func (c *Cache) Put(signature string, refs []LessonRef) {
	stored := make([]LessonRef, len(refs))
	copy(stored, refs)
	c.put(signature, &entry{refs: stored})
}

// PutNegative caches an empty lookup result under signature. The entry
// expires after NegativeTTL so newly ingested lessons become visible.
func (c *Cache) PutNegative(signature string) {
	c.put(signature, &entry{negative: true})
}

func (c *Cache) put(signature string, e *entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	e.hitCount = 1
	e.insertedAt = now
	e.lastAccess = now

	if _, exists := c.entries[signature]; !exists && len(c.entries) >= c.cfg.Capacity {
		c.evictLocked(now)
	}
	c.entries[signature] = e
}

// evictLocked removes the entry with the lowest
// hit_count/(time_since_last_access+epsilon) score, breaking ties by oldest
// last access. Aging from last access, not insert, keeps an old entry alive
// as long as it stays in use. Caller holds c.mu.
func (c *Cache) evictLocked(now time.Time) {
	var victim string
	var victimScore float64
	var victimAccess time.Time
	first := true

	for sig, e := range c.entries {
		age := now.Sub(e.lastAccess).Seconds()
		score := float64(e.hitCount) / (age + c.cfg.Epsilon)
		if first || score < victimScore ||
			(score == victimScore && e.lastAccess.Before(victimAccess)) {
			victim = sig
			victimScore = score
			victimAccess = e.lastAccess
			first = false
		}
	}
	if !first {
		delete(c.entries, victim)
	}
}

// Invalidate drops the entry for signature, if present.
func (c *Cache) Invalidate(signature string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, signature)
}

// Len returns the number of cached signatures, including negative entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
