package autopatch

import (
	"encoding/hex"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/spec-kit/support-dispatch/internal/clock"
	"github.com/spec-kit/support-dispatch/internal/domain"
)

const descriptionPrefix = 200

// ContentKey hashes the ticket id, title and description prefix. Edits
// to the text produce a new key, so stale results are never served for
// changed content.
func ContentKey(t *domain.Ticket) string {
	desc := []rune(t.Description)
	if len(desc) > descriptionPrefix {
		desc = desc[:descriptionPrefix]
	}
	sum := blake2b.Sum256([]byte(t.ID + "\x00" + t.Title + "\x00" + string(desc)))
	return hex.EncodeToString(sum[:16])
}

type cacheEntry struct {
	candidate *domain.AutopatchCandidate
	storedAt  time.Time
}

// Cache holds detection results, negative ones included, for a bounded
// time. When full the oldest entry is evicted.
type Cache struct {
	mu         sync.Mutex
	clock      clock.Clock
	ttl        time.Duration
	maxEntries int
	entries    map[string]cacheEntry
}

// NewCache creates a cache. Non-positive limits fall back to 5 minutes
// and 100 entries.
func NewCache(clk clock.Clock, ttl time.Duration, maxEntries int) *Cache {
	if clk == nil {
		clk = clock.Real()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if maxEntries <= 0 {
		maxEntries = 100
	}
	return &Cache{
		clock:      clk,
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]cacheEntry),
	}
}

// Get returns the cached result for key. found is false when nothing
// fresh is stored; a fresh negative result yields (nil, true).
func (c *Cache) Get(key string) (candidate *domain.AutopatchCandidate, found bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.clock.Now().Sub(entry.storedAt) >= c.ttl {
		delete(c.entries, key)
		return nil, false
	}
	return entry.candidate, true
}

// Set stores a result. A nil candidate records "nothing found".
func (c *Cache) Set(key string, candidate *domain.AutopatchCandidate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	c.entries[key] = cacheEntry{candidate: candidate, storedAt: now}
	if len(c.entries) > c.maxEntries {
		c.purgeLocked(now)
	}
	for len(c.entries) > c.maxEntries {
		c.evictOldestLocked()
	}
}

// Purge drops expired entries and returns how many were removed.
func (c *Cache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.purgeLocked(c.clock.Now())
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) purgeLocked(now time.Time) int {
	removed := 0
	for key, entry := range c.entries {
		if now.Sub(entry.storedAt) >= c.ttl {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

func (c *Cache) evictOldestLocked() {
	var (
		oldestKey string
		oldestAt  time.Time
		first     = true
	)
	for key, entry := range c.entries {
		if first || entry.storedAt.Before(oldestAt) {
			oldestKey, oldestAt, first = key, entry.storedAt, false
		}
	}
	if !first {
		delete(c.entries, oldestKey)
	}
}
