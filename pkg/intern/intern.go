// Package intern provides a bounded string intern table shared by the
// parsers of one process. A Table is created at bootstrap and purged on
// shutdown; there is no package-level instance.
package intern

import (
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultSize is the number of distinct strings kept when no size is given.
const DefaultSize = 16384

// Table canonicalizes strings so that repeated constant pool names (class
// names, descriptors, annotation types) share one backing array. It is safe
// for concurrent use. Evicted strings remain valid; they simply stop being
// shared with later lookups.
type Table struct {
	cache        *lru.Cache[string, string]
	hits, misses atomic.Uint64
}

// New creates a table holding at most size strings.
func New(size int) (*Table, error) {
	if size <= 0 {
		size = DefaultSize
	}
	c, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("creating intern table: %w", err)
	}
	return &Table{cache: c}, nil
}

// Intern returns the canonical copy of s.
func (t *Table) Intern(s string) string {
	prev, found, _ := t.cache.PeekOrAdd(s, s)
	if found {
		t.hits.Add(1)
		return prev
	}
	t.misses.Add(1)
	return s
}

// Len returns the number of strings currently held.
func (t *Table) Len() int { return t.cache.Len() }

// Stats returns the number of lookups that found an existing entry and the
// number that added one.
func (t *Table) Stats() (hits, misses uint64) {
	return t.hits.Load(), t.misses.Load()
}

// Purge drops every entry.
func (t *Table) Purge() {
	t.cache.Purge()
}
