// Package catalog holds the Configuration Item Store: the blueprint of
// how the system should be configured.
package catalog

import (
	"sort"
	"sync"

	"github.com/spec-kit/support-dispatch/internal/domain"
)

// Store is the process-wide configuration catalog. Items are treated as
// immutable values; attaching fix instructions swaps in an updated copy
// so pointers already handed out never change underneath a reader.
type Store struct {
	mu    sync.RWMutex
	order []string
	byKey map[string]*domain.ConfigurationItem
}

// NewStore builds a store from items. Later duplicates (same type+name)
// replace earlier ones.
func NewStore(items []domain.ConfigurationItem) *Store {
	s := &Store{byKey: make(map[string]*domain.ConfigurationItem)}
	for i := range items {
		item := items[i]
		if !item.Type.Valid() || item.Name == "" {
			continue
		}
		key := item.Key()
		if _, exists := s.byKey[key]; !exists {
			s.order = append(s.order, key)
		}
		s.byKey[key] = &item
	}
	return s
}

// Items returns the current items in catalog order.
func (s *Store) Items() []*domain.ConfigurationItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.ConfigurationItem, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, s.byKey[key])
	}
	return out
}

// Len returns the number of items.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Lookup finds an item by type and name.
func (s *Store) Lookup(t domain.ConfigurationType, name string) (*domain.ConfigurationItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.byKey[string(t)+":"+name]
	return item, ok
}

// AttachFixInstructions memoizes generated fix instructions on an item
// and returns the updated item. Recomputing and re-attaching an
// equivalent list is harmless.
func (s *Store) AttachFixInstructions(item *domain.ConfigurationItem, instructions []domain.AutoFixInstruction) *domain.ConfigurationItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := item.Key()
	current, ok := s.byKey[key]
	if !ok {
		current = item
	}
	updated := *current
	updated.UniversalFixInstructions = append([]domain.AutoFixInstruction(nil), instructions...)
	if ok {
		s.byKey[key] = &updated
	}
	return &updated
}

// TypeCounts summarises the catalog for logs and the CLI.
func (s *Store) TypeCounts() map[domain.ConfigurationType]int {
	counts := make(map[domain.ConfigurationType]int)
	for _, item := range s.Items() {
		counts[item.Type]++
	}
	return counts
}

// Merge returns a store containing base items overridden by overrides.
func Merge(base, overrides []domain.ConfigurationItem) *Store {
	all := make([]domain.ConfigurationItem, 0, len(base)+len(overrides))
	all = append(all, base...)
	all = append(all, overrides...)
	return NewStore(all)
}

// SortedKeys returns item keys in lexical order.
func (s *Store) SortedKeys() []string {
	s.mu.RLock()
	keys := append([]string(nil), s.order...)
	s.mu.RUnlock()
	sort.Strings(keys)
	return keys
}
