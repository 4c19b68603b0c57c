package contextstore

import (
	"context"
	"sync"
)

// MemoryStore is the in-process context store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

// Store saves the entry, overwriting by ID.
func (s *MemoryStore) Store(ctx context.Context, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.EntryID] = entry
	return nil
}

// Query returns matching entries, newest first.
func (s *MemoryStore) Query(ctx context.Context, q Query) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	var matched []Entry
	for _, e := range s.entries {
		if q.matches(e) {
			matched = append(matched, e)
		}
	}
	s.mu.RUnlock()
	return q.finish(matched), nil
}
