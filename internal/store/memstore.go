package store

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
)

// Compile-time interface check.
var _ Store = (*MemStore)(nil)

// MemStore keeps summaries in memory. The zero value is ready to use.
type MemStore struct {
	mu   sync.RWMutex
	byID map[string]Summary
}

// NewMemStore returns an empty [MemStore].
func NewMemStore() *MemStore { return &MemStore{} }

// Save implements [Store].
func (m *MemStore) Save(_ context.Context, s Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.byID == nil {
		m.byID = make(map[string]Summary)
	}
	m.byID[s.SessionID] = cloneSummary(s)
	return nil
}

// Get implements [Store].
func (m *MemStore) Get(_ context.Context, id string) (Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byID[id]
	if !ok {
		return Summary{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return cloneSummary(s), nil
}

// List implements [Store].
func (m *MemStore) List(_ context.Context, opts ListOptions) ([]Summary, error) {
	m.mu.RLock()
	out := make([]Summary, 0, len(m.byID))
	for _, s := range m.byID {
		if opts.Exercise == "" || s.Exercise == opts.Exercise {
			out = append(out, cloneSummary(s))
		}
	}
	m.mu.RUnlock()
	return newestFirst(out, opts.Limit), nil
}

// Ping implements [Store]. It always succeeds.
func (m *MemStore) Ping(context.Context) error { return nil }

// Close implements [Store]. It is a no-op.
func (m *MemStore) Close() error { return nil }

func cloneSummary(s Summary) Summary {
	s.CueCounts = maps.Clone(s.CueCounts)
	return s
}

// newestFirst sorts by EndedAt descending, breaking ties by id, and applies
// limit.
func newestFirst(list []Summary, limit int) []Summary {
	slices.SortFunc(list, func(a, b Summary) int {
		if c := b.EndedAt.Compare(a.EndedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.SessionID, b.SessionID)
	})
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list
}
