package audit

import (
	"context"
	"sort"
	"sync"
	"time"

	"degreeproof/pkg/domain"
)

// InMemoryStore keeps entries in process. Used by tests and the memory backend.
type InMemoryStore struct {
	mu        sync.RWMutex
	entries   []Entry
	index     map[domain.ResultID]int
	overrides map[domain.ResultID][]Override
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		index:     make(map[domain.ResultID]int),
		overrides: make(map[domain.ResultID][]Override),
	}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	s.index = make(map[domain.ResultID]int)
	s.overrides = make(map[domain.ResultID][]Override)
}

func (s *InMemoryStore) Append(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.index[e.Result.ID]; exists {
		return ErrDuplicate
	}
	s.index[e.Result.ID] = len(s.entries)
	s.entries = append(s.entries, e)
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id domain.ResultID) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return Record{
		Entry:     s.entries[i],
		Overrides: append([]Override{}, s.overrides[id]...),
	}, nil
}

// List returns matching entries newest first.
func (s *InMemoryStore) List(_ context.Context, filter ListFilter) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0)
	for _, e := range s.entries {
		if filter.Matches(e) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Result.Timestamp.After(out[j].Result.Timestamp)
	})
	if limit := filter.EffectiveLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) AppendOverride(_ context.Context, o Override) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[o.ResultID]; !ok {
		return ErrNotFound
	}
	s.overrides[o.ResultID] = append(s.overrides[o.ResultID], o)
	return nil
}

func (s *InMemoryStore) Overrides(_ context.Context, id domain.ResultID) ([]Override, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.index[id]; !ok {
		return nil, ErrNotFound
	}
	return append([]Override{}, s.overrides[id]...), nil
}

func (s *InMemoryStore) Stats(_ context.Context, since time.Time) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := newStats(since)
	for _, e := range s.entries {
		if e.Result.Timestamp.Before(since) {
			continue
		}
		stats.Total++
		stats.ByOutcome[e.Result.Outcome]++
		stats.ByMethod[e.Result.Method]++
		if len(s.overrides[e.Result.ID]) > 0 {
			stats.Overridden++
		}
	}
	return stats, nil
}

var _ Store = (*InMemoryStore)(nil)
