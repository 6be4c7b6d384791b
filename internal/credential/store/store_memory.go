package store

import (
	"context"
	"sort"
	"sync"

	"degreeproof/internal/credential/models"
	"degreeproof/pkg/domain"
)

// InMemoryStore is a Store for tests and single-process deployments.
type InMemoryStore struct {
	mu          sync.RWMutex
	credentials map[domain.CredentialID]models.Credential
	byKey       map[models.NaturalKey][]domain.CredentialID
	history     map[domain.CredentialID][]models.StatusChange
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		credentials: make(map[domain.CredentialID]models.Credential),
		byKey:       make(map[models.NaturalKey][]domain.CredentialID),
		history:     make(map[domain.CredentialID][]models.StatusChange),
	}
}

func (s *InMemoryStore) Put(_ context.Context, c models.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.credentials[c.ID]; exists {
		return ErrConflict
	}
	c = clone(c)
	s.credentials[c.ID] = c
	key := c.Record.NaturalKey()
	s.byKey[key] = append(s.byKey[key], c.ID)
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id domain.CredentialID) (models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.credentials[id]
	if !ok {
		return models.Credential{}, ErrNotFound
	}
	return clone(c), nil
}

func (s *InMemoryStore) FindByNaturalKey(_ context.Context, key models.NaturalKey) ([]models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byKey[key]
	out := make([]models.Credential, 0, len(ids))
	for _, id := range ids {
		out = append(out, clone(s.credentials[id]))
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *InMemoryStore) SetStatus(_ context.Context, id domain.CredentialID, t models.Transition) (models.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.credentials[id]
	if !ok {
		return models.Credential{}, ErrNotFound
	}
	if c.Status != t.From {
		return models.Credential{}, ErrStatusConflict
	}
	c.Status = t.To
	c.StatusReason = t.Reason
	if t.ReplacedBy != "" {
		c.ReplacedBy = t.ReplacedBy
	}
	s.credentials[id] = c
	s.history[id] = append(s.history[id], models.StatusChange{
		CredentialID: id,
		From:         t.From,
		To:           t.To,
		Reason:       t.Reason,
		ActorID:      t.ActorID,
		At:           t.At,
	})
	return clone(c), nil
}

func (s *InMemoryStore) History(_ context.Context, id domain.CredentialID) ([]models.StatusChange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.credentials[id]; !ok {
		return nil, ErrNotFound
	}
	return append([]models.StatusChange(nil), s.history[id]...), nil
}

func (s *InMemoryStore) List(_ context.Context, filter models.ListFilter) ([]models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Credential, 0)
	for _, c := range s.credentials {
		if filter.Matches(c) {
			out = append(out, clone(c))
		}
	}
	sortNewestFirst(out)
	if limit := filter.EffectiveLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func clone(c models.Credential) models.Credential {
	c.RecordHash = append([]byte(nil), c.RecordHash...)
	c.Signature = append([]byte(nil), c.Signature...)
	if c.ExpiresAt != nil {
		exp := *c.ExpiresAt
		c.ExpiresAt = &exp
	}
	c.Record = c.Record.Clone()
	return c
}

// sortNewestFirst orders by issuance time, then id for a stable result.
func sortNewestFirst(cs []models.Credential) {
	sort.Slice(cs, func(i, j int) bool {
		if !cs[i].IssuedAt.Equal(cs[j].IssuedAt) {
			return cs[i].IssuedAt.After(cs[j].IssuedAt)
		}
		return cs[i].ID > cs[j].ID
	})
}

var _ Store = (*InMemoryStore)(nil)
