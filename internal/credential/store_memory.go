package credential

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"vouch/pkg/platform/sentinel"
)

// InMemoryStore keeps credential records in process memory. Used in tests
// and for single-node deployments without PostgreSQL.
type InMemoryStore struct {
	mu        sync.RWMutex
	byID      map[uuid.UUID]Record
	byPrior   map[uuid.UUID]uuid.UUID // prior -> amendment
	bySubject map[string][]uuid.UUID  // insertion order
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:      make(map[uuid.UUID]Record),
		byPrior:   make(map[uuid.UUID]uuid.UUID),
		bySubject: make(map[string][]uuid.UUID),
	}
}

func (s *InMemoryStore) Insert(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[rec.ID]; exists {
		return sentinel.ErrConflict
	}
	if rec.PriorID != nil {
		if _, exists := s.byPrior[*rec.PriorID]; exists {
			return sentinel.ErrConflict
		}
		s.byPrior[*rec.PriorID] = rec.ID
	}
	s.byID[rec.ID] = rec
	s.bySubject[rec.Subject] = append(s.bySubject[rec.Subject], rec.ID)
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, id uuid.UUID) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.byID[id]
	if !exists {
		return Record{}, sentinel.ErrNotFound
	}
	return rec, nil
}

func (s *InMemoryStore) FindByPrior(_ context.Context, priorID uuid.UUID) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.byPrior[priorID]
	if !exists {
		return Record{}, sentinel.ErrNotFound
	}
	return s.byID[id], nil
}

func (s *InMemoryStore) FindBySubject(_ context.Context, subject string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids, exists := s.bySubject[subject]
	if !exists || len(ids) == 0 {
		return nil, sentinel.ErrNotFound
	}
	out := make([]Record, len(ids))
	for i, id := range ids {
		out[i] = s.byID[id]
	}
	return out, nil
}
