package identifier

import (
	"context"
	"sync"

	"vouch/pkg/platform/sentinel"
)

// InMemoryStore keeps identifiers in process memory. Used in tests and for
// single-node deployments without PostgreSQL.
type InMemoryStore struct {
	mu    sync.RWMutex
	byKey map[string]Identifier   // public key (raw bytes as string) -> identifier
	byDID map[string][]Identifier // DID -> identifiers in insertion order
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byKey: make(map[string]Identifier),
		byDID: make(map[string][]Identifier),
	}
}

func (s *InMemoryStore) Insert(_ context.Context, ident Identifier) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := string(ident.PublicKey)
	if _, exists := s.byKey[key]; exists {
		return sentinel.ErrConflict
	}
	s.byKey[key] = ident
	s.byDID[ident.DID] = append(s.byDID[ident.DID], ident)
	return nil
}

func (s *InMemoryStore) FindByDID(_ context.Context, did string) ([]Identifier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idents, exists := s.byDID[did]
	if !exists || len(idents) == 0 {
		return nil, sentinel.ErrNotFound
	}
	out := make([]Identifier, len(idents))
	copy(out, idents)
	return out, nil
}

func (s *InMemoryStore) FindByPublicKey(_ context.Context, publicKey []byte) ([]Identifier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ident, exists := s.byKey[string(publicKey)]
	if !exists {
		return nil, sentinel.ErrNotFound
	}
	return []Identifier{ident}, nil
}
