package identifier

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"vouch/pkg/platform/sentinel"
)

type InMemoryStoreSuite struct {
	suite.Suite
	store *InMemoryStore
	ctx   context.Context
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.store = NewInMemoryStore()
	s.ctx = context.Background()
}

func (s *InMemoryStoreSuite) newIdentifier(key string) Identifier {
	id := uuid.New()
	return Identifier{
		ID:        id,
		DID:       DIDFor(id),
		PublicKey: []byte(key),
		CreatedAt: time.Now().UTC(),
	}
}

func (s *InMemoryStoreSuite) TestInsert() {
	s.Run("stores a new identifier", func() {
		ident := s.newIdentifier("key-a")
		s.Require().NoError(s.store.Insert(s.ctx, ident))

		found, err := s.store.FindByPublicKey(s.ctx, []byte("key-a"))
		s.Require().NoError(err)
		s.Require().Len(found, 1)
		s.Equal(ident.DID, found[0].DID)
	})

	s.Run("conflicts on duplicate public key", func() {
		first := s.newIdentifier("key-dup")
		second := s.newIdentifier("key-dup")
		s.Require().NoError(s.store.Insert(s.ctx, first))
		err := s.store.Insert(s.ctx, second)
		s.Require().ErrorIs(err, sentinel.ErrConflict)
	})
}

func (s *InMemoryStoreSuite) TestFindByDID() {
	s.Run("not found for unknown did", func() {
		_, err := s.store.FindByDID(s.ctx, "did:vouch:nope")
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("returns keys in insertion order", func() {
		base := s.newIdentifier("rotation-key-1")
		s.Require().NoError(s.store.Insert(s.ctx, base))

		// Second key registered under the same DID (key rotation).
		rotated := s.newIdentifier("rotation-key-2")
		rotated.DID = base.DID
		s.Require().NoError(s.store.Insert(s.ctx, rotated))

		found, err := s.store.FindByDID(s.ctx, base.DID)
		s.Require().NoError(err)
		s.Require().Len(found, 2)
		s.Equal([]byte("rotation-key-1"), found[0].PublicKey)
		s.Equal([]byte("rotation-key-2"), found[1].PublicKey)
	})
}

func (s *InMemoryStoreSuite) TestFindByPublicKey() {
	_, err := s.store.FindByPublicKey(s.ctx, []byte("missing"))
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}
