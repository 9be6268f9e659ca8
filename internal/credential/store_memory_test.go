package credential

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

func (s *InMemoryStoreSuite) record(subject string, prior *uuid.UUID) Record {
	return Record{
		ID:       uuid.New(),
		Subject:  subject,
		Issuer:   "did:vouch:issuer",
		IssuedAt: time.Now().UTC(),
		PriorID:  prior,
		Claims:   map[string]any{FieldSubject: map[string]any{FieldID: subject}},
	}
}

func (s *InMemoryStoreSuite) TestInsertAndFind() {
	rec := s.record("did:vouch:a", nil)
	s.Require().NoError(s.store.Insert(s.ctx, rec))

	found, err := s.store.FindByID(s.ctx, rec.ID)
	s.Require().NoError(err)
	s.Equal(rec.ID, found.ID)

	_, err = s.store.FindByID(s.ctx, uuid.New())
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *InMemoryStoreSuite) TestDuplicateIDConflicts() {
	rec := s.record("did:vouch:a", nil)
	s.Require().NoError(s.store.Insert(s.ctx, rec))
	s.Require().ErrorIs(s.store.Insert(s.ctx, rec), sentinel.ErrConflict)
}

func (s *InMemoryStoreSuite) TestSingleSuccessorPerPrior() {
	root := s.record("did:vouch:a", nil)
	s.Require().NoError(s.store.Insert(s.ctx, root))

	first := s.record("did:vouch:a", &root.ID)
	s.Require().NoError(s.store.Insert(s.ctx, first))

	second := s.record("did:vouch:a", &root.ID)
	s.Require().ErrorIs(s.store.Insert(s.ctx, second), sentinel.ErrConflict)

	found, err := s.store.FindByPrior(s.ctx, root.ID)
	s.Require().NoError(err)
	s.Equal(first.ID, found.ID)
}

func (s *InMemoryStoreSuite) TestFindByPriorAtTip() {
	rec := s.record("did:vouch:a", nil)
	s.Require().NoError(s.store.Insert(s.ctx, rec))
	_, err := s.store.FindByPrior(s.ctx, rec.ID)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *InMemoryStoreSuite) TestFindBySubjectInsertionOrder() {
	a1 := s.record("did:vouch:a", nil)
	b := s.record("did:vouch:b", nil)
	a2 := s.record("did:vouch:a", &a1.ID)
	for _, rec := range []Record{a1, b, a2} {
		s.Require().NoError(s.store.Insert(s.ctx, rec))
	}

	recs, err := s.store.FindBySubject(s.ctx, "did:vouch:a")
	s.Require().NoError(err)
	s.Require().Len(recs, 2)
	s.Equal(a1.ID, recs[0].ID)
	s.Equal(a2.ID, recs[1].ID)

	_, err = s.store.FindBySubject(s.ctx, "did:vouch:nobody")
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}
