package credential

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"vouch/internal/audit"
	"vouch/internal/identifier"
	"vouch/internal/keys"
	"vouch/internal/proof"
	"vouch/pkg/domerr"
	"vouch/pkg/platform/sentinel"
)

type ChainSuite struct {
	suite.Suite
	ctx      context.Context
	chain    *Chain
	store    *InMemoryStore
	sink     *audit.MemorySink
	pub      *audit.Publisher
	issuer   keys.KeyPair
	delegate keys.KeyPair
	stranger keys.KeyPair
}

func TestChainSuite(t *testing.T) {
	suite.Run(t, new(ChainSuite))
}

func (s *ChainSuite) SetupTest() {
	s.ctx = context.Background()

	mainKey, _, err := keys.InitMainKey([]byte("chain suite"), keys.Params{Ops: 1, Memory: 8 * 1024, SaltSize: keys.SaltSize})
	s.Require().NoError(err)
	s.issuer, err = keys.DeriveSigningKeyPair(mainKey, 0)
	s.Require().NoError(err)
	s.delegate, err = keys.DeriveSigningKeyPair(mainKey, 1)
	s.Require().NoError(err)
	s.stranger, err = keys.DeriveSigningKeyPair(mainKey, 2)
	s.Require().NoError(err)

	resolver := identifier.NewResolver(identifier.NewInMemoryStore())
	s.store = NewInMemoryStore()
	s.sink = audit.NewMemorySink()
	s.pub = audit.NewPublisher(s.sink)
	s.chain = NewChain(proof.NewCodec(resolver), resolver, s.store,
		WithAudit(s.pub),
		WithChainClock(func() time.Time {
			return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		}))
}

func (s *ChainSuite) TearDownTest() {
	s.Require().NoError(s.pub.Close())
}

func (s *ChainSuite) issueRoot(opts IssueOptions) Record {
	rec, err := s.chain.Issue(s.ctx, s.issuer, "did:vouch:subject-1",
		map[string]any{"email": "holder@example.com", "state": "unconfirmed"},
		[]string{"https://vouch.example/contexts/registration/v1"},
		[]string{"RegistrationCredential"},
		opts)
	s.Require().NoError(err)
	return rec
}

func (s *ChainSuite) TestIssue() {
	s.Run("builds the wire document", func() {
		rec := s.issueRoot(IssueOptions{})

		s.Equal([]any{ContextCredentialsV1, "https://vouch.example/contexts/registration/v1"}, rec.Claims[FieldContext])
		s.Equal([]any{TypeVerifiableCredential, "RegistrationCredential"}, rec.Claims[FieldType])
		s.Equal("2026-03-01T12:00:00Z", rec.Claims[FieldIssuanceDate])

		issuerObj := rec.Claims[FieldIssuer].(map[string]any)
		s.Equal(rec.Issuer, issuerObj[FieldID])

		subject := rec.Claims[FieldSubject].(map[string]any)
		s.Equal("did:vouch:subject-1", subject[FieldID])
		s.Equal("holder@example.com", subject["email"])

		s.Contains(rec.Claims, FieldProof)
		s.NotContains(rec.Claims, FieldPrior)
	})

	s.Run("persists and verifies", func() {
		rec := s.issueRoot(IssueOptions{})
		stored, err := s.store.FindByID(s.ctx, rec.ID)
		s.Require().NoError(err)
		s.Require().NoError(s.chain.Verify(s.ctx, stored))
	})

	s.Run("carries the validity window", func() {
		until := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
		rec := s.issueRoot(IssueOptions{ValidUntil: &until})
		s.Equal("2026-03-02T12:00:00Z", rec.Claims[FieldExpiration])
		s.False(rec.Expired(until.Add(-time.Hour)))
		s.True(rec.Expired(until.Add(time.Hour)))
	})

	s.Run("rejects empty subject", func() {
		_, err := s.chain.Issue(s.ctx, s.issuer, "", nil, nil, nil, IssueOptions{})
		s.Require().Error(err)
		s.Equal(domerr.CodeInvalidInput, domerr.CodeOf(err))
	})
}

func (s *ChainSuite) TestAmend() {
	root := s.issueRoot(IssueOptions{AmendingKeys: [][]byte{s.issuer.Public, s.delegate.Public}})

	s.Run("authorized key amends and claims merge", func() {
		amended, err := s.chain.Amend(s.ctx, s.issuer, map[string]any{"state": "confirmed"}, root)
		s.Require().NoError(err)

		subject := amended.Claims[FieldSubject].(map[string]any)
		s.Equal("confirmed", subject["state"])
		s.Equal("holder@example.com", subject["email"], "untouched claims carry forward")
		s.Equal(root.Subject, amended.Subject, "subject identity constant across the chain")
		s.Equal("urn:uuid:"+root.ID.String(), amended.Claims[FieldPrior])
		s.Equal(root.AmendingKeys, amended.AmendingKeys, "authorization list carries forward")

		// The prior record is untouched.
		stored, err := s.store.FindByID(s.ctx, root.ID)
		s.Require().NoError(err)
		s.Equal("unconfirmed", stored.Claims[FieldSubject].(map[string]any)["state"])
	})

	s.Run("delegate key is authorized too", func() {
		root2 := s.issueRoot(IssueOptions{AmendingKeys: [][]byte{s.issuer.Public, s.delegate.Public}})
		_, err := s.chain.Amend(s.ctx, s.delegate, map[string]any{"state": "confirmed"}, root2)
		s.Require().NoError(err)
	})

	s.Run("unauthorized key is rejected at construction", func() {
		root3 := s.issueRoot(IssueOptions{AmendingKeys: [][]byte{s.issuer.Public}})
		_, err := s.chain.Amend(s.ctx, s.stranger, map[string]any{"state": "confirmed"}, root3)
		s.Require().Error(err)
		s.Equal(domerr.CodeUnauthorizedAmender, domerr.CodeOf(err))
	})

	s.Run("credential without amendingKeys is final", func() {
		final := s.issueRoot(IssueOptions{})
		_, err := s.chain.Amend(s.ctx, s.issuer, map[string]any{"state": "confirmed"}, final)
		s.Require().Error(err)
		s.Equal(domerr.CodeUnauthorizedAmender, domerr.CodeOf(err))
	})

	s.Run("second amendment of the same prior conflicts", func() {
		root4 := s.issueRoot(IssueOptions{AmendingKeys: [][]byte{s.issuer.Public}})
		_, err := s.chain.Amend(s.ctx, s.issuer, map[string]any{"n": int64(1)}, root4)
		s.Require().NoError(err)
		_, err = s.chain.Amend(s.ctx, s.issuer, map[string]any{"n": int64(2)}, root4)
		s.Require().ErrorIs(err, sentinel.ErrConflict)
	})
}

func (s *ChainSuite) TestTip() {
	root := s.issueRoot(IssueOptions{AmendingKeys: [][]byte{s.issuer.Public}})
	mid, err := s.chain.Amend(s.ctx, s.issuer, map[string]any{"state": "confirming"}, root)
	s.Require().NoError(err)
	tip, err := s.chain.Amend(s.ctx, s.issuer, map[string]any{"state": "confirmed"}, mid)
	s.Require().NoError(err)

	s.Run("from the root", func() {
		got, err := s.chain.Tip(s.ctx, root.ID)
		s.Require().NoError(err)
		s.Equal(tip.ID, got.ID)
	})

	s.Run("from the tip itself", func() {
		got, err := s.chain.Tip(s.ctx, tip.ID)
		s.Require().NoError(err)
		s.Equal(tip.ID, got.ID)
	})

	s.Run("unknown credential", func() {
		_, err := s.chain.Tip(s.ctx, [16]byte{0xde, 0xad})
		s.Require().Error(err)
		s.Equal(domerr.CodeNotFound, domerr.CodeOf(err))
	})
}

func (s *ChainSuite) TestVerifyChain() {
	s.Run("accepts a well-formed chain", func() {
		root := s.issueRoot(IssueOptions{AmendingKeys: [][]byte{s.issuer.Public, s.delegate.Public}})
		mid, err := s.chain.Amend(s.ctx, s.delegate, map[string]any{"state": "confirmed"}, root)
		s.Require().NoError(err)
		s.Require().NoError(s.chain.VerifyChain(s.ctx, mid))
	})

	s.Run("detects tampering anywhere in the chain", func() {
		root := s.issueRoot(IssueOptions{AmendingKeys: [][]byte{s.issuer.Public}})
		amended, err := s.chain.Amend(s.ctx, s.issuer, map[string]any{"state": "confirmed"}, root)
		s.Require().NoError(err)

		amended.Claims[FieldSubject].(map[string]any)["state"] = "forged"
		err = s.chain.VerifyChain(s.ctx, amended)
		s.Require().Error(err)
		s.Equal(domerr.CodeSignatureInvalid, domerr.CodeOf(err))
	})

	s.Run("re-checks amender authorization during verification", func() {
		// Build an amendment whose signature is valid but whose signer was
		// never authorized: issue it as a root, then wire the prior link by
		// hand, simulating a foreign implementation that skipped the
		// construction-time check.
		root := s.issueRoot(IssueOptions{AmendingKeys: [][]byte{s.delegate.Public}})

		forged, err := s.chain.Issue(s.ctx, s.stranger, root.Subject,
			map[string]any{"state": "confirmed"}, nil, nil, IssueOptions{})
		s.Require().NoError(err)
		forged.PriorID = &root.ID

		err = s.chain.VerifyChain(s.ctx, forged)
		s.Require().Error(err)
		s.Equal(domerr.CodeUnauthorizedAmender, domerr.CodeOf(err))
	})
}

func (s *ChainSuite) TestAuditTrail() {
	root := s.issueRoot(IssueOptions{AmendingKeys: [][]byte{s.issuer.Public}})
	_, err := s.chain.Amend(s.ctx, s.issuer, map[string]any{"state": "confirmed"}, root)
	s.Require().NoError(err)

	s.Require().NoError(s.pub.Close())
	events := s.sink.Events()
	s.Require().GreaterOrEqual(len(events), 2)
	s.Equal(audit.ActionIssued, events[0].Action)
	s.Equal(audit.ActionAmended, events[1].Action)
}

func (s *ChainSuite) TestWireJSONRoundTrip() {
	rec := s.issueRoot(IssueOptions{})
	raw, err := rec.WireJSON()
	s.Require().NoError(err)
	s.Contains(string(raw), `"@context"`)
	s.Contains(string(raw), `"credentialSubject"`)
	s.Contains(string(raw), `"proof"`)
}
