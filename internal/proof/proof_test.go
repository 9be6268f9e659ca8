package proof

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"vouch/internal/enc"
	"vouch/internal/identifier"
	"vouch/internal/keys"
	"vouch/pkg/domerr"
)

type ProofCodecSuite struct {
	suite.Suite
	ctx      context.Context
	codec    *Codec
	resolver *identifier.Resolver
	signer   keys.KeyPair
	other    keys.KeyPair
}

func TestProofCodecSuite(t *testing.T) {
	suite.Run(t, new(ProofCodecSuite))
}

func (s *ProofCodecSuite) SetupTest() {
	s.ctx = context.Background()
	s.resolver = identifier.NewResolver(identifier.NewInMemoryStore())
	s.codec = NewCodec(s.resolver)

	mainKey, _, err := keys.InitMainKey([]byte("suite passphrase"), keys.Params{Ops: 1, Memory: 8 * 1024, SaltSize: keys.SaltSize})
	s.Require().NoError(err)
	s.signer, err = keys.DeriveSigningKeyPair(mainKey, 0)
	s.Require().NoError(err)
	s.other, err = keys.DeriveSigningKeyPair(mainKey, 1)
	s.Require().NoError(err)
}

func (s *ProofCodecSuite) claims() map[string]any {
	return map[string]any{
		"id":      "urn:uuid:ignored-by-default",
		"subject": "did:vouch:someone",
		"degree":  map[string]any{"level": "bachelor", "field": "horticulture"},
	}
}

func (s *ProofCodecSuite) TestSignVerifyRoundTrip() {
	signed, err := s.codec.SignMap(s.ctx, s.signer, s.claims(), Options{})
	s.Require().NoError(err)
	s.Require().Contains(signed, "proof")

	s.Require().NoError(s.codec.VerifyMap(s.ctx, signed, Options{}))
}

func (s *ProofCodecSuite) TestSignMapDoesNotMutateInput() {
	claims := s.claims()
	_, err := s.codec.SignMap(s.ctx, s.signer, claims, Options{})
	s.Require().NoError(err)
	s.NotContains(claims, "proof")
}

func (s *ProofCodecSuite) TestProofShape() {
	signed, err := s.codec.SignMap(s.ctx, s.signer, s.claims(), Options{})
	s.Require().NoError(err)

	proofObject, ok := signed["proof"].(map[string]any)
	s.Require().True(ok)
	s.Equal(Type, proofObject["type"])

	did, ok := proofObject["verificationMethod"].(string)
	s.Require().True(ok)
	candidates, err := s.resolver.Resolve(s.ctx, did)
	s.Require().NoError(err)
	s.Equal([]byte(s.signer.Public), candidates[0])

	_, err = enc.Read(proofObject["signature"].(string))
	s.Require().NoError(err)
}

func (s *ProofCodecSuite) TestIgnoredFieldsAreNotSigned() {
	signed, err := s.codec.SignMap(s.ctx, s.signer, s.claims(), Options{})
	s.Require().NoError(err)

	// Mutating an ignored field must not break verification.
	signed["id"] = "urn:uuid:somebody-else"
	s.Require().NoError(s.codec.VerifyMap(s.ctx, signed, Options{}))
}

func (s *ProofCodecSuite) TestTamperDetection() {
	s.Run("mutated scalar field", func() {
		signed, err := s.codec.SignMap(s.ctx, s.signer, s.claims(), Options{})
		s.Require().NoError(err)
		signed["subject"] = "did:vouch:someone-else"

		err = s.codec.VerifyMap(s.ctx, signed, Options{})
		s.Require().Error(err)
		s.Equal(domerr.CodeSignatureInvalid, domerr.CodeOf(err))
	})

	s.Run("single byte flip in a nested field", func() {
		signed, err := s.codec.SignMap(s.ctx, s.signer, s.claims(), Options{})
		s.Require().NoError(err)
		signed["degree"].(map[string]any)["field"] = "hortiCulture"

		err = s.codec.VerifyMap(s.ctx, signed, Options{})
		s.Require().Error(err)
		s.Equal(domerr.CodeSignatureInvalid, domerr.CodeOf(err))
	})

	s.Run("diagnostics carry the canonical form", func() {
		signed, err := s.codec.SignMap(s.ctx, s.signer, s.claims(), Options{})
		s.Require().NoError(err)
		signed["subject"] = "tampered"

		err = s.codec.VerifyMap(s.ctx, signed, Options{})
		var de *domerr.Error
		s.Require().ErrorAs(err, &de)
		s.Contains(de.Diagnostics, "canonical")
		s.Contains(de.Diagnostics, "proof")
	})
}

func (s *ProofCodecSuite) TestKeyOrderDoesNotAffectSignature() {
	signed, err := s.codec.SignMap(s.ctx, s.signer, map[string]any{"b": int64(1), "a": int64(2)}, Options{})
	s.Require().NoError(err)

	// Rebuild the same logical map in a different insertion order, reusing
	// the proof.
	reordered := map[string]any{"a": int64(2), "b": int64(1), "proof": signed["proof"]}
	s.Require().NoError(s.codec.VerifyMap(s.ctx, reordered, Options{}))
}

func (s *ProofCodecSuite) TestMultiProof() {
	s.Run("two valid proofs verify", func() {
		once, err := s.codec.SignMap(s.ctx, s.signer, s.claims(), Options{})
		s.Require().NoError(err)
		twice, err := s.codec.SignMap(s.ctx, s.other, once, Options{})
		s.Require().NoError(err)

		list, ok := twice["proof"].([]any)
		s.Require().True(ok)
		s.Len(list, 2)
		s.Require().NoError(s.codec.VerifyMap(s.ctx, twice, Options{}))
	})

	s.Run("one valid and one invalid proof fails entirely", func() {
		once, err := s.codec.SignMap(s.ctx, s.signer, s.claims(), Options{})
		s.Require().NoError(err)
		twice, err := s.codec.SignMap(s.ctx, s.other, once, Options{})
		s.Require().NoError(err)

		list := twice["proof"].([]any)
		bad := list[1].(map[string]any)
		bad["signature"] = enc.Show(make([]byte, 64))

		err = s.codec.VerifyMap(s.ctx, twice, Options{})
		s.Require().Error(err)
		s.Equal(domerr.CodeSignatureInvalid, domerr.CodeOf(err))
	})
}

func (s *ProofCodecSuite) TestMissingAndEmptyProofs() {
	s.Run("missing proof field", func() {
		err := s.codec.VerifyMap(s.ctx, map[string]any{"a": "b"}, Options{})
		s.Require().Error(err)
		s.Equal(domerr.CodeMissingProof, domerr.CodeOf(err))
	})

	s.Run("empty proof list", func() {
		err := s.codec.VerifyMap(s.ctx, map[string]any{"a": "b", "proof": []any{}}, Options{})
		s.Require().Error(err)
		s.Equal(domerr.CodeEmptyProofList, domerr.CodeOf(err))
	})

	s.Run("null proof", func() {
		err := s.codec.VerifyMap(s.ctx, map[string]any{"a": "b", "proof": nil}, Options{})
		s.Require().Error(err)
		s.Equal(domerr.CodeEmptyProofList, domerr.CodeOf(err))
	})
}

func (s *ProofCodecSuite) TestCustomFieldNames() {
	opts := Options{
		ProofField:     "attestation",
		SignatureField: "sig",
		KeyField:       "signer",
		IgnoreFields:   []string{},
	}
	signed, err := s.codec.SignMap(s.ctx, s.signer, map[string]any{"id": "now-signed", "x": "y"}, opts)
	s.Require().NoError(err)
	s.Contains(signed, "attestation")
	s.Require().NoError(s.codec.VerifyMap(s.ctx, signed, opts))

	// With empty IgnoreFields the id participates in the signature.
	signed["id"] = "tampered"
	err = s.codec.VerifyMap(s.ctx, signed, opts)
	s.Require().Error(err)
	s.Equal(domerr.CodeSignatureInvalid, domerr.CodeOf(err))
}

func (s *ProofCodecSuite) TestSignatureOverride() {
	// The override is embedded verbatim without local signing or checking.
	bogus := make([]byte, 64)
	signed, err := s.codec.SignMap(s.ctx, s.signer, s.claims(), Options{Signature: bogus})
	s.Require().NoError(err)

	proofObject := signed["proof"].(map[string]any)
	s.Equal(enc.Show(bogus), proofObject["signature"])

	// Verification then fails, which is the caller's problem by contract.
	err = s.codec.VerifyMap(s.ctx, signed, Options{})
	s.Require().Error(err)
	s.Equal(domerr.CodeSignatureInvalid, domerr.CodeOf(err))
}

func (s *ProofCodecSuite) TestMissingIdentifierWithoutResolver() {
	bare := NewCodec(nil)
	_, err := bare.SignMap(s.ctx, s.signer, s.claims(), Options{})
	s.Require().Error(err)
	s.Equal(domerr.CodeMissingIdentifier, domerr.CodeOf(err))
}

func (s *ProofCodecSuite) TestCustomKeyExtractor() {
	signed, err := s.codec.SignMap(s.ctx, s.signer, s.claims(), Options{})
	s.Require().NoError(err)

	called := false
	opts := Options{
		KeyExtractor: func(_ context.Context, _ map[string]any) ([]byte, error) {
			called = true
			return s.signer.Public, nil
		},
	}
	s.Require().NoError(s.codec.VerifyMap(s.ctx, signed, opts))
	s.True(called)
}

func (s *ProofCodecSuite) TestUncanonicalizableClaimsFail() {
	_, err := s.codec.SignMap(s.ctx, s.signer, map[string]any{"bad": 3.5}, Options{})
	s.Require().Error(err)
	s.Equal(domerr.CodeCanonicalization, domerr.CodeOf(err))
}
