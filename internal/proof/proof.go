// Package proof embeds and verifies detached Ed25519 signatures over the
// canonical byte form of structured claim sets. Signatures are always
// computed over canonical.Bytes output, never over the structured value
// itself; verification reconstructs the exact byte sequence that was signed.
package proof

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"vouch/internal/canonical"
	"vouch/internal/enc"
	"vouch/internal/identifier"
	"vouch/internal/keys"
	"vouch/pkg/domerr"
)

// Type names the signature suite carried in every proof object.
const Type = "Ed25519Signature2018"

// Defaults for Options fields left zero.
const (
	DefaultProofField     = "proof"
	DefaultSignatureField = "signature"
	DefaultKeyField       = "verificationMethod"
)

// DefaultIgnoreFields are stripped from the claim set before canonicalization
// so mutable envelope fields never break signatures.
var DefaultIgnoreFields = []string{"id"}

// KeyBinder turns a public key into the identifier string embedded in a
// proof. The default binder resolves-or-registers through the codec's
// identifier resolver.
type KeyBinder func(ctx context.Context, publicKey []byte) (string, error)

// KeyExtractor recovers the verification key for one proof object. The
// default extractor resolves the identifier named in the key field and takes
// the first candidate key.
type KeyExtractor func(ctx context.Context, proofObject map[string]any) ([]byte, error)

// Options configure one SignMap or VerifyMap call. The zero value selects
// every default.
type Options struct {
	// ProofField is where proofs are attached; default "proof".
	ProofField string
	// SignatureField holds the encoded signature inside a proof object;
	// default "signature".
	SignatureField string
	// KeyField holds the signer's identifier string inside a proof object;
	// default "verificationMethod".
	KeyField string
	// IgnoreFields are removed before canonicalization; default ["id"].
	// Set to a non-nil empty slice to ignore nothing.
	IgnoreFields []string
	// KeyBinder overrides signer identifier construction during signing.
	KeyBinder KeyBinder
	// KeyExtractor overrides verification key recovery during verification.
	KeyExtractor KeyExtractor
	// Signature, when set, is embedded verbatim instead of signing locally.
	// No validity check is performed on an override; the caller vouches for
	// it.
	Signature []byte
}

func (o Options) withDefaults() Options {
	if o.ProofField == "" {
		o.ProofField = DefaultProofField
	}
	if o.SignatureField == "" {
		o.SignatureField = DefaultSignatureField
	}
	if o.KeyField == "" {
		o.KeyField = DefaultKeyField
	}
	if o.IgnoreFields == nil {
		o.IgnoreFields = DefaultIgnoreFields
	}
	return o
}

// Codec signs and verifies claim maps. The resolver supplies signer
// identity; it is the only collaborator that can block on I/O.
type Codec struct {
	resolver *identifier.Resolver
}

func NewCodec(resolver *identifier.Resolver) *Codec {
	return &Codec{resolver: resolver}
}

// SignMap canonicalises claims (minus ignored fields), signs the canonical
// bytes with the keypair's secret key, and returns a copy of claims with the
// proof attached. An existing proof under the proof field is preserved, so
// repeated SignMap calls accumulate a proof list (multi-signature).
//
// Registering a signer identifier is the one side effect; when the resolver
// reports an unseen key it registers it, and a concurrent-registration loss
// surfaces as CodeIdentifierConflict.
func (c *Codec) SignMap(ctx context.Context, keyPair keys.KeyPair, claims map[string]any, opts Options) (signed map[string]any, err error) {
	defer convertPanics(&err)

	opts = opts.withDefaults()

	payload, err := canonicalPayload(claims, opts, opts.ProofField)
	if err != nil {
		return nil, err
	}

	signature := opts.Signature
	if signature == nil {
		if len(keyPair.Secret) != ed25519.PrivateKeySize {
			return nil, domerr.Newf(domerr.CodeInvalidInput, "secret key must be %d bytes", ed25519.PrivateKeySize)
		}
		signature = ed25519.Sign(ed25519.PrivateKey(keyPair.Secret), payload)
	}

	bind := opts.KeyBinder
	if bind == nil {
		bind = c.defaultKeyBinder
	}
	signerID, err := bind(ctx, keyPair.Public)
	if err != nil {
		return nil, err
	}

	proofObject := map[string]any{
		"type":              Type,
		opts.KeyField:       signerID,
		opts.SignatureField: enc.Show(signature),
	}

	signed = make(map[string]any, len(claims)+1)
	for k, v := range claims {
		signed[k] = v
	}
	switch existing := signed[opts.ProofField].(type) {
	case nil:
		signed[opts.ProofField] = proofObject
	case []any:
		signed[opts.ProofField] = append(append([]any{}, existing...), proofObject)
	case map[string]any:
		signed[opts.ProofField] = []any{existing, proofObject}
	default:
		return nil, domerr.Newf(domerr.CodeInvalidInput, "existing %q field is not a proof", opts.ProofField)
	}
	return signed, nil
}

// VerifyMap checks every proof attached to candidate. All proofs must verify
// against the canonical bytes of the candidate minus ignored fields minus
// the proof field; the first failure aborts with CodeSignatureInvalid
// carrying the canonical form and the offending proof as diagnostics.
func (c *Codec) VerifyMap(ctx context.Context, candidate map[string]any, opts Options) (err error) {
	defer convertPanics(&err)

	opts = opts.withDefaults()

	raw, present := candidate[opts.ProofField]
	if !present {
		return domerr.Newf(domerr.CodeMissingProof, "no %q field on candidate", opts.ProofField)
	}
	proofs, err := normalizeProofs(raw, opts.ProofField)
	if err != nil {
		return err
	}

	payload, err := canonicalPayload(candidate, opts, opts.ProofField)
	if err != nil {
		return err
	}

	extract := opts.KeyExtractor
	if extract == nil {
		extract = func(ctx context.Context, proofObject map[string]any) ([]byte, error) {
			return c.firstCandidateKey(ctx, proofObject, opts.KeyField)
		}
	}

	for i, proofObject := range proofs {
		publicKey, err := extract(ctx, proofObject)
		if err != nil {
			return err
		}
		if len(publicKey) != ed25519.PublicKeySize {
			return domerr.Newf(domerr.CodeSignatureInvalid, "proof %d: verification key has wrong size", i).
				WithDiagnostic("proof", proofObject)
		}
		sigText, ok := proofObject[opts.SignatureField].(string)
		if !ok {
			return domerr.Newf(domerr.CodeSignatureInvalid, "proof %d: missing %q", i, opts.SignatureField).
				WithDiagnostic("proof", proofObject)
		}
		signature, err := enc.Read(sigText)
		if err != nil {
			return domerr.Wrap(domerr.CodeSignatureInvalid, fmt.Sprintf("proof %d: undecodable signature", i), err).
				WithDiagnostic("proof", proofObject)
		}
		if !ed25519.Verify(ed25519.PublicKey(publicKey), payload, signature) {
			return domerr.Newf(domerr.CodeSignatureInvalid, "proof %d: signature does not match canonical form", i).
				WithDiagnostic("proof", proofObject).
				WithDiagnostic("canonical", string(payload)).
				WithDiagnostic("signature", sigText)
		}
	}
	return nil
}

func (c *Codec) defaultKeyBinder(ctx context.Context, publicKey []byte) (string, error) {
	if c.resolver == nil {
		return "", domerr.New(domerr.CodeMissingIdentifier, "no identifier resolver configured")
	}
	ident, err := c.resolver.RegisterIfAbsent(ctx, publicKey)
	if err != nil {
		return "", err
	}
	return ident.DID, nil
}

func (c *Codec) firstCandidateKey(ctx context.Context, proofObject map[string]any, keyField string) ([]byte, error) {
	signerID, ok := proofObject[keyField].(string)
	if !ok || signerID == "" {
		return nil, domerr.Newf(domerr.CodeMissingIdentifier, "proof has no %q field", keyField)
	}
	if c.resolver == nil {
		return nil, domerr.New(domerr.CodeMissingIdentifier, "no identifier resolver configured")
	}
	candidates, err := c.resolver.Resolve(ctx, signerID)
	if err != nil {
		return nil, err
	}
	return candidates[0], nil
}

// canonicalPayload builds the exact bytes signatures cover: the candidate
// minus ignored fields minus the proof field, canonicalised.
func canonicalPayload(claims map[string]any, opts Options, proofField string) ([]byte, error) {
	filtered := make(map[string]any, len(claims))
	for k, v := range claims {
		filtered[k] = v
	}
	delete(filtered, proofField)
	for _, field := range opts.IgnoreFields {
		delete(filtered, field)
	}
	return canonical.Bytes(filtered)
}

func normalizeProofs(raw any, proofField string) ([]map[string]any, error) {
	switch v := raw.(type) {
	case map[string]any:
		return []map[string]any{v}, nil
	case []any:
		if len(v) == 0 {
			return nil, domerr.Newf(domerr.CodeEmptyProofList, "%q holds an empty proof list", proofField)
		}
		proofs := make([]map[string]any, len(v))
		for i, elem := range v {
			obj, ok := elem.(map[string]any)
			if !ok {
				return nil, domerr.Newf(domerr.CodeSignatureInvalid, "proof %d is not an object", i)
			}
			proofs[i] = obj
		}
		return proofs, nil
	case nil:
		return nil, domerr.Newf(domerr.CodeEmptyProofList, "%q is null", proofField)
	default:
		return nil, domerr.Newf(domerr.CodeSignatureInvalid, "%q is neither a proof nor a proof list", proofField)
	}
}

// convertPanics keeps faults from primitive routines inside the error
// taxonomy; nothing escapes SignMap/VerifyMap as a panic.
func convertPanics(err *error) {
	if r := recover(); r != nil {
		*err = domerr.Newf(domerr.CodeSignatureInvalid, "signature primitive fault: %v", r)
	}
}
