package credential

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"vouch/internal/audit"
	"vouch/internal/enc"
	"vouch/internal/identifier"
	"vouch/internal/keys"
	"vouch/internal/platform/metrics"
	"vouch/internal/proof"
	"vouch/pkg/domerr"
	"vouch/pkg/platform/sentinel"
	strutil "vouch/pkg/platform/strings"
)

// Chain issues and amends credentials and resolves chain tips. All writes go
// through the store; records are never mutated after insertion.
type Chain struct {
	codec    *proof.Codec
	resolver *identifier.Resolver
	store    Store

	metrics *metrics.Metrics
	audit   *audit.Publisher
	tracer  trace.Tracer
	clock   func() time.Time
}

// ChainOption configures a Chain.
type ChainOption func(*Chain)

// WithMetrics wires issuance/verification counters.
func WithMetrics(m *metrics.Metrics) ChainOption {
	return func(c *Chain) { c.metrics = m }
}

// WithAudit wires the audit publisher.
func WithAudit(p *audit.Publisher) ChainOption {
	return func(c *Chain) { c.audit = p }
}

// WithChainClock sets the clock function for testability.
func WithChainClock(clock func() time.Time) ChainOption {
	return func(c *Chain) {
		if clock != nil {
			c.clock = clock
		}
	}
}

func NewChain(codec *proof.Codec, resolver *identifier.Resolver, store Store, opts ...ChainOption) *Chain {
	c := &Chain{
		codec:    codec,
		resolver: resolver,
		store:    store,
		tracer:   otel.Tracer("vouch/internal/credential"),
		clock:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// IssueOptions carry the optional parts of an issuance.
type IssueOptions struct {
	// AmendingKeys are the public keys authorized to amend this credential.
	// An empty list makes the credential final: no key, the issuer's
	// included, may amend it.
	AmendingKeys [][]byte
	// ValidUntil closes the validity window; nil means no expiry.
	ValidUntil *time.Time
}

// Issue signs a fresh credential over the subject claims and persists it as
// the root of a new chain.
func (c *Chain) Issue(ctx context.Context, issuer keys.KeyPair, subject string, subjectClaims map[string]any, contexts, types []string, opts IssueOptions) (Record, error) {
	ctx, span := c.tracer.Start(ctx, "credential.Issue")
	defer span.End()

	rec, err := c.issue(ctx, issuer, subject, subjectClaims, contexts, types, opts, nil)
	if err != nil {
		span.RecordError(err)
		return Record{}, err
	}
	if c.metrics != nil {
		c.metrics.CredentialsIssued.Inc()
	}
	c.emit(audit.ActionIssued, rec)
	return rec, nil
}

// Amend issues a new credential that supersedes prior's claims for the same
// subject. The prior record is left untouched; the amendment references it
// and carries the authorization list forward. The issuer key must appear in
// prior's amendingKeys.
func (c *Chain) Amend(ctx context.Context, issuer keys.KeyPair, newClaims map[string]any, prior Record) (Record, error) {
	ctx, span := c.tracer.Start(ctx, "credential.Amend")
	defer span.End()

	if !slices.Contains(prior.AmendingKeys, enc.Show(issuer.Public)) {
		return Record{}, domerr.Newf(domerr.CodeUnauthorizedAmender,
			"key %s is not authorized to amend credential %s",
			identifier.Fingerprint(issuer.Public), prior.ID)
	}

	merged := prior.SubjectClaims()
	for k, v := range newClaims {
		merged[k] = v
	}

	amendingKeys, err := decodeKeys(prior.AmendingKeys)
	if err != nil {
		return Record{}, err
	}
	opts := IssueOptions{AmendingKeys: amendingKeys, ValidUntil: prior.ValidUntil}

	rec, err := c.issue(ctx, issuer, prior.Subject, merged, prior.Contexts, prior.Types, opts, &prior.ID)
	if err != nil {
		span.RecordError(err)
		return Record{}, err
	}
	if c.metrics != nil {
		c.metrics.CredentialsAmended.Inc()
	}
	c.emit(audit.ActionAmended, rec)
	return rec, nil
}

// Tip walks forward from any record in a chain to its most recent amendment.
func (c *Chain) Tip(ctx context.Context, id uuid.UUID) (Record, error) {
	rec, err := c.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return Record{}, domerr.Newf(domerr.CodeNotFound, "credential %s not found", id)
		}
		return Record{}, fmt.Errorf("load credential %s: %w", id, err)
	}
	for {
		next, err := c.store.FindByPrior(ctx, rec.ID)
		if errors.Is(err, sentinel.ErrNotFound) {
			return rec, nil
		}
		if err != nil {
			return Record{}, fmt.Errorf("walk chain from %s: %w", rec.ID, err)
		}
		rec = next
	}
}

// Verify checks the proofs on a single record.
func (c *Chain) Verify(ctx context.Context, rec Record) error {
	if err := c.codec.VerifyMap(ctx, rec.Claims, proof.Options{}); err != nil {
		c.recordFailure(rec, err)
		return err
	}
	return nil
}

// VerifyChain verifies every link from rec back to the chain root. Besides
// checking each record's proofs, it re-checks amender authorization: every
// amendment's signer key must appear in its predecessor's amendingKeys. A
// credential built by a foreign implementation that skipped the
// construction-time check still fails here.
func (c *Chain) VerifyChain(ctx context.Context, rec Record) error {
	ctx, span := c.tracer.Start(ctx, "credential.VerifyChain")
	defer span.End()

	current := rec
	for {
		if err := c.codec.VerifyMap(ctx, current.Claims, proof.Options{}); err != nil {
			span.RecordError(err)
			c.recordFailure(current, err)
			return err
		}
		if current.PriorID == nil {
			return nil
		}
		prior, err := c.store.FindByID(ctx, *current.PriorID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return domerr.Newf(domerr.CodeNotFound, "prior credential %s not found", *current.PriorID)
			}
			return fmt.Errorf("load prior credential: %w", err)
		}
		signerKeys, err := c.signerKeys(ctx, current.Claims)
		if err != nil {
			return err
		}
		for _, key := range signerKeys {
			if !slices.Contains(prior.AmendingKeys, enc.Show(key)) {
				err := domerr.Newf(domerr.CodeUnauthorizedAmender,
					"amendment %s signed by key %s absent from prior credential's amendingKeys",
					current.ID, identifier.Fingerprint(key))
				span.RecordError(err)
				c.recordFailure(current, err)
				return err
			}
		}
		current = prior
	}
}

func (c *Chain) issue(ctx context.Context, issuer keys.KeyPair, subject string, subjectClaims map[string]any, contexts, types []string, opts IssueOptions, priorID *uuid.UUID) (Record, error) {
	if subject == "" {
		return Record{}, domerr.New(domerr.CodeInvalidInput, "subject must not be empty")
	}

	issuerIdent, err := c.resolver.RegisterIfAbsent(ctx, issuer.Public)
	if err != nil {
		return Record{}, err
	}

	id := uuid.New()
	issuedAt := c.clock().UTC().Truncate(time.Second)
	contexts = withBase(ContextCredentialsV1, contexts)
	types = withBase(TypeVerifiableCredential, types)

	claims := make(map[string]any, len(subjectClaims)+1)
	for k, v := range subjectClaims {
		claims[k] = v
	}
	claims[FieldID] = subject

	doc := map[string]any{
		FieldID:           "urn:uuid:" + id.String(),
		FieldContext:      toAny(contexts),
		FieldType:         toAny(types),
		FieldIssuer:       map[string]any{FieldID: issuerIdent.DID},
		FieldIssuanceDate: issuedAt.Format(time.RFC3339),
		FieldSubject:      claims,
	}
	if opts.ValidUntil != nil {
		doc[FieldExpiration] = opts.ValidUntil.UTC().Truncate(time.Second).Format(time.RFC3339)
	}
	amendingKeys := make([]string, len(opts.AmendingKeys))
	for i, key := range opts.AmendingKeys {
		amendingKeys[i] = enc.Show(key)
	}
	if len(amendingKeys) > 0 {
		doc[FieldAmendingKeys] = toAny(amendingKeys)
	}
	if priorID != nil {
		doc[FieldPrior] = "urn:uuid:" + priorID.String()
	}

	signed, err := c.codec.SignMap(ctx, issuer, doc, proof.Options{
		KeyBinder: func(context.Context, []byte) (string, error) {
			return issuerIdent.DID, nil
		},
	})
	if err != nil {
		return Record{}, err
	}

	rec := Record{
		ID:           id,
		Subject:      subject,
		Issuer:       issuerIdent.DID,
		Contexts:     contexts,
		Types:        types,
		IssuedAt:     issuedAt,
		ValidUntil:   opts.ValidUntil,
		AmendingKeys: amendingKeys,
		PriorID:      priorID,
		Claims:       signed,
	}
	if err := c.store.Insert(ctx, rec); err != nil {
		if errors.Is(err, sentinel.ErrConflict) && priorID != nil {
			// The chain is linear: a second amendment of the same prior
			// loses to whoever persisted first.
			return Record{}, fmt.Errorf("credential %s already amended: %w", priorID, sentinel.ErrConflict)
		}
		return Record{}, fmt.Errorf("persist credential: %w", err)
	}
	return rec, nil
}

// signerKeys resolves the verification key of every proof on a signed
// document, first candidate per signer.
func (c *Chain) signerKeys(ctx context.Context, claims map[string]any) ([][]byte, error) {
	var proofObjects []map[string]any
	switch v := claims[FieldProof].(type) {
	case map[string]any:
		proofObjects = []map[string]any{v}
	case []any:
		for _, elem := range v {
			if obj, ok := elem.(map[string]any); ok {
				proofObjects = append(proofObjects, obj)
			}
		}
	}
	keysOut := make([][]byte, 0, len(proofObjects))
	for _, obj := range proofObjects {
		did, ok := obj[proof.DefaultKeyField].(string)
		if !ok {
			return nil, domerr.New(domerr.CodeMissingIdentifier, "proof has no verification method")
		}
		candidates, err := c.resolver.Resolve(ctx, did)
		if err != nil {
			return nil, err
		}
		keysOut = append(keysOut, candidates[0])
	}
	return keysOut, nil
}

func (c *Chain) emit(action string, rec Record) {
	if c.audit == nil {
		return
	}
	c.audit.Emit(audit.Event{
		Action:       action,
		CredentialID: rec.ID.String(),
		Subject:      rec.Subject,
	})
}

func (c *Chain) recordFailure(rec Record, err error) {
	if c.metrics != nil {
		c.metrics.VerificationFailures.Inc()
	}
	if c.audit != nil {
		c.audit.Emit(audit.Event{
			Action:       audit.ActionVerificationFailed,
			CredentialID: rec.ID.String(),
			Subject:      rec.Subject,
			Detail:       map[string]string{"code": string(domerr.CodeOf(err))},
		})
	}
}

func decodeKeys(encoded []string) ([][]byte, error) {
	keysOut := make([][]byte, len(encoded))
	for i, s := range encoded {
		key, err := enc.Read(s)
		if err != nil {
			return nil, err
		}
		keysOut[i] = key
	}
	return keysOut, nil
}

func withBase(base string, rest []string) []string {
	out := []string{base}
	for _, s := range strutil.DedupeAndTrim(rest) {
		if s != base {
			out = append(out, s)
		}
	}
	return out
}

func toAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
