// Package credential implements issuance and amendment of signed claim
// sets. Credentials are immutable once created; state change is modeled as
// append-only amendments re-signed over the merged claims, and "current
// state" is always the most recent amendment (the tip).
package credential

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Wire field names, fixed by the protocol.
const (
	FieldContext      = "@context"
	FieldType         = "type"
	FieldID           = "id"
	FieldIssuer       = "issuer"
	FieldIssuanceDate = "issuanceDate"
	FieldSubject      = "credentialSubject"
	FieldExpiration   = "expirationDate"
	FieldAmendingKeys = "amendingKeys"
	FieldPrior        = "priorCredential"
	FieldProof        = "proof"
)

// Base context and type every credential carries.
const (
	ContextCredentialsV1     = "https://www.w3.org/2018/credentials/v1"
	TypeVerifiableCredential = "VerifiableCredential"
)

// Record is one immutable link in a credential chain. Claims holds the full
// signed document, proof included; the remaining fields are indexed copies
// for storage and chain walking.
type Record struct {
	ID           uuid.UUID
	Subject      string
	Issuer       string
	Contexts     []string
	Types        []string
	IssuedAt     time.Time
	ValidUntil   *time.Time
	AmendingKeys []string
	PriorID      *uuid.UUID
	Claims       map[string]any
}

// URN renders the credential's wire identifier.
func (r Record) URN() string {
	return "urn:uuid:" + r.ID.String()
}

// Expired reports whether the validity window has lapsed. Records without a
// window never expire.
func (r Record) Expired(now time.Time) bool {
	return r.ValidUntil != nil && now.After(*r.ValidUntil)
}

// SubjectClaims returns a copy of the credentialSubject map.
func (r Record) SubjectClaims() map[string]any {
	subject, ok := r.Claims[FieldSubject].(map[string]any)
	if !ok {
		return map[string]any{}
	}
	out := make(map[string]any, len(subject))
	for k, v := range subject {
		out[k] = v
	}
	return out
}

// WireJSON renders the signed document in the protocol's JSON shape.
func (r Record) WireJSON() ([]byte, error) {
	return json.Marshal(r.Claims)
}
