// Package identifier manages the DID-like identifiers credentials reference:
// durable names that resolve to one or more candidate public keys.
package identifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"

	"vouch/pkg/domerr"
	"vouch/pkg/platform/sentinel"
)

// Method is the DID method name for identifiers minted by this process.
const Method = "did:vouch:"

// Identifier binds one public key to a durable DID string. A DID may
// accumulate multiple keys over time (rotation); the first inserted key is
// canonical.
type Identifier struct {
	ID        uuid.UUID
	DID       string
	PublicKey []byte
	CreatedAt time.Time
}

// DIDFor renders the identifier string for a freshly minted identifier.
func DIDFor(id uuid.UUID) string {
	return Method + id.String()
}

// Fingerprint gives a short, log-safe name for a public key: multibase
// base58btc, the usual DID-key spelling.
func Fingerprint(publicKey []byte) string {
	return "z" + base58.Encode(publicKey)
}

// Store is the persistence contract. Insert must enforce uniqueness on the
// public key (insert-or-conflict) so concurrent first-time registrations can
// never silently create duplicate identifiers.
type Store interface {
	Insert(ctx context.Context, ident Identifier) error
	FindByDID(ctx context.Context, did string) ([]Identifier, error)
	FindByPublicKey(ctx context.Context, publicKey []byte) ([]Identifier, error)
}

// Resolver resolves identifier strings to candidate keys and registers
// identifiers for unseen public keys. An optional cache fronts resolution;
// registration always goes to the store.
type Resolver struct {
	store Store
	cache *Cache
	clock func() time.Time
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithCache adds a read-through resolution cache.
func WithCache(cache *Cache) ResolverOption {
	return func(r *Resolver) { r.cache = cache }
}

// WithClock sets the clock function for testability.
func WithClock(clock func() time.Time) ResolverOption {
	return func(r *Resolver) {
		if clock != nil {
			r.clock = clock
		}
	}
}

func NewResolver(store Store, opts ...ResolverOption) *Resolver {
	r := &Resolver{store: store, clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Resolve returns the candidate public keys for an identifier string, in
// insertion order.
func (r *Resolver) Resolve(ctx context.Context, did string) ([][]byte, error) {
	if r.cache != nil {
		if keys, ok := r.cache.Get(ctx, did); ok {
			return keys, nil
		}
	}
	idents, err := r.store.FindByDID(ctx, did)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, domerr.Newf(domerr.CodeMissingIdentifier, "unknown identifier %s", did)
		}
		return nil, fmt.Errorf("resolve %s: %w", did, err)
	}
	if len(idents) == 0 {
		return nil, domerr.Newf(domerr.CodeMissingIdentifier, "unknown identifier %s", did)
	}
	keys := make([][]byte, len(idents))
	for i, ident := range idents {
		keys[i] = ident.PublicKey
	}
	if r.cache != nil {
		r.cache.Set(ctx, did, keys)
	}
	return keys, nil
}

// RegisterIfAbsent returns the canonical identifier for a public key,
// creating one when none exists. A losing racer gets CodeIdentifierConflict;
// the store's uniqueness constraint guarantees no duplicate is created, and
// retrying is the caller's decision.
func (r *Resolver) RegisterIfAbsent(ctx context.Context, publicKey []byte) (Identifier, error) {
	if len(publicKey) == 0 {
		return Identifier{}, domerr.New(domerr.CodeInvalidInput, "public key must not be empty")
	}
	existing, err := r.store.FindByPublicKey(ctx, publicKey)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return Identifier{}, fmt.Errorf("lookup by public key: %w", err)
	}
	if len(existing) > 0 {
		return existing[0], nil
	}

	id := uuid.New()
	ident := Identifier{
		ID:        id,
		DID:       DIDFor(id),
		PublicKey: publicKey,
		CreatedAt: r.clock().UTC(),
	}
	if err := r.store.Insert(ctx, ident); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return Identifier{}, domerr.Newf(domerr.CodeIdentifierConflict,
				"public key %s registered concurrently", Fingerprint(publicKey))
		}
		return Identifier{}, fmt.Errorf("register identifier: %w", err)
	}
	return ident, nil
}
