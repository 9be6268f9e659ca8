package credential

import (
	"context"

	"github.com/google/uuid"
)

// Store persists chain links. Insert must enforce a single successor per
// prior credential (insert-or-conflict on PriorID) so the tip is always
// unique, and must be atomic: a credential and its tag links land together
// or not at all.
type Store interface {
	Insert(ctx context.Context, rec Record) error
	FindByID(ctx context.Context, id uuid.UUID) (Record, error)
	// FindByPrior returns the record that amends the given credential, or
	// sentinel.ErrNotFound when the given credential is the tip.
	FindByPrior(ctx context.Context, priorID uuid.UUID) (Record, error)
	FindBySubject(ctx context.Context, subject string) ([]Record, error)
}
