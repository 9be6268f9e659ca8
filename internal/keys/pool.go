package keys

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Pool bounds how many password-hash derivations run at once. argon2id is
// deliberately memory-hard, so unbounded concurrent derivations can exhaust
// a host; latency-sensitive callers dispatch through a Pool instead of
// calling the package functions directly.
//
// Acquisition honors ctx, but a derivation that has started is atomic from
// the caller's perspective: cancelling ctx mid-hash does not interrupt the
// computation, the caller must discard the result.
type Pool struct {
	sem *semaphore.Weighted
}

// NewPool creates a pool admitting up to size concurrent derivations.
func NewPool(size int64) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(size)}
}

// InitMainKey is InitMainKey gated by the pool.
func (p *Pool) InitMainKey(ctx context.Context, passphrase []byte, params Params) (MainKey, Slip, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, Slip{}, err
	}
	defer p.sem.Release(1)
	return InitMainKey(passphrase, params)
}

// ReproduceMainKey is ReproduceMainKey gated by the pool.
func (p *Pool) ReproduceMainKey(ctx context.Context, passphrase []byte, slip Slip) (MainKey, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer p.sem.Release(1)
	return ReproduceMainKey(passphrase, slip)
}
