// Package throttle bounds how much outbound tracker work runs at once.
package throttle

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Pool limits concurrent sync runs using a weighted semaphore. Every import,
// sync-now and single-task run goes through one shared Pool so a burst of
// requests cannot open unbounded connections to Jira or OpenProject.
type Pool struct {
	sem *semaphore.Weighted
}

// NewPool creates a Pool that allows at most limit concurrent runs.
func NewPool(limit int) *Pool {
	if limit < 1 {
		limit = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(limit))}
}

// Run acquires a slot, runs fn, and releases the slot.
// Returns ctx.Err() if the context is cancelled while waiting.
// A nil pool runs fn directly.
func (p *Pool) Run(ctx context.Context, fn func() error) error {
	if p == nil || p.sem == nil {
		return fn()
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return fn()
}

// Map calls fn for every item with at most limit calls in flight and returns
// the results in input order. Per-item failures are returned in errs rather
// than cancelling the remaining items; only ctx cancellation stops the batch.
func Map[T, R any](ctx context.Context, limit int, items []T, fn func(context.Context, T) (R, error)) (results []R, errs []error, err error) {
	if limit < 1 {
		limit = 1
	}
	results = make([]R, len(items))
	errs = make([]error, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, item := range items {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			results[i], errs[i] = fn(gctx, item)
			return nil
		})
	}
	_ = g.Wait()
	return results, errs, ctx.Err()
}
