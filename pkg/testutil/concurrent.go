// Package testutil holds helpers shared by package tests.
package testutil

import (
	"context"
	"sync"
	"sync/atomic"

	dErrors "callgate/pkg/domain-errors"
)

// ConcurrentResult tallies outcomes of concurrent test operations.
type ConcurrentResult struct {
	Successes   int32
	RateLimited int32
	Unavailable int32
	Errors      int32
}

func (r *ConcurrentResult) Total() int32 {
	return r.Successes + r.RateLimited + r.Unavailable + r.Errors
}

// RunConcurrent runs fn on n goroutines at once and buckets the returned
// errors by domain code: rate limited, store unavailable, or anything else.
func RunConcurrent(n int, fn func(idx int) error) *ConcurrentResult {
	var wg sync.WaitGroup
	var successes, limited, unavailable, errs atomic.Int32
	start := make(chan struct{})

	for i := range n {
		wg.Go(func() {
			<-start
			err := fn(i)
			switch {
			case err == nil:
				successes.Add(1)
			case dErrors.HasCode(err, dErrors.CodeRateLimited):
				limited.Add(1)
			case dErrors.HasCode(err, dErrors.CodeStoreUnavailable):
				unavailable.Add(1)
			default:
				errs.Add(1)
			}
		})
	}
	close(start)
	wg.Wait()

	return &ConcurrentResult{
		Successes:   successes.Load(),
		RateLimited: limited.Load(),
		Unavailable: unavailable.Load(),
		Errors:      errs.Load(),
	}
}

// RunConcurrentCtx is RunConcurrent for functions that take a context.
func RunConcurrentCtx(ctx context.Context, n int, fn func(ctx context.Context, idx int) error) *ConcurrentResult {
	return RunConcurrent(n, func(idx int) error {
		return fn(ctx, idx)
	})
}

// RunConcurrentCollect runs fn on n goroutines and returns every error.
func RunConcurrentCollect(n int, fn func(idx int) error) (successes int32, errs []error) {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var ok atomic.Int32

	for i := range n {
		wg.Go(func() {
			if err := fn(i); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				return
			}
			ok.Add(1)
		})
	}
	wg.Wait()
	return ok.Load(), errs
}
