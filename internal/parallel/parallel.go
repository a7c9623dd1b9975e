// Package parallel runs embarrassingly parallel per-point loops over
// disjoint output slots.
package parallel

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// minChunk keeps tiny inputs on a single goroutine.
const minChunk = 256

// For splits [0, n) into contiguous chunks and calls fn(ctx, lo, hi) for each
// on a bounded set of goroutines. fn must only write to slots in [lo, hi).
// The first error cancels the remaining chunks and is returned.
func For(ctx context.Context, n int, fn func(ctx context.Context, lo, hi int) error) error {
	if n <= 0 {
		return ctx.Err()
	}
	workers := runtime.GOMAXPROCS(0)
	chunk := (n + workers*4 - 1) / (workers * 4)
	if chunk < minChunk {
		chunk = minChunk
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for lo := 0; lo < n; lo += chunk {
		hi := min(lo+chunk, n)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(gctx, lo, hi)
		})
	}
	return g.Wait()
}
