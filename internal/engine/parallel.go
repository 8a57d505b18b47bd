package engine

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// parallelThreshold is the batch size below which scoring stays on the
// calling goroutine.
const parallelThreshold = 64

// forEachChunk runs fn over [0,n) split into contiguous chunks. Each index is
// visited exactly once, so fn may write to its own slot of a shared slice.
func forEachChunk(ctx context.Context, n int, fn func(lo, hi int)) error {
	if n < parallelThreshold {
		fn(0, n)
		return ctx.Err()
	}
	workers := runtime.GOMAXPROCS(0)
	chunk := (n + workers - 1) / workers

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for lo := 0; lo < n; lo += chunk {
		hi := min(lo+chunk, n)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fn(lo, hi)
			return nil
		})
	}
	return g.Wait()
}
