// Package fold implements the chunked fold-then-merge helper spec.md §5
// describes generically ("the history is scanned by a fold framework that
// splits into chunks, computes per-chunk partial maps, and merges via
// associative combiners"). The list-append and rw-register analyzers use it
// to parallelize per-key edge inference.
package fold

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Map computes one item's partial result.
type Map[I any, T any] func(item I) T

// Merge combines two partial results into one. Must be associative and
// commutative so that chunk boundaries never leak into the result (spec.md
// §5 "Ordering guarantees").
type Merge[T any] func(a, b T) T

// Parallel splits items into up to workers chunks, computes each item's
// partial result with compute, and merges everything with merge. Workers is
// clamped to [1, len(items)].
func Parallel[I any, T any](ctx context.Context, items []I, workers int, zero T, compute Map[I, T], merge Merge[T]) (T, error) {
	if workers < 1 {
		workers = 1
	}
	if len(items) == 0 {
		return zero, nil
	}
	if workers > len(items) {
		workers = len(items)
	}

	chunks := make([][]I, workers)
	for i, it := range items {
		chunks[i%workers] = append(chunks[i%workers], it)
	}

	partials := make([]T, workers)
	eg, egCtx := errgroup.WithContext(ctx)
	for i, chunk := range chunks {
		i, chunk := i, chunk
		eg.Go(func() error {
			acc := zero
			for _, it := range chunk {
				select {
				case <-egCtx.Done():
					return egCtx.Err()
				default:
				}
				acc = merge(acc, compute(it))
			}
			partials[i] = acc
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		var zeroT T
		return zeroT, err
	}

	out := zero
	for _, p := range partials {
		out = merge(out, p)
	}
	return out, nil
}
