// Package workerpool runs a function over slices of work with bounded
// concurrency.
package workerpool

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Run calls fn once per item using up to workers goroutines. The first
// error cancels the context passed to the remaining calls and is returned
// once every started call has finished. Items not yet started when the
// context ends are skipped.
func Run[T any](ctx context.Context, items []T, workers int, fn func(context.Context, int, T) error) error {
	if len(items) == 0 {
		return nil
	}
	if workers <= 0 {
		workers = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, item := range items {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			return fn(gctx, i, item)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Chunk splits items into consecutive slices of at most size elements.
// The chunks share the backing array of items.
func Chunk[T any](items []T, size int) [][]T {
	if size <= 0 || len(items) == 0 {
		return nil
	}
	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		chunks = append(chunks, items[start:end:end])
	}
	return chunks
}
