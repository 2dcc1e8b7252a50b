// Package enrich applies a per-item function across a list or map value,
// either strictly sequentially or in ordered parallel batches.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/canectors/flow/pkg/connector"
)

// DefaultBatchSize is used when Options.BatchSize is not positive.
const DefaultBatchSize = 5

// Func enriches one item. For map values, key is the entry key; for lists it is empty.
type Func func(ctx context.Context, key string, item any) (any, error)

// Options selects the execution mode.
type Options struct {
	// Parallel runs items of a batch concurrently
	Parallel bool
	// BatchSize is the number of items started together in parallel mode
	BatchSize int
}

// ItemError identifies the item whose enrichment failed.
type ItemError struct {
	Index int
	Key   string
	Err   error
}

func (e *ItemError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("enriching entry %q: %v", e.Key, e.Err)
	}
	return fmt.Sprintf("enriching item %d: %v", e.Index, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}

// Enrich applies fn to every element of a list, or every entry of a map, and
// returns a value of the same shape. Map entries are visited in sorted key order.
// A null or scalar value is passed to fn once as a single item.
// The first failure aborts the call.
func Enrich(ctx context.Context, v connector.Value, fn Func, opts Options) (connector.Value, error) {
	switch v.Kind() {
	case connector.KindList:
		items, _ := v.AsList()
		out, err := run(ctx, items, func(ctx context.Context, i int, item any) (any, error) {
			return fn(ctx, "", item)
		}, opts)
		if err != nil {
			return connector.Null(), err
		}
		return connector.List(out), nil

	case connector.KindMap:
		m, _ := v.AsMap()
		keys := slices.Sorted(maps.Keys(m))
		values := make([]any, len(keys))
		for i, k := range keys {
			values[i] = m[k]
		}
		out, err := run(ctx, values, func(ctx context.Context, i int, item any) (any, error) {
			res, err := fn(ctx, keys[i], item)
			if err != nil {
				return nil, &ItemError{Index: i, Key: keys[i], Err: err}
			}
			return res, nil
		}, opts)
		if err != nil {
			return connector.Null(), err
		}
		result := make(map[string]any, len(keys))
		for i, k := range keys {
			result[k] = out[i]
		}
		return connector.Map(result), nil

	default:
		res, err := fn(ctx, "", v.Interface())
		if err != nil {
			return connector.Null(), err
		}
		return connector.ValueOf(res), nil
	}
}

func run(ctx context.Context, items []any, fn func(context.Context, int, any) (any, error), opts Options) ([]any, error) {
	wrapped := func(ctx context.Context, i int, item any) (any, error) {
		res, err := fn(ctx, i, item)
		if err != nil {
			var ie *ItemError
			if errors.As(err, &ie) {
				return nil, err
			}
			return nil, &ItemError{Index: i, Err: err}
		}
		return res, nil
	}
	if opts.Parallel {
		return Batched(ctx, items, opts.BatchSize, wrapped)
	}
	return Sequential(ctx, items, wrapped)
}

// Sequential applies fn to each item in order, waiting for every call before
// starting the next one.
func Sequential[T, R any](ctx context.Context, items []T, fn func(context.Context, int, T) (R, error)) ([]R, error) {
	out := make([]R, len(items))
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := fn(ctx, i, item)
		if err != nil {
			return nil, err
		}
		out[i] = res
	}
	return out, nil
}

// Batched splits items into contiguous chunks of batchSize. All calls of a chunk
// run concurrently; the next chunk starts only after the current one completed.
// Results are written by index, so output order equals input order.
func Batched[T, R any](ctx context.Context, items []T, batchSize int, fn func(context.Context, int, T) (R, error)) ([]R, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	out := make([]R, len(items))
	for start := 0; start < len(items); start += batchSize {
		end := min(start+batchSize, len(items))
		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			g.Go(func() error {
				res, err := fn(gctx, i, items[i])
				if err != nil {
					return err
				}
				out[i] = res
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}
	return out, nil
}
