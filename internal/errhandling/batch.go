package errhandling

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/canectors/flow/internal/logger"
)

// BatchResult holds the outcome of a batch of recovered operations.
// Values has one entry per operation; failed operations hold the placeholder.
type BatchResult[T any] struct {
	Values   []T
	Errors   []error
	Failures int
}

// Err returns the first error of the batch, or nil.
func (r BatchResult[T]) Err() error {
	for _, err := range r.Errors {
		if err != nil {
			return err
		}
	}
	return nil
}

func newBatchResult[T any](n int) BatchResult[T] {
	return BatchResult[T]{Values: make([]T, n), Errors: make([]error, n)}
}

func (r *BatchResult[T]) record(i int, v T, err error, placeholder T) {
	if err != nil {
		r.Values[i] = placeholder
		r.Errors[i] = err
		return
	}
	r.Values[i] = v
}

func (r *BatchResult[T]) finish(label string, mode string) {
	for _, err := range r.Errors {
		if err != nil {
			r.Failures++
		}
	}
	if r.Failures > 0 {
		logger.Warn("batch operations failed",
			slog.String("label", label),
			slog.String("mode", mode),
			slog.Int("failed", r.Failures),
			slog.Int("total", len(r.Values)),
		)
	}
}

// BatchSequential runs ops one after another through the policy. A failed
// operation contributes placeholder and does not stop the batch.
func BatchSequential[T any](ctx context.Context, p *Policy, label string, ops []func(context.Context) (T, error), placeholder T) BatchResult[T] {
	res := newBatchResult[T](len(ops))
	for i, op := range ops {
		v, err := Do(ctx, p, fmt.Sprintf("%s[%d]", labelOrDefault(label), i), op)
		res.record(i, v, err, placeholder)
	}
	res.finish(label, "sequential")
	return res
}

// BatchConcurrent starts every op at once through the policy and waits for all
// of them. Results keep the order of ops.
func BatchConcurrent[T any](ctx context.Context, p *Policy, label string, ops []func(context.Context) (T, error), placeholder T) BatchResult[T] {
	res := newBatchResult[T](len(ops))
	var g errgroup.Group
	for i, op := range ops {
		g.Go(func() error {
			v, err := Do(ctx, p, fmt.Sprintf("%s[%d]", labelOrDefault(label), i), op)
			res.record(i, v, err, placeholder)
			return nil
		})
	}
	_ = g.Wait()
	res.finish(label, "concurrent")
	return res
}
