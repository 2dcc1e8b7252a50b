package stream

import (
	"context"
	"errors"
	"iter"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// ErrConsumed is yielded when a stream is traversed a second time.
var ErrConsumed = errors.New("stream already consumed")

// Stream is a lazy, pull-based sequence that can be traversed once. Each
// element is paired with an error; a non-nil error ends the stream.
type Stream[T any] struct {
	seq  iter.Seq2[T, error]
	used atomic.Bool
}

// New wraps seq in a single-traversal stream.
func New[T any](seq iter.Seq2[T, error]) *Stream[T] {
	return &Stream[T]{seq: seq}
}

// All returns the underlying sequence. Only the first traversal sees the
// elements; later ones yield ErrConsumed.
func (s *Stream[T]) All() iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		if s.used.Swap(true) {
			var zero T
			yield(zero, ErrConsumed)
			return
		}
		s.seq(yield)
	}
}

// Produce emits source in buffered slices of at most size elements and
// completes after the last slice.
func Produce[T any](source []T, size int) *Stream[[]T] {
	if size <= 0 {
		size = DefaultBatchSize
	}
	return New(func(yield func([]T, error) bool) {
		for start := 0; start < len(source); start += size {
			end := min(start+size, len(source))
			if !yield(source[start:end:end], nil) {
				return
			}
		}
	})
}

// Map lazily applies fn to each element of s. An upstream error, or an error
// from fn, is forwarded and ends the stream.
func Map[T, R any](s *Stream[T], fn func(T) (R, error)) *Stream[R] {
	return New(func(yield func(R, error) bool) {
		var zero R
		for v, err := range s.All() {
			if err != nil {
				yield(zero, err)
				return
			}
			r, err := fn(v)
			if err != nil {
				yield(zero, err)
				return
			}
			if !yield(r, nil) {
				return
			}
		}
	})
}

type merged[T any] struct {
	value T
	err   error
}

// Merge interleaves the elements of several streams in arrival order. It
// completes once every input completed; the first input error is forwarded
// immediately and ends the merged stream. Inputs are drained by one goroutine
// each, started when the merged stream is traversed.
func Merge[T any](ctx context.Context, streams ...*Stream[T]) *Stream[T] {
	return New(func(yield func(T, error) bool) {
		mctx, cancel := context.WithCancel(ctx)
		defer cancel()

		out := make(chan merged[T])
		g, gctx := errgroup.WithContext(mctx)
		for _, s := range streams {
			g.Go(func() error {
				for v, err := range s.All() {
					select {
					case out <- merged[T]{value: v, err: err}:
					case <-gctx.Done():
						return gctx.Err()
					}
					if err != nil {
						return err
					}
				}
				return nil
			})
		}
		go func() {
			_ = g.Wait()
			close(out)
		}()

		for {
			select {
			case m, ok := <-out:
				if !ok {
					return
				}
				if m.err != nil {
					yield(m.value, m.err)
					return
				}
				if !yield(m.value, nil) {
					return
				}
			case <-ctx.Done():
				var zero T
				yield(zero, ctx.Err())
				return
			}
		}
	})
}

// Collect drains s into a slice, stopping at the first error.
func Collect[T any](s *Stream[T]) ([]T, error) {
	var out []T
	for v, err := range s.All() {
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Flatten turns a stream of slices into a stream of elements.
func Flatten[T any](s *Stream[[]T]) *Stream[T] {
	return New(func(yield func(T, error) bool) {
		var zero T
		for batch, err := range s.All() {
			if err != nil {
				yield(zero, err)
				return
			}
			for _, v := range batch {
				if !yield(v, nil) {
					return
				}
			}
		}
	})
}
