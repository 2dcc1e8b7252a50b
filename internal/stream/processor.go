// Package stream provides chunked processing of large inputs and lazy,
// single-traversal streams with produce, map and merge stages.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/canectors/flow/internal/logger"
	"github.com/canectors/flow/pkg/connector"
)

// Defaults for Config.
const (
	DefaultBatchSize    = 100
	DefaultChunkTimeout = 30 * time.Second
)

// ErrChunkTimeout is logged for chunks that did not complete in time.
var ErrChunkTimeout = errors.New("chunk timed out")

// Config configures a Processor.
type Config struct {
	// Enabled splits the input into chunks. When false the chunk function
	// receives the whole input once.
	Enabled bool
	// BatchSize is the chunk size
	BatchSize int
	// ChunkTimeout bounds each chunk call
	ChunkTimeout time.Duration
}

// ChunkFunc processes one chunk. Its result may be a slice, a list Value or a
// single value.
type ChunkFunc func(ctx context.Context, chunk []any) (any, error)

// Processor runs a ChunkFunc over an input in fixed-size chunks.
type Processor struct {
	cfg Config
	log *slog.Logger
}

// NewProcessor creates a processor, filling zero sizes with defaults.
func NewProcessor(cfg Config) *Processor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.ChunkTimeout <= 0 {
		cfg.ChunkTimeout = DefaultChunkTimeout
	}
	return &Processor{cfg: cfg, log: logger.WithComponent("stream")}
}

// Config returns the effective configuration.
func (p *Processor) Config() Config {
	return p.cfg
}

// Process runs fn over items.
//
// With streaming disabled fn is called once with the full input, its error,
// if any, is returned and onChunk is not called. With streaming enabled each
// chunk runs under the chunk timeout; successful results are appended in chunk
// order and passed raw to onChunk, while failed or timed-out chunks are logged
// and skipped. In that mode Process only returns an error when ctx is done.
func (p *Processor) Process(ctx context.Context, items []any, fn ChunkFunc, onChunk func(result any)) ([]any, error) {
	if !p.cfg.Enabled {
		res, err := fn(ctx, items)
		if err != nil {
			return nil, err
		}
		return Normalize(res), nil
	}

	out := make([]any, 0, len(items))
	chunks := (len(items) + p.cfg.BatchSize - 1) / p.cfg.BatchSize
	skipped := 0
	for i := 0; i < chunks; i++ {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		start := i * p.cfg.BatchSize
		end := min(start+p.cfg.BatchSize, len(items))

		res, err := p.runChunk(ctx, items[start:end:end], fn)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return out, ctxErr
			}
			skipped++
			p.log.Warn("chunk skipped",
				slog.Int("chunk_index", i),
				slog.Int("chunk_size", end-start),
				slog.String("error", err.Error()),
			)
			continue
		}
		out = append(out, Normalize(res)...)
		if onChunk != nil {
			onChunk(res)
		}
	}
	if skipped > 0 {
		p.log.Info("stream processing completed with skipped chunks",
			slog.Int("chunks", chunks),
			slog.Int("skipped", skipped),
		)
	}
	return out, nil
}

type chunkResult struct {
	value any
	err   error
}

// runChunk races fn against the chunk timeout. A timed-out call is abandoned;
// its goroutine finishes on its own and its result is discarded.
func (p *Processor) runChunk(ctx context.Context, chunk []any, fn ChunkFunc) (any, error) {
	cctx, cancel := context.WithTimeout(ctx, p.cfg.ChunkTimeout)
	defer cancel()

	done := make(chan chunkResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- chunkResult{err: fmt.Errorf("chunk panicked: %v", r)}
			}
		}()
		v, err := fn(cctx, chunk)
		done <- chunkResult{value: v, err: err}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-cctx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w after %s", ErrChunkTimeout, p.cfg.ChunkTimeout)
	}
}

// Normalize turns a chunk result into a slice: slices and list values
// contribute their elements, nil contributes nothing and anything else is a
// single element.
func Normalize(res any) []any {
	switch t := res.(type) {
	case nil:
		return nil
	case []any:
		return t
	case connector.Value:
		switch t.Kind() {
		case connector.KindNull:
			return nil
		case connector.KindList:
			items, _ := t.AsList()
			return items
		default:
			return []any{t.Interface()}
		}
	}
	if v := connector.ValueOf(res); v.Kind() == connector.KindList {
		items, _ := v.AsList()
		return items
	}
	return []any{res}
}
