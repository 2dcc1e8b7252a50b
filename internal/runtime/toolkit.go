package runtime

import (
	"context"

	"github.com/canectors/flow/internal/enrich"
	"github.com/canectors/flow/internal/errhandling"
	"github.com/canectors/flow/internal/join"
	"github.com/canectors/flow/internal/stream"
	"github.com/canectors/flow/pkg/connector"
)

// Toolkit exposes the join, enrich, stream and retry algorithms bound to one
// RunConfig. The orchestrator places the toolkit of the current run on the
// context passed to capabilities; they retrieve it with ToolkitFrom.
type Toolkit struct {
	config    RunConfig
	policy    *errhandling.Policy
	processor *stream.Processor
}

// NewToolkit binds the algorithms to cfg.
func NewToolkit(cfg RunConfig, opts ...errhandling.PolicyOption) *Toolkit {
	return &Toolkit{
		config:    cfg,
		policy:    errhandling.NewPolicy(cfg.retryConfig(), opts...),
		processor: stream.NewProcessor(cfg.streamConfig()),
	}
}

// Config returns the run configuration the toolkit is bound to.
func (t *Toolkit) Config() RunConfig {
	return t.config
}

// Policy returns the retry policy of the run.
func (t *Toolkit) Policy() *errhandling.Policy {
	return t.policy
}

// Join combines two record lists by key.
func (t *Toolkit) Join(left, right connector.Value, spec join.Spec) (connector.Value, error) {
	return join.Join(left, right, spec)
}

// Enrich applies fn to every item of v. Parallelism follows ParallelEnabled and
// the batch size is MaxParallel.
func (t *Toolkit) Enrich(ctx context.Context, v connector.Value, fn enrich.Func) (connector.Value, error) {
	return enrich.Enrich(ctx, v, fn, enrich.Options{
		Parallel:  t.config.ParallelEnabled,
		BatchSize: t.config.MaxParallel,
	})
}

// Stream runs fn over items through the chunked stream processor.
func (t *Toolkit) Stream(ctx context.Context, items []any, fn stream.ChunkFunc, onChunk func(any)) ([]any, error) {
	return t.processor.Process(ctx, items, fn, onChunk)
}

// ExecuteWithRecovery runs op under the retry policy.
func (t *Toolkit) ExecuteWithRecovery(ctx context.Context, label string, op errhandling.Operation) (any, error) {
	return t.policy.Execute(ctx, label, op)
}

type toolkitKey struct{}

// WithToolkit returns a context carrying t.
func WithToolkit(ctx context.Context, t *Toolkit) context.Context {
	return context.WithValue(ctx, toolkitKey{}, t)
}

// ToolkitFrom returns the toolkit of the current run, or a toolkit bound to
// DefaultRunConfig when ctx carries none.
func ToolkitFrom(ctx context.Context) *Toolkit {
	if t, ok := ctx.Value(toolkitKey{}).(*Toolkit); ok && t != nil {
		return t
	}
	return NewToolkit(DefaultRunConfig())
}
