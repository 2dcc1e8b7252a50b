// Package runtime provides the pipeline execution engine.
// It sequences extract, transform and load steps, memoizes extractions and
// hands capabilities the join, enrich, stream and retry algorithms.
package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/canectors/flow/internal/cache"
	"github.com/canectors/flow/internal/enrich"
	"github.com/canectors/flow/internal/errhandling"
	"github.com/canectors/flow/internal/join"
	"github.com/canectors/flow/internal/logger"
	"github.com/canectors/flow/internal/metrics"
	"github.com/canectors/flow/internal/plugin"
	"github.com/canectors/flow/internal/registry"
	"github.com/canectors/flow/internal/stream"
	"github.com/canectors/flow/pkg/connector"
)

// ErrUnsupportedConfig is returned when a capability rejects a step config.
var ErrUnsupportedConfig = errors.New("capability does not support config")

// Orchestrator owns an ordered list of steps and executes them in sequence.
//
// The orchestrator only talks to capabilities through the connector
// interfaces. Its registries, plugin manager and cache are per instance; a
// cache is shared between orchestrators only when injected with WithCache.
type Orchestrator struct {
	mu     sync.Mutex
	id     string
	name   string
	config RunConfig
	steps  []connector.Step

	regs    *registry.Registries
	plugins *plugin.Manager
	cache   *cache.Cache[connector.Value]
	metrics *metrics.Recorder

	policyOpts []errhandling.PolicyOption
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithConfig sets the initial run configuration.
func WithConfig(cfg RunConfig) Option {
	return func(o *Orchestrator) { o.config = cfg }
}

// WithCache injects a cache, typically shared with other orchestrators.
func WithCache(c *cache.Cache[connector.Value]) Option {
	return func(o *Orchestrator) { o.cache = c }
}

// WithName sets the human-readable pipeline name used in logs and metrics.
func WithName(name string) Option {
	return func(o *Orchestrator) { o.name = name }
}

// WithID overrides the generated pipeline ID.
func WithID(id string) Option {
	return func(o *Orchestrator) { o.id = id }
}

// WithMetrics records run and step metrics.
func WithMetrics(r *metrics.Recorder) Option {
	return func(o *Orchestrator) { o.metrics = r }
}

// WithPolicyOptions passes options to the retry policy of every run.
func WithPolicyOptions(opts ...errhandling.PolicyOption) Option {
	return func(o *Orchestrator) { o.policyOpts = append(o.policyOpts, opts...) }
}

// StepOption configures a step added with AddStep.
type StepOption func(*connector.Step)

// Optional marks a step whose failure does not stop the run.
func Optional() StepOption {
	return func(s *connector.Step) { s.Optional = true }
}

// New creates an Orchestrator with DefaultRunConfig unless overridden.
func New(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		id:     uuid.NewString(),
		config: DefaultRunConfig(),
		regs:   registry.New(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.cache == nil {
		o.cache = cache.New[connector.Value](o.config.CacheTTL)
	}
	o.plugins = plugin.NewManager(o.regs)
	return o
}

// ID returns the pipeline identifier.
func (o *Orchestrator) ID() string { return o.id }

// Name returns the pipeline name.
func (o *Orchestrator) Name() string { return o.name }

// Config returns the current run configuration.
func (o *Orchestrator) Config() RunConfig {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.config
}

// SetConfig replaces the run configuration for subsequent runs.
func (o *Orchestrator) SetConfig(cfg RunConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid run config: %w", err)
	}
	o.mu.Lock()
	o.config = cfg
	o.mu.Unlock()
	return nil
}

// AddStep appends a step. Steps are never removed or reordered.
func (o *Orchestrator) AddStep(kind connector.StepKind, name string, config map[string]any, opts ...StepOption) *Orchestrator {
	step := connector.Step{Kind: kind, Name: name, Config: config}
	for _, opt := range opts {
		opt(&step)
	}
	o.mu.Lock()
	o.steps = append(o.steps, step)
	o.mu.Unlock()
	return o
}

// Extract appends an extract step.
func (o *Orchestrator) Extract(name string, config map[string]any, opts ...StepOption) *Orchestrator {
	return o.AddStep(connector.Extract, name, config, opts...)
}

// Transform appends a transform step.
func (o *Orchestrator) Transform(name string, config map[string]any, opts ...StepOption) *Orchestrator {
	return o.AddStep(connector.Transform, name, config, opts...)
}

// Load appends a load step.
func (o *Orchestrator) Load(name string, config map[string]any, opts ...StepOption) *Orchestrator {
	return o.AddStep(connector.Load, name, config, opts...)
}

// Steps returns a copy of the step sequence.
func (o *Orchestrator) Steps() []connector.Step {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.steps)
}

// Registries returns the capability registries of this orchestrator.
func (o *Orchestrator) Registries() *registry.Registries { return o.regs }

// Plugins returns the plugin manager bound to the registries.
func (o *Orchestrator) Plugins() *plugin.Manager { return o.plugins }

// Cache returns the extraction cache.
func (o *Orchestrator) Cache() *cache.Cache[connector.Value] { return o.cache }

// ClearCache empties the extraction cache.
func (o *Orchestrator) ClearCache() { o.cache.Clear() }

// CacheStats returns the extraction cache statistics.
func (o *Orchestrator) CacheStats() cache.Stats { return o.cache.Stats() }

// Toolkit returns a toolkit bound to the current run configuration.
func (o *Orchestrator) Toolkit() *Toolkit {
	return NewToolkit(o.Config(), o.policyOpts...)
}

// Join combines two record lists by key.
func (o *Orchestrator) Join(left, right connector.Value, spec join.Spec) (connector.Value, error) {
	return o.Toolkit().Join(left, right, spec)
}

// Enrich applies fn to every item of v under the current configuration.
func (o *Orchestrator) Enrich(ctx context.Context, v connector.Value, fn enrich.Func) (connector.Value, error) {
	return o.Toolkit().Enrich(ctx, v, fn)
}

// Stream runs fn over items through the stream processor.
func (o *Orchestrator) Stream(ctx context.Context, items []any, fn stream.ChunkFunc, onChunk func(any)) ([]any, error) {
	return o.Toolkit().Stream(ctx, items, fn, onChunk)
}

// ExecuteWithRecovery runs op under the retry policy.
func (o *Orchestrator) ExecuteWithRecovery(ctx context.Context, label string, op errhandling.Operation) (any, error) {
	return o.Toolkit().ExecuteWithRecovery(ctx, label, op)
}

// CacheKey returns the memoization key of an extract step:
// kind:name:<JSON config with sorted keys>.
func CacheKey(step connector.Step) (string, error) {
	cfg := step.Config
	if cfg == nil {
		cfg = map[string]any{}
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("encoding config of %s %q: %w", step.Kind, step.Name, err)
	}
	return step.Kind.String() + ":" + step.Name + ":" + string(raw), nil
}

// Run executes every step in order and returns the result of the run.
// Run never returns nil; failures are reported through the result.
func (o *Orchestrator) Run(ctx context.Context) *connector.RunResult {
	o.mu.Lock()
	cfg := o.config
	steps := slices.Clone(o.steps)
	o.mu.Unlock()

	result := &connector.RunResult{
		RunID:      uuid.NewString(),
		PipelineID: o.id,
		Data:       connector.Null(),
		Success:    true,
		StartedAt:  time.Now(),
		Metadata: connector.RunMetadata{
			PerStep: make([]connector.StepResult, 0, len(steps)),
		},
	}
	rc := logger.RunContext{
		PipelineID:   o.id,
		PipelineName: o.name,
		RunID:        result.RunID,
		StepIndex:    -1,
	}
	logger.LogRunStart(rc, len(steps))
	defer o.finish(rc, result)

	if err := cfg.Validate(); err != nil {
		o.fail(result, fmt.Errorf("invalid run config: %w", err))
		return result
	}

	tk := NewToolkit(cfg, o.policyOpts...)
	ctx = WithToolkit(ctx, tk)

	current := connector.Null()
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			o.fail(result, fmt.Errorf("run cancelled before step %d (%s %q): %w", i, step.Kind, step.Name, err))
			break
		}

		src := rc.ForStep(i, step.Kind.String(), step.Name, step.Optional)
		logger.LogStepStart(src)
		start := time.Now()
		out, hit, err := o.executeStep(ctx, tk, cfg, step, current, &result.Metadata, logger.WithRun(src))
		duration := time.Since(start)

		sr := connector.StepResult{
			Name:     step.Name,
			Kind:     step.Kind,
			Duration: duration,
			Success:  err == nil,
			Optional: step.Optional,
			CacheHit: hit,
		}
		if err != nil {
			sr.Error = err.Error()
		}
		result.Metadata.PerStep = append(result.Metadata.PerStep, sr)
		logger.LogStepEnd(src, duration, hit, err)
		o.metrics.ObserveStep(step.Kind.String(), step.Name, err == nil, duration)

		if err != nil {
			if errors.Is(err, errhandling.ErrStepNotFound) {
				o.fail(result, err)
				break
			}
			if step.Optional {
				continue
			}
			o.fail(result, &errhandling.StepExecutionError{
				Index: i,
				Kind:  step.Kind.String(),
				Name:  step.Name,
				Err:   err,
			})
			break
		}
		if step.Kind != connector.Load {
			current = out
		}
	}

	result.Data = current
	return result
}

func (o *Orchestrator) fail(result *connector.RunResult, err error) {
	result.Success = false
	result.Error = err
	result.ErrorMessage = err.Error()
}

func (o *Orchestrator) finish(rc logger.RunContext, result *connector.RunResult) {
	result.CompletedAt = time.Now()
	result.Metadata.TotalDuration = result.CompletedAt.Sub(result.StartedAt)
	logger.LogRunEnd(rc, result.Success, result.Metadata.TotalDuration,
		result.Metadata.CacheHits, result.Metadata.CacheMisses)
	if result.Error != nil {
		logger.LogError("pipeline run failed", logger.ErrorContext{
			RunContext: rc,
			Err:        result.Error,
			Duration:   result.Metadata.TotalDuration,
		})
	}
	label := o.name
	if label == "" {
		label = o.id
	}
	o.metrics.ObserveRun(label, result.Success, result.Metadata.TotalDuration)
}

// executeStep resolves and invokes one step. The returned bool reports a
// cache hit.
func (o *Orchestrator) executeStep(
	ctx context.Context,
	tk *Toolkit,
	cfg RunConfig,
	step connector.Step,
	current connector.Value,
	meta *connector.RunMetadata,
	log *slog.Logger,
) (connector.Value, bool, error) {
	label := step.Kind.String() + ":" + step.Name

	switch step.Kind {
	case connector.Extract:
		ex, err := o.regs.Extractor(step.Name)
		if err != nil {
			return connector.Value{}, false, err
		}
		if !ex.Supports(step.Config) {
			return connector.Value{}, false, fmt.Errorf("%w: extractor %q", ErrUnsupportedConfig, step.Name)
		}
		invoke := func(ctx context.Context) (connector.Value, error) {
			return ex.Extract(ctx, step.Config)
		}
		if !cfg.CacheEnabled {
			v, err := o.invoke(ctx, tk, label, invoke)
			return v, false, err
		}
		return o.extractCached(ctx, tk, cfg, step, label, invoke, meta, log)

	case connector.Transform:
		tr, err := o.regs.Transformer(step.Name)
		if err != nil {
			return connector.Value{}, false, err
		}
		if !tr.Supports(step.Config) {
			return connector.Value{}, false, fmt.Errorf("%w: transformer %q", ErrUnsupportedConfig, step.Name)
		}
		v, err := o.invoke(ctx, tk, label, func(ctx context.Context) (connector.Value, error) {
			return tr.Transform(ctx, current, step.Config)
		})
		return v, false, err

	case connector.Load:
		ld, err := o.regs.Loader(step.Name)
		if err != nil {
			return connector.Value{}, false, err
		}
		if !ld.Supports(step.Config) {
			return connector.Value{}, false, fmt.Errorf("%w: loader %q", ErrUnsupportedConfig, step.Name)
		}
		// Loads are attempted once: a loader may have delivered part of the
		// value before failing, and it retries its own requests.
		v, err := ld.Load(ctx, current, step.Config)
		return v, false, err

	default:
		return connector.Value{}, false, &errhandling.StepNotFoundError{Kind: step.Kind.String(), Name: step.Name}
	}
}

func (o *Orchestrator) extractCached(
	ctx context.Context,
	tk *Toolkit,
	cfg RunConfig,
	step connector.Step,
	label string,
	invoke func(context.Context) (connector.Value, error),
	meta *connector.RunMetadata,
	log *slog.Logger,
) (connector.Value, bool, error) {
	key, err := CacheKey(step)
	if err != nil {
		log.Warn("extract step is not cacheable", slog.String("error", err.Error()))
		v, err := o.invoke(ctx, tk, label, invoke)
		return v, false, err
	}

	if v, ok := o.cache.Get(key); ok {
		meta.CacheHits++
		o.metrics.ObserveCacheLookup(true)
		return v, true, nil
	}
	meta.CacheMisses++
	o.metrics.ObserveCacheLookup(false)

	v, err := o.invoke(ctx, tk, label, invoke)
	if err != nil {
		return connector.Value{}, false, err
	}
	o.cache.SetWithTTL(key, v, cfg.CacheTTL)
	return v, false, nil
}

// invoke calls an extractor or transformer through the retry policy of the
// run. A disabled policy makes a single attempt.
func (o *Orchestrator) invoke(
	ctx context.Context,
	tk *Toolkit,
	label string,
	fn func(context.Context) (connector.Value, error),
) (connector.Value, error) {
	return errhandling.Do(ctx, tk.Policy(), label, fn)
}
