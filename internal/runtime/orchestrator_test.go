package runtime

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canectors/flow/internal/cache"
	"github.com/canectors/flow/internal/errhandling"
	"github.com/canectors/flow/internal/metrics"
	"github.com/canectors/flow/pkg/connector"
)

// =============================================================================
// Test capabilities
// =============================================================================

type stubExtractor struct {
	name  string
	calls atomic.Int32
	fn    func(ctx context.Context, config map[string]any) (connector.Value, error)
}

func (s *stubExtractor) Name() string                 { return s.name }
func (s *stubExtractor) Supports(map[string]any) bool { return true }
func (s *stubExtractor) Extract(ctx context.Context, config map[string]any) (connector.Value, error) {
	s.calls.Add(1)
	return s.fn(ctx, config)
}

type stubTransformer struct {
	name string
	fn   func(ctx context.Context, in connector.Value) (connector.Value, error)
}

func (s *stubTransformer) Name() string                 { return s.name }
func (s *stubTransformer) Supports(map[string]any) bool { return true }
func (s *stubTransformer) Transform(ctx context.Context, in connector.Value, _ map[string]any) (connector.Value, error) {
	return s.fn(ctx, in)
}

type recordingLoader struct {
	name     string
	received []connector.Value
}

func (r *recordingLoader) Name() string                 { return r.name }
func (r *recordingLoader) Supports(map[string]any) bool { return true }
func (r *recordingLoader) Load(_ context.Context, in connector.Value, _ map[string]any) (connector.Value, error) {
	r.received = append(r.received, in)
	return connector.Scalar("ignored"), nil
}

type funcLoader struct {
	name string
	fn   func() error
}

func (f *funcLoader) Name() string                 { return f.name }
func (f *funcLoader) Supports(map[string]any) bool { return true }
func (f *funcLoader) Load(context.Context, connector.Value, map[string]any) (connector.Value, error) {
	return connector.Null(), f.fn()
}

type pickyLoader struct{ recordingLoader }

func (p *pickyLoader) Supports(config map[string]any) bool {
	_, ok := config["target"]
	return ok
}

func recordsExtractor(name string, records ...connector.Record) *stubExtractor {
	return &stubExtractor{name: name, fn: func(context.Context, map[string]any) (connector.Value, error) {
		return connector.Records(records), nil
	}}
}

func failingTransformer(name string, err error) *stubTransformer {
	return &stubTransformer{name: name, fn: func(context.Context, connector.Value) (connector.Value, error) {
		return connector.Value{}, err
	}}
}

func noRecovery() RunConfig {
	cfg := DefaultRunConfig()
	cfg.ErrorRecoveryEnabled = false
	return cfg
}

// =============================================================================
// Run
// =============================================================================

func TestRun_ThreadsValueThroughSteps(t *testing.T) {
	o := New(WithConfig(noRecovery()), WithName("orders"))
	o.Registries().RegisterExtractor(recordsExtractor("src", connector.Record{"id": 1}))
	o.Registries().RegisterTransformer(&stubTransformer{name: "count", fn: func(_ context.Context, in connector.Value) (connector.Value, error) {
		return connector.Scalar(in.Len()), nil
	}})
	sink := &recordingLoader{name: "sink"}
	o.Registries().RegisterLoader(sink)

	o.Extract("src", nil).Transform("count", nil).Load("sink", nil)
	result := o.Run(context.Background())

	require.True(t, result.Success, result.ErrorMessage)
	assert.NoError(t, result.Error)
	assert.Equal(t, o.ID(), result.PipelineID)
	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, connector.Scalar(1), result.Data, "load output must not replace the carried value")
	require.Len(t, sink.received, 1)
	assert.Equal(t, connector.Scalar(1), sink.received[0])

	require.Len(t, result.Metadata.PerStep, 3)
	assert.Equal(t, []string{"src", "count", "sink"}, stepNames(result))
	assert.False(t, result.CompletedAt.Before(result.StartedAt))
}

func TestRun_EmptyPipelineSucceedsWithNull(t *testing.T) {
	result := New().Run(context.Background())
	assert.True(t, result.Success)
	assert.True(t, result.Data.IsNull())
	assert.Empty(t, result.Metadata.PerStep)
}

func TestRun_UnknownStepIsFatalEvenWhenOptional(t *testing.T) {
	o := New(WithConfig(noRecovery()))
	sink := &recordingLoader{name: "sink"}
	o.Registries().RegisterLoader(sink)
	o.Transform("missing", nil, Optional()).Load("sink", nil)

	result := o.Run(context.Background())

	assert.False(t, result.Success)
	require.Error(t, result.Error)
	assert.ErrorIs(t, result.Error, errhandling.ErrStepNotFound)
	var nf *errhandling.StepNotFoundError
	require.ErrorAs(t, result.Error, &nf)
	assert.Equal(t, "transform", nf.Kind)
	assert.Equal(t, "missing", nf.Name)
	assert.Empty(t, sink.received)
	require.Len(t, result.Metadata.PerStep, 1)
	assert.False(t, result.Metadata.PerStep[0].Success)
}

func TestRun_NonOptionalFailureStopsAndKeepsLastValue(t *testing.T) {
	boom := errors.New("boom")
	o := New(WithConfig(noRecovery()))
	o.Registries().RegisterExtractor(recordsExtractor("src", connector.Record{"id": 1}))
	o.Registries().RegisterTransformer(failingTransformer("explode", boom))
	sink := &recordingLoader{name: "sink"}
	o.Registries().RegisterLoader(sink)
	o.Extract("src", nil).Transform("explode", nil).Load("sink", nil)

	result := o.Run(context.Background())

	assert.False(t, result.Success)
	assert.ErrorIs(t, result.Error, boom)
	var se *errhandling.StepExecutionError
	require.ErrorAs(t, result.Error, &se)
	assert.Equal(t, 1, se.Index)
	assert.Equal(t, "explode", se.Name)
	assert.Equal(t, result.Error.Error(), result.ErrorMessage)

	records, ok := result.Data.Records()
	require.True(t, ok)
	assert.Equal(t, []connector.Record{{"id": 1}}, records)
	assert.Empty(t, sink.received)
	assert.Len(t, result.Metadata.PerStep, 2)
}

func TestRun_OptionalFailureContinuesWithUnchangedValue(t *testing.T) {
	o := New(WithConfig(noRecovery()))
	o.Registries().RegisterExtractor(recordsExtractor("src", connector.Record{"id": 1}))
	o.Registries().RegisterTransformer(failingTransformer("flaky", errors.New("unavailable")))
	sink := &recordingLoader{name: "sink"}
	o.Registries().RegisterLoader(sink)
	o.Extract("src", nil).Transform("flaky", nil, Optional()).Load("sink", nil)

	result := o.Run(context.Background())

	require.True(t, result.Success)
	require.Len(t, result.Metadata.PerStep, 3)
	failed := result.Metadata.FailedSteps()
	require.Len(t, failed, 1)
	assert.Equal(t, "flaky", failed[0].Name)
	assert.True(t, failed[0].Optional)
	assert.Contains(t, failed[0].Error, "unavailable")

	require.Len(t, sink.received, 1)
	records, _ := sink.received[0].Records()
	assert.Equal(t, []connector.Record{{"id": 1}}, records)
}

func TestRun_FailurePolicyCombinations(t *testing.T) {
	configs := map[string]RunConfig{
		"default":     DefaultRunConfig(),
		"no recovery": noRecovery(),
	}
	source := []connector.Record{{"id": 1}}
	doubled := connector.Records([]connector.Record{{"id": 1}, {"id": 1}})

	tests := []struct {
		name        string
		build       func(o *Orchestrator)
		wantSuccess bool
		wantSteps   []string
		wantFailed  []string
		wantData    connector.Value
		wantLoaded  bool
	}{
		{
			name: "optional and non-optional failures",
			build: func(o *Orchestrator) {
				o.Extract("src", nil).
					Transform("flaky", nil, Optional()).
					Transform("double", nil).
					Transform("explode", nil).
					Load("sink", nil)
			},
			wantSuccess: false,
			wantSteps:   []string{"src", "flaky", "double", "explode"},
			wantFailed:  []string{"flaky", "explode"},
			wantData:    doubled,
		},
		{
			name: "several optional failures",
			build: func(o *Orchestrator) {
				o.Extract("src", nil).
					Transform("flaky", nil, Optional()).
					Transform("explode", nil, Optional()).
					Load("sink", nil)
			},
			wantSuccess: true,
			wantSteps:   []string{"src", "flaky", "explode", "sink"},
			wantFailed:  []string{"flaky", "explode"},
			wantData:    connector.Records(source),
			wantLoaded:  true,
		},
	}

	for cfgName, cfg := range configs {
		for _, tt := range tests {
			t.Run(cfgName+"/"+tt.name, func(t *testing.T) {
				noSleep := errhandling.WithSleep(func(context.Context, time.Duration) error { return nil })
				o := New(WithConfig(cfg), WithPolicyOptions(noSleep))
				o.Registries().RegisterExtractor(recordsExtractor("src", source...))
				o.Registries().RegisterTransformer(failingTransformer("flaky", errors.New("unavailable")))
				o.Registries().RegisterTransformer(failingTransformer("explode", errors.New("boom")))
				o.Registries().RegisterTransformer(&stubTransformer{name: "double", fn: func(_ context.Context, in connector.Value) (connector.Value, error) {
					items, _ := in.AsList()
					return connector.List(append(append([]any{}, items...), items...)), nil
				}})
				sink := &recordingLoader{name: "sink"}
				o.Registries().RegisterLoader(sink)
				tt.build(o)

				result := o.Run(context.Background())

				assert.Equal(t, tt.wantSuccess, result.Success)
				assert.Equal(t, tt.wantSteps, stepNames(result))
				var failed []string
				for _, s := range result.Metadata.FailedSteps() {
					failed = append(failed, s.Name)
					assert.NotEmpty(t, s.Error)
				}
				assert.Equal(t, tt.wantFailed, failed)
				assert.Equal(t, tt.wantData, result.Data)
				if tt.wantLoaded {
					require.Len(t, sink.received, 1)
					assert.Equal(t, tt.wantData, sink.received[0])
				} else {
					assert.Empty(t, sink.received)
				}
			})
		}
	}
}

func TestRun_LoadIsAttemptedOnce(t *testing.T) {
	var calls atomic.Int32
	noSleep := errhandling.WithSleep(func(context.Context, time.Duration) error { return nil })
	o := New(WithPolicyOptions(noSleep))
	o.Registries().RegisterLoader(&funcLoader{name: "sink", fn: func() error {
		calls.Add(1)
		return errors.New("partially delivered")
	}})
	o.Load("sink", nil)

	result := o.Run(context.Background())

	assert.False(t, result.Success)
	assert.EqualValues(t, 1, calls.Load())
	assert.NotErrorIs(t, result.Error, errhandling.ErrRetryExhausted)
}

func TestRun_UnsupportedConfigFailsStep(t *testing.T) {
	o := New(WithConfig(noRecovery()))
	o.Registries().RegisterLoader(&pickyLoader{recordingLoader{name: "picky"}})
	o.Load("picky", map[string]any{})

	result := o.Run(context.Background())

	assert.False(t, result.Success)
	assert.ErrorIs(t, result.Error, ErrUnsupportedConfig)
}

func TestRun_CancelledContextIsFatal(t *testing.T) {
	o := New(WithConfig(noRecovery()))
	ex := recordsExtractor("src")
	o.Registries().RegisterExtractor(ex)
	o.Extract("src", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := o.Run(ctx)

	assert.False(t, result.Success)
	assert.ErrorIs(t, result.Error, context.Canceled)
	assert.Zero(t, ex.calls.Load())
	assert.Empty(t, result.Metadata.PerStep)
}

func TestRun_InvalidConfigFailsRun(t *testing.T) {
	cfg := DefaultRunConfig()
	cfg.BatchSize = 0
	o := New(WithConfig(cfg))

	result := o.Run(context.Background())

	assert.False(t, result.Success)
	assert.ErrorContains(t, result.Error, "batchSize")
}

func TestRun_RerunExecutesAllSteps(t *testing.T) {
	cfg := noRecovery()
	cfg.CacheEnabled = false
	o := New(WithConfig(cfg))
	ex := recordsExtractor("src", connector.Record{"id": 1})
	o.Registries().RegisterExtractor(ex)
	o.Extract("src", nil)

	first := o.Run(context.Background())
	second := o.Run(context.Background())

	assert.True(t, first.Success)
	assert.True(t, second.Success)
	assert.NotEqual(t, first.RunID, second.RunID)
	assert.EqualValues(t, 2, ex.calls.Load())
}

// =============================================================================
// Caching
// =============================================================================

func TestRun_ExtractCacheHitAndMiss(t *testing.T) {
	o := New(WithConfig(noRecovery()))
	ex := recordsExtractor("src", connector.Record{"id": 1})
	o.Registries().RegisterExtractor(ex)
	o.Extract("src", map[string]any{"url": "a"})

	first := o.Run(context.Background())
	second := o.Run(context.Background())

	assert.EqualValues(t, 1, ex.calls.Load())
	assert.Equal(t, 0, first.Metadata.CacheHits)
	assert.Equal(t, 1, first.Metadata.CacheMisses)
	assert.Equal(t, 1, second.Metadata.CacheHits)
	assert.Equal(t, 0, second.Metadata.CacheMisses)
	assert.True(t, second.Metadata.PerStep[0].CacheHit)
	assert.Equal(t, first.Data, second.Data)
	assert.Equal(t, 1, o.CacheStats().Size)
}

func TestRun_CacheEntryExpiresAfterTTL(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	shared := cache.New[connector.Value](time.Minute, cache.WithClock(func() time.Time { return now }))
	cfg := noRecovery()
	cfg.CacheTTL = time.Minute

	o := New(WithConfig(cfg), WithCache(shared))
	ex := recordsExtractor("src", connector.Record{"id": 1})
	o.Registries().RegisterExtractor(ex)
	o.Extract("src", nil)

	o.Run(context.Background())
	now = now.Add(time.Minute)
	o.Run(context.Background())
	assert.EqualValues(t, 1, ex.calls.Load(), "entry is visible while age <= ttl")

	now = now.Add(time.Second)
	result := o.Run(context.Background())
	assert.EqualValues(t, 2, ex.calls.Load())
	assert.Equal(t, 1, result.Metadata.CacheMisses)
}

func TestRun_SharedCacheAcrossOrchestrators(t *testing.T) {
	shared := cache.New[connector.Value](time.Minute)
	ex := recordsExtractor("src", connector.Record{"id": 1})

	a := New(WithConfig(noRecovery()), WithCache(shared))
	a.Registries().RegisterExtractor(ex)
	a.Extract("src", map[string]any{"b": 2, "a": 1})

	b := New(WithConfig(noRecovery()), WithCache(shared))
	b.Registries().RegisterExtractor(ex)
	b.Extract("src", map[string]any{"a": 1, "b": 2})

	a.Run(context.Background())
	result := b.Run(context.Background())

	assert.EqualValues(t, 1, ex.calls.Load())
	assert.Equal(t, 1, result.Metadata.CacheHits)
}

func TestRun_FailedExtractIsNotCached(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	ex := &stubExtractor{name: "src", fn: func(context.Context, map[string]any) (connector.Value, error) {
		if fail.Load() {
			return connector.Value{}, errors.New("down")
		}
		return connector.Scalar("ok"), nil
	}}
	o := New(WithConfig(noRecovery()))
	o.Registries().RegisterExtractor(ex)
	o.Extract("src", nil)

	assert.False(t, o.Run(context.Background()).Success)
	fail.Store(false)
	result := o.Run(context.Background())

	assert.True(t, result.Success)
	assert.Equal(t, connector.Scalar("ok"), result.Data)
	assert.Equal(t, 1, result.Metadata.CacheMisses)
}

func TestRun_CacheDisabledAlwaysExtracts(t *testing.T) {
	cfg := noRecovery()
	cfg.CacheEnabled = false
	o := New(WithConfig(cfg))
	ex := recordsExtractor("src")
	o.Registries().RegisterExtractor(ex)
	o.Extract("src", nil)

	o.Run(context.Background())
	result := o.Run(context.Background())

	assert.EqualValues(t, 2, ex.calls.Load())
	assert.Zero(t, result.Metadata.CacheHits)
	assert.Zero(t, result.Metadata.CacheMisses)
	assert.Zero(t, o.CacheStats().Size)
}

func TestClearCache(t *testing.T) {
	o := New(WithConfig(noRecovery()))
	ex := recordsExtractor("src")
	o.Registries().RegisterExtractor(ex)
	o.Extract("src", nil)

	o.Run(context.Background())
	o.ClearCache()
	o.Run(context.Background())

	assert.EqualValues(t, 2, ex.calls.Load())
}

func TestCacheKey(t *testing.T) {
	key, err := CacheKey(connector.Step{Kind: connector.Extract, Name: "http", Config: map[string]any{"b": 1, "a": "x"}})
	require.NoError(t, err)
	assert.Equal(t, `extract:http:{"a":"x","b":1}`, key)

	key, err = CacheKey(connector.Step{Kind: connector.Extract, Name: "static"})
	require.NoError(t, err)
	assert.Equal(t, "extract:static:{}", key)

	_, err = CacheKey(connector.Step{Kind: connector.Extract, Name: "bad", Config: map[string]any{"ch": make(chan int)}})
	assert.Error(t, err)
}

// =============================================================================
// Recovery
// =============================================================================

func TestRun_RecoveryRetriesFailingStep(t *testing.T) {
	var calls atomic.Int32
	ex := &stubExtractor{name: "src", fn: func(context.Context, map[string]any) (connector.Value, error) {
		if calls.Add(1) < 3 {
			return connector.Value{}, errors.New("transient")
		}
		return connector.Scalar("ok"), nil
	}}
	noSleep := errhandling.WithSleep(func(context.Context, time.Duration) error { return nil })
	o := New(WithPolicyOptions(noSleep))
	o.Registries().RegisterExtractor(ex)
	o.Extract("src", nil)

	result := o.Run(context.Background())

	require.True(t, result.Success, result.ErrorMessage)
	assert.EqualValues(t, 3, calls.Load())
	assert.Equal(t, connector.Scalar("ok"), result.Data)
}

func TestRun_RecoveryExhaustion(t *testing.T) {
	cfg := DefaultRunConfig()
	cfg.MaxRetries = 2
	noSleep := errhandling.WithSleep(func(context.Context, time.Duration) error { return nil })
	o := New(WithConfig(cfg), WithPolicyOptions(noSleep))
	o.Registries().RegisterTransformer(failingTransformer("broken", errors.New("always")))
	o.Transform("broken", nil)

	result := o.Run(context.Background())

	assert.False(t, result.Success)
	var re *errhandling.RetryExhaustedError
	require.ErrorAs(t, result.Error, &re)
	assert.Equal(t, 3, re.Attempts)
	assert.Equal(t, "transform:broken", re.Label)
}

func TestRun_PermanentErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	o := New(WithPolicyOptions(errhandling.WithSleep(func(context.Context, time.Duration) error { return nil })))
	o.Registries().RegisterTransformer(&stubTransformer{name: "bad", fn: func(context.Context, connector.Value) (connector.Value, error) {
		calls.Add(1)
		return connector.Value{}, errhandling.Permanent(errors.New("bad request"))
	}})
	o.Transform("bad", nil)

	result := o.Run(context.Background())

	assert.False(t, result.Success)
	assert.EqualValues(t, 1, calls.Load())
}

// =============================================================================
// Toolkit and configuration
// =============================================================================

func TestRun_ToolkitOnContextUsesRunConfig(t *testing.T) {
	cfg := noRecovery()
	cfg.MaxParallel = 7
	o := New(WithConfig(cfg))

	var seen RunConfig
	o.Registries().RegisterTransformer(&stubTransformer{name: "peek", fn: func(ctx context.Context, in connector.Value) (connector.Value, error) {
		seen = ToolkitFrom(ctx).Config()
		return in, nil
	}})
	o.Transform("peek", nil)

	require.True(t, o.Run(context.Background()).Success)
	assert.Equal(t, 7, seen.MaxParallel)
}

func TestToolkitFrom_DefaultsWithoutRun(t *testing.T) {
	tk := ToolkitFrom(context.Background())
	assert.Equal(t, DefaultRunConfig(), tk.Config())
}

func TestSetConfig(t *testing.T) {
	o := New()
	bad := DefaultRunConfig()
	bad.BackoffMultiplier = 0.5
	require.Error(t, o.SetConfig(bad))

	good := DefaultRunConfig()
	good.StreamingEnabled = true
	require.NoError(t, o.SetConfig(good))
	assert.True(t, o.Config().StreamingEnabled)
}

func TestSteps_ReturnsCopy(t *testing.T) {
	o := New()
	o.Extract("a", nil).Load("b", nil, Optional())

	steps := o.Steps()
	require.Len(t, steps, 2)
	assert.Equal(t, connector.Extract, steps[0].Kind)
	assert.True(t, steps[1].Optional)

	steps[0].Name = "mutated"
	assert.Equal(t, "a", o.Steps()[0].Name)
}

func TestRun_RecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := metrics.New(reg)
	require.NoError(t, err)

	o := New(WithConfig(noRecovery()), WithName("billing"), WithMetrics(rec))
	o.Registries().RegisterExtractor(recordsExtractor("src"))
	o.Extract("src", nil)
	o.Run(context.Background())
	o.Run(context.Background())

	count, err := testutil.GatherAndCount(reg, "canectors_pipeline_runs_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func stepNames(r *connector.RunResult) []string {
	names := make([]string, len(r.Metadata.PerStep))
	for i, s := range r.Metadata.PerStep {
		names[i] = s.Name
	}
	return names
}
