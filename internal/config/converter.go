package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/canectors/flow/internal/runtime"
	"github.com/canectors/flow/pkg/connector"
)

// Definition is a converted pipeline definition.
type Definition struct {
	Name        string
	ID          string
	Description string
	// Schedule is a five-field cron expression; empty runs once
	Schedule string
	Run      runtime.RunConfig
	Steps    []connector.Step
}

// Convert builds a Definition from validated data. Run settings missing from
// the document keep their defaults.
func Convert(data map[string]any) (*Definition, error) {
	if data == nil {
		return nil, errors.New("definition data is nil")
	}
	def := &Definition{Run: runtime.DefaultRunConfig()}
	def.Name, _ = data["name"].(string)
	if def.Name == "" {
		return nil, errors.New("missing required field 'name'")
	}
	def.ID, _ = data["id"].(string)
	def.Description, _ = data["description"].(string)
	def.Schedule, _ = data["schedule"].(string)

	if run, ok := data["run"].(map[string]any); ok {
		if err := convertRun(run, &def.Run); err != nil {
			return nil, fmt.Errorf("invalid 'run' section: %w", err)
		}
	}
	if err := def.Run.Validate(); err != nil {
		return nil, fmt.Errorf("invalid 'run' section: %w", err)
	}

	rawSteps, ok := data["steps"].([]any)
	if !ok {
		return nil, errors.New("missing or invalid 'steps' section")
	}
	for i, raw := range rawSteps {
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("invalid step at index %d", i)
		}
		step, err := convertStep(m)
		if err != nil {
			return nil, fmt.Errorf("invalid step at index %d: %w", i, err)
		}
		def.Steps = append(def.Steps, step)
	}
	return def, nil
}

func convertStep(m map[string]any) (connector.Step, error) {
	kindName, _ := m["kind"].(string)
	kind, err := connector.ParseStepKind(kindName)
	if err != nil {
		return connector.Step{}, err
	}
	name, _ := m["name"].(string)
	if name == "" {
		return connector.Step{}, errors.New("missing required field 'name'")
	}
	step := connector.Step{Kind: kind, Name: name}
	step.Optional, _ = m["optional"].(bool)
	if cfg, ok := m["config"].(map[string]any); ok {
		step.Config = cfg
	} else {
		step.Config = map[string]any{}
	}
	return step, nil
}

func convertRun(m map[string]any, rc *runtime.RunConfig) error {
	var errs []error
	boolField(m, "cacheEnabled", &rc.CacheEnabled)
	boolField(m, "parallelEnabled", &rc.ParallelEnabled)
	boolField(m, "streamingEnabled", &rc.StreamingEnabled)
	intField(m, "maxParallel", &rc.MaxParallel)
	intField(m, "batchSize", &rc.BatchSize)
	errs = append(errs,
		durationField(m, "cacheTTL", &rc.CacheTTL),
		durationField(m, "chunkTimeout", &rc.ChunkTimeout),
	)

	if rec, ok := m["errorRecovery"].(map[string]any); ok {
		boolField(rec, "enabled", &rc.ErrorRecoveryEnabled)
		intField(rec, "maxRetries", &rc.MaxRetries)
		if v, ok := rec["backoffMultiplier"].(float64); ok {
			rc.BackoffMultiplier = v
		}
		errs = append(errs,
			durationField(rec, "retryDelay", &rc.RetryDelay),
			durationField(rec, "maxRetryDelay", &rc.MaxRetryDelay),
		)
	}
	return errors.Join(errs...)
}

func boolField(m map[string]any, key string, dst *bool) {
	if v, ok := m[key].(bool); ok {
		*dst = v
	}
}

func intField(m map[string]any, key string, dst *int) {
	if v, ok := m[key].(float64); ok {
		*dst = int(v)
	}
}

func durationField(m map[string]any, key string, dst *time.Duration) error {
	raw, ok := m[key]
	if !ok {
		return nil
	}
	s, ok := raw.(string)
	if !ok {
		return fmt.Errorf("%s: expected a duration string, got %T", key, raw)
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

// Apply configures o with the run settings and steps of the definition.
func (d *Definition) Apply(o *runtime.Orchestrator) error {
	if err := o.SetConfig(d.Run); err != nil {
		return err
	}
	for _, s := range d.Steps {
		var opts []runtime.StepOption
		if s.Optional {
			opts = append(opts, runtime.Optional())
		}
		o.AddStep(s.Kind, s.Name, s.Config, opts...)
	}
	return nil
}

// Options returns the orchestrator options carried by the definition.
func (d *Definition) Options() []runtime.Option {
	opts := []runtime.Option{runtime.WithName(d.Name), runtime.WithConfig(d.Run)}
	if d.ID != "" {
		opts = append(opts, runtime.WithID(d.ID))
	}
	return opts
}
