// Package connector provides public types and interfaces for Canectors Flow pipelines.
// This package is intended to be importable by external projects that implement
// extractors, transformers, loaders or plugins for the pipeline engine.
package connector

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// StepKind identifies the capability family a step dispatches to.
type StepKind int

const (
	// Extract steps produce a value from a source.
	Extract StepKind = iota + 1
	// Transform steps replace the carried value.
	Transform
	// Load steps deliver the carried value without altering it.
	Load
)

// String returns the lowercase name of the kind ("extract", "transform", "load").
func (k StepKind) String() string {
	switch k {
	case Extract:
		return "extract"
	case Transform:
		return "transform"
	case Load:
		return "load"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// ParseStepKind converts a kind name as written in pipeline definitions.
func ParseStepKind(s string) (StepKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "extract":
		return Extract, nil
	case "transform":
		return Transform, nil
	case "load":
		return Load, nil
	default:
		return 0, fmt.Errorf("unknown step kind %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k StepKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *StepKind) UnmarshalText(text []byte) error {
	parsed, err := ParseStepKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Step is one unit of work in a pipeline.
type Step struct {
	// Kind selects the registry the step is resolved in
	Kind StepKind `json:"kind"`

	// Name is the capability name the step dispatches to
	Name string `json:"name"`

	// Config is handed to the capability at execution time
	Config map[string]any `json:"config,omitempty"`

	// Optional steps record their failure and let the run continue
	Optional bool `json:"optional,omitempty"`
}

// Extractor produces a value from a source.
type Extractor interface {
	Name() string
	Extract(ctx context.Context, config map[string]any) (Value, error)
	Supports(config map[string]any) bool
}

// Transformer replaces the value carried between steps.
type Transformer interface {
	Name() string
	Transform(ctx context.Context, in Value, config map[string]any) (Value, error)
	Supports(config map[string]any) bool
}

// Loader delivers the carried value to a destination.
// The returned value is ignored by the pipeline.
type Loader interface {
	Name() string
	Load(ctx context.Context, in Value, config map[string]any) (Value, error)
	Supports(config map[string]any) bool
}

// Plugin bundles capabilities with lifecycle hooks.
type Plugin interface {
	Name() string
	Version() string
	Initialize(ctx context.Context) error
	Cleanup(ctx context.Context) error
	Extractors() []Extractor
	Transformers() []Transformer
	Loaders() []Loader
}

// RunResult represents the result of a pipeline run.
type RunResult struct {
	// RunID uniquely identifies this run
	RunID string `json:"runId"`

	// PipelineID is the ID of the orchestrator that produced the run
	PipelineID string `json:"pipelineId"`

	// Data is the last successfully produced value
	Data Value `json:"data"`

	// Success is false when a non-optional step failed
	Success bool `json:"success"`

	// Error is the fatal error of the run, if any
	Error error `json:"-"`

	// ErrorMessage mirrors Error for serialized results
	ErrorMessage string `json:"error,omitempty"`

	// StartedAt is when the run started
	StartedAt time.Time `json:"startedAt"`

	// CompletedAt is when the run completed
	CompletedAt time.Time `json:"completedAt"`

	// Metadata contains timing and cache accounting
	Metadata RunMetadata `json:"metadata"`
}

// RunMetadata holds per-run accounting.
type RunMetadata struct {
	// TotalDuration is the wall-clock duration of the whole run
	TotalDuration time.Duration `json:"totalDuration"`

	// PerStep has exactly one entry per executed step, in execution order
	PerStep []StepResult `json:"perStep"`

	// CacheHits counts extract steps served from the cache
	CacheHits int `json:"cacheHits"`

	// CacheMisses counts extract steps that invoked their extractor
	CacheMisses int `json:"cacheMisses"`
}

// StepResult records the outcome of one executed step.
type StepResult struct {
	Name     string        `json:"name"`
	Kind     StepKind      `json:"kind"`
	Duration time.Duration `json:"duration"`
	Success  bool          `json:"success"`
	Optional bool          `json:"optional,omitempty"`
	CacheHit bool          `json:"cacheHit,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// FailedSteps returns the entries of steps that did not succeed.
func (m RunMetadata) FailedSteps() []StepResult {
	var failed []StepResult
	for _, s := range m.PerStep {
		if !s.Success {
			failed = append(failed, s)
		}
	}
	return failed
}
