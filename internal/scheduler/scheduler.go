// Package scheduler repeats pipeline runs on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/canectors/flow/internal/logger"
	"github.com/canectors/flow/pkg/connector"
)

// Scheduler errors
var (
	ErrNilRunner           = errors.New("runner is nil")
	ErrEmptySchedule       = errors.New("schedule is empty")
	ErrInvalidSchedule     = errors.New("invalid cron expression")
	ErrAlreadyRegistered   = errors.New("pipeline already registered")
	ErrPipelineNotFound    = errors.New("pipeline not found")
	ErrAlreadyStarted      = errors.New("scheduler already started")
	ErrSchedulerNotStarted = errors.New("scheduler not started")
)

// Runner executes one pipeline run. *runtime.Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context) *connector.RunResult
}

// ResultHandler receives the result of every scheduled run.
type ResultHandler func(id string, res *connector.RunResult)

// parser accepts standard five-field expressions, an optional leading
// seconds field and descriptors such as @hourly.
var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateCronExpression reports whether expr is a valid schedule.
func ValidateCronExpression(expr string) error {
	if expr == "" {
		return ErrEmptySchedule
	}
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("%w %q: %w", ErrInvalidSchedule, expr, err)
	}
	return nil
}

type job struct {
	id       string
	schedule string
	runner   Runner
	entry    cron.EntryID
	running  atomic.Bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithResultHandler sets the handler called after every scheduled run.
func WithResultHandler(fn ResultHandler) Option {
	return func(s *Scheduler) { s.onResult = fn }
}

// WithLocation sets the time zone schedules are interpreted in (default local).
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) { s.location = loc }
}

// Scheduler runs registered pipelines on their schedules. A run that is still
// in progress when its next tick fires causes that tick to be skipped.
type Scheduler struct {
	mu       sync.Mutex
	cron     *cron.Cron
	jobs     map[string]*job
	started  bool
	location *time.Location
	onResult ResultHandler

	runCtx    context.Context
	cancelRun context.CancelFunc
}

// New creates a stopped scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{jobs: make(map[string]*job), location: time.Local}
	for _, opt := range opts {
		opt(s)
	}
	s.cron = cron.New(cron.WithParser(parser), cron.WithLocation(s.location))
	return s
}

// Register schedules runner under id. Pipelines may be registered before or
// after Start.
func (s *Scheduler) Register(id, schedule string, runner Runner) error {
	if runner == nil {
		return ErrNilRunner
	}
	if err := ValidateCronExpression(schedule); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[id]; exists {
		return fmt.Errorf("%w: %q", ErrAlreadyRegistered, id)
	}
	j := &job{id: id, schedule: schedule, runner: runner}
	entry, err := s.cron.AddFunc(schedule, func() { s.execute(j) })
	if err != nil {
		return fmt.Errorf("%w %q: %w", ErrInvalidSchedule, schedule, err)
	}
	j.entry = entry
	s.jobs[id] = j

	logger.Info("pipeline scheduled",
		slog.String("pipeline_id", id),
		slog.String("schedule", schedule),
	)
	return nil
}

// Unregister removes the pipeline. A run in progress is not interrupted.
func (s *Scheduler) Unregister(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrPipelineNotFound, id)
	}
	s.cron.Remove(j.entry)
	delete(s.jobs, id)
	return nil
}

func (s *Scheduler) execute(j *job) {
	if !j.running.CompareAndSwap(false, true) {
		logger.Warn("previous run still in progress, skipping tick",
			slog.String("pipeline_id", j.id),
		)
		return
	}
	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	if ctx == nil {
		j.running.Store(false)
		return
	}
	defer j.running.Store(false)

	res := j.runner.Run(ctx)
	if s.onResult != nil {
		s.onResult(j.id, res)
	}
}

// Start begins firing schedules.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	s.runCtx, s.cancelRun = context.WithCancel(context.Background())
	s.cron.Start()
	s.started = true
	logger.Info("scheduler started", slog.Int("pipelines", len(s.jobs)))
	return nil
}

// Stop stops firing schedules and waits for runs in progress. When ctx ends
// first, the runs are cancelled and ctx's error is returned. Registered
// pipelines are cleared either way.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	started := s.started
	s.started = false
	for id, j := range s.jobs {
		s.cron.Remove(j.entry)
		delete(s.jobs, id)
	}
	cancel := s.cancelRun
	s.runCtx, s.cancelRun = nil, nil
	s.mu.Unlock()

	if !started {
		return nil
	}
	done := s.cron.Stop().Done()
	select {
	case <-done:
		cancel()
		logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		cancel()
		<-done
		logger.Warn("scheduler stop timed out; in-flight runs cancelled")
		return ctx.Err()
	}
}

// HasPipeline reports whether id is registered.
func (s *Scheduler) HasPipeline(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[id]
	return ok
}

// PipelineCount returns the number of registered pipelines.
func (s *Scheduler) PipelineCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// PipelineIDs returns the registered ids in sorted order.
func (s *Scheduler) PipelineIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// IsStarted reports whether Start has been called without a later Stop.
func (s *Scheduler) IsStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// IsRunning reports whether a run of id is in progress.
func (s *Scheduler) IsRunning(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	return ok && j.running.Load()
}

// NextRun returns the next activation time of id.
func (s *Scheduler) NextRun(id string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %q", ErrPipelineNotFound, id)
	}
	if !s.started {
		return time.Time{}, ErrSchedulerNotStarted
	}
	return s.cron.Entry(j.entry).Next, nil
}
