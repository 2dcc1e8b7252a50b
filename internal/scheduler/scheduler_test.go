package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canectors/flow/pkg/connector"
)

type fakeRunner struct {
	calls   atomic.Int32
	delay   time.Duration
	mu      sync.Mutex
	ctxErrs []error
}

func (f *fakeRunner) Run(ctx context.Context) *connector.RunResult {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
		}
	}
	f.mu.Lock()
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	f.mu.Unlock()
	return &connector.RunResult{Success: ctx.Err() == nil}
}

func TestValidateCronExpression(t *testing.T) {
	valid := []string{
		"*/5 * * * *",
		"0 0 * * MON-FRI",
		"*/10 * * * * *",
		"@hourly",
		"@every 30s",
	}
	for _, expr := range valid {
		assert.NoError(t, ValidateCronExpression(expr), expr)
	}

	assert.ErrorIs(t, ValidateCronExpression(""), ErrEmptySchedule)
	for _, expr := range []string{"not a cron", "61 * * * *", "* * *", "1 2 3 4 5 6 7"} {
		assert.ErrorIs(t, ValidateCronExpression(expr), ErrInvalidSchedule, expr)
	}
}

func TestRegister(t *testing.T) {
	s := New()
	r := &fakeRunner{}

	require.NoError(t, s.Register("b", "*/5 * * * *", r))
	require.NoError(t, s.Register("a", "@daily", r))

	assert.True(t, s.HasPipeline("a"))
	assert.False(t, s.HasPipeline("c"))
	assert.Equal(t, 2, s.PipelineCount())
	assert.Equal(t, []string{"a", "b"}, s.PipelineIDs())

	assert.ErrorIs(t, s.Register("a", "@daily", r), ErrAlreadyRegistered)
	assert.ErrorIs(t, s.Register("c", "", r), ErrEmptySchedule)
	assert.ErrorIs(t, s.Register("c", "bogus", r), ErrInvalidSchedule)
	assert.ErrorIs(t, s.Register("c", "@daily", nil), ErrNilRunner)
	assert.Equal(t, 2, s.PipelineCount())
}

func TestUnregister(t *testing.T) {
	s := New()
	require.NoError(t, s.Register("a", "@daily", &fakeRunner{}))

	require.NoError(t, s.Unregister("a"))
	assert.False(t, s.HasPipeline("a"))
	assert.ErrorIs(t, s.Unregister("a"), ErrPipelineNotFound)
}

func TestStartStop(t *testing.T) {
	s := New()
	assert.False(t, s.IsStarted())
	require.NoError(t, s.Stop(context.Background()), "stop before start is a no-op")

	require.NoError(t, s.Start())
	assert.True(t, s.IsStarted())
	assert.ErrorIs(t, s.Start(), ErrAlreadyStarted)

	require.NoError(t, s.Stop(context.Background()))
	assert.False(t, s.IsStarted())

	require.NoError(t, s.Start(), "scheduler can be restarted")
	require.NoError(t, s.Stop(context.Background()))
}

func TestNextRun(t *testing.T) {
	s := New(WithLocation(time.UTC))
	require.NoError(t, s.Register("hourly", "@hourly", &fakeRunner{}))

	_, err := s.NextRun("hourly")
	assert.ErrorIs(t, err, ErrSchedulerNotStarted)
	_, err = s.NextRun("missing")
	assert.ErrorIs(t, err, ErrPipelineNotFound)

	require.NoError(t, s.Start())
	defer func() { _ = s.Stop(context.Background()) }()

	var next time.Time
	require.Eventually(t, func() bool {
		next, err = s.NextRun("hourly")
		return err == nil && !next.IsZero()
	}, time.Second, 10*time.Millisecond)
	assert.True(t, next.After(time.Now()))
	assert.Zero(t, next.Minute())
}

func TestScheduledRunsReportResults(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []string
	)
	s := New(WithResultHandler(func(id string, res *connector.RunResult) {
		mu.Lock()
		defer mu.Unlock()
		if res.Success {
			seen = append(seen, id)
		}
	}))
	r := &fakeRunner{}
	require.NoError(t, s.Register("every-second", "* * * * * *", r))
	require.NoError(t, s.Start())

	require.Eventually(t, func() bool { return r.calls.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, seen, "every-second")
	assert.Zero(t, s.PipelineCount(), "stop clears registrations")
}

func TestSkipsOverlappingRuns(t *testing.T) {
	s := New()
	r := &fakeRunner{delay: 2500 * time.Millisecond}
	require.NoError(t, s.Register("slow", "* * * * * *", r))
	require.NoError(t, s.Start())

	require.Eventually(t, func() bool { return s.IsRunning("slow") }, 3*time.Second, 10*time.Millisecond)
	time.Sleep(2 * time.Second)
	assert.Equal(t, int32(1), r.calls.Load(), "ticks during a run are skipped")

	require.NoError(t, s.Stop(context.Background()))
}

func TestStopTimeoutCancelsRuns(t *testing.T) {
	s := New()
	r := &fakeRunner{delay: time.Minute}
	require.NoError(t, s.Register("stuck", "* * * * * *", r))
	require.NoError(t, s.Start())
	require.Eventually(t, func() bool { return r.calls.Load() == 1 }, 3*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := s.Stop(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	r.mu.Lock()
	defer r.mu.Unlock()
	require.Len(t, r.ctxErrs, 1)
	assert.ErrorIs(t, r.ctxErrs[0], context.Canceled)
}
