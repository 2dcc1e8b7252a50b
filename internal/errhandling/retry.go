package errhandling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/canectors/flow/internal/logger"
)

// Default retry configuration values.
const (
	DefaultMaxRetries        = 3
	DefaultRetryDelay        = time.Second
	DefaultBackoffMultiplier = 2.0
	DefaultMaxRetryDelay     = 30 * time.Second
	MaxRetryAttempts         = 10
	MinBackoffMultiplier     = 1.0
)

// OnErrorStrategy defines what a record-level capability does when one record fails.
type OnErrorStrategy string

const (
	// OnErrorFail stops and returns the error (default).
	OnErrorFail OnErrorStrategy = "fail"
	// OnErrorSkip drops the failed record and continues.
	OnErrorSkip OnErrorStrategy = "skip"
	// OnErrorLog logs the error, keeps the record unchanged and continues.
	OnErrorLog OnErrorStrategy = "log"
)

// ParseOnErrorStrategy parses an error strategy string. Unknown values mean fail.
func ParseOnErrorStrategy(s string) OnErrorStrategy {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "skip":
		return OnErrorSkip
	case "log":
		return OnErrorLog
	default:
		return OnErrorFail
	}
}

// RetryConfig configures the retry policy.
type RetryConfig struct {
	// Enabled turns recovery on. When false, operations run exactly once.
	Enabled bool
	// MaxRetries is the number of retries after the first attempt (max 10).
	MaxRetries int
	// Delay is the wait after the first failed attempt.
	Delay time.Duration
	// BackoffMultiplier scales the delay after each further failure (>= 1).
	BackoffMultiplier float64
	// MaxDelay caps the wait between two attempts.
	MaxDelay time.Duration
}

// DefaultRetryConfig returns an enabled configuration with default values.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Enabled:           true,
		MaxRetries:        DefaultMaxRetries,
		Delay:             DefaultRetryDelay,
		BackoffMultiplier: DefaultBackoffMultiplier,
		MaxDelay:          DefaultMaxRetryDelay,
	}
}

// Validate returns an error if any value is out of range.
func (c RetryConfig) Validate() error {
	if c.MaxRetries < 0 {
		return errors.New("maxRetries must be >= 0")
	}
	if c.MaxRetries > MaxRetryAttempts {
		return fmt.Errorf("maxRetries must be <= %d", MaxRetryAttempts)
	}
	if c.Delay < 0 {
		return errors.New("retryDelay must be >= 0")
	}
	if c.BackoffMultiplier < MinBackoffMultiplier {
		return fmt.Errorf("backoffMultiplier must be >= %v", MinBackoffMultiplier)
	}
	if c.MaxDelay < 0 {
		return errors.New("maxRetryDelay must be >= 0")
	}
	return nil
}

// CalculateDelay returns the wait between attempt n and n+1 (n starts at 1):
// min(Delay * BackoffMultiplier^(n-1), MaxDelay).
func (c RetryConfig) CalculateDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(c.Delay) * math.Pow(c.BackoffMultiplier, float64(attempt-1))
	if c.MaxDelay > 0 && delay > float64(c.MaxDelay) {
		return c.MaxDelay
	}
	return time.Duration(delay)
}

// ParseRetryConfig reads a capability-level "retry" map. Missing values keep defaults.
// Delays are given in milliseconds, as in pipeline definitions.
func ParseRetryConfig(m map[string]any) RetryConfig {
	cfg := DefaultRetryConfig()
	if m == nil {
		return cfg
	}
	if v, ok := m["enabled"].(bool); ok {
		cfg.Enabled = v
	}
	if v, ok := getFloat(m, "maxRetries"); ok {
		cfg.MaxRetries = int(v)
	}
	if v, ok := getFloat(m, "delayMs"); ok {
		cfg.Delay = time.Duration(v) * time.Millisecond
	}
	if v, ok := getFloat(m, "backoffMultiplier"); ok {
		cfg.BackoffMultiplier = v
	}
	if v, ok := getFloat(m, "maxDelayMs"); ok {
		cfg.MaxDelay = time.Duration(v) * time.Millisecond
	}
	return cfg
}

func getFloat(m map[string]any, key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// Operation is a unit of work run under the retry policy.
type Operation func(ctx context.Context) (any, error)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Policy runs operations with bounded retries and exponential backoff.
// A Policy is safe for concurrent use.
type Policy struct {
	config  RetryConfig
	sleep   SleepFunc
	onRetry func(label string, attempt int, err error, delay time.Duration)
}

// PolicyOption configures a Policy.
type PolicyOption func(*Policy)

// WithSleep replaces the wait between attempts. Tests use it to avoid real delays.
func WithSleep(fn SleepFunc) PolicyOption {
	return func(p *Policy) { p.sleep = fn }
}

// WithRetryHook registers a callback invoked before each wait.
func WithRetryHook(fn func(label string, attempt int, err error, delay time.Duration)) PolicyOption {
	return func(p *Policy) { p.onRetry = fn }
}

// NewPolicy creates a retry policy.
func NewPolicy(cfg RetryConfig, opts ...PolicyOption) *Policy {
	p := &Policy{config: cfg, sleep: sleepContext}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Config returns the policy configuration.
func (p *Policy) Config() RetryConfig {
	return p.config
}

// Execute runs op. With recovery disabled the outcome of the single attempt is
// returned unmodified. Otherwise op is attempted up to MaxRetries+1 times and a
// *RetryExhaustedError wrapping the last error is returned when all attempts fail.
// Permanent errors stop the loop and are returned as is.
func (p *Policy) Execute(ctx context.Context, label string, op Operation) (any, error) {
	if !p.config.Enabled {
		return op(ctx)
	}

	attempts := p.config.MaxRetries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Debug("operation recovered",
					slog.String("label", label),
					slog.Int("attempt", attempt),
				)
			}
			return result, nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return nil, err
		}
		if attempt == attempts {
			break
		}

		delay := p.config.CalculateDelay(attempt)
		if p.onRetry != nil {
			p.onRetry(label, attempt, err, delay)
		}
		logger.Debug("retrying operation",
			slog.String("label", label),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
		if serr := p.sleep(ctx, delay); serr != nil {
			return nil, fmt.Errorf("%s: retry interrupted after %d attempts: %w", labelOrDefault(label), attempt, errors.Join(serr, lastErr))
		}
	}

	return nil, &RetryExhaustedError{Label: label, Attempts: attempts, Err: lastErr}
}

// Do is the typed form of Policy.Execute.
func Do[T any](ctx context.Context, p *Policy, label string, op func(ctx context.Context) (T, error)) (T, error) {
	result, err := p.Execute(ctx, label, func(ctx context.Context) (any, error) {
		return op(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	typed, _ := result.(T)
	return typed, nil
}

func labelOrDefault(label string) string {
	if label == "" {
		return "operation"
	}
	return label
}
