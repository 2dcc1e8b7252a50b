package runtime

import (
	"errors"
	"fmt"
	"time"

	"github.com/canectors/flow/internal/cache"
	"github.com/canectors/flow/internal/errhandling"
	"github.com/canectors/flow/internal/stream"
)

// Default RunConfig values.
const (
	DefaultMaxParallel = 5
)

// RunConfig holds the engine knobs of a run. It is read once at the start of
// Run; replacing it with SetConfig only affects later runs.
type RunConfig struct {
	// CacheEnabled memoizes extract step results
	CacheEnabled bool `json:"cacheEnabled" yaml:"cacheEnabled"`
	// CacheTTL is the lifetime of memoized extractions
	CacheTTL time.Duration `json:"cacheTTL" yaml:"cacheTTL"`

	// ParallelEnabled runs enrichment batches concurrently
	ParallelEnabled bool `json:"parallelEnabled" yaml:"parallelEnabled"`
	// MaxParallel is the enrichment batch size
	MaxParallel int `json:"maxParallel" yaml:"maxParallel"`

	// StreamingEnabled makes the stream processor work in chunks
	StreamingEnabled bool `json:"streamingEnabled" yaml:"streamingEnabled"`
	// BatchSize is the stream chunk size
	BatchSize int `json:"batchSize" yaml:"batchSize"`
	// ChunkTimeout bounds each stream chunk
	ChunkTimeout time.Duration `json:"chunkTimeout" yaml:"chunkTimeout"`

	// ErrorRecoveryEnabled routes capability calls through the retry policy
	ErrorRecoveryEnabled bool `json:"errorRecoveryEnabled" yaml:"errorRecoveryEnabled"`
	// MaxRetries is the number of retries after the first attempt
	MaxRetries int `json:"maxRetries" yaml:"maxRetries"`
	// RetryDelay is the wait after the first failed attempt
	RetryDelay time.Duration `json:"retryDelay" yaml:"retryDelay"`
	// BackoffMultiplier scales the wait after each further failure
	BackoffMultiplier float64 `json:"backoffMultiplier" yaml:"backoffMultiplier"`
	// MaxRetryDelay caps the wait between attempts
	MaxRetryDelay time.Duration `json:"maxRetryDelay" yaml:"maxRetryDelay"`
}

// DefaultRunConfig returns the default engine configuration.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		CacheEnabled:         true,
		CacheTTL:             cache.DefaultTTL,
		ParallelEnabled:      true,
		MaxParallel:          DefaultMaxParallel,
		StreamingEnabled:     false,
		BatchSize:            stream.DefaultBatchSize,
		ChunkTimeout:         stream.DefaultChunkTimeout,
		ErrorRecoveryEnabled: true,
		MaxRetries:           errhandling.DefaultMaxRetries,
		RetryDelay:           errhandling.DefaultRetryDelay,
		BackoffMultiplier:    errhandling.DefaultBackoffMultiplier,
		MaxRetryDelay:        errhandling.DefaultMaxRetryDelay,
	}
}

// Validate returns every out-of-range value joined in one error.
func (c RunConfig) Validate() error {
	var errs []error
	if c.CacheEnabled && c.CacheTTL <= 0 {
		errs = append(errs, errors.New("cacheTTL must be > 0 when caching is enabled"))
	}
	if c.MaxParallel < 1 {
		errs = append(errs, fmt.Errorf("maxParallel must be >= 1, got %d", c.MaxParallel))
	}
	if c.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("batchSize must be >= 1, got %d", c.BatchSize))
	}
	if c.ChunkTimeout <= 0 {
		errs = append(errs, errors.New("chunkTimeout must be > 0"))
	}
	if err := c.retryConfig().Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c RunConfig) retryConfig() errhandling.RetryConfig {
	return errhandling.RetryConfig{
		Enabled:           c.ErrorRecoveryEnabled,
		MaxRetries:        c.MaxRetries,
		Delay:             c.RetryDelay,
		BackoffMultiplier: c.BackoffMultiplier,
		MaxDelay:          c.MaxRetryDelay,
	}
}

func (c RunConfig) streamConfig() stream.Config {
	return stream.Config{
		Enabled:      c.StreamingEnabled,
		BatchSize:    c.BatchSize,
		ChunkTimeout: c.ChunkTimeout,
	}
}
