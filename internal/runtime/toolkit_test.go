package runtime

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canectors/flow/internal/join"
	"github.com/canectors/flow/pkg/connector"
)

func TestDefaultRunConfig(t *testing.T) {
	cfg := DefaultRunConfig()
	assert.True(t, cfg.CacheEnabled)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
	assert.True(t, cfg.ParallelEnabled)
	assert.Equal(t, 5, cfg.MaxParallel)
	assert.False(t, cfg.StreamingEnabled)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.True(t, cfg.ErrorRecoveryEnabled)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.NoError(t, cfg.Validate())
}

func TestRunConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*RunConfig)
		want   string
	}{
		{"zero ttl with cache", func(c *RunConfig) { c.CacheTTL = 0 }, "cacheTTL"},
		{"zero max parallel", func(c *RunConfig) { c.MaxParallel = 0 }, "maxParallel"},
		{"negative batch", func(c *RunConfig) { c.BatchSize = -1 }, "batchSize"},
		{"zero chunk timeout", func(c *RunConfig) { c.ChunkTimeout = 0 }, "chunkTimeout"},
		{"negative retries", func(c *RunConfig) { c.MaxRetries = -1 }, "maxRetries"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultRunConfig()
			tt.mutate(&cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}

	t.Run("zero ttl without cache", func(t *testing.T) {
		cfg := DefaultRunConfig()
		cfg.CacheEnabled = false
		cfg.CacheTTL = 0
		assert.NoError(t, cfg.Validate())
	})
}

func TestToolkit_Join(t *testing.T) {
	tk := NewToolkit(DefaultRunConfig())
	left := connector.Records([]connector.Record{{"id": 1, "name": "a"}})
	right := connector.Records([]connector.Record{{"id": 1.0, "score": 9}})

	out, err := tk.Join(left, right, join.Spec{Key: "id"})
	require.NoError(t, err)
	records, ok := out.Records()
	require.True(t, ok)
	require.Len(t, records, 1)
	assert.Equal(t, 9, records[0]["score"])
	assert.Equal(t, "a", records[0]["name"])

	_, err = tk.Join(connector.Scalar(1), right, join.Spec{Key: "id"})
	assert.ErrorIs(t, err, join.ErrInvalidJoinInput)
}

func TestToolkit_EnrichPreservesOrder(t *testing.T) {
	cfg := DefaultRunConfig()
	cfg.MaxParallel = 2
	tk := NewToolkit(cfg)

	out, err := tk.Enrich(context.Background(), connector.List([]any{1, 2, 3, 4, 5}),
		func(_ context.Context, _ string, item any) (any, error) {
			return fmt.Sprintf("item-%v", item), nil
		})
	require.NoError(t, err)
	items, ok := out.AsList()
	require.True(t, ok)
	assert.Equal(t, []any{"item-1", "item-2", "item-3", "item-4", "item-5"}, items)
}

func TestToolkit_StreamSkipsFailedChunks(t *testing.T) {
	cfg := DefaultRunConfig()
	cfg.StreamingEnabled = true
	cfg.BatchSize = 2
	tk := NewToolkit(cfg)

	var chunks int
	out, err := tk.Stream(context.Background(), []any{1, 2, 3, 4, 5},
		func(_ context.Context, chunk []any) (any, error) {
			if chunk[0] == 3 {
				return nil, errors.New("bad chunk")
			}
			return chunk, nil
		},
		func(any) { chunks++ })
	require.NoError(t, err)
	assert.Equal(t, []any{1, 2, 5}, out)
	assert.Equal(t, 2, chunks)
}

func TestToolkit_ExecuteWithRecoveryDisabled(t *testing.T) {
	tk := NewToolkit(noRecovery())
	calls := 0
	_, err := tk.ExecuteWithRecovery(context.Background(), "once", func(context.Context) (any, error) {
		calls++
		return nil, errors.New("fail")
	})
	assert.EqualError(t, err, "fail")
	assert.Equal(t, 1, calls)
}
