package connector_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canectors/flow/pkg/connector"
)

func TestValueOf(t *testing.T) {
	tests := []struct {
		name string
		in   any
		kind connector.ValueKind
		len  int
	}{
		{"nil", nil, connector.KindNull, 0},
		{"string", "hello", connector.KindScalar, 1},
		{"number", 42.0, connector.KindScalar, 1},
		{"bytes stay scalar", []byte("abc"), connector.KindScalar, 1},
		{"map", map[string]any{"a": 1, "b": 2}, connector.KindMap, 2},
		{"typed map", map[string]int{"a": 1}, connector.KindMap, 1},
		{"any slice", []any{1, 2, 3}, connector.KindList, 3},
		{"typed slice", []int{1, 2}, connector.KindList, 2},
		{"record slice", []connector.Record{{"id": 1}}, connector.KindList, 1},
		{"value passthrough", connector.List([]any{1}), connector.KindList, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := connector.ValueOf(tt.in)
			assert.Equal(t, tt.kind, v.Kind())
			assert.Equal(t, tt.len, v.Len())
		})
	}
}

func TestValueRecords(t *testing.T) {
	v := connector.ValueOf([]any{map[string]any{"id": 1}, map[string]any{"id": 2}})
	records, ok := v.Records()
	require.True(t, ok)
	assert.Len(t, records, 2)
	assert.Equal(t, 2, records[1]["id"])

	_, ok = connector.ValueOf([]any{map[string]any{"id": 1}, "x"}).Records()
	assert.False(t, ok, "mixed list is not a record list")

	_, ok = connector.Map(map[string]any{}).Records()
	assert.False(t, ok)
}

func TestValueJSON(t *testing.T) {
	var v connector.Value
	require.NoError(t, json.Unmarshal([]byte(`[{"id":1,"tags":["a"]}]`), &v))
	assert.Equal(t, connector.KindList, v.Kind())

	data, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":1,"tags":["a"]}]`, string(data))

	data, err = json.Marshal(connector.Null())
	require.NoError(t, err)
	assert.Equal(t, "null", string(data))
}

func TestStepKind(t *testing.T) {
	for _, k := range []connector.StepKind{connector.Extract, connector.Transform, connector.Load} {
		parsed, err := connector.ParseStepKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}
	_, err := connector.ParseStepKind("publish")
	assert.Error(t, err)

	var step connector.Step
	require.NoError(t, json.Unmarshal([]byte(`{"kind":"Transform","name":"set"}`), &step))
	assert.Equal(t, connector.Transform, step.Kind)
}

func TestRunResultJSON(t *testing.T) {
	result := connector.RunResult{
		RunID:        "run-1",
		Data:         connector.Records([]connector.Record{{"id": 1}}),
		Success:      false,
		ErrorMessage: "boom",
		StartedAt:    time.Now(),
		Metadata: connector.RunMetadata{
			PerStep: []connector.StepResult{
				{Name: "static", Kind: connector.Extract, Success: true},
				{Name: "script", Kind: connector.Transform, Success: false, Error: "boom"},
			},
			CacheMisses: 1,
		},
	}

	data, err := json.Marshal(result)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "boom", decoded["error"])
	meta := decoded["metadata"].(map[string]any)
	steps := meta["perStep"].([]any)
	assert.Equal(t, "extract", steps[0].(map[string]any)["kind"])

	failed := result.Metadata.FailedSteps()
	require.Len(t, failed, 1)
	assert.Equal(t, "script", failed[0].Name)
}
