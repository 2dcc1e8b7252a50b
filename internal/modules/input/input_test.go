package input

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canectors/flow/internal/errhandling"
	"github.com/canectors/flow/pkg/connector"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestStatic(t *testing.T) {
	s := NewStatic()
	cfg := map[string]any{"records": []any{map[string]any{"id": 1.0}}}
	require.True(t, s.Supports(cfg))
	assert.False(t, s.Supports(map[string]any{}))

	v, err := s.Extract(context.Background(), cfg)
	require.NoError(t, err)
	records, ok := v.Records()
	require.True(t, ok)
	records[0]["id"] = 2.0

	again, err := s.Extract(context.Background(), cfg)
	require.NoError(t, err)
	fresh, _ := again.Records()
	assert.Equal(t, 1.0, fresh[0]["id"], "extracted records must not alias the config")
}

func TestFile_Formats(t *testing.T) {
	tests := []struct {
		name   string
		file   string
		body   string
		extra  map[string]any
		expect []connector.Record
	}{
		{
			name:   "json list",
			file:   "in.json",
			body:   `[{"id":1},{"id":2}]`,
			expect: []connector.Record{{"id": 1.0}, {"id": 2.0}},
		},
		{
			name:   "json with dataField",
			file:   "in.json",
			body:   `{"data":{"items":[{"id":"a"}]}}`,
			extra:  map[string]any{"dataField": "data.items"},
			expect: []connector.Record{{"id": "a"}},
		},
		{
			name:   "yaml",
			file:   "in.yml",
			body:   "- id: 1\n  name: one\n",
			expect: []connector.Record{{"id": 1, "name": "one"}},
		},
		{
			name:   "csv",
			file:   "in.csv",
			body:   "id,name\n1,one\n2,two\n",
			expect: []connector.Record{{"id": "1", "name": "one"}, {"id": "2", "name": "two"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := map[string]any{"path": writeFile(t, tt.file, tt.body)}
			for k, v := range tt.extra {
				cfg[k] = v
			}
			f := NewFile()
			require.True(t, f.Supports(cfg))
			v, err := f.Extract(context.Background(), cfg)
			require.NoError(t, err)
			records, ok := v.Records()
			require.True(t, ok)
			assert.Equal(t, tt.expect, records)
		})
	}
}

func TestFile_Errors(t *testing.T) {
	f := NewFile()
	assert.False(t, f.Supports(map[string]any{"path": "../etc/passwd"}))
	assert.False(t, f.Supports(map[string]any{"path": "a.json", "format": "xml"}))

	_, err := f.Extract(context.Background(), map[string]any{"path": filepath.Join(t.TempDir(), "missing.json")})
	assert.Error(t, err)

	path := writeFile(t, "in.json", `{"other":[]}`)
	_, err = f.Extract(context.Background(), map[string]any{"path": path, "dataField": "data"})
	assert.ErrorContains(t, err, "dataField")
}

func TestHTTP_Extract(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "k", r.Header.Get("X-Api-Key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[{"id":1},{"id":2}]}`))
	}))
	defer srv.Close()

	h := NewHTTP(srv.Client())
	cfg := map[string]any{
		"endpoint":  srv.URL,
		"headers":   map[string]any{"X-Api-Key": "k"},
		"dataField": "results",
	}
	require.True(t, h.Supports(cfg))

	v, err := h.Extract(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, 2, v.Len())
}

func TestHTTP_ClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	h := NewHTTP(srv.Client())
	_, err := h.Extract(context.Background(), map[string]any{"endpoint": srv.URL})
	require.Error(t, err)
	assert.False(t, errhandling.IsRetryable(err))
	assert.EqualValues(t, 1, calls.Load())
}

func TestHTTP_RequiresEndpoint(t *testing.T) {
	h := NewHTTP(nil)
	assert.False(t, h.Supports(map[string]any{}))
	_, err := h.Extract(context.Background(), map[string]any{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
