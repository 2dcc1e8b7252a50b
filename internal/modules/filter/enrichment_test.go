package filter

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canectors/flow/pkg/connector"
)

func customerServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		id := strings.TrimPrefix(r.URL.Path, "/customers/")
		switch id {
		case "404":
			w.WriteHeader(http.StatusNotFound)
		case "500":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			_, _ = w.Write([]byte(`{"data":{"tier":"gold-` + id + `"}}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func orders(ids ...string) connector.Value {
	recs := make([]connector.Record, len(ids))
	for i, id := range ids {
		recs[i] = connector.Record{"order": float64(i), "customer": id}
	}
	return connector.Records(recs)
}

func TestEnrichment_MergesAndCachesLookups(t *testing.T) {
	var calls atomic.Int32
	srv := customerServer(t, &calls)
	e := NewEnrichment(srv.Client())
	cfg := map[string]any{
		"endpoint":  srv.URL + "/customers/{{record.customer}}",
		"dataField": "data",
	}
	require.True(t, e.Supports(cfg))

	out, err := e.Transform(testContext(t, nil), orders("a", "b", "a"), cfg)
	require.NoError(t, err)
	got := records(t, out)
	require.Len(t, got, 3)
	assert.Equal(t, "gold-a", got[0]["tier"])
	assert.Equal(t, "gold-b", got[1]["tier"])
	assert.Equal(t, "gold-a", got[2]["tier"])
	assert.Equal(t, 0.0, got[0]["order"])

	// Concurrent lookups of "a" in the same batch may both reach the server.
	assert.LessOrEqual(t, calls.Load(), int32(3))
	before := calls.Load()
	_, err = e.Transform(testContext(t, nil), orders("a", "b"), cfg)
	require.NoError(t, err)
	assert.Equal(t, before, calls.Load(), "second pass must be served from the lookup cache")
	assert.Positive(t, e.LookupStats().Hits)
}

func TestEnrichment_Target(t *testing.T) {
	var calls atomic.Int32
	srv := customerServer(t, &calls)
	out, err := NewEnrichment(srv.Client()).Transform(testContext(t, nil), orders("z"), map[string]any{
		"endpoint": srv.URL + "/customers/{{record.customer}}",
		"target":   "customerInfo",
	})
	require.NoError(t, err)
	got := records(t, out)
	assert.Equal(t, map[string]any{"data": map[string]any{"tier": "gold-z"}}, got[0]["customerInfo"])
}

func TestEnrichment_OnError(t *testing.T) {
	var calls atomic.Int32
	srv := customerServer(t, &calls)
	cfg := func(onError string) map[string]any {
		return map[string]any{
			"endpoint":  srv.URL + "/customers/{{record.customer}}",
			"dataField": "data",
			"onError":   onError,
		}
	}

	_, err := NewEnrichment(srv.Client()).Transform(testContext(t, nil), orders("a", "404"), cfg(""))
	require.Error(t, err)

	out, err := NewEnrichment(srv.Client()).Transform(testContext(t, nil), orders("a", "404", "b"), cfg(OnErrorSkip))
	require.NoError(t, err)
	assert.Len(t, records(t, out), 2)

	out, err = NewEnrichment(srv.Client()).Transform(testContext(t, nil), orders("404"), cfg(OnErrorLog))
	require.NoError(t, err)
	got := records(t, out)
	require.Len(t, got, 1)
	assert.NotContains(t, got[0], "tier")
}

func TestEnrichment_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := customerServer(t, &calls)
	_, err := NewEnrichment(srv.Client()).Transform(testContext(t, nil), orders("500"), map[string]any{
		"endpoint": srv.URL + "/customers/{{record.customer}}",
	})
	require.Error(t, err)
	assert.EqualValues(t, 4, calls.Load(), "one attempt plus three retries")

	calls.Store(0)
	_, err = NewEnrichment(srv.Client()).Transform(testContext(t, nil), orders("404"), map[string]any{
		"endpoint": srv.URL + "/customers/{{record.customer}}",
	})
	require.Error(t, err)
	assert.EqualValues(t, 1, calls.Load(), "client errors are not retried")
}
