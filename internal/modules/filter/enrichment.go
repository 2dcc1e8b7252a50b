package filter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"time"

	"github.com/canectors/flow/internal/cache"
	"github.com/canectors/flow/internal/errhandling"
	"github.com/canectors/flow/internal/httpconfig"
	"github.com/canectors/flow/internal/logger"
	"github.com/canectors/flow/internal/pathutil"
	"github.com/canectors/flow/internal/runtime"
	"github.com/canectors/flow/internal/template"
	"github.com/canectors/flow/pkg/connector"
)

// Default configuration values for the enrichment transformer
const (
	DefaultLookupTTL = 5 * time.Minute
)

// dropped marks a record removed under onError=skip.
type dropped struct{}

// Enrichment looks up every record on an HTTP endpoint and merges the
// response into it. Lookups run through the enrich engine of the run, so they
// are batched and concurrent when parallelism is enabled, and each request
// goes through the retry policy.
//
// Config:
//
//	endpoint:    URL template, e.g. https://api/customers/{{record.customerId}} (required)
//	headers:     header templates
//	dataField:   path of the useful part of the response
//	target:      store the response under this path instead of merging it at the root
//	cacheTTLMs:  lifetime of cached lookups (default 5m); identical URLs are fetched once
//	timeoutMs, rateLimit, onError
type Enrichment struct {
	clients *httpconfig.Pool
	lookups *cache.Cache[any]
}

// NewEnrichment returns the enrichment transformer. A nil client uses
// per-config clients with the configured timeout.
func NewEnrichment(hc *http.Client) *Enrichment {
	return &Enrichment{
		clients: httpconfig.NewPool(hc),
		lookups: cache.New[any](DefaultLookupTTL),
	}
}

func (*Enrichment) Name() string { return "enrichment" }

func (*Enrichment) Supports(config map[string]any) bool {
	return httpconfig.ValidateBaseConfig(httpconfig.ExtractBaseConfig(config), true) == nil
}

// LookupStats returns the statistics of the lookup cache.
func (e *Enrichment) LookupStats() cache.Stats {
	return e.lookups.Stats()
}

func (e *Enrichment) Transform(ctx context.Context, in connector.Value, config map[string]any) (connector.Value, error) {
	base := httpconfig.ExtractBaseConfig(config)
	if err := httpconfig.ValidateBaseConfig(base, true); err != nil {
		return connector.Value{}, configError("enrichment", "%v", err)
	}
	target, _ := config["target"].(string)
	onError := normalizeOnError("enrichment", config["onError"])
	ttl := DefaultLookupTTL
	if ms, ok := config["cacheTTLMs"].(float64); ok && ms > 0 {
		ttl = time.Duration(ms) * time.Millisecond
	}

	records, single, err := recordsOf(in)
	if err != nil {
		return connector.Value{}, fmt.Errorf("enrichment: %w", err)
	}
	items := make([]any, len(records))
	for i, r := range records {
		items[i] = r
	}

	tk := runtime.ToolkitFrom(ctx)
	client := e.clients.Get(base)
	start := time.Now()

	fn := func(ctx context.Context, _ string, item any) (any, error) {
		rec := pathutil.CopyRecord(item.(connector.Record))
		data, err := e.lookup(ctx, tk, client, base, rec, ttl)
		if err == nil {
			err = mergeInto(rec, data, target)
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !handleRecordError("enrichment", -1, onError, err) {
				return nil, err
			}
			if onError == OnErrorSkip {
				return dropped{}, nil
			}
			return item, nil
		}
		return rec, nil
	}

	out, err := tk.Enrich(ctx, connector.List(items), fn)
	if err != nil {
		return connector.Value{}, fmt.Errorf("enrichment: %w", err)
	}
	results, _ := out.AsList()
	enriched := make([]connector.Record, 0, len(results))
	for _, r := range results {
		if rec, ok := r.(connector.Record); ok {
			enriched = append(enriched, rec)
		}
	}

	logger.Debug("enrichment completed",
		slog.String("endpoint", base.Endpoint),
		slog.Int("input_records", len(records)),
		slog.Int("output_records", len(enriched)),
		slog.Duration("duration", time.Since(start)),
	)
	return wrapRecords(enriched, single), nil
}

// lookup fetches the enrichment data of rec, from the lookup cache when possible.
func (e *Enrichment) lookup(
	ctx context.Context,
	tk *runtime.Toolkit,
	client *httpconfig.Client,
	base httpconfig.BaseConfig,
	rec connector.Record,
	ttl time.Duration,
) (any, error) {
	url := template.RenderURL(base.Endpoint, rec)
	if v, ok := e.lookups.Get(url); ok {
		return pathutil.DeepCopy(v), nil
	}

	headers := template.RenderHeaders(base.Headers, rec)
	res, err := tk.ExecuteWithRecovery(ctx, "enrichment "+url, func(ctx context.Context) (any, error) {
		body, err := client.Do(ctx, base.MethodOr(http.MethodGet), url, headers, nil)
		if err != nil {
			return nil, err
		}
		var data any
		if err := json.Unmarshal(body, &data); err != nil {
			return nil, errhandling.Permanent(fmt.Errorf("decoding response of %s: %w", url, err))
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	if base.DataField != "" {
		obj, ok := res.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("dataField %q: response of %s is not an object", base.DataField, url)
		}
		if res, ok = pathutil.Get(obj, base.DataField); !ok {
			return nil, fmt.Errorf("dataField %q not found in response of %s", base.DataField, url)
		}
	}
	e.lookups.SetWithTTL(url, res, ttl)
	return pathutil.DeepCopy(res), nil
}

// mergeInto stores data under target, or merges an object response into rec.
func mergeInto(rec connector.Record, data any, target string) error {
	if target != "" {
		return pathutil.Set(rec, target, data)
	}
	obj, ok := data.(map[string]any)
	if !ok {
		return fmt.Errorf("cannot merge a %T response into the record; set 'target'", data)
	}
	maps.Copy(rec, obj)
	return nil
}
