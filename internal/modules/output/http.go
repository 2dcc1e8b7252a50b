package output

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/canectors/flow/internal/httpconfig"
	"github.com/canectors/flow/internal/logger"
	"github.com/canectors/flow/internal/runtime"
	"github.com/canectors/flow/internal/template"
	"github.com/canectors/flow/pkg/connector"
)

// Request body modes
const (
	// BodyFromRecords sends JSON arrays of up to batchSize items
	BodyFromRecords = "records"
	// BodyFromRecord sends one request per record; endpoint and headers may use {{record.*}}
	BodyFromRecord = "record"
)

// HTTP sends the carried items to an HTTP endpoint as JSON. Every request goes
// through the retry policy of the run; client errors are not retried.
//
// Config:
//
//	endpoint:  target URL (required)
//	method:    POST (default), PUT or PATCH
//	headers, timeoutMs, rateLimit
//	bodyFrom:  records (default) or record
//	batchSize: items per request in records mode; 0 sends everything at once
//	onError:   fail (default), skip or log; applies per request
type HTTP struct {
	clients *httpconfig.Pool
}

// NewHTTP returns the http loader. A nil client uses per-config clients with
// the configured timeout.
func NewHTTP(hc *http.Client) *HTTP {
	return &HTTP{clients: httpconfig.NewPool(hc)}
}

func (*HTTP) Name() string { return "http" }

func (*HTTP) Supports(config map[string]any) bool {
	_, err := parseHTTPConfig(config)
	return err == nil
}

type httpConfig struct {
	base      httpconfig.BaseConfig
	bodyFrom  string
	batchSize int
	onError   string
}

func parseHTTPConfig(config map[string]any) (httpConfig, error) {
	c := httpConfig{base: httpconfig.ExtractBaseConfig(config)}
	if err := httpconfig.ValidateBaseConfig(c.base, true); err != nil {
		return c, configError("http", "%v", err)
	}
	c.base.Method = c.base.MethodOr(http.MethodPost)
	if err := httpconfig.ValidateMethod(c.base.Method, httpconfig.WriteMethods); err != nil {
		return c, configError("http", "%v", err)
	}
	c.bodyFrom, _ = config["bodyFrom"].(string)
	switch c.bodyFrom {
	case "":
		c.bodyFrom = BodyFromRecords
	case BodyFromRecords, BodyFromRecord:
	default:
		return c, configError("http", "bodyFrom must be %q or %q", BodyFromRecords, BodyFromRecord)
	}
	if n, ok := config["batchSize"].(float64); ok {
		if n < 0 {
			return c, configError("http", "batchSize must be >= 0")
		}
		c.batchSize = int(n)
	} else if n, ok := config["batchSize"].(int); ok && n > 0 {
		c.batchSize = n
	}
	c.onError, _ = config["onError"].(string)
	if err := httpconfig.ValidateOnError(c.onError); err != nil {
		return c, configError("http", "%v", err)
	}
	if c.onError == "" {
		c.onError = "fail"
	}
	return c, nil
}

// request is one body to send.
type request struct {
	endpoint string
	headers  map[string]string
	body     any
	count    int
}

func (h *HTTP) Load(ctx context.Context, in connector.Value, config map[string]any) (connector.Value, error) {
	c, err := parseHTTPConfig(config)
	if err != nil {
		return connector.Value{}, err
	}
	values := items(in)
	if len(values) == 0 {
		logger.Debug("no records to send", slog.String("endpoint", c.base.Endpoint))
		return summary(0), nil
	}

	client := h.clients.Get(c.base)
	tk := runtime.ToolkitFrom(ctx)
	start := time.Now()
	sent := 0
	for i, req := range buildRequests(c, values) {
		body, err := json.Marshal(req.body)
		if err != nil {
			return connector.Value{}, fmt.Errorf("http: request %d: encoding body: %w", i, err)
		}
		label := fmt.Sprintf("http %s %s", c.base.Method, req.endpoint)
		_, err = tk.ExecuteWithRecovery(ctx, label, func(ctx context.Context) (any, error) {
			return client.Do(ctx, c.base.Method, req.endpoint, req.headers, body)
		})
		if err != nil {
			if c.onError == "fail" || ctx.Err() != nil {
				return connector.Value{}, fmt.Errorf("http: request %d: %w", i, err)
			}
			lvl := slog.LevelWarn
			if c.onError == "log" {
				lvl = slog.LevelError
			}
			logger.Logger.Log(ctx, lvl, "http request failed (continuing)",
				slog.String("endpoint", req.endpoint),
				slog.Int("request_index", i),
				slog.Int("record_count", req.count),
				slog.String("error", err.Error()),
			)
			continue
		}
		sent += req.count
	}

	logger.Debug("http load completed",
		slog.String("endpoint", c.base.Endpoint),
		slog.String("method", c.base.Method),
		slog.Int("record_count", len(values)),
		slog.Int("sent", sent),
		slog.Duration("duration", time.Since(start)),
	)
	return summary(sent), nil
}

func buildRequests(c httpConfig, values []any) []request {
	if c.bodyFrom == BodyFromRecord {
		reqs := make([]request, len(values))
		for i, v := range values {
			rec, _ := v.(map[string]any)
			reqs[i] = request{
				endpoint: template.RenderURL(c.base.Endpoint, rec),
				headers:  template.RenderHeaders(c.base.Headers, rec),
				body:     v,
				count:    1,
			}
		}
		return reqs
	}

	size := c.batchSize
	if size <= 0 {
		size = len(values)
	}
	var reqs []request
	for start := 0; start < len(values); start += size {
		end := min(start+size, len(values))
		reqs = append(reqs, request{endpoint: c.base.Endpoint, body: values[start:end], count: end - start})
	}
	return reqs
}
