package input

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/canectors/flow/internal/httpconfig"
	"github.com/canectors/flow/internal/logger"
	"github.com/canectors/flow/pkg/connector"
)

// HTTP fetches JSON from an endpoint with a GET request.
//
// Config keys: endpoint (required), headers, dataField, timeoutMs, rateLimit.
// Client errors (4xx) are permanent; the retry policy only retries network
// failures, 429 and 5xx responses.
type HTTP struct {
	clients *httpconfig.Pool
}

// NewHTTP returns the http extractor. A nil client uses per-config clients
// with the configured timeout.
func NewHTTP(hc *http.Client) *HTTP {
	return &HTTP{clients: httpconfig.NewPool(hc)}
}

func (*HTTP) Name() string { return "http" }

func (*HTTP) Supports(config map[string]any) bool {
	return httpconfig.ValidateBaseConfig(httpconfig.ExtractBaseConfig(config), true) == nil
}

func (h *HTTP) Extract(ctx context.Context, config map[string]any) (connector.Value, error) {
	base := httpconfig.ExtractBaseConfig(config)
	if err := httpconfig.ValidateBaseConfig(base, true); err != nil {
		return connector.Value{}, fmt.Errorf("%w: http: %v", ErrInvalidConfig, err)
	}

	start := time.Now()
	body, err := h.clients.Get(base).Do(ctx, http.MethodGet, base.Endpoint, nil, nil)
	if err != nil {
		return connector.Value{}, err
	}
	v, err := decodeJSON(body, base.DataField)
	if err != nil {
		return connector.Value{}, fmt.Errorf("%s: %w", base.Endpoint, err)
	}

	logger.Info("http extraction completed",
		slog.String("endpoint", base.Endpoint),
		slog.Int("record_count", v.Len()),
		slog.Duration("duration", time.Since(start)),
	)
	return v, nil
}
