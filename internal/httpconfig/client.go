package httpconfig

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/canectors/flow/internal/errhandling"
	"github.com/canectors/flow/internal/logger"
)

const maxBodySnippet = 500

// Client sends requests for one BaseConfig. It applies the configured headers,
// timeout and rate limit, and turns error responses into classified errors so
// that the retry policy skips client errors.
type Client struct {
	http    *http.Client
	limiter *rate.Limiter
	headers map[string]string
}

// NewClient builds a client for config. A nil hc uses a client with the
// configured timeout.
func NewClient(config BaseConfig, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: config.Timeout()}
	}
	c := &Client{http: hc, headers: config.Headers}
	if config.RateLimit > 0 {
		burst := max(1, int(config.RateLimit))
		c.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), burst)
	}
	return c
}

// Do sends one request and returns the response body. extra headers override
// the configured ones.
func (c *Client) Do(ctx context.Context, method, endpoint string, extra map[string]string, body []byte) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for rate limiter: %w", err)
		}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, errhandling.Permanent(fmt.Errorf("creating http request: %w", err))
	}
	req.Header.Set("User-Agent", DefaultUserAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	for k, v := range extra {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			logger.Warn("failed to close response body",
				slog.String("endpoint", endpoint),
				slog.String("error", cerr.Error()),
			)
		}
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		snippet := string(data)
		if len(snippet) > maxBodySnippet {
			snippet = snippet[:maxBodySnippet] + "..."
		}
		logger.Debug("http error response",
			slog.String("endpoint", endpoint),
			slog.String("method", method),
			slog.Int("status_code", resp.StatusCode),
			slog.Duration("duration", time.Since(start)),
			slog.String("response_body", snippet),
		)
		return nil, errhandling.ClassifyHTTPStatus(resp.StatusCode, snippet)
	}

	logger.Debug("http request completed",
		slog.String("endpoint", endpoint),
		slog.String("method", method),
		slog.Int("status_code", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)
	return data, nil
}

// Pool keeps one Client per distinct BaseConfig so that rate limiter state
// survives across calls.
type Pool struct {
	hc *http.Client

	mu      sync.Mutex
	clients map[string]*Client
}

// NewPool returns an empty pool. hc is passed to every client it creates.
func NewPool(hc *http.Client) *Pool {
	return &Pool{hc: hc, clients: make(map[string]*Client)}
}

// Get returns the client for config, creating it on first use.
func (p *Pool) Get(config BaseConfig) *Client {
	key := fmt.Sprintf("%+v", config)
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.clients[key]
	if !ok {
		c = NewClient(config, p.hc)
		p.clients[key] = c
	}
	return c
}
