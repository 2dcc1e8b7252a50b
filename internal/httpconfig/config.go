// Package httpconfig provides the HTTP configuration and client shared by the
// http extractor, the enrichment transformer and the http loader.
package httpconfig

import (
	"time"
)

// Default configuration values
const (
	DefaultTimeout   = 30 * time.Second
	DefaultUserAgent = "canectors-flow/1.0"
)

// BaseConfig contains the HTTP fields common to every HTTP capability.
type BaseConfig struct {
	// Endpoint is the request URL (required).
	// Supports {{record.field}} placeholders where a record is available.
	Endpoint string `json:"endpoint"`

	// Method is the HTTP method. The default depends on the capability.
	Method string `json:"method,omitempty"`

	// Headers are added to every request.
	Headers map[string]string `json:"headers,omitempty"`

	// TimeoutMs is the per-request timeout in milliseconds (default 30000).
	TimeoutMs int `json:"timeoutMs,omitempty"`

	// RateLimit caps requests per second; 0 means unlimited.
	RateLimit float64 `json:"rateLimit,omitempty"`

	// DataField is the dotted path of the records inside a JSON response.
	DataField string `json:"dataField,omitempty"`
}

// Timeout returns the request timeout, or DefaultTimeout when unset.
func (c BaseConfig) Timeout() time.Duration {
	if c.TimeoutMs > 0 {
		return time.Duration(c.TimeoutMs) * time.Millisecond
	}
	return DefaultTimeout
}

// MethodOr returns the configured method, or def when unset.
func (c BaseConfig) MethodOr(def string) string {
	if c.Method == "" {
		return def
	}
	return c.Method
}

// ExtractBaseConfig reads BaseConfig from a step config map.
func ExtractBaseConfig(config map[string]any) BaseConfig {
	if config == nil {
		return BaseConfig{}
	}
	base := BaseConfig{
		Headers: ExtractStringMap(config, "headers"),
	}
	base.Endpoint, _ = config["endpoint"].(string)
	base.Method, _ = config["method"].(string)
	base.DataField, _ = config["dataField"].(string)
	if ms, ok := number(config["timeoutMs"]); ok && ms > 0 {
		base.TimeoutMs = int(ms)
	}
	if r, ok := number(config["rateLimit"]); ok && r > 0 {
		base.RateLimit = r
	}
	return base
}

// ExtractStringMap reads a map of strings at key. Non-string values are ignored.
func ExtractStringMap(config map[string]any, key string) map[string]string {
	result := make(map[string]string)
	raw, ok := config[key].(map[string]any)
	if !ok {
		return result
	}
	for k, v := range raw {
		if s, ok := v.(string); ok {
			result[k] = s
		}
	}
	return result
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
