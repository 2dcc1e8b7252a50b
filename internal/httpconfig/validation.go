package httpconfig

import (
	"fmt"
	"net/http"
	"slices"

	"github.com/canectors/flow/internal/template"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s: %s", e.Field, e.Message)
}

// ValidateBaseConfig checks required fields and placeholder syntax.
func ValidateBaseConfig(config BaseConfig, requireEndpoint bool) error {
	if requireEndpoint && config.Endpoint == "" {
		return &ValidationError{Field: "endpoint", Message: "endpoint is required"}
	}
	if err := template.ValidateSyntax(config.Endpoint); err != nil {
		return &ValidationError{Field: "endpoint", Message: err.Error()}
	}
	for name, value := range config.Headers {
		if err := template.ValidateSyntax(value); err != nil {
			return &ValidationError{Field: "headers." + name, Message: err.Error()}
		}
	}
	if config.RateLimit < 0 {
		return &ValidationError{Field: "rateLimit", Message: "must be >= 0"}
	}
	return nil
}

// ValidateMethod checks method against the allowed methods. An empty method is valid.
func ValidateMethod(method string, allowed []string) error {
	if method == "" || slices.Contains(allowed, method) {
		return nil
	}
	return &ValidationError{
		Field:   "method",
		Message: fmt.Sprintf("method must be one of %v, got: %s", allowed, method),
	}
}

// WriteMethods are the methods accepted by the http loader.
var WriteMethods = []string{http.MethodPost, http.MethodPut, http.MethodPatch}

// ValidateOnError checks an onError mode. An empty value is valid.
func ValidateOnError(onError string) error {
	valid := []string{"fail", "skip", "log"}
	if onError == "" || slices.Contains(valid, onError) {
		return nil
	}
	return &ValidationError{
		Field:   "onError",
		Message: fmt.Sprintf("must be one of %v, got: %s", valid, onError),
	}
}
