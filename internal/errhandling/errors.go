// Package errhandling provides the error kinds of the pipeline engine, error
// classification for remote capabilities, and the retry policy used for error recovery.
package errhandling

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
)

// ErrorCategory represents the type/category of an error.
type ErrorCategory string

// Error categories for classification.
const (
	// CategoryNetwork covers timeouts, refused connections and DNS failures. Retryable.
	CategoryNetwork ErrorCategory = "network"
	// CategoryAuthentication covers 401 and 403 responses. Fatal.
	CategoryAuthentication ErrorCategory = "authentication"
	// CategoryValidation covers malformed requests (400, 422, other 4xx). Fatal.
	CategoryValidation ErrorCategory = "validation"
	// CategoryRateLimit covers 429 responses. Retryable.
	CategoryRateLimit ErrorCategory = "rate_limit"
	// CategoryServer covers 5xx responses. Retryable.
	CategoryServer ErrorCategory = "server"
	// CategoryNotFound covers 404 responses. Fatal.
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryUnknown covers everything else. Retryable.
	CategoryUnknown ErrorCategory = "unknown"
)

// ClassifiedError wraps an error with classification metadata.
type ClassifiedError struct {
	Category    ErrorCategory
	Retryable   bool
	StatusCode  int
	Message     string
	OriginalErr error
}

func (e *ClassifiedError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s error (status %d): %s", e.Category, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Category, e.Message)
}

func (e *ClassifiedError) Unwrap() error {
	return e.OriginalErr
}

var statusMessages = map[int]string{
	400: "bad request",
	401: "unauthorized",
	403: "forbidden",
	404: "not found",
	422: "unprocessable entity",
	429: "rate limited",
	500: "internal server error",
	502: "bad gateway",
	503: "service unavailable",
	504: "gateway timeout",
}

// ClassifyHTTPStatus classifies an HTTP error response by status code.
//
//   - 401, 403: authentication (fatal)
//   - 404: not found (fatal)
//   - 429: rate limit (retryable)
//   - 5xx: server (retryable)
//   - other 4xx: validation (fatal)
//   - anything else: unknown (retryable)
func ClassifyHTTPStatus(statusCode int, body string) *ClassifiedError {
	msg, ok := statusMessages[statusCode]
	if !ok {
		msg = body
	}
	ce := &ClassifiedError{StatusCode: statusCode, Message: msg}
	switch {
	case statusCode == 401 || statusCode == 403:
		ce.Category = CategoryAuthentication
	case statusCode == 404:
		ce.Category = CategoryNotFound
	case statusCode == 429:
		ce.Category, ce.Retryable = CategoryRateLimit, true
	case statusCode >= 500:
		ce.Category, ce.Retryable = CategoryServer, true
		if !ok {
			ce.Message = "server error"
		}
	case statusCode >= 400:
		ce.Category = CategoryValidation
		if !ok {
			ce.Message = "client error"
		}
	default:
		ce.Category, ce.Retryable = CategoryUnknown, true
	}
	return ce
}

// ClassifyError classifies any error. Already classified errors are returned as is;
// unknown errors are retryable.
func ClassifyError(err error) *ClassifiedError {
	if err == nil {
		return &ClassifiedError{Category: CategoryUnknown, Message: "nil error"}
	}

	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified
	}

	ce := &ClassifiedError{Category: CategoryNetwork, Retryable: true, OriginalErr: err}
	var (
		opErr  *net.OpError
		dnsErr *net.DNSError
		urlErr *url.Error
	)
	switch {
	case errors.Is(err, context.Canceled):
		ce.Retryable = false
		ce.Message = "context canceled"
	case errors.Is(err, context.DeadlineExceeded):
		ce.Message = "request timeout"
	case errors.As(err, &dnsErr):
		ce.Message = "DNS error: " + dnsErr.Name
	case errors.As(err, &opErr):
		ce.Message = fmt.Sprintf("network error: %s %s", opErr.Op, opErr.Net)
	case errors.As(err, &urlErr):
		ce.Message = fmt.Sprintf("URL error: %s %s", urlErr.Op, urlErr.URL)
	default:
		ce.Category = CategoryUnknown
		ce.Message = err.Error()
	}
	return ce
}

// permanentError marks an error that must not be retried.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as non-retryable. A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsRetryable reports whether the retry policy may attempt the operation again
// after err. Permanent errors, fatal classifications and cancellations are not
// retryable, nor is an error that already exhausted a nested policy.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var pe *permanentError
	if errors.As(err, &pe) {
		return false
	}
	if errors.Is(err, ErrRetryExhausted) {
		return false
	}
	return ClassifyError(err).Retryable
}
