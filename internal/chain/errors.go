// ABOUTME: Error types for coordination service requests
// ABOUTME: Separates HTTP status failures from transport failures for retry decisions

package chain

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is returned when the service answers with a non-2xx status.
type APIError struct {
	Endpoint   string
	StatusCode int
	Message    string // service-provided error text, if any
	Body       string // truncated raw body
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s returned status %d: %s", e.Endpoint, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s returned status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// TransportError wraps a failure to reach the service or read its reply.
type TransportError struct {
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StatusCode returns the HTTP status carried by err, or 0 if there is none.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// IsRetryable reports whether a request that failed with err may succeed
// if sent again: transport failures, 429, and 5xx.
func IsRetryable(err error) bool {
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	return false
}

// IsUnauthorized reports whether err is an authorization rejection. The relay
// does not re-register on its own; operators restart the agent.
func IsUnauthorized(err error) bool {
	code := StatusCode(err)
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}
