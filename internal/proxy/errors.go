package proxy

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for proxy operations.
var (
	// ErrInvalidTargetURL indicates that the upstream URL is invalid.
	ErrInvalidTargetURL = errors.New("invalid target URL")

	// ErrUpstreamTimeout indicates that the upstream request timed out.
	ErrUpstreamTimeout = errors.New("upstream request timed out")

	// ErrUpstreamUnavailable indicates that the upstream could not be reached.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// ProxyError represents a proxy-related error with details.
type ProxyError struct {
	Op       string // Operation that failed
	Upstream string // Upstream name
	Target   string // Target URL if applicable
	Status   int    // HTTP status the failure surfaces as
	Message  string // Human-readable message
	Cause    error  // Underlying error
}

// Error implements the error interface.
func (e *ProxyError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("proxy error [%s] upstream=%s target=%s: %s: %v",
			e.Op, e.Upstream, e.Target, e.Message, e.Cause)
	}
	return fmt.Sprintf("proxy error [%s] upstream=%s: %s: %v",
		e.Op, e.Upstream, e.Message, e.Cause)
}

// Unwrap returns the underlying error.
func (e *ProxyError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *ProxyError) Is(target error) bool {
	_, ok := target.(*ProxyError)
	return ok || errors.Is(e.Cause, target)
}

// HTTPStatus returns the status the failure should be answered with.
func (e *ProxyError) HTTPStatus() int {
	if e.Status == 0 {
		return http.StatusBadGateway
	}
	return e.Status
}

// NewInvalidTargetError creates an error for an invalid upstream URL.
func NewInvalidTargetError(upstream, target string, cause error) *ProxyError {
	return &ProxyError{
		Op:       "parse_target",
		Upstream: upstream,
		Target:   target,
		Message:  "invalid target URL",
		Cause:    fmt.Errorf("%w: %w", ErrInvalidTargetURL, cause),
	}
}
