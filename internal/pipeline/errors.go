package pipeline

import (
	"errors"
	"fmt"
)

// Sentinel errors for pipeline operations.
var (
	// ErrDispatch marks a failure to execute a subrequest, as opposed to a
	// subrequest that ran and returned an unwelcome status.
	ErrDispatch = errors.New("subrequest dispatch failed")

	// ErrSubrequestDepth is returned when a subrequest would exceed the
	// nesting limit.
	ErrSubrequestDepth = errors.New("subrequest nesting limit exceeded")

	// ErrInvalidURI is returned when a subrequest URI is not an absolute path.
	ErrInvalidURI = errors.New("invalid subrequest uri")

	// ErrUnknownServer is returned when no server with the requested name
	// is present in the active snapshot.
	ErrUnknownServer = errors.New("unknown server")

	// ErrNoContentHandler is returned for locations without a content handler.
	ErrNoContentHandler = errors.New("location has no content handler")
)

// DispatchError records why a subrequest could not be carried out.
type DispatchError struct {
	URI string
	Err error
}

// Error implements the error interface.
func (e *DispatchError) Error() string {
	return fmt.Sprintf("subrequest %s: %v", e.URI, e.Err)
}

// Unwrap returns the underlying error.
func (e *DispatchError) Unwrap() error {
	return e.Err
}

// Is reports ErrDispatch and DispatchError targets as matching.
func (e *DispatchError) Is(target error) bool {
	if target == ErrDispatch {
		return true
	}
	_, ok := target.(*DispatchError)
	return ok
}

// statusCoder is implemented by errors that know which HTTP status they
// should surface as.
type statusCoder interface {
	HTTPStatus() int
}

// statusFromError returns the status carried by err, or fallback.
func statusFromError(err error, fallback int) int {
	var sc statusCoder
	if errors.As(err, &sc) {
		if s := sc.HTTPStatus(); s >= 100 {
			return s
		}
	}
	return fallback
}
