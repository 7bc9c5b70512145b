package authrequest

import "errors"

// Sentinel errors for directive handling.
var (
	// ErrDuplicateDirective is returned when the directive is set twice in
	// one scope.
	ErrDuplicateDirective = errors.New("is duplicate")

	// ErrInvalidDirective is returned for values that are neither "off"
	// nor an absolute URI path.
	ErrInvalidDirective = errors.New("invalid auth request uri")
)
