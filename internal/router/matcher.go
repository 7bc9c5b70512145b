package router

import (
	"fmt"
	"regexp"
	"strings"
)

// MatchKind selects how a pattern is compared to a path.
type MatchKind string

// Supported match kinds.
const (
	MatchPrefix MatchKind = "prefix"
	MatchExact  MatchKind = "exact"
	MatchRegex  MatchKind = "regex"
)

// PathMatcher is the interface for path matching.
type PathMatcher interface {
	Match(path string) bool
	Kind() MatchKind
	Pattern() string
}

// ExactMatcher matches exact paths.
type ExactMatcher struct {
	path string
}

// NewExactMatcher creates a new exact path matcher.
func NewExactMatcher(path string) *ExactMatcher {
	return &ExactMatcher{path: path}
}

// Match checks if the path matches exactly.
func (m *ExactMatcher) Match(path string) bool {
	return path == m.path
}

// Kind returns the matcher kind.
func (m *ExactMatcher) Kind() MatchKind {
	return MatchExact
}

// Pattern returns the pattern.
func (m *ExactMatcher) Pattern() string {
	return m.path
}

// PrefixMatcher matches path prefixes. The comparison is a
// plain string prefix: "/auth" matches "/authz" as well as "/auth/x".
type PrefixMatcher struct {
	prefix string
}

// NewPrefixMatcher creates a new prefix path matcher.
func NewPrefixMatcher(prefix string) *PrefixMatcher {
	return &PrefixMatcher{prefix: prefix}
}

// Match checks if the path starts with the prefix.
func (m *PrefixMatcher) Match(path string) bool {
	return strings.HasPrefix(path, m.prefix)
}

// Kind returns the matcher kind.
func (m *PrefixMatcher) Kind() MatchKind {
	return MatchPrefix
}

// Pattern returns the pattern.
func (m *PrefixMatcher) Pattern() string {
	return m.prefix
}

// RegexMatcher matches paths against a regular expression.
type RegexMatcher struct {
	pattern string
	re      *regexp.Regexp
}

// NewRegexMatcher compiles pattern into a RegexMatcher.
func NewRegexMatcher(pattern string) (*RegexMatcher, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex %q: %w", pattern, err)
	}
	return &RegexMatcher{pattern: pattern, re: re}, nil
}

// Match checks if the path matches the expression.
func (m *RegexMatcher) Match(path string) bool {
	return m.re.MatchString(path)
}

// Kind returns the matcher kind.
func (m *RegexMatcher) Kind() MatchKind {
	return MatchRegex
}

// Pattern returns the pattern.
func (m *RegexMatcher) Pattern() string {
	return m.pattern
}

// NewMatcher builds the matcher for kind. An empty kind means prefix.
func NewMatcher(pattern string, kind MatchKind) (PathMatcher, error) {
	switch kind {
	case "", MatchPrefix:
		return NewPrefixMatcher(pattern), nil
	case MatchExact:
		return NewExactMatcher(pattern), nil
	case MatchRegex:
		return NewRegexMatcher(pattern)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMatchKind, kind)
	}
}
