package router

import (
	"errors"
	"fmt"
)

// Router errors.
var (
	ErrUnknownMatchKind = errors.New("unknown match kind")
	ErrDuplicatePattern = errors.New("duplicate location pattern")
)

type entry[T any] struct {
	matcher PathMatcher
	value   T
}

// Table maps path patterns to values. A Table is built once and then
// only read, so lookups need no locking.
type Table[T any] struct {
	exact   map[string]T
	prefix  []entry[T]
	regex   []entry[T]
	entries int
}

// NewTable creates an empty Table.
func NewTable[T any]() *Table[T] {
	return &Table[T]{exact: make(map[string]T)}
}

// Add registers value under pattern. Registering the same exact or
// prefix pattern twice is an error.
func (t *Table[T]) Add(pattern string, kind MatchKind, value T) error {
	m, err := NewMatcher(pattern, kind)
	if err != nil {
		return err
	}

	switch m.Kind() {
	case MatchExact:
		if _, ok := t.exact[pattern]; ok {
			return fmt.Errorf("%w: = %s", ErrDuplicatePattern, pattern)
		}
		t.exact[pattern] = value
	case MatchPrefix:
		for _, e := range t.prefix {
			if e.matcher.Pattern() == pattern {
				return fmt.Errorf("%w: %s", ErrDuplicatePattern, pattern)
			}
		}
		t.prefix = append(t.prefix, entry[T]{matcher: m, value: value})
	case MatchRegex:
		t.regex = append(t.regex, entry[T]{matcher: m, value: value})
	}

	t.entries++
	return nil
}

// Match returns the value whose pattern wins for path.
func (t *Table[T]) Match(path string) (T, bool) {
	if v, ok := t.exact[path]; ok {
		return v, true
	}

	best := -1
	for i, e := range t.prefix {
		if !e.matcher.Match(path) {
			continue
		}
		if best < 0 || len(e.matcher.Pattern()) > len(t.prefix[best].matcher.Pattern()) {
			best = i
		}
	}
	if best >= 0 {
		return t.prefix[best].value, true
	}

	for _, e := range t.regex {
		if e.matcher.Match(path) {
			return e.value, true
		}
	}

	var zero T
	return zero, false
}

// Len returns the number of registered patterns.
func (t *Table[T]) Len() int {
	return t.entries
}
