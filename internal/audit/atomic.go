package audit

import (
	"context"
	"sync/atomic"
)

// AtomicLogger delegates to a Logger that can be replaced while requests
// are in flight, so holders of the AtomicLogger pick up a reloaded audit
// configuration without being rebuilt.
type AtomicLogger struct {
	current atomic.Pointer[Logger]
}

var _ Logger = (*AtomicLogger)(nil)

// NewAtomicLogger wraps logger. A nil logger is replaced by a no-op one.
func NewAtomicLogger(logger Logger) *AtomicLogger {
	if logger == nil {
		logger = NewNoopLogger()
	}
	a := &AtomicLogger{}
	a.current.Store(&logger)
	return a
}

// Swap replaces the inner logger and returns the previous one, which the
// caller must close.
func (a *AtomicLogger) Swap(logger Logger) Logger {
	if logger == nil {
		logger = NewNoopLogger()
	}
	if old := a.current.Swap(&logger); old != nil {
		return *old
	}
	return nil
}

// Load returns the current inner logger.
func (a *AtomicLogger) Load() Logger {
	if ptr := a.current.Load(); ptr != nil {
		return *ptr
	}
	return NewNoopLogger()
}

// LogEvent delegates to the current inner logger.
func (a *AtomicLogger) LogEvent(ctx context.Context, event *Event) {
	a.Load().LogEvent(ctx, event)
}

// Close closes the current inner logger.
func (a *AtomicLogger) Close() error {
	return a.Load().Close()
}
