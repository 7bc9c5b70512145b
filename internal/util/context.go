package util

import (
	"context"
	"sync/atomic"
	"time"
)

// Context keys.
type ctxKey string

const (
	ctxKeyStartTime ctxKey = "start_time"
	ctxKeyLocation  ctxKey = "location"
)

// ContextWithStartTime adds a start time to the context.
func ContextWithStartTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ctxKeyStartTime, t)
}

// StartTimeFromContext extracts the start time from context.
func StartTimeFromContext(ctx context.Context) time.Time {
	if v, ok := ctx.Value(ctxKeyStartTime).(time.Time); ok {
		return v
	}
	return time.Time{}
}

// ElapsedTime returns the elapsed time since the start time in context.
func ElapsedTime(ctx context.Context) time.Duration {
	startTime := StartTimeFromContext(ctx)
	if startTime.IsZero() {
		return 0
	}
	return time.Since(startTime)
}

// LocationHolder carries the name of the matched location back out to
// middleware that wraps the pipeline. Outer middleware installs it, the
// pipeline fills it once routing is done.
type LocationHolder struct {
	name atomic.Value
}

// NewLocationHolder creates an empty LocationHolder.
func NewLocationHolder() *LocationHolder {
	return &LocationHolder{}
}

// Set records the matched location name.
func (h *LocationHolder) Set(name string) {
	if h == nil {
		return
	}
	h.name.Store(name)
}

// Get returns the recorded location name, or "" if none was set.
func (h *LocationHolder) Get() string {
	if h == nil {
		return ""
	}
	if v, ok := h.name.Load().(string); ok {
		return v
	}
	return ""
}

// ContextWithLocationHolder attaches a LocationHolder to the context.
func ContextWithLocationHolder(ctx context.Context, h *LocationHolder) context.Context {
	return context.WithValue(ctx, ctxKeyLocation, h)
}

// LocationHolderFromContext returns the LocationHolder from context, or nil.
func LocationHolderFromContext(ctx context.Context) *LocationHolder {
	if v, ok := ctx.Value(ctxKeyLocation).(*LocationHolder); ok {
		return v
	}
	return nil
}
