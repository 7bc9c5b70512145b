package pipeline

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/authgate/internal/observability"
)

// Subrequest issues an internal GET for uri on behalf of parent. The
// parent's request headers are copied, the body is not. The subrequest
// runs on its own goroutine; post is invoked on the parent's goroutine
// once it is done. A non-nil error means nothing was started.
func (e *Engine) Subrequest(parent *Request, uri string, opts SubrequestOptions, post PostSubrequest) (*Request, error) {
	if parent.depth+1 > maxSubrequestDepth {
		return nil, fmt.Errorf("%w: %s", ErrSubrequestDepth, uri)
	}

	u, err := url.ParseRequestURI(uri)
	if err != nil || !strings.HasPrefix(u.Path, "/") || u.IsAbs() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURI, uri)
	}

	hr, err := http.NewRequestWithContext(parent.Context(), http.MethodGet, u.RequestURI(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidURI, err)
	}
	hr.Header = parent.http.Header.Clone()
	hr.Header.Del("Content-Length")
	hr.Header.Del("Transfer-Encoding")
	hr.Host = parent.http.Host
	hr.RemoteAddr = parent.http.RemoteAddr

	var loc *Location
	if parent.server != nil {
		loc, _ = parent.server.Match(u.Path)
	}

	sr := parent.NewSubrequest(hr, loc, opts)
	if opts.Waited {
		parent.pending++
	}

	parent.logger.Debug("subrequest issued",
		observability.String("uri", uri),
		observability.Int("depth", sr.depth),
	)

	go e.runSubrequest(sr, post)

	return sr, nil
}

// runSubrequest executes sr and hands its completion to the parent.
func (e *Engine) runSubrequest(sr *Request, post PostSubrequest) {
	rc := e.execute(sr)
	sr.finish()

	locName := ""
	if sr.loc != nil {
		locName = sr.loc.Name
	}
	e.metrics.RecordSubrequest(locName, sr.Status())

	parent := sr.parent
	parent.post(func() {
		if sr.opts.Waited {
			parent.pending--
		}
		if post != nil {
			post(sr, rc)
		}
	})
}

// execute runs the content handler of sr and settles its status.
func (e *Engine) execute(sr *Request) (rc Code) {
	ctx, span := tracer.Start(sr.Context(), "subrequest "+sr.http.URL.Path,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("http.request.method", sr.http.Method),
			attribute.String("url.path", sr.http.URL.Path),
			attribute.Int("subrequest.depth", sr.depth),
		),
	)
	sr.http = sr.http.WithContext(ctx)

	defer func() {
		if p := recover(); p != nil {
			sr.logger.Error("subrequest panicked",
				observability.String("uri", sr.http.URL.RequestURI()),
				observability.Any("panic", p),
			)
			sr.Fail(fmt.Errorf("panic: %v", p))
			sr.w.WriteHeader(http.StatusInternalServerError)
			rc = Error
		}
		span.SetAttributes(attribute.Int("http.response.status_code", sr.Status()))
		if sr.err != nil {
			span.RecordError(sr.err)
			span.SetStatus(codes.Error, sr.err.Error())
		}
		span.End()
	}()

	switch {
	case sr.loc == nil:
		sr.w.WriteHeader(http.StatusNotFound)
		return OK
	case sr.loc.Content == nil:
		sr.Fail(ErrNoContentHandler)
		sr.w.WriteHeader(http.StatusInternalServerError)
		return Error
	}

	if err := sr.loc.Content.Content(sr); err != nil {
		sr.Fail(err)
		if !sr.w.Written() {
			sr.w.WriteHeader(statusFromError(err, http.StatusBadGateway))
		}
		return Error
	}

	if !sr.w.Written() {
		sr.w.WriteHeader(http.StatusOK)
	}
	return OK
}

var _ Dispatcher = (*Engine)(nil)
