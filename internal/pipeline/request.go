package pipeline

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/vyrodovalexey/authgate/internal/observability"
)

// SubrequestOptions control how a subrequest is executed.
type SubrequestOptions struct {
	// HeaderOnly drops the response body; only status and headers are kept.
	HeaderOnly bool
	// DiscardBody discards the response body instead of buffering it.
	DiscardBody bool
	// Waited makes the parent account for the subrequest, so an access
	// handler may return Again until it completes.
	Waited bool
}

// PostSubrequest is invoked on the parent's goroutine once a subrequest has
// finished. rc is OK when the content handler ran to completion and Error
// when it failed; the returned code is informational.
type PostSubrequest func(sr *Request, rc Code) Code

// Upstream describes the upstream exchange a content handler performed.
type Upstream struct {
	name      string
	status    int
	headersIn http.Header
}

// NewUpstream records an upstream response. headers are kept as received.
func NewUpstream(name string, status int, headers http.Header) *Upstream {
	if headers == nil {
		headers = make(http.Header)
	}
	return &Upstream{name: name, status: status, headersIn: headers}
}

// Name returns the upstream name.
func (u *Upstream) Name() string { return u.name }

// Status returns the status the upstream answered with.
func (u *Upstream) Status() int { return u.status }

// HeadersIn returns the response headers exactly as the upstream sent them.
func (u *Upstream) HeadersIn() http.Header { return u.headersIn }

// Request is one request flowing through the pipeline, either the main
// request of a client connection or a subrequest issued on its behalf.
type Request struct {
	id     string
	http   *http.Request
	server *Server
	loc    *Location
	parent *Request
	depth  int
	opts   SubrequestOptions
	logger observability.Logger

	w        statusWriter
	sw       *subrequestWriter
	upstream *Upstream
	err      error
	modCtx   map[any]any

	// scheduling; owned by the goroutine serving the request
	events  chan func()
	done    chan struct{}
	pending int
}

// NewRequest creates a main request for hr answered through w.
func NewRequest(w http.ResponseWriter, hr *http.Request, loc *Location) *Request {
	id := observability.RequestIDFromContext(hr.Context())
	if id == "" {
		id = uuid.NewString()
	}
	return &Request{
		id:     id,
		http:   hr,
		loc:    loc,
		logger: observability.NopLogger(),
		w:      newResponseWriter(w),
		events: make(chan func()),
		done:   make(chan struct{}),
	}
}

// NewSubrequest creates a subrequest of r for hr, served by loc (which may
// be nil when no location matched). The subrequest is not executed.
func (r *Request) NewSubrequest(hr *http.Request, loc *Location, opts SubrequestOptions) *Request {
	sw := newSubrequestWriter(opts)
	return &Request{
		id:     r.id,
		http:   hr,
		server: r.server,
		loc:    loc,
		parent: r,
		depth:  r.depth + 1,
		opts:   opts,
		logger: r.logger,
		w:      sw,
		sw:     sw,
		events: make(chan func()),
		done:   make(chan struct{}),
	}
}

// ID returns the request ID shared by a request and its subrequests.
func (r *Request) ID() string { return r.id }

// HTTP returns the underlying net/http request.
func (r *Request) HTTP() *http.Request { return r.http }

// Context returns the request context.
func (r *Request) Context() context.Context { return r.http.Context() }

// Server returns the server the request belongs to.
func (r *Request) Server() *Server { return r.server }

// Location returns the matched location, or nil.
func (r *Request) Location() *Location { return r.loc }

// Parent returns the request that issued this subrequest, or nil.
func (r *Request) Parent() *Request { return r.parent }

// IsSubrequest reports whether r was issued internally.
func (r *Request) IsSubrequest() bool { return r.parent != nil }

// Depth returns the subrequest nesting depth; main requests are 0.
func (r *Request) Depth() int { return r.depth }

// Options returns the subrequest options.
func (r *Request) Options() SubrequestOptions { return r.opts }

// Logger returns the request-scoped logger.
func (r *Request) Logger() observability.Logger { return r.logger }

// Writer returns the writer the content handler answers through.
func (r *Request) Writer() http.ResponseWriter { return r.w }

// Status returns the response status, or 0 if none was sent yet.
func (r *Request) Status() int { return r.w.Status() }

// HeadersOut returns the outgoing response headers.
func (r *Request) HeadersOut() http.Header { return r.w.Header() }

// Body returns the buffered response body of a subrequest that kept it.
func (r *Request) Body() []byte {
	if r.sw == nil {
		return nil
	}
	return r.sw.body.Bytes()
}

// Upstream returns the upstream exchange, or nil if the request was not
// proxied.
func (r *Request) Upstream() *Upstream { return r.upstream }

// SetUpstream records the upstream exchange.
func (r *Request) SetUpstream(u *Upstream) { r.upstream = u }

// Err returns the dispatch failure of a subrequest, if any.
func (r *Request) Err() error { return r.err }

// Fail records a dispatch failure for the request.
func (r *Request) Fail(err error) {
	if err == nil {
		return
	}
	r.err = &DispatchError{URI: r.http.URL.RequestURI(), Err: err}
}

// Ctx returns the module context stored under key, or nil.
func (r *Request) Ctx(key any) any {
	if r.modCtx == nil {
		return nil
	}
	return r.modCtx[key]
}

// SetCtx stores module context under key.
func (r *Request) SetCtx(key, value any) {
	if r.modCtx == nil {
		r.modCtx = make(map[any]any)
	}
	r.modCtx[key] = value
}

// post delivers fn to r's goroutine unless r has already finished.
func (r *Request) post(fn func()) {
	select {
	case r.events <- fn:
	case <-r.done:
	}
}

// wait blocks until one event has been handled or the request context is
// done.
func (r *Request) wait() error {
	select {
	case fn := <-r.events:
		fn()
		return nil
	case <-r.Context().Done():
		return r.Context().Err()
	}
}

// finish releases goroutines still trying to post to r.
func (r *Request) finish() {
	select {
	case <-r.done:
	default:
		close(r.done)
	}
}
