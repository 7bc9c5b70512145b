package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"

	"github.com/vyrodovalexey/authgate/internal/observability"
	"github.com/vyrodovalexey/authgate/internal/util"
)

var tracer = otel.Tracer("authgate/pipeline")

// maxSubrequestDepth bounds subrequest nesting.
const maxSubrequestDepth = 50

// AccessHandler runs in the access phase of main requests.
type AccessHandler func(r *Request) Code

// Dispatcher issues subrequests. Engine is the production implementation.
type Dispatcher interface {
	Subrequest(parent *Request, uri string, opts SubrequestOptions, post PostSubrequest) (*Request, error)
}

type namedHandler struct {
	name string
	fn   AccessHandler
}

// Engine runs requests through the access and content phases.
type Engine struct {
	logger   observability.Logger
	metrics  *observability.Metrics
	snapshot atomic.Pointer[Snapshot]

	mu     sync.RWMutex
	access []namedHandler
}

// Option is a functional option for configuring the Engine.
type Option func(*Engine)

// WithLogger sets the logger for the engine.
func WithLogger(logger observability.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithMetrics sets the metrics the engine records subrequests in.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(e *Engine) {
		e.metrics = metrics
	}
}

// NewEngine creates an engine serving snap.
func NewEngine(snap *Snapshot, opts ...Option) *Engine {
	e := &Engine{
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.snapshot.Store(snap)
	return e
}

// RegisterAccess appends an access phase handler. Handlers run in
// registration order and all of them must let the request through.
func (e *Engine) RegisterAccess(name string, h AccessHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.access = append(e.access, namedHandler{name: name, fn: h})
	e.logger.Debug("access handler registered", observability.String("handler", name))
}

// Reload swaps the active snapshot. Requests already running keep the
// snapshot they started with.
func (e *Engine) Reload(snap *Snapshot) {
	e.snapshot.Store(snap)
}

// Snapshot returns the active snapshot.
func (e *Engine) Snapshot() *Snapshot {
	return e.snapshot.Load()
}

// Handler returns the http.Handler serving the named server.
func (e *Engine) Handler(server string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, hr *http.Request) {
		e.serve(w, hr, server)
	})
}

func (e *Engine) handlers() []namedHandler {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.access
}

func (e *Engine) serve(w http.ResponseWriter, hr *http.Request, serverName string) {
	srv, ok := e.Snapshot().Server(serverName)
	if !ok {
		e.logger.Error("request for unknown server",
			observability.String("server", serverName),
			observability.Error(ErrUnknownServer),
		)
		writeError(w, http.StatusInternalServerError)
		return
	}

	loc, ok := srv.Match(hr.URL.Path)
	if !ok || loc.Internal {
		writeError(w, http.StatusNotFound)
		return
	}
	util.LocationHolderFromContext(hr.Context()).Set(loc.Name)

	r := NewRequest(w, hr, loc)
	r.server = srv
	r.logger = e.logger.WithContext(hr.Context()).With(
		observability.String("server", srv.Name),
		observability.String("location", loc.Name),
	)
	defer r.finish()

	code := e.runAccess(r)
	switch {
	case code == OK:
	case code == StatusClientClosed:
		return
	default:
		e.finalize(r, code)
		return
	}

	e.runContent(r)
}

// runAccess drives the access handlers, parking the request on Again
// until a posted event arrives.
func (e *Engine) runAccess(r *Request) Code {
	handlers := e.handlers()
	for i := 0; i < len(handlers); {
		rc := handlers[i].fn(r)

		switch rc {
		case OK, Declined:
			i++
			continue
		case Again:
			if r.pending == 0 {
				r.logger.Error("access handler suspended with nothing pending",
					observability.String("handler", handlers[i].name),
				)
				return Error
			}
			if err := r.wait(); err != nil {
				r.logger.Debug("client closed request while suspended",
					observability.String("handler", handlers[i].name),
					observability.Error(err),
				)
				return StatusClientClosed
			}
			continue
		default:
			return rc
		}
	}
	return OK
}

// runContent invokes the location's content handler for a main request.
func (e *Engine) runContent(r *Request) {
	if r.loc.Content == nil {
		r.logger.Error("no content handler", observability.Error(ErrNoContentHandler))
		e.finalize(r, Error)
		return
	}

	err := r.loc.Content.Content(r)
	if err == nil {
		if !r.w.Written() {
			r.w.WriteHeader(http.StatusOK)
		}
		return
	}

	if errors.Is(err, context.Canceled) {
		r.logger.Debug("client closed request", observability.Error(err))
		return
	}

	r.logger.Error("content handler failed", observability.Error(err))
	if !r.w.Written() {
		e.finalize(r, Status(statusFromError(err, http.StatusBadGateway)))
	}
}

// finalize turns a terminal access-phase code into the response.
func (e *Engine) finalize(r *Request, code Code) {
	status := http.StatusInternalServerError
	if code.IsStatus() {
		status = int(code)
	}
	writeError(r.w, status)
}

type errorBody struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

// writeError sends a small JSON error document. Headers already set on w,
// such as a copied WWW-Authenticate, are kept.
func writeError(w http.ResponseWriter, status int) {
	if status < http.StatusBadRequest {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Del("Content-Length")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error:  http.StatusText(status),
		Status: status,
	})
}
