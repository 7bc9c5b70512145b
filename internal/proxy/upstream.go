package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/vyrodovalexey/authgate/internal/observability"
	"github.com/vyrodovalexey/authgate/internal/pipeline"
	"github.com/vyrodovalexey/authgate/internal/util"
)

// Headers added to subrequests so the upstream can see what the client
// originally asked for.
const (
	HeaderOriginalURI    = "X-Original-URI"
	HeaderOriginalMethod = "X-Original-Method"
)

// DefaultTimeout is used when an upstream has no timeout configured.
const DefaultTimeout = 30 * time.Second

// hopHeaders are headers that should not be forwarded.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// errServerStatus marks a 5xx response as a breaker failure while the
// response itself is still relayed.
var errServerStatus = errors.New("upstream answered with server error")

// UpstreamConfig configures an Upstream content handler.
type UpstreamConfig struct {
	Name           string
	URL            string
	Timeout        time.Duration
	HideHeaders    []string
	CircuitBreaker BreakerConfig
}

// Upstream is a content handler forwarding requests to an HTTP upstream.
type Upstream struct {
	name    string
	target  *url.URL
	client  *http.Client
	hide    map[string]struct{}
	breaker *breaker

	logger    observability.Logger
	metrics   *Metrics
	transport http.RoundTripper
	onState   StateFunc
}

// Option is a functional option for configuring an Upstream.
type Option func(*Upstream)

// WithLogger sets the logger for the upstream.
func WithLogger(logger observability.Logger) Option {
	return func(u *Upstream) {
		u.logger = logger
	}
}

// WithMetrics sets the metrics for the upstream.
func WithMetrics(metrics *Metrics) Option {
	return func(u *Upstream) {
		u.metrics = metrics
	}
}

// WithTransport sets the transport for the upstream.
func WithTransport(transport http.RoundTripper) Option {
	return func(u *Upstream) {
		u.transport = transport
	}
}

// WithStateCallback sets a callback for circuit breaker state changes.
func WithStateCallback(fn StateFunc) Option {
	return func(u *Upstream) {
		u.onState = fn
	}
}

// NewUpstream creates an upstream content handler.
func NewUpstream(cfg UpstreamConfig, opts ...Option) (*Upstream, error) {
	target, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, NewInvalidTargetError(cfg.Name, cfg.URL, err)
	}
	if err := util.ValidateURL(cfg.URL); err != nil {
		return nil, NewInvalidTargetError(cfg.Name, cfg.URL, err)
	}

	u := &Upstream{
		name:   cfg.Name,
		target: target,
		hide:   make(map[string]struct{}, len(cfg.HideHeaders)),
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(u)
	}

	if u.transport == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.MaxIdleConnsPerHost = 64
		u.transport = t
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	u.client = &http.Client{
		Transport: u.transport,
		Timeout:   timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	for _, h := range cfg.HideHeaders {
		u.hide[http.CanonicalHeaderKey(h)] = struct{}{}
	}

	if cfg.CircuitBreaker.Enabled {
		u.breaker = newBreaker(cfg.Name, cfg.CircuitBreaker, u.logger, u.onState)
	}

	return u, nil
}

// Name returns the upstream name.
func (u *Upstream) Name() string {
	return u.name
}

// CircuitOpen reports whether the upstream's circuit breaker is open.
func (u *Upstream) CircuitOpen() bool {
	return u.breaker != nil && u.breaker.state() == gobreaker.StateOpen
}

// Close releases idle connections.
func (u *Upstream) Close() {
	if t, ok := u.transport.(interface{ CloseIdleConnections() }); ok {
		t.CloseIdleConnections()
	}
}

// Content forwards r to the upstream and relays the response.
func (u *Upstream) Content(r *pipeline.Request) error {
	out, err := u.newOutgoingRequest(r)
	if err != nil {
		return err
	}

	start := time.Now()
	resp, err := u.roundTrip(out)
	if err != nil {
		return u.wrapError(r, err)
	}
	defer resp.Body.Close()

	u.metrics.recordResponse(u.name, resp.StatusCode, time.Since(start))

	r.SetUpstream(pipeline.NewUpstream(u.name, resp.StatusCode, resp.Header.Clone()))

	h := r.HeadersOut()
	for k, vv := range resp.Header {
		if u.skipHeader(k) {
			continue
		}
		h[k] = append(h[k], vv...)
	}

	r.Writer().WriteHeader(resp.StatusCode)

	if r.Options().HeaderOnly || r.HTTP().Method == http.MethodHead {
		return nil
	}

	if _, err := io.Copy(r.Writer(), resp.Body); err != nil {
		return fmt.Errorf("relay body from %s: %w", u.name, err)
	}
	return nil
}

func (u *Upstream) roundTrip(out *http.Request) (*http.Response, error) {
	if u.breaker == nil {
		return u.client.Do(out)
	}

	res, err := u.breaker.execute(func() (interface{}, error) {
		resp, err := u.client.Do(out)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return resp, errServerStatus
		}
		return resp, nil
	})
	if errors.Is(err, errServerStatus) {
		err = nil
	}
	if err != nil {
		return nil, err
	}
	return res.(*http.Response), nil
}

// newOutgoingRequest builds the request sent to the upstream. The request
// URI is appended to the path of the upstream URL.
func (u *Upstream) newOutgoingRequest(r *pipeline.Request) (*http.Request, error) {
	in := r.HTTP()

	target := *u.target
	target.Path = singleJoiningSlash(u.target.Path, in.URL.Path)
	target.RawPath = ""
	target.RawQuery = in.URL.RawQuery

	body := in.Body
	if r.IsSubrequest() || body == nil {
		body = http.NoBody
	}

	out, err := http.NewRequestWithContext(in.Context(), in.Method, target.String(), body)
	if err != nil {
		return nil, NewInvalidTargetError(u.name, target.String(), err)
	}
	if !r.IsSubrequest() {
		out.ContentLength = in.ContentLength
	}

	out.Header = in.Header.Clone()
	for _, h := range hopHeaders {
		out.Header.Del(h)
	}

	if clientIP, _, err := net.SplitHostPort(in.RemoteAddr); err == nil {
		if prior := in.Header.Get("X-Forwarded-For"); prior != "" {
			clientIP = prior + ", " + clientIP
		}
		out.Header.Set("X-Forwarded-For", clientIP)
	}
	if in.TLS != nil {
		out.Header.Set("X-Forwarded-Proto", "https")
	} else {
		out.Header.Set("X-Forwarded-Proto", "http")
	}
	out.Header.Set("X-Forwarded-Host", in.Host)

	if parent := r.Parent(); parent != nil {
		out.Header.Set(HeaderOriginalURI, parent.HTTP().URL.RequestURI())
		out.Header.Set(HeaderOriginalMethod, parent.HTTP().Method)
	}

	observability.InjectTraceContext(in.Context(), out.Header)

	return out, nil
}

func (u *Upstream) skipHeader(name string) bool {
	if _, ok := u.hide[name]; ok {
		return true
	}
	for _, h := range hopHeaders {
		if h == name {
			return true
		}
	}
	return false
}

// wrapError classifies a failed round trip.
func (u *Upstream) wrapError(r *pipeline.Request, err error) error {
	pe := &ProxyError{
		Op:       "round_trip",
		Upstream: u.name,
		Target:   u.target.String(),
		Cause:    err,
	}

	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		pe.Op = "circuit_breaker"
		pe.Status = http.StatusServiceUnavailable
		pe.Message = "circuit breaker open"
		pe.Cause = fmt.Errorf("%w: %w", util.NewCircuitOpenError(u.name, u.breaker.state().String()), err)
		u.metrics.recordError(u.name, "circuit_open")
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		pe.Status = http.StatusGatewayTimeout
		pe.Message = "upstream timed out"
		pe.Cause = fmt.Errorf("%w: %w", ErrUpstreamTimeout, err)
		u.metrics.recordError(u.name, "timeout")
	default:
		pe.Status = http.StatusBadGateway
		pe.Message = "upstream unavailable"
		pe.Cause = fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
		u.metrics.recordError(u.name, "unavailable")
	}

	r.Logger().Warn("upstream request failed",
		observability.String("upstream", u.name),
		observability.Int("status", pe.Status),
		observability.Error(err),
	)
	return pe
}

func singleJoiningSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	}
	return a + b
}

var _ pipeline.ContentHandler = (*Upstream)(nil)
