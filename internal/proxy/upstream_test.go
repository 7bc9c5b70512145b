package proxy

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/authgate/internal/pipeline"
	"github.com/vyrodovalexey/authgate/internal/util"
)

func newTestUpstream(t *testing.T, cfg UpstreamConfig, opts ...Option) *Upstream {
	t.Helper()

	u, err := NewUpstream(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(u.Close)
	return u
}

// serveThrough serves one request through an engine whose only location
// forwards to content.
func serveThrough(t *testing.T, content pipeline.ContentHandler, hr *http.Request) *httptest.ResponseRecorder {
	t.Helper()

	srv := pipeline.NewServer("main")
	require.NoError(t, srv.AddLocation(&pipeline.Location{Name: "app", Pattern: "/", Content: content}))
	e := pipeline.NewEngine(pipeline.NewSnapshot(srv))

	rec := httptest.NewRecorder()
	e.Handler("main").ServeHTTP(rec, hr)
	return rec
}

func TestNewUpstream_InvalidURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		url  string
	}{
		{name: "empty", url: ""},
		{name: "no scheme", url: "backend:8080"},
		{name: "unsupported scheme", url: "ftp://backend"},
		{name: "unparseable", url: "http://[::1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := NewUpstream(UpstreamConfig{Name: "bad", URL: tt.url})
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidTargetURL)
		})
	}
}

func TestUpstream_ForwardsRequest(t *testing.T) {
	t.Parallel()

	var seen *http.Request
	var seenBody string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Clone(r.Context())
		b, _ := io.ReadAll(r.Body)
		seenBody = string(b)
		w.Header().Set("X-Backend", "yes")
		w.Header().Set("Server", "backend/1.0")
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, "created")
	}))
	t.Cleanup(backend.Close)

	u := newTestUpstream(t, UpstreamConfig{
		Name:        "app",
		URL:         backend.URL + "/base",
		HideHeaders: []string{"server"},
	})

	hr := httptest.NewRequest(http.MethodPost, "http://gate.local/items?id=7", strings.NewReader("payload"))
	hr.Header.Set("Authorization", "Bearer t")
	hr.Header.Set("Connection", "keep-alive")
	hr.Header.Set("Proxy-Authorization", "secret")

	rec := serveThrough(t, u, hr)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "created", rec.Body.String())
	assert.Equal(t, "yes", rec.Header().Get("X-Backend"))
	assert.Empty(t, rec.Header().Get("Server"))

	require.NotNil(t, seen)
	assert.Equal(t, http.MethodPost, seen.Method)
	assert.Equal(t, "/base/items", seen.URL.Path)
	assert.Equal(t, "id=7", seen.URL.RawQuery)
	assert.Equal(t, "payload", seenBody)
	assert.Equal(t, "Bearer t", seen.Header.Get("Authorization"))
	assert.Empty(t, seen.Header.Get("Proxy-Authorization"))
	assert.Equal(t, "http", seen.Header.Get("X-Forwarded-Proto"))
	assert.Equal(t, "gate.local", seen.Header.Get("X-Forwarded-Host"))
	assert.Equal(t, "192.0.2.1", seen.Header.Get("X-Forwarded-For"))
	assert.Empty(t, seen.Header.Get(HeaderOriginalURI))
}

func TestUpstream_RecordsUpstreamHeaders(t *testing.T) {
	t.Parallel()

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(backend.Close)

	u := newTestUpstream(t, UpstreamConfig{
		Name:        "auth",
		URL:         backend.URL,
		HideHeaders: []string{"WWW-Authenticate"},
	})

	var got *pipeline.Upstream
	content := pipeline.ContentHandlerFunc(func(r *pipeline.Request) error {
		err := u.Content(r)
		got = r.Upstream()
		return err
	})

	rec := serveThrough(t, content, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, rec.Header().Get("WWW-Authenticate"))
	require.NotNil(t, got)
	assert.Equal(t, "auth", got.Name())
	assert.Equal(t, http.StatusUnauthorized, got.Status())
	assert.Equal(t, `Bearer realm="api"`, got.HeadersIn().Get("WWW-Authenticate"))
}

func TestUpstream_Subrequest(t *testing.T) {
	t.Parallel()

	var seen *http.Request
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Clone(r.Context())
		w.Header().Set("X-User", "alice")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "large body that must not be kept")
	}))
	t.Cleanup(backend.Close)

	u := newTestUpstream(t, UpstreamConfig{Name: "auth", URL: backend.URL})

	srv := pipeline.NewServer("main")
	require.NoError(t, srv.AddLocation(&pipeline.Location{
		Name: "app", Pattern: "/", Content: &Direct{Status: http.StatusOK, Body: "app"},
	}))
	require.NoError(t, srv.AddLocation(&pipeline.Location{
		Name: "auth", Pattern: "/auth", Internal: true, Content: u,
	}))
	e := pipeline.NewEngine(pipeline.NewSnapshot(srv))

	var sub *pipeline.Request
	e.RegisterAccess("check", func(r *pipeline.Request) pipeline.Code {
		if sub != nil {
			return pipeline.OK
		}
		if r.Ctx("issued") != nil {
			return pipeline.Again
		}
		r.SetCtx("issued", true)
		_, err := e.Subrequest(r, "/auth/verify",
			pipeline.SubrequestOptions{HeaderOnly: true, DiscardBody: true, Waited: true},
			func(sr *pipeline.Request, rc pipeline.Code) pipeline.Code {
				sub = sr
				return rc
			})
		if err != nil {
			return pipeline.Error
		}
		return pipeline.Again
	})

	rec := httptest.NewRecorder()
	hr := httptest.NewRequest(http.MethodPut, "/docs/1?rev=2", nil)
	hr.Header.Set("Authorization", "Bearer t")
	e.Handler("main").ServeHTTP(rec, hr)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "app", rec.Body.String())

	require.NotNil(t, seen)
	assert.Equal(t, http.MethodGet, seen.Method)
	assert.Equal(t, "/auth/verify", seen.URL.Path)
	assert.Equal(t, "/docs/1?rev=2", seen.Header.Get(HeaderOriginalURI))
	assert.Equal(t, http.MethodPut, seen.Header.Get(HeaderOriginalMethod))
	assert.Equal(t, "Bearer t", seen.Header.Get("Authorization"))

	require.NotNil(t, sub)
	assert.Equal(t, http.StatusOK, sub.Status())
	assert.Equal(t, "alice", sub.HeadersOut().Get("X-User"))
	assert.Empty(t, sub.Body())
}

func TestUpstream_Errors(t *testing.T) {
	t.Parallel()

	t.Run("unreachable", func(t *testing.T) {
		t.Parallel()

		backend := httptest.NewServer(http.NotFoundHandler())
		addr := backend.URL
		backend.Close()

		u := newTestUpstream(t, UpstreamConfig{Name: "gone", URL: addr})
		rec := serveThrough(t, u, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})

	t.Run("timeout", func(t *testing.T) {
		t.Parallel()

		release := make(chan struct{})
		backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		t.Cleanup(backend.Close)
		t.Cleanup(func() { close(release) })

		u := newTestUpstream(t, UpstreamConfig{Name: "slow", URL: backend.URL, Timeout: 50 * time.Millisecond})
		rec := serveThrough(t, u, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	})
}

func TestUpstream_CircuitBreaker(t *testing.T) {
	t.Parallel()

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(backend.Close)

	var states []int
	u := newTestUpstream(t, UpstreamConfig{
		Name: "flaky",
		URL:  backend.URL,
		CircuitBreaker: BreakerConfig{
			Enabled:   true,
			Threshold: 2,
			Timeout:   time.Minute,
		},
	}, WithStateCallback(func(_ string, state int) {
		states = append(states, state)
	}))

	for i := 0; i < 2; i++ {
		rec := serveThrough(t, u, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	}

	var captured error
	content := pipeline.ContentHandlerFunc(func(r *pipeline.Request) error {
		captured = u.Content(r)
		return captured
	})
	rec := serveThrough(t, content, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.ErrorIs(t, captured, util.ErrCircuitOpen)
	assert.True(t, u.CircuitOpen())
	assert.Equal(t, []int{2}, states)
}

func TestUpstream_Metrics(t *testing.T) {
	t.Parallel()

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(backend.Close)

	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)
	u := newTestUpstream(t, UpstreamConfig{Name: "app", URL: backend.URL}, WithMetrics(m))

	serveThrough(t, u, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.InDelta(t, 1, testutil.ToFloat64(m.requestsTotal.WithLabelValues("app", "204")), 0)
}

func TestProxyError(t *testing.T) {
	t.Parallel()

	cause := errors.New("dial failed")
	err := &ProxyError{Op: "round_trip", Upstream: "app", Message: "upstream unavailable", Cause: cause}

	assert.Equal(t, http.StatusBadGateway, err.HTTPStatus())
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, &ProxyError{})
	assert.Contains(t, err.Error(), "upstream=app")

	err.Status = http.StatusGatewayTimeout
	assert.Equal(t, http.StatusGatewayTimeout, err.HTTPStatus())
}

func TestSafeIntToUint32(t *testing.T) {
	t.Parallel()

	assert.Equal(t, uint32(0), safeIntToUint32(-1))
	assert.Equal(t, uint32(5), safeIntToUint32(5))
}

func TestSingleJoiningSlash(t *testing.T) {
	t.Parallel()

	tests := []struct {
		a, b, want string
	}{
		{a: "", b: "/x", want: "/x"},
		{a: "/base/", b: "/x", want: "/base/x"},
		{a: "/base", b: "x", want: "/base/x"},
		{a: "/base", b: "/x", want: "/base/x"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, singleJoiningSlash(tt.a, tt.b))
	}
}
