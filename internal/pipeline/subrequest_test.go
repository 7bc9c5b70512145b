package pipeline

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/authgate/internal/router"
)

type subrequestResult struct {
	sr *Request
	rc Code
}

// issueOnce serves one main request whose access handler issues a single
// waited subrequest to uri and records its completion.
func issueOnce(t *testing.T, srv *Server, uri string, opts SubrequestOptions, hr *http.Request) subrequestResult {
	t.Helper()

	e := NewEngine(NewSnapshot(srv))

	var res *subrequestResult
	e.RegisterAccess("issue", func(r *Request) Code {
		if res != nil {
			return OK
		}
		if r.Ctx("issued") != nil {
			return Again
		}
		r.SetCtx("issued", true)
		opts.Waited = true
		_, err := e.Subrequest(r, uri, opts, func(sr *Request, rc Code) Code {
			res = &subrequestResult{sr: sr, rc: rc}
			return rc
		})
		if err != nil {
			return Error
		}
		return Again
	})

	e.Handler("main").ServeHTTP(httptest.NewRecorder(), hr)
	require.NotNil(t, res, "subrequest did not complete")
	return *res
}

func TestSubrequest_RequestShape(t *testing.T) {
	t.Parallel()

	var seen *http.Request
	srv := newTestServer(t,
		appLocation(),
		&Location{Name: "auth", Pattern: "/auth", Internal: true, Content: ContentHandlerFunc(func(r *Request) error {
			seen = r.HTTP()
			r.Writer().WriteHeader(http.StatusOK)
			return nil
		})},
	)

	hr := httptest.NewRequest(http.MethodPost, "/upload?x=1", strings.NewReader("payload"))
	hr.Header.Set("Authorization", "Bearer t")
	hr.Header.Set("Content-Length", "7")

	res := issueOnce(t, srv, "/auth/check?scope=read", SubrequestOptions{HeaderOnly: true}, hr)

	require.NotNil(t, seen)
	assert.Equal(t, http.MethodGet, seen.Method)
	assert.Equal(t, "/auth/check?scope=read", seen.URL.RequestURI())
	assert.Equal(t, "Bearer t", seen.Header.Get("Authorization"))
	assert.Empty(t, seen.Header.Get("Content-Length"))
	body, err := io.ReadAll(seen.Body)
	require.NoError(t, err)
	assert.Empty(t, body)

	assert.Equal(t, OK, res.rc)
	assert.True(t, res.sr.IsSubrequest())
	assert.Equal(t, 1, res.sr.Depth())
	assert.Equal(t, "auth", res.sr.Location().Name)
	assert.NoError(t, res.sr.Err())
}

func TestSubrequest_Outcomes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		content    ContentHandler
		uri        string
		wantStatus int
		wantRC     Code
		wantErr    bool
	}{
		{
			name: "status and headers captured",
			content: ContentHandlerFunc(func(r *Request) error {
				r.HeadersOut().Add("WWW-Authenticate", "Basic")
				r.Writer().WriteHeader(http.StatusUnauthorized)
				return nil
			}),
			uri:        "/auth",
			wantStatus: http.StatusUnauthorized,
			wantRC:     OK,
		},
		{
			name:       "no matching location",
			uri:        "/nowhere",
			wantStatus: http.StatusNotFound,
			wantRC:     OK,
		},
		{
			name:       "content failure is a dispatch error",
			content:    ContentHandlerFunc(func(*Request) error { return assert.AnError }),
			uri:        "/auth",
			wantStatus: http.StatusBadGateway,
			wantRC:     Error,
			wantErr:    true,
		},
		{
			name:       "content failure with status",
			content:    ContentHandlerFunc(func(*Request) error { return httpStatusErr(http.StatusGatewayTimeout) }),
			uri:        "/auth",
			wantStatus: http.StatusGatewayTimeout,
			wantRC:     Error,
			wantErr:    true,
		},
		{
			name:       "panic is contained",
			content:    ContentHandlerFunc(func(*Request) error { panic("boom") }),
			uri:        "/auth",
			wantStatus: http.StatusInternalServerError,
			wantRC:     Error,
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			locs := []*Location{{Name: "app", Pattern: "/app", Content: textContent(http.StatusOK, "app")}}
			if tt.content != nil {
				locs = append(locs, &Location{Name: "auth", Pattern: "/auth", Match: router.MatchExact, Internal: true, Content: tt.content})
			}
			srv := newTestServer(t, locs...)

			res := issueOnce(t, srv, tt.uri, SubrequestOptions{HeaderOnly: true},
				httptest.NewRequest(http.MethodGet, "/app", nil))

			assert.Equal(t, tt.wantStatus, res.sr.Status())
			assert.Equal(t, tt.wantRC, res.rc)
			if tt.wantErr {
				assert.ErrorIs(t, res.sr.Err(), ErrDispatch)
			} else {
				assert.NoError(t, res.sr.Err())
			}
			if tt.wantStatus == http.StatusUnauthorized {
				assert.Equal(t, []string{"Basic"}, res.sr.HeadersOut().Values("WWW-Authenticate"))
			}
		})
	}
}

func TestSubrequest_BodyHandling(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		opts     SubrequestOptions
		wantBody string
	}{
		{name: "header only", opts: SubrequestOptions{HeaderOnly: true}},
		{name: "discard body", opts: SubrequestOptions{DiscardBody: true}},
		{name: "buffered", opts: SubrequestOptions{}, wantBody: "hello"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := newTestServer(t,
				appLocation(),
				&Location{Name: "data", Pattern: "/data", Match: router.MatchExact, Internal: true, Content: textContent(http.StatusOK, "hello")},
			)
			res := issueOnce(t, srv, "/data", tt.opts, httptest.NewRequest(http.MethodGet, "/", nil))

			assert.Equal(t, http.StatusOK, res.sr.Status())
			assert.Equal(t, tt.wantBody, string(res.sr.Body()))
		})
	}
}

func TestSubrequest_Rejected(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, appLocation())
	e := NewEngine(NewSnapshot(srv))

	tests := []struct {
		name    string
		uri     string
		depth   int
		wantErr error
	}{
		{name: "relative uri", uri: "auth", wantErr: ErrInvalidURI},
		{name: "absolute url", uri: "http://evil/auth", wantErr: ErrInvalidURI},
		{name: "nesting limit", uri: "/auth", depth: maxSubrequestDepth, wantErr: ErrSubrequestDepth},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			parent := NewRequest(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil), nil)
			parent.depth = tt.depth

			sr, err := e.Subrequest(parent, tt.uri, SubrequestOptions{Waited: true}, nil)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, sr)
			assert.Zero(t, parent.pending)
		})
	}
}

func TestRequest_ModuleContext(t *testing.T) {
	t.Parallel()

	type key struct{}

	r := NewRequest(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil), nil)
	assert.Nil(t, r.Ctx(key{}))
	assert.NotEmpty(t, r.ID())
	assert.False(t, r.IsSubrequest())
	assert.Nil(t, r.Upstream())
	assert.Nil(t, r.Body())

	r.SetCtx(key{}, 42)
	assert.Equal(t, 42, r.Ctx(key{}))

	sr := r.NewSubrequest(httptest.NewRequest(http.MethodGet, "/auth", nil), nil, SubrequestOptions{HeaderOnly: true})
	assert.Nil(t, sr.Ctx(key{}), "subrequests have their own context")
	assert.Equal(t, r.ID(), sr.ID())
	assert.Same(t, r, sr.Parent())

	sr.SetUpstream(NewUpstream("auth", http.StatusUnauthorized, http.Header{"Www-Authenticate": {"Basic"}}))
	assert.Equal(t, "auth", sr.Upstream().Name())
	assert.Equal(t, http.StatusUnauthorized, sr.Upstream().Status())
	assert.Equal(t, "Basic", sr.Upstream().HeadersIn().Get("WWW-Authenticate"))

	sr.Fail(nil)
	assert.NoError(t, sr.Err())
	sr.Fail(assert.AnError)
	assert.ErrorIs(t, sr.Err(), ErrDispatch)
	assert.ErrorIs(t, sr.Err(), assert.AnError)
}
