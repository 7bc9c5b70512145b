package pipeline

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/authgate/internal/router"
	"github.com/vyrodovalexey/authgate/internal/util"
)

func textContent(status int, body string) ContentHandler {
	return ContentHandlerFunc(func(r *Request) error {
		r.Writer().WriteHeader(status)
		_, err := io.WriteString(r.Writer(), body)
		return err
	})
}

func newTestServer(t *testing.T, locs ...*Location) *Server {
	t.Helper()

	srv := NewServer("main")
	for _, loc := range locs {
		require.NoError(t, srv.AddLocation(loc))
	}
	return srv
}

func appLocation() *Location {
	return &Location{Name: "app", Pattern: "/", Match: router.MatchPrefix, Content: textContent(http.StatusOK, "app")}
}

func serve(e *Engine, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.Handler("main").ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func decodeErrorBody(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()

	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestEngine_AccessCodes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		code       Code
		wantStatus int
		wantBody   string
	}{
		{name: "ok runs content", code: OK, wantStatus: http.StatusOK, wantBody: "app"},
		{name: "declined runs content", code: Declined, wantStatus: http.StatusOK, wantBody: "app"},
		{name: "status finalizes", code: Status(http.StatusForbidden), wantStatus: http.StatusForbidden},
		{name: "error finalizes as 500", code: Error, wantStatus: http.StatusInternalServerError},
		{name: "again with nothing pending", code: Again, wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			e := NewEngine(NewSnapshot(newTestServer(t, appLocation())))
			e.RegisterAccess("test", func(*Request) Code { return tt.code })

			rec := serve(e, http.MethodGet, "/resource")

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, rec.Body.String())
				return
			}
			body := decodeErrorBody(t, rec)
			assert.Equal(t, tt.wantStatus, body.Status)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		})
	}
}

func TestEngine_AccessHandlersRunInOrder(t *testing.T) {
	t.Parallel()

	e := NewEngine(NewSnapshot(newTestServer(t, appLocation())))

	var calls []string
	e.RegisterAccess("first", func(*Request) Code { calls = append(calls, "first"); return Declined })
	e.RegisterAccess("second", func(*Request) Code { calls = append(calls, "second"); return Status(http.StatusUnauthorized) })
	e.RegisterAccess("third", func(*Request) Code { calls = append(calls, "third"); return OK })

	rec := serve(e, http.MethodGet, "/")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, []string{"first", "second"}, calls)
}

func TestEngine_FinalizeKeepsHeaders(t *testing.T) {
	t.Parallel()

	e := NewEngine(NewSnapshot(newTestServer(t, appLocation())))
	e.RegisterAccess("challenge", func(r *Request) Code {
		r.HeadersOut().Add("WWW-Authenticate", `Bearer realm="api"`)
		return Status(http.StatusUnauthorized)
	})

	rec := serve(e, http.MethodGet, "/")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, []string{`Bearer realm="api"`}, rec.Header().Values("WWW-Authenticate"))
}

func TestEngine_Routing(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t,
		&Location{Name: "api", Pattern: "/api", Content: textContent(http.StatusOK, "api")},
		&Location{Name: "auth", Pattern: "/auth", Match: router.MatchExact, Internal: true, Content: textContent(http.StatusOK, "auth")},
		&Location{Name: "empty", Pattern: "/empty", Match: router.MatchExact},
	)
	e := NewEngine(NewSnapshot(srv))

	tests := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{name: "matched", path: "/api/users", wantStatus: http.StatusOK},
		{name: "internal location hidden", path: "/auth", wantStatus: http.StatusNotFound},
		{name: "no location", path: "/other", wantStatus: http.StatusNotFound},
		{name: "no content handler", path: "/empty", wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.wantStatus, serve(e, http.MethodGet, tt.path).Code)
		})
	}
}

func TestEngine_UnknownServer(t *testing.T) {
	t.Parallel()

	e := NewEngine(NewSnapshot(newTestServer(t, appLocation())))

	rec := httptest.NewRecorder()
	e.Handler("missing").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestEngine_ContentErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		handler    ContentHandler
		wantStatus int
	}{
		{
			name:       "plain error is bad gateway",
			handler:    ContentHandlerFunc(func(*Request) error { return assert.AnError }),
			wantStatus: http.StatusBadGateway,
		},
		{
			name:       "error with status",
			handler:    ContentHandlerFunc(func(*Request) error { return httpStatusErr(http.StatusServiceUnavailable) }),
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name: "error after header sent keeps status",
			handler: ContentHandlerFunc(func(r *Request) error {
				r.Writer().WriteHeader(http.StatusAccepted)
				return assert.AnError
			}),
			wantStatus: http.StatusAccepted,
		},
		{
			name:       "silent handler defaults to 200",
			handler:    ContentHandlerFunc(func(*Request) error { return nil }),
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			e := NewEngine(NewSnapshot(newTestServer(t, &Location{Name: "x", Pattern: "/", Content: tt.handler})))
			assert.Equal(t, tt.wantStatus, serve(e, http.MethodGet, "/").Code)
		})
	}
}

func TestEngine_SetsLocationHolder(t *testing.T) {
	t.Parallel()

	e := NewEngine(NewSnapshot(newTestServer(t, appLocation())))

	holder := util.NewLocationHolder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req = req.WithContext(util.ContextWithLocationHolder(req.Context(), holder))

	e.Handler("main").ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "app", holder.Get())
}

func TestEngine_Reload(t *testing.T) {
	t.Parallel()

	e := NewEngine(NewSnapshot(newTestServer(t, appLocation())))
	assert.Equal(t, "app", serve(e, http.MethodGet, "/new").Body.String())

	next := newTestServer(t, &Location{Name: "new", Pattern: "/new", Match: router.MatchExact, Content: textContent(http.StatusCreated, "new")})
	e.Reload(NewSnapshot(next))

	rec := serve(e, http.MethodGet, "/new")
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, http.StatusNotFound, serve(e, http.MethodGet, "/old").Code)

	_, ok := e.Snapshot().Server("main")
	assert.True(t, ok)
}

func TestEngine_SuspendAndResume(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t,
		appLocation(),
		&Location{Name: "auth", Pattern: "/auth", Match: router.MatchExact, Internal: true, Content: textContent(http.StatusNoContent, "")},
	)
	e := NewEngine(NewSnapshot(srv))

	var (
		invocations int
		issued      int
		completed   *Request
	)
	e.RegisterAccess("check", func(r *Request) Code {
		invocations++
		if completed != nil {
			return Status(completed.Status())
		}
		if issued == 0 {
			issued++
			_, err := e.Subrequest(r, "/auth", SubrequestOptions{HeaderOnly: true, Waited: true},
				func(sr *Request, rc Code) Code {
					completed = sr
					return rc
				})
			assert.NoError(t, err)
		}
		return Again
	})

	rec := serve(e, http.MethodGet, "/protected")

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, issued)
	assert.Equal(t, 2, invocations)
}

func TestEngine_ClientGoneWhileSuspended(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := newTestServer(t,
		appLocation(),
		&Location{Name: "slow", Pattern: "/slow", Match: router.MatchExact, Internal: true,
			Content: ContentHandlerFunc(func(r *Request) error {
				select {
				case <-r.Context().Done():
					return r.Context().Err()
				case <-release:
					return nil
				}
			})},
	)
	e := NewEngine(NewSnapshot(srv))

	e.RegisterAccess("check", func(r *Request) Code {
		if r.Ctx("issued") == nil {
			r.SetCtx("issued", true)
			_, err := e.Subrequest(r, "/slow", SubrequestOptions{HeaderOnly: true, Waited: true}, nil)
			assert.NoError(t, err)
		}
		return Again
	})

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		e.Handler("main").ServeHTTP(rec, req)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("request did not return after client went away")
	}
	close(release)

	assert.False(t, rec.Flushed)
	assert.Empty(t, rec.Body.String())
}
