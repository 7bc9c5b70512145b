package pipeline

import (
	"bytes"
	"net/http"
)

// statusWriter is a ResponseWriter that remembers the status it sent.
type statusWriter interface {
	http.ResponseWriter
	Status() int
	Written() bool
}

// responseWriter wraps the client connection's writer.
type responseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	if rw, ok := w.(*responseWriter); ok {
		return rw
	}
	return &responseWriter{ResponseWriter: w}
}

// WriteHeader sends the status once; later calls are ignored.
func (w *responseWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.status = code
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(code)
}

// Write sends an implicit 200 before the first body bytes.
func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// Flush implements http.Flusher.
func (w *responseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *responseWriter) Status() int   { return w.status }
func (w *responseWriter) Written() bool { return w.wroteHeader }

// subrequestWriter captures a subrequest's response in memory. The body
// is kept only when the subrequest asked for it.
type subrequestWriter struct {
	header      http.Header
	status      int
	wroteHeader bool
	keepBody    bool
	body        bytes.Buffer
}

func newSubrequestWriter(opts SubrequestOptions) *subrequestWriter {
	return &subrequestWriter{
		header:   make(http.Header),
		keepBody: !opts.HeaderOnly && !opts.DiscardBody,
	}
}

func (w *subrequestWriter) Header() http.Header {
	return w.header
}

func (w *subrequestWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.status = code
	w.wroteHeader = true
}

func (w *subrequestWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	if !w.keepBody {
		return len(b), nil
	}
	return w.body.Write(b)
}

func (w *subrequestWriter) Status() int   { return w.status }
func (w *subrequestWriter) Written() bool { return w.wroteHeader }

var (
	_ statusWriter = (*responseWriter)(nil)
	_ statusWriter = (*subrequestWriter)(nil)
	_ http.Flusher = (*responseWriter)(nil)
)
