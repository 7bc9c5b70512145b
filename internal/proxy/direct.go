package proxy

import (
	"io"
	"net/http"

	"github.com/vyrodovalexey/authgate/internal/pipeline"
)

// Direct is a content handler answering with a fixed response.
type Direct struct {
	Status  int
	Headers map[string]string
	Body    string
}

// Content writes the configured response.
func (d *Direct) Content(r *pipeline.Request) error {
	h := r.HeadersOut()
	for k, v := range d.Headers {
		h.Set(k, v)
	}

	status := d.Status
	if status == 0 {
		status = http.StatusOK
	}
	r.Writer().WriteHeader(status)

	if d.Body == "" || r.Options().HeaderOnly || r.HTTP().Method == http.MethodHead {
		return nil
	}
	_, err := io.WriteString(r.Writer(), d.Body)
	return err
}

var _ pipeline.ContentHandler = (*Direct)(nil)
