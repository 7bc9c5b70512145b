package pipeline

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCode_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code Code
		want string
	}{
		{code: OK, want: "OK"},
		{code: Error, want: "ERROR"},
		{code: Again, want: "AGAIN"},
		{code: Declined, want: "DECLINED"},
		{code: Status(http.StatusForbidden), want: "403 Forbidden"},
		{code: Status(StatusClientClosed), want: "Code(499)"},
		{code: Code(-9), want: "Code(-9)"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.code.String())
		})
	}
}

func TestCode_IsStatus(t *testing.T) {
	t.Parallel()

	assert.True(t, Status(200).IsStatus())
	assert.False(t, OK.IsStatus())
	assert.False(t, Again.IsStatus())
}

type httpStatusErr int

func (e httpStatusErr) Error() string   { return "status error" }
func (e httpStatusErr) HTTPStatus() int { return int(e) }

func TestDispatchError(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection refused")
	err := fmt.Errorf("check: %w", &DispatchError{URI: "/auth", Err: cause})

	assert.ErrorIs(t, err, ErrDispatch)
	assert.ErrorIs(t, err, cause)
	assert.EqualError(t, err, "check: subrequest /auth: connection refused")

	var de *DispatchError
	assert.ErrorAs(t, err, &de)
	assert.Equal(t, "/auth", de.URI)
}

func TestStatusFromError(t *testing.T) {
	t.Parallel()

	assert.Equal(t, http.StatusGatewayTimeout,
		statusFromError(fmt.Errorf("wrap: %w", httpStatusErr(http.StatusGatewayTimeout)), http.StatusBadGateway))
	assert.Equal(t, http.StatusBadGateway, statusFromError(errors.New("plain"), http.StatusBadGateway))
	assert.Equal(t, http.StatusBadGateway, statusFromError(httpStatusErr(0), http.StatusBadGateway))
}
