package audit

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthorizationEvent_Action(t *testing.T) {
	t.Parallel()

	tests := []struct {
		outcome Outcome
		want    Action
	}{
		{OutcomeSuccess, ActionAccess},
		{OutcomeDenied, ActionDeny},
		{OutcomeFailure, ActionChallenge},
		{OutcomeError, ActionAccess},
	}

	for _, tt := range tests {
		t.Run(string(tt.outcome), func(t *testing.T) {
			t.Parallel()

			resource := &Resource{Method: http.MethodGet, URI: "/orders"}
			event := AuthorizationEvent(tt.outcome, nil, resource)

			assert.Equal(t, EventTypeAuthorization, event.Type)
			assert.Equal(t, tt.want, event.Action)
			assert.Equal(t, tt.outcome, event.Outcome)
			assert.Same(t, resource, event.Resource)
			assert.NotEmpty(t, event.ID)
			assert.False(t, event.Timestamp.IsZero())
		})
	}
}

func TestConfigurationEvent(t *testing.T) {
	t.Parallel()

	ok := ConfigurationEvent(ActionConfigReload, nil)
	assert.Equal(t, OutcomeSuccess, ok.Outcome)
	assert.Nil(t, ok.Error)

	failed := ConfigurationEvent(ActionConfigReload, errors.New("unknown upstream"))
	assert.Equal(t, OutcomeFailure, failed.Outcome)
	require.NotNil(t, failed.Error)
	assert.Equal(t, "unknown upstream", failed.Error.Message)
}

func TestNewSubject(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "/orders", nil)
	r.RemoteAddr = "10.1.2.3:4567"
	r.Header.Set("User-Agent", "curl/8.0")

	s := NewSubject(r, http.Header{"X-Auth-User": {"bob"}})
	assert.Equal(t, "10.1.2.3", s.IPAddress)
	assert.Equal(t, "curl/8.0", s.UserAgent)
	assert.Empty(t, s.ID)

	assert.NotNil(t, NewSubject(nil, nil))
}

func TestResource_Path(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "/orders/7", (&Resource{URI: "/orders/7?x=1"}).Path())
	assert.Equal(t, "/orders", (&Resource{URI: "/orders"}).Path())
}
