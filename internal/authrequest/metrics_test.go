package authrequest

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RecordCheckDone(t *testing.T) {
	t.Parallel()

	m := NewMetricsWithRegisterer("test", prometheus.NewRegistry())
	m.RecordCheckDone(http.StatusOK, 20*time.Millisecond)
	m.RecordCheckDone(http.StatusNoContent, 30*time.Millisecond)

	metric, ok := m.checkDuration.WithLabelValues("2xx").(prometheus.Metric)
	require.True(t, ok)

	var pb dto.Metric
	require.NoError(t, metric.Write(&pb))
	assert.Equal(t, uint64(2), pb.GetHistogram().GetSampleCount())
	assert.InDelta(t, 0.05, pb.GetHistogram().GetSampleSum(), 0.0001)
}

func TestMetrics_InitExposesSeries(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegisterer("test", reg)
	m.Init()

	assert.Equal(t, 6, testutil.CollectAndCount(m.decisionsTotal))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.decisionsTotal.WithLabelValues(InternalError.String(), reasonDispatchError)))
}

func TestMetrics_DuplicateRegistrationSharesCollectors(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	first := NewMetricsWithRegisterer("test", reg)
	second := NewMetricsWithRegisterer("test", reg)

	first.RecordCheckIssued()
	second.RecordCheckIssued()
	second.RecordDecision(Deny, reasonForbidden)

	assert.Same(t, first.checksTotal, second.checksTotal)
	assert.Equal(t, 2.0, testutil.ToFloat64(first.checksTotal))

	expected := `
# HELP test_auth_request_checks_total Total number of authorization check subrequests issued
# TYPE test_auth_request_checks_total counter
test_auth_request_checks_total 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"test_auth_request_checks_total"))
	assert.Equal(t, 1.0, testutil.ToFloat64(
		first.decisionsTotal.WithLabelValues(Deny.String(), reasonForbidden)))
}
