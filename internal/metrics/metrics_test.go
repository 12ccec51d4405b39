package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveRange(OutcomeSuccess, 10, time.Millisecond)
	m.IncRetry()
	m.IncAbandoned()
	m.AddFetched(3)
	m.IncDecoded()
	m.IncDecodeError()
	m.AddRows(2)
	assert.Nil(t, m.Registry())
}

func TestMetricsCounters(t *testing.T) {
	m := New("test")

	m.ObserveRange(OutcomeSuccess, 100, 20*time.Millisecond)
	m.ObserveRange(OutcomeRejected, 2048, 5*time.Millisecond)
	m.ObserveRange(OutcomeRejected, 1024, 5*time.Millisecond)
	m.IncRetry()
	m.AddFetched(7)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RangeRequestsTotal.WithLabelValues(OutcomeSuccess)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RangeRequestsTotal.WithLabelValues(OutcomeRejected)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RangeRetriesTotal))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.EventsFetchedTotal))
}

func TestMetricsHandler(t *testing.T) {
	m := New("test")
	m.AddRows(4)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "test_sink_rows_total 4"))
}
