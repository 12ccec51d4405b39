package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Range request outcomes.
const (
	OutcomeSuccess   = "success"
	OutcomeRejected  = "rejected"
	OutcomeTransport = "transport"
)

// Metrics holds the Prometheus collectors for an export run.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	RangeRequestsTotal  *prometheus.CounterVec
	RangeRetriesTotal   prometheus.Counter
	SpansAbandonedTotal prometheus.Counter
	EventsFetchedTotal  prometheus.Counter
	EventsDecodedTotal  prometheus.Counter
	DecodeErrorsTotal   prometheus.Counter
	RowsWrittenTotal    prometheus.Counter

	RangeRequestDuration *prometheus.HistogramVec
	RangeWidth           prometheus.Histogram
}

// New creates all collectors on a private registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "logexport"
	}

	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		RangeRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "range_requests_total",
			Help:      "Total number of eth_getLogs range requests by outcome",
		}, []string{"outcome"}),
		RangeRetriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "range_retries_total",
			Help:      "Total number of spans re-queued after a failed request",
		}),
		SpansAbandonedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "spans_abandoned_total",
			Help:      "Total number of spans given up after exhausting retries",
		}),
		EventsFetchedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "events_total",
			Help:      "Total number of raw logs retrieved",
		}),
		EventsDecodedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decode",
			Name:      "events_total",
			Help:      "Total number of logs decoded successfully",
		}),
		DecodeErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decode",
			Name:      "errors_total",
			Help:      "Total number of logs that failed to decode",
		}),
		RowsWrittenTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "rows_total",
			Help:      "Total number of rows written to sinks",
		}),

		RangeRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "range_request_duration_seconds",
			Help:      "Latency of eth_getLogs range requests",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"outcome"}),
		RangeWidth: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "range_width_blocks",
			Help:      "Number of blocks covered by each range request",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the collectors in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRange records one range request.
func (m *Metrics) ObserveRange(outcome string, blocks uint64, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RangeRequestsTotal.WithLabelValues(outcome).Inc()
	m.RangeRequestDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
	m.RangeWidth.Observe(float64(blocks))
}

// IncRetry counts a re-queued or re-split span.
func (m *Metrics) IncRetry() {
	if m == nil {
		return
	}
	m.RangeRetriesTotal.Inc()
}

// IncAbandoned counts a span given up after its retries.
func (m *Metrics) IncAbandoned() {
	if m == nil {
		return
	}
	m.SpansAbandonedTotal.Inc()
}

// AddFetched counts fetched logs.
func (m *Metrics) AddFetched(n int) {
	if m == nil {
		return
	}
	m.EventsFetchedTotal.Add(float64(n))
}

// IncDecoded counts one decoded event.
func (m *Metrics) IncDecoded() {
	if m == nil {
		return
	}
	m.EventsDecodedTotal.Inc()
}

// IncDecodeError counts one event that failed to decode.
func (m *Metrics) IncDecodeError() {
	if m == nil {
		return
	}
	m.DecodeErrorsTotal.Inc()
}

// AddRows counts rows handed to the sinks.
func (m *Metrics) AddRows(n int) {
	if m == nil {
		return
	}
	m.RowsWrittenTotal.Add(float64(n))
}
