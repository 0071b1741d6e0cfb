// Package observability provides Prometheus metrics for the application.
package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"audiofetch/internal/entity"
	"audiofetch/internal/errs"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "audiofetch"

// Metrics holds all application metrics.
type Metrics struct {
	// Run metrics
	RunsStarted  prometheus.Counter
	RunsFinished *prometheus.CounterVec
	RunDuration  prometheus.Histogram

	// Item metrics
	ItemsFinished   *prometheus.CounterVec
	ItemsInProgress prometheus.Gauge
	ItemDuration    prometheus.Histogram
	BytesReceived   prometheus.Counter

	// Fetch attempt metrics
	FetchAttempts *prometheus.CounterVec
	FetchErrors   *prometheus.CounterVec

	// Transcoder metrics
	ConversionDuration prometheus.Histogram

	// Proxy metrics
	ProxyRequestsTotal *prometheus.CounterVec
	ProxyFailures      *prometheus.CounterVec
	ProxiesAvailable   prometheus.Gauge
}

// New creates all application metrics and registers them with reg.
// A nil reg falls back to the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	metrics := &Metrics{
		// Run metrics
		RunsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runs",
			Name:      "started_total",
			Help:      "Total number of download runs started",
		}),
		RunsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runs",
			Name:      "finished_total",
			Help:      "Total number of download runs finished by outcome",
		}, []string{"outcome"}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "runs",
			Name:      "duration_seconds",
			Help:      "Histogram of run duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		}),

		// Item metrics
		ItemsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "items",
			Name:      "finished_total",
			Help:      "Total number of items that reached a terminal state by outcome",
		}, []string{"outcome"}),
		ItemsInProgress: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "items",
			Name:      "in_progress",
			Help:      "Number of item fetchers currently holding a slot",
		}),
		ItemDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "items",
			Name:      "duration_seconds",
			Help:      "Histogram of per-item fetch and conversion duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),
		BytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "items",
			Name:      "received_bytes_total",
			Help:      "Total stream bytes received across all items",
		}),

		// Fetch attempt metrics
		FetchAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetcher",
			Name:      "attempts_total",
			Help:      "Total number of fetch attempts by outcome",
		}, []string{"outcome"}),
		FetchErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetcher",
			Name:      "errors_total",
			Help:      "Total number of fetch errors by type",
		}, []string{"error_type"}),

		// Transcoder metrics
		ConversionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "transcoder",
			Name:      "duration_seconds",
			Help:      "Histogram of conversion duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		// Proxy metrics
		ProxyRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "requests_total",
			Help:      "Total number of source clients built with a proxy",
		}, []string{"proxy"}),
		ProxyFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "failures_total",
			Help:      "Total number of failed proxy health checks",
		}, []string{"proxy"}),
		ProxiesAvailable: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "proxy",
			Name:      "available",
			Help:      "Number of configured proxies",
		}),
	}

	return metrics
}

// Handler returns the Prometheus HTTP handler for the given gatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}

	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Timer returns a function that observes the elapsed time into h.
func Timer(h prometheus.Observer) func() {
	start := time.Now()

	return func() {
		h.Observe(time.Since(start).Seconds())
	}
}

// RecordRunStarted increments the runs started counter.
func (m *Metrics) RecordRunStarted() {
	m.RunsStarted.Inc()
}

// RecordRunFinished records the outcome of a run.
func (m *Metrics) RecordRunFinished(outcome entity.Outcome) {
	m.RunsFinished.WithLabelValues(string(outcome)).Inc()
}

// RecordItemStarted marks a fetcher as holding a slot.
func (m *Metrics) RecordItemStarted() {
	m.ItemsInProgress.Inc()
}

// RecordItemFinished records an item's terminal outcome and releases its slot gauge.
func (m *Metrics) RecordItemFinished(outcome entity.AttemptOutcome) {
	m.ItemsFinished.WithLabelValues(string(outcome)).Inc()
	m.ItemsInProgress.Dec()
}

// RecordAttempt records a single fetch attempt.
func (m *Metrics) RecordAttempt(outcome entity.AttemptOutcome) {
	m.FetchAttempts.WithLabelValues(string(outcome)).Inc()
}

// RecordFetchError records a fetch error classified by ClassifyError.
func (m *Metrics) RecordFetchError(err error) {
	m.FetchErrors.WithLabelValues(ClassifyError(err)).Inc()
}

// RecordBytes adds n received bytes.
func (m *Metrics) RecordBytes(n int) {
	if n > 0 {
		m.BytesReceived.Add(float64(n))
	}
}

// RecordProxyRequest records a proxy request.
func (m *Metrics) RecordProxyRequest(proxy string) {
	m.ProxyRequestsTotal.WithLabelValues(proxy).Inc()
}

// RecordProxyFailure records a proxy failure.
func (m *Metrics) RecordProxyFailure(proxy string) {
	m.ProxyFailures.WithLabelValues(proxy).Inc()
}

// SetProxiesAvailable sets the number of available proxies.
func (m *Metrics) SetProxiesAvailable(count int) {
	m.ProxiesAvailable.Set(float64(count))
}

// ClassifyError maps an error to a low-cardinality label.
func ClassifyError(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, errs.ErrItemUnavailable):
		return "unavailable"
	case errors.Is(err, errs.ErrConversionFailed):
		return "conversion"
	case errors.Is(err, errs.ErrSourceUnavailable):
		return "source"
	case errors.Is(err, errs.ErrTransientFetch):
		return "transient"
	default:
		return "other"
	}
}
