// Package metrics provides Prometheus observability for the Daktela extractor.
// It registers counters, gauges and histograms covering API traffic, record
// transformation and sink output.
//
// # Basic Usage
//
//	metrics.RequestsTotal.WithLabelValues("tickets", "success").Inc()
//
//	timer := metrics.NewTimer("tickets_page")
//	fetchPage()
//	metrics.RequestDuration.WithLabelValues("tickets").Observe(timer.Stop().Seconds())
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts API list and login requests.
	// Labels: endpoint, status (success/failure/filter_retry)
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daktela_extractor_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"endpoint", "status"},
	)

	// RequestDuration tracks API request latency in seconds.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "daktela_extractor_request_duration_seconds",
			Help:    "API request latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"endpoint"},
	)

	// RetriesTotal counts retry attempts per endpoint.
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daktela_extractor_retries_total",
			Help: "Total number of retried API requests",
		},
		[]string{"endpoint"},
	)

	// PagesFetched counts completed result pages per endpoint.
	PagesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daktela_extractor_pages_fetched_total",
			Help: "Total number of result pages fetched",
		},
		[]string{"endpoint"},
	)

	// RecordsFetched counts raw records received per endpoint.
	RecordsFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daktela_extractor_records_fetched_total",
			Help: "Total number of raw records fetched",
		},
		[]string{"endpoint"},
	)

	// RowsWritten counts transformed rows handed to the sink.
	RowsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daktela_extractor_rows_written_total",
			Help: "Total number of output rows written",
		},
		[]string{"table"},
	)

	// InvalidRecords counts records dropped for missing key fields.
	InvalidRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daktela_extractor_invalid_records_total",
			Help: "Total number of records dropped as invalid",
		},
		[]string{"endpoint"},
	)

	// ActiveEndpoints tracks endpoints currently being extracted.
	ActiveEndpoints = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "daktela_extractor_active_endpoints",
			Help: "Number of endpoints currently being extracted",
		},
	)

	// DependentCallsTotal counts per-parent sub-resource requests.
	DependentCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daktela_extractor_dependent_calls_total",
			Help: "Total number of dependent sub-resource requests",
		},
		[]string{"endpoint", "status"},
	)
)

// Timer provides a simple timing mechanism for measuring operation durations.
type Timer struct {
	start time.Time
	name  string
}

// NewTimer creates a new timer and starts timing immediately.
// The name parameter is for identification in logs or metrics.
func NewTimer(name string) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
	}
}

// Stop returns the elapsed time since the timer was created.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// Name returns the timer's name.
func (t *Timer) Name() string {
	return t.name
}
