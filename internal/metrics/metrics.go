// Package metrics exposes Prometheus instrumentation for the ingestion
// platform. Job metrics ride the completion-event bus, so the engine needs
// no direct dependency on this package.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ingestor-io/ingestor/internal/engine"
)

// Metrics holds the platform's Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	jobsTotal    *prometheus.CounterVec
	rowsInserted *prometheus.CounterVec
	jobDuration  *prometheus.HistogramVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// Metrics consumes job completion events.
var _ engine.EventSink = (*Metrics)(nil)

// New creates the collector set and registers it, along with the standard Go
// and process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ingestor",
			Name:      "jobs_total",
			Help:      "Completed ingestion jobs by source and terminal status.",
		}, []string{"source", "status"}),
		rowsInserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ingestor",
			Name:      "rows_inserted_total",
			Help:      "Rows written to dataset tables by source.",
		}, []string{"source"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ingestor",
			Name:      "job_duration_seconds",
			Help:      "Wall-clock job duration from creation to completion.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"source"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ingestor",
			Name:      "http_requests_total",
			Help:      "API requests by method and response status.",
		}, []string{"method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ingestor",
			Name:      "http_request_duration_seconds",
			Help:      "API request latency by method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.jobsTotal,
		m.rowsInserted,
		m.jobDuration,
		m.httpRequests,
		m.httpDuration,
	)

	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Publish implements engine.EventSink.
func (m *Metrics) Publish(_ context.Context, event engine.CompletionEvent) {
	m.jobsTotal.WithLabelValues(event.Source, string(event.Status)).Inc()

	if event.RowsInserted > 0 {
		m.rowsInserted.WithLabelValues(event.Source).Add(float64(event.RowsInserted))
	}

	if event.Duration > 0 {
		m.jobDuration.WithLabelValues(event.Source).Observe(event.Duration.Seconds())
	}
}

// InstrumentHTTP wraps a handler with request count and latency recording.
// Applied outside the correlation middleware so every request is counted,
// including rejected ones.
func (m *Metrics) InstrumentHTTP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(recorder, r)

		m.httpRequests.WithLabelValues(r.Method, strconv.Itoa(recorder.status)).Inc()
		m.httpDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter

	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
