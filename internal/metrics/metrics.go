// Package metrics provides Prometheus metrics for the scoring service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	EventsTotal       *prometheus.CounterVec
	EventDuration     *prometheus.HistogramVec
	SignalsTotal      *prometheus.CounterVec
	StagesTotal       *prometheus.CounterVec
	PersonasTotal     *prometheus.CounterVec
	ForwardTotal      *prometheus.CounterVec
	ForwardQueueDepth prometheus.Gauge
	StoreErrorsTotal  *prometheus.CounterVec
	HTTPRequestsTotal *prometheus.CounterVec
	StoreSizeBytes    prometheus.Gauge
	RetentionRemovals prometheus.Counter
	MemoryEvictions   prometheus.Counter

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scorer_events_total",
				Help: "Total events processed by event name and status.",
			},
			[]string{"event", "status"},
		),
		EventDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scorer_event_duration_seconds",
				Help:    "Per-event processing duration including store round trips.",
				Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"source"},
		),
		SignalsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scorer_signals_total",
				Help: "Signals extracted by signal type.",
			},
			[]string{"type"},
		),
		StagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scorer_stage_assignments_total",
				Help: "Journey stage assignments by stage.",
			},
			[]string{"stage"},
		),
		PersonasTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scorer_persona_predictions_total",
				Help: "Effective persona after scoring.",
			},
			[]string{"persona"},
		),
		ForwardTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scorer_forward_total",
				Help: "Analytics rows by forward outcome.",
			},
			[]string{"result"},
		),
		ForwardQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "scorer_forward_queue_depth",
				Help: "Rows waiting to be forwarded.",
			},
		),
		StoreErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scorer_store_errors_total",
				Help: "Visitor store failures by operation.",
			},
			[]string{"op"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scorer_http_requests_total",
				Help: "HTTP requests by route and status code.",
			},
			[]string{"route", "code"},
		),
		StoreSizeBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "scorer_store_size_bytes",
				Help: "Size of the durable visitor store on disk.",
			},
		),
		RetentionRemovals: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "scorer_retention_removed_total",
				Help: "Expired visitor records removed by retention sweeps.",
			},
		),
		MemoryEvictions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "scorer_memory_store_evictions_total",
				Help: "Visitor records the in-memory store dropped for capacity or expiry.",
			},
		),
		registry: reg,
	}

	reg.MustRegister(m.EventsTotal)
	reg.MustRegister(m.EventDuration)
	reg.MustRegister(m.SignalsTotal)
	reg.MustRegister(m.StagesTotal)
	reg.MustRegister(m.PersonasTotal)
	reg.MustRegister(m.ForwardTotal)
	reg.MustRegister(m.ForwardQueueDepth)
	reg.MustRegister(m.StoreErrorsTotal)
	reg.MustRegister(m.HTTPRequestsTotal)
	reg.MustRegister(m.StoreSizeBytes)
	reg.MustRegister(m.RetentionRemovals)
	reg.MustRegister(m.MemoryEvictions)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordEvent counts one processed event and its latency.
func (m *Metrics) RecordEvent(event, status, source string, d time.Duration) {
	if event == "" {
		event = "unknown"
	}
	m.EventsTotal.WithLabelValues(event, status).Inc()
	m.EventDuration.WithLabelValues(source).Observe(d.Seconds())
}

// RecordSignal counts an extracted signal.
func (m *Metrics) RecordSignal(signalType string) {
	m.SignalsTotal.WithLabelValues(signalType).Inc()
}

// RecordScore counts the stage and persona assigned by one scoring pass.
func (m *Metrics) RecordScore(stage, persona string) {
	m.StagesTotal.WithLabelValues(stage).Inc()
	m.PersonasTotal.WithLabelValues(persona).Inc()
}

// RecordForward counts a forward outcome: sent, failed or dropped.
func (m *Metrics) RecordForward(result string, rows int) {
	m.ForwardTotal.WithLabelValues(result).Add(float64(rows))
}

// SetForwardQueueDepth sets the pending row gauge.
func (m *Metrics) SetForwardQueueDepth(n int) {
	m.ForwardQueueDepth.Set(float64(n))
}

// RecordStoreError counts a failed store operation.
func (m *Metrics) RecordStoreError(op string) {
	m.StoreErrorsTotal.WithLabelValues(op).Inc()
}

// RecordHTTP counts a served request.
func (m *Metrics) RecordHTTP(route, code string) {
	m.HTTPRequestsTotal.WithLabelValues(route, code).Inc()
}

// SetStoreSize sets the on-disk store size.
func (m *Metrics) SetStoreSize(bytes int64) {
	m.StoreSizeBytes.Set(float64(bytes))
}

// RecordRetention counts records removed by a sweep.
func (m *Metrics) RecordRetention(removed int) {
	m.RetentionRemovals.Add(float64(removed))
}

// RecordMemoryEviction counts one record dropped by the in-memory store.
func (m *Metrics) RecordMemoryEviction() {
	m.MemoryEvictions.Inc()
}
