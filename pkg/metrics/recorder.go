package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder handles metrics recording and exposure
type Recorder struct {
	registry *prometheus.Registry

	// API metrics
	apiRequestCounter   *prometheus.CounterVec
	apiLatencyHistogram *prometheus.HistogramVec

	// Valuation metrics
	valuationCounter  *prometheus.CounterVec
	valuationLatency  *prometheus.HistogramVec
	estimationLatency *prometheus.HistogramVec
	simulationTrials  *prometheus.CounterVec
	parityCounter     *prometheus.CounterVec
	publishCounter    *prometheus.CounterVec

	// Market data metrics
	fetchCounter *prometheus.CounterVec
	fetchLatency *prometheus.HistogramVec

	// System metrics
	websocketClients prometheus.Gauge
}

// NewRecorder creates a recorder backed by its own registry, which also
// carries the Go runtime and process collectors
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Recorder{
		registry: registry,

		apiRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "optval_api_requests_total",
				Help: "The total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		apiLatencyHistogram: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "optval_api_latency_seconds",
				Help:    "API request latency distribution",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // From 1ms to ~16s
			},
			[]string{"method", "path"},
		),

		valuationCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "optval_valuations_total",
				Help: "The total number of valuations by model and outcome",
			},
			[]string{"model", "outcome"},
		),
		valuationLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "optval_valuation_duration_seconds",
				Help:    "End-to-end valuation latency",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
			},
			[]string{"model"},
		),
		estimationLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "optval_estimation_duration_seconds",
				Help:    "Market parameter estimation latency",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
			},
			[]string{"outcome"},
		),
		simulationTrials: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "optval_simulation_trials_total",
				Help: "The total number of Monte-Carlo trials run",
			},
			[]string{"model"},
		),
		parityCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "optval_parity_checks_total",
				Help: "Put-call parity checks by result",
			},
			[]string{"holds"},
		),
		publishCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "optval_valuation_events_total",
				Help: "Valuation events published by sink and outcome",
			},
			[]string{"sink", "outcome"},
		),

		fetchCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "optval_provider_fetches_total",
				Help: "Market data source calls by source and outcome",
			},
			[]string{"source", "outcome"},
		),
		fetchLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "optval_provider_fetch_duration_seconds",
				Help:    "Market data source latency",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
			},
			[]string{"source"},
		),

		websocketClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "optval_websocket_clients",
			Help: "Connected websocket subscribers",
		}),
	}
}

// Registry exposes the underlying registry
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the recorder's metrics in the Prometheus text format
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// RecordAPIRequest records an API request
func (r *Recorder) RecordAPIRequest(method, path string, status int, latency time.Duration) {
	r.apiRequestCounter.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	r.apiLatencyHistogram.WithLabelValues(method, path).Observe(latency.Seconds())
}

// RecordValuation records a finished valuation
func (r *Recorder) RecordValuation(model, outcome string, latency time.Duration) {
	r.valuationCounter.WithLabelValues(model, outcome).Inc()
	r.valuationLatency.WithLabelValues(model).Observe(latency.Seconds())
}

// RecordEstimation records one estimation pass
func (r *Recorder) RecordEstimation(outcome string, latency time.Duration) {
	r.estimationLatency.WithLabelValues(outcome).Observe(latency.Seconds())
}

// RecordSimulationTrials adds to the simulated trial count
func (r *Recorder) RecordSimulationTrials(model string, trials int) {
	r.simulationTrials.WithLabelValues(model).Add(float64(trials))
}

// RecordParity records a parity check result
func (r *Recorder) RecordParity(holds bool) {
	r.parityCounter.WithLabelValues(strconv.FormatBool(holds)).Inc()
}

// RecordPublish records a valuation event handed to a sink
func (r *Recorder) RecordPublish(sink, outcome string) {
	r.publishCounter.WithLabelValues(sink, outcome).Inc()
}

// RecordFetch records a market data source call
func (r *Recorder) RecordFetch(source, outcome string, elapsed time.Duration) {
	r.fetchCounter.WithLabelValues(source, outcome).Inc()
	r.fetchLatency.WithLabelValues(source).Observe(elapsed.Seconds())
}

// RecordWebsocketClients sets the number of connected subscribers
func (r *Recorder) RecordWebsocketClients(count int) {
	r.websocketClients.Set(float64(count))
}
