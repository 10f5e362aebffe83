package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Option configures Recorder.
type Option func(*config)

type config struct {
	registerer prometheus.Registerer
	namespace  string
}

// WithRegisterer registers collectors on reg instead of the default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *config) {
		c.registerer = reg
	}
}

// WithNamespace sets the metric name prefix.
func WithNamespace(ns string) Option {
	return func(c *config) {
		c.namespace = ns
	}
}

// Recorder implements domain.repository.Telemetry using Prometheus.
type Recorder struct {
	cacheLookups     *prometheus.CounterVec
	connectionEvents *prometheus.CounterVec
	pollFailures     *prometheus.CounterVec
	observations     *prometheus.CounterVec
	workerState      *prometheus.GaugeVec
	resolveLatency   prometheus.Histogram
	signalStatus     *prometheus.CounterVec
	registryLoads    *prometheus.CounterVec
}

var workerStates = []string{"not_started", "running", "degraded", "stopped"}

// New creates a new Prometheus metrics recorder.
func New(opts ...Option) *Recorder {
	cfg := &config{
		registerer: prometheus.DefaultRegisterer,
		namespace:  "signalfeed",
	}
	for _, opt := range opts {
		opt(cfg)
	}
	f := promauto.With(cfg.registerer)

	return &Recorder{
		cacheLookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.namespace,
				Name:      "asset_cache_lookups_total",
				Help:      "Asset cache lookups by result (fresh, stale, missing)",
			},
			[]string{"source", "result"},
		),
		connectionEvents: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.namespace,
				Name:      "source_connection_events_total",
				Help:      "Streaming source connection events",
			},
			[]string{"source", "event"},
		),
		pollFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.namespace,
				Name:      "source_poll_failures_total",
				Help:      "Failed polling cycles per source",
			},
			[]string{"source"},
		),
		observations: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.namespace,
				Name:      "source_observations_total",
				Help:      "Observations written to the asset cache per source",
			},
			[]string{"source"},
		),
		workerState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.namespace,
				Name:      "source_worker_state",
				Help:      "1 for the current supervisor state of each source worker",
			},
			[]string{"source", "state"},
		),
		resolveLatency: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: cfg.namespace,
				Name:      "resolve_duration_seconds",
				Help:      "Duration of signal resolution calls",
				Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
		),
		signalStatus: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.namespace,
				Name:      "signal_results_total",
				Help:      "Resolved signals by status",
			},
			[]string{"status"},
		),
		registryLoads: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.namespace,
				Name:      "registry_loads_total",
				Help:      "Registry load attempts by result",
			},
			[]string{"result"},
		),
	}
}

// RecordCacheLookup records an asset cache lookup outcome.
func (r *Recorder) RecordCacheLookup(sourceID, result string) {
	r.cacheLookups.WithLabelValues(sourceID, result).Inc()
}

// RecordConnectionEvent records a streaming connection event (connected, disconnected, dial_failed...).
func (r *Recorder) RecordConnectionEvent(sourceID, event string) {
	r.connectionEvents.WithLabelValues(sourceID, event).Inc()
}

// RecordPollFailure records a failed polling cycle.
func (r *Recorder) RecordPollFailure(sourceID string) {
	r.pollFailures.WithLabelValues(sourceID).Inc()
}

// RecordObservations records n observations written by a source.
func (r *Recorder) RecordObservations(sourceID string, n int) {
	r.observations.WithLabelValues(sourceID).Add(float64(n))
}

// RecordWorkerState flips the state gauge of a source.
func (r *Recorder) RecordWorkerState(sourceID, state string) {
	for _, s := range workerStates {
		v := 0.0
		if s == state {
			v = 1
		}
		r.workerState.WithLabelValues(sourceID, s).Set(v)
	}
}

// RecordResolveLatency records resolve latency in seconds.
func (r *Recorder) RecordResolveLatency(seconds float64) {
	r.resolveLatency.Observe(seconds)
}

// RecordSignalStatus counts a resolved signal by status.
func (r *Recorder) RecordSignalStatus(status string) {
	r.signalStatus.WithLabelValues(status).Inc()
}

// RecordRegistryLoad counts a registry load attempt.
func (r *Recorder) RecordRegistryLoad(result string) {
	r.registryLoads.WithLabelValues(result).Inc()
}

// Nop discards every measurement.
type Nop struct{}

func (Nop) RecordCacheLookup(string, string)     {}
func (Nop) RecordConnectionEvent(string, string) {}
func (Nop) RecordPollFailure(string)             {}
func (Nop) RecordObservations(string, int)       {}
func (Nop) RecordWorkerState(string, string)     {}
func (Nop) RecordResolveLatency(float64)         {}
func (Nop) RecordSignalStatus(string)            {}
func (Nop) RecordRegistryLoad(string)            {}
