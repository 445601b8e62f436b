package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"parallax/internal/consensus"
	"parallax/internal/physics"
)

// Label values for submissions_total.
const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
)

// Label values for validation failure reasons.
const (
	ReasonInvalidObservation    = "invalid_observation"
	ReasonInsufficientObservers = "insufficient_observers"
	ReasonUnderConstrained      = "under_constrained"
)

// Metrics aggregates the server's collectors on a dedicated registry.
// It doubles as a result and conservation sink so the coordinator and the
// sampler feed it directly.
type Metrics struct {
	registry *prometheus.Registry

	submissions    *prometheus.CounterVec
	rounds         *prometheus.CounterVec
	failures       *prometheus.CounterVec
	geometricError prometheus.Histogram
	confidence     prometheus.Histogram
	roundDuration  prometheus.Histogram

	forceMagnitude    prometheus.Gauge
	momentumMagnitude prometheus.Gauge
	totalEnergy       prometheus.Gauge
	conservationFlags *prometheus.GaugeVec
	simulationTick    prometheus.Gauge

	FeedConnections prometheus.Gauge
	WatchClients    prometheus.Gauge
}

// New creates the collector set on a fresh registry, including the standard
// Go runtime and process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		registry: registry,

		submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "parallax_submissions_total",
			Help: "Observation submissions by outcome",
		}, []string{"outcome"}),

		rounds: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "parallax_validation_rounds_total",
			Help: "Completed validation rounds by verdict",
		}, []string{"verdict"}),

		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "parallax_validation_failures_total",
			Help: "Validation calls that produced no verdict, by reason",
		}, []string{"reason"}),

		geometricError: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "parallax_geometric_error",
			Help:    "RMS residual of completed rounds, in world units",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),

		confidence: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "parallax_confidence",
			Help:    "Confidence of completed rounds",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),

		roundDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "parallax_round_duration_seconds",
			Help:    "Wall time of validation rounds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
		}),

		forceMagnitude: factory.NewGauge(prometheus.GaugeOpts{
			Name: "parallax_conservation_force_magnitude",
			Help: "Magnitude of the net pairwise force, newtons",
		}),

		momentumMagnitude: factory.NewGauge(prometheus.GaugeOpts{
			Name: "parallax_conservation_momentum_magnitude",
			Help: "Magnitude of the total momentum",
		}),

		totalEnergy: factory.NewGauge(prometheus.GaugeOpts{
			Name: "parallax_conservation_total_energy",
			Help: "Total kinetic plus potential energy, joules",
		}),

		conservationFlags: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "parallax_conservation_ok",
			Help: "1 when the law held at the last sample, 0 when it tripped",
		}, []string{"law"}),

		simulationTick: factory.NewGauge(prometheus.GaugeOpts{
			Name: "parallax_simulation_tick",
			Help: "Completed simulation steps",
		}),

		FeedConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "parallax_feed_connections",
			Help: "Live QUIC feed connections",
		}),

		WatchClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "parallax_watch_clients",
			Help: "Connected websocket watchers",
		}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Handler serves the registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Submission counts one ingestion attempt.
func (m *Metrics) Submission(accepted bool) {
	outcome := OutcomeAccepted
	if !accepted {
		outcome = OutcomeRejected
	}

	m.submissions.WithLabelValues(outcome).Inc()
}

// Failure counts a validation call that produced no verdict.
func (m *Metrics) Failure(reason string) {
	m.failures.WithLabelValues(reason).Inc()
}

// RoundDuration observes the wall time of one validation call.
func (m *Metrics) RoundDuration(d time.Duration) {
	m.roundDuration.Observe(d.Seconds())
}

// RecordValidation implements consensus.ResultSink.
func (m *Metrics) RecordValidation(r consensus.Result) {
	verdict := "valid"
	if !r.Valid {
		verdict = "invalid"
	}

	m.rounds.WithLabelValues(verdict).Inc()
	m.geometricError.Observe(r.GeometricError)
	m.confidence.Observe(r.Confidence)
}

// RecordConservation implements physics.SnapshotSink.
func (m *Metrics) RecordConservation(s physics.Snapshot) {
	m.forceMagnitude.Set(s.ForceMagnitude)
	m.momentumMagnitude.Set(s.MomentumMagnitude)
	m.totalEnergy.Set(s.TotalEnergy)
	m.simulationTick.Set(float64(s.Tick))
	m.conservationFlags.WithLabelValues("momentum").Set(boolGauge(s.MomentumConserved))
	m.conservationFlags.WithLabelValues("energy").Set(boolGauge(s.EnergyConserved))
}

// boolGauge maps a flag to 1 or 0.
func boolGauge(ok bool) float64 {
	if ok {
		return 1
	}

	return 0
}
