package podds

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects the prediction service's Prometheus metrics on its own registry.
// A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Predictions      *prometheus.CounterVec
	TrainingRuns     *prometheus.CounterVec
	TrainingDuration *prometheus.HistogramVec
	RatedTeams       *prometheus.GaugeVec
	FeedErrors       *prometheus.CounterVec
	Settlements      *prometheus.CounterVec
	CacheLookups     *prometheus.CounterVec
}

// NewMetrics creates and registers every collector
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Predictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "podds_predictions_total",
				Help: "Fixtures priced, by whether both teams were rated",
			},
			[]string{"league", "outcome"},
		),
		TrainingRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "podds_training_runs_total",
				Help: "Training passes by result",
			},
			[]string{"league", "result"},
		),
		TrainingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "podds_training_duration_seconds",
				Help:    "Time to read the corpus and fit a league model",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
			},
			[]string{"league"},
		),
		RatedTeams: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "podds_rated_teams",
				Help: "Teams in the installed model",
			},
			[]string{"league"},
		),
		FeedErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "podds_feed_errors_total",
				Help: "Failed fixture feed calls",
			},
			[]string{"endpoint"},
		),
		Settlements: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "podds_settlements_total",
				Help: "Settlement attempts by result",
			},
			[]string{"result"},
		),
		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "podds_edge_cache_lookups_total",
				Help: "Live edge snapshot lookups",
			},
			[]string{"result"},
		),
	}
	m.registry.MustRegister(
		m.Predictions,
		m.TrainingRuns,
		m.TrainingDuration,
		m.RatedTeams,
		m.FeedErrors,
		m.Settlements,
		m.CacheLookups,
	)
	return m
}

// Registry exposes the registry for a /metrics handler
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
}

// RecordPrediction counts one priced or unrated fixture
func (m *Metrics) RecordPrediction(league string, rated bool) {
	if m == nil {
		return
	}
	outcome := "rated"
	if !rated {
		outcome = "unrated"
	}
	m.Predictions.WithLabelValues(league, outcome).Inc()
}

// RecordTraining counts a training pass and, on success, updates the team gauge
func (m *Metrics) RecordTraining(league, result string, seconds float64, teams int) {
	if m == nil {
		return
	}
	m.TrainingRuns.WithLabelValues(league, result).Inc()
	m.TrainingDuration.WithLabelValues(league).Observe(seconds)
	if result == "ok" {
		m.RatedTeams.WithLabelValues(league).Set(float64(teams))
	}
}

// RecordFeedError counts a failed feed call
func (m *Metrics) RecordFeedError(endpoint string) {
	if m == nil {
		return
	}
	m.FeedErrors.WithLabelValues(endpoint).Inc()
}

// RecordSettlement counts a settlement attempt
func (m *Metrics) RecordSettlement(result string) {
	if m == nil {
		return
	}
	m.Settlements.WithLabelValues(result).Inc()
}

// RecordCacheLookup counts a hit or a miss
func (m *Metrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}
