package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for placement and tree queries.
type Metrics struct {
	// Placement outcomes by result ("placed", "duplicate_owner", ...) and kind ("root", "child")
	Placements *prometheus.CounterVec

	// Store attempts needed per successful placement
	PlacementAttempts prometheus.Histogram

	// Lost races recovered by retry, by store error
	PlacementRetries *prometheus.CounterVec

	// Positions inspected by the breadth-first search per attempt
	SearchVisited prometheus.Histogram

	PlacementLatency prometheus.Histogram
	QueryLatency     *prometheus.HistogramVec

	CacheLookups   *prometheus.CounterVec
	EventFailures  *prometheus.CounterVec
	ReferralLookup *prometheus.CounterVec
}

// New registers the matrix metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Placements: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "matrix_placements_total",
			Help: "Placement outcomes by result and kind",
		}, []string{"result", "kind"}),

		PlacementAttempts: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "matrix_placement_attempts",
			Help:    "Store attempts per successful placement",
			Buckets: []float64{1, 2, 3, 4, 6, 8, 12, 16},
		}),

		PlacementRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "matrix_placement_retries_total",
			Help: "Placement attempts retried after losing a slot race",
		}, []string{"reason"}), // reason: "capacity_exceeded", "duplicate_slot"

		SearchVisited: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "matrix_placement_search_visited",
			Help:    "Positions visited by the breadth-first open-slot search",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),

		PlacementLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "matrix_placement_duration_seconds",
			Help:    "Duration of place including retries",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),

		QueryLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "matrix_query_duration_seconds",
			Help:    "Duration of tree queries by operation",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"operation"}),

		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "matrix_descendant_cache_lookups_total",
			Help: "Descendant count cache lookups by result",
		}, []string{"result"}), // result: "hit", "miss", "error"

		EventFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "matrix_event_publish_failures_total",
			Help: "PositionPlaced events that could not be published",
		}, []string{"reason"}),

		ReferralLookup: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "matrix_referral_resolutions_total",
			Help: "Referral token resolutions by result",
		}, []string{"result"}), // result: "resolved", "empty", "malformed", "unmatched"
	}
}

func (m *Metrics) IncrementPlacement(result, kind string) {
	if m != nil {
		m.Placements.WithLabelValues(result, kind).Inc()
	}
}

func (m *Metrics) ObservePlacementAttempts(attempts int) {
	if m != nil {
		m.PlacementAttempts.Observe(float64(attempts))
	}
}

func (m *Metrics) IncrementRetry(reason string) {
	if m != nil {
		m.PlacementRetries.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) ObserveSearchVisited(visited int) {
	if m != nil {
		m.SearchVisited.Observe(float64(visited))
	}
}

func (m *Metrics) ObservePlacementLatency(d time.Duration) {
	if m != nil {
		m.PlacementLatency.Observe(d.Seconds())
	}
}

func (m *Metrics) ObserveQueryLatency(operation string, d time.Duration) {
	if m != nil {
		m.QueryLatency.WithLabelValues(operation).Observe(d.Seconds())
	}
}

func (m *Metrics) IncrementCacheLookup(result string) {
	if m != nil {
		m.CacheLookups.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) IncrementEventFailure(reason string) {
	if m != nil {
		m.EventFailures.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) IncrementReferral(result string) {
	if m != nil {
		m.ReferralLookup.WithLabelValues(result).Inc()
	}
}
