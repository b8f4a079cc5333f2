package acquire

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for acquisition runs.
var (
	fetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cascade_fetches_total",
		Help: "Total fetch calls by kind (page, supplemental) and outcome",
	}, []string{"kind", "outcome"})

	fetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cascade_fetch_duration_seconds",
		Help:    "Fetch call duration in seconds by kind",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"kind"})

	itemsAppendedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cascade_items_appended_total",
		Help: "Total items appended to acquisition logs",
	})

	pacingWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cascade_pacing_wait_seconds",
		Help:    "Pause inserted between request starts to honor the minimum interval",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 15},
	})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cascade_runs_total",
		Help: "Total acquisition runs by terminal state",
	}, []string{"state"})
)

const (
	kindPage         = "page"
	kindSupplemental = "supplemental"
)
