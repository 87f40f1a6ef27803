// Package metrics provides Prometheus metrics for course search.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the build and search collectors.
type Metrics struct {
	BuildDuration  prometheus.Histogram
	BuildErrors    prometheus.Counter
	CoursesIndexed prometheus.Gauge
	BlocksDropped  prometheus.Counter
	SnapshotLoads  prometheus.Counter
	SearchRequests prometheus.Counter
	SearchErrors   *prometheus.CounterVec
	SearchDuration prometheus.Histogram
	SearchResults  prometheus.Histogram
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which is handy in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BuildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "course_search_build_duration_seconds",
			Help:    "Duration of index builds in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		BuildErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "course_search_build_errors_total",
			Help: "Total number of failed index builds",
		}),
		CoursesIndexed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "course_search_courses_indexed",
			Help: "Number of courses in the ready index",
		}),
		BlocksDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "course_search_blocks_dropped_total",
			Help: "Course blocks skipped because a field was missing or malformed",
		}),
		SnapshotLoads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "course_search_snapshot_loads_total",
			Help: "Builds served from a persisted snapshot instead of a fresh scrape",
		}),
		SearchRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "course_search_search_requests_total",
			Help: "Total number of search requests",
		}),
		SearchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "course_search_search_errors_total",
			Help: "Total number of failed searches by reason",
		}, []string{"reason"}),
		SearchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "course_search_search_duration_seconds",
			Help:    "Duration of searches in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		SearchResults: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "course_search_search_results",
			Help:    "Number of results returned per search",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.BuildDuration,
			m.BuildErrors,
			m.CoursesIndexed,
			m.BlocksDropped,
			m.SnapshotLoads,
			m.SearchRequests,
			m.SearchErrors,
			m.SearchDuration,
			m.SearchResults,
		)
	}

	return m
}
