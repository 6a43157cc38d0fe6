package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the revision layer.
type Metrics struct {
	RevisionsRecorded *prometheus.CounterVec
	RecorderErrors    prometheus.Counter
	CacheHits         prometheus.Counter
	CacheMisses       prometheus.Counter
	CleanupDeleted    *prometheus.CounterVec
}

// New creates and registers all revision metrics.
func New() *Metrics {
	return &Metrics{
		RevisionsRecorded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "revtrail_revisions_recorded_total",
			Help: "Total number of revisions recorded, by revision type",
		}, []string{"type"}),
		RecorderErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "revtrail_recorder_errors_total",
			Help: "Total number of revision recording failures",
		}),
		CacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "revtrail_revision_cache_hits_total",
			Help: "Total number of revision cache hits",
		}),
		CacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "revtrail_revision_cache_misses_total",
			Help: "Total number of revision cache misses",
		}),
		CleanupDeleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "revtrail_cleanup_deleted_total",
			Help: "Total number of revisions deleted by maintenance jobs, by job",
		}, []string{"job"}),
	}
}

// IncrementRecorded increments the recorded counter for a revision type.
func (m *Metrics) IncrementRecorded(revType string) {
	m.RevisionsRecorded.WithLabelValues(revType).Inc()
}

// IncrementRecorderErrors increments the recorder failure counter.
func (m *Metrics) IncrementRecorderErrors() {
	m.RecorderErrors.Inc()
}

// ObserveCacheLookup mirrors one cache lookup outcome onto the counters.
// Wired as the revision cache observer.
func (m *Metrics) ObserveCacheLookup(hit bool) {
	if hit {
		m.CacheHits.Inc()
		return
	}
	m.CacheMisses.Inc()
}

// AddCleanupDeleted adds to the per-job cleanup deletion counter.
func (m *Metrics) AddCleanupDeleted(job string, n int64) {
	m.CleanupDeleted.WithLabelValues(job).Add(float64(n))
}
