package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the notification pipeline,
// plus the running aggregates behind the admin statistics endpoint and the
// weekly summary. Prometheus counters cannot be read back cheaply, so the
// aggregates are tracked alongside them.
type Metrics struct {
	Sent              *prometheus.CounterVec
	Failed            *prometheus.CounterVec
	RateLimitRejected prometheus.Counter
	DeliveryLatency   prometheus.Histogram
	QueueDepth        prometheus.Gauge

	totalSent      atomic.Int64
	totalErrors    atomic.Int64
	rateLimited    atomic.Int64
	totalLatencyMs atomic.Int64
	latencySamples atomic.Int64
}

// New creates and registers all notification metrics.
func New() *Metrics {
	return &Metrics{
		Sent: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "revtrail_notifications_sent_total",
			Help: "Total number of notifications delivered, by type and severity",
		}, []string{"type", "severity"}),
		Failed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "revtrail_notifications_failed_total",
			Help: "Total number of notification deliveries that failed terminally, by type and severity",
		}, []string{"type", "severity"}),
		RateLimitRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "revtrail_notifications_rate_limited_total",
			Help: "Total number of sends rejected by the per-recipient rate limiter",
		}),
		DeliveryLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "revtrail_notification_delivery_seconds",
			Help:    "Notification delivery latency from send request to terminal outcome",
			Buckets: prometheus.DefBuckets,
		}),
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "revtrail_event_queue_depth",
			Help: "Current depth of the deferred event queue",
		}),
	}
}

// RecordDelivered records a successful delivery with its latency.
func (m *Metrics) RecordDelivered(eventType, severity string, latencyMs int64) {
	m.Sent.WithLabelValues(eventType, severity).Inc()
	m.DeliveryLatency.Observe(float64(latencyMs) / 1000)
	m.totalSent.Add(1)
	m.totalLatencyMs.Add(latencyMs)
	m.latencySamples.Add(1)
}

// RecordFailed records a terminal delivery failure.
func (m *Metrics) RecordFailed(eventType, severity string) {
	m.Failed.WithLabelValues(eventType, severity).Inc()
	m.totalErrors.Add(1)
}

// RecordRateLimited records a rate-limiter rejection.
func (m *Metrics) RecordRateLimited() {
	m.RateLimitRejected.Inc()
	m.rateLimited.Add(1)
}

// SetQueueDepth updates the deferred queue depth gauge.
func (m *Metrics) SetQueueDepth(depth int) {
	m.QueueDepth.Set(float64(depth))
}

// Totals returns the running aggregates: sent, errors, rate limited,
// average delivery latency in milliseconds, and success rate in [0,1].
func (m *Metrics) Totals() (sent, errors, rateLimited int64, avgLatencyMs, successRate float64) {
	sent = m.totalSent.Load()
	errors = m.totalErrors.Load()
	rateLimited = m.rateLimited.Load()
	if samples := m.latencySamples.Load(); samples > 0 {
		avgLatencyMs = float64(m.totalLatencyMs.Load()) / float64(samples)
	}
	if total := sent + errors; total > 0 {
		successRate = float64(sent) / float64(total)
	}
	return sent, errors, rateLimited, avgLatencyMs, successRate
}
