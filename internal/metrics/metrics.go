package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Checker-Finance/credpool/pkg/model"
)

var (
	// Allocator operations by outcome.
	AllocatorOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credpool_allocator_ops_total",
			Help: "Allocator operations by operation and result.",
		},
		[]string{"op", "result"},
	)

	AllocatorOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "credpool_allocator_op_duration_seconds",
			Help:    "Duration of allocator operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"op"},
	)

	// Credentials marked inactive, by reason code.
	DeadCredentialsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credpool_dead_credentials_total",
			Help: "Credentials marked dead, by reason code.",
		},
		[]string{"reason"},
	)

	PoolGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "credpool_pool_credentials",
			Help: "Pool size by state (total, active, available, used, expired).",
		},
		[]string{"state"},
	)

	PoolHolders = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "credpool_pool_holders",
			Help: "Current number of holders across the pool.",
		},
	)

	// Retry orchestrator outcomes.
	LoginAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credpool_login_attempts_total",
			Help: "Activation attempts made by the retry orchestrator.",
		},
		[]string{"result"},
	)

	LoginsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credpool_logins_total",
			Help: "Completed login loops by terminal status.",
		},
		[]string{"status"},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credpool_events_published_total",
			Help: "Pool events published per sink and result.",
		},
		[]string{"sink", "result"},
	)

	EventPublishLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "credpool_event_publish_latency_seconds",
			Help:    "Time taken to publish pool events.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"sink"},
	)

	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credpool_errors_total",
			Help: "Count of service-level errors by component.",
		},
		[]string{"component", "reason"},
	)

	LastSweepTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "credpool_last_sweep_timestamp",
			Help: "Timestamp (unix seconds) of the last successful expiry sweep.",
		},
	)
)

// ObserveDuration records the time taken since start on the given histogram.
func ObserveDuration(v *prometheus.HistogramVec, start time.Time, labels ...string) {
	v.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
}

func IncAllocatorOp(op, result string) {
	AllocatorOpsTotal.WithLabelValues(op, result).Inc()
}

func IncDead(reason string) {
	DeadCredentialsTotal.WithLabelValues(reason).Inc()
}

func IncEvent(sink, result string) {
	EventsPublished.WithLabelValues(sink, result).Inc()
}

func IncError(component, reason string) {
	ErrorsTotal.WithLabelValues(component, reason).Inc()
}

// SetPoolStats refreshes the pool gauges.
func SetPoolStats(s model.PoolStats) {
	PoolGauge.WithLabelValues("total").Set(float64(s.Total))
	PoolGauge.WithLabelValues("active").Set(float64(s.Active))
	PoolGauge.WithLabelValues("available").Set(float64(s.Available))
	PoolGauge.WithLabelValues("used").Set(float64(s.Used))
	PoolGauge.WithLabelValues("expired").Set(float64(s.Expired))
	PoolHolders.Set(float64(s.Holders))
}

func SetLastSweep(t time.Time) {
	LastSweepTimestamp.Set(float64(t.Unix()))
}
