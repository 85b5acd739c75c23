package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for the sync engine
type Metrics struct {
	SyncRuns     *prometheus.CounterVec
	SyncItems    *prometheus.CounterVec
	SyncDuration *prometheus.HistogramVec
}

// New creates and registers the sync engine collectors
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SyncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "possync_runs_total",
			Help: "Sync runs by direction and final status",
		}, []string{"direction", "status"}),
		SyncItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "possync_items_total",
			Help: "Items processed by sync runs, by result",
		}, []string{"result"}),
		SyncDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "possync_run_duration_seconds",
			Help:    "Wall-clock duration of sync runs",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"direction"}),
	}

	reg.MustRegister(
		m.SyncRuns,
		m.SyncItems,
		m.SyncDuration,
	)
	return m
}

// ObserveRun records the outcome of one sync run
func (m *Metrics) ObserveRun(direction, status string, succeeded, failed int, duration time.Duration) {
	m.SyncRuns.WithLabelValues(direction, status).Inc()
	m.SyncItems.WithLabelValues("succeeded").Add(float64(succeeded))
	m.SyncItems.WithLabelValues("failed").Add(float64(failed))
	m.SyncDuration.WithLabelValues(direction).Observe(duration.Seconds())
}
