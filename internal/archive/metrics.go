package archive

import "github.com/prometheus/client_golang/prometheus"

var (
	lockWaitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scribe_archive_lock_wait_seconds",
			Help:    "Time spent waiting for per-request archive locks.",
			Buckets: []float64{0.001, 0.005, 0.025, 0.1, 0.5, 1, 5, 10},
		},
	)

	lockTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scribe_archive_lock_timeouts_total",
			Help: "Archive operations rejected because the request lock was not acquired in time.",
		},
	)
)

func init() {
	prometheus.MustRegister(lockWaitSeconds)
	prometheus.MustRegister(lockTimeoutsTotal)
}
