package retention

import "github.com/prometheus/client_golang/prometheus"

var (
	requestsSweptTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scribe_retention_requests_swept_total",
			Help: "Requests whose results and images were removed by retention.",
		},
	)

	pagesExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scribe_retention_pages_expired_total",
			Help: "PROCESSED pages moved to EXPIRED by retention.",
		},
	)

	sweepDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scribe_retention_sweep_duration_seconds",
			Help:    "Duration of a full retention sweep.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(requestsSweptTotal)
	prometheus.MustRegister(pagesExpiredTotal)
	prometheus.MustRegister(sweepDurationSeconds)
}
