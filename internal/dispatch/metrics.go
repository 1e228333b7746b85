package dispatch

import "github.com/prometheus/client_golang/prometheus"

var (
	pagesDispatchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scribe_pages_dispatched_total",
			Help: "Pages leased to workers, by whether the page matched the preferred engine.",
		},
		[]string{"source"},
	)

	claimConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scribe_claim_conflicts_total",
			Help: "Lease attempts lost to a concurrent worker and retried.",
		},
	)

	leasesReapedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scribe_leases_reaped_total",
			Help: "Expired leases returned to WAITING by the reaper.",
		},
	)
)

func init() {
	prometheus.MustRegister(pagesDispatchedTotal)
	prometheus.MustRegister(claimConflictsTotal)
	prometheus.MustRegister(leasesReapedTotal)
}
