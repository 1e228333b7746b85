package tracker

import "github.com/prometheus/client_golang/prometheus"

var (
	requestsSubmittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scribe_requests_submitted_total",
			Help: "Total number of requests submitted.",
		},
	)

	pagesSubmittedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scribe_pages_submitted_total",
			Help: "Total number of pages submitted across all requests.",
		},
	)

	pageOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scribe_page_outcomes_total",
			Help: "Terminal page outcomes reported by workers or owners, by state.",
		},
		[]string{"state"},
	)

	requestsFinishedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scribe_requests_finished_total",
			Help: "Requests whose pages all reached a terminal state.",
		},
	)
)

func init() {
	prometheus.MustRegister(requestsSubmittedTotal)
	prometheus.MustRegister(pagesSubmittedTotal)
	prometheus.MustRegister(pageOutcomesTotal)
	prometheus.MustRegister(requestsFinishedTotal)
}
