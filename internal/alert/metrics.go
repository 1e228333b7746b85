package alert

import "github.com/prometheus/client_golang/prometheus"

var alertsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "scribe_alerts_total",
		Help: "Processing failure alerts, by result (sent, suppressed, failed).",
	},
	[]string{"result"},
)

func init() {
	prometheus.MustRegister(alertsTotal)
}
