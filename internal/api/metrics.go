package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	unmatched = "unmatched"
	anonymous = "anonymous"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scribe_http_requests_total",
			Help: "HTTP requests by route, response class and caller permission.",
		},
		[]string{"method", "route", "code", "caller"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scribe_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds. Streaming routes are excluded.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "caller"},
	)

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scribe_http_in_flight_requests",
			Help: "Requests currently being served, including open event streams.",
		},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal, httpRequestDuration, httpInFlight)
}

// streamingRoutes stay open for the life of a subscription; their duration
// says nothing about latency.
var streamingRoutes = map[string]bool{
	"/v1/requests/{id}/events": true,
	"/v1/events/ws":            true,
}

// requestLabels is filled in while the request is routed and authenticated.
type requestLabels struct {
	caller string
}

type labelsCtxKey struct{}

// setCaller records the permission of the authenticated key for metrics.
func setCaller(ctx context.Context, caller string) {
	if l, ok := ctx.Value(labelsCtxKey{}).(*requestLabels); ok {
		l.caller = caller
	}
}

// metricsMiddleware records request count, duration and concurrency, labelled
// by chi route pattern and the permission of the calling key.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		labels := &requestLabels{caller: anonymous}
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(ww, r.WithContext(context.WithValue(r.Context(), labelsCtxKey{}, labels)))

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := routePattern(r)
		httpRequestsTotal.WithLabelValues(r.Method, route, statusClass(status), labels.caller).Inc()
		if !streamingRoutes[route] {
			httpRequestDuration.WithLabelValues(route, labels.caller).Observe(time.Since(start).Seconds())
		}
	})
}

// statusClass collapses a status code into 2xx, 4xx and so on, except for
// the codes the API uses to signal state conflicts and throttling.
func statusClass(code int) string {
	switch code {
	case http.StatusConflict, http.StatusGone, http.StatusServiceUnavailable:
		return strconv.Itoa(code)
	}
	return strconv.Itoa(code/100) + "xx"
}

// routePattern extracts the matched chi route pattern, falling back to "unmatched".
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return unmatched
}

// metricsHandler returns the Prometheus metrics handler.
func metricsHandler() http.Handler {
	return promhttp.Handler()
}
