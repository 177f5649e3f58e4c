// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Sessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rehearse_sessions_total",
		Help: "Interview session lifecycle events.",
	}, []string{"event"})

	Turns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rehearse_turns_total",
		Help: "Transcript turns appended, by kind.",
	}, []string{"kind"})

	Assessments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rehearse_assessments_total",
		Help: "Assessments produced, by outcome (full or degraded).",
	}, []string{"outcome"})

	DependencyRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rehearse_dependency_requests_total",
		Help: "Calls to external capabilities, by dependency and outcome.",
	}, []string{"dependency", "outcome"})

	DependencyDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rehearse_dependency_duration_seconds",
		Help:    "Latency of external capability calls.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"dependency"})

	Fallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rehearse_fallbacks_total",
		Help: "Degraded paths taken instead of a dependency result.",
	}, []string{"kind", "reason"})

	RetrievalSnippets = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rehearse_retrieval_snippets",
		Help:    "Snippets returned per context retrieval.",
		Buckets: []float64{0, 1, 2, 3, 5, 8, 13},
	})

	Jobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rehearse_jobs_total",
		Help: "Background jobs processed, by type and outcome.",
	}, []string{"type", "outcome"})

	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rehearse_rate_limited_total",
		Help: "Requests rejected by the per-candidate rate limiter.",
	})

	httpDuration = promauto.NewSummaryVec(prometheus.SummaryOpts{
		Name: "rehearse_http_request_duration_seconds",
		Help: "HTTP request duration in seconds.",
		Objectives: map[float64]float64{
			0.5:  0.05,
			0.9:  0.01,
			0.99: 0.001,
		},
	}, []string{"method", "route", "status_code"})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rehearse_http_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "route", "status_code"})
)

// ObserveDependency records one call to an external capability.
func ObserveDependency(dependency string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	DependencyRequests.WithLabelValues(dependency, outcome).Inc()
	DependencyDuration.WithLabelValues(dependency).Observe(time.Since(start).Seconds())
}

// Middleware records request counts and latency labelled by chi route
// pattern, so path parameters do not explode cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		code := strconv.Itoa(status)
		httpDuration.WithLabelValues(r.Method, route, code).Observe(time.Since(start).Seconds())
		httpRequests.WithLabelValues(r.Method, route, code).Inc()
	})
}
