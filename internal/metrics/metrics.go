package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "storerate"

// Metrics owns the collectors of one API process.
type Metrics struct {
	registry *prometheus.Registry

	httpInFlight  prometheus.Gauge
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	ratings       *prometheus.CounterVec
	cascadeRemove *prometheus.CounterVec
	rateLimited   *prometheus.CounterVec
}

// New builds a registry with HTTP, domain and runtime collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}, []string{"method", "route"}),
		ratings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratings",
			Name:      "submissions_total",
			Help:      "Rating submissions by outcome.",
		}, []string{"outcome"}),
		cascadeRemove: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cascade",
			Name:      "removed_rows_total",
			Help:      "Rows removed by cascading deletes, by entity.",
		}, []string{"entity"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter, by scope.",
		}, []string{"scope"}),
	}
	m.registry.MustRegister(
		m.httpInFlight,
		m.httpRequests,
		m.httpDuration,
		m.ratings,
		m.cascadeRemove,
		m.rateLimited,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RatingSubmitted counts one rating submission outcome ("created", "updated",
// "rejected").
func (m *Metrics) RatingSubmitted(outcome string) {
	if m == nil {
		return
	}
	m.ratings.WithLabelValues(outcome).Inc()
}

// CascadeRemoved counts rows removed by a cascading delete.
func (m *Metrics) CascadeRemoved(accounts, stores, ratings int) {
	if m == nil {
		return
	}
	m.cascadeRemove.WithLabelValues("account").Add(float64(accounts))
	m.cascadeRemove.WithLabelValues("store").Add(float64(stores))
	m.cascadeRemove.WithLabelValues("rating").Add(float64(ratings))
}

// RateLimited counts one rejected request in scope.
func (m *Metrics) RateLimited(scope string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(scope).Inc()
}

// Instrument wraps next with request count, latency and in-flight tracking.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		route := Route(r.URL.Path)
		method := strings.ToUpper(r.Method)
		m.httpRequests.WithLabelValues(method, route, strconv.Itoa(rec.status)).Inc()
		m.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Route collapses id path segments so label cardinality stays bounded:
// /admin/users/<id> becomes /admin/users/:id and /stores/<id>/rate
// becomes /stores/:id/rate.
func Route(path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) == 1 && segments[0] == "" {
		return "/"
	}
	for i := 1; i < len(segments); i++ {
		switch segments[i-1] {
		case "users", "rate":
			segments[i] = ":id"
		case "stores":
			if segments[i] != "me" {
				segments[i] = ":id"
			}
		}
	}
	return "/" + strings.Join(segments, "/")
}
