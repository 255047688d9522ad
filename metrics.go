package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/example/taskauth/internal/auth"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	authEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_events_total",
			Help: "Session operations by outcome",
		},
		[]string{"event", "outcome"},
	)

	blacklistPurgedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "auth_blacklist_purged_total",
			Help: "Expired blacklist entries removed by the sweeper",
		},
	)
)

// Metrics records request counts and latency labelled by route template.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		route := "unknown"
		if cr := mux.CurrentRoute(r); cr != nil {
			if tpl, err := cr.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		status := strconv.Itoa(rw.statusCode)
		httpRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
		httpRequestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}

// recordAuthEvent counts an operation outcome; a nil err is "success",
// otherwise the error kind.
func recordAuthEvent(event string, err error) {
	outcome := "success"
	if err != nil {
		outcome = auth.KindOf(err).String()
	}
	authEventsTotal.WithLabelValues(event, outcome).Inc()
}
