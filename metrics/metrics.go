package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// FetchResults counts lookup calls by outcome (ok, not_found, rate_limited, unavailable, malformed).
	FetchResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clog_fetch_results_total",
			Help: "Collection log lookups by outcome",
		},
		[]string{"result"},
	)
	SyncCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clog_sync_cycles_total",
			Help: "Sync cycle attempts by trigger and outcome",
		},
		[]string{"trigger", "outcome"},
	)
	SyncCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "clog_sync_cycle_duration_seconds",
			Help:    "Duration of sync cycles",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)
	LeaderboardVersion = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "clog_leaderboard_version",
			Help: "Version of the currently published leaderboard snapshot",
		},
	)
	RankedOwners = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "clog_ranked_owners",
			Help: "Owners ranked in the latest snapshot, including those beyond the published top",
		},
	)
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"path", "method", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)
)

// InitPrometheus registers the collectors. Call it once from main.
func InitPrometheus() {
	prometheus.MustRegister(
		FetchResults,
		SyncCycles,
		SyncCycleDuration,
		LeaderboardVersion,
		RankedOwners,
		httpRequestsTotal,
		httpRequestDuration,
	)
}

// Middleware records request counts and latency, labelled by the chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		httpRequestsTotal.WithLabelValues(path, r.Method, strconv.Itoa(ww.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(path, r.Method).Observe(time.Since(start).Seconds())
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack keeps websocket upgrades working behind the middleware.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
