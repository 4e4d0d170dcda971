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
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "settlement_build_info",
			Help: "Build information of the settlement engine",
		},
		[]string{"version", "commit"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "settlement_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Settlement attempts by terminal outcome
	SettlementAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_attempts_total",
			Help: "Total number of settlement attempts by outcome",
		},
		[]string{"outcome"}, // "confirmed", "resumed", or an error kind
	)

	SettlementDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "settlement_attempt_duration_seconds",
			Help:    "Duration of settlement attempts from prepare to terminal state",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~256s
		},
	)

	SettlementsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "settlement_attempts_in_flight",
			Help: "Number of settlement attempts currently running",
		},
	)

	SessionRecoveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_session_recoveries_total",
			Help: "Total number of stale-session recoveries",
		},
		[]string{"status"},
	)

	DisputeActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_dispute_actions_total",
			Help: "Total number of proposal and dispute actions",
		},
		[]string{"action"}, // "propose", "dispute", "reject", "revise", "refund"
	)

	BackendNotifyTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_backend_notify_total",
			Help: "Total number of on-chain notifications sent to the backend",
		},
		[]string{"status"},
	)

	WorkerRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_contest_worker_runs_total",
			Help: "Total number of contest worker passes",
		},
		[]string{"status"},
	)
)

// Middleware returns a chi middleware that records HTTP metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		// Use the route pattern if available, otherwise use the path
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}

		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// RecordSettlement records the outcome and duration of one settlement attempt.
func RecordSettlement(outcome string, duration time.Duration) {
	SettlementAttemptsTotal.WithLabelValues(outcome).Inc()
	SettlementDuration.Observe(duration.Seconds())
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordNotify records a backend notification result.
func RecordNotify(err error) {
	BackendNotifyTotal.WithLabelValues(status(err)).Inc()
}

// RecordWorkerRun records one contest worker pass.
func RecordWorkerRun(err error) {
	WorkerRunsTotal.WithLabelValues(status(err)).Inc()
}

// RecordSessionRecovery records a stale-session recovery attempt.
func RecordSessionRecovery(err error) {
	SessionRecoveriesTotal.WithLabelValues(status(err)).Inc()
}
