package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "perkup",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "perkup",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "perkup",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "route"},
	)

	ledgerPostings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "perkup",
			Subsystem: "ledger",
			Name:      "postings_total",
			Help:      "Committed ledger postings by direction and source.",
		},
		[]string{"type", "source"},
	)

	ledgerPoints = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "perkup",
			Subsystem: "ledger",
			Name:      "points_total",
			Help:      "Points moved by committed postings.",
		},
		[]string{"type", "source"},
	)

	signIns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "perkup",
			Subsystem: "signin",
			Name:      "total",
			Help:      "Successful daily sign-ins.",
		},
		[]string{"bonus"},
	)

	exchanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "perkup",
			Subsystem: "reward",
			Name:      "exchanges_total",
			Help:      "Reward exchange attempts by outcome.",
		},
		[]string{"outcome"},
	)

	reconciliations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "perkup",
			Subsystem: "reward",
			Name:      "reconciliation_required_total",
			Help:      "Exchanges whose rollback failed after points were debited.",
		},
	)

	codeCollisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "perkup",
			Name:      "code_collisions_total",
			Help:      "Generated codes that collided with an existing one.",
		},
		[]string{"kind"},
	)

	settlements = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "perkup",
			Subsystem: "team",
			Name:      "settlements_total",
			Help:      "Teams settled.",
		},
	)

	couponsIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "perkup",
			Subsystem: "coupon",
			Name:      "issued_total",
			Help:      "Coupons issued by source.",
		},
		[]string{"source"},
	)

	couponsExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "perkup",
			Subsystem: "coupon",
			Name:      "expired_total",
			Help:      "Coupons moved to expired.",
		},
	)

	jobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "perkup",
			Subsystem: "scheduler",
			Name:      "job_runs_total",
			Help:      "Scheduled job runs by outcome.",
		},
		[]string{"job", "outcome"},
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "perkup",
			Subsystem: "scheduler",
			Name:      "job_duration_seconds",
			Help:      "Duration of scheduled job runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"job"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		ledgerPostings,
		ledgerPoints,
		signIns,
		exchanges,
		reconciliations,
		codeCollisions,
		settlements,
		couponsIssued,
		couponsExpired,
		jobRuns,
		jobDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps next with HTTP metrics collection. Requests are
// labelled by their ServeMux pattern to keep cardinality bounded.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" || r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, route, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// RecordPosting records a committed ledger posting.
func RecordPosting(txType, source string, amount int64) {
	ledgerPostings.WithLabelValues(txType, source).Inc()
	ledgerPoints.WithLabelValues(txType, source).Add(float64(amount))
}

func RecordSignIn(bonus bool) {
	signIns.WithLabelValues(strconv.FormatBool(bonus)).Inc()
}

// RecordExchange records an exchange attempt. outcome is "success" or the
// failure reason.
func RecordExchange(outcome string) {
	exchanges.WithLabelValues(outcome).Inc()
}

func RecordReconciliationRequired() {
	reconciliations.Inc()
}

func RecordCodeCollision(kind string) {
	codeCollisions.WithLabelValues(kind).Inc()
}

func RecordSettlement() {
	settlements.Inc()
}

func RecordCouponIssued(source string) {
	couponsIssued.WithLabelValues(source).Inc()
}

func RecordCouponsExpired(n int64) {
	couponsExpired.Add(float64(n))
}

// RecordJobRun records a scheduled job run. outcome is "success", "error"
// or "skipped".
func RecordJobRun(job, outcome string, duration time.Duration) {
	if job == "" {
		job = "unknown"
	}
	jobRuns.WithLabelValues(job, outcome).Inc()
	if outcome != "skipped" {
		jobDuration.WithLabelValues(job).Observe(duration.Seconds())
	}
}
