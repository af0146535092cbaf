package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects HTTP and domain Prometheus metrics.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	invariantViolations *prometheus.CounterVec
	syncRuns            *prometheus.CounterVec
	syncRecords         *prometheus.CounterVec
	scheduledRuns       *prometheus.CounterVec
	postings            *prometheus.CounterVec
	crossStep           prometheus.Counter
	reconMatches        *prometheus.CounterVec
}

// NewMetrics initialises the registry and all collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "finledger_http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "finledger_http_request_duration_seconds",
			Help:    "HTTP request latency per route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		invariantViolations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "finledger_ledger_invariant_violations_total",
			Help: "Entries rejected because debits did not equal credits.",
		}, []string{"source_type"}),
		syncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "finledger_pos_sync_runs_total",
			Help: "POS sync runs by mode.",
		}, []string{"mode"}),
		syncRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "finledger_pos_sync_records_total",
			Help: "POS records processed by outcome.",
		}, []string{"outcome"}),
		scheduledRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "finledger_pos_sync_scheduled_runs_total",
			Help: "Scheduled POS sync runs by result.",
		}, []string{"result"}),
		postings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "finledger_pos_daily_postings_total",
			Help: "POS daily postings by day kind.",
		}, []string{"day"}),
		crossStep: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "finledger_cross_step_inconsistency_total",
			Help: "Ledger entries created whose source records could not be linked back.",
		}),
		reconMatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "finledger_reconciliation_matches_total",
			Help: "Reconciliation matching outcomes.",
		}, []string{"kind"}),
	}
	registry.MustRegister(m.requestsTotal, m.requestDuration, m.invariantViolations, m.syncRuns,
		m.syncRecords, m.scheduledRuns, m.postings, m.crossStep, m.reconMatches)
	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return m
}

// Handler returns the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request count and latency per chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer exposes the registry for additional collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// IncInvariantViolation counts a rejected unbalanced entry.
func (m *Metrics) IncInvariantViolation(source string) {
	if m == nil {
		return
	}
	m.invariantViolations.WithLabelValues(source).Inc()
}

// SyncRun counts one POS sync run.
func (m *Metrics) SyncRun(full bool) {
	if m == nil {
		return
	}
	mode := "incremental"
	if full {
		mode = "full"
	}
	m.syncRuns.WithLabelValues(mode).Inc()
}

// SyncRecords adds per-run record outcomes.
func (m *Metrics) SyncRecords(created, skipped, errored int) {
	if m == nil {
		return
	}
	m.syncRecords.WithLabelValues("created").Add(float64(created))
	m.syncRecords.WithLabelValues("skipped").Add(float64(skipped))
	m.syncRecords.WithLabelValues("error").Add(float64(errored))
}

// ScheduledRun counts a scheduler-triggered sync with its result (ok, error, skipped).
func (m *Metrics) ScheduledRun(result string) {
	if m == nil {
		return
	}
	m.scheduledRuns.WithLabelValues(result).Inc()
}

// DailyPosted counts a POS daily posting.
func (m *Metrics) DailyPosted(negative bool) {
	if m == nil {
		return
	}
	day := "normal"
	if negative {
		day = "negative"
	}
	m.postings.WithLabelValues(day).Inc()
}

// CrossStepInconsistency counts an entry whose sources failed to link back.
func (m *Metrics) CrossStepInconsistency() {
	if m == nil {
		return
	}
	m.crossStep.Inc()
}

// ReconciliationMatched adds matcher outcomes.
func (m *Metrics) ReconciliationMatched(auto, suggested, unmatched int) {
	if m == nil {
		return
	}
	m.reconMatches.WithLabelValues("auto").Add(float64(auto))
	m.reconMatches.WithLabelValues("suggestion").Add(float64(suggested))
	m.reconMatches.WithLabelValues("unmatched").Add(float64(unmatched))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
