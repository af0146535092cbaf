package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusTeapot, rr.Code)

	body := scrape(t, metrics)
	require.Contains(t, body, `finledger_http_requests_total{code="418",route="/test"} 1`)
	require.Contains(t, body, `finledger_http_request_duration_seconds_bucket{route="/test"`)
}

func TestDomainCounters(t *testing.T) {
	metrics := NewMetrics()
	metrics.IncInvariantViolation("pos_daily")
	metrics.SyncRun(true)
	metrics.SyncRecords(3, 1, 2)
	metrics.ScheduledRun("skipped")
	metrics.DailyPosted(true)
	metrics.CrossStepInconsistency()
	metrics.ReconciliationMatched(2, 1, 4)

	body := scrape(t, metrics)
	require.Contains(t, body, `finledger_ledger_invariant_violations_total{source_type="pos_daily"} 1`)
	require.Contains(t, body, `finledger_pos_sync_runs_total{mode="full"} 1`)
	require.Contains(t, body, `finledger_pos_sync_records_total{outcome="error"} 2`)
	require.Contains(t, body, `finledger_pos_sync_scheduled_runs_total{result="skipped"} 1`)
	require.Contains(t, body, `finledger_pos_daily_postings_total{day="negative"} 1`)
	require.Contains(t, body, `finledger_cross_step_inconsistency_total 1`)
	require.Contains(t, body, `finledger_reconciliation_matches_total{kind="unmatched"} 4`)
}

func TestNilMetricsAreSafe(t *testing.T) {
	var metrics *Metrics
	metrics.IncInvariantViolation("invoice")
	metrics.CrossStepInconsistency()
	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
