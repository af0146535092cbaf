package app

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/akaunkita/finledger/internal/observability"
	"github.com/akaunkita/finledger/internal/shared"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("LOYVERSE_COMPANIES", "")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, 60.0, cfg.ReconAutoThreshold)
	require.Equal(t, 10, cfg.POSAlertThreshold)
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigValidation(t *testing.T) {
	company := uuid.New()
	t.Setenv("LOYVERSE_COMPANIES", company.String())
	cfg, err := LoadConfig()
	require.NoError(t, err)
	ids, err := cfg.SyncCompanies()
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{company}, ids)

	t.Setenv("LOYVERSE_COMPANIES", "not-a-uuid")
	_, err = LoadConfig()
	require.Error(t, err)

	t.Setenv("LOYVERSE_COMPANIES", "")
	t.Setenv("RECON_SUGGESTION_FLOOR", "70")
	_, err = LoadConfig()
	require.ErrorContains(t, err, "RECON_SUGGESTION_FLOOR")

	t.Setenv("RECON_SUGGESTION_FLOOR", "0")
	t.Setenv("APP_ENV", "production")
	_, err = LoadConfig()
	require.ErrorContains(t, err, "POS_WEBHOOK_SECRET")
}

func TestCallerContext(t *testing.T) {
	var got shared.Actor
	var present bool
	h := CallerContext(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, present = shared.ActorFromContext(r.Context())
	}))

	company, user := uuid.New(), uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderCompanyID, company.String())
	req.Header.Set(HeaderUserID, user.String())
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.True(t, present)
	require.Equal(t, shared.Actor{CompanyID: company, UserID: user}, got)

	present = false
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.False(t, present)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderCompanyID, "acme")
	req.Header.Set(HeaderUserID, user.String())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouterHealthAndMetrics(t *testing.T) {
	router := NewRouter(RouterParams{Config: &Config{}, Metrics: observability.NewMetrics()})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "finledger_http_requests_total")
}

func TestBuildServices(t *testing.T) {
	t.Setenv("LOYVERSE_COMPANIES", "")
	t.Setenv("REDIS_DB", "2")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, 2, cfg.AsynqRedis().DB)

	services, err := BuildServices(cfg, Infra{Metrics: observability.NewMetrics()})
	require.NoError(t, err)
	require.NotNil(t, services.Ledger)
	require.NotNil(t, services.POSPoster)
	require.NotNil(t, services.Reconcile)
	require.Nil(t, services.Alerts)
	require.Equal(t, "1010", services.Chart.MustAccount("bank").Code)

	cfg.ChartPath = "testdata/missing-chart.yaml"
	_, err = BuildServices(cfg, Infra{})
	require.Error(t, err)
}
