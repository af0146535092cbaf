package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/akaunkita/finledger/internal/observability"
	"github.com/akaunkita/finledger/internal/pos"
	"github.com/akaunkita/finledger/internal/posting"
	"github.com/akaunkita/finledger/internal/reconcile"
	"github.com/akaunkita/finledger/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	Metrics          *observability.Metrics
	PostingHandler   *posting.Handler
	POSHandler       *pos.Handler
	ReconcileHandler *reconcile.Handler
	JobHandler       *jobs.Handler
}

// NewRouter constructs the chi.Router with API defaults. Webhooks are mounted
// outside the caller context since the company comes from the path.
func NewRouter(params RouterParams) http.Handler {
	if params.Logger == nil {
		params.Logger = slog.Default()
	}
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.POSHandler != nil {
		params.POSHandler.MountWebhook(r)
	}

	r.Group(func(r chi.Router) {
		r.Use(CallerContext)
		params.PostingHandler.MountRoutes(r)
		params.POSHandler.MountRoutes(r)
		params.ReconcileHandler.MountRoutes(r)
		if params.JobHandler != nil {
			r.Route("/jobs", params.JobHandler.MountRoutes)
		}
	})
	return r
}
