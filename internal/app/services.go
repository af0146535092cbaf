package app

import (
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/akaunkita/finledger/internal/ledger"
	"github.com/akaunkita/finledger/internal/notify"
	"github.com/akaunkita/finledger/internal/observability"
	"github.com/akaunkita/finledger/internal/platform/cache"
	"github.com/akaunkita/finledger/internal/pos"
	"github.com/akaunkita/finledger/internal/posting"
	"github.com/akaunkita/finledger/internal/reconcile"
	"github.com/akaunkita/finledger/internal/shared"
)

// Infra carries the shared connections every binary opens.
type Infra struct {
	Pool     *pgxpool.Pool
	Redis    *redis.Client
	Enqueuer notify.Enqueuer
	Metrics  *observability.Metrics
	Logger   *slog.Logger
}

// Services is the wired domain layer.
type Services struct {
	Chart       *ledger.Chart
	Ledger      *ledger.Service
	Posting     *posting.Poster
	POSSyncer   *pos.Syncer
	POSPoster   *pos.Poster
	Reconcile   *reconcile.Service
	Audit       *shared.AuditLogger
	Idempotency *shared.IdempotencyStore
	Alerts      *notify.Queue
}

// BuildServices constructs the domain services from config and infrastructure.
func BuildServices(cfg *Config, infra Infra) (*Services, error) {
	if infra.Logger == nil {
		infra.Logger = slog.Default()
	}
	chart, err := ledger.LoadChart(cfg.ChartPath)
	if err != nil {
		return nil, fmt.Errorf("load chart: %w", err)
	}

	audit := shared.NewAuditLogger(infra.Pool)
	ledgerService := ledger.NewService(ledger.NewRepository(infra.Pool), audit, infra.Logger)
	if infra.Metrics != nil {
		ledgerService.WithMetrics(infra.Metrics)
	}

	var alerts *notify.Queue
	var alerter pos.Alerter
	if infra.Enqueuer != nil {
		alerts = notify.NewQueue(infra.Enqueuer, "default")
		alerter = alerts
	}
	var posMetrics pos.Metrics
	var reconMetrics reconcile.Metrics
	if infra.Metrics != nil {
		posMetrics = infra.Metrics
		reconMetrics = infra.Metrics
	}

	// Without Redis the guard still serialises runs within this process.
	guard := pos.NewRunGuard(cache.NewLocker(infra.Redis, infra.Logger), cfg.POSLockTTL)

	provider := pos.NewLoyverseClient(pos.LoyverseConfig{
		APIKey:   cfg.LoyverseAPIKey,
		BaseURL:  cfg.LoyverseBaseURL,
		Currency: cfg.LoyverseCurrency,
	}, infra.Logger)
	salesStore := pos.NewRepository(infra.Pool)
	syncer := pos.NewSyncer(provider, salesStore, pos.NewDirectory(infra.Pool), guard, alerter, posMetrics, infra.Logger, pos.SyncConfig{
		AlertThreshold: cfg.POSAlertThreshold,
		Concurrency:    cfg.POSSyncConcurrency,
	})
	posPoster := pos.NewPoster(ledgerService, salesStore, chart, guard, alerter, posMetrics, infra.Logger)

	matcher := reconcile.NewGreedyMatcher()
	matcher.AutoThreshold = cfg.ReconAutoThreshold
	matcher.SuggestionFloor = cfg.ReconSuggestionFloor
	reconService := reconcile.NewService(reconcile.NewRepository(infra.Pool), ledgerService, matcher, audit, reconMetrics, infra.Logger)

	return &Services{
		Chart:       chart,
		Ledger:      ledgerService,
		Posting:     posting.NewPoster(ledgerService, chart, infra.Logger),
		POSSyncer:   syncer,
		POSPoster:   posPoster,
		Reconcile:   reconService,
		Audit:       audit,
		Idempotency: shared.NewIdempotencyStore(infra.Pool),
		Alerts:      alerts,
	}, nil
}
