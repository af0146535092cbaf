package pos

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/akaunkita/finledger/internal/notify"
)

// SalesStore is the persistence port used by sync and daily posting.
type SalesStore interface {
	FindSyncState(ctx context.Context, companyID uuid.UUID, provider string) (SyncState, bool, error)
	SaveSyncState(ctx context.Context, st SyncState) error
	ExistingExternalIDs(ctx context.Context, companyID uuid.UUID, ids []string) (map[string]struct{}, error)
	InsertSale(ctx context.Context, s Sale) error
	ListNormalized(ctx context.Context, companyID uuid.UUID, businessDate time.Time, storeID *uuid.UUID) ([]Sale, error)
	MarkPosted(ctx context.Context, companyID uuid.UUID, ids []uuid.UUID, entryID uuid.UUID) (int64, error)
}

// StoreDirectory resolves provider stores to store locations (create-or-fetch).
type StoreDirectory interface {
	Resolve(ctx context.Context, companyID uuid.UUID, raw RawSale) (uuid.UUID, error)
}

// Alerter receives operational alerts.
type Alerter interface {
	Send(ctx context.Context, companyID uuid.UUID, alert notify.Alert) error
}

// Metrics receives POS counters. observability.Metrics satisfies it.
type Metrics interface {
	SyncRun(full bool)
	SyncRecords(created, skipped, errored int)
	DailyPosted(negative bool)
	CrossStepInconsistency()
}

type nopMetrics struct{}

func (nopMetrics) SyncRun(bool)              {}
func (nopMetrics) SyncRecords(int, int, int) {}
func (nopMetrics) DailyPosted(bool)          {}
func (nopMetrics) CrossStepInconsistency()   {}

// SyncOptions selects incremental or full sync.
type SyncOptions struct {
	Full bool `json:"full"`
}

// SyncResult reports one sync run. Skipped duplicates are not errors.
type SyncResult struct {
	Created   int       `json:"created"`
	Skipped   int       `json:"skipped"`
	Errors    int       `json:"errors"`
	SyncState SyncState `json:"syncState"`
}

// SyncConfig tunes a Syncer.
type SyncConfig struct {
	// AlertThreshold raises an alert when one run has at least this many errors. Zero disables.
	AlertThreshold int
	// Concurrency bounds parallel record processing within a run.
	Concurrency int
}

// Syncer ingests provider transactions into normalized records.
type Syncer struct {
	provider Provider
	store    SalesStore
	stores   StoreDirectory
	guard    *RunGuard
	alerter  Alerter
	metrics  Metrics
	logger   *slog.Logger
	cfg      SyncConfig
	now      func() time.Time
}

// NewSyncer constructs a Syncer. alerter, metrics and logger may be nil.
func NewSyncer(provider Provider, store SalesStore, stores StoreDirectory, guard *RunGuard, alerter Alerter, metrics Metrics, logger *slog.Logger, cfg SyncConfig) *Syncer {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Syncer{
		provider: provider,
		store:    store,
		stores:   stores,
		guard:    guard,
		alerter:  alerter,
		metrics:  metrics,
		logger:   logger.With(slog.String("component", "pos.sync")),
		cfg:      cfg,
		now:      time.Now,
	}
}

// WithNow overrides the clock for testing.
func (s *Syncer) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Enabled reports whether the provider integration is configured.
func (s *Syncer) Enabled() bool {
	return s != nil && s.provider != nil && s.provider.Enabled()
}

// SyncRecentSales pulls transactions since the last sync (or all, when Full)
// and stores each as a normalized record. The run holds the company guard.
func (s *Syncer) SyncRecentSales(ctx context.Context, companyID uuid.UUID, opts SyncOptions) (SyncResult, error) {
	if !s.Enabled() {
		return SyncResult{}, ErrProviderDisabled
	}
	release, err := s.guard.Acquire(ctx, companyID)
	if err != nil {
		return SyncResult{}, err
	}
	defer release()

	state, found, err := s.store.FindSyncState(ctx, companyID, ProviderLoyverse)
	if err != nil {
		return SyncResult{}, fmt.Errorf("pos: load sync state: %w", err)
	}
	var since *time.Time
	if found && !opts.Full {
		last := state.LastSyncAt
		since = &last
	}
	startedAt := s.now().UTC()

	raws, err := s.provider.FetchSales(ctx, companyID, since)
	if err != nil {
		return SyncResult{}, err
	}
	s.metrics.SyncRun(opts.Full)

	result, retryFrom := s.ingest(ctx, companyID, raws)

	// Records that failed for a transient reason keep the mark at or before
	// their own time so the next incremental run fetches them again.
	mark := startedAt
	if !retryFrom.IsZero() && retryFrom.Before(mark) {
		mark = retryFrom.UTC()
		s.logger.Warn("pos sync mark held back",
			slog.String("company_id", companyID.String()),
			slog.Time("last_sync_at", mark))
	}
	state = SyncState{CompanyID: companyID, Provider: ProviderLoyverse, LastSyncAt: mark}
	if err := s.store.SaveSyncState(ctx, state); err != nil {
		return result, fmt.Errorf("pos: save sync state: %w", err)
	}
	result.SyncState = state
	s.logger.Info("pos sync complete",
		slog.String("company_id", companyID.String()),
		slog.Bool("full", opts.Full),
		slog.Int("fetched", len(raws)),
		slog.Int("created", result.Created),
		slog.Int("skipped", result.Skipped),
		slog.Int("errors", result.Errors))
	return result, nil
}

// Ingest stores pushed records through the same path as a sync, under the company guard.
func (s *Syncer) Ingest(ctx context.Context, companyID uuid.UUID, raws []RawSale) (SyncResult, error) {
	release, err := s.guard.Acquire(ctx, companyID)
	if err != nil {
		return SyncResult{}, err
	}
	defer release()
	result, _ := s.ingest(ctx, companyID, raws)
	return result, nil
}

// ingest dedupes the batch, then processes records concurrently. A failing
// record is counted and logged; it never aborts the batch. Counters are local
// to the run so overlapping runs for other companies cannot skew the alert.
// retryFrom is the earliest time of a record that failed for a reason other
// than quarantine, zero when there is none.
func (s *Syncer) ingest(ctx context.Context, companyID uuid.UUID, raws []RawSale) (result SyncResult, retryFrom time.Time) {
	var created, skipped, failed atomic.Int64
	var retryMu sync.Mutex

	seen := make(map[string]struct{}, len(raws))
	batch := make([]RawSale, 0, len(raws))
	ids := make([]string, 0, len(raws))
	for _, raw := range raws {
		if raw.ID != "" {
			if _, dup := seen[raw.ID]; dup {
				skipped.Add(1)
				continue
			}
			seen[raw.ID] = struct{}{}
			ids = append(ids, raw.ID)
		}
		batch = append(batch, raw)
	}

	existing, err := s.store.ExistingExternalIDs(ctx, companyID, ids)
	if err != nil {
		s.logger.Warn("pos existing lookup failed, relying on insert conflict",
			slog.String("company_id", companyID.String()), slog.Any("error", err))
		existing = map[string]struct{}{}
	}

	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for _, raw := range batch {
		if _, ok := existing[raw.ID]; ok {
			skipped.Add(1)
			continue
		}
		raw := raw
		g.Go(func() error {
			switch err := s.ingestOne(ctx, companyID, raw); {
			case err == nil:
				created.Add(1)
			case errors.Is(err, ErrDuplicateSale):
				skipped.Add(1)
			default:
				failed.Add(1)
				if !errors.Is(err, ErrInvalidRawSale) {
					if at, perr := time.Parse(time.RFC3339, raw.DateTime); perr == nil {
						retryMu.Lock()
						if retryFrom.IsZero() || at.Before(retryFrom) {
							retryFrom = at
						}
						retryMu.Unlock()
					}
				}
				s.logger.Warn("pos record failed",
					slog.String("company_id", companyID.String()),
					slog.String("external_id", raw.ID),
					slog.Bool("quarantined", errors.Is(err, ErrInvalidRawSale)),
					slog.Any("error", err))
			}
			return nil
		})
	}
	_ = g.Wait()

	result = SyncResult{Created: int(created.Load()), Skipped: int(skipped.Load()), Errors: int(failed.Load())}
	s.metrics.SyncRecords(result.Created, result.Skipped, result.Errors)
	s.maybeAlert(ctx, companyID, result.Errors)
	return result, retryFrom
}

func (s *Syncer) ingestOne(ctx context.Context, companyID uuid.UUID, raw RawSale) error {
	if err := Validate(raw); err != nil {
		return err
	}
	var storeID *uuid.UUID
	if s.stores != nil {
		id, err := s.stores.Resolve(ctx, companyID, raw)
		if err != nil {
			return err
		}
		storeID = &id
	}
	sale, err := Normalize(raw, companyID, storeID)
	if err != nil {
		return err
	}
	sale.ID = uuid.New()
	sale.CreatedAt = s.now().UTC()
	return s.store.InsertSale(ctx, sale)
}

// SpikeAlert builds the error-spike alert for a run with count failures.
func SpikeAlert(count, threshold int) notify.Alert {
	priority := notify.PriorityMedium
	if count >= threshold*2 {
		priority = notify.PriorityHigh
	}
	return notify.Alert{
		Type:  "system_alert",
		Title: "POS Sync Error Spike",
		Message: fmt.Sprintf("Detected %d POS sync errors in latest run (threshold %d). Investigate Loyverse integration or network issues.",
			count, threshold),
		Priority: priority,
		Data:     map[string]any{"delta": count, "threshold": threshold},
	}
}

func (s *Syncer) maybeAlert(ctx context.Context, companyID uuid.UUID, errs int) {
	threshold := s.cfg.AlertThreshold
	if threshold <= 0 || errs <= 0 || errs < threshold || s.alerter == nil {
		return
	}
	if err := s.alerter.Send(ctx, companyID, SpikeAlert(errs, threshold)); err != nil {
		s.logger.Error("pos sync alert failed", slog.String("company_id", companyID.String()), slog.Any("error", err))
	}
}
