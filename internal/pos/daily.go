package pos

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/akaunkita/finledger/internal/ledger"
	"github.com/akaunkita/finledger/internal/notify"
	"github.com/akaunkita/finledger/internal/shared"
)

// Ledger is the subset of ledger.Service used for daily posting and repair.
type Ledger interface {
	Create(ctx context.Context, draft ledger.Draft) (ledger.Entry, error)
	FindBySource(ctx context.Context, companyID uuid.UUID, sourceType ledger.SourceType, sourceID string) (ledger.Entry, error)
	ConfirmSources(ctx context.Context, id uuid.UUID) error
	ListPendingSources(ctx context.Context, olderThan time.Duration) ([]ledger.Entry, error)
}

// PostDailyInput selects the business day (and optionally one store) to post.
type PostDailyInput struct {
	BusinessDate    time.Time
	StoreLocationID *uuid.UUID
	Status          ledger.Status
}

// PostDailyResult summarises a daily posting.
type PostDailyResult struct {
	LedgerEntryID   uuid.UUID  `json:"ledgerEntryId"`
	SourceID        string     `json:"sourceId"`
	BusinessDate    string     `json:"businessDate"`
	StoreLocationID *uuid.UUID `json:"storeLocationId,omitempty"`
	Counts          Counts     `json:"counts"`
	Totals          Totals     `json:"totals"`
	Resumed         bool       `json:"resumed,omitempty"`
	// ResumedEntry describes a pending entry completed in the same call as a
	// supplement posting.
	ResumedEntry *PostDailyResult `json:"resumedEntry,omitempty"`
}

// Poster aggregates a day of normalized records into one balanced ledger entry.
type Poster struct {
	ledger  Ledger
	store   SalesStore
	chart   *ledger.Chart
	guard   *RunGuard
	alerter Alerter
	metrics Metrics
	logger  *slog.Logger
}

// NewPoster constructs a Poster. alerter, metrics and logger may be nil.
func NewPoster(l Ledger, store SalesStore, chart *ledger.Chart, guard *RunGuard, alerter Alerter, metrics Metrics, logger *slog.Logger) *Poster {
	if chart == nil {
		chart = ledger.DefaultChart()
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poster{
		ledger:  l,
		store:   store,
		chart:   chart,
		guard:   guard,
		alerter: alerter,
		metrics: metrics,
		logger:  logger.With(slog.String("component", "pos.daily")),
	}
}

// DailySourceID is the idempotency key of a daily posting: YYYY-MM-DD[:store].
func DailySourceID(businessDate time.Time, storeID *uuid.UUID) string {
	id := BusinessDate(businessDate).Format(time.DateOnly)
	if storeID != nil {
		id += ":" + storeID.String()
	}
	return id
}

// PostDaily posts all normalized records of the day as one pos_daily entry.
//
// The entry is written with its sources pending, the records are then marked
// posted, and finally the entry's sources are confirmed. A pending entry found
// for the same day is resumed rather than duplicated; a day that was already
// confirmed but has received late records gets a "#n" supplement entry.
func (p *Poster) PostDaily(ctx context.Context, actor shared.Actor, in PostDailyInput) (PostDailyResult, error) {
	if err := actor.Validate(); err != nil {
		return PostDailyResult{}, err
	}
	if in.BusinessDate.IsZero() {
		return PostDailyResult{}, errors.New("pos: business date required")
	}
	release, err := p.guard.Acquire(ctx, actor.CompanyID)
	if err != nil {
		return PostDailyResult{}, err
	}
	defer release()

	day := BusinessDate(in.BusinessDate)
	sales, err := p.store.ListNormalized(ctx, actor.CompanyID, day, in.StoreLocationID)
	if err != nil {
		return PostDailyResult{}, fmt.Errorf("pos: list normalized: %w", err)
	}
	if len(sales) == 0 {
		return PostDailyResult{}, fmt.Errorf("%w for %s", ErrNoUnpostedSales, day.Format(time.DateOnly))
	}

	base := DailySourceID(day, in.StoreLocationID)
	sourceID, resumed, err := p.resolveSourceID(ctx, actor.CompanyID, base)
	if err != nil {
		return PostDailyResult{}, err
	}

	remaining := sales
	var resumedResult *PostDailyResult
	if resumed != nil {
		consumed := make(map[uuid.UUID]struct{}, len(resumed.SourceRecordIDs))
		for _, id := range resumed.SourceRecordIDs {
			consumed[id] = struct{}{}
		}
		var done []Sale
		remaining = remaining[:0:0]
		for _, s := range sales {
			if _, ok := consumed[s.ID]; ok {
				done = append(done, s)
			} else {
				remaining = append(remaining, s)
			}
		}
		if err := p.linkSources(ctx, *resumed); err != nil {
			return PostDailyResult{}, err
		}
		r := p.result(*resumed, day, in.StoreLocationID, Aggregate(done))
		r.Resumed = true
		resumedResult = &r
		if len(remaining) == 0 {
			return r, nil
		}
	}

	totals := Aggregate(remaining)
	splits, err := BuildDailySplits(totals, p.chart)
	if err != nil {
		var unbalanced *UnbalancedPostingError
		if errors.As(err, &unbalanced) {
			p.logger.Error("pos daily posting unbalanced",
				slog.String("company_id", actor.CompanyID.String()),
				slog.String("source_id", sourceID),
				slog.String("debit", unbalanced.Debit.String()),
				slog.String("credit", unbalanced.Credit.String()))
		}
		return PostDailyResult{}, err
	}

	status := in.Status
	if status == "" {
		status = ledger.StatusPosted
	}
	recordIDs := make([]uuid.UUID, len(remaining))
	for i, s := range remaining {
		recordIDs[i] = s.ID
	}
	entry, err := p.ledger.Create(ctx, ledger.Draft{
		CompanyID:       actor.CompanyID,
		SourceType:      ledger.SourcePOSDaily,
		SourceID:        sourceID,
		Reference:       dailyReference(day, in.StoreLocationID),
		Description:     dailyDescription(day, in.StoreLocationID),
		Date:            day,
		Splits:          splits,
		Currency:        remaining[0].Currency,
		Status:          status,
		SourceState:     ledger.SourceStatePending,
		SourceRecordIDs: recordIDs,
		CreatedBy:       actor.UserID,
		Meta: map[string]any{
			"version": 1,
			"posAggregation": map[string]any{
				"gross":       totals.Gross.String(),
				"discount":    totals.Discount.String(),
				"tax":         totals.Tax.String(),
				"net":         totals.Net.String(),
				"salesCount":  totals.Sales,
				"refundCount": totals.Refunds,
			},
		},
	})
	if err != nil {
		return PostDailyResult{}, err
	}

	if err := p.linkSources(ctx, entry); err != nil {
		return PostDailyResult{}, err
	}
	p.metrics.DailyPosted(totals.Negative())
	p.logger.Info("pos daily posted",
		slog.String("company_id", actor.CompanyID.String()),
		slog.String("source_id", sourceID),
		slog.String("entry_id", entry.ID.String()),
		slog.String("net", totals.Net.String()),
		slog.Int("records", len(remaining)))

	result := p.result(entry, day, in.StoreLocationID, totals)
	result.ResumedEntry = resumedResult
	return result, nil
}

// resolveSourceID walks base, base#2, base#3... and returns the first unused id.
// A pending entry on the way is returned for resumption.
func (p *Poster) resolveSourceID(ctx context.Context, companyID uuid.UUID, base string) (string, *ledger.Entry, error) {
	var pending *ledger.Entry
	candidate := base
	for n := 2; ; n++ {
		existing, err := p.ledger.FindBySource(ctx, companyID, ledger.SourcePOSDaily, candidate)
		if errors.Is(err, ledger.ErrEntryNotFound) {
			return candidate, pending, nil
		}
		if err != nil {
			return "", nil, fmt.Errorf("pos: lookup %s: %w", candidate, err)
		}
		if existing.SourceState == ledger.SourceStatePending && pending == nil {
			e := existing
			pending = &e
		}
		candidate = fmt.Sprintf("%s#%d", base, n)
	}
}

// linkSources marks the entry's records posted and confirms the entry. A
// failure here leaves the entry pending for the repair job and is reported as
// a cross-step inconsistency.
func (p *Poster) linkSources(ctx context.Context, entry ledger.Entry) error {
	if _, err := p.store.MarkPosted(ctx, entry.CompanyID, entry.SourceRecordIDs, entry.ID); err != nil {
		return p.crossStep(ctx, entry, "mark_posted", err)
	}
	if err := p.ledger.ConfirmSources(ctx, entry.ID); err != nil {
		return p.crossStep(ctx, entry, "confirm_sources", err)
	}
	return nil
}

func (p *Poster) crossStep(ctx context.Context, entry ledger.Entry, step string, cause error) error {
	p.metrics.CrossStepInconsistency()
	p.logger.Error("pos source link-back failed",
		slog.String("category", "cross_step_inconsistency"),
		slog.String("step", step),
		slog.String("company_id", entry.CompanyID.String()),
		slog.String("entry_id", entry.ID.String()),
		slog.String("source_id", entry.SourceID),
		slog.Int("records", len(entry.SourceRecordIDs)),
		slog.Any("error", cause))
	if p.alerter != nil {
		alert := notify.Alert{
			Type:     "system_alert",
			Title:    "POS Ledger Link Failure",
			Message:  fmt.Sprintf("Ledger entry %s for %s was created but its POS records were not marked posted. Automatic repair will retry.", entry.ID, entry.SourceID),
			Priority: notify.PriorityHigh,
			Data:     map[string]any{"entryId": entry.ID.String(), "sourceId": entry.SourceID, "step": step},
		}
		if err := p.alerter.Send(ctx, entry.CompanyID, alert); err != nil {
			p.logger.Warn("pos link-back alert failed", slog.Any("error", err))
		}
	}
	return fmt.Errorf("%w: entry %s: %w", ErrCrossStepInconsistency, entry.ID, cause)
}

// RepairPendingSources retries link-back for pos_daily entries left pending for
// at least olderThan. It returns how many entries were confirmed.
func (p *Poster) RepairPendingSources(ctx context.Context, olderThan time.Duration) (int, error) {
	entries, err := p.ledger.ListPendingSources(ctx, olderThan)
	if err != nil {
		return 0, err
	}
	var (
		repaired int
		errs     []error
	)
	for _, e := range entries {
		if e.SourceType != ledger.SourcePOSDaily {
			continue
		}
		release, err := p.guard.Acquire(ctx, e.CompanyID)
		if err != nil {
			if errors.Is(err, shared.ErrAlreadyRunning) {
				continue
			}
			errs = append(errs, err)
			continue
		}
		err = p.linkSources(ctx, e)
		release()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		repaired++
	}
	return repaired, errors.Join(errs...)
}

func (p *Poster) result(entry ledger.Entry, day time.Time, storeID *uuid.UUID, totals Totals) PostDailyResult {
	return PostDailyResult{
		LedgerEntryID:   entry.ID,
		SourceID:        entry.SourceID,
		BusinessDate:    day.Format(time.DateOnly),
		StoreLocationID: storeID,
		Counts:          totals.Counts(),
		Totals:          totals,
	}
}

func dailyReference(day time.Time, storeID *uuid.UUID) string {
	ref := "POS-" + day.Format(time.DateOnly)
	if storeID != nil {
		ref += "-" + storeID.String()
	}
	return ref
}

func dailyDescription(day time.Time, storeID *uuid.UUID) string {
	desc := "Daily POS posting " + day.Format(time.DateOnly)
	if storeID != nil {
		desc += " store " + storeID.String()
	}
	return desc
}
