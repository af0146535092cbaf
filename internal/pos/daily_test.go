package pos

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/akaunkita/finledger/internal/ledger"
	"github.com/akaunkita/finledger/internal/ledger/ledgertest"
	"github.com/akaunkita/finledger/internal/money"
	"github.com/akaunkita/finledger/internal/platform/cache"
	"github.com/akaunkita/finledger/internal/shared"
)

var businessDay = time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC)

type dailyFixture struct {
	actor   shared.Actor
	ledger  *ledger.Service
	entries *ledgertest.Store
	sales   *memSales
	alerter *recordingAlerter
	metrics *countingMetrics
	poster  *Poster
	now     time.Time
}

func newDailyFixture(t *testing.T) *dailyFixture {
	t.Helper()
	f := &dailyFixture{
		actor:   shared.Actor{CompanyID: uuid.New(), UserID: uuid.New()},
		entries: ledgertest.NewStore(),
		sales:   newMemSales(),
		alerter: &recordingAlerter{},
		metrics: &countingMetrics{},
		now:     time.Date(2025, 3, 5, 2, 0, 0, 0, time.UTC),
	}
	f.ledger = ledger.NewService(f.entries, nil, nil)
	f.ledger.WithNow(func() time.Time { return f.now })
	guard := NewRunGuard(cache.NewLocker(nil, nil), time.Minute)
	f.poster = NewPoster(f.ledger, f.sales, nil, guard, f.alerter, f.metrics, nil)
	return f
}

func (f *dailyFixture) seedMixedDay() {
	f.sales.seed(f.actor.CompanyID,
		rawSale("S-1", "2025-03-04T09:00:00Z", RawItem{Name: "Set A", Qty: 1, Price: 100, Discount: 10, Tax: 6}),
		rawRefund("F-1", "S-0", "2025-03-04T15:00:00Z", RawItem{Name: "Set B", Qty: 2, Price: 20, Tax: 2.4}),
	)
}

func TestPostDailyPostsBalancedEntry(t *testing.T) {
	f := newDailyFixture(t)
	f.seedMixedDay()

	res, err := f.poster.PostDaily(context.Background(), f.actor, PostDailyInput{BusinessDate: businessDay})
	require.NoError(t, err)
	require.Equal(t, "2025-03-04", res.BusinessDate)
	require.Equal(t, "2025-03-04", res.SourceID)
	require.Equal(t, Counts{Sales: 1, Refunds: 1, Total: 2}, res.Counts)
	require.Equal(t, "53.60", money.Format(res.Totals.Net))

	entries := f.entries.Entries()
	require.Len(t, entries, 1)
	entry := entries[0]
	require.Equal(t, ledger.SourcePOSDaily, entry.SourceType)
	require.Equal(t, ledger.StatusPosted, entry.Status)
	require.Equal(t, ledger.SourceStateConfirmed, entry.SourceState)
	require.Equal(t, "POS-2025-03-04", entry.Reference)
	require.Equal(t, "53.60", money.Format(entry.TotalDebit))
	require.True(t, entry.TotalDebit.Equal(entry.TotalCredit))
	require.Len(t, entry.SourceRecordIDs, 2)
	require.Contains(t, entry.Meta, "posAggregation")

	require.Equal(t, 0, f.sales.count(StatusNormalized))
	require.Equal(t, 2, f.sales.count(StatusPosted))
	require.Equal(t, 1, f.metrics.daily)
	require.Equal(t, 0, f.metrics.negative)
}

func TestPostDailyTwiceReportsNothingToPost(t *testing.T) {
	f := newDailyFixture(t)
	f.seedMixedDay()

	_, err := f.poster.PostDaily(context.Background(), f.actor, PostDailyInput{BusinessDate: businessDay})
	require.NoError(t, err)
	_, err = f.poster.PostDaily(context.Background(), f.actor, PostDailyInput{BusinessDate: businessDay})
	require.ErrorIs(t, err, ErrNoUnpostedSales)
	require.Len(t, f.entries.Entries(), 1)
}

func TestPostDailyNegativeDay(t *testing.T) {
	cases := map[string][]RawSale{
		"single refund": {
			rawRefund("F-9", "S-8", "2025-03-04T12:00:00Z", RawItem{Name: "Tray", Qty: 1, Price: 70, Tax: 4.2}),
		},
		"refund outweighs sale": {
			rawSale("S-1", "2025-03-04T09:00:00Z", RawItem{Name: "Cup", Qty: 1, Price: 50, Tax: 3}),
			rawRefund("F-1", "S-0", "2025-03-04T15:00:00Z", RawItem{Name: "Tray", Qty: 1, Price: 120, Tax: 7.2}),
		},
	}
	for name, raws := range cases {
		t.Run(name, func(t *testing.T) {
			f := newDailyFixture(t)
			f.sales.seed(f.actor.CompanyID, raws...)

			res, err := f.poster.PostDaily(context.Background(), f.actor, PostDailyInput{BusinessDate: businessDay})
			require.NoError(t, err)
			require.Equal(t, "-74.20", money.Format(res.Totals.Net))

			entry := f.entries.Entries()[0]
			require.Equal(t, "74.20", money.Format(entry.TotalDebit))
			require.Equal(t, "74.20", money.Format(entry.TotalCredit))
			require.Equal(t, map[string]string{
				"debit:4000":  "70.00",
				"debit:2100":  "4.20",
				"credit:1000": "74.20",
			}, splitAmounts(entry.Splits))
			require.Equal(t, 1, f.metrics.negative)
		})
	}
}

func TestPostDailyRejectsMissingActor(t *testing.T) {
	f := newDailyFixture(t)
	_, err := f.poster.PostDaily(context.Background(), shared.Actor{}, PostDailyInput{BusinessDate: businessDay})
	require.ErrorIs(t, err, shared.ErrNoActor)
}

func TestPostDailyReportsCrossStepInconsistency(t *testing.T) {
	f := newDailyFixture(t)
	f.seedMixedDay()
	f.sales.failMark = errors.New("deadlock detected")

	_, err := f.poster.PostDaily(context.Background(), f.actor, PostDailyInput{BusinessDate: businessDay})
	require.ErrorIs(t, err, ErrCrossStepInconsistency)

	entries := f.entries.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, ledger.SourceStatePending, entries[0].SourceState)
	require.Equal(t, 2, f.sales.count(StatusNormalized))
	require.Equal(t, 1, f.metrics.crossSteps)
	require.Len(t, f.alerter.alerts, 1)
	require.Equal(t, "system_alert", f.alerter.alerts[0].Type)
}

func TestPostDailyResumesPendingEntry(t *testing.T) {
	f := newDailyFixture(t)
	f.seedMixedDay()
	f.sales.failMark = errors.New("deadlock detected")
	_, err := f.poster.PostDaily(context.Background(), f.actor, PostDailyInput{BusinessDate: businessDay})
	require.ErrorIs(t, err, ErrCrossStepInconsistency)

	f.sales.failMark = nil
	res, err := f.poster.PostDaily(context.Background(), f.actor, PostDailyInput{BusinessDate: businessDay})
	require.NoError(t, err)
	require.True(t, res.Resumed)

	entries := f.entries.Entries()
	require.Len(t, entries, 1, "resume must not create a second entry")
	require.Equal(t, ledger.SourceStateConfirmed, entries[0].SourceState)
	require.Equal(t, 2, f.sales.count(StatusPosted))
}

func TestPostDailyReportsResumedEntryAlongsideSupplement(t *testing.T) {
	f := newDailyFixture(t)
	f.seedMixedDay()
	f.sales.failMark = errors.New("deadlock detected")
	_, err := f.poster.PostDaily(context.Background(), f.actor, PostDailyInput{BusinessDate: businessDay})
	require.ErrorIs(t, err, ErrCrossStepInconsistency)
	pending := f.entries.Entries()[0]

	f.sales.failMark = nil
	f.sales.seed(f.actor.CompanyID, rawSale("S-late", "2025-03-04T22:00:00Z", RawItem{Name: "Late", Qty: 1, Price: 10}))
	res, err := f.poster.PostDaily(context.Background(), f.actor, PostDailyInput{BusinessDate: businessDay})
	require.NoError(t, err)
	require.Equal(t, "2025-03-04#2", res.SourceID)
	require.Equal(t, "10.00", money.Format(res.Totals.Net))
	require.False(t, res.Resumed)

	require.NotNil(t, res.ResumedEntry)
	require.True(t, res.ResumedEntry.Resumed)
	require.Equal(t, pending.ID, res.ResumedEntry.LedgerEntryID)
	require.Equal(t, "2025-03-04", res.ResumedEntry.SourceID)
	require.Equal(t, Counts{Sales: 1, Refunds: 1, Total: 2}, res.ResumedEntry.Counts)
	require.Equal(t, "53.60", money.Format(res.ResumedEntry.Totals.Net))

	require.Len(t, f.entries.Entries(), 2)
	require.Equal(t, 3, f.sales.count(StatusPosted))
}

func TestPostDailySupplementsLateRecords(t *testing.T) {
	f := newDailyFixture(t)
	f.seedMixedDay()
	_, err := f.poster.PostDaily(context.Background(), f.actor, PostDailyInput{BusinessDate: businessDay})
	require.NoError(t, err)

	f.sales.seed(f.actor.CompanyID, rawSale("S-late", "2025-03-04T22:00:00Z", RawItem{Name: "Late", Qty: 1, Price: 10}))
	res, err := f.poster.PostDaily(context.Background(), f.actor, PostDailyInput{BusinessDate: businessDay})
	require.NoError(t, err)
	require.Equal(t, "2025-03-04#2", res.SourceID)
	require.Equal(t, "10.00", money.Format(res.Totals.Net))
	require.Len(t, f.entries.Entries(), 2)
}

func TestRepairPendingSourcesConfirmsStaleEntries(t *testing.T) {
	f := newDailyFixture(t)
	f.seedMixedDay()
	f.sales.failMark = errors.New("timeout")
	_, err := f.poster.PostDaily(context.Background(), f.actor, PostDailyInput{BusinessDate: businessDay})
	require.ErrorIs(t, err, ErrCrossStepInconsistency)
	f.sales.failMark = nil

	repaired, err := f.poster.RepairPendingSources(context.Background(), 10*time.Minute)
	require.NoError(t, err)
	require.Equal(t, 0, repaired, "fresh pending entries are left alone")

	f.now = f.now.Add(time.Hour)
	repaired, err = f.poster.RepairPendingSources(context.Background(), 10*time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, repaired)
	require.Equal(t, ledger.SourceStateConfirmed, f.entries.Entries()[0].SourceState)
	require.Equal(t, 2, f.sales.count(StatusPosted))
}

func TestPostDailyByStore(t *testing.T) {
	f := newDailyFixture(t)
	store := uuid.New()
	s, err := Normalize(rawSale("S-7", "2025-03-04T09:00:00Z", RawItem{Name: "A", Qty: 1, Price: 12}), f.actor.CompanyID, &store)
	require.NoError(t, err)
	s.ID = uuid.New()
	require.NoError(t, f.sales.InsertSale(context.Background(), s))
	f.seedMixedDay()

	res, err := f.poster.PostDaily(context.Background(), f.actor, PostDailyInput{BusinessDate: businessDay, StoreLocationID: &store})
	require.NoError(t, err)
	require.Equal(t, "2025-03-04:"+store.String(), res.SourceID)
	require.Equal(t, 1, res.Counts.Total)
	require.Equal(t, 2, f.sales.count(StatusNormalized))
}
