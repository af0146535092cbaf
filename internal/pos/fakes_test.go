package pos

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/akaunkita/finledger/internal/notify"
)

type memSales struct {
	mu     sync.Mutex
	sales  map[uuid.UUID]Sale
	states map[string]SyncState

	failInsert map[string]error
	failMark   error
	markCalls  int
}

func newMemSales() *memSales {
	return &memSales{sales: map[uuid.UUID]Sale{}, states: map[string]SyncState{}, failInsert: map[string]error{}}
}

func (m *memSales) FindSyncState(_ context.Context, companyID uuid.UUID, provider string) (SyncState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[companyID.String()+provider]
	return st, ok, nil
}

func (m *memSales) SaveSyncState(_ context.Context, st SyncState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[st.CompanyID.String()+st.Provider] = st
	return nil
}

func (m *memSales) ExistingExternalIDs(_ context.Context, companyID uuid.UUID, ids []string) (map[string]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := map[string]struct{}{}
	for _, id := range ids {
		want[id] = struct{}{}
	}
	out := map[string]struct{}{}
	for _, s := range m.sales {
		if _, ok := want[s.ExternalID]; ok && s.CompanyID == companyID {
			out[s.ExternalID] = struct{}{}
		}
	}
	return out, nil
}

func (m *memSales) InsertSale(_ context.Context, s Sale) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failInsert[s.ExternalID]; err != nil {
		return err
	}
	for _, existing := range m.sales {
		if existing.CompanyID == s.CompanyID && existing.ExternalID == s.ExternalID {
			return ErrDuplicateSale
		}
	}
	m.sales[s.ID] = s
	return nil
}

func (m *memSales) ListNormalized(_ context.Context, companyID uuid.UUID, businessDate time.Time, storeID *uuid.UUID) ([]Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Sale
	for _, s := range m.sales {
		if s.CompanyID != companyID || s.Status != StatusNormalized || !s.BusinessDate.Equal(businessDate) {
			continue
		}
		if storeID != nil && (s.StoreLocationID == nil || *s.StoreLocationID != *storeID) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalID < out[j].ExternalID })
	return out, nil
}

func (m *memSales) MarkPosted(_ context.Context, companyID uuid.UUID, ids []uuid.UUID, entryID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markCalls++
	if m.failMark != nil {
		return 0, m.failMark
	}
	var n int64
	for _, id := range ids {
		s, ok := m.sales[id]
		if !ok || s.CompanyID != companyID {
			continue
		}
		if s.Status == StatusNormalized || (s.LedgerEntryID != nil && *s.LedgerEntryID == entryID) {
			s.Status = StatusPosted
			e := entryID
			s.LedgerEntryID = &e
			m.sales[id] = s
			n++
		}
	}
	return n, nil
}

func (m *memSales) count(status SaleStatus) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sales {
		if s.Status == status {
			n++
		}
	}
	return n
}

// seed normalizes raws directly into the store.
func (m *memSales) seed(companyID uuid.UUID, raws ...RawSale) {
	for _, raw := range raws {
		s, err := Normalize(raw, companyID, nil)
		if err != nil {
			panic(err)
		}
		s.ID = uuid.New()
		m.sales[s.ID] = s
	}
}

type fakeProvider struct {
	enabled bool
	sales   []RawSale
	err     error
	since   []*time.Time
}

func (p *fakeProvider) Enabled() bool { return p.enabled }

func (p *fakeProvider) FetchSales(_ context.Context, _ uuid.UUID, since *time.Time) ([]RawSale, error) {
	p.since = append(p.since, since)
	return p.sales, p.err
}

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []notify.Alert
}

func (a *recordingAlerter) Send(_ context.Context, _ uuid.UUID, alert notify.Alert) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, alert)
	return nil
}

type countingMetrics struct {
	mu         sync.Mutex
	runs       int
	created    int
	skipped    int
	errored    int
	daily      int
	negative   int
	crossSteps int
}

func (m *countingMetrics) SyncRun(bool) {
	m.mu.Lock()
	m.runs++
	m.mu.Unlock()
}

func (m *countingMetrics) SyncRecords(created, skipped, errored int) {
	m.mu.Lock()
	m.created += created
	m.skipped += skipped
	m.errored += errored
	m.mu.Unlock()
}

func (m *countingMetrics) DailyPosted(negative bool) {
	m.mu.Lock()
	m.daily++
	if negative {
		m.negative++
	}
	m.mu.Unlock()
}

func (m *countingMetrics) CrossStepInconsistency() {
	m.mu.Lock()
	m.crossSteps++
	m.mu.Unlock()
}

func rawSale(id string, at string, items ...RawItem) RawSale {
	return RawSale{ID: id, StoreID: "store-1", DateTime: at, Items: items}
}

func rawRefund(id, original, at string, items ...RawItem) RawSale {
	r := rawSale(id, at, items...)
	r.Refund = true
	r.OriginalSaleID = original
	return r
}
