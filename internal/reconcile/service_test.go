package reconcile

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/akaunkita/finledger/internal/ledger"
	"github.com/akaunkita/finledger/internal/ledger/ledgertest"
	"github.com/akaunkita/finledger/internal/money"
	"github.com/akaunkita/finledger/internal/shared"
)

type memRepo struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]Session
}

func newMemRepo() *memRepo { return &memRepo{sessions: map[uuid.UUID]Session{}} }

func (m *memRepo) Create(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = clone(s)
	return nil
}

func (m *memRepo) Get(_ context.Context, companyID, id uuid.UUID) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.CompanyID != companyID {
		return Session{}, ErrSessionNotFound
	}
	return clone(s), nil
}

func (m *memRepo) List(_ context.Context, companyID uuid.UUID, limit int) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Session
	for _, s := range m.sessions {
		if s.CompanyID == companyID {
			out = append(out, clone(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memRepo) Update(_ context.Context, s Session) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.sessions[s.ID]
	if !ok || stored.CompanyID != s.CompanyID {
		return Session{}, ErrSessionNotFound
	}
	if stored.Version != s.Version {
		return Session{}, ErrConcurrentUpdate
	}
	s.Version++
	m.sessions[s.ID] = clone(s)
	return clone(s), nil
}

func clone(s Session) Session {
	s.Matches = append([]Match(nil), s.Matches...)
	s.Unmatched = append([]UnmatchedItem(nil), s.Unmatched...)
	return s
}

type matchCounter struct{ auto, suggested, unmatched int }

func (m *matchCounter) ReconciliationMatched(a, s, u int) {
	m.auto += a
	m.suggested += s
	m.unmatched += u
}

type serviceFixture struct {
	actor   shared.Actor
	repo    *memRepo
	ledger  *ledger.Service
	metrics *matchCounter
	svc     *Service
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		actor:   shared.Actor{CompanyID: uuid.New(), UserID: uuid.New()},
		repo:    newMemRepo(),
		ledger:  ledger.NewService(ledgertest.NewStore(), nil, nil),
		metrics: &matchCounter{},
	}
	f.svc = NewService(f.repo, f.ledger, nil, nil, f.metrics, nil)
	f.svc.WithNow(func() time.Time { return day0.AddDate(0, 1, 0) })
	return f
}

// postBankEntry posts a deposit (debit bank) or withdrawal (credit bank).
func (f *serviceFixture) postBankEntry(t *testing.T, amount string, date time.Time, desc string, deposit bool) uuid.UUID {
	t.Helper()
	bankDir, otherDir := ledger.Debit, ledger.Credit
	other := "1100"
	if !deposit {
		bankDir, otherDir = ledger.Credit, ledger.Debit
		other = "6000"
	}
	entry, err := f.ledger.Create(context.Background(), ledger.Draft{
		CompanyID:   f.actor.CompanyID,
		SourceType:  ledger.SourcePayment,
		Description: desc,
		Date:        date,
		Status:      ledger.StatusPosted,
		Splits: []ledger.Split{
			{AccountCode: "1010", Direction: bankDir, Amount: money.MustParse(amount)},
			{AccountCode: other, Direction: otherDir, Amount: money.MustParse(amount)},
		},
	})
	require.NoError(t, err)
	return entry.ID
}

func (f *serviceFixture) openSession(t *testing.T) Session {
	t.Helper()
	s, err := f.svc.CreateSession(context.Background(), f.actor, CreateSessionInput{
		BankAccountRef: "MBB-5140",
		DateFrom:       day0,
		DateTo:         day0.AddDate(0, 0, 20),
		OpeningBalance: money.MustParse("1000"),
		ClosingBalance: money.MustParse("1380"),
	})
	require.NoError(t, err)
	return s
}

func TestCreateSessionDefaults(t *testing.T) {
	f := newServiceFixture(t)
	s := f.openSession(t)
	require.Equal(t, StatusOpen, s.Status)
	require.Equal(t, "1010", s.AccountCode)
	require.Equal(t, "2025-03", s.Period)

	_, err := f.svc.CreateSession(context.Background(), f.actor, CreateSessionInput{
		BankAccountRef: "x", DateFrom: day0, DateTo: day0.AddDate(0, 0, -1),
	})
	require.ErrorIs(t, err, ErrInvalidSession)

	_, err = f.svc.CreateSession(context.Background(), shared.Actor{}, CreateSessionInput{})
	require.ErrorIs(t, err, shared.ErrNoActor)
}

func TestRunMatchingAgainstLedgerActivity(t *testing.T) {
	f := newServiceFixture(t)
	deposit := f.postBankEntry(t, "500.00", day0.AddDate(0, 0, 2), "Invoice INV-7 Syarikat Maju", true)
	f.postBankEntry(t, "120.00", day0.AddDate(0, 0, 5), "Petronas fuel", false)
	f.postBankEntry(t, "75.00", day0.AddDate(0, 0, 30), "Outside range", false)
	s := f.openSession(t)

	s, res, err := f.svc.RunMatching(context.Background(), f.actor, s.ID, []BankTransaction{
		bankTxn("TX-1", "500.00", day0.AddDate(0, 0, 3), "IBG SYARIKAT MAJU INV-7"),
		bankTxn("TX-2", "-120.00", day0.AddDate(0, 0, 5), "PETRONAS FUEL"),
		bankTxn("TX-3", "-9.90", day0.AddDate(0, 0, 6), "SERVICE CHARGE"),
		bankTxn("TX-OLD", "-1.00", day0.AddDate(0, 0, -3), "before range"),
	})
	require.NoError(t, err)
	require.Equal(t, StatusInProgress, s.Status)
	require.Equal(t, 3, res.Summary.TotalBank)
	require.Equal(t, 2, res.Summary.TotalInternal)
	require.Equal(t, 2, res.Summary.MatchedCount)

	var auto []Match
	for _, m := range s.Matches {
		if m.Origin == OriginAuto {
			auto = append(auto, m)
		}
	}
	require.Len(t, auto, 2)
	require.Equal(t, MatchConfirmed, auto[0].Status)
	require.Equal(t, deposit, *auto[0].LedgerEntryID)
	require.Equal(t, "500.00", money.Format(auto[0].Amount))
	require.Equal(t, "-120.00", money.Format(auto[1].Amount))

	require.Len(t, s.Unmatched, 1)
	require.Equal(t, "TX-3", s.Unmatched[0].RefID)
	require.Equal(t, 2, f.metrics.auto)

	// A rerun does not rematch lines already held by confirmed matches.
	s, res, err = f.svc.RunMatching(context.Background(), f.actor, s.ID, []BankTransaction{
		bankTxn("TX-1", "500.00", day0.AddDate(0, 0, 3), "IBG SYARIKAT MAJU INV-7"),
	})
	require.NoError(t, err)
	require.Zero(t, res.Summary.TotalBank)
	require.Zero(t, res.Summary.TotalInternal)
	require.Len(t, s.Matches, 2)
}

func TestFinalizeComputesBalancesAndFreezes(t *testing.T) {
	f := newServiceFixture(t)
	f.postBankEntry(t, "500.00", day0.AddDate(0, 0, 2), "Deposit Maju", true)
	f.postBankEntry(t, "120.00", day0.AddDate(0, 0, 5), "Petronas fuel", false)
	s := f.openSession(t)

	s, _, err := f.svc.RunMatching(context.Background(), f.actor, s.ID, []BankTransaction{
		bankTxn("TX-1", "500.00", day0.AddDate(0, 0, 2), "DEPOSIT MAJU"),
		bankTxn("TX-2", "-120.00", day0.AddDate(0, 0, 5), "PETRONAS FUEL"),
	})
	require.NoError(t, err)

	manual := uuid.New()
	s, err = f.svc.AddMatch(context.Background(), f.actor, s.ID, AddMatchInput{LedgerEntryID: &manual, Amount: money.MustParse("40"), Notes: "cash deposit"})
	require.NoError(t, err)
	proposed := s.Matches[len(s.Matches)-1]
	require.Equal(t, MatchProposed, proposed.Status)
	require.Equal(t, OriginManual, proposed.Origin)

	// Proposed matches do not count until confirmed.
	s, err = f.svc.ConfirmMatch(context.Background(), f.actor, s.ID, proposed.ID)
	require.NoError(t, err)

	s, err = f.svc.FinalizeSession(context.Background(), f.actor, s.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, s.Status)
	require.Equal(t, "1420.00", money.Format(s.SystemBalance))
	require.Equal(t, "40.00", money.Format(s.Differences))
	require.NotNil(t, s.FinalizedAt)
	require.Equal(t, f.actor.UserID, *s.FinalizedBy)

	_, err = f.svc.AddMatch(context.Background(), f.actor, s.ID, AddMatchInput{BankTxnID: "late", Amount: money.MustParse("1")})
	require.ErrorIs(t, err, ErrSessionFrozen)
	_, err = f.svc.FinalizeSession(context.Background(), f.actor, s.ID)
	require.ErrorIs(t, err, ErrSessionFrozen)
	_, _, err = f.svc.RunMatching(context.Background(), f.actor, s.ID, nil)
	require.ErrorIs(t, err, ErrSessionFrozen)

	s, err = f.svc.ArchiveSession(context.Background(), f.actor, s.ID)
	require.NoError(t, err)
	require.Equal(t, StatusArchived, s.Status)
	require.Equal(t, "1420.00", money.Format(s.SystemBalance))
}

func TestRejectedMatchesAreExcludedFromBalance(t *testing.T) {
	f := newServiceFixture(t)
	s := f.openSession(t)
	s, err := f.svc.AddMatch(context.Background(), f.actor, s.ID, AddMatchInput{BankTxnID: "TX-9", Amount: money.MustParse("380")})
	require.NoError(t, err)
	id := s.Matches[0].ID

	s, err = f.svc.ConfirmMatch(context.Background(), f.actor, s.ID, id)
	require.NoError(t, err)
	s, err = f.svc.RejectMatch(context.Background(), f.actor, s.ID, id)
	require.NoError(t, err)
	_, err = f.svc.ConfirmMatch(context.Background(), f.actor, s.ID, id)
	require.ErrorIs(t, err, ErrInvalidTransition)

	s, err = f.svc.FinalizeSession(context.Background(), f.actor, s.ID)
	require.NoError(t, err)
	require.Equal(t, "1000.00", money.Format(s.SystemBalance))
	require.Equal(t, "-380.00", money.Format(s.Differences))
}

func TestAddMatchValidation(t *testing.T) {
	f := newServiceFixture(t)
	s := f.openSession(t)
	_, err := f.svc.AddMatch(context.Background(), f.actor, s.ID, AddMatchInput{BankTxnID: "x"})
	require.ErrorIs(t, err, ErrInvalidSession)
	_, err = f.svc.AddMatch(context.Background(), f.actor, s.ID, AddMatchInput{Amount: money.MustParse("1")})
	require.ErrorIs(t, err, ErrInvalidSession)
	_, err = f.svc.ConfirmMatch(context.Background(), f.actor, s.ID, uuid.New())
	require.ErrorIs(t, err, ErrMatchNotFound)
}

func TestSessionsAreCompanyScoped(t *testing.T) {
	f := newServiceFixture(t)
	s := f.openSession(t)
	other := shared.Actor{CompanyID: uuid.New(), UserID: uuid.New()}
	_, err := f.svc.GetSession(context.Background(), other, s.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)

	list, err := f.svc.ListSessions(context.Background(), f.actor, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestStatusTransitions(t *testing.T) {
	require.True(t, StatusOpen.CanTransition(StatusInProgress))
	require.True(t, StatusOpen.CanTransition(StatusCompleted))
	require.True(t, StatusInProgress.CanTransition(StatusCompleted))
	require.True(t, StatusCompleted.CanTransition(StatusArchived))
	require.False(t, StatusInProgress.CanTransition(StatusOpen))
	require.False(t, StatusCompleted.CanTransition(StatusInProgress))
	require.False(t, StatusOpen.CanTransition(StatusArchived))
	require.False(t, StatusArchived.CanTransition(StatusCompleted))
	require.False(t, Status("bogus").CanTransition(StatusOpen))
}

func TestRerunDoesNotRestoreRejectedPair(t *testing.T) {
	f := newServiceFixture(t)
	deposit := f.postBankEntry(t, "250.00", day0.AddDate(0, 0, 2), "Deposit Maju", true)
	s := f.openSession(t)
	statement := []BankTransaction{bankTxn("TX-1", "250.00", day0.AddDate(0, 0, 2), "DEPOSIT MAJU")}

	s, res, err := f.svc.RunMatching(context.Background(), f.actor, s.ID, statement)
	require.NoError(t, err)
	require.Equal(t, 1, res.Summary.MatchedCount)
	require.Equal(t, deposit, *s.Matches[0].LedgerEntryID)

	s, err = f.svc.RejectMatch(context.Background(), f.actor, s.ID, s.Matches[0].ID)
	require.NoError(t, err)

	s, res, err = f.svc.RunMatching(context.Background(), f.actor, s.ID, statement)
	require.NoError(t, err)
	require.Zero(t, res.Summary.MatchedCount)
	require.Empty(t, res.Suggestions)
	require.Len(t, s.Matches, 1)
	require.Equal(t, MatchRejected, s.Matches[0].Status)

	sides := map[string]Side{}
	for _, u := range s.Unmatched {
		sides[u.RefID] = u.Side
	}
	require.Equal(t, map[string]Side{"TX-1": SideBank, deposit.String(): SideLedger}, sides)

	s, err = f.svc.FinalizeSession(context.Background(), f.actor, s.ID)
	require.NoError(t, err)
	require.Equal(t, "1000.00", money.Format(s.SystemBalance))
}
