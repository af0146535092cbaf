package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/akaunkita/finledger/internal/ledger"
	"github.com/akaunkita/finledger/internal/money"
	"github.com/akaunkita/finledger/internal/shared"
)

// Repository persists sessions. Update must fail with ErrConcurrentUpdate when
// the stored version differs from s.Version, and bump the version on success.
type Repository interface {
	Create(ctx context.Context, s Session) error
	Get(ctx context.Context, companyID, id uuid.UUID) (Session, error)
	List(ctx context.Context, companyID uuid.UUID, limit int) ([]Session, error)
	Update(ctx context.Context, s Session) (Session, error)
}

// LedgerActivity supplies ledger movements for the reconciled account.
type LedgerActivity interface {
	ListAccountActivity(ctx context.Context, companyID uuid.UUID, accountCode string, from, to time.Time) ([]ledger.Entry, error)
}

// Matcher pairs bank lines with ledger movements.
type Matcher interface {
	MatchExcluding(bank []BankTransaction, internal []InternalTransaction, excluded Exclusions) Result
}

// AuditPort records session actions.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Metrics counts matching outcomes. observability.Metrics satisfies it.
type Metrics interface {
	ReconciliationMatched(auto, suggested, unmatched int)
}

// Service manages reconciliation sessions.
type Service struct {
	repo        Repository
	activity    LedgerActivity
	matcher     Matcher
	audit       AuditPort
	metrics     Metrics
	logger      *slog.Logger
	defaultCode string
	now         func() time.Time
}

// NewService constructs the service. matcher defaults to NewGreedyMatcher.
func NewService(repo Repository, activity LedgerActivity, matcher Matcher, audit AuditPort, metrics Metrics, logger *slog.Logger) *Service {
	if matcher == nil {
		matcher = NewGreedyMatcher()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		activity:    activity,
		matcher:     matcher,
		audit:       audit,
		metrics:     metrics,
		logger:      logger.With(slog.String("component", "reconcile")),
		defaultCode: ledger.DefaultChart().MustAccount(ledger.AccountBank).Code,
		now:         time.Now,
	}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateSessionInput opens a session.
type CreateSessionInput struct {
	BankAccountRef string          `json:"bankAccountRef" validate:"required"`
	AccountCode    string          `json:"accountCode,omitempty"`
	DateFrom       time.Time       `json:"dateFrom" validate:"required"`
	DateTo         time.Time       `json:"dateTo" validate:"required"`
	OpeningBalance decimal.Decimal `json:"openingBalance"`
	ClosingBalance decimal.Decimal `json:"closingBalance"`
	Notes          string          `json:"notes,omitempty"`
}

// CreateSession opens a session pinned to an account and date range.
func (s *Service) CreateSession(ctx context.Context, actor shared.Actor, in CreateSessionInput) (Session, error) {
	if err := actor.Validate(); err != nil {
		return Session{}, err
	}
	if in.BankAccountRef == "" {
		return Session{}, fmt.Errorf("%w: bank account reference required", ErrInvalidSession)
	}
	if in.DateFrom.IsZero() || in.DateTo.IsZero() || in.DateTo.Before(in.DateFrom) {
		return Session{}, fmt.Errorf("%w: date range %s..%s", ErrInvalidSession,
			in.DateFrom.Format(time.DateOnly), in.DateTo.Format(time.DateOnly))
	}
	code := in.AccountCode
	if code == "" {
		code = s.defaultCode
	}
	now := s.now().UTC()
	session := Session{
		ID:             uuid.New(),
		CompanyID:      actor.CompanyID,
		BankAccountRef: in.BankAccountRef,
		AccountCode:    code,
		Period:         in.DateFrom.UTC().Format("2006-01"),
		DateFrom:       in.DateFrom.UTC(),
		DateTo:         in.DateTo.UTC(),
		Status:         StatusOpen,
		Matches:        []Match{},
		Unmatched:      []UnmatchedItem{},
		OpeningBalance: money.Round2(in.OpeningBalance),
		ClosingBalance: money.Round2(in.ClosingBalance),
		Notes:          in.Notes,
		CreatedBy:      actor.UserID,
		CreatedAt:      now,
		UpdatedAt:      now,
		Version:        1,
	}
	if err := s.repo.Create(ctx, session); err != nil {
		return Session{}, err
	}
	s.record(ctx, actor, "reconciliation.create", session.ID, map[string]any{"bank_account_ref": in.BankAccountRef, "account_code": code})
	return session, nil
}

// GetSession loads a session scoped to the caller's company.
func (s *Service) GetSession(ctx context.Context, actor shared.Actor, id uuid.UUID) (Session, error) {
	if err := actor.Validate(); err != nil {
		return Session{}, err
	}
	return s.repo.Get(ctx, actor.CompanyID, id)
}

// ListSessions returns the company's most recent sessions.
func (s *Service) ListSessions(ctx context.Context, actor shared.Actor, limit int) ([]Session, error) {
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.List(ctx, actor.CompanyID, limit)
}

// AddMatchInput proposes a manual match.
type AddMatchInput struct {
	LedgerEntryID *uuid.UUID      `json:"ledgerEntryId,omitempty"`
	BankTxnID     string          `json:"bankTxnId,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Notes         string          `json:"notes,omitempty"`
}

// AddMatch appends a manual proposed match.
func (s *Service) AddMatch(ctx context.Context, actor shared.Actor, sessionID uuid.UUID, in AddMatchInput) (Session, error) {
	if in.Amount.IsZero() {
		return Session{}, fmt.Errorf("%w: match amount must not be zero", ErrInvalidSession)
	}
	if in.LedgerEntryID == nil && in.BankTxnID == "" {
		return Session{}, fmt.Errorf("%w: match needs a ledger entry or bank transaction", ErrInvalidSession)
	}
	return s.mutate(ctx, actor, sessionID, "reconciliation.add_match", func(sess *Session, now time.Time) error {
		sess.Matches = append(sess.Matches, Match{
			ID:            uuid.New(),
			LedgerEntryID: in.LedgerEntryID,
			BankTxnID:     in.BankTxnID,
			Amount:        money.Round2(in.Amount),
			Status:        MatchProposed,
			Origin:        OriginManual,
			Notes:         in.Notes,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
		return transition(sess, StatusInProgress)
	})
}

// ConfirmMatch accepts a proposed match and clears its residuals.
func (s *Service) ConfirmMatch(ctx context.Context, actor shared.Actor, sessionID, matchID uuid.UUID) (Session, error) {
	return s.mutate(ctx, actor, sessionID, "reconciliation.confirm_match", func(sess *Session, now time.Time) error {
		idx := sess.MatchByID(matchID)
		if idx < 0 {
			return ErrMatchNotFound
		}
		m := &sess.Matches[idx]
		switch m.Status {
		case MatchConfirmed:
			return nil
		case MatchRejected:
			return fmt.Errorf("%w: match %s was rejected", ErrInvalidTransition, matchID)
		}
		m.Status = MatchConfirmed
		m.UpdatedAt = now
		sess.Unmatched = withoutResiduals(sess.Unmatched, *m)
		return transition(sess, StatusInProgress)
	})
}

// RejectMatch discards a match so it no longer counts toward the system balance.
func (s *Service) RejectMatch(ctx context.Context, actor shared.Actor, sessionID, matchID uuid.UUID) (Session, error) {
	return s.mutate(ctx, actor, sessionID, "reconciliation.reject_match", func(sess *Session, now time.Time) error {
		idx := sess.MatchByID(matchID)
		if idx < 0 {
			return ErrMatchNotFound
		}
		sess.Matches[idx].Status = MatchRejected
		sess.Matches[idx].UpdatedAt = now
		return transition(sess, StatusInProgress)
	})
}

// RunMatching scores the statement lines against ledger activity on the
// session account. Auto matches are confirmed, suggestions are proposed for
// review, and residuals replace the session's unmatched list. Lines and entries
// already held by a confirmed or manual match are left out, a pair the user
// rejected is never proposed again, and earlier suggestions are recomputed.
func (s *Service) RunMatching(ctx context.Context, actor shared.Actor, sessionID uuid.UUID, bank []BankTransaction) (Session, Result, error) {
	if err := actor.Validate(); err != nil {
		return Session{}, Result{}, err
	}
	current, err := s.repo.Get(ctx, actor.CompanyID, sessionID)
	if err != nil {
		return Session{}, Result{}, err
	}
	if current.Status.Frozen() {
		return Session{}, Result{}, ErrSessionFrozen
	}
	entries, err := s.activity.ListAccountActivity(ctx, actor.CompanyID, current.AccountCode, current.DateFrom, current.DateTo)
	if err != nil {
		return Session{}, Result{}, fmt.Errorf("reconcile: ledger activity: %w", err)
	}

	var result Result
	updated, err := s.mutate(ctx, actor, sessionID, "reconciliation.run_matching", func(sess *Session, now time.Time) error {
		kept := sess.Matches[:0:0]
		heldBank := map[string]struct{}{}
		heldLedger := map[uuid.UUID]struct{}{}
		rejected := Exclusions{}
		for _, m := range sess.Matches {
			if m.Origin == OriginSuggestion && m.Status == MatchProposed {
				continue
			}
			kept = append(kept, m)
			if m.Status == MatchRejected {
				if m.BankTxnID != "" && m.LedgerEntryID != nil {
					rejected[PairKey{BankID: m.BankTxnID, InternalID: m.LedgerEntryID.String()}] = struct{}{}
				}
				continue
			}
			if m.BankTxnID != "" {
				heldBank[m.BankTxnID] = struct{}{}
			}
			if m.LedgerEntryID != nil {
				heldLedger[*m.LedgerEntryID] = struct{}{}
			}
		}

		var lines []BankTransaction
		for _, b := range bank {
			if _, held := heldBank[b.ID]; held || !withinRange(b.Date, sess.DateFrom, sess.DateTo) {
				continue
			}
			lines = append(lines, b)
		}
		var internal []InternalTransaction
		for _, it := range InternalFromEntries(entries, sess.AccountCode) {
			if _, held := heldLedger[*it.LedgerEntryID]; held {
				continue
			}
			internal = append(internal, it)
		}

		result = s.matcher.MatchExcluding(lines, internal, rejected)
		for _, p := range result.Matched {
			kept = append(kept, matchFromPair(p, MatchConfirmed, OriginAuto, now))
		}
		for _, p := range result.Suggestions {
			kept = append(kept, matchFromPair(p, MatchProposed, OriginSuggestion, now))
		}
		sess.Matches = kept
		sess.Unmatched = result.Unmatched
		return transition(sess, StatusInProgress)
	})
	if err != nil {
		return Session{}, Result{}, err
	}
	if s.metrics != nil {
		s.metrics.ReconciliationMatched(result.Summary.MatchedCount, result.Summary.SuggestedCount, result.Summary.UnmatchedCount)
	}
	s.logger.Info("reconciliation matching complete",
		slog.String("company_id", actor.CompanyID.String()),
		slog.String("session_id", sessionID.String()),
		slog.Int("bank", result.Summary.TotalBank),
		slog.Int("ledger", result.Summary.TotalInternal),
		slog.Int("matched", result.Summary.MatchedCount),
		slog.Int("suggested", result.Summary.SuggestedCount),
		slog.Int("unmatched", result.Summary.UnmatchedCount))
	return updated, result, nil
}

// FinalizeSession freezes the session. systemBalance is the opening balance
// plus every confirmed match amount; differences is systemBalance minus the
// closing balance.
func (s *Service) FinalizeSession(ctx context.Context, actor shared.Actor, sessionID uuid.UUID) (Session, error) {
	return s.mutate(ctx, actor, sessionID, "reconciliation.finalize", func(sess *Session, now time.Time) error {
		confirmed := decimal.Zero
		for _, m := range sess.Matches {
			if m.Status == MatchConfirmed {
				confirmed = confirmed.Add(m.Amount)
			}
		}
		sess.SystemBalance = money.Round2(sess.OpeningBalance.Add(confirmed))
		sess.Differences = money.Round2(sess.SystemBalance.Sub(sess.ClosingBalance))
		finalizedBy := actor.UserID
		finalizedAt := now
		sess.FinalizedBy = &finalizedBy
		sess.FinalizedAt = &finalizedAt
		return transition(sess, StatusCompleted)
	})
}

// ArchiveSession retires a completed session.
func (s *Service) ArchiveSession(ctx context.Context, actor shared.Actor, sessionID uuid.UUID) (Session, error) {
	if err := actor.Validate(); err != nil {
		return Session{}, err
	}
	sess, err := s.repo.Get(ctx, actor.CompanyID, sessionID)
	if err != nil {
		return Session{}, err
	}
	if err := transition(&sess, StatusArchived); err != nil {
		return Session{}, err
	}
	sess.UpdatedAt = s.now().UTC()
	updated, err := s.repo.Update(ctx, sess)
	if err != nil {
		return Session{}, err
	}
	s.record(ctx, actor, "reconciliation.archive", sessionID, nil)
	return updated, nil
}

// mutate loads the session, rejects changes to a frozen one, applies fn and
// persists with the optimistic version check.
func (s *Service) mutate(ctx context.Context, actor shared.Actor, sessionID uuid.UUID, action string, fn func(*Session, time.Time) error) (Session, error) {
	if err := actor.Validate(); err != nil {
		return Session{}, err
	}
	sess, err := s.repo.Get(ctx, actor.CompanyID, sessionID)
	if err != nil {
		return Session{}, err
	}
	if sess.Status.Frozen() {
		return Session{}, ErrSessionFrozen
	}
	now := s.now().UTC()
	if err := fn(&sess, now); err != nil {
		return Session{}, err
	}
	sess.UpdatedAt = now
	updated, err := s.repo.Update(ctx, sess)
	if err != nil {
		if errors.Is(err, ErrConcurrentUpdate) {
			s.logger.Warn("reconciliation session changed concurrently",
				slog.String("session_id", sessionID.String()), slog.String("action", action))
		}
		return Session{}, err
	}
	s.record(ctx, actor, action, sessionID, map[string]any{"status": string(updated.Status)})
	return updated, nil
}

func (s *Service) record(ctx context.Context, actor shared.Actor, action string, id uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		CompanyID: actor.CompanyID,
		ActorID:   actor.UserID,
		Action:    action,
		Entity:    "reconciliation_session",
		EntityID:  id.String(),
		Meta:      meta,
		At:        s.now().UTC(),
	}); err != nil {
		s.logger.Warn("reconciliation audit failed", slog.String("action", action), slog.Any("error", err))
	}
}

// InternalFromEntries converts ledger entries into movements on accountCode.
// Each entry contributes the magnitude of its net effect on the account.
func InternalFromEntries(entries []ledger.Entry, accountCode string) []InternalTransaction {
	out := make([]InternalTransaction, 0, len(entries))
	for _, e := range entries {
		net := decimal.Zero
		touched := false
		for _, sp := range e.Splits {
			if sp.AccountCode != accountCode {
				continue
			}
			touched = true
			if sp.Direction == ledger.Debit {
				net = net.Add(sp.Amount)
			} else {
				net = net.Sub(sp.Amount)
			}
		}
		if !touched || net.IsZero() {
			continue
		}
		id := e.ID
		desc := e.Description
		if e.Reference != "" {
			desc = e.Reference + " " + desc
		}
		out = append(out, InternalTransaction{
			ID:            id.String(),
			LedgerEntryID: &id,
			Date:          e.Date,
			Amount:        money.Round2(net.Abs()),
			Description:   desc,
		})
	}
	return out
}

func matchFromPair(p Pair, status MatchStatus, origin Origin, now time.Time) Match {
	return Match{
		ID:            uuid.New(),
		LedgerEntryID: p.Internal.LedgerEntryID,
		BankTxnID:     p.Bank.ID,
		Amount:        money.Round2(p.Bank.Amount),
		Status:        status,
		Confidence:    p.Score.Total,
		Reason:        p.Reason,
		Origin:        origin,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func withoutResiduals(items []UnmatchedItem, m Match) []UnmatchedItem {
	out := items[:0:0]
	for _, it := range items {
		if it.Side == SideBank && m.BankTxnID != "" && it.RefID == m.BankTxnID {
			continue
		}
		if it.Side == SideLedger && m.LedgerEntryID != nil && it.RefID == m.LedgerEntryID.String() {
			continue
		}
		out = append(out, it)
	}
	return out
}

func withinRange(t, from, to time.Time) bool {
	return !t.Before(from) && t.Before(to.AddDate(0, 0, 1))
}
