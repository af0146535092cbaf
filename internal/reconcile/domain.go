// Package reconcile matches external bank statement lines against ledger
// activity inside a reconciliation session and tracks what remains unmatched.
package reconcile

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusArchived   Status = "archived"
)

var statusRank = map[Status]int{
	StatusOpen:       0,
	StatusInProgress: 1,
	StatusCompleted:  2,
	StatusArchived:   3,
}

// CanTransition reports whether moving from s to next is a forward step.
func (s Status) CanTransition(next Status) bool {
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	if !ok {
		return false
	}
	if next == StatusArchived {
		return s == StatusCompleted
	}
	return to > from
}

// Frozen reports whether matches and balances can no longer change.
func (s Status) Frozen() bool {
	return s == StatusCompleted || s == StatusArchived
}

// MatchStatus tracks review of a single match.
type MatchStatus string

const (
	MatchProposed  MatchStatus = "proposed"
	MatchConfirmed MatchStatus = "confirmed"
	MatchRejected  MatchStatus = "rejected"
)

// Origin records who produced a match.
type Origin string

const (
	OriginAuto       Origin = "auto"
	OriginSuggestion Origin = "suggestion"
	OriginManual     Origin = "manual"
)

// Side identifies which stream an unmatched item came from.
type Side string

const (
	SideBank   Side = "bank"
	SideLedger Side = "ledger"
)

// Match links a bank transaction to a ledger entry.
type Match struct {
	ID            uuid.UUID       `json:"id"`
	LedgerEntryID *uuid.UUID      `json:"ledgerEntryId,omitempty"`
	BankTxnID     string          `json:"bankTxnId,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Status        MatchStatus     `json:"status"`
	Confidence    float64         `json:"confidence,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	Origin        Origin          `json:"origin"`
	Notes         string          `json:"notes,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// UnmatchedItem is a residual from either stream.
type UnmatchedItem struct {
	RefID       string          `json:"refId"`
	Side        Side            `json:"side"`
	Description string          `json:"description,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Date        time.Time       `json:"date"`
}

// Session is the reconciliation document for one account and date range.
type Session struct {
	ID             uuid.UUID       `json:"id"`
	CompanyID      uuid.UUID       `json:"companyId"`
	BankAccountRef string          `json:"bankAccountRef"`
	AccountCode    string          `json:"accountCode"`
	Period         string          `json:"period"`
	DateFrom       time.Time       `json:"dateFrom"`
	DateTo         time.Time       `json:"dateTo"`
	Status         Status          `json:"status"`
	Matches        []Match         `json:"matches"`
	Unmatched      []UnmatchedItem `json:"unmatched"`
	OpeningBalance decimal.Decimal `json:"openingBalance"`
	ClosingBalance decimal.Decimal `json:"closingBalance"`
	SystemBalance  decimal.Decimal `json:"systemBalance"`
	Differences    decimal.Decimal `json:"differences"`
	Notes          string          `json:"notes,omitempty"`
	CreatedBy      uuid.UUID       `json:"createdBy"`
	FinalizedBy    *uuid.UUID      `json:"finalizedBy,omitempty"`
	FinalizedAt    *time.Time      `json:"finalizedAt,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
	Version        int             `json:"version"`
}

// MatchByID returns the index of the match with id, or -1.
func (s *Session) MatchByID(id uuid.UUID) int {
	for i := range s.Matches {
		if s.Matches[i].ID == id {
			return i
		}
	}
	return -1
}

// BankTransaction is one line of an external statement. Amount is signed:
// credits to the account are positive, debits negative.
type BankTransaction struct {
	ID          string          `json:"id" validate:"required"`
	Date        time.Time       `json:"date" validate:"required"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

// InternalTransaction is a ledger movement on the reconciled account. Amount
// is the split magnitude.
type InternalTransaction struct {
	ID            string          `json:"id"`
	LedgerEntryID *uuid.UUID      `json:"ledgerEntryId,omitempty"`
	Date          time.Time       `json:"date"`
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description"`
}

var (
	// ErrSessionNotFound indicates a missing session.
	ErrSessionNotFound = errors.New("reconcile: session not found")
	// ErrMatchNotFound indicates a missing match within a session.
	ErrMatchNotFound = errors.New("reconcile: match not found")
	// ErrInvalidTransition indicates a backward or unknown status change.
	ErrInvalidTransition = errors.New("reconcile: invalid status transition")
	// ErrSessionFrozen indicates a completed or archived session was modified.
	ErrSessionFrozen = errors.New("reconcile: session is finalized")
	// ErrInvalidSession indicates bad session input.
	ErrInvalidSession = errors.New("reconcile: invalid session")
	// ErrConcurrentUpdate indicates the session changed since it was read.
	ErrConcurrentUpdate = errors.New("reconcile: session modified concurrently")
)

func transition(s *Session, next Status) error {
	if s.Status == next {
		return nil
	}
	if !s.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, next)
	}
	s.Status = next
	return nil
}
