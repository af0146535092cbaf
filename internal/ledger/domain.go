package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/akaunkita/finledger/internal/money"
)

// Direction is the posting side of a split.
type Direction string

const (
	Debit  Direction = "debit"
	Credit Direction = "credit"
)

// Invert returns the opposite side.
func (d Direction) Invert() Direction {
	if d == Debit {
		return Credit
	}
	return Debit
}

// SourceType identifies the producer of an entry.
type SourceType string

const (
	SourceInvoice        SourceType = "invoice"
	SourcePayment        SourceType = "payment"
	SourceBankSync       SourceType = "bank_sync"
	SourceAdjustment     SourceType = "adjustment"
	SourceEInvoice       SourceType = "einvoice"
	SourceReconciliation SourceType = "reconciliation"
	SourcePOSDaily       SourceType = "pos_daily"
)

// Idempotent reports whether (company, source type, source id) must be unique.
func (s SourceType) Idempotent() bool {
	return s == SourcePOSDaily
}

// Status enumerates entry lifecycle values.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusPosted   Status = "posted"
	StatusReversed Status = "reversed"
)

// SourceState tracks whether the records an entry consumed have been linked back to it.
type SourceState string

const (
	SourceStateNone      SourceState = "none"
	SourceStatePending   SourceState = "pending"
	SourceStateConfirmed SourceState = "confirmed"
)

// Split is one debit or credit line of an entry.
type Split struct {
	AccountCode string           `json:"accountCode"`
	AccountName string           `json:"accountName,omitempty"`
	Direction   Direction        `json:"direction"`
	Amount      decimal.Decimal  `json:"amount"`
	TaxCode     string           `json:"taxCode,omitempty"`
	TaxAmount   *decimal.Decimal `json:"taxAmount,omitempty"`
	Currency    string           `json:"currency,omitempty"`
	FXRate      *decimal.Decimal `json:"fxRate,omitempty"`
	AmountBase  *decimal.Decimal `json:"amountBase,omitempty"`
}

// Entry is a persisted balanced posting.
type Entry struct {
	ID              uuid.UUID       `json:"id"`
	CompanyID       uuid.UUID       `json:"companyId"`
	SourceType      SourceType      `json:"sourceType"`
	SourceID        string          `json:"sourceId,omitempty"`
	Reference       string          `json:"reference,omitempty"`
	Description     string          `json:"description"`
	Date            time.Time       `json:"date"`
	Period          string          `json:"period"`
	Splits          []Split         `json:"splits"`
	TotalDebit      decimal.Decimal `json:"totalDebit"`
	TotalCredit     decimal.Decimal `json:"totalCredit"`
	Currency        string          `json:"currency"`
	Status          Status          `json:"status"`
	ReversalOf      *uuid.UUID      `json:"reversalOf,omitempty"`
	SourceState     SourceState     `json:"sourceState"`
	SourceRecordIDs []uuid.UUID     `json:"sourceRecordIds,omitempty"`
	CreatedBy       uuid.UUID       `json:"createdBy"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
	Meta            map[string]any  `json:"meta,omitempty"`
}

// Draft carries everything a producer supplies when creating an entry.
type Draft struct {
	CompanyID       uuid.UUID
	SourceType      SourceType
	SourceID        string
	Reference       string
	Description     string
	Date            time.Time
	Splits          []Split
	Currency        string
	Status          Status
	ReversalOf      *uuid.UUID
	SourceState     SourceState
	SourceRecordIDs []uuid.UUID
	CreatedBy       uuid.UUID
	Meta            map[string]any
}

var (
	// ErrUnbalanced indicates debit != credit.
	ErrUnbalanced = errors.New("ledger: entry is not balanced")
	// ErrNoSplits indicates an entry without lines.
	ErrNoSplits = errors.New("ledger: entry requires at least one split")
	// ErrNegativeAmount indicates a split carrying a negative amount.
	ErrNegativeAmount = errors.New("ledger: split amount must not be negative")
	// ErrEntryNotFound indicates a missing entry.
	ErrEntryNotFound = errors.New("ledger: entry not found")
	// ErrInvalidStatus indicates the requested transition is not allowed.
	ErrInvalidStatus = errors.New("ledger: invalid status transition")
	// ErrSourceAlreadyPosted indicates an idempotent source id was already used.
	ErrSourceAlreadyPosted = errors.New("ledger: source already posted")
)

// InvariantError details an unbalanced entry rejected at the store boundary.
type InvariantError struct {
	Debit  decimal.Decimal
	Credit decimal.Decimal
}

// Delta is the imbalance magnitude.
func (e *InvariantError) Delta() decimal.Decimal {
	return e.Debit.Sub(e.Credit).Abs()
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("ledger: entry is not balanced: debit %s != credit %s (delta %s)",
		money.Format(e.Debit), money.Format(e.Credit), money.Format(e.Delta()))
}

// Unwrap allows errors.Is(err, ErrUnbalanced).
func (e *InvariantError) Unwrap() error {
	return ErrUnbalanced
}

// Totals recomputes debit and credit sums from splits at sen precision.
func Totals(splits []Split) (debit, credit decimal.Decimal) {
	debit, credit = decimal.Zero, decimal.Zero
	for _, s := range splits {
		if s.Direction == Debit {
			debit = debit.Add(s.Amount)
		} else {
			credit = credit.Add(s.Amount)
		}
	}
	return money.Round2(debit), money.Round2(credit)
}

// CheckBalanced validates split shape and the debit == credit invariant.
func CheckBalanced(splits []Split) (debit, credit decimal.Decimal, err error) {
	if len(splits) == 0 {
		return decimal.Zero, decimal.Zero, ErrNoSplits
	}
	for idx, s := range splits {
		if s.Amount.IsNegative() {
			return decimal.Zero, decimal.Zero, fmt.Errorf("%w: split %d (%s)", ErrNegativeAmount, idx, s.AccountCode)
		}
		if s.Direction != Debit && s.Direction != Credit {
			return decimal.Zero, decimal.Zero, fmt.Errorf("ledger: split %d has invalid direction %q", idx, s.Direction)
		}
		if s.AccountCode == "" {
			return decimal.Zero, decimal.Zero, fmt.Errorf("ledger: split %d missing account", idx)
		}
	}
	debit, credit = Totals(splits)
	if !debit.Equal(credit) {
		return debit, credit, &InvariantError{Debit: debit, Credit: credit}
	}
	return debit, credit, nil
}

// Validate ensures the draft meets minimum criteria before persistence.
func (d Draft) Validate() error {
	if d.CompanyID == uuid.Nil {
		return errors.New("ledger: company required")
	}
	if d.SourceType == "" {
		return errors.New("ledger: source type required")
	}
	if d.SourceType.Idempotent() && d.SourceID == "" {
		return errors.New("ledger: source id required for idempotent source")
	}
	if d.Date.IsZero() {
		return errors.New("ledger: date required")
	}
	switch d.Status {
	case StatusDraft, StatusPosted:
	default:
		return fmt.Errorf("%w: cannot create entry as %q", ErrInvalidStatus, d.Status)
	}
	_, _, err := CheckBalanced(d.Splits)
	return err
}

// PeriodOf derives the YYYY-MM period key.
func PeriodOf(date time.Time) string {
	return date.UTC().Format("2006-01")
}

// Reversed returns inverted copies of splits.
func Reversed(splits []Split) []Split {
	out := make([]Split, len(splits))
	for i, s := range splits {
		s.Direction = s.Direction.Invert()
		out[i] = s
	}
	return out
}
