package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/akaunkita/finledger/internal/shared"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetEntry(ctx context.Context, companyID, id uuid.UUID) (Entry, error)
	FindBySource(ctx context.Context, companyID uuid.UUID, sourceType SourceType, sourceID string) (Entry, error)
	ListPendingSources(ctx context.Context, before time.Time) ([]Entry, error)
	ListAccountActivity(ctx context.Context, companyID uuid.UUID, accountCode string, from, to time.Time) ([]Entry, error)
}

// AuditPort records ledger events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Metrics receives invariant rejections.
type Metrics interface {
	IncInvariantViolation(source string)
}

// Service is the ledger entry store boundary. Every producer writes through Create,
// which recomputes totals and rejects unbalanced drafts before anything is persisted.
type Service struct {
	repo    RepositoryPort
	audit   AuditPort
	metrics Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewService constructs the ledger service.
func NewService(repo RepositoryPort, audit AuditPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, audit: audit, logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithMetrics attaches an invariant violation recorder.
func (s *Service) WithMetrics(m Metrics) *Service {
	s.metrics = m
	return s
}

// Create validates and persists a new entry with its splits atomically.
func (s *Service) Create(ctx context.Context, d Draft) (Entry, error) {
	if d.Status == "" {
		d.Status = StatusDraft
	}
	if err := d.Validate(); err != nil {
		var inv *InvariantError
		if errors.As(err, &inv) {
			if s.metrics != nil {
				s.metrics.IncInvariantViolation(string(d.SourceType))
			}
			s.log().Error("ledger invariant violation",
				slog.String("company_id", d.CompanyID.String()),
				slog.String("source_type", string(d.SourceType)),
				slog.String("source_id", d.SourceID),
				slog.String("debit", inv.Debit.String()),
				slog.String("credit", inv.Credit.String()))
		}
		return Entry{}, err
	}
	entry := s.newEntry(d)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.InsertEntry(ctx, entry)
	})
	if err != nil {
		return Entry{}, err
	}
	s.record(ctx, entry.CompanyID, d.CreatedBy, "ledger.create", entry.ID, map[string]any{
		"source_type":  string(entry.SourceType),
		"source_id":    entry.SourceID,
		"total_debit":  entry.TotalDebit.String(),
		"total_credit": entry.TotalCredit.String(),
		"status":       string(entry.Status),
	})
	return entry, nil
}

// Post transitions a draft entry to posted.
func (s *Service) Post(ctx context.Context, actor shared.Actor, id uuid.UUID) (Entry, error) {
	var entry Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetEntryForUpdate(ctx, actor.CompanyID, id)
		if err != nil {
			return err
		}
		if current.Status != StatusDraft {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidStatus, current.Status, StatusPosted)
		}
		if err := tx.UpdateStatus(ctx, current.ID, StatusPosted); err != nil {
			return err
		}
		current.Status = StatusPosted
		current.UpdatedAt = s.now()
		entry = current
		return nil
	})
	if err != nil {
		return Entry{}, err
	}
	s.record(ctx, actor.CompanyID, actor.UserID, "ledger.post", entry.ID, nil)
	return entry, nil
}

// Reverse creates a new entry with inverted directions and marks the original reversed.
// The original splits are never modified.
func (s *Service) Reverse(ctx context.Context, actor shared.Actor, id uuid.UUID, memo string) (Entry, error) {
	var reversal Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		original, err := tx.GetEntryForUpdate(ctx, actor.CompanyID, id)
		if err != nil {
			return err
		}
		if original.Status != StatusPosted {
			return fmt.Errorf("%w: only posted entries can be reversed (status %s)", ErrInvalidStatus, original.Status)
		}
		description := memo
		if description == "" {
			description = "Reversal of " + original.Description
		}
		origID := original.ID
		draft := Draft{
			CompanyID:   original.CompanyID,
			SourceType:  SourceAdjustment,
			SourceID:    "reversal:" + original.ID.String(),
			Reference:   reversalReference(original),
			Description: description,
			Date:        s.now().UTC(),
			Splits:      Reversed(original.Splits),
			Currency:    original.Currency,
			Status:      StatusPosted,
			ReversalOf:  &origID,
			CreatedBy:   actor.UserID,
			Meta: map[string]any{
				"reversed_source_type": string(original.SourceType),
				"reversed_source_id":   original.SourceID,
			},
		}
		if err := draft.Validate(); err != nil {
			return err
		}
		reversal = s.newEntry(draft)
		if err := tx.InsertEntry(ctx, reversal); err != nil {
			return err
		}
		return tx.UpdateStatus(ctx, original.ID, StatusReversed)
	})
	if err != nil {
		return Entry{}, err
	}
	s.record(ctx, actor.CompanyID, actor.UserID, "ledger.reverse", reversal.ID, map[string]any{
		"reversal_of": id.String(),
	})
	return reversal, nil
}

// ConfirmSources marks the consumed source records as linked back to the entry.
func (s *Service) ConfirmSources(ctx context.Context, id uuid.UUID) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateSourceState(ctx, id, SourceStateConfirmed)
	})
}

// GetEntry loads an entry scoped to the company.
func (s *Service) GetEntry(ctx context.Context, companyID, id uuid.UUID) (Entry, error) {
	return s.repo.GetEntry(ctx, companyID, id)
}

// FindBySource looks up the entry produced for a source id.
func (s *Service) FindBySource(ctx context.Context, companyID uuid.UUID, sourceType SourceType, sourceID string) (Entry, error) {
	return s.repo.FindBySource(ctx, companyID, sourceType, sourceID)
}

// ListPendingSources returns entries whose source link-back has not been confirmed for at least olderThan.
func (s *Service) ListPendingSources(ctx context.Context, olderThan time.Duration) ([]Entry, error) {
	return s.repo.ListPendingSources(ctx, s.now().Add(-olderThan))
}

// ListAccountActivity returns posted entries touching accountCode within [from, to].
func (s *Service) ListAccountActivity(ctx context.Context, companyID uuid.UUID, accountCode string, from, to time.Time) ([]Entry, error) {
	return s.repo.ListAccountActivity(ctx, companyID, accountCode, from, to)
}

func (s *Service) newEntry(d Draft) Entry {
	debit, credit := Totals(d.Splits)
	now := s.now()
	state := d.SourceState
	if state == "" {
		state = SourceStateNone
	}
	currency := d.Currency
	if currency == "" {
		currency = "MYR"
	}
	return Entry{
		ID:              uuid.New(),
		CompanyID:       d.CompanyID,
		SourceType:      d.SourceType,
		SourceID:        d.SourceID,
		Reference:       d.Reference,
		Description:     d.Description,
		Date:            d.Date,
		Period:          PeriodOf(d.Date),
		Splits:          d.Splits,
		TotalDebit:      debit,
		TotalCredit:     credit,
		Currency:        currency,
		Status:          d.Status,
		ReversalOf:      d.ReversalOf,
		SourceState:     state,
		SourceRecordIDs: d.SourceRecordIDs,
		CreatedBy:       d.CreatedBy,
		CreatedAt:       now,
		UpdatedAt:       now,
		Meta:            d.Meta,
	}
}

func (s *Service) record(ctx context.Context, companyID, actorID uuid.UUID, action string, id uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		CompanyID: companyID,
		ActorID:   actorID,
		Action:    action,
		Entity:    "ledger_entry",
		EntityID:  id.String(),
		Meta:      meta,
		At:        s.now(),
	}); err != nil {
		s.log().Warn("ledger audit", slog.Any("error", err))
	}
}

func (s *Service) log() *slog.Logger {
	if s != nil && s.logger != nil {
		return s.logger.With(slog.String("component", "ledger"))
	}
	return slog.Default().With(slog.String("component", "ledger"))
}

func reversalReference(e Entry) string {
	if e.Reference == "" {
		return "REV-" + e.ID.String()[:8]
	}
	return "REV-" + e.Reference
}
