// Package ledgertest provides an in-memory ledger store for tests of packages
// that post through ledger.Service.
package ledgertest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/akaunkita/finledger/internal/ledger"
)

// Store implements ledger.RepositoryPort in memory. WithTx applies changes to a
// copy and commits only when fn succeeds, so a failed transaction leaves no trace.
type Store struct {
	mu      sync.Mutex
	entries map[uuid.UUID]ledger.Entry
	order   []uuid.UUID

	// FailInsert, when set, is returned from InsertEntry.
	FailInsert error
	// FailConfirm, when set, is returned from UpdateSourceState.
	FailConfirm error
	// Inserts counts committed entry inserts.
	Inserts int
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{entries: map[uuid.UUID]ledger.Entry{}}
}

type tx struct {
	store   *Store
	entries map[uuid.UUID]ledger.Entry
	order   []uuid.UUID
	inserts int
}

// WithTx runs fn against a snapshot and commits it on success.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, ledger.TxRepository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := make(map[uuid.UUID]ledger.Entry, len(s.entries))
	for k, v := range s.entries {
		snapshot[k] = v
	}
	t := &tx{store: s, entries: snapshot, order: append([]uuid.UUID(nil), s.order...)}
	if err := fn(ctx, t); err != nil {
		return err
	}
	s.entries = t.entries
	s.order = t.order
	s.Inserts += t.inserts
	return nil
}

func (t *tx) InsertEntry(_ context.Context, e ledger.Entry) error {
	if t.store.FailInsert != nil {
		return t.store.FailInsert
	}
	debit, credit, err := ledger.CheckBalanced(e.Splits)
	if err != nil {
		return err
	}
	if !debit.Equal(e.TotalDebit) || !credit.Equal(e.TotalCredit) {
		return &ledger.InvariantError{Debit: e.TotalDebit, Credit: e.TotalCredit}
	}
	if e.SourceType.Idempotent() {
		for _, existing := range t.entries {
			if existing.CompanyID == e.CompanyID && existing.SourceType == e.SourceType && existing.SourceID == e.SourceID {
				return fmt.Errorf("%w: %s %s", ledger.ErrSourceAlreadyPosted, e.SourceType, e.SourceID)
			}
		}
	}
	t.entries[e.ID] = e
	t.order = append(t.order, e.ID)
	t.inserts++
	return nil
}

func (t *tx) GetEntryForUpdate(_ context.Context, companyID, id uuid.UUID) (ledger.Entry, error) {
	e, ok := t.entries[id]
	if !ok || e.CompanyID != companyID {
		return ledger.Entry{}, ledger.ErrEntryNotFound
	}
	return e, nil
}

func (t *tx) UpdateStatus(_ context.Context, id uuid.UUID, status ledger.Status) error {
	e, ok := t.entries[id]
	if !ok {
		return ledger.ErrEntryNotFound
	}
	e.Status = status
	t.entries[id] = e
	return nil
}

func (t *tx) UpdateSourceState(_ context.Context, id uuid.UUID, state ledger.SourceState) error {
	if t.store.FailConfirm != nil {
		return t.store.FailConfirm
	}
	e, ok := t.entries[id]
	if !ok {
		return ledger.ErrEntryNotFound
	}
	e.SourceState = state
	t.entries[id] = e
	return nil
}

// GetEntry returns an entry by id.
func (s *Store) GetEntry(_ context.Context, companyID, id uuid.UUID) (ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok || e.CompanyID != companyID {
		return ledger.Entry{}, ledger.ErrEntryNotFound
	}
	return e, nil
}

// FindBySource returns the latest entry for a source id.
func (s *Store) FindBySource(_ context.Context, companyID uuid.UUID, sourceType ledger.SourceType, sourceID string) (ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.order) - 1; i >= 0; i-- {
		e := s.entries[s.order[i]]
		if e.CompanyID == companyID && e.SourceType == sourceType && e.SourceID == sourceID {
			return e, nil
		}
	}
	return ledger.Entry{}, ledger.ErrEntryNotFound
}

// ListPendingSources returns pending entries last updated before the cutoff.
func (s *Store) ListPendingSources(_ context.Context, before time.Time) ([]ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ledger.Entry
	for _, id := range s.order {
		e := s.entries[id]
		if e.SourceState == ledger.SourceStatePending && e.UpdatedAt.Before(before) {
			out = append(out, e)
		}
	}
	return out, nil
}

// ListAccountActivity returns posted entries touching accountCode.
func (s *Store) ListAccountActivity(_ context.Context, companyID uuid.UUID, accountCode string, from, to time.Time) ([]ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ledger.Entry
	for _, id := range s.order {
		e := s.entries[id]
		if e.CompanyID != companyID || e.Status != ledger.StatusPosted {
			continue
		}
		if e.Date.Before(from) || e.Date.After(to) {
			continue
		}
		for _, split := range e.Splits {
			if split.AccountCode == accountCode {
				out = append(out, e)
				break
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// Entries returns every committed entry in insertion order.
func (s *Store) Entries() []ledger.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ledger.Entry, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.entries[id])
	}
	return out
}

// SetSourceState forces the source state of an entry.
func (s *Store) SetSourceState(id uuid.UUID, state ledger.SourceState, updatedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		e.SourceState = state
		e.UpdatedAt = updatedAt
		s.entries[id] = e
	}
}
