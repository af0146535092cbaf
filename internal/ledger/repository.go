package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/akaunkita/finledger/internal/platform/db"
)

// constraintIdempotentSource guards (company_id, source_type, source_id) for idempotent producers.
const constraintIdempotentSource = "uq_ledger_entries_idempotent_source"

// TxRepository exposes transactional operations.
type TxRepository interface {
	InsertEntry(ctx context.Context, entry Entry) error
	GetEntryForUpdate(ctx context.Context, companyID, id uuid.UUID) (Entry, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error
	UpdateSourceState(ctx context.Context, id uuid.UUID, state SourceState) error
}

// Repository persists ledger entries in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes fn within a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("ledger repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const entryColumns = `id, company_id, source_type, source_id, reference, description, entry_date, period,
total_debit, total_credit, currency, status, reversal_of, source_state, source_record_ids, created_by,
created_at, updated_at, COALESCE(meta, '{}'::jsonb)`

// InsertEntry writes the entry header and its splits. Totals are recomputed from
// the splits so a caller cannot persist an imbalance by bypassing Service.
func (r *txRepository) InsertEntry(ctx context.Context, e Entry) error {
	debit, credit, err := CheckBalanced(e.Splits)
	if err != nil {
		return err
	}
	if !debit.Equal(e.TotalDebit) || !credit.Equal(e.TotalCredit) {
		return &InvariantError{Debit: e.TotalDebit, Credit: e.TotalCredit}
	}
	_, err = r.tx.Exec(ctx, `INSERT INTO ledger_entries (id, company_id, source_type, source_id, reference, description,
entry_date, period, total_debit, total_credit, currency, status, reversal_of, source_state, source_record_ids,
created_by, created_at, updated_at, meta)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		e.ID, e.CompanyID, e.SourceType, nullString(e.SourceID), e.Reference, e.Description, e.Date, e.Period,
		debit, credit, e.Currency, e.Status, e.ReversalOf, e.SourceState, sourceIDs(e.SourceRecordIDs),
		nullUUID(e.CreatedBy), e.CreatedAt, e.UpdatedAt, e.Meta)
	if err != nil {
		if db.IsUniqueViolation(err, constraintIdempotentSource) {
			return fmt.Errorf("%w: %s %s", ErrSourceAlreadyPosted, e.SourceType, e.SourceID)
		}
		return fmt.Errorf("ledger: insert entry: %w", err)
	}
	for idx, s := range e.Splits {
		if _, err := r.tx.Exec(ctx, `INSERT INTO ledger_splits (entry_id, line_no, account_code, account_name, direction,
amount, tax_code, tax_amount, currency, fx_rate, amount_base)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
			e.ID, idx+1, s.AccountCode, s.AccountName, s.Direction, s.Amount, nullString(s.TaxCode),
			nullDecimal(s.TaxAmount), nullString(s.Currency), nullDecimal(s.FXRate), nullDecimal(s.AmountBase)); err != nil {
			return fmt.Errorf("ledger: insert split %d: %w", idx+1, err)
		}
	}
	return nil
}

func (r *txRepository) GetEntryForUpdate(ctx context.Context, companyID, id uuid.UUID) (Entry, error) {
	entry, err := scanEntry(r.tx.QueryRow(ctx, `SELECT `+entryColumns+`
FROM ledger_entries WHERE company_id=$1 AND id=$2 FOR UPDATE`, companyID, id))
	if err != nil {
		return Entry{}, err
	}
	if err := loadSplits(ctx, r.tx, []*Entry{&entry}); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

func (r *txRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE ledger_entries SET status=$2, updated_at=NOW() WHERE id=$1`, id, status)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func (r *txRepository) UpdateSourceState(ctx context.Context, id uuid.UUID, state SourceState) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE ledger_entries SET source_state=$2, updated_at=NOW() WHERE id=$1`, id, state)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// GetEntry loads an entry with splits.
func (r *Repository) GetEntry(ctx context.Context, companyID, id uuid.UUID) (Entry, error) {
	entry, err := scanEntry(r.pool.QueryRow(ctx, `SELECT `+entryColumns+`
FROM ledger_entries WHERE company_id=$1 AND id=$2`, companyID, id))
	if err != nil {
		return Entry{}, err
	}
	if err := loadSplits(ctx, r.pool, []*Entry{&entry}); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// FindBySource returns the entry produced for (company, source type, source id).
func (r *Repository) FindBySource(ctx context.Context, companyID uuid.UUID, sourceType SourceType, sourceID string) (Entry, error) {
	entry, err := scanEntry(r.pool.QueryRow(ctx, `SELECT `+entryColumns+`
FROM ledger_entries WHERE company_id=$1 AND source_type=$2 AND source_id=$3
ORDER BY created_at DESC LIMIT 1`, companyID, sourceType, sourceID))
	if err != nil {
		return Entry{}, err
	}
	if err := loadSplits(ctx, r.pool, []*Entry{&entry}); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// ListPendingSources returns entries stuck in the pending link-back state since before.
func (r *Repository) ListPendingSources(ctx context.Context, before time.Time) ([]Entry, error) {
	return r.list(ctx, `SELECT `+entryColumns+`
FROM ledger_entries WHERE source_state='pending' AND updated_at < $1 ORDER BY created_at`, before)
}

// ListAccountActivity returns posted entries with at least one split on accountCode.
func (r *Repository) ListAccountActivity(ctx context.Context, companyID uuid.UUID, accountCode string, from, to time.Time) ([]Entry, error) {
	return r.list(ctx, `SELECT `+entryColumns+`
FROM ledger_entries e
WHERE e.company_id=$1 AND e.status='posted' AND e.entry_date BETWEEN $3 AND $4
  AND EXISTS (SELECT 1 FROM ledger_splits s WHERE s.entry_id=e.id AND s.account_code=$2)
ORDER BY e.entry_date, e.created_at`, companyID, accountCode, from, to)
}

func (r *Repository) list(ctx context.Context, sql string, args ...any) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	ptrs := make([]*Entry, len(entries))
	for i := range entries {
		ptrs[i] = &entries[i]
	}
	if err := loadSplits(ctx, r.pool, ptrs); err != nil {
		return nil, err
	}
	return entries, nil
}

func scanEntry(row pgx.Row) (Entry, error) {
	var (
		e        Entry
		sourceID *string
		created  *uuid.UUID
	)
	err := row.Scan(&e.ID, &e.CompanyID, &e.SourceType, &sourceID, &e.Reference, &e.Description, &e.Date, &e.Period,
		&e.TotalDebit, &e.TotalCredit, &e.Currency, &e.Status, &e.ReversalOf, &e.SourceState, &e.SourceRecordIDs,
		&created, &e.CreatedAt, &e.UpdatedAt, &e.Meta)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, ErrEntryNotFound
		}
		return Entry{}, err
	}
	if sourceID != nil {
		e.SourceID = *sourceID
	}
	if created != nil {
		e.CreatedBy = *created
	}
	return e, nil
}

func loadSplits(ctx context.Context, q querier, entries []*Entry) error {
	if len(entries) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(entries))
	index := make(map[uuid.UUID]*Entry, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
		index[e.ID] = e
	}
	rows, err := q.Query(ctx, `SELECT entry_id, account_code, account_name, direction, amount,
COALESCE(tax_code, ''), tax_amount, COALESCE(currency, ''), fx_rate, amount_base
FROM ledger_splits WHERE entry_id = ANY($1) ORDER BY entry_id, line_no`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			entryID                 uuid.UUID
			s                       Split
			tax, rate, amountInBase decimal.NullDecimal
		)
		if err := rows.Scan(&entryID, &s.AccountCode, &s.AccountName, &s.Direction, &s.Amount,
			&s.TaxCode, &tax, &s.Currency, &rate, &amountInBase); err != nil {
			return err
		}
		s.TaxAmount = fromNull(tax)
		s.FXRate = fromNull(rate)
		s.AmountBase = fromNull(amountInBase)
		if e, ok := index[entryID]; ok {
			e.Splits = append(e.Splits, s)
		}
	}
	return rows.Err()
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullUUID(v uuid.UUID) any {
	if v == uuid.Nil {
		return nil
	}
	return v
}

func nullDecimal(v *decimal.Decimal) any {
	if v == nil {
		return nil
	}
	return *v
}

func fromNull(v decimal.NullDecimal) *decimal.Decimal {
	if !v.Valid {
		return nil
	}
	d := v.Decimal
	return &d
}

func sourceIDs(ids []uuid.UUID) []uuid.UUID {
	if ids == nil {
		return []uuid.UUID{}
	}
	return ids
}
