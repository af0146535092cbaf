package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRepository stores sessions in reconciliation_sessions with matches and
// residuals as JSONB documents.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const sessionColumns = `id, company_id, bank_account_ref, account_code, period, date_from, date_to, status,
matches, unmatched, opening_balance, closing_balance, system_balance, differences, notes, created_by,
finalized_by, finalized_at, created_at, updated_at, version`

// Create inserts a new session.
func (r *PGRepository) Create(ctx context.Context, s Session) error {
	matches, unmatched, err := encodeDocs(s)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO reconciliation_sessions (`+sessionColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)`,
		s.ID, s.CompanyID, s.BankAccountRef, s.AccountCode, s.Period, s.DateFrom, s.DateTo, s.Status,
		matches, unmatched, s.OpeningBalance, s.ClosingBalance, s.SystemBalance, s.Differences, s.Notes, s.CreatedBy,
		s.FinalizedBy, s.FinalizedAt, s.CreatedAt, s.UpdatedAt, s.Version)
	if err != nil {
		return fmt.Errorf("reconcile: insert session: %w", err)
	}
	return nil
}

// Get loads one session.
func (r *PGRepository) Get(ctx context.Context, companyID, id uuid.UUID) (Session, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM reconciliation_sessions WHERE company_id=$1 AND id=$2`, companyID, id)
	s, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	return s, err
}

// List returns recent sessions, newest first.
func (r *PGRepository) List(ctx context.Context, companyID uuid.UUID, limit int) ([]Session, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+sessionColumns+` FROM reconciliation_sessions
WHERE company_id=$1 ORDER BY created_at DESC LIMIT $2`, companyID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Update writes s when the stored version still equals s.Version.
func (r *PGRepository) Update(ctx context.Context, s Session) (Session, error) {
	matches, unmatched, err := encodeDocs(s)
	if err != nil {
		return Session{}, err
	}
	cmd, err := r.pool.Exec(ctx, `UPDATE reconciliation_sessions SET status=$3, matches=$4, unmatched=$5,
system_balance=$6, differences=$7, finalized_by=$8, finalized_at=$9, updated_at=$10, version=version+1
WHERE company_id=$1 AND id=$2 AND version=$11`,
		s.CompanyID, s.ID, s.Status, matches, unmatched, s.SystemBalance, s.Differences, s.FinalizedBy,
		s.FinalizedAt, s.UpdatedAt, s.Version)
	if err != nil {
		return Session{}, fmt.Errorf("reconcile: update session: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		if _, err := r.Get(ctx, s.CompanyID, s.ID); err != nil {
			return Session{}, err
		}
		return Session{}, ErrConcurrentUpdate
	}
	s.Version++
	return s, nil
}

func encodeDocs(s Session) ([]byte, []byte, error) {
	matches := s.Matches
	if matches == nil {
		matches = []Match{}
	}
	unmatched := s.Unmatched
	if unmatched == nil {
		unmatched = []UnmatchedItem{}
	}
	m, err := json.Marshal(matches)
	if err != nil {
		return nil, nil, fmt.Errorf("reconcile: encode matches: %w", err)
	}
	u, err := json.Marshal(unmatched)
	if err != nil {
		return nil, nil, fmt.Errorf("reconcile: encode unmatched: %w", err)
	}
	return m, u, nil
}

func scanSession(row pgx.Row) (Session, error) {
	var (
		s                  Session
		matches, unmatched []byte
	)
	if err := row.Scan(&s.ID, &s.CompanyID, &s.BankAccountRef, &s.AccountCode, &s.Period, &s.DateFrom, &s.DateTo,
		&s.Status, &matches, &unmatched, &s.OpeningBalance, &s.ClosingBalance, &s.SystemBalance, &s.Differences,
		&s.Notes, &s.CreatedBy, &s.FinalizedBy, &s.FinalizedAt, &s.CreatedAt, &s.UpdatedAt, &s.Version); err != nil {
		return Session{}, err
	}
	if err := json.Unmarshal(matches, &s.Matches); err != nil {
		return Session{}, fmt.Errorf("reconcile: decode matches: %w", err)
	}
	if err := json.Unmarshal(unmatched, &s.Unmatched); err != nil {
		return Session{}, fmt.Errorf("reconcile: decode unmatched: %w", err)
	}
	return s, nil
}
