package pos

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/singleflight"

	"github.com/akaunkita/finledger/internal/platform/db"
)

// constraintExternalID enforces one record per (company, provider external id).
const constraintExternalID = "uq_pos_sales_company_external"

// Repository persists POS records and sync state in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// FindSyncState loads the provider high-water mark. found is false on first sync.
func (r *Repository) FindSyncState(ctx context.Context, companyID uuid.UUID, provider string) (SyncState, bool, error) {
	var st SyncState
	err := r.pool.QueryRow(ctx, `SELECT company_id, provider, last_sync_at FROM pos_sync_states
WHERE company_id=$1 AND provider=$2`, companyID, provider).Scan(&st.CompanyID, &st.Provider, &st.LastSyncAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SyncState{}, false, nil
		}
		return SyncState{}, false, err
	}
	return st, true, nil
}

// SaveSyncState upserts the high-water mark.
func (r *Repository) SaveSyncState(ctx context.Context, st SyncState) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO pos_sync_states (company_id, provider, last_sync_at, updated_at)
VALUES ($1,$2,$3,NOW())
ON CONFLICT (company_id, provider) DO UPDATE SET last_sync_at=EXCLUDED.last_sync_at, updated_at=NOW()`,
		st.CompanyID, st.Provider, st.LastSyncAt)
	return err
}

// ExistingExternalIDs returns which of ids are already stored for the company.
func (r *Repository) ExistingExternalIDs(ctx context.Context, companyID uuid.UUID, ids []string) (map[string]struct{}, error) {
	out := make(map[string]struct{}, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT external_id FROM pos_sales WHERE company_id=$1 AND external_id = ANY($2)`, companyID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}

// InsertSale stores a normalized record. A concurrent insert of the same external
// id loses the race quietly and reports ErrDuplicateSale.
func (r *Repository) InsertSale(ctx context.Context, s Sale) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	cmd, err := r.pool.Exec(ctx, `INSERT INTO pos_sales (id, company_id, store_location_id, external_id, type,
original_sale_external_id, business_date, sale_datetime, currency, items, total_gross, total_discount, total_tax,
total_net, status, hash, provider, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,NOW(),NOW())
ON CONFLICT ON CONSTRAINT `+constraintExternalID+` DO NOTHING`,
		s.ID, s.CompanyID, s.StoreLocationID, s.ExternalID, s.Type, nullable(s.OriginalSaleExternalID), s.BusinessDate,
		s.SaleDateTime, s.Currency, s.Items, s.TotalGross, s.TotalDiscount, s.TotalTax, s.TotalNet, s.Status, s.Hash, s.Provider)
	if err != nil {
		if db.IsUniqueViolation(err, constraintExternalID) {
			return ErrDuplicateSale
		}
		return fmt.Errorf("pos: insert sale %s: %w", s.ExternalID, err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrDuplicateSale
	}
	return nil
}

// ListNormalized returns unposted records for the business date, optionally for one store.
func (r *Repository) ListNormalized(ctx context.Context, companyID uuid.UUID, businessDate time.Time, storeID *uuid.UUID) ([]Sale, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, company_id, store_location_id, external_id, type,
COALESCE(original_sale_external_id, ''), business_date, sale_datetime, currency, items, total_gross, total_discount,
total_tax, total_net, status, hash, provider, ledger_entry_id, created_at
FROM pos_sales
WHERE company_id=$1 AND business_date=$2 AND status='normalized'
  AND ($3::uuid IS NULL OR store_location_id=$3)
ORDER BY sale_datetime, external_id`, companyID, businessDate, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sales []Sale
	for rows.Next() {
		var s Sale
		if err := rows.Scan(&s.ID, &s.CompanyID, &s.StoreLocationID, &s.ExternalID, &s.Type, &s.OriginalSaleExternalID,
			&s.BusinessDate, &s.SaleDateTime, &s.Currency, &s.Items, &s.TotalGross, &s.TotalDiscount, &s.TotalTax,
			&s.TotalNet, &s.Status, &s.Hash, &s.Provider, &s.LedgerEntryID, &s.CreatedAt); err != nil {
			return nil, err
		}
		sales = append(sales, s)
	}
	return sales, rows.Err()
}

// MarkPosted bulk-transitions records to posted with a back-reference. Records
// already linked to the same entry are matched again so a retry is idempotent.
func (r *Repository) MarkPosted(ctx context.Context, companyID uuid.UUID, ids []uuid.UUID, entryID uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	cmd, err := r.pool.Exec(ctx, `UPDATE pos_sales SET status='posted', ledger_entry_id=$3, updated_at=NOW()
WHERE company_id=$1 AND id = ANY($2) AND (status='normalized' OR ledger_entry_id=$3)`, companyID, ids, entryID)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

// Directory resolves provider store ids to store locations, creating them on
// first sight. Concurrent lookups for the same store within a batch collapse
// into one query.
type Directory struct {
	pool  *pgxpool.Pool
	group singleflight.Group

	mu    sync.RWMutex
	known map[string]uuid.UUID
}

// NewDirectory constructs Directory.
func NewDirectory(pool *pgxpool.Pool) *Directory {
	return &Directory{pool: pool, known: map[string]uuid.UUID{}}
}

// Resolve returns the store location id for raw.StoreID.
func (d *Directory) Resolve(ctx context.Context, companyID uuid.UUID, raw RawSale) (uuid.UUID, error) {
	key := companyID.String() + ":" + raw.StoreID
	d.mu.RLock()
	id, ok := d.known[key]
	d.mu.RUnlock()
	if ok {
		return id, nil
	}
	v, err, _ := d.group.Do(key, func() (any, error) {
		name := raw.StoreName
		if name == "" {
			name = raw.StoreID
		}
		currency := raw.Currency
		if currency == "" {
			currency = "MYR"
		}
		var id uuid.UUID
		err := d.pool.QueryRow(ctx, `INSERT INTO store_locations (id, company_id, external_id, name, currency)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (company_id, external_id) DO UPDATE SET external_id=EXCLUDED.external_id
RETURNING id`, uuid.New(), companyID, raw.StoreID, name, currency).Scan(&id)
		if err != nil {
			return uuid.Nil, fmt.Errorf("pos: resolve store %s: %w", raw.StoreID, err)
		}
		d.mu.Lock()
		d.known[key] = id
		d.mu.Unlock()
		return id, nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	return v.(uuid.UUID), nil
}
