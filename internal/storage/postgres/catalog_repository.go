package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/corkboard/server/internal/domain/catalog"
	"github.com/corkboard/server/internal/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CatalogRepository stores producers, wines and vintages. Inserts use
// ON CONFLICT DO NOTHING against the case-insensitive unique indexes so a lost
// race surfaces as catalog.ErrConflict without aborting the transaction.
type CatalogRepository struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

var _ catalog.Repository = (*CatalogRepository)(nil)

func (r *CatalogRepository) queryer() queryer {
	return pick(r.pool, r.tx)
}

func (r *CatalogRepository) WithTx(ctx context.Context, fn func(context.Context, catalog.Store) error) error {
	return runInTx(ctx, r.pool, r.tx, func(tx pgx.Tx) error {
		return fn(ctx, &CatalogRepository{pool: r.pool, tx: tx})
	})
}

const producerColumns = `id::text, name, COALESCE(region, ''), COALESCE(country, ''), COALESCE(address, ''), created_at`

func (r *CatalogRepository) FindProducerByName(ctx context.Context, name string) (*catalog.Producer, error) {
	row := r.queryer().QueryRow(ctx, `SELECT `+producerColumns+` FROM producers WHERE lower(name) = lower($1)`, name)
	return scanProducer(row)
}

func (r *CatalogRepository) InsertProducer(ctx context.Context, p catalog.Producer) (*catalog.Producer, error) {
	row := r.queryer().QueryRow(ctx, `
INSERT INTO producers (name, region, country, address)
VALUES ($1, $2, $3, $4)
ON CONFLICT DO NOTHING
RETURNING `+producerColumns,
		p.Name, nullIfEmpty(p.Region), nullIfEmpty(p.Country), nullIfEmpty(p.Address),
	)
	return insertResult(scanProducer(row))
}

const wineColumns = `id::text, producer_id::text, name, is_non_vintage, varietals, created_at`

func (r *CatalogRepository) FindWine(ctx context.Context, producerID, name string) (*catalog.Wine, error) {
	row := r.queryer().QueryRow(ctx, `
SELECT `+wineColumns+`
  FROM wines
 WHERE producer_id = $1
   AND lower(name) = lower($2)`, producerID, name)
	return scanWine(row)
}

func (r *CatalogRepository) InsertWine(ctx context.Context, w catalog.Wine) (*catalog.Wine, error) {
	varietals := w.Varietals
	if varietals == nil {
		varietals = []string{}
	}
	row := r.queryer().QueryRow(ctx, `
INSERT INTO wines (producer_id, name, is_non_vintage, varietals)
VALUES ($1, $2, $3, $4)
ON CONFLICT DO NOTHING
RETURNING `+wineColumns,
		w.ProducerID, w.Name, w.IsNonVintage, varietals,
	)
	return insertResult(scanWine(row))
}

const vintageColumns = `id::text, wine_id::text, year, created_at`

func (r *CatalogRepository) FindVintage(ctx context.Context, wineID string, year int) (*catalog.Vintage, error) {
	row := r.queryer().QueryRow(ctx, `SELECT `+vintageColumns+` FROM vintages WHERE wine_id = $1 AND year = $2`, wineID, year)
	return scanVintage(row)
}

func (r *CatalogRepository) FindNonVintage(ctx context.Context, wineID string) (*catalog.Vintage, error) {
	row := r.queryer().QueryRow(ctx, `
SELECT `+vintageColumns+`
  FROM vintages
 WHERE wine_id = $1
   AND year IS NULL
 ORDER BY created_at
 LIMIT 1`, wineID)
	return scanVintage(row)
}

func (r *CatalogRepository) InsertVintage(ctx context.Context, v catalog.Vintage) (*catalog.Vintage, error) {
	row := r.queryer().QueryRow(ctx, `
INSERT INTO vintages (wine_id, year)
VALUES ($1, $2)
ON CONFLICT DO NOTHING
RETURNING `+vintageColumns,
		v.WineID, v.Year,
	)
	return insertResult(scanVintage(row))
}

// LockNonVintage takes a transaction-scoped advisory lock keyed on the wine.
// Outside a transaction the lock would be released immediately, so it is
// refused.
func (r *CatalogRepository) LockNonVintage(ctx context.Context, wineID string) error {
	if r.tx == nil {
		return fmt.Errorf("lock non-vintage: requires a transaction")
	}
	start := time.Now()
	_, err := r.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended('vintage-nv:' || $1::text, 0))`, wineID)
	metrics.RecordQuery(metrics.OpLockNonVintage, start, err)
	if err != nil {
		return fmt.Errorf("advisory lock: %w", err)
	}
	return nil
}

func (r *CatalogRepository) WineSummaries(ctx context.Context, wineIDs []string) (map[string]catalog.WineSummary, error) {
	out := make(map[string]catalog.WineSummary, len(wineIDs))
	if len(wineIDs) == 0 {
		return out, nil
	}
	rows, err := r.queryer().Query(ctx, `
SELECT w.id::text, w.name, p.name, COALESCE(p.region, ''), COALESCE(p.country, '')
  FROM wines w
  JOIN producers p ON p.id = w.producer_id
 WHERE w.id = ANY($1::text[]::uuid[])`, wineIDs)
	if err != nil {
		return nil, fmt.Errorf("wine summaries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var s catalog.WineSummary
		if err := rows.Scan(&s.WineID, &s.WineName, &s.ProducerName, &s.Region, &s.Country); err != nil {
			return nil, fmt.Errorf("scan wine summary: %w", err)
		}
		out[s.WineID] = s
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate wine summaries: %w", err)
	}
	return out, nil
}

// insertResult maps the empty RETURNING of a skipped ON CONFLICT insert to
// catalog.ErrConflict.
func insertResult[T any](v *T, err error) (*T, error) {
	if errors.Is(err, catalog.ErrNotFound) {
		return nil, catalog.ErrConflict
	}
	return v, err
}

func scanProducer(row pgx.Row) (*catalog.Producer, error) {
	var p catalog.Producer
	err := row.Scan(&p.ID, &p.Name, &p.Region, &p.Country, &p.Address, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, catalog.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanWine(row pgx.Row) (*catalog.Wine, error) {
	var w catalog.Wine
	err := row.Scan(&w.ID, &w.ProducerID, &w.Name, &w.IsNonVintage, &w.Varietals, &w.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, catalog.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func scanVintage(row pgx.Row) (*catalog.Vintage, error) {
	var v catalog.Vintage
	err := row.Scan(&v.ID, &v.WineID, &v.Year, &v.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, catalog.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}
