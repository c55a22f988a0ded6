package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/corkboard/server/internal/domain/similarity"
	"github.com/corkboard/server/internal/domain/tastings"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type TastingRepository struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

var (
	_ tastings.Repository      = (*TastingRepository)(nil)
	_ similarity.TastingSource = (*TastingRepository)(nil)
)

func (r *TastingRepository) queryer() queryer {
	return pick(r.pool, r.tx)
}

func (r *TastingRepository) WithTx(ctx context.Context, fn func(context.Context, tastings.Repository) error) error {
	return runInTx(ctx, r.pool, r.tx, func(tx pgx.Tx) error {
		return fn(ctx, &TastingRepository{pool: r.pool, tx: tx})
	})
}

// ExistsOnDate compares on the UTC calendar day of tastedAt.
func (r *TastingRepository) ExistsOnDate(ctx context.Context, userID, vintageID string, tastedAt time.Time) (bool, error) {
	start := tastedAt.UTC().Truncate(24 * time.Hour)
	var exists bool
	err := r.queryer().QueryRow(ctx, `
SELECT EXISTS (
  SELECT 1
    FROM tastings
   WHERE user_id = $1
     AND vintage_id = $2
     AND tasted_at >= $3
     AND tasted_at < $4
)`, userID, vintageID, start, start.Add(24*time.Hour)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check tasting exists: %w", err)
	}
	return exists, nil
}

func (r *TastingRepository) Insert(ctx context.Context, t tastings.Tasting) (*tastings.Tasting, error) {
	q := r.queryer()
	if err := ensureUser(ctx, q, t.UserID); err != nil {
		return nil, err
	}
	out := t
	err := q.QueryRow(ctx, `
INSERT INTO tastings (user_id, vintage_id, rating, notes, tasted_at, image_url)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id::text, created_at`,
		t.UserID, t.VintageID, t.Rating, t.Notes, t.TastedAt, nullIfEmpty(t.ImageURL),
	).Scan(&out.ID, &out.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert tasting: %w", err)
	}
	return &out, nil
}

func (r *TastingRepository) RecentTastedWines(ctx context.Context, userID string, limit int) ([]similarity.TastedWine, error) {
	rows, err := r.queryer().Query(ctx, `
SELECT v.wine_id::text, t.rating, t.tasted_at
  FROM tastings t
  JOIN vintages v ON v.id = t.vintage_id
 WHERE t.user_id = $1
 ORDER BY t.rating DESC, t.tasted_at DESC, t.id
 LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent tastings: %w", err)
	}
	defer rows.Close()

	var out []similarity.TastedWine
	for rows.Next() {
		var tw similarity.TastedWine
		if err := rows.Scan(&tw.WineID, &tw.Rating, &tw.TastedAt); err != nil {
			return nil, fmt.Errorf("scan tasting: %w", err)
		}
		out = append(out, tw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tastings: %w", err)
	}
	return out, nil
}

func (r *TastingRepository) TastedWineIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.queryer().Query(ctx, `
SELECT DISTINCT v.wine_id::text
  FROM tastings t
  JOIN vintages v ON v.id = t.vintage_id
 WHERE t.user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("tasted wines: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect tasted wines: %w", err)
	}
	return ids, nil
}
