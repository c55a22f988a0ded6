package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/corkboard/server/internal/domain/ids"
	"github.com/corkboard/server/internal/vectorindex"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// VectorIndex serves wine embeddings from the wine_embeddings table using
// pgvector cosine distance.
type VectorIndex struct {
	pool *pgxpool.Pool
}

var _ vectorindex.Index = (*VectorIndex)(nil)

func NewVectorIndex(pool *pgxpool.Pool) *VectorIndex {
	return &VectorIndex{pool: pool}
}

func (v *VectorIndex) GetVector(ctx context.Context, key string) ([]float32, bool, error) {
	wineID, ok := vectorindex.WineIDFromKey(key)
	if !ok || ids.ValidateUUID(wineID) != nil {
		return nil, false, nil
	}

	var vec pgvector.Vector
	err := v.pool.QueryRow(ctx, `SELECT embedding::text FROM wine_embeddings WHERE wine_id = $1`, wineID).Scan(&vec)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: get vector %s: %v", vectorindex.ErrUnavailable, key, err)
	}
	return vec.Slice(), true, nil
}

func (v *VectorIndex) QueryVectors(ctx context.Context, vector []float32, opts vectorindex.QueryOptions) ([]vectorindex.Match, error) {
	if opts.TopK <= 0 || len(vector) == 0 {
		return nil, nil
	}
	rows, err := v.pool.Query(ctx, `
SELECT wine_id::text, embedding <=> $1::vector AS distance, metadata
  FROM wine_embeddings
 ORDER BY embedding <=> $1::vector
 LIMIT $2`, pgvector.NewVector(vector), opts.TopK)
	if err != nil {
		return nil, fmt.Errorf("%w: query vectors: %v", vectorindex.ErrUnavailable, err)
	}
	defer rows.Close()

	var matches []vectorindex.Match
	for rows.Next() {
		var (
			wineID   string
			distance float64
			raw      []byte
		)
		if err := rows.Scan(&wineID, &distance, &raw); err != nil {
			return nil, fmt.Errorf("%w: scan match: %v", vectorindex.ErrUnavailable, err)
		}
		m := vectorindex.Match{Key: vectorindex.WineKey(wineID)}
		if opts.ReturnDistance {
			m.Distance = distance
		}
		if opts.ReturnMetadata && len(raw) > 0 {
			var meta vectorindex.Metadata
			if err := json.Unmarshal(raw, &meta); err == nil {
				m.Metadata = &meta
			}
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate matches: %v", vectorindex.ErrUnavailable, err)
	}
	return matches, nil
}

// Upsert stores or replaces the embedding for a wine. Embeddings are produced
// by an enrichment step outside this service; this is its write path.
func (v *VectorIndex) Upsert(ctx context.Context, wineID string, vector []float32, meta vectorindex.Metadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	_, err = v.pool.Exec(ctx, `
INSERT INTO wine_embeddings (wine_id, embedding, metadata)
VALUES ($1, $2::vector, $3)
ON CONFLICT (wine_id) DO UPDATE
   SET embedding = EXCLUDED.embedding,
       metadata = EXCLUDED.metadata,
       updated_at = now()`, wineID, pgvector.NewVector(vector), data)
	if err != nil {
		return fmt.Errorf("upsert embedding for wine %s: %w", wineID, err)
	}
	return nil
}
