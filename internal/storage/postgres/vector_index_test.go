package postgres

import (
	"context"
	"testing"

	"github.com/corkboard/server/internal/domain/similarity"
	"github.com/corkboard/server/internal/domain/tastings"
	"github.com/corkboard/server/internal/vectorindex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorIndex_GetAndQuery(t *testing.T) {
	ctx := context.Background()
	pool, _ := setupPostgres(t, ctx)
	repo, err := NewRepository(pool)
	require.NoError(t, err)
	index := repo.Vectors()

	near := insertVintage(t, ctx, pool, "Vector Estate", "Near", intPtr(2019))
	far := insertVintage(t, ctx, pool, "Vector Estate", "Far", intPtr(2019))
	source := insertVintage(t, ctx, pool, "Vector Estate", "Source", intPtr(2019))

	require.NoError(t, index.Upsert(ctx, source.WineID, unitVector(0, 0), vectorindex.Metadata{WineName: "Source"}))
	require.NoError(t, index.Upsert(ctx, near.WineID, unitVector(0, 0.2), vectorindex.Metadata{WineName: "Near", ImageURL: "https://img.example.test/near.jpg"}))
	require.NoError(t, index.Upsert(ctx, far.WineID, unitVector(5, 0), vectorindex.Metadata{WineName: "Far"}))

	vec, ok, err := index.GetVector(ctx, vectorindex.WineKey(source.WineID))
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, vec, embeddingDims)

	_, ok, err = index.GetVector(ctx, vectorindex.WineKey("0b8f2f52-6a53-4a0c-9a39-9c5a5f1e8d11"))
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = index.GetVector(ctx, "not-a-key")
	require.NoError(t, err)
	assert.False(t, ok)

	matches, err := index.QueryVectors(ctx, vec, vectorindex.QueryOptions{TopK: 3, ReturnDistance: true, ReturnMetadata: true})
	require.NoError(t, err)
	require.Len(t, matches, 3)
	assert.Equal(t, vectorindex.WineKey(source.WineID), matches[0].Key)
	assert.InDelta(t, 0, matches[0].Distance, 1e-5)
	assert.Equal(t, vectorindex.WineKey(near.WineID), matches[1].Key)
	require.NotNil(t, matches[1].Metadata)
	assert.Equal(t, "https://img.example.test/near.jpg", matches[1].Metadata.ImageURL)
	assert.InDelta(t, 1, matches[2].Distance, 1e-5, "orthogonal vectors have cosine distance 1")
}

func TestVectorIndex_FeedsSimilarityEngine(t *testing.T) {
	ctx := context.Background()
	pool, _ := setupPostgres(t, ctx)
	repo, err := NewRepository(pool)
	require.NoError(t, err)

	userID := insertUser(t, ctx, pool)
	tastedA := insertVintage(t, ctx, pool, "Engine Estate", "Tasted A", intPtr(2018))
	tastedB := insertVintage(t, ctx, pool, "Engine Estate", "Tasted B", intPtr(2018))
	candidate := insertVintage(t, ctx, pool, "Other House", "Candidate", intPtr(2020))

	index := repo.Vectors()
	require.NoError(t, index.Upsert(ctx, tastedA.WineID, unitVector(0, 0), vectorindex.Metadata{}))
	require.NoError(t, index.Upsert(ctx, tastedB.WineID, unitVector(0, 0.1), vectorindex.Metadata{}))
	require.NoError(t, index.Upsert(ctx, candidate.WineID, unitVector(0, 0.3), vectorindex.Metadata{}))

	svc := tastings.NewService(repo.Tastings())
	_, err = svc.Import(ctx, userID, []tastings.ImportItem{
		{VintageID: tastedA.VintageID, Rating: 5, TastedAt: mustDay(t, "2024-01-01")},
		{VintageID: tastedB.VintageID, Rating: 4, TastedAt: mustDay(t, "2024-01-02")},
	})
	require.NoError(t, err)

	engine := similarity.NewEngine(repo.Tastings(), index, repo.Catalog(), similarity.DefaultOptions())
	res, err := engine.Similar(ctx, similarity.Request{UserID: userID})
	require.NoError(t, err)
	assert.Equal(t, similarity.TypePersonalized, res.RecommendationType)
	assert.Equal(t, 2, res.BasedOnCount)
	require.Len(t, res.SimilarWines, 1)
	assert.Equal(t, candidate.WineID, res.SimilarWines[0].WineID)
	assert.Equal(t, "Other House", res.SimilarWines[0].ProducerName)
	assert.Greater(t, res.SimilarWines[0].Similarity, 0.9)
}
