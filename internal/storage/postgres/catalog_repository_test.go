package postgres

import (
	"context"
	"sync"
	"testing"

	"github.com/corkboard/server/internal/domain/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogRepository_ConcurrentResolveCreatesOneRow(t *testing.T) {
	ctx := context.Background()
	pool, _ := setupPostgres(t, ctx)
	repo, err := NewRepository(pool)
	require.NoError(t, err)
	resolver := catalog.NewResolver(repo.Catalog())

	cases := []struct {
		name  string
		attrs func(i int) catalog.Attributes
	}{
		{
			name: "same year with differing case",
			attrs: func(i int) catalog.Attributes {
				producer := "CHATEAU TEST"
				if i%2 == 0 {
					producer = "Chateau Test"
				}
				return catalog.Attributes{ProducerName: producer, WineName: "Grand Vin", Year: intPtr(2019)}
			},
		},
		{
			name: "non-vintage",
			attrs: func(int) catalog.Attributes {
				return catalog.Attributes{ProducerName: "Maison Brut", WineName: "Cuvee Reserve", NonVintage: true}
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			const writers = 8
			results := make([]*catalog.Resolution, writers)
			errs := make([]error, writers)
			var wg sync.WaitGroup
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					results[i], errs[i] = resolver.Resolve(ctx, tc.attrs(i))
				}(i)
			}
			wg.Wait()

			for i := range errs {
				require.NoError(t, errs[i])
			}
			for _, res := range results[1:] {
				assert.Equal(t, results[0].ProducerID, res.ProducerID)
				assert.Equal(t, results[0].WineID, res.WineID)
				assert.Equal(t, results[0].VintageID, res.VintageID)
			}

			var vintages int
			require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM vintages WHERE wine_id = $1`, results[0].WineID).Scan(&vintages))
			assert.Equal(t, 1, vintages)
		})
	}

	var producers int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM producers WHERE lower(name) = 'chateau test'`).Scan(&producers))
	assert.Equal(t, 1, producers)
}

func TestCatalogRepository_DistinctYearsShareWine(t *testing.T) {
	ctx := context.Background()
	pool, _ := setupPostgres(t, ctx)
	repo, err := NewRepository(pool)
	require.NoError(t, err)
	resolver := catalog.NewResolver(repo.Catalog())

	a, err := resolver.Resolve(ctx, catalog.Attributes{ProducerName: "Domaine Two", WineName: "Rouge", Year: intPtr(2018), Region: "Rhone", Country: "France"})
	require.NoError(t, err)
	assert.Equal(t, []string{"producer", "wine", "vintage"}, a.CreatedEntries)

	b, err := resolver.Resolve(ctx, catalog.Attributes{ProducerName: "domaine two", WineName: "ROUGE", Year: intPtr(2020)})
	require.NoError(t, err)
	assert.Equal(t, a.ProducerID, b.ProducerID)
	assert.Equal(t, a.WineID, b.WineID)
	assert.NotEqual(t, a.VintageID, b.VintageID)
	assert.Equal(t, []string{"vintage"}, b.CreatedEntries)

	store := repo.Catalog()
	p, err := store.FindProducerByName(ctx, "DOMAINE TWO")
	require.NoError(t, err)
	assert.Equal(t, "Rhone", p.Region)
	assert.Equal(t, "France", p.Country)
}

func TestCatalogRepository_InsertConflict(t *testing.T) {
	ctx := context.Background()
	pool, _ := setupPostgres(t, ctx)
	repo, err := NewRepository(pool)
	require.NoError(t, err)
	store := repo.Catalog()

	_, err = store.InsertProducer(ctx, catalog.Producer{Name: "Chateau Test"})
	require.NoError(t, err)
	_, err = store.InsertProducer(ctx, catalog.Producer{Name: "CHATEAU TEST"})
	require.ErrorIs(t, err, catalog.ErrConflict)

	_, err = store.FindProducerByName(ctx, "Nobody")
	require.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestCatalogRepository_LockRequiresTransaction(t *testing.T) {
	ctx := context.Background()
	pool, _ := setupPostgres(t, ctx)
	repo, err := NewRepository(pool)
	require.NoError(t, err)

	seeded := insertVintage(t, ctx, pool, "Lock Estate", "Blanc", nil)
	require.Error(t, repo.Catalog().LockNonVintage(ctx, seeded.WineID))

	err = repo.Catalog().WithTx(ctx, func(ctx context.Context, store catalog.Store) error {
		if err := store.LockNonVintage(ctx, seeded.WineID); err != nil {
			return err
		}
		v, err := store.FindNonVintage(ctx, seeded.WineID)
		if err != nil {
			return err
		}
		assert.Equal(t, seeded.VintageID, v.ID)
		assert.Nil(t, v.Year)
		return nil
	})
	require.NoError(t, err)
}

func TestCatalogRepository_WineSummaries(t *testing.T) {
	ctx := context.Background()
	pool, _ := setupPostgres(t, ctx)
	repo, err := NewRepository(pool)
	require.NoError(t, err)

	a := insertVintage(t, ctx, pool, "Summary Estate", "Red", intPtr(2015))
	b := insertVintage(t, ctx, pool, "Summary Estate", "White", intPtr(2016))

	got, err := repo.Catalog().WineSummaries(ctx, []string{a.WineID, b.WineID, "1f6f3a43-9d5e-4d8a-8f0e-1c2b3a4d5e6f"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Red", got[a.WineID].WineName)
	assert.Equal(t, "Summary Estate", got[b.WineID].ProducerName)
	assert.Equal(t, "Bordeaux", got[b.WineID].Region)

	empty, err := repo.Catalog().WineSummaries(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
