package catalog

import (
	"context"
	"errors"
	"fmt"
)

// maxConflictRetries bounds insert-or-reselect loops. A second miss after a
// conflict only happens when the winning transaction rolled back.
const maxConflictRetries = 3

// Resolver maps extracted attributes onto canonical Producer, Wine and
// Vintage rows without creating duplicates under concurrent writers.
type Resolver struct {
	repo Repository
}

func NewResolver(repo Repository) *Resolver {
	return &Resolver{repo: repo}
}

// Resolve finds or creates the producer, wine and vintage for attrs inside
// one transaction.
func (r *Resolver) Resolve(ctx context.Context, attrs Attributes) (*Resolution, error) {
	attrs = NormalizeAttributes(attrs)
	if attrs.ProducerName == "" || attrs.WineName == "" {
		return nil, ErrIncompleteAttributes
	}

	var res *Resolution
	err := r.repo.WithTx(ctx, func(ctx context.Context, store Store) error {
		out := &Resolution{}

		producer, err := resolveProducer(ctx, store, attrs, out)
		if err != nil {
			return err
		}
		wine, err := resolveWine(ctx, store, producer.ID, attrs, out)
		if err != nil {
			return err
		}
		vintage, err := resolveVintage(ctx, store, wine.ID, attrs.Year, out)
		if err != nil {
			return err
		}

		out.ProducerID = producer.ID
		out.WineID = wine.ID
		out.VintageID = vintage.ID
		res = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func resolveProducer(ctx context.Context, store Store, attrs Attributes, out *Resolution) (*Producer, error) {
	return findOrInsert(ctx, "producer", out,
		func() (*Producer, error) { return store.FindProducerByName(ctx, attrs.ProducerName) },
		func() (*Producer, error) {
			return store.InsertProducer(ctx, Producer{Name: attrs.ProducerName, Region: attrs.Region, Country: attrs.Country})
		},
	)
}

func resolveWine(ctx context.Context, store Store, producerID string, attrs Attributes, out *Resolution) (*Wine, error) {
	return findOrInsert(ctx, "wine", out,
		func() (*Wine, error) { return store.FindWine(ctx, producerID, attrs.WineName) },
		func() (*Wine, error) {
			return store.InsertWine(ctx, Wine{
				ProducerID:   producerID,
				Name:         attrs.WineName,
				IsNonVintage: attrs.NonVintage,
				Varietals:    attrs.Varietals,
			})
		},
	)
}

func resolveVintage(ctx context.Context, store Store, wineID string, year *int, out *Resolution) (*Vintage, error) {
	if year != nil {
		y := *year
		return findOrInsert(ctx, "vintage", out,
			func() (*Vintage, error) { return store.FindVintage(ctx, wineID, y) },
			func() (*Vintage, error) { return store.InsertVintage(ctx, Vintage{WineID: wineID, Year: &y}) },
		)
	}

	// No unique index covers null years; the lock makes find-then-insert safe.
	if err := store.LockNonVintage(ctx, wineID); err != nil {
		return nil, fmt.Errorf("lock non-vintage for wine %s: %w", wineID, err)
	}
	v, err := store.FindNonVintage(ctx, wineID)
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("find non-vintage: %w", err)
	}
	v, err = store.InsertVintage(ctx, Vintage{WineID: wineID})
	if err != nil {
		return nil, fmt.Errorf("insert non-vintage: %w", err)
	}
	out.CreatedEntries = append(out.CreatedEntries, "vintage")
	return v, nil
}

// findOrInsert looks a row up, inserts it when absent, and re-reads the
// winner's row when the insert loses a uniqueness race.
func findOrInsert[T any](ctx context.Context, entity string, out *Resolution, find func() (*T, error), insert func() (*T, error)) (*T, error) {
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		found, err := find()
		if err == nil {
			return found, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("find %s: %w", entity, err)
		}

		created, err := insert()
		if err == nil {
			out.CreatedEntries = append(out.CreatedEntries, entity)
			return created, nil
		}
		if !errors.Is(err, ErrConflict) {
			return nil, fmt.Errorf("insert %s: %w", entity, err)
		}
		out.Conflicts = append(out.Conflicts, entity)
	}
	return nil, fmt.Errorf("resolve %s: %w after %d attempts", entity, ErrConflict, maxConflictRetries)
}
