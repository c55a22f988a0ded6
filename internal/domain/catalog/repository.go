package catalog

import "context"

// Store reads and inserts canonical catalog rows. Name lookups are
// case-insensitive. Inserts return ErrConflict when a concurrent writer
// already holds the same unique key.
type Store interface {
	FindProducerByName(ctx context.Context, name string) (*Producer, error)
	InsertProducer(ctx context.Context, p Producer) (*Producer, error)

	FindWine(ctx context.Context, producerID, name string) (*Wine, error)
	InsertWine(ctx context.Context, w Wine) (*Wine, error)

	FindVintage(ctx context.Context, wineID string, year int) (*Vintage, error)
	FindNonVintage(ctx context.Context, wineID string) (*Vintage, error)
	InsertVintage(ctx context.Context, v Vintage) (*Vintage, error)

	// LockNonVintage serialises null-year vintage resolution for wineID until
	// the surrounding transaction ends.
	LockNonVintage(ctx context.Context, wineID string) error

	WineSummaries(ctx context.Context, wineIDs []string) (map[string]WineSummary, error)
}

// Repository is a Store that can run work in a single transaction.
type Repository interface {
	Store
	WithTx(ctx context.Context, fn func(ctx context.Context, store Store) error) error
}
