package tastings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

const MaxImportBatch = 500

var ErrInvalidInput = errors.New("invalid input")

type Tasting struct {
	ID        string
	UserID    string
	VintageID string
	Rating    float64
	Notes     string
	TastedAt  time.Time
	ImageURL  string
	CreatedAt time.Time
}

// ImportItem is one tasting in a bulk import payload.
type ImportItem struct {
	VintageID string    `json:"vintage_id" validate:"required,uuid"`
	Rating    float64   `json:"rating" validate:"required,gte=1,lte=5"`
	Notes     string    `json:"notes" validate:"max=5000"`
	TastedAt  time.Time `json:"tasted_at" validate:"required"`
	ImageURL  string    `json:"image_url" validate:"omitempty,url,max=2048"`
}

type ImportResult struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

type Repository interface {
	// ExistsOnDate reports whether the user already has a tasting of the
	// vintage on the calendar day of tastedAt.
	ExistsOnDate(ctx context.Context, userID, vintageID string, tastedAt time.Time) (bool, error)
	Insert(ctx context.Context, t Tasting) (*Tasting, error)
	WithTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error
}

type Service struct {
	repo     Repository
	validate *validator.Validate
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, validate: validator.New()}
}

// Import inserts tastings, skipping any whose (user, vintage, tasted day)
// already exists or repeats an earlier item of the same payload.
func (s *Service) Import(ctx context.Context, userID string, items []ImportItem) (*ImportResult, error) {
	if len(items) == 0 {
		return &ImportResult{}, nil
	}
	if len(items) > MaxImportBatch {
		return nil, fmt.Errorf("%w: at most %d tastings per import", ErrInvalidInput, MaxImportBatch)
	}
	for i, item := range items {
		if err := s.validate.Struct(item); err != nil {
			return nil, fmt.Errorf("%w: item %d: %v", ErrInvalidInput, i, err)
		}
	}

	result := &ImportResult{}
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		seen := make(map[string]struct{}, len(items))
		for _, item := range items {
			key := item.VintageID + "|" + dayKey(item.TastedAt)
			if _, dup := seen[key]; dup {
				result.Skipped++
				continue
			}
			seen[key] = struct{}{}

			exists, err := repo.ExistsOnDate(ctx, userID, item.VintageID, item.TastedAt)
			if err != nil {
				return err
			}
			if exists {
				result.Skipped++
				continue
			}
			if _, err := repo.Insert(ctx, Tasting{
				UserID:    userID,
				VintageID: item.VintageID,
				Rating:    item.Rating,
				Notes:     item.Notes,
				TastedAt:  item.TastedAt,
				ImageURL:  item.ImageURL,
			}); err != nil {
				return fmt.Errorf("insert tasting: %w", err)
			}
			result.Imported++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func dayKey(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}
