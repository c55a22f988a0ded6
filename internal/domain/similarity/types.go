package similarity

import (
	"context"
	"errors"
	"time"

	"github.com/corkboard/server/internal/domain/catalog"
)

type RecommendationType string

const (
	TypePersonalized  RecommendationType = "personalized"
	TypeYourFavorites RecommendationType = "your_favorites"
	TypeNone          RecommendationType = "none"
)

var ErrIndexUnavailable = errors.New("similarity index unavailable")

// TastedWine is one of a user's tastings reduced to the wine it was of.
type TastedWine struct {
	WineID   string
	Rating   float64
	TastedAt time.Time
}

type TastingSource interface {
	// RecentTastedWines returns the user's tastings ordered by rating
	// descending then tasted_at descending, at most limit rows.
	RecentTastedWines(ctx context.Context, userID string, limit int) ([]TastedWine, error)
	// TastedWineIDs returns every wine the user has tasted.
	TastedWineIDs(ctx context.Context, userID string) ([]string, error)
}

type Catalog interface {
	WineSummaries(ctx context.Context, wineIDs []string) (map[string]catalog.WineSummary, error)
}

// Request parameters are clamped by the engine; zero Limit and nil
// Threshold select the defaults.
type Request struct {
	UserID    string
	Limit     int
	Threshold *float64
}

type SimilarWine struct {
	WineID       string  `json:"wine_id"`
	WineName     string  `json:"wine_name"`
	ProducerName string  `json:"producer_name"`
	Region       string  `json:"region,omitempty"`
	Country      string  `json:"country,omitempty"`
	ImageURL     string  `json:"image_url,omitempty"`
	Similarity   float64 `json:"similarity"`
	SourceWineID string  `json:"source_wine_id"`
}

type Result struct {
	SimilarWines       []SimilarWine      `json:"similar_wines"`
	RecommendationType RecommendationType `json:"recommendation_type"`
	BasedOnCount       int                `json:"based_on_count"`
	Message            string             `json:"message,omitempty"`
}

type Options struct {
	DefaultLimit  int
	MaxLimit      int
	Threshold     float64
	HistoryWindow int
	MaxSources    int
	HighRating    float64
	TopKMargin    int
}

func DefaultOptions() Options {
	return Options{
		DefaultLimit:  10,
		MaxLimit:      20,
		Threshold:     0.60,
		HistoryWindow: 20,
		MaxSources:    5,
		HighRating:    4,
		TopKMargin:    5,
	}
}
