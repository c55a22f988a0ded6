package similarity

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/corkboard/server/internal/vectorindex"
)

const (
	msgNoTastings = "Taste and rate a few wines to get recommendations."
	msgNoMatches  = "No similar wines found yet."
)

// Engine ranks wines visually similar to the ones a user has tasted.
type Engine struct {
	tastings TastingSource
	index    vectorindex.Index
	catalog  Catalog
	opts     Options
}

func NewEngine(tastings TastingSource, index vectorindex.Index, catalog Catalog, opts Options) *Engine {
	def := DefaultOptions()
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = def.DefaultLimit
	}
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = def.MaxLimit
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = def.HistoryWindow
	}
	if opts.MaxSources <= 0 {
		opts.MaxSources = def.MaxSources
	}
	if opts.HighRating <= 0 {
		opts.HighRating = def.HighRating
	}
	if opts.TopKMargin < 0 {
		opts.TopKMargin = def.TopKMargin
	}
	return &Engine{tastings: tastings, index: index, catalog: catalog, opts: opts}
}

// ClampLimit returns limit bounded to [1, max], or def when limit is zero.
func ClampLimit(limit, def, max int) int {
	if limit == 0 {
		limit = def
	}
	if limit < 1 {
		return 1
	}
	if limit > max {
		return max
	}
	return limit
}

// ClampThreshold bounds a similarity threshold to [0, 1].
func ClampThreshold(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

type candidate struct {
	wineID       string
	similarity   float64
	sourceWineID string
	metadata     *vectorindex.Metadata
}

// Similar runs the recommendation query for one user.
func (e *Engine) Similar(ctx context.Context, req Request) (*Result, error) {
	limit := ClampLimit(req.Limit, e.opts.DefaultLimit, e.opts.MaxLimit)
	threshold := e.opts.Threshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}
	threshold = ClampThreshold(threshold)

	history, err := e.tastings.RecentTastedWines(ctx, req.UserID, e.opts.HistoryWindow)
	if err != nil {
		return nil, fmt.Errorf("load tastings: %w", err)
	}
	if len(history) == 0 {
		return &Result{SimilarWines: []SimilarWine{}, RecommendationType: TypeNone, Message: msgNoTastings}, nil
	}

	tastedIDs, err := e.tastings.TastedWineIDs(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("load tasted wines: %w", err)
	}
	tasted := make(map[string]struct{}, len(tastedIDs)+len(history))
	for _, id := range tastedIDs {
		tasted[id] = struct{}{}
	}

	var all, high []string
	seen := make(map[string]struct{}, len(history))
	for _, h := range history {
		tasted[h.WineID] = struct{}{}
		if _, dup := seen[h.WineID]; dup {
			continue
		}
		seen[h.WineID] = struct{}{}
		all = append(all, h.WineID)
		if h.Rating >= e.opts.HighRating {
			high = append(high, h.WineID)
		}
	}

	sources, recType := all, TypeYourFavorites
	if len(high) >= 2 {
		sources, recType = high, TypePersonalized
	}
	if len(sources) > e.opts.MaxSources {
		sources = sources[:e.opts.MaxSources]
	}

	topK := limit + len(tasted) + e.opts.TopKMargin
	order := make([]string, 0)
	merged := make(map[string]*candidate)

	for _, sourceID := range sources {
		vector, ok, err := e.index.GetVector(ctx, vectorindex.WineKey(sourceID))
		if err != nil {
			return nil, fmt.Errorf("%w: get vector: %v", ErrIndexUnavailable, err)
		}
		if !ok || len(vector) == 0 {
			continue
		}
		matches, err := e.index.QueryVectors(ctx, vector, vectorindex.QueryOptions{
			TopK:           topK,
			ReturnDistance: true,
			ReturnMetadata: true,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: query vectors: %v", ErrIndexUnavailable, err)
		}

		for _, m := range matches {
			wineID, ok := vectorindex.WineIDFromKey(m.Key)
			if !ok {
				continue
			}
			if _, isTasted := tasted[wineID]; isTasted {
				continue
			}
			// Zero-norm vectors yield a NaN cosine distance.
			if math.IsNaN(m.Distance) {
				continue
			}
			score := ClampThreshold(1 - m.Distance)
			if score < threshold {
				continue
			}
			if existing, ok := merged[wineID]; ok {
				if score > existing.similarity {
					existing.similarity = score
					existing.sourceWineID = sourceID
					if m.Metadata != nil {
						existing.metadata = m.Metadata
					}
				}
				continue
			}
			merged[wineID] = &candidate{wineID: wineID, similarity: score, sourceWineID: sourceID, metadata: m.Metadata}
			order = append(order, wineID)
		}
	}

	ranked := make([]*candidate, 0, len(order))
	for _, id := range order {
		ranked = append(ranked, merged[id])
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].similarity > ranked[j].similarity
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	result := &Result{
		SimilarWines:       make([]SimilarWine, 0, len(ranked)),
		RecommendationType: recType,
		BasedOnCount:       len(sources),
	}
	if len(ranked) == 0 {
		result.Message = msgNoMatches
		return result, nil
	}

	ids := make([]string, len(ranked))
	for i, c := range ranked {
		ids[i] = c.wineID
	}
	summaries, err := e.catalog.WineSummaries(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load wine details: %w", err)
	}

	for _, c := range ranked {
		item := SimilarWine{
			WineID:       c.wineID,
			Similarity:   c.similarity,
			SourceWineID: c.sourceWineID,
		}
		if c.metadata != nil {
			item.WineName = c.metadata.WineName
			item.ProducerName = c.metadata.ProducerName
			item.ImageURL = c.metadata.ImageURL
		}
		if s, ok := summaries[c.wineID]; ok {
			item.WineName = s.WineName
			item.ProducerName = s.ProducerName
			item.Region = s.Region
			item.Country = s.Country
		}
		result.SimilarWines = append(result.SimilarWines, item)
	}
	return result, nil
}
