package handlers

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/corkboard/server/internal/api/middleware"
	"github.com/corkboard/server/internal/api/problem"
	"github.com/corkboard/server/internal/domain/similarity"
	"github.com/corkboard/server/internal/metrics"
	"github.com/rs/zerolog"
)

type SimilarityEngine interface {
	Similar(ctx context.Context, req similarity.Request) (*similarity.Result, error)
}

// SimilarityCache stores computed results per user and query shape.
type SimilarityCache interface {
	Get(ctx context.Context, userID string, limit int, threshold float64) (*similarity.Result, bool, error)
	Set(ctx context.Context, userID string, limit int, threshold float64, res *similarity.Result) error
}

type SimilarityHandler struct {
	Engine       SimilarityEngine
	Cache        SimilarityCache
	Env          string
	DefaultLimit int
	MaxLimit     int
	Threshold    float64
}

// NewSimilarityHandler builds the handler. cache may be nil.
func NewSimilarityHandler(engine SimilarityEngine, cache SimilarityCache, env string, opts similarity.Options) *SimilarityHandler {
	def := similarity.DefaultOptions()
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = def.DefaultLimit
	}
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = def.MaxLimit
	}
	return &SimilarityHandler{
		Engine:       engine,
		Cache:        cache,
		Env:          env,
		DefaultLimit: opts.DefaultLimit,
		MaxLimit:     opts.MaxLimit,
		Threshold:    similarity.ClampThreshold(opts.Threshold),
	}
}

// Similar answers GET /api/v1/wines/similar.
func (h *SimilarityHandler) Similar(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.UserID(ctx)
	limit, threshold := h.parseParams(r)
	logger := zerolog.Ctx(ctx)

	if h.Cache != nil {
		cached, ok, err := h.Cache.Get(ctx, userID, limit, threshold)
		switch {
		case err != nil:
			metrics.SimilarityCacheLookups.WithLabelValues("error").Inc()
			logger.Warn().Err(err).Msg("similarity cache read failed")
		case ok:
			metrics.SimilarityCacheLookups.WithLabelValues("hit").Inc()
			writeJSON(w, http.StatusOK, cached)
			return
		default:
			metrics.SimilarityCacheLookups.WithLabelValues("miss").Inc()
		}
	}

	result, err := h.Engine.Similar(ctx, similarity.Request{UserID: userID, Limit: limit, Threshold: &threshold})
	if err != nil {
		if errors.Is(err, similarity.ErrIndexUnavailable) {
			w.Header().Set("Retry-After", "30")
			problem.Write(w, r, http.StatusServiceUnavailable, problem.TypeUnavailable, "Similarity index unavailable", err, h.Env)
			return
		}
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", err, h.Env)
		return
	}
	if result.SimilarWines == nil {
		result.SimilarWines = []similarity.SimilarWine{}
	}
	metrics.SimilarityQueries.WithLabelValues(string(result.RecommendationType)).Inc()

	if h.Cache != nil {
		if err := h.Cache.Set(ctx, userID, limit, threshold, result); err != nil {
			logger.Warn().Err(err).Msg("similarity cache write failed")
		}
	}
	writeJSON(w, http.StatusOK, result)
}

// parseParams falls back to defaults for non-numeric input and clamps the rest.
func (h *SimilarityHandler) parseParams(r *http.Request) (int, float64) {
	limit := h.DefaultLimit
	if v, ok := queryInt(r, "limit"); ok {
		limit = v
		if limit == 0 {
			limit = 1
		}
	}
	limit = similarity.ClampLimit(limit, h.DefaultLimit, h.MaxLimit)

	threshold := h.Threshold
	if raw := strings.TrimSpace(r.URL.Query().Get("threshold")); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil && !math.IsNaN(v) {
			threshold = similarity.ClampThreshold(v)
		}
	}
	return limit, threshold
}
