package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/corkboard/server/internal/api/middleware"
	"github.com/corkboard/server/internal/api/problem"
	"github.com/corkboard/server/internal/domain/tastings"
	"github.com/rs/zerolog"
)

type TastingImporter interface {
	Import(ctx context.Context, userID string, items []tastings.ImportItem) (*tastings.ImportResult, error)
}

// CacheInvalidator drops a user's cached similarity results.
type CacheInvalidator interface {
	InvalidateUser(ctx context.Context, userID string) error
}

type TastingsHandler struct {
	Importer TastingImporter
	Cache    CacheInvalidator
	Env      string
}

func NewTastingsHandler(importer TastingImporter, cache CacheInvalidator, env string) *TastingsHandler {
	return &TastingsHandler{Importer: importer, Cache: cache, Env: env}
}

type importRequest struct {
	Tastings []tastings.ImportItem `json:"tastings"`
}

func (h *TastingsHandler) Import(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := decodeJSON(r, &req); err != nil {
		if isBodyTooLarge(err) {
			problem.Write(w, r, http.StatusRequestEntityTooLarge, problem.TypePayloadTooLarge, "Request too large", err, h.Env)
			return
		}
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", err, h.Env)
		return
	}

	ctx := r.Context()
	userID := middleware.UserID(ctx)
	result, err := h.Importer.Import(ctx, userID, req.Tastings)
	if err != nil {
		if errors.Is(err, tastings.ErrInvalidInput) {
			problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", err, h.Env,
				problem.WithDetail(err.Error()))
			return
		}
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", err, h.Env)
		return
	}

	if result.Imported > 0 && h.Cache != nil {
		if err := h.Cache.InvalidateUser(ctx, userID); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("similarity cache invalidation failed")
		}
	}
	writeJSON(w, http.StatusOK, result)
}
