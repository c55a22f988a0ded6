package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/corkboard/server/internal/api/middleware"
	"github.com/corkboard/server/internal/api/problem"
	"github.com/corkboard/server/internal/audit"
	"github.com/corkboard/server/internal/domain/users"
)

type AccountEraser interface {
	EraseUser(ctx context.Context, userID, actor, ipAddress string) (users.ErasureCounts, error)
}

type AccountHandler struct {
	Eraser     AccountEraser
	CookieName string
	Env        string
}

func NewAccountHandler(eraser AccountEraser, cookieName, env string) *AccountHandler {
	return &AccountHandler{Eraser: eraser, CookieName: cookieName, Env: env}
}

// Delete erases the caller's data. An account that never stored anything is
// already erased, so it also answers 204.
func (h *AccountHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.UserID(ctx)

	if _, err := h.Eraser.EraseUser(ctx, userID, userID, audit.ClientIP(r)); err != nil && !errors.Is(err, users.ErrUserNotFound) {
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", err, h.Env)
		return
	}

	if h.CookieName != "" {
		http.SetCookie(w, &http.Cookie{
			Name:     h.CookieName,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   h.Env == "production",
			SameSite: http.SameSiteLaxMode,
		})
	}
	w.WriteHeader(http.StatusNoContent)
}
