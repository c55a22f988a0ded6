package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/corkboard/server/internal/api/problem"
	"github.com/corkboard/server/internal/auth"
	"github.com/rs/zerolog"
)

type contextKey string

const userIDKey contextKey = "user_id"

// RequireUser authenticates the caller from a Bearer token or, failing that,
// the session cookie. A present but invalid Bearer header is rejected without
// falling back to the cookie.
func RequireUser(manager *auth.JWTManager, cookieName, env string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if manager == nil {
				problem.Write(w, r, http.StatusUnauthorized, problem.TypeUnauthorized, "Unauthorized", problem.ErrUnauthorized, env)
				return
			}

			token, err := sessionToken(r, cookieName)
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="corkboard"`)
				problem.Write(w, r, http.StatusUnauthorized, problem.TypeUnauthorized, "Authentication required", err, env)
				return
			}

			claims, err := manager.Validate(token)
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="corkboard", error="invalid_token"`)
				problem.Write(w, r, http.StatusUnauthorized, problem.TypeUnauthorized, "Invalid or expired token", err, env)
				return
			}

			userID := claims.UserID()
			ctx := ContextWithUserID(r.Context(), userID)
			logger := zerolog.Ctx(ctx).With().Str("user_id", userID).Logger()
			ctx = logger.WithContext(ctx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func sessionToken(r *http.Request, cookieName string) (string, error) {
	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		token, err := auth.TokenFromHeader(header)
		if err != nil {
			return "", errors.New("invalid authorization format")
		}
		return token, nil
	}
	if cookieName != "" {
		if cookie, err := r.Cookie(cookieName); err == nil && strings.TrimSpace(cookie.Value) != "" {
			return cookie.Value, nil
		}
	}
	return "", auth.ErrMissingToken
}

func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserID returns the authenticated user id, or "" outside RequireUser.
func UserID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if value, ok := ctx.Value(userIDKey).(string); ok {
		return value
	}
	return ""
}
