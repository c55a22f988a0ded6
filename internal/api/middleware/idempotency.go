package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/corkboard/server/internal/api/problem"
)

const (
	IdempotencyHeader = "Idempotency-Key"

	idempotencyContextKey   contextKey = "idempotency_key"
	maxIdempotencyKeyLength            = 128
)

var errIdempotencyKeyTooLong = errors.New("idempotency key exceeds 128 characters")

// Idempotency carries the Idempotency-Key header into the context. Over-long keys
// are rejected rather than truncated so two distinct keys never collide.
func Idempotency(env string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxIdempotencyKeyLength {
				problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid Idempotency-Key", errIdempotencyKeyTooLong, env,
					problem.WithDetail(errIdempotencyKeyTooLong.Error()))
				return
			}
			ctx := context.WithValue(r.Context(), idempotencyContextKey, key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func IdempotencyKey(ctx context.Context) string {
	if value, ok := ctx.Value(idempotencyContextKey).(string); ok {
		return value
	}
	return ""
}
