package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/merchflow/merchflow/internal/idempotency"
)

// IdempotencyKeyHeader is the HTTP header name for idempotency keys.
const IdempotencyKeyHeader = "Idempotency-Key"

// idempotencyKeyContextKey is the context key for storing the idempotency key.
type idempotencyKeyContextKey struct{}

// SetIdempotencyKey stores the idempotency key in the context.
func SetIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKeyContextKey{}, key)
}

// GetIdempotencyKey retrieves the idempotency key from context. Returns empty string if not present.
func GetIdempotencyKey(ctx context.Context) string {
	if key, ok := ctx.Value(idempotencyKeyContextKey{}).(string); ok {
		return key
	}
	return ""
}

// RequireIdempotencyKey is a middleware that extracts and validates the
// Idempotency-Key header, rejecting requests without one. The key is placed
// in the request context; the handler passes it to the idempotent executor,
// which owns replay and conflict semantics.
func RequireIdempotencyKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(IdempotencyKeyHeader)
		if key == "" {
			writeError(w, r, http.StatusBadRequest, "missing_idempotency_key",
				"Idempotency-Key header is required for this request")
			return
		}

		if err := idempotency.ValidateKey(key); err != nil {
			code := "invalid_idempotency_key"
			message := "Invalid Idempotency-Key format"
			if err == idempotency.ErrKeyTooLong {
				code = "idempotency_key_too_long"
				message = fmt.Sprintf("Idempotency-Key exceeds maximum length of %d characters", idempotency.MaxKeyLength)
			}
			writeError(w, r, http.StatusBadRequest, code, message)
			return
		}

		ctx := SetIdempotencyKey(r.Context(), key)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
