package middleware

import (
	"net/http"
	"strings"

	"github.com/merchflow/merchflow/internal/auth"
)

// authFailedCode is the error code for every authentication rejection; the
// message carries the specific reason.
const authFailedCode = "auth_failed"

// Auth is a middleware that requires a valid Bearer access token.
// On success the authenticated user id (and email, when present) is stored in
// the request context for handlers, and pushed through the response writer so
// the logging middleware, which sits outside the router, can log the user id.
func Auth(jwtService *auth.JWTService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				writeError(w, r, http.StatusUnauthorized, authFailedCode,
					"Authorization header with Bearer token is required")
				return
			}

			claims, err := jwtService.ValidateToken(token)
			if err != nil {
				message := "invalid token"
				if err == auth.ErrExpiredToken {
					message = "token has expired"
				}
				writeError(w, r, http.StatusUnauthorized, authFailedCode, message)
				return
			}

			// Refresh tokens are for the token endpoint only.
			if claims.Type != auth.TokenTypeAccess {
				writeError(w, r, http.StatusUnauthorized, authFailedCode, "access token required")
				return
			}

			ctx := SetUserID(r.Context(), claims.Subject)
			ctx = SetUserEmail(ctx, claims.Email)
			UpdateResponseContext(w, ctx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
