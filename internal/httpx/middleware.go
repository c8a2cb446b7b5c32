package httpx

import (
	"context"
	"net/http"
	"strings"

	"e2ee-channels/internal/observability/middleware"

	"github.com/google/uuid"
)

type ctxKey struct{}

// VerifyFunc resolves a bearer token to the authenticated user id.
type VerifyFunc func(token string) (uuid.UUID, error)

// RequireBearer rejects requests without a valid Authorization bearer token
// and stores the caller's user id in the request context.
func RequireBearer(verify VerifyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				WriteError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			userID, err := verify(token)
			if err != nil {
				middleware.Logger(r.Context()).Warn("bearer verification failed", "error", err)
				WriteError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			ctx := context.WithValue(r.Context(), ctxKey{}, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken extracts the token from the Authorization header. EventSource
// clients cannot set headers, so an access_token query parameter is accepted
// as a fallback.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return strings.TrimSpace(r.URL.Query().Get("access_token"))
}

func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(ctxKey{}).(uuid.UUID)
	return id, ok
}
