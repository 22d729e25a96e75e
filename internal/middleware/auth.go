package middleware

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"arena-registration/internal/models"
)

type contextKey string

const (
	UserContextKey contextKey = "user_id"
)

// UserIDHeader carries the id of the user authenticated by the gateway in
// front of the service
const UserIDHeader = "X-User-ID"

// LoadUser adds the authenticated user id to the request context
func LoadUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(UserIDHeader))
		if userID == "" {
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(SetUserContext(r.Context(), userID)))
	})
}

// RequireAuth ensures a user is authenticated
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetUserIDFromContext(r.Context()) == "" {
			WriteError(w, http.StatusUnauthorized, models.ErrUnauthenticated, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin checks the bearer token of admin requests in constant time.
// An empty token disables the admin API.
func RequireAdmin(token string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			given, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if token == "" || !ok || subtle.ConstantTimeCompare([]byte(given), []byte(token)) != 1 {
				logger.Warn("admin access denied", "path", r.URL.Path, "ip", getClientIP(r), "security", true)
				WriteError(w, http.StatusUnauthorized, models.ErrUnauthenticated, "admin token required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetUserIDFromContext retrieves the user id from request context
func GetUserIDFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(UserContextKey).(string)
	return userID
}

// SetUserContext sets the user id in the context
func SetUserContext(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserContextKey, userID)
}
