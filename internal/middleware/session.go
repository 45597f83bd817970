package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/linkpass/server/internal/auth"
	"github.com/linkpass/server/internal/model"
	"github.com/linkpass/server/internal/repo"
)

type contextKey string

const (
	userKey   contextKey = "user"
	claimsKey contextKey = "claims"
)

// SessionMiddleware validates Bearer session credentials, loads the profile
// and attaches both to the request context. Profile status overrides a valid
// signature, same as refresh.
func SessionMiddleware(signer *auth.Signer, users repo.UserRepo) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				respondWithError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				respondWithError(w, http.StatusUnauthorized, "invalid authorization header format")
				return
			}

			credential := strings.TrimSpace(parts[1])
			if credential == "" {
				respondWithError(w, http.StatusUnauthorized, "missing token")
				return
			}

			claims, err := signer.Verify(r.Context(), credential)
			if err != nil {
				respondWithError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}
			userID, err := claims.UserID()
			if err != nil {
				respondWithError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			user, err := users.GetByID(r.Context(), userID)
			if err != nil {
				respondWithError(w, http.StatusUnauthorized, "user not found")
				return
			}
			if user.IsDeactivated {
				respondWithError(w, http.StatusForbidden, "account deactivated")
				return
			}

			ctx := context.WithValue(r.Context(), userKey, &user)
			ctx = context.WithValue(ctx, claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUser returns the profile attached to the request context.
func GetUser(ctx context.Context) (*model.UserProfile, bool) {
	u, ok := ctx.Value(userKey).(*model.UserProfile)
	return u, ok
}

// GetClaims returns the session claims attached to the request context.
func GetClaims(ctx context.Context) (*auth.SessionClaims, bool) {
	c, ok := ctx.Value(claimsKey).(*auth.SessionClaims)
	return c, ok
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	response := map[string]string{"error": message}
	_ = json.NewEncoder(w).Encode(response)
}
