package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/linkpass/server/internal/secrets"
)

// RequireAPIKey gates server-to-server endpoints behind the shared X-API-Key
// header. The key lives in the secret vault; comparison is constant time.
func RequireAPIKey(keys *secrets.Cache) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := r.Header.Get("X-API-Key")
			if provided == "" {
				respondWithError(w, http.StatusUnauthorized, "missing API key")
				return
			}

			expected, err := keys.Get(r.Context(), secrets.MobileAPIKey)
			if err != nil {
				respondWithError(w, http.StatusInternalServerError, "internal error")
				return
			}

			if subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
				respondWithError(w, http.StatusForbidden, "invalid API key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
