package http

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/linkpass/server/internal/auth"
	"github.com/linkpass/server/internal/http/handlers"
	"github.com/linkpass/server/internal/middleware"
	"github.com/linkpass/server/internal/repo"
	"github.com/linkpass/server/internal/secrets"
)

// NewRouter creates a new HTTP router with all routes configured
func NewRouter(
	authHandler *handlers.AuthHandler,
	shortLinkHandler *handlers.ShortLinkHandler,
	healthHandler *handlers.HealthHandler,
	signer *auth.Signer,
	userRepo repo.UserRepo,
	keys *secrets.Cache,
) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		MaxAge:         300,
	}))

	r.Get("/health", healthHandler.HandleHealth)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/request-magic-link", authHandler.HandleRequestMagicLink)
		r.Post("/verify-magic-link", authHandler.HandleVerifyMagicLink)
		r.Post("/refresh-token", authHandler.HandleRefreshToken)
		r.Post("/authenticate-backdoor", authHandler.HandleBackdoor)

		// Server-to-server only.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAPIKey(keys))
			r.Post("/send-to-mobile", authHandler.HandleSendToMobile)
		})
	})

	r.Get("/s/{shortId}", shortLinkHandler.HandleResolve)

	// Protected routes (require a valid session)
	r.Group(func(r chi.Router) {
		r.Use(middleware.SessionMiddleware(signer, userRepo))
		r.Get("/me", authHandler.HandleMe)
	})

	return r
}
