package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"tgassist-backend/internal/config"
	"tgassist-backend/internal/handlers"
)

// RouterDependencies holds all the dependencies required by the router setup,
// primarily handlers and configuration.
type RouterDependencies struct {
	WebhookHandler *handlers.WebhookHandlers
	AdminHandler   *handlers.AdminHandlers
	Config         *config.Config
}

// NewRouter creates and configures the main Chi router for the application.
func NewRouter(deps RouterDependencies) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(deps.Config.RequestTimeout))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:5173"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Telegram delivers updates here; the secret-token header stands in for
	// authentication on this route.
	r.Route("/telegram", func(r chi.Router) {
		r.Use(WebhookSecretMiddleware(deps.Config.WebhookSecret))
		r.Post("/webhook", deps.WebhookHandler.HandleTelegramUpdate)
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(JwtAuthMiddleware(deps.Config.JWTSecret))

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Get("/", deps.AdminHandler.HandleGetUser)
			r.Get("/stats", deps.AdminHandler.HandleGetStats)
			r.Get("/export", deps.AdminHandler.HandleExportHistory)
			r.Delete("/history", deps.AdminHandler.HandleClearHistory)
			r.Get("/deferred", deps.AdminHandler.HandleListDeferred)
		})

		r.Post("/schedule", deps.AdminHandler.HandleScheduleMessage)
	})

	return r
}
