// Package api wires the chi transport layer around the auth service: routing,
// CORS, security headers, the bearer-token guard, and JSON envelopes.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/authvault-io/authvault/internal/auth"
	"github.com/authvault-io/authvault/internal/config"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// maxBodyBytes caps request bodies; auth payloads are tiny.
const maxBodyBytes = 10 << 10

type Api struct {
	Config *config.Config
	Router *chi.Mux

	auth *auth.Service
	log  *slog.Logger
}

// NewApi builds the router around the given auth service.
func NewApi(cfg *config.Config, svc *auth.Service, log *slog.Logger) *Api {
	api := &Api{
		Config: cfg,
		Router: chi.NewRouter(),
		auth:   svc,
		log:    log,
	}

	api.setupRoutes()
	return api
}

func (api *Api) setupRoutes() {
	r := api.Router

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   api.Config.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Throttle(100))
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(api.SecurityHeaders)
	r.Use(middleware.Heartbeat("/heartbeat"))

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", api.RegisterHandler)
		r.Post("/login", api.LoginHandler)
		r.Post("/refresh", api.RefreshHandler)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(api.BearerAuthMiddleware)
			r.Post("/logout", api.LogoutHandler)
			r.Get("/protected", api.ProtectedHandler)
		})
	})
}

// SecurityHeaders sets baseline response headers on every request.
func (api *Api) SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Cache-Control", "no-store")
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		next.ServeHTTP(w, r)
	})
}
