package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/upb/llm-relay/app"
	"github.com/upb/llm-relay/handlers"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		ExposedHeaders:   []string{"Link", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// A typed nil *redis.Client must not reach the interface-valued pinger.
	var redisPinger handlers.RedisPinger
	if deps.Redis != nil {
		redisPinger = deps.Redis
	}

	healthHandler := handlers.NewHealthHandler(deps.DB.DB, redisPinger, deps.Logger)
	schedulerHandler := handlers.NewSchedulerHandler(deps.Scheduler, deps.Logger)
	accountHandler := handlers.NewAccountHandler(deps.Accounts, deps.Scheduler, deps.Logger)
	groupHandler := handlers.NewGroupHandler(deps.Groups, deps.Logger)

	// Health check endpoints
	r.Get("/healthz", healthHandler.HandleHealth)
	r.Get("/readyz", healthHandler.HandleReadiness)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Selection endpoints used by the relay data path
		r.Route("/scheduler", func(r chi.Router) {
			r.Post("/select", schedulerHandler.HandleSelectAccount)
			r.Post("/select-group", schedulerHandler.HandleSelectGroup)
		})

		// Sticky-session mappings
		r.Delete("/sessions/{fingerprint}", schedulerHandler.HandleClearSession)

		// Account administration and relay feedback hooks
		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", accountHandler.HandleListAccounts)
			r.Post("/", accountHandler.HandleCreateAccount)
			r.Get("/{id}", accountHandler.HandleGetAccount)
			r.Put("/{id}", accountHandler.HandleUpdateAccount)
			r.Delete("/{id}", accountHandler.HandleDeleteAccount)

			r.Route("/{type}/{id}", func(r chi.Router) {
				r.Post("/rate-limited", accountHandler.HandleMarkRateLimited)
				r.Post("/unavailable", accountHandler.HandleMarkUnavailable)
				r.Post("/unauthorized", accountHandler.HandleMarkUnauthorized)
				r.Post("/blocked", accountHandler.HandleMarkBlocked)
				r.Post("/used", accountHandler.HandleMarkUsed)
			})
		})

		// Account group management
		r.Route("/groups", func(r chi.Router) {
			r.Get("/", groupHandler.HandleListGroups)
			r.Post("/", groupHandler.HandleCreateGroup)
			r.Get("/{id}", groupHandler.HandleGetGroup)
			r.Put("/{id}/members", groupHandler.HandleSetGroupMembers)
			r.Delete("/{id}", groupHandler.HandleDeleteGroup)
		})
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"endpoint not found"}`))
	})

	return r
}
