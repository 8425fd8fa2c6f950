package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter wires the read API routes
func NewRouter(repo Repository, allowedOrigins []string) http.Handler {
	h := NewHandler(repo)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	r.Get("/health", h.Health)
	r.Get("/api/health/data", h.GetDataFreshness)
	r.Get("/api/stops/{stopID}/vehicles/{vehicleID}/latest", h.GetLatestArrival)
	r.Get("/api/delays/stats", h.GetDelayStats)
	r.Get("/api/runs/latest", h.GetLatestRun)

	return r
}
