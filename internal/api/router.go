// Package api provides HTTP routing for the telemetry surface: read-only
// channel/event endpoints, a Prometheus scrape endpoint, and a live
// WebSocket feed. It never touches a Transport or a Simulation Loop.
package api

import (
	"net/http"

	"github.com/asgard/cellbench/internal/api/handlers"
	apimiddleware "github.com/asgard/cellbench/internal/api/middleware"
	"github.com/asgard/cellbench/internal/telemetry"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter builds the telemetry API's full route tree.
func NewRouter(registry *telemetry.Registry, broadcaster *telemetry.Broadcaster) http.Handler {
	r := chi.NewRouter()

	r.Use(apimiddleware.Apply)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	healthHandler := handlers.NewHealthHandler()
	channelsHandler := handlers.NewChannelsHandler(registry)
	eventsHandler := handlers.NewEventsHandler(registry)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", healthHandler.Health)

		r.Route("/channels", func(r chi.Router) {
			r.Get("/", channelsHandler.List)
			r.Get("/{n}", channelsHandler.Get)
		})

		r.Get("/events", eventsHandler.List)
	})

	r.Handle("/metrics", promhttp.Handler())

	if broadcaster != nil {
		r.Get("/ws", broadcaster.ServeHTTP)
	}

	return r
}
