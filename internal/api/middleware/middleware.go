// Package middleware provides HTTP middleware for the telemetry API server.
package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// Apply sets up the standard middleware stack for the telemetry API.
func Apply(handler http.Handler) http.Handler {
	handler = middleware.RequestID(handler)
	handler = middleware.RealIP(handler)
	handler = Logger(handler)
	handler = Recoverer(handler)
	handler = middleware.Timeout(10 * time.Second)(handler)
	handler = middleware.Compress(5)(handler)
	return handler
}
