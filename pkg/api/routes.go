package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// buildRouter constructs the chi router with all routes and middleware.
func (s *server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.RequestID)
	r.Use(s.recoverer)
	r.Use(s.requestLogger)
	r.Use(s.corsMiddleware())
	r.Use(s.limitBody)

	// Set before mounting so sub-routers inherit them.
	r.NotFound(s.handleRouteNotFound)
	r.MethodNotAllowed(s.handleRouteNotFound)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// Read endpoints.
		r.Group(func(r chi.Router) {
			if s.cfg.Server.RateLimit.Enabled {
				r.Use(s.rateLimitMiddleware(
					s.cfg.Server.RateLimit.Reads,
				))
			}

			r.Get("/test-results", s.handleListTestResults)
			r.Get("/test-results/{id}", s.handleGetTestResult)
			r.Get("/test-results/{id}/summary", s.handleGetTestResultSummary)
			r.Get("/stats", s.handleStats)
		})

		// Write endpoints.
		r.Group(func(r chi.Router) {
			if s.cfg.Server.RateLimit.Enabled {
				r.Use(s.rateLimitMiddleware(
					s.cfg.Server.RateLimit.Writes,
				))
			}

			r.Post("/test-results", s.handleCreateTestResult)
			r.Delete("/test-results", s.handleDeleteTestResults)
			r.Delete("/test-results/{id}", s.handleDeleteTestResult)
		})
	})

	return r
}

// corsMiddleware returns a CORS handler configured from the server config.
func (s *server) corsMiddleware() func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedMethods: []string{"GET", "HEAD", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         300,
	}

	origins := s.cfg.Server.CORSOrigins

	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		opts.AllowedOrigins = []string{"*"}
	} else {
		opts.AllowedOrigins = origins
	}

	return cors.Handler(opts)
}
