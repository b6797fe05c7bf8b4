/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     zap access log (level by status class)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. Metrics:    Prometheus request count and latency per route
  5. CORS:       Cross-origin requests for the dashboard frontend

ROUTE GROUPS:
  /api/stations/*    Stations, settlements, statements
  /api/prices/*      Gas price schedule
  /api/documents/*   Compliance documents
  /api/scenarios/*   Demo data loaders (when enabled)
  /metrics           Prometheus scrape endpoint
  /healthz           Liveness probe

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

var defaultOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a new router with all routes configured. Empty
// allowedOrigins falls back to the local dev frontend.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = defaultOrigins
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.Logger))
	r.Use(middleware.Recoverer)
	r.Use(h.Metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	if h.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.Metrics.Handler())
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Station routes
		r.Route("/stations", func(r chi.Router) {
			r.Get("/", h.ListStations)
			r.Post("/", h.CreateStation)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetStation)
				r.Put("/", h.UpdateStation)
				r.Delete("/", h.DeleteStation)
				r.Get("/statement", h.GetStatement)

				r.Get("/settlements", h.ListSettlements)
				r.Put("/settlements/{period}", h.PutSettlement)
				r.Delete("/settlements/{period}", h.DeleteSettlement)
				r.Post("/settlements/{period}/preview", h.PreviewSettlement)
			})
		})

		// Price routes
		r.Route("/prices", func(r chi.Router) {
			r.Get("/", h.ListPrices)
			r.Post("/", h.AddPrice)
			r.Get("/resolve", h.ResolvePrice)
			r.Put("/{start}", h.UpdatePrice)
			r.Delete("/{start}", h.DeletePrice)
		})

		// Document routes
		r.Route("/documents", func(r chi.Router) {
			r.Get("/", h.ListDocuments)
			r.Post("/", h.CreateDocument)
			r.Delete("/{id}", h.DeleteDocument)
		})

		// Scenario routes (dev/demo only)
		if h.ScenariosEnabled {
			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Get("/current", h.GetCurrentScenario)
				r.Post("/load", h.LoadScenario)
			})
		}
	})

	return r
}

// requestLogger writes one access log entry per request.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			fields := []zap.Field{
				zap.Int("status", status),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("query", r.URL.RawQuery),
				zap.String("ip", r.RemoteAddr),
				zap.Duration("latency", time.Since(start)),
				zap.Int("bytes", ww.BytesWritten()),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			}

			switch {
			case status >= 500:
				logger.Error("Server error", fields...)
			case status >= 400:
				logger.Warn("Client error", fields...)
			default:
				logger.Info("Request", fields...)
			}
		})
	}
}
