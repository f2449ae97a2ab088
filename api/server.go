/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. Metrics:    Request count and latency by route pattern (optional)
  5. CORS:       Cross-origin requests for the dashboard frontend

ROUTE GROUPS:
  /api/lagging/*        Lagging indicator summaries and cache control
  /api/sequence/*       Counter inspection and manual override
  /api/codes/*          Code parsing
  /api/accidents        Report submission and listing
  /api/settings/*       Working hours
  /api/scenarios/*      Demo datasets
  /healthz              Store liveness
  /metrics              Prometheus scrape endpoint (optional)

SECURITY NOTE:
  No authentication middleware. Manual overrides record the X-Actor header
  as given.

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

	"github.com/warp/accident-engine/metrics"
)

// RouterOptions configures the optional parts of the router.
type RouterOptions struct {
	AllowedOrigins []string
	Metrics        *metrics.Metrics // nil disables /metrics and request metrics
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if opts.Metrics != nil {
		r.Use(instrument(opts.Metrics))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Actor"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Healthz)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/lagging", func(r chi.Router) {
			r.Get("/summary/{year}", h.GetSummary)
			r.Get("/trend", h.GetTrend)
			r.Post("/cache/invalidate", h.InvalidateCache)
		})

		r.Route("/sequence", func(r chi.Router) {
			r.Get("/", h.GetSequence)
			r.Post("/", h.SetSequence)
			r.Get("/preview", h.PreviewSequence)
			r.Get("/overrides", h.ListOverrides)
		})

		r.Get("/codes/parse", h.ParseCode)

		r.Route("/accidents", func(r chi.Router) {
			r.Get("/", h.ListAccidents)
			r.Post("/", h.CreateAccident)
		})

		r.Route("/settings", func(r chi.Router) {
			r.Get("/working-hours/{year}", h.GetWorkingHours)
			r.Put("/working-hours/{year}", h.PutWorkingHours)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}

// instrument records each request against its chi route pattern so that
// path parameters do not explode label cardinality.
func instrument(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := ""
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				route = rctx.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			m.ObserveRequest(route, r.Method, status, time.Since(start))
		})
	}
}
