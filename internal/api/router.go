// Package api provides the read-only HTTP query API over the pipeline's
// storage.
package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/pm25forecast/pm25forecast/internal/api/handler"
	"github.com/pm25forecast/pm25forecast/internal/api/middleware"
	"github.com/pm25forecast/pm25forecast/internal/provider/resilience"
	"github.com/pm25forecast/pm25forecast/internal/storage"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	Logger      zerolog.Logger
	ServiceName string
	Metrics     *middleware.Metrics
	Store       *storage.Store

	// Registry reports source health on /v1/ops/status. Optional.
	Registry *resilience.Registry

	// AllowedOrigins are the CORS origins. Default: any origin
	AllowedOrigins []string
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "pm25forecast-api"
	}

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	corsHandler := cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader, "Retry-After", "Content-Disposition"},
		MaxAge:         300,
	})

	// Global middleware - order matters
	r.Use(middleware.RequestID)            // Generate/propagate request ID first
	r.Use(middleware.Tracing(serviceName)) // Distributed tracing
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware()) // HTTP metrics
	}
	r.Use(middleware.Logger(cfg.Logger))   // Structured logging
	r.Use(middleware.Recovery(cfg.Logger)) // Panic recovery
	r.Use(chimiddleware.RealIP)            // Real IP extraction
	r.Use(corsHandler)                     // Browser access, read-only
	r.Use(middleware.ContentTypeJSON)      // JSON content type

	var sources handler.HealthSource
	if cfg.Registry != nil {
		sources = cfg.Registry
	}

	opsHandler := handler.NewOpsHandler(cfg.Version, cfg.BuildTime, cfg.Store, sources)
	tablesHandler := handler.NewTablesHandler(cfg.Store, cfg.Logger)
	queryHandler := handler.NewQueryHandler(cfg.Store, cfg.Logger)

	standardRateLimit := middleware.RateLimitByIP(middleware.StandardRateLimit) // 100 req/min
	queryRateLimit := middleware.RateLimitByIP(middleware.QueryRateLimit)       // 30 req/min

	r.Route("/v1", func(r chi.Router) {
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
			r.Get("/status", opsHandler.SystemStatus)
		})

		r.Route("/tables", func(r chi.Router) {
			r.Use(standardRateLimit)
			r.Get("/", tablesHandler.ListTables)
			r.Get("/{name}", tablesHandler.GetTable)
		})

		// Ad-hoc statements scan whole tables, so they get the stricter limit.
		r.Group(func(r chi.Router) {
			r.Use(queryRateLimit)
			r.Get("/query", queryHandler.Query)
			r.Get("/export", queryHandler.Export)
		})
	})

	return r
}
