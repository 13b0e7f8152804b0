// Package routes wires the gateway's HTTP surface: middleware stack,
// chat endpoints, provider management, health checks, and metrics.
package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/switchboard-ai/switchboard/config"
	"github.com/switchboard-ai/switchboard/handlers"
	"github.com/switchboard-ai/switchboard/internal/observability"
	"github.com/switchboard-ai/switchboard/manager"
	"github.com/switchboard-ai/switchboard/middleware"
)

// Dependencies carries everything the router needs. Constructed in main
// and passed down; handlers never reach for globals.
type Dependencies struct {
	Config  *config.Config
	Manager *manager.Manager
	Logger  *zap.Logger
	Metrics *observability.PrometheusMetrics
}

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	inbound := middleware.NewInboundLimiter(deps.Config.Gateway.InboundRPS, deps.Config.Gateway.InboundBurst)
	r.Use(inbound.Handler)

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Config.Gateway.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoints
	r.Get("/healthz", handlers.HealthCheck())
	r.Get("/readyz", handlers.ReadinessCheck(deps.Manager))

	if deps.Config.Observability.MetricsEnabled && deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	// the context-aware wrapper attaches request IDs to every line
	apiLogger := observability.NewLogger(deps.Logger)
	chatHandler := handlers.NewChatHandler(deps.Manager, apiLogger)
	providerHandler := handlers.NewProviderHandler(deps.Manager, apiLogger)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", handlers.StatusHandler(deps.Manager, deps.Config.Environment))

		r.Route("/chat", func(r chi.Router) {
			// buffered completions get a hard deadline; streams manage
			// their own lifetime through the request context
			r.With(chimw.Timeout(2 * time.Minute)).Post("/", chatHandler.HandleChat)
			r.Post("/stream", chatHandler.HandleChatStream)
		})

		r.Route("/providers", func(r chi.Router) {
			r.Get("/", providerHandler.HandleList)
			r.Post("/", providerHandler.HandleRegister)
			r.Get("/{name}", providerHandler.HandleGet)
			r.Delete("/{name}", providerHandler.HandleRemove)
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
