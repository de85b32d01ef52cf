// Package server provides the HTTP server and routing for brokersync.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/brokersync/internal/di"
	portfoliohandlers "github.com/aristath/brokersync/internal/modules/portfolio/handlers"
	riskhandlers "github.com/aristath/brokersync/internal/modules/risk/handlers"
)

const version = "1.0.0"

// Config holds server configuration
type Config struct {
	Log            zerolog.Logger
	Port           int
	DevMode        bool
	AllowedOrigins []string
	Container      *di.Container
}

// Server represents the HTTP server
type Server struct {
	router         *chi.Mux
	server         *http.Server
	log            zerolog.Logger
	container      *di.Container
	allowedOrigins []string
	devMode        bool
	systemHandlers *SystemHandlers
	statusMonitor  *StatusMonitor
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	systemHandlers := NewSystemHandlers(cfg.Container, cfg.Log)

	s := &Server{
		router:         chi.NewRouter(),
		log:            cfg.Log.With().Str("component", "server").Logger(),
		container:      cfg.Container,
		allowedOrigins: cfg.AllowedOrigins,
		devMode:        cfg.DevMode,
		systemHandlers: systemHandlers,
		statusMonitor:  NewStatusMonitor(cfg.Container.Hub, systemHandlers, cfg.Log),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware() {
	// Recovery from panics
	s.router.Use(middleware.Recoverer)

	// Request ID
	s.router.Use(middleware.RequestID)

	// Real IP
	s.router.Use(middleware.RealIP)

	// Logging
	s.router.Use(s.loggingMiddleware)

	// Request metrics keyed by route pattern
	s.router.Use(s.container.Metrics.Middleware)

	// CORS
	origins := s.allowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
}

// setupRoutes configures all routes.
// The websocket endpoint sits outside the timeout and compression groups
// since both wrap the response writer for the whole connection lifetime.
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Method(http.MethodGet, "/metrics", s.container.Metrics.Handler())
	s.router.Get("/ws", s.container.Hub.ServeWS(s.allowedOrigins))

	s.router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		if !s.devMode {
			r.Use(middleware.Compress(5))
		}

		r.Route("/api", func(r chi.Router) {
			// System monitoring
			r.Route("/system", func(r chi.Router) {
				r.Get("/status", s.systemHandlers.HandleSystemStatus)
				r.Get("/jobs", s.systemHandlers.HandleJobsStatus)
			})

			// Gateway connection
			r.Route("/gateway", func(r chi.Router) {
				r.Get("/status", s.systemHandlers.HandleGatewayStatus)
				r.Post("/connect", s.systemHandlers.HandleGatewayConnect)
			})

			marketHandlers := NewMarketHandlers(s.container.MarketData, s.log)
			r.Route("/market", func(r chi.Router) {
				r.Get("/quote/{symbol}", marketHandlers.HandleGetQuote)
				r.Get("/quotes", marketHandlers.HandleGetQuotes)
				r.Get("/history/{symbol}", marketHandlers.HandleGetHistory)
			})

			orderHandlers := NewOrderHandlers(s.container.Gateway, s.container.PortfolioService, s.container.RiskChecker, s.container.MarketData, s.log)
			r.Route("/orders", func(r chi.Router) {
				r.Post("/", orderHandlers.HandlePlaceOrder)
				r.Delete("/{orderID}", orderHandlers.HandleCancelOrder)
			})

			signalHandlers := NewSignalHandlers(s.container.Hub, s.log)
			r.Post("/signals", signalHandlers.HandlePublishSignal)

			// Portfolio module
			portfolioHandler := portfoliohandlers.NewHandler(s.container.PortfolioService, s.log)
			portfolioHandler.RegisterRoutes(r)

			// Risk module
			riskHandler := riskhandlers.NewHandler(s.container.RiskChecker, s.container.PortfolioService, s.log)
			riskHandler.RegisterRoutes(r)
		})
	})
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}

// Start starts the HTTP server and the status monitor
func (s *Server) Start(ctx context.Context) error {
	s.statusMonitor.Start(ctx, s.container.Config.SystemStatusInterval)

	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	s.statusMonitor.Stop()
	return s.server.Shutdown(ctx)
}
