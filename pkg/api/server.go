// Package api wires the billing service into an HTTP server.
package api

import (
	"database/sql"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/meterline/billingd/pkg/auth"
	"github.com/meterline/billingd/pkg/middleware"
	"github.com/meterline/billingd/pkg/observability"
)

// ServerOptions carries the server's collaborators
type ServerOptions struct {
	BillingService BillingService
	Sessions       auth.Store
	DB             *sql.DB
	Logger         *observability.Logger
	Metrics        *observability.Metrics
	Registry       *prometheus.Registry
}

// Server is the billingd HTTP server
type Server struct {
	router *mux.Router
	logger *observability.Logger
}

// NewServer builds the router with all routes and middleware attached
func NewServer(opts ServerOptions) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}

	router := mux.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(loggerInjector(logger))
	if opts.Metrics != nil {
		router.Use(middleware.Metrics(opts.Metrics))
	}

	health := observability.NewHealthChecker(opts.DB)
	router.HandleFunc("/healthz", health.Liveness).Methods("GET")
	router.HandleFunc("/readyz", health.Readiness).Methods("GET")
	if opts.Registry != nil {
		router.Handle("/metrics", observability.Handler(opts.Registry)).Methods("GET")
	}

	billingHandlers := NewBillingHandlers(opts.BillingService)
	orgHandlers := NewOrgBillingHandlers(opts.BillingService)

	// The plans listings are public; everything else needs a session.
	public := router.PathPrefix("/api/v1").Subrouter()
	billingHandlers.RegisterPublicRoutes(public)
	orgHandlers.RegisterPublicRoutes(public)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.NewAuthMiddleware(opts.Sessions).Handler)
	billingHandlers.RegisterRoutes(api)
	orgHandlers.RegisterRoutes(api)

	return &Server{router: router, logger: logger}
}

// Router returns the configured router
func (s *Server) Router() *mux.Router {
	return s.router
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// loggerInjector puts the base logger on every request context so
// handlers and services can pick it up with observability.FromContext.
func loggerInjector(logger *observability.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := observability.WithLogger(r.Context(), logger)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
