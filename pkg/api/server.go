package api

import (
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/schoolbilling/pkg/billing"
	"github.com/platinummonkey/schoolbilling/pkg/httputil"
	"github.com/platinummonkey/schoolbilling/pkg/middleware"
	"github.com/platinummonkey/schoolbilling/pkg/observability"
)

// Config holds HTTP surface settings
type Config struct {
	AllowedOrigins []string
	// MaxBodyBytes caps request bodies; zero disables the cap
	MaxBodyBytes int64
	// ServiceName names the server span
	ServiceName string
}

// Dependencies are the collaborators the server routes to. Health, Metrics, Gatherer and
// RateLimiter are optional.
type Dependencies struct {
	Billing     billing.Service
	Tokens      middleware.TokenValidator
	RateLimiter *middleware.RateLimiter
	Health      *observability.HealthChecker
	Metrics     *observability.Metrics
	Gatherer    prometheus.Gatherer
	Logger      *logrus.Logger
}

// Server is the billing gateway HTTP server
type Server struct {
	router  *mux.Router
	handler http.Handler
	logger  *logrus.Logger
}

// NewServer creates a new API server
func NewServer(deps Dependencies, cfg Config) *Server {
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "schoolbilling"
	}

	s := &Server{
		router: mux.NewRouter(),
		logger: deps.Logger,
	}
	s.setupRoutes(deps)

	chain := []func(http.Handler) http.Handler{
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(deps.Logger),
		httputil.RecoveryMiddleware(deps.Logger),
	}
	if cfg.MaxBodyBytes > 0 {
		chain = append(chain, httputil.MaxBytesMiddleware(cfg.MaxBodyBytes))
	}
	chain = append(chain, corsMiddleware(cfg.AllowedOrigins))

	s.handler = otelhttp.NewHandler(httputil.Chain(chain...)(s.router), cfg.ServiceName)
	return s
}

func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization", httputil.RequestIDHeader}),
		handlers.ExposedHeaders([]string{httputil.RequestIDHeader, "X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"}),
	)
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes(deps Dependencies) {
	if deps.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(deps.Metrics))
	}
	if deps.Health != nil {
		deps.Health.RegisterRoutes(s.router)
	}
	if deps.Gatherer != nil {
		s.router.Handle("/metrics", observability.MetricsHandler(deps.Gatherer)).Methods("GET")
	}

	billingHandlers := NewBillingHandlers(deps.Billing)
	// registered on the root router ahead of the authenticated subrouter
	billingHandlers.RegisterWebhookRoute(s.router)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.NewAuthMiddleware(deps.Tokens, false).Handler)
	if deps.RateLimiter != nil {
		api.Use(deps.RateLimiter.Handler)
	}

	NewCountryHandlers().RegisterRoutes(api)
	billingHandlers.RegisterRoutes(api)
}

// Router exposes the underlying router
func (s *Server) Router() *mux.Router {
	return s.router
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
