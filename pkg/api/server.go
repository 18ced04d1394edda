// Package api exposes the validation service over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/crateworks/crate-validator/pkg/dispatch"
	"github.com/crateworks/crate-validator/pkg/jobs"
	"github.com/crateworks/crate-validator/pkg/objectstore"
)

// Dispatcher is the validation dispatch service.
type Dispatcher interface {
	SubmitByReference(ctx context.Context, req dispatch.ReferenceRequest) (string, error)
	SubmitByMetadata(ctx context.Context, req dispatch.MetadataRequest) (*dispatch.MetadataResponse, error)
	FetchResult(ctx context.Context, req dispatch.ResultRequest) ([]byte, error)
	DefaultStore() objectstore.Config
}

// Pinger is a dependency checked by /readyz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the HTTP front-end.
type Server struct {
	dispatcher Dispatcher
	jobStore   *jobs.JobStore
	results    jobs.ResultBackend
	checks     map[string]Pinger
	limiter    *ipRateLimiter
	logger     *slog.Logger
	startedAt  time.Time
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithJobs mounts the job status API.
func WithJobs(store *jobs.JobStore, results jobs.ResultBackend) ServerOption {
	return func(s *Server) {
		s.jobStore = store
		s.results = results
	}
}

// WithReadinessCheck adds a dependency to /readyz.
func WithReadinessCheck(name string, p Pinger) ServerOption {
	return func(s *Server) {
		s.checks[name] = p
	}
}

// WithRateLimit limits the validation routes per client address. A
// non-positive rps disables limiting.
func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) {
		if rps > 0 {
			s.limiter = newIPRateLimiter(rps, burst)
		}
	}
}

// NewServer creates a Server.
func NewServer(d Dispatcher, opts ...ServerOption) *Server {
	s := &Server{
		dispatcher: d,
		checks:     make(map[string]Pinger),
		logger:     slog.Default(),
		startedAt:  time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes builds the HTTP router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"Location"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Route("/v1/ro_crates", func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.limiter.Middleware)
		}
		r.Post("/{crateID}/validation", s.submitValidation)
		r.Get("/{crateID}/validation", s.getValidation)
		r.Post("/validate_metadata", s.validateMetadata)
		r.Post("/validate_by_id", s.legacyValidate(true))
		r.Post("/validate_by_id_no_webhook", s.legacyValidate(false))
	})

	if s.jobStore != nil {
		r.Mount("/v1/jobs", jobs.Router(s.jobStore, s.results))
	}

	r.Get("/healthz", s.healthHandler)
	r.Get("/livez", s.healthHandler)
	r.Get("/readyz", s.readyHandler)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// healthHandler returns the liveness status of the server.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "alive",
		"uptime": time.Since(s.startedAt).Round(time.Second).String(),
	})
}

// readyHandler pings every registered dependency.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	allReady := true
	components := make(map[string]any, len(s.checks))
	for name, p := range s.checks {
		status := map[string]string{"status": "up"}
		if err := p.Ping(ctx); err != nil {
			status["status"] = "down"
			status["error"] = err.Error()
			allReady = false
		}
		components[name] = status
	}

	code, status := http.StatusOK, "ready"
	if !allReady {
		code, status = http.StatusServiceUnavailable, "not_ready"
	}
	writeJSON(w, code, map[string]any{
		"status":     status,
		"components": components,
	})
}
