// Package server wires the HTTP API: routing, middleware, and lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/cyclicchamp/cyclictools/internal/errors"
	"github.com/cyclicchamp/cyclictools/internal/observability"
	"github.com/cyclicchamp/cyclictools/internal/server/handlers"
	"github.com/cyclicchamp/cyclictools/internal/server/middleware"
)

// Server hosts the job manager API.
type Server struct {
	host        string
	port        int
	jobs        *handlers.JobsHandler
	submitRate  float64
	submitBurst int

	readTimeout     time.Duration
	writeTimeout    time.Duration
	idleTimeout     time.Duration
	shutdownTimeout time.Duration

	router chi.Router
}

// Option tweaks server construction.
type Option func(*Server)

// WithJobs attaches the job endpoints.
func WithJobs(h *handlers.JobsHandler) Option {
	return func(s *Server) { s.jobs = h }
}

// WithSubmitThrottle limits job and batch submissions per second.
func WithSubmitThrottle(rps float64, burst int) Option {
	return func(s *Server) {
		s.submitRate = rps
		s.submitBurst = burst
	}
}

// WithTimeouts overrides the HTTP server timeouts.
func WithTimeouts(read, write, idle, shutdown time.Duration) Option {
	return func(s *Server) {
		s.readTimeout = read
		s.writeTimeout = write
		s.idleTimeout = idle
		s.shutdownTimeout = shutdown
	}
}

// New builds a server with its routes registered. Health and version
// endpoints are always present; job endpoints appear when WithJobs is given.
func New(host string, port int, opts ...Option) *Server {
	s := &Server{
		host:            host,
		port:            port,
		submitRate:      10,
		submitBurst:     20,
		readTimeout:     30 * time.Second,
		writeTimeout:    30 * time.Second,
		idleTimeout:     120 * time.Second,
		shutdownTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Port returns the configured listen port.
func (s *Server) Port() int { return s.port }

// Addr returns the listen address.
func (s *Server) Addr() string { return fmt.Sprintf("%s:%d", s.host, s.port) }

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery)
	r.Use(middleware.Logging)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		apperrors.WriteEnvelope(w, apperrors.HTTPErrorResponse{
			Error: apperrors.HTTPErrorBody{
				Code:      "NOT_FOUND",
				Message:   fmt.Sprintf("no route for %s %s", req.Method, req.URL.Path),
				RequestID: middleware.GetRequestID(req.Context()),
			},
		}, http.StatusNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		apperrors.WriteEnvelope(w, apperrors.HTTPErrorResponse{
			Error: apperrors.HTTPErrorBody{
				Code:      "METHOD_NOT_ALLOWED",
				Message:   fmt.Sprintf("%s is not allowed on %s", req.Method, req.URL.Path),
				RequestID: middleware.GetRequestID(req.Context()),
			},
		}, http.StatusMethodNotAllowed)
	})

	r.Get("/health", handlers.HealthHandler)
	r.Get("/health/live", handlers.LivenessHandler)
	r.Get("/health/ready", handlers.ReadinessHandler)
	r.Get("/health/startup", handlers.StartupHandler)
	r.Get("/version", handlers.VersionHandler)

	if s.jobs != nil {
		throttle := middleware.Throttle(s.submitRate, s.submitBurst)
		r.Route("/v1", func(r chi.Router) {
			r.Get("/operations", s.jobs.Operations)
			r.With(throttle).Post("/jobs", s.jobs.Submit)
			r.Get("/jobs", s.jobs.List)
			r.Route("/jobs/{jobID}", func(r chi.Router) {
				r.Get("/", s.jobs.Get)
				r.Delete("/", s.jobs.Cancel)
				r.Get("/result", s.jobs.Result)
				r.Get("/log", s.jobs.Log)
			})
			r.With(throttle).Post("/batches", s.jobs.SubmitBatch)
			r.Route("/batches/{batchID}", func(r chi.Router) {
				r.Get("/", s.jobs.GetBatch)
				r.Delete("/", s.jobs.CancelBatch)
			})
		})
	}
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	httpSrv := &http.Server{
		Addr:         s.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
		IdleTimeout:  s.idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		observability.CLILogger.Info("http server listening", zap.String("addr", s.Addr()))
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	observability.CLILogger.Info("http server stopped")
	return nil
}
