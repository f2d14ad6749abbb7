// Package opsmux is the minimal ambient operability surface every
// composition root in this module exposes: liveness/readiness probes and a
// Prometheus scrape endpoint, plus whatever business-stats debug routes a
// given worker wants to register. It is not a transport framework — the
// trading API itself is an external collaborator (see matching's doc
// comments) and is never served from here.
package opsmux

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rnrlcrm/tradedesk/internal/logging"
)

// Checker reports whether the service is ready to receive work. Returning
// an error marks /readyz unhealthy without taking the process down.
type Checker func(ctx context.Context) error

// Server wraps a chi router with the standard probes plus whatever routes
// the caller registers before calling Start.
type Server struct {
	router *chi.Mux
	server *http.Server
	log    *logging.Logger
}

// New builds the router with RequestID/RealIP/Recoverer/Timeout middleware
// and the standard /healthz, /readyz, /metrics routes already mounted.
// ready may be nil, in which case /readyz always reports healthy.
func New(addr string, log *logging.Logger, ready Checker) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		if ready != nil {
			if err := ready(req.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(err.Error()))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return &Server{
		router: r,
		log:    log,
		server: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}
}

// Route exposes the underlying router so callers can mount extra debug
// endpoints (e.g. /debug/webhooks/{org}/stats) before Start.
func (s *Server) Route(pattern string, handler http.HandlerFunc) {
	s.router.Get(pattern, handler)
}

// Start runs the server until it errors or is shut down. Intended to be
// run in its own goroutine by the caller.
func (s *Server) Start() error {
	s.log.WithFields(map[string]interface{}{"addr": s.server.Addr}).Info("opsmux: starting")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("opsmux: listen and serve: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
