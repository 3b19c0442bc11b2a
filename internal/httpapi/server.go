// Package httpapi exposes the orchestrator over HTTP: the decide endpoint
// the workflow engine calls per inbound message, plus health and metrics.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nictes1/automatizacion-ai-sub000/internal/config"
	"github.com/nictes1/automatizacion-ai-sub000/internal/observability"
	"github.com/nictes1/automatizacion-ai-sub000/internal/pipeline"
	"github.com/nictes1/automatizacion-ai-sub000/internal/ratelimit"
)

// Server hosts the orchestrator endpoints.
type Server struct {
	cfg      config.ServerConfig
	pipeline *pipeline.Pipeline
	limiter  *ratelimit.Limiter
	logger   *observability.Logger

	httpServer *http.Server
	listener   net.Listener
}

// NewServer wires the HTTP layer. limiter may be nil to disable limiting.
func NewServer(cfg config.ServerConfig, p *pipeline.Pipeline, limiter *ratelimit.Limiter, logger *observability.Logger) *Server {
	return &Server{cfg: cfg, pipeline: p, limiter: limiter, logger: logger}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("POST /orchestrator/decide", s.handleDecide)
	return s.recoverPanics(mux)
}

// Start begins serving in the background. The returned error covers listen
// failures only; serve errors are logged.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen %s: %w", addr, err)
	}

	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.cfg.ReadTimeout.Std(),
		WriteTimeout:      s.cfg.WriteTimeout.Std(),
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error(ctx, "http server error", "error", err.Error())
		}
	}()
	s.logger.Info(ctx, "http server listening", "addr", addr)
	return nil
}

// Addr returns the bound address, useful when Port was 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// recoverPanics turns a handler panic into a 500 instead of tearing down the
// connection, and logs the stack via slog's default source handling.
func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error(r.Context(), "handler panic", "path", r.URL.Path, "panic", fmt.Sprint(rec))
				writeError(w, http.StatusInternalServerError, "internal", "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
