// Package server exposes the client's connection health and Prometheus
// metrics over HTTP for the long-running CLI.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Guliveer/pusher-go/internal/constants"
	"github.com/Guliveer/pusher-go/internal/logger"
	"github.com/Guliveer/pusher-go/internal/model"
)

// Status is a point-in-time view of the client.
type Status struct {
	State     string               `json:"state"`
	Connected bool                 `json:"connected"`
	SocketID  string               `json:"socket_id,omitempty"`
	Channels  []model.Subscription `json:"channels"`
}

// StatusFunc returns the current client status.
type StatusFunc func() Status

// HealthServer serves /health, /api/channels and /metrics.
type HealthServer struct {
	addr    string
	log     *logger.Logger
	srv     *http.Server
	handler http.Handler

	mu         sync.RWMutex
	statusFunc StatusFunc
}

// NewHealthServer creates a HealthServer bound to addr. gatherer backs
// /metrics; nil uses the default Prometheus registry.
func NewHealthServer(addr string, gatherer prometheus.Gatherer, log *logger.Logger) *HealthServer {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &HealthServer{
		addr: addr,
		log:  log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/channels", s.handleChannels)
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	s.handler = withLogging(log, mux)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return context.Background()
		},
	}

	return s
}

// Handler returns the server's routes.
func (s *HealthServer) Handler() http.Handler { return s.handler }

// SetStatusFunc sets the status source. Thread-safe.
func (s *HealthServer) SetStatusFunc(fn StatusFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusFunc = fn
}

func (s *HealthServer) status() Status {
	s.mu.RLock()
	fn := s.statusFunc
	s.mu.RUnlock()
	if fn == nil {
		return Status{State: "unknown", Channels: []model.Subscription{}}
	}
	st := fn()
	if st.Channels == nil {
		st.Channels = []model.Subscription{}
	}
	return st
}

// Run starts the HTTP server and blocks until the context is cancelled.
// It performs graceful shutdown when the context is done.
func (s *HealthServer) Run(ctx context.Context) error {
	s.log.Info("Health server starting", "addr", s.addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("health server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.log.Info("Health server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.DefaultGracefulShutdownTimeout)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("health server shutdown: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func withLogging(log *logger.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		log.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.statusCode,
			"duration", time.Since(start).String(),
		)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code before writing it.
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
