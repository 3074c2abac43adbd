package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/shehryarbajwa/gridrunner/internal/ratelimit"
)

// DefaultRequestsPerMinute bounds status polling per client
const DefaultRequestsPerMinute = 120

// SetupRoutes configures all HTTP routes. events serves the websocket stream
// and may be nil.
func (h *Handler) SetupRoutes(events http.Handler, rateLimiter *ratelimit.Limiter) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", h.Healthz).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := r.PathPrefix("/v1").Subrouter()

	// Polling endpoints (rate limited)
	polled := api.PathPrefix("").Subrouter()
	if rateLimiter != nil {
		polled.Use(RateLimitMiddleware(rateLimiter, DefaultRequestsPerMinute))
	}
	polled.HandleFunc("/run", h.GetRun).Methods("GET")
	polled.HandleFunc("/run/workers", h.ListWorkers).Methods("GET")
	polled.HandleFunc("/run/workers/{index:[0-9]+}", h.GetWorker).Methods("GET")

	// Live stream (not rate limited - long lived)
	if events != nil {
		api.Handle("/run/events", events).Methods("GET")
	}

	return r
}

// Server serves the status API for the duration of a run
type Server struct {
	server *http.Server
	log    *slog.Logger
}

// NewServer wraps router with CORS and returns a server for addr
func NewServer(addr string, router http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
	})
	return &Server{
		server: &http.Server{
			Addr:        addr,
			Handler:     c.Handler(router),
			ReadTimeout: 15 * time.Second,
			IdleTimeout: 60 * time.Second,
		},
		log: logger.With("component", "api"),
	}
}

// Start binds the listener and serves in the background. It returns the
// bound address.
func (s *Server) Start() (string, error) {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return "", err
	}

	addr := ln.Addr().String()
	s.log.Info("Status server listening", "addr", addr)

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("Status server error", "err", err)
		}
	}()
	return addr, nil
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
