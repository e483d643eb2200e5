package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/foreman/pkg/checkpoint"
	"github.com/cuemby/foreman/pkg/events"
	"github.com/cuemby/foreman/pkg/job"
	"github.com/cuemby/foreman/pkg/log"
	"github.com/cuemby/foreman/pkg/metrics"
	"github.com/cuemby/foreman/pkg/protocol"
	"github.com/cuemby/foreman/pkg/registry"
	"github.com/cuemby/foreman/pkg/router"
	"github.com/cuemby/foreman/pkg/store"
)

// Server is the foreman's HTTP surface: the WebSocket endpoint the
// peers connect to, the health and metrics probes, and the read-only
// observability API.
type Server struct {
	httpServer  *http.Server
	router      *router.Router
	store       store.Store
	registry    *registry.Registry
	jobs        *job.Manager
	checkpoints *checkpoint.Manager
	ring        *events.Ring
	logger      zerolog.Logger
}

// Config wires the server's collaborators
type Config struct {
	Listen      string
	Router      *router.Router
	Store       store.Store
	Registry    *registry.Registry
	Jobs        *job.Manager
	Checkpoints *checkpoint.Manager
	Ring        *events.Ring
}

// NewServer creates the HTTP server with all routes registered
func NewServer(cfg Config) *Server {
	s := &Server{
		router:      cfg.Router,
		store:       cfg.Store,
		registry:    cfg.Registry,
		jobs:        cfg.Jobs,
		checkpoints: cfg.Checkpoints,
		ring:        cfg.Ring,
		logger:      log.WithComponent("api"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /healthz", metrics.HealthHandler())
	mux.HandleFunc("GET /readyz", metrics.ReadyHandler())
	mux.HandleFunc("GET /livez", metrics.LivenessHandler())
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /api/v1/stats", s.handleStats)
	mux.HandleFunc("GET /api/v1/jobs", s.handleListJobs)
	mux.HandleFunc("GET /api/v1/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("GET /api/v1/jobs/{id}/checkpoints", s.handleJobCheckpoints)
	mux.HandleFunc("GET /api/v1/workers", s.handleListWorkers)
	mux.HandleFunc("GET /api/v1/events", s.handleEvents)

	s.httpServer = &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until Shutdown. It blocks, so callers run it on its own
// goroutine.
func (s *Server) Start() error {
	metrics.RegisterComponent("api", true, "serving")
	s.logger.Info().Str("listen", s.httpServer.Addr).Msg("api server listening")
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops the listener
func (s *Server) Shutdown(ctx context.Context) error {
	metrics.UpdateComponent("api", false, "shutting down")
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the route table for tests
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// handleWebSocket upgrades the connection and hands it to the message
// router for its lifetime.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := protocol.Upgrade(w, r)
	if err != nil {
		s.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}
	go s.router.HandleConnection(conn)
}
