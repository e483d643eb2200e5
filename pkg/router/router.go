package router

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/foreman/pkg/checkpoint"
	"github.com/cuemby/foreman/pkg/dispatch"
	"github.com/cuemby/foreman/pkg/events"
	"github.com/cuemby/foreman/pkg/job"
	"github.com/cuemby/foreman/pkg/log"
	"github.com/cuemby/foreman/pkg/metrics"
	"github.com/cuemby/foreman/pkg/protocol"
	"github.com/cuemby/foreman/pkg/registry"
	"github.com/cuemby/foreman/pkg/store"
)

// DefaultHeartbeatInterval is how often connected workers are pinged.
const DefaultHeartbeatInterval = 30 * time.Second

// Router owns every live connection. The first envelope a peer sends
// decides its role: submit_job or get_results makes it a client,
// worker_ready makes it a worker, anything else is rejected. Envelopes
// on one connection are handled strictly in order; different
// connections run concurrently.
type Router struct {
	store       store.Store
	registry    *registry.Registry
	jobs        *job.Manager
	dispatcher  *dispatch.Dispatcher
	checkpoints *checkpoint.Manager
	broker      *events.Broker

	heartbeatInterval time.Duration
	stopCh            chan struct{}

	logger zerolog.Logger
}

// Config wires the router's collaborators
type Config struct {
	Store             store.Store
	Registry          *registry.Registry
	Jobs              *job.Manager
	Dispatcher        *dispatch.Dispatcher
	Checkpoints       *checkpoint.Manager
	Broker            *events.Broker
	HeartbeatInterval time.Duration
}

// NewRouter creates a message router
func NewRouter(cfg Config) *Router {
	interval := cfg.HeartbeatInterval
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &Router{
		store:             cfg.Store,
		registry:          cfg.Registry,
		jobs:              cfg.Jobs,
		dispatcher:        cfg.Dispatcher,
		checkpoints:       cfg.Checkpoints,
		broker:            cfg.Broker,
		heartbeatInterval: interval,
		stopCh:            make(chan struct{}),
		logger:            log.WithComponent("router"),
	}
}

// HandleConnection serves one peer until it disconnects. Intended to
// run on its own goroutine per connection.
func (r *Router) HandleConnection(conn protocol.Conn) {
	defer func() { _ = conn.Close() }()

	first, err := conn.ReadEnvelope()
	if err != nil {
		r.logger.Debug().Err(err).Str("remote", conn.RemoteAddr()).Msg("connection closed before role declaration")
		return
	}
	metrics.EnvelopesReceived.WithLabelValues(string(first.Type)).Inc()

	switch first.Type {
	case protocol.MsgSubmitJob, protocol.MsgGetResults:
		r.serveClient(conn, first)
	case protocol.MsgWorkerReady:
		r.serveWorker(conn, first)
	default:
		r.logger.Warn().
			Str("type", string(first.Type)).
			Str("remote", conn.RemoteAddr()).
			Msg("connection opened with a non-role envelope, closing")
	}
}
