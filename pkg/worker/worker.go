package worker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/foreman/pkg/log"
	"github.com/cuemby/foreman/pkg/protocol"
)

const (
	// DefaultCheckpointInterval is how often a checkpointing task's
	// state is snapshotted and uploaded.
	DefaultCheckpointInterval = 10 * time.Second

	// DefaultHeartbeatInterval is how often the worker reports liveness
	// between the foreman's pings.
	DefaultHeartbeatInterval = 30 * time.Second

	// DefaultReconnectDelay is the pause between connection attempts.
	DefaultReconnectDelay = 5 * time.Second
)

// Worker executes tasks handed down by a foreman. One worker runs one
// task at a time; the foreman enforces this by marking the worker busy
// until the result comes back.
type Worker struct {
	id  string
	url string

	checkpointInterval time.Duration
	heartbeatInterval  time.Duration
	reconnectDelay     time.Duration

	mu          sync.Mutex
	currentTask string

	logger zerolog.Logger
}

// Config holds worker configuration. Zero values pick defaults; an
// empty ID gets a generated UUID.
type Config struct {
	ForemanURL         string
	ID                 string
	CheckpointInterval time.Duration
	HeartbeatInterval  time.Duration
	ReconnectDelay     time.Duration
}

// NewWorker creates a worker for the given foreman endpoint
func NewWorker(cfg Config) *Worker {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.CheckpointInterval <= 0 {
		cfg.CheckpointInterval = DefaultCheckpointInterval
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	return &Worker{
		id:                 cfg.ID,
		url:                cfg.ForemanURL,
		checkpointInterval: cfg.CheckpointInterval,
		heartbeatInterval:  cfg.HeartbeatInterval,
		reconnectDelay:     cfg.ReconnectDelay,
		logger:             log.WithWorkerID(cfg.ID),
	}
}

// ID returns the worker's identifier
func (w *Worker) ID() string {
	return w.id
}

// Run connects to the foreman and serves tasks until the context is
// cancelled. Dropped connections are re-dialed after the reconnect
// delay; in-flight work on the old connection is abandoned and the
// foreman's sweeper recovers it.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if err := w.session(ctx); err != nil && ctx.Err() == nil {
			w.logger.Warn().Err(err).Msg("session ended, reconnecting")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.reconnectDelay):
		}
	}
}

// session runs one connection lifetime: dial, announce, then pump
// envelopes until the connection or the context dies.
func (w *Worker) session(ctx context.Context) error {
	conn, err := protocol.Dial(ctx, w.url)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	ready, err := protocol.New(protocol.MsgWorkerReady, "", protocol.WorkerReadyData{WorkerID: w.id})
	if err != nil {
		return err
	}
	if err := conn.WriteEnvelope(ready); err != nil {
		return err
	}
	w.logger.Info().Str("foreman", w.url).Msg("connected")

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Unblock the read loop when the context dies
	go func() {
		<-sessionCtx.Done()
		_ = conn.Close()
	}()
	go w.heartbeatLoop(sessionCtx, conn)

	for {
		env, err := conn.ReadEnvelope()
		if err != nil {
			return err
		}
		switch env.Type {
		case protocol.MsgAssignTask:
			var data protocol.AssignTaskData
			if err := env.Decode(&data); err != nil {
				w.logger.Warn().Err(err).Msg("bad assign_task payload")
				continue
			}
			go w.executeAssigned(sessionCtx, conn, env.JobID, data)
		case protocol.MsgResumeTask:
			var data protocol.ResumeTaskData
			if err := env.Decode(&data); err != nil {
				w.logger.Warn().Err(err).Msg("bad resume_task payload")
				continue
			}
			go w.executeResumed(sessionCtx, conn, env.JobID, data)
		case protocol.MsgPing:
			pong := &protocol.Envelope{Type: protocol.MsgPong}
			if err := conn.WriteEnvelope(pong); err != nil {
				return err
			}
		case protocol.MsgCheckpointAck:
			var ack protocol.CheckpointAckData
			if err := env.Decode(&ack); err == nil {
				w.logger.Debug().
					Str("task_id", ack.TaskID).
					Int("checkpoint_id", ack.CheckpointID).
					Msg("checkpoint acknowledged")
			}
		default:
			w.logger.Debug().Str("type", string(env.Type)).Msg("ignoring envelope")
		}
	}
}

// heartbeatLoop reports liveness and the current task on a fixed cadence
func (w *Worker) heartbeatLoop(ctx context.Context, conn protocol.Conn) {
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			task := w.taskInFlight()
			status := "online"
			if task != "" {
				status = "busy"
			}
			env, err := protocol.New(protocol.MsgWorkerHeartbeat, "", protocol.WorkerHeartbeatData{
				WorkerID:    w.id,
				Status:      status,
				CurrentTask: task,
			})
			if err != nil {
				continue
			}
			if err := conn.WriteEnvelope(env); err != nil {
				return
			}
		}
	}
}

func (w *Worker) setTaskInFlight(taskID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.currentTask = taskID
}

func (w *Worker) taskInFlight() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.currentTask
}
