package sweeper

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/foreman/pkg/checkpoint"
	"github.com/cuemby/foreman/pkg/events"
	"github.com/cuemby/foreman/pkg/log"
	"github.com/cuemby/foreman/pkg/metrics"
	"github.com/cuemby/foreman/pkg/registry"
	"github.com/cuemby/foreman/pkg/store"
	"github.com/cuemby/foreman/pkg/types"
)

const (
	// DefaultInterval is the pause between sweep cycles.
	DefaultInterval = 30 * time.Second

	// DefaultStallThreshold is how long an assigned task may go without
	// a sign of life (assignment or checkpoint) before recovery.
	DefaultStallThreshold = 5 * time.Minute

	// DefaultWorkerStaleAfter is how long a worker row may go untouched
	// before it is marked offline. Three missed heartbeats.
	DefaultWorkerStaleAfter = 90 * time.Second
)

// JobInfo is the slice of the job manager the sweeper reads.
type JobInfo interface {
	FuncCode(jobID string) (string, bool)
}

// Sweeper recovers tasks orphaned by dead workers. Stalled assigned
// tasks with a usable checkpoint are re-dispatched as resumes; the rest
// go back to pending for normal dispatch. A second pass marks worker
// rows offline once their liveness timestamp goes stale.
type Sweeper struct {
	store       store.Store
	registry    *registry.Registry
	jobs        JobInfo
	checkpoints *checkpoint.Manager
	broker      *events.Broker

	interval         time.Duration
	stallThreshold   time.Duration
	workerStaleAfter time.Duration

	stopCh chan struct{}
	logger zerolog.Logger
}

// Config wires the sweeper. Zero durations select the defaults.
type Config struct {
	Store            store.Store
	Registry         *registry.Registry
	Jobs             JobInfo
	Checkpoints      *checkpoint.Manager
	Broker           *events.Broker
	Interval         time.Duration
	StallThreshold   time.Duration
	WorkerStaleAfter time.Duration
}

// NewSweeper creates a sweeper
func NewSweeper(cfg Config) *Sweeper {
	s := &Sweeper{
		store:            cfg.Store,
		registry:         cfg.Registry,
		jobs:             cfg.Jobs,
		checkpoints:      cfg.Checkpoints,
		broker:           cfg.Broker,
		interval:         cfg.Interval,
		stallThreshold:   cfg.StallThreshold,
		workerStaleAfter: cfg.WorkerStaleAfter,
		stopCh:           make(chan struct{}),
		logger:           log.WithComponent("sweeper"),
	}
	if s.interval <= 0 {
		s.interval = DefaultInterval
	}
	if s.stallThreshold <= 0 {
		s.stallThreshold = DefaultStallThreshold
	}
	if s.workerStaleAfter <= 0 {
		s.workerStaleAfter = DefaultWorkerStaleAfter
	}
	return s
}

// Start begins the background sweep loop
func (s *Sweeper) Start() {
	go s.run()
}

// Stop halts the loop
func (s *Sweeper) Stop() {
	close(s.stopCh)
}

func (s *Sweeper) run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-s.stopCh:
			return
		}
	}
}

// Sweep runs one recovery cycle
func (s *Sweeper) Sweep() {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SweepDuration)
	metrics.SweepCyclesTotal.Inc()

	s.recoverStalledTasks()
	s.expireStaleWorkers()
}

func (s *Sweeper) recoverStalledTasks() {
	cutoff := time.Now().Add(-s.stallThreshold)
	stalled, err := s.store.StalledAssignedTasks(cutoff)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to query stalled tasks")
		return
	}

	for _, task := range stalled {
		metrics.TasksSwept.Inc()
		s.logger.Warn().
			Str("task_id", task.ID).
			Str("worker_id", task.WorkerID).
			Msg("recovering stalled task")

		if checkpoint.ShouldResume(task) && s.resume(task) {
			continue
		}
		// Back to pending; normal dispatch picks it up
		if err := s.store.ReleaseTask(task.ID); err != nil {
			s.logger.Error().Err(err).Str("task_id", task.ID).Msg("failed to release stalled task")
		}
	}
}

// resume re-dispatches a checkpointed task to an available worker with
// its reconstructed state. Returns false when no worker could take it;
// the caller then releases the task instead.
func (s *Sweeper) resume(task *types.Task) bool {
	kind, ok := s.jobs.FuncCode(task.JobID)
	if !ok {
		s.logger.Warn().
			Str("task_id", task.ID).
			Str("job_id", task.JobID).
			Msg("no kind tag cached for job, resuming fresh instead")
		return false
	}

	env, err := s.checkpoints.BuildResumeEnvelope(task.ID, task.JobID, kind)
	if err != nil {
		s.logger.Warn().Err(err).Str("task_id", task.ID).Msg("resume state reconstruction failed")
		return false
	}

	for _, workerID := range s.registry.AvailableWorkers() {
		if !s.registry.TakeAvailable(workerID) {
			continue
		}
		// The stalled claim belongs to the dead worker; move it over
		if err := s.store.ReleaseTask(task.ID); err != nil {
			s.registry.MarkAvailable(workerID)
			s.logger.Error().Err(err).Str("task_id", task.ID).Msg("failed to release task for resume")
			return false
		}
		claimed, err := s.store.ClaimTask(task.ID, workerID)
		if err != nil || !claimed {
			s.registry.MarkAvailable(workerID)
			return false
		}

		conn, ok := s.registry.WorkerConn(workerID)
		if !ok {
			s.rollbackResume(task.ID, workerID)
			continue
		}
		if err := conn.WriteEnvelope(env); err != nil {
			s.rollbackResume(task.ID, workerID)
			s.logger.Warn().Err(err).
				Str("task_id", task.ID).
				Str("worker_id", workerID).
				Msg("resume emit failed")
			continue
		}

		if err := s.store.UpdateWorkerStatus(workerID, types.WorkerStatusBusy, task.ID); err != nil {
			s.logger.Debug().Err(err).Str("worker_id", workerID).Msg("failed to mark worker busy")
		}
		metrics.TasksResumed.Inc()
		s.broker.Publish(&events.Event{
			Type:    events.EventTaskResumed,
			Message: fmt.Sprintf("task %s resumed on %s from checkpoint %d", task.ID, workerID, task.Checkpoint.Count),
			Metadata: map[string]string{
				"task_id":   task.ID,
				"worker_id": workerID,
			},
		})
		s.logger.Info().
			Str("task_id", task.ID).
			Str("worker_id", workerID).
			Int("checkpoint_count", task.Checkpoint.Count).
			Msg("task resumed from checkpoint")
		return true
	}
	return false
}

func (s *Sweeper) rollbackResume(taskID, workerID string) {
	if err := s.store.ReleaseTask(taskID); err != nil {
		s.logger.Error().Err(err).Str("task_id", taskID).Msg("failed to release task after resume rollback")
	}
	s.registry.MarkAvailable(workerID)
}

// expireStaleWorkers marks rows offline for workers that vanished
// without a disconnect.
func (s *Sweeper) expireStaleWorkers() {
	cutoff := time.Now().Add(-s.workerStaleAfter)
	stale, err := s.store.StaleWorkers(cutoff)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to query stale workers")
		return
	}

	for _, worker := range stale {
		if _, live := s.registry.WorkerConn(worker.ID); live {
			continue
		}
		if err := s.store.UpdateWorkerStatus(worker.ID, types.WorkerStatusOffline, ""); err != nil {
			s.logger.Error().Err(err).Str("worker_id", worker.ID).Msg("failed to expire worker")
			continue
		}
		s.registry.MarkBusy(worker.ID)
		s.broker.Publish(&events.Event{
			Type:     events.EventWorkerOffline,
			Message:  fmt.Sprintf("worker %s expired after missed heartbeats", worker.ID),
			Metadata: map[string]string{"worker_id": worker.ID},
		})
		s.logger.Warn().Str("worker_id", worker.ID).Msg("worker expired")
	}
}
