package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cuemby/foreman/pkg/events"
	"github.com/cuemby/foreman/pkg/log"
	"github.com/cuemby/foreman/pkg/metrics"
	"github.com/cuemby/foreman/pkg/protocol"
	"github.com/cuemby/foreman/pkg/registry"
	"github.com/cuemby/foreman/pkg/scheduler"
	"github.com/cuemby/foreman/pkg/store"
	"github.com/cuemby/foreman/pkg/types"
)

var (
	errWorkerUnavailable = errors.New("worker not available")
	errTaskClaimed       = errors.New("task already claimed")
	errEmitFailed        = errors.New("assignment emit failed")
)

// JobInfo is the slice of the job manager the dispatcher reads on every
// assignment.
type JobInfo interface {
	FuncCode(jobID string) (string, bool)
	SupportsCheckpointing(jobID string) bool
}

// Dispatcher pairs pending tasks with available workers. The claim is a
// two-part critical section: the registry availability slot and the
// task row CAS must both succeed or both roll back, and no lock is ever
// held across the network emit.
type Dispatcher struct {
	store    store.Store
	registry *registry.Registry
	jobs     JobInfo
	strategy scheduler.Strategy
	broker   *events.Broker
	logger   zerolog.Logger
}

// NewDispatcher creates a dispatcher using the given scheduling strategy
func NewDispatcher(st store.Store, reg *registry.Registry, jobs JobInfo, strategy scheduler.Strategy, broker *events.Broker) *Dispatcher {
	return &Dispatcher{
		store:    st,
		registry: reg,
		jobs:     jobs,
		strategy: strategy,
		broker:   broker,
		logger:   log.WithComponent("dispatcher"),
	}
}

// AssignTasksForJob drains a job's pending tasks against the currently
// available workers. It returns the number of tasks assigned; tasks
// left over wait for the next worker to free up.
func (d *Dispatcher) AssignTasksForJob(jobID, funcCode string) int {
	pending, err := d.store.GetPendingTasks(jobID)
	if err != nil {
		d.logger.Error().Err(err).Str("job_id", jobID).Msg("failed to load pending tasks")
		return 0
	}

	assigned := 0
	for _, task := range pending {
		available := d.registry.AvailableWorkers()
		if len(available) == 0 {
			break
		}
		stats, err := d.store.GetWorkerStats()
		if err != nil {
			d.logger.Error().Err(err).Msg("failed to load worker stats")
			stats = nil
		}
		workerID, ok := d.strategy.SelectWorker(task, available, stats)
		if !ok {
			break
		}
		if err := d.assign(task, workerID, funcCode); err != nil {
			// Lost race or dead worker; the remaining tasks may still
			// find another home.
			continue
		}
		assigned++
	}
	return assigned
}

// AssignOneToWorker hands the newly free worker its next task from the
// global backlog. Returns false when nothing could be assigned; the
// worker stays available.
func (d *Dispatcher) AssignOneToWorker(workerID string) bool {
	pending, err := d.store.GetPendingTasks("")
	if err != nil {
		d.logger.Error().Err(err).Msg("failed to load pending tasks")
		return false
	}

	for len(pending) > 0 {
		task, ok := d.strategy.SelectTask(pending, workerID)
		if !ok {
			return false
		}
		funcCode, ok := d.jobs.FuncCode(task.JobID)
		if !ok {
			// Job cache lost (restart); this task cannot be dispatched
			d.logger.Warn().
				Str("task_id", task.ID).
				Str("job_id", task.JobID).
				Msg("no kind tag cached for job, skipping task")
			pending = without(pending, task.ID)
			continue
		}
		err := d.assign(task, workerID, funcCode)
		if err == nil {
			return true
		}
		if errors.Is(err, errTaskClaimed) {
			pending = without(pending, task.ID)
			continue
		}
		return false
	}
	return false
}

// assign runs the two-part claim and emits the assignment. Any failure
// after a partial claim rolls the claimed half back.
func (d *Dispatcher) assign(task *types.Task, workerID, funcCode string) error {
	timer := metrics.NewTimer()

	if !d.registry.TakeAvailable(workerID) {
		return errWorkerUnavailable
	}
	claimed, err := d.store.ClaimTask(task.ID, workerID)
	if err != nil || !claimed {
		d.registry.MarkAvailable(workerID)
		if err != nil {
			d.logger.Error().Err(err).Str("task_id", task.ID).Msg("task claim failed")
			return err
		}
		return errTaskClaimed
	}

	if err := d.emit(task, workerID, funcCode); err != nil {
		// Roll back both halves; the sweeper is not needed for a task
		// that never reached the worker.
		if relErr := d.store.ReleaseTask(task.ID); relErr != nil {
			d.logger.Error().Err(relErr).Str("task_id", task.ID).Msg("task release failed after emit error")
		}
		d.registry.MarkAvailable(workerID)
		d.logger.Warn().
			Err(err).
			Str("task_id", task.ID).
			Str("worker_id", workerID).
			Msg("assignment emit failed, task back to pending")
		return errEmitFailed
	}

	if err := d.store.UpdateWorkerStatus(workerID, types.WorkerStatusBusy, task.ID); err != nil {
		d.logger.Error().Err(err).Str("worker_id", workerID).Msg("failed to mark worker busy")
	}

	metrics.TasksAssigned.Inc()
	timer.ObserveDuration(metrics.DispatchDuration)
	d.broker.Publish(&events.Event{
		Type:    events.EventTaskAssigned,
		Message: fmt.Sprintf("task %s assigned to %s", task.ID, workerID),
		Metadata: map[string]string{
			"task_id":   task.ID,
			"job_id":    task.JobID,
			"worker_id": workerID,
		},
	})
	d.logger.Debug().
		Str("task_id", task.ID).
		Str("worker_id", workerID).
		Str("func_code", funcCode).
		Msg("task assigned")
	return nil
}

func (d *Dispatcher) emit(task *types.Task, workerID, funcCode string) error {
	conn, ok := d.registry.WorkerConn(workerID)
	if !ok {
		return fmt.Errorf("worker %s has no live connection", workerID)
	}
	args := task.Args
	if args == "" {
		args = "null"
	}
	env, err := protocol.New(protocol.MsgAssignTask, task.JobID, protocol.AssignTaskData{
		FuncCode:              funcCode,
		TaskArgs:              []json.RawMessage{json.RawMessage(args)},
		TaskID:                task.ID,
		SupportsCheckpointing: d.jobs.SupportsCheckpointing(task.JobID),
	})
	if err != nil {
		return err
	}
	return conn.WriteEnvelope(env)
}

func without(tasks []*types.Task, taskID string) []*types.Task {
	out := tasks[:0]
	for _, task := range tasks {
		if task.ID != taskID {
			out = append(out, task)
		}
	}
	return out
}
