package job

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/foreman/pkg/events"
	"github.com/cuemby/foreman/pkg/log"
	"github.com/cuemby/foreman/pkg/metrics"
	"github.com/cuemby/foreman/pkg/store"
	"github.com/cuemby/foreman/pkg/types"
)

// DefaultRetryLimit is the number of attempts a task gets before it
// fails terminally. Zero means unbounded retries.
const DefaultRetryLimit = 3

// cacheEntry carries the per-job fields the dispatcher needs on every
// assignment without a row read.
type cacheEntry struct {
	funcCode              string
	totalTasks            int
	supportsCheckpointing bool
}

// Manager owns job lifecycle: creation, completion accounting, retry
// policy, and result assembly. All durable state lives in the store;
// the in-memory cache only mirrors the immutable job fields and is
// rebuilt per job on creation.
type Manager struct {
	store      store.Store
	broker     *events.Broker
	retryLimit int

	mu    sync.RWMutex
	cache map[string]cacheEntry

	logger zerolog.Logger
}

// NewManager creates a job manager. retryLimit < 0 selects the default;
// 0 disables the cap.
func NewManager(st store.Store, broker *events.Broker, retryLimit int) *Manager {
	if retryLimit < 0 {
		retryLimit = DefaultRetryLimit
	}
	return &Manager{
		store:      st,
		broker:     broker,
		retryLimit: retryLimit,
		cache:      make(map[string]cacheEntry),
		logger:     log.WithComponent("job-manager"),
	}
}

// CreateJob persists a job and its task rows. Each argument becomes one
// pending task whose ID embeds its index, which later determines its
// result slot.
func (m *Manager) CreateJob(jobID, funcCode string, argsList []json.RawMessage, totalTasks int, supportsCheckpointing bool) error {
	if jobID == "" {
		return fmt.Errorf("job id is required")
	}
	if funcCode == "" {
		return fmt.Errorf("func_code is required")
	}
	if totalTasks < 0 {
		return fmt.Errorf("total_tasks must be non-negative, got %d", totalTasks)
	}
	if totalTasks != len(argsList) {
		return fmt.Errorf("total_tasks %d does not match %d arguments", totalTasks, len(argsList))
	}

	jobRow := &types.Job{
		ID:                    jobID,
		Status:                types.JobStatusRunning,
		TotalTasks:            totalTasks,
		CreatedAt:             time.Now().UTC(),
		SupportsCheckpointing: supportsCheckpointing,
	}
	if err := m.store.CreateJob(jobRow); err != nil {
		return err
	}

	if totalTasks > 0 {
		tasks := make([]*types.Task, totalTasks)
		for i, arg := range argsList {
			tasks[i] = &types.Task{
				ID:     types.TaskID(jobID, i),
				JobID:  jobID,
				Status: types.TaskStatusPending,
				Args:   string(arg),
			}
		}
		if err := m.store.CreateTasks(tasks); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.cache[jobID] = cacheEntry{
		funcCode:              funcCode,
		totalTasks:            totalTasks,
		supportsCheckpointing: supportsCheckpointing,
	}
	m.mu.Unlock()

	metrics.JobsSubmitted.Inc()
	m.broker.Publish(&events.Event{
		Type:     events.EventJobSubmitted,
		Message:  fmt.Sprintf("job %s submitted with %d tasks", jobID, totalTasks),
		Metadata: map[string]string{"job_id": jobID, "func_code": funcCode},
	})
	m.logger.Info().
		Str("job_id", jobID).
		Str("func_code", funcCode).
		Int("total_tasks", totalTasks).
		Bool("checkpointing", supportsCheckpointing).
		Msg("job created")
	return nil
}

// FuncCode returns the kind tag of a cached job
func (m *Manager) FuncCode(jobID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.cache[jobID]
	return entry.funcCode, ok
}

// SupportsCheckpointing reports whether the job opted into checkpointing
func (m *Manager) SupportsCheckpointing(jobID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cache[jobID].supportsCheckpointing
}

// ActiveJobs returns the number of jobs not yet finalized
func (m *Manager) ActiveJobs() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.cache)
}

// MarkTaskCompleted records a worker's result. accepted is false when
// the task was no longer assigned to that worker, in which case nothing
// was mutated. jobComplete is true when every task of the job is now
// terminal.
func (m *Manager) MarkTaskCompleted(taskID, jobID, workerID string, result json.RawMessage) (accepted, jobComplete bool, err error) {
	resultJSON := string(result)
	if resultJSON == "" {
		resultJSON = "null"
	}

	accepted, completed, total, err := m.store.CompleteTaskIfAssigned(taskID, workerID, resultJSON)
	if err != nil {
		return false, false, err
	}
	if !accepted {
		m.logger.Warn().
			Str("task_id", taskID).
			Str("worker_id", workerID).
			Msg("stale or duplicate task result dropped")
		return false, false, nil
	}

	metrics.TasksCompleted.Inc()
	m.broker.Publish(&events.Event{
		Type:     events.EventTaskCompleted,
		Message:  fmt.Sprintf("task %s completed by %s", taskID, workerID),
		Metadata: map[string]string{"task_id": taskID, "job_id": jobID, "worker_id": workerID},
	})

	if completed == total {
		return true, true, nil
	}
	// Earlier terminal failures keep completed short of total, so the
	// last completion of a partially failed job needs the full count.
	done, err := m.terminalCount(jobID)
	if err != nil {
		return true, false, err
	}
	return true, done == total, nil
}

// MarkTaskFailed records a worker-reported execution error. Under the
// retry cap the task returns to pending; at the cap it fails terminally.
// jobComplete is true when the failure made the job fully terminal.
func (m *Manager) MarkTaskFailed(taskID, jobID, workerID, errorMessage string) (terminal, jobComplete bool, err error) {
	checkpointAvailable := false
	if task, taskErr := m.store.GetTask(taskID); taskErr == nil {
		checkpointAvailable = task.Checkpoint.HasBase()
	}
	if recErr := m.store.RecordWorkerFailure(&types.WorkerFailure{
		WorkerID:            workerID,
		TaskID:              taskID,
		JobID:               jobID,
		ErrorMessage:        errorMessage,
		FailedAt:            time.Now().UTC(),
		CheckpointAvailable: checkpointAvailable,
	}); recErr != nil {
		m.logger.Error().Err(recErr).Str("task_id", taskID).Msg("failed to record worker failure")
	}

	terminal, done, total, err := m.store.FailTask(taskID, errorMessage, m.retryLimit)
	if err != nil {
		return false, false, err
	}
	if done == 0 && total == 0 {
		// Stale report for a task no longer assigned
		return false, false, nil
	}

	metrics.TasksFailed.Inc()
	if terminal {
		m.broker.Publish(&events.Event{
			Type:     events.EventTaskFailed,
			Message:  fmt.Sprintf("task %s failed terminally: %s", taskID, errorMessage),
			Metadata: map[string]string{"task_id": taskID, "job_id": jobID, "worker_id": workerID},
		})
	} else {
		metrics.TasksRetried.Inc()
		m.broker.Publish(&events.Event{
			Type:     events.EventTaskRetried,
			Message:  fmt.Sprintf("task %s reset to pending after failure on %s", taskID, workerID),
			Metadata: map[string]string{"task_id": taskID, "job_id": jobID, "worker_id": workerID},
		})
	}
	return terminal, done == total, nil
}

// GetJobResults assembles the ordered result list. It returns ok=false
// while any task is still pending or assigned. Failed tasks contribute
// null slots, so a partially failed job still yields the results it has.
func (m *Manager) GetJobResults(jobID string) ([]any, bool, error) {
	jobRow, err := m.store.GetJob(jobID)
	if err != nil {
		return nil, false, err
	}
	tasks, err := m.store.GetJobTasks(jobID)
	if err != nil {
		return nil, false, err
	}

	results := make([]any, jobRow.TotalTasks)
	for _, task := range tasks {
		switch task.Status {
		case types.TaskStatusPending, types.TaskStatusAssigned:
			return nil, false, nil
		case types.TaskStatusFailed:
			continue // null slot
		}
		idx, idxErr := types.TaskIndex(task.ID)
		if idxErr != nil || idx < 0 || idx >= len(results) {
			m.logger.Error().Str("task_id", task.ID).Msg("task id outside job result range")
			continue
		}
		var value any
		if err := json.Unmarshal([]byte(task.Result), &value); err != nil {
			// Legacy rows may hold a bare string result
			value = task.Result
		}
		results[idx] = value
	}
	return results, true, nil
}

// FinalizeJob marks the job completed, notes partial failures in its
// error message, and evicts the cache entry.
func (m *Manager) FinalizeJob(jobID string) error {
	tasks, err := m.store.GetJobTasks(jobID)
	if err != nil {
		return err
	}
	failed := 0
	for _, task := range tasks {
		if task.Status == types.TaskStatusFailed {
			failed++
		}
	}
	if failed > 0 {
		msg := fmt.Sprintf("%d of %d tasks failed terminally", failed, len(tasks))
		if err := m.store.SetJobError(jobID, msg); err != nil {
			m.logger.Error().Err(err).Str("job_id", jobID).Msg("failed to record job error message")
		}
	}
	if err := m.store.UpdateJobStatus(jobID, types.JobStatusCompleted); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.cache, jobID)
	m.mu.Unlock()

	metrics.JobsCompleted.Inc()
	m.broker.Publish(&events.Event{
		Type:     events.EventJobCompleted,
		Message:  fmt.Sprintf("job %s completed", jobID),
		Metadata: map[string]string{"job_id": jobID},
	})
	m.logger.Info().Str("job_id", jobID).Int("failed_tasks", failed).Msg("job finalized")
	return nil
}

// JobProgress returns the job's completed and total task counts
func (m *Manager) JobProgress(jobID string) (completed, total int, err error) {
	jobRow, err := m.store.GetJob(jobID)
	if err != nil {
		return 0, 0, err
	}
	return jobRow.CompletedTasks, jobRow.TotalTasks, nil
}

func (m *Manager) terminalCount(jobID string) (int, error) {
	tasks, err := m.store.GetJobTasks(jobID)
	if err != nil {
		return 0, err
	}
	done := 0
	for _, task := range tasks {
		if task.Status == types.TaskStatusCompleted || task.Status == types.TaskStatusFailed {
			done++
		}
	}
	return done, nil
}
