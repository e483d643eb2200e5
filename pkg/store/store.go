package store

import (
	"time"

	"github.com/cuemby/foreman/pkg/types"
)

// Store defines the interface for foreman state storage
// This is implemented by SQLite-backed storage
type Store interface {
	// Jobs
	CreateJob(job *types.Job) error
	GetJob(id string) (*types.Job, error)
	ListJobs(limit, offset int) ([]*types.Job, error)
	UpdateJobStatus(jobID string, status types.JobStatus) error
	SetJobError(jobID, message string) error

	// Tasks
	CreateTasks(tasks []*types.Task) error
	GetTask(id string) (*types.Task, error)
	GetJobTasks(jobID string) ([]*types.Task, error)
	GetPendingTasks(jobID string) ([]*types.Task, error)
	ClaimTask(taskID, workerID string) (bool, error)
	ReleaseTask(taskID string) error
	CompleteTaskIfAssigned(taskID, workerID, resultJSON string) (accepted bool, completed, total int, err error)
	FailTask(taskID, errorMessage string, maxRetries int) (terminal bool, done, total int, err error)

	// Workers
	UpsertWorker(id string) error
	GetWorker(id string) (*types.Worker, error)
	ListWorkers() ([]*types.Worker, error)
	UpdateWorkerStatus(id string, status types.WorkerStatus, currentTaskID string) error
	TouchWorker(id string) error
	IncrementWorkerStats(id string, completed bool) error
	GetWorkerStats() (map[string]types.WorkerStats, error)
	RecordWorkerFailure(failure *types.WorkerFailure) error

	// Checkpoint bookkeeping on task rows
	UpdateTaskCheckpoint(taskID string, cp types.CheckpointState) error
	ClearTaskCheckpoint(taskID string) error

	// Sweeper queries
	StalledAssignedTasks(olderThan time.Time) ([]*types.Task, error)
	StaleWorkers(olderThan time.Time) ([]*types.Worker, error)

	// Utility
	Close() error
}
