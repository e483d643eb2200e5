package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Job represents a client batch of tasks sharing one task kind.
type Job struct {
	ID                    string     `json:"id"`
	Status                JobStatus  `json:"status"`
	TotalTasks            int        `json:"total_tasks"`
	CompletedTasks        int        `json:"completed_tasks"`
	CreatedAt             time.Time  `json:"created_at"`
	CompletedAt           *time.Time `json:"completed_at,omitempty"`
	ErrorMessage          string     `json:"error_message,omitempty"`
	SupportsCheckpointing bool       `json:"supports_checkpointing"`
}

// JobStatus represents the lifecycle state of a job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Task represents one unit of a job. Its position in the client's input
// sequence is embedded in the ID and determines its result slot.
type Task struct {
	ID           string     `json:"id"`
	JobID        string     `json:"job_id"`
	WorkerID     string     `json:"worker_id,omitempty"` // set iff assigned/completed/failed
	Status       TaskStatus `json:"status"`
	Args         string     `json:"args,omitempty"`   // JSON-encoded per-task argument
	Result       string     `json:"result,omitempty"` // JSON-encoded result, set when completed
	ErrorMessage string     `json:"error_message,omitempty"`
	Priority     int        `json:"priority"`
	RetryCount   int        `json:"retry_count"`
	AssignedAt   *time.Time `json:"assigned_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`

	Checkpoint CheckpointState `json:"checkpoint"`
}

// TaskStatus represents the state of a task
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusAssigned  TaskStatus = "assigned"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// CheckpointState holds the per-task checkpoint bookkeeping persisted on
// the task row. Exactly one base exists whenever any delta exists.
type CheckpointState struct {
	BaseRef     string            `json:"base_ref,omitempty"` // "stored_<id>" marker, empty when no base
	BaseSize    int               `json:"base_size"`          // raw bytes of the base snapshot
	Deltas      []DeltaCheckpoint `json:"deltas,omitempty"`
	Count       int               `json:"checkpoint_count"` // monotonic, one per stored base or delta
	LastAt      *time.Time        `json:"last_checkpoint_at,omitempty"`
	Progress    float64           `json:"progress_percent"` // 0-100
	StoragePath string            `json:"storage_path,omitempty"`
}

// HasBase reports whether a base checkpoint has been stored.
func (c CheckpointState) HasBase() bool {
	return c.BaseRef != ""
}

// DeltaCheckpoint describes one incremental update applied atop the base.
// Delta IDs are strictly increasing.
type DeltaCheckpoint struct {
	ID          int       `json:"checkpoint_id"`
	Size        int       `json:"size"`
	StoredAt    time.Time `json:"stored_at"`
	Compression string    `json:"compression"`
	StorageRef  string    `json:"storage_ref"`
}

// Worker represents an execution peer. Rows persist across disconnects so
// statistics accumulate over a worker's lifetime.
type Worker struct {
	ID             string       `json:"id"`
	Status         WorkerStatus `json:"status"`
	LastSeen       time.Time    `json:"last_seen"`
	CurrentTaskID  string       `json:"current_task_id,omitempty"` // set iff busy
	TasksCompleted int          `json:"total_tasks_completed"`
	TasksFailed    int          `json:"total_tasks_failed"`
}

// WorkerStatus represents the state of a worker
type WorkerStatus string

const (
	WorkerStatusOnline  WorkerStatus = "online"
	WorkerStatusOffline WorkerStatus = "offline"
	WorkerStatusBusy    WorkerStatus = "busy"
)

// Stats returns the scheduling view of the worker's track record.
func (w *Worker) Stats() WorkerStats {
	return WorkerStats{TasksCompleted: w.TasksCompleted, TasksFailed: w.TasksFailed}
}

// WorkerFailure is an append-only record of one task failure on a worker.
type WorkerFailure struct {
	ID                  int64     `json:"id"`
	WorkerID            string    `json:"worker_id"`
	TaskID              string    `json:"task_id"`
	JobID               string    `json:"job_id"`
	ErrorMessage        string    `json:"error_message"`
	FailedAt            time.Time `json:"failed_at"`
	CheckpointAvailable bool      `json:"checkpoint_available"`
}

// WorkerStats carries the counters scheduler strategies rank workers by.
type WorkerStats struct {
	TasksCompleted int `json:"tasks_completed"`
	TasksFailed    int `json:"tasks_failed"`
}

// SuccessRate returns completed/(completed+failed). A worker with no
// history scores 1.0 so new workers are eligible immediately.
func (s WorkerStats) SuccessRate() float64 {
	total := s.TasksCompleted + s.TasksFailed
	if total == 0 {
		return 1.0
	}
	return float64(s.TasksCompleted) / float64(total)
}

// FailureRate returns failed/(completed+failed), 0.0 with no history.
func (s WorkerStats) FailureRate() float64 {
	total := s.TasksCompleted + s.TasksFailed
	if total == 0 {
		return 0.0
	}
	return float64(s.TasksFailed) / float64(total)
}

// TotalTasks returns the load figure used by least-loaded selection.
func (s WorkerStats) TotalTasks() int {
	return s.TasksCompleted + s.TasksFailed
}

// BrokerStats is the read-only observability tuple the foreman exposes.
type BrokerStats struct {
	ConnectedWorkers int `json:"connected_workers"`
	AvailableWorkers int `json:"available_workers"`
	BusyWorkers      int `json:"busy_workers"`
	ActiveJobs       int `json:"active_jobs"`
}

// TaskID builds the canonical task identifier for the i-th argument of a
// job. The embedded index is the ordering primitive for result assembly.
func TaskID(jobID string, index int) string {
	return fmt.Sprintf("%s_task_%d", jobID, index)
}

// TaskIndex extracts the argument index from a task identifier built by
// TaskID. It scans from the right so job IDs containing "_task_" parse
// correctly.
func TaskIndex(taskID string) (int, error) {
	i := strings.LastIndex(taskID, "_task_")
	if i < 0 {
		return 0, fmt.Errorf("task id %q has no index suffix", taskID)
	}
	idx, err := strconv.Atoi(taskID[i+len("_task_"):])
	if err != nil {
		return 0, fmt.Errorf("task id %q has malformed index: %w", taskID, err)
	}
	return idx, nil
}
