package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cuemby/foreman/pkg/types"
	_ "modernc.org/sqlite"
)

const (
	maxAttempts = 3
	retryDelay  = 50 * time.Millisecond
)

// SQLiteStore implements Store using a single-file SQLite database
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the foreman database, creating schema on first use
func NewSQLiteStore(dataDir string) (*SQLiteStore, error) {
	dbPath := filepath.Join(dataDir, "foreman.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	store := &SQLiteStore{db: db}
	if err := store.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) createTables() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			total_tasks INTEGER NOT NULL,
			completed_tasks INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			completed_at INTEGER,
			error_message TEXT,
			supports_checkpointing INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			job_id TEXT NOT NULL REFERENCES jobs(id),
			worker_id TEXT,
			status TEXT NOT NULL,
			args TEXT,
			result TEXT,
			error_message TEXT,
			priority INTEGER NOT NULL DEFAULT 0,
			retry_count INTEGER NOT NULL DEFAULT 0,
			assigned_at INTEGER,
			completed_at INTEGER,
			base_checkpoint_data TEXT,
			base_checkpoint_size INTEGER NOT NULL DEFAULT 0,
			delta_checkpoints TEXT,
			last_checkpoint_at INTEGER,
			progress_percent REAL NOT NULL DEFAULT 0,
			checkpoint_count INTEGER NOT NULL DEFAULT 0,
			checkpoint_storage_path TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS workers (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			last_seen INTEGER NOT NULL,
			current_task_id TEXT,
			total_tasks_completed INTEGER NOT NULL DEFAULT 0,
			total_tasks_failed INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS worker_failures (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			worker_id TEXT NOT NULL,
			task_id TEXT NOT NULL,
			job_id TEXT NOT NULL,
			error_message TEXT,
			failed_at INTEGER NOT NULL,
			checkpoint_available INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_job_id ON tasks(job_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`,
		`CREATE INDEX IF NOT EXISTS idx_worker_failures_worker ON worker_failures(worker_id)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// withRetry reruns fn on SQLite contention errors, up to maxAttempts.
func (s *SQLiteStore) withRetry(fn func() error) error {
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(retryDelay * time.Duration(attempt))
		}
		err = fn()
		if err == nil || !isTransient(err) {
			return err
		}
	}
	return err
}

func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case isConflictErr(err):
		return newError(KindConflict, op, err)
	case isTransient(err):
		return newError(KindTransient, op, err)
	default:
		return newError(KindInternal, op, err)
	}
}

// Job operations

func (s *SQLiteStore) CreateJob(job *types.Job) error {
	const op = "create_job"
	created := job.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	return s.withRetry(func() error {
		_, err := s.db.Exec(
			`INSERT INTO jobs (id, status, total_tasks, completed_tasks, created_at, completed_at, error_message, supports_checkpointing)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			job.ID, job.Status, job.TotalTasks, job.CompletedTasks,
			created.UnixNano(), nanosOrNil(job.CompletedAt), nullStr(job.ErrorMessage),
			boolInt(job.SupportsCheckpointing),
		)
		return classify(op, err)
	})
}

func (s *SQLiteStore) GetJob(id string) (*types.Job, error) {
	const op = "get_job"
	row := s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, notFound(op, "job", id)
	}
	if err != nil {
		return nil, classify(op, err)
	}
	return job, nil
}

func (s *SQLiteStore) ListJobs(limit, offset int) ([]*types.Job, error) {
	const op = "list_jobs"
	if limit <= 0 {
		limit = -1 // no limit
	}
	rows, err := s.db.Query(
		`SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, classify(op, err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []*types.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, classify(op, err)
		}
		jobs = append(jobs, job)
	}
	return jobs, classify(op, rows.Err())
}

func (s *SQLiteStore) UpdateJobStatus(jobID string, status types.JobStatus) error {
	const op = "update_job_status"
	return s.withRetry(func() error {
		var res sql.Result
		var err error
		if status == types.JobStatusCompleted || status == types.JobStatusFailed {
			res, err = s.db.Exec(
				`UPDATE jobs SET status = ?, completed_at = COALESCE(completed_at, ?) WHERE id = ?`,
				status, time.Now().UTC().UnixNano(), jobID,
			)
		} else {
			res, err = s.db.Exec(`UPDATE jobs SET status = ? WHERE id = ?`, status, jobID)
		}
		if err != nil {
			return classify(op, err)
		}
		return requireRow(op, "job", jobID, res)
	})
}

func (s *SQLiteStore) SetJobError(jobID, message string) error {
	const op = "set_job_error"
	return s.withRetry(func() error {
		res, err := s.db.Exec(`UPDATE jobs SET error_message = ? WHERE id = ?`, message, jobID)
		if err != nil {
			return classify(op, err)
		}
		return requireRow(op, "job", jobID, res)
	})
}

// Task operations

func (s *SQLiteStore) CreateTasks(tasks []*types.Task) error {
	const op = "create_tasks"
	return s.withRetry(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return classify(op, err)
		}
		defer func() { _ = tx.Rollback() }()

		stmt, err := tx.Prepare(
			`INSERT INTO tasks (id, job_id, status, args, priority) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return classify(op, err)
		}
		defer func() { _ = stmt.Close() }()

		for _, task := range tasks {
			if _, err := stmt.Exec(task.ID, task.JobID, task.Status, task.Args, task.Priority); err != nil {
				return classify(op, err)
			}
		}
		return classify(op, tx.Commit())
	})
}

func (s *SQLiteStore) GetTask(id string) (*types.Task, error) {
	const op = "get_task"
	row := s.db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, notFound(op, "task", id)
	}
	if err != nil {
		return nil, classify(op, err)
	}
	return task, nil
}

func (s *SQLiteStore) GetJobTasks(jobID string) ([]*types.Task, error) {
	return s.queryTasks("get_job_tasks",
		`SELECT `+taskColumns+` FROM tasks WHERE job_id = ? ORDER BY rowid`, jobID)
}

func (s *SQLiteStore) GetPendingTasks(jobID string) ([]*types.Task, error) {
	const op = "get_pending_tasks"
	if jobID == "" {
		return s.queryTasks(op,
			`SELECT `+taskColumns+` FROM tasks WHERE status = ? ORDER BY rowid`,
			types.TaskStatusPending)
	}
	return s.queryTasks(op,
		`SELECT `+taskColumns+` FROM tasks WHERE status = ? AND job_id = ? ORDER BY rowid`,
		types.TaskStatusPending, jobID)
}

// ClaimTask moves a task pending->assigned for one worker. The WHERE
// clause is the compare-and-set; losing the race returns false, nil.
func (s *SQLiteStore) ClaimTask(taskID, workerID string) (bool, error) {
	const op = "claim_task"
	var claimed bool
	err := s.withRetry(func() error {
		res, err := s.db.Exec(
			`UPDATE tasks SET status = ?, worker_id = ?, assigned_at = ? WHERE id = ? AND status = ?`,
			types.TaskStatusAssigned, workerID, time.Now().UTC().UnixNano(),
			taskID, types.TaskStatusPending,
		)
		if err != nil {
			return classify(op, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return classify(op, err)
		}
		claimed = n == 1
		return nil
	})
	return claimed, err
}

// ReleaseTask undoes a claim whose dispatch never reached the worker.
// Idempotent; a task not in assigned is left alone.
func (s *SQLiteStore) ReleaseTask(taskID string) error {
	const op = "release_task"
	return s.withRetry(func() error {
		_, err := s.db.Exec(
			`UPDATE tasks SET status = ?, worker_id = NULL, assigned_at = NULL WHERE id = ? AND status = ?`,
			types.TaskStatusPending, taskID, types.TaskStatusAssigned,
		)
		return classify(op, err)
	})
}

// CompleteTaskIfAssigned records a result exactly once: the task row CAS
// and the job counter increment commit in one transaction. A stale or
// duplicate report returns accepted=false with nothing mutated.
func (s *SQLiteStore) CompleteTaskIfAssigned(taskID, workerID, resultJSON string) (bool, int, int, error) {
	const op = "complete_task"
	var (
		accepted  bool
		completed int
		total     int
	)
	err := s.withRetry(func() error {
		accepted, completed, total = false, 0, 0

		tx, err := s.db.Begin()
		if err != nil {
			return classify(op, err)
		}
		defer func() { _ = tx.Rollback() }()

		var jobID string
		err = tx.QueryRow(`SELECT job_id FROM tasks WHERE id = ?`, taskID).Scan(&jobID)
		if err == sql.ErrNoRows {
			return notFound(op, "task", taskID)
		}
		if err != nil {
			return classify(op, err)
		}

		res, err := tx.Exec(
			`UPDATE tasks SET status = ?, result = ?, completed_at = ?, error_message = NULL
			 WHERE id = ? AND status = ? AND worker_id = ?`,
			types.TaskStatusCompleted, resultJSON, time.Now().UTC().UnixNano(),
			taskID, types.TaskStatusAssigned, workerID,
		)
		if err != nil {
			return classify(op, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return classify(op, err)
		}
		if n == 0 {
			return nil // lost the CAS; leave the transaction unapplied
		}

		if _, err := tx.Exec(
			`UPDATE jobs SET completed_tasks = completed_tasks + 1 WHERE id = ?`, jobID); err != nil {
			return classify(op, err)
		}
		if err := tx.QueryRow(
			`SELECT completed_tasks, total_tasks FROM jobs WHERE id = ?`, jobID).
			Scan(&completed, &total); err != nil {
			return classify(op, err)
		}
		if err := tx.Commit(); err != nil {
			return classify(op, err)
		}
		accepted = true
		return nil
	})
	return accepted, completed, total, err
}

// FailTask applies the retry policy to an assigned task: under the cap the
// task returns to pending for re-dispatch, at the cap it fails terminally.
// maxRetries 0 means unbounded retries. The returned done/total counts
// terminal tasks against the job size; a stale report returns all zeros.
func (s *SQLiteStore) FailTask(taskID, errorMessage string, maxRetries int) (bool, int, int, error) {
	const op = "fail_task"
	var (
		terminal bool
		done     int
		total    int
	)
	err := s.withRetry(func() error {
		terminal, done, total = false, 0, 0

		tx, err := s.db.Begin()
		if err != nil {
			return classify(op, err)
		}
		defer func() { _ = tx.Rollback() }()

		var (
			jobID      string
			retryCount int
			status     types.TaskStatus
		)
		err = tx.QueryRow(`SELECT job_id, retry_count, status FROM tasks WHERE id = ?`, taskID).
			Scan(&jobID, &retryCount, &status)
		if err == sql.ErrNoRows {
			return notFound(op, "task", taskID)
		}
		if err != nil {
			return classify(op, err)
		}
		if status != types.TaskStatusAssigned {
			return nil // duplicate or stale failure report
		}

		newCount := retryCount + 1
		terminal = maxRetries > 0 && newCount >= maxRetries
		if terminal {
			_, err = tx.Exec(
				`UPDATE tasks SET status = ?, error_message = ?, retry_count = ?, completed_at = ? WHERE id = ?`,
				types.TaskStatusFailed, errorMessage, newCount, time.Now().UTC().UnixNano(), taskID,
			)
		} else {
			_, err = tx.Exec(
				`UPDATE tasks SET status = ?, worker_id = NULL, assigned_at = NULL, error_message = ?, retry_count = ? WHERE id = ?`,
				types.TaskStatusPending, errorMessage, newCount, taskID,
			)
		}
		if err != nil {
			return classify(op, err)
		}

		if err := tx.QueryRow(
			`SELECT COUNT(*) FROM tasks WHERE job_id = ? AND status IN (?, ?)`,
			jobID, types.TaskStatusCompleted, types.TaskStatusFailed).Scan(&done); err != nil {
			return classify(op, err)
		}
		if err := tx.QueryRow(
			`SELECT total_tasks FROM jobs WHERE id = ?`, jobID).Scan(&total); err != nil {
			return classify(op, err)
		}
		return classify(op, tx.Commit())
	})
	return terminal, done, total, err
}

// Worker operations

// UpsertWorker creates the row on first contact and revives it afterwards.
// Counters survive reconnects.
func (s *SQLiteStore) UpsertWorker(id string) error {
	const op = "upsert_worker"
	return s.withRetry(func() error {
		_, err := s.db.Exec(
			`INSERT INTO workers (id, status, last_seen) VALUES (?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET status = excluded.status, last_seen = excluded.last_seen, current_task_id = NULL`,
			id, types.WorkerStatusOnline, time.Now().UTC().UnixNano(),
		)
		return classify(op, err)
	})
}

func (s *SQLiteStore) GetWorker(id string) (*types.Worker, error) {
	const op = "get_worker"
	row := s.db.QueryRow(`SELECT `+workerColumns+` FROM workers WHERE id = ?`, id)
	worker, err := scanWorker(row)
	if err == sql.ErrNoRows {
		return nil, notFound(op, "worker", id)
	}
	if err != nil {
		return nil, classify(op, err)
	}
	return worker, nil
}

func (s *SQLiteStore) ListWorkers() ([]*types.Worker, error) {
	return s.queryWorkers("list_workers",
		`SELECT `+workerColumns+` FROM workers ORDER BY id`)
}

func (s *SQLiteStore) UpdateWorkerStatus(id string, status types.WorkerStatus, currentTaskID string) error {
	const op = "update_worker_status"
	return s.withRetry(func() error {
		res, err := s.db.Exec(
			`UPDATE workers SET status = ?, current_task_id = ?, last_seen = ? WHERE id = ?`,
			status, nullStr(currentTaskID), time.Now().UTC().UnixNano(), id,
		)
		if err != nil {
			return classify(op, err)
		}
		return requireRow(op, "worker", id, res)
	})
}

func (s *SQLiteStore) TouchWorker(id string) error {
	const op = "touch_worker"
	return s.withRetry(func() error {
		res, err := s.db.Exec(
			`UPDATE workers SET last_seen = ? WHERE id = ?`,
			time.Now().UTC().UnixNano(), id,
		)
		if err != nil {
			return classify(op, err)
		}
		return requireRow(op, "worker", id, res)
	})
}

func (s *SQLiteStore) IncrementWorkerStats(id string, completed bool) error {
	const op = "increment_worker_stats"
	column := "total_tasks_failed"
	if completed {
		column = "total_tasks_completed"
	}
	return s.withRetry(func() error {
		res, err := s.db.Exec(
			`UPDATE workers SET `+column+` = `+column+` + 1, last_seen = ? WHERE id = ?`,
			time.Now().UTC().UnixNano(), id,
		)
		if err != nil {
			return classify(op, err)
		}
		return requireRow(op, "worker", id, res)
	})
}

func (s *SQLiteStore) GetWorkerStats() (map[string]types.WorkerStats, error) {
	const op = "get_worker_stats"
	rows, err := s.db.Query(`SELECT id, total_tasks_completed, total_tasks_failed FROM workers`)
	if err != nil {
		return nil, classify(op, err)
	}
	defer func() { _ = rows.Close() }()

	stats := make(map[string]types.WorkerStats)
	for rows.Next() {
		var id string
		var st types.WorkerStats
		if err := rows.Scan(&id, &st.TasksCompleted, &st.TasksFailed); err != nil {
			return nil, classify(op, err)
		}
		stats[id] = st
	}
	return stats, classify(op, rows.Err())
}

func (s *SQLiteStore) RecordWorkerFailure(failure *types.WorkerFailure) error {
	const op = "record_worker_failure"
	failedAt := failure.FailedAt
	if failedAt.IsZero() {
		failedAt = time.Now().UTC()
	}
	return s.withRetry(func() error {
		_, err := s.db.Exec(
			`INSERT INTO worker_failures (worker_id, task_id, job_id, error_message, failed_at, checkpoint_available)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			failure.WorkerID, failure.TaskID, failure.JobID, failure.ErrorMessage,
			failedAt.UnixNano(), boolInt(failure.CheckpointAvailable),
		)
		return classify(op, err)
	})
}

// Checkpoint bookkeeping

// UpdateTaskCheckpoint writes every checkpoint column in one statement so
// compaction swaps base and deltas atomically.
func (s *SQLiteStore) UpdateTaskCheckpoint(taskID string, cp types.CheckpointState) error {
	const op = "update_task_checkpoint"
	var deltasJSON any
	if len(cp.Deltas) > 0 {
		raw, err := json.Marshal(cp.Deltas)
		if err != nil {
			return newError(KindInternal, op, err)
		}
		deltasJSON = string(raw)
	}
	return s.withRetry(func() error {
		res, err := s.db.Exec(
			`UPDATE tasks SET base_checkpoint_data = ?, base_checkpoint_size = ?, delta_checkpoints = ?,
			 last_checkpoint_at = ?, progress_percent = ?, checkpoint_count = ?, checkpoint_storage_path = ?
			 WHERE id = ?`,
			nullStr(cp.BaseRef), cp.BaseSize, deltasJSON,
			nanosOrNil(cp.LastAt), cp.Progress, cp.Count, nullStr(cp.StoragePath),
			taskID,
		)
		if err != nil {
			return classify(op, err)
		}
		return requireRow(op, "task", taskID, res)
	})
}

// ClearTaskCheckpoint drops blob references after terminal completion.
// checkpoint_count and progress stay as history.
func (s *SQLiteStore) ClearTaskCheckpoint(taskID string) error {
	const op = "clear_task_checkpoint"
	return s.withRetry(func() error {
		res, err := s.db.Exec(
			`UPDATE tasks SET base_checkpoint_data = NULL, base_checkpoint_size = 0,
			 delta_checkpoints = NULL, last_checkpoint_at = NULL, checkpoint_storage_path = NULL
			 WHERE id = ?`, taskID,
		)
		if err != nil {
			return classify(op, err)
		}
		return requireRow(op, "task", taskID, res)
	})
}

// Sweeper queries

// StalledAssignedTasks returns assigned tasks whose last sign of life,
// the later of assigned_at and last_checkpoint_at, predates olderThan.
func (s *SQLiteStore) StalledAssignedTasks(olderThan time.Time) ([]*types.Task, error) {
	return s.queryTasks("stalled_assigned_tasks",
		`SELECT `+taskColumns+` FROM tasks
		 WHERE status = ? AND max(COALESCE(assigned_at, 0), COALESCE(last_checkpoint_at, 0)) < ?
		 ORDER BY rowid`,
		types.TaskStatusAssigned, olderThan.UTC().UnixNano())
}

func (s *SQLiteStore) StaleWorkers(olderThan time.Time) ([]*types.Worker, error) {
	return s.queryWorkers("stale_workers",
		`SELECT `+workerColumns+` FROM workers WHERE status != ? AND last_seen < ?`,
		types.WorkerStatusOffline, olderThan.UTC().UnixNano())
}

// Row scanning

const jobColumns = `id, status, total_tasks, completed_tasks, created_at, completed_at, error_message, supports_checkpointing`

const taskColumns = `id, job_id, worker_id, status, args, result, error_message, priority, retry_count,
	assigned_at, completed_at, base_checkpoint_data, base_checkpoint_size, delta_checkpoints,
	last_checkpoint_at, progress_percent, checkpoint_count, checkpoint_storage_path`

const workerColumns = `id, status, last_seen, current_task_id, total_tasks_completed, total_tasks_failed`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*types.Job, error) {
	var (
		job         types.Job
		createdAt   int64
		completedAt sql.NullInt64
		errMsg      sql.NullString
		supports    int64
	)
	err := row.Scan(&job.ID, &job.Status, &job.TotalTasks, &job.CompletedTasks,
		&createdAt, &completedAt, &errMsg, &supports)
	if err != nil {
		return nil, err
	}
	job.CreatedAt = fromNanos(createdAt)
	job.CompletedAt = timePtrFrom(completedAt)
	job.ErrorMessage = errMsg.String
	job.SupportsCheckpointing = supports != 0
	return &job, nil
}

func scanTask(row rowScanner) (*types.Task, error) {
	var (
		task        types.Task
		workerID    sql.NullString
		args        sql.NullString
		result      sql.NullString
		errMsg      sql.NullString
		assignedAt  sql.NullInt64
		completedAt sql.NullInt64
		baseRef     sql.NullString
		deltasJSON  sql.NullString
		lastCkptAt  sql.NullInt64
		storagePath sql.NullString
	)
	err := row.Scan(&task.ID, &task.JobID, &workerID, &task.Status, &args, &result, &errMsg,
		&task.Priority, &task.RetryCount, &assignedAt, &completedAt,
		&baseRef, &task.Checkpoint.BaseSize, &deltasJSON,
		&lastCkptAt, &task.Checkpoint.Progress, &task.Checkpoint.Count, &storagePath)
	if err != nil {
		return nil, err
	}
	task.WorkerID = workerID.String
	task.Args = args.String
	task.Result = result.String
	task.ErrorMessage = errMsg.String
	task.AssignedAt = timePtrFrom(assignedAt)
	task.CompletedAt = timePtrFrom(completedAt)
	task.Checkpoint.BaseRef = baseRef.String
	task.Checkpoint.LastAt = timePtrFrom(lastCkptAt)
	task.Checkpoint.StoragePath = storagePath.String
	if deltasJSON.Valid && deltasJSON.String != "" {
		if err := json.Unmarshal([]byte(deltasJSON.String), &task.Checkpoint.Deltas); err != nil {
			return nil, fmt.Errorf("corrupt delta_checkpoints for %s: %w", task.ID, err)
		}
	}
	return &task, nil
}

func scanWorker(row rowScanner) (*types.Worker, error) {
	var (
		worker      types.Worker
		lastSeen    int64
		currentTask sql.NullString
	)
	err := row.Scan(&worker.ID, &worker.Status, &lastSeen, &currentTask,
		&worker.TasksCompleted, &worker.TasksFailed)
	if err != nil {
		return nil, err
	}
	worker.LastSeen = fromNanos(lastSeen)
	worker.CurrentTaskID = currentTask.String
	return &worker, nil
}

func (s *SQLiteStore) queryTasks(op, query string, args ...any) ([]*types.Task, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*types.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, classify(op, err)
		}
		tasks = append(tasks, task)
	}
	return tasks, classify(op, rows.Err())
}

func (s *SQLiteStore) queryWorkers(op, query string, args ...any) ([]*types.Worker, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer func() { _ = rows.Close() }()

	var workers []*types.Worker
	for rows.Next() {
		worker, err := scanWorker(rows)
		if err != nil {
			return nil, classify(op, err)
		}
		workers = append(workers, worker)
	}
	return workers, classify(op, rows.Err())
}

// Conversion helpers

func requireRow(op, entity, id string, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return classify(op, err)
	}
	if n == 0 {
		return notFound(op, entity, id)
	}
	return nil
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func timePtrFrom(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

func nanosOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().UnixNano()
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
