/*
Package types defines the core data structures used throughout Foreman.

This package contains all fundamental types that represent Foreman's domain
model, including jobs, tasks, workers, and checkpoint state. These types are
used by all other packages for persistence, scheduling decisions, and wire
payloads.

# Architecture

The types package is the foundation of Foreman's data model. It defines:

  - Job batches and their lifecycle
  - Task execution state, retries, and result slots
  - Worker identity, availability, and track record
  - Incremental checkpoint bookkeeping (base + deltas)
  - Broker-level observability counters

All types are designed to be:
  - Serializable (JSON with snake_case keys, matching the wire protocol)
  - Immutable where possible (pointers mark optional timestamps)
  - Self-documenting (string-typed enums with named constants)

# Core Types

The main types in this package are:

Job Lifecycle:
  - Job: A client-submitted batch of homogeneous tasks
  - JobStatus: Pending, running, completed, failed

Task Execution:
  - Task: One unit of a job, carrying its argument and eventual result
  - TaskStatus: Pending, assigned, completed, failed
  - TaskID / TaskIndex: Canonical identifiers embedding the argument index

Workers:
  - Worker: Execution peer with persistent completion/failure counters
  - WorkerStatus: Online, offline, busy
  - WorkerStats: The counters scheduling strategies rank workers by
  - WorkerFailure: Append-only failure audit record

Checkpointing:
  - CheckpointState: Base marker, delta list, monotonic counter
  - DeltaCheckpoint: One incremental update with its storage reference

# Identity and Ordering

Task identifiers are derived, not random:

	taskID := types.TaskID(jobID, 3) // "<jobID>_task_3"

The embedded index both names the task and fixes its slot in the job's
ordered result list. TaskIndex recovers the index for result assembly:

	idx, err := types.TaskIndex(task.ID)

# State Transitions

Job status flow:

	pending -> running -> completed
	                \---> failed

Task status flow:

	pending -> assigned -> completed
	   ^           |
	   |           v
	   +------- failed (terminal once the retry cap is spent)

Worker status flow:

	online <-> busy
	   \--> offline (disconnect or missed heartbeats)

# Concurrency

All types in this package are plain data:
  - Read-safe: Can be read concurrently from multiple goroutines
  - Write-unsafe: Mutations must be synchronized by callers

The storage layer (pkg/store) owns all synchronization for persisted
state. The in-memory connection registry (pkg/registry) implements its
own locking.

# Usage Example

	job := &types.Job{
		ID:         uuid.New().String(),
		Status:     types.JobStatusPending,
		TotalTasks: len(args),
		CreatedAt:  time.Now().UTC(),
	}
	task := &types.Task{
		ID:     types.TaskID(job.ID, 0),
		JobID:  job.ID,
		Status: types.TaskStatusPending,
	}

All timestamps are UTC time.Time values; optional ones are pointers so a
zero value never masquerades as a real instant.

# See Also

  - pkg/store for the persistence layer
  - pkg/protocol for the wire envelope these types travel in
  - pkg/scheduler for how WorkerStats drives selection
*/
package types
