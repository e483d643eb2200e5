/*
Package store persists Foreman's jobs, tasks, and workers in SQLite.

All mutable system state lives behind the Store interface. The SQLite
implementation is the only stateful component in the foreman; everything
else (registry, scheduler, dispatcher) can be rebuilt from these rows.

# Architecture

	┌──────────────────── PERSISTENCE GATEWAY ───────────────────┐
	│                                                             │
	│   router / job manager / dispatcher / sweeper               │
	│                        │                                    │
	│                        ▼                                    │
	│   ┌───────────────────────────────────────────┐             │
	│   │              Store interface              │             │
	│   │  jobs, tasks, workers, worker_failures    │             │
	│   └──────────────────┬────────────────────────┘             │
	│                      │                                      │
	│   ┌──────────────────▼────────────────────────┐             │
	│   │              SQLiteStore                  │             │
	│   │  - single writer (SetMaxOpenConns(1))     │             │
	│   │  - WAL journal, busy_timeout 5000ms       │             │
	│   │  - transient errors retried 3x            │             │
	│   │  - schema created on first open           │             │
	│   └──────────────────┬────────────────────────┘             │
	│                      │                                      │
	│              <data-dir>/foreman.db                          │
	└─────────────────────────────────────────────────────────────┘

# Conditional Transitions

Task state changes are compare-and-set statements so concurrent reports
cannot double-apply:

  - ClaimTask: pending -> assigned, recording the worker and timestamp
  - CompleteTaskIfAssigned: assigned -> completed plus the job's
    completed_tasks increment, both in one transaction; a duplicate or
    stale report is rejected with nothing written
  - FailTask: retry accounting in one transaction; the task returns to
    pending until the retry cap makes the failure terminal
  - ReleaseTask: assigned -> pending rollback for dispatch failures

Every multi-row mutation runs in a transaction. Readers never see a
half-applied completion.

# Error Classification

Failures carry a StorageError with a kind the caller switches on:

  - KindNotFound: missing row, a business outcome
  - KindConflict: duplicate identifier on insert
  - KindTransient: SQLite contention, already retried before surfacing
  - KindInternal: everything else

IsNotFound and IsConflict wrap the errors.As dance.

# Timestamps

All instants are stored as UTC Unix nanoseconds in INTEGER columns.
Comparisons in SQL (sweeper cutoffs, ORDER BY created_at) stay exact and
NULL marks absent instants.

# Usage Example

	st, err := store.NewSQLiteStore(dataDir)
	if err != nil {
		return err
	}
	defer st.Close()

	claimed, err := st.ClaimTask(taskID, workerID)
	if err != nil {
		return err
	}
	if !claimed {
		// another dispatcher got there first
	}

# See Also

  - pkg/job for the lifecycle logic built on these operations
  - pkg/checkpoint for the blob store beside this row store
*/
package store
