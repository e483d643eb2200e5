/*
Package job owns the lifecycle of client batches.

A job is a batch of tasks sharing one task kind. The manager creates
the job and task rows atomically, accounts completions and failures
through the store's compare-and-set operations, applies the retry
policy, assembles ordered results, and finalizes the job.

# Completion Accounting

A task result is accepted only while the task is assigned to the
reporting worker. A stale or duplicate report loses the CAS and mutates
nothing, so the completed counter increments exactly once per task
however many times workers report.

# Retry Policy

A failed task returns to pending until its retry count reaches the cap
(default 3); the capped attempt fails the task terminally. A cap of 0
retries forever. Every failure is also recorded in the append-only
worker_failures log with a flag noting whether a checkpoint existed at
the time.

# Results

Results are ordered by the task index embedded in the task ID, never by
completion time. Terminally failed tasks contribute null slots, so a
partially failed job still delivers the results it has, with the
failure count noted in the job's error message at finalization.

# Cache

The immutable job fields the dispatcher needs on every assignment
(kind tag, size, checkpointing flag) are cached in memory from creation
until finalization. The cache is an optimization only; all durable
state lives in the store.
*/
package job
