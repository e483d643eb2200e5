/*
Package dispatch pairs pending tasks with available workers.

The dispatcher is driven from two directions: a new job drains its
pending tasks onto whatever workers are free (AssignTasksForJob), and a
worker that just finished pulls its next task from the global backlog
(AssignOneToWorker). Which worker gets which task is delegated to the
configured scheduler strategy.

# Claim Protocol

An assignment claims two things: the worker's availability slot in the
connection registry and the task row's pending→assigned transition in
the store. Both are compare-and-set; losing either aborts the
assignment and restores the other, so a task is never assigned to a
worker another dispatch already took, and a worker is never left
half-claimed.

The ASSIGN_TASK emit happens outside any lock. If the write fails, the
task is released back to pending and the worker slot restored; a task
that never reached a worker does not wait for the sweeper.

# Restart Caveat

Task kind tags live in the job manager's in-memory cache. Tasks of
jobs submitted before a broker restart have no cached tag and are
skipped by dispatch; their clients resubmit.
*/
package dispatch
