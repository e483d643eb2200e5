/*
Package router dispatches every envelope that arrives over a live
connection.

# Role Detection

One goroutine serves each connection. The first envelope decides the
peer's role: submit_job or get_results makes it a client, worker_ready
makes it a worker, anything else closes the connection. Envelopes on a
single connection are handled strictly in order; connections run
concurrently against the shared store, registry, and dispatcher.

# Client Envelopes

submit_job validates the batch, registers the connection for result
delivery, creates the job, and drains its tasks onto available
workers. A zero-task batch is accepted and answered with empty results
immediately. get_results lets a reconnecting client fetch results held
in the task rows after its original connection dropped; asking before
the job is terminal yields job_error.

# Worker Envelopes

task_result and task_error feed the job manager's completion
accounting, free the worker, and immediately pull its next task from
the backlog. task_checkpoint stores the uploaded snapshot (hex,
gzip-decompressed before storage) and acks only on success; a silent
failure tells the worker to resend. pong and worker_heartbeat refresh
the liveness timestamp.

A worker disconnect drops the registry binding and marks the row
offline; an in-flight assigned task row is deliberately left alone;
the sweeper owns its recovery, possibly resuming from a checkpoint.

# Completion

When the last task of a job goes terminal, the ordered results go to
the submitting client and the job is finalized. If the client is gone,
the job stays unfinalized with its results retained; the next
get_results both delivers and finalizes.

# Heartbeat

A background loop pings every connected worker on a fixed interval.
Write errors are ignored here; a dead connection surfaces as a read
error on its own serving goroutine.
*/
package router
