/*
Package sweeper recovers work orphaned by dead workers.

A worker that crashes mid-task leaves its task row assigned with nobody
working on it. The sweeper runs on a fixed interval and recovers any
assigned task whose last sign of life, the later of its assignment and
its newest checkpoint, has gone quiet past the stall threshold.

Recovery prefers the checkpoint path: a task with a fresh base
checkpoint is re-claimed for an available worker and re-dispatched as a
resume_task carrying the reconstructed state, so the replacement worker
skips the finished portion. Tasks without a usable checkpoint (or when
no worker is free, or the resume emit fails) are simply released back
to pending and re-dispatched fresh through the normal path.

The claim handover mirrors the dispatcher's protocol: the worker's
availability slot and the task row CAS succeed together or roll back
together, and nothing holds a lock across the network write.

A second pass marks worker rows offline once their liveness timestamp
is older than three heartbeat intervals and no live connection remains.
Their lifetime counters survive for the scheduler's statistics.
*/
package sweeper
