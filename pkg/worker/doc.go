/*
Package worker is the task execution agent.

A worker dials the foreman's WebSocket endpoint, announces itself with
worker_ready and then serves whatever the foreman assigns. Task kinds
are looked up in the taskkind registry by the tag that travels in the
assignment, so no code crosses the wire. Dropped connections re-dial
after a fixed delay; any task abandoned on the old connection is the
foreman's sweeper's problem, not the worker's.

For jobs that opted into checkpointing, a checkpoint loop runs beside
the executing task. The first upload is the full state as a base
snapshot; every later upload carries only the keys that changed since
the previous snapshot, gzip-compressed and hex-encoded. A task resumed
from reconstructed state continues the persisted checkpoint sequence
with deltas and never re-uploads a base.
*/
package worker
