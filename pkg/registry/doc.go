/*
Package registry maps live connections to workers and client jobs.

The registry is the foreman's in-memory routing table. It answers two
questions in O(1): which connection reaches worker X or job Y's client,
and which worker or job does this connection belong to. It also owns the
availability set the dispatcher claims workers from.

# Architecture

	┌────────────────── CONNECTION REGISTRY ──────────────────┐
	│                     (one RWMutex)                        │
	│                                                          │
	│   worker id ──────▶ conn          conn ──────▶ worker id │
	│   job id    ──────▶ client conn   conn ──────▶ job id    │
	│                                                          │
	│   available: Set[worker id]                              │
	│     MarkAvailable / MarkBusy / TakeAvailable             │
	└──────────────────────────────────────────────────────────┘

Rows in pkg/store persist across disconnects; registry entries do not.
A worker that vanishes loses its map entries immediately while its
database row (stats, current task) stays for the sweeper to reconcile.

# Availability Handshake

TakeAvailable is the dispatcher's half of the assignment critical
section: it atomically checks and removes a worker from the available
set, so two dispatch paths cannot hand the same idle worker two tasks.
The worker returns via MarkAvailable once its result or error arrives.

Reconnects under the same worker id displace the old binding; a late
unregister from the displaced connection leaves the new binding intact.

# Locking Rules

All methods take the one registry mutex and release it before returning.
Nothing in this package performs I/O, so no network write or database
call ever happens under the lock.

# Usage Example

	reg := registry.NewRegistry()
	reg.RegisterWorker(workerID, conn)
	reg.MarkAvailable(workerID)

	if reg.TakeAvailable(workerID) {
		// dispatch; MarkAvailable again if the claim must roll back
	}

# See Also

  - pkg/dispatch for the claim/emit protocol built on TakeAvailable
  - pkg/router for registration on connect and cleanup on disconnect
*/
package registry
