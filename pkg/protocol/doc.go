/*
Package protocol defines Foreman's wire format and WebSocket transport.

Every peer (client or worker) exchanges JSON envelopes with the foreman
over a single full-duplex WebSocket connection. The envelope is the only
frame format; the type tag selects the payload shape and the handler.

# Architecture

	┌───────────────────── WIRE PROTOCOL ─────────────────────┐
	│                                                          │
	│  Client                 Foreman                 Worker   │
	│    │                       │                       │     │
	│    │── submit_job ────────▶│                       │     │
	│    │◀─────── job_accepted ─│── assign_task ───────▶│     │
	│    │                       │◀────── task_checkpoint│     │
	│    │                       │── checkpoint_ack ────▶│     │
	│    │                       │◀────────── task_result│     │
	│    │◀──────── job_results ─│                       │     │
	│    │                       │── ping ──────────────▶│     │
	│    │                       │◀────────────────  pong│     │
	│    └───────────────────────┴───────────────────────┘     │
	│                                                          │
	│  Envelope: {"type": tag, "data": {...}, "job_id": "..."} │
	└──────────────────────────────────────────────────────────┘

# Message Set

Client to foreman:
  - submit_job: batch of arguments plus the task kind to run
  - get_results: fetch results for a finished job after a reconnect
  - disconnect: polite close

Foreman to client:
  - job_accepted, job_results, job_error

Foreman to worker:
  - assign_task: one task with its argument
  - resume_task: restart from reconstructed checkpoint state
  - checkpoint_ack: confirmation for one stored snapshot
  - ping: liveness probe

Worker to foreman:
  - worker_ready, worker_heartbeat, pong
  - task_result, task_error
  - task_checkpoint: base or delta state upload (gzip+hex)

The func_code field names a registered task kind (see pkg/taskkind);
workers never receive executable code over the wire.

# Transport

Conn wraps a gorilla/websocket connection:

  - One reader goroutine per connection; writes are mutex-serialized so
    the dispatcher, heartbeat loop, and completion path can all emit
  - 32 MiB read limit (checkpoint uploads dominate frame size)
  - 10 second write deadline per frame

ReadEnvelope distinguishes malformed frames (ErrMalformedEnvelope, the
connection survives) from transport failures (the read loop ends).

# Usage Example

	env, err := protocol.New(protocol.MsgJobAccepted, jobID,
		protocol.JobAcceptedData{JobID: jobID})
	if err != nil {
		return err
	}
	if err := conn.WriteEnvelope(env); err != nil {
		return err
	}

On the receiving side:

	env, err := conn.ReadEnvelope()
	if errors.Is(err, protocol.ErrMalformedEnvelope) {
		// log and keep reading
	}
	var data protocol.SubmitJobData
	if err := env.Decode(&data); err != nil {
		// reply job_error
	}

# See Also

  - pkg/router for how the foreman dispatches these messages
  - pkg/worker and pkg/client for the peer sides
*/
package protocol
