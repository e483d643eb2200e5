package protocol

import (
	"encoding/json"
	"fmt"
)

// MessageType tags an envelope with its payload shape
type MessageType string

// Client to foreman
const (
	MsgSubmitJob  MessageType = "submit_job"
	MsgGetResults MessageType = "get_results"
	MsgDisconnect MessageType = "disconnect"
)

// Foreman to client
const (
	MsgJobAccepted MessageType = "job_accepted"
	MsgJobResults  MessageType = "job_results"
	MsgJobError    MessageType = "job_error"
)

// Foreman to worker
const (
	MsgAssignTask    MessageType = "assign_task"
	MsgPing          MessageType = "ping"
	MsgResumeTask    MessageType = "resume_task"
	MsgCheckpointAck MessageType = "checkpoint_ack"
)

// Worker to foreman
const (
	MsgWorkerReady     MessageType = "worker_ready"
	MsgWorkerHeartbeat MessageType = "worker_heartbeat"
	MsgTaskResult      MessageType = "task_result"
	MsgTaskError       MessageType = "task_error"
	MsgTaskCheckpoint  MessageType = "task_checkpoint"
	MsgPong            MessageType = "pong"
)

// Envelope is the single frame format on every connection. JobID is
// optional correlation; Data holds the type-specific payload. Unknown
// types decode without error so newer peers stay compatible.
type Envelope struct {
	Type  MessageType     `json:"type"`
	Data  json.RawMessage `json:"data,omitempty"`
	JobID string          `json:"job_id,omitempty"`
}

// New builds an envelope, JSON-encoding the payload.
func New(t MessageType, jobID string, payload any) (*Envelope, error) {
	env := &Envelope{Type: t, JobID: jobID}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", t, err)
		}
		env.Data = data
	}
	return env, nil
}

// Decode unmarshals the envelope payload into v.
func (e *Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s envelope has no payload", e.Type)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// SubmitJobData asks the foreman to run one task per args_list entry.
// The job identifier travels in the envelope's job_id field.
type SubmitJobData struct {
	FuncCode              string            `json:"func_code"`
	ArgsList              []json.RawMessage `json:"args_list"`
	TotalTasks            int               `json:"total_tasks"`
	SupportsCheckpointing bool              `json:"supports_checkpointing,omitempty"`
}

// JobAcceptedData acknowledges a submission.
type JobAcceptedData struct {
	JobID string `json:"job_id"`
}

// JobResultsData delivers the ordered result list. Slots of tasks that
// failed terminally are null.
type JobResultsData struct {
	Results []any `json:"results"`
}

// JobErrorData reports a submission or retrieval failure.
type JobErrorData struct {
	Error string `json:"error"`
}

// AssignTaskData hands one task to a worker. TaskArgs wraps the task's
// single decoded argument in a one-element array.
type AssignTaskData struct {
	FuncCode              string            `json:"func_code"`
	TaskArgs              []json.RawMessage `json:"task_args"`
	TaskID                string            `json:"task_id"`
	SupportsCheckpointing bool              `json:"supports_checkpointing,omitempty"`
}

// ResumeTaskData restarts a checkpointed task on a new worker. The state
// hex is raw reconstructed state, not compressed. RemainingArgs is kept
// for wire compatibility and is always empty; the state carries the full
// resume input.
type ResumeTaskData struct {
	TaskID                string            `json:"task_id"`
	FuncCode              string            `json:"func_code"`
	ReconstructedStateHex string            `json:"reconstructed_state_hex"`
	RemainingArgs         []json.RawMessage `json:"remaining_args"`
	CheckpointCount       int               `json:"checkpoint_count"`
}

// CheckpointAckData confirms one stored checkpoint. No ack is sent for a
// failed store, so the worker may resend.
type CheckpointAckData struct {
	TaskID       string `json:"task_id"`
	CheckpointID int    `json:"checkpoint_id"`
}

// WorkerReadyData announces a worker and its chosen identifier.
type WorkerReadyData struct {
	WorkerID string `json:"worker_id"`
}

// WorkerHeartbeatData is a liveness report between pings.
type WorkerHeartbeatData struct {
	WorkerID    string `json:"worker_id"`
	Status      string `json:"status"`
	CurrentTask string `json:"current_task,omitempty"`
}

// TaskResultData carries a successful task's result value.
type TaskResultData struct {
	Result json.RawMessage `json:"result"`
	TaskID string          `json:"task_id"`
}

// TaskErrorData reports a task execution failure.
type TaskErrorData struct {
	Error  string `json:"error"`
	TaskID string `json:"task_id"`
}

// TaskCheckpointData uploads one base or delta snapshot. DeltaDataHex is
// hex of the state bytes, gzip-compressed when CompressionType is "gzip".
type TaskCheckpointData struct {
	TaskID          string  `json:"task_id"`
	IsBase          bool    `json:"is_base"`
	DeltaDataHex    string  `json:"delta_data_hex"`
	ProgressPercent float64 `json:"progress_percent"`
	CheckpointID    int     `json:"checkpoint_id"`
	CompressionType string  `json:"compression_type"`
}
