package checkpoint

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuemby/foreman/pkg/protocol"
	"github.com/cuemby/foreman/pkg/types"
)

// ResumeWindow is the maximum checkpoint age still worth resuming from.
// Older checkpoints likely describe work whose inputs have moved on;
// those tasks restart fresh.
const ResumeWindow = time.Hour

// ShouldResume reports whether a task's checkpoint qualifies for resume
// on a replacement worker: a base exists, the task is not terminal, and
// the last checkpoint is recent enough.
func ShouldResume(task *types.Task) bool {
	cp := task.Checkpoint
	if !cp.HasBase() {
		return false
	}
	if task.Status == types.TaskStatusCompleted || task.Status == types.TaskStatusFailed {
		return false
	}
	if cp.LastAt != nil && time.Since(*cp.LastAt) > ResumeWindow {
		return false
	}
	return true
}

// BuildResumeEnvelope reconstructs the task's state and wraps it in a
// RESUME_TASK envelope for a replacement worker. The state travels as
// hex of the raw bytes; remaining_args stays empty because the state
// carries the full resume input.
func (m *Manager) BuildResumeEnvelope(taskID, jobID, kind string) (*protocol.Envelope, error) {
	task, err := m.store.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	state, err := m.reconstruct(taskID, kind, task.Checkpoint)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, fmt.Errorf("resume %s: no checkpoint state", taskID)
	}

	return protocol.New(protocol.MsgResumeTask, jobID, protocol.ResumeTaskData{
		TaskID:                taskID,
		FuncCode:              kind,
		ReconstructedStateHex: hex.EncodeToString(state),
		RemainingArgs:         []json.RawMessage{},
		CheckpointCount:       task.Checkpoint.Count,
	})
}
