package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestEnvelopeRoundTrip tests that encode/decode preserves every envelope
func TestEnvelopeRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		msgType MessageType
		jobID   string
		payload any
	}{
		{
			name:    "submit job",
			msgType: MsgSubmitJob,
			jobID:   "job-1",
			payload: SubmitJobData{
				FuncCode:   "square",
				ArgsList:   []json.RawMessage{json.RawMessage(`1`), json.RawMessage(`2`)},
				TotalTasks: 2,
			},
		},
		{
			name:    "assign task",
			msgType: MsgAssignTask,
			jobID:   "job-1",
			payload: AssignTaskData{
				FuncCode: "square",
				TaskArgs: []json.RawMessage{json.RawMessage(`5`)},
				TaskID:   "job-1_task_0",
			},
		},
		{
			name:    "task checkpoint",
			msgType: MsgTaskCheckpoint,
			payload: TaskCheckpointData{
				TaskID:          "job-1_task_0",
				IsBase:          true,
				DeltaDataHex:    "deadbeef",
				ProgressPercent: 12.5,
				CheckpointID:    1,
				CompressionType: "gzip",
			},
		},
		{
			name:    "ping has no payload",
			msgType: MsgPing,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := New(tt.msgType, tt.jobID, tt.payload)
			assert.NoError(t, err)

			raw, err := json.Marshal(env)
			assert.NoError(t, err)

			var decoded Envelope
			assert.NoError(t, json.Unmarshal(raw, &decoded))
			assert.Equal(t, env.Type, decoded.Type)
			assert.Equal(t, env.JobID, decoded.JobID)
			assert.JSONEq(t, string(raw), mustMarshal(t, &decoded))
		})
	}
}

func mustMarshal(t *testing.T, v any) string {
	t.Helper()
	raw, err := json.Marshal(v)
	assert.NoError(t, err)
	return string(raw)
}

// TestEnvelopeDecode tests typed payload extraction
func TestEnvelopeDecode(t *testing.T) {
	env, err := New(MsgTaskResult, "job-1", TaskResultData{
		Result: json.RawMessage(`{"answer":42}`),
		TaskID: "job-1_task_3",
	})
	assert.NoError(t, err)

	var data TaskResultData
	assert.NoError(t, env.Decode(&data))
	assert.Equal(t, "job-1_task_3", data.TaskID)
	assert.JSONEq(t, `{"answer":42}`, string(data.Result))
}

// TestEnvelopeDecodeEmptyPayload tests that a payload-free envelope refuses Decode
func TestEnvelopeDecodeEmptyPayload(t *testing.T) {
	env, err := New(MsgPing, "", nil)
	assert.NoError(t, err)

	var data WorkerReadyData
	assert.Error(t, env.Decode(&data))
}

// TestUnknownTypeDecodes tests forward compatibility with future tags
func TestUnknownTypeDecodes(t *testing.T) {
	raw := []byte(`{"type":"shiny_new_thing","data":{"x":1}}`)

	var env Envelope
	assert.NoError(t, json.Unmarshal(raw, &env))
	assert.Equal(t, MessageType("shiny_new_thing"), env.Type)
}
