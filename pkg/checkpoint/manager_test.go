package checkpoint

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/foreman/pkg/events"
	"github.com/cuemby/foreman/pkg/protocol"
	"github.com/cuemby/foreman/pkg/store"
	"github.com/cuemby/foreman/pkg/types"
)

func newTestManager(t *testing.T) (*Manager, store.Store) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.NewSQLiteStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	blobs, err := NewBlobStore(dir + "/checkpoints")
	require.NoError(t, err)
	t.Cleanup(func() { _ = blobs.Close() })

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	return NewManager(st, blobs, broker), st
}

func seedTask(t *testing.T, st store.Store, jobID, taskID string) {
	t.Helper()
	require.NoError(t, st.CreateJob(&types.Job{
		ID:         jobID,
		Status:     types.JobStatusRunning,
		TotalTasks: 1,
		CreatedAt:  time.Now().UTC(),
	}))
	require.NoError(t, st.CreateTasks([]*types.Task{
		{ID: taskID, JobID: jobID, Status: types.TaskStatusPending, Args: "1"},
	}))
}

// TestStoreBaseAndDeltas tests bookkeeping across a base and delta chain
func TestStoreBaseAndDeltas(t *testing.T) {
	m, st := newTestManager(t)
	seedTask(t, st, "J1", "J1_task_0")

	require.NoError(t, m.StoreCheckpoint("J1_task_0", "itersum", true, []byte(`{"sum": 1, "i": 1}`), 10, 1, "gzip"))
	require.NoError(t, m.StoreCheckpoint("J1_task_0", "itersum", false, []byte(`{"sum": 3, "i": 2}`), 20, 2, "gzip"))
	require.NoError(t, m.StoreCheckpoint("J1_task_0", "itersum", false, []byte(`{"sum": 6, "i": 3}`), 30, 3, "gzip"))

	task, err := st.GetTask("J1_task_0")
	require.NoError(t, err)
	cp := task.Checkpoint
	assert.Equal(t, "stored_1", cp.BaseRef)
	assert.Len(t, cp.Deltas, 2)
	assert.Equal(t, 3, cp.Count)
	assert.Equal(t, float64(30), cp.Progress)
	assert.NotNil(t, cp.LastAt)
	assert.Equal(t, 2, cp.Deltas[0].ID)
	assert.Equal(t, "gzip", cp.Deltas[0].Compression)

	state, err := m.ReconstructState("J1_task_0", "itersum")
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(state, &decoded))
	assert.Equal(t, float64(6), decoded["sum"])
	assert.Equal(t, float64(3), decoded["i"])
}

// TestDeltaWithoutBase tests rejection so the worker resends a base
func TestDeltaWithoutBase(t *testing.T) {
	m, st := newTestManager(t)
	seedTask(t, st, "J1", "J1_task_0")

	err := m.StoreCheckpoint("J1_task_0", "itersum", false, []byte(`{"sum": 1}`), 10, 1, "gzip")
	assert.Error(t, err)

	task, err := st.GetTask("J1_task_0")
	require.NoError(t, err)
	assert.False(t, task.Checkpoint.HasBase())
	assert.Equal(t, 0, task.Checkpoint.Count, "failed store must not touch the row")
}

// TestReconstructWithoutBase tests the nil result for fresh tasks
func TestReconstructWithoutBase(t *testing.T) {
	m, st := newTestManager(t)
	seedTask(t, st, "J1", "J1_task_0")

	state, err := m.ReconstructState("J1_task_0", "itersum")
	require.NoError(t, err)
	assert.Nil(t, state)
}

// TestCompaction tests folding a 50-delta chain into a new base
func TestCompaction(t *testing.T) {
	m, st := newTestManager(t)
	seedTask(t, st, "J1", "J1_task_0")

	require.NoError(t, m.StoreCheckpoint("J1_task_0", "itersum", true, []byte(`{"sum": 1, "i": 1}`), 1, 1, "gzip"))
	for id := 2; id <= 51; id++ {
		delta := fmt.Sprintf(`{"sum": %d, "i": %d}`, id, id)
		require.NoError(t, m.StoreCheckpoint("J1_task_0", "itersum", false, []byte(delta), float64(id), id, "gzip"))
	}

	task, err := st.GetTask("J1_task_0")
	require.NoError(t, err)
	cp := task.Checkpoint
	assert.Empty(t, cp.Deltas, "compaction clears the delta chain")
	assert.Equal(t, "stored_52", cp.BaseRef, "new base id extends the counter")
	assert.Equal(t, 52, cp.Count)

	// Reconstruction equals the fold of the full chain
	state, err := m.ReconstructState("J1_task_0", "itersum")
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(state, &decoded))
	assert.Equal(t, float64(51), decoded["sum"])

	// The old blobs are gone
	info, err := m.blobs.Info("J1_task_0")
	require.NoError(t, err)
	assert.Equal(t, 1, info.Blobs)
}

// TestCleanupCheckpoint tests blob and row cleanup after completion
func TestCleanupCheckpoint(t *testing.T) {
	m, st := newTestManager(t)
	seedTask(t, st, "J1", "J1_task_0")

	require.NoError(t, m.StoreCheckpoint("J1_task_0", "itersum", true, []byte(`{"sum": 1}`), 10, 1, "gzip"))
	require.NoError(t, m.StoreCheckpoint("J1_task_0", "itersum", false, []byte(`{"sum": 2}`), 20, 2, "gzip"))

	require.NoError(t, m.CleanupCheckpoint("J1_task_0"))

	task, err := st.GetTask("J1_task_0")
	require.NoError(t, err)
	assert.False(t, task.Checkpoint.HasBase())
	assert.Empty(t, task.Checkpoint.Deltas)

	_, err = m.blobs.Retrieve("J1_task_0", "base")
	assert.ErrorIs(t, err, ErrBlobNotFound)
}

// TestShouldResume tests the resume qualification rules
func TestShouldResume(t *testing.T) {
	now := time.Now().UTC()
	old := now.Add(-2 * time.Hour)

	tests := []struct {
		name string
		task types.Task
		want bool
	}{
		{
			name: "fresh checkpoint on assigned task",
			task: types.Task{Status: types.TaskStatusAssigned,
				Checkpoint: types.CheckpointState{BaseRef: "stored_1", LastAt: &now}},
			want: true,
		},
		{
			name: "no base",
			task: types.Task{Status: types.TaskStatusAssigned},
			want: false,
		},
		{
			name: "completed task",
			task: types.Task{Status: types.TaskStatusCompleted,
				Checkpoint: types.CheckpointState{BaseRef: "stored_1", LastAt: &now}},
			want: false,
		},
		{
			name: "stale checkpoint",
			task: types.Task{Status: types.TaskStatusAssigned,
				Checkpoint: types.CheckpointState{BaseRef: "stored_1", LastAt: &old}},
			want: false,
		},
		{
			name: "base but no timestamp",
			task: types.Task{Status: types.TaskStatusPending,
				Checkpoint: types.CheckpointState{BaseRef: "stored_1"}},
			want: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := tt.task
			assert.Equal(t, tt.want, ShouldResume(&task))
		})
	}
}

// TestBuildResumeEnvelope tests the RESUME_TASK payload
func TestBuildResumeEnvelope(t *testing.T) {
	m, st := newTestManager(t)
	seedTask(t, st, "J1", "J1_task_0")

	require.NoError(t, m.StoreCheckpoint("J1_task_0", "itersum", true, []byte(`{"sum": 1, "i": 1}`), 10, 1, "gzip"))
	require.NoError(t, m.StoreCheckpoint("J1_task_0", "itersum", false, []byte(`{"sum": 3, "i": 2}`), 20, 2, "gzip"))

	env, err := m.BuildResumeEnvelope("J1_task_0", "J1", "itersum")
	require.NoError(t, err)
	assert.Equal(t, protocol.MsgResumeTask, env.Type)
	assert.Equal(t, "J1", env.JobID)

	var data protocol.ResumeTaskData
	require.NoError(t, env.Decode(&data))
	assert.Equal(t, "J1_task_0", data.TaskID)
	assert.Equal(t, "itersum", data.FuncCode)
	assert.Empty(t, data.RemainingArgs)
	assert.Equal(t, 2, data.CheckpointCount)

	state, err := hex.DecodeString(data.ReconstructedStateHex)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(state, &decoded))
	assert.Equal(t, float64(3), decoded["sum"])
}

// TestBuildResumeEnvelopeNoState tests the no-checkpoint error
func TestBuildResumeEnvelopeNoState(t *testing.T) {
	m, st := newTestManager(t)
	seedTask(t, st, "J1", "J1_task_0")

	_, err := m.BuildResumeEnvelope("J1_task_0", "J1", "itersum")
	assert.Error(t, err)
}
