package job

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/foreman/pkg/events"
	"github.com/cuemby/foreman/pkg/store"
	"github.com/cuemby/foreman/pkg/types"
)

func newTestManager(t *testing.T) (*Manager, store.Store) {
	t.Helper()
	st, err := store.NewSQLiteStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	return NewManager(st, broker, DefaultRetryLimit), st
}

func rawArgs(values ...string) []json.RawMessage {
	args := make([]json.RawMessage, len(values))
	for i, v := range values {
		args[i] = json.RawMessage(v)
	}
	return args
}

func assignTask(t *testing.T, st store.Store, taskID, workerID string) {
	t.Helper()
	require.NoError(t, st.UpsertWorker(workerID))
	claimed, err := st.ClaimTask(taskID, workerID)
	require.NoError(t, err)
	require.True(t, claimed)
}

// TestCreateJob tests job and task row creation plus the cache
func TestCreateJob(t *testing.T) {
	m, st := newTestManager(t)

	err := m.CreateJob("J1", "square", rawArgs("1", "2", "3"), 3, false)
	require.NoError(t, err)

	jobRow, err := st.GetJob("J1")
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusRunning, jobRow.Status)
	assert.Equal(t, 3, jobRow.TotalTasks)

	tasks, err := st.GetJobTasks("J1")
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	assert.Equal(t, "J1_task_0", tasks[0].ID)
	assert.Equal(t, "1", tasks[0].Args)
	assert.Equal(t, types.TaskStatusPending, tasks[2].Status)

	funcCode, ok := m.FuncCode("J1")
	assert.True(t, ok)
	assert.Equal(t, "square", funcCode)
	assert.Equal(t, 1, m.ActiveJobs())
}

// TestCreateJobValidation tests field validation and duplicate rejection
func TestCreateJobValidation(t *testing.T) {
	m, _ := newTestManager(t)

	assert.Error(t, m.CreateJob("", "square", nil, 0, false))
	assert.Error(t, m.CreateJob("J1", "", nil, 0, false))
	assert.Error(t, m.CreateJob("J1", "square", rawArgs("1"), 2, false))

	require.NoError(t, m.CreateJob("J1", "square", rawArgs("1"), 1, false))
	err := m.CreateJob("J1", "square", rawArgs("1"), 1, false)
	assert.True(t, store.IsConflict(err), "duplicate job id should conflict, got %v", err)
}

// TestZeroTaskJob tests the empty-batch boundary
func TestZeroTaskJob(t *testing.T) {
	m, _ := newTestManager(t)

	require.NoError(t, m.CreateJob("J0", "square", nil, 0, false))

	results, ok, err := m.GetJobResults("J0")
	require.NoError(t, err)
	assert.True(t, ok, "zero-task job is immediately complete")
	assert.Empty(t, results)
}

// TestMarkTaskCompleted tests the completion CAS and job completion detection
func TestMarkTaskCompleted(t *testing.T) {
	m, st := newTestManager(t)
	require.NoError(t, m.CreateJob("J1", "square", rawArgs("2", "3"), 2, false))

	assignTask(t, st, "J1_task_0", "W1")
	accepted, jobComplete, err := m.MarkTaskCompleted("J1_task_0", "J1", "W1", json.RawMessage("4"))
	require.NoError(t, err)
	assert.True(t, accepted)
	assert.False(t, jobComplete)

	// A duplicate report loses the CAS and mutates nothing
	accepted, _, err = m.MarkTaskCompleted("J1_task_0", "J1", "W1", json.RawMessage("4"))
	require.NoError(t, err)
	assert.False(t, accepted)

	// A result from the wrong worker is rejected
	assignTask(t, st, "J1_task_1", "W2")
	accepted, _, err = m.MarkTaskCompleted("J1_task_1", "J1", "W9", json.RawMessage("9"))
	require.NoError(t, err)
	assert.False(t, accepted)

	accepted, jobComplete, err = m.MarkTaskCompleted("J1_task_1", "J1", "W2", json.RawMessage("9"))
	require.NoError(t, err)
	assert.True(t, accepted)
	assert.True(t, jobComplete)

	completed, total, err := m.JobProgress("J1")
	require.NoError(t, err)
	assert.Equal(t, 2, completed)
	assert.Equal(t, 2, total)
}

// TestMarkTaskFailedRetries tests the retry-then-terminal policy
func TestMarkTaskFailedRetries(t *testing.T) {
	m, st := newTestManager(t)
	require.NoError(t, m.CreateJob("J1", "square", rawArgs("2"), 1, false))

	// First two failures reset the task to pending
	for attempt := 0; attempt < 2; attempt++ {
		assignTask(t, st, "J1_task_0", "W1")
		terminal, jobComplete, err := m.MarkTaskFailed("J1_task_0", "J1", "W1", "boom")
		require.NoError(t, err)
		assert.False(t, terminal)
		assert.False(t, jobComplete)

		task, err := st.GetTask("J1_task_0")
		require.NoError(t, err)
		assert.Equal(t, types.TaskStatusPending, task.Status)
	}

	// Third failure hits the cap
	assignTask(t, st, "J1_task_0", "W1")
	terminal, jobComplete, err := m.MarkTaskFailed("J1_task_0", "J1", "W1", "boom")
	require.NoError(t, err)
	assert.True(t, terminal)
	assert.True(t, jobComplete, "terminal failure of the last task completes the job")
}

// TestPartialFailureResults tests null slots for terminally failed tasks
func TestPartialFailureResults(t *testing.T) {
	m, st := newTestManager(t)
	require.NoError(t, m.CreateJob("J1", "square", rawArgs("2", "3", "4"), 3, false))

	// Task 1 fails terminally
	for attempt := 0; attempt < DefaultRetryLimit; attempt++ {
		assignTask(t, st, "J1_task_1", "W1")
		_, _, err := m.MarkTaskFailed("J1_task_1", "J1", "W1", "boom")
		require.NoError(t, err)
	}

	assignTask(t, st, "J1_task_0", "W1")
	_, jobComplete, err := m.MarkTaskCompleted("J1_task_0", "J1", "W1", json.RawMessage("4"))
	require.NoError(t, err)
	assert.False(t, jobComplete)

	// The last completion must see the earlier terminal failure
	assignTask(t, st, "J1_task_2", "W1")
	_, jobComplete, err = m.MarkTaskCompleted("J1_task_2", "J1", "W1", json.RawMessage("16"))
	require.NoError(t, err)
	assert.True(t, jobComplete)

	results, ok, err := m.GetJobResults("J1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, results, 3)
	assert.Equal(t, float64(4), results[0])
	assert.Nil(t, results[1], "failed task contributes a null slot")
	assert.Equal(t, float64(16), results[2])
}

// TestGetJobResultsIncomplete tests that in-flight jobs return no results
func TestGetJobResultsIncomplete(t *testing.T) {
	m, st := newTestManager(t)
	require.NoError(t, m.CreateJob("J1", "square", rawArgs("2", "3"), 2, false))

	_, ok, err := m.GetJobResults("J1")
	require.NoError(t, err)
	assert.False(t, ok)

	assignTask(t, st, "J1_task_0", "W1")
	_, ok, err = m.GetJobResults("J1")
	require.NoError(t, err)
	assert.False(t, ok, "assigned tasks still block results")
}

// TestFinalizeJob tests completion, error message, and cache eviction
func TestFinalizeJob(t *testing.T) {
	m, st := newTestManager(t)
	require.NoError(t, m.CreateJob("J1", "square", rawArgs("2"), 1, false))

	assignTask(t, st, "J1_task_0", "W1")
	_, _, err := m.MarkTaskCompleted("J1_task_0", "J1", "W1", json.RawMessage("4"))
	require.NoError(t, err)

	require.NoError(t, m.FinalizeJob("J1"))

	jobRow, err := st.GetJob("J1")
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCompleted, jobRow.Status)
	assert.NotNil(t, jobRow.CompletedAt)
	assert.Empty(t, jobRow.ErrorMessage)

	_, ok := m.FuncCode("J1")
	assert.False(t, ok, "finalize evicts the cache entry")
	assert.Equal(t, 0, m.ActiveJobs())
}

// TestFinalizeJobWithFailures tests the partial-failure error message
func TestFinalizeJobWithFailures(t *testing.T) {
	m, st := newTestManager(t)
	require.NoError(t, m.CreateJob("J1", "square", rawArgs("2", "3"), 2, false))

	for attempt := 0; attempt < DefaultRetryLimit; attempt++ {
		assignTask(t, st, "J1_task_0", "W1")
		_, _, err := m.MarkTaskFailed("J1_task_0", "J1", "W1", "boom")
		require.NoError(t, err)
	}
	assignTask(t, st, "J1_task_1", "W1")
	_, _, err := m.MarkTaskCompleted("J1_task_1", "J1", "W1", json.RawMessage("9"))
	require.NoError(t, err)

	require.NoError(t, m.FinalizeJob("J1"))

	jobRow, err := st.GetJob("J1")
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCompleted, jobRow.Status)
	assert.Contains(t, jobRow.ErrorMessage, "1 of 2 tasks failed")
}

// TestVerbatimResultFallback tests the non-JSON stored result policy
func TestVerbatimResultFallback(t *testing.T) {
	m, st := newTestManager(t)
	require.NoError(t, m.CreateJob("J1", "echo", rawArgs(`"x"`), 1, false))

	assignTask(t, st, "J1_task_0", "W1")
	// Raw bytes that are not valid JSON
	accepted, _, err := m.MarkTaskCompleted("J1_task_0", "J1", "W1", json.RawMessage("not-json"))
	require.NoError(t, err)
	require.True(t, accepted)

	results, ok, err := m.GetJobResults("J1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "not-json", results[0])
}

// TestWorkerFailureRecorded tests the append-only failure log
func TestWorkerFailureRecorded(t *testing.T) {
	m, st := newTestManager(t)
	require.NoError(t, m.CreateJob("J1", "square", rawArgs("2"), 1, false))

	assignTask(t, st, "J1_task_0", "W1")
	_, _, err := m.MarkTaskFailed("J1_task_0", "J1", "W1", "oom")
	require.NoError(t, err)

	stats, err := st.GetWorkerStats()
	require.NoError(t, err)
	// Failure stats on the worker row are the router's job; the failure
	// log row exists regardless.
	_, ok := stats["W1"]
	assert.True(t, ok)
}
