package router

import (
	"encoding/hex"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/foreman/pkg/checkpoint"
	"github.com/cuemby/foreman/pkg/dispatch"
	"github.com/cuemby/foreman/pkg/events"
	"github.com/cuemby/foreman/pkg/job"
	"github.com/cuemby/foreman/pkg/protocol"
	"github.com/cuemby/foreman/pkg/registry"
	"github.com/cuemby/foreman/pkg/scheduler"
	"github.com/cuemby/foreman/pkg/store"
	"github.com/cuemby/foreman/pkg/types"
)

// scriptedConn feeds the router envelopes from a channel and records
// everything the router writes back.
type scriptedConn struct {
	in     chan *protocol.Envelope
	mu     sync.Mutex
	sent   []*protocol.Envelope
	done   chan struct{}
	closed sync.Once
}

func newScriptedConn() *scriptedConn {
	return &scriptedConn{
		in:   make(chan *protocol.Envelope, 16),
		done: make(chan struct{}),
	}
}

func (c *scriptedConn) ReadEnvelope() (*protocol.Envelope, error) {
	env, ok := <-c.in
	if !ok {
		return nil, io.EOF
	}
	return env, nil
}

func (c *scriptedConn) WriteEnvelope(env *protocol.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, env)
	return nil
}

func (c *scriptedConn) Close() error {
	c.closed.Do(func() { close(c.done) })
	return nil
}

func (c *scriptedConn) RemoteAddr() string { return "test" }

func (c *scriptedConn) push(t *testing.T, msgType protocol.MessageType, jobID string, payload any) {
	t.Helper()
	env, err := protocol.New(msgType, jobID, payload)
	require.NoError(t, err)
	c.in <- env
}

func (c *scriptedConn) finish() { close(c.in) }

// received returns the envelopes written so far
func (c *scriptedConn) received() []*protocol.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*protocol.Envelope(nil), c.sent...)
}

// waitFor polls until cond sees the envelope it wants
func (c *scriptedConn) waitFor(t *testing.T, msgType protocol.MessageType) *protocol.Envelope {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		for _, env := range c.received() {
			if env.Type == msgType {
				return env
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no %s envelope received", msgType)
	return nil
}

func (c *scriptedConn) waitForN(t *testing.T, msgType protocol.MessageType, n int) []*protocol.Envelope {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		var matched []*protocol.Envelope
		for _, env := range c.received() {
			if env.Type == msgType {
				matched = append(matched, env)
			}
		}
		if len(matched) >= n {
			return matched
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("fewer than %d %s envelopes received", n, msgType)
	return nil
}

type fixture struct {
	router   *Router
	store    store.Store
	registry *registry.Registry
	jobs     *job.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	st, err := store.NewSQLiteStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	blobs, err := checkpoint.NewBlobStore(dir + "/checkpoints")
	require.NoError(t, err)
	t.Cleanup(func() { _ = blobs.Close() })

	reg := registry.NewRegistry()
	jobs := job.NewManager(st, broker, job.DefaultRetryLimit)
	strategy, err := scheduler.New("fifo")
	require.NoError(t, err)
	dispatcher := dispatch.NewDispatcher(st, reg, jobs, strategy, broker)
	checkpoints := checkpoint.NewManager(st, blobs, broker)

	r := NewRouter(Config{
		Store:       st,
		Registry:    reg,
		Jobs:        jobs,
		Dispatcher:  dispatcher,
		Checkpoints: checkpoints,
		Broker:      broker,
	})
	return &fixture{router: r, store: st, registry: reg, jobs: jobs}
}

// startWorker connects a worker and waits until it is registered
func (f *fixture) startWorker(t *testing.T, id string) *scriptedConn {
	t.Helper()
	conn := newScriptedConn()
	go f.router.HandleConnection(conn)
	conn.push(t, protocol.MsgWorkerReady, "", protocol.WorkerReadyData{WorkerID: id})

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := f.registry.WorkerConn(id); ok {
			return conn
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("worker %s never registered", id)
	return nil
}

func submitData(args ...string) protocol.SubmitJobData {
	raw := make([]json.RawMessage, len(args))
	for i, a := range args {
		raw[i] = json.RawMessage(a)
	}
	return protocol.SubmitJobData{FuncCode: "square", ArgsList: raw, TotalTasks: len(raw)}
}

// TestJobRoundTrip tests a two-task job through submit, assign, result,
// and delivery.
func TestJobRoundTrip(t *testing.T) {
	f := newFixture(t)
	worker := f.startWorker(t, "W1")
	defer worker.finish()

	client := newScriptedConn()
	go f.router.HandleConnection(client)
	defer client.finish()
	client.push(t, protocol.MsgSubmitJob, "J1", submitData("2", "3"))

	accepted := client.waitFor(t, protocol.MsgJobAccepted)
	var acceptedData protocol.JobAcceptedData
	require.NoError(t, accepted.Decode(&acceptedData))
	assert.Equal(t, "J1", acceptedData.JobID)

	// One worker: tasks arrive one at a time as results come back
	for i := 0; i < 2; i++ {
		assigns := worker.waitForN(t, protocol.MsgAssignTask, i+1)
		var assign protocol.AssignTaskData
		require.NoError(t, assigns[i].Decode(&assign))
		assert.Equal(t, "square", assign.FuncCode)

		var arg float64
		require.NoError(t, json.Unmarshal(assign.TaskArgs[0], &arg))
		result, err := json.Marshal(arg * arg)
		require.NoError(t, err)
		worker.push(t, protocol.MsgTaskResult, "J1", protocol.TaskResultData{
			TaskID: assign.TaskID,
			Result: result,
		})
	}

	resultsEnv := client.waitFor(t, protocol.MsgJobResults)
	var results protocol.JobResultsData
	require.NoError(t, resultsEnv.Decode(&results))
	assert.Equal(t, []any{float64(4), float64(9)}, results.Results)

	jobRow, err := f.store.GetJob("J1")
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCompleted, jobRow.Status)
}

// TestZeroTaskJob tests the empty-batch fast path
func TestZeroTaskJob(t *testing.T) {
	f := newFixture(t)

	client := newScriptedConn()
	go f.router.HandleConnection(client)
	defer client.finish()
	client.push(t, protocol.MsgSubmitJob, "J0", submitData())

	client.waitFor(t, protocol.MsgJobAccepted)
	resultsEnv := client.waitFor(t, protocol.MsgJobResults)
	var results protocol.JobResultsData
	require.NoError(t, resultsEnv.Decode(&results))
	assert.Empty(t, results.Results)
}

// TestSubmitValidation tests job_error on malformed submissions
func TestSubmitValidation(t *testing.T) {
	f := newFixture(t)

	client := newScriptedConn()
	go f.router.HandleConnection(client)
	defer client.finish()

	// total_tasks disagrees with args_list
	client.push(t, protocol.MsgSubmitJob, "J1", protocol.SubmitJobData{
		FuncCode:   "square",
		ArgsList:   []json.RawMessage{json.RawMessage("1")},
		TotalTasks: 5,
	})
	errEnv := client.waitFor(t, protocol.MsgJobError)
	var jobErr protocol.JobErrorData
	require.NoError(t, errEnv.Decode(&jobErr))
	assert.Contains(t, jobErr.Error, "total_tasks")
}

// TestNonRoleFirstEnvelope tests rejection of connections that never
// declare a role.
func TestNonRoleFirstEnvelope(t *testing.T) {
	f := newFixture(t)

	conn := newScriptedConn()
	go f.router.HandleConnection(conn)
	conn.push(t, protocol.MsgPong, "", nil)

	select {
	case <-conn.done:
	case <-time.After(3 * time.Second):
		t.Fatal("connection not closed after non-role envelope")
	}
}

// TestWorkerDisconnect tests registry and row cleanup on worker loss
func TestWorkerDisconnect(t *testing.T) {
	f := newFixture(t)
	worker := f.startWorker(t, "W1")
	worker.finish()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := f.registry.WorkerConn("W1"); !ok {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	_, ok := f.registry.WorkerConn("W1")
	require.False(t, ok)

	row, err := f.store.GetWorker("W1")
	require.NoError(t, err)
	assert.Equal(t, types.WorkerStatusOffline, row.Status)
}

// TestCheckpointAck tests that acks follow only successful stores
func TestCheckpointAck(t *testing.T) {
	f := newFixture(t)
	worker := f.startWorker(t, "W1")
	defer worker.finish()

	client := newScriptedConn()
	go f.router.HandleConnection(client)
	defer client.finish()
	client.push(t, protocol.MsgSubmitJob, "J1", protocol.SubmitJobData{
		FuncCode:              "itersum",
		ArgsList:              []json.RawMessage{json.RawMessage("100")},
		TotalTasks:            1,
		SupportsCheckpointing: true,
	})

	assigns := worker.waitForN(t, protocol.MsgAssignTask, 1)
	var assign protocol.AssignTaskData
	require.NoError(t, assigns[0].Decode(&assign))
	assert.True(t, assign.SupportsCheckpointing)

	// A base checkpoint for the assigned task is acked
	state := hex.EncodeToString([]byte(`{"sum": 10, "i": 4}`))
	worker.push(t, protocol.MsgTaskCheckpoint, "J1", protocol.TaskCheckpointData{
		TaskID:          assign.TaskID,
		IsBase:          true,
		DeltaDataHex:    state,
		ProgressPercent: 4,
		CheckpointID:    1,
	})
	ack := worker.waitFor(t, protocol.MsgCheckpointAck)
	var ackData protocol.CheckpointAckData
	require.NoError(t, ack.Decode(&ackData))
	assert.Equal(t, 1, ackData.CheckpointID)

	// A checkpoint for a nonexistent task stays silent
	worker.push(t, protocol.MsgTaskCheckpoint, "J1", protocol.TaskCheckpointData{
		TaskID:       "nope_task_0",
		IsBase:       true,
		DeltaDataHex: state,
		CheckpointID: 2,
	})
	time.Sleep(100 * time.Millisecond)
	for _, env := range worker.received() {
		if env.Type != protocol.MsgCheckpointAck {
			continue
		}
		var data protocol.CheckpointAckData
		require.NoError(t, env.Decode(&data))
		assert.NotEqual(t, 2, data.CheckpointID, "failed store must not be acked")
	}
}

// TestGetResultsAfterReconnect tests fetching held results on a new
// connection.
func TestGetResultsAfterReconnect(t *testing.T) {
	f := newFixture(t)
	worker := f.startWorker(t, "W1")
	defer worker.finish()

	client := newScriptedConn()
	go f.router.HandleConnection(client)
	client.push(t, protocol.MsgSubmitJob, "J1", submitData("3"))
	client.waitFor(t, protocol.MsgJobAccepted)

	// Client drops before the result lands
	client.finish()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := f.registry.ClientConn("J1"); !ok {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	assigns := worker.waitForN(t, protocol.MsgAssignTask, 1)
	var assign protocol.AssignTaskData
	require.NoError(t, assigns[0].Decode(&assign))
	worker.push(t, protocol.MsgTaskResult, "J1", protocol.TaskResultData{
		TaskID: assign.TaskID,
		Result: json.RawMessage("9"),
	})

	// The task row must go terminal even with no client attached
	deadline = time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		task, err := f.store.GetTask(assign.TaskID)
		require.NoError(t, err)
		if task.Status == types.TaskStatusCompleted {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	// A fresh connection opens with get_results
	fetch := newScriptedConn()
	go f.router.HandleConnection(fetch)
	defer fetch.finish()
	fetch.push(t, protocol.MsgGetResults, "J1", nil)

	resultsEnv := fetch.waitFor(t, protocol.MsgJobResults)
	var results protocol.JobResultsData
	require.NoError(t, resultsEnv.Decode(&results))
	assert.Equal(t, []any{float64(9)}, results.Results)

	jobRow, err := f.store.GetJob("J1")
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusCompleted, jobRow.Status, "fetch finalizes the orphaned job")
}

// TestTaskErrorRetries tests the failure path returning tasks to the
// backlog.
func TestTaskErrorRetries(t *testing.T) {
	f := newFixture(t)
	worker := f.startWorker(t, "W1")
	defer worker.finish()

	client := newScriptedConn()
	go f.router.HandleConnection(client)
	defer client.finish()
	client.push(t, protocol.MsgSubmitJob, "J1", submitData("2"))
	client.waitFor(t, protocol.MsgJobAccepted)

	// Fail until the retry cap; each failure triggers a re-assignment
	for attempt := 1; attempt <= job.DefaultRetryLimit; attempt++ {
		assigns := worker.waitForN(t, protocol.MsgAssignTask, attempt)
		var assign protocol.AssignTaskData
		require.NoError(t, assigns[attempt-1].Decode(&assign))
		worker.push(t, protocol.MsgTaskError, "J1", protocol.TaskErrorData{
			TaskID: assign.TaskID,
			Error:  "boom",
		})
	}

	// Terminal failure completes the job with a null slot
	resultsEnv := client.waitFor(t, protocol.MsgJobResults)
	var results protocol.JobResultsData
	require.NoError(t, resultsEnv.Decode(&results))
	require.Len(t, results.Results, 1)
	assert.Nil(t, results.Results[0])

	task, err := f.store.GetTask("J1_task_0")
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusFailed, task.Status)
	assert.Equal(t, job.DefaultRetryLimit, task.RetryCount)
}
