package client

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/foreman/pkg/api"
	"github.com/cuemby/foreman/pkg/checkpoint"
	"github.com/cuemby/foreman/pkg/dispatch"
	"github.com/cuemby/foreman/pkg/events"
	"github.com/cuemby/foreman/pkg/job"
	"github.com/cuemby/foreman/pkg/registry"
	"github.com/cuemby/foreman/pkg/router"
	"github.com/cuemby/foreman/pkg/scheduler"
	"github.com/cuemby/foreman/pkg/store"
	"github.com/cuemby/foreman/pkg/types"
	"github.com/cuemby/foreman/pkg/worker"
)

// startForeman runs a full foreman plus one connected worker
func startForeman(t *testing.T, ctx context.Context) (string, store.Store) {
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

	msgRouter := router.NewRouter(router.Config{
		Store:       st,
		Registry:    reg,
		Jobs:        jobs,
		Dispatcher:  dispatcher,
		Checkpoints: checkpoints,
		Broker:      broker,
	})
	server := api.NewServer(api.Config{
		Router:      msgRouter,
		Store:       st,
		Registry:    reg,
		Jobs:        jobs,
		Checkpoints: checkpoints,
	})
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	w := worker.NewWorker(worker.Config{ForemanURL: wsURL, ID: "W1"})
	go func() { _ = w.Run(ctx) }()
	require.Eventually(t, func() bool {
		row, err := st.GetWorker("W1")
		return err == nil && row.Status == types.WorkerStatusOnline
	}, 3*time.Second, 5*time.Millisecond, "worker never registered")

	return wsURL, st
}

// TestSubmitJob tests the blocking submit-and-collect round trip
func TestSubmitJob(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	wsURL, _ := startForeman(t, ctx)

	c := NewClient(wsURL)
	jobID, results, err := c.SubmitJob(ctx, "square", []any{2, 3, 4})
	require.NoError(t, err)
	assert.NotEmpty(t, jobID)
	assert.Equal(t, []any{4.0, 9.0, 16.0}, results)
}

// TestSubmitJobRejected tests error delivery for a bad submission
func TestSubmitJobRejected(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	wsURL, _ := startForeman(t, ctx)

	c := NewClient(wsURL)
	_, _, err := c.SubmitJob(ctx, "square", []any{1}, WithJobID("dup"))
	require.NoError(t, err)

	_, _, err = c.SubmitJob(ctx, "square", []any{1}, WithJobID("dup"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejected")
}

// TestGetResults tests retrieval on a fresh connection
func TestGetResults(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	wsURL, _ := startForeman(t, ctx)

	c := NewClient(wsURL)
	jobID, _, err := c.SubmitJob(ctx, "echo", []any{"a", "b"}, WithJobID("J-fetch"))
	require.NoError(t, err)

	results, err := c.GetResults(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, results)
}

// TestGetResultsUnknownJob tests the error path for a job nobody submitted
func TestGetResultsUnknownJob(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	wsURL, _ := startForeman(t, ctx)

	c := NewClient(wsURL)
	_, err := c.GetResults(ctx, "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown job")
}

// TestSubmitJobCancelled tests that a dead context unblocks the wait
func TestSubmitJobCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	wsURL, st := startForeman(t, ctx)

	// Stall the only worker with a long-running checkpointed sum
	c := NewClient(wsURL)
	shortCtx, shortCancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer shortCancel()
	_, _, err := c.SubmitJob(shortCtx, "itersum", []any{int64(1) << 40}, WithJobID("J-slow"), WithCheckpointing())
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The job row survives the abandoned wait
	_, err = st.GetJob("J-slow")
	require.NoError(t, err)
}
