package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/foreman/pkg/log"
	"github.com/cuemby/foreman/pkg/protocol"
)

// Client submits jobs to a foreman and collects their results. Each
// call opens its own connection, so a Client is safe for concurrent
// use and survives foreman restarts between calls.
type Client struct {
	url    string
	logger zerolog.Logger
}

// NewClient creates a client for the given foreman WebSocket endpoint
func NewClient(foremanURL string) *Client {
	return &Client{
		url:    foremanURL,
		logger: log.WithComponent("client"),
	}
}

type submitOptions struct {
	jobID         string
	checkpointing bool
}

// SubmitOption customizes one submission
type SubmitOption func(*submitOptions)

// WithJobID pins the job identifier instead of generating one. Needed
// when the caller wants to retrieve results from a later connection.
func WithJobID(id string) SubmitOption {
	return func(o *submitOptions) { o.jobID = id }
}

// WithCheckpointing asks workers to checkpoint task state while the
// job's tasks run.
func WithCheckpointing() SubmitOption {
	return func(o *submitOptions) { o.checkpointing = true }
}

// SubmitJob runs one task of the named kind per argument and blocks
// until every task reaches a terminal state. The returned results are
// ordered by argument index; terminally failed tasks leave a nil slot.
func (c *Client) SubmitJob(ctx context.Context, kind string, args []any, opts ...SubmitOption) (string, []any, error) {
	options := submitOptions{jobID: uuid.NewString()}
	for _, opt := range opts {
		opt(&options)
	}

	argsList := make([]json.RawMessage, 0, len(args))
	for i, arg := range args {
		raw, err := json.Marshal(arg)
		if err != nil {
			return "", nil, fmt.Errorf("encode argument %d: %w", i, err)
		}
		argsList = append(argsList, raw)
	}

	env, err := protocol.New(protocol.MsgSubmitJob, options.jobID, protocol.SubmitJobData{
		FuncCode:              kind,
		ArgsList:              argsList,
		TotalTasks:            len(argsList),
		SupportsCheckpointing: options.checkpointing,
	})
	if err != nil {
		return "", nil, err
	}

	conn, err := protocol.Dial(ctx, c.url)
	if err != nil {
		return "", nil, fmt.Errorf("dial foreman: %w", err)
	}
	defer c.hangUp(conn)
	stopWatch := watchContext(ctx, conn)
	defer stopWatch()

	if err := conn.WriteEnvelope(env); err != nil {
		return "", nil, fmt.Errorf("submit job: %w", err)
	}

	if err := c.awaitAccepted(ctx, conn, options.jobID); err != nil {
		return options.jobID, nil, err
	}
	c.logger.Info().Str("job_id", options.jobID).Str("kind", kind).Int("tasks", len(argsList)).Msg("job accepted")

	results, err := c.awaitResults(ctx, conn)
	return options.jobID, results, err
}

// GetResults retrieves a completed job's results over a fresh
// connection. Jobs still running yield an error; retry later.
func (c *Client) GetResults(ctx context.Context, jobID string) ([]any, error) {
	env, err := protocol.New(protocol.MsgGetResults, jobID, nil)
	if err != nil {
		return nil, err
	}

	conn, err := protocol.Dial(ctx, c.url)
	if err != nil {
		return nil, fmt.Errorf("dial foreman: %w", err)
	}
	defer c.hangUp(conn)
	stopWatch := watchContext(ctx, conn)
	defer stopWatch()

	if err := conn.WriteEnvelope(env); err != nil {
		return nil, fmt.Errorf("request results: %w", err)
	}
	return c.awaitResults(ctx, conn)
}

func (c *Client) awaitAccepted(ctx context.Context, conn protocol.Conn, jobID string) error {
	env, err := conn.ReadEnvelope()
	if err != nil {
		return readErr(ctx, err)
	}
	switch env.Type {
	case protocol.MsgJobAccepted:
		return nil
	case protocol.MsgJobError:
		var data protocol.JobErrorData
		if decErr := env.Decode(&data); decErr == nil {
			return fmt.Errorf("job %s rejected: %s", jobID, data.Error)
		}
		return fmt.Errorf("job %s rejected", jobID)
	default:
		return fmt.Errorf("unexpected %s envelope awaiting acceptance", env.Type)
	}
}

func (c *Client) awaitResults(ctx context.Context, conn protocol.Conn) ([]any, error) {
	for {
		env, err := conn.ReadEnvelope()
		if err != nil {
			return nil, readErr(ctx, err)
		}
		switch env.Type {
		case protocol.MsgJobResults:
			var data protocol.JobResultsData
			if err := env.Decode(&data); err != nil {
				return nil, err
			}
			return data.Results, nil
		case protocol.MsgJobError:
			var data protocol.JobErrorData
			if err := env.Decode(&data); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("job failed: %s", data.Error)
		default:
			// Progress or unknown notifications; keep waiting
		}
	}
}

// hangUp tells the foreman the client is leaving on purpose, then
// closes. Best effort; the foreman also handles abrupt disconnects.
func (c *Client) hangUp(conn protocol.Conn) {
	bye := &protocol.Envelope{Type: protocol.MsgDisconnect}
	_ = conn.WriteEnvelope(bye)
	_ = conn.Close()
}

// watchContext closes the connection when ctx dies so blocked reads
// return. The returned stop function releases the watcher.
func watchContext(ctx context.Context, conn protocol.Conn) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	return func() { close(done) }
}

// readErr prefers the context's error over the transport's when the
// read was interrupted by cancellation.
func readErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
