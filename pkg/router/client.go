package router

import (
	"fmt"

	"github.com/cuemby/foreman/pkg/metrics"
	"github.com/cuemby/foreman/pkg/protocol"
	"github.com/cuemby/foreman/pkg/types"
)

// serveClient handles a client connection, starting with the
// submit_job or get_results envelope that declared the role.
func (r *Router) serveClient(conn protocol.Conn, first *protocol.Envelope) {
	if !r.handleClientEnvelope(conn, first) {
		return
	}
	for {
		env, err := conn.ReadEnvelope()
		if err != nil {
			break
		}
		metrics.EnvelopesReceived.WithLabelValues(string(env.Type)).Inc()
		if !r.handleClientEnvelope(conn, env) {
			return
		}
	}
	r.disconnectClient(conn)
}

// handleClientEnvelope dispatches one client envelope. It returns false
// once the client has been disconnected.
func (r *Router) handleClientEnvelope(conn protocol.Conn, env *protocol.Envelope) bool {
	switch env.Type {
	case protocol.MsgSubmitJob:
		r.handleSubmitJob(conn, env)
	case protocol.MsgGetResults:
		r.handleGetResults(conn, env)
	case protocol.MsgDisconnect:
		r.logger.Debug().Str("remote", conn.RemoteAddr()).Msg("client requested disconnect")
		r.disconnectClient(conn)
		return false
	default:
		r.logger.Debug().
			Str("type", string(env.Type)).
			Msg("ignoring unexpected client envelope")
	}
	return true
}

func (r *Router) disconnectClient(conn protocol.Conn) {
	if jobID, ok := r.registry.UnregisterClient(conn); ok {
		// Results stay in the rows; a reconnecting client fetches them
		// with get_results.
		r.logger.Debug().Str("job_id", jobID).Msg("client disconnected")
	}
}

func (r *Router) handleSubmitJob(conn protocol.Conn, env *protocol.Envelope) {
	var data protocol.SubmitJobData
	if err := env.Decode(&data); err != nil {
		r.sendJobError(conn, env.JobID, fmt.Sprintf("malformed submission: %v", err))
		return
	}
	jobID := env.JobID
	if jobID == "" {
		r.sendJobError(conn, "", "job_id is required")
		return
	}

	r.registry.RegisterClient(jobID, conn)
	if err := r.jobs.CreateJob(jobID, data.FuncCode, data.ArgsList, data.TotalTasks, data.SupportsCheckpointing); err != nil {
		r.registry.UnregisterJob(jobID)
		r.sendJobError(conn, jobID, err.Error())
		return
	}

	r.send(conn, protocol.MsgJobAccepted, jobID, protocol.JobAcceptedData{JobID: jobID})

	if data.TotalTasks == 0 {
		// An empty batch is complete on arrival
		r.send(conn, protocol.MsgJobResults, jobID, protocol.JobResultsData{Results: []any{}})
		if err := r.jobs.FinalizeJob(jobID); err != nil {
			r.logger.Error().Err(err).Str("job_id", jobID).Msg("failed to finalize empty job")
		}
		r.registry.UnregisterJob(jobID)
		return
	}

	funcCode, _ := r.jobs.FuncCode(jobID)
	assigned := r.dispatcher.AssignTasksForJob(jobID, funcCode)
	r.logger.Info().
		Str("job_id", jobID).
		Int("assigned", assigned).
		Int("total", data.TotalTasks).
		Msg("job accepted")
}

// handleGetResults lets a reconnecting client fetch results held in the
// task rows after its original connection dropped.
func (r *Router) handleGetResults(conn protocol.Conn, env *protocol.Envelope) {
	jobID := env.JobID
	if jobID == "" {
		r.sendJobError(conn, "", "job_id is required")
		return
	}
	jobRow, err := r.store.GetJob(jobID)
	if err != nil {
		r.sendJobError(conn, jobID, fmt.Sprintf("unknown job: %s", jobID))
		return
	}

	results, ok, err := r.jobs.GetJobResults(jobID)
	if err != nil {
		r.sendJobError(conn, jobID, err.Error())
		return
	}
	if !ok {
		r.sendJobError(conn, jobID, fmt.Sprintf("job %s is not complete", jobID))
		return
	}

	r.send(conn, protocol.MsgJobResults, jobID, protocol.JobResultsData{Results: results})

	// The job may still be unfinalized if the submitting client was gone
	// when the last task finished.
	if jobRow.Status == types.JobStatusRunning {
		if err := r.jobs.FinalizeJob(jobID); err != nil {
			r.logger.Error().Err(err).Str("job_id", jobID).Msg("failed to finalize job after result fetch")
		}
		r.registry.UnregisterJob(jobID)
	}
}

// completeJob delivers the ordered results to the submitting client and
// finalizes the job. A job whose client is gone stays unfinalized; its
// results remain fetchable with get_results.
func (r *Router) completeJob(jobID string) {
	results, ok, err := r.jobs.GetJobResults(jobID)
	if err != nil {
		r.logger.Error().Err(err).Str("job_id", jobID).Msg("failed to assemble job results")
		return
	}
	if !ok {
		r.logger.Warn().Str("job_id", jobID).Msg("completion signalled but tasks still in flight")
		return
	}

	conn, connected := r.registry.ClientConn(jobID)
	if !connected {
		r.logger.Info().Str("job_id", jobID).Msg("client disconnected, results held for retrieval")
		return
	}

	r.send(conn, protocol.MsgJobResults, jobID, protocol.JobResultsData{Results: results})
	if err := r.jobs.FinalizeJob(jobID); err != nil {
		r.logger.Error().Err(err).Str("job_id", jobID).Msg("failed to finalize job")
	}
	r.registry.UnregisterJob(jobID)
}

func (r *Router) sendJobError(conn protocol.Conn, jobID, message string) {
	r.send(conn, protocol.MsgJobError, jobID, protocol.JobErrorData{Error: message})
}

func (r *Router) send(conn protocol.Conn, t protocol.MessageType, jobID string, payload any) {
	env, err := protocol.New(t, jobID, payload)
	if err != nil {
		r.logger.Error().Err(err).Str("type", string(t)).Msg("failed to encode envelope")
		return
	}
	if err := conn.WriteEnvelope(env); err != nil {
		r.logger.Debug().Err(err).Str("type", string(t)).Msg("envelope write failed")
	}
}
