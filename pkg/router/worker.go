package router

import (
	"bytes"
	"compress/gzip"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/cuemby/foreman/pkg/events"
	"github.com/cuemby/foreman/pkg/metrics"
	"github.com/cuemby/foreman/pkg/protocol"
	"github.com/cuemby/foreman/pkg/types"
)

// serveWorker handles a worker connection, starting with the
// worker_ready envelope that declared the role.
func (r *Router) serveWorker(conn protocol.Conn, first *protocol.Envelope) {
	var ready protocol.WorkerReadyData
	if err := first.Decode(&ready); err != nil {
		r.logger.Warn().Err(err).Str("remote", conn.RemoteAddr()).Msg("malformed worker_ready")
		return
	}
	workerID := ready.WorkerID
	if workerID == "" {
		workerID = uuid.NewString()
	}

	r.registry.RegisterWorker(workerID, conn)
	if err := r.store.UpsertWorker(workerID); err != nil {
		r.logger.Error().Err(err).Str("worker_id", workerID).Msg("failed to persist worker row")
	}
	r.registry.MarkAvailable(workerID)
	r.broker.Publish(&events.Event{
		Type:     events.EventWorkerOnline,
		Message:  fmt.Sprintf("worker %s online", workerID),
		Metadata: map[string]string{"worker_id": workerID},
	})
	r.logger.Info().Str("worker_id", workerID).Str("remote", conn.RemoteAddr()).Msg("worker ready")

	r.dispatcher.AssignOneToWorker(workerID)

	for {
		env, err := conn.ReadEnvelope()
		if err != nil {
			break
		}
		metrics.EnvelopesReceived.WithLabelValues(string(env.Type)).Inc()

		switch env.Type {
		case protocol.MsgTaskResult:
			r.handleTaskResult(workerID, env)
		case protocol.MsgTaskError:
			r.handleTaskError(workerID, env)
		case protocol.MsgTaskCheckpoint:
			r.handleTaskCheckpoint(conn, workerID, env)
		case protocol.MsgPong, protocol.MsgWorkerHeartbeat:
			if err := r.store.TouchWorker(workerID); err != nil {
				r.logger.Debug().Err(err).Str("worker_id", workerID).Msg("failed to touch worker")
			}
		default:
			r.logger.Debug().
				Str("type", string(env.Type)).
				Str("worker_id", workerID).
				Msg("ignoring unexpected worker envelope")
		}
	}

	r.disconnectWorker(conn)
}

// disconnectWorker drops the registry binding and marks the row offline.
// Any in-flight assigned task row is left untouched; the sweeper owns
// its recovery.
func (r *Router) disconnectWorker(conn protocol.Conn) {
	workerID, ok := r.registry.UnregisterWorker(conn)
	if !ok {
		return
	}
	if err := r.store.UpdateWorkerStatus(workerID, types.WorkerStatusOffline, ""); err != nil {
		r.logger.Error().Err(err).Str("worker_id", workerID).Msg("failed to mark worker offline")
	}
	r.broker.Publish(&events.Event{
		Type:     events.EventWorkerOffline,
		Message:  fmt.Sprintf("worker %s offline", workerID),
		Metadata: map[string]string{"worker_id": workerID},
	})
	r.logger.Info().Str("worker_id", workerID).Msg("worker disconnected")
}

func (r *Router) handleTaskResult(workerID string, env *protocol.Envelope) {
	var data protocol.TaskResultData
	if err := env.Decode(&data); err != nil {
		r.logger.Warn().Err(err).Str("worker_id", workerID).Msg("malformed task_result")
		return
	}

	accepted, jobComplete, err := r.jobs.MarkTaskCompleted(data.TaskID, env.JobID, workerID, data.Result)
	if err != nil {
		r.logger.Error().Err(err).Str("task_id", data.TaskID).Msg("failed to record task result")
	}
	if accepted {
		if err := r.store.IncrementWorkerStats(workerID, true); err != nil {
			r.logger.Debug().Err(err).Str("worker_id", workerID).Msg("failed to bump worker stats")
		}
		if err := r.checkpoints.CleanupCheckpoint(data.TaskID); err != nil {
			r.logger.Warn().Err(err).Str("task_id", data.TaskID).Msg("checkpoint cleanup failed")
		}
	}

	r.workerFreed(workerID)
	if jobComplete {
		r.completeJob(env.JobID)
	}
	r.dispatcher.AssignOneToWorker(workerID)
}

func (r *Router) handleTaskError(workerID string, env *protocol.Envelope) {
	var data protocol.TaskErrorData
	if err := env.Decode(&data); err != nil {
		r.logger.Warn().Err(err).Str("worker_id", workerID).Msg("malformed task_error")
		return
	}

	terminal, jobComplete, err := r.jobs.MarkTaskFailed(data.TaskID, env.JobID, workerID, data.Error)
	if err != nil {
		r.logger.Error().Err(err).Str("task_id", data.TaskID).Msg("failed to record task error")
	}
	if err := r.store.IncrementWorkerStats(workerID, false); err != nil {
		r.logger.Debug().Err(err).Str("worker_id", workerID).Msg("failed to bump worker stats")
	}
	r.logger.Warn().
		Str("task_id", data.TaskID).
		Str("worker_id", workerID).
		Bool("terminal", terminal).
		Str("error", data.Error).
		Msg("task failed on worker")

	r.workerFreed(workerID)
	if jobComplete {
		r.completeJob(env.JobID)
	}
	r.dispatcher.AssignOneToWorker(workerID)
}

// handleTaskCheckpoint stores one uploaded snapshot. The ack is sent
// only after a successful store; a failed store stays silent so the
// worker resends.
func (r *Router) handleTaskCheckpoint(conn protocol.Conn, workerID string, env *protocol.Envelope) {
	var data protocol.TaskCheckpointData
	if err := env.Decode(&data); err != nil {
		r.logger.Warn().Err(err).Str("worker_id", workerID).Msg("malformed task_checkpoint")
		return
	}

	raw, err := hex.DecodeString(data.DeltaDataHex)
	if err != nil {
		r.logger.Warn().Err(err).Str("task_id", data.TaskID).Msg("checkpoint hex decode failed")
		return
	}
	if data.CompressionType == "gzip" {
		raw, err = gunzip(raw)
		if err != nil {
			r.logger.Warn().Err(err).Str("task_id", data.TaskID).Msg("checkpoint decompress failed")
			return
		}
	}

	kind, _ := r.jobs.FuncCode(env.JobID)
	err = r.checkpoints.StoreCheckpoint(
		data.TaskID, kind, data.IsBase, raw,
		data.ProgressPercent, data.CheckpointID, data.CompressionType,
	)
	if err != nil {
		r.logger.Error().Err(err).
			Str("task_id", data.TaskID).
			Int("checkpoint_id", data.CheckpointID).
			Msg("checkpoint store failed")
		return
	}

	r.send(conn, protocol.MsgCheckpointAck, env.JobID, protocol.CheckpointAckData{
		TaskID:       data.TaskID,
		CheckpointID: data.CheckpointID,
	})
}

// workerFreed returns a worker to rotation after a result or error
func (r *Router) workerFreed(workerID string) {
	if err := r.store.UpdateWorkerStatus(workerID, types.WorkerStatusOnline, ""); err != nil {
		r.logger.Debug().Err(err).Str("worker_id", workerID).Msg("failed to mark worker online")
	}
	r.registry.MarkAvailable(workerID)
}

func gunzip(compressed []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, err
	}
	defer func() { _ = zr.Close() }()
	return io.ReadAll(zr)
}
