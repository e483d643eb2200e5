package worker

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuemby/foreman/pkg/protocol"
	"github.com/cuemby/foreman/pkg/taskkind"
)

// executeAssigned runs a freshly assigned task and reports its outcome
func (w *Worker) executeAssigned(ctx context.Context, conn protocol.Conn, jobID string, data protocol.AssignTaskData) {
	args, err := decodeArgs(data.TaskArgs)
	if err != nil {
		w.reportError(conn, jobID, data.TaskID, err)
		return
	}
	rt := taskkind.NewRuntime()
	w.runTask(ctx, conn, jobID, data.TaskID, data.FuncCode, args, rt, data.SupportsCheckpointing)
}

// executeResumed restarts a task from reconstructed checkpoint state.
// Resumed tasks always checkpoint; the foreman already holds their base.
func (w *Worker) executeResumed(ctx context.Context, conn protocol.Conn, jobID string, data protocol.ResumeTaskData) {
	raw, err := hex.DecodeString(data.ReconstructedStateHex)
	if err != nil {
		w.reportError(conn, jobID, data.TaskID, fmt.Errorf("decode resume state: %w", err))
		return
	}
	var state map[string]any
	if err := json.Unmarshal(raw, &state); err != nil {
		w.reportError(conn, jobID, data.TaskID, fmt.Errorf("parse resume state: %w", err))
		return
	}
	args, err := decodeArgs(data.RemainingArgs)
	if err != nil {
		w.reportError(conn, jobID, data.TaskID, err)
		return
	}
	rt := taskkind.NewResumedRuntime(state, data.CheckpointCount)
	w.runTask(ctx, conn, jobID, data.TaskID, data.FuncCode, args, rt, true)
}

// runTask executes one task kind to completion, with the checkpoint
// loop running alongside when the job opted in.
func (w *Worker) runTask(ctx context.Context, conn protocol.Conn, jobID, taskID, funcCode string, args []any, rt *taskkind.Runtime, checkpointing bool) {
	logger := w.logger.With().Str("job_id", jobID).Str("task_id", taskID).Logger()

	kind, err := taskkind.Get(funcCode)
	if err != nil {
		w.reportError(conn, jobID, taskID, err)
		return
	}

	w.setTaskInFlight(taskID)
	defer w.setTaskInFlight("")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var stop chan struct{}
	if checkpointing {
		stop = make(chan struct{})
		go w.checkpointLoop(conn, jobID, taskID, rt, stop)
	}

	logger.Info().Str("kind", funcCode).Bool("resumed", rt.Resumed()).Msg("task started")
	result, err := kind.Run(runCtx, rt, args)
	if stop != nil {
		close(stop)
	}
	if err != nil {
		logger.Warn().Err(err).Msg("task failed")
		w.reportError(conn, jobID, taskID, err)
		return
	}

	resultJSON, err := json.Marshal(result)
	if err != nil {
		w.reportError(conn, jobID, taskID, fmt.Errorf("encode result: %w", err))
		return
	}
	env, err := protocol.New(protocol.MsgTaskResult, jobID, protocol.TaskResultData{
		Result: resultJSON,
		TaskID: taskID,
	})
	if err != nil {
		logger.Error().Err(err).Msg("encode task_result")
		return
	}
	if err := conn.WriteEnvelope(env); err != nil {
		logger.Warn().Err(err).Msg("result send failed, sweeper will recover")
		return
	}
	logger.Info().Msg("task completed")
}

// checkpointLoop uploads the runtime's state on a fixed cadence. The
// first upload of a fresh task is the full base snapshot; every later
// upload carries only the keys that changed since the previous one.
// Resumed tasks continue the persisted sequence with deltas.
func (w *Worker) checkpointLoop(conn protocol.Conn, jobID, taskID string, rt *taskkind.Runtime, stop chan struct{}) {
	ticker := time.NewTicker(w.checkpointInterval)
	defer ticker.Stop()

	prev := rt.ResumedState()
	seq := rt.CheckpointSeq()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			state := rt.State()
			if len(state) == 0 {
				continue
			}

			isBase := seq == 0
			payload := state
			if !isBase {
				payload = changedKeys(prev, state)
				if len(payload) == 0 {
					continue
				}
			}

			raw, err := json.Marshal(payload)
			if err != nil {
				w.logger.Warn().Err(err).Str("task_id", taskID).Msg("checkpoint encode failed")
				continue
			}
			compressed, err := gzipBytes(raw)
			if err != nil {
				w.logger.Warn().Err(err).Str("task_id", taskID).Msg("checkpoint compress failed")
				continue
			}

			seq++
			env, err := protocol.New(protocol.MsgTaskCheckpoint, jobID, protocol.TaskCheckpointData{
				TaskID:          taskID,
				IsBase:          isBase,
				DeltaDataHex:    hex.EncodeToString(compressed),
				ProgressPercent: rt.Progress(),
				CheckpointID:    seq,
				CompressionType: "gzip",
			})
			if err != nil {
				continue
			}
			if err := conn.WriteEnvelope(env); err != nil {
				return
			}
			prev = state
		}
	}
}

func (w *Worker) reportError(conn protocol.Conn, jobID, taskID string, taskErr error) {
	env, err := protocol.New(protocol.MsgTaskError, jobID, protocol.TaskErrorData{
		Error:  taskErr.Error(),
		TaskID: taskID,
	})
	if err != nil {
		return
	}
	if err := conn.WriteEnvelope(env); err != nil {
		w.logger.Warn().Err(err).Str("task_id", taskID).Msg("error report send failed")
	}
}

func decodeArgs(raw []json.RawMessage) ([]any, error) {
	args := make([]any, 0, len(raw))
	for i, r := range raw {
		var v any
		if err := json.Unmarshal(r, &v); err != nil {
			return nil, fmt.Errorf("decode task arg %d: %w", i, err)
		}
		args = append(args, v)
	}
	return args, nil
}

// changedKeys extracts the keys of cur whose values differ from prev.
// Values compare by JSON encoding, which tolerates the mixed numeric
// types that round-trip through the protocol.
func changedKeys(prev, cur map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range cur {
		pv, ok := prev[k]
		if ok && sameJSON(pv, v) {
			continue
		}
		out[k] = v
	}
	return out
}

func sameJSON(a, b any) bool {
	aj, errA := json.Marshal(a)
	bj, errB := json.Marshal(b)
	return errA == nil && errB == nil && bytes.Equal(aj, bj)
}

func gzipBytes(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestSpeed)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(raw); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
