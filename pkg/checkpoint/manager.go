package checkpoint

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/foreman/pkg/events"
	"github.com/cuemby/foreman/pkg/log"
	"github.com/cuemby/foreman/pkg/metrics"
	"github.com/cuemby/foreman/pkg/store"
	"github.com/cuemby/foreman/pkg/types"
)

// compactionThreshold is the delta-chain length that triggers folding
// the chain into a new base.
const compactionThreshold = 50

// Manager owns per-task checkpoint lifecycle: storing bases and deltas,
// reconstructing state, compacting long delta chains, and cleanup. Blob
// bytes live in the BlobStore; bookkeeping lives on the task row and is
// always written in a single atomic update.
type Manager struct {
	store  store.Store
	blobs  *BlobStore
	broker *events.Broker
	logger zerolog.Logger
}

// NewManager creates a checkpoint manager
func NewManager(st store.Store, blobs *BlobStore, broker *events.Broker) *Manager {
	return &Manager{
		store:  st,
		blobs:  blobs,
		broker: broker,
		logger: log.WithComponent("checkpoint"),
	}
}

// StoreCheckpoint persists one base or delta snapshot. raw is the
// uncompressed state; kind selects the merge function used if this
// store triggers compaction. On any failure the task row is left
// untouched so the worker's missing ack causes a resend.
func (m *Manager) StoreCheckpoint(taskID, kind string, isBase bool, raw []byte, progress float64, checkpointID int, compression string) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.CheckpointStoreDuration)

	task, err := m.store.GetTask(taskID)
	if err != nil {
		return err
	}
	cp := task.Checkpoint
	now := time.Now().UTC()

	if isBase {
		ref, size, err := m.blobs.Store(taskID, "base", checkpointID, raw)
		if err != nil {
			return err
		}
		cp.BaseRef = fmt.Sprintf("stored_%d", checkpointID)
		cp.BaseSize = len(raw)
		cp.Deltas = nil
		cp.StoragePath = ref
		metrics.CheckpointsStored.WithLabelValues("base").Inc()
		metrics.CheckpointBlobBytes.Observe(float64(size))
	} else {
		if !cp.HasBase() {
			return fmt.Errorf("delta checkpoint %d for %s without a base", checkpointID, taskID)
		}
		name := fmt.Sprintf("delta_%d", checkpointID)
		ref, size, err := m.blobs.Store(taskID, name, checkpointID, raw)
		if err != nil {
			return err
		}
		cp.Deltas = append(cp.Deltas, types.DeltaCheckpoint{
			ID:          checkpointID,
			Size:        size,
			StoredAt:    now,
			Compression: compression,
			StorageRef:  ref,
		})
		metrics.CheckpointsStored.WithLabelValues("delta").Inc()
		metrics.CheckpointBlobBytes.Observe(float64(size))
	}

	cp.Count = checkpointID
	cp.LastAt = &now
	cp.Progress = progress

	if len(cp.Deltas) >= compactionThreshold {
		compacted, err := m.compact(taskID, kind, cp)
		if err != nil {
			m.logger.Error().Err(err).Str("task_id", taskID).Msg("compaction failed, keeping delta chain")
		} else {
			cp = compacted
		}
	}

	if err := m.store.UpdateTaskCheckpoint(taskID, cp); err != nil {
		return err
	}

	m.broker.Publish(&events.Event{
		Type:    events.EventCheckpointStored,
		Message: fmt.Sprintf("checkpoint %d stored for %s", checkpointID, taskID),
		Metadata: map[string]string{
			"task_id": taskID,
			"is_base": fmt.Sprintf("%t", isBase),
		},
	})
	m.logger.Debug().
		Str("task_id", taskID).
		Int("checkpoint_id", checkpointID).
		Bool("is_base", isBase).
		Float64("progress", progress).
		Msg("checkpoint stored")
	return nil
}

// ReconstructState rebuilds the task's latest state by folding the
// delta chain onto the base in id order. It returns nil without error
// when the task has no base. Missing delta blobs are skipped with a
// log entry; the base alone is still usable state.
func (m *Manager) ReconstructState(taskID, kind string) ([]byte, error) {
	task, err := m.store.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	return m.reconstruct(taskID, kind, task.Checkpoint)
}

func (m *Manager) reconstruct(taskID, kind string, cp types.CheckpointState) ([]byte, error) {
	if !cp.HasBase() {
		return nil, nil
	}
	state, err := m.blobs.Retrieve(taskID, "base")
	if err != nil {
		return nil, fmt.Errorf("reconstruct %s: %w", taskID, err)
	}

	deltas := append([]types.DeltaCheckpoint(nil), cp.Deltas...)
	sort.Slice(deltas, func(i, j int) bool { return deltas[i].ID < deltas[j].ID })

	merger := MergerFor(kind)
	for _, delta := range deltas {
		blob, err := m.blobs.Retrieve(taskID, fmt.Sprintf("delta_%d", delta.ID))
		if err != nil {
			m.logger.Warn().
				Str("task_id", taskID).
				Int("delta_id", delta.ID).
				Err(err).
				Msg("delta blob missing, skipping")
			continue
		}
		merged, ok := merger.Merge(state, blob)
		if !ok {
			m.logger.Warn().
				Str("task_id", taskID).
				Int("delta_id", delta.ID).
				Msg("delta not mergeable, keeping prior state")
			continue
		}
		state = merged
	}
	return state, nil
}

// compact folds the delta chain into a single new base whose id extends
// the checkpoint counter. The caller writes the returned bookkeeping in
// one row update, so a reader never sees a half-compacted row.
func (m *Manager) compact(taskID, kind string, cp types.CheckpointState) (types.CheckpointState, error) {
	state, err := m.reconstruct(taskID, kind, cp)
	if err != nil {
		return cp, err
	}
	if state == nil {
		return cp, fmt.Errorf("compact %s: no base", taskID)
	}

	if err := m.blobs.Delete(taskID); err != nil {
		return cp, err
	}

	newID := cp.Count + 1
	ref, size, err := m.blobs.Store(taskID, "base", newID, state)
	if err != nil {
		return cp, fmt.Errorf("compact %s: store new base: %w", taskID, err)
	}

	now := time.Now().UTC()
	compacted := types.CheckpointState{
		BaseRef:     fmt.Sprintf("stored_%d", newID),
		BaseSize:    len(state),
		Count:       newID,
		LastAt:      &now,
		Progress:    cp.Progress,
		StoragePath: ref,
	}

	metrics.CheckpointCompactions.Inc()
	metrics.CheckpointBlobBytes.Observe(float64(size))
	m.broker.Publish(&events.Event{
		Type:     events.EventCheckpointCompacted,
		Message:  fmt.Sprintf("compacted %d deltas for %s into base %d", len(cp.Deltas), taskID, newID),
		Metadata: map[string]string{"task_id": taskID},
	})
	m.logger.Info().
		Str("task_id", taskID).
		Int("deltas", len(cp.Deltas)).
		Int("new_base_id", newID).
		Msg("delta chain compacted")
	return compacted, nil
}

// CleanupCheckpoint removes the task's blobs and clears the row
// bookkeeping. Called once a task completes terminally.
func (m *Manager) CleanupCheckpoint(taskID string) error {
	if err := m.blobs.Delete(taskID); err != nil {
		return err
	}
	return m.store.ClearTaskCheckpoint(taskID)
}

// Info summarizes one task's checkpoint state for the API surface
type Info struct {
	TaskID          string     `json:"task_id"`
	HasBase         bool       `json:"has_base"`
	BaseSize        int        `json:"base_size"`
	DeltaCount      int        `json:"delta_count"`
	CheckpointCount int        `json:"checkpoint_count"`
	Progress        float64    `json:"progress_percent"`
	LastAt          *time.Time `json:"last_checkpoint_at,omitempty"`
	StoredBytes     int64      `json:"stored_bytes"`
}

// LatestCheckpointInfo reports the task's checkpoint bookkeeping plus
// the compressed bytes held for it.
func (m *Manager) LatestCheckpointInfo(taskID string) (Info, error) {
	task, err := m.store.GetTask(taskID)
	if err != nil {
		return Info{}, err
	}
	cp := task.Checkpoint
	info := Info{
		TaskID:          taskID,
		HasBase:         cp.HasBase(),
		BaseSize:        cp.BaseSize,
		DeltaCount:      len(cp.Deltas),
		CheckpointCount: cp.Count,
		Progress:        cp.Progress,
		LastAt:          cp.LastAt,
	}
	blobInfo, err := m.blobs.Info(taskID)
	if err != nil {
		return Info{}, err
	}
	info.StoredBytes = blobInfo.TotalBytes
	return info, nil
}
