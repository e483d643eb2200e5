package taskkind

import "sync"

// Runtime carries a running task's checkpointable state. Kinds write
// to it from the execution goroutine while the worker's checkpoint
// loop reads snapshots concurrently.
type Runtime struct {
	mu       sync.RWMutex
	state    map[string]any
	progress float64
	resumed  map[string]any
	seq      int
}

// NewRuntime creates a runtime for a fresh task
func NewRuntime() *Runtime {
	return &Runtime{state: make(map[string]any)}
}

// NewResumedRuntime creates a runtime seeded from a reconstructed
// checkpoint. The resumed snapshot stays readable after the kind
// starts mutating live state.
func NewResumedRuntime(state map[string]any, checkpointSeq int) *Runtime {
	live := make(map[string]any, len(state))
	resumed := make(map[string]any, len(state))
	for k, v := range state {
		live[k] = v
		resumed[k] = v
	}
	return &Runtime{state: live, resumed: resumed, seq: checkpointSeq}
}

// Set records one key of task state
func (r *Runtime) Set(key string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state[key] = value
}

// SetProgress records completion progress in the range [0, 100]
func (r *Runtime) SetProgress(pct float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = pct
}

// State returns a copy of the current task state
func (r *Runtime) State() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]any, len(r.state))
	for k, v := range r.state {
		out[k] = v
	}
	return out
}

// Progress returns the last recorded progress percentage
func (r *Runtime) Progress() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.progress
}

// Resumed reports whether this runtime was seeded from a checkpoint
func (r *Runtime) Resumed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resumed != nil
}

// ResumedState returns the checkpoint snapshot the task resumed from,
// or nil for a fresh task
func (r *Runtime) ResumedState() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.resumed == nil {
		return nil
	}
	out := make(map[string]any, len(r.resumed))
	for k, v := range r.resumed {
		out[k] = v
	}
	return out
}

// CheckpointSeq returns the number of checkpoints already persisted
// for this task before resume
func (r *Runtime) CheckpointSeq() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.seq
}
