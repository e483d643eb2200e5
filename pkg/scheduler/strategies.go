package scheduler

import (
	"sort"
	"sync"

	"github.com/cuemby/foreman/pkg/types"
)

// FIFO assigns tasks in the order received to any available worker
type FIFO struct{}

func (s *FIFO) Name() string { return "fifo" }

func (s *FIFO) SelectWorker(_ *types.Task, available []string, _ map[string]types.WorkerStats) (string, bool) {
	if len(available) == 0 {
		return "", false
	}
	return available[0], true
}

func (s *FIFO) SelectTask(pending []*types.Task, _ string) (*types.Task, bool) {
	return firstTask(pending)
}

// RoundRobin rotates through the available workers in a stable sorted
// order. It is the only strategy with state: the rotation cursor, reset
// whenever the availability set changes.
type RoundRobin struct {
	mu      sync.Mutex
	order   []string
	lastIdx int
}

// NewRoundRobin creates a round-robin strategy with an empty rotation
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{lastIdx: -1}
}

func (s *RoundRobin) Name() string { return "round_robin" }

func (s *RoundRobin) SelectWorker(_ *types.Task, available []string, _ map[string]types.WorkerStats) (string, bool) {
	if len(available) == 0 {
		return "", false
	}

	sorted := append([]string(nil), available...)
	sort.Strings(sorted)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !equalOrder(s.order, sorted) {
		s.order = sorted
		s.lastIdx = -1
	}
	s.lastIdx = (s.lastIdx + 1) % len(s.order)
	return s.order[s.lastIdx], true
}

func (s *RoundRobin) SelectTask(pending []*types.Task, _ string) (*types.Task, bool) {
	return firstTask(pending)
}

func equalOrder(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// LeastLoaded assigns tasks to the worker with the fewest total tasks
type LeastLoaded struct{}

func (s *LeastLoaded) Name() string { return "least_loaded" }

func (s *LeastLoaded) SelectWorker(_ *types.Task, available []string, stats map[string]types.WorkerStats) (string, bool) {
	if len(available) == 0 {
		return "", false
	}
	best := available[0]
	minTasks := stats[best].TotalTasks()
	for _, id := range available[1:] {
		if total := stats[id].TotalTasks(); total < minTasks {
			minTasks = total
			best = id
		}
	}
	return best, true
}

func (s *LeastLoaded) SelectTask(pending []*types.Task, _ string) (*types.Task, bool) {
	return firstTask(pending)
}

// Performance prefers workers with the best track record and tasks with
// the highest priority
type Performance struct{}

func (s *Performance) Name() string { return "performance" }

func (s *Performance) SelectWorker(_ *types.Task, available []string, stats map[string]types.WorkerStats) (string, bool) {
	return bestPerformer(available, stats)
}

func (s *Performance) SelectTask(pending []*types.Task, _ string) (*types.Task, bool) {
	return urgentTask(pending)
}

// Priority routes high-priority tasks to the best performers and
// everything else FIFO-style
type Priority struct{}

func (s *Priority) Name() string { return "priority" }

func (s *Priority) SelectWorker(task *types.Task, available []string, stats map[string]types.WorkerStats) (string, bool) {
	if len(available) == 0 {
		return "", false
	}
	if task != nil && task.Priority > 0 {
		return bestPerformer(available, stats)
	}
	return available[0], true
}

func (s *Priority) SelectTask(pending []*types.Task, _ string) (*types.Task, bool) {
	return urgentTask(pending)
}
