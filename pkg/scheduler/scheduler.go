package scheduler

import (
	"fmt"
	"strings"

	"github.com/cuemby/foreman/pkg/types"
)

// Strategy is a pure scheduling policy. Implementations do no I/O and
// take no locks; the dispatcher owns all state they decide over.
type Strategy interface {
	// Name returns the factory name of the strategy
	Name() string

	// SelectWorker picks a worker for the task from the available set.
	// Returns false when the set is empty.
	SelectWorker(task *types.Task, available []string, stats map[string]types.WorkerStats) (string, bool)

	// SelectTask picks the task the worker should run next from the
	// pending list. Returns false when the list is empty.
	SelectTask(pending []*types.Task, workerID string) (*types.Task, bool)
}

// New creates a strategy by name. Valid names: fifo, round_robin,
// least_loaded, performance, priority.
func New(name string) (Strategy, error) {
	switch strings.ToLower(name) {
	case "", "fifo":
		return &FIFO{}, nil
	case "round_robin":
		return NewRoundRobin(), nil
	case "least_loaded":
		return &LeastLoaded{}, nil
	case "performance":
		return &Performance{}, nil
	case "priority":
		return &Priority{}, nil
	default:
		return nil, fmt.Errorf("unknown scheduler type: %s", name)
	}
}

// Names lists the valid strategy names for CLI help text.
func Names() []string {
	return []string{"fifo", "round_robin", "least_loaded", "performance", "priority"}
}

// firstTask returns the head of the pending list, preserving the
// submission order the store query produced.
func firstTask(pending []*types.Task) (*types.Task, bool) {
	if len(pending) == 0 {
		return nil, false
	}
	return pending[0], true
}

// urgentTask returns the pending task with the highest priority,
// preferring fewer retries on ties.
func urgentTask(pending []*types.Task) (*types.Task, bool) {
	if len(pending) == 0 {
		return nil, false
	}
	best := pending[0]
	for _, task := range pending[1:] {
		if task.Priority > best.Priority ||
			(task.Priority == best.Priority && task.RetryCount < best.RetryCount) {
			best = task
		}
	}
	return best, true
}

// bestPerformer returns the available worker with the highest success
// rate, preferring more completed tasks on ties. Workers without stats
// score a 1.0 success rate and zero completions.
func bestPerformer(available []string, stats map[string]types.WorkerStats) (string, bool) {
	if len(available) == 0 {
		return "", false
	}
	best := available[0]
	bestStats := stats[best]
	for _, id := range available[1:] {
		st := stats[id]
		if st.SuccessRate() > bestStats.SuccessRate() ||
			(st.SuccessRate() == bestStats.SuccessRate() && st.TasksCompleted > bestStats.TasksCompleted) {
			best = id
			bestStats = st
		}
	}
	return best, true
}
