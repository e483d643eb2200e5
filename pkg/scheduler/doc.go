/*
Package scheduler provides pluggable task-to-worker assignment policies.

A Strategy is a pure decision function: given a task, the set of
available worker IDs, and per-worker statistics, it names the worker
the task should go to; given the pending backlog, it names the task a
newly free worker should run. Strategies never touch the store or the
registry, which keeps them trivial to test and lets the dispatcher own
all locking.

# Strategies

  - fifo: tasks in submission order, first available worker
  - round_robin: rotates through workers in a stable sorted order
  - least_loaded: worker with the fewest lifetime tasks
  - performance: worker with the best success rate, highest-priority
    task first
  - priority: high-priority tasks to the best performer, everything
    else FIFO

# Usage

	strategy, err := scheduler.New("least_loaded")
	if err != nil {
		return err
	}

	worker, ok := strategy.SelectWorker(task, available, stats)
	if !ok {
		// no workers available, task stays pending
	}

# Statistics

Worker statistics come from the store's lifetime counters. A worker
with no recorded history scores a 1.0 success rate and zero total
tasks, so fresh workers are attractive to both the performance and
least_loaded policies.

RoundRobin is the only stateful strategy: it keeps a rotation cursor
that resets whenever worker membership changes.
*/
package scheduler
