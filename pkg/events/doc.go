/*
Package events provides an in-memory event broker for Foreman's pub/sub messaging.

The events package implements a lightweight event bus for broadcasting broker
lifecycle events to interested subscribers. It supports asynchronous event
delivery with per-subscriber buffers, enabling loose coupling between the
router, dispatcher, checkpoint manager, and the observability surface.

# Architecture

	┌──────────────────── EVENT BROKER ─────────────────────┐
	│                                                        │
	│  Publisher → Event Channel (buffer: 100)               │
	│       ↓                                                │
	│  Broadcast Loop                                        │
	│       ↓                                                │
	│  Subscriber Channels (buffer: 50 each)                 │
	│                                                        │
	│  Slow subscribers are skipped, never blocked on.       │
	└────────────────────────────────────────────────────────┘

# Event Types

Job lifecycle:
  - job.submitted: A client batch was accepted
  - job.completed: All tasks terminal, results delivered

Task lifecycle:
  - task.assigned: An ASSIGN_TASK envelope reached a worker
  - task.completed: A completion was accepted
  - task.failed: A worker reported an execution error
  - task.retried: A failed task was reset to pending
  - task.resumed: A stalled task was re-dispatched from a checkpoint

Workers:
  - worker.online / worker.offline

Checkpoints:
  - checkpoint.stored: A base or delta was persisted
  - checkpoint.compacted: A delta chain was folded into a new base

# Usage

Publishing:

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	broker.Publish(&events.Event{
		Type:    events.EventTaskAssigned,
		Message: "task J1_task_0 assigned to W1",
		Metadata: map[string]string{
			"task_id":   "J1_task_0",
			"worker_id": "W1",
		},
	})

Subscribing:

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)
	for event := range sub {
		fmt.Printf("[%s] %s\n", event.Type, event.Message)
	}

# Recent-Events Ring

Ring retains the last N events for GET /api/v1/events. It runs its own
subscription so a burst of events never blocks publishers; readers get a
copy ordered oldest first.

# Delivery Semantics

Publish is non-blocking: if a subscriber's buffer is full the event is
dropped for that subscriber. Events are fan-out broadcast; there is no
topic filtering and no persistence beyond the Ring's window.
*/
package events
