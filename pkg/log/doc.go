/*
Package log provides structured logging for Foreman using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps and support filtering
by severity level for production debugging.

# Architecture

Foreman's logging system provides structured JSON logging with minimal
overhead:

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                           │
	│  ┌────────────────────────────────────────────┐           │
	│  │            Global Logger                   │           │
	│  │  - Zerolog instance                        │           │
	│  │  - Initialized via log.Init()              │           │
	│  │  - Thread-safe for concurrent use          │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │           Configuration                    │           │
	│  │  - Level: debug/info/warn/error            │           │
	│  │  - Format: JSON or console (human)         │           │
	│  │  - Output: stdout, file, or custom writer  │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │         Component Loggers                  │           │
	│  │  - WithComponent("dispatcher")             │           │
	│  │  - WithJobID("job-abc123")                 │           │
	│  │  - WithWorkerID("worker-xyz")              │           │
	│  │  - WithTaskID("job-abc123_task_4")         │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │            Log Output                      │           │
	│  │                                            │           │
	│  │  JSON Format:                              │           │
	│  │  {                                         │           │
	│  │    "level": "info",                        │           │
	│  │    "component": "dispatcher",              │           │
	│  │    "time": "2025-06-13T10:30:00Z",         │           │
	│  │    "message": "task assigned"              │           │
	│  │  }                                         │           │
	│  │                                            │           │
	│  │  Console Format:                           │           │
	│  │  10:30AM INF task assigned component=dispatcher │      │
	│  └────────────────────────────────────────────┘           │
	└───────────────────────────────────────────────────────────┘

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from all Foreman packages
  - Thread-safe concurrent writes

Child Loggers:
  - WithComponent attaches a component field for subsystem filtering
  - WithJobID, WithWorkerID, WithTaskID attach correlation fields so one
    grep reconstructs the life of a job, worker, or task

# Usage Example

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	logger := log.WithComponent("router")
	logger.Info().
		Str("worker_id", workerID).
		Str("task_id", taskID).
		Msg("task assigned")

Console output (JSONOutput: false) is for interactive use; production
deployments keep JSON so fields stay machine-parseable.

# See Also

  - pkg/metrics for Prometheus counters complementing these logs
  - pkg/events for the in-process event stream
*/
package log
