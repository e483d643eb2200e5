/*
Package metrics provides Prometheus metrics and component health for Foreman.

All metrics carry the foreman_ prefix and are registered in init(), so
importing the package is enough to expose them via Handler().

# Metric Inventory

Jobs:

	foreman_jobs_submitted_total      jobs accepted from clients
	foreman_jobs_completed_total      jobs finalized
	foreman_active_jobs               jobs currently cached as active

Tasks:

	foreman_tasks_assigned_total      ASSIGN_TASK envelopes emitted
	foreman_tasks_completed_total     accepted completions (duplicates excluded)
	foreman_tasks_failed_total        TASK_ERROR reports
	foreman_tasks_retried_total       failures reset to pending
	foreman_tasks_swept_total         stalled assignments recovered
	foreman_tasks_resumed_total       tasks resumed from a checkpoint

Workers:

	foreman_workers_connected         live worker connections
	foreman_workers_available         connected and dispatchable

Protocol and dispatch:

	foreman_envelopes_received_total{type}
	foreman_dispatch_duration_seconds

Checkpoints:

	foreman_checkpoints_stored_total{kind}      kind is "base" or "delta"
	foreman_checkpoint_compactions_total
	foreman_checkpoint_store_duration_seconds
	foreman_checkpoint_blob_bytes               compressed blob sizes

Sweeper:

	foreman_sweep_cycles_total
	foreman_sweep_duration_seconds

# Timing

Timer wraps histogram observation:

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.DispatchDuration)

# Health Registry

Components report their health by name; /healthz aggregates every
registered component, /readyz additionally requires the critical set
(store, router, api) to be present and healthy:

	metrics.RegisterComponent("store", true, "")
	metrics.UpdateComponent("store", false, "database unavailable")

The Collector samples the connection registry and job manager into the
gauge metrics every 15 seconds.
*/
package metrics
