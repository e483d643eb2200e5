package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Job metrics
	JobsSubmitted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "foreman_jobs_submitted_total",
			Help: "Total number of jobs submitted by clients",
		},
	)

	JobsCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "foreman_jobs_completed_total",
			Help: "Total number of jobs finalized",
		},
	)

	ActiveJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "foreman_active_jobs",
			Help: "Number of jobs currently cached as active",
		},
	)

	// Task metrics
	TasksAssigned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "foreman_tasks_assigned_total",
			Help: "Total number of task assignments emitted to workers",
		},
	)

	TasksCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "foreman_tasks_completed_total",
			Help: "Total number of accepted task completions",
		},
	)

	TasksFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "foreman_tasks_failed_total",
			Help: "Total number of task failures reported by workers",
		},
	)

	TasksRetried = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "foreman_tasks_retried_total",
			Help: "Total number of failed tasks reset to pending for retry",
		},
	)

	// Worker metrics
	WorkersConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "foreman_workers_connected",
			Help: "Number of workers with a live connection",
		},
	)

	WorkersAvailable = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "foreman_workers_available",
			Help: "Number of connected workers currently dispatchable",
		},
	)

	// Protocol metrics
	EnvelopesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foreman_envelopes_received_total",
			Help: "Total number of envelopes received by type",
		},
		[]string{"type"},
	)

	DispatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "foreman_dispatch_duration_seconds",
			Help:    "Time taken to assign one task to a worker in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Checkpoint metrics
	CheckpointsStored = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foreman_checkpoints_stored_total",
			Help: "Total number of stored checkpoints by kind (base or delta)",
		},
		[]string{"kind"},
	)

	CheckpointCompactions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "foreman_checkpoint_compactions_total",
			Help: "Total number of delta chains compacted into a new base",
		},
	)

	CheckpointStoreDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "foreman_checkpoint_store_duration_seconds",
			Help:    "Time taken to store one checkpoint in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	CheckpointBlobBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "foreman_checkpoint_blob_bytes",
			Help:    "Compressed size of stored checkpoint blobs in bytes",
			Buckets: prometheus.ExponentialBuckets(256, 4, 10),
		},
	)

	// Sweeper metrics
	SweepCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "foreman_sweep_cycles_total",
			Help: "Total number of sweeper cycles executed",
		},
	)

	SweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "foreman_sweep_duration_seconds",
			Help:    "Time taken for one sweeper cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	TasksSwept = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "foreman_tasks_swept_total",
			Help: "Total number of stalled assigned tasks recovered by the sweeper",
		},
	)

	TasksResumed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "foreman_tasks_resumed_total",
			Help: "Total number of tasks resumed from a checkpoint",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(JobsSubmitted)
	prometheus.MustRegister(JobsCompleted)
	prometheus.MustRegister(ActiveJobs)
	prometheus.MustRegister(TasksAssigned)
	prometheus.MustRegister(TasksCompleted)
	prometheus.MustRegister(TasksFailed)
	prometheus.MustRegister(TasksRetried)
	prometheus.MustRegister(WorkersConnected)
	prometheus.MustRegister(WorkersAvailable)
	prometheus.MustRegister(EnvelopesReceived)
	prometheus.MustRegister(DispatchDuration)
	prometheus.MustRegister(CheckpointsStored)
	prometheus.MustRegister(CheckpointCompactions)
	prometheus.MustRegister(CheckpointStoreDuration)
	prometheus.MustRegister(CheckpointBlobBytes)
	prometheus.MustRegister(SweepCyclesTotal)
	prometheus.MustRegister(SweepDuration)
	prometheus.MustRegister(TasksSwept)
	prometheus.MustRegister(TasksResumed)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
