package metrics

import (
	"time"

	"github.com/cuemby/foreman/pkg/types"
)

// StatsSource provides the broker-level counters the collector samples.
// The connection registry implements it.
type StatsSource interface {
	Stats() types.BrokerStats
}

// JobSource reports the number of jobs currently cached as active.
// The job manager implements it.
type JobSource interface {
	ActiveJobs() int
}

// Collector periodically samples broker state into the gauges
type Collector struct {
	stats  StatsSource
	jobs   JobSource
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(stats StatsSource, jobs JobSource) *Collector {
	return &Collector{
		stats:  stats,
		jobs:   jobs,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	stats := c.stats.Stats()
	WorkersConnected.Set(float64(stats.ConnectedWorkers))
	WorkersAvailable.Set(float64(stats.AvailableWorkers))
	ActiveJobs.Set(float64(c.jobs.ActiveJobs()))
}
