package router

import (
	"time"

	"github.com/cuemby/foreman/pkg/protocol"
)

// StartHeartbeat begins pinging connected workers on the configured
// interval. Send errors are swallowed; a dead connection surfaces as a
// read error on its own goroutine.
func (r *Router) StartHeartbeat() {
	go r.heartbeatLoop()
}

// Stop halts the heartbeat loop
func (r *Router) Stop() {
	close(r.stopCh)
}

func (r *Router) heartbeatLoop() {
	ticker := time.NewTicker(r.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.pingWorkers()
		case <-r.stopCh:
			return
		}
	}
}

func (r *Router) pingWorkers() {
	env, err := protocol.New(protocol.MsgPing, "", nil)
	if err != nil {
		return
	}
	for _, workerID := range r.registry.WorkerIDs() {
		conn, ok := r.registry.WorkerConn(workerID)
		if !ok {
			continue
		}
		if err := conn.WriteEnvelope(env); err != nil {
			r.logger.Debug().Err(err).Str("worker_id", workerID).Msg("ping write failed")
		}
	}
}
