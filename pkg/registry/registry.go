package registry

import (
	"sync"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/cuemby/foreman/pkg/protocol"
	"github.com/cuemby/foreman/pkg/types"
)

// Registry tracks live connections and worker availability. All maps sit
// under one mutex; no I/O ever happens while it is held.
type Registry struct {
	mu          sync.RWMutex
	workerConns map[string]protocol.Conn // worker id -> conn
	workerIDs   map[protocol.Conn]string // conn -> worker id
	clientConns map[string]protocol.Conn // job id -> client conn
	clientJobs  map[protocol.Conn]string // client conn -> job id
	available   mapset.Set[string]       // workers idle and dispatchable
}

// NewRegistry creates an empty connection registry
func NewRegistry() *Registry {
	return &Registry{
		workerConns: make(map[string]protocol.Conn),
		workerIDs:   make(map[protocol.Conn]string),
		clientConns: make(map[string]protocol.Conn),
		clientJobs:  make(map[protocol.Conn]string),
		available:   mapset.NewThreadUnsafeSet[string](),
	}
}

// RegisterWorker binds a worker id to its connection. A reconnect under
// the same id displaces the previous binding.
func (r *Registry) RegisterWorker(id string, conn protocol.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.workerConns[id]; ok && old != conn {
		delete(r.workerIDs, old)
	}
	r.workerConns[id] = conn
	r.workerIDs[conn] = id
}

// UnregisterWorker removes a worker by its connection, returning the id.
// A stale connection displaced by a reconnect does not unbind the id.
func (r *Registry) UnregisterWorker(conn protocol.Conn) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.workerIDs[conn]
	if !ok {
		return "", false
	}
	delete(r.workerIDs, conn)
	if r.workerConns[id] == conn {
		delete(r.workerConns, id)
		r.available.Remove(id)
	}
	return id, true
}

// RegisterClient binds a job id to the submitting client's connection.
func (r *Registry) RegisterClient(jobID string, conn protocol.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clientConns[jobID] = conn
	r.clientJobs[conn] = jobID
}

// UnregisterClient removes a client by its connection, returning its job.
func (r *Registry) UnregisterClient(conn protocol.Conn) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	jobID, ok := r.clientJobs[conn]
	if !ok {
		return "", false
	}
	delete(r.clientJobs, conn)
	if r.clientConns[jobID] == conn {
		delete(r.clientConns, jobID)
	}
	return jobID, true
}

// UnregisterJob drops the client binding for a finished job.
func (r *Registry) UnregisterJob(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn, ok := r.clientConns[jobID]; ok {
		delete(r.clientConns, jobID)
		if r.clientJobs[conn] == jobID {
			delete(r.clientJobs, conn)
		}
	}
}

// WorkerConn looks up the live connection for a worker.
func (r *Registry) WorkerConn(id string) (protocol.Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.workerConns[id]
	return conn, ok
}

// ClientConn looks up the submitting client's connection for a job.
func (r *Registry) ClientConn(jobID string) (protocol.Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.clientConns[jobID]
	return conn, ok
}

// WorkerIDByConn resolves a connection back to its worker id.
func (r *Registry) WorkerIDByConn(conn protocol.Conn) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.workerIDs[conn]
	return id, ok
}

// JobIDByConn resolves a client connection back to its job id.
func (r *Registry) JobIDByConn(conn protocol.Conn) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	jobID, ok := r.clientJobs[conn]
	return jobID, ok
}

// MarkAvailable flags a registered worker as dispatchable.
func (r *Registry) MarkAvailable(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.workerConns[id]; ok {
		r.available.Add(id)
	}
}

// MarkBusy removes a worker from the dispatchable set.
func (r *Registry) MarkBusy(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.available.Remove(id)
}

// TakeAvailable atomically claims an available worker. The caller owns
// the slot until it calls MarkAvailable again.
func (r *Registry) TakeAvailable(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.available.Contains(id) {
		return false
	}
	r.available.Remove(id)
	return true
}

// AvailableWorkers snapshots the dispatchable worker ids.
func (r *Registry) AvailableWorkers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.available.ToSlice()
}

// WorkerIDs snapshots every connected worker id.
func (r *Registry) WorkerIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.workerConns))
	for id := range r.workerConns {
		ids = append(ids, id)
	}
	return ids
}

// Stats returns the observability counters.
func (r *Registry) Stats() types.BrokerStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	connected := len(r.workerConns)
	available := r.available.Cardinality()
	return types.BrokerStats{
		ConnectedWorkers: connected,
		AvailableWorkers: available,
		BusyWorkers:      connected - available,
		ActiveJobs:       len(r.clientConns),
	}
}
