// Package registry is the orchestrator side of the control plane: a
// liveness table rebuilt from worker status messages, Redis persistence of
// worker records, and the client used to address commands at the fleet.
package registry

import (
	"sync"
	"time"

	"ezliveAnalytics/models"
)

// DefaultLivenessTimeout declares a worker dead when nothing has been heard
// from it for this long.
const DefaultLivenessTimeout = 10 * time.Second

// Registry maintains instanceId -> {lastSeen, lastKnownState}. An entry is
// alive iff now-lastSeen < timeout; anything else is dead, and a worker
// never seen is unknown.
type Registry struct {
	mu      sync.Mutex
	workers map[string]*models.WorkerRecord
	timeout time.Duration
	now     func() time.Time
}

func NewRegistry(timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = DefaultLivenessTimeout
	}

	return &Registry{
		workers: make(map[string]*models.WorkerRecord),
		timeout: timeout,
		now:     time.Now,
	}
}

// Observe records one status message (PONG, heartbeat, or transition).
func (r *Registry) Observe(sm models.StatusMessage) {
	if sm.InstanceId == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.workers[sm.InstanceId]
	if !ok {
		rec = &models.WorkerRecord{
			InstanceId:   sm.InstanceId,
			RegisteredAt: r.now(),
		}
		r.workers[sm.InstanceId] = rec
	}

	rec.LastSeen = r.now()
	rec.LastStatus = sm
}

// Seed loads persisted records, typically after an orchestrator restart.
// Persisted LastSeen values are kept as-is: a stale record reads as dead
// until the worker is heard from again.
func (r *Registry) Seed(records []models.WorkerRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range records {
		rec := records[i]
		if _, ok := r.workers[rec.InstanceId]; !ok {
			r.workers[rec.InstanceId] = &rec
		}
	}
}

// Get returns a copy of one record.
func (r *Registry) Get(instanceId string) (models.WorkerRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.workers[instanceId]
	if !ok {
		return models.WorkerRecord{}, false
	}

	return *rec, true
}

// LastSeen returns when the worker was last heard from.
func (r *Registry) LastSeen(instanceId string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.workers[instanceId]
	if !ok {
		return time.Time{}, false
	}

	return rec.LastSeen, true
}

// Alive reports liveness for a known worker; an unknown worker is not alive.
func (r *Registry) Alive(instanceId string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.workers[instanceId]
	if !ok {
		return false
	}

	return r.now().Sub(rec.LastSeen) < r.timeout
}

// Workers returns copies of every record, alive or dead.
func (r *Registry) Workers() []models.WorkerRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.WorkerRecord, 0, len(r.workers))
	for _, rec := range r.workers {
		out = append(out, *rec)
	}

	return out
}

// Remove drops a record, e.g. after a deliberate worker shutdown.
func (r *Registry) Remove(instanceId string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.workers, instanceId)
}
