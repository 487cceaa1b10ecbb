// Package registry tracks the workers available to execute tasks: local
// in-process handlers and remote HTTP-addressable endpoints.
package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taskmill/taskmill/pkg/core"
	"github.com/taskmill/taskmill/pkg/pattern"
	"github.com/taskmill/taskmill/pkg/security"
)

// Registry is the set of registered workers. Eligibility scans run in
// registration order. In-process callables are held here and are never
// exposed through List or persisted.
type Registry struct {
	mu       sync.Mutex
	order    []string
	workers  map[string]*core.Worker
	handlers map[string]core.HandlerFunc

	now func() time.Time
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		workers:  make(map[string]*core.Worker),
		handlers: make(map[string]core.HandlerFunc),
		now:      time.Now,
	}
}

// Register adds a worker. Local workers require a handler; remote workers
// require a URL. MaxConcurrent defaults to 1. It returns a snapshot of the
// stored record.
func (r *Registry) Register(spec core.WorkerSpec) (*core.Worker, error) {
	if spec.Name == "" {
		return nil, core.ErrWorkerNameMissing
	}
	if len(spec.TaskPatterns) == 0 {
		return nil, core.ErrPatternsRequired
	}

	typ := spec.Type
	if typ == "" {
		typ = core.WorkerLocal
	}
	switch typ {
	case core.WorkerLocal:
		if spec.Handler == nil {
			return nil, core.ErrHandlerRequired
		}
	case core.WorkerRemote:
		if spec.URL == "" {
			return nil, core.ErrURLRequired
		}
	}

	maxConcurrent := spec.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	maxConcurrent = security.ClampConcurrency(maxConcurrent)

	w := &core.Worker{
		ID:            uuid.New().String(),
		Name:          spec.Name,
		Type:          typ,
		URL:           spec.URL,
		TaskPatterns:  append(core.StringList(nil), spec.TaskPatterns...),
		Platforms:     append(core.StringList(nil), spec.Platforms...),
		MaxConcurrent: maxConcurrent,
		Status:        core.WorkerIdle,
		RegisteredAt:  r.now(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers[w.ID] = w
	r.order = append(r.order, w.ID)
	if typ == core.WorkerLocal {
		r.handlers[w.ID] = spec.Handler
	}
	return w.Clone(), nil
}

// Restore loads previously persisted remote workers, ordered by their
// original registration time. Local workers cannot be restored; the
// embedding process re-registers them at boot.
func (r *Registry) Restore(workers []*core.Worker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range workers {
		if w.Type != core.WorkerRemote {
			continue
		}
		cp := w.Clone()
		cp.CurrentLoad = 0
		cp.Status = core.WorkerIdle
		r.workers[cp.ID] = cp
		r.order = append(r.order, cp.ID)
	}
}

// Remove deletes a worker and returns its last snapshot.
func (r *Registry) Remove(id string) (*core.Worker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[id]
	if !ok {
		return nil, core.ErrWorkerNotFound
	}
	delete(r.workers, id)
	delete(r.handlers, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return w.Clone(), nil
}

// Get returns a snapshot of a worker.
func (r *Registry) Get(id string) (*core.Worker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[id]
	if !ok {
		return nil, false
	}
	return w.Clone(), true
}

// List returns snapshots of all workers in registration order.
func (r *Registry) List() []*core.Worker {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*core.Worker, 0, len(r.order))
	for _, id := range r.order {
		if w, ok := r.workers[id]; ok {
			out = append(out, w.Clone())
		}
	}
	return out
}

// Handler returns the in-process callable for a local worker.
func (r *Registry) Handler(id string) (core.HandlerFunc, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handlers[id]
	return h, ok
}

// FindEligible returns a snapshot of the first registered worker that can
// take the task: not offline, spare capacity, a matching task pattern, and
// (if the worker declares platforms) a matching platform. Absence of a
// match is not an error; the task simply stays queued for a later tick.
func (r *Registry) FindEligible(task *core.Task) (*core.Worker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.order {
		w, ok := r.workers[id]
		if !ok {
			continue
		}
		if w.Status == core.WorkerOffline {
			continue
		}
		if w.CurrentLoad >= w.MaxConcurrent {
			continue
		}
		if !pattern.MatchAny(task.Type, w.TaskPatterns) {
			continue
		}
		if len(w.Platforms) > 0 && !contains(w.Platforms, task.Platform) {
			continue
		}
		return w.Clone(), true
	}
	return nil, false
}

// AcquireSlot increments a worker's load ahead of a dispatch and returns a
// snapshot of the updated record.
func (r *Registry) AcquireSlot(id string) (*core.Worker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[id]
	if !ok {
		return nil, core.ErrWorkerNotFound
	}
	w.CurrentLoad++
	w.RecomputeStatus()
	return w.Clone(), nil
}

// ReleaseSlot decrements a worker's load after a dispatch finishes and
// bumps the processed/failed counters. It is a no-op for workers removed
// while the dispatch was in flight.
func (r *Registry) ReleaseSlot(id string, failed bool) (*core.Worker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[id]
	if !ok {
		return nil, core.ErrWorkerNotFound
	}
	if w.CurrentLoad > 0 {
		w.CurrentLoad--
	}
	if failed {
		w.TotalFailed++
	} else {
		w.TotalProcessed++
	}
	w.RecomputeStatus()
	return w.Clone(), nil
}

// DiscardSlot frees a slot for a dispatch the engine superseded (stale
// timeout, cancellation) without touching the outcome counters: from the
// ledger's view the worker neither completed nor failed that work. It is a
// no-op for workers removed while the dispatch was in flight.
func (r *Registry) DiscardSlot(id string) (*core.Worker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[id]
	if !ok {
		return nil, core.ErrWorkerNotFound
	}
	if w.CurrentLoad > 0 {
		w.CurrentLoad--
	}
	w.RecomputeStatus()
	return w.Clone(), nil
}

// Heartbeat stamps a worker's last-seen time.
func (r *Registry) Heartbeat(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[id]
	if !ok {
		return core.ErrWorkerNotFound
	}
	now := r.now()
	w.LastHeartbeat = &now
	return nil
}

// MarkOffline takes a worker out of the eligibility scan without removing
// its registration.
func (r *Registry) MarkOffline(id string) error {
	return r.setOffline(id, true)
}

// MarkOnline returns a worker to the eligibility scan.
func (r *Registry) MarkOnline(id string) error {
	return r.setOffline(id, false)
}

func (r *Registry) setOffline(id string, offline bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[id]
	if !ok {
		return core.ErrWorkerNotFound
	}
	if offline {
		w.Status = core.WorkerOffline
	} else {
		w.Status = core.WorkerIdle
		w.RecomputeStatus()
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
