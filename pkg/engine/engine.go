// Package engine implements the task-scheduling core: the durable task
// ledger, the periodic scheduler loop, the executor with its retry policy,
// and startup crash recovery. All mutable state is owned here; callers go
// through the exported operations and never touch records directly.
package engine

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/taskmill/taskmill/pkg/core"
	"github.com/taskmill/taskmill/pkg/notify"
	"github.com/taskmill/taskmill/pkg/pattern"
	"github.com/taskmill/taskmill/pkg/ratelimit"
	"github.com/taskmill/taskmill/pkg/registry"
	"github.com/taskmill/taskmill/pkg/schedule"
	"github.com/taskmill/taskmill/pkg/security"
)

type recurringTask struct {
	Name     string
	Schedule schedule.Schedule
	Spec     core.TaskSpec
	NextRun  time.Time
}

// Engine is the single owner of the task ledger, worker registry, and rate
// limiter. One periodic tick performs all scheduling mutation; executions
// run asynchronously and report back through token-guarded completion paths
// so a stale or cancelled dispatch can never overwrite a settled record.
type Engine struct {
	cfg    Config
	logger *slog.Logger

	store    core.Storage
	registry *registry.Registry
	limiter  *ratelimit.Limiter
	hub      *notify.Hub
	webhooks *notify.WebhookNotifier
	remote   *http.Client

	mu          sync.Mutex
	tasks       map[string]*core.Task
	inflight    map[string]uint64
	tokenSeq    uint64
	running     int
	recurring   []*recurringTask
	lastCleanup time.Time
	closed      bool
	loopCancel  context.CancelFunc

	ticking atomic.Bool
	wg      sync.WaitGroup

	now func() time.Time
}

// New creates an engine backed by store, migrates the schema, and runs
// startup recovery: running tasks are requeued, restart-unsafe tasks are
// force-cancelled, and persisted remote workers and rate limits are
// restored. The engine does not tick until Start is called.
func New(ctx context.Context, store core.Storage, cfg Config) (*Engine, error) {
	cfg = cfg.withDefaults()

	e := &Engine{
		cfg:      cfg,
		logger:   cfg.Logger,
		store:    store,
		registry: registry.New(),
		limiter:  ratelimit.New(),
		hub:      notify.NewHub(cfg.Logger),
		webhooks: notify.NewWebhookNotifier(cfg.Logger),
		remote:   &http.Client{Timeout: cfg.StaleTaskTimeout},
		tasks:    make(map[string]*core.Task),
		inflight: make(map[string]uint64),
		now:      time.Now,
	}

	if err := store.Migrate(ctx); err != nil {
		return nil, err
	}
	if err := e.recover(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

// recover reloads persisted state and repairs tasks left behind by a crash.
func (e *Engine) recover(ctx context.Context) error {
	tasks, err := e.store.LoadTasks(ctx)
	if err != nil {
		return err
	}

	now := e.now()
	var repaired []*core.Task
	for _, t := range tasks {
		switch {
		// The unsafe check runs first: a browser-style task found running
		// must never be requeued and re-dispatched behind the user's back.
		case !t.Status.Terminal() && e.restartUnsafe(t.Type):
			t.Status = core.StatusCancelled
			t.Error = "cancelled on restart: task type is not safe to resume automatically"
			t.AssignedWorker = ""
			completed := now
			t.CompletedAt = &completed
			repaired = append(repaired, t.Clone())
			e.logger.Warn("cancelled restart-unsafe task at startup", "task_id", t.ID, "type", t.Type)

		case t.Status == core.StatusRunning:
			// The process died mid-execution. At-least-once: assume the
			// side effect did not land and retry from scratch.
			t.Status = core.StatusQueued
			t.StartedAt = nil
			t.AssignedWorker = ""
			repaired = append(repaired, t.Clone())
			e.logger.Warn("requeued task found running at startup", "task_id", t.ID, "type", t.Type)
		}
		e.tasks[t.ID] = t
	}
	if err := e.store.SaveTasks(ctx, repaired); err != nil {
		return err
	}

	workers, err := e.store.LoadWorkers(ctx)
	if err != nil {
		return err
	}
	e.registry.Restore(workers)

	limits, err := e.store.LoadRateLimits(ctx)
	if err != nil {
		return err
	}
	e.limiter.Restore(limits)

	e.logger.Info("engine recovered",
		"tasks", len(tasks), "repaired", len(repaired),
		"remote_workers", len(workers), "rate_limits", len(limits))
	return nil
}

func (e *Engine) restartUnsafe(taskType string) bool {
	for _, prefix := range e.cfg.UnsafeTypePrefixes {
		if strings.HasPrefix(taskType, prefix) {
			return true
		}
	}
	return false
}

// Start launches the scheduler loop. It returns immediately; the loop runs
// until the context is cancelled or Stop is called.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.closed || e.loopCancel != nil {
		e.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	e.loopCancel = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go e.loop(ctx)
	e.logger.Info("engine started", "process_interval", e.cfg.ProcessInterval,
		"max_concurrent", e.cfg.MaxConcurrentTasks)
}

func (e *Engine) loop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.ProcessInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

// Stop halts the loop, waits for in-flight executions to settle, and marks
// the engine closed. Further submissions return ErrEngineStopped.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel := e.loopCancel
	e.loopCancel = nil
	e.closed = true
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.wg.Wait()
	e.logger.Info("engine stopped")
}

// On registers an in-process listener for a named task event.
func (e *Engine) On(event string, fn core.Listener) {
	e.hub.On(event, fn)
}

// Submit validates and persists a new task. Tasks with a ScheduledFor
// timestamp start out scheduled; everything else is immediately queued.
func (e *Engine) Submit(ctx context.Context, spec core.TaskSpec) (*core.Task, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, core.ErrEngineStopped
	}
	task, err := e.newTaskLocked(spec)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	e.tasks[task.ID] = task
	snap := task.Clone()
	e.mu.Unlock()

	if err := e.store.SaveTask(ctx, snap); err != nil {
		e.mu.Lock()
		delete(e.tasks, task.ID)
		e.mu.Unlock()
		return nil, err
	}
	e.logger.Info("task submitted", "task_id", snap.ID, "type", snap.Type,
		"priority", snap.Priority, "status", snap.Status)
	e.hub.Emit(core.EventTaskSubmitted, snap)
	return snap, nil
}

// newTaskLocked builds a task record from a spec. Caller holds e.mu.
func (e *Engine) newTaskLocked(spec core.TaskSpec) (*core.Task, error) {
	if err := security.ValidateTaskType(spec.Type); err != nil {
		return nil, err
	}
	if err := security.ValidatePayload(spec.Payload); err != nil {
		return nil, err
	}
	priority := spec.Priority
	if priority == "" {
		priority = e.cfg.DefaultPriority
	}
	if !priority.Valid() {
		return nil, core.ErrInvalidPriority
	}

	maxRetries := e.cfg.DefaultMaxRetries
	if spec.MaxRetries != nil {
		maxRetries = *spec.MaxRetries
	}
	retryDelayMs := e.cfg.DefaultRetryDelay.Milliseconds()
	if spec.RetryDelayMs != nil && *spec.RetryDelayMs >= 0 {
		retryDelayMs = *spec.RetryDelayMs
	}

	status := core.StatusQueued
	if spec.ScheduledFor != nil {
		status = core.StatusScheduled
	}

	task := &core.Task{
		ID:           uuid.New().String(),
		Type:         spec.Type,
		Platform:     spec.Platform,
		Payload:      spec.Payload,
		Priority:     priority,
		Status:       status,
		ScheduledFor: spec.ScheduledFor,
		CreatedAt:    e.now(),
		MaxRetries:   security.ClampRetries(maxRetries),
		RetryDelayMs: retryDelayMs,
		WebhookURL:   spec.WebhookURL,
		CallbackID:   spec.CallbackID,
		SubmittedBy:  spec.SubmittedBy,
		Tags:         append(core.StringList(nil), spec.Tags...),
		Notes:        spec.Notes,
	}
	return task, nil
}

// Get returns a snapshot of one task.
func (e *Engine) Get(id string) (*core.Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tasks[id]
	if !ok {
		return nil, core.ErrTaskNotFound
	}
	return t.Clone(), nil
}

// ListFilter narrows the result of List. Zero fields do not filter.
type ListFilter struct {
	Status      core.Status
	Type        string // matched as a pattern against task types
	Platform    string
	SubmittedBy string
	Limit       int
}

// List returns task snapshots ordered running-first, then by priority rank,
// then by creation time.
func (e *Engine) List(filter ListFilter) []*core.Task {
	e.mu.Lock()
	out := make([]*core.Task, 0, len(e.tasks))
	for _, t := range e.tasks {
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.Type != "" && !pattern.Match(t.Type, filter.Type) {
			continue
		}
		if filter.Platform != "" && t.Platform != filter.Platform {
			continue
		}
		if filter.SubmittedBy != "" && t.SubmittedBy != filter.SubmittedBy {
			continue
		}
		out = append(out, t.Clone())
	}
	e.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		ar, br := a.Status == core.StatusRunning, b.Status == core.StatusRunning
		if ar != br {
			return ar
		}
		if a.Priority.Rank() != b.Priority.Rank() {
			return a.Priority.Rank() < b.Priority.Rank()
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out
}

// Cancel marks a task cancelled. Tasks already in a terminal status are
// returned unchanged; a settled record is never rewritten. Cancelling a
// running task does not preempt the in-flight call; its eventual result is
// discarded and no retry is scheduled.
func (e *Engine) Cancel(ctx context.Context, id string) (*core.Task, error) {
	e.mu.Lock()
	t, ok := e.tasks[id]
	if !ok {
		e.mu.Unlock()
		return nil, core.ErrTaskNotFound
	}
	if t.Status.Terminal() {
		snap := t.Clone()
		e.mu.Unlock()
		return snap, nil
	}

	var releaseWorker string
	if _, dispatched := e.inflight[id]; dispatched {
		delete(e.inflight, id)
		e.running--
		releaseWorker = t.AssignedWorker
	}

	t.Status = core.StatusCancelled
	now := e.now()
	t.CompletedAt = &now
	t.AssignedWorker = ""
	snap := t.Clone()
	e.mu.Unlock()

	if releaseWorker != "" {
		_, _ = e.registry.DiscardSlot(releaseWorker)
	}
	if err := e.store.SaveTask(ctx, snap); err != nil {
		return nil, err
	}
	e.logger.Info("task cancelled", "task_id", snap.ID, "type", snap.Type)
	e.hub.Emit(core.EventTaskCancelled, snap)
	return snap, nil
}

// RegisterWorker adds a worker to the registry. Remote workers are
// persisted so they survive a restart; local workers are ephemeral because
// their callables cannot be serialized.
func (e *Engine) RegisterWorker(ctx context.Context, spec core.WorkerSpec) (*core.Worker, error) {
	w, err := e.registry.Register(spec)
	if err != nil {
		return nil, err
	}
	if w.Type == core.WorkerRemote {
		if err := e.store.SaveWorker(ctx, w); err != nil {
			_, _ = e.registry.Remove(w.ID)
			return nil, err
		}
	}
	e.logger.Info("worker registered", "worker_id", w.ID, "name", w.Name,
		"type", w.Type, "patterns", strings.Join(w.TaskPatterns, ","))
	return w, nil
}

// RemoveWorker deletes a worker from the registry and, for remote workers,
// from storage. Tasks it was running are settled by the stale-timeout sweep.
func (e *Engine) RemoveWorker(ctx context.Context, id string) error {
	w, err := e.registry.Remove(id)
	if err != nil {
		return err
	}
	if w.Type == core.WorkerRemote {
		if err := e.store.DeleteWorker(ctx, id); err != nil {
			return err
		}
	}
	e.logger.Info("worker removed", "worker_id", id, "name", w.Name)
	return nil
}

// Workers returns snapshots of all registered workers in registration order.
func (e *Engine) Workers() []*core.Worker {
	return e.registry.List()
}

// Worker returns a snapshot of one worker.
func (e *Engine) Worker(id string) (*core.Worker, error) {
	w, ok := e.registry.Get(id)
	if !ok {
		return nil, core.ErrWorkerNotFound
	}
	return w, nil
}

// ConfigureRateLimit upserts a dispatch ceiling for a task-type pattern or
// "platform:<name>" key and persists it.
func (e *Engine) ConfigureRateLimit(ctx context.Context, pat string, maxPerHour, maxPerDay int) (*core.RateLimit, error) {
	if pat == "" {
		return nil, core.ErrPatternsRequired
	}
	lim := e.limiter.Configure(pat, maxPerHour, maxPerDay)
	if err := e.store.SaveRateLimit(ctx, lim); err != nil {
		return nil, err
	}
	e.logger.Info("rate limit configured", "pattern", pat,
		"max_per_hour", maxPerHour, "max_per_day", maxPerDay)
	return lim, nil
}

// RateLimits returns snapshots of all configured limits.
func (e *Engine) RateLimits() []*core.RateLimit {
	return e.limiter.List()
}

// RemoveRateLimit deletes a configured limit. Removing an unknown pattern
// is a no-op.
func (e *Engine) RemoveRateLimit(ctx context.Context, pat string) error {
	if !e.limiter.Remove(pat) {
		return nil
	}
	return e.store.DeleteRateLimit(ctx, pat)
}

// ScheduleRecurring enqueues a copy of spec every time the schedule fires.
// The definition lives in memory only; the embedding process re-registers
// its recurring tasks at boot, like local workers.
func (e *Engine) ScheduleRecurring(name string, sched schedule.Schedule, spec core.TaskSpec) error {
	if err := security.ValidateTaskType(spec.Type); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recurring = append(e.recurring, &recurringTask{
		Name:     name,
		Schedule: sched,
		Spec:     spec,
		NextRun:  sched.Next(e.now()),
	})
	return nil
}

// Stats is a point-in-time snapshot for operators.
type Stats struct {
	Tasks      map[core.Status]int `json:"tasks"`
	TotalTasks int                 `json:"totalTasks"`
	RunningNow int                 `json:"runningNow"`
	Workers    []WorkerLoad        `json:"workers"`
	RateLimits int                 `json:"rateLimits"`
}

// WorkerLoad is the per-worker slice of a Stats snapshot.
type WorkerLoad struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Status        core.WorkerStatus `json:"status"`
	CurrentLoad   int               `json:"currentLoad"`
	MaxConcurrent int               `json:"maxConcurrent"`
	Processed     int64             `json:"totalProcessed"`
	Failed        int64             `json:"totalFailed"`
}

// Stats returns a snapshot of ledger counts and worker load.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	s := Stats{
		Tasks:      make(map[core.Status]int),
		TotalTasks: len(e.tasks),
		RunningNow: e.running,
	}
	for _, t := range e.tasks {
		s.Tasks[t.Status]++
	}
	e.mu.Unlock()

	for _, w := range e.registry.List() {
		s.Workers = append(s.Workers, WorkerLoad{
			ID:            w.ID,
			Name:          w.Name,
			Status:        w.Status,
			CurrentLoad:   w.CurrentLoad,
			MaxConcurrent: w.MaxConcurrent,
			Processed:     w.TotalProcessed,
			Failed:        w.TotalFailed,
		})
	}
	s.RateLimits = len(e.limiter.List())
	return s
}

// Cleanup deletes terminal tasks whose completion is older than the
// retention window. Active tasks are never touched, regardless of age. It
// returns the number of tasks removed.
func (e *Engine) Cleanup(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := e.now().Add(-retention)

	e.mu.Lock()
	var ids []string
	for id, t := range e.tasks {
		if !t.Status.Terminal() {
			continue
		}
		if t.CompletedAt == nil || !t.CompletedAt.Before(cutoff) {
			continue
		}
		ids = append(ids, id)
	}
	for _, id := range ids {
		delete(e.tasks, id)
	}
	e.mu.Unlock()

	if len(ids) == 0 {
		return 0, nil
	}
	if err := e.store.DeleteTasks(ctx, ids); err != nil {
		return 0, err
	}
	e.logger.Info("cleaned up terminal tasks", "removed", len(ids), "retention", retention)
	return len(ids), nil
}
