package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/taskmill/taskmill/pkg/core"
)

type dispatchCall struct {
	task   *core.Task
	worker *core.Worker
	token  uint64
}

// tick runs one pass of the scheduler: fail stale running tasks, fire due
// recurring definitions, promote due scheduled tasks, then dispatch queued
// candidates in priority order up to the global concurrency ceiling. Ticks
// never overlap; if a prior tick is still running this one is skipped.
func (e *Engine) tick(ctx context.Context) {
	if !e.ticking.CompareAndSwap(false, true) {
		return
	}
	defer e.ticking.Store(false)

	now := e.now()

	var (
		dirty         []*core.Task
		timedOut      []*core.Task
		submitted     []*core.Task
		started       []dispatchCall
		released      []string
		touchedLimits []*core.RateLimit
	)

	e.mu.Lock()

	// 1. Fail tasks stuck in running past the stale timeout. The worker's
	// eventual response is discarded by the token check.
	for _, t := range e.tasks {
		if t.Status != core.StatusRunning || t.StartedAt == nil {
			continue
		}
		if now.Sub(*t.StartedAt) <= e.cfg.StaleTaskTimeout {
			continue
		}
		if _, dispatched := e.inflight[t.ID]; dispatched {
			delete(e.inflight, t.ID)
			e.running--
			if t.AssignedWorker != "" {
				released = append(released, t.AssignedWorker)
			}
		}
		t.Status = core.StatusFailed
		t.Error = fmt.Sprintf("task timed out after %s", e.cfg.StaleTaskTimeout)
		completed := now
		t.CompletedAt = &completed
		t.DurationMs = now.Sub(*t.StartedAt).Milliseconds()
		t.AssignedWorker = ""
		snap := t.Clone()
		dirty = append(dirty, snap)
		timedOut = append(timedOut, snap)
	}

	// 2a. Fire due recurring definitions.
	for _, r := range e.recurring {
		if now.Before(r.NextRun) {
			continue
		}
		r.NextRun = r.Schedule.Next(now)
		task, err := e.newTaskLocked(r.Spec)
		if err != nil {
			e.logger.Error("recurring task spec rejected", "name", r.Name, "error", err)
			continue
		}
		e.tasks[task.ID] = task
		snap := task.Clone()
		dirty = append(dirty, snap)
		submitted = append(submitted, snap)
	}

	// 2b. Promote due scheduled tasks.
	for _, t := range e.tasks {
		if t.Status != core.StatusScheduled || t.ScheduledFor == nil {
			continue
		}
		if now.Before(*t.ScheduledFor) {
			continue
		}
		t.Status = core.StatusQueued
		dirty = append(dirty, t.Clone())
	}

	// 3. Candidates: queued tasks by priority rank, then creation time.
	candidates := make([]*core.Task, 0, len(e.tasks))
	for _, t := range e.tasks {
		if t.Status == core.StatusQueued {
			candidates = append(candidates, t)
		}
	}
	sortCandidates(candidates)

	// 4. Dispatch while under the concurrency ceiling. Denied or unroutable
	// candidates stay queued for a later tick. Counters are recorded at
	// hand-off so later candidates in the same pass see the consumed quota.
	for _, t := range candidates {
		if e.running >= e.cfg.MaxConcurrentTasks {
			break
		}
		if allowed, reason := e.limiter.Check(t); !allowed {
			e.logger.Debug("dispatch denied by rate limit", "task_id", t.ID, "reason", reason)
			continue
		}
		w, found := e.registry.FindEligible(t)
		if !found {
			continue
		}
		if _, err := e.registry.AcquireSlot(w.ID); err != nil {
			continue
		}
		touchedLimits = append(touchedLimits, e.limiter.Record(t)...)

		t.Status = core.StatusRunning
		startedAt := now
		t.StartedAt = &startedAt
		t.CompletedAt = nil
		t.AssignedWorker = w.ID

		e.tokenSeq++
		token := e.tokenSeq
		e.inflight[t.ID] = token
		e.running++

		snap := t.Clone()
		dirty = append(dirty, snap)
		started = append(started, dispatchCall{task: snap, worker: w, token: token})
	}

	runCleanup := e.cfg.Retention > 0 && now.Sub(e.lastCleanup) >= e.cfg.CleanupInterval
	if runCleanup {
		e.lastCleanup = now
	}

	e.mu.Unlock()

	for _, id := range released {
		_, _ = e.registry.DiscardSlot(id)
	}

	// 5. Persist everything the tick touched, then fan out notifications.
	if err := e.store.SaveTasks(ctx, dirty); err != nil {
		e.logger.Error("tick persistence failed", "tasks", len(dirty), "error", err)
	}
	for _, lim := range touchedLimits {
		if err := e.store.SaveRateLimit(ctx, lim); err != nil {
			e.logger.Error("persist rate limit failed", "pattern", lim.Pattern, "error", err)
		}
	}

	for _, t := range submitted {
		e.hub.Emit(core.EventTaskSubmitted, t)
	}
	for _, t := range timedOut {
		e.logger.Warn("task failed as stale", "task_id", t.ID, "type", t.Type, "timeout", e.cfg.StaleTaskTimeout)
		e.hub.Emit(core.EventTaskFailed, t)
		e.fireWebhook(core.EventTaskFailed, t)
	}
	for _, call := range started {
		e.logger.Info("task dispatched", "task_id", call.task.ID, "type", call.task.Type,
			"worker_id", call.worker.ID, "worker", call.worker.Name)
		e.hub.Emit(core.EventTaskStarted, call.task)
		e.wg.Add(1)
		go e.execute(ctx, call)
	}

	if runCleanup {
		if _, err := e.Cleanup(ctx, e.cfg.Retention); err != nil {
			e.logger.Error("periodic cleanup failed", "error", err)
		}
	}
}

func sortCandidates(tasks []*core.Task) {
	sort.Slice(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		if a.Priority.Rank() != b.Priority.Rank() {
			return a.Priority.Rank() < b.Priority.Rank()
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}
