package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/taskmill/taskmill/pkg/core"
	"github.com/taskmill/taskmill/pkg/security"
)

// remoteTask is the minimal projection POSTed to a remote worker's URL.
type remoteTask struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Platform string          `json:"platform,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Priority core.Priority   `json:"priority"`
}

// execute runs one dispatched task to completion and settles the ledger.
// Persistence in the settle paths uses a background context so a loop
// shutdown cannot lose a finished task's record.
func (e *Engine) execute(ctx context.Context, call dispatchCall) {
	defer e.wg.Done()

	result, err := e.invoke(ctx, call.task, call.worker)
	if err != nil {
		e.settleFailure(call, err)
		return
	}
	e.settleSuccess(call, result)
}

func (e *Engine) invoke(ctx context.Context, task *core.Task, worker *core.Worker) (json.RawMessage, error) {
	switch worker.Type {
	case core.WorkerLocal:
		handler, ok := e.registry.Handler(worker.ID)
		if !ok {
			return nil, fmt.Errorf("worker %s has no registered handler", worker.ID)
		}
		out, err := callHandler(ctx, handler, task)
		if err != nil {
			return nil, err
		}
		return marshalResult(out)

	case core.WorkerRemote:
		return e.invokeRemote(ctx, task, worker.URL)
	}
	return nil, fmt.Errorf("unknown worker type %q", worker.Type)
}

// callHandler isolates a local handler so a panic becomes a task failure
// instead of crashing the process.
func callHandler(ctx context.Context, handler core.HandlerFunc, task *core.Task) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, task)
}

func marshalResult(out any) (json.RawMessage, error) {
	if out == nil {
		return nil, nil
	}
	if raw, ok := out.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode handler result: %w", err)
	}
	return data, nil
}

func (e *Engine) invokeRemote(ctx context.Context, task *core.Task, url string) (json.RawMessage, error) {
	body, err := json.Marshal(remoteTask{
		ID:       task.ID,
		Type:     task.Type,
		Platform: task.Platform,
		Payload:  task.Payload,
		Priority: task.Priority,
	})
	if err != nil {
		return nil, fmt.Errorf("encode task: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build worker request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.remote.Do(req)
	if err != nil {
		return nil, fmt.Errorf("worker call: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, security.MaxPayloadSize))
	if err != nil {
		return nil, fmt.Errorf("read worker response: %w", err)
	}
	if resp.StatusCode >= 300 {
		msg := string(bytes.TrimSpace(data))
		if msg == "" {
			msg = resp.Status
		}
		return nil, fmt.Errorf("worker returned %d: %s", resp.StatusCode, msg)
	}
	if len(data) == 0 {
		return nil, nil
	}
	if json.Valid(data) {
		return data, nil
	}
	return json.Marshal(string(data))
}

// settle claims the dispatch token for taskID. It returns the live record
// with e.mu held. A false return means the dispatch was superseded (stale
// timeout or cancellation) and the caller must discard the outcome; the
// superseding path already released the worker slot.
func (e *Engine) settle(taskID string, token uint64) (*core.Task, bool) {
	e.mu.Lock()
	current, ok := e.inflight[taskID]
	if !ok || current != token {
		e.mu.Unlock()
		return nil, false
	}
	delete(e.inflight, taskID)
	e.running--
	return e.tasks[taskID], true
}

func (e *Engine) settleSuccess(call dispatchCall, result json.RawMessage) {
	t, ok := e.settle(call.task.ID, call.token)
	if !ok {
		e.logger.Debug("discarding late worker result", "task_id", call.task.ID, "worker_id", call.worker.ID)
		return
	}

	now := e.now()
	t.Status = core.StatusCompleted
	t.Result = result
	t.Error = ""
	t.CompletedAt = &now
	if t.StartedAt != nil {
		t.DurationMs = now.Sub(*t.StartedAt).Milliseconds()
	}
	t.AssignedWorker = ""
	snap := t.Clone()
	e.mu.Unlock()

	_, _ = e.registry.ReleaseSlot(call.worker.ID, false)

	if err := e.store.SaveTask(context.Background(), snap); err != nil {
		e.logger.Error("persist completed task failed", "task_id", snap.ID, "error", err)
	}

	e.logger.Info("task completed", "task_id", snap.ID, "type", snap.Type, "duration_ms", snap.DurationMs)
	e.hub.Emit(core.EventTaskCompleted, snap)
	e.fireWebhook(core.EventTaskCompleted, snap)
}

func (e *Engine) settleFailure(call dispatchCall, cause error) {
	t, ok := e.settle(call.task.ID, call.token)
	if !ok {
		e.logger.Debug("discarding late worker failure", "task_id", call.task.ID, "worker_id", call.worker.ID)
		return
	}

	now := e.now()
	t.Retries++
	t.Error = security.SanitizeErrorMessage(cause.Error())
	t.AssignedWorker = ""

	retry := t.Retries <= t.MaxRetries
	if retry {
		// Linear backoff: the delay grows with each attempt.
		due := now.Add(t.RetryDelay() * time.Duration(t.Retries))
		t.ScheduledFor = &due
		t.Status = core.StatusScheduled
	} else {
		t.Status = core.StatusFailed
		t.CompletedAt = &now
		if t.StartedAt != nil {
			t.DurationMs = now.Sub(*t.StartedAt).Milliseconds()
		}
	}
	snap := t.Clone()
	e.mu.Unlock()

	_, _ = e.registry.ReleaseSlot(call.worker.ID, true)

	if err := e.store.SaveTask(context.Background(), snap); err != nil {
		e.logger.Error("persist failed task failed", "task_id", snap.ID, "error", err)
	}

	if retry {
		e.logger.Warn("task attempt failed, retry scheduled", "task_id", snap.ID, "type", snap.Type,
			"attempt", snap.Retries, "max_retries", snap.MaxRetries, "next_at", snap.ScheduledFor, "error", snap.Error)
		return
	}

	e.logger.Error("task failed permanently", "task_id", snap.ID, "type", snap.Type,
		"attempts", snap.Retries, "error", snap.Error)
	e.hub.Emit(core.EventTaskFailed, snap)
	e.fireWebhook(core.EventTaskFailed, snap)
}

// fireWebhook delivers a terminal notification in the background. Failures
// are swallowed by the notifier.
func (e *Engine) fireWebhook(event string, task *core.Task) {
	if task.WebhookURL == "" {
		return
	}
	go e.webhooks.Notify(context.Background(), task.WebhookURL, event, task)
}
