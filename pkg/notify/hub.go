// Package notify delivers task lifecycle notifications: in-process event
// listeners and best-effort HTTP webhooks.
package notify

import (
	"log/slog"
	"sync"

	"github.com/taskmill/taskmill/pkg/core"
)

// Hub fans task events out to listeners registered per event name. Each
// listener invocation is isolated so one listener's panic cannot block the
// others or the scheduler loop.
type Hub struct {
	mu        sync.RWMutex
	listeners map[string][]core.Listener
	logger    *slog.Logger
}

// NewHub creates an empty Hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		listeners: make(map[string][]core.Listener),
		logger:    logger,
	}
}

// On registers a listener for a named event (core.EventTaskSubmitted, …).
func (h *Hub) On(event string, fn core.Listener) {
	h.mu.Lock()
	h.listeners[event] = append(h.listeners[event], fn)
	h.mu.Unlock()
}

// Emit invokes every listener registered for the event with its own
// snapshot of the task.
func (h *Hub) Emit(event string, task *core.Task) {
	h.mu.RLock()
	fns := make([]core.Listener, len(h.listeners[event]))
	copy(fns, h.listeners[event])
	h.mu.RUnlock()

	for _, fn := range fns {
		h.invoke(event, fn, task.Clone())
	}
}

func (h *Hub) invoke(event string, fn core.Listener, task *core.Task) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("event listener panicked", "event", event, "task_id", task.ID, "panic", r)
		}
	}()
	fn(task)
}
