package core

import (
	"context"
	"time"
)

// WorkerType distinguishes in-process handlers from HTTP-addressable workers.
type WorkerType string

const (
	WorkerLocal  WorkerType = "local"
	WorkerRemote WorkerType = "remote"
)

// WorkerStatus is derived from a worker's live load.
type WorkerStatus string

const (
	WorkerIdle    WorkerStatus = "idle"
	WorkerBusy    WorkerStatus = "busy"
	WorkerOffline WorkerStatus = "offline"
)

// HandlerFunc executes a task in-process and returns an opaque result.
type HandlerFunc func(ctx context.Context, task *Task) (any, error)

// Worker is a registered handler capable of executing tasks that match its
// declared patterns. Only remote workers are persisted; local workers must
// be re-registered by the embedding process on every startup because their
// callables cannot be serialized.
type Worker struct {
	ID   string     `gorm:"primaryKey;size:36" json:"id"`
	Name string     `gorm:"size:255;not null" json:"name"`
	Type WorkerType `gorm:"size:16;default:'local'" json:"type"`

	// URL is the dispatch target for remote workers.
	URL string `gorm:"size:2048" json:"url,omitempty"`

	TaskPatterns StringList `gorm:"type:text" json:"taskPatterns"`
	Platforms    StringList `gorm:"type:text" json:"platforms,omitempty"`

	MaxConcurrent int          `gorm:"default:1" json:"maxConcurrent"`
	CurrentLoad   int          `gorm:"-" json:"currentLoad"`
	Status        WorkerStatus `gorm:"-" json:"status"`

	TotalProcessed int64 `json:"totalProcessed"`
	TotalFailed    int64 `json:"totalFailed"`

	RegisteredAt  time.Time  `gorm:"autoCreateTime" json:"registeredAt"`
	LastHeartbeat *time.Time `json:"lastHeartbeat,omitempty"`
}

// Clone returns a copy safe to hand to external callers. The in-process
// callable is held by the registry, never by the model, so a clone can
// never leak it.
func (w *Worker) Clone() *Worker {
	cp := *w
	if w.TaskPatterns != nil {
		cp.TaskPatterns = append(StringList(nil), w.TaskPatterns...)
	}
	if w.Platforms != nil {
		cp.Platforms = append(StringList(nil), w.Platforms...)
	}
	if w.LastHeartbeat != nil {
		v := *w.LastHeartbeat
		cp.LastHeartbeat = &v
	}
	return &cp
}

// RecomputeStatus derives idle/busy from the current load. Offline is
// sticky: it is only cleared by an explicit mark-online.
func (w *Worker) RecomputeStatus() {
	if w.Status == WorkerOffline {
		return
	}
	if w.CurrentLoad > 0 {
		w.Status = WorkerBusy
	} else {
		w.Status = WorkerIdle
	}
}

// WorkerSpec is the caller-supplied description of a worker to register.
type WorkerSpec struct {
	Name          string      `json:"name"`
	Type          WorkerType  `json:"type,omitempty"`
	URL           string      `json:"url,omitempty"`
	TaskPatterns  []string    `json:"taskPatterns"`
	Platforms     []string    `json:"platforms,omitempty"`
	MaxConcurrent int         `json:"maxConcurrent,omitempty"`
	Handler       HandlerFunc `json:"-"`
}
