// Package taskmill provides a persistent, priority-ordered task queue that
// routes typed tasks to pluggable workers, enforces per-pattern rate
// limits, retries failures with linear backoff, and notifies callers via
// webhook on completion.
//
// This is the main package users should import. It re-exports the public
// types from the internal pkg/ packages for a clean API surface.
//
// Basic usage:
//
//	// Create storage and engine
//	db, _ := gorm.Open(sqlite.Open("taskmill.db"), &gorm.Config{})
//	store := taskmill.NewGormStorage(db)
//	eng, _ := taskmill.New(ctx, store, taskmill.Config{})
//
//	// Register a local worker
//	eng.RegisterWorker(ctx, taskmill.WorkerSpec{
//	    Name:         "searcher",
//	    TaskPatterns: []string{"research.*"},
//	    Handler: func(ctx context.Context, task *taskmill.Task) (any, error) {
//	        return runSearch(ctx, task.Payload)
//	    },
//	})
//
//	// Submit a task and start the scheduler
//	eng.Submit(ctx, taskmill.TaskSpec{Type: "research.search", Priority: taskmill.PriorityHigh})
//	eng.Start(ctx)
package taskmill

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/taskmill/taskmill/pkg/core"
	"github.com/taskmill/taskmill/pkg/engine"
	"github.com/taskmill/taskmill/pkg/pattern"
	"github.com/taskmill/taskmill/pkg/schedule"
	"github.com/taskmill/taskmill/pkg/security"
	"github.com/taskmill/taskmill/pkg/storage"
)

type (
	// Task represents one unit of schedulable, retryable work.
	Task = core.Task

	// TaskSpec is the caller-supplied description of a task to submit.
	TaskSpec = core.TaskSpec

	// Priority determines dispatch order among eligible tasks.
	Priority = core.Priority

	// Status represents the lifecycle state of a task.
	Status = core.Status

	// Worker is a registered handler capable of executing matching tasks.
	Worker = core.Worker

	// WorkerSpec is the caller-supplied description of a worker to register.
	WorkerSpec = core.WorkerSpec

	// WorkerType distinguishes local (in-process) from remote workers.
	WorkerType = core.WorkerType

	// HandlerFunc executes a task in-process and returns an opaque result.
	HandlerFunc = core.HandlerFunc

	// RateLimit is a per-pattern dispatch ceiling with rolling windows.
	RateLimit = core.RateLimit

	// Listener receives task lifecycle events registered via Engine.On.
	Listener = core.Listener

	// Storage defines the persistence layer for tasks, workers, and limits.
	Storage = core.Storage

	// Engine is the scheduling core: ledger, loop, executor, recovery.
	Engine = engine.Engine

	// Config controls the engine's scheduling behavior.
	Config = engine.Config

	// ListFilter narrows Engine.List results.
	ListFilter = engine.ListFilter

	// Stats is a point-in-time snapshot of ledger and worker state.
	Stats = engine.Stats

	// Schedule defines when a recurring task should run next.
	Schedule = schedule.Schedule

	// GormStorage implements Storage using GORM.
	GormStorage = storage.GormStorage

	// FileStorage implements Storage on a directory of JSON files.
	FileStorage = storage.FileStorage
)

// Priority constants.
const (
	PriorityCritical = core.PriorityCritical
	PriorityHigh     = core.PriorityHigh
	PriorityMedium   = core.PriorityMedium
	PriorityLow      = core.PriorityLow
)

// Status constants.
const (
	StatusQueued    = core.StatusQueued
	StatusScheduled = core.StatusScheduled
	StatusRunning   = core.StatusRunning
	StatusCompleted = core.StatusCompleted
	StatusFailed    = core.StatusFailed
	StatusCancelled = core.StatusCancelled
	StatusRetrying  = core.StatusRetrying
)

// Worker type constants.
const (
	WorkerLocal  = core.WorkerLocal
	WorkerRemote = core.WorkerRemote
)

// Event name constants for Engine.On.
const (
	EventTaskSubmitted = core.EventTaskSubmitted
	EventTaskStarted   = core.EventTaskStarted
	EventTaskCompleted = core.EventTaskCompleted
	EventTaskFailed    = core.EventTaskFailed
	EventTaskCancelled = core.EventTaskCancelled
)

// Security limits.
const (
	MaxTaskTypeLength     = security.MaxTaskTypeLength
	MaxPayloadSize        = security.MaxPayloadSize
	MaxRetries            = security.MaxRetries
	MaxConcurrency        = security.MaxConcurrency
	MaxErrorMessageLength = security.MaxErrorMessageLength
)

// Error variables.
var (
	ErrMissingType     = core.ErrMissingType
	ErrInvalidTaskType = core.ErrInvalidTaskType
	ErrInvalidPriority = core.ErrInvalidPriority
	ErrPayloadTooLarge = core.ErrPayloadTooLarge
	ErrTaskNotFound    = core.ErrTaskNotFound
	ErrWorkerNotFound  = core.ErrWorkerNotFound
	ErrEngineStopped   = core.ErrEngineStopped
)

// New creates an engine backed by store and runs startup recovery.
func New(ctx context.Context, store Storage, cfg Config) (*Engine, error) {
	return engine.New(ctx, store, cfg)
}

// NewGormStorage creates a new GORM-backed storage.
func NewGormStorage(db *gorm.DB) *GormStorage {
	return storage.NewGormStorage(db)
}

// NewFileStorage creates a JSON-file storage rooted at dir.
func NewFileStorage(dir string) *FileStorage {
	return storage.NewFileStorage(dir)
}

// Match reports whether value matches a routing pattern.
func Match(value, pat string) bool {
	return pattern.Match(value, pat)
}

// ValidateTaskType validates a task type string.
func ValidateTaskType(name string) error {
	return security.ValidateTaskType(name)
}

// Schedule constructors.

// Every creates a schedule that runs at fixed intervals.
func Every(d time.Duration) Schedule {
	return schedule.Every(d)
}

// Daily creates a schedule that runs at a specific time each day.
func Daily(hour, minute int) Schedule {
	return schedule.Daily(hour, minute)
}

// Weekly creates a schedule that runs at a specific day and time each week.
func Weekly(day time.Weekday, hour, minute int) Schedule {
	return schedule.Weekly(day, hour, minute)
}

// Cron creates a schedule from a standard five-field cron expression.
func Cron(expr string) Schedule {
	return schedule.Cron(expr)
}
