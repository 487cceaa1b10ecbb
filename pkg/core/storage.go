package core

import "context"

// Storage defines the persistence layer for the engine's three durable
// record sets: tasks, remote workers, and rate limits. Each set is loaded
// in full at startup; the engine owns all mutation and calls back into
// Storage to make individual records durable.
type Storage interface {
	// Migrate prepares the backing store (tables, directories).
	Migrate(ctx context.Context) error

	// Tasks
	SaveTask(ctx context.Context, task *Task) error
	SaveTasks(ctx context.Context, tasks []*Task) error
	DeleteTasks(ctx context.Context, ids []string) error
	LoadTasks(ctx context.Context) ([]*Task, error)

	// Workers (remote only; local callables are never persisted)
	SaveWorker(ctx context.Context, worker *Worker) error
	DeleteWorker(ctx context.Context, id string) error
	LoadWorkers(ctx context.Context) ([]*Worker, error)

	// Rate limits
	SaveRateLimit(ctx context.Context, limit *RateLimit) error
	DeleteRateLimit(ctx context.Context, pattern string) error
	LoadRateLimits(ctx context.Context) ([]*RateLimit, error)

	Close() error
}
