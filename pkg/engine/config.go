package engine

import (
	"log/slog"
	"time"

	"github.com/taskmill/taskmill/pkg/core"
)

// Default configuration values applied by withDefaults.
const (
	DefaultProcessInterval  = time.Second
	DefaultMaxConcurrent    = 1
	DefaultMaxRetries       = 3
	DefaultRetryDelay       = time.Minute
	DefaultStaleTaskTimeout = 10 * time.Minute
	DefaultCleanupInterval  = 10 * time.Minute
)

// DefaultUnsafeTypePrefixes lists the task-type prefixes that are never safe
// to resume automatically after a restart. Tasks of these types drive an
// exclusive external session; starting one without a fresh explicit trigger
// could take over a session in an unknown state.
var DefaultUnsafeTypePrefixes = []string{"browser.", "session."}

// Config controls the engine's scheduling behavior. The zero value is
// usable; unset fields are filled in by withDefaults.
type Config struct {
	// ProcessInterval is the scheduler tick period.
	ProcessInterval time.Duration

	// MaxConcurrentTasks caps how many tasks may be running at once across
	// all workers. The reference deployment sets this to 1 because its
	// workers share one exclusive external session.
	MaxConcurrentTasks int

	// DefaultMaxRetries and DefaultRetryDelay apply to submissions that do
	// not set their own retry policy. The actual delay before attempt n is
	// DefaultRetryDelay * n (linear backoff).
	DefaultMaxRetries int
	DefaultRetryDelay time.Duration

	// DefaultPriority applies to submissions without an explicit priority.
	DefaultPriority core.Priority

	// StaleTaskTimeout is how long a task may stay running before the next
	// tick forcibly fails it and discards the worker's eventual response.
	StaleTaskTimeout time.Duration

	// UnsafeTypePrefixes are task-type prefixes force-cancelled on startup
	// recovery if found in a non-terminal state. nil means
	// DefaultUnsafeTypePrefixes; an empty non-nil slice disables the check.
	UnsafeTypePrefixes []string

	// Retention, when positive, makes the loop periodically delete terminal
	// tasks whose completion is older than the retention window. Zero
	// disables automatic cleanup; Cleanup can still be called directly.
	Retention       time.Duration
	CleanupInterval time.Duration

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.ProcessInterval <= 0 {
		c.ProcessInterval = DefaultProcessInterval
	}
	if c.MaxConcurrentTasks <= 0 {
		c.MaxConcurrentTasks = DefaultMaxConcurrent
	}
	if c.DefaultMaxRetries <= 0 {
		c.DefaultMaxRetries = DefaultMaxRetries
	}
	if c.DefaultRetryDelay <= 0 {
		c.DefaultRetryDelay = DefaultRetryDelay
	}
	if !c.DefaultPriority.Valid() {
		c.DefaultPriority = core.PriorityMedium
	}
	if c.StaleTaskTimeout <= 0 {
		c.StaleTaskTimeout = DefaultStaleTaskTimeout
	}
	if c.UnsafeTypePrefixes == nil {
		c.UnsafeTypePrefixes = DefaultUnsafeTypePrefixes
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = DefaultCleanupInterval
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}
