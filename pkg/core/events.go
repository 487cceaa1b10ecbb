package core

// Event names fired by the engine. Listeners subscribe per name; webhook
// deliveries carry the same names.
const (
	EventTaskSubmitted = "task.submitted"
	EventTaskStarted   = "task.started"
	EventTaskCompleted = "task.completed"
	EventTaskFailed    = "task.failed"
	EventTaskCancelled = "task.cancelled"
)

// Listener receives a snapshot of the task that triggered an event.
type Listener func(task *Task)
