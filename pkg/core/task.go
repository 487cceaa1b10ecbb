// Package core provides the domain models and interfaces for the taskmill engine.
package core

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Priority determines dispatch order among eligible tasks.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Rank returns the numeric dispatch rank (critical=0 … low=3).
// Unknown priorities sort after low.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	}
	return 4
}

// Valid reports whether p is one of the four known priorities.
func (p Priority) Valid() bool {
	return p.Rank() < 4
}

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusScheduled Status = "scheduled"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusRetrying  Status = "retrying"
)

// Terminal reports whether the status is final. Terminal tasks are immutable
// except for ledger cleanup.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Task represents one unit of schedulable, retryable work.
type Task struct {
	ID       string          `gorm:"primaryKey;size:36" json:"id"`
	Type     string          `gorm:"index;size:255;not null" json:"type"`
	Platform string          `gorm:"index;size:64" json:"platform,omitempty"`
	Payload  json.RawMessage `gorm:"type:bytes" json:"payload,omitempty"`
	Priority Priority        `gorm:"index;size:16;default:'medium'" json:"priority"`
	Status   Status          `gorm:"index;size:16;default:'queued'" json:"status"`

	ScheduledFor *time.Time `gorm:"index" json:"scheduledFor,omitempty"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	DurationMs   int64      `json:"durationMs,omitempty"`

	Result json.RawMessage `gorm:"type:bytes" json:"result,omitempty"`
	Error  string          `gorm:"type:text" json:"error,omitempty"`

	Retries      int   `gorm:"default:0" json:"retries"`
	MaxRetries   int   `gorm:"default:3" json:"maxRetries"`
	RetryDelayMs int64 `json:"retryDelayMs"`

	WebhookURL string `gorm:"size:2048" json:"webhookUrl,omitempty"`
	CallbackID string `gorm:"size:255" json:"callbackId,omitempty"`

	SubmittedBy string     `gorm:"index;size:255" json:"submittedBy,omitempty"`
	Tags        StringList `gorm:"type:text" json:"tags,omitempty"`
	Notes       string     `gorm:"type:text" json:"notes,omitempty"`

	AssignedWorker string    `gorm:"size:36" json:"assignedWorker,omitempty"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// RetryDelay returns the base retry delay as a duration.
func (t *Task) RetryDelay() time.Duration {
	return time.Duration(t.RetryDelayMs) * time.Millisecond
}

// Clone returns a deep copy safe to hand to external callers.
func (t *Task) Clone() *Task {
	cp := *t
	if t.ScheduledFor != nil {
		v := *t.ScheduledFor
		cp.ScheduledFor = &v
	}
	if t.StartedAt != nil {
		v := *t.StartedAt
		cp.StartedAt = &v
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		cp.CompletedAt = &v
	}
	if t.Payload != nil {
		cp.Payload = append(json.RawMessage(nil), t.Payload...)
	}
	if t.Result != nil {
		cp.Result = append(json.RawMessage(nil), t.Result...)
	}
	if t.Tags != nil {
		cp.Tags = append(StringList(nil), t.Tags...)
	}
	return &cp
}

// TaskSpec is the caller-supplied description of a task to submit.
type TaskSpec struct {
	Type         string          `json:"type"`
	Platform     string          `json:"platform,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Priority     Priority        `json:"priority,omitempty"`
	ScheduledFor *time.Time      `json:"scheduledFor,omitempty"`
	MaxRetries   *int            `json:"maxRetries,omitempty"`
	RetryDelayMs *int64          `json:"retryDelayMs,omitempty"`
	WebhookURL   string          `json:"webhookUrl,omitempty"`
	CallbackID   string          `json:"callbackId,omitempty"`
	SubmittedBy  string          `json:"submittedBy,omitempty"`
	Tags         []string        `json:"tags,omitempty"`
	Notes        string          `json:"notes,omitempty"`
}

// StringList is a []string stored as a JSON-encoded TEXT column.
type StringList []string

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if len(l) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case string:
		if v == "" {
			*l = nil
			return nil
		}
		return json.Unmarshal([]byte(v), (*[]string)(l))
	case []byte:
		if len(v) == 0 {
			*l = nil
			return nil
		}
		return json.Unmarshal(v, (*[]string)(l))
	}
	return fmt.Errorf("taskmill: cannot scan %T into StringList", src)
}
