package core

import "time"

// RateLimit is a named dispatch ceiling keyed by a task-type pattern or
// "platform:<name>". Counters roll on a sliding window anchored at first
// use, not on calendar boundaries.
type RateLimit struct {
	Pattern     string    `gorm:"primaryKey;size:255" json:"pattern"`
	MaxPerHour  int       `json:"maxPerHour"`
	MaxPerDay   int       `json:"maxPerDay"`
	CurrentHour int       `json:"currentHour"`
	CurrentDay  int       `json:"currentDay"`
	HourResetAt time.Time `json:"hourResetAt"`
	DayResetAt  time.Time `json:"dayResetAt"`
}

// Clone returns a copy safe to hand to external callers.
func (r *RateLimit) Clone() *RateLimit {
	cp := *r
	return &cp
}
