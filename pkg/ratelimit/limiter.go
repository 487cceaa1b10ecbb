// Package ratelimit tracks per-pattern rolling hour/day dispatch ceilings.
package ratelimit

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/taskmill/taskmill/pkg/core"
	"github.com/taskmill/taskmill/pkg/pattern"
)

// Limiter holds the configured rate limits and their rolling counters.
// Windows slide from first use: when "now" crosses a reset timestamp the
// counter zeroes and a fresh reset is computed one interval ahead of that
// moment, never aligned to calendar boundaries.
type Limiter struct {
	mu     sync.Mutex
	limits map[string]*core.RateLimit

	now func() time.Time
}

// New creates an empty Limiter.
func New() *Limiter {
	return &Limiter{
		limits: make(map[string]*core.RateLimit),
		now:    time.Now,
	}
}

// Restore replaces the limiter state with limits loaded from storage.
func (l *Limiter) Restore(limits []*core.RateLimit) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limits = make(map[string]*core.RateLimit, len(limits))
	for _, lim := range limits {
		l.limits[lim.Pattern] = lim.Clone()
	}
}

// Configure upserts a limit for the given pattern and returns a snapshot of
// the stored record for persistence. A ceiling of 0 means that window is
// unlimited.
func (l *Limiter) Configure(pat string, maxPerHour, maxPerDay int) *core.RateLimit {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	lim, ok := l.limits[pat]
	if !ok {
		lim = &core.RateLimit{
			Pattern:     pat,
			HourResetAt: now.Add(time.Hour),
			DayResetAt:  now.Add(24 * time.Hour),
		}
		l.limits[pat] = lim
	}
	lim.MaxPerHour = maxPerHour
	lim.MaxPerDay = maxPerDay
	return lim.Clone()
}

// Remove deletes a configured limit. It reports whether the pattern existed.
func (l *Limiter) Remove(pat string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.limits[pat]
	delete(l.limits, pat)
	return ok
}

// List returns snapshots of all configured limits, sorted by pattern.
func (l *Limiter) List() []*core.RateLimit {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]*core.RateLimit, 0, len(l.limits))
	for _, lim := range l.limits {
		out = append(out, lim.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pattern < out[j].Pattern })
	return out
}

// Check reports whether the task may be dispatched now. For every limit
// whose pattern matches the task's type or "platform:<platform>" the
// windows are lazily rolled forward, then the counters are compared to the
// ceilings. The first violated ceiling denies with a human-readable reason.
// Absence of any matching limit always allows.
func (l *Limiter) Check(task *core.Task) (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for _, lim := range l.matching(task) {
		rollWindows(lim, now)
		if lim.MaxPerHour > 0 && lim.CurrentHour >= lim.MaxPerHour {
			return false, fmt.Sprintf("rate limit %q: hourly ceiling reached (%d/%d)",
				lim.Pattern, lim.CurrentHour, lim.MaxPerHour)
		}
		if lim.MaxPerDay > 0 && lim.CurrentDay >= lim.MaxPerDay {
			return false, fmt.Sprintf("rate limit %q: daily ceiling reached (%d/%d)",
				lim.Pattern, lim.CurrentDay, lim.MaxPerDay)
		}
	}
	return true, ""
}

// Record increments the counters of every limit matching the task and
// returns snapshots of the touched limits for persistence. It must be
// called only for a dispatch attempt actually handed to a worker, never on
// a denied attempt.
func (l *Limiter) Record(task *core.Task) []*core.RateLimit {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	var touched []*core.RateLimit
	for _, lim := range l.matching(task) {
		rollWindows(lim, now)
		lim.CurrentHour++
		lim.CurrentDay++
		touched = append(touched, lim.Clone())
	}
	return touched
}

func (l *Limiter) matching(task *core.Task) []*core.RateLimit {
	var out []*core.RateLimit
	for _, lim := range l.limits {
		if pattern.Match(task.Type, lim.Pattern) {
			out = append(out, lim)
			continue
		}
		if task.Platform != "" && pattern.Match("platform:"+task.Platform, lim.Pattern) {
			out = append(out, lim)
		}
	}
	return out
}

func rollWindows(lim *core.RateLimit, now time.Time) {
	if !now.Before(lim.HourResetAt) {
		lim.CurrentHour = 0
		lim.HourResetAt = now.Add(time.Hour)
	}
	if !now.Before(lim.DayResetAt) {
		lim.CurrentDay = 0
		lim.DayResetAt = now.Add(24 * time.Hour)
	}
}
