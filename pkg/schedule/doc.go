// Package schedule provides recurring-run definitions for the taskmill
// engine: Every() for fixed intervals, Daily() and Weekly() for wall-clock
// schedules, and Cron() for cron expressions.
package schedule
