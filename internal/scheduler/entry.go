package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"
)

// Entry statuses.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// Entry is one scheduled dispatch. Interval-based entries advance by a fixed
// duration; cron entries advance to the expression's next firing time.
type Entry struct {
	ID          string
	MessageData map[string]any
	ScheduledAt time.Time
	Recurring   bool
	Interval    time.Duration
	CronSpec    string
	MaxRuns     int // 0 = unbounded
	RunCount    int
	Status      string
	CreatedAt   time.Time
	LastRunAt   *time.Time
	LastResult  string

	cronSched cron.Schedule
}

// IsDue reports whether the entry should fire at now.
func (e *Entry) IsDue(now time.Time) bool {
	return e.Status == StatusPending && !now.Before(e.ScheduledAt)
}

// Advance consumes one run: bumps the counter, stamps the run time, and
// either schedules the next firing or completes the entry.
func (e *Entry) Advance(now time.Time) {
	e.RunCount++
	at := now
	e.LastRunAt = &at

	if e.Recurring && (e.MaxRuns == 0 || e.RunCount < e.MaxRuns) {
		if e.cronSched != nil {
			e.ScheduledAt = e.cronSched.Next(now)
		} else {
			e.ScheduledAt = e.ScheduledAt.Add(e.Interval)
		}
		return
	}
	e.Status = StatusCompleted
}

func (e *Entry) ToMap() map[string]any {
	var lastRun any
	if e.LastRunAt != nil {
		lastRun = e.LastRunAt.UTC().Format(time.RFC3339Nano)
	}
	return map[string]any{
		"id":               e.ID,
		"message_data":     e.MessageData,
		"scheduled_at":     e.ScheduledAt.UTC().Format(time.RFC3339Nano),
		"recurring":        e.Recurring,
		"interval_seconds": int(e.Interval.Seconds()),
		"cron":             e.CronSpec,
		"max_runs":         e.MaxRuns,
		"run_count":        e.RunCount,
		"status":           e.Status,
		"created_at":       e.CreatedAt.UTC().Format(time.RFC3339Nano),
		"last_run_at":      lastRun,
		"last_result":      e.LastResult,
	}
}
