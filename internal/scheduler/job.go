// Package scheduler runs drain passes on a schedule, so devices behind
// flaky captive portals still flush their queues periodically instead of
// waiting for a clean offline-to-online transition.
package scheduler

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job represents a scheduled drain.
type Job struct {
	ID       string         `json:"id"`
	Schedule ScheduleConfig `json:"schedule"`
	Enabled  bool           `json:"enabled"`
	State    JobState       `json:"state"`

	// mu guards State: the live runner and RunJobNow callers update it
	// from different goroutines.
	mu sync.Mutex
}

// ScheduleConfig defines when a job runs
type ScheduleConfig struct {
	Kind       string `json:"kind"` // "interval", "cron", "at"
	IntervalMs int64  `json:"intervalMs,omitempty"`
	Expr       string `json:"expr,omitempty"` // cron expression
	Time       string `json:"time,omitempty"` // "HH:MM" for daily
	Timezone   string `json:"timezone,omitempty"`
}

// JobState tracks job execution state
type JobState struct {
	LastRunAt    time.Time     `json:"lastRunAt,omitempty"`
	NextRunAt    time.Time     `json:"nextRunAt,omitempty"`
	RunCount     int64         `json:"runCount"`
	ErrorCount   int64         `json:"errorCount"`
	LastError    string        `json:"lastError,omitempty"`
	LastDuration time.Duration `json:"lastDuration,omitempty"`
}

// Validate checks if job configuration is valid
func (j *Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("job ID required")
	}

	switch j.Schedule.Kind {
	case "interval":
		if j.Schedule.IntervalMs <= 0 {
			return fmt.Errorf("intervalMs must be positive")
		}
	case "cron":
		if j.Schedule.Expr == "" {
			return fmt.Errorf("cron expression required")
		}
		if _, err := cron.ParseStandard(j.Schedule.Expr); err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
	case "at":
		if j.Schedule.Time == "" {
			return fmt.Errorf("time required for 'at' schedule")
		}
		if _, err := time.Parse("15:04", j.Schedule.Time); err != nil {
			return fmt.Errorf("invalid time format (use HH:MM): %w", err)
		}
	default:
		return fmt.Errorf("unknown schedule kind: %s (use interval, cron, or at)", j.Schedule.Kind)
	}

	return nil
}

// NextRun calculates the next run time based on schedule
func (j *Job) NextRun(from time.Time) (time.Time, error) {
	switch j.Schedule.Kind {
	case "interval":
		interval := time.Duration(j.Schedule.IntervalMs) * time.Millisecond
		return from.Add(interval), nil

	case "cron":
		schedule, err := cron.ParseStandard(j.Schedule.Expr)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse cron: %w", err)
		}
		return schedule.Next(from), nil

	case "at":
		t, err := time.Parse("15:04", j.Schedule.Time)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse time: %w", err)
		}

		loc := time.Local
		if j.Schedule.Timezone != "" {
			loc, err = time.LoadLocation(j.Schedule.Timezone)
			if err != nil {
				return time.Time{}, fmt.Errorf("load timezone: %w", err)
			}
		}

		next := time.Date(from.Year(), from.Month(), from.Day(),
			t.Hour(), t.Minute(), 0, 0, loc)

		// If time has passed today, schedule for tomorrow
		if next.Before(from) || next.Equal(from) {
			next = next.Add(24 * time.Hour)
		}

		return next, nil

	default:
		return time.Time{}, fmt.Errorf("unknown schedule kind: %s", j.Schedule.Kind)
	}
}

// setNextRun records the next scheduled run.
func (j *Job) setNextRun(at time.Time) {
	j.mu.Lock()
	j.State.NextRunAt = at
	j.mu.Unlock()
}

func (j *Job) nextRunAt() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.State.NextRunAt
}

// recordRun folds one execution result into the state and returns the
// updated snapshot.
func (j *Job) recordRun(at time.Time, duration time.Duration, err error) JobState {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.State.LastRunAt = at
	j.State.LastDuration = duration
	j.State.RunCount++
	if err != nil {
		j.State.ErrorCount++
		j.State.LastError = err.Error()
	} else {
		j.State.LastError = ""
	}
	return j.State
}

// stateSnapshot returns a copy of the mutable state.
func (j *Job) stateSnapshot() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.State
}

// Clone creates a deep copy of the job
func (j *Job) Clone() *Job {
	j.mu.Lock()
	data, _ := json.Marshal(j)
	j.mu.Unlock()

	var clone Job
	json.Unmarshal(data, &clone)
	return &clone
}
