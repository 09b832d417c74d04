package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// Drainer triggers one full drain pass of the pending-operation queue.
type Drainer interface {
	Drain(ctx context.Context) error
}

// JobRunner executes a single job on schedule
type JobRunner struct {
	job     *Job
	ticker  *time.Ticker
	logger  *slog.Logger
	drainer Drainer
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewJobRunner creates a new job runner
func NewJobRunner(job *Job, drainer Drainer, log *slog.Logger) *JobRunner {
	if log == nil {
		log = slog.Default()
	}
	return &JobRunner{
		job:     job,
		drainer: drainer,
		logger:  log.With("job", job.ID),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start begins executing the job on schedule
func (r *JobRunner) Start(ctx context.Context) {
	defer close(r.doneCh)

	if !r.job.Enabled {
		r.logger.Debug("job disabled, not starting")
		return
	}

	nextRun, err := r.job.NextRun(time.Now())
	if err != nil {
		r.logger.Error("failed to calculate next run", "error", err)
		return
	}
	r.job.setNextRun(nextRun)

	r.logger.Info("job runner started", "next_run", nextRun.Format(time.RFC3339))

	var tickerDuration time.Duration
	switch r.job.Schedule.Kind {
	case "interval":
		tickerDuration = time.Duration(r.job.Schedule.IntervalMs) * time.Millisecond
	case "cron", "at":
		// Check every minute for cron/at schedules
		tickerDuration = 1 * time.Minute
	}

	r.ticker = time.NewTicker(tickerDuration)
	defer r.ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("job runner stopped (context cancelled)")
			return
		case <-r.stopCh:
			r.logger.Info("job runner stopped")
			return
		case now := <-r.ticker.C:
			// Interval schedules fire on every tick; cron/at schedules
			// fire when the computed next run has passed.
			next := r.job.nextRunAt()
			shouldRun := r.job.Schedule.Kind == "interval" ||
				now.After(next) || now.Equal(next)

			if shouldRun {
				r.executeJob(ctx)

				nextRun, err := r.job.NextRun(time.Now())
				if err != nil {
					r.logger.Error("failed to calculate next run", "error", err)
				} else {
					r.job.setNextRun(nextRun)
					r.logger.Debug("next run scheduled", "next_run", nextRun.Format(time.RFC3339))
				}
			}
		}
	}
}

// Stop stops the job runner
func (r *JobRunner) Stop() {
	close(r.stopCh)
	<-r.doneCh
}

// executeJob runs one drain pass and updates job state.
func (r *JobRunner) executeJob(ctx context.Context) {
	start := time.Now()
	r.logger.Debug("executing scheduled drain")

	err := r.drainer.Drain(ctx)
	duration := time.Since(start)
	state := r.job.recordRun(time.Now(), duration, err)

	if err != nil {
		r.logger.Error("scheduled drain failed",
			"error", err,
			"duration", duration,
			"run_count", state.RunCount,
			"error_count", state.ErrorCount)
	} else {
		r.logger.Info("scheduled drain completed",
			"duration", duration,
			"run_count", state.RunCount)
	}
}
