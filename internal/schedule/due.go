package schedule

import (
	"time"

	"github.com/fentz26/cadence/internal/models"
)

// cronRefire is the minimum gap between two runs of the same cron job.
// Ticks landing in the same matching minute are suppressed by it.
const cronRefire = 60 * time.Second

// IsDue reports whether an enabled job should run at now.
func IsDue(job *models.ScheduledJob, now time.Time) bool {
	if !job.Enabled {
		return false
	}
	nowMs := now.UnixMilli()
	switch job.Schedule.Kind {
	case models.ScheduleEvery:
		next := job.State.NextRunAtMs
		return next != nil && nowMs >= *next
	case models.ScheduleCron:
		c, err := ParseCron(job.Schedule.Expr)
		if err != nil || !c.Matches(now.Local()) {
			return false
		}
		last := job.State.LastRunAtMs
		return last == nil || time.Duration(nowMs-*last)*time.Millisecond > cronRefire
	case models.ScheduleAt:
		return nowMs >= job.Schedule.AtMs
	}
	return false
}

// NextRun computes the next run time for job as of now, or nil when the
// job will not run again.
func NextRun(job *models.ScheduledJob, now time.Time) *int64 {
	nowMs := now.UnixMilli()
	switch job.Schedule.Kind {
	case models.ScheduleEvery:
		anchor := job.CreatedAtMs
		if job.Schedule.AnchorMs != nil {
			anchor = *job.Schedule.AnchorMs
		}
		return ptr(nextInterval(anchor, job.Schedule.EveryMs, nowMs))
	case models.ScheduleCron:
		c, err := ParseCron(job.Schedule.Expr)
		if err != nil {
			return nil
		}
		next, ok := c.Next(now.Local())
		if !ok {
			return nil
		}
		return ptr(next.UnixMilli())
	case models.ScheduleAt:
		if !job.Enabled {
			return nil
		}
		return ptr(job.Schedule.AtMs)
	}
	return nil
}

// nextInterval returns the first period boundary strictly after now.
// Missed periods collapse into a single boundary, so the schedule never
// drifts and never piles up catch-up runs.
func nextInterval(anchor, period, now int64) int64 {
	if period <= 0 {
		return now
	}
	if now < anchor {
		return anchor
	}
	return anchor + ((now-anchor)/period+1)*period
}

// firstInterval is the initial next run for a freshly added interval job:
// a future (or current) anchor is honored as-is.
func firstInterval(job *models.ScheduledJob, now time.Time) *int64 {
	if a := job.Schedule.AnchorMs; a != nil && now.UnixMilli() <= *a {
		return ptr(*a)
	}
	return NextRun(job, now)
}

// applyRun updates job state after an execution that started at start.
func applyRun(job *models.ScheduledJob, start time.Time, dur time.Duration, runErr error) {
	job.State.Runs++
	job.State.LastRunAtMs = ptr(start.UnixMilli())
	job.State.LastDurationMs = dur.Milliseconds()
	if runErr != nil {
		job.State.LastStatus = models.StatusFailed
		job.State.LastError = runErr.Error()
	} else {
		job.State.LastStatus = models.StatusSuccess
		job.State.LastError = ""
	}

	if job.Schedule.Kind == models.ScheduleAt {
		job.Enabled = false
		job.State.NextRunAtMs = nil
		return
	}
	job.State.NextRunAtMs = NextRun(job, start)
}

func ptr(v int64) *int64 { return &v }
