// Package models defines the core domain types for cadence.
package models

import (
	"context"
	"fmt"
	"time"
)

// Task is a unit of work offered by a source for a single tick.
// Tasks are never persisted; only their outcome is.
type Task struct {
	Source      string         `json:"source"`
	Description string         `json:"description"`
	Context     map[string]any `json:"context,omitempty"`

	// OnStart runs right before execution. Sources use it for transitions
	// that must not happen during a side-effect-free peek.
	OnStart func(ctx context.Context) error `json:"-"`

	// OnComplete receives the oracle's result once the task succeeds.
	OnComplete func(ctx context.Context, result string) error `json:"-"`
}

// GoalID returns the goal identifier carried in the task context, if any.
func (t *Task) GoalID() string {
	if t == nil || t.Context == nil {
		return ""
	}
	if id, ok := t.Context["goal_id"].(string); ok {
		return id
	}
	return ""
}

// Key returns the task-state key in the form source:identifier.
func (t *Task) Key() string {
	if id := t.GoalID(); id != "" {
		return t.Source + ":" + id
	}
	if t.Context != nil {
		if id, ok := t.Context["id"]; ok {
			return fmt.Sprintf("%s:%v", t.Source, id)
		}
	}
	return t.Source + ":" + Truncate(t.Description, 40)
}

// Truncate returns at most n runes of s.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// ScheduleKind enumerates the supported schedule variants.
type ScheduleKind string

const (
	ScheduleEvery ScheduleKind = "every"
	ScheduleCron  ScheduleKind = "cron"
	ScheduleAt    ScheduleKind = "at"
)

// Schedule is a tagged variant; only the fields for Kind are meaningful.
type Schedule struct {
	Kind     ScheduleKind `json:"kind"`
	EveryMs  int64        `json:"every_ms,omitempty"`
	AnchorMs *int64       `json:"anchor_ms,omitempty"`
	Expr     string       `json:"expr,omitempty"`
	AtMs     int64        `json:"at_ms,omitempty"`
}

// JobState holds the mutable execution state of a scheduled job.
type JobState struct {
	LastRunAtMs    *int64 `json:"last_run_at_ms,omitempty"`
	LastStatus     string `json:"last_status,omitempty"`
	LastError      string `json:"last_error,omitempty"`
	LastDurationMs int64  `json:"last_duration_ms,omitempty"`
	NextRunAtMs    *int64 `json:"next_run_at_ms"`
	Runs           int    `json:"runs"`
}

// ScheduledJob is a durable recurring or one-shot job.
type ScheduledJob struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Message     string   `json:"message"`
	Schedule    Schedule `json:"schedule"`
	Enabled     bool     `json:"enabled"`
	CreatedAtMs int64    `json:"created_at_ms"`
	State       JobState `json:"state"`
}

// TaskState is the rolling reliability record for one task key.
type TaskState struct {
	Runs            int       `json:"runs"`
	Failures        int       `json:"failures"`
	TotalDurationMs int64     `json:"total_duration_ms"`
	LastRunAt       time.Time `json:"last_run_at"`
	LastStatus      string    `json:"last_status"`
	LastError       string    `json:"last_error,omitempty"`
	LastDurationMs  int64     `json:"last_duration_ms"`
}

// FailureRatio returns failures/runs, or zero for an unused key.
func (s TaskState) FailureRatio() float64 {
	if s.Runs == 0 {
		return 0
	}
	return float64(s.Failures) / float64(s.Runs)
}

// Activity statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusPaused  = "paused"
	StatusIdle    = "idle"
	StatusError   = "error"
)

// ActivityEntry is one immutable line of the activity log.
type ActivityEntry struct {
	TS          time.Time `json:"ts"`
	Source      string    `json:"source"`
	TaskKey     string    `json:"task_key,omitempty"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	DurationMs  int64     `json:"duration_ms,omitempty"`
	Output      string    `json:"output,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// Notification is the lightweight broadcast emitted after every outcome.
type Notification struct {
	Source      string `json:"source"`
	Description string `json:"description"`
	Output      string `json:"output,omitempty"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
	DurationMs  int64  `json:"duration_ms"`
}

// GoalStatus represents the lifecycle state of a goal.
type GoalStatus string

const (
	GoalStatusPending   GoalStatus = "pending"
	GoalStatusActive    GoalStatus = "active"
	GoalStatusCompleted GoalStatus = "completed"
)

// Goal is a long-running objective worked on by the agentic executor.
type Goal struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Priority    int        `json:"priority"`
	Progress    int        `json:"progress"`
	Status      GoalStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// CuriosityItem is a queued question the agent wants to explore.
type CuriosityItem struct {
	ID        string    `json:"id"`
	Question  string    `json:"question"`
	CreatedAt time.Time `json:"created_at"`
}

// LearningTopic is an entry on the learning agenda.
type LearningTopic struct {
	ID         string     `json:"id"`
	Topic      string     `json:"topic"`
	StudiedAt  *time.Time `json:"studied_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StudyCount int        `json:"study_count"`
}

// PDREntry represents a Process Decision Record for audit.
type PDREntry struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	InputsHash string    `json:"inputs_hash"`
	Outcome    string    `json:"outcome"`
	TaskKey    string    `json:"task_key,omitempty"`
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
