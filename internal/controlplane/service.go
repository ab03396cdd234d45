// Package controlplane provides the HTTP API and service layer of the
// cadence daemon.
package controlplane

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fentz26/cadence/internal/activitylog"
	"github.com/fentz26/cadence/internal/audit"
	"github.com/fentz26/cadence/internal/drive"
	"github.com/fentz26/cadence/internal/models"
	"github.com/fentz26/cadence/internal/schedule"
	"github.com/fentz26/cadence/internal/scheduler"
	"github.com/fentz26/cadence/internal/store"
	"github.com/fentz26/cadence/internal/taskstate"
)

// Version is reported by /health.
var Version = "dev"

// Heartbeat is the part of the scheduler the API drives.
type Heartbeat interface {
	Stats() scheduler.Stats
	TriggerTick() bool
}

// DriveReader exposes the drive model's state.
type DriveReader interface {
	State() drive.State
}

// Deps are the components the service reads and mutates.
type Deps struct {
	Heartbeat Heartbeat
	Jobs      *schedule.Store
	Store     *store.Store
	Log       *activitylog.Log
	TaskState *taskstate.Store
	Drive     DriveReader
	PDR       *audit.PDRWriter
	Logger    *slog.Logger
	Now       func() time.Time
	// SessionWindow is how long after the last client request a session
	// still counts as active.
	SessionWindow time.Duration
}

// Service provides the control plane business logic.
type Service struct {
	deps Deps

	mu       sync.Mutex
	lastSeen time.Time
}

// NewService creates a new control plane service.
func NewService(deps Deps) *Service {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.SessionWindow <= 0 {
		deps.SessionWindow = 10 * time.Minute
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{deps: deps}
}

// HealthResponse is returned by /health.
type HealthResponse struct {
	OK      bool   `json:"ok"`
	DB      string `json:"db"`
	Version string `json:"version"`
	Time    string `json:"time"`
}

// Health reports whether the daemon and its database are usable.
func (s *Service) Health(ctx context.Context) HealthResponse {
	resp := HealthResponse{OK: true, DB: "ok", Version: Version, Time: s.deps.Now().UTC().Format(time.RFC3339)}
	if s.deps.Store == nil {
		resp.DB = "disabled"
		return resp
	}
	if err := s.deps.Store.Ping(ctx); err != nil {
		resp.OK = false
		resp.DB = err.Error()
	}
	return resp
}

// Touch records client activity for session detection.
func (s *Service) Touch() {
	s.mu.Lock()
	s.lastSeen = s.deps.Now()
	s.mu.Unlock()
}

// SessionActive reports whether a client talked to the API recently.
func (s *Service) SessionActive(context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.lastSeen.IsZero() && s.deps.Now().Sub(s.lastSeen) <= s.deps.SessionWindow
}

// --- Heartbeat Operations ---

// Stats returns the heartbeat counters.
func (s *Service) Stats() (scheduler.Stats, error) {
	if s.deps.Heartbeat == nil {
		return scheduler.Stats{}, ErrUnavailable
	}
	return s.deps.Heartbeat.Stats(), nil
}

// Tick starts a manual tick through the reentrancy guard.
func (s *Service) Tick() error {
	if s.deps.Heartbeat == nil {
		return ErrUnavailable
	}
	if !s.deps.Heartbeat.TriggerTick() {
		return ErrTickInFlight
	}
	return nil
}

// Drive returns the drive model state.
func (s *Service) Drive() (drive.State, error) {
	if s.deps.Drive == nil {
		return drive.State{}, ErrUnavailable
	}
	return s.deps.Drive.State(), nil
}

// TaskStates returns the reliability record of every task key.
func (s *Service) TaskStates() (map[string]models.TaskState, error) {
	if s.deps.TaskState == nil {
		return nil, ErrUnavailable
	}
	return s.deps.TaskState.Snapshot(), nil
}

// Activity returns up to limit of the newest activity entries, oldest first.
func (s *Service) Activity(limit int) ([]models.ActivityEntry, error) {
	if s.deps.Log == nil {
		return nil, ErrUnavailable
	}
	return s.deps.Log.Recent(limit)
}

// --- Job Operations ---

// ListJobs returns every scheduled job in registration order.
func (s *Service) ListJobs() ([]models.ScheduledJob, error) {
	if s.deps.Jobs == nil {
		return nil, ErrUnavailable
	}
	return s.deps.Jobs.List(), nil
}

// AddJob validates and registers a scheduled job.
func (s *Service) AddJob(ctx context.Context, name, message string, sched models.Schedule) (*models.ScheduledJob, error) {
	if s.deps.Jobs == nil {
		return nil, ErrUnavailable
	}
	job, err := s.deps.Jobs.Add(name, message, sched, s.deps.Now())
	if err != nil {
		return nil, err
	}
	s.record(ctx, "job.add", map[string]any{"name": job.Name, "schedule": job.Schedule}, "job:"+job.ID, "")
	return job, nil
}

// RemoveJob deletes a scheduled job.
func (s *Service) RemoveJob(ctx context.Context, id string) error {
	if s.deps.Jobs == nil {
		return ErrUnavailable
	}
	if err := s.deps.Jobs.Remove(id); err != nil {
		return err
	}
	s.record(ctx, "job.remove", map[string]string{"id": id}, "job:"+id, "")
	return nil
}

// SetJobEnabled enables or disables a job.
func (s *Service) SetJobEnabled(ctx context.Context, id string, enabled bool) (*models.ScheduledJob, error) {
	if s.deps.Jobs == nil {
		return nil, ErrUnavailable
	}
	job, err := s.deps.Jobs.SetEnabled(id, enabled, s.deps.Now())
	if err != nil {
		return nil, err
	}
	s.record(ctx, "job.enable", map[string]any{"id": id, "enabled": enabled}, "job:"+id, "")
	return job, nil
}

// --- Goal Operations ---

// ListGoals returns goals, optionally filtered by status.
func (s *Service) ListGoals(ctx context.Context, status string) ([]models.Goal, error) {
	if s.deps.Store == nil {
		return nil, ErrUnavailable
	}
	switch models.GoalStatus(status) {
	case "", models.GoalStatusPending, models.GoalStatusActive, models.GoalStatusCompleted:
	default:
		return nil, fmt.Errorf("%w: unknown goal status %q", ErrBadRequest, status)
	}
	return s.deps.Store.ListGoals(ctx, models.GoalStatus(status))
}

// CreateGoal adds a pending goal.
func (s *Service) CreateGoal(ctx context.Context, title, description string, priority int) (*models.Goal, error) {
	if s.deps.Store == nil {
		return nil, ErrUnavailable
	}
	if strings.TrimSpace(title) == "" {
		return nil, fmt.Errorf("%w: title is required", ErrBadRequest)
	}
	goal, err := s.deps.Store.CreateGoal(ctx, title, description, priority)
	if err != nil {
		return nil, err
	}
	s.record(ctx, "goal.create", map[string]any{"title": title, "priority": goal.Priority}, "goals:"+goal.ID, "")
	return goal, nil
}

// --- Curiosity & Learning Operations ---

// AddCuriosity queues a question for the curiosity source.
func (s *Service) AddCuriosity(ctx context.Context, question string) (*models.CuriosityItem, error) {
	if s.deps.Store == nil {
		return nil, ErrUnavailable
	}
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("%w: question is required", ErrBadRequest)
	}
	return s.deps.Store.AddCuriosity(ctx, question)
}

// AddTopic puts a topic on the learning agenda.
func (s *Service) AddTopic(ctx context.Context, topic string) (*models.LearningTopic, error) {
	if s.deps.Store == nil {
		return nil, ErrUnavailable
	}
	if strings.TrimSpace(topic) == "" {
		return nil, fmt.Errorf("%w: topic is required", ErrBadRequest)
	}
	return s.deps.Store.AddTopic(ctx, topic)
}

// Decisions returns the newest decision records.
func (s *Service) Decisions(ctx context.Context, limit int) ([]models.PDREntry, error) {
	if s.deps.Store == nil {
		return nil, ErrUnavailable
	}
	return s.deps.Store.ListPDR(ctx, limit)
}

// record writes a decision record for an API mutation. Failures are only
// logged; the mutation already happened.
func (s *Service) record(ctx context.Context, action string, inputs any, key, details string) {
	if s.deps.PDR == nil {
		return
	}
	if _, err := s.deps.PDR.Record(ctx, action, inputs, "success", key, details); err != nil {
		s.deps.Logger.Warn("record decision failed", "action", action, "key", key, "error", err)
	}
}
