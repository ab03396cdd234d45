// Package schedule provides durable scheduled jobs: fixed intervals,
// five-field cron expressions and one-shot timestamps.
package schedule

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fentz26/cadence/internal/models"
)

// Sentinel errors for schedule operations.
var (
	ErrJobNotFound     = errors.New("job not found")
	ErrInvalidSchedule = errors.New("invalid schedule")
)

// minEvery is the smallest accepted interval.
const minEvery = time.Second

// Store keeps scheduled jobs in registration order and rewrites the JSON
// array file after every mutation.
type Store struct {
	path string

	mu   sync.RWMutex
	jobs []*models.ScheduledJob
}

// NewStore creates a store backed by path. Call Load to read existing jobs.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the job list. A missing file leaves the store empty.
// Enabled interval jobs without a next run get one computed from now.
func (s *Store) Load(now time.Time) error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read schedule: %w", err)
	}

	var jobs []*models.ScheduledJob
	if err := json.Unmarshal(data, &jobs); err != nil {
		return fmt.Errorf("decode schedule: %w", err)
	}
	for _, job := range jobs {
		if job.Enabled && job.State.NextRunAtMs == nil && job.Schedule.Kind != models.ScheduleAt {
			job.State.NextRunAtMs = NextRun(job, now)
		}
	}

	s.mu.Lock()
	s.jobs = jobs
	s.mu.Unlock()
	return nil
}

// Validate checks a schedule without storing it.
func Validate(sched models.Schedule) error {
	switch sched.Kind {
	case models.ScheduleEvery:
		if time.Duration(sched.EveryMs)*time.Millisecond < minEvery {
			return fmt.Errorf("%w: every_ms must be at least %d", ErrInvalidSchedule, minEvery.Milliseconds())
		}
	case models.ScheduleCron:
		if _, err := ParseCron(sched.Expr); err != nil {
			return err
		}
	case models.ScheduleAt:
		if sched.AtMs <= 0 {
			return fmt.Errorf("%w: at_ms is required", ErrInvalidSchedule)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidSchedule, sched.Kind)
	}
	return nil
}

// Add validates and registers a new enabled job, then persists the list.
func (s *Store) Add(name, message string, sched models.Schedule, now time.Time) (*models.ScheduledJob, error) {
	if strings.TrimSpace(message) == "" {
		return nil, fmt.Errorf("%w: message is required", ErrInvalidSchedule)
	}
	if err := Validate(sched); err != nil {
		return nil, err
	}
	if name == "" {
		name = models.Truncate(message, 40)
	}

	job := &models.ScheduledJob{
		ID:          uuid.New().String(),
		Name:        name,
		Message:     message,
		Schedule:    sched,
		Enabled:     true,
		CreatedAtMs: now.UnixMilli(),
	}
	if sched.Kind == models.ScheduleEvery {
		job.State.NextRunAtMs = firstInterval(job, now)
	} else {
		job.State.NextRunAtMs = NextRun(job, now)
	}

	s.mu.Lock()
	s.jobs = append(s.jobs, job)
	err := s.saveLocked()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := *job
	return &out, nil
}

// Remove deletes a job by id.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, job := range s.jobs {
		if job.ID == id {
			s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
			return s.saveLocked()
		}
	}
	return ErrJobNotFound
}

// SetEnabled toggles a job. Re-enabling recomputes its next run.
func (s *Store) SetEnabled(id string, enabled bool, now time.Time) (*models.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.findLocked(id)
	if job == nil {
		return nil, ErrJobNotFound
	}
	job.Enabled = enabled
	if enabled {
		job.State.NextRunAtMs = NextRun(job, now)
	}
	if err := s.saveLocked(); err != nil {
		return nil, err
	}
	out := *job
	return &out, nil
}

// Get returns a copy of one job.
func (s *Store) Get(id string) (*models.ScheduledJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job := s.findLocked(id)
	if job == nil {
		return nil, ErrJobNotFound
	}
	out := *job
	return &out, nil
}

// List returns copies of every job in registration order.
func (s *Store) List() []models.ScheduledJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ScheduledJob, len(s.jobs))
	for i, job := range s.jobs {
		out[i] = *job
	}
	return out
}

// Due returns copies of the jobs due at now, in registration order.
func (s *Store) Due(now time.Time) []models.ScheduledJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var due []models.ScheduledJob
	for _, job := range s.jobs {
		if IsDue(job, now) {
			due = append(due, *job)
		}
	}
	return due
}

// RecordRun updates a job's state after an execution and rewrites the
// schedule file before returning.
func (s *Store) RecordRun(id string, start time.Time, dur time.Duration, runErr error) (*models.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.findLocked(id)
	if job == nil {
		return nil, ErrJobNotFound
	}
	applyRun(job, start, dur, runErr)
	out := *job
	if err := s.saveLocked(); err != nil {
		return &out, err
	}
	return &out, nil
}

func (s *Store) findLocked(id string) *models.ScheduledJob {
	for _, job := range s.jobs {
		if job.ID == id {
			return job
		}
	}
	return nil
}

func (s *Store) saveLocked() error {
	jobs := s.jobs
	if jobs == nil {
		jobs = []*models.ScheduledJob{}
	}
	data, err := json.MarshalIndent(jobs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode schedule: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create schedule directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write schedule: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace schedule: %w", err)
	}
	return nil
}
