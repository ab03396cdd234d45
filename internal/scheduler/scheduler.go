package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fentz26/cadence/internal/activitylog"
	"github.com/fentz26/cadence/internal/drive"
	"github.com/fentz26/cadence/internal/executor"
	"github.com/fentz26/cadence/internal/metrics"
	"github.com/fentz26/cadence/internal/models"
	"github.com/fentz26/cadence/internal/oracle"
	"github.com/fentz26/cadence/internal/schedule"
	"github.com/fentz26/cadence/internal/sources"
	"github.com/fentz26/cadence/internal/taskstate"
)

const conciseInstruction = "You are executing one autonomous task. Do it and reply with the result only, as concisely as possible."

// Executor runs a whole goal session.
type Executor interface {
	Run(ctx context.Context, goal executor.Goal) executor.SessionResult
}

// Drive receives exactly one signal per tick.
type Drive interface {
	Idle()
	TaskExecuted()
	GoalCompleted(goalID string)
	State() drive.State
}

// Notifier broadcasts outcomes to observers. Notify must not block.
type Notifier interface {
	Notify(n models.Notification)
}

// Decisions records why a task was selected.
type Decisions interface {
	Record(ctx context.Context, action string, inputs any, outcome, taskKey, details string) (*models.PDREntry, error)
}

// Deps are the scheduler's collaborators. Log, TaskState and Sources are
// required; the rest are optional.
type Deps struct {
	Jobs      *schedule.Store
	Sources   *sources.Registry
	Executor  Executor
	Oracle    oracle.Oracle
	TaskState *taskstate.Store
	Log       *activitylog.Log
	Drive     Drive
	Notifier  Notifier
	Metrics   *metrics.Metrics
	Decisions Decisions
	Logger    *slog.Logger
	Now       func() time.Time
}

// Stats is a point-in-time snapshot of heartbeat counters.
type Stats struct {
	Ticks           int64      `json:"ticks"`
	SkippedTicks    int64      `json:"skipped_ticks"`
	IdleCycles      int64      `json:"idle_cycles"`
	ConsecutiveIdle int        `json:"consecutive_idle"`
	Executed        int64      `json:"executed"`
	Failed          int64      `json:"failed"`
	JobsRun         int64      `json:"jobs_run"`
	HeartbeatErrors int64      `json:"heartbeat_errors"`
	Running         bool       `json:"running"`
	Started         bool       `json:"started"`
	LastTickAt      *time.Time `json:"last_tick_at,omitempty"`
}

// Scheduler owns the heartbeat loop.
type Scheduler struct {
	cfg    *Config
	deps   Deps
	logger *slog.Logger

	// running is held for the whole of a tick.
	running atomic.Bool

	mu    sync.Mutex
	stats Stats

	// Control
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler.
func New(cfg *Config, deps Deps) *Scheduler {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultConfig().TickInterval
	}
	if cfg.OutputLimit <= 0 {
		cfg.OutputLimit = DefaultConfig().OutputLimit
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Sources == nil {
		deps.Sources = sources.NewRegistry()
	}
	if deps.Drive == nil {
		deps.Drive = drive.New(drive.DefaultConfig())
	}
	return &Scheduler{
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger.With("component", "scheduler"),
		ctx:    context.Background(),
	}
}

// Initialize loads persisted task state and scheduled jobs. Both loads are
// attempted even if the first fails.
func (s *Scheduler) Initialize(ctx context.Context) error {
	var errs []error
	if err := s.deps.TaskState.Load(); err != nil {
		errs = append(errs, err)
	}
	jobs := 0
	if s.deps.Jobs != nil {
		if err := s.deps.Jobs.Load(s.deps.Now()); err != nil {
			errs = append(errs, err)
		}
		jobs = len(s.deps.Jobs.List())
	}
	s.logger.InfoContext(ctx, "scheduler initialized",
		"jobs", jobs,
		"task_keys", len(s.deps.TaskState.Snapshot()),
		"sources", s.deps.Sources.Names())
	return errors.Join(errs...)
}

// Start fires a tick immediately, then one per interval, until ctx is
// cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.stats.Started = true
	loopCtx := s.ctx
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(loopCtx)
	s.logger.Info("scheduler started", "interval", s.cfg.TickInterval)
}

// Stop halts the loop, waits for the in-flight tick and flushes task state.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.stats.Started = false
	s.mu.Unlock()

	s.wg.Wait()
	if err := s.deps.TaskState.Flush(); err != nil {
		s.logger.Warn("task state flush failed", "error", err)
	}
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	s.Tick(ctx)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one heartbeat synchronously. It returns false without side
// effects other than the skip counter when a tick is already in flight.
func (s *Scheduler) Tick(ctx context.Context) bool {
	if !s.acquire() {
		return false
	}
	defer s.running.Store(false)
	s.tick(ctx)
	return true
}

// TriggerTick starts a tick in the background, for callers that must not
// wait for it. It reports whether a tick was started.
func (s *Scheduler) TriggerTick() bool {
	if !s.acquire() {
		return false
	}
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)
		s.tick(ctx)
	}()
	return true
}

func (s *Scheduler) acquire() bool {
	if s.running.CompareAndSwap(false, true) {
		return true
	}
	s.mu.Lock()
	s.stats.SkippedTicks++
	s.mu.Unlock()
	s.deps.Metrics.TickSkipped()
	return false
}

func (s *Scheduler) tick(ctx context.Context) {
	now := s.deps.Now()
	s.mu.Lock()
	s.stats.Ticks++
	s.stats.LastTickAt = &now
	tickNo := int(s.stats.Ticks)
	s.mu.Unlock()
	s.deps.Metrics.TickStarted()

	s.runDueJobs(ctx, now)

	if err := s.step(ctx, tickNo, now); err != nil {
		s.heartbeatError(err)
	}

	st := s.deps.Drive.State()
	s.deps.Metrics.Drive(st.Tension, st.Satisfaction)
}

// step polls the sources and runs at most one task. Panics surface as
// errors.
func (s *Scheduler) step(ctx context.Context, tickNo int, now time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	s.mu.Lock()
	idle := s.stats.ConsecutiveIdle
	s.mu.Unlock()

	env := sources.Env{
		Now:        now,
		Tick:       tickNo,
		IdleCycles: idle,
		States:     s.deps.TaskState.Snapshot(),
	}
	task, pollErr := s.deps.Sources.Poll(ctx, env)
	if task == nil {
		if pollErr != nil {
			return fmt.Errorf("poll sources: %w", pollErr)
		}
		s.idle(now)
		return nil
	}
	if pollErr != nil {
		s.logger.Warn("task source failed", "error", pollErr)
	}

	s.mu.Lock()
	s.stats.ConsecutiveIdle = 0
	s.mu.Unlock()

	s.recordDecision(ctx, task)
	s.execute(ctx, task)
	return nil
}

func (s *Scheduler) idle(now time.Time) {
	s.mu.Lock()
	s.stats.IdleCycles++
	s.stats.ConsecutiveIdle++
	n := s.stats.ConsecutiveIdle
	s.mu.Unlock()

	s.deps.Drive.Idle()
	s.deps.Metrics.Idle()

	if s.cfg.IdleLogEvery > 0 && n%s.cfg.IdleLogEvery == 0 {
		s.deps.Log.Append(models.ActivityEntry{
			TS:          now,
			Source:      "heartbeat",
			Description: fmt.Sprintf("idle for %d cycles", n),
			Status:      models.StatusIdle,
		})
	}
}

// outcome is the result of running one task.
type outcome struct {
	status   string
	output   string
	err      error
	goalDone bool
}

func (s *Scheduler) execute(ctx context.Context, task *models.Task) {
	key := task.Key()
	start := s.deps.Now()
	s.logger.Info("executing task", "source", task.Source, "key", key)

	var out outcome
	if task.OnStart != nil {
		if err := task.OnStart(ctx); err != nil {
			out = outcome{status: models.StatusFailed, err: fmt.Errorf("start task: %w", err)}
		}
	}
	if out.err == nil {
		if goalID := task.GoalID(); goalID != "" && s.deps.Executor != nil {
			out = s.runGoal(ctx, task, goalID)
		} else {
			out = s.runDirect(ctx, task)
		}
	}
	dur := s.deps.Now().Sub(start)

	s.deps.TaskState.Record(key, dur, out.err, start)

	switch out.status {
	case models.StatusSuccess:
		s.mu.Lock()
		s.stats.Executed++
		s.mu.Unlock()
		if out.goalDone {
			s.deps.Drive.GoalCompleted(task.GoalID())
		} else {
			s.deps.Drive.TaskExecuted()
		}
		if task.OnComplete != nil {
			if err := task.OnComplete(ctx, out.output); err != nil {
				s.logger.Warn("task completion hook failed", "key", key, "error", err)
			}
		}
	case models.StatusPaused:
		s.mu.Lock()
		s.stats.Executed++
		s.mu.Unlock()
		s.deps.Drive.TaskExecuted()
	default:
		s.mu.Lock()
		s.stats.Failed++
		s.mu.Unlock()
	}

	entry := models.ActivityEntry{
		TS:          start,
		Source:      task.Source,
		TaskKey:     key,
		Description: task.Description,
		Status:      out.status,
		DurationMs:  dur.Milliseconds(),
		Output:      models.Truncate(out.output, s.cfg.OutputLimit),
	}
	if out.err != nil {
		entry.Error = out.err.Error()
		s.logger.Warn("task failed", "source", task.Source, "key", key, "error", out.err)
	}
	s.deps.Log.Append(entry)
	s.deps.Metrics.TaskFinished(task.Source, out.status)
	s.notify(entry)
}

func (s *Scheduler) runGoal(ctx context.Context, task *models.Task, goalID string) outcome {
	res := s.deps.Executor.Run(ctx, executor.Goal{ID: goalID, Description: task.Description})
	s.deps.Metrics.SessionFinished(string(res.State), res.Steps)

	switch {
	case res.State == executor.StateComplete:
		return outcome{status: models.StatusSuccess, output: res.Result, goalDone: true}
	case res.Paused:
		return outcome{
			status: models.StatusPaused,
			output: fmt.Sprintf("paused after %d steps; progress saved", res.Steps),
		}
	default:
		return outcome{
			status: models.StatusFailed,
			output: res.Result,
			err:    fmt.Errorf("goal session %s after %d steps", res.State, res.Steps),
		}
	}
}

func (s *Scheduler) runDirect(ctx context.Context, task *models.Task) outcome {
	res := s.reason(ctx, task.Description, oracle.Options{
		Source:         task.Source,
		Context:        task.Context,
		SystemOverride: conciseInstruction,
	})
	if err := res.Err(); err != nil {
		return outcome{status: models.StatusFailed, err: err}
	}
	return outcome{status: models.StatusSuccess, output: res.Text}
}

// reason calls the oracle, converting a missing oracle or a panic into a
// failed result.
func (s *Scheduler) reason(ctx context.Context, prompt string, opts oracle.Options) (res oracle.Result) {
	if s.deps.Oracle == nil {
		return oracle.Failure(errors.New("no oracle configured"))
	}
	defer func() {
		if r := recover(); r != nil {
			res = oracle.Failure(fmt.Errorf("oracle panic: %v", r))
		}
	}()
	return s.deps.Oracle.Reason(ctx, prompt, opts)
}

func (s *Scheduler) runDueJobs(ctx context.Context, now time.Time) {
	if s.deps.Jobs == nil {
		return
	}
	for _, job := range s.deps.Jobs.Due(now) {
		if err := s.guardJob(ctx, job); err != nil {
			s.heartbeatError(err)
		}
	}
}

// guardJob runs one job, turning a panic into an error so the remaining
// jobs and the organic task still run.
func (s *Scheduler) guardJob(ctx context.Context, job models.ScheduledJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s: panic: %v", job.ID, r)
		}
	}()
	s.runJob(ctx, job)
	return nil
}

func (s *Scheduler) runJob(ctx context.Context, job models.ScheduledJob) {
	start := s.deps.Now()
	res := s.reason(ctx, job.Message, oracle.Options{
		Source:         "schedule",
		Context:        map[string]any{"job_id": job.ID, "job_name": job.Name},
		SystemOverride: conciseInstruction,
	})
	dur := s.deps.Now().Sub(start)
	runErr := res.Err()

	if _, err := s.deps.Jobs.RecordRun(job.ID, start, dur, runErr); err != nil {
		s.logger.Warn("record job run failed", "job", job.ID, "error", err)
	}

	s.mu.Lock()
	s.stats.JobsRun++
	s.mu.Unlock()

	entry := models.ActivityEntry{
		TS:          start,
		Source:      "schedule",
		TaskKey:     "job:" + job.ID,
		Description: job.Name,
		Status:      models.StatusSuccess,
		DurationMs:  dur.Milliseconds(),
		Output:      models.Truncate(res.Text, s.cfg.OutputLimit),
	}
	if runErr != nil {
		entry.Status = models.StatusFailed
		entry.Error = runErr.Error()
		s.logger.Warn("scheduled job failed", "job", job.ID, "name", job.Name, "error", runErr)
	} else {
		s.logger.Info("scheduled job ran", "job", job.ID, "name", job.Name, "duration", dur)
	}
	s.deps.Log.Append(entry)
	s.deps.Metrics.JobRun(entry.Status)
	s.notify(entry)
}

func (s *Scheduler) recordDecision(ctx context.Context, task *models.Task) {
	if s.deps.Decisions == nil {
		return
	}
	inputs := map[string]any{
		"source":  task.Source,
		"key":     task.Key(),
		"context": task.Context,
	}
	details := fmt.Sprintf("selected from %s", task.Source)
	if score, ok := task.Context["score"]; ok {
		details = fmt.Sprintf("selected from %s with score %v", task.Source, score)
	}
	if _, err := s.deps.Decisions.Record(ctx, "task.select", inputs, "selected", task.Key(), details); err != nil {
		s.logger.Warn("record decision failed", "error", err)
	}
}

func (s *Scheduler) heartbeatError(err error) {
	s.mu.Lock()
	s.stats.HeartbeatErrors++
	s.mu.Unlock()
	s.deps.Metrics.HeartbeatError()
	s.logger.Error("tick failed", "error", err)

	entry := models.ActivityEntry{
		TS:          s.deps.Now(),
		Source:      "heartbeat",
		Description: "tick failed",
		Status:      models.StatusError,
		Error:       err.Error(),
	}
	s.deps.Log.Append(entry)
	s.notify(entry)
}

// notify never lets a misbehaving observer reach the tick.
func (s *Scheduler) notify(e models.ActivityEntry) {
	if s.deps.Notifier == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("notifier panicked", "panic", r)
		}
	}()
	s.deps.Notifier.Notify(models.Notification{
		Source:      e.Source,
		Description: e.Description,
		Output:      e.Output,
		Status:      e.Status,
		Error:       e.Error,
		DurationMs:  e.DurationMs,
	})
}

// Stats returns current heartbeat statistics.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.stats
	if s.stats.LastTickAt != nil {
		t := *s.stats.LastTickAt
		out.LastTickAt = &t
	}
	out.Running = s.running.Load()
	return out
}
