package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fentz26/cadence/internal/activitylog"
	"github.com/fentz26/cadence/internal/drive"
	"github.com/fentz26/cadence/internal/executor"
	"github.com/fentz26/cadence/internal/models"
	"github.com/fentz26/cadence/internal/oracle"
	"github.com/fentz26/cadence/internal/schedule"
	"github.com/fentz26/cadence/internal/sources"
	"github.com/fentz26/cadence/internal/taskstate"
)

// taskSource offers the task built by next on every poll.
type taskSource struct {
	name string
	next func() *models.Task
}

func (s *taskSource) Name() string { return s.name }

func (s *taskSource) Peek(context.Context, sources.Env) (*models.Task, error) {
	if s.next == nil {
		return nil, nil
	}
	return s.next(), nil
}

type panicSource struct{}

func (panicSource) Name() string { return "broken" }

func (panicSource) Peek(context.Context, sources.Env) (*models.Task, error) {
	panic("source exploded")
}

// recordingDrive records the signals it receives.
type recordingDrive struct {
	mu      sync.Mutex
	signals []string
}

func (d *recordingDrive) add(s string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.signals = append(d.signals, s)
}

func (d *recordingDrive) Idle()                   { d.add("idle") }
func (d *recordingDrive) TaskExecuted()           { d.add("task") }
func (d *recordingDrive) GoalCompleted(id string) { d.add("goal:" + id) }
func (d *recordingDrive) State() drive.State      { return drive.State{} }

type notifications struct {
	mu   sync.Mutex
	list []models.Notification
}

func (n *notifications) Notify(note models.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.list = append(n.list, note)
}

func (n *notifications) all() []models.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.Notification(nil), n.list...)
}

type panickyNotifier struct{}

func (panickyNotifier) Notify(models.Notification) { panic("observer gone") }

type fakeExecutor struct {
	result executor.SessionResult
	goals  []executor.Goal
}

func (f *fakeExecutor) Run(_ context.Context, g executor.Goal) executor.SessionResult {
	f.goals = append(f.goals, g)
	r := f.result
	r.GoalID = g.ID
	return r
}

type harness struct {
	sched *Scheduler
	log   *activitylog.Log
	state *taskstate.Store
	drive *recordingDrive
	notes *notifications
	dir   string
}

func newHarness(t *testing.T, cfg *Config, deps Deps) *harness {
	t.Helper()
	dir := t.TempDir()

	log, err := activitylog.Open(filepath.Join(dir, "activity.jsonl"), activitylog.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })

	h := &harness{
		log:   log,
		state: taskstate.New(filepath.Join(dir, "task_state.json"), nil),
		drive: &recordingDrive{},
		notes: &notifications{},
		dir:   dir,
	}
	deps.Log = log
	deps.TaskState = h.state
	if deps.Drive == nil {
		deps.Drive = h.drive
	}
	if deps.Notifier == nil {
		deps.Notifier = h.notes
	}
	h.sched = New(cfg, deps)
	return h
}

func (h *harness) entries(t *testing.T) []models.ActivityEntry {
	t.Helper()
	entries, err := h.log.Recent(0)
	require.NoError(t, err)
	return entries
}

func echoOracle(calls *[]oracle.Options) oracle.Func {
	var mu sync.Mutex
	return func(_ context.Context, prompt string, opts oracle.Options) oracle.Result {
		mu.Lock()
		defer mu.Unlock()
		if calls != nil {
			*calls = append(*calls, opts)
		}
		return oracle.Success("did: " + prompt)
	}
}

func TestIdleTicks(t *testing.T) {
	h := newHarness(t, &Config{IdleLogEvery: 2}, Deps{})

	for i := 0; i < 5; i++ {
		require.True(t, h.sched.Tick(context.Background()))
	}

	stats := h.sched.Stats()
	assert.Equal(t, int64(5), stats.Ticks)
	assert.Equal(t, int64(5), stats.IdleCycles)
	assert.Equal(t, 5, stats.ConsecutiveIdle)
	assert.Equal(t, []string{"idle", "idle", "idle", "idle", "idle"}, h.drive.signals)

	entries := h.entries(t)
	require.Len(t, entries, 2)
	assert.Equal(t, models.StatusIdle, entries[0].Status)
	assert.Equal(t, "idle for 2 cycles", entries[0].Description)
	assert.Equal(t, "idle for 4 cycles", entries[1].Description)
}

func TestDirectTaskSuccess(t *testing.T) {
	var calls []oracle.Options
	var completed []string
	src := &taskSource{name: "curiosity", next: func() *models.Task {
		return &models.Task{
			Source:      "curiosity",
			Description: "why is the sky blue",
			Context:     map[string]any{"id": "c1"},
			OnComplete: func(_ context.Context, result string) error {
				completed = append(completed, result)
				return nil
			},
		}
	}}
	h := newHarness(t, nil, Deps{
		Sources: sources.NewRegistry(src),
		Oracle:  echoOracle(&calls),
	})

	require.True(t, h.sched.Tick(context.Background()))

	require.Len(t, calls, 1)
	assert.Equal(t, conciseInstruction, calls[0].SystemOverride)
	assert.Equal(t, "curiosity", calls[0].Source)
	assert.Equal(t, []string{"did: why is the sky blue"}, completed)
	assert.Equal(t, []string{"task"}, h.drive.signals)

	st, ok := h.state.Get("curiosity:c1")
	require.True(t, ok)
	assert.Equal(t, 1, st.Runs)
	assert.Equal(t, 0, st.Failures)

	entries := h.entries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, models.StatusSuccess, entries[0].Status)
	assert.Equal(t, "curiosity:c1", entries[0].TaskKey)
	assert.Equal(t, "did: why is the sky blue", entries[0].Output)

	notes := h.notes.all()
	require.Len(t, notes, 1)
	assert.Equal(t, "curiosity", notes[0].Source)
	assert.Equal(t, models.StatusSuccess, notes[0].Status)

	stats := h.sched.Stats()
	assert.Equal(t, int64(1), stats.Executed)
	assert.Equal(t, 0, stats.ConsecutiveIdle)
}

func TestDirectTaskFailure(t *testing.T) {
	completed := false
	src := &taskSource{name: "learning", next: func() *models.Task {
		return &models.Task{
			Source:      "learning",
			Description: "study channels",
			OnComplete: func(context.Context, string) error {
				completed = true
				return nil
			},
		}
	}}
	h := newHarness(t, nil, Deps{
		Sources: sources.NewRegistry(src),
		Oracle: oracle.Func(func(context.Context, string, oracle.Options) oracle.Result {
			return oracle.Failure(errors.New("rate limited"))
		}),
	})

	require.True(t, h.sched.Tick(context.Background()))

	assert.False(t, completed)
	assert.Empty(t, h.drive.signals)

	st, ok := h.state.Get("learning:study channels")
	require.True(t, ok)
	assert.Equal(t, 1, st.Failures)
	assert.Equal(t, "rate limited", st.LastError)

	entries := h.entries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, models.StatusFailed, entries[0].Status)
	assert.Equal(t, "rate limited", entries[0].Error)
	assert.Equal(t, int64(1), h.sched.Stats().Failed)
}

func goalTask(completed *string) func() *models.Task {
	return func() *models.Task {
		return &models.Task{
			Source:      "goals",
			Description: "summarize the topic",
			Context:     map[string]any{"goal_id": "g1"},
			OnComplete: func(_ context.Context, result string) error {
				*completed = result
				return nil
			},
		}
	}
}

func TestGoalTaskDelegatesToExecutor(t *testing.T) {
	var completed string
	exec := &fakeExecutor{result: executor.SessionResult{State: executor.StateComplete, Result: "summary stored", Steps: 3}}
	var calls []oracle.Options
	h := newHarness(t, nil, Deps{
		Sources:  sources.NewRegistry(&taskSource{name: "goals", next: goalTask(&completed)}),
		Executor: exec,
		Oracle:   echoOracle(&calls),
	})

	require.True(t, h.sched.Tick(context.Background()))

	require.Len(t, exec.goals, 1)
	assert.Equal(t, executor.Goal{ID: "g1", Description: "summarize the topic"}, exec.goals[0])
	assert.Empty(t, calls, "goal work must not go through a direct call")
	assert.Equal(t, "summary stored", completed)
	assert.Equal(t, []string{"goal:g1"}, h.drive.signals)

	entries := h.entries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, "goals:g1", entries[0].TaskKey)
	assert.Equal(t, models.StatusSuccess, entries[0].Status)
}

func TestPausedGoalSessionIsNotAFailure(t *testing.T) {
	var completed string
	exec := &fakeExecutor{result: executor.SessionResult{State: executor.StateExhausted, Paused: true, Steps: 15}}
	h := newHarness(t, nil, Deps{
		Sources:  sources.NewRegistry(&taskSource{name: "goals", next: goalTask(&completed)}),
		Executor: exec,
	})

	require.True(t, h.sched.Tick(context.Background()))

	assert.Empty(t, completed)
	assert.Equal(t, []string{"task"}, h.drive.signals)
	st, _ := h.state.Get("goals:g1")
	assert.Equal(t, 0, st.Failures)

	entries := h.entries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, models.StatusPaused, entries[0].Status)
}

func TestTimedOutGoalSessionFails(t *testing.T) {
	var completed string
	exec := &fakeExecutor{result: executor.SessionResult{State: executor.StateTimedOut, Steps: 4}}
	h := newHarness(t, nil, Deps{
		Sources:  sources.NewRegistry(&taskSource{name: "goals", next: goalTask(&completed)}),
		Executor: exec,
	})

	require.True(t, h.sched.Tick(context.Background()))

	assert.Empty(t, completed)
	st, _ := h.state.Get("goals:g1")
	assert.Equal(t, 1, st.Failures)
	assert.Contains(t, st.LastError, "timed_out")
}

func TestGoalTaskWithoutExecutorUsesDirectCall(t *testing.T) {
	var completed string
	var calls []oracle.Options
	h := newHarness(t, nil, Deps{
		Sources: sources.NewRegistry(&taskSource{name: "goals", next: goalTask(&completed)}),
		Oracle:  echoOracle(&calls),
	})

	require.True(t, h.sched.Tick(context.Background()))
	require.Len(t, calls, 1)
	assert.Equal(t, "did: summarize the topic", completed)
}

func TestOnStartFailureSkipsExecution(t *testing.T) {
	var calls []oracle.Options
	src := &taskSource{name: "goals", next: func() *models.Task {
		return &models.Task{
			Source:      "goals",
			Description: "g",
			OnStart:     func(context.Context) error { return errors.New("db locked") },
		}
	}}
	h := newHarness(t, nil, Deps{Sources: sources.NewRegistry(src), Oracle: echoOracle(&calls)})

	require.True(t, h.sched.Tick(context.Background()))
	assert.Empty(t, calls)
	entries := h.entries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, models.StatusFailed, entries[0].Status)
	assert.Contains(t, entries[0].Error, "db locked")
}

func TestPanicIsCaughtAtTickBoundary(t *testing.T) {
	h := newHarness(t, nil, Deps{Sources: sources.NewRegistry(panicSource{})})

	require.NotPanics(t, func() { h.sched.Tick(context.Background()) })
	require.NotPanics(t, func() { h.sched.Tick(context.Background()) })

	stats := h.sched.Stats()
	assert.Equal(t, int64(2), stats.Ticks)
	assert.Equal(t, int64(2), stats.HeartbeatErrors)

	entries := h.entries(t)
	require.Len(t, entries, 2)
	assert.Equal(t, "heartbeat", entries[0].Source)
	assert.Equal(t, models.StatusError, entries[0].Status)
	assert.Contains(t, entries[0].Error, "source exploded")
}

func TestPanickingNotifierNeverFailsTheTick(t *testing.T) {
	src := &taskSource{name: "curiosity", next: func() *models.Task {
		return &models.Task{Source: "curiosity", Description: "q"}
	}}
	h := newHarness(t, nil, Deps{
		Sources:  sources.NewRegistry(src),
		Oracle:   echoOracle(nil),
		Notifier: panickyNotifier{},
	})

	require.True(t, h.sched.Tick(context.Background()))
	stats := h.sched.Stats()
	assert.Equal(t, int64(1), stats.Executed)
	assert.Zero(t, stats.HeartbeatErrors)
}

func TestAtMostOneTickInFlight(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	blocking := oracle.Func(func(context.Context, string, oracle.Options) oracle.Result {
		once.Do(func() { close(entered) })
		<-release
		return oracle.Success("ok")
	})
	src := &taskSource{name: "curiosity", next: func() *models.Task {
		return &models.Task{Source: "curiosity", Description: "slow"}
	}}
	h := newHarness(t, nil, Deps{Sources: sources.NewRegistry(src), Oracle: blocking})

	done := make(chan bool)
	go func() { done <- h.sched.Tick(context.Background()) }()
	<-entered

	for i := 0; i < 10; i++ {
		assert.False(t, h.sched.Tick(context.Background()))
	}
	assert.False(t, h.sched.TriggerTick())
	assert.True(t, h.sched.Stats().Running)

	close(release)
	assert.True(t, <-done)

	stats := h.sched.Stats()
	assert.Equal(t, int64(1), stats.Ticks)
	assert.Equal(t, int64(11), stats.SkippedTicks)
	assert.Equal(t, int64(1), stats.Executed)
	assert.False(t, stats.Running)

	assert.True(t, h.sched.Tick(context.Background()))
}

func TestDueJobsRunBeforeOrganicTask(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.Local)
	dir := t.TempDir()
	jobs := schedule.NewStore(filepath.Join(dir, "schedules.json"))
	oneShot, err := jobs.Add("reminder", "send the weekly report", models.Schedule{
		Kind: models.ScheduleAt,
		AtMs: now.Add(-time.Minute).UnixMilli(),
	}, now.Add(-time.Hour))
	require.NoError(t, err)

	var order []string
	var mu sync.Mutex
	orc := oracle.Func(func(_ context.Context, prompt string, opts oracle.Options) oracle.Result {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, opts.Source+":"+prompt)
		return oracle.Success("ok")
	})
	src := &taskSource{name: "curiosity", next: func() *models.Task {
		return &models.Task{Source: "curiosity", Description: "question"}
	}}
	h := newHarness(t, nil, Deps{
		Jobs:    jobs,
		Sources: sources.NewRegistry(src),
		Oracle:  orc,
		Now:     func() time.Time { return now },
	})

	require.True(t, h.sched.Tick(context.Background()))
	require.True(t, h.sched.Tick(context.Background()))

	assert.Equal(t, []string{
		"schedule:send the weekly report",
		"curiosity:question",
		"curiosity:question",
	}, order)

	job, err := jobs.Get(oneShot.ID)
	require.NoError(t, err)
	assert.False(t, job.Enabled)
	assert.Nil(t, job.State.NextRunAtMs)
	assert.Equal(t, 1, job.State.Runs)

	entries := h.entries(t)
	require.Len(t, entries, 3)
	assert.Equal(t, "schedule", entries[0].Source)
	assert.Equal(t, "job:"+oneShot.ID, entries[0].TaskKey)
	assert.Equal(t, int64(1), h.sched.Stats().JobsRun)
}

func TestCronJobFiresOncePerMinute(t *testing.T) {
	base := time.Date(2026, 3, 2, 9, 30, 0, 0, time.Local)
	clock := base
	jobs := schedule.NewStore(filepath.Join(t.TempDir(), "schedules.json"))
	_, err := jobs.Add("half past", "check mail", models.Schedule{Kind: models.ScheduleCron, Expr: "30 9 * * *"}, base.Add(-time.Hour))
	require.NoError(t, err)

	runs := 0
	orc := oracle.Func(func(_ context.Context, _ string, opts oracle.Options) oracle.Result {
		if opts.Source == "schedule" {
			runs++
		}
		return oracle.Success("ok")
	})
	h := newHarness(t, nil, Deps{Jobs: jobs, Oracle: orc, Now: func() time.Time { return clock }})

	for i := 0; i < 10; i++ {
		clock = base.Add(time.Duration(i) * 5 * time.Second)
		h.sched.Tick(context.Background())
	}
	assert.Equal(t, 1, runs)
}

func TestFailingJobDoesNotStopTheTick(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.Local)
	jobs := schedule.NewStore(filepath.Join(t.TempDir(), "schedules.json"))
	_, err := jobs.Add("", "boom", models.Schedule{Kind: models.ScheduleAt, AtMs: now.UnixMilli()}, now.Add(-time.Hour))
	require.NoError(t, err)

	orc := oracle.Func(func(_ context.Context, prompt string, _ oracle.Options) oracle.Result {
		if prompt == "boom" {
			panic("job oracle crashed")
		}
		return oracle.Success("fine")
	})
	src := &taskSource{name: "curiosity", next: func() *models.Task {
		return &models.Task{Source: "curiosity", Description: "after"}
	}}
	h := newHarness(t, nil, Deps{Jobs: jobs, Sources: sources.NewRegistry(src), Oracle: orc, Now: func() time.Time { return now }})

	require.True(t, h.sched.Tick(context.Background()))

	entries := h.entries(t)
	require.Len(t, entries, 2)
	assert.Equal(t, models.StatusFailed, entries[0].Status)
	assert.Contains(t, entries[0].Error, "job oracle crashed")
	assert.Equal(t, models.StatusSuccess, entries[1].Status)
}

func TestPanicOnJobPathIsCaught(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.Local)
	jobs := schedule.NewStore(filepath.Join(t.TempDir(), "schedules.json"))
	_, err := jobs.Add("", "tick tock", models.Schedule{Kind: models.ScheduleAt, AtMs: now.UnixMilli()}, now.Add(-time.Hour))
	require.NoError(t, err)

	// the clock breaks once, right after the job's oracle call
	var armed bool
	clock := func() time.Time {
		if armed {
			armed = false
			panic("clock went away")
		}
		return now
	}
	orc := oracle.Func(func(_ context.Context, prompt string, _ oracle.Options) oracle.Result {
		if prompt == "tick tock" {
			armed = true
		}
		return oracle.Success("fine")
	})
	src := &taskSource{name: "curiosity", next: func() *models.Task {
		return &models.Task{Source: "curiosity", Description: "after"}
	}}
	h := newHarness(t, nil, Deps{Jobs: jobs, Sources: sources.NewRegistry(src), Oracle: orc, Now: clock})

	require.NotPanics(t, func() { h.sched.Tick(context.Background()) })

	entries := h.entries(t)
	require.Len(t, entries, 2)
	assert.Equal(t, "heartbeat", entries[0].Source)
	assert.Equal(t, models.StatusError, entries[0].Status)
	assert.Contains(t, entries[0].Error, "clock went away")
	assert.Equal(t, "curiosity", entries[1].Source)
	assert.Equal(t, models.StatusSuccess, entries[1].Status)
	assert.EqualValues(t, 1, h.sched.Stats().HeartbeatErrors)
	assert.False(t, h.sched.running.Load(), "the guard is released")
}

func TestStartTicksImmediatelyAndStopFlushes(t *testing.T) {
	src := &taskSource{name: "curiosity", next: func() *models.Task {
		return &models.Task{Source: "curiosity", Description: "q"}
	}}
	h := newHarness(t, &Config{TickInterval: time.Hour}, Deps{
		Sources: sources.NewRegistry(src),
		Oracle:  echoOracle(nil),
	})
	require.NoError(t, h.sched.Initialize(context.Background()))

	h.sched.Start(context.Background())
	require.Eventually(t, func() bool { return h.sched.Stats().Executed == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, h.sched.Stats().Started)

	h.sched.Stop()
	assert.False(t, h.sched.Stats().Started)

	_, err := os.Stat(filepath.Join(h.dir, "task_state.json"))
	require.NoError(t, err, "task state must be flushed on stop")

	reloaded := taskstate.New(filepath.Join(h.dir, "task_state.json"), nil)
	require.NoError(t, reloaded.Load())
	st, ok := reloaded.Get("curiosity:q")
	require.True(t, ok)
	assert.Equal(t, 1, st.Runs)
}

func TestTriggerTickRunsInBackground(t *testing.T) {
	h := newHarness(t, nil, Deps{})
	require.True(t, h.sched.TriggerTick())
	require.Eventually(t, func() bool {
		s := h.sched.Stats()
		return s.Ticks == 1 && !s.Running
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDecisionsRecordedForSelectedTasks(t *testing.T) {
	rec := &decisionLog{}
	src := &taskSource{name: "goals", next: func() *models.Task {
		return &models.Task{Source: "goals", Description: "g", Context: map[string]any{"goal_id": "g9", "score": 72.5}}
	}}
	h := newHarness(t, nil, Deps{Sources: sources.NewRegistry(src), Oracle: echoOracle(nil), Decisions: rec})

	require.True(t, h.sched.Tick(context.Background()))
	require.Len(t, rec.keys, 1)
	assert.Equal(t, "goals:g9", rec.keys[0])
	assert.Equal(t, "selected from goals with score 72.5", rec.details[0])
}

type decisionLog struct {
	keys    []string
	details []string
}

func (d *decisionLog) Record(_ context.Context, _ string, _ any, _, key, details string) (*models.PDREntry, error) {
	d.keys = append(d.keys, key)
	d.details = append(d.details, details)
	return &models.PDREntry{}, nil
}
