package executor

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fentz26/cadence/internal/memory"
	"github.com/fentz26/cadence/internal/oracle"
	"github.com/fentz26/cadence/internal/tools"
)

// scripted replays canned replies and records every prompt.
type scripted struct {
	mu      sync.Mutex
	replies []oracle.Result
	prompts []string
	onCall  func()
}

func (s *scripted) Reason(_ context.Context, prompt string, _ oracle.Options) oracle.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, prompt)
	if s.onCall != nil {
		s.onCall()
	}
	if len(s.replies) == 0 {
		return oracle.Success("I am not sure what to do next.")
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return r
}

func say(texts ...string) []oracle.Result {
	out := make([]oracle.Result, len(texts))
	for i, t := range texts {
		out[i] = oracle.Success(t)
	}
	return out
}

type progressLog struct {
	mu     sync.Mutex
	values []int
}

func (p *progressLog) ReportProgress(_ context.Context, _ string, v int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values = append(p.values, v)
	return nil
}

func fakeTool(name string, fn func(map[string]any) (map[string]any, error)) *tools.Func {
	return &tools.Func{
		ToolName: name,
		Desc:     name + " tool",
		ArgsHint: "{}",
		Fn: func(_ context.Context, args map[string]any) (map[string]any, error) {
			return fn(args)
		},
	}
}

func registry(t *testing.T, ts ...tools.Tool) *tools.Registry {
	t.Helper()
	r, err := tools.NewRegistry(ts...)
	require.NoError(t, err)
	return r
}

func TestEndToEndSummarizeTopic(t *testing.T) {
	mem, err := memory.Open("")
	require.NoError(t, err)

	var fetched map[string]any
	reg := registry(t,
		fakeTool("web_fetch", func(a map[string]any) (map[string]any, error) {
			fetched = a
			return map[string]any{"content": "Topic X is a thing."}, nil
		}),
		tools.NewMemoryStore(mem),
	)

	o := &scripted{replies: say(
		"THINK: I need facts about topic X.\nTOOL: web_fetch\nARGS: {\"url\": \"https://example.com/x\"}",
		"THINK: Save what I learned.\nTOOL: memory_store\nARGS: {\"content\": \"Topic X is a thing.\"}",
		"DONE: yes\nRESULT: summary stored",
	)}
	progress := &progressLog{}
	store := NewProgressStore(t.TempDir())

	ex := New(DefaultConfig(), Deps{Oracle: o, Tools: reg, Memory: mem, Progress: progress, Store: store})
	res := ex.Run(context.Background(), Goal{ID: "g1", Description: "Summarize topic X"})

	assert.Equal(t, StateComplete, res.State)
	assert.Equal(t, "summary stored", res.Result)
	assert.Equal(t, 3, res.Steps)
	assert.Equal(t, []string{"web_fetch", "memory_store"}, res.ToolsUsed)
	assert.Equal(t, []int{31, 42, 100}, progress.values)
	assert.Equal(t, "https://example.com/x", fetched["url"])
	assert.False(t, store.Exists("g1"))
	assert.False(t, res.Paused)

	// the stored fact plus the session summary
	assert.Equal(t, 2, mem.Count())
}

func TestResumeFromProgressFile(t *testing.T) {
	store := NewProgressStore(t.TempDir())
	prior := []Observation{
		{Step: 1, Tool: "web_fetch", Result: map[string]any{"content": "a"}},
		{Step: 2, Tool: "web_fetch", Result: map[string]any{"content": "b"}},
	}
	require.NoError(t, store.Save("g2", prior))

	calls := 0
	reg := registry(t, fakeTool("web_fetch", func(map[string]any) (map[string]any, error) {
		calls++
		return map[string]any{"content": "c"}, nil
	}))
	o := &scripted{replies: say(
		"TOOL: web_fetch\nARGS: {\"url\": \"https://example.com\"}",
		"DONE: yes\nRESULT: ok",
	)}
	progress := &progressLog{}

	res := New(DefaultConfig(), Deps{Oracle: o, Tools: reg, Progress: progress, Store: store}).
		Run(context.Background(), Goal{ID: "g2", Description: "resume me"})

	require.Equal(t, StateComplete, res.State)
	assert.True(t, res.Resumed)
	require.Len(t, res.Observations, 3)
	for i, obs := range res.Observations {
		assert.Equal(t, i+1, obs.Step)
	}
	assert.Equal(t, 1, calls)
	assert.Equal(t, []int{53, 100}, progress.values, "step 3 reports 20+3*11")
	assert.Contains(t, o.prompts[0], "[1] web_fetch")
	assert.Contains(t, o.prompts[0], "[2] web_fetch")
	assert.False(t, store.Exists("g2"))
}

func TestIterationBudgetEndsSession(t *testing.T) {
	store := NewProgressStore(t.TempDir())
	reg := registry(t, fakeTool("web_fetch", func(map[string]any) (map[string]any, error) {
		return map[string]any{"ok": true}, nil
	}))
	loop := "TOOL: web_fetch\nARGS: {}"

	cfg := DefaultConfig()
	cfg.MaxIterations = 2
	o := &scripted{replies: say(loop, loop, loop)}
	res := New(cfg, Deps{Oracle: o, Tools: reg, Store: store}).Run(context.Background(), Goal{ID: "g3", Description: "long"})

	assert.Equal(t, StateExhausted, res.State)
	assert.Contains(t, res.Result, "iteration budget of 2")
	assert.Len(t, o.prompts, 2)
	assert.False(t, res.Paused)
	assert.False(t, store.Exists("g3"))
}

func TestResumeSpendsRemainingBudget(t *testing.T) {
	store := NewProgressStore(t.TempDir())
	require.NoError(t, store.Save("g3", []Observation{
		{Step: 1, Tool: "web_fetch", Result: map[string]any{"ok": true}},
		{Step: 2, Tool: "web_fetch", Result: map[string]any{"ok": true}},
	}))
	reg := registry(t, fakeTool("web_fetch", func(map[string]any) (map[string]any, error) {
		return map[string]any{"ok": true}, nil
	}))
	loop := "TOOL: web_fetch\nARGS: {}"
	progress := &progressLog{}

	cfg := DefaultConfig()
	cfg.MaxIterations = 3
	o := &scripted{replies: say(loop, loop, loop)}
	res := New(cfg, Deps{Oracle: o, Tools: reg, Store: store, Progress: progress}).
		Run(context.Background(), Goal{ID: "g3", Description: "long"})

	assert.Equal(t, StateExhausted, res.State)
	assert.True(t, res.Resumed)
	assert.Len(t, o.prompts, 1, "two of three iterations were spent before")
	assert.Equal(t, 1, res.Steps)
	require.Len(t, res.Observations, 3)
	assert.Equal(t, []int{53}, progress.values)
	assert.False(t, store.Exists("g3"))

	// a spent budget never reaches the oracle again
	require.NoError(t, store.Save("g3", res.Observations))
	o2 := &scripted{replies: say(loop)}
	res = New(cfg, Deps{Oracle: o2, Tools: reg, Store: store}).Run(context.Background(), Goal{ID: "g3", Description: "long"})
	assert.Equal(t, StateExhausted, res.State)
	assert.Empty(t, o2.prompts)
	assert.False(t, store.Exists("g3"))
}

func TestProgressFollowsIterations(t *testing.T) {
	reg := registry(t, fakeTool("web_fetch", func(map[string]any) (map[string]any, error) {
		return map[string]any{"ok": true}, nil
	}))
	o := &scripted{replies: []oracle.Result{
		oracle.Failure(errors.New("blip")),
		oracle.Success("TOOL: web_fetch\nARGS: {}"),
		oracle.Success("DONE: yes\nRESULT: ok"),
	}}
	progress := &progressLog{}

	res := New(DefaultConfig(), Deps{Oracle: o, Tools: reg, Progress: progress}).
		Run(context.Background(), Goal{ID: "g12", Description: "x"})

	require.Equal(t, StateComplete, res.State)
	assert.Equal(t, []int{42, 100}, progress.values)
}

func TestOraclePanicCountsAsOracleError(t *testing.T) {
	store := NewProgressStore(t.TempDir())
	mem, err := memory.Open("")
	require.NoError(t, err)

	calls := 0
	o := oracle.Func(func(context.Context, string, oracle.Options) oracle.Result {
		calls++
		if calls == 1 {
			return oracle.Success("TOOL: save_progress\nARGS: {}")
		}
		panic("client closed")
	})
	res := New(DefaultConfig(), Deps{Oracle: o, Store: store, Memory: mem}).
		Run(context.Background(), Goal{ID: "g13", Description: "x"})

	assert.Equal(t, StateExhausted, res.State)
	assert.Contains(t, res.Result, "oracle panicked")
	assert.Equal(t, 3, calls)
	assert.False(t, store.Exists("g13"))
	assert.Equal(t, 1, mem.Count(), "session summary stored")
}

func TestFormatErrorCap(t *testing.T) {
	o := &scripted{}
	store := NewProgressStore(t.TempDir())
	res := New(DefaultConfig(), Deps{Oracle: o, Store: store}).Run(context.Background(), Goal{ID: "g4", Description: "chatty"})

	assert.Equal(t, StateExhausted, res.State)
	assert.Equal(t, 3, res.Steps)
	require.Len(t, res.Observations, 3)
	for _, obs := range res.Observations {
		assert.Contains(t, obs.Thought, "FORMAT ERROR")
		assert.Empty(t, obs.Tool)
	}
	assert.Len(t, o.prompts, 3)
	assert.False(t, res.Paused)
	assert.False(t, store.Exists("g4"))
}

func TestUnknownToolIsFormatError(t *testing.T) {
	o := &scripted{replies: say(
		"TOOL: browser\nARGS: {}",
		"TOOL: browser\nARGS: {}",
		"TOOL: browser\nARGS: {}",
	)}
	res := New(DefaultConfig(), Deps{Oracle: o}).Run(context.Background(), Goal{ID: "g5", Description: "x"})
	assert.Equal(t, StateExhausted, res.State)
	require.Len(t, res.Observations, 3)
	assert.Contains(t, res.Observations[0].Thought, `Unknown tool "browser"`)
}

func TestConsecutiveOracleErrorsEndSession(t *testing.T) {
	fail := oracle.Failure(errors.New("rate limited"))
	o := &scripted{replies: []oracle.Result{fail, fail, oracle.Success("DONE: yes")}}
	res := New(DefaultConfig(), Deps{Oracle: o}).Run(context.Background(), Goal{ID: "g6", Description: "x"})

	assert.Equal(t, StateExhausted, res.State)
	assert.Equal(t, 2, res.Steps)
	assert.Contains(t, res.Result, "rate limited")
}

func TestSingleOracleErrorIsRecoverable(t *testing.T) {
	fail := oracle.Failure(errors.New("blip"))
	o := &scripted{replies: []oracle.Result{fail, oracle.Success("DONE: yes\nRESULT: fine")}}
	res := New(DefaultConfig(), Deps{Oracle: o}).Run(context.Background(), Goal{ID: "g7", Description: "x"})
	assert.Equal(t, StateComplete, res.State)
	assert.Equal(t, "fine", res.Result)
}

func TestToolErrorsAndPanicsBecomeObservations(t *testing.T) {
	reg := registry(t,
		fakeTool("flaky", func(map[string]any) (map[string]any, error) { return nil, errors.New("disk full") }),
		fakeTool("crashy", func(map[string]any) (map[string]any, error) { panic("nil map") }),
	)
	o := &scripted{replies: say("TOOL: flaky\nARGS: {}", "TOOL: Crashy\nARGS: {}", "DONE: yes")}
	res := New(DefaultConfig(), Deps{Oracle: o, Tools: reg}).Run(context.Background(), Goal{ID: "g8", Description: "x"})

	require.Equal(t, StateComplete, res.State)
	require.Len(t, res.Observations, 2)
	assert.Equal(t, "disk full", res.Observations[0].Result.(map[string]any)["error"])
	assert.Contains(t, res.Observations[1].Result.(map[string]any)["error"], "tool panicked")
	assert.Equal(t, "Goal completed after 2 steps.", res.Result)
}

func TestSessionTimeout(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	reg := registry(t, fakeTool("slow", func(map[string]any) (map[string]any, error) {
		now = now.Add(3 * time.Minute)
		return map[string]any{}, nil
	}))
	o := &scripted{replies: say("TOOL: slow\nARGS: {}", "TOOL: slow\nARGS: {}", "TOOL: slow\nARGS: {}")}
	store := NewProgressStore(t.TempDir())

	res := New(DefaultConfig(), Deps{Oracle: o, Tools: reg, Store: store, Now: clock}).
		Run(context.Background(), Goal{ID: "g9", Description: "x"})

	assert.Equal(t, StateTimedOut, res.State)
	assert.Equal(t, 2, res.Steps, "the overrunning second call still completes")
	assert.False(t, store.Exists("g9"))
}

func TestSaveProgressTool(t *testing.T) {
	store := NewProgressStore(t.TempDir())
	reg := registry(t, fakeTool("web_fetch", func(map[string]any) (map[string]any, error) {
		return map[string]any{"ok": true}, nil
	}))

	var sawFile bool
	o := &scripted{replies: say(
		"TOOL: web_fetch\nARGS: {}",
		"THINK: checkpoint\nTOOL: save_progress\nARGS: {}",
		"DONE: yes\nRESULT: done",
	)}
	o.onCall = func() {
		if len(o.prompts) == 3 {
			sawFile = store.Exists("g10")
		}
	}
	res := New(DefaultConfig(), Deps{Oracle: o, Tools: reg, Store: store}).
		Run(context.Background(), Goal{ID: "g10", Description: "x"})

	assert.True(t, sawFile, "progress persisted mid-session")
	assert.Equal(t, StateComplete, res.State)
	assert.Equal(t, []string{"web_fetch", "save_progress"}, res.ToolsUsed)
	assert.False(t, store.Exists("g10"), "completed sessions leave no file")
	assert.Contains(t, o.prompts[0], "save_progress")
}

func TestInterruptedSessionKeepsProgress(t *testing.T) {
	store := NewProgressStore(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	reg := registry(t, fakeTool("web_fetch", func(map[string]any) (map[string]any, error) {
		cancel()
		return map[string]any{}, nil
	}))
	o := &scripted{replies: say("TOOL: web_fetch\nARGS: {}")}

	res := New(DefaultConfig(), Deps{Oracle: o, Tools: reg, Store: store}).Run(ctx, Goal{ID: "g11", Description: "x"})
	assert.Equal(t, StateExhausted, res.State)
	assert.True(t, res.Paused)
	assert.True(t, store.Exists("g11"))
}

func TestStepProgress(t *testing.T) {
	assert.Equal(t, 31, stepProgress(1))
	assert.Equal(t, 42, stepProgress(2))
	assert.Equal(t, 75, stepProgress(5))
	assert.Equal(t, 82, stepProgress(6))
	assert.Equal(t, 82, stepProgress(40))
}

func TestProgressStorePaths(t *testing.T) {
	store := NewProgressStore(filepath.Join(t.TempDir(), "nested"))
	obs, err := store.Load("../escape")
	require.NoError(t, err)
	assert.Nil(t, obs)

	require.NoError(t, store.Save("../escape", []Observation{{Step: 1, Thought: "hi"}}))
	assert.Equal(t, filepath.Join(store.dir, "___escape.json"), store.path("../escape"))
	require.NoError(t, store.Delete("../escape"))
	require.NoError(t, store.Delete("../escape"))
}
