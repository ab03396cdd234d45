// Package executor runs goal sessions as a reason-act-observe loop: the
// oracle picks a tool, the tool runs, and its observation feeds the next
// prompt until the oracle declares the goal done or a budget runs out.
//
// The iteration budget spans invocations: a progress file saved by the
// save_progress tool or by an interrupted session seeds the next
// invocation, which continues counting from the saved observations.
package executor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/fentz26/cadence/internal/memory"
	"github.com/fentz26/cadence/internal/oracle"
	"github.com/fentz26/cadence/internal/tools"
)

// State is the terminal state of a session.
type State string

const (
	StateComplete  State = "complete"
	StateExhausted State = "exhausted"
	StateTimedOut  State = "timed_out"
)

// Config bounds a session.
type Config struct {
	MaxIterations   int           `yaml:"max_iterations"`
	SessionTimeout  time.Duration `yaml:"session_timeout"`
	MemoryLimit     int           `yaml:"memory_limit"`
	MemoryThreshold float64       `yaml:"memory_threshold"`
	MaxFormatErrors int           `yaml:"max_format_errors"`
	MaxOracleErrors int           `yaml:"max_oracle_errors"`
	PreviewChars    int           `yaml:"preview_chars"`
}

// DefaultConfig returns the default session bounds.
func DefaultConfig() Config {
	return Config{
		MaxIterations:   15,
		SessionTimeout:  5 * time.Minute,
		MemoryLimit:     3,
		MemoryThreshold: 0.30,
		MaxFormatErrors: 3,
		MaxOracleErrors: 2,
		PreviewChars:    500,
	}
}

// Memory is the long-term memory used to prime and summarize sessions.
type Memory interface {
	Recall(ctx context.Context, query string, limit int, threshold float64) ([]memory.Memory, error)
	Remember(ctx context.Context, content string, tags ...string) (string, error)
}

// ProgressReporter receives incremental goal progress (0-100).
type ProgressReporter interface {
	ReportProgress(ctx context.Context, goalID string, progress int) error
}

// Deps are the executor's collaborators. Memory and Progress are optional.
type Deps struct {
	Oracle   oracle.Oracle
	Tools    *tools.Registry
	Memory   Memory
	Progress ProgressReporter
	Store    *ProgressStore
	Logger   *slog.Logger
	Now      func() time.Time
}

// Goal identifies the work of a session.
type Goal struct {
	ID          string
	Description string
}

// SessionResult describes how a session ended.
type SessionResult struct {
	GoalID       string        `json:"goal_id"`
	State        State         `json:"state"`
	Result       string        `json:"result"`
	Steps        int           `json:"steps"`
	ToolsUsed    []string      `json:"tools_used"`
	Observations []Observation `json:"observations"`
	Resumed      bool          `json:"resumed"`
	// Paused is set when an interrupted session saved its observations
	// for the next invocation.
	Paused bool `json:"paused"`
}

// Executor runs goal sessions. It is not safe for concurrent sessions on
// the same goal.
type Executor struct {
	cfg  Config
	deps Deps
}

// New creates an executor, filling unset config fields with defaults.
func New(cfg Config, deps Deps) *Executor {
	def := DefaultConfig()
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = def.MaxIterations
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = def.SessionTimeout
	}
	if cfg.MemoryLimit <= 0 {
		cfg.MemoryLimit = def.MemoryLimit
	}
	if cfg.MemoryThreshold <= 0 {
		cfg.MemoryThreshold = def.MemoryThreshold
	}
	if cfg.MaxFormatErrors <= 0 {
		cfg.MaxFormatErrors = def.MaxFormatErrors
	}
	if cfg.MaxOracleErrors <= 0 {
		cfg.MaxOracleErrors = def.MaxOracleErrors
	}
	if cfg.PreviewChars <= 0 {
		cfg.PreviewChars = def.PreviewChars
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Tools == nil {
		deps.Tools, _ = tools.NewRegistry()
	}
	return &Executor{cfg: cfg, deps: deps}
}

// stepProgress is the goal progress reported after a tool step. It grows
// with the iteration number and stays below completion.
func stepProgress(iteration int) int {
	return min(20+iteration*11, 82)
}

type session struct {
	goal Goal
	obs  []Observation
	// iteration counts oracle turns across invocations; a resumed session
	// starts at the number of saved observations.
	iteration    int
	toolsUsed    []string
	formatErrors int
	oracleErrors int
	steps        int
}

func (s *session) add(o Observation) {
	o.Step = len(s.obs) + 1
	s.obs = append(s.obs, o)
}

func (s *session) used(name string) {
	for _, t := range s.toolsUsed {
		if t == name {
			return
		}
	}
	s.toolsUsed = append(s.toolsUsed, name)
}

// Run executes one session for goal. It never returns an error: every
// failure is folded into the terminal state.
func (e *Executor) Run(ctx context.Context, goal Goal) SessionResult {
	start := e.deps.Now()
	log := e.deps.Logger.With("goal_id", goal.ID)
	s := &session{goal: goal}

	memories := e.recall(ctx, goal)
	if e.deps.Store != nil {
		saved, err := e.deps.Store.Load(goal.ID)
		if err != nil {
			log.Warn("progress file unreadable, starting fresh", "error", err)
		}
		s.obs = saved
	}
	s.iteration = len(s.obs)
	resumed := len(s.obs) > 0
	if resumed {
		log.Info("resuming goal session", "observations", len(s.obs))
	}

	state, result, keep := e.loop(ctx, s, memories, start, log)

	res := SessionResult{
		GoalID:       goal.ID,
		State:        state,
		Result:       result,
		Steps:        s.steps,
		ToolsUsed:    s.toolsUsed,
		Observations: s.obs,
		Resumed:      resumed,
	}
	if res.ToolsUsed == nil {
		res.ToolsUsed = []string{}
	}

	e.finish(ctx, s, &res, keep, log)
	return res
}

// loop returns the terminal state, its result text, and whether the
// observations should be kept for a later session.
func (e *Executor) loop(ctx context.Context, s *session, memories []memory.Memory, start time.Time, log *slog.Logger) (State, string, bool) {
	manifest := append(e.deps.Tools.Manifest(), saveProgressSpec)

	for s.iteration < e.cfg.MaxIterations {
		if e.deps.Now().Sub(start) >= e.cfg.SessionTimeout {
			return StateTimedOut, fmt.Sprintf("session timed out after %s", e.cfg.SessionTimeout), false
		}
		if ctx.Err() != nil {
			return StateExhausted, "session interrupted", true
		}
		s.iteration++
		s.steps++

		prompt := buildPrompt(s.goal, memories, s.obs, manifest, e.cfg.PreviewChars)
		reply := e.reason(ctx, prompt, oracle.Options{
			Source:         "executor",
			Context:        map[string]any{"goal_id": s.goal.ID},
			SystemOverride: systemPrompt,
		})
		if !reply.OK {
			s.oracleErrors++
			log.Warn("oracle call failed", "consecutive", s.oracleErrors, "error", reply.Error)
			if s.oracleErrors >= e.cfg.MaxOracleErrors {
				return StateExhausted, "oracle unavailable: " + reply.Error, false
			}
			continue
		}
		s.oracleErrors = 0

		act := parseResponse(reply.Text)
		switch act.kind {
		case actionDone:
			if act.result == "" {
				act.result = fmt.Sprintf("Goal completed after %d steps.", len(s.obs))
			}
			return StateComplete, act.result, false

		case actionTool:
			if tools.Normalize(act.tool) == tools.Normalize(saveProgressName) {
				e.saveProgress(ctx, s, act, log)
				continue
			}
			tool, ok := e.deps.Tools.Lookup(act.tool)
			if !ok {
				if e.formatError(s, fmt.Sprintf("Unknown tool %q. %s", act.tool, correction)) {
					return StateExhausted, "too many format errors", false
				}
				continue
			}
			out := e.execute(ctx, tool, act.args)
			s.add(Observation{Tool: tool.Name(), Args: act.args, Result: out, Thought: act.thought})
			s.used(tool.Name())
			log.Debug("tool step", "iteration", s.iteration, "tool", tool.Name())
			e.report(ctx, s.goal.ID, stepProgress(s.iteration), log)

		default:
			if e.formatError(s, correction) {
				return StateExhausted, "too many format errors", false
			}
		}
	}
	return StateExhausted, fmt.Sprintf("iteration budget of %d exhausted", e.cfg.MaxIterations), false
}

// reason calls the oracle, turning a panic into a failed result so it
// counts like any other oracle error.
func (e *Executor) reason(ctx context.Context, prompt string, opts oracle.Options) (res oracle.Result) {
	defer func() {
		if r := recover(); r != nil {
			res = oracle.Failure(fmt.Errorf("oracle panicked: %v", r))
		}
	}()
	return e.deps.Oracle.Reason(ctx, prompt, opts)
}

// formatError records a corrective observation and reports whether the
// session has hit its format-error cap.
func (e *Executor) formatError(s *session, msg string) bool {
	s.formatErrors++
	s.add(Observation{Thought: msg})
	return s.formatErrors >= e.cfg.MaxFormatErrors
}

func (e *Executor) saveProgress(ctx context.Context, s *session, act action, log *slog.Logger) {
	result := map[string]any{"saved": len(s.obs) + 1}
	s.add(Observation{Tool: saveProgressName, Args: act.args, Result: result, Thought: act.thought})
	s.used(saveProgressName)
	if e.deps.Store == nil {
		return
	}
	if err := e.deps.Store.Save(s.goal.ID, s.obs); err != nil {
		log.Warn("save progress failed", "error", err)
		s.obs[len(s.obs)-1].Result = map[string]any{"error": err.Error()}
		return
	}
	e.report(ctx, s.goal.ID, stepProgress(s.iteration), log)
}

// execute runs a tool, converting errors and panics into an error-shaped
// observation.
func (e *Executor) execute(ctx context.Context, tool tools.Tool, args map[string]any) (out map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			out = map[string]any{"error": fmt.Sprintf("tool panicked: %v", r)}
		}
	}()
	res, err := tool.Execute(ctx, args)
	if err != nil {
		if res == nil {
			res = map[string]any{}
		}
		res["error"] = err.Error()
	}
	if res == nil {
		res = map[string]any{}
	}
	return res
}

func (e *Executor) recall(ctx context.Context, goal Goal) []memory.Memory {
	if e.deps.Memory == nil {
		return nil
	}
	found, err := e.deps.Memory.Recall(ctx, goal.Description, e.cfg.MemoryLimit, e.cfg.MemoryThreshold)
	if err != nil {
		e.deps.Logger.Warn("memory recall failed", "goal_id", goal.ID, "error", err)
		return nil
	}
	return found
}

func (e *Executor) report(ctx context.Context, goalID string, progress int, log *slog.Logger) {
	if e.deps.Progress == nil {
		return
	}
	if err := e.deps.Progress.ReportProgress(ctx, goalID, progress); err != nil {
		log.Warn("progress report failed", "progress", progress, "error", err)
	}
}

// finish handles the progress file, the final progress report and the
// session summary.
func (e *Executor) finish(ctx context.Context, s *session, res *SessionResult, keep bool, log *slog.Logger) {
	// shutdown may have cancelled ctx; the bookkeeping still has to land
	ctx = context.WithoutCancel(ctx)

	if e.deps.Store != nil {
		var err error
		if keep && len(s.obs) > 0 {
			err = e.deps.Store.Save(s.goal.ID, s.obs)
			res.Paused = err == nil
		} else {
			err = e.deps.Store.Delete(s.goal.ID)
		}
		if err != nil {
			log.Warn("progress file update failed", "error", err)
		}
	}

	if res.State == StateComplete {
		e.report(ctx, s.goal.ID, 100, log)
	}

	summary := summarize(s.goal, res)
	if e.deps.Memory != nil {
		if _, err := e.deps.Memory.Remember(ctx, summary, "session", s.goal.ID); err != nil {
			log.Warn("session summary not stored", "error", err)
		}
	}
	log.Info("goal session finished", "state", res.State, "steps", res.Steps, "tools", len(res.ToolsUsed))
}

func summarize(goal Goal, res *SessionResult) string {
	toolList := "no tools"
	if len(res.ToolsUsed) > 0 {
		toolList = strings.Join(res.ToolsUsed, ", ")
	}
	return fmt.Sprintf("Goal %q ended %s after %d steps using %s: %s",
		goal.Description, res.State, len(res.Observations), toolList, res.Result)
}
