package sources

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fentz26/cadence/internal/models"
)

// CuriosityQueue holds open questions, oldest first.
type CuriosityQueue interface {
	PeekCuriosity(ctx context.Context) (*models.CuriosityItem, error)
	ResolveCuriosity(ctx context.Context, id string, answer string) error
}

// CuriositySource offers the head of the curiosity queue.
type CuriositySource struct {
	queue CuriosityQueue
}

func NewCuriositySource(q CuriosityQueue) *CuriositySource {
	return &CuriositySource{queue: q}
}

func (s *CuriositySource) Name() string { return "curiosity" }

func (s *CuriositySource) Peek(ctx context.Context, _ Env) (*models.Task, error) {
	item, err := s.queue.PeekCuriosity(ctx)
	if err != nil || item == nil {
		return nil, err
	}
	id := item.ID
	return &models.Task{
		Source:      s.Name(),
		Description: "Explore this question and answer it in a few sentences: " + item.Question,
		Context:     map[string]any{"id": id},
		OnComplete: func(ctx context.Context, result string) error {
			return s.queue.ResolveCuriosity(ctx, id, result)
		},
	}, nil
}

// LearningAgenda supplies study topics.
type LearningAgenda interface {
	NextTopic(ctx context.Context) (*models.LearningTopic, error)
	MarkTopicStudied(ctx context.Context, id string, notes string) error
}

// LearningSource offers an agenda item on every Nth poll of its own
// counter, independent of the scheduler cadence.
type LearningSource struct {
	agenda LearningAgenda
	every  int

	mu    sync.Mutex
	polls int
}

func NewLearningSource(agenda LearningAgenda, every int) *LearningSource {
	if every <= 0 {
		every = 3
	}
	return &LearningSource{agenda: agenda, every: every}
}

func (s *LearningSource) Name() string { return "learning" }

func (s *LearningSource) Peek(ctx context.Context, _ Env) (*models.Task, error) {
	s.mu.Lock()
	s.polls++
	fire := s.polls%s.every == 0
	s.mu.Unlock()
	if !fire {
		return nil, nil
	}

	topic, err := s.agenda.NextTopic(ctx)
	if err != nil || topic == nil {
		return nil, err
	}
	id := topic.ID
	return &models.Task{
		Source:      s.Name(),
		Description: "Study this topic and write down the three most useful things you learned: " + topic.Topic,
		Context:     map[string]any{"id": id},
		OnComplete: func(ctx context.Context, result string) error {
			return s.agenda.MarkTopicStudied(ctx, id, result)
		},
	}, nil
}

// SessionProbe reports whether an external user session is active.
type SessionProbe interface {
	SessionActive(ctx context.Context) bool
}

// ReflectionSource offers one reflection per night while a session is
// active. The night window wraps midnight when start > end.
type ReflectionSource struct {
	probe     SessionProbe
	startHour int
	endHour   int

	mu        sync.Mutex
	lastNight string
}

func NewReflectionSource(probe SessionProbe, startHour, endHour int) *ReflectionSource {
	return &ReflectionSource{probe: probe, startHour: startHour, endHour: endHour}
}

func (s *ReflectionSource) Name() string { return "reflection" }

// nightOf returns the date the night containing t started on, or "" when
// t is outside the window.
func (s *ReflectionSource) nightOf(t time.Time) string {
	h := t.Hour()
	if s.startHour <= s.endHour {
		if h >= s.startHour && h < s.endHour {
			return t.Format("2006-01-02")
		}
		return ""
	}
	switch {
	case h >= s.startHour:
		return t.Format("2006-01-02")
	case h < s.endHour:
		return t.AddDate(0, 0, -1).Format("2006-01-02")
	}
	return ""
}

func (s *ReflectionSource) Peek(ctx context.Context, env Env) (*models.Task, error) {
	night := s.nightOf(env.Now)
	if night == "" {
		return nil, nil
	}
	s.mu.Lock()
	done := s.lastNight == night
	s.mu.Unlock()
	if done || !s.probe.SessionActive(ctx) {
		return nil, nil
	}

	return &models.Task{
		Source:      s.Name(),
		Description: "Reflect on today's activity: what went well, what failed, and what to focus on tomorrow.",
		Context:     map[string]any{"id": night},
		OnStart: func(context.Context) error {
			s.mu.Lock()
			s.lastNight = night
			s.mu.Unlock()
			return nil
		},
	}, nil
}

// SkillGapSource looks for task keys that keep failing.
type SkillGapSource struct {
	every       int
	minFailures int
	minRatio    float64
}

func NewSkillGapSource(every int) *SkillGapSource {
	if every <= 0 {
		every = 20
	}
	return &SkillGapSource{every: every, minFailures: 3, minRatio: 0.5}
}

func (s *SkillGapSource) Name() string { return "skillgap" }

func (s *SkillGapSource) Peek(_ context.Context, env Env) (*models.Task, error) {
	if env.Tick <= 0 || env.Tick%s.every != 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(env.States))
	for k := range env.States {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var worst string
	var worstState models.TaskState
	for _, k := range keys {
		if strings.HasPrefix(k, s.Name()+":") {
			continue
		}
		st := env.States[k]
		if st.Failures < s.minFailures || st.FailureRatio() <= s.minRatio {
			continue
		}
		if worst == "" || st.FailureRatio() > worstState.FailureRatio() {
			worst, worstState = k, st
		}
	}
	if worst == "" {
		return nil, nil
	}

	desc := fmt.Sprintf(
		"Task %q failed %d of %d runs (last error: %s). Identify the missing skill or tool and suggest a concrete fix.",
		worst, worstState.Failures, worstState.Runs, worstState.LastError,
	)
	return &models.Task{
		Source:      s.Name(),
		Description: desc,
		Context:     map[string]any{"id": worst},
	}, nil
}

// Messenger delivers proactive messages to the user.
type Messenger interface {
	Send(ctx context.Context, text string) error
}

// ProactiveSource drafts a message after a run of idle cycles.
type ProactiveSource struct {
	messenger Messenger
	every     int
}

func NewProactiveSource(m Messenger, every int) *ProactiveSource {
	if every <= 0 {
		every = 5
	}
	return &ProactiveSource{messenger: m, every: every}
}

func (s *ProactiveSource) Name() string { return "proactive" }

func (s *ProactiveSource) Peek(_ context.Context, env Env) (*models.Task, error) {
	if env.IdleCycles == 0 || env.IdleCycles%s.every != 0 {
		return nil, nil
	}
	return &models.Task{
		Source:      s.Name(),
		Description: "Nothing is scheduled right now. Write one short, genuinely useful message for the user: a reminder, a suggestion, or a follow-up.",
		Context:     map[string]any{"id": env.IdleCycles},
		OnComplete: func(ctx context.Context, result string) error {
			return s.messenger.Send(ctx, result)
		},
	}, nil
}
