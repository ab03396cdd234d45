// Package drive implements the tension/urgency/satisfaction model that
// modulates goal selection. State lives in memory only and starts fresh
// with every process.
package drive

import (
	"math"
	"sync"
	"time"

	"github.com/fentz26/cadence/internal/models"
)

// Config tunes the drive model.
type Config struct {
	IdleTension         float64 `yaml:"idle_tension"`
	IdleSatisfaction    float64 `yaml:"idle_satisfaction"`
	TaskTensionDecay    float64 `yaml:"task_tension_decay"`
	TaskSatisfaction    float64 `yaml:"task_satisfaction"`
	GoalReward          float64 `yaml:"goal_reward"`
	GoalTensionRelief   float64 `yaml:"goal_tension_relief"`
	UrgencyPerHour      float64 `yaml:"urgency_per_hour"`
	UrgencyCap          float64 `yaml:"urgency_cap"`
	ConfidenceMin       float64 `yaml:"confidence_min"`
	UrgentTension       float64 `yaml:"urgent_tension"`
	InitialSatisfaction float64 `yaml:"initial_satisfaction"`
}

// DefaultConfig returns the default drive tuning.
func DefaultConfig() Config {
	return Config{
		IdleTension:         0.05,
		IdleSatisfaction:    0.02,
		TaskTensionDecay:    0.8,
		TaskSatisfaction:    0.05,
		GoalReward:          0.3,
		GoalTensionRelief:   0.2,
		UrgencyPerHour:      0.5,
		UrgencyCap:          30,
		ConfidenceMin:       0.25,
		UrgentTension:       0.8,
		InitialSatisfaction: 0.5,
	}
}

// State is a point-in-time view of the model.
type State struct {
	Tension      float64            `json:"tension"`
	Satisfaction float64            `json:"satisfaction"`
	Boosts       map[string]float64 `json:"urgency_boosts"`
}

// Model is safe for concurrent use; the scheduler is its only writer.
type Model struct {
	cfg Config

	mu           sync.Mutex
	tension      float64
	satisfaction float64
	boosts       map[string]float64
}

// New creates a model in its resting state.
func New(cfg Config) *Model {
	return &Model{
		cfg:          cfg,
		satisfaction: clamp(cfg.InitialSatisfaction),
		boosts:       make(map[string]float64),
	}
}

// Idle accumulates tension after a tick with no work.
func (m *Model) Idle() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tension = clamp(m.tension + m.cfg.IdleTension)
	m.satisfaction = clamp(m.satisfaction - m.cfg.IdleSatisfaction)
}

// TaskExecuted decays tension after a successful task.
func (m *Model) TaskExecuted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tension = clamp(m.tension * m.cfg.TaskTensionDecay)
	m.satisfaction = clamp(m.satisfaction + m.cfg.TaskSatisfaction)
}

// GoalCompleted applies the reward pulse and clears the goal's boost.
func (m *Model) GoalCompleted(goalID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.satisfaction = clamp(m.satisfaction + m.cfg.GoalReward)
	m.tension = clamp(m.tension - m.cfg.GoalTensionRelief)
	delete(m.boosts, goalID)
}

// UrgencyBoost grows with how long the goal has gone untouched and is
// amplified by current tension.
func (m *Model) UrgencyBoost(goal models.Goal, now time.Time) float64 {
	stale := now.Sub(goal.UpdatedAt).Hours()
	if stale < 0 {
		stale = 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	boost := math.Min(m.cfg.UrgencyCap, stale*m.cfg.UrgencyPerHour) * (1 + m.tension)
	if boost > 0 {
		m.boosts[goal.ID] = boost
	} else {
		delete(m.boosts, goal.ID)
	}
	return boost
}

// ConfidenceMet reports whether the model is willing to work on goal.
func (m *Model) ConfidenceMet(goal models.Goal) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	confidence := float64(goal.Priority)/100 + m.satisfaction*0.5
	return confidence >= m.cfg.ConfidenceMin
}

// SystemUrgent reports whether tension is high enough to bypass the
// confidence gate.
func (m *Model) SystemUrgent() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tension >= m.cfg.UrgentTension
}

// State returns a copy of the current values.
func (m *Model) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	boosts := make(map[string]float64, len(m.boosts))
	for k, v := range m.boosts {
		boosts[k] = v
	}
	return State{Tension: m.tension, Satisfaction: m.satisfaction, Boosts: boosts}
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
