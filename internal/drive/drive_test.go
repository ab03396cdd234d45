package drive

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fentz26/cadence/internal/models"
)

func TestIdleAccumulatesTension(t *testing.T) {
	m := New(DefaultConfig())
	for i := 0; i < 10; i++ {
		m.Idle()
	}
	st := m.State()
	assert.InDelta(t, 0.5, st.Tension, 1e-9)
	assert.InDelta(t, 0.3, st.Satisfaction, 1e-9)
	assert.False(t, m.SystemUrgent())

	for i := 0; i < 15; i++ {
		m.Idle()
	}
	assert.True(t, m.SystemUrgent())
	assert.Equal(t, 1.0, m.State().Tension, "tension is clamped")
}

func TestTaskExecutedDecays(t *testing.T) {
	m := New(DefaultConfig())
	for i := 0; i < 10; i++ {
		m.Idle()
	}
	m.TaskExecuted()
	assert.InDelta(t, 0.4, m.State().Tension, 1e-9)
}

func TestGoalCompletedReward(t *testing.T) {
	m := New(DefaultConfig())
	now := time.Now()
	g := models.Goal{ID: "g1", UpdatedAt: now.Add(-4 * time.Hour)}

	assert.InDelta(t, 2.0, m.UrgencyBoost(g, now), 1e-9)
	assert.Contains(t, m.State().Boosts, "g1")

	m.GoalCompleted("g1")
	st := m.State()
	assert.InDelta(t, 0.8, st.Satisfaction, 1e-9)
	assert.NotContains(t, st.Boosts, "g1")
}

func TestUrgencyBoostCapAndTension(t *testing.T) {
	m := New(DefaultConfig())
	now := time.Now()
	old := models.Goal{ID: "old", UpdatedAt: now.Add(-1000 * time.Hour)}
	assert.InDelta(t, 30, m.UrgencyBoost(old, now), 1e-9)

	for i := 0; i < 10; i++ {
		m.Idle()
	}
	assert.InDelta(t, 45, m.UrgencyBoost(old, now), 1e-9)

	fresh := models.Goal{ID: "fresh", UpdatedAt: now}
	assert.Zero(t, m.UrgencyBoost(fresh, now))
}

func TestConfidenceGate(t *testing.T) {
	m := New(DefaultConfig())
	low := models.Goal{Priority: 0}
	assert.True(t, m.ConfidenceMet(low))

	m.Idle()
	assert.False(t, m.ConfidenceMet(low))
	assert.True(t, m.ConfidenceMet(models.Goal{Priority: 10}))
}
