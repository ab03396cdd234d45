package sources

import (
	"context"
	"fmt"
	"time"

	"github.com/fentz26/cadence/internal/models"
)

// GoalStore is the goal-planning store consulted by GoalSource.
type GoalStore interface {
	// ActiveGoals returns pending and active goals in registration order.
	ActiveGoals(ctx context.Context) ([]models.Goal, error)
	ActivateGoal(ctx context.Context, id string) error
	ReportProgress(ctx context.Context, id string, progress int) error
	CompleteGoal(ctx context.Context, id string, result string) error
}

// Drive is the part of the drive model used for goal selection.
type Drive interface {
	UrgencyBoost(goal models.Goal, now time.Time) float64
	ConfidenceMet(goal models.Goal) bool
	SystemUrgent() bool
}

// freshBonus favors goals that have barely started.
const freshBonus = 20

// Score ranks a goal for selection.
func Score(goal models.Goal, urgency float64) float64 {
	score := float64(goal.Priority) + urgency
	if goal.Progress < 20 {
		score += freshBonus
	}
	return score
}

// GoalSource offers the highest-scoring eligible goal.
type GoalSource struct {
	store GoalStore
	drive Drive
}

// NewGoalSource creates the goal source.
func NewGoalSource(store GoalStore, drive Drive) *GoalSource {
	return &GoalSource{store: store, drive: drive}
}

func (s *GoalSource) Name() string { return "goals" }

// Select returns the winning goal and its score. Ties keep the earlier
// registered goal.
func (s *GoalSource) Select(goals []models.Goal, now time.Time) (*models.Goal, float64) {
	bypass := s.drive.SystemUrgent()
	var best *models.Goal
	var bestScore float64
	for i := range goals {
		g := goals[i]
		if g.Status == models.GoalStatusCompleted {
			continue
		}
		if !bypass && !s.drive.ConfidenceMet(g) {
			continue
		}
		score := Score(g, s.drive.UrgencyBoost(g, now))
		if best == nil || score > bestScore {
			best, bestScore = &goals[i], score
		}
	}
	return best, bestScore
}

func (s *GoalSource) Peek(ctx context.Context, env Env) (*models.Task, error) {
	goals, err := s.store.ActiveGoals(ctx)
	if err != nil {
		return nil, fmt.Errorf("list goals: %w", err)
	}
	goal, score := s.Select(goals, env.Now)
	if goal == nil {
		return nil, nil
	}

	g := *goal
	desc := g.Title
	if g.Description != "" {
		desc = g.Title + ": " + g.Description
	}
	return &models.Task{
		Source:      s.Name(),
		Description: desc,
		Context: map[string]any{
			"goal_id":  g.ID,
			"priority": g.Priority,
			"progress": g.Progress,
			"score":    score,
		},
		OnStart: func(ctx context.Context) error {
			if g.Status != models.GoalStatusPending {
				return nil
			}
			return s.store.ActivateGoal(ctx, g.ID)
		},
		OnComplete: func(ctx context.Context, result string) error {
			return s.store.CompleteGoal(ctx, g.ID, result)
		},
	}, nil
}
