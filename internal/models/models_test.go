package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaskKey(t *testing.T) {
	tests := []struct {
		name string
		task Task
		want string
	}{
		{
			name: "goal id wins",
			task: Task{Source: "goals", Description: "x", Context: map[string]any{"goal_id": "g1", "id": 7}},
			want: "goals:g1",
		},
		{
			name: "context id",
			task: Task{Source: "curiosity", Description: "x", Context: map[string]any{"id": 7}},
			want: "curiosity:7",
		},
		{
			name: "description prefix",
			task: Task{Source: "learning", Description: "study the history of the printing press in early modern Europe"},
			want: "learning:study the history of the printing press ",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.task.Key())
		})
	}
}

func TestTaskStateFailureRatio(t *testing.T) {
	assert.Zero(t, TaskState{}.FailureRatio())
	assert.InDelta(t, 0.75, TaskState{Runs: 4, Failures: 3}.FailureRatio(), 1e-9)
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "héll", Truncate("héllo", 4))
	assert.Equal(t, "hi", Truncate("hi", 4))
}
