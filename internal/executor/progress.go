package executor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"
)

// Observation is one step of a goal session.
type Observation struct {
	Step    int            `json:"step"`
	Tool    string         `json:"tool,omitempty"`
	Args    map[string]any `json:"args,omitempty"`
	Result  any            `json:"result,omitempty"`
	Thought string         `json:"thought,omitempty"`
}

type progressFile struct {
	GoalID       string        `json:"goal_id"`
	SavedAt      time.Time     `json:"saved_at"`
	Observations []Observation `json:"observations"`
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// ProgressStore keeps one resumable progress file per goal.
type ProgressStore struct {
	dir string
}

// NewProgressStore stores files under dir.
func NewProgressStore(dir string) *ProgressStore {
	return &ProgressStore{dir: dir}
}

func (p *ProgressStore) path(goalID string) string {
	return filepath.Join(p.dir, unsafeName.ReplaceAllString(goalID, "_")+".json")
}

// Load returns saved observations, or nil when there is no file.
func (p *ProgressStore) Load(goalID string) ([]Observation, error) {
	data, err := os.ReadFile(p.path(goalID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read progress: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var f progressFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode progress: %w", err)
	}
	return f.Observations, nil
}

// Save rewrites the goal's progress file.
func (p *ProgressStore) Save(goalID string, obs []Observation) error {
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return fmt.Errorf("create progress directory: %w", err)
	}
	data, err := json.MarshalIndent(progressFile{GoalID: goalID, SavedAt: time.Now().UTC(), Observations: obs}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode progress: %w", err)
	}
	path := p.path(goalID)
	if err := os.WriteFile(path+".tmp", data, 0o644); err != nil {
		return fmt.Errorf("write progress: %w", err)
	}
	if err := os.Rename(path+".tmp", path); err != nil {
		return fmt.Errorf("replace progress: %w", err)
	}
	return nil
}

// Delete removes the goal's progress file if present.
func (p *ProgressStore) Delete(goalID string) error {
	err := os.Remove(p.path(goalID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete progress: %w", err)
	}
	return nil
}

// Exists reports whether a progress file is present.
func (p *ProgressStore) Exists(goalID string) bool {
	_, err := os.Stat(p.path(goalID))
	return err == nil
}
