// Package store provides SQLite-backed persistence for goals, the curiosity
// queue, the learning agenda and decision records.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/fentz26/cadence/internal/models"
)

// ErrNotFound is returned when a row addressed by id does not exist.
var ErrNotFound = errors.New("not found")

// Store provides access to the cadence SQLite database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a new Store and runs migrations.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// WAL so the API can read while the heartbeat writes
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports one writer at a time
	db.SetMaxIdleConns(1)

	s := &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate runs idempotent schema migrations.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS goals (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT,
		priority INTEGER NOT NULL DEFAULT 50,
		progress INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		result TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS curiosity_items (
		id TEXT PRIMARY KEY,
		question TEXT NOT NULL,
		answer TEXT,
		created_at DATETIME NOT NULL,
		resolved_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS learning_topics (
		id TEXT PRIMARY KEY,
		topic TEXT NOT NULL,
		notes TEXT,
		study_count INTEGER NOT NULL DEFAULT 0,
		studied_at DATETIME,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pdr (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		inputs_hash TEXT NOT NULL,
		outcome TEXT NOT NULL,
		task_key TEXT,
		details TEXT,
		timestamp DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_goals_status ON goals(status);
	CREATE INDEX IF NOT EXISTS idx_curiosity_resolved ON curiosity_items(resolved_at);
	CREATE INDEX IF NOT EXISTS idx_pdr_timestamp ON pdr(timestamp);
	`

	_, err := s.db.Exec(schema)
	return err
}

// --- Goal Operations ---

const goalColumns = `id, title, description, priority, progress, status, created_at, updated_at`

func scanGoal(row interface{ Scan(...any) error }) (models.Goal, error) {
	var g models.Goal
	var desc sql.NullString
	err := row.Scan(&g.ID, &g.Title, &desc, &g.Priority, &g.Progress, &g.Status, &g.CreatedAt, &g.UpdatedAt)
	g.Description = desc.String
	return g, err
}

// CreateGoal inserts a pending goal. Priority is clamped to 0-100.
func (s *Store) CreateGoal(ctx context.Context, title, description string, priority int) (*models.Goal, error) {
	if strings.TrimSpace(title) == "" {
		return nil, errors.New("goal title is required")
	}
	now := s.now()
	goal := &models.Goal{
		ID:          uuid.New().String(),
		Title:       title,
		Description: description,
		Priority:    max(0, min(priority, 100)),
		Status:      models.GoalStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO goals (id, title, description, priority, progress, status, created_at, updated_at) VALUES (?, ?, ?, ?, 0, ?, ?, ?)`,
		goal.ID, goal.Title, goal.Description, goal.Priority, goal.Status, goal.CreatedAt, goal.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert goal: %w", err)
	}
	return goal, nil
}

// GetGoal retrieves a goal by ID.
func (s *Store) GetGoal(ctx context.Context, id string) (*models.Goal, error) {
	g, err := scanGoal(s.db.QueryRowContext(ctx, `SELECT `+goalColumns+` FROM goals WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("goal %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query goal: %w", err)
	}
	return &g, nil
}

// ListGoals returns goals, optionally filtered by status, oldest first.
func (s *Store) ListGoals(ctx context.Context, status models.GoalStatus) ([]models.Goal, error) {
	query := `SELECT ` + goalColumns + ` FROM goals`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at, rowid`
	return s.queryGoals(ctx, query, args...)
}

// ActiveGoals returns pending and active goals in registration order.
func (s *Store) ActiveGoals(ctx context.Context) ([]models.Goal, error) {
	return s.queryGoals(ctx,
		`SELECT `+goalColumns+` FROM goals WHERE status IN (?, ?) ORDER BY created_at, rowid`,
		models.GoalStatusPending, models.GoalStatusActive)
}

func (s *Store) queryGoals(ctx context.Context, query string, args ...any) ([]models.Goal, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query goals: %w", err)
	}
	defer rows.Close()

	var goals []models.Goal
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan goal: %w", err)
		}
		goals = append(goals, g)
	}
	return goals, rows.Err()
}

// ActivateGoal moves a pending goal to active. Other states are left alone.
func (s *Store) ActivateGoal(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE goals SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		models.GoalStatusActive, s.now(), id, models.GoalStatusPending,
	)
	if err != nil {
		return fmt.Errorf("activate goal: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetGoal(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// ReportProgress records progress for a goal. Progress never moves
// backwards and is capped at 100.
func (s *Store) ReportProgress(ctx context.Context, id string, progress int) error {
	progress = max(0, min(progress, 100))
	res, err := s.db.ExecContext(ctx,
		`UPDATE goals SET progress = MAX(progress, ?), updated_at = ? WHERE id = ?`,
		progress, s.now(), id,
	)
	if err != nil {
		return fmt.Errorf("report progress: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("goal %s: %w", id, ErrNotFound)
	}
	return nil
}

// CompleteGoal marks a goal completed with its result.
func (s *Store) CompleteGoal(ctx context.Context, id, result string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE goals SET status = ?, progress = 100, result = ?, updated_at = ? WHERE id = ?`,
		models.GoalStatusCompleted, result, s.now(), id,
	)
	if err != nil {
		return fmt.Errorf("complete goal: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("goal %s: %w", id, ErrNotFound)
	}
	return nil
}

// --- Curiosity Operations ---

// AddCuriosity queues a question.
func (s *Store) AddCuriosity(ctx context.Context, question string) (*models.CuriosityItem, error) {
	if strings.TrimSpace(question) == "" {
		return nil, errors.New("question is required")
	}
	item := &models.CuriosityItem{
		ID:        uuid.New().String(),
		Question:  question,
		CreatedAt: s.now(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO curiosity_items (id, question, created_at) VALUES (?, ?, ?)`,
		item.ID, item.Question, item.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert curiosity: %w", err)
	}
	return item, nil
}

// PeekCuriosity returns the oldest unresolved question, or nil.
func (s *Store) PeekCuriosity(ctx context.Context) (*models.CuriosityItem, error) {
	item := &models.CuriosityItem{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, question, created_at FROM curiosity_items WHERE resolved_at IS NULL ORDER BY created_at, rowid LIMIT 1`,
	).Scan(&item.ID, &item.Question, &item.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query curiosity: %w", err)
	}
	return item, nil
}

// PendingCuriosity counts unresolved questions.
func (s *Store) PendingCuriosity(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM curiosity_items WHERE resolved_at IS NULL`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count curiosity: %w", err)
	}
	return n, nil
}

// ResolveCuriosity stores the answer and removes the item from the queue.
func (s *Store) ResolveCuriosity(ctx context.Context, id, answer string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE curiosity_items SET answer = ?, resolved_at = ? WHERE id = ?`,
		answer, s.now(), id,
	)
	if err != nil {
		return fmt.Errorf("resolve curiosity: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("curiosity %s: %w", id, ErrNotFound)
	}
	return nil
}

// --- Learning Agenda Operations ---

// AddTopic puts a topic on the learning agenda.
func (s *Store) AddTopic(ctx context.Context, topic string) (*models.LearningTopic, error) {
	if strings.TrimSpace(topic) == "" {
		return nil, errors.New("topic is required")
	}
	t := &models.LearningTopic{
		ID:        uuid.New().String(),
		Topic:     topic,
		CreatedAt: s.now(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO learning_topics (id, topic, created_at) VALUES (?, ?, ?)`,
		t.ID, t.Topic, t.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert topic: %w", err)
	}
	return t, nil
}

// NextTopic returns the least recently studied topic; never-studied topics
// come first, oldest first.
func (s *Store) NextTopic(ctx context.Context) (*models.LearningTopic, error) {
	t := &models.LearningTopic{}
	var studied sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, topic, study_count, studied_at, created_at FROM learning_topics
		 ORDER BY studied_at IS NOT NULL, studied_at, created_at, rowid LIMIT 1`,
	).Scan(&t.ID, &t.Topic, &t.StudyCount, &studied, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query topic: %w", err)
	}
	if studied.Valid {
		t.StudiedAt = &studied.Time
	}
	return t, nil
}

// MarkTopicStudied records a study session for a topic.
func (s *Store) MarkTopicStudied(ctx context.Context, id, notes string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE learning_topics SET study_count = study_count + 1, studied_at = ?, notes = ? WHERE id = ?`,
		s.now(), notes, id,
	)
	if err != nil {
		return fmt.Errorf("mark topic studied: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("topic %s: %w", id, ErrNotFound)
	}
	return nil
}

// --- PDR Operations ---

// WritePDR writes a Process Decision Record.
func (s *Store) WritePDR(ctx context.Context, action, inputsHash, outcome, taskKey, details string) (*models.PDREntry, error) {
	pdr := &models.PDREntry{
		ID:         uuid.New().String(),
		Action:     action,
		InputsHash: inputsHash,
		Outcome:    outcome,
		TaskKey:    taskKey,
		Details:    details,
		Timestamp:  s.now(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pdr (id, action, inputs_hash, outcome, task_key, details, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		pdr.ID, pdr.Action, pdr.InputsHash, pdr.Outcome, pdr.TaskKey, pdr.Details, pdr.Timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert pdr: %w", err)
	}
	return pdr, nil
}

// ListPDR returns the newest decision records first.
func (s *Store) ListPDR(ctx context.Context, limit int) ([]models.PDREntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, action, inputs_hash, outcome, task_key, details, timestamp FROM pdr ORDER BY timestamp DESC, rowid DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query pdr: %w", err)
	}
	defer rows.Close()

	var entries []models.PDREntry
	for rows.Next() {
		var e models.PDREntry
		var key, details sql.NullString
		if err := rows.Scan(&e.ID, &e.Action, &e.InputsHash, &e.Outcome, &key, &details, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan pdr: %w", err)
		}
		e.TaskKey = key.String
		e.Details = details.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
