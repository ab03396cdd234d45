package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fentz26/cadence/internal/activitylog"
	"github.com/fentz26/cadence/internal/audit"
	"github.com/fentz26/cadence/internal/drive"
	"github.com/fentz26/cadence/internal/metrics"
	"github.com/fentz26/cadence/internal/models"
	"github.com/fentz26/cadence/internal/schedule"
	"github.com/fentz26/cadence/internal/scheduler"
	"github.com/fentz26/cadence/internal/store"
	"github.com/fentz26/cadence/internal/taskstate"
)

type fakeHeartbeat struct {
	busy     atomic.Bool
	triggers atomic.Int64
}

func (f *fakeHeartbeat) Stats() scheduler.Stats {
	return scheduler.Stats{Ticks: f.triggers.Load(), Running: f.busy.Load(), Started: true}
}

func (f *fakeHeartbeat) TriggerTick() bool {
	if f.busy.Load() {
		return false
	}
	f.triggers.Add(1)
	return true
}

type testEnv struct {
	srv     *httptest.Server
	service *Service
	hub     *Hub
	beat    *fakeHeartbeat
	store   *store.Store
	log     *activitylog.Log
	now     time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	st, err := store.New(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	lg, err := activitylog.Open(filepath.Join(dir, "activity.jsonl"), activitylog.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { lg.Close() })

	env := &testEnv{
		beat:  &fakeHeartbeat{},
		store: st,
		log:   lg,
		now:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	env.service = NewService(Deps{
		Heartbeat:     env.beat,
		Jobs:          schedule.NewStore(filepath.Join(dir, "schedules.json")),
		Store:         st,
		Log:           lg,
		TaskState:     taskstate.New(filepath.Join(dir, "task_state.json"), nil),
		Drive:         drive.New(drive.DefaultConfig()),
		PDR:           audit.NewPDRWriter(st),
		Now:           func() time.Time { return env.now },
		SessionWindow: time.Minute,
	})
	env.hub = NewHub(nil)
	server := NewServer(env.service, env.hub, metrics.New(), "127.0.0.1:0", nil)
	env.srv = httptest.NewServer(server.Handler())
	t.Cleanup(env.srv.Close)
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	health := decodeBody[HealthResponse](t, resp)
	assert.True(t, health.OK)
	assert.Equal(t, "ok", health.DB)
	assert.NotEmpty(t, health.Version)
	assert.Equal(t, "2026-03-01T12:00:00Z", health.Time)

	resp = env.do(t, http.MethodPost, "/health", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHealthReportsClosedDatabase(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.Close())

	resp := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.False(t, decodeBody[HealthResponse](t, resp).OK)
}

func TestDecisionRecordFailureIsLogged(t *testing.T) {
	dir := t.TempDir()
	st, err := store.New(filepath.Join(dir, "cadence.db"))
	require.NoError(t, err)
	require.NoError(t, st.Close())

	var logs bytes.Buffer
	service := NewService(Deps{
		Jobs:   schedule.NewStore(filepath.Join(dir, "schedules.json")),
		PDR:    audit.NewPDRWriter(st),
		Logger: slog.New(slog.NewTextHandler(&logs, nil)),
	})

	job, err := service.AddJob(context.Background(), "digest", "summarize", models.Schedule{Kind: models.ScheduleEvery, EveryMs: 60_000})
	require.NoError(t, err, "the mutation stands without its record")
	assert.NotEmpty(t, job.ID)
	assert.Contains(t, logs.String(), "record decision failed")
	assert.Contains(t, logs.String(), "action=job.add")
}

func TestTickEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/tick", nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.EqualValues(t, 1, env.beat.triggers.Load())

	env.beat.busy.Store(true)
	resp = env.do(t, http.MethodPost, "/tick", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats := decodeBody[scheduler.Stats](t, resp)
	assert.True(t, stats.Running)
	assert.EqualValues(t, 1, stats.Ticks)
}

func TestJobLifecycle(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/jobs", map[string]any{
		"name":     "digest",
		"message":  "summarize the inbox",
		"schedule": map[string]any{"kind": "cron", "expr": "0 9 * * 1-5"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	job := decodeBody[models.ScheduledJob](t, resp)
	assert.Equal(t, "digest", job.Name)
	assert.True(t, job.Enabled)
	require.NotNil(t, job.State.NextRunAtMs)

	jobs := decodeBody[[]models.ScheduledJob](t, env.do(t, http.MethodGet, "/jobs", nil))
	require.Len(t, jobs, 1)

	resp = env.do(t, http.MethodPost, "/jobs/"+job.ID+"/disable", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	disabled := decodeBody[models.ScheduledJob](t, resp)
	assert.False(t, disabled.Enabled)

	resp = env.do(t, http.MethodPost, "/jobs/"+job.ID+"/enable", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decodeBody[models.ScheduledJob](t, resp).Enabled)

	resp = env.do(t, http.MethodDelete, "/jobs/"+job.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.do(t, http.MethodDelete, "/jobs/"+job.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	decisions := decodeBody[[]models.PDREntry](t, env.do(t, http.MethodGet, "/decisions", nil))
	require.Len(t, decisions, 4)
	assert.Equal(t, "job.remove", decisions[0].Action)
}

func TestAddJobRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body any
	}{
		{"bad cron", map[string]any{"message": "x", "schedule": map[string]any{"kind": "cron", "expr": "61 * * * *"}}},
		{"tiny interval", map[string]any{"message": "x", "schedule": map[string]any{"kind": "every", "every_ms": 10}}},
		{"unknown kind", map[string]any{"message": "x", "schedule": map[string]any{"kind": "weekly"}}},
		{"missing message", map[string]any{"schedule": map[string]any{"kind": "every", "every_ms": 60000}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodPost, "/jobs", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}

	req, err := http.NewRequest(http.MethodPost, env.srv.URL+"/jobs", strings.NewReader("{not json"))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGoalEndpoints(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/goals", map[string]any{"title": "ship v1", "priority": 150})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	goal := decodeBody[models.Goal](t, resp)
	assert.Equal(t, 100, goal.Priority)
	assert.Equal(t, models.GoalStatusPending, goal.Status)

	resp = env.do(t, http.MethodPost, "/goals", map[string]any{"title": "  "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	pending := decodeBody[[]models.Goal](t, env.do(t, http.MethodGet, "/goals?status=pending", nil))
	assert.Len(t, pending, 1)
	active := decodeBody[[]models.Goal](t, env.do(t, http.MethodGet, "/goals?status=active", nil))
	assert.Empty(t, active)

	resp = env.do(t, http.MethodGet, "/goals?status=lost", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCuriosityAndTopics(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/curiosity", map[string]string{"question": "why is the sky blue?"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotEmpty(t, decodeBody[models.CuriosityItem](t, resp).ID)

	resp = env.do(t, http.MethodPost, "/topics", map[string]string{"topic": "raft consensus"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "raft consensus", decodeBody[models.LearningTopic](t, resp).Topic)

	resp = env.do(t, http.MethodPost, "/curiosity", map[string]string{"question": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = env.do(t, http.MethodGet, "/topics", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestActivityEndpoint(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 5; i++ {
		env.log.Append(models.ActivityEntry{
			TS:          env.now.Add(time.Duration(i) * time.Second),
			Source:      "test",
			Description: fmt.Sprintf("entry %d", i),
			Status:      models.StatusSuccess,
		})
	}

	entries := decodeBody[[]models.ActivityEntry](t, env.do(t, http.MethodGet, "/activity?limit=2", nil))
	require.Len(t, entries, 2)
	assert.Equal(t, "entry 3", entries[0].Description)
	assert.Equal(t, "entry 4", entries[1].Description)

	resp := env.do(t, http.MethodGet, "/activity?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDriveAndStateEndpoints(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/drive", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	state := decodeBody[drive.State](t, resp)
	assert.GreaterOrEqual(t, state.Tension, 0.0)

	resp = env.do(t, http.MethodGet, "/state", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decodeBody[map[string]models.TaskState](t, resp))
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var buf bytes.Buffer
	_, err := buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "go_goroutines")
}

func TestSessionTracking(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	assert.False(t, env.service.SessionActive(ctx))

	// health checks are not client sessions
	env.do(t, http.MethodGet, "/health", nil)
	assert.False(t, env.service.SessionActive(ctx))

	env.do(t, http.MethodGet, "/stats", nil)
	assert.True(t, env.service.SessionActive(ctx))

	env.now = env.now.Add(2 * time.Minute)
	assert.False(t, env.service.SessionActive(ctx))
}

func TestEventsStreamNotifications(t *testing.T) {
	env := newTestEnv(t)

	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return env.hub.Clients() == 1 }, time.Second, 10*time.Millisecond)

	env.hub.Notify(models.Notification{Source: "goals", Description: "ship v1", Status: models.StatusSuccess})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got models.Notification
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "goals", got.Source)
	assert.Equal(t, models.StatusSuccess, got.Status)

	conn.Close()
	assert.Eventually(t, func() bool { return env.hub.Clients() == 0 }, time.Second, 10*time.Millisecond)
}

func TestHubDropsForSlowSubscribers(t *testing.T) {
	hub := NewHub(nil)
	ch, cancel := hub.Subscribe()
	defer cancel()

	for i := 0; i < clientBuffer+5; i++ {
		hub.Notify(models.Notification{Source: "test"})
	}
	assert.Len(t, ch, clientBuffer)
	assert.EqualValues(t, 5, hub.Dropped())

	cancel()
	cancel()
	assert.Zero(t, hub.Clients())
}
