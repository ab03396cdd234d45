package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fentz26/cadence/internal/metrics"
	"github.com/fentz26/cadence/internal/models"
)

const (
	defaultActivityLimit = 50
	maxBodyBytes         = 1 << 20
)

// Server provides the HTTP API for the cadence daemon.
type Server struct {
	service *Service
	hub     *Hub
	metrics *metrics.Metrics
	logger  *slog.Logger
	addr    string

	mu     sync.Mutex
	server *http.Server
	closed bool
}

// NewServer creates a new HTTP server. hub and m may be nil, in which case
// /events and /metrics answer 503.
func NewServer(service *Service, hub *Hub, m *metrics.Metrics, addr string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Server{
		service: service,
		hub:     hub,
		metrics: m,
		logger:  logger,
		addr:    addr,
	}
}

// Handler returns the routed API with client activity tracking applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/drive", s.handleDrive)
	mux.HandleFunc("/state", s.handleState)
	mux.HandleFunc("/activity", s.handleActivity)
	mux.HandleFunc("/tick", s.handleTick)

	// Job endpoints
	mux.HandleFunc("/jobs", s.handleJobs)
	mux.HandleFunc("/jobs/", s.handleJobByID)

	// Goal, curiosity and learning endpoints
	mux.HandleFunc("/goals", s.handleGoals)
	mux.HandleFunc("/curiosity", s.handleCuriosity)
	mux.HandleFunc("/topics", s.handleTopics)
	mux.HandleFunc("/decisions", s.handleDecisions)

	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/events", s.handleEvents)

	return s.touch(mux)
}

// Start listens and serves until Shutdown. It returns nil after a clean
// shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves the API on ln.
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return nil
	}
	s.server = srv
	s.mu.Unlock()

	s.logger.Info("control plane listening", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server. A server shut down before it
// started never serves.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// touch marks every API call except health and metrics scrapes as client
// activity.
func (s *Server) touch(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health", "/metrics":
		default:
			s.service.Touch()
		}
		next.ServeHTTP(w, r)
	})
}

// --- Heartbeat Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	health := s.service.Health(r.Context())
	status := http.StatusOK
	if !health.OK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	stats, err := s.service.Stats()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleDrive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	state, err := s.service.Drive()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	states, err := s.service.TaskStates()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, states)
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit, err := queryInt(r, "limit", defaultActivityLimit)
	if err != nil {
		writeError(w, err)
		return
	}
	entries, err := s.service.Activity(limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []models.ActivityEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.service.Tick(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
}

// --- Job Handlers ---

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listJobs(w, r)
	case http.MethodPost:
		s.addJob(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleJobByID handles /jobs/{id} and /jobs/{id}/{enable,disable}.
func (s *Server) handleJobByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/jobs/")
	parts := strings.Split(path, "/")

	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "job id required", http.StatusBadRequest)
		return
	}

	jobID := parts[0]
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}

	switch {
	case action == "" && r.Method == http.MethodDelete:
		if err := s.service.RemoveJob(r.Context(), jobID); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case (action == "enable" || action == "disable") && r.Method == http.MethodPost:
		job, err := s.service.SetJobEnabled(r.Context(), jobID, action == "enable")
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, job)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (s *Server) listJobs(w http.ResponseWriter, _ *http.Request) {
	jobs, err := s.service.ListJobs()
	if err != nil {
		writeError(w, err)
		return
	}
	if jobs == nil {
		jobs = []models.ScheduledJob{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

type addJobRequest struct {
	Name     string          `json:"name"`
	Message  string          `json:"message"`
	Schedule models.Schedule `json:"schedule"`
}

func (s *Server) addJob(w http.ResponseWriter, r *http.Request) {
	var req addJobRequest
	if !decode(w, r, &req) {
		return
	}
	job, err := s.service.AddJob(r.Context(), req.Name, req.Message, req.Schedule)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

// --- Goal Handlers ---

type createGoalRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    int    `json:"priority"`
}

func (s *Server) handleGoals(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		goals, err := s.service.ListGoals(r.Context(), r.URL.Query().Get("status"))
		if err != nil {
			writeError(w, err)
			return
		}
		if goals == nil {
			goals = []models.Goal{}
		}
		writeJSON(w, http.StatusOK, goals)
	case http.MethodPost:
		var req createGoalRequest
		if !decode(w, r, &req) {
			return
		}
		goal, err := s.service.CreateGoal(r.Context(), req.Title, req.Description, req.Priority)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, goal)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type curiosityRequest struct {
	Question string `json:"question"`
}

func (s *Server) handleCuriosity(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req curiosityRequest
	if !decode(w, r, &req) {
		return
	}
	item, err := s.service.AddCuriosity(r.Context(), req.Question)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

type topicRequest struct {
	Topic string `json:"topic"`
}

func (s *Server) handleTopics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req topicRequest
	if !decode(w, r, &req) {
		return
	}
	topic, err := s.service.AddTopic(r.Context(), req.Topic)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, topic)
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeError(w, err)
		return
	}
	entries, err := s.service.Decisions(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []models.PDREntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- Streaming & Metrics ---

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		writeError(w, ErrUnavailable)
		return
	}
	s.metrics.Handler().ServeHTTP(w, r)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeError(w, ErrUnavailable)
		return
	}
	s.hub.ServeWS(w, r)
}

// --- Helpers ---

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return false
	}
	return true
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", ErrBadRequest, key)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), statusFor(err))
}
