// Package web serves the backend API over the sqlite store. It stands in for
// the real backend during development and in tests.
package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Joseda-hg/socius/internal/db"
	"github.com/Joseda-hg/socius/internal/model"
)

type Server struct {
	store  *db.Store
	logger *zap.Logger
	token  string
}

type Option func(*Server)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithToken makes every request carry "Authorization: Bearer <token>".
func WithToken(token string) Option {
	return func(s *Server) { s.token = token }
}

func NewServer(store *db.Store, opts ...Option) *Server {
	s := &Server{store: store, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/tasks", s.listTasksHandler)
	mux.HandleFunc("POST /api/tasks", s.createTaskHandler)
	mux.HandleFunc("GET /api/tasks/{id}", s.taskHandler)
	mux.HandleFunc("PATCH /api/tasks/{id}/status", s.statusHandler)
	mux.HandleFunc("PATCH /api/tasks/{id}/deadline", s.deadlineHandler)
	mux.HandleFunc("GET /api/tasks/{id}/history", s.historyHandler)
	mux.HandleFunc("GET /api/teams", s.listTeamsHandler)
	mux.HandleFunc("GET /api/teams/{id}", s.teamHandler)
	return s.logRequests(s.authorize(mux))
}

func (s *Server) listTasksHandler(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.store.ListTasks(r.Context(), filterFromRequest(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) createTaskHandler(w http.ResponseWriter, r *http.Request) {
	var input db.TaskInput
	if err := decodeBody(w, r, &input); err != nil {
		s.writeError(w, err)
		return
	}
	task, err := s.store.CreateTask(r.Context(), input)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) taskHandler(w http.ResponseWriter, r *http.Request) {
	task, err := s.store.GetTask(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Status model.Status `json:"status"`
	}
	if err := decodeBody(w, r, &payload); err != nil {
		s.writeError(w, err)
		return
	}
	task, err := s.store.UpdateTaskStatus(r.Context(), r.PathValue("id"), payload.Status)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) deadlineHandler(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Deadline string `json:"deadline"`
	}
	if err := decodeBody(w, r, &payload); err != nil {
		s.writeError(w, err)
		return
	}
	task, err := s.store.UpdateTaskDeadline(r.Context(), r.PathValue("id"), payload.Deadline)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) historyHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.store.GetTask(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	history, err := s.store.ListHistory(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) listTeamsHandler(w http.ResponseWriter, r *http.Request) {
	teams, err := s.store.ListTeams(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if teams == nil {
		teams = []model.Team{}
	}
	writeJSON(w, http.StatusOK, teams)
}

func (s *Server) teamHandler(w http.ResponseWriter, r *http.Request) {
	team, err := s.store.GetTeam(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, team)
}

func filterFromRequest(r *http.Request) model.Filter {
	query := r.URL.Query()
	return model.Filter{
		AssigneeID: strings.TrimSpace(query.Get("assigned_to")),
		TeamID:     strings.TrimSpace(query.Get("team_id")),
		Status:     model.Status(strings.TrimSpace(query.Get("status"))),
		Query:      strings.TrimSpace(query.Get("q")),
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dest any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return fmt.Errorf("%w: decode body: %v", db.ErrInvalidInput, err)
	}
	return nil
}

func (s *Server) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" && r.Header.Get("Authorization") != "Bearer "+s.token {
			writeJSON(w, http.StatusUnauthorized, errorBody{Detail: "authentication credentials were not provided"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", recorder.status),
			zap.Duration("elapsed", time.Since(start)))
	})
}

type errorBody struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, db.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, db.ErrInvalidInput):
		status = http.StatusBadRequest
	default:
		s.logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, errorBody{Detail: err.Error()})
}
