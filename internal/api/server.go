// Package api exposes the HTTP intake and inspection surface of the daemon:
// event submission endpoints that create workflow runs, plus read-only run
// views for the CLI.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"log/slog"

	"recap/internal/dispatch"
	"recap/internal/logging"
	"recap/internal/runs"
	"recap/internal/services"
	"recap/internal/workflows/chatreply"
	"recap/internal/workflows/summarize"
)

// Server accepts events over HTTP and answers run queries.
type Server struct {
	bind       string
	token      string
	logger     *slog.Logger
	dispatcher *dispatch.Dispatcher
	store      *runs.Store

	listener net.Listener
	server   *http.Server
}

// New constructs the server. An empty token disables authentication.
func New(bind, token string, dispatcher *dispatch.Dispatcher, store *runs.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	srv := &Server{
		bind:       strings.TrimSpace(bind),
		token:      strings.TrimSpace(token),
		logger:     logger.With(logging.String(logging.FieldComponent, "api-server")),
		dispatcher: dispatcher,
		store:      store,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", srv.handleHealth)
	mux.HandleFunc("/events/transcript-ready", authMiddleware(srv.token, srv.handleTranscriptReady))
	mux.HandleFunc("/events/chat-message", authMiddleware(srv.token, srv.handleChatMessage))
	mux.HandleFunc("/api/runs", authMiddleware(srv.token, srv.handleRuns))
	mux.HandleFunc("/api/runs/", authMiddleware(srv.token, srv.handleRun))

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start binds the listener and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if s.bind == "" {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

// Stop shuts the server down, letting in-flight requests finish.
func (s *Server) Stop() {
	if s == nil || s.server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// acceptedResponse is returned for every accepted event.
type acceptedResponse struct {
	RunID    string `json:"run_id"`
	Workflow string `json:"workflow"`
}

func (s *Server) handleTranscriptReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var event summarize.Event
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid event payload")
		return
	}
	if strings.TrimSpace(event.MeetingID) == "" || strings.TrimSpace(event.TranscriptURL) == "" {
		s.writeError(w, http.StatusBadRequest, "meeting_id and transcript_url are required")
		return
	}
	s.dispatchEvent(w, r, summarize.Kind, event)
}

func (s *Server) handleChatMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var event chatreply.Event
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid event payload")
		return
	}
	if strings.TrimSpace(event.ChannelID) == "" || strings.TrimSpace(event.AgentID) == "" ||
		strings.TrimSpace(event.MeetingID) == "" || strings.TrimSpace(event.Text) == "" {
		s.writeError(w, http.StatusBadRequest, "channel_id, agent_id, meeting_id, and text are required")
		return
	}
	s.dispatchEvent(w, r, chatreply.Kind, event)
}

func (s *Server) dispatchEvent(w http.ResponseWriter, r *http.Request, kind string, event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid event payload")
		return
	}
	run, err := s.dispatcher.Dispatch(r.Context(), kind, payload)
	if err != nil {
		if errors.Is(err, services.ErrValidation) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, acceptedResponse{RunID: run.ID, Workflow: kind})
}

// runView is the wire form of a run row.
type runView struct {
	ID           string    `json:"id"`
	Workflow     string    `json:"workflow"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// stepView is the wire form of a step record.
type stepView struct {
	Step      string          `json:"step"`
	Status    string          `json:"status"`
	Attempts  int             `json:"attempts"`
	Result    json.RawMessage `json:"result,omitempty"`
	LastError string          `json:"last_error,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var statuses []runs.RunStatus
	for _, value := range r.URL.Query()["status"] {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		statuses = append(statuses, runs.RunStatus(trimmed))
	}
	listed, err := s.store.ListRuns(r.Context(), statuses...)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	views := make([]runView, 0, len(listed))
	for _, run := range listed {
		views = append(views, toRunView(run))
	}
	s.writeJSON(w, http.StatusOK, map[string][]runView{"runs": views})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/runs/")
	if id == "" || strings.Contains(id, "/") {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if run == nil {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	steps, err := s.store.StepsForRun(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	stepViews := make([]stepView, 0, len(steps))
	for _, step := range steps {
		stepViews = append(stepViews, stepView{
			Step:      step.Step,
			Status:    string(step.Status),
			Attempts:  step.Attempts,
			Result:    step.Result,
			LastError: step.LastError,
			UpdatedAt: step.UpdatedAt,
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"run":   toRunView(run),
		"steps": stepViews,
	})
}

func toRunView(run *runs.Run) runView {
	return runView{
		ID:           run.ID,
		Workflow:     run.Workflow,
		Status:       string(run.Status),
		ErrorMessage: run.ErrorMessage,
		CreatedAt:    run.CreatedAt,
		UpdatedAt:    run.UpdatedAt,
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
