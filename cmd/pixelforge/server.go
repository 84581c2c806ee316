package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pixelforge/pixelforge/internal/agent"
	"github.com/pixelforge/pixelforge/internal/billing"
	"github.com/pixelforge/pixelforge/internal/config"
	"github.com/pixelforge/pixelforge/internal/observability"
	"github.com/pixelforge/pixelforge/pkg/models"
)

// server exposes the orchestrator over HTTP. Message turns stream as
// Server-Sent Events unless the caller asks for a blocking response.
type server struct {
	orch    *agent.Orchestrator
	ledger  billing.Ledger
	cfg     *config.Config
	metrics *observability.Metrics
	logger  *slog.Logger
}

func newServer(orch *agent.Orchestrator, ledger billing.Ledger, cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) *server {
	return &server{orch: orch, ledger: ledger, cfg: cfg, metrics: metrics, logger: logger}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/sessions", s.instrument("/v1/sessions", s.handleCreateSession))
	mux.HandleFunc("GET /v1/sessions", s.instrument("/v1/sessions", s.handleListSessions))
	mux.HandleFunc("GET /v1/sessions/{id}", s.instrument("/v1/sessions/{id}", s.handleGetSession))
	mux.HandleFunc("DELETE /v1/sessions/{id}", s.instrument("/v1/sessions/{id}", s.handleDeleteSession))
	mux.HandleFunc("POST /v1/sessions/{id}/messages", s.instrument("/v1/sessions/{id}/messages", s.handleSendMessage))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	return mux
}

// statusRecorder captures the response code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *server) instrument(path string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		s.metrics.RecordHTTPRequest(r.Method, path, strconv.Itoa(rec.status), time.Since(start).Seconds())
	}
}

type createSessionRequest struct {
	UserID string               `json:"user_id"`
	Config models.SessionConfig `json:"config"`
}

func (s *server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, agent.NewError(agent.CodeValidationError, "invalid request body: %v", err))
		return
	}

	if req.Config.Model == "" {
		req.Config.Model = s.cfg.Provider.Model
	}
	if req.Config.SystemPrompt == "" {
		req.Config.SystemPrompt = s.cfg.Agent.SystemPrompt
	}
	if req.Config.MaxSteps == 0 {
		req.Config.MaxSteps = s.cfg.Agent.MaxSteps
	}

	s.seedCredits(r, req.UserID)

	sess, err := s.orch.CreateSession(r.Context(), req.UserID, req.Config)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, sess)
}

// seedCredits grants the configured starting balance to users the
// in-memory ledger has not seen yet.
func (s *server) seedCredits(r *http.Request, userID string) {
	if userID == "" {
		return
	}
	balance, err := s.ledger.Balance(r.Context(), userID)
	if err != nil || balance > 0 {
		return
	}
	if err := s.ledger.Credit(r.Context(), userID, s.cfg.Agent.InitialCredits); err != nil {
		s.logger.Warn("failed to seed credits", "user_id", userID, "error", err)
	}
}

func (s *server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		s.writeError(w, agent.NewError(agent.CodeValidationError, "user_id query parameter is required"))
		return
	}
	list, err := s.orch.ListSessions(r.Context(), userID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"sessions": list})
}

func (s *server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.orch.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sess)
}

func (s *server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.DeleteSession(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type sendMessageRequest struct {
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

func (s *server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, agent.NewError(agent.CodeValidationError, "invalid request body: %v", err))
		return
	}
	if req.Content == "" && len(req.Images) == 0 {
		s.writeError(w, agent.NewError(agent.CodeValidationError, "message content is required"))
		return
	}

	if r.URL.Query().Get("blocking") == "1" {
		sess, terminal, err := s.orch.SendMessageSync(r.Context(), sessionID, req.Content, req.Images)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{
			"session": sess,
			"result":  terminal,
		})
		return
	}

	events, err := s.orch.SendMessage(r.Context(), sessionID, req.Content, req.Images)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.streamEvents(w, r, events)
}

// streamEvents writes the turn's event stream as Server-Sent Events.
func (s *server) streamEvents(w http.ResponseWriter, r *http.Request, events <-chan *models.AgentEvent) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, agent.NewError(agent.CodeValidationError, "streaming unsupported by connection"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for event := range events {
		data, err := json.Marshal(event)
		if err != nil {
			s.logger.Error("failed to encode event", "error", err)
			continue
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
		flusher.Flush()
	}
}

func (s *server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *server) writeError(w http.ResponseWriter, err error) {
	var aerr *agent.Error
	if !errors.As(err, &aerr) {
		aerr = &agent.Error{Code: agent.CodeValidationError, Message: err.Error()}
	}

	status := http.StatusInternalServerError
	switch aerr.Code {
	case agent.CodeValidationError:
		status = http.StatusBadRequest
	case agent.CodeSessionNotFound, agent.CodeToolNotFound:
		status = http.StatusNotFound
	case agent.CodeSessionBusy:
		status = http.StatusConflict
	case agent.CodeInsufficientCredits:
		status = http.StatusPaymentRequired
	}

	s.writeJSON(w, status, map[string]any{
		"error": models.ErrorInfo{Code: string(aerr.Code), Message: aerr.Message},
	})
}
