package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"WeatherChat/internal/agent"
	"WeatherChat/internal/session"
)

// Server exposes the chat API and streams orchestrator events to clients
type Server struct {
	orchestrator *agent.Orchestrator
	logger       *slog.Logger
	mux          *http.ServeMux
}

// New creates the HTTP surface around an orchestrator
func New(orchestrator *agent.Orchestrator, logger *slog.Logger) *Server {
	s := &Server{
		orchestrator: orchestrator,
		logger:       logger,
		mux:          http.NewServeMux(),
	}
	s.routes()
	return s
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) routes() {
	s.mux.HandleFunc("/api/chat", s.handleChat)
	s.mux.HandleFunc("/healthz", s.handleHealthz)
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiErrorResponse struct {
	Error apiError `json:"error"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, `{"status":"ok"}`)
}

// handleChat runs one orchestration and streams its events as SSE, flushing
// every event as it is produced. A client disconnect cancels the
// orchestration through the request context.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "use POST")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("invalid JSON body: %v", err))
		return
	}

	sessionID, events, err := s.orchestrator.Handle(r.Context(), req.SessionID, req.Message)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrSessionBusy):
			// Retryable: the session already has a request in flight.
			s.writeError(w, http.StatusConflict, "session_busy", err.Error())
		default:
			s.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		}
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming_unsupported", "streaming is unsupported by response writer")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("X-Session-Id", sessionID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for event := range events {
		if err := writeSSEEvent(w, flusher, event); err != nil {
			s.logger.Warn("client write failed, draining stream", "session_id", sessionID, "error", err)
			// Keep draining so the orchestrator goroutine can finish.
			for range events {
			}
			return
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, event agent.StreamEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(apiErrorResponse{Error: apiError{Code: code, Message: message}}); err != nil {
		s.logger.Error("failed to encode error response", "error", err)
	}
}
