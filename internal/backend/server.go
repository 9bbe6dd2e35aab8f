package backend

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/samelhousseini/gpt-realtime-agents/internal/observability"
	"github.com/samelhousseini/gpt-realtime-agents/internal/policy"
)

var errEmptyBody = errors.New("empty request body")

type Server struct {
	issuer   *Issuer
	tools    *ToolRegistry
	registry *Registry
	metrics  *observability.Metrics
}

func NewServer(issuer *Issuer, tools *ToolRegistry, registry *Registry, metrics *observability.Metrics) *Server {
	return &Server{
		issuer:   issuer,
		tools:    tools,
		registry: registry,
		metrics:  metrics,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/api/session", s.handleCreateSession)
	r.Get("/api/tools", s.handleListTools)
	r.Post("/api/function-call", s.handleFunctionCall)

	r.Get("/api/perf", s.handlePerf)
	r.Post("/api/perf/reset", s.handlePerfReset)

	return r
}

func (s *Server) handlePerf(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		respondJSON(w, http.StatusOK, observability.TurnStageSnapshot{})
		return
	}
	respondJSON(w, http.StatusOK, s.metrics.SnapshotTurnStages())
}

func (s *Server) handlePerfReset(w http.ResponseWriter, _ *http.Request) {
	if s.metrics != nil {
		s.metrics.ResetTurnStages()
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_sessions": s.registry.ActiveCount(),
	})
}

type createSessionRequest struct {
	Deployment string `json:"deployment"`
	Voice      string `json:"voice"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	creds, err := s.issuer.Issue(r.Context(), req.Deployment, req.Voice)
	if err != nil {
		log.Printf("backend: issue session: %v", err)
		respondError(w, http.StatusBadGateway, "upstream_failed", "could not issue realtime session")
		return
	}

	s.registry.Record(creds.SessionID, creds.Deployment, creds.Voice)
	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues("issued").Inc()
	}
	respondJSON(w, http.StatusOK, creds)
}

func (s *Server) handleListTools(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"tools":       s.tools.Definitions(),
		"tool_choice": "auto",
	})
}

type functionCallRequest struct {
	Name      string          `json:"name"`
	CallID    string          `json:"call_id"`
	SessionID string          `json:"session_id,omitempty"`
	Arguments json.RawMessage `json:"arguments"`
}

type functionCallResponse struct {
	CallID string         `json:"call_id"`
	Output map[string]any `json:"output"`
}

func (s *Server) handleFunctionCall(w http.ResponseWriter, r *http.Request) {
	var req functionCallRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "name is required")
		return
	}

	// Arguments arrive as a JSON object or as an encoded JSON string;
	// Execute handles both.
	arguments := string(req.Arguments)

	started := time.Now()
	output, err := s.tools.Execute(req.Name, arguments)
	if err != nil {
		if strings.Contains(err.Error(), "unknown function") {
			respondError(w, http.StatusNotFound, "unknown_function", err.Error())
			return
		}
		if s.metrics != nil {
			s.metrics.ObserveToolCall(req.Name, "error", time.Since(started))
		}
		// Argument payloads can carry customer PII; scrub before the error
		// reaches logs or the wire.
		msg, _ := policy.RedactPII(err.Error())
		log.Printf("backend: execute %s (call %s): %s", req.Name, req.CallID, msg)
		respondError(w, http.StatusInternalServerError, "execution_failed", msg)
		return
	}

	if s.metrics != nil {
		s.metrics.ObserveToolCall(req.Name, "ok", time.Since(started))
	}
	s.registry.RecordToolCall(req.SessionID)
	respondJSON(w, http.StatusOK, functionCallResponse{CallID: req.CallID, Output: output})
}

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
