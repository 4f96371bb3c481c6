package httpserver

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tokligence/localllama/internal/health"
	"github.com/tokligence/localllama/internal/ledger"
	"github.com/tokligence/localllama/internal/version"
)

type rootResponse struct {
	Message string `json:"message"`
}

type healthResponse struct {
	Status     health.Status      `json:"status"`
	Model      string             `json:"model,omitempty"`
	Version    version.BuildInfo  `json:"version"`
	Uptime     string             `json:"uptime"`
	Components []health.Component `json:"components"`
}

func (s *Server) HandleRoot(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, rootResponse{Message: "Local LLaMA API is running. Send POST requests to /ask."})
}

// HandleHealth reports component health. Unhealthy answers 503.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.Health(r.Context())
	payload := healthResponse{
		Status:     status.Status,
		Version:    version.Build(),
		Uptime:     s.metrics.Uptime().Truncate(time.Second).String(),
		Components: status.Components,
	}
	if s.model != nil {
		payload.Model = s.model.Name()
	}
	code := http.StatusOK
	if status.Status == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	s.respondJSON(w, code, payload)
}

// HandleGenerations lists recent ledger entries, newest first.
func (s *Server) HandleGenerations(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		s.respondError(w, http.StatusServiceUnavailable, errLedgerOff)
		return
	}
	limit := ledger.DefaultListLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			s.respondError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = v
	}
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	entries, err := s.ledger.ListRecent(r.Context(), sessionID, limit)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) HandleGenerationSummary(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		s.respondError(w, http.StatusServiceUnavailable, errLedgerOff)
		return
	}
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	summary, err := s.ledger.Summary(r.Context(), sessionID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	if summary.ByFinishReason == nil {
		summary.ByFinishReason = map[string]int64{}
	}
	s.respondJSON(w, http.StatusOK, summary)
}
