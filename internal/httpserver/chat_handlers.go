package httpserver

import (
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tokligence/localllama/internal/chat"
	"github.com/tokligence/localllama/internal/ledger"
	"github.com/tokligence/localllama/internal/session"
)

// HandleChatStream streams a reply to a conversation ending with a user turn.
func (s *Server) HandleChatStream(w http.ResponseWriter, r *http.Request) {
	s.serveGeneration(w, r, ledger.KindStream)
}

// HandleChatContinue streams the continuation of a trailing assistant turn.
// The wiring is the same as HandleChatStream; only the prompt differs.
func (s *Server) HandleChatContinue(w http.ResponseWriter, r *http.Request) {
	s.serveGeneration(w, r, ledger.KindContinue)
}

func (s *Server) serveGeneration(w http.ResponseWriter, r *http.Request, kind ledger.Kind) {
	var req chat.Request
	if err := decodeJSON(r, &req, false); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	if s.model == nil {
		s.respondError(w, http.StatusServiceUnavailable, errModelNotReady)
		return
	}
	prompt, err := chat.FormatPrompt(req.Messages)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	if kind == ledger.KindContinue && chat.LastRole(req.Messages) != chat.RoleAssistant {
		s.debugf("continue request without trailing assistant turn, last role %q", chat.LastRole(req.Messages))
	}

	sessionID := chat.NormalizeSessionID(req.SessionID, s.opts.DefaultSessionID)
	ctx := r.Context()
	// A stale stop from an earlier generation must not end this one.
	if err := s.registry.Clear(ctx, sessionID); err != nil {
		s.logger.Printf("stop flag clear failed session=%s: %v", sessionID, err)
	}

	gen := &session.Generation{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Prompt:    prompt,
		Model:     s.model,
		Registry:  s.registry,
		Options:   s.generateOptions(),
		Logger:    s.logger,
	}
	started := time.Now()
	if err := gen.Start(ctx); err != nil {
		s.logger.Printf("inference failed generation=%s session=%s: %v", gen.ID, sessionID, err)
		s.recordGeneration(ctx, gen, kind, session.Outcome{Reason: session.FinishFailed, Err: err}, started)
		s.respondError(w, http.StatusInternalServerError, errInference)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Accel-Buffering", "no")
	h.Set("X-Generation-ID", gen.ID)
	h.Set("X-Session-ID", sessionID)
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	first := true
	emit := func(text string) error {
		if first {
			s.metrics.RecordFirstToken(time.Since(started))
			first = false
		}
		if _, err := io.WriteString(w, text); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	}
	out := gen.Run(ctx, emit)
	s.recordGeneration(ctx, gen, kind, out, started)
}

// HandleChatStop flags a session so its generation ends at the next token
// boundary. It answers immediately, whether or not anything is running.
func (s *Server) HandleChatStop(w http.ResponseWriter, r *http.Request) {
	var req chat.StopRequest
	if err := decodeJSON(r, &req, true); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	sessionID := chat.NormalizeSessionID(req.SessionID, s.opts.DefaultSessionID)
	if err := s.registry.SignalStop(r.Context(), sessionID); err != nil {
		s.logger.Printf("stop signal failed session=%s: %v", sessionID, err)
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.metrics.RecordStop()
	s.debugf("stop requested session=%s", sessionID)
	s.respondJSON(w, http.StatusOK, chat.StopResponse{Status: "stop_requested", SessionID: sessionID})
}
