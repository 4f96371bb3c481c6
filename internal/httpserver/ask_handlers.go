package httpserver

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tokligence/localllama/internal/chat"
	"github.com/tokligence/localllama/internal/ledger"
	"github.com/tokligence/localllama/internal/session"
)

// HandleAsk answers a single question in one JSON response. The question is
// sent to the model as-is, without the chat template, and cannot be stopped.
func (s *Server) HandleAsk(w http.ResponseWriter, r *http.Request) {
	var req chat.AskRequest
	if err := decodeJSON(r, &req, false); err != nil {
		s.respondError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		s.respondError(w, http.StatusBadRequest, errors.New("question must not be empty"))
		return
	}
	if s.model == nil {
		s.respondError(w, http.StatusServiceUnavailable, errModelNotReady)
		return
	}

	gen := &session.Generation{
		ID:      uuid.NewString(),
		Prompt:  req.Question,
		Model:   s.model,
		Options: s.generateOptions(),
		Logger:  s.logger,
	}
	started := time.Now()
	var answer strings.Builder
	out := gen.Run(r.Context(), func(text string) error {
		if answer.Len() == 0 {
			s.metrics.RecordFirstToken(time.Since(started))
		}
		answer.WriteString(text)
		return nil
	})
	s.recordGeneration(r.Context(), gen, ledger.KindAsk, out, started)

	switch out.Reason {
	case session.FinishCompleted:
		s.respondJSON(w, http.StatusOK, chat.AskResponse{Answer: answer.String()})
	case session.FinishCancelled:
		// client is gone
	default:
		s.logger.Printf("error during inference generation=%s: %v", gen.ID, out.Err)
		s.respondError(w, http.StatusInternalServerError, errInference)
	}
}
