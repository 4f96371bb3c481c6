package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind identifies which endpoint produced a generation.
type Kind string

const (
	KindStream   Kind = "stream"
	KindContinue Kind = "continue"
	KindAsk      Kind = "ask"
)

// Entry is one finished generation.
type Entry struct {
	ID               int64     `json:"id"`
	GenerationID     string    `json:"generation_id"`
	SessionID        string    `json:"session_id,omitempty"`
	Kind             Kind      `json:"kind"`
	Model            string    `json:"model"`
	PromptChars      int64     `json:"prompt_chars"`
	CompletionTokens int64     `json:"completion_tokens"`
	CompletionChars  int64     `json:"completion_chars"`
	FinishReason     string    `json:"finish_reason"`
	DurationMS       int64     `json:"duration_ms"`
	CreatedAt        time.Time `json:"created_at"`
}

// Summary aggregates generations, optionally for one session.
type Summary struct {
	Generations      int64            `json:"generations"`
	CompletionTokens int64            `json:"completion_tokens"`
	ByFinishReason   map[string]int64 `json:"by_finish_reason"`
}

// Store defines persistence behaviour for the ledger. An empty sessionID
// means all sessions.
type Store interface {
	Record(ctx context.Context, entry Entry) error
	Summary(ctx context.Context, sessionID string) (Summary, error)
	ListRecent(ctx context.Context, sessionID string, limit int) ([]Entry, error)
	Ping(ctx context.Context) error
	Close() error
}

// DefaultListLimit applies when ListRecent is called with a non-positive limit.
const DefaultListLimit = 50

// Validate checks the fields every backend requires.
func (e Entry) Validate() error {
	if e.GenerationID == "" {
		return errors.New("ledger record requires generation id")
	}
	switch e.Kind {
	case KindStream, KindContinue, KindAsk:
	default:
		return fmt.Errorf("invalid kind %q", e.Kind)
	}
	if e.FinishReason == "" {
		return errors.New("ledger record requires finish reason")
	}
	return nil
}

// Add folds one grouped row into the summary.
func (s *Summary) Add(reason string, count, tokens int64) {
	if s.ByFinishReason == nil {
		s.ByFinishReason = map[string]int64{}
	}
	s.ByFinishReason[reason] += count
	s.Generations += count
	s.CompletionTokens += tokens
}
