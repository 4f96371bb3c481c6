package loopback

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/tokligence/localllama/internal/engine"
)

// Ensure Engine and Model implement the engine contracts.
var (
	_ engine.Engine = (*Engine)(nil)
	_ engine.Model  = (*Model)(nil)
)

// Engine hands out loopback models. It needs no model file on disk.
type Engine struct {
	// Script, when set, is replayed verbatim by every Generate call.
	Script []string
	// Delay is slept before each token to mimic inference latency.
	Delay time.Duration
}

// New creates a loopback Engine that echoes prompts.
func New() *Engine {
	return &Engine{}
}

// Load returns a Model; path and type are only recorded.
func (e *Engine) Load(ctx context.Context, path, modelType string, opts engine.LoadOptions) (engine.Model, error) {
	return &Model{name: "loopback", script: e.Script, delay: e.Delay}, nil
}

// Model echoes the last user instruction of a prompt word by word,
// or replays a fixed script.
type Model struct {
	name   string
	script []string
	delay  time.Duration
	// FailWith makes Generate fail before streaming.
	FailWith error
	// FailAfter, when positive, emits an error token after that many tokens.
	FailAfter int
}

// NewScripted builds a Model that replays tokens on every Generate call.
func NewScripted(tokens []string, delay time.Duration) *Model {
	return &Model{name: "loopback", script: tokens, delay: delay}
}

// Generate streams tokens on an unbuffered channel until done or ctx is cancelled.
func (m *Model) Generate(ctx context.Context, prompt string, opts engine.GenerateOptions) (<-chan engine.Token, error) {
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	tokens := m.script
	if tokens == nil {
		tokens = echoTokens(prompt)
	}
	if opts.MaxNewTokens > 0 && len(tokens) > opts.MaxNewTokens {
		tokens = tokens[:opts.MaxNewTokens]
	}

	ch := make(chan engine.Token)
	go func() {
		defer close(ch)
		for i, tok := range tokens {
			if m.FailAfter > 0 && i == m.FailAfter {
				select {
				case ch <- engine.Token{Err: errors.New("loopback: injected failure")}:
				case <-ctx.Done():
				}
				return
			}
			if m.delay > 0 {
				select {
				case <-time.After(m.delay):
				case <-ctx.Done():
					return
				}
			}
			select {
			case ch <- engine.Token{Text: tok}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (m *Model) Health(ctx context.Context) error { return nil }

func (m *Model) Name() string { return m.name }

func (m *Model) Close() error { return nil }

// echoTokens extracts the last [INST] block of a LLaMA-2 prompt and splits it
// into whitespace-preserving word tokens prefixed with "[loopback]".
func echoTokens(prompt string) []string {
	text := prompt
	if idx := strings.LastIndex(text, "[INST] "); idx >= 0 {
		text = text[idx+len("[INST] "):]
		if end := strings.Index(text, " [/INST]"); end >= 0 {
			text = text[:end]
		}
	}
	if idx := strings.LastIndex(text, "<</SYS>>\n\n"); idx >= 0 {
		text = text[idx+len("<</SYS>>\n\n"):]
	}
	text = strings.TrimSpace(text)

	tokens := []string{"[loopback]"}
	for _, word := range strings.Fields(text) {
		tokens = append(tokens, " "+word)
	}
	return tokens
}
