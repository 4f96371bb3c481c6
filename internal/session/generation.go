package session

import (
	"context"
	"log"
	"time"
	"unicode/utf8"

	"github.com/tokligence/localllama/internal/engine"
)

// FinishReason records why a generation loop ended.
type FinishReason string

const (
	FinishCompleted   FinishReason = "completed"
	FinishStopped     FinishReason = "stopped"
	FinishCancelled   FinishReason = "cancelled"
	FinishFailed      FinishReason = "failed"
	FinishUnavailable FinishReason = "unavailable"
)

// ModelNotLoadedToken is streamed in place of output when no model is loaded.
const ModelNotLoadedToken = "Error: model is not loaded."

// Outcome summarises a finished generation.
type Outcome struct {
	Tokens int
	Chars  int
	Reason FinishReason
	Err    error
}

// Generation is one streaming generation bound to a session id. It is used
// by a single request goroutine; the registry is the only shared state.
type Generation struct {
	ID        string
	SessionID string
	Prompt    string
	Model     engine.Model
	Registry  Registry
	Options   engine.GenerateOptions
	Logger    *log.Logger

	stream <-chan engine.Token
	cancel context.CancelFunc
}

// Start asks the model for a token stream. An error here means nothing has
// been produced yet, so callers can still answer with an error status.
// Start is a no-op when no model is loaded; Run then emits the diagnostic token.
func (g *Generation) Start(ctx context.Context) error {
	if g.Model == nil || g.stream != nil {
		return nil
	}
	genCtx, cancel := context.WithCancel(ctx)
	stream, err := g.Model.Generate(genCtx, g.Prompt, g.Options)
	if err != nil {
		cancel()
		g.remove(ctx)
		return err
	}
	g.stream = stream
	g.cancel = cancel
	return nil
}

// Run pulls tokens and hands each to emit until the model finishes, a stop
// is signalled, ctx ends, emit fails, or the stream reports an error. The
// stop flag is consulted before every token, so a signalled stop takes effect
// at the next token boundary. The registry entry is removed on return.
func (g *Generation) Run(ctx context.Context, emit func(string) error) (out Outcome) {
	if err := g.Start(ctx); err != nil {
		return Outcome{Reason: FinishFailed, Err: err}
	}
	defer g.finish(ctx)

	if g.Model == nil {
		out.Reason = FinishUnavailable
		out.Err = engine.ErrModelNotLoaded
		if err := emit(ModelNotLoadedToken); err == nil {
			out.Tokens = 1
			out.Chars = utf8.RuneCountInString(ModelNotLoadedToken)
		}
		return out
	}

	for {
		select {
		case <-ctx.Done():
			out.Reason = FinishCancelled
			out.Err = ctx.Err()
			return out
		case tok, ok := <-g.stream:
			if !ok {
				out.Reason = FinishCompleted
				if err := ctx.Err(); err != nil {
					out.Reason = FinishCancelled
					out.Err = err
				}
				return out
			}
			if tok.Err != nil {
				out.Reason = FinishFailed
				out.Err = tok.Err
				return out
			}
			if g.stopped(ctx) {
				out.Reason = FinishStopped
				return out
			}
			if err := emit(tok.Text); err != nil {
				// the client is gone; a write error is a disconnect
				out.Reason = FinishCancelled
				out.Err = err
				return out
			}
			out.Tokens++
			out.Chars += utf8.RuneCountInString(tok.Text)
		}
	}
}

func (g *Generation) stopped(ctx context.Context) bool {
	if g.Registry == nil {
		return false
	}
	stop, err := g.Registry.IsStopped(ctx, g.SessionID)
	if err != nil {
		g.logf("stop flag lookup failed session=%s: %v", g.SessionID, err)
		return false
	}
	return stop
}

func (g *Generation) finish(ctx context.Context) {
	if g.cancel != nil {
		g.cancel()
	}
	g.remove(ctx)
}

// remove runs on a context detached from the request so that a client
// disconnect still clears the entry.
func (g *Generation) remove(ctx context.Context) {
	if g.Registry == nil {
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := g.Registry.Remove(rctx, g.SessionID); err != nil {
		g.logf("stop flag remove failed session=%s: %v", g.SessionID, err)
	}
}

func (g *Generation) logf(format string, args ...any) {
	if g.Logger != nil {
		g.Logger.Printf(format, args...)
	}
}
