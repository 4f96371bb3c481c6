package engine

import (
	"context"
	"errors"
	"fmt"
)

// ErrModelNotLoaded is returned when a request arrives before a model is available.
var ErrModelNotLoaded = errors.New("model is not loaded")

// LoadError reports a model that could not be initialised at startup.
type LoadError struct {
	Path string
	Type string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s model %s: %v", e.Type, e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// LoadOptions configures how a model is brought up.
type LoadOptions struct {
	ContextLength int
	GPULayers     int
	Threads       int
}

// GenerateOptions configures a single generation.
type GenerateOptions struct {
	MaxNewTokens int
	Temperature  *float64
	TopP         *float64
	Stop         []string
}

// Token is one step of a generation. Exactly one of Text or Err is meaningful.
type Token struct {
	Text string
	Err  error
}

// Engine loads models.
type Engine interface {
	Load(ctx context.Context, path, modelType string, opts LoadOptions) (Model, error)
}

// Model is a loaded model handle shared by all requests.
type Model interface {
	// Generate starts producing tokens for prompt. The returned channel is
	// closed when generation ends; it is unbuffered so a slow consumer holds
	// the producer at the next token boundary. Cancelling ctx releases the
	// producer. Errors returned directly happen before any token is produced.
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (<-chan Token, error)

	// Health returns nil when the model can serve requests.
	Health(ctx context.Context) error

	// Name returns a display name for logs and health output.
	Name() string

	// Close releases the model.
	Close() error
}
