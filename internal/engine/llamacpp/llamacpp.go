package llamacpp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tokligence/localllama/internal/engine"
)

// Ensure Engine and Model implement the engine contracts.
var (
	_ engine.Engine = (*Engine)(nil)
	_ engine.Model  = (*Model)(nil)
)

var supportedTypes = map[string]struct{}{
	"llama": {},
}

// Config holds configuration for the llama.cpp engine.
type Config struct {
	// BinPath is the llama-server executable used when spawning.
	BinPath string
	// ServerURL attaches to an already running llama-server instead of spawning one.
	ServerURL     string
	HealthTimeout time.Duration
	Logger        *log.Logger
	HTTPClient    *http.Client
}

// Engine serves GGUF models through llama.cpp's llama-server.
type Engine struct {
	cfg Config
}

// New creates an Engine instance.
func New(cfg Config) *Engine {
	if strings.TrimSpace(cfg.BinPath) == "" {
		cfg.BinPath = "llama-server"
	}
	if cfg.HealthTimeout == 0 {
		cfg.HealthTimeout = 120 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.HTTPClient == nil {
		// no client timeout: generations are bounded by max_new_tokens, not wall time
		cfg.HTTPClient = &http.Client{}
	}
	return &Engine{cfg: cfg}
}

// Load brings up a model. Any failure is reported as *engine.LoadError.
func (e *Engine) Load(ctx context.Context, path, modelType string, opts engine.LoadOptions) (engine.Model, error) {
	modelType = strings.ToLower(strings.TrimSpace(modelType))
	loadErr := func(err error) error {
		return &engine.LoadError{Path: path, Type: modelType, Err: err}
	}
	if _, ok := supportedTypes[modelType]; !ok {
		return nil, loadErr(fmt.Errorf("unsupported model type %q", modelType))
	}

	m := &Model{
		name:   filepath.Base(path),
		client: e.cfg.HTTPClient,
		logger: e.cfg.Logger,
	}

	if url := strings.TrimSpace(e.cfg.ServerURL); url != "" {
		m.baseURL = strings.TrimSuffix(url, "/")
		if err := waitForHealth(ctx, m.client, m.baseURL, e.cfg.HealthTimeout, nil); err != nil {
			return nil, loadErr(fmt.Errorf("llama-server at %s: %w", m.baseURL, err))
		}
		e.cfg.Logger.Printf("attached to llama-server %s model=%s", m.baseURL, m.name)
		return m, nil
	}

	abs, _ := filepath.Abs(path)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, loadErr(fmt.Errorf("model file not found at: %s", abs))
		}
		return nil, loadErr(err)
	}

	sub, err := newSubprocess(subprocessConfig{
		BinPath:       e.cfg.BinPath,
		Args:          buildArgs(abs, opts),
		HealthTimeout: e.cfg.HealthTimeout,
		Logger:        e.cfg.Logger,
		Client:        m.client,
	})
	if err != nil {
		return nil, loadErr(err)
	}
	if err := sub.Start(ctx); err != nil {
		return nil, loadErr(err)
	}
	m.sub = sub
	m.baseURL = sub.BaseURL()
	e.cfg.Logger.Printf("model loaded name=%s ctx=%d gpu_layers=%d", m.name, opts.ContextLength, opts.GPULayers)
	return m, nil
}

func buildArgs(modelPath string, opts engine.LoadOptions) []string {
	args := []string{
		"--model", modelPath,
		"--host", "127.0.0.1",
		"--n-gpu-layers", fmt.Sprintf("%d", opts.GPULayers),
	}
	if opts.ContextLength > 0 {
		args = append(args, "--ctx-size", fmt.Sprintf("%d", opts.ContextLength))
	}
	if opts.Threads > 0 {
		args = append(args, "--threads", fmt.Sprintf("%d", opts.Threads))
	}
	return args
}

// Model is a model served by a llama-server process.
type Model struct {
	name    string
	baseURL string
	client  *http.Client
	sub     *subprocess
	logger  *log.Logger
}

type completionRequest struct {
	Prompt      string   `json:"prompt"`
	NPredict    int      `json:"n_predict,omitempty"`
	Stream      bool     `json:"stream"`
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	Stop        []string `json:"stop,omitempty"`
	CachePrompt bool     `json:"cache_prompt"`
}

type completionChunk struct {
	Content string `json:"content"`
	Stop    bool   `json:"stop"`
}

// Generate posts to /completion and relays its SSE stream token by token.
func (m *Model) Generate(ctx context.Context, prompt string, opts engine.GenerateOptions) (<-chan engine.Token, error) {
	body, err := json.Marshal(completionRequest{
		Prompt:      prompt,
		NPredict:    opts.MaxNewTokens,
		Stream:      true,
		Temperature: opts.Temperature,
		TopP:        opts.TopP,
		Stop:        opts.Stop,
		CachePrompt: true,
	})
	if err != nil {
		return nil, fmt.Errorf("llamacpp: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/completion", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llamacpp: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("llamacpp: send request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("llamacpp: http %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	ch := make(chan engine.Token)
	go func() {
		defer close(ch)
		defer resp.Body.Close()
		send := func(tok engine.Token) bool {
			select {
			case ch <- tok:
				return true
			case <-ctx.Done():
				return false
			}
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "" || data == "[DONE]" {
				continue
			}
			var chunk completionChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				send(engine.Token{Err: fmt.Errorf("llamacpp: decode chunk: %w", err)})
				return
			}
			if chunk.Content != "" && !send(engine.Token{Text: chunk.Content}) {
				return
			}
			if chunk.Stop {
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			send(engine.Token{Err: fmt.Errorf("llamacpp: read stream: %w", err)})
		}
	}()
	return ch, nil
}

// Health probes llama-server's /health endpoint.
func (m *Model) Health(ctx context.Context) error {
	return healthCheck(ctx, m.client, m.baseURL)
}

func (m *Model) Name() string { return m.name }

// Close stops the spawned llama-server, if any.
func (m *Model) Close() error {
	if m.sub != nil {
		return m.sub.GracefulStop()
	}
	return nil
}
