package llamacpp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tokligence/localllama/internal/engine"
)

func fakeServer(t *testing.T, chunks []string) (*httptest.Server, *completionRequest) {
	t.Helper()
	var got completionRequest
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("/completion", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if got.Prompt == "fail" {
			http.Error(w, "slot unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, c := range chunks {
			data, _ := json.Marshal(completionChunk{Content: c})
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: {\"content\":\"\",\"stop\":true}\n\n")
		flusher.Flush()
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &got
}

func TestGenerateRelaysCompletionStream(t *testing.T) {
	srv, got := fakeServer(t, []string{"Hello", ",", " world"})
	eng := New(Config{ServerURL: srv.URL + "/", HealthTimeout: time.Second})

	model, err := eng.Load(context.Background(), "models/llama-2-7b-chat.Q4_K_M.gguf", "llama", engine.LoadOptions{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if model.Name() != "llama-2-7b-chat.Q4_K_M.gguf" {
		t.Fatalf("unexpected name %q", model.Name())
	}
	if err := model.Health(context.Background()); err != nil {
		t.Fatalf("Health: %v", err)
	}

	temp := 0.8
	ch, err := model.Generate(context.Background(), "[INST] hi [/INST]", engine.GenerateOptions{MaxNewTokens: 16, Temperature: &temp})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	var sb strings.Builder
	for tok := range ch {
		if tok.Err != nil {
			t.Fatalf("stream error: %v", tok.Err)
		}
		sb.WriteString(tok.Text)
	}
	if sb.String() != "Hello, world" {
		t.Fatalf("unexpected text %q", sb.String())
	}
	if !got.Stream || got.NPredict != 16 || got.Prompt != "[INST] hi [/INST]" {
		t.Fatalf("unexpected request %+v", got)
	}
	if got.Temperature == nil || *got.Temperature != 0.8 {
		t.Fatalf("temperature not forwarded: %+v", got.Temperature)
	}
	if err := model.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestGenerateReportsUpstreamError(t *testing.T) {
	srv, _ := fakeServer(t, nil)
	model, err := New(Config{ServerURL: srv.URL, HealthTimeout: time.Second}).
		Load(context.Background(), "m.gguf", "llama", engine.LoadOptions{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	_, err = model.Generate(context.Background(), "fail", engine.GenerateOptions{})
	if err == nil || !strings.Contains(err.Error(), "503") {
		t.Fatalf("expected http 503 error, got %v", err)
	}
}

func TestLoadRejectsUnsupportedType(t *testing.T) {
	_, err := New(Config{}).Load(context.Background(), "m.gguf", "falcon", engine.LoadOptions{})
	var loadErr *engine.LoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("expected LoadError, got %v", err)
	}
	if loadErr.Type != "falcon" {
		t.Fatalf("unexpected type %q", loadErr.Type)
	}
}

func TestLoadMissingModelFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.gguf")
	_, err := New(Config{}).Load(context.Background(), path, "llama", engine.LoadOptions{})
	var loadErr *engine.LoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("expected LoadError, got %v", err)
	}
	if !strings.Contains(err.Error(), "model file not found at: "+path) {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestLoadAttachFailsWhenServerDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	_, err := New(Config{ServerURL: srv.URL, HealthTimeout: 300 * time.Millisecond}).
		Load(context.Background(), "m.gguf", "llama", engine.LoadOptions{})
	var loadErr *engine.LoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("expected LoadError, got %v", err)
	}
}

func TestBuildArgs(t *testing.T) {
	args := strings.Join(buildArgs("/m.gguf", engine.LoadOptions{ContextLength: 2048, GPULayers: 10, Threads: 4}), " ")
	for _, want := range []string{"--model /m.gguf", "--ctx-size 2048", "--n-gpu-layers 10", "--threads 4"} {
		if !strings.Contains(args, want) {
			t.Fatalf("args %q missing %q", args, want)
		}
	}
	if strings.Contains(strings.Join(buildArgs("/m.gguf", engine.LoadOptions{}), " "), "--threads") {
		t.Fatalf("threads should be omitted when zero")
	}
}

func TestAllocatePort(t *testing.T) {
	port, err := allocatePort()
	if err != nil {
		t.Fatalf("allocatePort: %v", err)
	}
	if port <= 0 || port > 65535 {
		t.Fatalf("invalid port %d", port)
	}
}
