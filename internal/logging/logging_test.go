package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewWritesFileAndStdout(t *testing.T) {
	var stdout bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "localllamad.log")
	logger, closer, err := New(Config{File: path, Prefix: "[localllamad] ", Stdout: &stdout})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Printf("listening on %s", "127.0.0.1:8000")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	for name, got := range map[string]string{"file": string(data), "stdout": stdout.String()} {
		if !strings.Contains(got, "[localllamad] ") || !strings.Contains(got, "listening on 127.0.0.1:8000") {
			t.Fatalf("unexpected %s output %q", name, got)
		}
	}
}

func TestNewStdoutOnly(t *testing.T) {
	var stdout bytes.Buffer
	logger, closer, err := New(Config{File: "-", Stdout: &stdout})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer closer.Close()
	Component(logger, "[http] ").Printf("hello")
	if !strings.Contains(stdout.String(), "[http] ") {
		t.Fatalf("component prefix missing: %q", stdout.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{"": LevelInfo, "INFO": LevelInfo, " debug ": LevelDebug}
	for raw, want := range cases {
		got, err := ParseLevel(raw)
		if err != nil || got != want {
			t.Fatalf("ParseLevel(%q) = %q, %v", raw, got, err)
		}
	}
	if _, err := ParseLevel("trace"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}
