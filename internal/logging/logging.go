package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Level is a coarse log level. Only debug output is gated; everything else
// is always written.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
)

// ParseLevel accepts "debug" or "info" (case-insensitive). Empty means info.
func ParseLevel(raw string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "info":
		return LevelInfo, nil
	case "debug":
		return LevelDebug, nil
	default:
		return "", fmt.Errorf("unknown log level %q", raw)
	}
}

// Config describes where process logs go.
type Config struct {
	// File is the log file path. Empty or "-" logs to Stdout only.
	File       string
	MaxSizeMB  int // rotate after this many megabytes (default 300)
	MaxBackups int // rotated files to keep (default 7)
	MaxAgeDays int // days to keep rotated files (default 14)
	Prefix     string
	Stdout     io.Writer
}

// New builds a logger that mirrors to Stdout and, when File is set, to a
// size-rotated file. The returned closer releases the file.
func New(cfg Config) (*log.Logger, io.Closer, error) {
	stdout := cfg.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	flags := log.LstdFlags | log.Lmicroseconds | log.LUTC

	path := strings.TrimSpace(cfg.File)
	if path == "" || path == "-" {
		return log.New(stdout, cfg.Prefix, flags), nopCloser{}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log dir: %w", err)
	}

	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 300
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 7
	}
	if cfg.MaxAgeDays <= 0 {
		cfg.MaxAgeDays = 14
	}
	file := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		LocalTime:  false,
	}
	return log.New(io.MultiWriter(stdout, file), cfg.Prefix, flags), file, nil
}

// Component returns a logger sharing base's output with its own prefix.
func Component(base *log.Logger, prefix string) *log.Logger {
	if base == nil {
		base = log.Default()
	}
	return log.New(base.Writer(), prefix, base.Flags())
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
