package llamacpp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
	"syscall"
	"time"
)

type subprocessConfig struct {
	BinPath       string
	Args          []string
	Port          int // 0 = auto-allocate
	HealthTimeout time.Duration
	Logger        *log.Logger
	Client        *http.Client
}

// subprocess owns one llama-server child process.
type subprocess struct {
	cfg     subprocessConfig
	port    int
	baseURL string

	mu     sync.Mutex
	cmd    *exec.Cmd
	doneCh chan struct{}
}

func allocatePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("allocate port: %w", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port, nil
}

func newSubprocess(cfg subprocessConfig) (*subprocess, error) {
	binPath, err := exec.LookPath(cfg.BinPath)
	if err != nil {
		return nil, fmt.Errorf("llama-server binary %q not found: %w", cfg.BinPath, err)
	}
	cfg.BinPath = binPath

	port := cfg.Port
	if port == 0 {
		if port, err = allocatePort(); err != nil {
			return nil, err
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	return &subprocess{
		cfg:     cfg,
		port:    port,
		baseURL: fmt.Sprintf("http://127.0.0.1:%d", port),
		doneCh:  make(chan struct{}),
	}, nil
}

func (s *subprocess) BaseURL() string { return s.baseURL }

// Start launches llama-server and blocks until /health answers 200.
func (s *subprocess) Start(ctx context.Context) error {
	args := append(append([]string{}, s.cfg.Args...), "--port", strconv.Itoa(s.port))
	cmd := exec.Command(s.cfg.BinPath, args...)
	cmd.Env = os.Environ()
	s.pipeOutput(cmd)

	s.cfg.Logger.Printf("[llama-server] starting: %s (port %d)", s.cfg.BinPath, s.port)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start llama-server: %w", err)
	}
	s.mu.Lock()
	s.cmd = cmd
	s.mu.Unlock()

	go func() {
		_ = cmd.Wait()
		close(s.doneCh)
	}()

	if err := waitForHealth(ctx, s.cfg.Client, s.baseURL, s.cfg.HealthTimeout, s.doneCh); err != nil {
		_ = s.GracefulStop()
		return fmt.Errorf("llama-server failed to become healthy: %w", err)
	}
	s.cfg.Logger.Printf("[llama-server] ready on port %d", s.port)
	return nil
}

// GracefulStop sends SIGTERM, waits up to 5 seconds, then kills.
func (s *subprocess) GracefulStop() error {
	s.mu.Lock()
	cmd := s.cmd
	s.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	var sigErr error
	if runtime.GOOS == "windows" {
		sigErr = cmd.Process.Signal(os.Interrupt)
	} else {
		sigErr = cmd.Process.Signal(syscall.SIGTERM)
	}
	if sigErr != nil {
		// already exited
		return nil
	}
	select {
	case <-s.doneCh:
		return nil
	case <-time.After(5 * time.Second):
		s.cfg.Logger.Printf("[llama-server] no exit after SIGTERM, killing pid %d", cmd.Process.Pid)
		if err := cmd.Process.Kill(); err != nil {
			return fmt.Errorf("kill llama-server: %w", err)
		}
		<-s.doneCh
		return nil
	}
}

func (s *subprocess) pipeOutput(cmd *exec.Cmd) {
	if out, err := cmd.StdoutPipe(); err == nil {
		go s.scanLines(out)
	}
	if errOut, err := cmd.StderrPipe(); err == nil {
		go s.scanLines(errOut)
	}
}

func (s *subprocess) scanLines(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		s.cfg.Logger.Printf("[llama-server] %s", scanner.Text())
	}
}

// waitForHealth polls baseURL/health until it returns 200, the deadline
// passes, ctx ends, or exited is closed.
func waitForHealth(ctx context.Context, client *http.Client, baseURL string, timeout time.Duration, exited <-chan struct{}) error {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	if healthCheck(ctx, client, baseURL) == nil {
		return nil
	}
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-exited:
			return fmt.Errorf("process exited during startup")
		case <-ticker.C:
			if time.Now().After(deadline) {
				return fmt.Errorf("timeout after %s", timeout)
			}
			if healthCheck(ctx, client, baseURL) == nil {
				return nil
			}
		}
	}
}

func healthCheck(ctx context.Context, client *http.Client, baseURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned %d", resp.StatusCode)
	}
	return nil
}
