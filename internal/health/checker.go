package health

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult holds the result of a health check.
type CheckResult struct {
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	LatencyMS int64     `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
}

// Component is one checked dependency.
type Component struct {
	Name string `json:"name"`
	Type string `json:"type"` // model, registry, database
	CheckResult
}

// Probe checks a single dependency. A failing Critical probe makes the
// whole service unhealthy; any other failure only degrades it.
type Probe struct {
	Name     string
	Type     string
	Critical bool
	Check    func(ctx context.Context) error
}

// Config holds health checker configuration.
type Config struct {
	Probes     []Probe
	Timeout    time.Duration
	MaxLatency time.Duration
}

// Checker runs probes concurrently and remembers the last result.
type Checker struct {
	probes     []Probe
	timeout    time.Duration
	maxLatency time.Duration

	mu   sync.RWMutex
	last []Component
}

// New creates a new health checker.
func New(cfg Config) *Checker {
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.MaxLatency == 0 {
		cfg.MaxLatency = 250 * time.Millisecond
	}
	return &Checker{
		probes:     cfg.Probes,
		timeout:    cfg.Timeout,
		maxLatency: cfg.MaxLatency,
	}
}

// HealthStatus represents the overall health of the system.
type HealthStatus struct {
	Status     Status      `json:"status"`
	Timestamp  time.Time   `json:"timestamp"`
	Components []Component `json:"components"`
}

// Check performs all health checks and returns overall status.
func (c *Checker) Check(ctx context.Context) HealthStatus {
	components := make([]Component, len(c.probes))
	var wg sync.WaitGroup
	for i, p := range c.probes {
		wg.Add(1)
		go func(i int, p Probe) {
			defer wg.Done()
			components[i] = c.run(ctx, p)
		}(i, p)
	}
	wg.Wait()

	c.mu.Lock()
	c.last = components
	c.mu.Unlock()

	return c.overall(components)
}

func (c *Checker) run(ctx context.Context, p Probe) Component {
	comp := Component{
		Name:        p.Name,
		Type:        p.Type,
		CheckResult: CheckResult{Timestamp: time.Now()},
	}
	if p.Check == nil {
		comp.Status = StatusHealthy
		comp.Message = "Not configured"
		return comp
	}

	pctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	start := time.Now()
	err := p.Check(pctx)
	latency := time.Since(start)
	comp.LatencyMS = latency.Milliseconds()

	switch {
	case err != nil:
		comp.Error = err.Error()
		comp.Message = "Unreachable"
		comp.Status = StatusDegraded
		if p.Critical {
			comp.Status = StatusUnhealthy
		}
	case latency > c.maxLatency:
		comp.Status = StatusDegraded
		comp.Message = fmt.Sprintf("High latency: %v", latency)
	default:
		comp.Status = StatusHealthy
		comp.Message = "OK"
	}
	return comp
}

func (c *Checker) overall(components []Component) HealthStatus {
	status := StatusHealthy
	for _, comp := range components {
		switch comp.Status {
		case StatusUnhealthy:
			status = StatusUnhealthy
		case StatusDegraded:
			if status == StatusHealthy {
				status = StatusDegraded
			}
		}
	}
	return HealthStatus{
		Status:     status,
		Timestamp:  time.Now(),
		Components: components,
	}
}

// GetLastStatus returns the last health check result.
func (c *Checker) GetLastStatus() HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.last) == 0 {
		return HealthStatus{Status: StatusHealthy, Timestamp: time.Now()}
	}
	return c.overall(c.last)
}
