package health

import (
	"context"
	"errors"
	"testing"
	"time"
)

func ok(context.Context) error { return nil }

func failing(context.Context) error { return errors.New("connection refused") }

func TestCheckerStatuses(t *testing.T) {
	cases := []struct {
		name   string
		probes []Probe
		want   Status
	}{
		{"all healthy", []Probe{{Name: "model", Critical: true, Check: ok}, {Name: "ledger", Check: ok}}, StatusHealthy},
		{"non-critical failure", []Probe{{Name: "model", Critical: true, Check: ok}, {Name: "ledger", Check: failing}}, StatusDegraded},
		{"critical failure", []Probe{{Name: "model", Critical: true, Check: failing}, {Name: "ledger", Check: ok}}, StatusUnhealthy},
		{"unconfigured", []Probe{{Name: "registry"}}, StatusHealthy},
		{"no probes", nil, StatusHealthy},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status := New(Config{Probes: tc.probes}).Check(context.Background())
			if status.Status != tc.want {
				t.Fatalf("unexpected status %s, want %s (%+v)", status.Status, tc.want, status.Components)
			}
			if len(status.Components) != len(tc.probes) {
				t.Fatalf("expected %d components, got %d", len(tc.probes), len(status.Components))
			}
		})
	}
}

func TestCheckerSlowProbeDegrades(t *testing.T) {
	slow := func(ctx context.Context) error {
		time.Sleep(20 * time.Millisecond)
		return nil
	}
	c := New(Config{Probes: []Probe{{Name: "ledger", Check: slow}}, MaxLatency: time.Millisecond})
	if got := c.Check(context.Background()).Status; got != StatusDegraded {
		t.Fatalf("expected degraded, got %s", got)
	}
	if got := c.GetLastStatus().Status; got != StatusDegraded {
		t.Fatalf("last status should be remembered, got %s", got)
	}
}

func TestCheckerTimeout(t *testing.T) {
	hang := func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
	c := New(Config{Probes: []Probe{{Name: "model", Critical: true, Check: hang}}, Timeout: 10 * time.Millisecond})
	status := c.Check(context.Background())
	if status.Status != StatusUnhealthy || status.Components[0].Error == "" {
		t.Fatalf("expected unhealthy with error, got %+v", status)
	}
}
