package link

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig(RoleInitiator)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Expected defaults to validate: %v", err)
	}
	if cfg.ProbeInterval != 3*time.Second || cfg.WatchdogTimeout != 8*time.Second || cfg.WatchdogWarn != 2*time.Second {
		t.Errorf("Unexpected timing defaults: %+v", cfg)
	}
	if cfg.Scan.Interval != 28125*time.Microsecond || cfg.Scan.Window != 9375*time.Microsecond {
		t.Errorf("Expected 45/15 scan units, got %v/%v", cfg.Scan.Interval, cfg.Scan.Window)
	}
	if cfg.ForwardAckToListener {
		t.Errorf("Expected acks to stay internal by default")
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero probe", func(c *Config) { c.ProbeInterval = 0 }},
		{"zero timeout", func(c *Config) { c.WatchdogTimeout = 0 }},
		{"warn at timeout", func(c *Config) { c.WatchdogWarn = c.WatchdogTimeout }},
		{"negative warn", func(c *Config) { c.WatchdogWarn = -time.Second }},
		{"window above interval", func(c *Config) { c.Scan.Window = c.Scan.Interval + time.Millisecond }},
		{"empty match", func(c *Config) { c.Match = MatchPredicate{} }},
		{"same tokens", func(c *Config) { c.Tokens.Ack = c.Tokens.Probe }},
		{"no inbox", func(c *Config) { c.InboxSize = 0 }},
		{"bad role", func(c *Config) { c.Role = Role(7) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig(RoleInitiator)
			tt.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Expected ErrInvalidConfig, got %v", err)
			}
		})
	}

	// The responder needs no match predicate.
	cfg := DefaultConfig(RoleResponder)
	cfg.Match = MatchPredicate{}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected responder without match to validate, got %v", err)
	}
}

func TestLoadConfig(t *testing.T) {
	dir, err := os.MkdirTemp("/tmp", "bl-cfg-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	svc := uuid.New()
	path := filepath.Join(dir, "link.yaml")
	yamlData := `
identity: bench-central
probe_interval: 1500ms
watchdog_timeout: 5s
watchdog_warn: 1s
scan:
  interval: 100ms
  window: 50ms
  active: false
match:
  service: ` + svc.String() + `
  name: ""
tokens:
  probe: HBRQ
  ack: HBOK
forward_ack_to_listener: true
status_report_interval: 0s
inbox_size: 64
`
	if err := os.WriteFile(path, []byte(yamlData), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := LoadConfig(path, RoleInitiator)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Identity != "bench-central" {
		t.Errorf("Expected identity bench-central, got %q", cfg.Identity)
	}
	if cfg.ProbeInterval != 1500*time.Millisecond || cfg.WatchdogTimeout != 5*time.Second || cfg.WatchdogWarn != time.Second {
		t.Errorf("Unexpected timing: %v %v %v", cfg.ProbeInterval, cfg.WatchdogTimeout, cfg.WatchdogWarn)
	}
	if cfg.Scan.Active || cfg.Scan.Interval != 100*time.Millisecond {
		t.Errorf("Unexpected scan params: %+v", cfg.Scan)
	}
	if cfg.Match.ServiceUUID != svc || cfg.Match.Name != "" {
		t.Errorf("Unexpected match: %+v", cfg.Match)
	}
	if cfg.Tokens.Probe.String() != "HBRQ" || cfg.Tokens.Ack.String() != "HBOK" {
		t.Errorf("Unexpected tokens: %s/%s", cfg.Tokens.Probe, cfg.Tokens.Ack)
	}
	if !cfg.ForwardAckToListener || cfg.StatusReportInterval != 0 || cfg.InboxSize != 64 {
		t.Errorf("Unexpected misc settings: %+v", cfg)
	}
}

func TestParseConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad duration", "probe_interval: soon\n"},
		{"bad uuid", "match:\n  service: not-a-uuid\n"},
		{"short token", "tokens:\n  probe: HB\n"},
		{"warn over timeout", "watchdog_timeout: 1s\nwatchdog_warn: 2s\n"},
		{"not yaml", "inbox_size: [1, 2\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseConfig([]byte(tt.yaml), RoleInitiator); err == nil {
				t.Errorf("Expected error for %q", tt.yaml)
			}
		})
	}

	if _, err := LoadConfig("/nonexistent/link.yaml", RoleResponder); err == nil {
		t.Errorf("Expected error for a missing file")
	}
}

func TestParseRole(t *testing.T) {
	for _, s := range []string{"initiator", "Client", "central"} {
		if r, err := ParseRole(s); err != nil || r != RoleInitiator {
			t.Errorf("Expected %q to parse as initiator, got %v %v", s, r, err)
		}
	}
	for _, s := range []string{"responder", "server", "PERIPHERAL"} {
		if r, err := ParseRole(s); err != nil || r != RoleResponder {
			t.Errorf("Expected %q to parse as responder, got %v %v", s, r, err)
		}
	}
	if _, err := ParseRole("observer"); err == nil {
		t.Errorf("Expected error for unknown role")
	}
}

func TestElapsedWraps(t *testing.T) {
	if got := Elapsed(5, ^Millis(0)-4); got != 10 {
		t.Errorf("Expected 10 across rollover, got %d", got)
	}
	clock := NewManualClock(^Millis(0))
	clock.Advance(2 * time.Millisecond)
	if clock.Now() != 1 {
		t.Errorf("Expected manual clock to wrap to 1, got %d", clock.Now())
	}
	if ToMillis(1500*time.Microsecond) != 1 {
		t.Errorf("Expected sub-millisecond truncation")
	}
	if Millis(250).Duration() != 250*time.Millisecond {
		t.Errorf("Expected 250ms")
	}
}
