package link

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// ScanUnit is the BLE scan interval/window granularity
const ScanUnit = 625 * time.Microsecond

var (
	// DefaultServiceUUID is the service the Responder exposes and the Initiator looks for
	DefaultServiceUUID = uuid.MustParse("a1b2c3d4-0001-4000-8000-000000000001")
	// CommandCharacteristicUUID backs the command channel
	CommandCharacteristicUUID = uuid.MustParse("a1b2c3d4-0002-4000-8000-000000000001")
	// StatusCharacteristicUUID backs the status channel
	StatusCharacteristicUUID = uuid.MustParse("a1b2c3d4-0003-4000-8000-000000000001")
)

const (
	// DefaultPeerName is the Responder's advertised local name
	DefaultPeerName = "BBLH"
	// StatusReady is notified by the Responder once a link is usable
	StatusReady = "READY"
	// StatusCommandReceived is notified by the Responder after each command
	StatusCommandReceived = "CMD_RX"
)

// ScanParams are passed through to the transport when scanning
type ScanParams struct {
	Interval time.Duration
	Window   time.Duration
	Active   bool
}

// Config holds the constants a Controller runs with
type Config struct {
	Role     Role
	Identity string

	ProbeInterval   time.Duration
	WatchdogTimeout time.Duration
	WatchdogWarn    time.Duration

	Scan   ScanParams
	Match  MatchPredicate
	Tokens Tokens

	// ForwardAckToListener also hands ack tokens to the OnData listener
	// after they have kicked the watchdog.
	ForwardAckToListener bool

	// StatusReportInterval is how often the current state is logged. Zero disables.
	StatusReportInterval time.Duration
	// InboxSize bounds the queue between transport callbacks and Poll
	InboxSize int
}

// DefaultConfig returns the stock timing and match settings for role
func DefaultConfig(role Role) Config {
	return Config{
		Role:            role,
		ProbeInterval:   3 * time.Second,
		WatchdogTimeout: 8 * time.Second,
		WatchdogWarn:    2 * time.Second,
		Scan: ScanParams{
			Interval: 45 * ScanUnit,
			Window:   15 * ScanUnit,
			Active:   true,
		},
		Match: MatchPredicate{
			ServiceUUID: DefaultServiceUUID,
			Name:        DefaultPeerName,
		},
		Tokens:               DefaultTokens,
		StatusReportInterval: 3 * time.Second,
		InboxSize:            256,
	}
}

func (c Config) Validate() error {
	if c.Role != RoleInitiator && c.Role != RoleResponder {
		return fmt.Errorf("%w: unknown role %v", ErrInvalidConfig, c.Role)
	}
	if c.ProbeInterval <= 0 {
		return fmt.Errorf("%w: probe interval must be positive", ErrInvalidConfig)
	}
	if c.WatchdogTimeout <= 0 {
		return fmt.Errorf("%w: watchdog timeout must be positive", ErrInvalidConfig)
	}
	if c.WatchdogWarn < 0 || c.WatchdogWarn >= c.WatchdogTimeout {
		return fmt.Errorf("%w: watchdog warn %v must be below timeout %v", ErrInvalidConfig, c.WatchdogWarn, c.WatchdogTimeout)
	}
	if c.Scan.Window > c.Scan.Interval {
		return fmt.Errorf("%w: scan window %v exceeds interval %v", ErrInvalidConfig, c.Scan.Window, c.Scan.Interval)
	}
	if c.Role == RoleInitiator && c.Match.ServiceUUID == uuid.Nil && c.Match.Name == "" {
		return fmt.Errorf("%w: match predicate needs a service UUID or a name", ErrInvalidConfig)
	}
	if err := c.Tokens.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.InboxSize <= 0 {
		return fmt.Errorf("%w: inbox size must be positive", ErrInvalidConfig)
	}
	return nil
}

// fileConfig is the YAML layout. Durations are Go duration strings.
type fileConfig struct {
	Identity        string `yaml:"identity"`
	ProbeInterval   string `yaml:"probe_interval"`
	WatchdogTimeout string `yaml:"watchdog_timeout"`
	WatchdogWarn    string `yaml:"watchdog_warn"`
	Scan            struct {
		Interval string `yaml:"interval"`
		Window   string `yaml:"window"`
		Active   *bool  `yaml:"active"`
	} `yaml:"scan"`
	Match struct {
		Service *string `yaml:"service"`
		Name    *string `yaml:"name"`
	} `yaml:"match"`
	Tokens struct {
		Probe string `yaml:"probe"`
		Ack   string `yaml:"ack"`
	} `yaml:"tokens"`
	ForwardAckToListener *bool  `yaml:"forward_ack_to_listener"`
	StatusReportInterval string `yaml:"status_report_interval"`
	InboxSize            int    `yaml:"inbox_size"`
}

// LoadConfig reads a YAML file and overlays it on DefaultConfig(role)
func LoadConfig(path string, role Role) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	cfg, err := ParseConfig(data, role)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig overlays YAML data on DefaultConfig(role) and validates the result
func ParseConfig(data []byte, role Role) (Config, error) {
	cfg := DefaultConfig(role)

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return Config{}, fmt.Errorf("failed to parse yaml: %w", err)
	}

	if fc.Identity != "" {
		cfg.Identity = fc.Identity
	}
	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"probe_interval", fc.ProbeInterval, &cfg.ProbeInterval},
		{"watchdog_timeout", fc.WatchdogTimeout, &cfg.WatchdogTimeout},
		{"watchdog_warn", fc.WatchdogWarn, &cfg.WatchdogWarn},
		{"scan.interval", fc.Scan.Interval, &cfg.Scan.Interval},
		{"scan.window", fc.Scan.Window, &cfg.Scan.Window},
		{"status_report_interval", fc.StatusReportInterval, &cfg.StatusReportInterval},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", d.name, err)
		}
		*d.dst = v
	}

	if fc.Scan.Active != nil {
		cfg.Scan.Active = *fc.Scan.Active
	}
	if fc.Match.Service != nil {
		if *fc.Match.Service == "" {
			cfg.Match.ServiceUUID = uuid.Nil
		} else {
			svc, err := uuid.Parse(*fc.Match.Service)
			if err != nil {
				return Config{}, fmt.Errorf("match.service: %w", err)
			}
			cfg.Match.ServiceUUID = svc
		}
	}
	if fc.Match.Name != nil {
		cfg.Match.Name = *fc.Match.Name
	}
	if fc.Tokens.Probe != "" {
		t, err := ParseToken(fc.Tokens.Probe)
		if err != nil {
			return Config{}, fmt.Errorf("tokens.probe: %w", err)
		}
		cfg.Tokens.Probe = t
	}
	if fc.Tokens.Ack != "" {
		t, err := ParseToken(fc.Tokens.Ack)
		if err != nil {
			return Config{}, fmt.Errorf("tokens.ack: %w", err)
		}
		cfg.Tokens.Ack = t
	}
	if fc.ForwardAckToListener != nil {
		cfg.ForwardAckToListener = *fc.ForwardAckToListener
	}
	if fc.InboxSize > 0 {
		cfg.InboxSize = fc.InboxSize
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
