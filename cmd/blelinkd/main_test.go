package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/user/blelink/link"
	"github.com/user/blelink/wire"
)

func changedSet(names ...string) func(string) bool {
	set := make(map[string]bool)
	for _, n := range names {
		set[n] = true
	}
	return func(name string) bool { return set[name] }
}

func TestBuildConfigDefaults(t *testing.T) {
	opts := &options{}
	cfg, err := buildConfig(link.RoleInitiator, opts, changedSet())
	if err != nil {
		t.Fatalf("Failed to build config: %v", err)
	}
	if _, err := uuid.Parse(cfg.Identity); err != nil {
		t.Errorf("Expected a random UUID identity, got %q", cfg.Identity)
	}
	if cfg.Match.Name != link.DefaultPeerName || cfg.Match.ServiceUUID != link.DefaultServiceUUID {
		t.Errorf("Expected default match predicate, got %+v", cfg.Match)
	}
}

func TestBuildConfigOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "link.yaml")
	yaml := "identity: from-file\nmatch:\n  name: FILE\nprobe_interval: 1s\n"
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	other := uuid.MustParse("a1b2c3d4-0001-4000-8000-0000000000ff")

	tests := []struct {
		name         string
		opts         options
		changed      []string
		wantIdentity string
		wantName     string
		wantService  uuid.UUID
	}{
		{
			name:         "file only",
			opts:         options{configPath: path, targetName: link.DefaultPeerName},
			wantIdentity: "from-file",
			wantName:     "FILE",
			wantService:  link.DefaultServiceUUID,
		},
		{
			name:         "flags win",
			opts:         options{configPath: path, identity: "cli", targetName: "CLI", targetService: other.String()},
			changed:      []string{"target-name", "target-service"},
			wantIdentity: "cli",
			wantName:     "CLI",
			wantService:  other,
		},
		{
			name:         "name only match",
			opts:         options{identity: "cli", targetName: "ONLY"},
			changed:      []string{"target-name", "target-service"},
			wantIdentity: "cli",
			wantName:     "ONLY",
			wantService:  uuid.Nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := buildConfig(link.RoleInitiator, &tt.opts, changedSet(tt.changed...))
			if err != nil {
				t.Fatalf("Failed to build config: %v", err)
			}
			if cfg.Identity != tt.wantIdentity {
				t.Errorf("Expected identity %q, got %q", tt.wantIdentity, cfg.Identity)
			}
			if cfg.Match.Name != tt.wantName {
				t.Errorf("Expected name %q, got %q", tt.wantName, cfg.Match.Name)
			}
			if cfg.Match.ServiceUUID != tt.wantService {
				t.Errorf("Expected service %s, got %s", tt.wantService, cfg.Match.ServiceUUID)
			}
		})
	}
}

func TestBuildConfigRejectsEmptyMatch(t *testing.T) {
	opts := &options{identity: "cli"}
	_, err := buildConfig(link.RoleInitiator, opts, changedSet("target-name", "target-service"))
	if err == nil {
		t.Fatalf("Expected an error for an empty match predicate")
	}

	opts.targetService = "not-a-uuid"
	if _, err := buildConfig(link.RoleInitiator, opts, changedSet("target-service")); err == nil {
		t.Fatalf("Expected an error for a malformed service UUID")
	}
}

func TestNewTransport(t *testing.T) {
	opts := &options{name: "LAB", service: link.DefaultServiceUUID.String()}
	cfg := link.DefaultConfig(link.RoleResponder)

	sim, err := newTransport(transportSim, link.RoleResponder, opts, cfg)
	if err != nil {
		t.Fatalf("Failed to build sim transport: %v", err)
	}
	if _, ok := sim.Transport.(*wire.Wire); !ok {
		t.Errorf("Expected a *wire.Wire, got %T", sim.Transport)
	}
	if _, ok := sim.Transport.(link.ScanConfigurer); !ok {
		t.Errorf("Expected the sim transport to accept scan params")
	}
	if stats := sim.stats(); stats.FramesSent != 0 || stats.Errors != 0 {
		t.Errorf("Expected empty stats before init, got %+v", stats)
	}

	if _, err := newTransport("carrier-pigeon", link.RoleResponder, opts, cfg); err == nil {
		t.Errorf("Expected an error for an unknown transport")
	}

	opts.service = "bogus"
	if _, err := newTransport(transportSim, link.RoleResponder, opts, cfg); err == nil {
		t.Errorf("Expected an error for a malformed service UUID")
	}
}

func TestRootRejectsUnknownTransport(t *testing.T) {
	t.Setenv("BLELINK_DIR", t.TempDir())

	root := newRootCmd()
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(out)
	root.SetArgs([]string{"initiator", "--transport", "carrier-pigeon", "--identity", "cli"})

	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "carrier-pigeon") {
		t.Fatalf("Expected an unknown transport error, got %v", err)
	}
}

func TestRootRejectsBadPollInterval(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"responder", "--poll-interval", "0s"})

	if err := root.Execute(); err == nil {
		t.Fatalf("Expected an error for a zero poll interval")
	}
}

func TestReadLines(t *testing.T) {
	out := make(chan string)
	go readLines(context.Background(), strings.NewReader("one\n\n  two  \n"), out)

	var got []string
	for line := range out {
		got = append(got, line)
	}
	if strings.Join(got, ",") != "one,two" {
		t.Errorf("Expected [one two], got %v", got)
	}
}

func TestReadLinesStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan string)
	done := make(chan struct{})
	go func() {
		readLines(ctx, strings.NewReader("one\ntwo\n"), out)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Expected readLines to return after cancel")
	}
}
