package main

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/user/blelink/link"
	"github.com/user/blelink/logger"
	"github.com/user/blelink/util"
)

// options holds every command line flag
type options struct {
	configPath   string
	identity     string
	transport    string
	dataDir      string
	logLevel     string
	journal      string
	metricsAddr  string
	pollInterval time.Duration

	// Initiator
	targetName    string
	targetService string

	// Responder
	name    string
	service string
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "blelinkd",
		Short: "Keeps a single BLE link alive between an initiator and a responder",
		Long: `blelinkd runs one side of a BLE link. The initiator scans for a responder
advertising the link service, connects, and probes it with heartbeats; the
responder advertises, answers probes, and reports commands on its status
channel. Either side drops a silent link and goes back to discovery.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return applyGlobals(opts)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "YAML config file")
	pf.StringVar(&opts.identity, "identity", "", "device identity (default: from config or a random UUID)")
	pf.StringVar(&opts.transport, "transport", "sim", "radio transport: sim or radio")
	pf.StringVar(&opts.dataDir, "data-dir", "", "data directory for the simulator and journals (default $"+util.DataDirEnv+" or ~/.blelink-data)")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	pf.StringVar(&opts.journal, "journal", "off", "event journal: off, jsonl, jsonl:<path>, sqlite:<path>")
	pf.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9100)")
	pf.DurationVar(&opts.pollInterval, "poll-interval", 10*time.Millisecond, "controller poll interval")

	initiator := &cobra.Command{
		Use:   "initiator",
		Short: "Scan for a responder and keep a link to it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, link.RoleInitiator)
		},
	}
	initiator.Flags().StringVar(&opts.targetName, "target-name", link.DefaultPeerName, "connect to a responder advertising this name")
	initiator.Flags().StringVar(&opts.targetService, "target-service", link.DefaultServiceUUID.String(), "connect to a responder advertising this service UUID")

	responder := &cobra.Command{
		Use:   "responder",
		Short: "Advertise the link service and answer an initiator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, link.RoleResponder)
		},
	}
	responder.Flags().StringVar(&opts.name, "name", link.DefaultPeerName, "local name to advertise")
	responder.Flags().StringVar(&opts.service, "service", link.DefaultServiceUUID.String(), "service UUID to advertise")

	root.AddCommand(initiator, responder)
	return root
}

// applyGlobals applies flags that affect every package before anything runs
func applyGlobals(opts *options) error {
	if opts.dataDir != "" {
		if err := os.Setenv(util.DataDirEnv, opts.dataDir); err != nil {
			return err
		}
	}
	if opts.logLevel != "" {
		logger.SetLevel(logger.ParseLevel(opts.logLevel))
	}
	if opts.pollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %v", opts.pollInterval)
	}
	return nil
}

// buildConfig loads the config file if any and applies flag overrides.
// changed reports whether a flag was set on the command line.
func buildConfig(role link.Role, opts *options, changed func(name string) bool) (link.Config, error) {
	cfg := link.DefaultConfig(role)
	if opts.configPath != "" {
		loaded, err := link.LoadConfig(opts.configPath, role)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}

	switch {
	case opts.identity != "":
		cfg.Identity = opts.identity
	case cfg.Identity == "":
		cfg.Identity = uuid.NewString()
	}

	if role == link.RoleInitiator {
		if changed("target-name") {
			cfg.Match.Name = opts.targetName
		}
		if changed("target-service") {
			if opts.targetService == "" {
				cfg.Match.ServiceUUID = uuid.Nil
			} else {
				svc, err := uuid.Parse(opts.targetService)
				if err != nil {
					return cfg, fmt.Errorf("invalid --target-service: %w", err)
				}
				cfg.Match.ServiceUUID = svc
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// linkService returns the service UUID the transport exposes or looks for
func linkService(role link.Role, opts *options, cfg link.Config) (uuid.UUID, error) {
	if role == link.RoleInitiator {
		if cfg.Match.ServiceUUID != uuid.Nil {
			return cfg.Match.ServiceUUID, nil
		}
		return link.DefaultServiceUUID, nil
	}
	svc, err := uuid.Parse(opts.service)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid --service: %w", err)
	}
	return svc, nil
}
