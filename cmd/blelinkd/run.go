package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/user/blelink/indicator"
	"github.com/user/blelink/journal"
	"github.com/user/blelink/link"
	"github.com/user/blelink/logger"
	"github.com/user/blelink/metrics"
	"github.com/user/blelink/radio"
	"github.com/user/blelink/util"
	"github.com/user/blelink/wire"
)

const (
	transportSim   = "sim"
	transportRadio = "radio"
)

// transportHandle is a built transport plus whatever the run loop needs from it
type transportHandle struct {
	link.Transport
	close func() error
	stats func() metrics.LinkStats
}

// newTransport builds the named transport for role
func newTransport(kind string, role link.Role, opts *options, cfg link.Config) (*transportHandle, error) {
	svc, err := linkService(role, opts, cfg)
	if err != nil {
		return nil, err
	}

	switch kind {
	case transportSim:
		wopts := wire.DefaultOptions()
		wopts.Service = svc
		if role == link.RoleResponder {
			wopts.Name = opts.name
		}
		w := wire.NewWire(wopts)
		return &transportHandle{
			Transport: w,
			close:     w.Close,
			stats: func() metrics.LinkStats {
				snap := w.Health()
				stats := metrics.LinkStats{Errors: snap.TotalErrors}
				if snap.Active != nil {
					stats.FramesSent = snap.Active.FramesSent
					stats.FramesReceived = snap.Active.FramesReceived
				}
				return stats
			},
		}, nil
	case transportRadio:
		ropts := radio.DefaultOptions()
		ropts.Service = svc
		if role == link.RoleResponder {
			ropts.Name = opts.name
		}
		return &transportHandle{
			Transport: radio.NewAdapter(ropts),
			close:     func() error { return nil },
		}, nil
	default:
		return nil, fmt.Errorf("unknown transport %q (want %s or %s)", kind, transportSim, transportRadio)
	}
}

func run(cmd *cobra.Command, opts *options, role link.Role) error {
	cfg, err := buildConfig(role, opts, cmd.Flags().Changed)
	if err != nil {
		return err
	}
	t, err := newTransport(opts.transport, role, opts, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := t.close(); err != nil {
			logger.Warn(util.ShortID(cfg.Identity), "Closing transport: %v", err)
		}
	}()

	prefix := fmt.Sprintf("%s %s", util.ShortID(cfg.Identity), role)

	j, err := journal.Open(opts.journal, cfg.Identity)
	if err != nil {
		return err
	}
	defer j.Close()

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)
	if t.stats != nil {
		collector.WatchLinkStats(t.stats)
	}
	if opts.metricsAddr != "" {
		srv := serveMetrics(opts.metricsAddr, reg, prefix)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			srv.Shutdown(ctx)
		}()
	}

	ctrl, err := link.NewController(cfg, t.Transport, link.WithRecorder(link.MultiRecorder{j, collector}))
	if err != nil {
		return err
	}

	led := indicator.NewLogIndicator(prefix)
	led.Show(indicator.PatternBoot)
	ctrl.OnStateChange(indicator.Follow(role, led))
	ctrl.OnData(func(ch link.Channel, data []byte) {
		fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s\n", ch, data)
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := ctrl.Start(ctx); err != nil {
		return err
	}
	defer ctrl.Stop()

	logger.Info(prefix, "Running (identity %s, transport %s, journal %s)", cfg.Identity, opts.transport, opts.journal)

	lines := make(chan string)
	go readLines(ctx, cmd.InOrStdin(), lines)

	return loop(ctx, ctrl, lines, opts.pollInterval, prefix)
}

// loop polls the controller until ctx ends. Input lines become commands on
// the Initiator and status notifications on the Responder.
func loop(ctx context.Context, ctrl *link.Controller, lines <-chan string, interval time.Duration, prefix string) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info(prefix, "Shutting down")
			return nil
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			if err := sendLine(ctrl, line); err != nil {
				logger.Warn(prefix, "Dropped %q: %v", line, err)
			}
		case <-ticker.C:
			ctrl.Poll()
		}
	}
}

func sendLine(ctrl *link.Controller, line string) error {
	if ctrl.Role() == link.RoleInitiator {
		return ctrl.SendCommand([]byte(line))
	}
	return ctrl.NotifyStatus(line)
}

// readLines forwards non-empty lines from r and closes out at EOF
func readLines(ctx context.Context, r io.Reader, out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		select {
		case out <- line:
		case <-ctx.Done():
			return
		}
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, prefix string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(prefix, "Metrics server: %v", err)
		}
	}()
	logger.Info(prefix, "Serving metrics on %s/metrics", addr)
	return srv
}
