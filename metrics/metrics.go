// Package metrics exposes controller lifecycle events as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/user/blelink/link"
)

const namespace = "blelink"

// Collector is a link.Recorder that turns events into metrics
type Collector struct {
	events      *prometheus.CounterVec
	state       *prometheus.GaugeVec
	transitions *prometheus.CounterVec
	roundTrip   prometheus.Histogram
	uptime      prometheus.GaugeFunc

	reg       prometheus.Registerer
	startTime time.Time
}

// NewCollector creates the link metrics and registers them on reg
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_total",
				Help:      "Lifecycle events recorded by the controller.",
			},
			[]string{"kind"},
		),
		state: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "state",
				Help:      "Current connection state (1 for the active state, 0 otherwise).",
			},
			[]string{"state"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transitions_total",
				Help:      "State transitions by source and destination state.",
			},
			[]string{"from", "to"},
		),
		roundTrip: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "probe_round_trip_seconds",
				Help:      "Time from liveness probe to acknowledgement.",
				// 5ms .. ~10s
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
			},
		),
		reg:       reg,
		startTime: time.Now(),
	}
	c.uptime = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(c.startTime).Seconds() },
	)

	for _, s := range link.AllStates {
		c.state.WithLabelValues(s.String()).Set(0)
	}
	c.state.WithLabelValues(link.StateIdle.String()).Set(1)

	reg.MustRegister(c.events, c.state, c.transitions, c.roundTrip, c.uptime)
	return c
}

// Record updates the metrics for one event
func (c *Collector) Record(e link.Event) {
	c.events.WithLabelValues(string(e.Kind)).Inc()

	switch e.Kind {
	case link.EventStateChanged:
		c.transitions.WithLabelValues(e.From, e.To).Inc()
		if e.From != "" {
			c.state.WithLabelValues(e.From).Set(0)
		}
		c.state.WithLabelValues(e.To).Set(1)
	case link.EventAckReceived:
		if e.RoundTrip > 0 {
			c.roundTrip.Observe(e.RoundTrip.Seconds())
		}
	}
}

// LinkStats is a point-in-time view of transport traffic
type LinkStats struct {
	FramesSent     int
	FramesReceived int
	Errors         int
}

// WatchLinkStats registers gauges that read transport traffic on each scrape
func (c *Collector) WatchLinkStats(fn func() LinkStats) {
	gauge := func(name, help string, pick func(LinkStats) int) prometheus.Collector {
		return prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "link",
				Name:      name,
				Help:      help,
			},
			func() float64 { return float64(pick(fn())) },
		)
	}
	c.reg.MustRegister(
		gauge("frames_sent", "Frames sent on the active link.", func(s LinkStats) int { return s.FramesSent }),
		gauge("frames_received", "Frames received on the active link.", func(s LinkStats) int { return s.FramesReceived }),
		gauge("errors", "Transport errors since start.", func(s LinkStats) int { return s.Errors }),
	)
}

// Handler exposes /metrics for g
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
