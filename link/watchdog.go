package link

import (
	"fmt"
	"time"

	"github.com/user/blelink/logger"
)

// LogSink receives the watchdog's threshold-crossing lines
type LogSink func(level logger.LogLevel, msg string)

// DeadlineWatchdog is a non-blocking dead-peer timer. Kick refreshes the
// deadline; Tick must be called regularly to evaluate it.
//
// Warn and expire are edge-triggered: each logs once per kick window.
// Not safe for concurrent use; the owning poll loop drives it.
type DeadlineWatchdog struct {
	clock    Clock
	timeout  Millis
	warnAt   Millis
	lastKick Millis
	expired  bool
	warned   bool
	sink     LogSink
}

// NewDeadlineWatchdog creates a watchdog that expires timeout after the last
// kick and warns warn before that. A zero warn disables the warning.
// The watchdog starts kicked.
func NewDeadlineWatchdog(clock Clock, timeout, warn time.Duration, sink LogSink) *DeadlineWatchdog {
	return &DeadlineWatchdog{
		clock:    clock,
		timeout:  ToMillis(timeout),
		warnAt:   ToMillis(warn),
		lastKick: clock.Now(),
		sink:     sink,
	}
}

// Kick resets the deadline and clears expired and warned
func (w *DeadlineWatchdog) Kick() {
	w.lastKick = w.clock.Now()
	w.expired = false
	w.warned = false
}

// Tick evaluates the deadline
func (w *DeadlineWatchdog) Tick() {
	if w.expired {
		return
	}

	elapsed := Elapsed(w.clock.Now(), w.lastKick)
	if elapsed >= w.timeout {
		w.expired = true
		w.warned = false
		w.log(logger.ERROR, fmt.Sprintf("watchdog expired after %d ms without traffic", elapsed))
		return
	}

	if !w.warned && w.nearThreshold(elapsed) {
		w.warned = true
		w.log(logger.WARN, fmt.Sprintf("watchdog near timeout (%d ms left)", w.timeout-elapsed))
	}
}

// IsExpired reports whether Tick has observed the deadline pass since the
// last Kick
func (w *DeadlineWatchdog) IsExpired() bool {
	return w.expired
}

// IsNearExpiry reports whether the deadline is within the warn threshold,
// evaluated against the clock right now
func (w *DeadlineWatchdog) IsNearExpiry() bool {
	if w.expired {
		return false
	}
	return w.nearThreshold(Elapsed(w.clock.Now(), w.lastKick))
}

// Warned reports whether the near-timeout line was emitted in this window
func (w *DeadlineWatchdog) Warned() bool {
	return w.warned
}

// Elapsed returns the time since the last kick
func (w *DeadlineWatchdog) Elapsed() time.Duration {
	return Elapsed(w.clock.Now(), w.lastKick).Duration()
}

// Timeout returns the configured expiry window
func (w *DeadlineWatchdog) Timeout() time.Duration {
	return w.timeout.Duration()
}

// SetLogger replaces the log sink. nil silences the watchdog.
func (w *DeadlineWatchdog) SetLogger(sink LogSink) {
	w.sink = sink
}

func (w *DeadlineWatchdog) nearThreshold(elapsed Millis) bool {
	if w.warnAt == 0 || w.warnAt >= w.timeout {
		return false
	}
	return elapsed >= w.timeout-w.warnAt
}

func (w *DeadlineWatchdog) log(level logger.LogLevel, msg string) {
	if w.sink != nil {
		w.sink(level, msg)
	}
}
