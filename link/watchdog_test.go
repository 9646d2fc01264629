package link

import (
	"testing"
	"time"

	"github.com/user/blelink/logger"
)

type sinkLines struct {
	warn    int
	expired int
}

func (s *sinkLines) sink(level logger.LogLevel, msg string) {
	if level == logger.ERROR {
		s.expired++
	} else {
		s.warn++
	}
}

func TestWatchdogEdgeTriggered(t *testing.T) {
	clock := NewManualClock(0)
	lines := &sinkLines{}
	w := NewDeadlineWatchdog(clock, 8*time.Second, 2*time.Second, lines.sink)

	clock.Set(5999)
	w.Tick()
	if w.IsNearExpiry() || lines.warn != 0 {
		t.Fatalf("Expected no warning before 6000ms")
	}

	for _, now := range []Millis{6000, 6500, 7999} {
		clock.Set(now)
		w.Tick()
	}
	if lines.warn != 1 {
		t.Fatalf("Expected exactly one warning, got %d", lines.warn)
	}
	if !w.IsNearExpiry() || w.IsExpired() {
		t.Fatalf("Expected near expiry without expiry at 7999ms")
	}

	for _, now := range []Millis{8000, 9000, 20000} {
		clock.Set(now)
		w.Tick()
	}
	if !w.IsExpired() {
		t.Fatalf("Expected expiry at 8000ms")
	}
	if lines.expired != 1 {
		t.Fatalf("Expected exactly one expiry line, got %d", lines.expired)
	}
	if w.IsNearExpiry() || w.Warned() {
		t.Errorf("Expected warned cleared once expired")
	}

	w.Kick()
	if w.IsExpired() || w.Warned() {
		t.Fatalf("Expected kick to clear expired and warned")
	}

	clock.Set(20000 + 8000)
	w.Tick()
	if lines.warn != 1 || lines.expired != 2 {
		t.Errorf("Expected a fresh expiry after the new window, got warn=%d expired=%d", lines.warn, lines.expired)
	}
}

func TestWatchdogQueriesArePure(t *testing.T) {
	clock := NewManualClock(0)
	lines := &sinkLines{}
	w := NewDeadlineWatchdog(clock, 8*time.Second, 2*time.Second, lines.sink)

	clock.Set(9000)
	if w.IsExpired() {
		t.Fatalf("Expected IsExpired to report only what Tick observed")
	}
	if !w.IsNearExpiry() {
		t.Fatalf("Expected IsNearExpiry to be evaluated live")
	}
	if lines.warn != 0 || lines.expired != 0 {
		t.Errorf("Expected queries not to log, got warn=%d expired=%d", lines.warn, lines.expired)
	}
}

func TestWatchdogZeroWarnDisablesWarning(t *testing.T) {
	clock := NewManualClock(0)
	lines := &sinkLines{}
	w := NewDeadlineWatchdog(clock, time.Second, 0, lines.sink)

	for now := Millis(0); now <= 1000; now += 100 {
		clock.Set(now)
		w.Tick()
	}
	if lines.warn != 0 {
		t.Errorf("Expected no warning with zero threshold, got %d", lines.warn)
	}
	if !w.IsExpired() || lines.expired != 1 {
		t.Errorf("Expected expiry at 1000ms")
	}
}

func TestWatchdogWraparound(t *testing.T) {
	tests := []struct {
		name  string
		start Millis
	}{
		{"plain", 1000},
		{"rollover", ^Millis(0) - 3000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := NewManualClock(tt.start)
			lines := &sinkLines{}
			w := NewDeadlineWatchdog(clock, 8*time.Second, 2*time.Second, lines.sink)

			var warnedAt, expiredAt Millis
			for step := Millis(0); step <= 10000; step += 10 {
				clock.Set(tt.start + step)
				w.Tick()
				if warnedAt == 0 && lines.warn == 1 {
					warnedAt = step
				}
				if expiredAt == 0 && w.IsExpired() {
					expiredAt = step
				}
			}
			if warnedAt != 6000 {
				t.Errorf("Expected warning 6000ms after kick, got %d", warnedAt)
			}
			if expiredAt != 8000 {
				t.Errorf("Expected expiry 8000ms after kick, got %d", expiredAt)
			}
		})
	}
}

func TestWatchdogSetLogger(t *testing.T) {
	clock := NewManualClock(0)
	w := NewDeadlineWatchdog(clock, time.Second, 0, nil)

	clock.Set(500)
	w.Tick()

	lines := &sinkLines{}
	w.SetLogger(lines.sink)
	clock.Set(1000)
	w.Tick()
	if lines.expired != 1 {
		t.Errorf("Expected the replacement sink to receive the expiry, got %d", lines.expired)
	}
}
