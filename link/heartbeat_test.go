package link

import (
	"testing"
	"time"
)

func TestHeartbeatSingleFlight(t *testing.T) {
	clock := NewManualClock(0)
	h := NewHeartbeatMonitor(RoleInitiator, clock, 3*time.Second, DefaultTokens)

	sent := 0
	for now := Millis(0); now <= 30000; now += 10 {
		clock.Set(now)
		// Several polls in the same tick must still yield a single probe.
		for i := 0; i < 3; i++ {
			if h.ShouldSendProbe() {
				sent++
				if now%3000 != 0 {
					t.Fatalf("Expected probes on 3000ms boundaries, got one at %d", now)
				}
			}
		}
	}
	if sent != 10 {
		t.Errorf("Expected 10 probes in 30s, got %d", sent)
	}
}

func TestHeartbeatTickMarksDue(t *testing.T) {
	clock := NewManualClock(100)
	h := NewHeartbeatMonitor(RoleInitiator, clock, 3*time.Second, DefaultTokens)

	clock.Set(3099)
	h.Tick()
	if h.ProbeDue() {
		t.Fatalf("Expected no probe due before the interval")
	}
	clock.Set(3100)
	h.Tick()
	if !h.ProbeDue() {
		t.Fatalf("Expected probe due at the interval")
	}

	// A late send still goes out once and restarts the timer from now.
	clock.Set(4000)
	if !h.ShouldSendProbe() {
		t.Fatalf("Expected the due probe to be sent")
	}
	if h.ShouldSendProbe() {
		t.Fatalf("Expected only one probe")
	}
	if !h.AwaitingAck() {
		t.Fatalf("Expected awaitingAck armed")
	}
	clock.Set(6999)
	if h.ShouldSendProbe() {
		t.Fatalf("Expected next probe 3000ms after the last send")
	}
	clock.Set(7000)
	if !h.ShouldSendProbe() {
		t.Fatalf("Expected probe at 7000")
	}
}

func TestHeartbeatResponderNeverProbes(t *testing.T) {
	clock := NewManualClock(0)
	h := NewHeartbeatMonitor(RoleResponder, clock, time.Second, DefaultTokens)

	for now := Millis(0); now <= 10000; now += 100 {
		clock.Set(now)
		h.Tick()
		if h.ShouldSendProbe() {
			t.Fatalf("Expected the responder never to probe (t=%d)", now)
		}
	}
}

func TestHeartbeatPacketClassification(t *testing.T) {
	tests := []struct {
		name string
		role Role
		data string
		want PacketAction
	}{
		{"responder probe", RoleResponder, "PING", ActionRespondAck},
		{"responder ack", RoleResponder, "PONG", ActionIgnore},
		{"initiator ack", RoleInitiator, "PONG", ActionAckReceived},
		{"initiator probe", RoleInitiator, "PING", ActionIgnore},
		{"prefix only", RoleResponder, "PIN", ActionNone},
		{"token with suffix", RoleResponder, "PINGX", ActionNone},
		{"opaque", RoleInitiator, "LED ON", ActionNone},
		{"empty", RoleInitiator, "", ActionNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHeartbeatMonitor(tt.role, NewManualClock(0), time.Second, DefaultTokens)
			if got := h.OnPacketReceived([]byte(tt.data)); got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestHeartbeatAckClearsAwaiting(t *testing.T) {
	clock := NewManualClock(0)
	h := NewHeartbeatMonitor(RoleInitiator, clock, 3*time.Second, DefaultTokens)

	clock.Set(3000)
	if !h.ShouldSendProbe() {
		t.Fatalf("Expected probe at 3000")
	}
	clock.Set(3040)
	if got := h.OnPacketReceived([]byte("PONG")); got != ActionAckReceived {
		t.Fatalf("Expected ack, got %s", got)
	}
	if h.AwaitingAck() {
		t.Errorf("Expected awaitingAck cleared")
	}
	if h.LastAck() != 3040 {
		t.Errorf("Expected ack timestamp 3040, got %d", h.LastAck())
	}
	if rtt, ok := h.LastRoundTrip(); !ok || rtt != 40*time.Millisecond {
		t.Errorf("Expected 40ms round trip, got %v (%v)", rtt, ok)
	}
}

func TestHeartbeatResetTimers(t *testing.T) {
	clock := NewManualClock(0)
	h := NewHeartbeatMonitor(RoleInitiator, clock, 3*time.Second, DefaultTokens)

	clock.Set(3000)
	h.ShouldSendProbe()
	clock.Set(9000)
	h.Tick()

	h.ResetTimers()
	if h.AwaitingAck() || h.ProbeDue() {
		t.Fatalf("Expected flags cleared by reset")
	}
	if h.LastAck() != 9000 {
		t.Errorf("Expected ack timestamp reset to now, got %d", h.LastAck())
	}
	clock.Set(11999)
	if h.ShouldSendProbe() {
		t.Errorf("Expected the probe interval to restart from the reset")
	}
}

func TestHeartbeatWraparound(t *testing.T) {
	start := ^Millis(0) - 1000
	clock := NewManualClock(start)
	h := NewHeartbeatMonitor(RoleInitiator, clock, 3*time.Second, DefaultTokens)

	clock.Set(start + 2999)
	if h.ShouldSendProbe() {
		t.Fatalf("Expected no probe before the interval across rollover")
	}
	clock.Set(start + 3000)
	if !h.ShouldSendProbe() {
		t.Fatalf("Expected probe exactly one interval after start across rollover")
	}
}

func TestCustomTokens(t *testing.T) {
	probe, err := ParseToken("HBRQ")
	if err != nil {
		t.Fatalf("Failed to parse token: %v", err)
	}
	ack, _ := ParseToken("HBOK")
	tokens := Tokens{Probe: probe, Ack: ack}

	h := NewHeartbeatMonitor(RoleResponder, NewManualClock(0), time.Second, tokens)
	if got := h.OnPacketReceived([]byte("HBRQ")); got != ActionRespondAck {
		t.Errorf("Expected custom probe recognized, got %s", got)
	}
	if got := h.OnPacketReceived([]byte("PING")); got != ActionNone {
		t.Errorf("Expected default probe to be opaque, got %s", got)
	}
	if string(h.AckToken()) != "HBOK" {
		t.Errorf("Expected HBOK ack, got %q", h.AckToken())
	}

	if _, err := ParseToken("TOOLONG"); err == nil {
		t.Errorf("Expected error for a 7-byte token")
	}
	if err := (Tokens{Probe: probe, Ack: probe}).Validate(); err == nil {
		t.Errorf("Expected identical tokens to be rejected")
	}
}
