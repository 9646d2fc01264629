package link

import (
	"bytes"
	"errors"
	"fmt"
	"time"
)

// TokenSize is the fixed length of the probe and ack tokens
const TokenSize = 4

// Token is a fixed-length heartbeat payload
type Token [TokenSize]byte

// ParseToken converts a 4-character string into a Token
func ParseToken(s string) (Token, error) {
	var t Token
	if len(s) != TokenSize {
		return t, fmt.Errorf("heartbeat token %q must be exactly %d bytes", s, TokenSize)
	}
	copy(t[:], s)
	return t, nil
}

func (t Token) String() string {
	return string(t[:])
}

// Matches reports whether data is exactly this token
func (t Token) Matches(data []byte) bool {
	return len(data) == TokenSize && bytes.Equal(data, t[:])
}

// Tokens is the probe/ack pair. Both peers must use identical values.
type Tokens struct {
	Probe Token
	Ack   Token
}

// DefaultTokens are the PING/PONG pair
var DefaultTokens = Tokens{
	Probe: Token{'P', 'I', 'N', 'G'},
	Ack:   Token{'P', 'O', 'N', 'G'},
}

func (t Tokens) Validate() error {
	if t.Probe == t.Ack {
		return errors.New("probe and ack tokens must differ")
	}
	return nil
}

// PacketAction tells the caller what to do with an inbound payload
type PacketAction int

const (
	// ActionNone means the payload is not a heartbeat token; forward it.
	ActionNone PacketAction = iota
	// ActionRespondAck means a Responder received a probe and must send the ack token.
	ActionRespondAck
	// ActionAckReceived means an Initiator received the ack for its probe.
	ActionAckReceived
	// ActionIgnore means a heartbeat token arrived at the role that never handles it.
	ActionIgnore
)

func (a PacketAction) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionRespondAck:
		return "respond-ack"
	case ActionAckReceived:
		return "ack-received"
	case ActionIgnore:
		return "ignore"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// HeartbeatMonitor runs the probe/ack liveness protocol. Only the Initiator
// originates probes; the Responder only answers them. At most one probe is
// outstanding: a new probe supersedes an unacknowledged one.
type HeartbeatMonitor struct {
	role     Role
	clock    Clock
	interval Millis
	tokens   Tokens

	lastProbe   Millis
	lastAck     Millis
	awaitingAck bool
	probeDue    bool

	lastRoundTrip Millis
	haveRoundTrip bool
}

func NewHeartbeatMonitor(role Role, clock Clock, interval time.Duration, tokens Tokens) *HeartbeatMonitor {
	h := &HeartbeatMonitor{
		role:     role,
		clock:    clock,
		interval: ToMillis(interval),
		tokens:   tokens,
	}
	h.ResetTimers()
	return h
}

// Tick marks a probe due once the interval has elapsed since the last one.
// No-op for the Responder.
func (h *HeartbeatMonitor) Tick() {
	if h.role != RoleInitiator {
		return
	}
	if !h.probeDue && Elapsed(h.clock.Now(), h.lastProbe) >= h.interval {
		h.probeDue = true
	}
}

// ShouldSendProbe returns true at most once per interval. A true result
// means the caller is about to send the probe: the ack window is armed and
// the probe timer restarts.
func (h *HeartbeatMonitor) ShouldSendProbe() bool {
	if h.role != RoleInitiator {
		return false
	}
	h.Tick()
	if !h.probeDue {
		return false
	}

	h.lastProbe = h.clock.Now()
	h.probeDue = false
	h.awaitingAck = true
	return true
}

// OnPacketReceived classifies an inbound payload. The monitor never sends
// anything itself.
func (h *HeartbeatMonitor) OnPacketReceived(data []byte) PacketAction {
	switch {
	case h.tokens.Probe.Matches(data):
		if h.role == RoleResponder {
			return ActionRespondAck
		}
		return ActionIgnore

	case h.tokens.Ack.Matches(data):
		if h.role != RoleInitiator {
			return ActionIgnore
		}
		now := h.clock.Now()
		if h.awaitingAck {
			h.lastRoundTrip = Elapsed(now, h.lastProbe)
			h.haveRoundTrip = true
		}
		h.awaitingAck = false
		h.lastAck = now
		return ActionAckReceived
	}
	return ActionNone
}

// ResetTimers restarts both timestamps and clears the flags. Called on every
// fresh connection.
func (h *HeartbeatMonitor) ResetTimers() {
	now := h.clock.Now()
	h.lastProbe = now
	h.lastAck = now
	h.awaitingAck = false
	h.probeDue = false
}

func (h *HeartbeatMonitor) AwaitingAck() bool {
	return h.awaitingAck
}

func (h *HeartbeatMonitor) ProbeDue() bool {
	return h.probeDue
}

// LastAck returns the tick of the most recent ack (or reset)
func (h *HeartbeatMonitor) LastAck() Millis {
	return h.lastAck
}

// LastRoundTrip returns the probe-to-ack time of the most recently acked
// probe, false if no probe has been acked yet
func (h *HeartbeatMonitor) LastRoundTrip() (time.Duration, bool) {
	return h.lastRoundTrip.Duration(), h.haveRoundTrip
}

func (h *HeartbeatMonitor) ProbeToken() []byte {
	return append([]byte(nil), h.tokens.Probe[:]...)
}

func (h *HeartbeatMonitor) AckToken() []byte {
	return append([]byte(nil), h.tokens.Ack[:]...)
}
