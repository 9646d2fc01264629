package link

import "time"

// EventKind names a lifecycle event
type EventKind string

const (
	EventStateChanged       EventKind = "state_changed"
	EventPeerDiscovered     EventKind = "peer_discovered"
	EventConnectRequested   EventKind = "connect_requested"
	EventConnectFailed      EventKind = "connect_failed"
	EventCapabilityMismatch EventKind = "capability_mismatch"
	EventConnected          EventKind = "connected"
	EventDisconnected       EventKind = "disconnected"
	EventProbeSent          EventKind = "probe_sent"
	EventAckReceived        EventKind = "ack_received"
	EventWatchdogWarning    EventKind = "watchdog_warning"
	EventWatchdogExpired    EventKind = "watchdog_expired"
	EventDataReceived       EventKind = "data_received"
)

// Event is one observable lifecycle fact. Fields not relevant to Kind are
// left empty.
type Event struct {
	Kind      EventKind     `json:"kind"`
	Time      time.Time     `json:"time"`
	Device    string        `json:"device"`
	Role      string        `json:"role"`
	Peer      string        `json:"peer,omitempty"`
	From      string        `json:"from,omitempty"`
	To        string        `json:"to,omitempty"`
	Reason    int           `json:"reason,omitempty"`
	RoundTrip time.Duration `json:"round_trip_ns,omitempty"`
	Bytes     int           `json:"bytes,omitempty"`
	Detail    string        `json:"detail,omitempty"`
}

// Recorder consumes lifecycle events. Record is called from the poll
// goroutine and must not block for long.
type Recorder interface {
	Record(e Event)
}

// RecorderFunc adapts a function to Recorder
type RecorderFunc func(e Event)

func (f RecorderFunc) Record(e Event) { f(e) }

// MultiRecorder fans an event out to several recorders in order
type MultiRecorder []Recorder

func (m MultiRecorder) Record(e Event) {
	for _, r := range m {
		if r != nil {
			r.Record(e)
		}
	}
}

type nopRecorder struct{}

func (nopRecorder) Record(Event) {}
