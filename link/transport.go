package link

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned when sending without an active link
	ErrNotConnected = errors.New("not connected")
	// ErrWrongRole is returned for operations the current role does not own
	ErrWrongRole = errors.New("operation not valid for this role")
	// ErrNotStarted is returned before Start has initialized the transport
	ErrNotStarted = errors.New("controller not started")
	// ErrMissingChannel reports a capability setup failure after connect
	ErrMissingChannel = errors.New("required channel missing")
	// ErrInvalidConfig wraps configuration validation failures
	ErrInvalidConfig = errors.New("invalid config")
)

// Channel identifies one of the two logical channels of a link
type Channel uint8

const (
	// ChannelCommand carries application commands and heartbeat tokens
	ChannelCommand Channel = iota + 1
	// ChannelStatus carries short Responder-to-Initiator notifications
	ChannelStatus
)

func (c Channel) String() string {
	switch c {
	case ChannelCommand:
		return "command"
	case ChannelStatus:
		return "status"
	default:
		return fmt.Sprintf("channel(%d)", uint8(c))
	}
}

// ChannelSet reports which channels were resolved after connecting
type ChannelSet struct {
	Command bool
	Status  bool
}

// Complete reports whether both required channels are present
func (s ChannelSet) Complete() bool {
	return s.Command && s.Status
}

// Missing lists the absent channels
func (s ChannelSet) Missing() []Channel {
	var out []Channel
	if !s.Command {
		out = append(out, ChannelCommand)
	}
	if !s.Status {
		out = append(out, ChannelStatus)
	}
	return out
}

// EventHandler receives transport events. Implementations must return
// quickly; the transport may call them from any goroutine.
type EventHandler interface {
	OnPeerDiscovered(d PeerDescriptor)
	OnConnected(peerID string)
	OnDisconnected(peerID string, reason int)
	OnDataReceived(ch Channel, data []byte)
}

// Transport is the radio capability the Controller drives. One active link
// at a time.
type Transport interface {
	// Init prepares the transport for a role. Called once from Start.
	Init(role Role, identity string) error
	SetEventHandler(h EventHandler)

	StartScan() error
	StartAdvertising() error
	StopDiscovery() error
	// Discovering reports whether a scan or advertising session is running
	Discovering() bool

	// Connect establishes a link to peerID. May block; only called from Poll.
	Connect(ctx context.Context, peerID string) error
	// DiscoverChannels resolves the command and status channels on the active link
	DiscoverChannels(ctx context.Context) (ChannelSet, error)
	// DisconnectActive drops the active link. The transport later reports
	// OnDisconnected.
	DisconnectActive() error
	Send(ch Channel, data []byte) error
}

// ScanConfigurer is implemented by transports that honor scan timing. The
// Controller calls it before Init when running as the Initiator.
type ScanConfigurer interface {
	SetScanParams(p ScanParams)
}

// HCI disconnect reason codes reported by the bundled transports
const (
	ReasonConnectionTimeout    = 0x08
	ReasonRemoteUserTerminated = 0x13
	ReasonLocalHostTerminated  = 0x16
)
