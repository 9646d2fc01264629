package link

import (
	"fmt"
	"strings"
)

// State is the connection lifecycle state of a Controller
type State int32

const (
	StateIdle State = iota
	StateDiscovering
	StateConnecting
	StateConnected
	StateDisconnected
	StateError
)

// AllStates lists every state in declaration order
var AllStates = []State{
	StateIdle,
	StateDiscovering,
	StateConnecting,
	StateConnected,
	StateDisconnected,
	StateError,
}

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateDiscovering:
		return "DISCOVERING"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateDisconnected:
		return "DISCONNECTED"
	case StateError:
		return "ERROR"
	default:
		return fmt.Sprintf("STATE(%d)", int32(s))
	}
}

// Role decides which side of the link a Controller drives.
// Initiator scans and connects, Responder advertises and accepts.
type Role int

const (
	RoleInitiator Role = iota
	RoleResponder
)

func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "initiator"
	case RoleResponder:
		return "responder"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// ParseRole accepts the role names along with the BLE central/peripheral
// and client/server aliases
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "initiator", "client", "central":
		return RoleInitiator, nil
	case "responder", "server", "peripheral":
		return RoleResponder, nil
	default:
		return 0, fmt.Errorf("unknown role %q", s)
	}
}
