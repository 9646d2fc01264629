package wire

import "time"

// ConnectionRole is our side of a specific connection
type ConnectionRole string

const (
	RoleCentral    ConnectionRole = "central"    // We initiated the connection
	RolePeripheral ConnectionRole = "peripheral" // They initiated the connection
)

// BLE timing constants for realistic behavior
const (
	// Connection establishment takes time in real BLE
	MinConnectionDelay = 30 * time.Millisecond
	MaxConnectionDelay = 100 * time.Millisecond

	// Service discovery is not instant
	MinServiceDiscoveryDelay = 10 * time.Millisecond
	MaxServiceDiscoveryDelay = 50 * time.Millisecond

	// DefaultScanPeriod is how often a scanning device looks for advertisers
	DefaultScanPeriod = 100 * time.Millisecond

	// DefaultDiscoveryTimeout bounds a service discovery round trip
	DefaultDiscoveryTimeout = 2 * time.Second

	// handshakeTimeout bounds the identity exchange on a new socket
	handshakeTimeout = time.Second

	// disconnectWait bounds how long DisconnectActive waits for the read loop
	disconnectWait = time.Second

	// HealthSnapshotInterval is how often link health is written to disk
	HealthSnapshotInterval = 5 * time.Second
)

// Simulated RSSI range in dBm
const (
	StrongestRSSI = -40
	WeakestRSSI   = -75
)

// Handshake results sent by the accepting side
const (
	handshakeAccepted byte = 0x00
	handshakeRejected byte = 0x01
)

// Control channel opcodes
const (
	opDiscoverServicesRequest  byte = 0x01
	opDiscoverServicesResponse byte = 0x02
)

const (
	socketPrefix       = "blelink-"
	socketSuffix       = ".sock"
	advertisingFile    = "advertising.bin"
	healthSnapshotFile = "link_health.json"
)
