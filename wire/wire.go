package wire

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/user/blelink/link"
	"github.com/user/blelink/logger"
	"github.com/user/blelink/util"
	"github.com/user/blelink/wire/gatt"
	"github.com/user/blelink/wire/l2cap"
)

// Options configures the simulated radio
type Options struct {
	// Name is the local name a Responder advertises
	Name string

	Service uuid.UUID
	Command uuid.UUID
	Status  uuid.UUID

	// Table is the attribute table a Responder exposes. Nil builds the
	// standard link service from Service, Command and Status.
	Table *gatt.Table

	ScanPeriod       time.Duration
	ConnectDelayMin  time.Duration
	ConnectDelayMax  time.Duration
	DiscoveryTimeout time.Duration
}

// DefaultOptions returns options for the standard link service
func DefaultOptions() Options {
	return Options{
		Name:             link.DefaultPeerName,
		Service:          link.DefaultServiceUUID,
		Command:          link.CommandCharacteristicUUID,
		Status:           link.StatusCharacteristicUUID,
		ScanPeriod:       DefaultScanPeriod,
		ConnectDelayMin:  MinConnectionDelay,
		ConnectDelayMax:  MaxConnectionDelay,
		DiscoveryTimeout: DefaultDiscoveryTimeout,
	}
}

// connection is the one active link on a Wire
type connection struct {
	conn     net.Conn
	remoteID string
	role     ConnectionRole

	writeMu    sync.Mutex
	localClose atomic.Bool
	discovery  chan []byte
	done       chan struct{}
}

func newConnection(conn net.Conn, remoteID string, role ConnectionRole) *connection {
	return &connection{
		conn:      conn,
		remoteID:  remoteID,
		role:      role,
		discovery: make(chan []byte, 1),
		done:      make(chan struct{}),
	}
}

// Wire implements link.Transport over Unix domain sockets. Every
// Responder listens on {data}/sockets/blelink-{id}.sock and publishes its
// advertising record as {data}/{id}/advertising.bin while advertising.
type Wire struct {
	opts     Options
	role     link.Role
	id       string
	prefix   string
	table    *gatt.Table
	ownChans link.ChannelSet

	socketDir  string
	deviceDir  string
	socketPath string
	listener   net.Listener
	health     *HealthMonitor

	handlerMu sync.RWMutex
	handler   link.EventHandler

	mu          sync.Mutex
	initialized bool
	closed      bool
	active      *connection
	advertising bool
	scanStop    chan struct{}
	passiveScan bool

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewWire creates an uninitialized simulated radio
func NewWire(opts Options) *Wire {
	defaults := DefaultOptions()
	if opts.ScanPeriod <= 0 {
		opts.ScanPeriod = defaults.ScanPeriod
	}
	if opts.DiscoveryTimeout <= 0 {
		opts.DiscoveryTimeout = defaults.DiscoveryTimeout
	}
	if opts.ConnectDelayMax < opts.ConnectDelayMin {
		opts.ConnectDelayMax = opts.ConnectDelayMin
	}
	table := opts.Table
	if table == nil {
		table = gatt.BuildTable(gatt.LinkServiceDef(opts.Service, opts.Command, opts.Status))
	}
	return &Wire{
		opts:     opts,
		table:    table,
		stopChan: make(chan struct{}),
	}
}

// Init prepares the socket directory and, for a Responder, starts listening
func (w *Wire) Init(role link.Role, identity string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.initialized {
		return fmt.Errorf("wire already initialized as %s", w.role)
	}

	socketDir, err := util.GetSocketDir()
	if err != nil {
		return err
	}
	deviceDir, err := util.EnsureDeviceDir(identity)
	if err != nil {
		return err
	}

	w.role = role
	w.id = identity
	w.prefix = fmt.Sprintf("%s Wire", util.ShortID(identity))
	w.socketDir = socketDir
	w.deviceDir = deviceDir
	w.ownChans = w.resolveChannels(w.table)
	w.health = NewHealthMonitor(deviceDir)

	// A crashed run may have left a stale advertising record behind
	os.Remove(filepath.Join(deviceDir, advertisingFile))

	if role == link.RoleResponder {
		w.socketPath = w.socketFor(identity)
		os.Remove(w.socketPath)

		listener, err := net.Listen("unix", w.socketPath)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", w.socketPath, err)
		}
		w.listener = listener
		w.health.SetSocket(w.socketPath)

		w.wg.Add(1)
		go w.acceptConnections()
	}

	w.health.Start()
	w.initialized = true
	logger.Debug(w.prefix, "initialized as %s (socket=%s)", role, w.socketPath)
	return nil
}

func (w *Wire) SetEventHandler(h link.EventHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.handler = h
}

func (w *Wire) eventHandler() link.EventHandler {
	w.handlerMu.RLock()
	defer w.handlerMu.RUnlock()
	return w.handler
}

// Identity returns the device identifier passed to Init
func (w *Wire) Identity() string {
	return w.id
}

// Health returns the current link statistics
func (w *Wire) Health() HealthSnapshot {
	w.mu.Lock()
	health := w.health
	w.mu.Unlock()
	if health == nil {
		return HealthSnapshot{Status: "closed"}
	}
	return health.Snapshot()
}

func (w *Wire) socketFor(id string) string {
	return filepath.Join(w.socketDir, socketPrefix+id+socketSuffix)
}

// ============================================================================
// Connections
// ============================================================================

// Connect dials a Responder's socket and performs the identity handshake.
// Only valid for the Initiator.
func (w *Wire) Connect(ctx context.Context, peerID string) error {
	w.mu.Lock()
	switch {
	case !w.initialized || w.closed:
		w.mu.Unlock()
		return link.ErrNotStarted
	case w.role != link.RoleInitiator:
		w.mu.Unlock()
		return link.ErrWrongRole
	case w.active != nil:
		w.mu.Unlock()
		return fmt.Errorf("already connected to %s", w.active.remoteID)
	}
	w.mu.Unlock()

	// Connection establishment takes time in real BLE
	select {
	case <-time.After(randomDelay(w.opts.ConnectDelayMin, w.opts.ConnectDelayMax)):
	case <-ctx.Done():
		return ctx.Err()
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", w.socketFor(peerID))
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", util.ShortID(peerID), err)
	}

	conn.SetDeadline(time.Now().Add(handshakeTimeout))
	if err := writeIdentity(conn, w.id); err != nil {
		conn.Close()
		return fmt.Errorf("failed to send handshake to %s: %w", util.ShortID(peerID), err)
	}
	var result [1]byte
	if _, err := io.ReadFull(conn, result[:]); err != nil {
		conn.Close()
		return fmt.Errorf("no handshake reply from %s: %w", util.ShortID(peerID), err)
	}
	if result[0] != handshakeAccepted {
		conn.Close()
		return fmt.Errorf("%s rejected the connection", util.ShortID(peerID))
	}
	conn.SetDeadline(time.Time{})

	c := newConnection(conn, peerID, RoleCentral)
	if !w.attach(c) {
		conn.Close()
		return fmt.Errorf("wire closed while connecting to %s", util.ShortID(peerID))
	}
	return nil
}

// acceptConnections accepts incoming connections (Responder only)
func (w *Wire) acceptConnections() {
	defer w.wg.Done()

	for {
		conn, err := w.listener.Accept()
		if err != nil {
			select {
			case <-w.stopChan:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Warn(w.prefix, "accept failed: %v", err)
			continue
		}

		w.wg.Add(1)
		go w.handleIncoming(conn)
	}
}

// handleIncoming reads the Initiator's identity and accepts the link if
// we are advertising and idle
func (w *Wire) handleIncoming(conn net.Conn) {
	defer w.wg.Done()

	conn.SetDeadline(time.Now().Add(handshakeTimeout))
	remoteID, err := readIdentity(conn)
	if err != nil {
		logger.Debug(w.prefix, "dropping connection with bad handshake: %v", err)
		conn.Close()
		return
	}

	w.mu.Lock()
	accept := w.advertising && w.active == nil && !w.closed
	if accept {
		w.stopAdvertisingLocked()
	}
	w.mu.Unlock()

	if !accept {
		logger.Debug(w.prefix, "rejecting connection from %s", util.ShortID(remoteID))
		conn.Write([]byte{handshakeRejected})
		conn.Close()
		return
	}
	if _, err := conn.Write([]byte{handshakeAccepted}); err != nil {
		conn.Close()
		return
	}
	conn.SetDeadline(time.Time{})

	if !w.attach(newConnection(conn, remoteID, RolePeripheral)) {
		conn.Close()
	}
}

// attach makes c the active connection, starts its read loop and reports
// the link. Returns false if another link won the race or the wire closed.
func (w *Wire) attach(c *connection) bool {
	w.mu.Lock()
	if w.closed || w.active != nil {
		w.mu.Unlock()
		return false
	}
	w.active = c
	w.mu.Unlock()

	w.health.RecordConnection(c.remoteID, c.role)
	logger.Info(w.prefix, "connected to %s as %s", util.ShortID(c.remoteID), c.role)

	w.wg.Add(1)
	go w.readLoop(c)

	if h := w.eventHandler(); h != nil {
		h.OnConnected(c.remoteID)
	}
	return true
}

// DisconnectActive closes the active link and waits for the read loop to
// report the disconnect
func (w *Wire) DisconnectActive() error {
	w.mu.Lock()
	c := w.active
	w.mu.Unlock()
	if c == nil {
		return nil
	}

	c.localClose.Store(true)
	c.conn.Close()

	select {
	case <-c.done:
	case <-time.After(disconnectWait):
		logger.Warn(w.prefix, "read loop for %s did not exit", util.ShortID(c.remoteID))
	}
	return nil
}

// Close stops discovery, drops the active link and removes the socket
func (w *Wire) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.stopAdvertisingLocked()
	w.stopScanLocked()
	close(w.stopChan)
	listener := w.listener
	health := w.health
	w.mu.Unlock()

	if listener != nil {
		listener.Close()
	}
	if err := w.DisconnectActive(); err != nil {
		return err
	}
	w.wg.Wait()
	if w.socketPath != "" {
		os.Remove(w.socketPath)
	}
	if health != nil {
		health.Stop()
	}
	logger.Debug(w.prefix, "closed")
	return nil
}

// ============================================================================
// Channels
// ============================================================================

// DiscoverChannels resolves the command and status channels. The Initiator
// asks the remote side for its attribute table; the Responder checks its own.
func (w *Wire) DiscoverChannels(ctx context.Context) (link.ChannelSet, error) {
	w.mu.Lock()
	c := w.active
	w.mu.Unlock()
	if c == nil {
		return link.ChannelSet{}, link.ErrNotConnected
	}
	if w.role == link.RoleResponder {
		return w.ownChans, nil
	}

	// Service discovery is not instant
	select {
	case <-time.After(randomDelay(MinServiceDiscoveryDelay, MaxServiceDiscoveryDelay)):
	case <-ctx.Done():
		return link.ChannelSet{}, ctx.Err()
	}

	if err := w.writeFrame(c, l2cap.ChannelControl, []byte{opDiscoverServicesRequest}); err != nil {
		return link.ChannelSet{}, fmt.Errorf("failed to request services: %w", err)
	}

	select {
	case body := <-c.discovery:
		table, err := gatt.Unmarshal(body)
		if err != nil {
			return link.ChannelSet{}, fmt.Errorf("bad discovery response: %w", err)
		}
		return w.resolveChannels(table), nil
	case <-c.done:
		return link.ChannelSet{}, link.ErrNotConnected
	case <-ctx.Done():
		return link.ChannelSet{}, ctx.Err()
	case <-time.After(w.opts.DiscoveryTimeout):
		return link.ChannelSet{}, fmt.Errorf("service discovery timed out after %v", w.opts.DiscoveryTimeout)
	}
}

// resolveChannels looks for a writable command characteristic and a
// notifying status characteristic inside the link service
func (w *Wire) resolveChannels(table *gatt.Table) link.ChannelSet {
	var set link.ChannelSet
	svc, err := table.FindService(w.opts.Service)
	if err != nil {
		return set
	}
	if cmd, err := svc.FindCharacteristic(w.opts.Command); err == nil && cmd.Writable() {
		set.Command = true
	}
	if status, err := svc.FindCharacteristic(w.opts.Status); err == nil && status.Notifies() {
		set.Status = true
	}
	return set
}

// Send writes data on a logical channel of the active link
func (w *Wire) Send(ch link.Channel, data []byte) error {
	w.mu.Lock()
	c := w.active
	w.mu.Unlock()
	if c == nil {
		return link.ErrNotConnected
	}

	var cid uint16
	switch ch {
	case link.ChannelCommand:
		if w.role == link.RoleResponder && !w.ownChans.Command {
			return fmt.Errorf("%w: %s", link.ErrMissingChannel, ch)
		}
		cid = l2cap.ChannelCommand
	case link.ChannelStatus:
		if w.role != link.RoleResponder {
			return fmt.Errorf("%w: only the responder notifies on %s", link.ErrWrongRole, ch)
		}
		if !w.ownChans.Status {
			return fmt.Errorf("%w: %s", link.ErrMissingChannel, ch)
		}
		cid = l2cap.ChannelStatus
	default:
		return fmt.Errorf("unknown channel %s", ch)
	}
	return w.writeFrame(c, cid, data)
}

func (w *Wire) writeFrame(c *connection, cid uint16, payload []byte) error {
	c.writeMu.Lock()
	err := l2cap.WritePacket(c.conn, &l2cap.Packet{ChannelID: cid, Payload: payload})
	c.writeMu.Unlock()

	if err != nil {
		w.health.RecordError(err.Error())
		return err
	}
	w.health.RecordSent(len(payload))
	logger.Trace(w.prefix, "→ %s %d bytes to %s", l2cap.ChannelName(cid), len(payload), util.ShortID(c.remoteID))
	return nil
}

// ============================================================================
// Handshake
// ============================================================================

// writeIdentity sends [length:4 bytes BE][id bytes]
func writeIdentity(w io.Writer, id string) error {
	buf := make([]byte, 4+len(id))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(id)))
	copy(buf[4:], id)
	_, err := w.Write(buf)
	return err
}

const maxIdentityLen = 256

func readIdentity(r io.Reader) (string, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n == 0 || n > maxIdentityLen {
		return "", fmt.Errorf("invalid identity length %d", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
