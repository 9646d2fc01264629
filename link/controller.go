package link

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/user/blelink/logger"
	"github.com/user/blelink/util"
)

// discoveryRetryInterval limits how often a silently stopped scan or
// advertising session is restarted
const discoveryRetryInterval = time.Second

// Controller owns the connection lifecycle for one role. It drives the
// Transport, runs the heartbeat and watchdog while connected, and always
// returns to discovery after a failure.
//
// Transport callbacks are queued and applied by Poll. Apart from State,
// SendCommand and NotifyStatus, methods must be called from the goroutine
// that calls Poll.
type Controller struct {
	cfg       Config
	transport Transport
	clock     Clock
	recorder  Recorder
	prefix    string

	current State
	mirror  atomic.Int32

	heartbeat *HeartbeatMonitor
	watchdog  *DeadlineWatchdog
	cache     *AdvertiserCache

	inbox  *inbox
	events *transportEvents

	ctx     context.Context
	cancel  context.CancelFunc
	started bool

	pendingPeer  string
	hasPending   bool
	activePeer   string
	disconnectRq bool

	lastDiscoveryStart Millis
	lastReport         Millis

	stateListener func(prev, next State)
	dataListener  func(ch Channel, data []byte)
}

// Option customizes a Controller
type Option func(*Controller)

// WithClock replaces the system clock
func WithClock(clock Clock) Option {
	return func(c *Controller) {
		c.clock = clock
	}
}

// WithRecorder sends lifecycle events to r
func WithRecorder(r Recorder) Option {
	return func(c *Controller) {
		if r != nil {
			c.recorder = r
		}
	}
}

// NewController validates cfg and builds an idle controller
func NewController(cfg Config, t Transport, opts ...Option) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("%w: transport is required", ErrInvalidConfig)
	}

	c := &Controller{
		cfg:       cfg,
		transport: t,
		recorder:  nopRecorder{},
		current:   StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.clock == nil {
		c.clock = NewSystemClock()
	}

	c.prefix = "Link"
	if cfg.Identity != "" {
		c.prefix = fmt.Sprintf("%s Link", util.ShortID(cfg.Identity))
	}

	c.heartbeat = NewHeartbeatMonitor(cfg.Role, c.clock, cfg.ProbeInterval, cfg.Tokens)
	c.watchdog = NewDeadlineWatchdog(c.clock, cfg.WatchdogTimeout, cfg.WatchdogWarn, c.logWatchdog)
	if cfg.Role == RoleInitiator {
		c.cache = NewAdvertiserCache()
	}
	c.inbox = newInbox(cfg.InboxSize)
	c.events = &transportEvents{inbox: c.inbox, clock: c.clock}
	c.mirror.Store(int32(StateIdle))
	return c, nil
}

// Start initializes the transport and enters discovery. Calling it again
// after a successful start does nothing.
func (c *Controller) Start(ctx context.Context) error {
	if c.started {
		return nil
	}

	c.transport.SetEventHandler(c.events)
	if sc, ok := c.transport.(ScanConfigurer); ok && c.cfg.Role == RoleInitiator {
		sc.SetScanParams(c.cfg.Scan)
	}
	if err := c.transport.Init(c.cfg.Role, c.cfg.Identity); err != nil {
		return fmt.Errorf("failed to init transport as %s: %w", c.cfg.Role, err)
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.started = true
	c.lastReport = c.clock.Now()
	logger.Info(c.prefix, "started as %s", c.cfg.Role)
	c.restartDiscovery()
	return nil
}

// Stop drops any link, ends discovery and returns to Idle
func (c *Controller) Stop() {
	if !c.started {
		return
	}
	if c.current == StateConnected {
		if err := c.transport.DisconnectActive(); err != nil {
			logger.Warn(c.prefix, "disconnect on stop failed: %v", err)
		}
	}
	if err := c.transport.StopDiscovery(); err != nil {
		logger.Trace(c.prefix, "stop discovery on stop: %v", err)
	}
	c.cancel()
	c.started = false
	c.hasPending = false
	c.pendingPeer = ""
	c.activePeer = ""
	c.setState(StateIdle)
	logger.Info(c.prefix, "stopped")
}

// Poll advances the controller one step: deferred connect, transport
// events, timers, then the expiry check. It never sleeps.
func (c *Controller) Poll() {
	if !c.started {
		return
	}

	c.connectIfPending()

	for _, ev := range c.inbox.drain() {
		c.dispatch(ev)
	}

	if c.current == StateConnected {
		c.advanceTimers()
		if c.watchdog.IsExpired() {
			c.handleExpiry()
		}
	}

	c.ensureDiscovering()
	c.reportStatus()
}

// RequestConnect schedules a connect to peerID on the next Poll
func (c *Controller) RequestConnect(peerID string) error {
	if c.cfg.Role != RoleInitiator {
		return ErrWrongRole
	}
	if !c.started {
		return ErrNotStarted
	}
	c.pendingPeer = peerID
	c.hasPending = true
	c.record(Event{Kind: EventConnectRequested, Peer: peerID})
	return nil
}

// Disconnect asks the transport to drop the active link. The state change
// follows from the transport's disconnect event. No effect unless connected.
func (c *Controller) Disconnect() {
	if c.current != StateConnected || c.disconnectRq {
		return
	}
	c.disconnectRq = true
	logger.Info(c.prefix, "disconnect requested from %s", c.activePeer)
	if err := c.transport.DisconnectActive(); err != nil {
		logger.Warn(c.prefix, "disconnect failed: %v", err)
		c.disconnectRq = false
	}
}

// OnStateChange registers the single state listener. It runs synchronously
// inside Poll for every actual change.
func (c *Controller) OnStateChange(fn func(prev, next State)) {
	c.stateListener = fn
}

// OnData registers the listener for payloads that are not heartbeat tokens
func (c *Controller) OnData(fn func(ch Channel, data []byte)) {
	c.dataListener = fn
}

// SendCommand writes data on the command channel. Fails with
// ErrNotConnected unless connected.
func (c *Controller) SendCommand(data []byte) error {
	if c.State() != StateConnected {
		return ErrNotConnected
	}
	if err := c.transport.Send(ChannelCommand, data); err != nil {
		return fmt.Errorf("failed to send command: %w", err)
	}
	return nil
}

// NotifyStatus sends a short text on the status channel (Responder only)
func (c *Controller) NotifyStatus(text string) error {
	if c.cfg.Role != RoleResponder {
		return ErrWrongRole
	}
	if c.State() != StateConnected {
		return ErrNotConnected
	}
	if err := c.transport.Send(ChannelStatus, []byte(text)); err != nil {
		return fmt.Errorf("failed to notify status %q: %w", text, err)
	}
	logger.Debug(c.prefix, "status notify: %s", text)
	return nil
}

// State returns the current state. Safe from any goroutine.
func (c *Controller) State() State {
	return State(c.mirror.Load())
}

func (c *Controller) Role() Role {
	return c.cfg.Role
}

// ActivePeer returns the connected (or connecting) peer, empty otherwise
func (c *Controller) ActivePeer() string {
	return c.activePeer
}

// Peers returns the current discovery cycle's advertisers. Always empty
// for the Responder.
func (c *Controller) Peers() []PeerDescriptor {
	if c.cache == nil {
		return nil
	}
	return c.cache.Snapshot()
}

// Heartbeat exposes the heartbeat monitor for inspection
func (c *Controller) Heartbeat() *HeartbeatMonitor {
	return c.heartbeat
}

// Watchdog exposes the watchdog for inspection
func (c *Controller) Watchdog() *DeadlineWatchdog {
	return c.watchdog
}

func (c *Controller) setState(next State) {
	prev := c.current
	if prev == next {
		return
	}
	c.current = next
	c.mirror.Store(int32(next))

	logger.Info(c.prefix, "state %s -> %s", prev, next)
	c.record(Event{Kind: EventStateChanged, From: prev.String(), To: next.String(), Peer: c.activePeer})
	if c.stateListener != nil {
		c.stateListener(prev, next)
	}
}

func (c *Controller) connectIfPending() {
	if !c.hasPending {
		return
	}
	peerID := c.pendingPeer
	c.hasPending = false
	c.pendingPeer = ""

	if c.current != StateDiscovering {
		logger.Debug(c.prefix, "dropping connect request for %s in state %s", peerID, c.current)
		return
	}

	c.activePeer = peerID
	c.setState(StateConnecting)
	logger.Info(c.prefix, "connecting to %s", peerID)

	if err := c.transport.Connect(c.ctx, peerID); err != nil {
		logger.Warn(c.prefix, "connect to %s failed: %v", peerID, err)
		c.record(Event{Kind: EventConnectFailed, Peer: peerID, Detail: err.Error()})
		c.activePeer = ""
		c.setState(StateDisconnected)
		c.restartDiscovery()
		return
	}

	if !c.setupChannels() {
		return
	}
	c.enterConnected()
}

// setupChannels checks that both channels exist on the new link. On
// failure the link is dropped and discovery restarts through Error.
func (c *Controller) setupChannels() bool {
	chans, err := c.transport.DiscoverChannels(c.ctx)
	if err == nil && !chans.Complete() {
		err = fmt.Errorf("%w: %v", ErrMissingChannel, chans.Missing())
	}
	if err == nil {
		return true
	}

	logger.Error(c.prefix, "channel setup with %s failed: %v", c.activePeer, err)
	c.record(Event{Kind: EventCapabilityMismatch, Peer: c.activePeer, Detail: err.Error()})
	if derr := c.transport.DisconnectActive(); derr != nil {
		logger.Warn(c.prefix, "disconnect after setup failure: %v", derr)
	}
	c.activePeer = ""
	c.setState(StateError)
	c.restartDiscovery()
	return false
}

// enterConnected arms the timers before the state changes so the new link
// is never judged against a stale deadline
func (c *Controller) enterConnected() {
	c.heartbeat.ResetTimers()
	c.watchdog.Kick()
	c.disconnectRq = false
	c.setState(StateConnected)
	c.record(Event{Kind: EventConnected, Peer: c.activePeer})
	logger.Info(c.prefix, "connected to %s", c.activePeer)
}

func (c *Controller) dispatch(ev inbound) {
	switch ev.kind {
	case inboundDiscovered:
		c.handleDiscovered(ev.peer)
	case inboundConnected:
		c.handleConnected(ev.peerID)
	case inboundDisconnected:
		c.handleDisconnected(ev.peerID, ev.reason)
	case inboundData:
		c.handleData(ev.channel, ev.data)
	}
}

func (c *Controller) handleDiscovered(d PeerDescriptor) {
	if c.cfg.Role != RoleInitiator || c.current != StateDiscovering || c.hasPending {
		logger.Trace(c.prefix, "ignoring advertisement from %s in state %s", d.ID, c.current)
		return
	}
	if c.cache.Upsert(d) != UpsertNew {
		return
	}

	logger.Info(c.prefix, "new advertiser %s name=%q rssi=%d flags=%s cached=%d",
		d.ID, d.Name, d.RSSI, d.Flags, c.cache.Len())
	c.record(Event{Kind: EventPeerDiscovered, Peer: d.ID, Detail: d.Name})

	if !c.cfg.Match.Matches(d) {
		return
	}

	logger.Info(c.prefix, "%s matches, stopping scan", d.ID)
	if err := c.transport.StopDiscovery(); err != nil {
		logger.Warn(c.prefix, "failed to stop scan: %v", err)
	}
	if err := c.RequestConnect(d.ID); err != nil {
		logger.Warn(c.prefix, "connect request for %s rejected: %v", d.ID, err)
	}
}

func (c *Controller) handleConnected(peerID string) {
	if c.cfg.Role != RoleResponder {
		// The Initiator's connect completes synchronously in Poll.
		logger.Trace(c.prefix, "connect event for %s", peerID)
		return
	}
	if c.current != StateDiscovering {
		logger.Debug(c.prefix, "ignoring inbound connect from %s in state %s", peerID, c.current)
		return
	}

	c.activePeer = peerID
	c.setState(StateConnecting)
	logger.Info(c.prefix, "inbound connection from %s", peerID)

	if !c.setupChannels() {
		return
	}
	c.enterConnected()

	if err := c.NotifyStatus(StatusReady); err != nil {
		logger.Warn(c.prefix, "failed to notify ready: %v", err)
	}
}

func (c *Controller) handleDisconnected(peerID string, reason int) {
	if c.current != StateConnected && c.current != StateConnecting {
		logger.Debug(c.prefix, "stale disconnect from %s (reason=%d) in state %s", peerID, reason, c.current)
		return
	}
	if peerID != "" && c.activePeer != "" && peerID != c.activePeer {
		logger.Debug(c.prefix, "disconnect for %s does not match active %s", peerID, c.activePeer)
		return
	}

	logger.Warn(c.prefix, "disconnected from %s (reason=%d)", c.activePeer, reason)
	c.record(Event{Kind: EventDisconnected, Peer: c.activePeer, Reason: reason})
	c.activePeer = ""
	c.disconnectRq = false
	c.setState(StateDisconnected)
	c.restartDiscovery()
}

func (c *Controller) handleData(ch Channel, data []byte) {
	if c.current != StateConnected {
		logger.Trace(c.prefix, "dropping %d bytes on %s in state %s", len(data), ch, c.current)
		return
	}

	// The Responder's deadline follows any inbound traffic.
	if c.cfg.Role == RoleResponder {
		c.watchdog.Kick()
	}

	switch c.heartbeat.OnPacketReceived(data) {
	case ActionRespondAck:
		if err := c.transport.Send(ChannelStatus, c.heartbeat.AckToken()); err != nil {
			logger.Warn(c.prefix, "failed to send ack: %v", err)
			return
		}
		logger.Debug(c.prefix, "probe received, ack sent")

	case ActionAckReceived:
		c.watchdog.Kick()
		rtt, _ := c.heartbeat.LastRoundTrip()
		logger.Debug(c.prefix, "ack received on %s (rtt=%v)", ch, rtt)
		c.record(Event{Kind: EventAckReceived, Peer: c.activePeer, RoundTrip: rtt})
		if c.cfg.ForwardAckToListener {
			c.deliver(ch, data)
		}

	case ActionIgnore:
		logger.Trace(c.prefix, "ignoring heartbeat token on %s", ch)

	default:
		c.record(Event{Kind: EventDataReceived, Peer: c.activePeer, Bytes: len(data), Detail: ch.String()})
		if ch == ChannelStatus {
			logger.Info(c.prefix, "STATUS (%d bytes): %s", len(data), data)
		} else {
			logger.Info(c.prefix, "command (%d bytes) on %s", len(data), ch)
		}
		c.deliver(ch, data)
		if c.cfg.Role == RoleResponder && ch == ChannelCommand {
			if err := c.NotifyStatus(StatusCommandReceived); err != nil {
				logger.Warn(c.prefix, "failed to acknowledge command: %v", err)
			}
		}
	}
}

func (c *Controller) deliver(ch Channel, data []byte) {
	if c.dataListener != nil {
		c.dataListener(ch, data)
	}
}

func (c *Controller) advanceTimers() {
	if c.heartbeat.ShouldSendProbe() {
		if err := c.transport.Send(ChannelCommand, c.heartbeat.ProbeToken()); err != nil {
			logger.Warn(c.prefix, "failed to send probe: %v", err)
		} else {
			logger.Debug(c.prefix, "probe sent")
			c.record(Event{Kind: EventProbeSent, Peer: c.activePeer})
		}
	}
	c.watchdog.Tick()
}

// handleExpiry forces the link down without waiting for the transport to
// confirm; the later disconnect event is stale by then.
func (c *Controller) handleExpiry() {
	peerID := c.activePeer
	logger.Warn(c.prefix, "peer %s unresponsive, forcing disconnect", peerID)
	if err := c.transport.DisconnectActive(); err != nil {
		logger.Warn(c.prefix, "forced disconnect failed: %v", err)
	}
	c.record(Event{Kind: EventDisconnected, Peer: peerID, Reason: ReasonConnectionTimeout, Detail: "watchdog"})
	c.activePeer = ""
	c.disconnectRq = false
	c.setState(StateDisconnected)
	c.restartDiscovery()
}

// restartDiscovery begins a new discovery cycle and enters Discovering
func (c *Controller) restartDiscovery() {
	c.hasPending = false
	c.pendingPeer = ""
	c.startDiscovery()
	c.setState(StateDiscovering)
}

func (c *Controller) startDiscovery() {
	c.lastDiscoveryStart = c.clock.Now()

	if c.cfg.Role == RoleResponder {
		if err := c.transport.StartAdvertising(); err != nil {
			logger.Warn(c.prefix, "failed to start advertising: %v", err)
			return
		}
		logger.Info(c.prefix, "advertising")
		return
	}

	// Never overlap two scans.
	if err := c.transport.StopDiscovery(); err != nil {
		logger.Trace(c.prefix, "stop before scan: %v", err)
	}
	c.cache.Clear()
	if err := c.transport.StartScan(); err != nil {
		logger.Warn(c.prefix, "failed to start scan: %v", err)
		return
	}
	logger.Info(c.prefix, "scanning (interval=%v window=%v active=%v)",
		c.cfg.Scan.Interval, c.cfg.Scan.Window, c.cfg.Scan.Active)
}

func (c *Controller) ensureDiscovering() {
	if c.current != StateDiscovering || c.hasPending || c.transport.Discovering() {
		return
	}
	if Elapsed(c.clock.Now(), c.lastDiscoveryStart) < ToMillis(discoveryRetryInterval) {
		return
	}
	logger.Warn(c.prefix, "discovery stopped unexpectedly, restarting")
	c.startDiscovery()
}

func (c *Controller) reportStatus() {
	if c.cfg.StatusReportInterval <= 0 {
		return
	}
	now := c.clock.Now()
	if Elapsed(now, c.lastReport) < ToMillis(c.cfg.StatusReportInterval) {
		return
	}
	c.lastReport = now

	switch c.current {
	case StateConnected:
		logger.Debug(c.prefix, "status: %s peer=%s awaitingAck=%v sinceKick=%v",
			c.current, c.activePeer, c.heartbeat.AwaitingAck(), c.watchdog.Elapsed())
	case StateDiscovering:
		peers := 0
		if c.cache != nil {
			peers = c.cache.Len()
		}
		logger.Debug(c.prefix, "status: %s peers=%d dropped=%d", c.current, peers, c.inbox.droppedCount())
	default:
		logger.Debug(c.prefix, "status: %s", c.current)
	}
}

func (c *Controller) logWatchdog(level logger.LogLevel, msg string) {
	logger.Log(level, c.prefix, "%s", msg)
	kind := EventWatchdogWarning
	if level >= logger.ERROR {
		kind = EventWatchdogExpired
	}
	c.record(Event{Kind: kind, Peer: c.activePeer, Detail: msg})
}

func (c *Controller) record(e Event) {
	e.Time = time.Now()
	e.Device = c.cfg.Identity
	e.Role = c.cfg.Role.String()
	c.recorder.Record(e)
}
