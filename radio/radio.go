// Package radio drives a real Bluetooth adapter through tinygo.org/x/bluetooth.
package radio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"tinygo.org/x/bluetooth"

	"github.com/user/blelink/link"
	"github.com/user/blelink/logger"
	"github.com/user/blelink/util"
)

// Options configures the adapter
type Options struct {
	// Name is the local name a Responder advertises
	Name    string
	Service uuid.UUID
	Command uuid.UUID
	Status  uuid.UUID
}

// DefaultOptions returns options for the standard link service
func DefaultOptions() Options {
	return Options{
		Name:    link.DefaultPeerName,
		Service: link.DefaultServiceUUID,
		Command: link.CommandCharacteristicUUID,
		Status:  link.StatusCharacteristicUUID,
	}
}

// uuids are the library forms of the service and characteristic UUIDs
type uuids struct {
	service bluetooth.UUID
	command bluetooth.UUID
	status  bluetooth.UUID
}

func toBluetoothUUID(u uuid.UUID) (bluetooth.UUID, error) {
	return bluetooth.ParseUUID(u.String())
}

func (o Options) resolve() (uuids, error) {
	var out uuids
	var err error
	if out.service, err = toBluetoothUUID(o.Service); err != nil {
		return out, fmt.Errorf("service uuid: %w", err)
	}
	if out.command, err = toBluetoothUUID(o.Command); err != nil {
		return out, fmt.Errorf("command uuid: %w", err)
	}
	if out.status, err = toBluetoothUUID(o.Status); err != nil {
		return out, fmt.Errorf("status uuid: %w", err)
	}
	return out, nil
}

// remote is the active link. Device operations are kept as method values.
type remote struct {
	id         string
	disconnect func() error
	discover   func([]bluetooth.UUID) ([]bluetooth.DeviceService, error)
	write      func([]byte) (int, error)
}

// Adapter implements link.Transport on a host Bluetooth controller
type Adapter struct {
	opts    Options
	ids     uuids
	adapter *bluetooth.Adapter

	role   link.Role
	id     string
	prefix string

	handlerMu sync.RWMutex
	handler   link.EventHandler

	mu          sync.Mutex
	initialized bool
	scanning    bool
	scanGen     int
	advertising bool
	adv         *bluetooth.Advertisement
	seen        map[string]bluetooth.Address
	active      *remote

	// GATT server characteristics (Responder)
	commandChar bluetooth.Characteristic
	statusChar  bluetooth.Characteristic
}

// NewAdapter wraps the system default adapter
func NewAdapter(opts Options) *Adapter {
	return &Adapter{
		opts:    opts,
		adapter: bluetooth.DefaultAdapter,
		seen:    make(map[string]bluetooth.Address),
	}
}

func (a *Adapter) SetEventHandler(h link.EventHandler) {
	a.handlerMu.Lock()
	defer a.handlerMu.Unlock()
	a.handler = h
}

func (a *Adapter) eventHandler() link.EventHandler {
	a.handlerMu.RLock()
	defer a.handlerMu.RUnlock()
	return a.handler
}

// SetScanParams logs the requested timing. The library does not expose
// scan interval or window.
func (a *Adapter) SetScanParams(p link.ScanParams) {
	logger.Debug("Radio", "scan params interval=%v window=%v active=%v not supported by adapter, ignored",
		p.Interval, p.Window, p.Active)
}

// Init enables the adapter and, for a Responder, registers the link service
func (a *Adapter) Init(role link.Role, identity string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.initialized {
		return fmt.Errorf("radio already initialized as %s", a.role)
	}
	ids, err := a.opts.resolve()
	if err != nil {
		return err
	}
	a.ids = ids
	a.role = role
	a.id = identity
	a.prefix = fmt.Sprintf("%s Radio", util.ShortID(identity))

	a.adapter.SetConnectHandler(a.onConnectionChange)
	if err := a.adapter.Enable(); err != nil {
		return fmt.Errorf("failed to enable bluetooth adapter: %w", err)
	}

	if role == link.RoleResponder {
		if err := a.addLinkService(); err != nil {
			return err
		}
		a.adv = a.adapter.DefaultAdvertisement()
		err := a.adv.Configure(bluetooth.AdvertisementOptions{
			LocalName:    a.opts.Name,
			ServiceUUIDs: []bluetooth.UUID{a.ids.service},
		})
		if err != nil {
			return fmt.Errorf("failed to configure advertising: %w", err)
		}
	}

	a.initialized = true
	logger.Info(a.prefix, "adapter enabled as %s", role)
	return nil
}

// addLinkService registers the command and status characteristics
func (a *Adapter) addLinkService() error {
	err := a.adapter.AddService(&bluetooth.Service{
		UUID: a.ids.service,
		Characteristics: []bluetooth.CharacteristicConfig{
			{
				Handle: &a.commandChar,
				UUID:   a.ids.command,
				Flags: bluetooth.CharacteristicWritePermission |
					bluetooth.CharacteristicWriteWithoutResponsePermission |
					bluetooth.CharacteristicNotifyPermission,
				WriteEvent: func(client bluetooth.Connection, offset int, value []byte) {
					a.deliver(link.ChannelCommand, value)
				},
			},
			{
				Handle: &a.statusChar,
				UUID:   a.ids.status,
				Flags:  bluetooth.CharacteristicReadPermission | bluetooth.CharacteristicNotifyPermission,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to add link service: %w", err)
	}
	return nil
}

// ============================================================================
// Discovery
// ============================================================================

func (a *Adapter) StartScan() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch {
	case !a.initialized:
		return link.ErrNotStarted
	case a.role != link.RoleInitiator:
		return link.ErrWrongRole
	case a.scanning:
		return nil
	}
	a.scanning = true
	a.scanGen++
	gen := a.scanGen

	go func() {
		err := a.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			a.onScanResult(result)
		})
		if err != nil {
			logger.Warn(a.prefix, "scan ended: %v", err)
		}
		a.mu.Lock()
		if a.scanGen == gen {
			a.scanning = false
		}
		a.mu.Unlock()
	}()
	return nil
}

func (a *Adapter) onScanResult(result bluetooth.ScanResult) {
	id := result.Address.String()

	a.mu.Lock()
	a.seen[id] = result.Address
	a.mu.Unlock()

	d := descriptorFor(id, result.LocalName(), result.RSSI,
		result.HasServiceUUID(a.ids.service), a.opts.Service,
		len(result.ManufacturerData()) > 0)
	if h := a.eventHandler(); h != nil {
		h.OnPeerDiscovered(d)
	}
}

// descriptorFor builds a PeerDescriptor from the parts of a scan result the
// library exposes. Only the target service can be tested for.
func descriptorFor(id, name string, rssi int16, hasService bool, service uuid.UUID, hasMfr bool) link.PeerDescriptor {
	d := link.PeerDescriptor{
		ID:    id,
		Name:  name,
		RSSI:  rssi,
		Flags: link.FlagConnectable,
	}
	if hasService {
		d.Services = []uuid.UUID{service}
		d.Flags |= link.FlagServiceUUIDs
	}
	if hasMfr {
		d.Flags |= link.FlagManufacturerData
	}
	return d
}

func (a *Adapter) StartAdvertising() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch {
	case !a.initialized:
		return link.ErrNotStarted
	case a.role != link.RoleResponder:
		return link.ErrWrongRole
	case a.advertising:
		return nil
	}
	if err := a.adv.Start(); err != nil {
		return fmt.Errorf("failed to start advertising: %w", err)
	}
	a.advertising = true
	return nil
}

func (a *Adapter) StopDiscovery() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var errs []error
	if a.scanning {
		if err := a.adapter.StopScan(); err != nil {
			errs = append(errs, fmt.Errorf("stop scan: %w", err))
		}
		a.scanning = false
	}
	if a.advertising {
		if err := a.adv.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop advertising: %w", err))
		}
		a.advertising = false
	}
	return errors.Join(errs...)
}

func (a *Adapter) Discovering() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scanning || a.advertising
}

// ============================================================================
// Connections
// ============================================================================

// Connect connects to a peer seen during the last scan. The library call
// cannot be cancelled; ctx is only checked before dialing.
func (a *Adapter) Connect(ctx context.Context, peerID string) error {
	a.mu.Lock()
	switch {
	case !a.initialized:
		a.mu.Unlock()
		return link.ErrNotStarted
	case a.role != link.RoleInitiator:
		a.mu.Unlock()
		return link.ErrWrongRole
	case a.active != nil:
		a.mu.Unlock()
		return fmt.Errorf("already connected to %s", a.active.id)
	}
	addr, ok := a.seen[peerID]
	a.mu.Unlock()

	if !ok {
		return fmt.Errorf("peer %s has not been seen", peerID)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	dev, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", peerID, err)
	}

	r := &remote{
		id:         peerID,
		disconnect: dev.Disconnect,
		discover:   dev.DiscoverServices,
	}
	a.mu.Lock()
	a.active = r
	a.mu.Unlock()

	logger.Info(a.prefix, "connected to %s", peerID)
	if h := a.eventHandler(); h != nil {
		h.OnConnected(peerID)
	}
	return nil
}

// DiscoverChannels resolves the link characteristics. The Initiator
// subscribes to notifications on both; the Responder serves its own.
func (a *Adapter) DiscoverChannels(ctx context.Context) (link.ChannelSet, error) {
	a.mu.Lock()
	r := a.active
	a.mu.Unlock()
	if r == nil {
		return link.ChannelSet{}, link.ErrNotConnected
	}
	if a.role == link.RoleResponder {
		return link.ChannelSet{Command: true, Status: true}, nil
	}

	var set link.ChannelSet
	services, err := r.discover([]bluetooth.UUID{a.ids.service})
	if err != nil || len(services) == 0 {
		logger.Warn(a.prefix, "link service not found on %s: %v", r.id, err)
		return set, nil
	}
	svc := services[0]
	chars, err := svc.DiscoverCharacteristics(nil)
	if err != nil {
		return set, fmt.Errorf("characteristic discovery failed: %w", err)
	}

	for i := range chars {
		c := chars[i]
		switch c.UUID() {
		case a.ids.command:
			r.write = c.WriteWithoutResponse
			set.Command = true
			if err := c.EnableNotifications(func(buf []byte) { a.deliver(link.ChannelCommand, buf) }); err != nil {
				logger.Debug(a.prefix, "command notifications unavailable: %v", err)
			}
		case a.ids.status:
			if err := c.EnableNotifications(func(buf []byte) { a.deliver(link.ChannelStatus, buf) }); err != nil {
				logger.Warn(a.prefix, "failed to subscribe to status notifications: %v", err)
				continue
			}
			set.Status = true
		}
	}
	return set, ctx.Err()
}

// DisconnectActive drops the link and reports it before returning. A
// Responder cannot drop a central; it forgets the link and ignores the
// central until it reconnects.
func (a *Adapter) DisconnectActive() error {
	a.mu.Lock()
	r := a.active
	a.active = nil
	a.mu.Unlock()
	if r == nil {
		return nil
	}

	var err error
	if r.disconnect != nil {
		err = r.disconnect()
	} else {
		logger.Warn(a.prefix, "link to %s stays up until the central disconnects", r.id)
	}
	if h := a.eventHandler(); h != nil {
		h.OnDisconnected(r.id, link.ReasonLocalHostTerminated)
	}
	return err
}

// onConnectionChange is the adapter connect handler for both roles
func (a *Adapter) onConnectionChange(device bluetooth.Device, connected bool) {
	id := device.Address.String()
	h := a.eventHandler()

	a.mu.Lock()
	if connected {
		if a.role != link.RoleResponder || a.active != nil {
			a.mu.Unlock()
			return
		}
		a.active = &remote{id: id}
		// Connectable advertising ends when a central connects
		a.advertising = false
		a.mu.Unlock()

		logger.Info(a.prefix, "central %s connected", id)
		if h != nil {
			h.OnConnected(id)
		}
		return
	}

	if a.active == nil || a.active.id != id {
		a.mu.Unlock()
		return
	}
	a.active = nil
	a.mu.Unlock()

	logger.Info(a.prefix, "%s disconnected", id)
	if h != nil {
		h.OnDisconnected(id, link.ReasonRemoteUserTerminated)
	}
}

func (a *Adapter) Send(ch link.Channel, data []byte) error {
	a.mu.Lock()
	r := a.active
	a.mu.Unlock()
	if r == nil {
		return link.ErrNotConnected
	}

	var err error
	switch {
	case a.role == link.RoleInitiator && ch == link.ChannelCommand:
		if r.write == nil {
			return fmt.Errorf("%w: %s", link.ErrMissingChannel, ch)
		}
		_, err = r.write(data)
	case a.role == link.RoleInitiator:
		return fmt.Errorf("%w: only the responder notifies on %s", link.ErrWrongRole, ch)
	case ch == link.ChannelCommand:
		_, err = a.commandChar.Write(data)
	case ch == link.ChannelStatus:
		_, err = a.statusChar.Write(data)
	default:
		return fmt.Errorf("unknown channel %s", ch)
	}
	if err != nil {
		return fmt.Errorf("write on %s: %w", ch, err)
	}
	return nil
}

func (a *Adapter) deliver(ch link.Channel, data []byte) {
	a.mu.Lock()
	connected := a.active != nil
	a.mu.Unlock()
	if !connected {
		return
	}
	if h := a.eventHandler(); h != nil {
		h.OnDataReceived(ch, data)
	}
}
