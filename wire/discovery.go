package wire

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/user/blelink/link"
	"github.com/user/blelink/logger"
	"github.com/user/blelink/util"
	"github.com/user/blelink/wire/advertising"
)

// StartAdvertising publishes our advertising record so scanners can find us.
// Only valid for the Responder.
func (w *Wire) StartAdvertising() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch {
	case !w.initialized || w.closed:
		return link.ErrNotStarted
	case w.role != link.RoleResponder:
		return link.ErrWrongRole
	case w.active != nil:
		return fmt.Errorf("cannot advertise while connected to %s", util.ShortID(w.active.remoteID))
	}

	payload := advertising.Payload{
		LocalName:   w.opts.Name,
		Services:    []uuid.UUID{w.opts.Service},
		Connectable: true,
	}
	adv, scanRsp, err := payload.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode advertising data: %w", err)
	}

	// Write to a temp file then rename so scanners never read a partial record
	path := filepath.Join(w.deviceDir, advertisingFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, advertising.EncodeRecord(adv, scanRsp), 0644); err != nil {
		return fmt.Errorf("failed to write advertising data: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to publish advertising data: %w", err)
	}

	w.advertising = true
	logger.Debug(w.prefix, "advertising as %q (%d+%d bytes)", w.opts.Name, len(adv), len(scanRsp))
	return nil
}

// StartScan begins periodic scanning for advertisers. Only valid for the Initiator.
func (w *Wire) StartScan() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch {
	case !w.initialized || w.closed:
		return link.ErrNotStarted
	case w.role != link.RoleInitiator:
		return link.ErrWrongRole
	case w.scanStop != nil:
		return nil
	}

	stop := make(chan struct{})
	w.scanStop = stop

	w.wg.Add(1)
	go w.scanLoop(stop, w.opts.ScanPeriod, !w.passiveScan)
	logger.Debug(w.prefix, "scanning every %v (active=%v)", w.opts.ScanPeriod, !w.passiveScan)
	return nil
}

// StopDiscovery stops scanning or advertising, whichever is running
func (w *Wire) StopDiscovery() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopAdvertisingLocked()
	w.stopScanLocked()
	return nil
}

// SetScanParams applies scan timing. The interval becomes the scan period;
// a passive scan never sees scan response data.
func (w *Wire) SetScanParams(p link.ScanParams) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if p.Interval > 0 {
		w.opts.ScanPeriod = p.Interval
	}
	w.passiveScan = !p.Active
}

// Discovering reports whether a scan or advertising session is running
func (w *Wire) Discovering() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.advertising || w.scanStop != nil
}

func (w *Wire) stopAdvertisingLocked() {
	if !w.advertising {
		return
	}
	w.advertising = false
	if err := os.Remove(filepath.Join(w.deviceDir, advertisingFile)); err != nil && !os.IsNotExist(err) {
		logger.Warn(w.prefix, "failed to remove advertising data: %v", err)
	}
	logger.Debug(w.prefix, "stopped advertising")
}

func (w *Wire) stopScanLocked() {
	if w.scanStop == nil {
		return
	}
	close(w.scanStop)
	w.scanStop = nil
	logger.Debug(w.prefix, "stopped scanning")
}

func (w *Wire) scanLoop(stop chan struct{}, period time.Duration, active bool) {
	defer w.wg.Done()

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		w.scanOnce(stop, active)
		select {
		case <-ticker.C:
		case <-stop:
			return
		case <-w.stopChan:
			return
		}
	}
}

// scanOnce reports every device that has a socket and a published
// advertising record
func (w *Wire) scanOnce(stop chan struct{}, active bool) {
	matches, err := filepath.Glob(filepath.Join(w.socketDir, socketPrefix+"*"+socketSuffix))
	if err != nil {
		logger.Warn(w.prefix, "scan failed: %v", err)
		return
	}

	for _, socketPath := range matches {
		name := filepath.Base(socketPath)
		peerID := strings.TrimSuffix(strings.TrimPrefix(name, socketPrefix), socketSuffix)
		if peerID == "" || peerID == w.id {
			continue
		}

		d, ok := readAdvertisement(peerID, active)
		if !ok {
			continue
		}

		// StopDiscovery may have run while we were reading
		select {
		case <-stop:
			return
		default:
		}
		if h := w.eventHandler(); h != nil {
			h.OnPeerDiscovered(d)
		}
	}
}

// readAdvertisement loads a peer's advertising record. A missing record
// means the peer is not advertising. Only an active scan requests the scan
// response.
func readAdvertisement(peerID string, active bool) (link.PeerDescriptor, bool) {
	data, err := os.ReadFile(filepath.Join(util.GetDeviceDir(peerID), advertisingFile))
	if err != nil {
		return link.PeerDescriptor{}, false
	}
	adv, scanRsp, err := advertising.DecodeRecord(data)
	if err != nil {
		logger.Debug("Wire", "bad advertising record from %s: %v", util.ShortID(peerID), err)
		return link.PeerDescriptor{}, false
	}
	if !active {
		scanRsp = nil
	}
	payload, err := advertising.Decode(adv, scanRsp)
	if err != nil {
		logger.Debug("Wire", "bad advertising data from %s: %v", util.ShortID(peerID), err)
		return link.PeerDescriptor{}, false
	}
	return descriptorFor(peerID, payload), true
}

func descriptorFor(peerID string, p *advertising.Payload) link.PeerDescriptor {
	d := link.PeerDescriptor{
		ID:       peerID,
		Name:     p.LocalName,
		RSSI:     simulatedRSSI(),
		Services: p.Services,
	}
	if len(p.Services) > 0 {
		d.Flags |= link.FlagServiceUUIDs
	}
	if len(p.ServiceData) > 0 {
		d.Flags |= link.FlagServiceData
	}
	if len(p.ManufacturerData) > 0 {
		d.Flags |= link.FlagManufacturerData
	}
	if p.Connectable {
		d.Flags |= link.FlagConnectable
	}
	return d
}
