package link

import (
	"context"
	"errors"
)

type sentFrame struct {
	ch   Channel
	data []byte
}

// fakeTransport is a scripted Transport driven from the test goroutine
type fakeTransport struct {
	handler EventHandler

	role     Role
	identity string
	initErr  error

	connectErr  error
	channels    ChannelSet
	channelsErr error
	sendErr     error

	discovering bool
	connected   string
	scanParams  *ScanParams

	inits       int
	scans       int
	adverts     int
	stops       int
	connects    int
	disconnects int
	sent        []sentFrame
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		channels: ChannelSet{Command: true, Status: true},
	}
}

func (f *fakeTransport) Init(role Role, identity string) error {
	f.inits++
	f.role = role
	f.identity = identity
	return f.initErr
}

func (f *fakeTransport) SetEventHandler(h EventHandler) { f.handler = h }

func (f *fakeTransport) SetScanParams(p ScanParams) { f.scanParams = &p }

func (f *fakeTransport) StartScan() error {
	f.scans++
	f.discovering = true
	return nil
}

func (f *fakeTransport) StartAdvertising() error {
	f.adverts++
	f.discovering = true
	return nil
}

func (f *fakeTransport) StopDiscovery() error {
	f.stops++
	f.discovering = false
	return nil
}

func (f *fakeTransport) Discovering() bool { return f.discovering }

func (f *fakeTransport) Connect(ctx context.Context, peerID string) error {
	f.connects++
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = peerID
	f.handler.OnConnected(peerID)
	return nil
}

func (f *fakeTransport) DiscoverChannels(ctx context.Context) (ChannelSet, error) {
	return f.channels, f.channelsErr
}

// DisconnectActive reports the local disconnect synchronously, like the
// bundled transports do
func (f *fakeTransport) DisconnectActive() error {
	f.disconnects++
	if f.connected == "" {
		return errors.New("no active link")
	}
	peer := f.connected
	f.connected = ""
	f.handler.OnDisconnected(peer, ReasonLocalHostTerminated)
	return nil
}

func (f *fakeTransport) Send(ch Channel, data []byte) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentFrame{ch: ch, data: append([]byte(nil), data...)})
	return nil
}

// acceptInbound simulates a central connecting to the advertising Responder
func (f *fakeTransport) acceptInbound(peerID string) {
	f.discovering = false
	f.connected = peerID
	f.handler.OnConnected(peerID)
}

// dropRemote simulates the peer going away
func (f *fakeTransport) dropRemote(reason int) {
	peer := f.connected
	f.connected = ""
	f.handler.OnDisconnected(peer, reason)
}

func (f *fakeTransport) sentOn(ch Channel) []string {
	var out []string
	for _, s := range f.sent {
		if s.ch == ch {
			out = append(out, string(s.data))
		}
	}
	return out
}

type eventLog struct {
	events []Event
}

func (l *eventLog) Record(e Event) { l.events = append(l.events, e) }

func (l *eventLog) count(kind EventKind) int {
	n := 0
	for _, e := range l.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}
