package radio

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/user/blelink/link"
)

func TestResolveUUIDs(t *testing.T) {
	ids, err := DefaultOptions().resolve()
	if err != nil {
		t.Fatalf("Failed to resolve default UUIDs: %v", err)
	}
	if ids.service.String() != link.DefaultServiceUUID.String() {
		t.Errorf("Expected %s, got %s", link.DefaultServiceUUID, ids.service)
	}
	if ids.command == ids.status {
		t.Errorf("Expected distinct command and status UUIDs")
	}
}

func TestDescriptorFor(t *testing.T) {
	svc := link.DefaultServiceUUID

	tests := []struct {
		name       string
		hasService bool
		hasMfr     bool
		wantFlags  link.CapabilityFlags
		wantMatch  bool
	}{
		{"service", true, false, link.FlagConnectable | link.FlagServiceUUIDs, true},
		{"manufacturer only", false, true, link.FlagConnectable | link.FlagManufacturerData, false},
		{"bare", false, false, link.FlagConnectable, false},
	}

	match := link.MatchPredicate{ServiceUUID: svc}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := descriptorFor("AA:BB:CC:DD:EE:FF", "", -60, tt.hasService, svc, tt.hasMfr)
			if d.Flags != tt.wantFlags {
				t.Errorf("Expected flags %s, got %s", tt.wantFlags, d.Flags)
			}
			if match.Matches(d) != tt.wantMatch {
				t.Errorf("Expected match=%v", tt.wantMatch)
			}
			if d.RSSI != -60 || d.ID != "AA:BB:CC:DD:EE:FF" {
				t.Errorf("Unexpected descriptor %+v", d)
			}
		})
	}

	named := descriptorFor("11:22:33:44:55:66", link.DefaultPeerName, -40, false, uuid.Nil, false)
	if !(link.MatchPredicate{Name: link.DefaultPeerName}).Matches(named) {
		t.Errorf("Expected name-only match for %q", named.Name)
	}
}

func TestOperationsBeforeInit(t *testing.T) {
	a := NewAdapter(DefaultOptions())

	if err := a.StartScan(); !errors.Is(err, link.ErrNotStarted) {
		t.Errorf("Expected ErrNotStarted from StartScan, got %v", err)
	}
	if err := a.StartAdvertising(); !errors.Is(err, link.ErrNotStarted) {
		t.Errorf("Expected ErrNotStarted from StartAdvertising, got %v", err)
	}
	if err := a.Connect(context.Background(), "AA:BB:CC:DD:EE:FF"); !errors.Is(err, link.ErrNotStarted) {
		t.Errorf("Expected ErrNotStarted from Connect, got %v", err)
	}
	if err := a.Send(link.ChannelCommand, []byte("x")); !errors.Is(err, link.ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}
	if _, err := a.DiscoverChannels(context.Background()); !errors.Is(err, link.ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}
	if err := a.DisconnectActive(); err != nil {
		t.Errorf("Expected disconnect without a link to be a no-op, got %v", err)
	}
	if a.Discovering() {
		t.Errorf("Expected no discovery before init")
	}
	if err := a.StopDiscovery(); err != nil {
		t.Errorf("Expected StopDiscovery to be a no-op, got %v", err)
	}
}

type recordedDisconnect struct {
	id     string
	reason int
}

type handlerStub struct {
	connected    []string
	disconnected []recordedDisconnect
}

func (h *handlerStub) OnPeerDiscovered(link.PeerDescriptor) {}
func (h *handlerStub) OnConnected(id string)                { h.connected = append(h.connected, id) }
func (h *handlerStub) OnDataReceived(link.Channel, []byte)  {}
func (h *handlerStub) OnDisconnected(id string, reason int) {
	h.disconnected = append(h.disconnected, recordedDisconnect{id, reason})
}

func TestDisconnectActiveReportsBeforeReturn(t *testing.T) {
	a := NewAdapter(DefaultOptions())
	h := &handlerStub{}
	a.SetEventHandler(h)

	dropped := 0
	a.active = &remote{id: "peer", disconnect: func() error { dropped++; return nil }}
	if err := a.DisconnectActive(); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if dropped != 1 {
		t.Errorf("Expected device disconnect to be called once, got %d", dropped)
	}
	if len(h.disconnected) != 1 || h.disconnected[0].reason != link.ReasonLocalHostTerminated {
		t.Fatalf("Expected one local disconnect event, got %+v", h.disconnected)
	}

	// A second call has nothing to drop
	if err := a.DisconnectActive(); err != nil || len(h.disconnected) != 1 {
		t.Errorf("Expected second disconnect to be a no-op")
	}

	// A responder-side link has no device handle
	a.active = &remote{id: "central"}
	if err := a.DisconnectActive(); err != nil {
		t.Errorf("Expected responder disconnect to succeed, got %v", err)
	}
	if len(h.disconnected) != 2 {
		t.Errorf("Expected the responder link drop to be reported")
	}
}
