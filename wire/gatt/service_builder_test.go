package gatt

import (
	"testing"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"
)

var (
	svcUUID    = uuid.MustParse("a1b2c3d4-0001-4000-8000-000000000001")
	cmdUUID    = uuid.MustParse("a1b2c3d4-0002-4000-8000-000000000001")
	statusUUID = uuid.MustParse("a1b2c3d4-0003-4000-8000-000000000001")
)

func TestBuildTableHandles(t *testing.T) {
	table := BuildTable(LinkServiceDef(svcUUID, cmdUUID, statusUUID))

	svc, err := table.FindService(svcUUID)
	if err != nil {
		t.Fatalf("Failed to find service: %v", err)
	}
	// 1 service decl, 2 cmd decl, 3 cmd value, 4 cmd CCCD, 5 status decl, 6 status value, 7 status CCCD
	if svc.StartHandle != 1 || svc.EndHandle != 7 {
		t.Errorf("Expected handle range 1-7, got %d-%d", svc.StartHandle, svc.EndHandle)
	}

	cmd, err := svc.FindCharacteristic(cmdUUID)
	if err != nil {
		t.Fatalf("Failed to find command characteristic: %v", err)
	}
	if cmd.ValueHandle != 3 || cmd.CCCDHandle != 4 {
		t.Errorf("Expected command handles 3/4, got %d/%d", cmd.ValueHandle, cmd.CCCDHandle)
	}
	if !cmd.Writable() || !cmd.Notifies() {
		t.Errorf("Expected command to be writable and notify, got %s", PropertyString(cmd.Properties))
	}

	status, _ := svc.FindCharacteristic(statusUUID)
	if status.Writable() || !status.Notifies() {
		t.Errorf("Expected status to be notify-only, got %s", PropertyString(status.Properties))
	}
	if c, ok := table.CharacteristicByHandle(6); !ok || c.UUID != statusUUID {
		t.Errorf("Expected handle 6 to be the status value")
	}
}

func TestBuildTableWithoutNotify(t *testing.T) {
	table := BuildTable(ServiceDef{
		UUID:            svcUUID,
		Characteristics: []CharacteristicDef{{UUID: cmdUUID, Properties: PropWrite}},
	}, ServiceDef{UUID: uuid.New()})

	if table.Services[0].EndHandle != 3 {
		t.Errorf("Expected no CCCD for a write-only characteristic, end handle %d", table.Services[0].EndHandle)
	}
	if table.Services[1].StartHandle != 4 || table.Services[1].EndHandle != 4 {
		t.Errorf("Expected the second service at handle 4, got %d-%d", table.Services[1].StartHandle, table.Services[1].EndHandle)
	}
	if _, err := table.Services[0].FindCharacteristic(statusUUID); err == nil {
		t.Errorf("Expected missing characteristic error")
	}
	if _, err := table.FindService(statusUUID); err == nil {
		t.Errorf("Expected missing service error")
	}
}

func TestTableCodec(t *testing.T) {
	table := BuildTable(LinkServiceDef(svcUUID, cmdUUID, statusUUID))
	data := table.Marshal()

	decoded, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}
	if len(decoded.Services) != 1 {
		t.Fatalf("Expected 1 service, got %d", len(decoded.Services))
	}
	got := decoded.Services[0]
	if got.UUID != svcUUID || got.StartHandle != 1 || got.EndHandle != 7 || len(got.Characteristics) != 2 {
		t.Fatalf("Unexpected service: %+v", got)
	}
	if got.Characteristics[0] != table.Services[0].Characteristics[0] {
		t.Errorf("Expected %+v, got %+v", table.Services[0].Characteristics[0], got.Characteristics[0])
	}
}

func TestUnmarshalSkipsUnknownFields(t *testing.T) {
	table := BuildTable(LinkServiceDef(svcUUID, cmdUUID, statusUUID))
	data := table.Marshal()
	data = protowire.AppendTag(data, 9, protowire.Fixed32Type)
	data = protowire.AppendFixed32(data, 0xdeadbeef)

	decoded, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Expected unknown fields to be skipped, got %v", err)
	}
	if len(decoded.Services) != 1 {
		t.Errorf("Expected 1 service, got %d", len(decoded.Services))
	}
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	if _, err := Unmarshal([]byte{0x0a, 0x20, 0x01}); err == nil {
		t.Errorf("Expected error for truncated bytes field")
	}

	var bad []byte
	svc := protowire.AppendTag(nil, fieldServiceUUID, protowire.BytesType)
	svc = protowire.AppendBytes(svc, []byte{1, 2, 3})
	bad = protowire.AppendTag(bad, fieldTableService, protowire.BytesType)
	bad = protowire.AppendBytes(bad, svc)
	if _, err := Unmarshal(bad); err == nil {
		t.Errorf("Expected error for a 3-byte UUID")
	}
}
