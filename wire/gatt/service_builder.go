package gatt

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Characteristic Properties (bitmask)
const (
	PropRead                 uint8 = 0x02
	PropWriteWithoutResponse uint8 = 0x04
	PropWrite                uint8 = 0x08
	PropNotify               uint8 = 0x10
	PropIndicate             uint8 = 0x20
)

// PropertyString renders a property bitmask for logs
func PropertyString(p uint8) string {
	var parts []string
	if p&PropRead != 0 {
		parts = append(parts, "read")
	}
	if p&PropWriteWithoutResponse != 0 {
		parts = append(parts, "write-no-rsp")
	}
	if p&PropWrite != 0 {
		parts = append(parts, "write")
	}
	if p&PropNotify != 0 {
		parts = append(parts, "notify")
	}
	if p&PropIndicate != 0 {
		parts = append(parts, "indicate")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Characteristic is one characteristic with its assigned handles
type Characteristic struct {
	UUID        uuid.UUID
	Properties  uint8
	ValueHandle uint16
	// CCCDHandle is 0 unless the characteristic can notify or indicate
	CCCDHandle uint16
}

func (c *Characteristic) Writable() bool {
	return c.Properties&(PropWrite|PropWriteWithoutResponse) != 0
}

func (c *Characteristic) Notifies() bool {
	return c.Properties&(PropNotify|PropIndicate) != 0
}

// Service is a primary service with its handle range
type Service struct {
	UUID            uuid.UUID
	StartHandle     uint16
	EndHandle       uint16
	Characteristics []Characteristic
}

// Table is the attribute layout a peripheral exposes
type Table struct {
	Services []Service
}

// CharacteristicDef describes a characteristic before handles are assigned
type CharacteristicDef struct {
	UUID       uuid.UUID
	Properties uint8
}

// ServiceDef describes a service before handles are assigned
type ServiceDef struct {
	UUID            uuid.UUID
	Characteristics []CharacteristicDef
}

// BuildTable assigns handles the way a GATT server lays out its database:
// service declaration, then per characteristic a declaration, the value,
// and a CCCD when it notifies or indicates. Handles start at 1.
func BuildTable(defs ...ServiceDef) *Table {
	t := &Table{}
	next := uint16(1)
	for _, def := range defs {
		svc := Service{UUID: def.UUID, StartHandle: next}
		next++
		for _, cd := range def.Characteristics {
			c := Characteristic{UUID: cd.UUID, Properties: cd.Properties}
			next++ // declaration
			c.ValueHandle = next
			next++
			if c.Notifies() {
				c.CCCDHandle = next
				next++
			}
			svc.Characteristics = append(svc.Characteristics, c)
		}
		svc.EndHandle = next - 1
		t.Services = append(t.Services, svc)
	}
	return t
}

// LinkServiceDef builds the two-characteristic link service: a writable
// command characteristic that also notifies, and a status characteristic
// that can be read and notifies
func LinkServiceDef(service, command, status uuid.UUID) ServiceDef {
	return ServiceDef{
		UUID: service,
		Characteristics: []CharacteristicDef{
			{UUID: command, Properties: PropWrite | PropWriteWithoutResponse | PropNotify},
			{UUID: status, Properties: PropRead | PropNotify},
		},
	}
}

// FindService returns the service with the given UUID
func (t *Table) FindService(id uuid.UUID) (*Service, error) {
	for i := range t.Services {
		if t.Services[i].UUID == id {
			return &t.Services[i], nil
		}
	}
	return nil, fmt.Errorf("gatt: service %s not found", id)
}

// FindCharacteristic returns the characteristic with the given UUID
func (s *Service) FindCharacteristic(id uuid.UUID) (*Characteristic, error) {
	for i := range s.Characteristics {
		if s.Characteristics[i].UUID == id {
			return &s.Characteristics[i], nil
		}
	}
	return nil, fmt.Errorf("gatt: characteristic %s not found in service %s", id, s.UUID)
}

// CharacteristicByHandle finds the characteristic owning a value handle
func (t *Table) CharacteristicByHandle(handle uint16) (*Characteristic, bool) {
	for i := range t.Services {
		for j := range t.Services[i].Characteristics {
			if t.Services[i].Characteristics[j].ValueHandle == handle {
				return &t.Services[i].Characteristics[j], true
			}
		}
	}
	return nil, false
}
