package gatt

import (
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the discovery response. The layout is a protobuf message
// so either side can add fields without breaking the other.
//
//	Table          { repeated Service services = 1; }
//	Service        { bytes uuid = 1; uint32 start = 2; uint32 end = 3; repeated Characteristic chars = 4; }
//	Characteristic { bytes uuid = 1; uint32 props = 2; uint32 value_handle = 3; uint32 cccd_handle = 4; }
const (
	fieldTableService protowire.Number = 1

	fieldServiceUUID  protowire.Number = 1
	fieldServiceStart protowire.Number = 2
	fieldServiceEnd   protowire.Number = 3
	fieldServiceChar  protowire.Number = 4

	fieldCharUUID   protowire.Number = 1
	fieldCharProps  protowire.Number = 2
	fieldCharHandle protowire.Number = 3
	fieldCharCCCD   protowire.Number = 4
)

// Marshal encodes the table in protobuf wire format
func (t *Table) Marshal() []byte {
	var b []byte
	for _, svc := range t.Services {
		b = protowire.AppendTag(b, fieldTableService, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalService(svc))
	}
	return b
}

func marshalService(svc Service) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldServiceUUID, protowire.BytesType)
	b = protowire.AppendBytes(b, svc.UUID[:])
	b = protowire.AppendTag(b, fieldServiceStart, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(svc.StartHandle))
	b = protowire.AppendTag(b, fieldServiceEnd, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(svc.EndHandle))
	for _, c := range svc.Characteristics {
		b = protowire.AppendTag(b, fieldServiceChar, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalCharacteristic(c))
	}
	return b
}

func marshalCharacteristic(c Characteristic) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldCharUUID, protowire.BytesType)
	b = protowire.AppendBytes(b, c.UUID[:])
	b = protowire.AppendTag(b, fieldCharProps, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(c.Properties))
	b = protowire.AppendTag(b, fieldCharHandle, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(c.ValueHandle))
	if c.CCCDHandle != 0 {
		b = protowire.AppendTag(b, fieldCharCCCD, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(c.CCCDHandle))
	}
	return b
}

// Unmarshal decodes a table. Unknown fields are skipped.
func Unmarshal(b []byte) (*Table, error) {
	t := &Table{}
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
		if num != fieldTableService || typ != protowire.BytesType {
			return nil
		}
		svc, err := unmarshalService(v)
		if err != nil {
			return err
		}
		t.Services = append(t.Services, svc)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func unmarshalService(b []byte) (Service, error) {
	var svc Service
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte, n uint64) error {
		switch num {
		case fieldServiceUUID:
			id, err := uuid.FromBytes(v)
			if err != nil {
				return fmt.Errorf("service uuid: %w", err)
			}
			svc.UUID = id
		case fieldServiceStart:
			svc.StartHandle = uint16(n)
		case fieldServiceEnd:
			svc.EndHandle = uint16(n)
		case fieldServiceChar:
			c, err := unmarshalCharacteristic(v)
			if err != nil {
				return err
			}
			svc.Characteristics = append(svc.Characteristics, c)
		}
		return nil
	})
	return svc, err
}

func unmarshalCharacteristic(b []byte) (Characteristic, error) {
	var c Characteristic
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte, n uint64) error {
		switch num {
		case fieldCharUUID:
			id, err := uuid.FromBytes(v)
			if err != nil {
				return fmt.Errorf("characteristic uuid: %w", err)
			}
			c.UUID = id
		case fieldCharProps:
			c.Properties = uint8(n)
		case fieldCharHandle:
			c.ValueHandle = uint16(n)
		case fieldCharCCCD:
			c.CCCDHandle = uint16(n)
		}
		return nil
	})
	return c, err
}

// walkFields visits each field of a message. Bytes fields arrive in v,
// varints in n; other wire types are skipped.
func walkFields(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte, n uint64) error) error {
	for len(b) > 0 {
		num, typ, tagLen := protowire.ConsumeTag(b)
		if tagLen < 0 {
			return fmt.Errorf("gatt: bad tag: %w", protowire.ParseError(tagLen))
		}
		b = b[tagLen:]

		switch typ {
		case protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return fmt.Errorf("gatt: field %d: %w", num, protowire.ParseError(m))
			}
			if err := fn(num, typ, v, 0); err != nil {
				return err
			}
			b = b[m:]
		case protowire.VarintType:
			n, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return fmt.Errorf("gatt: field %d: %w", num, protowire.ParseError(m))
			}
			if err := fn(num, typ, nil, n); err != nil {
				return err
			}
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return fmt.Errorf("gatt: field %d: %w", num, protowire.ParseError(m))
			}
			b = b[m:]
		}
	}
	return nil
}
