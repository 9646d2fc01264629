package advertising

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// AD Types (Advertising Data Types) used by the simulator
const (
	ADTypeFlags                        = 0x01
	ADTypeIncomplete128BitServiceUUIDs = 0x06
	ADTypeComplete128BitServiceUUIDs   = 0x07
	ADTypeShortenedLocalName           = 0x08
	ADTypeCompleteLocalName            = 0x09
	ADTypeTxPowerLevel                 = 0x0A
	ADTypeServiceData128Bit            = 0x21
	ADTypeManufacturerSpecificData     = 0xFF
)

// Advertising Flags (used in ADTypeFlags)
const (
	FlagLEGeneralDiscoverableMode = 0x02
	FlagBREDRNotSupported         = 0x04
)

// MaxAdvertisingDataLen is the legacy advertising payload limit, for both
// the advertising data and the scan response
const MaxAdvertisingDataLen = 31

// ADStructure is a single TLV entry of advertising data.
// Format: [Length: 1 byte] [Type: 1 byte] [Data: N bytes]; Length counts the type byte.
type ADStructure struct {
	Type byte
	Data []byte
}

// EncodeADStructures encodes AD structures into one advertising payload
func EncodeADStructures(structures []ADStructure) ([]byte, error) {
	var buf []byte
	for _, s := range structures {
		length := 1 + len(s.Data)
		if length > 255 {
			return nil, fmt.Errorf("AD structure too long: %d bytes (max 255)", length)
		}
		buf = append(buf, byte(length), s.Type)
		buf = append(buf, s.Data...)
	}

	if len(buf) > MaxAdvertisingDataLen {
		return nil, fmt.Errorf("advertising data exceeds %d bytes: %d", MaxAdvertisingDataLen, len(buf))
	}
	return buf, nil
}

// DecodeADStructures parses an advertising payload. A zero length byte ends
// the payload (padding).
func DecodeADStructures(data []byte) ([]ADStructure, error) {
	var structures []ADStructure
	offset := 0

	for offset < len(data) {
		length := int(data[offset])
		if length == 0 {
			break
		}
		offset++
		if offset+length > len(data) {
			return nil, fmt.Errorf("AD structure length exceeds data: length=%d, remaining=%d", length, len(data)-offset)
		}

		adData := make([]byte, length-1)
		copy(adData, data[offset+1:offset+length])
		structures = append(structures, ADStructure{Type: data[offset], Data: adData})
		offset += length
	}
	return structures, nil
}

// uuidToLE converts an RFC 4122 UUID to the little-endian byte order used on air
func uuidToLE(u uuid.UUID) []byte {
	out := make([]byte, 16)
	for i := 0; i < 16; i++ {
		out[i] = u[15-i]
	}
	return out
}

func uuidFromLE(b []byte) uuid.UUID {
	var u uuid.UUID
	for i := 0; i < 16; i++ {
		u[i] = b[15-i]
	}
	return u
}

// Payload is what a simulated peripheral advertises
type Payload struct {
	LocalName        string
	Services         []uuid.UUID
	TxPower          *int8
	ManufacturerID   uint16
	ManufacturerData []byte
	ServiceData      map[uuid.UUID][]byte
	Connectable      bool
}

// Encode splits the payload over the advertising data and the scan
// response: flags and service UUIDs are advertised, the local name goes into
// the scan response.
func (p *Payload) Encode() (adv, scanRsp []byte, err error) {
	var advAD []ADStructure
	flags := byte(FlagBREDRNotSupported)
	if p.Connectable {
		flags |= FlagLEGeneralDiscoverableMode
	}
	advAD = append(advAD, ADStructure{Type: ADTypeFlags, Data: []byte{flags}})

	if len(p.Services) > 0 {
		data := make([]byte, 0, 16*len(p.Services))
		for _, s := range p.Services {
			data = append(data, uuidToLE(s)...)
		}
		advAD = append(advAD, ADStructure{Type: ADTypeComplete128BitServiceUUIDs, Data: data})
	}
	if p.TxPower != nil {
		advAD = append(advAD, ADStructure{Type: ADTypeTxPowerLevel, Data: []byte{byte(*p.TxPower)}})
	}

	var rspAD []ADStructure
	if p.LocalName != "" {
		rspAD = append(rspAD, ADStructure{Type: ADTypeCompleteLocalName, Data: []byte(p.LocalName)})
	}
	if len(p.ManufacturerData) > 0 {
		data := make([]byte, 2+len(p.ManufacturerData))
		binary.LittleEndian.PutUint16(data[0:2], p.ManufacturerID)
		copy(data[2:], p.ManufacturerData)
		rspAD = append(rspAD, ADStructure{Type: ADTypeManufacturerSpecificData, Data: data})
	}
	for svc, value := range p.ServiceData {
		rspAD = append(rspAD, ADStructure{Type: ADTypeServiceData128Bit, Data: append(uuidToLE(svc), value...)})
	}

	if adv, err = EncodeADStructures(advAD); err != nil {
		return nil, nil, fmt.Errorf("advertising data: %w", err)
	}
	if scanRsp, err = EncodeADStructures(rspAD); err != nil {
		return nil, nil, fmt.Errorf("scan response: %w", err)
	}
	return adv, scanRsp, nil
}

// Decode reconstructs a Payload from advertising data and scan response
func Decode(adv, scanRsp []byte) (*Payload, error) {
	p := &Payload{}
	for _, part := range [][]byte{adv, scanRsp} {
		structures, err := DecodeADStructures(part)
		if err != nil {
			return nil, err
		}
		for _, s := range structures {
			if err := p.apply(s); err != nil {
				return nil, err
			}
		}
	}
	return p, nil
}

func (p *Payload) apply(s ADStructure) error {
	switch s.Type {
	case ADTypeFlags:
		if len(s.Data) > 0 {
			p.Connectable = s.Data[0]&FlagLEGeneralDiscoverableMode != 0
		}
	case ADTypeComplete128BitServiceUUIDs, ADTypeIncomplete128BitServiceUUIDs:
		if len(s.Data)%16 != 0 {
			return fmt.Errorf("128-bit UUID list has %d bytes", len(s.Data))
		}
		for i := 0; i < len(s.Data); i += 16 {
			p.Services = append(p.Services, uuidFromLE(s.Data[i:i+16]))
		}
	case ADTypeCompleteLocalName, ADTypeShortenedLocalName:
		p.LocalName = string(s.Data)
	case ADTypeTxPowerLevel:
		if len(s.Data) == 1 {
			v := int8(s.Data[0])
			p.TxPower = &v
		}
	case ADTypeManufacturerSpecificData:
		if len(s.Data) < 2 {
			return errors.New("manufacturer data shorter than company ID")
		}
		p.ManufacturerID = binary.LittleEndian.Uint16(s.Data[0:2])
		p.ManufacturerData = s.Data[2:]
	case ADTypeServiceData128Bit:
		if len(s.Data) < 16 {
			return errors.New("service data shorter than UUID")
		}
		if p.ServiceData == nil {
			p.ServiceData = make(map[uuid.UUID][]byte)
		}
		p.ServiceData[uuidFromLE(s.Data[:16])] = s.Data[16:]
	}
	return nil
}

// EncodeRecord packs advertising data and scan response into one blob:
// [advLen: 1 byte][adv][rspLen: 1 byte][scanRsp]
func EncodeRecord(adv, scanRsp []byte) []byte {
	buf := make([]byte, 0, 2+len(adv)+len(scanRsp))
	buf = append(buf, byte(len(adv)))
	buf = append(buf, adv...)
	buf = append(buf, byte(len(scanRsp)))
	buf = append(buf, scanRsp...)
	return buf
}

// DecodeRecord is the inverse of EncodeRecord
func DecodeRecord(data []byte) (adv, scanRsp []byte, err error) {
	if len(data) < 1 {
		return nil, nil, errors.New("advertising record is empty")
	}
	advLen := int(data[0])
	if advLen > MaxAdvertisingDataLen || len(data) < 1+advLen+1 {
		return nil, nil, fmt.Errorf("advertising record truncated (adv length %d, have %d bytes)", advLen, len(data))
	}
	adv = data[1 : 1+advLen]
	rest := data[1+advLen:]
	rspLen := int(rest[0])
	if rspLen > MaxAdvertisingDataLen || len(rest) < 1+rspLen {
		return nil, nil, fmt.Errorf("scan response truncated (length %d, have %d bytes)", rspLen, len(rest)-1)
	}
	return adv, rest[1 : 1+rspLen], nil
}
