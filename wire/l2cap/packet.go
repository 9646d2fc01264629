package l2cap

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Dynamic channel IDs used on a simulated link
const (
	ChannelControl uint16 = 0x0040 // Service discovery and link control
	ChannelCommand uint16 = 0x0041 // Command characteristic traffic
	ChannelStatus  uint16 = 0x0042 // Status characteristic notifications
)

const (
	HeaderLen  = 4      // Length (2 bytes) + Channel ID (2 bytes)
	MaxPayload = 0xFFFF // Largest payload the length field can describe
)

// Packet is one channel-tagged frame.
// Format: [Length: 2 bytes LE] [Channel ID: 2 bytes LE] [Payload: N bytes]
type Packet struct {
	ChannelID uint16
	Payload   []byte
}

// Encode serializes the packet
func (p *Packet) Encode() ([]byte, error) {
	if len(p.Payload) > MaxPayload {
		return nil, fmt.Errorf("l2cap: payload too large (%d > %d)", len(p.Payload), MaxPayload)
	}
	buf := make([]byte, HeaderLen+len(p.Payload))
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(p.Payload)))
	binary.LittleEndian.PutUint16(buf[2:4], p.ChannelID)
	copy(buf[HeaderLen:], p.Payload)
	return buf, nil
}

// Decode parses one packet from the start of data
func Decode(data []byte) (*Packet, error) {
	if len(data) < HeaderLen {
		return nil, fmt.Errorf("l2cap: packet too short (need at least %d bytes, got %d)", HeaderLen, len(data))
	}

	length := int(binary.LittleEndian.Uint16(data[0:2]))
	if len(data) < HeaderLen+length {
		return nil, fmt.Errorf("l2cap: incomplete packet (claimed length %d, got %d)", length, len(data)-HeaderLen)
	}

	payload := make([]byte, length)
	copy(payload, data[HeaderLen:HeaderLen+length])
	return &Packet{
		ChannelID: binary.LittleEndian.Uint16(data[2:4]),
		Payload:   payload,
	}, nil
}

// WritePacket encodes p and writes it in a single call
func WritePacket(w io.Writer, p *Packet) error {
	buf, err := p.Encode()
	if err != nil {
		return err
	}
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("l2cap: write on channel 0x%04X: %w", p.ChannelID, err)
	}
	return nil
}

// ReadPacket blocks until one full packet has been read from r
func ReadPacket(r io.Reader) (*Packet, error) {
	var header [HeaderLen]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	length := binary.LittleEndian.Uint16(header[0:2])
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("l2cap: short payload (want %d bytes): %w", length, err)
	}
	return &Packet{
		ChannelID: binary.LittleEndian.Uint16(header[2:4]),
		Payload:   payload,
	}, nil
}

// ChannelName returns a readable name for log lines
func ChannelName(cid uint16) string {
	switch cid {
	case ChannelControl:
		return "control"
	case ChannelCommand:
		return "command"
	case ChannelStatus:
		return "status"
	default:
		return fmt.Sprintf("cid(0x%04X)", cid)
	}
}
