package wire

import (
	"errors"
	"io"
	"net"

	"github.com/user/blelink/link"
	"github.com/user/blelink/logger"
	"github.com/user/blelink/util"
	"github.com/user/blelink/wire/l2cap"
)

// readLoop reads frames from one connection until it closes, then reports
// the disconnect. A close we initiated reports ReasonLocalHostTerminated.
func (w *Wire) readLoop(c *connection) {
	defer w.wg.Done()

	for {
		pkt, err := l2cap.ReadPacket(c.conn)
		if err != nil {
			if !c.localClose.Load() && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				logger.Debug(w.prefix, "read from %s failed: %v", util.ShortID(c.remoteID), err)
				w.health.RecordError(err.Error())
			}
			break
		}
		w.health.RecordReceived(len(pkt.Payload))
		logger.Trace(w.prefix, "← %s %d bytes from %s", l2cap.ChannelName(pkt.ChannelID), len(pkt.Payload), util.ShortID(c.remoteID))

		switch pkt.ChannelID {
		case l2cap.ChannelControl:
			w.handleControl(c, pkt.Payload)
		case l2cap.ChannelCommand:
			w.deliver(link.ChannelCommand, pkt.Payload)
		case l2cap.ChannelStatus:
			w.deliver(link.ChannelStatus, pkt.Payload)
		default:
			logger.Debug(w.prefix, "dropping frame on unknown channel 0x%04X", pkt.ChannelID)
		}
	}

	reason := link.ReasonRemoteUserTerminated
	if c.localClose.Load() {
		reason = link.ReasonLocalHostTerminated
	}
	c.conn.Close()

	w.mu.Lock()
	if w.active == c {
		w.active = nil
	}
	w.mu.Unlock()
	w.health.RemoveConnection()

	logger.Info(w.prefix, "disconnected from %s (reason=0x%02X)", util.ShortID(c.remoteID), reason)
	if h := w.eventHandler(); h != nil {
		h.OnDisconnected(c.remoteID, reason)
	}
	close(c.done)
}

func (w *Wire) deliver(ch link.Channel, data []byte) {
	if h := w.eventHandler(); h != nil {
		h.OnDataReceived(ch, data)
	}
}

// handleControl answers discovery requests and hands responses to a
// waiting DiscoverChannels
func (w *Wire) handleControl(c *connection, payload []byte) {
	if len(payload) == 0 {
		return
	}
	switch payload[0] {
	case opDiscoverServicesRequest:
		if w.role != link.RoleResponder {
			return
		}
		body := append([]byte{opDiscoverServicesResponse}, w.table.Marshal()...)
		if err := w.writeFrame(c, l2cap.ChannelControl, body); err != nil {
			logger.Warn(w.prefix, "failed to answer service discovery: %v", err)
		}
	case opDiscoverServicesResponse:
		select {
		case c.discovery <- payload[1:]:
		default:
			logger.Debug(w.prefix, "dropping unsolicited discovery response")
		}
	default:
		logger.Debug(w.prefix, "unknown control opcode 0x%02X", payload[0])
	}
}
