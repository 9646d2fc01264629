package link

import "sync"

type inboundKind int

const (
	inboundDiscovered inboundKind = iota
	inboundConnected
	inboundDisconnected
	inboundData
)

type inbound struct {
	kind    inboundKind
	peer    PeerDescriptor
	peerID  string
	reason  int
	channel Channel
	data    []byte
}

// inbox is the hand-off between transport callbacks (any goroutine) and
// Poll. When full, discovery events are shed first; lifecycle and data
// events are always accepted.
type inbox struct {
	mu      sync.Mutex
	queue   []inbound
	limit   int
	dropped uint64
}

func newInbox(limit int) *inbox {
	return &inbox{limit: limit}
}

func (q *inbox) push(ev inbound) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.queue) >= q.limit {
		if ev.kind == inboundDiscovered {
			q.dropped++
			return
		}
		for i, queued := range q.queue {
			if queued.kind == inboundDiscovered {
				q.queue = append(q.queue[:i], q.queue[i+1:]...)
				q.dropped++
				break
			}
		}
	}
	q.queue = append(q.queue, ev)
}

// drain returns everything queued so far in arrival order
func (q *inbox) drain() []inbound {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.queue) == 0 {
		return nil
	}
	out := q.queue
	q.queue = nil
	return out
}

func (q *inbox) droppedCount() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// transportEvents is the EventHandler handed to the transport. It only
// copies data into the inbox.
type transportEvents struct {
	inbox *inbox
	clock Clock
}

func (h *transportEvents) OnPeerDiscovered(d PeerDescriptor) {
	d = d.clone()
	d.LastSeen = h.clock.Now()
	h.inbox.push(inbound{kind: inboundDiscovered, peer: d})
}

func (h *transportEvents) OnConnected(peerID string) {
	h.inbox.push(inbound{kind: inboundConnected, peerID: peerID})
}

func (h *transportEvents) OnDisconnected(peerID string, reason int) {
	h.inbox.push(inbound{kind: inboundDisconnected, peerID: peerID, reason: reason})
}

func (h *transportEvents) OnDataReceived(ch Channel, data []byte) {
	h.inbox.push(inbound{
		kind:    inboundData,
		channel: ch,
		data:    append([]byte(nil), data...),
	})
}
