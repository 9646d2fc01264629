package link

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// CapabilityFlags summarize what a peer's advertisement carried
type CapabilityFlags uint8

const (
	FlagServiceUUIDs CapabilityFlags = 1 << iota
	FlagServiceData
	FlagManufacturerData
	FlagConnectable
)

func (f CapabilityFlags) Has(flag CapabilityFlags) bool {
	return f&flag != 0
}

func (f CapabilityFlags) String() string {
	var parts []string
	if f.Has(FlagServiceUUIDs) {
		parts = append(parts, "svcUUID")
	}
	if f.Has(FlagServiceData) {
		parts = append(parts, "svcData")
	}
	if f.Has(FlagManufacturerData) {
		parts = append(parts, "mfgData")
	}
	if f.Has(FlagConnectable) {
		parts = append(parts, "connectable")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ",")
}

// PeerDescriptor is one discovered advertiser
type PeerDescriptor struct {
	ID       string
	Name     string
	RSSI     int16
	Services []uuid.UUID
	Flags    CapabilityFlags
	LastSeen Millis
}

// AdvertisesService reports whether svc is in the advertised service list
func (d PeerDescriptor) AdvertisesService(svc uuid.UUID) bool {
	for _, s := range d.Services {
		if s == svc {
			return true
		}
	}
	return false
}

func (d PeerDescriptor) clone() PeerDescriptor {
	d.Services = append([]uuid.UUID(nil), d.Services...)
	return d
}

// MatchPredicate selects the peer to connect to. A peer matches if it
// advertises ServiceUUID or its name equals Name exactly. Zero fields are
// ignored.
type MatchPredicate struct {
	ServiceUUID uuid.UUID
	Name        string
}

func (m MatchPredicate) Matches(d PeerDescriptor) bool {
	if m.ServiceUUID != uuid.Nil && d.AdvertisesService(m.ServiceUUID) {
		return true
	}
	return m.Name != "" && d.Name == m.Name
}

// UpsertResult distinguishes first sightings from repeats
type UpsertResult int

const (
	UpsertNew UpsertResult = iota
	UpsertKnown
)

func (r UpsertResult) String() string {
	if r == UpsertNew {
		return "new"
	}
	return "known"
}

// AdvertiserCache deduplicates discovery results within one discovery cycle.
// Iteration order is first-seen order.
type AdvertiserCache struct {
	mu    sync.RWMutex
	peers map[string]*PeerDescriptor
	order []string
}

func NewAdvertiserCache() *AdvertiserCache {
	return &AdvertiserCache{
		peers: make(map[string]*PeerDescriptor),
	}
}

// Upsert inserts an unseen peer or refreshes a known one in place
func (c *AdvertiserCache) Upsert(d PeerDescriptor) UpsertResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, ok := c.peers[d.ID]
	if !ok {
		entry := d.clone()
		c.peers[d.ID] = &entry
		c.order = append(c.order, d.ID)
		return UpsertNew
	}

	existing.RSSI = d.RSSI
	if d.Name != "" {
		existing.Name = d.Name
	}
	if len(d.Services) > 0 {
		existing.Services = append(existing.Services[:0], d.Services...)
	}
	existing.Flags = d.Flags
	existing.LastSeen = d.LastSeen
	return UpsertKnown
}

// Clear empties the cache for a new discovery cycle
func (c *AdvertiserCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.peers = make(map[string]*PeerDescriptor)
	c.order = nil
}

func (c *AdvertiserCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.peers)
}

func (c *AdvertiserCache) Get(id string) (PeerDescriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.peers[id]
	if !ok {
		return PeerDescriptor{}, false
	}
	return d.clone(), true
}

// Snapshot returns copies of all cached peers in first-seen order
func (c *AdvertiserCache) Snapshot() []PeerDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]PeerDescriptor, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.peers[id].clone())
	}
	return out
}
