package wire

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// LinkStats tracks one connection on the simulated radio
type LinkStats struct {
	RemoteID       string         `json:"remote_id"`
	Role           ConnectionRole `json:"role"`
	ConnectedAt    int64          `json:"connected_at"` // Nanoseconds since epoch
	FramesSent     int            `json:"frames_sent"`
	FramesReceived int            `json:"frames_received"`
	BytesSent      int            `json:"bytes_sent"`
	BytesReceived  int            `json:"bytes_received"`
	LastActivity   int64          `json:"last_activity"` // Nanoseconds since epoch
	Errors         int            `json:"errors"`
	LastError      string         `json:"last_error,omitempty"`
}

// HealthSnapshot is the JSON structure written to disk periodically
type HealthSnapshot struct {
	Timestamp   int64      `json:"timestamp"` // Nanoseconds since epoch
	SocketPath  string     `json:"socket_path,omitempty"`
	Status      string     `json:"status"` // "healthy", "error", "closed"
	Connections int        `json:"connections"`
	TotalErrors int        `json:"total_errors"`
	Active      *LinkStats `json:"active,omitempty"`
}

// HealthMonitor tracks link statistics in-memory and persists snapshots periodically
type HealthMonitor struct {
	mu sync.RWMutex

	socketPath  string
	status      string
	connections int
	totalErrors int
	active      *LinkStats

	snapshotFile string
	stopChan     chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup
}

// NewHealthMonitor creates a monitor that writes snapshots into dir.
// An empty dir disables persistence.
func NewHealthMonitor(dir string) *HealthMonitor {
	m := &HealthMonitor{
		status:   "healthy",
		stopChan: make(chan struct{}),
	}
	if dir != "" {
		m.snapshotFile = filepath.Join(dir, healthSnapshotFile)
	}
	return m
}

// SetSocket records the listening socket path
func (m *HealthMonitor) SetSocket(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.socketPath = path
}

// RecordConnection starts tracking a new active connection
func (m *HealthMonitor) RecordConnection(remoteID string, role ConnectionRole) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UnixNano()
	m.connections++
	m.active = &LinkStats{
		RemoteID:     remoteID,
		Role:         role,
		ConnectedAt:  now,
		LastActivity: now,
	}
}

// RecordSent counts an outbound frame of n payload bytes
func (m *HealthMonitor) RecordSent(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return
	}
	m.active.FramesSent++
	m.active.BytesSent += n
	m.active.LastActivity = time.Now().UnixNano()
}

// RecordReceived counts an inbound frame of n payload bytes
func (m *HealthMonitor) RecordReceived(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return
	}
	m.active.FramesReceived++
	m.active.BytesReceived += n
	m.active.LastActivity = time.Now().UnixNano()
}

// RecordError logs an error against the active connection
func (m *HealthMonitor) RecordError(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalErrors++
	m.status = "error"
	if m.active != nil {
		m.active.Errors++
		m.active.LastError = msg
	}
}

// RemoveConnection stops tracking the active connection
func (m *HealthMonitor) RemoveConnection() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = nil
}

// Snapshot returns a copy of the current statistics
func (m *HealthMonitor) Snapshot() HealthSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := HealthSnapshot{
		Timestamp:   time.Now().UnixNano(),
		SocketPath:  m.socketPath,
		Status:      m.status,
		Connections: m.connections,
		TotalErrors: m.totalErrors,
	}
	if m.active != nil {
		stats := *m.active
		snap.Active = &stats
	}
	return snap
}

// Start begins writing snapshots every HealthSnapshotInterval
func (m *HealthMonitor) Start() {
	if m.snapshotFile == "" {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(HealthSnapshotInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.writeSnapshot()
			case <-m.stopChan:
				return
			}
		}
	}()
}

// Stop halts the snapshot loop and writes a final closed snapshot
func (m *HealthMonitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
		m.wg.Wait()

		m.mu.Lock()
		m.status = "closed"
		m.active = nil
		m.mu.Unlock()
		m.writeSnapshot()
	})
}

func (m *HealthMonitor) writeSnapshot() {
	if m.snapshotFile == "" {
		return
	}
	data, err := json.MarshalIndent(m.Snapshot(), "", "  ")
	if err != nil {
		return
	}

	// Write to a temp file then rename so readers never see a partial snapshot
	tmp := m.snapshotFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return
	}
	os.Rename(tmp, m.snapshotFile)
}
