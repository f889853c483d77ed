package ws

import (
	"context"
	"sync"
	"time"
)

// Manager tracks live charger sockets and keeps them alive with pings.
type Manager struct {
	mu           sync.RWMutex
	connections  map[string]*Connection
	pingInterval time.Duration
}

// NewManager builds connection manager.
func NewManager(pingInterval time.Duration) *Manager {
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &Manager{
		connections:  make(map[string]*Connection),
		pingInterval: pingInterval,
	}
}

// Add registers new connection and returns the one it replaced for the same station, if any.
func (m *Manager) Add(conn *Connection) *Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	previous := m.connections[conn.StationID()]
	m.connections[conn.StationID()] = conn
	return previous
}

// Remove removes conn if it is still the station's current connection.
func (m *Manager) Remove(conn *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.connections[conn.StationID()]; ok && cur == conn {
		delete(m.connections, conn.StationID())
	}
}

// Count returns the number of tracked connections.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// Start begins ping loop to keep connections active. Every connection is closed once ctx is done.
func (m *Manager) Start(ctx context.Context) {
	ticker := time.NewTicker(m.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.closeAll()
			return
		case <-ticker.C:
			m.mu.RLock()
			for _, conn := range m.connections {
				_ = conn.Ping()
			}
			m.mu.RUnlock()
		}
	}
}

func (m *Manager) closeAll() {
	m.mu.RLock()
	conns := make([]*Connection, 0, len(m.connections))
	for _, conn := range m.connections {
		conns = append(conns, conn)
	}
	m.mu.RUnlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
}
