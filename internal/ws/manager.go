package ws

import (
	"sort"
	"sync"
)

// Manager tracks charge point connections by id.
type Manager struct {
	mu          sync.RWMutex
	connections map[string]*Connection
}

// NewManager builds connection manager.
func NewManager() *Manager {
	return &Manager{connections: make(map[string]*Connection)}
}

// Add registers conn, replacing and closing a previous connection of the same charge point.
func (m *Manager) Add(id string, conn *Connection) {
	m.mu.Lock()
	old := m.connections[id]
	m.connections[id] = conn
	m.mu.Unlock()
	if old != nil && old != conn {
		_ = old.Close()
	}
}

// Remove forgets conn if it is still the registered one.
func (m *Manager) Remove(id string, conn *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connections[id] == conn {
		delete(m.connections, id)
	}
}

// Get returns the live connection of a charge point.
func (m *Manager) Get(id string) (*Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.connections[id]
	return conn, ok
}

// IDs lists connected charge points.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.connections))
	for id := range m.connections {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
