package gateway

import "sync"

// ConnectionManager owns the session-id to connection mapping. Sessions are
// registered on upgrade and deregistered when their read loop exits.
type ConnectionManager struct {
	mu       sync.Mutex
	sessions map[string]*session
}

func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{sessions: map[string]*session{}}
}

func (m *ConnectionManager) register(s *session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.id] = s
}

func (m *ConnectionManager) deregister(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// Count reports how many sessions are currently connected.
func (m *ConnectionManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// CloseAll closes every registered session, typically on shutdown.
func (m *ConnectionManager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
