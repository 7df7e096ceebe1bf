package session

import (
	"slices"
	"sync"

	"github.com/google/uuid"

	"llmbench/internal/providers"
)

// Manager keeps sessions by id for the HTTP surface. Sessions live for the
// lifetime of the process.
type Manager struct {
	resolver providers.Resolver
	observer Observer

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a manager whose sessions resolve adapters through r.
// observer may be nil.
func NewManager(r providers.Resolver, observer Observer) *Manager {
	return &Manager{
		resolver: r,
		observer: observer,
		sessions: make(map[string]*Session),
	}
}

// Create starts a new idle session.
func (m *Manager) Create() *Session {
	s := New(uuid.NewString(), m.resolver, m.observer)

	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()
	return s
}

// Get returns the session with id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Delete drops a session. A turn in flight on it still runs to completion.
func (m *Manager) Delete(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return false
	}
	delete(m.sessions, id)
	return true
}

// IDs returns every session id, sorted.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	slices.Sort(ids)
	return ids
}
