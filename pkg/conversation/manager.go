package conversation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Manager keeps sessions keyed by id.
type Manager struct {
	router Router
	opts   Options

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager returns a manager whose sessions share router and opts.
func NewManager(router Router, opts *Options) *Manager {
	return &Manager{
		router:   router,
		opts:     opts.withDefaults(),
		sessions: make(map[string]*Session),
	}
}

// Open returns the session with the given id, creating it when id is empty or
// unknown. The session's model is set to model; a different modelKey than
// last time clears the session's history.
func (m *Manager) Open(id, modelKey string, model Model) *Session {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		if id == "" {
			id = uuid.NewString()
		}
		s = newSession(id, model, modelKey, m.router, m.opts)
		m.sessions[id] = s
		m.mu.Unlock()
		return s
	}
	m.mu.Unlock()
	s.SetModel(modelKey, model)
	return s
}

// Get returns the session with the given id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Close forgets the session with the given id.
func (m *Manager) Close(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// Len reports the number of open sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep closes sessions idle for at least IdleTimeout as of now and returns
// how many were closed. A session in the middle of a turn is never closed.
func (m *Manager) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	closed := 0
	for id, s := range m.sessions {
		if now.Sub(s.LastUsed()) < m.opts.IdleTimeout {
			continue
		}
		if !s.turnMu.TryLock() {
			continue
		}
		delete(m.sessions, id)
		s.turnMu.Unlock()
		closed++
	}
	if closed > 0 {
		m.opts.Logger.Info("closed idle sessions", slog.Int("closed", closed), slog.Int("open", len(m.sessions)))
	}
	return closed
}

// Run sweeps idle sessions every half IdleTimeout until ctx ends.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.opts.IdleTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(m.opts.Now())
		}
	}
}
