package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/zsiec/vseek/internal/media"
)

// Manager tracks the open sessions of a process. All sessions share the
// opener, decoder factory and configuration given to NewManager.
type Manager struct {
	log     *slog.Logger
	open    Opener
	factory media.DecoderFactory
	cfg     Config

	mu       sync.RWMutex
	sessions map[string]*Coordinator
}

// NewManager creates a session manager. If log is nil, slog.Default() is used.
func NewManager(open Opener, factory media.DecoderFactory, cfg Config, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		log:      log,
		open:     open,
		factory:  factory,
		cfg:      cfg,
		sessions: make(map[string]*Coordinator),
	}
}

// Create opens a new session on source and registers it under its ID.
func (m *Manager) Create(ctx context.Context, source string) (*Coordinator, error) {
	c, err := New(ctx, source, m.open, m.factory, m.cfg, m.log)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.sessions[c.ID().String()] = c
	m.mu.Unlock()
	return c, nil
}

// Get returns the session registered under id.
func (m *Manager) Get(id string) (*Coordinator, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.sessions[id]
	return c, ok
}

// Remove closes and forgets a session. Unknown IDs are ignored.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	c, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}
	return c.Close()
}

// List returns all open sessions.
func (m *Manager) List() []*Coordinator {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Coordinator, 0, len(m.sessions))
	for _, c := range m.sessions {
		out = append(out, c)
	}
	return out
}

// CloseAll closes every session.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Coordinator)
	m.mu.Unlock()

	var errs []error
	for _, c := range sessions {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
