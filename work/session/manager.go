package session

import (
	"sync"

	"kptv-player/work/candidates"
	"kptv-player/work/config"
	"kptv-player/work/logger"
	"kptv-player/work/surface"
)

// Manager owns the single active playback session and the shared output
// surface. Opening new content while something is playing is the normal
// case (channel zapping), so Open tears down the previous session and
// starts the next one under one lock: two overlapping opens can never
// leave two adapters alive or interleave their teardown with the other's
// startup.
type Manager struct {
	mu     sync.Mutex
	active *Session

	factory AdapterFactory
	sink    surface.Surface
	cfg     *config.Config
	log     *logger.Logger
}

// NewManager creates a session manager writing into the given surface.
func NewManager(factory AdapterFactory, sink surface.Surface, cfg *config.Config, log *logger.Logger) *Manager {
	return &Manager{
		factory: factory,
		sink:    sink,
		cfg:     cfg,
		log:     log,
	}
}

// Open replaces whatever is playing with a new session over the given
// candidate list. The previous session's teardown and the new session's
// start happen atomically with respect to other Open/Stop calls.
func (m *Manager) Open(kind candidates.Kind, cands []candidates.Candidate) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		m.active.Close()
		m.active = nil
	}
	m.sink.Reset()

	s := New(kind, PolicyForKind(kind), cands, m.factory, m.sink, m.cfg, m.log)
	if err := s.Start(); err != nil {
		return nil, err
	}
	m.active = s
	return s, nil
}

// Active returns the current session, or nil when nothing is open.
func (m *Manager) Active() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Stop closes the active session if there is one.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		m.active.Close()
		m.active = nil
	}
}
