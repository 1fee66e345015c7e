// ABOUTME: Concurrent TTL-bounded session store with a background sweeper.
// ABOUTME: Used by the HTTP transport to gate every request after initialize.

package session

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Defaults applied when Config leaves a field zero.
const (
	DefaultTTL           = time.Hour
	DefaultSweepInterval = 60 * time.Second
)

var (
	// ErrNotFound is returned for an id with no record.
	ErrNotFound = errors.New("session not found")

	// ErrExpired is returned for a record idle for longer than the TTL.
	ErrExpired = errors.New("session expired")
)

// Session is a point-in-time copy of a session record.
type Session struct {
	ID           string
	CreatedAt    time.Time
	LastActivity time.Time
	Initialized  bool
}

// Config configures a Manager.
type Config struct {
	TTL           time.Duration
	SweepInterval time.Duration
	Logger        *slog.Logger

	// OnCreate and OnSweep are optional observers, called outside the lock.
	OnCreate func()
	OnSweep  func(removed int)
}

// Manager owns all session records. It is safe for concurrent use.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	ttl      time.Duration
	interval time.Duration
	logger   *slog.Logger
	onCreate func()
	onSweep  func(int)
	now      func() time.Time

	done    chan struct{}
	wg      sync.WaitGroup
	started bool
	closed  bool
}

// NewManager creates an empty Manager. Call Start to run the sweeper.
func NewManager(cfg Config) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Manager{
		sessions: make(map[string]*Session),
		ttl:      cfg.TTL,
		interval: cfg.SweepInterval,
		logger:   cfg.Logger,
		onCreate: cfg.OnCreate,
		onSweep:  cfg.OnSweep,
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

// TTL returns the idle timeout.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Create allocates a new session and returns its id.
func (m *Manager) Create() string {
	id := uuid.New().String()
	now := m.now()

	m.mu.Lock()
	m.sessions[id] = &Session{
		ID:           id,
		CreatedAt:    now,
		LastActivity: now,
	}
	m.mu.Unlock()

	if m.onCreate != nil {
		m.onCreate()
	}
	return id
}

// Validate reports ErrNotFound, ErrExpired or nil. It does not modify the record.
func (m *Manager) Validate(id string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if m.expired(s, m.now()) {
		return ErrExpired
	}
	return nil
}

// Touch refreshes the last activity time.
func (m *Manager) Touch(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	m.touchLocked(s)
	return nil
}

// MarkInitialized records a completed handshake and refreshes activity.
func (m *Manager) MarkInitialized(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.Initialized = true
	m.touchLocked(s)
	return nil
}

// Get returns a copy of the record.
func (m *Manager) Get(id string) (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// IsInitialized reports whether the session completed the handshake.
func (m *Manager) IsInitialized(id string) bool {
	s, ok := m.Get(id)
	return ok && s.Initialized
}

// Delete removes the record. It returns false if there was nothing to remove.
func (m *Manager) Delete(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return false
	}
	delete(m.sessions, id)
	return true
}

// Count returns the number of stored records, expired or not.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep removes every expired record and returns how many were removed.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	now := m.now()
	removed := 0
	for id, s := range m.sessions {
		if m.expired(s, now) {
			delete(m.sessions, id)
			removed++
		}
	}
	m.mu.Unlock()

	if removed > 0 {
		m.logger.Debug("swept expired sessions", "removed", removed)
	}
	if m.onSweep != nil {
		m.onSweep(removed)
	}
	return removed
}

// Start launches the sweeper goroutine. Calling it more than once, or after
// Close, has no effect.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started || m.closed {
		return
	}
	m.started = true
	m.wg.Add(1)
	go m.sweeper()
}

// Close stops the sweeper and waits for it to exit. It is safe to call multiple times.
func (m *Manager) Close() {
	m.mu.Lock()
	if !m.closed {
		close(m.done)
		m.closed = true
	}
	m.mu.Unlock()

	m.wg.Wait()
}

func (m *Manager) sweeper() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Sweep()
		case <-m.done:
			return
		}
	}
}

func (m *Manager) expired(s *Session, now time.Time) bool {
	return now.Sub(s.LastActivity) > m.ttl
}

// touchLocked must be called with mu held for writing.
func (m *Manager) touchLocked(s *Session) {
	now := m.now()
	if now.Before(s.CreatedAt) {
		now = s.CreatedAt
	}
	s.LastActivity = now
}
